package connection

import (
	"context"
	"testing"
	"time"

	"github.com/learniverse/chatkit/internal/stomp"
	"github.com/learniverse/chatkit/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "/topic/chat/c1", ChatTopic("c1"))
	assert.Equal(t, "/topic/typing/c1", TypingTopic("c1"))
	assert.Equal(t, "/topic/receipts/m1", ReceiptsTopic("m1"))
	assert.Equal(t, "/topic/status/u1", StatusTopic("u1"))
}

func TestManager_SubscribeMessages(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(t, tr, Config{})
	require.NoError(t, m.Connect(context.Background(), "token-a"), "expected connect to succeed")

	received := make(chan types.Message, 2)
	sub, err := m.SubscribeMessages("c1", func(msg types.Message) { received <- msg })
	require.NoError(t, err, "expected subscribe to succeed")

	conn := tr.lastConn()
	nextFrame(t, conn) // consume the SUBSCRIBE frame

	push := stomp.NewFrame(stomp.CmdMessage, [2]string{stomp.HdrSubscription, sub.Id()})
	push.Body = []byte(`{"id":"m1","chatRoomId":"c1","senderId":"u2","messageType":"TEXT","textContent":"hello"}`)
	conn.push(push)

	select {
	case msg := <-received:
		assert.Equal(t, "m1", msg.Id, "expected message id to be decoded")
		assert.Equal(t, types.MessageTypeText, msg.MessageType, "expected message type to be decoded")
		assert.Equal(t, "hello", msg.TextContent, "expected text content to be decoded")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typed dispatch")
	}

	// A body that fails to decode is logged and dropped, not delivered.
	bad := stomp.NewFrame(stomp.CmdMessage, [2]string{stomp.HdrSubscription, sub.Id()})
	bad.Body = []byte(`{"id":`)
	conn.push(bad)

	select {
	case <-received:
		t.Error("expected undecodable push to be dropped")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_SendReadReceipt(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(t, tr, Config{})
	require.NoError(t, m.Connect(context.Background(), "token-a"), "expected connect to succeed")

	require.NoError(t, m.SendReadReceipt("m1", "u1"), "expected publish to succeed")

	f := nextFrame(t, tr.lastConn())
	dest, _ := f.Headers.Get(stomp.HdrDestination)
	assert.Equal(t, DestReadReceipt, dest, "expected the receipt destination")
	assert.JSONEq(t, `{"messageId":"m1","userId":"u1"}`, string(f.Body), "expected the receipt payload")
}

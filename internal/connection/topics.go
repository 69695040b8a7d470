package connection

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/learniverse/chatkit/internal/types"
)

// Subscribe destinations, one per concern.
const (
	topicChatFmt     = "/topic/chat/%s"
	topicTypingFmt   = "/topic/typing/%s"
	topicReceiptsFmt = "/topic/receipts/%s"
	topicStatusFmt   = "/topic/status/%s"
)

// Publish destinations.
const (
	DestSendMessage = "/app/chat.sendMessage"
	DestTyping      = "/app/chat.typing"
	DestReadReceipt = "/app/chat.receipt"
)

func ChatTopic(roomId string) string        { return fmt.Sprintf(topicChatFmt, roomId) }
func TypingTopic(roomId string) string      { return fmt.Sprintf(topicTypingFmt, roomId) }
func ReceiptsTopic(messageId string) string { return fmt.Sprintf(topicReceiptsFmt, messageId) }
func StatusTopic(userId string) string      { return fmt.Sprintf(topicStatusFmt, userId) }

// SubscribeMessages delivers pushed messages for one chat room.
func (m *Manager) SubscribeMessages(roomId string, fn func(types.Message)) (*Subscription, error) {
	return m.Subscribe(ChatTopic(roomId), func(body []byte) {
		var msg types.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			m.log.Printf("parse pushed message: %v", err)
			return
		}
		fn(msg)
	})
}

func (m *Manager) SubscribeTyping(roomId string, fn func(types.TypingEvent)) (*Subscription, error) {
	return m.Subscribe(TypingTopic(roomId), func(body []byte) {
		var ev types.TypingEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			m.log.Printf("parse typing event: %v", err)
			return
		}
		fn(ev)
	})
}

func (m *Manager) SubscribeReceipts(messageId string, fn func(types.ReadReceiptEvent)) (*Subscription, error) {
	return m.Subscribe(ReceiptsTopic(messageId), func(body []byte) {
		var ev types.ReadReceiptEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			m.log.Printf("parse receipt event: %v", err)
			return
		}
		fn(ev)
	})
}

func (m *Manager) SubscribeUserStatus(userId string, fn func(types.UserStatusEvent)) (*Subscription, error) {
	return m.Subscribe(StatusTopic(userId), func(body []byte) {
		var ev types.UserStatusEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			m.log.Printf("parse status event: %v", err)
			return
		}
		fn(ev)
	})
}

// SendMessage publishes a message over the realtime channel. The view
// layer sends over REST; this exists for parity with the wire contract.
func (m *Manager) SendMessage(req types.SendMessageRequest) error {
	return m.Publish(DestSendMessage, req)
}

func (m *Manager) SendTyping(roomId string, isTyping bool) error {
	return m.Publish(DestTyping, types.TypingRequest{ChatRoomId: roomId, IsTyping: isTyping})
}

func (m *Manager) SendReadReceipt(messageId, userId string) error {
	return m.Publish(DestReadReceipt, types.ReadReceiptRequest{MessageId: messageId, UserId: userId})
}

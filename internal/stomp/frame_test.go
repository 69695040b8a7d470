package stomp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	t.Run("connect frame without escaping", func(t *testing.T) {
		f := NewFrame(CmdConnect,
			[2]string{HdrAcceptVersion, "1.2"},
			[2]string{HdrAuthorization, "Bearer abc:def"},
			[2]string{HdrHeartBeat, "4000,4000"},
		)

		expected := "CONNECT\n" +
			"accept-version:1.2\n" +
			"Authorization:Bearer abc:def\n" +
			"heart-beat:4000,4000\n" +
			"\n\x00"
		assert.Equal(t, expected, string(Marshal(f)), "expected CONNECT headers to be written unescaped")
	})

	t.Run("send frame with body adds content-length", func(t *testing.T) {
		f := NewFrame(CmdSend,
			[2]string{HdrDestination, "/app/chat.sendMessage"},
			[2]string{HdrContentType, "application/json"},
		)
		f.Body = []byte(`{"textContent":"hi"}`)

		expected := "SEND\n" +
			"destination:/app/chat.sendMessage\n" +
			"content-type:application/json\n" +
			"content-length:20\n" +
			"\n" + `{"textContent":"hi"}` + "\x00"
		assert.Equal(t, expected, string(Marshal(f)), "expected content-length to be derived from the body")
	})

	t.Run("header escaping outside connect", func(t *testing.T) {
		f := NewFrame(CmdSubscribe, [2]string{HdrDestination, "a:b\nc"})
		assert.Equal(t, "SUBSCRIBE\ndestination:a\\cb\\nc\n\n\x00", string(Marshal(f)),
			"expected colon and newline to be escaped")
	})
}

func TestParse(t *testing.T) {
	t.Run("message frame", func(t *testing.T) {
		raw := "MESSAGE\n" +
			"destination:/topic/chat/c1\n" +
			"subscription:sub-1\n" +
			"content-length:14\n" +
			"\n" + `{"id":"m1","x"` + "\x00"

		f, err := Parse([]byte(raw))
		require.NoError(t, err, "expected frame to parse")
		assert.Equal(t, CmdMessage, f.Command, "expected MESSAGE command")

		dest, ok := f.Headers.Get(HdrDestination)
		assert.True(t, ok, "expected destination header to be present")
		assert.Equal(t, "/topic/chat/c1", dest, "expected destination to match")

		sub, _ := f.Headers.Get(HdrSubscription)
		assert.Equal(t, "sub-1", sub, "expected subscription header to match")
		assert.Equal(t, `{"id":"m1","x"`, string(f.Body), "expected body to honor content-length")
	})

	t.Run("frame without content-length stops at NUL", func(t *testing.T) {
		f, err := Parse([]byte("ERROR\nmessage:bad credentials\n\ndenied\x00"))
		require.NoError(t, err, "expected frame to parse")
		assert.Equal(t, CmdError, f.Command, "expected ERROR command")
		assert.Equal(t, "denied", string(f.Body), "expected body up to NUL terminator")
	})

	t.Run("unescapes headers", func(t *testing.T) {
		f, err := Parse([]byte("MESSAGE\nfoo:a\\cb\\nc\n\n\x00"))
		require.NoError(t, err, "expected frame to parse")
		v, _ := f.Headers.Get("foo")
		assert.Equal(t, "a:b\nc", v, "expected escape sequences to be decoded")
	})

	t.Run("first repeated header wins", func(t *testing.T) {
		f, err := Parse([]byte("MESSAGE\nfoo:first\nfoo:second\n\n\x00"))
		require.NoError(t, err, "expected frame to parse")
		v, _ := f.Headers.Get("foo")
		assert.Equal(t, "first", v, "expected the first occurrence of a repeated header")
	})

	t.Run("crlf line endings", func(t *testing.T) {
		raw := "CONNECTED\r\n" +
			"version:1.2\r\n" +
			"heart-beat:4000,4000\r\n" +
			"\r\n\x00"

		f, err := Parse([]byte(raw))
		require.NoError(t, err, "expected CRLF-delimited frame to parse")
		assert.Equal(t, CmdConnected, f.Command, "expected CONNECTED command")

		hb, ok := f.Headers.Get(HdrHeartBeat)
		assert.True(t, ok, "expected heart-beat header to be present")
		assert.Equal(t, "4000,4000", hb, "expected heart-beat value without stray carriage returns")
	})

	t.Run("body containing a crlf blank line", func(t *testing.T) {
		body := "line one\r\n\r\nline two"
		raw := "MESSAGE\n" +
			"content-length:" + "20" + "\n" +
			"\n" + body + "\x00"

		f, err := Parse([]byte(raw))
		require.NoError(t, err, "expected frame to parse")
		assert.Equal(t, body, string(f.Body), "expected the header block to end at the first blank line")
	})

	t.Run("roundtrip", func(t *testing.T) {
		f := NewFrame(CmdSend, [2]string{HdrDestination, "/app/chat.typing"})
		f.Body = []byte(`{"isTyping":true}`)

		parsed, err := Parse(Marshal(f))
		require.NoError(t, err, "expected marshalled frame to parse")
		assert.Equal(t, f.Command, parsed.Command, "expected command to survive roundtrip")
		assert.Equal(t, string(f.Body), string(parsed.Body), "expected body to survive roundtrip")
	})

	t.Run("malformed frames", func(t *testing.T) {
		for _, raw := range []string{
			"",
			"\n",
			"MESSAGE\nno-terminator",
			"MESSAGE\nbroken header\n\n\x00",
			"MESSAGE\ncontent-length:99\n\nshort\x00",
		} {
			_, err := Parse([]byte(raw))
			assert.Error(t, err, "expected parse error for %q", raw)
		}
	})
}

func TestIsHeartbeat(t *testing.T) {
	assert.True(t, IsHeartbeat([]byte("\n")), "expected bare newline to be a heartbeat")
	assert.True(t, IsHeartbeat([]byte("\r\n")), "expected CRLF to be a heartbeat")
	assert.True(t, IsHeartbeat(nil), "expected empty payload to be a heartbeat")
	assert.False(t, IsHeartbeat([]byte("MESSAGE\n\n\x00")), "expected frame not to be a heartbeat")
}

func TestParseHeartBeat(t *testing.T) {
	send, recv, err := ParseHeartBeat("4000,2000")
	require.NoError(t, err, "expected heart-beat header to parse")
	assert.Equal(t, 4*time.Second, send, "expected send interval")
	assert.Equal(t, 2*time.Second, recv, "expected receive interval")

	_, _, err = ParseHeartBeat("4000")
	assert.Error(t, err, "expected error for missing separator")

	_, _, err = ParseHeartBeat("a,b")
	assert.Error(t, err, "expected error for non-numeric intervals")
}

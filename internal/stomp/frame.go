package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frame commands used by the client. Server frames (CONNECTED, MESSAGE,
// ERROR, RECEIPT) are parsed, client frames are marshalled.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// Common header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrAuthorization = "Authorization"
	HdrContentLength = "content-length"
	HdrContentType   = "content-type"
	HdrDestination   = "destination"
	HdrHeartBeat     = "heart-beat"
	HdrId            = "id"
	HdrMessage       = "message"
	HdrSubscription  = "subscription"
	HdrVersion       = "version"
)

// Heartbeat is the body of a STOMP heartbeat, a bare newline.
var Heartbeat = []byte("\n")

// Headers is an ordered list of key/value pairs. STOMP allows repeated
// header names; the first occurrence wins on read.
type Headers [][2]string

func (h Headers) Get(key string) (string, bool) {
	for _, kv := range h {
		if kv[0] == key {
			return kv[1], true
		}
	}
	return "", false
}

func (h *Headers) Set(key, value string) {
	for i, kv := range *h {
		if kv[0] == key {
			(*h)[i][1] = value
			return
		}
	}
	*h = append(*h, [2]string{key, value})
}

type Frame struct {
	Command string
	Headers Headers
	Body    []byte
}

func NewFrame(command string, headers ...[2]string) *Frame {
	return &Frame{
		Command: command,
		Headers: headers,
	}
}

// IsHeartbeat reports whether data is a heartbeat rather than a frame.
func IsHeartbeat(data []byte) bool {
	trimmed := bytes.TrimRight(data, "\r\n")
	return len(trimmed) == 0
}

// Marshal renders the frame in STOMP 1.2 wire format, NUL-terminated.
// A content-length header is added whenever the frame has a body.
func Marshal(f *Frame) []byte {
	escape := f.Command != CmdConnect && f.Command != CmdConnected

	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	for _, kv := range f.Headers {
		if escape {
			buf.WriteString(escapeHeader(kv[0]))
			buf.WriteByte(':')
			buf.WriteString(escapeHeader(kv[1]))
		} else {
			buf.WriteString(kv[0])
			buf.WriteByte(':')
			buf.WriteString(kv[1])
		}
		buf.WriteByte('\n')
	}

	if len(f.Body) > 0 {
		if _, ok := f.Headers.Get(HdrContentLength); !ok {
			buf.WriteString(HdrContentLength)
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(len(f.Body)))
			buf.WriteByte('\n')
		}
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)

	return buf.Bytes()
}

// Parse decodes a single frame from data. Heartbeats are not frames and
// must be filtered with IsHeartbeat before calling Parse.
func Parse(data []byte) (*Frame, error) {
	if IsHeartbeat(data) {
		return nil, fmt.Errorf("heartbeat is not a frame")
	}

	// Brokers may terminate lines with either LF or CRLF; the header
	// block ends at the first blank line in either convention.
	sep := []byte("\n\n")
	idx := bytes.Index(data, sep)
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (idx < 0 || crlf < idx) {
		sep = []byte("\r\n\r\n")
		idx = crlf
	}
	if idx < 0 {
		return nil, fmt.Errorf("malformed frame: missing header terminator")
	}
	head, body := data[:idx], data[idx+len(sep):]

	lines := strings.Split(string(bytes.TrimRight(head, "\r")), "\n")
	f := &Frame{Command: strings.TrimRight(lines[0], "\r")}
	if f.Command == "" {
		return nil, fmt.Errorf("malformed frame: empty command")
	}

	unescape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		if unescape {
			var err error
			if key, err = unescapeHeader(key); err != nil {
				return nil, fmt.Errorf("header name: %w", err)
			}
			if value, err = unescapeHeader(value); err != nil {
				return nil, fmt.Errorf("header value: %w", err)
			}
		}
		f.Headers = append(f.Headers, [2]string{key, value})
	}

	if v, ok := f.Headers.Get(HdrContentLength); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("invalid content-length %q", v)
		}
		f.Body = body[:n]
	} else {
		idx := bytes.IndexByte(body, 0)
		if idx < 0 {
			return nil, fmt.Errorf("malformed frame: missing NUL terminator")
		}
		f.Body = body[:idx]
	}

	if len(f.Body) == 0 {
		f.Body = nil
	}
	return f, nil
}

// ParseHeartBeat decodes a heart-beat header ("sx,sy" in milliseconds)
// into send and receive intervals.
func ParseHeartBeat(value string) (send, recv time.Duration, err error) {
	sx, sy, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid heart-beat header %q", value)
	}

	sendMs, err := strconv.Atoi(strings.TrimSpace(sx))
	if err != nil || sendMs < 0 {
		return 0, 0, fmt.Errorf("invalid heart-beat send interval %q", sx)
	}
	recvMs, err := strconv.Atoi(strings.TrimSpace(sy))
	if err != nil || recvMs < 0 {
		return 0, 0, fmt.Errorf("invalid heart-beat receive interval %q", sy)
	}

	return time.Duration(sendMs) * time.Millisecond, time.Duration(recvMs) * time.Millisecond, nil
}

func escapeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		case ':':
			b.WriteString(`\c`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape in %q", s)
		}
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("invalid escape sequence \\%c in %q", s[i], s)
		}
	}
	return b.String(), nil
}

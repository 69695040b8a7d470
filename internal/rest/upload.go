package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/learniverse/chatkit/internal/types"
)

// ProgressFunc receives the percentage of the upload body written so
// far, from 0 to 100.
type ProgressFunc func(percent int)

// UploadRequest is a message with a file attachment.
type UploadRequest struct {
	ChatRoomId      string
	FileName        string
	File            io.Reader
	MessageType     types.MessageType
	TextContent     string
	ParentMessageId string
}

// progressReader reports consumption of the request body as a percentage
// of its total size. http.Client reads the body as it writes to the
// socket, so read progress tracks upload progress.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	last  int
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil && p.total > 0 {
		p.sent += int64(n)
		percent := int(p.sent * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.fn(percent)
		}
	}
	return n, err
}

// UploadFile sends a message with an attachment and reports progress as
// the multipart body is transmitted. The body is buffered first so the
// total size is known up front.
func (c *Client) UploadFile(ctx context.Context, req UploadRequest, onProgress ProgressFunc) (types.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return types.Message{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return types.Message{}, fmt.Errorf("copy file contents: %w", err)
	}

	if err := mw.WriteField("messageType", string(req.MessageType)); err != nil {
		return types.Message{}, fmt.Errorf("write messageType field: %w", err)
	}
	if req.TextContent != "" {
		if err := mw.WriteField("textContent", req.TextContent); err != nil {
			return types.Message{}, fmt.Errorf("write textContent field: %w", err)
		}
	}
	if req.ParentMessageId != "" {
		if err := mw.WriteField("parentMessageId", req.ParentMessageId); err != nil {
			return types.Message{}, fmt.Errorf("write parentMessageId field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return types.Message{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	body := &progressReader{r: &buf, total: int64(buf.Len()), last: -1, fn: onProgress}

	u := c.baseURL + "/messages/send-with-file/" + url.PathEscape(req.ChatRoomId)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return types.Message{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.ContentLength = body.total

	var msg types.Message
	if err := c.send(httpReq, &msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

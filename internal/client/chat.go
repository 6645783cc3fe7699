package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tbourn/go-journal-backend/internal/common"
)

const (
	eventTextDelta = "text-delta"
	eventError     = "error"

	doneSentinel = "[DONE]"
	maxFrameSize = 1 << 20
)

// Turn is one prior turn of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest asks for the next assistant reply.
type ChatRequest struct {
	Messages             []Turn `json:"messages"`
	SessionID            string `json:"sessionId,omitempty"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
}

// chatEvent is the JSON payload of one SSE frame.
type chatEvent struct {
	Type      string `json:"type"`
	TextDelta string `json:"textDelta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}

// StreamChat posts req to /chat and consumes the event stream. Each text
// delta is passed to onToken (when non-nil) as it arrives; the assembled
// reply is returned once the stream ends with its sentinel.
//
// An error frame ends the call with an error wrapping common.ErrProvider. A
// stream that closes without the sentinel fails with ErrIncompleteStream.
// In both cases the partial reply is returned alongside the error.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onToken func(string)) (string, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat", req)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.send(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var reply strings.Builder
	err = readEvents(resp.Body, func(ev chatEvent) error {
		switch ev.Type {
		case eventTextDelta:
			reply.WriteString(ev.TextDelta)
			if onToken != nil && ev.TextDelta != "" {
				onToken(ev.TextDelta)
			}
		case eventError:
			msg := ev.ErrorText
			if msg == "" {
				msg = "stream failed"
			}
			return fmt.Errorf("%w: %s", common.ErrProvider, msg)
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return reply.String(), ctx.Err()
	}
	return reply.String(), err
}

// readEvents scans SSE frames from r and hands each decoded data payload to
// fn. It returns nil on the sentinel, fn's first error, or
// ErrIncompleteStream when r ends first. Frames that are not JSON are
// skipped.
func readEvents(r io.Reader, fn func(chatEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameSize)

	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// blank separators, comments, and other fields
			continue
		}
		data = strings.TrimSpace(data)
		if data == doneSentinel {
			return nil
		}
		var ev chatEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	return ErrIncompleteStream
}

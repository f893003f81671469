package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cafecursor/cafecursor/internal/changefeed"
)

// ErrStreamClosed reports that the server ended the change stream.
var ErrStreamClosed = errors.New("api: change stream closed")

// Stream opens the card change feed and delivers events to sink until ctx ends or the
// connection drops. It always returns a non-nil error.
func (c *Client) Stream(ctx context.Context, sink changefeed.Sink) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	req, err := c.newRequest(ctx, http.MethodGet, &url.URL{Path: "/cards/stream"}, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Code: "stream_unavailable", Message: http.StatusText(resp.StatusCode)}
	}

	decoder := changefeed.NewDecoder(resp.Body)
	for {
		frame, err := decoder.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			return fmt.Errorf("read stream: %w", err)
		}
		switch frame.Name {
		case changefeed.EventReady:
			if sink.Opened != nil {
				sink.Opened()
			}
		case changefeed.EventCardChange:
			event, err := changefeed.DecodeEvent(frame)
			if err != nil {
				return err
			}
			if sink.Event != nil {
				sink.Event(event)
			}
		}
	}
}

package changefeed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stream event names.
const (
	EventReady      = "ready"
	EventCardChange = "card-change"
	EventHeartbeat  = "heartbeat"
)

// Frame is one decoded server-sent event.
type Frame struct {
	Name string
	Data []byte
}

// WriteEvent writes payload as a single SSE frame and flushes when the writer supports it.
func WriteEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// Decoder reads SSE frames from a stream body.
type Decoder struct {
	reader *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReader(r)}
}

// Next blocks until a complete frame arrives. Comment lines and frames without data are skipped.
// It returns io.EOF when the stream ends cleanly between frames.
func (d *Decoder) Next() (Frame, error) {
	var frame Frame
	var data bytes.Buffer
	hasData := false
	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && (hasData || frame.Name != "" || line != "") {
				return Frame{}, io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				if frame.Name == "" {
					frame.Name = "message"
				}
				frame.Data = data.Bytes()
				return frame, nil
			}
			frame = Frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			frame.Name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
}

// DecodeEvent parses the payload of a card-change frame.
func DecodeEvent(frame Frame) (Event, error) {
	var event Event
	if err := json.Unmarshal(frame.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode %s frame: %w", frame.Name, err)
	}
	return event, nil
}

// Sink receives the lifecycle of one stream connection. Opened runs once the server
// acknowledges the subscription; Event runs for each card change in arrival order.
type Sink struct {
	Opened func()
	Event  func(Event)
}

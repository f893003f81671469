package changefeed

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cafecursor/cafecursor/internal/cards"
)

func TestWriteEventRoundTripsThroughDecoder(t *testing.T) {
	recorder := httptest.NewRecorder()
	event := insertEvent("c1")
	if err := WriteEvent(recorder, EventReady, map[string]string{"status": "ok"}); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if err := WriteEvent(recorder, EventCardChange, event); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if !recorder.Flushed {
		t.Fatalf("expected writer to be flushed")
	}

	decoder := NewDecoder(recorder.Body)
	ready, err := decoder.Next()
	if err != nil || ready.Name != EventReady {
		t.Fatalf("unexpected ready frame %+v (%v)", ready, err)
	}
	change, err := decoder.Next()
	if err != nil || change.Name != EventCardChange {
		t.Fatalf("unexpected change frame %+v (%v)", change, err)
	}
	decoded, err := DecodeEvent(change)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if decoded.Type != cards.ChangeInsert || decoded.RecordID() != "c1" {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
	if _, err := decoder.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestDecoderHandlesCommentsAndMultilineData(t *testing.T) {
	stream := ": keepalive\r\n\r\nevent: heartbeat\r\ndata: {\"a\":\r\ndata: 1}\r\n\r\ndata: plain\n\n"
	decoder := NewDecoder(strings.NewReader(stream))

	frame, err := decoder.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Name != EventHeartbeat || string(frame.Data) != "{\"a\":\n1}" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	frame, err = decoder.Next()
	if err != nil || frame.Name != "message" || string(frame.Data) != "plain" {
		t.Fatalf("unexpected default frame %+v (%v)", frame, err)
	}
}

func TestDecoderReportsTruncatedFrame(t *testing.T) {
	decoder := NewDecoder(bytes.NewBufferString("event: card-change\ndata: {}\n"))
	if _, err := decoder.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestDecodeEventRejectsMalformedPayload(t *testing.T) {
	if _, err := DecodeEvent(Frame{Name: EventCardChange, Data: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
}

package payments

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	c := NewConfirmer(nil, nil, nil, testLogger())

	err := c.Handle(context.Background(), kafka.Message{Value: []byte("{not json")})
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}

	err = c.Handle(context.Background(), kafka.Message{Value: []byte(`{"practitioner_id":"p-1"}`)})
	if err == nil {
		t.Fatal("expected error for payload without booking_id")
	}
}

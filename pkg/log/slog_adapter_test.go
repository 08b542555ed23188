package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

func logOne(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(logger).Log(event)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterCommandEvent(t *testing.T) {
	resp := wire.ResponseSucceeded
	entry := logOne(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		SubscriberID: "sub-1",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		Command:      &CommandEvent{Command: wire.CommandSubscribe, Response: &resp, Message: "ok"},
	})

	want := map[string]string{
		"msg":           "protocol",
		"level":         "DEBUG",
		"conn_id":       "conn-1",
		"subscriber_id": "sub-1",
		"direction":     "OUT",
		"command":       "Subscribe",
		"response":      "Succeeded",
		"message":       "ok",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s: got %v, want %q", k, entry[k], v)
		}
	}
}

func TestSlogAdapterCipherEvent(t *testing.T) {
	entry := logOne(t, Event{
		Category: CategoryCipher,
		Cipher:   &CipherEvent{Index: 1, Rotation: 3, Rejected: "too soon"},
	})

	if entry["cipher_index"] != float64(1) {
		t.Errorf("cipher_index: got %v", entry["cipher_index"])
	}
	if entry["rejected"] != "too soon" {
		t.Errorf("rejected: got %v", entry["rejected"])
	}
}

func TestSlogAdapterStateChange(t *testing.T) {
	entry := logOne(t, Event{
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityConnection, OldState: "SUBSCRIBED", NewState: "DISCONNECTED", Reason: "eof"},
	})

	if entry["entity"] != "CONNECTION" || entry["new_state"] != "DISCONNECTED" || entry["reason"] != "eof" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestSlogAdapterErrorEvent(t *testing.T) {
	entry := logOne(t, Event{
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerSession, Message: "boom", Kind: "PROTOCOL", Context: "subscribe"},
	})

	if entry["error_msg"] != "boom" || entry["error_kind"] != "PROTOCOL" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

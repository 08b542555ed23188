package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/gridpulse/gridpulse-go/pkg/log"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x42}},
		{"command", []byte{0x02, 0xA1, 0x01, 0x80}},
		{"medium message", bytes.Repeat([]byte("x"), 1000)},
		{"binary data", []byte{0x00, 0xFF, 0x7F, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			if err := NewFrameWriter(buf).WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != LengthPrefixSize+len(tt.payload) {
				t.Errorf("frame size = %d, want %d", buf.Len(), LengthPrefixSize+len(tt.payload))
			}
			if got := binary.BigEndian.Uint32(buf.Bytes()); got != uint32(len(tt.payload)) {
				t.Errorf("length prefix = %d, want %d", got, len(tt.payload))
			}

			got, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %x, want %x", got, tt.payload)
			}
		})
	}
}

func TestFrameWriterEmptyMessage(t *testing.T) {
	writer := NewFrameWriter(new(bytes.Buffer))

	if err := writer.WriteFrame(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
}

func TestFramerMaxSize(t *testing.T) {
	buf := new(bytes.Buffer)
	framer := NewFramerWithMaxSize(buf, 100)

	if err := framer.WriteFrame(bytes.Repeat([]byte("x"), 101)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("write: expected ErrMessageTooLarge, got %v", err)
	}

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], 1000)
	buf.Write(prefix[:])
	buf.Write(bytes.Repeat([]byte("x"), 1000))

	if _, err := framer.ReadFrame(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("read: expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"clean EOF", nil, io.EOF},
		{"zero length", []byte{0, 0, 0, 0}, ErrMessageEmpty},
		{"partial prefix", []byte{0, 0}, ErrFrameTruncated},
		{"partial payload", []byte{0, 0, 0, 5, 1, 2}, ErrFrameTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.data)).ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFrameReaderSequence(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	for i := 1; i <= 3; i++ {
		if err := writer.WriteFrame(bytes.Repeat([]byte{byte(i)}, i)); err != nil {
			t.Fatal(err)
		}
	}

	reader := NewFrameReader(buf)
	for i := 1; i <= 3; i++ {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if len(got) != i || got[0] != byte(i) {
			t.Errorf("frame %d: got %x", i, got)
		}
	}
	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestFrameWriterConcurrent(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				writer.WriteFrame(bytes.Repeat([]byte{b}, 64))
			}
		}(byte(i))
	}
	wg.Wait()

	reader := NewFrameReader(buf)
	for n := 0; n < 200; n++ {
		frame, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", n, err)
		}
		for _, b := range frame {
			if b != frame[0] {
				t.Fatalf("frame %d interleaved: %x", n, frame)
			}
		}
	}
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) snapshot() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]log.Event(nil), c.events...)
}

func TestFramerLogsFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &captureLogger{}
	framer := NewFramer(buf)
	framer.SetLogger(logger, "conn-1", log.RolePublisher)

	big := bytes.Repeat([]byte("z"), MaxLogFrameDataSize+10)
	if err := framer.WriteFrame(big); err != nil {
		t.Fatal(err)
	}
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatal(err)
	}

	events := logger.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	out, in := events[0], events[1]
	if out.Direction != log.DirectionOut || in.Direction != log.DirectionIn {
		t.Errorf("directions: got %v then %v", out.Direction, in.Direction)
	}
	if out.ConnectionID != "conn-1" || out.LocalRole != log.RolePublisher {
		t.Errorf("event identity: %+v", out)
	}
	if out.Frame.Size != LengthPrefixSize+len(big) {
		t.Errorf("Frame.Size = %d", out.Frame.Size)
	}
	if !out.Frame.Truncated || len(out.Frame.Data) != MaxLogFrameDataSize {
		t.Errorf("large frame not truncated: %d bytes", len(out.Frame.Data))
	}
}

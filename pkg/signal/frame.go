package signal

import (
	"time"

	"github.com/google/uuid"
)

// Measurement is one sample of one signal.
type Measurement struct {
	SignalID uuid.UUID
	Value    float64
	Quality  uint32
}

// Frame is a set of measurements sharing a canonical publication time.
type Frame struct {
	Timestamp    time.Time
	Measurements []Measurement
}

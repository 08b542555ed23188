package cipher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
)

// DefaultMinRotationInterval is the shortest time allowed between two
// client-requested rotations.
const DefaultMinRotationInterval = time.Second

// Manager errors.
var (
	ErrRotationTooSoon = errors.New("cipher keys rotated too recently")
	ErrNoKeys          = errors.New("cipher keys not generated")
)

// Manager owns the key slots of one connection. Rotations on the same
// Manager are serialized; separate Managers share nothing.
type Manager struct {
	gen KeyGenerator

	mu           sync.Mutex
	slots        [2]Slot
	index        Index
	populated    bool
	lastRotation time.Time
	rotations    uint64
}

// NewManager creates an empty manager. A nil generator uses RandomGenerator.
func NewManager(gen KeyGenerator) *Manager {
	if gen == nil {
		gen = RandomGenerator{}
	}
	return &Manager{gen: gen}
}

// RotateKeys installs fresh key material and returns the resulting state
// of both slots.
//
// The first call fills both slots and activates the even slot. Later calls
// replace only the standby slot and make it active.
func (m *Manager) RotateKeys(now time.Time) (*Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rotateLocked(now)
}

// TryRotate rotates unless the previous rotation happened less than
// minInterval before now, in which case it returns ErrRotationTooSoon and
// leaves the key material untouched.
func (m *Manager) TryRotate(now time.Time, minInterval time.Duration) (*Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.populated {
		if elapsed := now.Sub(m.lastRotation); elapsed < minInterval {
			return nil, fault.Policy("cipher.TryRotate",
				fmt.Errorf("%w: %v since last rotation, minimum %v", ErrRotationTooSoon, elapsed, minInterval))
		}
	}
	return m.rotateLocked(now)
}

func (m *Manager) rotateLocked(now time.Time) (*Material, error) {
	if !m.populated {
		even, err := m.gen.Generate()
		if err != nil {
			return nil, err
		}
		odd, err := m.gen.Generate()
		if err != nil {
			return nil, err
		}
		m.slots[Even], m.slots[Odd] = even, odd
		m.index = Even
		m.populated = true
	} else {
		standby := m.index.Other()
		fresh, err := m.gen.Generate()
		if err != nil {
			return nil, err
		}
		m.slots[standby] = fresh
		m.index = standby
	}

	m.lastRotation = now
	m.rotations++
	return m.materialLocked(), nil
}

// Material returns the current state of both slots.
func (m *Manager) Material() (*Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.populated {
		return nil, ErrNoKeys
	}
	return m.materialLocked(), nil
}

func (m *Manager) materialLocked() *Material {
	return &Material{
		Index: m.index,
		Even:  m.slots[Even].clone(),
		Odd:   m.slots[Odd].clone(),
	}
}

// Active returns the active slot for encrypting outgoing packets.
func (m *Manager) Active() (Index, Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.populated {
		return 0, Slot{}, ErrNoKeys
	}
	return m.index, m.slots[m.index], nil
}

// LastRotation returns the time of the most recent rotation, or the zero
// time if keys were never generated.
func (m *Manager) LastRotation() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRotation
}

// Rotations returns the number of successful rotations.
func (m *Manager) Rotations() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotations
}

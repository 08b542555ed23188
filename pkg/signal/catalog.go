package signal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
)

// Wildcard requests every signal the subscriber may receive.
const Wildcard = "*"

// ErrDuplicateSignal is returned when a catalog lists a signal ID twice.
var ErrDuplicateSignal = errors.New("duplicate signal")

// Catalog is the set of signals a publisher can serve.
type Catalog struct {
	signals []Signal
	byKey   map[MeasurementKey]Signal
	byID    map[uuid.UUID]Signal
}

// NewCatalog indexes signals by key and ID.
func NewCatalog(signals []Signal) (*Catalog, error) {
	c := &Catalog{
		signals: append([]Signal(nil), signals...),
		byKey:   make(map[MeasurementKey]Signal, len(signals)),
		byID:    make(map[uuid.UUID]Signal, len(signals)),
	}
	for _, s := range signals {
		if _, dup := c.byID[s.ID]; dup {
			return nil, fault.Configuration("signal.NewCatalog",
				fmt.Errorf("%w: %s", ErrDuplicateSignal, s.ID))
		}
		if _, dup := c.byKey[s.Key]; dup {
			return nil, fault.Configuration("signal.NewCatalog",
				fmt.Errorf("%w: %s", ErrDuplicateKey, s.Key))
		}
		c.byKey[s.Key] = s
		c.byID[s.ID] = s
	}
	return c, nil
}

// Len returns the number of signals.
func (c *Catalog) Len() int { return len(c.signals) }

// All returns every signal in declaration order.
func (c *Catalog) All() []Signal {
	return append([]Signal(nil), c.signals...)
}

// ByKey looks up a signal by measurement key.
func (c *Catalog) ByKey(key MeasurementKey) (Signal, bool) {
	s, ok := c.byKey[key]
	return s, ok
}

// ByID looks up a signal by identifier.
func (c *Catalog) ByID(id uuid.UUID) (Signal, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Resolve splits requested key strings into authorized signals and
// unauthorized keys. A key is authorized when the catalog knows it and
// allow accepts it. Wildcard expands to every allowed catalog signal.
func (c *Catalog) Resolve(requested []string, allow func(MeasurementKey) bool) ([]Signal, []MeasurementKey, error) {
	var (
		authorized   []Signal
		unauthorized []MeasurementKey
		seen         = make(map[MeasurementKey]struct{}, len(requested))
	)

	add := func(key MeasurementKey) {
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		if s, ok := c.byKey[key]; ok && allow(key) {
			authorized = append(authorized, s)
			return
		}
		unauthorized = append(unauthorized, key)
	}

	for _, req := range requested {
		if req == Wildcard {
			for _, s := range c.signals {
				if allow(s.Key) {
					add(s.Key)
				}
			}
			continue
		}
		key, err := ParseKey(req)
		if err != nil {
			return nil, nil, fault.Protocol("signal.Resolve", err)
		}
		add(key)
	}

	return authorized, unauthorized, nil
}

package signal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// MaxSignals is the number of compact indices available to one cache.
const MaxSignals = 65535

// Cache errors.
var (
	ErrCapacityExceeded = errors.New("signal index capacity exceeded")
	ErrUnknownSignal    = errors.New("unknown signal")
	ErrDuplicateKey     = errors.New("measurement key assigned to two signals")
)

// IndexCache maps signals to compact indices for one subscription.
//
// The reverse maps are built together with the index table in Build and the
// cache is immutable afterwards, so lookups need no locking and can never
// observe a half-built map.
type IndexCache struct {
	subscriberID uuid.UUID
	signals      []Signal // position == compact index
	unauthorized []MeasurementKey

	byID  map[uuid.UUID]uint16
	byKey map[MeasurementKey]uint16
}

// Build assigns compact indices 0..n-1 to the authorized signals in the
// order given. Repeated signal IDs share one index.
func Build(subscriberID uuid.UUID, authorized []Signal, unauthorized []MeasurementKey) (*IndexCache, error) {
	c := &IndexCache{
		subscriberID: subscriberID,
		signals:      make([]Signal, 0, min(len(authorized), MaxSignals)),
		unauthorized: append([]MeasurementKey(nil), unauthorized...),
		byID:         make(map[uuid.UUID]uint16, len(authorized)),
		byKey:        make(map[MeasurementKey]uint16, len(authorized)),
	}

	for _, s := range authorized {
		if _, dup := c.byID[s.ID]; dup {
			continue
		}
		if _, dup := c.byKey[s.Key]; dup {
			return nil, fault.Configuration("signal.Build",
				fmt.Errorf("%w: %s", ErrDuplicateKey, s.Key))
		}
		if len(c.signals) == MaxSignals {
			return nil, fault.Protocol("signal.Build",
				fmt.Errorf("%w: more than %d signals", ErrCapacityExceeded, MaxSignals))
		}
		idx := uint16(len(c.signals))
		c.signals = append(c.signals, s)
		c.byID[s.ID] = idx
		c.byKey[s.Key] = idx
	}

	return c, nil
}

// SubscriberID returns the session the cache belongs to.
func (c *IndexCache) SubscriberID() uuid.UUID {
	return c.subscriberID
}

// Len returns the number of authorized signals.
func (c *IndexCache) Len() int {
	return len(c.signals)
}

// Lookup returns the compact index for a signal ID. It does not allocate
// and is meant for the per-frame path.
func (c *IndexCache) Lookup(id uuid.UUID) (uint16, bool) {
	idx, ok := c.byID[id]
	return idx, ok
}

// IndexOf returns the compact index for a signal ID.
func (c *IndexCache) IndexOf(id uuid.UUID) (uint16, error) {
	if idx, ok := c.byID[id]; ok {
		return idx, nil
	}
	return 0, fault.Protocol("signal.IndexOf", fmt.Errorf("%w: %s", ErrUnknownSignal, id))
}

// IndexOfKey returns the compact index for a measurement key.
func (c *IndexCache) IndexOfKey(key MeasurementKey) (uint16, error) {
	if idx, ok := c.byKey[key]; ok {
		return idx, nil
	}
	return 0, fault.Protocol("signal.IndexOfKey", fmt.Errorf("%w: %s", ErrUnknownSignal, key))
}

// Signal returns the signal assigned to a compact index.
func (c *IndexCache) Signal(index uint16) (Signal, error) {
	if int(index) >= len(c.signals) {
		return Signal{}, fault.Protocol("signal.Signal",
			fmt.Errorf("%w: index %d", ErrUnknownSignal, index))
	}
	return c.signals[index], nil
}

// Signals returns the authorized signals in index order.
func (c *IndexCache) Signals() []Signal {
	return append([]Signal(nil), c.signals...)
}

// AuthorizedKeys returns the measurement keys in index order.
func (c *IndexCache) AuthorizedKeys() []MeasurementKey {
	keys := make([]MeasurementKey, len(c.signals))
	for i, s := range c.signals {
		keys[i] = s.Key
	}
	return keys
}

// UnauthorizedKeys returns the requested keys that were not authorized, in
// request order.
func (c *IndexCache) UnauthorizedKeys() []MeasurementKey {
	return append([]MeasurementKey(nil), c.unauthorized...)
}

// Matches reports whether the cache was built from the same authorized and
// unauthorized sets, ignoring order.
func (c *IndexCache) Matches(authorized []Signal, unauthorized []MeasurementKey) bool {
	ids := make(map[uuid.UUID]struct{}, len(authorized))
	for _, s := range authorized {
		if _, ok := c.byID[s.ID]; !ok {
			return false
		}
		ids[s.ID] = struct{}{}
	}
	if len(ids) != len(c.signals) {
		return false
	}

	keys := make(map[MeasurementKey]struct{}, len(unauthorized))
	for _, k := range unauthorized {
		keys[k] = struct{}{}
	}
	have := make(map[MeasurementKey]struct{}, len(c.unauthorized))
	for _, k := range c.unauthorized {
		if _, ok := keys[k]; !ok {
			return false
		}
		have[k] = struct{}{}
	}
	return len(have) == len(keys)
}

// Message converts the cache to its wire form.
func (c *IndexCache) Message() *wire.SignalIndexCacheMessage {
	msg := &wire.SignalIndexCacheMessage{
		SubscriberID: c.subscriberID,
		Entries:      make([]wire.CacheEntry, len(c.signals)),
	}
	for i, s := range c.signals {
		msg.Entries[i] = wire.CacheEntry{Index: uint16(i), SignalID: s.ID, Key: s.Key.String()}
	}
	for _, k := range c.unauthorized {
		msg.Unauthorized = append(msg.Unauthorized, k.String())
	}
	return msg
}

// FromMessage rebuilds a cache received from a publisher. Entries must
// carry contiguous indices starting at zero.
func FromMessage(msg *wire.SignalIndexCacheMessage) (*IndexCache, error) {
	authorized := make([]Signal, len(msg.Entries))
	seen := make([]bool, len(msg.Entries))
	for _, e := range msg.Entries {
		if int(e.Index) >= len(authorized) || seen[e.Index] {
			return nil, fault.Protocol("signal.FromMessage",
				fmt.Errorf("%w: index %d out of sequence", ErrUnknownSignal, e.Index))
		}
		key, err := ParseKey(e.Key)
		if err != nil {
			return nil, fault.Protocol("signal.FromMessage", err)
		}
		authorized[e.Index] = Signal{ID: e.SignalID, Key: key}
		seen[e.Index] = true
	}

	var unauthorized []MeasurementKey
	for _, s := range msg.Unauthorized {
		key, err := ParseKey(s)
		if err != nil {
			return nil, fault.Protocol("signal.FromMessage", err)
		}
		unauthorized = append(unauthorized, key)
	}

	return Build(msg.SubscriberID, authorized, unauthorized)
}

package publisher

import (
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// Authentication errors.
var (
	ErrUnknownSubscriber  = errors.New("unknown subscriber")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidPattern     = errors.New("invalid signal pattern")
	ErrDuplicateID        = errors.New("duplicate subscriber ID")
)

// SubscriberConfig declares one subscriber allowed to connect.
type SubscriberConfig struct {
	ID      uuid.UUID `yaml:"id"`
	Acronym string    `yaml:"acronym"`

	// SharedSecret, when set, is required to authenticate and wraps the
	// cipher keys sent to this subscriber.
	SharedSecret string `yaml:"secret"`

	// AllowedSignals are path.Match patterns over "SOURCE:ID" keys. An
	// empty list allows every signal.
	AllowedSignals []string `yaml:"allow"`
}

// Allows reports whether key matches one of the allowed patterns.
func (s *SubscriberConfig) Allows(key signal.MeasurementKey) bool {
	if len(s.AllowedSignals) == 0 {
		return true
	}
	name := key.String()
	for _, pattern := range s.AllowedSignals {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Authenticator validates Authenticate requests against the configured
// subscribers.
type Authenticator struct {
	subscribers map[uuid.UUID]*SubscriberConfig
}

// NewAuthenticator checks the subscriber declarations and indexes them.
func NewAuthenticator(subscribers []SubscriberConfig) (*Authenticator, error) {
	a := &Authenticator{subscribers: make(map[uuid.UUID]*SubscriberConfig, len(subscribers))}
	for i := range subscribers {
		sub := subscribers[i]
		if sub.ID == uuid.Nil {
			return nil, fault.Configuration("publisher.NewAuthenticator",
				fmt.Errorf("subscriber %q has no ID", sub.Acronym))
		}
		if _, dup := a.subscribers[sub.ID]; dup {
			return nil, fault.Configuration("publisher.NewAuthenticator",
				fmt.Errorf("%w: %s", ErrDuplicateID, sub.ID))
		}
		for _, pattern := range sub.AllowedSignals {
			if _, err := path.Match(pattern, ""); err != nil {
				return nil, fault.Configuration("publisher.NewAuthenticator",
					fmt.Errorf("%w: %q", ErrInvalidPattern, pattern))
			}
		}
		sub.AllowedSignals = append([]string(nil), sub.AllowedSignals...)
		a.subscribers[sub.ID] = &sub
	}
	return a, nil
}

// Len returns the number of declared subscribers.
func (a *Authenticator) Len() int {
	return len(a.subscribers)
}

// Authenticate returns the subscriber the request proves to be.
func (a *Authenticator) Authenticate(req *wire.AuthenticateRequest) (*SubscriberConfig, error) {
	sub, ok := a.subscribers[req.SubscriberID]
	if !ok {
		return nil, fault.Policy("publisher.Authenticate",
			fmt.Errorf("%w: %s", ErrUnknownSubscriber, req.SubscriberID))
	}
	if sub.SharedSecret != "" && !cipher.VerifyToken(sub.SharedSecret, sub.ID, req.Token) {
		return nil, fault.Policy("publisher.Authenticate", ErrInvalidCredentials)
	}
	return sub, nil
}

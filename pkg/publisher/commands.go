package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// HandleCommand processes one command channel frame. The returned error is
// the fault that the command produced, if any; the client has already been
// answered. Policy rejections are returned too so callers can count them.
func (c *Connection) HandleCommand(data []byte) error {
	pkt, err := wire.DecodeCommand(data)
	if err != nil {
		if pkt == nil {
			return fault.Protocol("publisher.HandleCommand", err)
		}
		c.metrics.Commands.WithLabelValues("unknown").Inc()
		c.logCommand(pkt.Command, nil, "", log.DirectionIn, len(pkt.Payload))
		c.respond(wire.ResponseFailed, pkt.Command, fmt.Sprintf("Unrecognized command %s", pkt.Command))
		return fault.Protocol("publisher.HandleCommand", err)
	}

	c.metrics.Commands.WithLabelValues(pkt.Command.String()).Inc()
	c.logCommand(pkt.Command, nil, "", log.DirectionIn, len(pkt.Payload))

	if c.closed.Load() {
		return ErrConnectionClosed
	}

	switch pkt.Command {
	case wire.CommandAuthenticate:
		var req wire.AuthenticateRequest
		if err := wire.Unmarshal(pkt.Payload, &req); err != nil {
			return c.protocolFailure(pkt.Command, "Malformed authenticate request", err)
		}
		return c.authenticate(&req)

	case wire.CommandSubscribe:
		var req wire.SubscribeRequest
		if err := wire.Unmarshal(pkt.Payload, &req); err != nil {
			return c.protocolFailure(pkt.Command, "Malformed subscribe request", err)
		}
		return c.Subscribe(context.Background(), &req)

	case wire.CommandUnsubscribe:
		return c.Unsubscribe()

	case wire.CommandRotateCipherKeys:
		return c.RotateCipherKeys()

	case wire.CommandDefineOperationalModes:
		var req wire.DefineOperationalModesRequest
		if err := wire.Unmarshal(pkt.Payload, &req); err != nil {
			return c.protocolFailure(pkt.Command, "Malformed operational modes", err)
		}
		return c.DefineOperationalModes(req.Modes)

	case wire.CommandHeartbeatAck:
		c.logControl(log.ControlHeartbeatAck, log.DirectionIn)
		return nil

	case wire.CommandMetadataRefresh:
		c.respond(wire.ResponseFailed, pkt.Command, "Metadata refresh is not supported")
		return nil
	}
	return nil
}

func (c *Connection) authenticate(req *wire.AuthenticateRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateAuthenticating:
	case StateConnecting:
		c.respondLocked(wire.ResponseFailed, wire.CommandAuthenticate, "Connection handshake not complete")
		return fault.Policy("publisher.Authenticate", ErrHandshakePending)
	default:
		// The signal cache and cipher keys belong to the subscriber that
		// subscribed; a new identity needs a new connection.
		c.respondLocked(wire.ResponseFailed, wire.CommandAuthenticate,
			"Cannot authenticate after subscribing, reconnect to change subscriber")
		return fault.Policy("publisher.Authenticate", ErrSessionEstablished)
	}

	var (
		sub *SubscriberConfig
		err error
	)
	if c.config.Authenticator == nil {
		err = fault.Policy("publisher.Authenticate", ErrUnknownSubscriber)
	} else {
		sub, err = c.config.Authenticator.Authenticate(req)
	}
	if err != nil {
		c.authFailures++
		c.metrics.AuthFailures.Inc()
		c.logger.Info("authentication rejected",
			"connection", c.connectionID, "subscriber", req.SubscriberID, "error", err)
		c.respondLocked(wire.ResponseFailed, wire.CommandAuthenticate, "Authentication failed: "+reason(err))
		return err
	}

	c.authFailures = 0
	c.authenticated = true
	c.subscriber = sub
	c.subscriberID = sub.ID
	c.subscriberInfo = formatSubscriberInfo(req)
	c.logger.Info("subscriber authenticated",
		"connection", c.connectionID, "subscriber", sub.Acronym, "software", c.subscriberInfo)
	c.respondLocked(wire.ResponseSucceeded, wire.CommandAuthenticate,
		fmt.Sprintf("Authenticated as %s", sub.Acronym))
	return nil
}

// Subscribe negotiates the signal list and starts routing data. It may be
// called again while subscribed to change the list. It is refused until
// Handshake has moved the connection to StateAuthenticating.
func (c *Connection) Subscribe(ctx context.Context, req *wire.SubscribeRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDisconnected:
		return ErrConnectionClosed
	case StateConnecting:
		c.respondLocked(wire.ResponseFailed, wire.CommandSubscribe, "Connection handshake not complete")
		return fault.Policy("publisher.Subscribe", ErrHandshakePending)
	}

	if !c.authenticated {
		if c.config.RequireAuthentication {
			err := fault.Policy("publisher.Subscribe", ErrNotAuthenticated)
			c.respondLocked(wire.ResponseFailed, wire.CommandSubscribe,
				"Subscriber must authenticate before subscribing")
			return err
		}
		c.authenticated = true
		c.subscriberID = c.clientID
	}

	allow := func(signal.MeasurementKey) bool { return true }
	if c.subscriber != nil {
		allow = c.subscriber.Allows
	}
	authorized, unauthorized, err := c.config.Catalog.Resolve(req.Signals, allow)
	if err != nil {
		c.respondLocked(wire.ResponseFailed, wire.CommandSubscribe, "Invalid signal list: "+reason(err))
		return err
	}

	cache := c.cache.Load()
	if cache == nil || cache.SubscriberID() != c.subscriberID || !cache.Matches(authorized, unauthorized) {
		cache, err = signal.Build(c.subscriberID, authorized, unauthorized)
		if err != nil {
			c.respondLocked(wire.ResponseFailed, wire.CommandSubscribe, "Subscription rejected: "+reason(err))
			return err
		}
	}

	if err := c.configureDataChannelLocked(req.DataChannel); err != nil {
		c.respondLocked(wire.ResponseFailed, wire.CommandSubscribe, "Data channel rejected: "+reason(err))
		return err
	}

	c.routing.Store(false)
	c.cache.Store(cache)
	c.encrypt.Store(req.Encrypt)

	payload, err := wire.Marshal(cache.Message())
	if err != nil {
		return fault.Protocol("publisher.Subscribe", err)
	}
	c.sendLocked(wire.EncodeResponse(wire.ResponseUpdateSignalIndexCache, wire.CommandSubscribe, payload))

	if req.Encrypt {
		material, err := c.keys.Material()
		if errors.Is(err, cipher.ErrNoKeys) {
			material, err = c.keys.RotateKeys(c.clock.Now())
		}
		if err != nil {
			c.respondLocked(wire.ResponseFailed, wire.CommandSubscribe, "Cipher keys unavailable: "+reason(err))
			return fault.Protocol("publisher.Subscribe", err)
		}
		if err := c.sendKeysLocked(wire.CommandSubscribe, material); err != nil {
			return err
		}
	}

	if req.StartTime != nil {
		c.startTimePending.Store(true)
	}

	c.respondLocked(wire.ResponseSucceeded, wire.CommandSubscribe,
		fmt.Sprintf("Client subscribed with %d signals", cache.Len()))
	if n := len(cache.UnauthorizedKeys()); n > 0 {
		c.logger.Info("subscription contains unauthorized signals",
			"connection", c.connectionID, "unauthorized", n)
	}

	c.setStateLocked(StateSubscribed, "")
	c.routing.Store(true)
	c.keepAlive.Start()
	return nil
}

// Unsubscribe stops routing data. The signal cache is kept for a later
// Subscribe.
func (c *Connection) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSubscribed {
		c.respondLocked(wire.ResponseFailed, wire.CommandUnsubscribe, "Client is not subscribed")
		return fault.Policy("publisher.Unsubscribe", ErrNotSubscribed)
	}

	c.routing.Store(false)
	c.dataLink.Disconnect()
	if err := c.closeDataChannel(); err != nil {
		c.logger.Debug("data channel stop failed", "error", err)
	}

	c.setStateLocked(StateUnsubscribed, "unsubscribe")
	c.respondLocked(wire.ResponseSucceeded, wire.CommandUnsubscribe, "Client unsubscribed")
	return nil
}

// RotateCipherKeys rotates this connection's keys at the client's request.
// A rotation within MinRotationInterval of the previous one is refused.
func (c *Connection) RotateCipherKeys() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rotateLocked(wire.CommandRotateCipherKeys, c.config.MinRotationInterval)
}

// ForceRotateCipherKeys rotates keys regardless of the rotation interval.
// Used for publisher-driven rotation; connections without encryption are
// skipped.
func (c *Connection) ForceRotateCipherKeys() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSubscribed || !c.encrypt.Load() {
		return nil
	}
	return c.rotateLocked(wire.CommandRotateCipherKeys, 0)
}

func (c *Connection) rotateLocked(cmd wire.ServerCommand, minInterval time.Duration) error {
	if c.state == StateDisconnected {
		return ErrConnectionClosed
	}

	material, err := c.keys.TryRotate(c.clock.Now(), minInterval)
	if err != nil {
		c.metrics.KeyRotations.WithLabelValues("rejected").Inc()
		c.logCipher(log.CipherEvent{Rotation: c.keys.Rotations(), Rejected: reason(err)})
		c.respondLocked(wire.ResponseFailed, cmd, "Cipher key rotation rejected: "+reason(err))
		return err
	}
	c.metrics.KeyRotations.WithLabelValues("ok").Inc()

	// Keys stay rotated even if the send below fails.
	if err := c.sendKeysLocked(cmd, material); err != nil {
		return err
	}
	c.respondLocked(wire.ResponseSucceeded, cmd, "New cipher keys established")
	return nil
}

func (c *Connection) sendKeysLocked(cmd wire.ServerCommand, material *cipher.Material) error {
	raw, err := material.MarshalBinary()
	if err != nil {
		return fault.Protocol("publisher.sendKeys", err)
	}

	msg := wire.CipherKeysMessage{Material: raw}
	if c.subscriber != nil && c.subscriber.SharedSecret != "" {
		wrapped, err := cipher.Wrap(c.subscriber.SharedSecret, raw)
		if err != nil {
			return fault.Protocol("publisher.sendKeys", err)
		}
		msg.Material = wrapped
		msg.Wrapped = true
	}

	payload, err := wire.Marshal(&msg)
	if err != nil {
		return fault.Protocol("publisher.sendKeys", err)
	}
	c.sendLocked(wire.EncodeResponse(wire.ResponseUpdateCipherKeys, cmd, payload))
	c.logCipher(log.CipherEvent{
		Index:    uint8(material.Index),
		Rotation: c.keys.Rotations(),
		Wrapped:  msg.Wrapped,
	})
	return nil
}

// DefineOperationalModes sets the text encoding used for response messages.
func (c *Connection) DefineOperationalModes(modes wire.OperationalModes) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := modes.TextEncoding(); err != nil {
		perr := fault.Protocol("publisher.DefineOperationalModes", err)
		c.respondLocked(wire.ResponseFailed, wire.CommandDefineOperationalModes, reason(err))
		return perr
	}
	c.modes = modes
	c.logger.Debug("operational modes defined",
		"connection", c.connectionID, "encoding", modes.Encoding())
	return nil
}

func (c *Connection) protocolFailure(cmd wire.ServerCommand, msg string, err error) error {
	c.respond(wire.ResponseFailed, cmd, msg)
	return fault.Protocol("publisher."+cmd.String(), err)
}

// respond sends a Succeeded or Failed response.
func (c *Connection) respond(resp wire.ServerResponse, cmd wire.ServerCommand, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respondLocked(resp, cmd, msg)
}

func (c *Connection) respondLocked(resp wire.ServerResponse, cmd wire.ServerCommand, msg string) {
	text, err := c.modes.EncodeText(msg)
	if err != nil {
		text = []byte(msg)
	}
	c.sendLocked(wire.EncodeResponse(resp, cmd, text))
	c.logResponse(cmd, resp, msg)
}

// sendLocked queues a command channel message. Control responses are never
// dropped for a full queue; they wait for the writer instead.
func (c *Connection) sendLocked(data []byte) {
	select {
	case c.queue <- outbound{data: data}:
	case <-c.done:
	}
}

// reason strips fault classification from err for client-facing text.
func reason(err error) string {
	for {
		fe, ok := err.(*fault.Error)
		if !ok {
			return err.Error()
		}
		err = fe.Err
	}
}

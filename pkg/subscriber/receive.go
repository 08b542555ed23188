package subscriber

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/transport"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// dataReadTimeout bounds each UDP read so the data loop notices Close.
const dataReadTimeout = 500 * time.Millisecond

func (c *Client) receiveLoop(conn *transport.ClientConn) {
	defer c.wg.Done()

	for {
		data, err := conn.Receive(0)
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		if err := c.handle(data); err != nil {
			c.reportError(err)
		}
	}
}

// connectionLost starts a reconnect when conn is still the active
// connection and the client is open.
func (c *Client) connectionLost(conn *transport.ClientConn, err error) {
	c.mu.Lock()
	current := c.conn == conn && !c.closed
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	conn.Close()
	c.failPending()
	c.reportError(fault.Transient("subscriber.receive", err))

	if c.config.Reconnect {
		c.link.NotifyConnectionLost()
	} else {
		c.link.Disconnect()
	}
}

// handle processes one response frame from either channel.
func (c *Client) handle(data []byte) error {
	pkt, err := wire.DecodeResponse(data)
	if err != nil {
		return fault.Protocol("subscriber.handle", err)
	}

	switch pkt.Response {
	case wire.ResponseNoOP:
		c.heartbeats.Add(1)
		return c.send(wire.CommandHeartbeatAck, nil)

	case wire.ResponseSucceeded, wire.ResponseFailed:
		text, err := c.OperationalModes().DecodeText(pkt.Payload)
		if err != nil {
			text = string(pkt.Payload)
		}
		resp := &Response{Response: pkt.Response, Command: pkt.Command, Message: text}
		if pkt.Response == wire.ResponseFailed {
			c.logger.Warn("command failed", "command", pkt.Command, "message", text)
		}
		if c.config.OnResponse != nil {
			c.config.OnResponse(resp)
		}
		c.complete(resp)
		return nil

	case wire.ResponseUpdateSignalIndexCache:
		return c.installCache(pkt.Payload)

	case wire.ResponseUpdateCipherKeys:
		return c.installKeys(pkt.Payload)

	case wire.ResponseDataStartTime:
		ts, err := wire.DecodeStartTime(pkt.Payload)
		if err != nil {
			return fault.Protocol("subscriber.handle", err)
		}
		c.startTime.Store(&ts)
		c.logger.Debug("data start time", "time", ts)
		return nil

	case wire.ResponseDataPacket:
		return c.handleData(pkt.Payload)
	}

	return fault.Protocol("subscriber.handle", fmt.Errorf("unexpected response %s", pkt.Response))
}

func (c *Client) installCache(payload []byte) error {
	var msg wire.SignalIndexCacheMessage
	if err := wire.Unmarshal(payload, &msg); err != nil {
		return fault.Protocol("subscriber.installCache", err)
	}
	cache, err := signal.FromMessage(&msg)
	if err != nil {
		return err
	}
	c.cache.Store(cache)
	c.logger.Info("signal index cache received",
		"signals", cache.Len(), "unauthorized", len(cache.UnauthorizedKeys()))
	return nil
}

func (c *Client) installKeys(payload []byte) error {
	var msg wire.CipherKeysMessage
	if err := wire.Unmarshal(payload, &msg); err != nil {
		return fault.Protocol("subscriber.installKeys", err)
	}

	data := msg.Material
	if msg.Wrapped {
		if c.config.SharedSecret == "" {
			return fault.Configuration("subscriber.installKeys", errors.New("wrapped keys without a shared secret"))
		}
		var err error
		if data, err = cipher.Unwrap(c.config.SharedSecret, data); err != nil {
			return fault.Policy("subscriber.installKeys", err)
		}
	}

	material := &cipher.Material{}
	if err := material.UnmarshalBinary(data); err != nil {
		return fault.Protocol("subscriber.installKeys", err)
	}
	c.keys.Store(material)
	c.logger.Info("cipher keys received", "active", material.Index)
	return nil
}

func (c *Client) handleData(payload []byte) error {
	c.packets.Add(1)
	frame, err := c.decodeFrame(payload)
	if err != nil {
		c.failures.Add(1)
		return err
	}
	c.frames.Add(1)
	if c.config.OnFrame != nil {
		c.config.OnFrame(frame)
	}
	return nil
}

// decodeFrame maps a data packet back to signal IDs through the cache.
func (c *Client) decodeFrame(payload []byte) (*signal.Frame, error) {
	flags, body, err := wire.DecodeDataPacket(payload)
	if err != nil {
		return nil, fault.Protocol("subscriber.decodeFrame", err)
	}

	if flags&wire.FlagEncrypted != 0 {
		keys := c.keys.Load()
		if keys == nil {
			return nil, fault.Protocol("subscriber.decodeFrame", cipher.ErrNoKeys)
		}
		body, err = cipher.Decrypt(keys.Slot(cipher.Index(flags.CipherIndex())), body)
		if err != nil {
			return nil, fault.Protocol("subscriber.decodeFrame", err)
		}
	}

	ts, records, err := wire.DecodeMeasurements(body)
	if err != nil {
		return nil, fault.Protocol("subscriber.decodeFrame", err)
	}

	cache := c.cache.Load()
	if cache == nil {
		return nil, fault.Protocol("subscriber.decodeFrame", ErrNoSignalCache)
	}

	frame := &signal.Frame{Timestamp: ts, Measurements: make([]signal.Measurement, 0, len(records))}
	for _, r := range records {
		sig, err := cache.Signal(r.Index)
		if err != nil {
			return nil, fault.Protocol("subscriber.decodeFrame", err)
		}
		frame.Measurements = append(frame.Measurements, signal.Measurement{
			SignalID: sig.ID,
			Value:    r.Value,
			Quality:  r.Quality,
		})
	}
	return frame, nil
}

// dataListener returns the UDP listener, binding it on first use.
func (c *Client) dataListener(address string) (*transport.DataListener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.listener != nil {
		return c.listener, nil
	}

	listener, err := transport.ListenDataChannel(address)
	if err != nil {
		return nil, err
	}
	c.listener = listener
	c.wg.Add(1)
	go c.dataLoop(listener)
	c.logger.Info("data channel listening", "address", listener.LocalAddr())
	return listener, nil
}

func (c *Client) closeListener() {
	c.mu.Lock()
	listener := c.listener
	c.listener = nil
	c.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
}

func (c *Client) dataLoop(listener *transport.DataListener) {
	defer c.wg.Done()

	for {
		data, err := listener.ReadPacket(dataReadTimeout)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
		if err := c.handle(data); err != nil {
			c.reportError(err)
		}
	}
}

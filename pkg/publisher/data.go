package publisher

import (
	"context"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/reconnect"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/transport"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// MaxRecordsPerPacket keeps one data packet inside a UDP datagram.
const MaxRecordsPerPacket = 4000

// Drop reasons reported in the packets_dropped_total metric.
const (
	dropQueueFull  = "queue_full"
	dropDataDown   = "data_channel_down"
	dropSendError  = "send_error"
	dropEncryption = "encryption"
	dropTransport  = "transport_failed"
)

// Publish filters frame through the signal cache and queues the resulting
// data packets. It never blocks: packets that do not fit in the send queue
// are dropped. Returns false when nothing was queued.
func (c *Connection) Publish(frame *signal.Frame) bool {
	if !c.routing.Load() || frame == nil {
		return false
	}
	cache := c.cache.Load()
	if cache == nil {
		return false
	}

	records := make([]wire.Record, 0, len(frame.Measurements))
	for _, m := range frame.Measurements {
		index, ok := cache.Lookup(m.SignalID)
		if !ok {
			continue
		}
		records = append(records, wire.Record{Index: index, Value: m.Value, Quality: m.Quality})
	}
	if len(records) == 0 {
		return false
	}

	if c.startTimePending.CompareAndSwap(true, false) {
		c.tryEnqueue(outbound{
			data: wire.EncodeResponse(wire.ResponseDataStartTime, wire.CommandSubscribe,
				wire.EncodeStartTime(frame.Timestamp)),
		})
	}

	queued := false
	for len(records) > 0 {
		n := min(len(records), MaxRecordsPerPacket)
		packet, err := c.encodePacket(frame, records[:n])
		records = records[n:]
		if err != nil {
			c.drop(dropEncryption)
			c.status.Error("data packet encryption failed", "connection", c.ConnectionID(), "error", err)
			continue
		}
		if c.tryEnqueue(outbound{data: packet, datagram: true}) {
			queued = true
		}
	}
	return queued
}

func (c *Connection) encodePacket(frame *signal.Frame, records []wire.Record) ([]byte, error) {
	payload := wire.EncodeMeasurements(frame.Timestamp, records)
	flags := wire.FlagCompact | wire.FlagSynchronized

	if c.encrypt.Load() {
		index, slot, err := c.keys.Active()
		if err != nil {
			return nil, err
		}
		payload, err = cipher.Encrypt(slot, payload)
		if err != nil {
			return nil, err
		}
		flags |= wire.FlagEncrypted
		if index == cipher.Odd {
			flags |= wire.FlagCipherIndex
		}
	}

	return wire.EncodeResponse(wire.ResponseDataPacket, wire.CommandSubscribe,
		wire.EncodeDataPacket(flags, payload)), nil
}

func (c *Connection) tryEnqueue(out outbound) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.queue <- out:
		return true
	default:
		c.drop(dropQueueFull)
		c.status.Warn("send queue full, dropping data", "connection", c.ConnectionID())
		return false
	}
}

func (c *Connection) drop(reason string) {
	c.dropped.Add(1)
	c.metrics.PacketsDropped.WithLabelValues(reason).Inc()
}

// writeLoop drains the send queue until the connection is torn down.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.done:
			c.flush()
			return
		case out := <-c.queue:
			c.write(out)
		}
	}
}

// flush sends the control responses left in the queue.
func (c *Connection) flush() {
	for {
		select {
		case out := <-c.queue:
			if !out.datagram && !c.failed.Load() {
				c.cmd.Send(out.data)
			}
		default:
			return
		}
	}
}

func (c *Connection) write(out outbound) {
	if out.datagram {
		c.dataMu.Lock()
		dc, configured := c.data, c.dataConfig != ""
		c.dataMu.Unlock()

		if configured {
			if dc == nil {
				c.drop(dropDataDown)
				return
			}
			if err := dc.Send(out.data); err != nil {
				c.drop(dropSendError)
			}
			return
		}
	}

	if c.failed.Load() {
		if out.datagram {
			c.drop(dropTransport)
		}
		return
	}
	if err := c.cmd.Send(out.data); err != nil {
		if !c.closed.Load() {
			go c.transportFailed(err)
		}
		if out.datagram {
			c.drop(dropSendError)
		}
	}
}

// configureDataChannelLocked applies the data channel setting of a
// Subscribe request. An empty config routes data over the command channel.
func (c *Connection) configureDataChannelLocked(config string) error {
	c.dataMu.Lock()
	current := c.dataConfig
	c.dataMu.Unlock()

	if config == current && (config == "" || c.dataLink.IsConnected()) {
		return nil
	}

	c.dataLink.Disconnect()
	if err := c.closeDataChannel(); err != nil {
		c.logger.Debug("data channel stop failed", "error", err)
	}

	if config != "" {
		if _, err := transport.ParseDataChannelConfig(config, c.cmd.RemoteAddr()); err != nil {
			c.dataMu.Lock()
			c.dataConfig = ""
			c.dataMu.Unlock()
			return fault.Protocol("publisher.Subscribe", err)
		}
	}

	c.dataMu.Lock()
	c.dataConfig = config
	c.dataMu.Unlock()

	if config == "" {
		return nil
	}
	if err := c.dataLink.Connect(context.Background()); err != nil {
		c.dataMu.Lock()
		c.dataConfig = ""
		c.dataMu.Unlock()
		return fault.Transient("publisher.Subscribe", err)
	}
	return nil
}

// openDataChannel is the reconnect function of the data link. It must not
// take c.mu: Subscribe holds it while connecting.
func (c *Connection) openDataChannel(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	c.dataMu.Lock()
	config := c.dataConfig
	c.dataMu.Unlock()

	var dc DataChannel
	onStopped := func(unexpected bool, err error) {
		c.dataChannelStopped(dc, unexpected, err)
	}
	dc, err := c.config.DataChannels(config, c.cmd.RemoteAddr(), onStopped)
	if err != nil {
		return err
	}
	if err := dc.Start(); err != nil {
		return err
	}

	c.dataMu.Lock()
	if c.closed.Load() || c.dataConfig != config {
		c.dataMu.Unlock()
		dc.Stop()
		return ErrConnectionClosed
	}
	old := c.data
	c.data = dc
	c.dataMu.Unlock()

	if old != nil {
		old.Stop()
	}
	c.logger.Debug("data channel started", "config", config)
	return nil
}

// dataChannelStopped is the stop notification of one data channel
// instance. An unexpected stop of the current channel while subscribed
// starts the reconnect loop; anything else is ignored.
func (c *Connection) dataChannelStopped(dc DataChannel, unexpected bool, err error) {
	if !unexpected || c.closed.Load() {
		return
	}

	c.dataMu.Lock()
	if c.data != dc {
		c.dataMu.Unlock()
		return
	}
	c.data = nil
	c.dataMu.Unlock()

	if c.State() != StateSubscribed {
		return
	}
	c.status.Warn("data channel lost, reconnecting", "error", err)
	c.logError(log.LayerTransport, fault.Transient("publisher.DataChannel", err), "data channel")
	c.dataLink.NotifyConnectionLost()
}

func (c *Connection) closeDataChannel() error {
	c.dataMu.Lock()
	dc := c.data
	c.data = nil
	c.dataMu.Unlock()

	if dc == nil {
		return nil
	}
	return dc.Stop()
}

func (c *Connection) dataLinkChanged(oldState, newState reconnect.State) {
	if oldState == reconnect.StateReconnecting && newState == reconnect.StateConnected {
		c.metrics.DataReconnects.Inc()
	}
	c.logState(log.StateEntityDataChannel, oldState.String(), newState.String(), "")
}

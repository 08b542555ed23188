package publisher

import (
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// event returns a protocol log event with the connection fields filled in.
// It reads no c.mu-guarded state so it is safe to call with or without
// the lock.
func (c *Connection) event(layer log.Layer, category log.Category, dir log.Direction) log.Event {
	e := log.Event{
		Timestamp:    c.clock.Now(),
		ConnectionID: c.clientID.String(),
		Direction:    dir,
		Layer:        layer,
		Category:     category,
		LocalRole:    log.RolePublisher,
	}
	if remote := c.cmd.RemoteAddr(); remote != nil {
		e.RemoteAddr = remote.String()
	}
	if cache := c.cache.Load(); cache != nil {
		e.SubscriberID = cache.SubscriberID().String()
	}
	return e
}

func (c *Connection) logCommand(cmd wire.ServerCommand, resp *wire.ServerResponse, msg string, dir log.Direction, size int) {
	e := c.event(log.LayerWire, log.CategoryMessage, dir)
	e.Command = &log.CommandEvent{
		Command:     cmd,
		Response:    resp,
		Message:     msg,
		PayloadSize: size,
	}
	c.plog.Log(e)
}

func (c *Connection) logResponse(cmd wire.ServerCommand, resp wire.ServerResponse, msg string) {
	c.logCommand(cmd, &resp, msg, log.DirectionOut, 0)
}

func (c *Connection) logControl(t log.ControlType, dir log.Direction) {
	e := c.event(log.LayerWire, log.CategoryControl, dir)
	e.Control = &log.ControlEvent{Type: t}
	c.plog.Log(e)
}

func (c *Connection) logState(entity log.StateEntity, oldState, newState, reason string) {
	e := c.event(log.LayerSession, log.CategoryState, log.DirectionOut)
	e.StateChange = &log.StateChangeEvent{
		Entity:   entity,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	c.plog.Log(e)
}

func (c *Connection) logCipher(ce log.CipherEvent) {
	e := c.event(log.LayerSession, log.CategoryCipher, log.DirectionOut)
	e.Cipher = &ce
	c.plog.Log(e)
}

func (c *Connection) logError(layer log.Layer, err error, context string) {
	e := c.event(layer, log.CategoryError, log.DirectionIn)
	e.Error = &log.ErrorEventData{
		Layer:   layer,
		Message: err.Error(),
		Context: context,
	}
	if kind := fault.KindOf(err); kind != fault.KindUnknown {
		e.Error.Kind = kind.String()
	}
	c.plog.Log(e)
}

package wire

import "fmt"

// ServerCommand identifies a request sent by a client on the command channel.
type ServerCommand uint8

// Commands understood by the publisher.
const (
	CommandAuthenticate           ServerCommand = 0x00
	CommandMetadataRefresh        ServerCommand = 0x01
	CommandSubscribe              ServerCommand = 0x02
	CommandUnsubscribe            ServerCommand = 0x03
	CommandRotateCipherKeys       ServerCommand = 0x04
	CommandDefineOperationalModes ServerCommand = 0x06
	CommandHeartbeatAck           ServerCommand = 0x0C
)

// IsValid reports whether c is a known command.
func (c ServerCommand) IsValid() bool {
	switch c {
	case CommandAuthenticate, CommandMetadataRefresh, CommandSubscribe,
		CommandUnsubscribe, CommandRotateCipherKeys,
		CommandDefineOperationalModes, CommandHeartbeatAck:
		return true
	}
	return false
}

// String returns the command name.
func (c ServerCommand) String() string {
	switch c {
	case CommandAuthenticate:
		return "Authenticate"
	case CommandMetadataRefresh:
		return "MetadataRefresh"
	case CommandSubscribe:
		return "Subscribe"
	case CommandUnsubscribe:
		return "Unsubscribe"
	case CommandRotateCipherKeys:
		return "RotateCipherKeys"
	case CommandDefineOperationalModes:
		return "DefineOperationalModes"
	case CommandHeartbeatAck:
		return "HeartbeatAck"
	default:
		return fmt.Sprintf("Command(0x%02X)", uint8(c))
	}
}

// ServerResponse identifies a message sent by the publisher.
type ServerResponse uint8

// Responses emitted by the publisher.
const (
	ResponseSucceeded              ServerResponse = 0x80
	ResponseFailed                 ServerResponse = 0x81
	ResponseDataPacket             ServerResponse = 0x82
	ResponseUpdateSignalIndexCache ServerResponse = 0x83
	ResponseUpdateCipherKeys       ServerResponse = 0x85
	ResponseDataStartTime          ServerResponse = 0x86
	ResponseNoOP                   ServerResponse = 0xFF
)

// IsValid reports whether r is a known response.
func (r ServerResponse) IsValid() bool {
	switch r {
	case ResponseSucceeded, ResponseFailed, ResponseDataPacket,
		ResponseUpdateSignalIndexCache, ResponseUpdateCipherKeys,
		ResponseDataStartTime, ResponseNoOP:
		return true
	}
	return false
}

// String returns the response name.
func (r ServerResponse) String() string {
	switch r {
	case ResponseSucceeded:
		return "Succeeded"
	case ResponseFailed:
		return "Failed"
	case ResponseDataPacket:
		return "DataPacket"
	case ResponseUpdateSignalIndexCache:
		return "UpdateSignalIndexCache"
	case ResponseUpdateCipherKeys:
		return "UpdateCipherKeys"
	case ResponseDataStartTime:
		return "DataStartTime"
	case ResponseNoOP:
		return "NoOP"
	default:
		return fmt.Sprintf("Response(0x%02X)", uint8(r))
	}
}

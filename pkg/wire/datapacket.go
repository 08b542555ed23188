package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// DataPacketFlags describes how a data packet payload is encoded.
type DataPacketFlags uint8

// Data packet flags.
const (
	FlagSynchronized DataPacketFlags = 0x01
	FlagCompact      DataPacketFlags = 0x02
	FlagCipherIndex  DataPacketFlags = 0x04 // set: odd key slot
	FlagEncrypted    DataPacketFlags = 0x08
)

const (
	measurementHeaderSize = 12 // timestamp + count
	recordSize            = 14 // index + value + quality
)

// ErrMalformedDataPacket is returned for payloads whose size does not
// match their declared record count.
var ErrMalformedDataPacket = errors.New("malformed data packet")

// Record is one measurement addressed by compact signal index.
type Record struct {
	Index   uint16
	Value   float64
	Quality uint32
}

// CipherIndex returns the key slot named by the flags (0 even, 1 odd).
func (f DataPacketFlags) CipherIndex() int {
	if f&FlagCipherIndex != 0 {
		return 1
	}
	return 0
}

// EncodeMeasurements builds the plaintext payload of a data packet.
func EncodeMeasurements(ts time.Time, records []Record) []byte {
	buf := make([]byte, measurementHeaderSize+len(records)*recordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(records)))

	off := measurementHeaderSize
	for _, r := range records {
		binary.BigEndian.PutUint16(buf[off:], r.Index)
		binary.BigEndian.PutUint64(buf[off+2:], math.Float64bits(r.Value))
		binary.BigEndian.PutUint32(buf[off+10:], r.Quality)
		off += recordSize
	}
	return buf
}

// DecodeMeasurements parses a plaintext data packet payload.
func DecodeMeasurements(data []byte) (time.Time, []Record, error) {
	if len(data) < measurementHeaderSize {
		return time.Time{}, nil, ErrShortPacket
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(data[0:8])))
	count := int(binary.BigEndian.Uint32(data[8:12]))
	if len(data)-measurementHeaderSize != count*recordSize {
		return time.Time{}, nil, fmt.Errorf("%w: %d records in %d bytes",
			ErrMalformedDataPacket, count, len(data))
	}

	records := make([]Record, count)
	off := measurementHeaderSize
	for i := range records {
		records[i] = Record{
			Index:   binary.BigEndian.Uint16(data[off:]),
			Value:   math.Float64frombits(binary.BigEndian.Uint64(data[off+2:])),
			Quality: binary.BigEndian.Uint32(data[off+10:]),
		}
		off += recordSize
	}
	return ts, records, nil
}

// EncodeDataPacket prefixes payload with flags.
func EncodeDataPacket(flags DataPacketFlags, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(flags)
	copy(buf[1:], payload)
	return buf
}

// DecodeDataPacket splits a data packet into flags and payload.
func DecodeDataPacket(data []byte) (DataPacketFlags, []byte, error) {
	if len(data) < 1 {
		return 0, nil, ErrShortPacket
	}
	return DataPacketFlags(data[0]), data[1:], nil
}

// EncodeStartTime builds the DataStartTime payload: unix nanoseconds,
// big-endian.
func EncodeStartTime(ts time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts.UnixNano()))
	return buf
}

// DecodeStartTime parses a DataStartTime payload.
func DecodeStartTime(data []byte) (time.Time, error) {
	if len(data) < 8 {
		return time.Time{}, ErrShortPacket
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(data))), nil
}

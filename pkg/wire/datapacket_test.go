package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasurementsPayload(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 33_333_333, time.UTC)
	records := []Record{
		{Index: 0, Value: 59.98, Quality: 0},
		{Index: 7, Value: -1.5, Quality: 0x40},
	}

	payload := EncodeMeasurements(ts, records)
	assert.Len(t, payload, measurementHeaderSize+2*recordSize)

	gotTS, gotRecords, err := DecodeMeasurements(payload)
	require.NoError(t, err)
	assert.True(t, gotTS.Equal(ts), "timestamp %v, want %v", gotTS, ts)
	assert.Equal(t, records, gotRecords)
}

func TestDecodeMeasurementsMalformed(t *testing.T) {
	payload := EncodeMeasurements(time.Unix(0, 0), []Record{{Index: 1}})

	_, _, err := DecodeMeasurements(payload[:len(payload)-1])
	assert.True(t, errors.Is(err, ErrMalformedDataPacket))

	_, _, err = DecodeMeasurements(payload[:4])
	assert.True(t, errors.Is(err, ErrShortPacket))
}

func TestDataPacketFlags(t *testing.T) {
	pkt := EncodeDataPacket(FlagCompact|FlagEncrypted|FlagCipherIndex, []byte{1})

	flags, payload, err := DecodeDataPacket(pkt)
	require.NoError(t, err)
	assert.Equal(t, 1, flags.CipherIndex())
	assert.NotZero(t, flags&FlagEncrypted)
	assert.Equal(t, []byte{1}, payload)

	assert.Equal(t, 0, FlagCompact.CipherIndex())

	_, _, err = DecodeDataPacket(nil)
	assert.ErrorIs(t, err, ErrShortPacket)
}

func TestStartTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	got, err := DecodeStartTime(EncodeStartTime(ts))
	require.NoError(t, err)
	assert.True(t, got.Equal(ts))

	_, err = DecodeStartTime([]byte{1, 2})
	assert.ErrorIs(t, err, ErrShortPacket)
}

package log

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// EventTag is the CBOR tag number wrapping every protocol log record
// ("GPLG"). It lets tools recognize a gridpulse log from its first bytes.
const EventTag uint64 = 0x47504C47

// logEncMode encodes events tagged with EventTag, with nanosecond
// timestamps and canonical map order.
var logEncMode cbor.EncMode

// logDecMode accepts tagged and untagged events, so logs written before
// records were tagged still read back.
var logDecMode cbor.DecMode

func init() {
	tags := cbor.NewTagSet()
	err := tags.Add(cbor.TagOptions{
		EncTag: cbor.EncTagRequired,
		DecTag: cbor.DecTagOptional,
	}, reflect.TypeOf(Event{}), EventTag)
	if err != nil {
		panic(fmt.Sprintf("failed to register log event tag: %v", err))
	}

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	logEncMode, err = encOpts.EncModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("failed to create log CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		MaxNestedLevels:   16,
	}
	logDecMode, err = decOpts.DecModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("failed to create log CBOR decoder mode: %v", err))
	}
}

// EncodeEvent encodes an Event as a tagged CBOR item with integer keys.
func EncodeEvent(event Event) ([]byte, error) {
	return logEncMode.Marshal(event)
}

// DecodeEvent decodes one CBOR-encoded Event, tagged or not.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := logDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder creates an encoder that writes tagged events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return logEncMode.NewEncoder(w)
}

// NewDecoder creates a decoder that reads events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return logDecMode.NewDecoder(r)
}

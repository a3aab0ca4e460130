package log

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CaptureTag is the CBOR tag wrapping every record of a capture ("SMP").
// A stream without it is rejected instead of decoding into empty events.
const CaptureTag = 0x534d50

var (
	captureEnc cbor.EncMode
	captureDec cbor.DecMode
)

func init() {
	tags := cbor.NewTagSet()
	err := tags.Add(
		cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired},
		reflect.TypeOf(Event{}), CaptureTag)
	if err != nil {
		panic(fmt.Sprintf("log: capture tag: %v", err))
	}

	captureEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("log: capture encoder: %v", err))
	}

	// Unknown fields from newer builds are skipped; duplicate keys are not.
	captureDec, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 8,
	}.DecModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("log: capture decoder: %v", err))
	}
}

// redact drops the payload of a PDU marked as key-bearing, so key material
// never reaches a capture even when a caller filled it in.
func redact(e Event) Event {
	if e.PDU != nil && e.PDU.Redacted && len(e.PDU.Data) > 0 {
		pdu := *e.PDU
		pdu.Data = nil
		e.PDU = &pdu
	}
	return e
}

// EncodeEvent encodes one tagged capture record.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEnc.Marshal(redact(event))
}

// DecodeEvent decodes one tagged capture record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDec.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("log: decode record: %w", err)
	}
	return event, nil
}

// captureWriter appends records to a capture stream.
type captureWriter struct {
	enc *cbor.Encoder
}

func newCaptureWriter(w io.Writer) *captureWriter {
	return &captureWriter{enc: captureEnc.NewEncoder(w)}
}

func (c *captureWriter) write(e Event) error {
	return c.enc.Encode(redact(e))
}

// newCaptureReader reads records from a capture stream.
func newCaptureReader(r io.Reader) *cbor.Decoder {
	return captureDec.NewDecoder(r)
}

package log

import (
	"time"
)

// Event is one protocol log record of a pairing attempt.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// AttemptID identifies the pairing attempt (UUID). A retried attempt
	// keeps its ID.
	AttemptID string `cbor:"2,keyasint"`

	// Direction indicates PDU flow. Unused for state and error events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole is the local pairing role.
	LocalRole Role `cbor:"6,keyasint"`

	// PeerAddr is the peer address as "type/aa:bb:cc:dd:ee:ff".
	PeerAddr string `cbor:"7,keyasint,omitempty"`

	// Transport is "le" or "br/edr".
	Transport string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	PDU         *PDUEvent         `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Key         *KeyEvent         `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of PDU flow.
type Direction uint8

const (
	// DirectionIn indicates a received PDU.
	DirectionIn Direction = 0
	// DirectionOut indicates a sent PDU.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerChannel is the fixed L2CAP channel carrying raw PDUs.
	LayerChannel Layer = 0
	// LayerEngine is the pairing state machine.
	LayerEngine Layer = 1
	// LayerKeyDist is key distribution and storage.
	LayerKeyDist Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerChannel:
		return "CHANNEL"
	case LayerEngine:
		return "ENGINE"
	case LayerKeyDist:
		return "KEYDIST"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryPDU indicates a sent or received PDU.
	CategoryPDU Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryKey indicates a key was distributed, received or derived.
	CategoryKey Category = 2
	// CategoryError indicates a failure.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPDU:
		return "PDU"
	case CategoryState:
		return "STATE"
	case CategoryKey:
		return "KEY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the local pairing role.
type Role uint8

const (
	// RoleInitiator is the central that sent the Pairing Request.
	RoleInitiator Role = 0
	// RoleResponder is the peripheral that answered it.
	RoleResponder Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "INITIATOR"
	case RoleResponder:
		return "RESPONDER"
	default:
		return "UNKNOWN"
	}
}

// PDUEvent captures a Security Manager PDU.
type PDUEvent struct {
	// Opcode is the first octet of the PDU.
	Opcode uint8 `cbor:"1,keyasint"`

	// Name is the opcode name.
	Name string `cbor:"2,keyasint"`

	// Size is the PDU length in octets.
	Size int `cbor:"3,keyasint"`

	// Data is the raw PDU. Key-bearing PDUs are redacted to their opcode.
	Data []byte `cbor:"4,keyasint,omitempty"`

	// Redacted indicates Data was withheld.
	Redacted bool `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures pairing state transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Model is the association model, once selected.
	Model string `cbor:"3,keyasint,omitempty"`

	// SecureConnections is set when the attempt uses LE Secure Connections.
	SecureConnections bool `cbor:"4,keyasint,omitempty"`
}

// KeyEvent records that a key changed hands. Key material is never logged.
type KeyEvent struct {
	// Kind names the key ("LTK", "IRK", "CSRK", "LinkKey", ...).
	Kind string `cbor:"1,keyasint"`

	// Local is true for keys this side generated or derived.
	Local bool `cbor:"2,keyasint,omitempty"`

	// Size is the effective key size in octets.
	Size int `cbor:"3,keyasint,omitempty"`

	// Authenticated is set for keys from an MITM-protected model.
	Authenticated bool `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures a pairing failure.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Reason is the failure reason code.
	Reason uint8 `cbor:"3,keyasint"`

	// Remote is set when the peer reported the failure.
	Remote bool `cbor:"4,keyasint,omitempty"`
}

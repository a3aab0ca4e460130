package smp

// Transport carries Security Manager traffic for the engine. Calls are made
// from session goroutines and must not block on the engine.
type Transport interface {
	// SendPDU transmits a PDU on the Security Manager channel of link.
	SendPDU(addr Address, link Link, pdu []byte) error

	// StartEncryption asks the controller to encrypt the link with ltk.
	// The outcome is reported through Manager.EncryptionChanged.
	StartEncryption(addr Address, ltk [16]byte, ediv uint16, rand [8]byte) error

	// ReplyLTK answers an LTK request of the controller. ok false sends a
	// negative reply.
	ReplyLTK(addr Address, ltk [16]byte, ok bool) error
}

// KeyStore persists distributed and derived keys.
type KeyStore interface {
	SaveKey(addr Address, key Key) error
}

// LinkKeySource is implemented by key stores that can supply BR/EDR link
// keys. A responder needs it for pairing over BR/EDR.
type LinkKeySource interface {
	LinkKey(addr Address) (key [16]byte, keyType LinkKeyType, ok bool)
}

// Handler receives application callbacks. Callbacks run on the session
// goroutine; replies go through the Manager and may be made from within the
// callback.
type Handler interface {
	// IOCapabilityRequest returns the pairing parameters for addr, starting
	// from defaults.
	IOCapabilityRequest(addr Address, defaults PairingParams) PairingParams

	// PasskeyDisplay shows a passkey the user enters on the peer.
	PasskeyDisplay(addr Address, passkey uint32)

	// PasskeyRequest asks for the passkey shown on the peer. Answer with
	// Manager.PasskeyReply.
	PasskeyRequest(addr Address)

	// NumericComparison shows the six-digit value. Answer with
	// Manager.ConfirmReply.
	NumericComparison(addr Address, value uint32)

	// OOBRequest asks for out-of-band data. Answer with Manager.OOBReply.
	OOBRequest(addr Address, secure bool)

	// KeypressNotification reports the peer's passkey entry progress.
	KeypressNotification(addr Address, kind KeypressType)

	// PairingComplete reports a successful attempt.
	PairingComplete(addr Address, result Result)

	// PairingFailed reports a failed attempt. err is a *PairingError.
	PairingFailed(addr Address, err error)
}

// BaseHandler implements Handler with no-ops. Embed it and override the
// callbacks of interest.
type BaseHandler struct{}

func (BaseHandler) IOCapabilityRequest(_ Address, defaults PairingParams) PairingParams {
	return defaults
}
func (BaseHandler) PasskeyDisplay(Address, uint32)             {}
func (BaseHandler) PasskeyRequest(Address)                     {}
func (BaseHandler) NumericComparison(Address, uint32)          {}
func (BaseHandler) OOBRequest(Address, bool)                   {}
func (BaseHandler) KeypressNotification(Address, KeypressType) {}
func (BaseHandler) PairingComplete(Address, Result)            {}
func (BaseHandler) PairingFailed(Address, error)               {}

// KeyType identifies a key handed to the KeyStore.
type KeyType uint8

const (
	KeyTypeLTK KeyType = iota + 1
	KeyTypeIRK
	KeyTypeCSRK
	KeyTypeLinkKey
)

// String returns the key type name.
func (t KeyType) String() string {
	switch t {
	case KeyTypeLTK:
		return "LTK"
	case KeyTypeIRK:
		return "IRK"
	case KeyTypeCSRK:
		return "CSRK"
	case KeyTypeLinkKey:
		return "LinkKey"
	default:
		return "Unknown"
	}
}

// LinkKeyType is the BR/EDR link key type.
type LinkKeyType uint8

const (
	LinkKeyCombination         LinkKeyType = 0x00
	LinkKeyUnauthenticatedP192 LinkKeyType = 0x04
	LinkKeyAuthenticatedP192   LinkKeyType = 0x05
	LinkKeyUnauthenticatedP256 LinkKeyType = 0x07
	LinkKeyAuthenticatedP256   LinkKeyType = 0x08
)

// p256 reports whether t was generated with P-256, the precondition for
// deriving an LE key from it.
func (t LinkKeyType) p256() bool {
	return t == LinkKeyUnauthenticatedP256 || t == LinkKeyAuthenticatedP256
}

// Key is a key produced by a pairing attempt.
type Key struct {
	Type KeyType

	// Local is set for keys this side generated and distributed. A secure
	// connections LTK is shared and has Local unset.
	Local bool

	Value [16]byte

	// EDIV and Rand identify a legacy LTK.
	EDIV uint16
	Rand [8]byte

	// Size is the encryption key size for LTKs.
	Size uint8

	Authenticated     bool
	SecureConnections bool

	// Address is the identity address for IRKs and the BR/EDR address for
	// link keys.
	Address Address

	// LinkKeyType is set for link keys.
	LinkKeyType LinkKeyType
}

// Result describes a completed pairing attempt.
type Result struct {
	AttemptID         string
	Role              Role
	Link              Link
	Model             Model
	SecureConnections bool
	Level             SecurityLevel
	KeySize           uint8

	// Bonded is set when both sides requested bonding and keys were saved.
	Bonded bool

	// EncryptionKey is the key the link was encrypted with: the STK for
	// legacy pairing, the LTK otherwise. Over BR/EDR it is the derived LTK.
	EncryptionKey [16]byte

	// Keys lists the keys distributed, received and derived.
	Keys []Key

	// PeerIdentity is the identity address the peer distributed.
	PeerIdentity *Address

	// Retried is set when the attempt was repeated after a page timeout.
	Retried bool
}

// Key returns the first key of type t with the given origin.
func (r Result) Key(t KeyType, local bool) (Key, bool) {
	for _, k := range r.Keys {
		if k.Type == t && k.Local == local {
			return k, true
		}
	}
	return Key{}, false
}

package smp

import (
	"fmt"
	"strings"
)

// AddressType is the LE address type.
type AddressType uint8

const (
	AddressPublic AddressType = 0x00
	AddressRandom AddressType = 0x01
)

// String returns the address type name.
func (t AddressType) String() string {
	switch t {
	case AddressPublic:
		return "public"
	case AddressRandom:
		return "random"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Address identifies a peer device. Addr is in display order, most
// significant octet first.
type Address struct {
	Type AddressType
	Addr [6]byte
}

// String formats the address as "public/c0:01:02:03:04:05".
func (a Address) String() string {
	var sb strings.Builder
	sb.WriteString(a.Type.String())
	sb.WriteByte('/')
	for i, b := range a.Addr {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

// ParseAddress parses the String form. A missing type prefix means public.
func ParseAddress(s string) (Address, error) {
	var a Address
	if typ, rest, ok := strings.Cut(s, "/"); ok {
		switch typ {
		case "public":
			a.Type = AddressPublic
		case "random":
			a.Type = AddressRandom
		default:
			return Address{}, fmt.Errorf("smp: invalid address type %q", typ)
		}
		s = rest
	}
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return Address{}, fmt.Errorf("smp: invalid address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return Address{}, fmt.Errorf("smp: invalid address %q", s)
		}
		var b byte
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil {
			return Address{}, fmt.Errorf("smp: invalid address %q: %w", s, err)
		}
		a.Addr[i] = b
	}
	return a, nil
}

// IsResolvable reports whether a is a resolvable private address.
func (a Address) IsResolvable() bool {
	return a.Type == AddressRandom && a.Addr[0]&0xc0 == 0x40
}

// toolbox returns the address as f5/f6 expect it: type octet followed by
// the address.
func (a Address) toolbox() [7]byte {
	var out [7]byte
	out[0] = byte(a.Type) & 0x01
	copy(out[1:], a.Addr[:])
	return out
}

// Role is the local role in a pairing attempt.
type Role uint8

const (
	// RoleInitiator sends the Pairing Request (the central).
	RoleInitiator Role = iota
	// RoleResponder answers it (the peripheral).
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Link is the transport a pairing attempt runs on.
type Link uint8

const (
	LinkLE Link = iota
	LinkBREDR
)

// String returns the transport name.
func (l Link) String() string {
	if l == LinkBREDR {
		return "br/edr"
	}
	return "le"
}

// IOCapability is the input/output capability octet.
type IOCapability uint8

const (
	DisplayOnly IOCapability = iota
	DisplayYesNo
	KeyboardOnly
	NoInputNoOutput
	KeyboardDisplay

	numIOCapabilities
)

var ioCapNames = [...]string{
	"display-only", "display-yes-no", "keyboard-only", "no-input-no-output", "keyboard-display",
}

// String returns the capability name.
func (c IOCapability) String() string {
	if c < numIOCapabilities {
		return ioCapNames[c]
	}
	return fmt.Sprintf("iocap(%d)", uint8(c))
}

// ParseIOCapability parses a String form.
func ParseIOCapability(s string) (IOCapability, error) {
	for i, n := range ioCapNames {
		if n == s {
			return IOCapability(i), nil
		}
	}
	return 0, fmt.Errorf("smp: unknown io capability %q", s)
}

// AuthReq is the authentication requirements octet.
type AuthReq uint8

const (
	AuthBond      AuthReq = 0x01
	AuthMITM      AuthReq = 0x04
	AuthSC        AuthReq = 0x08
	AuthKeypress  AuthReq = 0x10
	AuthCT2       AuthReq = 0x20
	authBondMask  AuthReq = 0x03
	authValidMask AuthReq = AuthBond | AuthMITM | AuthSC | AuthKeypress | AuthCT2
)

// Has reports whether all bits of f are set.
func (a AuthReq) Has(f AuthReq) bool { return a&f == f }

// String lists the set flags.
func (a AuthReq) String() string {
	var parts []string
	for _, f := range []struct {
		bit  AuthReq
		name string
	}{{AuthBond, "bond"}, {AuthMITM, "mitm"}, {AuthSC, "sc"}, {AuthKeypress, "keypress"}, {AuthCT2, "ct2"}} {
		if a.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// KeyDist is a key distribution bitmask.
type KeyDist uint8

const (
	// KeyEnc is the LTK with EDIV and Rand.
	KeyEnc KeyDist = 0x01
	// KeyID is the IRK with the identity address.
	KeyID KeyDist = 0x02
	// KeySign is the CSRK.
	KeySign KeyDist = 0x04
	// KeyLink requests derivation of the cross-transport key.
	KeyLink KeyDist = 0x08

	keyDistMask = KeyEnc | KeyID | KeySign | KeyLink
)

// keyOrder is the order in which key types are distributed.
var keyOrder = [...]KeyDist{KeyEnc, KeyID, KeySign, KeyLink}

// String lists the set key types.
func (k KeyDist) String() string {
	var parts []string
	for _, f := range keyOrder {
		if k&f != 0 {
			parts = append(parts, keyDistName(f))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

func keyDistName(k KeyDist) string {
	switch k {
	case KeyEnc:
		return "enc"
	case KeyID:
		return "id"
	case KeySign:
		return "sign"
	case KeyLink:
		return "link"
	}
	return "?"
}

// Model is the association model of a pairing attempt.
type Model uint8

const (
	ModelNone Model = iota

	// Legacy models.
	ModelEncryptionOnly
	ModelPasskeyInput
	ModelKeyNotification
	ModelLegacyOOB

	// Secure connections models.
	ModelJustWorks
	ModelNumericComparison
	ModelPasskeyEntry
	ModelPasskeyDisplay
	ModelSecureOOB
)

var modelNames = [...]string{
	"None", "EncryptionOnly", "PasskeyInput", "KeyNotification", "LegacyOOB",
	"JustWorks", "NumericComparison", "PasskeyEntry", "PasskeyDisplay", "SecureOOB",
}

// String returns the model name.
func (m Model) String() string {
	if int(m) < len(modelNames) {
		return modelNames[m]
	}
	return fmt.Sprintf("Model(%d)", uint8(m))
}

// SecureConnections reports whether m is a secure connections model.
func (m Model) SecureConnections() bool { return m >= ModelJustWorks }

// Authenticated reports whether m protects against MITM.
func (m Model) Authenticated() bool {
	switch m {
	case ModelPasskeyInput, ModelKeyNotification, ModelLegacyOOB,
		ModelNumericComparison, ModelPasskeyEntry, ModelPasskeyDisplay, ModelSecureOOB:
		return true
	}
	return false
}

// State is the pairing state of a session.
type State uint8

const (
	StateIdle State = iota
	StateSecurityRequestPending
	StatePairingRequested
	StateWaitingConfirm
	StateWaitingRandom
	StatePublicKeyExchange
	StateWaitingBothPublicKeys
	StateSecureConnPhase1
	StateSecureConnPhase2Start
	StateWaitingDHKeyCheck
	StateEncryptionPending
	StateBondPending
	StateComplete
	StateTerminated
)

var stateNames = [...]string{
	"Idle", "SecurityRequestPending", "PairingRequested", "WaitingConfirm", "WaitingRandom",
	"PublicKeyExchange", "WaitingBothPublicKeys", "SecureConnPhase1", "SecureConnPhase2Start",
	"WaitingDHKeyCheck", "EncryptionPending", "BondPending", "Complete", "Terminated",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// SecurityLevel is the level a completed pairing achieved.
type SecurityLevel uint8

const (
	SecurityNone SecurityLevel = iota
	SecurityUnauthenticated
	SecurityAuthenticated
	// SecurityAuthenticatedSC is an authenticated secure connections pairing
	// with a 16-octet key.
	SecurityAuthenticatedSC
)

// String returns the level name.
func (l SecurityLevel) String() string {
	switch l {
	case SecurityUnauthenticated:
		return "unauthenticated"
	case SecurityAuthenticated:
		return "authenticated"
	case SecurityAuthenticatedSC:
		return "authenticated-sc"
	default:
		return "none"
	}
}

// KeypressType is the Keypress Notification type.
type KeypressType uint8

const (
	KeypressEntryStarted KeypressType = iota
	KeypressDigitEntered
	KeypressDigitErased
	KeypressCleared
	KeypressEntryCompleted

	numKeypressTypes
)

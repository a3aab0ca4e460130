package smp

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Opcode is the first octet of a Security Manager PDU.
type Opcode uint8

const (
	OpPairingRequest             Opcode = 0x01
	OpPairingResponse            Opcode = 0x02
	OpPairingConfirm             Opcode = 0x03
	OpPairingRandom              Opcode = 0x04
	OpPairingFailed              Opcode = 0x05
	OpEncryptionInformation      Opcode = 0x06
	OpCentralIdentification      Opcode = 0x07
	OpIdentityInformation        Opcode = 0x08
	OpIdentityAddressInformation Opcode = 0x09
	OpSigningInformation         Opcode = 0x0A
	OpSecurityRequest            Opcode = 0x0B
	OpPairingPublicKey           Opcode = 0x0C
	OpPairingDHKeyCheck          Opcode = 0x0D
	OpKeypressNotification       Opcode = 0x0E

	// OpPairingCommitment is accepted on receive as an alias of
	// OpPairingConfirm. Commitments are always sent as OpPairingConfirm.
	OpPairingCommitment Opcode = 0x0F
)

var opcodeNames = [...]string{
	OpPairingRequest:             "PairingRequest",
	OpPairingResponse:            "PairingResponse",
	OpPairingConfirm:             "PairingConfirm",
	OpPairingRandom:              "PairingRandom",
	OpPairingFailed:              "PairingFailed",
	OpEncryptionInformation:      "EncryptionInformation",
	OpCentralIdentification:      "CentralIdentification",
	OpIdentityInformation:        "IdentityInformation",
	OpIdentityAddressInformation: "IdentityAddressInformation",
	OpSigningInformation:         "SigningInformation",
	OpSecurityRequest:            "SecurityRequest",
	OpPairingPublicKey:           "PairingPublicKey",
	OpPairingDHKeyCheck:          "PairingDHKeyCheck",
	OpKeypressNotification:       "KeypressNotification",
	OpPairingCommitment:          "PairingCommitment",
}

// String returns the opcode name.
func (o Opcode) String() string {
	if int(o) < len(opcodeNames) && opcodeNames[o] != "" {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
}

// pduSizes holds the fixed PDU length per opcode, opcode included.
var pduSizes = [...]int{
	OpPairingRequest:             7,
	OpPairingResponse:            7,
	OpPairingConfirm:             17,
	OpPairingRandom:              17,
	OpPairingFailed:              2,
	OpEncryptionInformation:      17,
	OpCentralIdentification:      11,
	OpIdentityInformation:        17,
	OpIdentityAddressInformation: 8,
	OpSigningInformation:         17,
	OpSecurityRequest:            2,
	OpPairingPublicKey:           65,
	OpPairingDHKeyCheck:          17,
	OpKeypressNotification:       2,
	OpPairingCommitment:          17,
}

// carriesKey reports whether PDUs with opcode o hold key material and must
// not be captured verbatim.
func (o Opcode) carriesKey() bool {
	switch o {
	case OpEncryptionInformation, OpCentralIdentification, OpIdentityInformation, OpSigningInformation:
		return true
	}
	return false
}

// Key size limits of the Maximum Encryption Key Size field.
const (
	MinEncryptionKeySize = 7
	MaxEncryptionKeySize = 16
)

// PDU is a decoded Security Manager PDU. Multi-octet values are held most
// significant octet first; the codec reverses the little-endian air format.
type PDU interface {
	Opcode() Opcode
	marshal(b *cryptobyte.Builder)
}

// PairingParams are the fields shared by Pairing Request and Response.
type PairingParams struct {
	IOCapability  IOCapability
	OOBDataFlag   bool
	AuthReq       AuthReq
	MaxKeySize    uint8
	InitiatorKeys KeyDist
	ResponderKeys KeyDist
}

// ioCapField returns the f6 IOcap value: AuthReq, OOB flag, IO capability.
func (p PairingParams) ioCapField() [3]byte {
	var oob byte
	if p.OOBDataFlag {
		oob = 1
	}
	return [3]byte{byte(p.AuthReq), oob, byte(p.IOCapability)}
}

func (p PairingParams) marshalParams(b *cryptobyte.Builder) {
	var oob uint8
	if p.OOBDataFlag {
		oob = 1
	}
	b.AddUint8(uint8(p.IOCapability))
	b.AddUint8(oob)
	b.AddUint8(uint8(p.AuthReq))
	b.AddUint8(p.MaxKeySize)
	b.AddUint8(uint8(p.InitiatorKeys))
	b.AddUint8(uint8(p.ResponderKeys))
}

// PairingRequest starts pairing.
type PairingRequest struct{ PairingParams }

// PairingResponse answers a PairingRequest.
type PairingResponse struct{ PairingParams }

// PairingConfirm carries a legacy confirm value or a secure connections
// commitment.
type PairingConfirm struct{ Value [16]byte }

// PairingRandom carries a nonce.
type PairingRandom struct{ Value [16]byte }

// PairingFailed aborts pairing.
type PairingFailed struct{ Reason Reason }

// EncryptionInformation distributes an LTK.
type EncryptionInformation struct{ LTK [16]byte }

// CentralIdentification distributes the EDIV and Rand of an LTK.
type CentralIdentification struct {
	EDIV uint16
	Rand [8]byte
}

// IdentityInformation distributes an IRK.
type IdentityInformation struct{ IRK [16]byte }

// IdentityAddressInformation distributes the identity address.
type IdentityAddressInformation struct{ Address Address }

// SigningInformation distributes a CSRK.
type SigningInformation struct{ CSRK [16]byte }

// SecurityRequest asks the central to start pairing.
type SecurityRequest struct{ AuthReq AuthReq }

// PairingPublicKey carries an uncompressed P-256 public key.
type PairingPublicKey struct{ X, Y [32]byte }

// PairingDHKeyCheck carries Ea or Eb.
type PairingDHKeyCheck struct{ Value [16]byte }

// KeypressNotification reports passkey entry progress.
type KeypressNotification struct{ Type KeypressType }

func (*PairingRequest) Opcode() Opcode             { return OpPairingRequest }
func (*PairingResponse) Opcode() Opcode            { return OpPairingResponse }
func (*PairingConfirm) Opcode() Opcode             { return OpPairingConfirm }
func (*PairingRandom) Opcode() Opcode              { return OpPairingRandom }
func (*PairingFailed) Opcode() Opcode              { return OpPairingFailed }
func (*EncryptionInformation) Opcode() Opcode      { return OpEncryptionInformation }
func (*CentralIdentification) Opcode() Opcode      { return OpCentralIdentification }
func (*IdentityInformation) Opcode() Opcode        { return OpIdentityInformation }
func (*IdentityAddressInformation) Opcode() Opcode { return OpIdentityAddressInformation }
func (*SigningInformation) Opcode() Opcode         { return OpSigningInformation }
func (*SecurityRequest) Opcode() Opcode            { return OpSecurityRequest }
func (*PairingPublicKey) Opcode() Opcode           { return OpPairingPublicKey }
func (*PairingDHKeyCheck) Opcode() Opcode          { return OpPairingDHKeyCheck }
func (*KeypressNotification) Opcode() Opcode       { return OpKeypressNotification }

func (p *PairingRequest) marshal(b *cryptobyte.Builder)        { p.marshalParams(b) }
func (p *PairingResponse) marshal(b *cryptobyte.Builder)       { p.marshalParams(b) }
func (p *PairingConfirm) marshal(b *cryptobyte.Builder)        { addReversed(b, p.Value[:]) }
func (p *PairingRandom) marshal(b *cryptobyte.Builder)         { addReversed(b, p.Value[:]) }
func (p *PairingFailed) marshal(b *cryptobyte.Builder)         { b.AddUint8(uint8(p.Reason)) }
func (p *EncryptionInformation) marshal(b *cryptobyte.Builder) { addReversed(b, p.LTK[:]) }
func (p *IdentityInformation) marshal(b *cryptobyte.Builder)   { addReversed(b, p.IRK[:]) }
func (p *SigningInformation) marshal(b *cryptobyte.Builder)    { addReversed(b, p.CSRK[:]) }
func (p *SecurityRequest) marshal(b *cryptobyte.Builder)       { b.AddUint8(uint8(p.AuthReq)) }
func (p *PairingDHKeyCheck) marshal(b *cryptobyte.Builder)     { addReversed(b, p.Value[:]) }
func (p *KeypressNotification) marshal(b *cryptobyte.Builder)  { b.AddUint8(uint8(p.Type)) }

func (p *CentralIdentification) marshal(b *cryptobyte.Builder) {
	b.AddUint8(uint8(p.EDIV))
	b.AddUint8(uint8(p.EDIV >> 8))
	addReversed(b, p.Rand[:])
}

func (p *IdentityAddressInformation) marshal(b *cryptobyte.Builder) {
	b.AddUint8(uint8(p.Address.Type))
	addReversed(b, p.Address.Addr[:])
}

func (p *PairingPublicKey) marshal(b *cryptobyte.Builder) {
	addReversed(b, p.X[:])
	addReversed(b, p.Y[:])
}

func addReversed(b *cryptobyte.Builder, v []byte) {
	for i := len(v) - 1; i >= 0; i-- {
		b.AddUint8(v[i])
	}
}

func readReversed(s *cryptobyte.String, out []byte) bool {
	if !s.CopyBytes(out) {
		return false
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return true
}

// MarshalPDU encodes p in the air format, opcode first.
func MarshalPDU(p PDU) []byte {
	var b cryptobyte.Builder
	b.AddUint8(uint8(p.Opcode()))
	p.marshal(&b)
	return b.BytesOrPanic()
}

// ParsePDU decodes a PDU in the air format. Unknown opcodes fail with
// ErrCommandNotSupported, malformed PDUs with ErrInvalidParameters; both
// errors also match ErrInvalidPDU.
func ParsePDU(data []byte) (PDU, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w: empty", ErrInvalidPDU, ErrInvalidParameters)
	}
	op := Opcode(data[0])
	if op < OpPairingRequest || op > OpPairingCommitment {
		return nil, fmt.Errorf("%w: %w: opcode 0x%02x", ErrInvalidPDU, ErrCommandNotSupported, data[0])
	}
	if len(data) != pduSizes[op] {
		return nil, fmt.Errorf("%w: %w: %s length %d, want %d",
			ErrInvalidPDU, ErrInvalidParameters, op, len(data), pduSizes[op])
	}

	s := cryptobyte.String(data[1:])
	var p PDU
	var ok bool
	switch op {
	case OpPairingRequest, OpPairingResponse:
		var params PairingParams
		var oob uint8
		params, oob, ok = parseParams(&s)
		if ok {
			if oob > 1 {
				return nil, fmt.Errorf("%w: %w: %s: oob flag %d", ErrInvalidPDU, ErrInvalidParameters, op, oob)
			}
			if err := params.validate(); err != nil {
				return nil, fmt.Errorf("%w: %w: %s: %v", ErrInvalidPDU, ErrInvalidParameters, op, err)
			}
			if op == OpPairingRequest {
				p = &PairingRequest{params}
			} else {
				p = &PairingResponse{params}
			}
		}
	case OpPairingConfirm, OpPairingCommitment:
		v := &PairingConfirm{}
		ok, p = readReversed(&s, v.Value[:]), v
	case OpPairingRandom:
		v := &PairingRandom{}
		ok, p = readReversed(&s, v.Value[:]), v
	case OpPairingFailed:
		var r uint8
		ok, p = s.ReadUint8(&r), &PairingFailed{Reason: Reason(r)}
	case OpEncryptionInformation:
		v := &EncryptionInformation{}
		ok, p = readReversed(&s, v.LTK[:]), v
	case OpCentralIdentification:
		var lo, hi uint8
		v := &CentralIdentification{}
		ok = s.ReadUint8(&lo) && s.ReadUint8(&hi) && readReversed(&s, v.Rand[:])
		v.EDIV = uint16(hi)<<8 | uint16(lo)
		p = v
	case OpIdentityInformation:
		v := &IdentityInformation{}
		ok, p = readReversed(&s, v.IRK[:]), v
	case OpIdentityAddressInformation:
		var t uint8
		v := &IdentityAddressInformation{}
		ok = s.ReadUint8(&t) && readReversed(&s, v.Address.Addr[:])
		v.Address.Type = AddressType(t)
		if ok && v.Address.Type > AddressRandom {
			return nil, fmt.Errorf("%w: %w: address type %d", ErrInvalidPDU, ErrInvalidParameters, t)
		}
		p = v
	case OpSigningInformation:
		v := &SigningInformation{}
		ok, p = readReversed(&s, v.CSRK[:]), v
	case OpSecurityRequest:
		var a uint8
		ok, p = s.ReadUint8(&a), &SecurityRequest{AuthReq: AuthReq(a) & authValidMask}
	case OpPairingPublicKey:
		v := &PairingPublicKey{}
		ok, p = readReversed(&s, v.X[:]) && readReversed(&s, v.Y[:]), v
	case OpPairingDHKeyCheck:
		v := &PairingDHKeyCheck{}
		ok, p = readReversed(&s, v.Value[:]), v
	case OpKeypressNotification:
		var t uint8
		ok = s.ReadUint8(&t)
		if ok && KeypressType(t) >= numKeypressTypes {
			return nil, fmt.Errorf("%w: %w: keypress type %d", ErrInvalidPDU, ErrInvalidParameters, t)
		}
		p = &KeypressNotification{Type: KeypressType(t)}
	}
	if !ok || !s.Empty() {
		return nil, fmt.Errorf("%w: %w: %s truncated", ErrInvalidPDU, ErrInvalidParameters, op)
	}
	return p, nil
}

func parseParams(s *cryptobyte.String) (PairingParams, uint8, bool) {
	var io, oob, auth, size, ik, rk uint8
	if !s.ReadUint8(&io) || !s.ReadUint8(&oob) || !s.ReadUint8(&auth) ||
		!s.ReadUint8(&size) || !s.ReadUint8(&ik) || !s.ReadUint8(&rk) {
		return PairingParams{}, 0, false
	}
	return PairingParams{
		IOCapability:  IOCapability(io),
		OOBDataFlag:   oob == 1,
		AuthReq:       AuthReq(auth),
		MaxKeySize:    size,
		InitiatorKeys: KeyDist(ik) & keyDistMask,
		ResponderKeys: KeyDist(rk) & keyDistMask,
	}, oob, true
}

func (p PairingParams) validate() error {
	if p.IOCapability >= numIOCapabilities {
		return fmt.Errorf("io capability %d", p.IOCapability)
	}
	if b := p.AuthReq & authBondMask; b > AuthBond {
		return fmt.Errorf("bonding flags 0x%02x", uint8(b))
	}
	if p.MaxKeySize < MinEncryptionKeySize || p.MaxKeySize > MaxEncryptionKeySize {
		return fmt.Errorf("max key size %d", p.MaxKeySize)
	}
	return nil
}

// rawParams returns the air encoding of a Pairing Request or Response, as c1
// consumes it.
func rawParams(p PDU) [7]byte {
	var out [7]byte
	copy(out[:], MarshalPDU(p))
	return out
}

package smp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mash-protocol/blesmp/pkg/smpcrypto"
)

// startDistribution runs once the link is encrypted. The responder sends
// its keys first; the initiator sends after it received all of its keys.
func (s *session) startDistribution() {
	s.setState(StateBondPending)
	s.bonded = s.local.AuthReq.Has(AuthBond) && s.peer.AuthReq.Has(AuthBond)

	initKeys, respKeys := s.distInit, s.distResp
	switch {
	case s.link == LinkBREDR:
		s.deriveLTK = initKeys&KeyEnc != 0 && respKeys&KeyEnc != 0
		initKeys &^= KeyEnc | KeyLink
		respKeys &^= KeyEnc | KeyLink
	case s.sc:
		s.deriveLink = initKeys&KeyLink != 0 && respKeys&KeyLink != 0
		initKeys &^= KeyEnc | KeyLink
		respKeys &^= KeyEnc | KeyLink
		if !s.recordKey(Key{
			Type:              KeyTypeLTK,
			Value:             s.encKey,
			Size:              s.keySize,
			Authenticated:     s.model.Authenticated(),
			SecureConnections: true,
		}) {
			return
		}
	default:
		initKeys &^= KeyLink
		respKeys &^= KeyLink
	}

	if s.role == RoleInitiator {
		s.sendKeys, s.recvKeys = initKeys, respKeys
	} else {
		s.sendKeys, s.recvKeys = respKeys, initKeys
	}
	s.expect = s.nextExpected()

	if s.role == RoleResponder || s.recvKeys == 0 {
		s.distributeKeys()
	}
	s.maybeFinish()
}

// nextExpected returns the opcode that opens the next key the peer owes.
func (s *session) nextExpected() Opcode {
	switch {
	case s.recvKeys&KeyEnc != 0:
		return OpEncryptionInformation
	case s.recvKeys&KeyID != 0:
		return OpIdentityInformation
	case s.recvKeys&KeySign != 0:
		return OpSigningInformation
	}
	return 0
}

// distributeKeys sends the local keys in the fixed order ENC, ID, SIGN.
func (s *session) distributeKeys() {
	if s.finished || s.sendKeys == 0 {
		s.sendKeys = 0
		return
	}
	keys := s.sendKeys
	s.sendKeys = 0

	var divBuf [2]byte
	if !s.random(divBuf[:]) {
		return
	}
	div := binary.BigEndian.Uint16(divBuf[:])
	cfg := &s.m.cfg

	if keys&KeyEnc != 0 {
		var rand [8]byte
		if !s.random(rand[:]) {
			return
		}
		ltk := smpcrypto.MaskKey(smpcrypto.D1(cfg.ER, div, 0), int(s.keySize))
		ediv := smpcrypto.DM(smpcrypto.D1(cfg.IR, 3, 0), rand) ^ div
		s.send(&EncryptionInformation{LTK: ltk})
		s.send(&CentralIdentification{EDIV: ediv, Rand: rand})
		if !s.recordKey(Key{
			Type:          KeyTypeLTK,
			Local:         true,
			Value:         ltk,
			EDIV:          ediv,
			Rand:          rand,
			Size:          s.keySize,
			Authenticated: s.model.Authenticated(),
		}) {
			return
		}
	}
	if keys&KeyID != 0 {
		irk := smpcrypto.D1(cfg.IR, 1, 0)
		s.send(&IdentityInformation{IRK: irk})
		s.send(&IdentityAddressInformation{Address: cfg.IdentityAddress})
		if !s.recordKey(Key{Type: KeyTypeIRK, Local: true, Value: irk, Address: cfg.IdentityAddress}) {
			return
		}
	}
	if keys&KeySign != 0 {
		csrk := smpcrypto.D1(cfg.ER, div, 1)
		s.send(&SigningInformation{CSRK: csrk})
		s.recordKey(Key{Type: KeyTypeCSRK, Local: true, Value: csrk, Authenticated: s.model.Authenticated()})
	}
}

func (s *session) onKeyPDU(p PDU) {
	if s.loadState() != StateBondPending {
		s.unexpected(p)
		return
	}
	op := p.Opcode()
	if op != s.expect {
		s.fail(ReasonInvalidParameters, false, fmt.Errorf("%w: got %s, expected %s", ErrInvalidPDU, op, s.expect))
		return
	}

	switch p := p.(type) {
	case *EncryptionInformation:
		s.pendingKey = p.LTK
		s.expect = OpCentralIdentification
		return
	case *CentralIdentification:
		s.recvKeys &^= KeyEnc
		if !s.recordKey(Key{
			Type:          KeyTypeLTK,
			Value:         s.pendingKey,
			EDIV:          p.EDIV,
			Rand:          p.Rand,
			Size:          s.keySize,
			Authenticated: s.model.Authenticated(),
		}) {
			return
		}
	case *IdentityInformation:
		s.pendingKey = p.IRK
		s.expect = OpIdentityAddressInformation
		return
	case *IdentityAddressInformation:
		s.recvKeys &^= KeyID
		id := p.Address
		s.peerIdentity = &id
		if !s.recordKey(Key{Type: KeyTypeIRK, Value: s.pendingKey, Address: id}) {
			return
		}
	case *SigningInformation:
		s.recvKeys &^= KeySign
		if !s.recordKey(Key{Type: KeyTypeCSRK, Value: p.CSRK, Authenticated: s.model.Authenticated()}) {
			return
		}
	default:
		s.unexpected(p)
		return
	}

	s.pendingKey = [16]byte{}
	s.expect = s.nextExpected()
	if s.role == RoleInitiator && s.recvKeys == 0 {
		s.distributeKeys()
	}
	s.maybeFinish()
}

// recordKey adds k to the result and stores it when bonding. A store
// failure fails the attempt.
func (s *session) recordKey(k Key) bool {
	if s.finished {
		return false
	}
	s.keys = append(s.keys, k)
	s.logKey(k)
	if !s.bonded {
		return true
	}
	if err := s.m.keys.SaveKey(s.addr, k); err != nil {
		s.fail(ReasonResourceFailure, false, fmt.Errorf("save %s: %w", k.Type, err))
		return false
	}
	return true
}

func (s *session) maybeFinish() {
	if s.finished || s.sendKeys != 0 || s.recvKeys != 0 {
		return
	}
	s.finishDistribution()
}

// finishDistribution derives the cross-transport key, at most once, and
// completes the attempt when every sent PDU has been acknowledged.
func (s *session) finishDistribution() {
	if !s.derived {
		s.derived = true
		switch {
		case s.deriveLink:
			if !s.deriveLinkKey() {
				return
			}
		case s.deriveLTK:
			if !s.deriveLongTermKey() {
				return
			}
		}
	}
	if s.m.cfg.AwaitTxComplete && s.unacked > 0 {
		s.completePending = true
		return
	}
	s.complete()
}

func (s *session) ct2() bool {
	return s.local.AuthReq.Has(AuthCT2) && s.peer.AuthReq.Has(AuthCT2)
}

// crossTransport converts a key of one transport into the other: an
// intermediate key from tmp, then h6 with the target identifier.
func (s *session) crossTransport(w [16]byte, tmp, target [4]byte) [16]byte {
	var ik [16]byte
	if s.ct2() {
		ik = smpcrypto.H7(smpcrypto.Salt(tmp), w)
	} else {
		ik = smpcrypto.H6(w, tmp)
	}
	return smpcrypto.H6(ik, target)
}

// deriveLinkKey derives the BR/EDR link key from the LE LTK. The BR/EDR
// address is the peer's public identity address.
func (s *session) deriveLinkKey() bool {
	var bredr Address
	switch {
	case s.peerIdentity != nil && s.peerIdentity.Type == AddressPublic:
		bredr = *s.peerIdentity
	case s.addr.Type == AddressPublic:
		bredr = s.addr
	default:
		s.fail(ReasonDerivationFailed, false, errors.New("peer has no public identity address"))
		return false
	}

	keyType := LinkKeyUnauthenticatedP256
	if s.model.Authenticated() {
		keyType = LinkKeyAuthenticatedP256
	}
	return s.recordKey(Key{
		Type:              KeyTypeLinkKey,
		Value:             s.crossTransport(s.ltk, smpcrypto.KeyIDTmp1, smpcrypto.KeyIDLEBR),
		Authenticated:     s.model.Authenticated(),
		SecureConnections: true,
		Address:           bredr,
		LinkKeyType:       keyType,
	})
}

// deriveLongTermKey derives the LE LTK from the BR/EDR link key.
func (s *session) deriveLongTermKey() bool {
	ltk := smpcrypto.MaskKey(s.crossTransport(s.linkKey, smpcrypto.KeyIDTmp2, smpcrypto.KeyIDBRLE), int(s.keySize))
	s.encKey = ltk
	return s.recordKey(Key{
		Type:              KeyTypeLTK,
		Value:             ltk,
		Size:              s.keySize,
		Authenticated:     s.linkKeyType == LinkKeyAuthenticatedP256,
		SecureConnections: true,
	})
}

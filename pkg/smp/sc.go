package smp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mash-protocol/blesmp/pkg/ecc"
	"github.com/mash-protocol/blesmp/pkg/smpcrypto"
)

// passkeyRounds is the number of commitment rounds of passkey entry, one
// per passkey bit.
const passkeyRounds = 20

// scStart begins the public key exchange. An OOB attempt whose peer holds
// the local OOB data reuses the key pair behind that data.
func (s *session) scStart() {
	s.setState(StatePublicKeyExchange)

	var lo *localOOB
	if s.model == ModelSecureOOB {
		if s.peer.OOBDataFlag {
			lo = s.m.localOOB()
			if lo == nil {
				s.fail(ReasonOOBNotAvailable, false, errors.New("no local oob data generated"))
				return
			}
			s.localR = lo.r
		}
		if s.local.OOBDataFlag {
			s.awaiting = inputOOB
			s.m.handler.OOBRequest(s.addr, true)
		}
	}

	if lo != nil {
		s.priv, s.localX, s.localY = lo.priv, lo.x, lo.y
		s.haveLocalKey = true
		s.keyReady()
		return
	}
	s.compute(computeKeyPair)
}

// keyReady runs once the local key pair exists. The initiator opens the
// exchange; the responder answers the initiator's key.
func (s *session) keyReady() {
	if s.role == RoleInitiator {
		s.send(&PairingPublicKey{X: s.localX, Y: s.localY})
	}
}

func (s *session) onPublicKey(p *PairingPublicKey) {
	if s.loadState() != StatePublicKeyExchange || !s.haveLocalKey {
		s.unexpected(p)
		return
	}
	if p.X == s.localX {
		s.fail(ReasonAuthenticationFailure, false, errors.New("peer public key equals local public key"))
		return
	}
	pt, err := ecc.Curve256.PointFromBytes(p.X[:], p.Y[:])
	if err != nil {
		s.fail(ReasonAuthenticationFailure, false, fmt.Errorf("peer public key: %w", err))
		return
	}
	s.peerX, s.peerPoint = p.X, pt

	if s.model == ModelSecureOOB && s.local.OOBDataFlag {
		if !checkOOB(s.oobPeer, p.X) {
			s.fail(ReasonConfirmValueFailed, false, errors.New("peer public key does not match oob confirm"))
			return
		}
		s.peerR = s.oobPeer.Random
	}

	if s.role == RoleResponder {
		s.send(&PairingPublicKey{X: s.localX, Y: s.localY})
	}
	s.setState(StateWaitingBothPublicKeys)
	s.compute(computeDHKey)
}

// phase1Start begins authentication stage 1 once the DHKey is known.
func (s *session) phase1Start() {
	switch s.model {
	case ModelJustWorks, ModelNumericComparison:
		if !s.random(s.localN[:]) {
			return
		}
		if s.role == RoleResponder {
			s.localConfirm = smpcrypto.F4(s.localX, s.peerX, s.localN, 0)
			s.send(&PairingConfirm{Value: s.localConfirm})
		}
	case ModelPasskeyEntry:
		s.awaiting = inputPasskey
		s.m.handler.PasskeyRequest(s.addr)
	case ModelPasskeyDisplay:
		pk, ok := s.randomPasskey()
		if !ok {
			return
		}
		s.setPasskey(pk)
		s.m.handler.PasskeyDisplay(s.addr, pk)
		s.passkeyRound()
	case ModelSecureOOB:
		if !s.random(s.localN[:]) {
			return
		}
		if s.role == RoleInitiator {
			s.send(&PairingRandom{Value: s.localN})
		}
	}
}

func (s *session) setPasskey(pk uint32) {
	s.passkey = pk
	var r [16]byte
	binary.BigEndian.PutUint32(r[12:], pk)
	s.localR, s.peerR = r, r
}

func (s *session) passkeyBit() byte {
	return 0x80 | byte(s.passkey>>s.round&1)
}

// passkeyRound prepares the commitment of the current round. The
// initiator sends it right away; the responder sends it in reply.
func (s *session) passkeyRound() {
	if !s.random(s.localN[:]) {
		return
	}
	s.havePeerConfirm = false
	s.localConfirm = smpcrypto.F4(s.localX, s.peerX, s.localN, s.passkeyBit())
	if s.role == RoleInitiator {
		s.send(&PairingConfirm{Value: s.localConfirm})
	}
}

func (s *session) scOnConfirm(v [16]byte) {
	if s.loadState() != StateSecureConnPhase1 || s.havePeerConfirm {
		s.unexpected(&PairingConfirm{Value: v})
		return
	}
	switch s.model {
	case ModelJustWorks, ModelNumericComparison:
		if s.role != RoleInitiator {
			s.unexpected(&PairingConfirm{Value: v})
			return
		}
		s.peerConfirm, s.havePeerConfirm = v, true
		s.send(&PairingRandom{Value: s.localN})
	case ModelPasskeyEntry, ModelPasskeyDisplay:
		s.peerConfirm, s.havePeerConfirm = v, true
		if s.role == RoleInitiator {
			s.send(&PairingRandom{Value: s.localN})
		} else {
			s.send(&PairingConfirm{Value: s.localConfirm})
		}
	default:
		s.unexpected(&PairingConfirm{Value: v})
	}
}

func (s *session) scOnRandom(v [16]byte) {
	if s.loadState() != StateSecureConnPhase1 {
		s.unexpected(&PairingRandom{Value: v})
		return
	}
	switch s.model {
	case ModelJustWorks, ModelNumericComparison:
		if s.role == RoleInitiator {
			if !s.havePeerConfirm {
				s.unexpected(&PairingRandom{Value: v})
				return
			}
			if smpcrypto.F4(s.peerX, s.localX, v, 0) != s.peerConfirm {
				s.fail(ReasonConfirmValueFailed, false, errors.New("peer commitment does not match its nonce"))
				return
			}
			s.peerN = v
		} else {
			s.peerN = v
			s.send(&PairingRandom{Value: s.localN})
		}
		s.phase1Done()

	case ModelPasskeyEntry, ModelPasskeyDisplay:
		if !s.havePeerConfirm {
			s.unexpected(&PairingRandom{Value: v})
			return
		}
		if smpcrypto.F4(s.peerX, s.localX, v, s.passkeyBit()) != s.peerConfirm {
			s.fail(ReasonConfirmValueFailed, false, fmt.Errorf("passkey round %d commitment mismatch", s.round))
			return
		}
		s.peerN = v
		if s.role == RoleResponder {
			s.send(&PairingRandom{Value: s.localN})
		}
		s.round++
		if s.round < passkeyRounds {
			s.passkeyRound()
			return
		}
		s.phase1Done()

	case ModelSecureOOB:
		s.peerN = v
		if s.role == RoleResponder {
			s.send(&PairingRandom{Value: s.localN})
		}
		s.phase1Done()
	}
}

// nonces returns Na and Nb.
func (s *session) nonces() (na, nb [16]byte) {
	if s.role == RoleInitiator {
		return s.localN, s.peerN
	}
	return s.peerN, s.localN
}

func (s *session) phase1Done() {
	if s.finished {
		return
	}
	s.setState(StateSecureConnPhase2Start)

	na, nb := s.nonces()
	s.macKey, s.ltk = smpcrypto.F5(s.dhkey, na, nb,
		s.initiatorAddr().toolbox(), s.responderAddr().toolbox())

	if s.model == ModelNumericComparison {
		pkax, pkbx := s.localX, s.peerX
		if s.role == RoleResponder {
			pkax, pkbx = pkbx, pkax
		}
		v := smpcrypto.NumericValue(smpcrypto.G2(pkax, pkbx, na, nb))
		s.awaiting = inputConfirm
		s.m.handler.NumericComparison(s.addr, v)
		return
	}
	s.phase2()
}

// phase2 computes the DHKey checks. The initiator sends Ea first.
func (s *session) phase2() {
	la, pa := s.localAddr().toolbox(), s.addr.toolbox()
	s.localCheck = smpcrypto.F6(s.macKey, s.localN, s.peerN, s.peerR, s.local.ioCapField(), la, pa)
	s.expectCheck = smpcrypto.F6(s.macKey, s.peerN, s.localN, s.localR, s.peer.ioCapField(), pa, la)

	s.setState(StateWaitingDHKeyCheck)
	if s.role == RoleInitiator {
		s.send(&PairingDHKeyCheck{Value: s.localCheck})
	}
}

func (s *session) onDHKeyCheck(v [16]byte) {
	if s.loadState() != StateWaitingDHKeyCheck {
		s.unexpected(&PairingDHKeyCheck{Value: v})
		return
	}
	if v != s.expectCheck {
		s.fail(ReasonDHKeyCheckFailed, false, errors.New("peer dhkey check mismatch"))
		return
	}
	s.encKey = smpcrypto.MaskKey(s.ltk, int(s.keySize))

	if s.role == RoleResponder {
		s.send(&PairingDHKeyCheck{Value: s.localCheck})
		s.setState(StateEncryptionPending)
		return
	}
	s.setState(StateEncryptionPending)
	s.startEncryption()
}

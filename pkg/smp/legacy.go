package smp

import (
	"encoding/binary"
	"errors"

	"github.com/mash-protocol/blesmp/pkg/smpcrypto"
)

// legacyStart sets up the temporary key for the selected legacy model.
func (s *session) legacyStart() {
	s.setState(StateWaitingConfirm)

	switch s.model {
	case ModelEncryptionOnly:
		s.tk = [16]byte{}
		s.legacyTKReady()
	case ModelPasskeyInput:
		s.awaiting = inputPasskey
		s.m.handler.PasskeyRequest(s.addr)
	case ModelKeyNotification:
		pk, ok := s.randomPasskey()
		if !ok {
			return
		}
		s.tk = passkeyTK(pk)
		s.m.handler.PasskeyDisplay(s.addr, pk)
		s.legacyTKReady()
	case ModelLegacyOOB:
		s.awaiting = inputOOB
		s.m.handler.OOBRequest(s.addr, false)
	}
}

// passkeyTK places a passkey in the low octets of a temporary key.
func passkeyTK(passkey uint32) [16]byte {
	var tk [16]byte
	binary.BigEndian.PutUint32(tk[12:], passkey)
	return tk
}

// legacyTKReady draws the local random and, as initiator, sends Mconfirm.
// The responder sends Sconfirm once Mconfirm arrives.
func (s *session) legacyTKReady() {
	if !s.random(s.localN[:]) {
		return
	}
	s.localConfirm = s.c1(s.localN)
	if s.role == RoleInitiator {
		s.send(&PairingConfirm{Value: s.localConfirm})
	}
}

func (s *session) c1(r [16]byte) [16]byte {
	ia, ra := s.initiatorAddr(), s.responderAddr()
	return smpcrypto.C1(s.tk, r, s.preq, s.pres, byte(ia.Type), byte(ra.Type), ia.Addr, ra.Addr)
}

func (s *session) legacyOnConfirm(v [16]byte) {
	if s.loadState() != StateWaitingConfirm {
		s.unexpected(&PairingConfirm{Value: v})
		return
	}
	s.peerConfirm = v
	s.setState(StateWaitingRandom)
	if s.role == RoleInitiator {
		s.send(&PairingRandom{Value: s.localN})
		return
	}
	s.send(&PairingConfirm{Value: s.localConfirm})
}

func (s *session) legacyOnRandom(v [16]byte) {
	if s.loadState() != StateWaitingRandom {
		s.unexpected(&PairingRandom{Value: v})
		return
	}
	if s.c1(v) != s.peerConfirm {
		s.fail(ReasonConfirmValueFailed, false, errors.New("peer confirm does not match its random"))
		return
	}
	s.peerN = v

	mrand, srand := s.localN, s.peerN
	if s.role == RoleResponder {
		mrand, srand = srand, mrand
	}
	s.encKey = smpcrypto.MaskKey(smpcrypto.S1(s.tk, srand, mrand), int(s.keySize))

	if s.role == RoleResponder {
		s.send(&PairingRandom{Value: s.localN})
		s.setState(StateEncryptionPending)
		return
	}
	s.setState(StateEncryptionPending)
	s.startEncryption()
}

// startEncryption hands the negotiated key to the controller.
func (s *session) startEncryption() {
	if s.finished {
		return
	}
	if err := s.m.transport.StartEncryption(s.addr, s.encKey, 0, [8]byte{}); err != nil {
		s.fail(ReasonEncryptionFailed, false, err)
	}
}

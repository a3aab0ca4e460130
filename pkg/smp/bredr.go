package smp

import (
	"errors"
	"fmt"
)

// bredrParams are the pairing parameters sent on the BR/EDR Security
// Manager channel. Only bonding, CT2, the key size and the key
// distribution fields are meaningful there.
func (s *session) bredrParams() PairingParams {
	cfg := &s.m.cfg
	p := PairingParams{
		AuthReq:       cfg.AuthReq & (AuthBond | AuthCT2),
		MaxKeySize:    cfg.MaxKeySize,
		InitiatorKeys: cfg.InitiatorKeys &^ KeyLink,
		ResponderKeys: cfg.ResponderKeys &^ KeyLink,
	}
	if !p.AuthReq.Has(AuthBond) {
		p.InitiatorKeys, p.ResponderKeys = 0, 0
	}
	return p
}

// startBREDR pairs over an encrypted BR/EDR link whose link key was
// generated with P-256. No authentication stage runs; the LE LTK is
// derived from the link key.
func (s *session) startBREDR(linkKey [16]byte, keyType LinkKeyType) {
	s.role = RoleInitiator
	s.link = LinkBREDR
	s.sc = true

	if !keyType.p256() {
		s.fail(ReasonCrossTransportNotAllowed, false,
			fmt.Errorf("%w: link key type 0x%02x", ErrCrossTransport, uint8(keyType)))
		return
	}
	s.linkKey, s.linkKeyType = linkKey, keyType

	s.local = s.bredrParams()
	req := &PairingRequest{s.local}
	s.preq = rawParams(req)
	s.setState(StatePairingRequested)
	s.send(req)
}

func (s *session) bredrOnRequest() {
	s.sc = true
	src, ok := s.m.keys.(LinkKeySource)
	if !ok {
		s.fail(ReasonCrossTransportNotAllowed, false, errors.New("key store cannot supply link keys"))
		return
	}
	lk, keyType, found := src.LinkKey(s.addr)
	if !found || !keyType.p256() {
		s.fail(ReasonCrossTransportNotAllowed, false,
			fmt.Errorf("%w: no P-256 link key for %s", ErrCrossTransport, s.addr))
		return
	}
	s.linkKey, s.linkKeyType = lk, keyType

	local := s.bredrParams()
	local.InitiatorKeys &= s.peer.InitiatorKeys
	local.ResponderKeys &= s.peer.ResponderKeys
	if !s.peer.AuthReq.Has(AuthBond) {
		local.InitiatorKeys, local.ResponderKeys = 0, 0
	}
	s.local = local
	s.distInit, s.distResp = local.InitiatorKeys, local.ResponderKeys

	if reason := s.negotiateKeySize(); reason != 0 {
		s.fail(reason, false, nil)
		return
	}
	resp := &PairingResponse{local}
	s.pres = rawParams(resp)
	s.send(resp)
	s.startDistribution()
}

func (s *session) bredrOnResponse() {
	if reason := s.negotiateKeySize(); reason != 0 {
		s.fail(reason, false, nil)
		return
	}
	s.startDistribution()
}

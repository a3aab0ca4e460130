package smp

import (
	"fmt"

	"github.com/mash-protocol/blesmp/pkg/interop"
)

// localParams asks the handler for the pairing parameters of this attempt
// and applies the local configuration and peer workarounds.
func (s *session) localParams() (PairingParams, Reason) {
	cfg := &s.m.cfg
	defaults := PairingParams{
		IOCapability:  cfg.IOCapability,
		AuthReq:       cfg.AuthReq,
		MaxKeySize:    cfg.MaxKeySize,
		InitiatorKeys: cfg.InitiatorKeys,
		ResponderKeys: cfg.ResponderKeys,
	}
	p := s.m.handler.IOCapabilityRequest(s.addr, defaults)
	if p.IOCapability >= numIOCapabilities {
		return PairingParams{}, ReasonUnknownIOCapability
	}

	p.AuthReq &= authValidMask
	p.InitiatorKeys &= keyDistMask
	p.ResponderKeys &= keyDistMask
	if p.MaxKeySize < MinEncryptionKeySize || p.MaxKeySize > MaxEncryptionKeySize {
		p.MaxKeySize = cfg.MaxKeySize
	}
	if !p.AuthReq.Has(AuthSC) || cfg.Interop(interop.DisableLESecureConnections, s.addr.Addr) {
		p.AuthReq &^= AuthSC | AuthKeypress | AuthCT2
		p.InitiatorKeys &^= KeyLink
		p.ResponderKeys &^= KeyLink
	}
	if !p.AuthReq.Has(AuthBond) {
		p.InitiatorKeys, p.ResponderKeys = 0, 0
	}
	return p, 0
}

func (s *session) startInitiator() {
	s.role = RoleInitiator
	s.link = LinkLE

	local, reason := s.localParams()
	if reason != 0 {
		s.fail(reason, false, nil)
		return
	}
	s.local = local
	req := &PairingRequest{local}
	s.preq = rawParams(req)
	s.setState(StatePairingRequested)
	s.send(req)
}

func (s *session) startSecurityRequest() {
	s.role = RoleResponder
	s.link = LinkLE

	local, reason := s.localParams()
	if reason != 0 {
		s.fail(reason, false, nil)
		return
	}
	s.setState(StateSecurityRequestPending)
	s.send(&SecurityRequest{AuthReq: local.AuthReq})
}

func (s *session) onPairingRequest(p *PairingRequest, raw []byte) {
	if st := s.loadState(); st != StateIdle && st != StateSecurityRequestPending {
		s.unexpected(p)
		return
	}
	s.role = RoleResponder
	copy(s.preq[:], raw)
	s.peer = p.PairingParams

	if s.link == LinkBREDR {
		s.bredrOnRequest()
		return
	}

	local, reason := s.localParams()
	if reason != 0 {
		s.fail(reason, false, nil)
		return
	}
	local.InitiatorKeys &= s.peer.InitiatorKeys
	local.ResponderKeys &= s.peer.ResponderKeys
	if !local.AuthReq.Has(AuthBond) || !s.peer.AuthReq.Has(AuthBond) {
		local.InitiatorKeys, local.ResponderKeys = 0, 0
	}
	s.local = local
	s.distInit, s.distResp = local.InitiatorKeys, local.ResponderKeys

	if reason := s.negotiate(); reason != 0 {
		s.fail(reason, false, nil)
		return
	}
	resp := &PairingResponse{local}
	s.pres = rawParams(resp)
	s.send(resp)
	s.beginAuthentication()
}

func (s *session) onPairingResponse(p *PairingResponse, raw []byte) {
	if s.loadState() != StatePairingRequested || s.role != RoleInitiator {
		s.unexpected(p)
		return
	}
	copy(s.pres[:], raw)
	s.peer = p.PairingParams

	if s.peer.InitiatorKeys&^s.local.InitiatorKeys != 0 || s.peer.ResponderKeys&^s.local.ResponderKeys != 0 {
		s.fail(ReasonInvalidParameters, false, fmt.Errorf("response keys %s/%s exceed request %s/%s",
			s.peer.InitiatorKeys, s.peer.ResponderKeys, s.local.InitiatorKeys, s.local.ResponderKeys))
		return
	}
	s.distInit, s.distResp = s.peer.InitiatorKeys, s.peer.ResponderKeys
	if !s.local.AuthReq.Has(AuthBond) || !s.peer.AuthReq.Has(AuthBond) {
		s.distInit, s.distResp = 0, 0
	}

	if s.link == LinkBREDR {
		s.bredrOnResponse()
		return
	}
	if reason := s.negotiate(); reason != 0 {
		s.fail(reason, false, nil)
		return
	}
	s.beginAuthentication()
}

// negotiate selects the association model and the key size and applies
// the local policy to both.
func (s *session) negotiate() Reason {
	model, reason := selection{role: s.role, local: s.local, peer: s.peer}.model()
	if reason != 0 {
		return reason
	}
	var required AuthReq
	if s.m.cfg.EnforceAuthReq {
		required = s.m.cfg.AuthReq
	}
	if reason := checkPolicy(model, s.m.cfg.SecureConnectionsOnly, required); reason != 0 {
		return reason
	}
	if reason := s.negotiateKeySize(); reason != 0 {
		return reason
	}
	s.model = model
	s.sc = model.SecureConnections()
	return 0
}

func (s *session) negotiateKeySize() Reason {
	s.keySize = min(s.local.MaxKeySize, s.peer.MaxKeySize)
	if s.keySize < s.m.cfg.MinKeySize {
		return ReasonEncryptionKeySize
	}
	return 0
}

func (s *session) beginAuthentication() {
	s.debugLog("association model selected",
		"model", s.model.String(),
		"sc", s.sc,
		"key_size", s.keySize)
	if s.sc {
		s.scStart()
		return
	}
	s.legacyStart()
}

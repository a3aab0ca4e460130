package smp

import "testing"

func params(io IOCapability, auth AuthReq) PairingParams {
	return PairingParams{IOCapability: io, AuthReq: auth, MaxKeySize: 16}
}

func TestModelSelection(t *testing.T) {
	const mitm = AuthBond | AuthMITM
	const scMITM = mitm | AuthSC

	tests := []struct {
		name      string
		initiator PairingParams
		responder PairingParams
		wantInit  Model
		wantResp  Model
	}{
		{"legacy no mitm", params(KeyboardDisplay, AuthBond), params(KeyboardDisplay, AuthBond), eo, eo},
		{"legacy keyboard vs display", params(KeyboardOnly, mitm), params(DisplayOnly, AuthBond), pk, notif},
		{"legacy display vs keyboard", params(DisplayOnly, mitm), params(KeyboardOnly, mitm), notif, pk},
		{"legacy both keyboard", params(KeyboardOnly, mitm), params(KeyboardOnly, mitm), pk, pk},
		{"legacy no io", params(NoInputNoOutput, mitm), params(KeyboardDisplay, mitm), eo, eo},
		{"legacy keyboard display pair", params(KeyboardDisplay, mitm), params(KeyboardDisplay, mitm), notif, pk},
		{"sc no mitm", params(KeyboardDisplay, AuthSC), params(DisplayYesNo, AuthBond | AuthSC), jw, jw},
		{"sc numeric comparison", params(DisplayYesNo, scMITM), params(KeyboardDisplay, scMITM), nc, nc},
		{"sc display vs keyboard", params(DisplayOnly, scMITM), params(KeyboardOnly, scMITM), disp, ent},
		{"sc keyboard vs display", params(KeyboardOnly, scMITM), params(DisplayYesNo, scMITM), ent, disp},
		{"sc both keyboard", params(KeyboardOnly, scMITM), params(KeyboardOnly, scMITM), ent, ent},
		{"sc display only pair", params(DisplayOnly, scMITM), params(DisplayYesNo, scMITM), jw, jw},
		{"sc no io", params(NoInputNoOutput, scMITM), params(DisplayYesNo, scMITM), jw, jw},
		{"sc one side", params(DisplayYesNo, scMITM), params(DisplayYesNo, mitm), eo, eo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := selection{role: RoleInitiator, local: tt.initiator, peer: tt.responder}.model()
			if reason != 0 || got != tt.wantInit {
				t.Errorf("initiator: got %s (%s), want %s", got, reason, tt.wantInit)
			}
			got, reason = selection{role: RoleResponder, local: tt.responder, peer: tt.initiator}.model()
			if reason != 0 || got != tt.wantResp {
				t.Errorf("responder: got %s (%s), want %s", got, reason, tt.wantResp)
			}
		})
	}
}

func TestModelSelectionOOB(t *testing.T) {
	withOOB := func(p PairingParams) PairingParams {
		p.OOBDataFlag = true
		return p
	}
	sc := params(NoInputNoOutput, AuthBond|AuthSC)
	legacy := params(NoInputNoOutput, AuthBond)

	if m, _ := (selection{role: RoleInitiator, local: withOOB(sc), peer: sc}).model(); m != ModelSecureOOB {
		t.Errorf("sc with one flag: got %s", m)
	}
	if m, _ := (selection{role: RoleInitiator, local: withOOB(legacy), peer: legacy}).model(); m != ModelEncryptionOnly {
		t.Errorf("legacy with one flag: got %s", m)
	}
	if m, _ := (selection{role: RoleResponder, local: withOOB(legacy), peer: withOOB(legacy)}).model(); m != ModelLegacyOOB {
		t.Errorf("legacy with both flags: got %s", m)
	}
}

func TestModelSelectionUnknownIOCapability(t *testing.T) {
	_, reason := selection{role: RoleInitiator, local: params(5, AuthBond), peer: params(DisplayOnly, AuthBond)}.model()
	if reason != ReasonUnknownIOCapability {
		t.Errorf("got %s, want %s", reason, ReasonUnknownIOCapability)
	}
}

func TestCheckPolicy(t *testing.T) {
	tests := []struct {
		model    Model
		scOnly   bool
		required AuthReq
		want     Reason
	}{
		{ModelJustWorks, false, 0, 0},
		{ModelJustWorks, true, 0, ReasonAuthenticationFailure},
		{ModelNumericComparison, true, 0, 0},
		{ModelPasskeyInput, true, 0, ReasonAuthenticationFailure},
		{ModelEncryptionOnly, false, AuthMITM, ReasonAuthenticationFailure},
		{ModelKeyNotification, false, AuthMITM, 0},
		{ModelKeyNotification, false, AuthSC, ReasonAuthenticationFailure},
		{ModelSecureOOB, false, AuthMITM | AuthSC, 0},
	}
	for _, tt := range tests {
		if got := checkPolicy(tt.model, tt.scOnly, tt.required); got != tt.want {
			t.Errorf("checkPolicy(%s, %v, %s) = %s, want %s", tt.model, tt.scOnly, tt.required, got, tt.want)
		}
	}
}

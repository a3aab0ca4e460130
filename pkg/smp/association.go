package smp

// Short names keep the tables readable.
const (
	eo    = ModelEncryptionOnly
	pk    = ModelPasskeyInput
	notif = ModelKeyNotification
	jw    = ModelJustWorks
	nc    = ModelNumericComparison
	ent   = ModelPasskeyEntry
	disp  = ModelPasskeyDisplay
)

// Legacy association tables. The initiator table is indexed
// [peer][local], the responder table [local][peer]; both yield the model
// from the local point of view.
var legacyModels = [2][numIOCapabilities][numIOCapabilities]Model{
	RoleInitiator: {
		DisplayOnly:     {eo, eo, pk, eo, pk},
		DisplayYesNo:    {eo, eo, pk, eo, pk},
		KeyboardOnly:    {notif, notif, pk, eo, notif},
		NoInputNoOutput: {eo, eo, eo, eo, eo},
		KeyboardDisplay: {notif, notif, pk, eo, notif},
	},
	RoleResponder: {
		DisplayOnly:     {eo, eo, notif, eo, notif},
		DisplayYesNo:    {eo, eo, notif, eo, notif},
		KeyboardOnly:    {pk, pk, pk, eo, pk},
		NoInputNoOutput: {eo, eo, eo, eo, eo},
		KeyboardDisplay: {pk, pk, notif, eo, pk},
	},
}

// Secure connections association tables, indexed like legacyModels.
var secureModels = [2][numIOCapabilities][numIOCapabilities]Model{
	RoleInitiator: {
		DisplayOnly:     {jw, jw, ent, jw, ent},
		DisplayYesNo:    {jw, nc, ent, jw, nc},
		KeyboardOnly:    {disp, disp, ent, jw, disp},
		NoInputNoOutput: {jw, jw, jw, jw, jw},
		KeyboardDisplay: {disp, nc, ent, jw, nc},
	},
	RoleResponder: {
		DisplayOnly:     {jw, jw, disp, jw, disp},
		DisplayYesNo:    {jw, nc, disp, jw, nc},
		KeyboardOnly:    {ent, ent, ent, jw, ent},
		NoInputNoOutput: {jw, jw, jw, jw, jw},
		KeyboardDisplay: {ent, nc, disp, jw, nc},
	},
}

// selection is the input to association model selection, from the local
// point of view.
type selection struct {
	role  Role
	local PairingParams
	peer  PairingParams
}

// secureConnections reports whether both sides set the SC flag.
func (s selection) secureConnections() bool {
	return s.local.AuthReq.Has(AuthSC) && s.peer.AuthReq.Has(AuthSC)
}

// model selects the association model. It returns
// ReasonUnknownIOCapability for capability values outside the tables.
func (s selection) model() (Model, Reason) {
	if s.local.IOCapability >= numIOCapabilities || s.peer.IOCapability >= numIOCapabilities {
		return ModelNone, ReasonUnknownIOCapability
	}
	sc := s.secureConnections()

	if sc {
		if s.local.OOBDataFlag || s.peer.OOBDataFlag {
			return ModelSecureOOB, 0
		}
	} else if s.local.OOBDataFlag && s.peer.OOBDataFlag {
		return ModelLegacyOOB, 0
	}

	if !s.local.AuthReq.Has(AuthMITM) && !s.peer.AuthReq.Has(AuthMITM) {
		if sc {
			return ModelJustWorks, 0
		}
		return ModelEncryptionOnly, 0
	}

	row, col := s.peer.IOCapability, s.local.IOCapability
	if s.role == RoleResponder {
		row, col = col, row
	}
	if sc {
		return secureModels[s.role][row][col], 0
	}
	return legacyModels[s.role][row][col], 0
}

// checkPolicy applies the local security policy to a selected model.
// Secure connections only mode rejects legacy pairing and unauthenticated
// secure connections. required holds the AuthReq bits the local side
// insists on; a model that cannot deliver them is rejected.
func checkPolicy(m Model, scOnly bool, required AuthReq) Reason {
	if scOnly && (!m.SecureConnections() || m == ModelJustWorks) {
		return ReasonAuthenticationFailure
	}
	if required.Has(AuthMITM) && !m.Authenticated() {
		return ReasonAuthenticationFailure
	}
	if required.Has(AuthSC) && !m.SecureConnections() {
		return ReasonAuthenticationFailure
	}
	return 0
}

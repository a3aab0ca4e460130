package smp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mash-protocol/blesmp/pkg/ecc"
	"github.com/mash-protocol/blesmp/pkg/field"
	"github.com/mash-protocol/blesmp/pkg/interop"
	"github.com/mash-protocol/blesmp/pkg/log"
	"github.com/mash-protocol/blesmp/pkg/watchdog"
)

type eventKind uint8

const (
	evPair eventKind = iota + 1
	evSecurityRequest
	evPairBREDR
	evPDU
	evPasskey
	evConfirm
	evOOB
	evKeypress
	evEncryption
	evLTKRequest
	evTxComplete
	evCompute
	evTimeout
	evDisconnect
	evLinkFailed
	evCancel
	evClose
)

// event is one input to a session. Only the fields of its kind are set.
type event struct {
	kind eventKind

	pdu  []byte
	link Link

	passkey  uint32
	ok       bool
	oob      OOBResponse
	keypress KeypressType

	linkKey     [16]byte
	linkKeyType LinkKeyType

	failure LinkFailure

	// gen is the watchdog generation of evTimeout and the compute epoch of
	// evCompute.
	gen    uint64
	result *computeResult
}

type inputKind uint8

const (
	inputNone inputKind = iota
	inputPasskey
	inputConfirm
	inputOOB
)

type computeKind uint8

const (
	computeKeyPair computeKind = iota
	computeDHKey
)

type computeResult struct {
	kind  computeKind
	priv  field.Int[field.P256]
	x, y  [32]byte
	dhkey [32]byte
	err   error
}

// session is one pairing attempt with one peer. All fields are owned by
// the run goroutine except state, which State reads.
type session struct {
	m         *Manager
	addr      Address
	attemptID string
	retried   bool
	box       *mailbox
	timer     *watchdog.Timer
	state     atomic.Uint32

	role    Role
	link    Link
	model   Model
	sc      bool
	local   PairingParams
	peer    PairingParams
	preq    [7]byte
	pres    [7]byte
	keySize uint8

	// distInit and distResp are the negotiated key distribution masks.
	distInit KeyDist
	distResp KeyDist

	awaiting  inputKind
	computing bool
	epoch     uint64

	// Confirm and random exchange, shared by both pairing methods.
	tk              [16]byte
	localN, peerN   [16]byte
	localConfirm    [16]byte
	peerConfirm     [16]byte
	havePeerConfirm bool

	// Secure connections.
	priv         field.Int[field.P256]
	localX       [32]byte
	localY       [32]byte
	peerX        [32]byte
	peerPoint    ecc.Point[field.P256]
	haveLocalKey bool
	dhkey        [32]byte
	localR       [16]byte
	peerR        [16]byte
	oobPeer      *OOBData
	passkey      uint32
	round        int
	macKey       [16]byte
	ltk          [16]byte
	localCheck   [16]byte
	expectCheck  [16]byte

	// BR/EDR.
	linkKey     [16]byte
	linkKeyType LinkKeyType

	// encKey is the key the link is encrypted with.
	encKey [16]byte

	// Key distribution.
	bonded       bool
	sendKeys     KeyDist
	recvKeys     KeyDist
	expect       Opcode
	pendingKey   [16]byte
	deriveLink   bool
	deriveLTK    bool
	derived      bool
	keys         []Key
	peerIdentity *Address

	active          bool
	unacked         int
	completePending bool

	deferred []event
	finished bool
	retry    bool
}

func newSession(m *Manager, addr Address, attemptID string, retried bool) *session {
	if attemptID == "" {
		attemptID = uuid.NewString()
	}
	s := &session{
		m:         m,
		addr:      addr,
		attemptID: attemptID,
		retried:   retried,
		box:       newMailbox(),
	}
	// Config.Validate has checked the timeout range.
	s.timer, _ = watchdog.New(watchdog.Config{
		Duration: m.cfg.Timeout,
		OnExpire: func(gen uint64) {
			s.box.push(event{kind: evTimeout, gen: gen})
		},
	})
	return s
}

func (s *session) run() {
	defer s.m.wg.Done()

	var leftover []event
	for !s.finished {
		<-s.box.notify
		for _, ev := range s.box.drain() {
			if s.finished {
				leftover = append(leftover, ev)
				continue
			}
			s.handle(ev)
		}
	}
	s.timer.Stop()
	s.m.release(s, append(s.deferred, leftover...))
}

func (s *session) handle(ev event) {
	if s.shouldDefer(ev) {
		s.deferred = append(s.deferred, ev)
		return
	}
	s.process(ev)
	s.replay()
}

// shouldDefer holds back events the session cannot act on yet. Peer PDUs
// wait while a computation or user input is outstanding, user replies
// wait for computations. Pairing Failed and Keypress Notification are
// always processed.
func (s *session) shouldDefer(ev event) bool {
	switch ev.kind {
	case evCompute, evTimeout, evDisconnect, evLinkFailed, evCancel, evClose, evTxComplete:
		return false
	}
	if ev.kind == evPDU {
		if op := Opcode(ev.pdu[0]); op == OpPairingFailed || op == OpKeypressNotification {
			return false
		}
	}
	if s.computing {
		return true
	}
	return ev.kind == evPDU && s.awaiting != inputNone
}

// replay processes deferred events that have become actionable, in
// arrival order.
func (s *session) replay() {
	for !s.finished {
		i := -1
		for j, ev := range s.deferred {
			if !s.shouldDefer(ev) {
				i = j
				break
			}
		}
		if i < 0 {
			return
		}
		ev := s.deferred[i]
		s.deferred = append(s.deferred[:i], s.deferred[i+1:]...)
		s.process(ev)
	}
}

func (s *session) process(ev event) {
	switch ev.kind {
	case evPair:
		s.startInitiator()
	case evSecurityRequest:
		s.startSecurityRequest()
	case evPairBREDR:
		s.startBREDR(ev.linkKey, ev.linkKeyType)
	case evPDU:
		s.onPDU(ev)
	case evPasskey:
		s.onPasskeyReply(ev.passkey, ev.ok)
	case evConfirm:
		s.onConfirmReply(ev.ok)
	case evOOB:
		s.onOOBReply(ev.oob, ev.ok)
	case evKeypress:
		s.onLocalKeypress(ev.keypress)
	case evEncryption:
		s.onEncryptionChanged(ev.ok)
	case evLTKRequest:
		s.onLTKRequest()
	case evTxComplete:
		s.onTxComplete()
	case evCompute:
		s.onCompute(ev.gen, ev.result)
	case evTimeout:
		if ev.gen == s.timer.Generation() {
			s.fail(ReasonTimeout, false, nil)
		}
	case evDisconnect:
		s.fail(ReasonDisconnected, false, nil)
	case evLinkFailed:
		s.onLinkFailed(ev.failure)
	case evCancel:
		s.fail(ReasonCancelled, false, nil)
	case evClose:
		s.fail(ReasonCancelled, false, ErrManagerClosed)
	}
}

func (s *session) onPDU(ev event) {
	s.logPDU(log.DirectionIn, ev.link, ev.pdu)

	p, err := ParsePDU(ev.pdu)
	if err != nil {
		if s.loadState() == StateIdle {
			s.link = ev.link
		}
		reason := ReasonInvalidParameters
		if errors.Is(err, ErrCommandNotSupported) {
			reason = ReasonCommandNotSupported
		}
		s.active = true
		s.fail(reason, false, err)
		return
	}

	if s.loadState() == StateIdle {
		s.link = ev.link
	} else if ev.link != s.link {
		s.onCrossTransport(ev.link, p)
		return
	}
	s.active = true

	switch p := p.(type) {
	case *PairingFailed:
		s.fail(p.Reason, true, nil)
	case *KeypressNotification:
		if s.model == ModelPasskeyEntry || s.model == ModelPasskeyDisplay || s.model == ModelPasskeyInput {
			s.m.handler.KeypressNotification(s.addr, p.Type)
		}
	case *SecurityRequest:
		if s.loadState() != StateIdle {
			s.debugLog("ignoring security request", "state", s.loadState().String())
			return
		}
		s.startInitiator()
	case *PairingRequest:
		s.onPairingRequest(p, ev.pdu)
	case *PairingResponse:
		s.onPairingResponse(p, ev.pdu)
	case *PairingConfirm:
		if s.sc {
			s.scOnConfirm(p.Value)
		} else {
			s.legacyOnConfirm(p.Value)
		}
	case *PairingRandom:
		if s.sc {
			s.scOnRandom(p.Value)
		} else {
			s.legacyOnRandom(p.Value)
		}
	case *PairingPublicKey:
		s.onPublicKey(p)
	case *PairingDHKeyCheck:
		s.onDHKeyCheck(p.Value)
	default:
		s.onKeyPDU(p)
	}
}

// onCrossTransport answers a PDU that arrived on the other transport while
// this attempt is running.
func (s *session) onCrossTransport(link Link, p PDU) {
	reason := ReasonUnspecified
	if s.link == LinkBREDR && p.Opcode() == OpPairingRequest {
		reason = ReasonBREDRPairingInProgress
	}
	s.debugLog("rejecting pdu from other transport", "link", link.String(), "reason", reason.String())
	if p.Opcode() == OpPairingFailed {
		return
	}
	s.sendOn(link, &PairingFailed{Reason: reason}, false)
}

func (s *session) unexpected(p PDU) {
	s.fail(ReasonInvalidParameters, false,
		fmt.Errorf("%w: unexpected %s in %s", ErrInvalidPDU, p.Opcode(), s.loadState()))
}

func (s *session) onPasskeyReply(passkey uint32, ok bool) {
	if s.awaiting != inputPasskey {
		s.debugLog("ignoring passkey reply", "state", s.loadState().String())
		return
	}
	s.awaiting = inputNone
	if !ok {
		s.fail(ReasonPasskeyEntryFailed, false, nil)
		return
	}
	if passkey > maxPasskey {
		s.fail(ReasonPasskeyEntryFailed, false, fmt.Errorf("%w: passkey %d", ErrInvalidParameters, passkey))
		return
	}
	if s.sc {
		s.setPasskey(passkey)
		s.passkeyRound()
		return
	}
	s.tk = passkeyTK(passkey)
	s.legacyTKReady()
}

func (s *session) onConfirmReply(ok bool) {
	if s.awaiting != inputConfirm {
		s.debugLog("ignoring confirm reply", "state", s.loadState().String())
		return
	}
	s.awaiting = inputNone
	if !ok {
		s.fail(ReasonNumericComparisonFailed, false, nil)
		return
	}
	s.phase2()
}

func (s *session) onOOBReply(resp OOBResponse, ok bool) {
	if s.awaiting != inputOOB {
		s.debugLog("ignoring oob reply", "state", s.loadState().String())
		return
	}
	s.awaiting = inputNone
	if !ok {
		s.fail(ReasonOOBNotAvailable, false, nil)
		return
	}
	if s.sc {
		if resp.Peer == nil {
			s.fail(ReasonOOBNotAvailable, false, errors.New("no peer oob data"))
			return
		}
		d := *resp.Peer
		s.oobPeer = &d
		return
	}
	s.tk = resp.TK
	s.legacyTKReady()
}

func (s *session) onLocalKeypress(kind KeypressType) {
	if s.awaiting != inputPasskey || !s.local.AuthReq.Has(AuthKeypress) || !s.peer.AuthReq.Has(AuthKeypress) {
		return
	}
	s.send(&KeypressNotification{Type: kind})
}

func (s *session) onEncryptionChanged(enabled bool) {
	if s.loadState() != StateEncryptionPending {
		return
	}
	if !enabled {
		s.fail(ReasonEncryptionFailed, false, nil)
		return
	}
	s.startDistribution()
}

func (s *session) onLTKRequest() {
	var err error
	if s.role == RoleResponder && s.loadState() == StateEncryptionPending {
		err = s.m.transport.ReplyLTK(s.addr, s.encKey, true)
	} else {
		err = s.m.transport.ReplyLTK(s.addr, [16]byte{}, false)
	}
	if err != nil {
		s.fail(ReasonEncryptionFailed, false, err)
	}
}

func (s *session) onTxComplete() {
	if s.unacked > 0 {
		s.unacked--
	}
	if s.completePending && s.unacked == 0 {
		s.complete()
	}
}

func (s *session) onLinkFailed(cause LinkFailure) {
	if cause == LinkPageTimeout && s.role == RoleInitiator && !s.retried &&
		s.m.cfg.Interop(interop.AutoRetryPairing, s.addr.Addr) {
		s.finished = true
		s.epoch++
		s.timer.Stop()
		s.retry = true
		s.setState(StateIdle)
		s.debugLog("retrying pairing after page timeout", "addr", s.addr.String())
		return
	}
	s.fail(ReasonConnectionFailed, false, nil)
}

// send transmits p on the attempt's transport and rearms the watchdog.
func (s *session) send(p PDU) {
	s.sendOn(s.link, p, true)
}

func (s *session) sendOn(link Link, p PDU, arm bool) {
	if s.finished {
		return
	}
	if arm {
		s.timer.Start()
	}
	if err := s.transmit(link, p); err != nil {
		s.fail(ReasonConnectionFailed, false, err)
	}
}

func (s *session) transmit(link Link, p PDU) error {
	data := MarshalPDU(p)
	s.logPDU(log.DirectionOut, link, data)
	s.active = true
	s.unacked++
	if err := s.m.transport.SendPDU(s.addr, link, data); err != nil {
		s.unacked--
		return fmt.Errorf("send %s: %w", p.Opcode(), err)
	}
	return nil
}

func (s *session) loadState() State {
	return State(s.state.Load())
}

// setState moves to st. Once the attempt is finished only the terminal
// states are accepted.
func (s *session) setState(st State) {
	if s.finished && st != StateComplete && st != StateTerminated && st != StateIdle {
		return
	}
	old := State(s.state.Swap(uint32(st)))
	if old == st {
		return
	}
	if s.m.plog != nil {
		e := s.logEvent(log.LayerEngine, log.CategoryState, s.link)
		e.StateChange = &log.StateChangeEvent{
			OldState:          old.String(),
			NewState:          st.String(),
			SecureConnections: s.sc,
		}
		if s.model != ModelNone {
			e.StateChange.Model = s.model.String()
		}
		s.m.plog.Log(e)
	}
}

// fail ends the attempt. It notifies the handler exactly once.
func (s *session) fail(reason Reason, remote bool, err error) {
	if s.finished {
		return
	}
	s.finished = true

	if !remote && s.active {
		switch reason {
		case ReasonTimeout, ReasonDisconnected, ReasonConnectionFailed:
		default:
			wire := reason
			if !wire.Wire() {
				wire = ReasonUnspecified
			}
			if err := s.transmit(s.link, &PairingFailed{Reason: wire}); err != nil {
				s.debugLog("pairing failed not sent", "error", err)
			}
		}
	}

	s.epoch++
	s.awaiting = inputNone
	s.computing = false
	s.timer.Stop()
	s.setState(StateTerminated)

	pe := &PairingError{Reason: reason, Remote: remote, Err: err}
	if s.m.plog != nil {
		e := s.logEvent(log.LayerEngine, log.CategoryError, s.link)
		e.Error = &log.ErrorEventData{
			Layer:   log.LayerEngine,
			Message: pe.Error(),
			Reason:  uint8(reason),
			Remote:  remote,
		}
		s.m.plog.Log(e)
	}
	if s.m.logger != nil {
		s.m.logger.Info("pairing failed",
			"addr", s.addr.String(),
			"attempt", s.attemptID,
			"reason", reason.String(),
			"remote", remote)
	}

	if reason.countsAsAttempt() {
		s.m.attempts.RecordFailure(s.addr)
	}
	if reason == ReasonTimeout {
		s.m.markTimedOut(s.addr)
	}
	s.m.handler.PairingFailed(s.addr, pe)
}

func (s *session) complete() {
	if s.finished {
		return
	}
	s.finished = true
	s.completePending = false
	s.epoch++
	s.timer.Stop()
	s.setState(StateComplete)
	s.m.attempts.Reset(s.addr)

	res := Result{
		AttemptID:         s.attemptID,
		Role:              s.role,
		Link:              s.link,
		Model:             s.model,
		SecureConnections: s.sc,
		Level:             s.level(),
		KeySize:           s.keySize,
		Bonded:            s.bonded,
		EncryptionKey:     s.encKey,
		Keys:              s.keys,
		PeerIdentity:      s.peerIdentity,
		Retried:           s.retried,
	}
	if s.m.logger != nil {
		s.m.logger.Info("pairing complete",
			"addr", s.addr.String(),
			"attempt", s.attemptID,
			"model", s.model.String(),
			"level", res.Level.String())
	}
	s.m.handler.PairingComplete(s.addr, res)
}

func (s *session) level() SecurityLevel {
	authenticated := s.model.Authenticated()
	if s.link == LinkBREDR {
		authenticated = s.linkKeyType == LinkKeyAuthenticatedP256
	}
	switch {
	case !authenticated:
		return SecurityUnauthenticated
	case s.sc && s.keySize == MaxEncryptionKeySize:
		return SecurityAuthenticatedSC
	default:
		return SecurityAuthenticated
	}
}

// compute runs a P-256 operation off the session goroutine. The result
// comes back as an evCompute tagged with the current epoch; results of an
// earlier epoch are dropped.
func (s *session) compute(kind computeKind) {
	s.computing = true
	s.epoch++
	epoch := s.epoch
	priv, peer := s.priv, s.peerPoint
	rnd := s.m.rand
	box := s.box

	go func() {
		res := &computeResult{kind: kind}
		switch kind {
		case computeKeyPair:
			d, pub, err := ecc.Curve256.GenerateKey(rnd)
			res.priv, res.err = d, err
			if err == nil {
				copy(res.x[:], field.Bytes(&pub.X))
				copy(res.y[:], field.Bytes(&pub.Y))
			}
		case computeDHKey:
			x, err := ecc.Curve256.SharedSecret(&priv, peer)
			res.err = err
			if err == nil {
				copy(res.dhkey[:], field.Bytes(&x))
			}
		}
		box.push(event{kind: evCompute, gen: epoch, result: res})
	}()
}

func (s *session) onCompute(epoch uint64, res *computeResult) {
	if !s.computing || epoch != s.epoch {
		return
	}
	s.computing = false

	switch res.kind {
	case computeKeyPair:
		if res.err != nil {
			s.fail(ReasonUnspecified, false, res.err)
			return
		}
		s.priv, s.localX, s.localY = res.priv, res.x, res.y
		s.haveLocalKey = true
		s.keyReady()
	case computeDHKey:
		if res.err != nil {
			s.fail(ReasonDHKeyCheckFailed, false, res.err)
			return
		}
		s.dhkey = res.dhkey
		s.setState(StateSecureConnPhase1)
		s.phase1Start()
	}
}

// random fills b. It fails the attempt and returns false on error.
func (s *session) random(b []byte) bool {
	if err := s.m.random(b); err != nil {
		s.fail(ReasonUnspecified, false, fmt.Errorf("read random: %w", err))
		return false
	}
	return true
}

const maxPasskey = 999999

func (s *session) randomPasskey() (uint32, bool) {
	var b [4]byte
	if !s.random(b[:]) {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[:]) % (maxPasskey + 1), true
}

func (s *session) localAddr() Address {
	return s.m.cfg.IdentityAddress
}

func (s *session) initiatorAddr() Address {
	if s.role == RoleInitiator {
		return s.localAddr()
	}
	return s.addr
}

func (s *session) responderAddr() Address {
	if s.role == RoleInitiator {
		return s.addr
	}
	return s.localAddr()
}

func (s *session) logEvent(layer log.Layer, cat log.Category, link Link) log.Event {
	return log.Event{
		Timestamp: time.Now(),
		AttemptID: s.attemptID,
		Layer:     layer,
		Category:  cat,
		LocalRole: log.Role(s.role),
		PeerAddr:  s.addr.String(),
		Transport: link.String(),
	}
}

func (s *session) logPDU(dir log.Direction, link Link, data []byte) {
	if s.m.plog == nil || len(data) == 0 {
		return
	}
	op := Opcode(data[0])
	pe := &log.PDUEvent{Opcode: data[0], Name: op.String(), Size: len(data)}
	if op.carriesKey() {
		pe.Redacted = true
	} else {
		pe.Data = append([]byte(nil), data...)
	}
	e := s.logEvent(log.LayerChannel, log.CategoryPDU, link)
	e.Direction = dir
	e.PDU = pe
	s.m.plog.Log(e)
}

func (s *session) logKey(k Key) {
	if s.m.plog == nil {
		return
	}
	e := s.logEvent(log.LayerKeyDist, log.CategoryKey, s.link)
	e.Key = &log.KeyEvent{
		Kind:          k.Type.String(),
		Local:         k.Local,
		Size:          int(k.Size),
		Authenticated: k.Authenticated,
	}
	s.m.plog.Log(e)
}

func (s *session) debugLog(msg string, args ...any) {
	if s.m.logger != nil {
		s.m.logger.Debug(msg, append([]any{"attempt", s.attemptID}, args...)...)
	}
}

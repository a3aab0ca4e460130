package smp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mash-protocol/blesmp/pkg/ecc"
	"github.com/mash-protocol/blesmp/pkg/interop"
	"github.com/mash-protocol/blesmp/pkg/log"
)

// Manager runs pairing sessions, one per peer address. Each session owns a
// goroutine that processes its events in order; sessions for different
// peers run concurrently and share only read-only curve parameters.
type Manager struct {
	cfg       Config
	transport Transport
	keys      KeyStore
	handler   Handler
	logger    *slog.Logger
	plog      log.Logger
	rand      io.Reader
	attempts  *AttemptTracker

	mu       sync.Mutex
	sessions map[Address]*session
	timedOut map[Address]struct{}
	oob      *localOOB
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager. keys and handler may be nil.
func NewManager(cfg Config, transport Transport, keys KeyStore, handler Handler) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if keys == nil {
		keys = discardKeys{}
	}
	if handler == nil {
		handler = BaseHandler{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Interop == nil {
		cfg.Interop = interop.None
	}

	m := &Manager{
		transport: transport,
		keys:      keys,
		handler:   handler,
		logger:    cfg.Logger,
		plog:      cfg.ProtocolLogger,
		rand:      &lockedReader{r: cfg.Rand},
		attempts:  NewAttemptTracker(cfg.BackoffTiers),
		sessions:  make(map[Address]*session),
		timedOut:  make(map[Address]struct{}),
	}

	var zero [16]byte
	if cfg.IR == zero {
		if err := m.random(cfg.IR[:]); err != nil {
			return nil, fmt.Errorf("smp: identity root: %w", err)
		}
	}
	if cfg.ER == zero {
		if err := m.random(cfg.ER[:]); err != nil {
			return nil, fmt.Errorf("smp: encryption root: %w", err)
		}
	}
	m.cfg = cfg
	return m, nil
}

// Pair starts pairing with addr as initiator.
func (m *Manager) Pair(addr Address) error {
	if blocked, wait := m.attempts.Blocked(addr); blocked {
		return fmt.Errorf("%w: retry in %v", ErrRepeatedAttempts, wait.Round(time.Millisecond))
	}
	return m.start(addr, event{kind: evPair})
}

// RequestSecurity sends a Security Request to addr, asking the central to
// pair. The local side becomes the responder.
func (m *Manager) RequestSecurity(addr Address) error {
	return m.start(addr, event{kind: evSecurityRequest})
}

// PairOverBREDR runs pairing on the BR/EDR Security Manager channel as
// initiator and derives the LE LTK from linkKey.
func (m *Manager) PairOverBREDR(addr Address, linkKey [16]byte, keyType LinkKeyType) error {
	return m.start(addr, event{kind: evPairBREDR, linkKey: linkKey, linkKeyType: keyType})
}

func (m *Manager) start(addr Address, ev event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, busy := m.sessions[addr]; busy {
		return ErrBusy
	}
	s := m.newSessionLocked(addr, "", false)
	s.box.push(ev)
	return nil
}

// HandlePDU delivers a PDU received from addr on link.
func (m *Manager) HandlePDU(addr Address, link Link, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPDU)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.timedOut[addr]; ok {
		m.mu.Unlock()
		m.debugLog("dropping pdu after timeout", "addr", addr.String())
		return nil
	}
	_, exists := m.sessions[addr]
	m.mu.Unlock()

	op := Opcode(data[0])
	starts := op == OpPairingRequest || op == OpSecurityRequest
	if starts && !exists {
		if blocked, _ := m.attempts.Blocked(addr); blocked {
			m.debugLog("refusing pairing during backoff", "addr", addr.String())
			pdu := MarshalPDU(&PairingFailed{Reason: ReasonRepeatedAttempts})
			return m.transport.SendPDU(addr, link, pdu)
		}
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	err := m.deliver(addr, event{kind: evPDU, pdu: buf, link: link}, starts)
	if errors.Is(err, ErrNoSession) {
		m.debugLog("dropping pdu without session", "addr", addr.String(), "opcode", op.String())
		return nil
	}
	return err
}

// PasskeyReply answers Handler.PasskeyRequest. ok false rejects pairing.
func (m *Manager) PasskeyReply(addr Address, passkey uint32, ok bool) error {
	return m.deliver(addr, event{kind: evPasskey, passkey: passkey, ok: ok}, false)
}

// ConfirmReply answers Handler.NumericComparison.
func (m *Manager) ConfirmReply(addr Address, ok bool) error {
	return m.deliver(addr, event{kind: evConfirm, ok: ok}, false)
}

// OOBReply answers Handler.OOBRequest.
func (m *Manager) OOBReply(addr Address, resp OOBResponse, ok bool) error {
	return m.deliver(addr, event{kind: evOOB, oob: resp, ok: ok}, false)
}

// KeypressNotify sends a Keypress Notification during passkey entry.
func (m *Manager) KeypressNotify(addr Address, kind KeypressType) error {
	if kind >= numKeypressTypes {
		return fmt.Errorf("%w: keypress type %d", ErrInvalidParameters, kind)
	}
	return m.deliver(addr, event{kind: evKeypress, keypress: kind}, false)
}

// EncryptionChanged reports the outcome of link encryption.
func (m *Manager) EncryptionChanged(addr Address, enabled bool) error {
	return m.ignoreMissing(m.deliver(addr, event{kind: evEncryption, ok: enabled}, false))
}

// LTKRequest reports an LTK request of the controller. Without a pairing
// session a negative reply is sent.
func (m *Manager) LTKRequest(addr Address) error {
	err := m.deliver(addr, event{kind: evLTKRequest}, false)
	if errors.Is(err, ErrNoSession) {
		return m.transport.ReplyLTK(addr, [16]byte{}, false)
	}
	return err
}

// TxComplete reports that the transport has sent one PDU to addr.
func (m *Manager) TxComplete(addr Address) error {
	return m.ignoreMissing(m.deliver(addr, event{kind: evTxComplete}, false))
}

// Disconnected reports that the link to addr is gone.
func (m *Manager) Disconnected(addr Address) error {
	m.mu.Lock()
	delete(m.timedOut, addr)
	m.mu.Unlock()
	return m.ignoreMissing(m.deliver(addr, event{kind: evDisconnect}, false))
}

// LinkFailure classifies a link failure.
type LinkFailure uint8

const (
	// LinkLost is a supervision timeout or similar loss.
	LinkLost LinkFailure = iota
	// LinkPageTimeout means the link could not be established.
	LinkPageTimeout
)

// LinkFailed reports that the link to addr failed. A page timeout during
// an initiated attempt is retried once for peers with the auto retry
// workaround.
func (m *Manager) LinkFailed(addr Address, cause LinkFailure) error {
	return m.ignoreMissing(m.deliver(addr, event{kind: evLinkFailed, failure: cause}, false))
}

// Cancel aborts the attempt with addr.
func (m *Manager) Cancel(addr Address) error {
	return m.deliver(addr, event{kind: evCancel}, false)
}

// State returns the pairing state of addr, StateIdle without a session.
func (m *Manager) State(addr Address) State {
	m.mu.Lock()
	s := m.sessions[addr]
	m.mu.Unlock()
	if s == nil {
		return StateIdle
	}
	return s.loadState()
}

// Attempts returns the repeated attempts tracker.
func (m *Manager) Attempts() *AttemptTracker {
	return m.attempts
}

// GenerateOOBData creates the local secure connections OOB data. Later
// pairings with peers that received it use its key pair.
func (m *Manager) GenerateOOBData() (*OOBData, error) {
	lo, err := newLocalOOB(ecc.Curve256, m.random, m.cfg.IdentityAddress)
	if err != nil {
		return nil, fmt.Errorf("smp: generate oob data: %w", err)
	}
	m.mu.Lock()
	m.oob = lo
	m.mu.Unlock()
	d := lo.data
	return &d, nil
}

func (m *Manager) localOOB() *localOOB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oob
}

// Close cancels all sessions and waits for them to finish.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.box.push(event{kind: evClose})
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) deliver(addr Address, ev event, start bool) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrManagerClosed
		}
		s := m.sessions[addr]
		if s == nil {
			if !start {
				m.mu.Unlock()
				return ErrNoSession
			}
			s = m.newSessionLocked(addr, "", false)
		}
		m.mu.Unlock()

		// A session that finished between lookup and push has closed its
		// mailbox and left the map; look again.
		if s.box.push(ev) {
			return nil
		}
	}
}

func (m *Manager) ignoreMissing(err error) error {
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}

func (m *Manager) newSessionLocked(addr Address, attemptID string, retried bool) *session {
	s := newSession(m, addr, attemptID, retried)
	m.sessions[addr] = s
	m.wg.Add(1)
	go s.run()
	return s
}

// release removes a finished session. Events still queued for it are
// routed again so that a new attempt can pick them up.
func (m *Manager) release(s *session, leftover []event) {
	m.mu.Lock()
	if m.sessions[s.addr] == s {
		delete(m.sessions, s.addr)
	}
	leftover = append(leftover, s.box.close()...)
	if s.retry && !m.closed {
		next := m.newSessionLocked(s.addr, s.attemptID, true)
		next.box.push(event{kind: evPair})
	}
	m.mu.Unlock()

	for _, ev := range leftover {
		if ev.kind == evPDU {
			_ = m.HandlePDU(s.addr, ev.link, ev.pdu)
		}
	}
}

func (m *Manager) markTimedOut(addr Address) {
	m.mu.Lock()
	m.timedOut[addr] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) random(b []byte) error {
	_, err := io.ReadFull(m.rand, b)
	return err
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

// lockedReader serialises reads from a shared randomness source.
type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

type discardKeys struct{}

func (discardKeys) SaveKey(Address, Key) error { return nil }

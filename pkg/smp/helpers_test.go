package smp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	addrA = Address{Type: AddressPublic, Addr: [6]byte{0xc0, 0x00, 0x00, 0x00, 0x00, 0x0a}}
	addrB = Address{Type: AddressPublic, Addr: [6]byte{0xc0, 0x00, 0x00, 0x00, 0x00, 0x0b}}
)

const waitTimeout = 5 * time.Second

func testConfig(self Address) Config {
	cfg := DefaultConfig()
	cfg.IdentityAddress = self
	for i := range cfg.IR {
		cfg.IR[i] = self.Addr[5] + byte(i)
		cfg.ER[i] = ^self.Addr[5] - byte(i)
	}
	return cfg
}

type outcome struct {
	result Result
	err    error
	state  State
}

// recorder is a Handler that forwards outcomes to a channel and lets tests
// answer user prompts.
type recorder struct {
	BaseHandler
	m *Manager

	params    func(PairingParams) PairingParams
	onDisplay func(addr Address, passkey uint32)
	onRequest func(addr Address)
	onCompare func(addr Address, value uint32)
	onOOB     func(addr Address, secure bool)

	outcomes chan outcome

	mu         sync.Mutex
	keypresses []KeypressType
}

func newRecorder() *recorder {
	return &recorder{outcomes: make(chan outcome, 8)}
}

func (r *recorder) IOCapabilityRequest(_ Address, defaults PairingParams) PairingParams {
	if r.params != nil {
		return r.params(defaults)
	}
	return defaults
}

func (r *recorder) PasskeyDisplay(addr Address, passkey uint32) {
	if r.onDisplay != nil {
		r.onDisplay(addr, passkey)
	}
}

func (r *recorder) PasskeyRequest(addr Address) {
	if r.onRequest != nil {
		r.onRequest(addr)
	}
}

func (r *recorder) NumericComparison(addr Address, value uint32) {
	if r.onCompare != nil {
		r.onCompare(addr, value)
	}
}

func (r *recorder) OOBRequest(addr Address, secure bool) {
	if r.onOOB != nil {
		r.onOOB(addr, secure)
	}
}

func (r *recorder) KeypressNotification(_ Address, kind KeypressType) {
	r.mu.Lock()
	r.keypresses = append(r.keypresses, kind)
	r.mu.Unlock()
}

func (r *recorder) PairingComplete(addr Address, result Result) {
	r.outcomes <- outcome{result: result, state: r.m.State(addr)}
}

func (r *recorder) PairingFailed(addr Address, err error) {
	r.outcomes <- outcome{err: err, state: r.m.State(addr)}
}

func (r *recorder) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-r.outcomes:
		return o
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for pairing outcome")
		return outcome{}
	}
}

func (r *recorder) expectNoMore(t *testing.T) {
	t.Helper()
	select {
	case o := <-r.outcomes:
		t.Fatalf("unexpected second outcome: %+v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

// loopLink connects two managers back to back and plays the controller
// for encryption.
type loopLink struct {
	mu      sync.Mutex
	ends    [2]*loopEnd
	ltk     [16]byte
	pending bool

	// filter may drop a PDU by returning false.
	filter func(from *loopEnd, pdu []byte) bool
}

type loopEnd struct {
	link *loopLink
	idx  int
	self Address
	m    *Manager

	mu          sync.Mutex
	sent        []Opcode
	links       []Link
	encryptions int
}

func (e *loopEnd) other() *loopEnd { return e.link.ends[1-e.idx] }

func (e *loopEnd) SendPDU(addr Address, link Link, pdu []byte) error {
	e.mu.Lock()
	e.sent = append(e.sent, Opcode(pdu[0]))
	e.links = append(e.links, link)
	e.mu.Unlock()

	e.link.mu.Lock()
	filter := e.link.filter
	e.link.mu.Unlock()
	if filter != nil && !filter(e, pdu) {
		return nil
	}

	_ = e.other().m.HandlePDU(e.self, link, append([]byte(nil), pdu...))
	_ = e.m.TxComplete(addr)
	return nil
}

func (e *loopEnd) StartEncryption(addr Address, ltk [16]byte, _ uint16, _ [8]byte) error {
	e.mu.Lock()
	e.encryptions++
	e.mu.Unlock()

	e.link.mu.Lock()
	e.link.ltk, e.link.pending = ltk, true
	e.link.mu.Unlock()
	return e.other().m.LTKRequest(e.self)
}

func (e *loopEnd) ReplyLTK(addr Address, ltk [16]byte, ok bool) error {
	e.link.mu.Lock()
	match := ok && e.link.pending && ltk == e.link.ltk
	e.link.pending = false
	e.link.mu.Unlock()

	_ = e.m.EncryptionChanged(addr, match)
	_ = e.other().m.EncryptionChanged(e.self, match)
	return nil
}

func (e *loopEnd) count(op Opcode) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.sent {
		if o == op {
			n++
		}
	}
	return n
}

func newPair(t *testing.T, cfgA, cfgB Config, ha, hb *recorder, ka, kb KeyStore) (*loopLink, *Manager, *Manager) {
	t.Helper()
	l := &loopLink{}
	l.ends[0] = &loopEnd{link: l, idx: 0, self: cfgA.IdentityAddress}
	l.ends[1] = &loopEnd{link: l, idx: 1, self: cfgB.IdentityAddress}

	ma, err := NewManager(cfgA, l.ends[0], ka, ha)
	require.NoError(t, err)
	mb, err := NewManager(cfgB, l.ends[1], kb, hb)
	require.NoError(t, err)

	l.ends[0].m, l.ends[1].m = ma, mb
	ha.m, hb.m = ma, mb
	t.Cleanup(func() {
		_ = ma.Close()
		_ = mb.Close()
	})
	return l, ma, mb
}

// scriptPeer is a Transport whose peer answers with scripted PDUs.
type scriptPeer struct {
	m    *Manager
	self Address

	reply func(p PDU) []PDU

	mu          sync.Mutex
	sent        []PDU
	links       []Link
	encryptions int
	ltkReplies  []bool
}

func (p *scriptPeer) SendPDU(addr Address, link Link, pdu []byte) error {
	parsed, err := ParsePDU(pdu)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sent = append(p.sent, parsed)
	p.links = append(p.links, link)
	reply := p.reply
	p.mu.Unlock()

	if reply != nil {
		for _, r := range reply(parsed) {
			_ = p.m.HandlePDU(p.self, link, MarshalPDU(r))
		}
	}
	_ = p.m.TxComplete(addr)
	return nil
}

func (p *scriptPeer) StartEncryption(Address, [16]byte, uint16, [8]byte) error {
	p.mu.Lock()
	p.encryptions++
	p.mu.Unlock()
	return nil
}

func (p *scriptPeer) ReplyLTK(_ Address, _ [16]byte, ok bool) error {
	p.mu.Lock()
	p.ltkReplies = append(p.ltkReplies, ok)
	p.mu.Unlock()
	return nil
}

func (p *scriptPeer) sentPDUs() []PDU {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PDU(nil), p.sent...)
}

// count returns how many PDUs with opcode op the engine sent.
func (p *scriptPeer) count(op Opcode) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pdu := range p.sent {
		if pdu.Opcode() == op {
			n++
		}
	}
	return n
}

func (p *scriptPeer) last() PDU {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

func newScripted(t *testing.T, cfg Config, h *recorder, peer Address, reply func(PDU) []PDU) (*scriptPeer, *Manager) {
	t.Helper()
	p := &scriptPeer{self: peer, reply: reply}
	m, err := NewManager(cfg, p, nil, h)
	require.NoError(t, err)
	p.m = m
	h.m = m
	t.Cleanup(func() { _ = m.Close() })
	return p, m
}

// respondWith answers a Pairing Request with a response carrying auth and
// the requested key distribution.
func respondWith(io IOCapability, auth AuthReq) func(PDU) []PDU {
	return func(p PDU) []PDU {
		req, ok := p.(*PairingRequest)
		if !ok {
			return nil
		}
		return []PDU{&PairingResponse{PairingParams{
			IOCapability:  io,
			AuthReq:       auth,
			MaxKeySize:    MaxEncryptionKeySize,
			InitiatorKeys: req.InitiatorKeys,
			ResponderKeys: req.ResponderKeys,
		}}}
	}
}

// memKeys is an in-memory KeyStore and LinkKeySource.
type memKeys struct {
	mu       sync.Mutex
	keys     map[Address][]Key
	linkKeys map[Address]Key
	err      error
}

func newMemKeys() *memKeys {
	return &memKeys{keys: make(map[Address][]Key), linkKeys: make(map[Address]Key)}
}

func (k *memKeys) SaveKey(addr Address, key Key) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.keys[addr] = append(k.keys[addr], key)
	return nil
}

func (k *memKeys) LinkKey(addr Address) ([16]byte, LinkKeyType, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	lk, ok := k.linkKeys[addr]
	return lk.Value, lk.LinkKeyType, ok
}

func (k *memKeys) saved(addr Address) []Key {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Key(nil), k.keys[addr]...)
}

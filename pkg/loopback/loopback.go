// Package loopback connects two Security Manager engines back to back in
// one process. It plays both the fixed channel and the controller: PDUs
// sent by one end are handed to the other, and encryption requests are
// answered by checking that both ends hold the same LTK.
//
// The link is used by the scenario runner, the smp-pair demo and the
// integration tests.
package loopback

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mash-protocol/blesmp/pkg/smp"
)

// ErrDisconnected is returned for traffic on a disconnected link.
var ErrDisconnected = errors.New("loopback: link disconnected")

// Engine is the part of smp.Manager the link drives.
type Engine interface {
	HandlePDU(addr smp.Address, link smp.Link, data []byte) error
	TxComplete(addr smp.Address) error
	LTKRequest(addr smp.Address) error
	EncryptionChanged(addr smp.Address, enabled bool) error
	Disconnected(addr smp.Address) error
	LinkFailed(addr smp.Address, cause smp.LinkFailure) error
}

// Filter decides whether a PDU sent by from is delivered. Dropped PDUs are
// still reported as transmitted to the sender.
type Filter func(from smp.Address, link smp.Link, pdu []byte) bool

// Link is a virtual connection between two ends.
type Link struct {
	mu      sync.Mutex
	ends    [2]*End
	filter  Filter
	down    bool
	ltk     [16]byte
	pending bool
	logger  *slog.Logger
}

// New creates a link between the devices with addresses a and b. logger may
// be nil.
func New(a, b smp.Address, logger *slog.Logger) *Link {
	l := &Link{logger: logger}
	l.ends[0] = &End{link: l, idx: 0, self: a}
	l.ends[1] = &End{link: l, idx: 1, self: b}
	return l
}

// A returns the first end.
func (l *Link) A() *End { return l.ends[0] }

// B returns the second end.
func (l *Link) B() *End { return l.ends[1] }

// SetFilter installs f. A nil filter delivers everything.
func (l *Link) SetFilter(f Filter) {
	l.mu.Lock()
	l.filter = f
	l.mu.Unlock()
}

// Disconnect takes the link down and reports it to both engines.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.down {
		l.mu.Unlock()
		return
	}
	l.down = true
	l.pending = false
	l.mu.Unlock()

	for _, e := range l.ends {
		if eng := e.engine(); eng != nil {
			_ = eng.Disconnected(e.other().self)
		}
	}
}

// Reconnect brings a disconnected link back up.
func (l *Link) Reconnect() {
	l.mu.Lock()
	l.down = false
	l.mu.Unlock()
}

func (l *Link) debug(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}

// End is one side of a Link. It implements smp.Transport.
type End struct {
	link *Link
	idx  int
	self smp.Address

	mu          sync.Mutex
	eng         Engine
	sent        []smp.Opcode
	links       []smp.Link
	encryptions int
}

// Address returns the address of this end.
func (e *End) Address() smp.Address { return e.self }

// Peer returns the address of the other end.
func (e *End) Peer() smp.Address { return e.other().self }

// Bind attaches the engine that receives traffic for this end.
func (e *End) Bind(eng Engine) {
	e.mu.Lock()
	e.eng = eng
	e.mu.Unlock()
}

func (e *End) engine() Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eng
}

func (e *End) other() *End { return e.link.ends[1-e.idx] }

// SendPDU delivers pdu to the other end and reports it transmitted.
func (e *End) SendPDU(addr smp.Address, link smp.Link, pdu []byte) error {
	if len(pdu) == 0 {
		return errors.New("loopback: empty pdu")
	}

	e.link.mu.Lock()
	down, filter := e.link.down, e.link.filter
	e.link.mu.Unlock()
	if down {
		return ErrDisconnected
	}

	e.mu.Lock()
	e.sent = append(e.sent, smp.Opcode(pdu[0]))
	e.links = append(e.links, link)
	e.mu.Unlock()

	if filter == nil || filter(e.self, link, pdu) {
		e.link.debug("pdu", "from", e.self, "to", addr, "link", link, "opcode", smp.Opcode(pdu[0]))
		if peer := e.other().engine(); peer != nil {
			_ = peer.HandlePDU(e.self, link, append([]byte(nil), pdu...))
		}
	} else {
		e.link.debug("pdu dropped", "from", e.self, "opcode", smp.Opcode(pdu[0]))
	}

	if eng := e.engine(); eng != nil {
		_ = eng.TxComplete(addr)
	}
	return nil
}

// StartEncryption remembers ltk and raises an LTK request on the other end.
func (e *End) StartEncryption(addr smp.Address, ltk [16]byte, _ uint16, _ [8]byte) error {
	e.link.mu.Lock()
	if e.link.down {
		e.link.mu.Unlock()
		return ErrDisconnected
	}
	e.link.ltk, e.link.pending = ltk, true
	e.link.mu.Unlock()

	e.mu.Lock()
	e.encryptions++
	e.mu.Unlock()

	e.link.debug("start encryption", "from", e.self)
	if peer := e.other().engine(); peer != nil {
		return peer.LTKRequest(e.self)
	}
	return nil
}

// ReplyLTK completes encryption. Both ends see the link encrypted only when
// the reply matches the key the initiator started with.
func (e *End) ReplyLTK(addr smp.Address, ltk [16]byte, ok bool) error {
	e.link.mu.Lock()
	if !e.link.pending {
		e.link.mu.Unlock()
		return nil
	}
	match := ok && ltk == e.link.ltk
	e.link.pending = false
	e.link.mu.Unlock()

	e.link.debug("encryption changed", "enabled", match)
	if eng := e.engine(); eng != nil {
		_ = eng.EncryptionChanged(addr, match)
	}
	if peer := e.other().engine(); peer != nil {
		_ = peer.EncryptionChanged(e.self, match)
	}
	return nil
}

// Fail reports a link failure of cause to this end's engine, as a
// controller does when a connection to the peer could not be established.
// The link stays up.
func (e *End) Fail(cause smp.LinkFailure) error {
	if eng := e.engine(); eng != nil {
		return eng.LinkFailed(e.other().self, cause)
	}
	return nil
}

// Sent returns how many PDUs with opcode op this end sent.
func (e *End) Sent(op smp.Opcode) int {
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

// Opcodes returns the opcodes this end sent, in order.
func (e *End) Opcodes() []smp.Opcode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]smp.Opcode(nil), e.sent...)
}

// Encryptions returns how many times this end started encryption.
func (e *End) Encryptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encryptions
}

var _ smp.Transport = (*End)(nil)

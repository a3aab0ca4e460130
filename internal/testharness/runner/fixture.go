package runner

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/engine"
	"github.com/mash-protocol/blesmp/internal/testharness/loader"
	"github.com/mash-protocol/blesmp/pkg/loopback"
	"github.com/mash-protocol/blesmp/pkg/persistence"
	"github.com/mash-protocol/blesmp/pkg/smp"
)

const (
	central    = "central"
	peripheral = "peripheral"
)

// passkeyWait bounds how long a passkey request waits for the other side
// to display its passkey.
const passkeyWait = 2 * time.Second

var defaultAddresses = map[string]smp.Address{
	central:    {Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x01}},
	peripheral: {Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x02}},
}

// fixture is the pair of devices a scenario runs against.
type fixture struct {
	link    *loopback.Link
	devices map[string]*device
	dir     string
	ownDir  bool

	mu    sync.Mutex
	drops []*dropRule
}

type outcome struct {
	result smp.Result
	err    error
}

// device is one simulated side. It answers prompts as the scenario's user
// would and collects outcomes.
type device struct {
	smp.BaseHandler

	name  string
	spec  *loader.Device
	addr  smp.Address
	m     *smp.Manager
	end   *loopback.End
	bonds *persistence.BondStore
	fx    *fixture

	outcomes  chan outcome
	displayed chan uint32

	mu         sync.Mutex
	compared   []uint32
	keypresses int
	oob        *smp.OOBData
}

func (r *Runner) setup(_ context.Context, state *engine.ExecutionState) error {
	sc := state.Scenario

	fx := &fixture{devices: make(map[string]*device)}
	if r.config.BondDir != "" {
		fx.dir = filepath.Join(r.config.BondDir, sc.ID)
	} else {
		dir, err := os.MkdirTemp("", "smp-scenario-")
		if err != nil {
			return err
		}
		fx.dir, fx.ownDir = dir, true
	}

	specs := map[string]*loader.Device{central: &sc.Central, peripheral: &sc.Peripheral}
	cfgs := make(map[string]smp.Config, 2)
	for name, spec := range specs {
		cfg, err := spec.Config.Config()
		if err != nil {
			fx.close()
			return fmt.Errorf("%s config: %w", name, err)
		}
		if cfg.IdentityAddress == (smp.Address{}) {
			cfg.IdentityAddress = defaultAddresses[name]
		}
		cfg.Logger = r.config.Logger
		if r.config.ProtocolLogger != nil {
			cfg.ProtocolLogger = r.config.ProtocolLogger
		}
		cfgs[name] = cfg
	}

	fx.link = loopback.New(cfgs[central].IdentityAddress, cfgs[peripheral].IdentityAddress, r.config.Logger)
	fx.link.SetFilter(fx.deliver)
	ends := map[string]*loopback.End{central: fx.link.A(), peripheral: fx.link.B()}

	for _, name := range []string{central, peripheral} {
		d := &device{
			name:      name,
			spec:      specs[name],
			addr:      cfgs[name].IdentityAddress,
			end:       ends[name],
			bonds:     persistence.NewBondStore(filepath.Join(fx.dir, name+".json")),
			fx:        fx,
			outcomes:  make(chan outcome, 16),
			displayed: make(chan uint32, 1),
		}
		fx.devices[name] = d
	}

	for _, d := range fx.devices {
		if err := d.preloadLinkKey(); err != nil {
			fx.close()
			return fmt.Errorf("%s link key: %w", d.name, err)
		}
		m, err := smp.NewManager(cfgs[d.name], d.end, d.bonds, d)
		if err != nil {
			fx.close()
			return fmt.Errorf("%s manager: %w", d.name, err)
		}
		d.m = m
		d.end.Bind(m)
	}

	state.Fixture = fx
	return nil
}

func (r *Runner) teardown(state *engine.ExecutionState) {
	if fx, ok := state.Fixture.(*fixture); ok {
		fx.close()
	}
}

func (fx *fixture) close() {
	for _, d := range fx.devices {
		if d.m != nil {
			_ = d.m.Close()
		}
	}
	if fx.ownDir {
		_ = os.RemoveAll(fx.dir)
	}
}

func (d *device) other() *device {
	if d.name == central {
		return d.fx.devices[peripheral]
	}
	return d.fx.devices[central]
}

func (d *device) peer() smp.Address { return d.other().addr }

func (d *device) preloadLinkKey() error {
	if d.spec.LinkKey == "" {
		return nil
	}
	lk, err := decodeKey(d.spec.LinkKey)
	if err != nil {
		return err
	}
	return d.bonds.SaveKey(d.peer(), smp.Key{
		Type:        smp.KeyTypeLinkKey,
		Value:       lk,
		Address:     d.peer(),
		LinkKeyType: smp.LinkKeyType(d.spec.LinkKeyType),
	})
}

func decodeKey(s string) ([16]byte, error) {
	var k [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("key is %d octets, want %d", len(b), len(k))
	}
	copy(k[:], b)
	return k, nil
}

// IOCapabilityRequest advertises out-of-band data when the scenario gives
// the device an OOB policy.
func (d *device) IOCapabilityRequest(_ smp.Address, defaults smp.PairingParams) smp.PairingParams {
	if d.hasOOB() {
		defaults.OOBDataFlag = true
	}
	return defaults
}

func (d *device) hasOOB() bool {
	return d.spec.OOB == "exchange" || d.spec.OOB == "corrupt"
}

// PasskeyDisplay makes the passkey available to the other side's user.
func (d *device) PasskeyDisplay(_ smp.Address, passkey uint32) {
	select {
	case d.displayed <- passkey:
	default:
	}
}

// PasskeyRequest answers according to the passkey policy.
func (d *device) PasskeyRequest(addr smp.Address) {
	go d.answerPasskey(addr)
}

func (d *device) answerPasskey(addr smp.Address) {
	switch policy := d.spec.Passkey; policy {
	case "reject":
		_ = d.m.PasskeyReply(addr, 0, false)
	case "ignore":
	case "", "auto", "wrong":
		var pk uint32
		select {
		case pk = <-d.other().displayed:
		case <-time.After(passkeyWait):
			_ = d.m.PasskeyReply(addr, 0, false)
			return
		}
		if policy == "wrong" {
			pk = (pk + 1) % 1000000
		}
		_ = d.m.PasskeyReply(addr, pk, true)
	default:
		pk, err := strconv.ParseUint(policy, 10, 32)
		_ = d.m.PasskeyReply(addr, uint32(pk), err == nil)
	}
}

// NumericComparison records the value and answers with the confirm policy.
func (d *device) NumericComparison(addr smp.Address, value uint32) {
	d.mu.Lock()
	d.compared = append(d.compared, value)
	d.mu.Unlock()

	confirm := d.spec.Confirm == nil || *d.spec.Confirm
	_ = d.m.ConfirmReply(addr, confirm)
}

// OOBRequest answers with the out-of-band data the scenario provides.
func (d *device) OOBRequest(addr smp.Address, secure bool) {
	if !d.hasOOB() {
		_ = d.m.OOBReply(addr, smp.OOBResponse{}, false)
		return
	}

	var resp smp.OOBResponse
	if d.spec.TK != "" {
		tk, err := decodeKey(d.spec.TK)
		if err != nil {
			_ = d.m.OOBReply(addr, resp, false)
			return
		}
		resp.TK = tk
	}
	if secure {
		o := d.other()
		o.mu.Lock()
		if o.oob != nil {
			data := *o.oob
			resp.Peer = &data
		}
		o.mu.Unlock()
	}

	if d.spec.OOB == "corrupt" {
		resp.TK[15] ^= 0x01
		if resp.Peer != nil {
			resp.Peer.Confirm[0] ^= 0x01
		}
	}
	_ = d.m.OOBReply(addr, resp, true)
}

func (d *device) KeypressNotification(smp.Address, smp.KeypressType) {
	d.mu.Lock()
	d.keypresses++
	d.mu.Unlock()
}

func (d *device) PairingComplete(_ smp.Address, result smp.Result) {
	d.outcomes <- outcome{result: result}
}

func (d *device) PairingFailed(_ smp.Address, err error) {
	d.outcomes <- outcome{err: err}
}

func (d *device) wait(ctx context.Context) (outcome, error) {
	select {
	case o := <-d.outcomes:
		return o, nil
	case <-ctx.Done():
		return outcome{}, fmt.Errorf("%s: no pairing outcome: %w", d.name, ctx.Err())
	}
}

// comparedValues returns the numeric comparison values shown so far.
func (d *device) comparedValues() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.compared...)
}

func (d *device) keypressCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keypresses
}

var errNoFixture = errors.New("scenario has no devices")

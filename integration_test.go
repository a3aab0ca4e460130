package blesmp_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mash-protocol/blesmp/pkg/log"
	"github.com/mash-protocol/blesmp/pkg/loopback"
	"github.com/mash-protocol/blesmp/pkg/persistence"
	"github.com/mash-protocol/blesmp/pkg/smp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	centralAddr    = smp.Address{Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x01}}
	peripheralAddr = smp.Address{Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x02}}
)

type outcome struct {
	res smp.Result
	err error
}

// passkeyHandler answers passkey requests with whatever the display side
// showed, optionally off by one.
type passkeyHandler struct {
	smp.BaseHandler
	m        func() *smp.Manager
	shown    chan uint32
	wrong    bool
	outcomes chan outcome
}

func (h *passkeyHandler) PasskeyDisplay(_ smp.Address, passkey uint32) {
	h.shown <- passkey
}

func (h *passkeyHandler) PasskeyRequest(addr smp.Address) {
	go func() {
		select {
		case pk := <-h.shown:
			if h.wrong {
				pk = (pk + 1) % 1000000
			}
			_ = h.m().PasskeyReply(addr, pk, true)
		case <-time.After(5 * time.Second):
			_ = h.m().PasskeyReply(addr, 0, false)
		}
	}()
}

func (h *passkeyHandler) PairingComplete(_ smp.Address, res smp.Result) {
	h.outcomes <- outcome{res: res}
}

func (h *passkeyHandler) PairingFailed(_ smp.Address, err error) {
	h.outcomes <- outcome{err: err}
}

type pair struct {
	link                  *loopback.Link
	central, peripheral   *smp.Manager
	centralH, peripheralH *passkeyHandler
	centralB, peripheralB *persistence.BondStore
}

func newPair(t *testing.T, dir string, protocol log.Logger, wrong bool) *pair {
	t.Helper()
	p := &pair{link: loopback.New(centralAddr, peripheralAddr, nil)}
	shown := make(chan uint32, 1)
	p.centralH = &passkeyHandler{m: func() *smp.Manager { return p.central }, shown: shown, outcomes: make(chan outcome, 4)}
	p.peripheralH = &passkeyHandler{m: func() *smp.Manager { return p.peripheral }, shown: shown, wrong: wrong, outcomes: make(chan outcome, 4)}
	p.centralB = persistence.NewBondStore(filepath.Join(dir, "central.json"))
	p.peripheralB = persistence.NewBondStore(filepath.Join(dir, "peripheral.json"))

	build := func(end *loopback.End, io smp.IOCapability, bonds *persistence.BondStore, h smp.Handler) *smp.Manager {
		cfg := smp.DefaultConfig()
		cfg.IdentityAddress = end.Address()
		cfg.IOCapability = io
		cfg.AuthReq = smp.AuthBond | smp.AuthMITM | smp.AuthSC
		cfg.ProtocolLogger = protocol
		m, err := smp.NewManager(cfg, end, bonds, h)
		require.NoError(t, err)
		end.Bind(m)
		t.Cleanup(func() { _ = m.Close() })
		return m
	}
	p.central = build(p.link.A(), smp.DisplayOnly, p.centralB, p.centralH)
	p.peripheral = build(p.link.B(), smp.KeyboardOnly, p.peripheralB, p.peripheralH)
	return p
}

func await(t *testing.T, ctx context.Context, ch chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-ctx.Done():
		t.Fatal("timed out waiting for the pairing outcome")
		return outcome{}
	}
}

func TestE2E_PasskeyBonding(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "pairing.cbor")
	fileLogger, err := log.NewFileLogger(logPath)
	require.NoError(t, err)

	p := newPair(t, dir, fileLogger, false)
	require.NoError(t, p.central.Pair(peripheralAddr))

	c := await(t, ctx, p.centralH.outcomes)
	r := await(t, ctx, p.peripheralH.outcomes)
	require.NoError(t, c.err)
	require.NoError(t, r.err)

	assert.Equal(t, smp.ModelPasskeyDisplay, c.res.Model)
	assert.Equal(t, smp.ModelPasskeyEntry, r.res.Model)
	assert.Equal(t, smp.SecurityAuthenticatedSC, c.res.Level)
	assert.Equal(t, c.res.EncryptionKey, r.res.EncryptionKey)
	assert.NotEmpty(t, c.res.AttemptID)
	assert.True(t, c.res.Bonded)
	require.NotNil(t, c.res.PeerIdentity)
	assert.Equal(t, peripheralAddr, *c.res.PeerIdentity)

	// Both managers are done; flush the log before reading it back.
	require.NoError(t, p.central.Close())
	require.NoError(t, p.peripheral.Close())
	require.NoError(t, fileLogger.Close())
	assert.Zero(t, fileLogger.Dropped())

	// A fresh store sees the bond written to disk.
	reloaded := persistence.NewBondStore(filepath.Join(dir, "central.json"))
	keys, err := reloaded.Keys(peripheralAddr)
	require.NoError(t, err)
	var ltk *smp.Key
	for i := range keys {
		if keys[i].Type == smp.KeyTypeLTK {
			ltk = &keys[i]
		}
	}
	require.NotNil(t, ltk)
	assert.Equal(t, c.res.EncryptionKey, ltk.Value)
	assert.True(t, ltk.Authenticated)
	assert.True(t, ltk.SecureConnections)

	identity, err := reloaded.Identity(peripheralAddr)
	require.NoError(t, err)
	assert.Equal(t, peripheralAddr.String(), identity)

	category := log.CategoryState
	reader, err := log.NewFilteredReader(logPath, log.Filter{Category: &category})
	require.NoError(t, err)
	defer reader.Close()
	events, err := reader.All()
	require.NoError(t, err)

	roles := map[log.Role]bool{}
	complete := 0
	for _, ev := range events {
		roles[ev.LocalRole] = true
		if ev.StateChange != nil && ev.StateChange.NewState == smp.StateComplete.String() {
			complete++
		}
	}
	assert.True(t, roles[log.RoleInitiator])
	assert.True(t, roles[log.RoleResponder])
	assert.Equal(t, 2, complete)
}

func TestE2E_WrongPasskeyCountsFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := newPair(t, t.TempDir(), nil, true)
	require.NoError(t, p.central.Pair(peripheralAddr))

	c := await(t, ctx, p.centralH.outcomes)
	r := await(t, ctx, p.peripheralH.outcomes)
	require.Error(t, c.err)
	require.Error(t, r.err)
	assert.Equal(t, smp.ReasonConfirmValueFailed, smp.ReasonOf(c.err), "central: %v", c.err)
	assert.Equal(t, smp.ReasonConfirmValueFailed, smp.ReasonOf(r.err))

	// The confirm failure counts against the peer on both sides.
	assert.Equal(t, 1, p.central.Attempts().AttemptCount(peripheralAddr))
	assert.Equal(t, 1, p.peripheral.Attempts().AttemptCount(centralAddr))

	_, err := p.centralB.Keys(peripheralAddr)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Eventually(t, func() bool { return p.central.State(peripheralAddr) == smp.StateIdle },
		time.Second, 10*time.Millisecond)
}

package interactive

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mash-protocol/blesmp/pkg/loopback"
	"github.com/mash-protocol/blesmp/pkg/persistence"
	"github.com/mash-protocol/blesmp/pkg/smp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var (
	centralAddr    = smp.Address{Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x01}}
	peripheralAddr = smp.Address{Type: smp.AddressPublic, Addr: [6]byte{0x00, 0x1b, 0xdc, 0x00, 0x00, 0x02}}
)

func newTestConsole(t *testing.T, io smp.IOCapability, auth smp.AuthReq) (*Console, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	link := loopback.New(centralAddr, peripheralAddr, nil)
	c := newConsole(link, out)

	dir := t.TempDir()
	ends := map[string]*loopback.End{"central": link.A(), "peripheral": link.B()}
	for name, end := range ends {
		cfg := smp.DefaultConfig()
		cfg.IdentityAddress = end.Address()
		cfg.IOCapability = io
		cfg.AuthReq = auth

		bonds := persistence.NewBondStore(filepath.Join(dir, name+".json"))
		m, err := smp.NewManager(cfg, end, bonds, c.Handler(name))
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close() })

		end.Bind(m)
		c.Attach(&Device{Name: name, Manager: m, End: end, Bonds: bonds})
	}
	return c, out
}

func waitFor(t *testing.T, out *syncBuffer, text string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), text) },
		5*time.Second, 10*time.Millisecond, "output never showed %q:\n%s", text, out.String())
}

func TestConsolePairJustWorks(t *testing.T) {
	c, out := newTestConsole(t, smp.NoInputNoOutput, smp.AuthBond|smp.AuthSC)

	assert.True(t, c.Exec("pair"))
	waitFor(t, out, "[central] Paired with public/00:1b:dc:00:00:02: JustWorks")
	waitFor(t, out, "[peripheral] Paired with public/00:1b:dc:00:00:01: JustWorks")

	assert.True(t, c.Exec("bonds central"))
	waitFor(t, out, "public/00:1b:dc:00:00:02 (identity public/00:1b:dc:00:00:02)")

	assert.True(t, c.Exec("forget central"))
	assert.True(t, c.Exec("bonds central"))
	waitFor(t, out, "central has no bonds")
}

func TestConsoleNumericComparison(t *testing.T) {
	c, out := newTestConsole(t, smp.DisplayYesNo, smp.AuthBond|smp.AuthMITM|smp.AuthSC)

	assert.True(t, c.Exec("pair"))
	waitFor(t, out, "[central] Does the other device show")
	waitFor(t, out, "[peripheral] Does the other device show")

	assert.True(t, c.Exec("confirm central yes"))
	assert.True(t, c.Exec("confirm peripheral no"))
	waitFor(t, out, "[peripheral] Pairing with public/00:1b:dc:00:00:01 failed")
	waitFor(t, out, "[central] Pairing with public/00:1b:dc:00:00:02 failed")
}

func TestConsoleCommandErrors(t *testing.T) {
	c, out := newTestConsole(t, smp.NoInputNoOutput, smp.AuthBond|smp.AuthSC)

	for _, line := range []string{
		"passkey 123456",
		"passkey central abc",
		"confirm central maybe",
		"keypress central sneeze",
		"bredr central 00 8",
	} {
		assert.True(t, c.Exec(line), line)
	}
	output := out.String()
	assert.Contains(t, output, "name a device: central or peripheral")
	assert.Contains(t, output, `answer yes or no, not "maybe"`)
	assert.Contains(t, output, `unknown keypress "sneeze"`)
	assert.Contains(t, output, "link key must be 16 octets of hex")

	assert.True(t, c.Exec("frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")
	assert.True(t, c.Exec(""))
	assert.False(t, c.Exec("quit"))
}

func TestConsoleState(t *testing.T) {
	c, out := newTestConsole(t, smp.NoInputNoOutput, smp.AuthBond|smp.AuthSC)

	c.Exec("state")
	assert.Contains(t, out.String(), "state=Idle failures=0")
	c.Exec("oob")
	assert.Contains(t, out.String(), "central OOB record: ")
	assert.Contains(t, out.String(), "peripheral OOB record: ")
}

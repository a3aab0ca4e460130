// Package interactive provides the interactive command line of smp-pair.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/mash-protocol/blesmp/pkg/loopback"
	"github.com/mash-protocol/blesmp/pkg/persistence"
	"github.com/mash-protocol/blesmp/pkg/smp"
)

// Device is one side of the simulated link.
type Device struct {
	Name    string
	Manager *smp.Manager
	End     *loopback.End
	Bonds   *persistence.BondStore
}

// Console drives two devices from user commands and shows their prompts.
type Console struct {
	rl   *readline.Instance
	out  io.Writer
	link *loopback.Link

	mu      sync.Mutex
	devices map[string]*Device
	oob     map[string]*smp.OOBData
}

// New creates a console writing through a readline prompt.
func New(link *loopback.Link) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "smp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(link, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(link *loopback.Link, out io.Writer) *Console {
	return &Console{
		out:     out,
		link:    link,
		devices: make(map[string]*Device),
		oob:     make(map[string]*smp.OOBData),
	}
}

// Stdout returns a writer that coordinates with the prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Handler returns the smp.Handler for the device called name. It is
// created before the device's Manager, so Attach must follow.
func (c *Console) Handler(name string) smp.Handler {
	return &deviceHandler{c: c, name: name}
}

// Attach registers a device under its name.
func (c *Console) Attach(d *Device) {
	c.mu.Lock()
	c.devices[d.Name] = d
	c.mu.Unlock()
}

func (c *Console) device(name string) (*Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[name]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", name)
	}
	return d, nil
}

// other returns the device on the far end of d's link.
func (c *Console) other(d *Device) *Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.devices {
		if o != d {
			return o
		}
	}
	return nil
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Run reads commands until quit or EOF.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
		if !c.Exec(line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the user quits.
func (c *Console) Exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "pair":
		err = c.withDevice(args, "central", func(d *Device, _ []string) error {
			return d.Manager.Pair(c.other(d).End.Address())
		})
	case "secreq":
		err = c.withDevice(args, "peripheral", func(d *Device, _ []string) error {
			return d.Manager.RequestSecurity(c.other(d).End.Address())
		})
	case "bredr":
		err = c.withDevice(args, "central", c.cmdBREDR)
	case "passkey", "pk":
		err = c.withDevice(args, "", c.cmdPasskey)
	case "confirm":
		err = c.withDevice(args, "", c.cmdConfirm)
	case "keypress":
		err = c.withDevice(args, "", c.cmdKeypress)
	case "oob":
		err = c.cmdOOB()
	case "cancel":
		err = c.withDevice(args, "central", func(d *Device, _ []string) error {
			return d.Manager.Cancel(c.other(d).End.Address())
		})
	case "disconnect":
		c.link.Disconnect()
	case "reconnect":
		c.link.Reconnect()
	case "state":
		c.cmdState()
	case "bonds":
		err = c.withDevice(args, "central", c.cmdBonds)
	case "forget":
		err = c.withDevice(args, "central", func(d *Device, _ []string) error {
			return d.Bonds.Delete(c.other(d).End.Address())
		})
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false
	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		c.printf("Error: %v\n", err)
	}
	return true
}

// withDevice resolves the device named by the first argument, or def when
// no device is named, and runs fn with the remaining arguments.
func (c *Console) withDevice(args []string, def string, fn func(*Device, []string) error) error {
	name := def
	if len(args) > 0 && (args[0] == "central" || args[0] == "peripheral") {
		name, args = args[0], args[1:]
	}
	if name == "" {
		return errors.New("name a device: central or peripheral")
	}
	d, err := c.device(name)
	if err != nil {
		return err
	}
	return fn(d, args)
}

func (c *Console) cmdBREDR(d *Device, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: bredr [device] <link-key-hex> <type>")
	}
	raw, err := hex.DecodeString(args[0])
	if err != nil || len(raw) != 16 {
		return errors.New("link key must be 16 octets of hex")
	}
	typ, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("link key type: %w", err)
	}
	var lk [16]byte
	copy(lk[:], raw)
	return d.Manager.PairOverBREDR(c.other(d).End.Address(), lk, smp.LinkKeyType(typ))
}

func (c *Console) cmdPasskey(d *Device, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: passkey <device> <digits|reject>")
	}
	peer := c.other(d).End.Address()
	if args[0] == "reject" {
		return d.Manager.PasskeyReply(peer, 0, false)
	}
	pk, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("passkey: %w", err)
	}
	return d.Manager.PasskeyReply(peer, uint32(pk), true)
}

func (c *Console) cmdConfirm(d *Device, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: confirm <device> yes|no")
	}
	var ok bool
	switch strings.ToLower(args[0]) {
	case "yes", "y":
		ok = true
	case "no", "n":
	default:
		return fmt.Errorf("answer yes or no, not %q", args[0])
	}
	return d.Manager.ConfirmReply(c.other(d).End.Address(), ok)
}

var keypressNames = map[string]smp.KeypressType{
	"started":   smp.KeypressEntryStarted,
	"entered":   smp.KeypressDigitEntered,
	"erased":    smp.KeypressDigitErased,
	"cleared":   smp.KeypressCleared,
	"completed": smp.KeypressEntryCompleted,
}

func (c *Console) cmdKeypress(d *Device, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: keypress <device> started|entered|erased|cleared|completed")
	}
	kind, ok := keypressNames[args[0]]
	if !ok {
		return fmt.Errorf("unknown keypress %q", args[0])
	}
	return d.Manager.KeypressNotify(c.other(d).End.Address(), kind)
}

// cmdOOB generates fresh out-of-band records for both devices. Each
// device answers OOB requests with the other's record.
func (c *Console) cmdOOB() error {
	for _, name := range []string{"central", "peripheral"} {
		d, err := c.device(name)
		if err != nil {
			return err
		}
		data, err := d.Manager.GenerateOOBData()
		if err != nil {
			return err
		}
		raw, err := data.Encode()
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.oob[name] = data
		c.mu.Unlock()
		c.printf("%s OOB record: %s\n", name, hex.EncodeToString(raw))
	}
	return nil
}

func (c *Console) cmdState() {
	for _, name := range []string{"central", "peripheral"} {
		d, err := c.device(name)
		if err != nil {
			continue
		}
		peer := c.other(d).End.Address()
		c.printf("%-10s %s  state=%s failures=%d\n", name, d.End.Address(),
			d.Manager.State(peer), d.Manager.Attempts().AttemptCount(peer))
	}
}

func (c *Console) cmdBonds(d *Device, _ []string) error {
	addrs, err := d.Bonds.Bonds()
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		c.printf("%s has no bonds\n", d.Name)
		return nil
	}
	for _, addr := range addrs {
		keys, err := d.Bonds.Keys(addr)
		if err != nil {
			return err
		}
		identity, _ := d.Bonds.Identity(addr)
		c.printf("%s", addr)
		if identity != "" {
			c.printf(" (identity %s)", identity)
		}
		c.printf("\n")
		for _, k := range keys {
			origin := "peer"
			if k.Local {
				origin = "local"
			}
			c.printf("  %-7s %-5s size=%d authenticated=%v\n", k.Type, origin, k.Size, k.Authenticated)
		}
	}
	return nil
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
SMP Pairing Commands:
  Pairing:
    pair [device]                  - Start pairing (default: central)
    secreq [device]                - Send a Security Request (default: peripheral)
    bredr [device] <lk-hex> <type> - Derive LE keys from a BR/EDR link key
    cancel [device]                - Abort the current attempt

  User input:
    passkey <device> <digits>      - Enter the displayed passkey (or "reject")
    confirm <device> yes|no        - Answer a numeric comparison
    keypress <device> <kind>       - Send a keypress notification
    oob                            - Generate OOB records for both devices

  Link:
    disconnect                     - Drop the link
    reconnect                      - Bring the link back up

  Status:
    state                          - Show pairing state of both devices
    bonds [device]                 - List stored bonds
    forget [device]                - Delete the bond with the other device

  Other:
    help                           - Show this help
    quit                           - Exit`)
}

// deviceHandler reports one device's prompts and outcomes on the console.
type deviceHandler struct {
	smp.BaseHandler
	c    *Console
	name string
}

func (h *deviceHandler) IOCapabilityRequest(_ smp.Address, defaults smp.PairingParams) smp.PairingParams {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	for name := range h.c.oob {
		if name != h.name {
			defaults.OOBDataFlag = true
		}
	}
	return defaults
}

func (h *deviceHandler) PasskeyDisplay(_ smp.Address, passkey uint32) {
	h.c.printf("[%s] Passkey: %06d\n", h.name, passkey)
}

func (h *deviceHandler) PasskeyRequest(smp.Address) {
	h.c.printf("[%s] Enter the passkey: passkey %s <digits>\n", h.name, h.name)
}

func (h *deviceHandler) NumericComparison(_ smp.Address, value uint32) {
	h.c.printf("[%s] Does the other device show %06d? confirm %s yes|no\n", h.name, value, h.name)
}

func (h *deviceHandler) OOBRequest(addr smp.Address, secure bool) {
	d, err := h.c.device(h.name)
	if err != nil {
		return
	}

	h.c.mu.Lock()
	var peer *smp.OOBData
	for name, data := range h.c.oob {
		if name != h.name {
			peer = data
		}
	}
	h.c.mu.Unlock()

	if !secure || peer == nil {
		h.c.printf("[%s] No out-of-band data, declining\n", h.name)
		_ = d.Manager.OOBReply(addr, smp.OOBResponse{}, false)
		return
	}
	_ = d.Manager.OOBReply(addr, smp.OOBResponse{Peer: peer}, true)
}

func (h *deviceHandler) KeypressNotification(_ smp.Address, kind smp.KeypressType) {
	h.c.printf("[%s] Peer keypress: %d\n", h.name, kind)
}

func (h *deviceHandler) PairingComplete(addr smp.Address, res smp.Result) {
	h.c.printf("[%s] Paired with %s: %s, %s, key size %d, bonded=%v\n",
		h.name, addr, res.Model, res.Level, res.KeySize, res.Bonded)
}

func (h *deviceHandler) PairingFailed(addr smp.Address, err error) {
	h.c.printf("[%s] Pairing with %s failed: %v\n", h.name, addr, err)
}

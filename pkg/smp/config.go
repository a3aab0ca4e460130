package smp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mash-protocol/blesmp/pkg/interop"
	"github.com/mash-protocol/blesmp/pkg/log"
	"github.com/mash-protocol/blesmp/pkg/watchdog"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate and NewManager.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config configures a Manager.
type Config struct {
	// IOCapability is advertised in Pairing Request and Response PDUs.
	IOCapability IOCapability

	// AuthReq holds the requested authentication flags.
	AuthReq AuthReq

	// EnforceAuthReq fails pairing when the selected model cannot deliver
	// the MITM or SC flags in AuthReq.
	EnforceAuthReq bool

	// SecureConnectionsOnly rejects legacy pairing and unauthenticated
	// secure connections.
	SecureConnectionsOnly bool

	// MaxKeySize is the advertised maximum encryption key size.
	MaxKeySize uint8

	// MinKeySize is the smallest negotiated key size accepted.
	MinKeySize uint8

	// InitiatorKeys and ResponderKeys are the key distribution intent.
	InitiatorKeys KeyDist
	ResponderKeys KeyDist

	// Timeout is the Security Manager transaction timeout.
	Timeout time.Duration

	// AwaitTxComplete defers completion until the transport has
	// acknowledged every sent PDU through Manager.TxComplete.
	AwaitTxComplete bool

	// BackoffTiers are the delays enforced after repeated authentication
	// failures from one peer: attempts 1-3, 4-6, 7-10 and 11+.
	BackoffTiers [4]time.Duration

	// IdentityAddress is the local address, used in confirm and check
	// values and distributed with the IRK.
	IdentityAddress Address

	// IR and ER are the identity and encryption roots. Zero roots are
	// replaced with random ones by NewManager.
	IR [16]byte
	ER [16]byte

	// Interop looks up peer workarounds. Nil disables them.
	Interop func(interop.Feature, [6]byte) bool

	// Rand is the randomness source. Nil selects crypto/rand.
	Rand io.Reader

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures PDUs, state changes and failures.
	// If nil, capture is disabled.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IOCapability:    NoInputNoOutput,
		AuthReq:         AuthBond | AuthSC,
		MaxKeySize:      MaxEncryptionKeySize,
		MinKeySize:      MinEncryptionKeySize,
		InitiatorKeys:   KeyEnc | KeyID | KeySign,
		ResponderKeys:   KeyEnc | KeyID | KeySign,
		Timeout:         watchdog.DefaultDuration,
		AwaitTxComplete: true,
		BackoffTiers:    [4]time.Duration{0, 2 * time.Second, 10 * time.Second, time.Minute},
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.IOCapability >= numIOCapabilities {
		return fmt.Errorf("%w: io capability %d", ErrInvalidConfig, c.IOCapability)
	}
	if c.AuthReq&^authValidMask != 0 {
		return fmt.Errorf("%w: auth req 0x%02x", ErrInvalidConfig, uint8(c.AuthReq))
	}
	if c.MaxKeySize < MinEncryptionKeySize || c.MaxKeySize > MaxEncryptionKeySize {
		return fmt.Errorf("%w: max key size %d", ErrInvalidConfig, c.MaxKeySize)
	}
	if c.MinKeySize < MinEncryptionKeySize || c.MinKeySize > c.MaxKeySize {
		return fmt.Errorf("%w: min key size %d", ErrInvalidConfig, c.MinKeySize)
	}
	if c.InitiatorKeys&^keyDistMask != 0 || c.ResponderKeys&^keyDistMask != 0 {
		return fmt.Errorf("%w: key distribution", ErrInvalidConfig)
	}
	if c.Timeout < watchdog.MinDuration || c.Timeout > watchdog.MaxDuration {
		return fmt.Errorf("%w: timeout %v", ErrInvalidConfig, c.Timeout)
	}
	if c.SecureConnectionsOnly && !c.AuthReq.Has(AuthSC) {
		return fmt.Errorf("%w: secure connections only without sc", ErrInvalidConfig)
	}
	if c.IdentityAddress.Type > AddressRandom {
		return fmt.Errorf("%w: identity address type", ErrInvalidConfig)
	}
	return nil
}

// DeriveRoots derives the identity and encryption roots from a device
// seed with HKDF-SHA256.
func DeriveRoots(seed []byte) (ir, er [16]byte, err error) {
	if len(seed) < 16 {
		return ir, er, fmt.Errorf("%w: seed shorter than 16 octets", ErrInvalidConfig)
	}
	r := hkdf.New(sha256.New, seed, nil, []byte("smp identity root"))
	if _, err := io.ReadFull(r, ir[:]); err != nil {
		return ir, er, err
	}
	r = hkdf.New(sha256.New, seed, nil, []byte("smp encryption root"))
	if _, err := io.ReadFull(r, er[:]); err != nil {
		return ir, er, err
	}
	return ir, er, nil
}

// FileConfig is the YAML form of Config.
type FileConfig struct {
	IOCapability          string         `yaml:"io_capability"`
	Auth                  []string       `yaml:"auth"`
	EnforceAuth           bool           `yaml:"enforce_auth"`
	SecureConnectionsOnly bool           `yaml:"secure_connections_only"`
	MaxKeySize            uint8          `yaml:"max_key_size"`
	MinKeySize            uint8          `yaml:"min_key_size"`
	InitiatorKeys         []string       `yaml:"initiator_keys"`
	ResponderKeys         []string       `yaml:"responder_keys"`
	Timeout               string         `yaml:"timeout"`
	AwaitTxComplete       *bool          `yaml:"await_tx_complete"`
	Backoff               []string       `yaml:"backoff"`
	IdentityAddress       string         `yaml:"identity_address"`
	Seed                  string         `yaml:"seed"`
	IR                    string         `yaml:"ir"`
	ER                    string         `yaml:"er"`
	Interop               []InteropEntry `yaml:"interop"`

	// NoDefaultInterop leaves out the built-in workaround table, so only
	// the Interop entries apply.
	NoDefaultInterop bool `yaml:"no_default_interop"`
}

// InteropEntry is one workaround in a FileConfig.
type InteropEntry struct {
	Feature string `yaml:"feature"`
	Prefix  string `yaml:"prefix"`
}

// LoadConfig reads a YAML config file. Unset fields keep DefaultConfig
// values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML config.
func ParseConfig(data []byte) (Config, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fc.Config()
}

// Config converts fc to a validated Config.
func (fc *FileConfig) Config() (Config, error) {
	cfg := DefaultConfig()
	var err error

	if fc.IOCapability != "" {
		if cfg.IOCapability, err = ParseIOCapability(fc.IOCapability); err != nil {
			return Config{}, err
		}
	}
	if fc.Auth != nil {
		if cfg.AuthReq, err = parseAuth(fc.Auth); err != nil {
			return Config{}, err
		}
	}
	cfg.EnforceAuthReq = fc.EnforceAuth
	cfg.SecureConnectionsOnly = fc.SecureConnectionsOnly
	if fc.MaxKeySize != 0 {
		cfg.MaxKeySize = fc.MaxKeySize
	}
	if fc.MinKeySize != 0 {
		cfg.MinKeySize = fc.MinKeySize
	}
	if fc.InitiatorKeys != nil {
		if cfg.InitiatorKeys, err = parseKeys(fc.InitiatorKeys); err != nil {
			return Config{}, err
		}
	}
	if fc.ResponderKeys != nil {
		if cfg.ResponderKeys, err = parseKeys(fc.ResponderKeys); err != nil {
			return Config{}, err
		}
	}
	if fc.Timeout != "" {
		if cfg.Timeout, err = time.ParseDuration(fc.Timeout); err != nil {
			return Config{}, fmt.Errorf("%w: timeout: %v", ErrInvalidConfig, err)
		}
	}
	if fc.AwaitTxComplete != nil {
		cfg.AwaitTxComplete = *fc.AwaitTxComplete
	}
	if fc.Backoff != nil {
		if len(fc.Backoff) != len(cfg.BackoffTiers) {
			return Config{}, fmt.Errorf("%w: backoff needs %d tiers", ErrInvalidConfig, len(cfg.BackoffTiers))
		}
		for i, s := range fc.Backoff {
			if cfg.BackoffTiers[i], err = time.ParseDuration(s); err != nil {
				return Config{}, fmt.Errorf("%w: backoff: %v", ErrInvalidConfig, err)
			}
		}
	}
	if fc.IdentityAddress != "" {
		if cfg.IdentityAddress, err = ParseAddress(fc.IdentityAddress); err != nil {
			return Config{}, err
		}
	}
	if fc.Seed != "" {
		seed, err := hex.DecodeString(fc.Seed)
		if err != nil {
			return Config{}, fmt.Errorf("%w: seed: %v", ErrInvalidConfig, err)
		}
		if cfg.IR, cfg.ER, err = DeriveRoots(seed); err != nil {
			return Config{}, err
		}
	}
	if fc.IR != "" {
		if cfg.IR, err = parseKey(fc.IR); err != nil {
			return Config{}, err
		}
	}
	if fc.ER != "" {
		if cfg.ER, err = parseKey(fc.ER); err != nil {
			return Config{}, err
		}
	}
	var table interop.Table
	if !fc.NoDefaultInterop {
		table = interop.DefaultTable()
	}
	for _, e := range fc.Interop {
		entry, err := interop.Parse(e.Feature, e.Prefix)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		table = append(table, entry)
	}
	if len(table) > 0 {
		cfg.Interop = table.Lookup()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseAuth(names []string) (AuthReq, error) {
	var a AuthReq
	for _, n := range names {
		switch n {
		case "bond":
			a |= AuthBond
		case "mitm":
			a |= AuthMITM
		case "sc":
			a |= AuthSC
		case "keypress":
			a |= AuthKeypress
		case "ct2":
			a |= AuthCT2
		default:
			return 0, fmt.Errorf("%w: unknown auth flag %q", ErrInvalidConfig, n)
		}
	}
	return a, nil
}

func parseKeys(names []string) (KeyDist, error) {
	var k KeyDist
	for _, n := range names {
		found := false
		for _, f := range keyOrder {
			if keyDistName(f) == n {
				k |= f
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown key type %q", ErrInvalidConfig, n)
		}
	}
	return k, nil
}

func parseKey(s string) ([16]byte, error) {
	var k [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(k) {
		return k, fmt.Errorf("%w: key %q must be 32 hex digits", ErrInvalidConfig, s)
	}
	copy(k[:], b)
	return k, nil
}

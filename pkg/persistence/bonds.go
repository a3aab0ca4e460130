package persistence

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mash-protocol/blesmp/pkg/smp"
)

// StoreVersion is the current version of the bond file format.
const StoreVersion = 1

// ErrNotFound is returned when no bond exists for an address.
var ErrNotFound = errors.New("persistence: bond not found")

// Bond contains the keys exchanged with one peer.
type Bond struct {
	// Address is the address the peer paired from.
	Address string `json:"address"`

	// Identity is the identity address the peer distributed, if any.
	Identity string `json:"identity,omitempty"`

	// UpdatedAt is when a key was last stored for this peer.
	UpdatedAt time.Time `json:"updated_at"`

	Keys []KeyRecord `json:"keys"`
}

// KeyRecord is the serialized form of smp.Key.
type KeyRecord struct {
	Type              string `json:"type"`
	Local             bool   `json:"local,omitempty"`
	Value             string `json:"value"`
	EDIV              uint16 `json:"ediv,omitempty"`
	Rand              string `json:"rand,omitempty"`
	Size              uint8  `json:"size,omitempty"`
	Authenticated     bool   `json:"authenticated,omitempty"`
	SecureConnections bool   `json:"secure_connections,omitempty"`
	Address           string `json:"address,omitempty"`
	LinkKeyType       uint8  `json:"link_key_type,omitempty"`
}

type bondFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Bonds   []*Bond   `json:"bonds,omitempty"`
}

// BondStore manages persistence of bonds to a JSON file.
type BondStore struct {
	mu     sync.Mutex
	path   string
	bonds  map[smp.Address]*Bond
	loaded bool
	now    func() time.Time
}

// NewBondStore creates a bond store backed by path. The file is read on
// first use.
func NewBondStore(path string) *BondStore {
	return &BondStore{path: path, now: time.Now}
}

// SaveKey records key for addr and writes the store. A key replaces an
// earlier one of the same type and origin.
func (s *BondStore) SaveKey(addr smp.Address, key smp.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	b, ok := s.bonds[addr]
	if !ok {
		b = &Bond{Address: addr.String()}
		s.bonds[addr] = b
	}

	rec := encodeKey(key)
	replaced := false
	for i := range b.Keys {
		if b.Keys[i].Type == rec.Type && b.Keys[i].Local == rec.Local {
			b.Keys[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		b.Keys = append(b.Keys, rec)
	}
	if key.Type == smp.KeyTypeIRK && !key.Local {
		b.Identity = key.Address.String()
	}
	b.UpdatedAt = s.now()

	return s.saveLocked()
}

// LinkKey returns the BR/EDR link key stored for addr. The bond is found by
// pairing address, identity address or the BR/EDR address of the key.
func (s *BondStore) LinkKey(addr smp.Address) ([16]byte, smp.LinkKeyType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return [16]byte{}, 0, false
	}

	want := addr.String()
	for a, b := range s.bonds {
		for _, rec := range b.Keys {
			if rec.Type != smp.KeyTypeLinkKey.String() {
				continue
			}
			if a != addr && b.Identity != want && rec.Address != want {
				continue
			}
			k, err := decodeKey(rec)
			if err != nil {
				return [16]byte{}, 0, false
			}
			return k.Value, k.LinkKeyType, true
		}
	}
	return [16]byte{}, 0, false
}

// Keys returns the stored keys of the bond for addr.
func (s *BondStore) Keys(addr smp.Address) ([]smp.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	b, ok := s.bonds[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	keys := make([]smp.Key, 0, len(b.Keys))
	for _, rec := range b.Keys {
		k, err := decodeKey(rec)
		if err != nil {
			return nil, fmt.Errorf("bond %s: %w", addr, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Identity returns the identity address the peer bonded at addr
// distributed. It is empty when the peer sent none.
func (s *BondStore) Identity(addr smp.Address) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return "", err
	}
	b, ok := s.bonds[addr]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return b.Identity, nil
}

// Bonds returns the addresses of all bonded peers in string order.
func (s *BondStore) Bonds() ([]smp.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make([]smp.Address, 0, len(s.bonds))
	for a := range s.bonds {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// Resolve maps a resolvable private address to the bond whose peer IRK
// generated it.
func (s *BondStore) Resolve(rpa smp.Address) (smp.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil || !rpa.IsResolvable() {
		return smp.Address{}, false
	}
	for a, b := range s.bonds {
		for _, rec := range b.Keys {
			if rec.Type != smp.KeyTypeIRK.String() || rec.Local {
				continue
			}
			k, err := decodeKey(rec)
			if err != nil {
				continue
			}
			if smp.ResolveAddress(rpa, k.Value) {
				return a, true
			}
		}
	}
	return smp.Address{}, false
}

// Delete removes the bond for addr.
func (s *BondStore) Delete(addr smp.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.bonds[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	delete(s.bonds, addr)
	return s.saveLocked()
}

// Clear removes the bond file.
func (s *BondStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bonds = map[smp.Address]*Bond{}
	s.loaded = true

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *BondStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	s.bonds = map[smp.Address]*Bond{}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return err
	}

	var f bondFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("bond file %s: %w", s.path, err)
	}
	if f.Version != StoreVersion {
		return fmt.Errorf("bond file %s: unsupported version %d", s.path, f.Version)
	}
	for _, b := range f.Bonds {
		addr, err := smp.ParseAddress(b.Address)
		if err != nil {
			return fmt.Errorf("bond file %s: %w", s.path, err)
		}
		s.bonds[addr] = b
	}
	s.loaded = true
	return nil
}

func (s *BondStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	f := bondFile{Version: StoreVersion, SavedAt: s.now()}
	for _, b := range s.bonds {
		f.Bonds = append(f.Bonds, b)
	}
	sort.Slice(f.Bonds, func(i, j int) bool { return f.Bonds[i].Address < f.Bonds[j].Address })

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	// Replace atomically.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func encodeKey(k smp.Key) KeyRecord {
	rec := KeyRecord{
		Type:              k.Type.String(),
		Local:             k.Local,
		Value:             hex.EncodeToString(k.Value[:]),
		EDIV:              k.EDIV,
		Size:              k.Size,
		Authenticated:     k.Authenticated,
		SecureConnections: k.SecureConnections,
		LinkKeyType:       uint8(k.LinkKeyType),
	}
	if k.Rand != [8]byte{} {
		rec.Rand = hex.EncodeToString(k.Rand[:])
	}
	if k.Address != (smp.Address{}) {
		rec.Address = k.Address.String()
	}
	return rec
}

func decodeKey(rec KeyRecord) (smp.Key, error) {
	k := smp.Key{
		Local:             rec.Local,
		EDIV:              rec.EDIV,
		Size:              rec.Size,
		Authenticated:     rec.Authenticated,
		SecureConnections: rec.SecureConnections,
		LinkKeyType:       smp.LinkKeyType(rec.LinkKeyType),
	}

	switch rec.Type {
	case smp.KeyTypeLTK.String():
		k.Type = smp.KeyTypeLTK
	case smp.KeyTypeIRK.String():
		k.Type = smp.KeyTypeIRK
	case smp.KeyTypeCSRK.String():
		k.Type = smp.KeyTypeCSRK
	case smp.KeyTypeLinkKey.String():
		k.Type = smp.KeyTypeLinkKey
	default:
		return smp.Key{}, fmt.Errorf("unknown key type %q", rec.Type)
	}

	if err := decodeHex(rec.Value, k.Value[:]); err != nil {
		return smp.Key{}, fmt.Errorf("%s value: %w", rec.Type, err)
	}
	if rec.Rand != "" {
		if err := decodeHex(rec.Rand, k.Rand[:]); err != nil {
			return smp.Key{}, fmt.Errorf("%s rand: %w", rec.Type, err)
		}
	}
	if rec.Address != "" {
		a, err := smp.ParseAddress(rec.Address)
		if err != nil {
			return smp.Key{}, err
		}
		k.Address = a
	}
	return k, nil
}

func decodeHex(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("length %d, want %d", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

// Package interop holds the address-prefix table of peer interoperability
// workarounds.
//
// A lookup is a pure function of a feature and a device address: the
// pairing engine asks whether a workaround applies to a peer before it
// commits to a behavior, and never mutates the table.
package interop

import (
	"bytes"
	"fmt"
)

// Feature identifies one workaround.
type Feature uint8

const (
	// DisableLESecureConnections forces legacy pairing with peers whose
	// secure connections implementation is known to be broken.
	DisableLESecureConnections Feature = iota + 1

	// AutoRetryPairing re-attempts pairing once after a page timeout.
	AutoRetryPairing
)

// String returns the feature name.
func (f Feature) String() string {
	switch f {
	case DisableLESecureConnections:
		return "DISABLE_LE_SECURE_CONNECTIONS"
	case AutoRetryPairing:
		return "AUTO_RETRY_PAIRING"
	default:
		return fmt.Sprintf("FEATURE(%d)", uint8(f))
	}
}

// Entry matches every address starting with Prefix. Prefix is in display
// order, most significant octet first, and holds at most 6 octets.
type Entry struct {
	Feature Feature
	Prefix  []byte
}

// Table is an ordered list of entries.
type Table []Entry

// Match reports whether a workaround for feature applies to addr.
// addr is in display order.
func (t Table) Match(feature Feature, addr [6]byte) bool {
	for _, e := range t {
		if e.Feature != feature || len(e.Prefix) == 0 || len(e.Prefix) > len(addr) {
			continue
		}
		if bytes.HasPrefix(addr[:], e.Prefix) {
			return true
		}
	}
	return false
}

// Lookup returns Match as a plain function value.
func (t Table) Lookup() func(Feature, [6]byte) bool {
	return t.Match
}

// None is a lookup that never matches.
func None(Feature, [6]byte) bool { return false }

// DefaultTable returns the built-in workaround list.
func DefaultTable() Table {
	return Table{
		// Car kits that fail the DHKey check.
		{Feature: DisableLESecureConnections, Prefix: []byte{0x08, 0x62, 0x66}},
		{Feature: DisableLESecureConnections, Prefix: []byte{0x38, 0x2c, 0x4a, 0xc9}},
		{Feature: DisableLESecureConnections, Prefix: []byte{0x38, 0x2c, 0x4a, 0xe6}},
		{Feature: DisableLESecureConnections, Prefix: []byte{0x00, 0x1d, 0x86}},
		{Feature: DisableLESecureConnections, Prefix: []byte{0xf4, 0x5e, 0xab}},

		// Headsets that drop the first page.
		{Feature: AutoRetryPairing, Prefix: []byte{0x94, 0x44, 0x52}},
		{Feature: AutoRetryPairing, Prefix: []byte{0x00, 0x1f, 0x20}},
	}
}

// Parse builds an entry from a feature name and a colon separated prefix,
// e.g. "AUTO_RETRY_PAIRING", "94:44:52".
func Parse(feature, prefix string) (Entry, error) {
	var f Feature
	switch feature {
	case DisableLESecureConnections.String():
		f = DisableLESecureConnections
	case AutoRetryPairing.String():
		f = AutoRetryPairing
	default:
		return Entry{}, fmt.Errorf("interop: unknown feature %q", feature)
	}

	var p []byte
	for i := 0; i < len(prefix); {
		if len(p) == 6 {
			return Entry{}, fmt.Errorf("interop: prefix %q too long", prefix)
		}
		var b byte
		if _, err := fmt.Sscanf(prefix[i:min(i+2, len(prefix))], "%02x", &b); err != nil || i+2 > len(prefix) {
			return Entry{}, fmt.Errorf("interop: invalid prefix %q", prefix)
		}
		p = append(p, b)
		i += 2
		if i < len(prefix) {
			if prefix[i] != ':' {
				return Entry{}, fmt.Errorf("interop: invalid prefix %q", prefix)
			}
			i++
			if i == len(prefix) {
				return Entry{}, fmt.Errorf("interop: invalid prefix %q", prefix)
			}
		}
	}
	if len(p) == 0 {
		return Entry{}, fmt.Errorf("interop: empty prefix")
	}
	return Entry{Feature: f, Prefix: p}, nil
}

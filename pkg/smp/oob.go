package smp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/mash-protocol/blesmp/pkg/ecc"
	"github.com/mash-protocol/blesmp/pkg/field"
	"github.com/mash-protocol/blesmp/pkg/smpcrypto"
)

// OOBData is the secure connections out-of-band record a device hands to
// its peer: its address, the confirm value f4(PKx, PKx, r, 0) and r.
type OOBData struct {
	Address Address  `cbor:"1,keyasint"`
	Confirm [16]byte `cbor:"2,keyasint"`
	Random  [16]byte `cbor:"3,keyasint"`
}

// Encode serialises d for an out-of-band channel such as NFC.
func (d *OOBData) Encode() ([]byte, error) {
	return cbor.Marshal(d)
}

// DecodeOOBData parses an encoded OOBData.
func DecodeOOBData(data []byte) (*OOBData, error) {
	var d OOBData
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("smp: decode oob data: %w", err)
	}
	return &d, nil
}

// OOBResponse answers Handler.OOBRequest.
type OOBResponse struct {
	// TK is the legacy temporary key.
	TK [16]byte

	// Peer is the peer's secure connections OOB data.
	Peer *OOBData
}

// localOOB is the key pair and randomizer behind the local OOBData. The
// same key pair is used for every pairing whose peer holds the data.
type localOOB struct {
	priv field.Int[field.P256]
	x, y [32]byte
	r    [16]byte
	data OOBData
}

func newLocalOOB(c *ecc.Params[field.P256], rnd func([]byte) error, addr Address) (*localOOB, error) {
	var lo localOOB
	if err := rnd(lo.r[:]); err != nil {
		return nil, err
	}
	priv, pub, err := c.GenerateKey(randReader(rnd))
	if err != nil {
		return nil, err
	}
	lo.priv = priv
	copy(lo.x[:], field.Bytes(&pub.X))
	copy(lo.y[:], field.Bytes(&pub.Y))
	lo.data = OOBData{
		Address: addr,
		Confirm: smpcrypto.F4(lo.x, lo.x, lo.r, 0),
		Random:  lo.r,
	}
	return &lo, nil
}

// checkOOB verifies a peer public key against its OOB confirm value.
func checkOOB(d *OOBData, peerX [32]byte) bool {
	return smpcrypto.F4(peerX, peerX, d.Random, 0) == d.Confirm
}

// randReader adapts a fill function to io.Reader.
type randReader func([]byte) error

func (f randReader) Read(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ResolveAddress reports whether the resolvable private address addr was
// generated from irk.
func ResolveAddress(addr Address, irk [16]byte) bool {
	if !addr.IsResolvable() {
		return false
	}
	prand := [3]byte{addr.Addr[0], addr.Addr[1], addr.Addr[2]}
	hash := smpcrypto.AH(irk, prand)
	return hash == [3]byte{addr.Addr[3], addr.Addr[4], addr.Addr[5]}
}

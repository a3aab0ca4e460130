package smp

import (
	"testing"

	"github.com/mash-protocol/blesmp/pkg/smpcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOOBData(t *testing.T) {
	m, err := NewManager(testConfig(addrA), &scriptPeer{}, nil, nil)
	require.NoError(t, err)
	defer m.Close()

	d, err := m.GenerateOOBData()
	require.NoError(t, err)
	assert.Equal(t, addrA, d.Address)

	lo := m.localOOB()
	require.NotNil(t, lo)
	assert.True(t, checkOOB(d, lo.x))
	assert.Equal(t, lo.r, d.Random)

	var other [32]byte
	copy(other[:], lo.x[:])
	other[31] ^= 1
	assert.False(t, checkOOB(d, other))

	// A new record replaces the key pair.
	d2, err := m.GenerateOOBData()
	require.NoError(t, err)
	assert.NotEqual(t, d.Confirm, d2.Confirm)
	assert.NotEqual(t, lo.x, m.localOOB().x)
}

func TestOOBDataEncoding(t *testing.T) {
	d := &OOBData{
		Address: addrB,
		Confirm: [16]byte{1, 2, 3},
		Random:  [16]byte{4, 5, 6},
	}
	raw, err := d.Encode()
	require.NoError(t, err)

	got, err := DecodeOOBData(raw)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = DecodeOOBData([]byte{0x01})
	assert.Error(t, err)
}

func TestResolveAddress(t *testing.T) {
	irk := [16]byte{0xec, 0x02, 0x34, 0xa3, 0x57, 0xc8, 0xad, 0x05, 0x34, 0x10, 0x10, 0xa6, 0x0a, 0x39, 0x7d, 0x9b}
	prand := [3]byte{0x70, 0x81, 0x94}
	hash := smpcrypto.AH(irk, prand)

	rpa := Address{Type: AddressRandom, Addr: [6]byte{prand[0], prand[1], prand[2], hash[0], hash[1], hash[2]}}
	assert.True(t, rpa.IsResolvable())
	assert.True(t, ResolveAddress(rpa, irk))

	other := irk
	other[0] ^= 0xff
	assert.False(t, ResolveAddress(rpa, other))

	// Only resolvable private addresses resolve.
	public := rpa
	public.Type = AddressPublic
	assert.False(t, ResolveAddress(public, irk))
	static := rpa
	static.Addr[0] |= 0xc0
	assert.False(t, ResolveAddress(static, irk))
}

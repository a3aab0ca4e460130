package smpcrypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func h16(t *testing.T, s string) [KeySize]byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, KeySize)
	var out [KeySize]byte
	copy(out[:], b)
	return out
}

func h32(t *testing.T, s string) [PublicKeySize]byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, PublicKeySize)
	var out [PublicKeySize]byte
	copy(out[:], b)
	return out
}

func h7b(t *testing.T, s string) [AddressSize]byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	require.Len(t, b, AddressSize)
	var out [AddressSize]byte
	copy(out[:], b)
	return out
}

// Sample data shared by the secure connections functions.
const (
	sampleU  = "20b003d2f297be2c5e2c83a7e9f9a5b9eff49111acf4fddbcc0301480e359de6"
	sampleV  = "55188b3d32f6bb9a900afcfbeed4e72a59cb9ac2f19d7cfb6b4fdd49f47fc5fd"
	sampleX  = "d5cb8454d177733effffb2ec712baeab"
	sampleY  = "a6e8e7cc25a75f6e216583f7ff3dc4cf"
	sampleW  = "ec0234a357c8ad05341010a60a397d9b99796b13b4f866f1868d34f373bfa698"
	sampleA1 = "0056123737bfce"
	sampleA2 = "00a713702dcfc1"
)

// --- AES-CMAC ---

func TestAESCMAC(t *testing.T) {
	k := h16(t, "2b7e151628aed2a6abf7158809cf4f3c")

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"empty", "", "bb1d6929e95937287fa37d129b756746"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := hex.DecodeString(tt.msg)
			require.NoError(t, err)
			got := AESCMAC(k, m)
			assert.Equal(t, tt.want, hex.EncodeToString(got[:]))
		})
	}
}

// --- legacy functions ---

func TestC1(t *testing.T) {
	var k [KeySize]byte
	r := h16(t, "5783d52156ad6f0e6388274ec6702ee0")

	// On-air octets of the sample request 07071000000101 and response
	// 05000800000302.
	preq := [PDUSize]byte{0x01, 0x01, 0x00, 0x00, 0x10, 0x07, 0x07}
	pres := [PDUSize]byte{0x02, 0x03, 0x00, 0x00, 0x08, 0x00, 0x05}
	ia := [6]byte{0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6}
	ra := [6]byte{0xb1, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6}

	got := C1(k, r, preq, pres, 1, 0, ia, ra)
	assert.Equal(t, "1e1e3fef878988ead2a74dc5bef13b86", hex.EncodeToString(got[:]))

	// Any change to the random changes the confirm value.
	r[15] ^= 1
	other := C1(k, r, preq, pres, 1, 0, ia, ra)
	assert.NotEqual(t, got, other)
}

func TestS1(t *testing.T) {
	var k [KeySize]byte
	r1 := h16(t, "000f0e0d0c0b0a091122334455667788")
	r2 := h16(t, "010203040506070899aabbccddeeff00")

	got := S1(k, r1, r2)
	assert.Equal(t, "9a1fe1f0e8b0f49b5b4216ae796da062", hex.EncodeToString(got[:]))

	// Only the low halves take part.
	r1[0] = 0xff
	r2[0] = 0xff
	assert.Equal(t, got, S1(k, r1, r2))
}

func TestD1AndDM(t *testing.T) {
	k := h16(t, "00112233445566778899aabbccddeeff")

	// d1 places r above d in the low 32 bits of the plaintext.
	var p [KeySize]byte
	p[12], p[13], p[14], p[15] = 0x00, 0x01, 0x12, 0x34
	assert.Equal(t, E(k, p), D1(k, 0x1234, 1))

	r := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	var pr [KeySize]byte
	copy(pr[8:], r[:])
	out := E(k, pr)
	assert.Equal(t, uint16(out[14])<<8|uint16(out[15]), DM(k, r))
}

func TestAHResolvesOwnAddress(t *testing.T) {
	irk := h16(t, "ec0234a357c8ad05341010a60a397d9b")
	prand := [3]byte{0x70, 0x81, 0x94}

	hash := AH(irk, prand)
	assert.Equal(t, hash, AH(irk, prand))

	other := irk
	other[0] ^= 0xff
	assert.NotEqual(t, hash, AH(other, prand))
}

// --- secure connections functions ---

func TestF4(t *testing.T) {
	got := F4(h32(t, sampleU), h32(t, sampleV), h16(t, sampleX), 0)
	assert.Equal(t, "f2c916f107a9bd1cf1eda1bea974872d", hex.EncodeToString(got[:]))
}

func TestF5(t *testing.T) {
	macKey, ltk := F5(h32(t, sampleW), h16(t, sampleX), h16(t, sampleY), h7b(t, sampleA1), h7b(t, sampleA2))
	assert.Equal(t, "2965f176a1084a02fd3f6a20ce636e20", hex.EncodeToString(macKey[:]))
	assert.Equal(t, "6986791169d7cd23980522b594750a38", hex.EncodeToString(ltk[:]))
}

func TestF6(t *testing.T) {
	got := F6(
		h16(t, "2965f176a1084a02fd3f6a20ce636e20"),
		h16(t, sampleX),
		h16(t, sampleY),
		h16(t, "12a3343bb453bb5408da42d20c2d0fc8"),
		[IOCapSize]byte{0x01, 0x01, 0x02},
		h7b(t, sampleA1),
		h7b(t, sampleA2),
	)
	assert.Equal(t, "e3c473989cd0e8c5d26c0b09da958f61", hex.EncodeToString(got[:]))
}

func TestG2(t *testing.T) {
	got := G2(h32(t, sampleU), h32(t, sampleV), h16(t, sampleX), h16(t, sampleY))
	assert.Equal(t, uint32(0x2f9ed5ba), got)
	assert.Equal(t, uint32(0x2f9ed5ba%1000000), NumericValue(got))
	assert.Less(t, NumericValue(got), uint32(1000000))
}

func TestH6(t *testing.T) {
	got := H6(h16(t, "ec0234a357c8ad05341010a60a397d9b"), KeyIDLEBR)
	assert.Equal(t, "2d9ae102e76dc91ce8d3a9e280b16399", hex.EncodeToString(got[:]))
}

func TestH7UsesSaltAsKey(t *testing.T) {
	w := h16(t, "ec0234a357c8ad05341010a60a397d9b")
	salt := Salt(KeyIDTmp1)
	assert.Equal(t, "000000000000000000000000746d7031", hex.EncodeToString(salt[:]))
	assert.Equal(t, AESCMAC(salt, w[:]), H7(salt, w))
	assert.NotEqual(t, H6(w, KeyIDTmp1), H7(salt, w))
}

// --- helpers ---

func TestMaskKey(t *testing.T) {
	k := h16(t, "ffffffffffffffffffffffffffffffff")

	assert.Equal(t, "00000000000000000000ffffffffffff", hexOf(MaskKey(k, 6)))
	assert.Equal(t, "000000000000000000ffffffffffffff", hexOf(MaskKey(k, 7)))
	assert.Equal(t, k, MaskKey(k, 16))
	assert.Equal(t, [KeySize]byte{}, MaskKey(k, 0))
}

func TestReverse(t *testing.T) {
	in := []byte{1, 2, 3}
	assert.Equal(t, []byte{3, 2, 1}, Reverse(in))
	assert.Equal(t, []byte{1, 2, 3}, in)
}

func hexOf(b [KeySize]byte) string {
	return hex.EncodeToString(b[:])
}

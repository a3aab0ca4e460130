// Package smpcrypto implements the cryptographic toolbox of the Bluetooth
// Security Manager: the AES-128 function e, the legacy functions c1, s1, d1,
// dm and ah, and the AES-CMAC based secure connections functions f4, f5, f6,
// g2, h6 and h7.
//
// All multi-octet values are most significant octet first, the notation the
// Bluetooth Core specification uses for its sample data. Callers holding
// on-air (little-endian) fields must reverse them first; see Reverse.
package smpcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/aead/cmac"
)

// Sizes of the toolbox inputs and outputs in octets.
const (
	KeySize       = 16
	PublicKeySize = 32
	AddressSize   = 7
	IOCapSize     = 3
	PDUSize       = 7
)

// Key identifiers for h6 and the h7 salts of cross-transport key derivation.
var (
	KeyIDTmp1 = [4]byte{0x74, 0x6d, 0x70, 0x31} // "tmp1"
	KeyIDTmp2 = [4]byte{0x74, 0x6d, 0x70, 0x32} // "tmp2"
	KeyIDLEBR = [4]byte{0x6c, 0x65, 0x62, 0x72} // "lebr"
	KeyIDBRLE = [4]byte{0x62, 0x72, 0x6c, 0x65} // "brle"
)

var (
	f5Salt  = [KeySize]byte{0x6c, 0x88, 0x83, 0x91, 0xaa, 0xf5, 0xa5, 0x38, 0x60, 0x37, 0x0b, 0xdb, 0x5a, 0x60, 0x83, 0xbe}
	f5KeyID = [4]byte{0x62, 0x74, 0x6c, 0x65} // "btle"
	f5Len   = [2]byte{0x01, 0x00}
)

// Salt returns the 128-bit h7 salt for a key identifier: 96 zero bits
// followed by the identifier.
func Salt(keyID [4]byte) [KeySize]byte {
	var s [KeySize]byte
	copy(s[12:], keyID[:])
	return s
}

func newCipher(k [KeySize]byte) cipher.Block {
	b, err := aes.NewCipher(k[:])
	if err != nil {
		// A 16-octet key is always accepted.
		panic(fmt.Sprintf("smpcrypto: aes: %v", err))
	}
	return b
}

// E is the AES-128 security function e(k, p).
func E(k, p [KeySize]byte) [KeySize]byte {
	var out [KeySize]byte
	newCipher(k).Encrypt(out[:], p[:])
	return out
}

// mac computes AES-CMAC with key k over the concatenation of parts.
func mac(k [KeySize]byte, parts ...[]byte) [KeySize]byte {
	h, err := cmac.New(newCipher(k))
	if err != nil {
		panic(fmt.Sprintf("smpcrypto: cmac: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AESCMAC computes AES-CMAC(k, m).
func AESCMAC(k [KeySize]byte, m []byte) [KeySize]byte {
	return mac(k, m)
}

func xor(a, b [KeySize]byte) [KeySize]byte {
	var out [KeySize]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// C1 is the legacy confirm value function.
//
// preq and pres are the Pairing Request and Pairing Response PDUs as sent on
// the air, opcode first. iat and rat are the address types of the initiating
// and responding devices, ia and ra their addresses.
func C1(k, r [KeySize]byte, preq, pres [PDUSize]byte, iat, rat byte, ia, ra [6]byte) [KeySize]byte {
	// p1 = pres || preq || rat || iat, where the PDUs read most significant
	// octet first are the on-air octets reversed.
	var p1 [KeySize]byte
	for i := 0; i < PDUSize; i++ {
		p1[i] = pres[PDUSize-1-i]
		p1[PDUSize+i] = preq[PDUSize-1-i]
	}
	p1[14] = rat & 0x01
	p1[15] = iat & 0x01

	// p2 = padding || ia || ra
	var p2 [KeySize]byte
	copy(p2[4:10], ia[:])
	copy(p2[10:16], ra[:])

	return E(k, xor(E(k, xor(r, p1)), p2))
}

// S1 is the legacy key generation function for the STK. The result uses
// the least significant 64 bits of r1 and r2.
func S1(k, r1, r2 [KeySize]byte) [KeySize]byte {
	var r [KeySize]byte
	copy(r[:8], r1[8:])
	copy(r[8:], r2[8:])
	return E(k, r)
}

// D1 is the diversifying function d1(k, d, r) used to derive legacy keys
// from the encryption and identity roots.
func D1(k [KeySize]byte, d, r uint16) [KeySize]byte {
	var p [KeySize]byte
	binary.BigEndian.PutUint16(p[12:], r)
	binary.BigEndian.PutUint16(p[14:], d)
	return E(k, p)
}

// DM is the mask generation function dm(k, r) used to hide the
// diversifier in EDIV.
func DM(k [KeySize]byte, r [8]byte) uint16 {
	var p [KeySize]byte
	copy(p[8:], r[:])
	out := E(k, p)
	return binary.BigEndian.Uint16(out[14:])
}

// AH is the random address hash function used to generate and resolve
// resolvable private addresses.
func AH(k [KeySize]byte, r [3]byte) [3]byte {
	var p [KeySize]byte
	copy(p[13:], r[:])
	out := E(k, p)
	return [3]byte{out[13], out[14], out[15]}
}

// F4 is the secure connections confirm value function.
func F4(u, v [PublicKeySize]byte, x [KeySize]byte, z byte) [KeySize]byte {
	return mac(x, u[:], v[:], []byte{z})
}

// F5 is the secure connections key generation function. It returns the
// MacKey and the LTK. a1 is the initiator and a2 the responder address,
// each as address type followed by the six address octets.
func F5(w [PublicKeySize]byte, n1, n2 [KeySize]byte, a1, a2 [AddressSize]byte) (macKey, ltk [KeySize]byte) {
	t := mac(f5Salt, w[:])
	macKey = mac(t, []byte{0}, f5KeyID[:], n1[:], n2[:], a1[:], a2[:], f5Len[:])
	ltk = mac(t, []byte{1}, f5KeyID[:], n1[:], n2[:], a1[:], a2[:], f5Len[:])
	return macKey, ltk
}

// F6 is the secure connections check value function. ioCap is AuthReq,
// OOB data flag and IO capability, in that order.
func F6(w, n1, n2, r [KeySize]byte, ioCap [IOCapSize]byte, a1, a2 [AddressSize]byte) [KeySize]byte {
	return mac(w, n1[:], n2[:], r[:], ioCap[:], a1[:], a2[:])
}

// G2 is the secure connections numeric comparison value function. The
// six-digit value shown to the user is the result modulo 10^6.
func G2(u, v [PublicKeySize]byte, x, y [KeySize]byte) uint32 {
	out := mac(x, u[:], v[:], y[:])
	return binary.BigEndian.Uint32(out[12:])
}

// NumericValue reduces a g2 result to the six-digit comparison value.
func NumericValue(g2 uint32) uint32 {
	return g2 % 1000000
}

// H6 is the link key conversion function h6(W, keyID).
func H6(w [KeySize]byte, keyID [4]byte) [KeySize]byte {
	return mac(w, keyID[:])
}

// H7 is the link key conversion function h7(SALT, W).
func H7(salt, w [KeySize]byte) [KeySize]byte {
	return mac(salt, w[:])
}

// MaskKey keeps the size least significant octets of key and zeroes the
// rest. size is clamped to [0, 16].
func MaskKey(key [KeySize]byte, size int) [KeySize]byte {
	if size >= KeySize {
		return key
	}
	if size < 0 {
		size = 0
	}
	for i := 0; i < KeySize-size; i++ {
		key[i] = 0
	}
	return key
}

// Reverse returns b with its octets in reverse order. It converts between
// on-air little-endian fields and the most-significant-first toolbox form.
func Reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

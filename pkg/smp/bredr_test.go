package smp

import (
	"errors"
	"testing"

	"github.com/mash-protocol/blesmp/pkg/smpcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkKeyConfig(self Address, auth AuthReq) Config {
	cfg := testConfig(self)
	cfg.AuthReq = auth
	cfg.InitiatorKeys = KeyEnc | KeyID | KeySign | KeyLink
	cfg.ResponderKeys = KeyEnc | KeyID | KeySign | KeyLink
	return cfg
}

func TestDeriveLinkKey(t *testing.T) {
	tests := []struct {
		name   string
		auth   AuthReq
		expect func(ltk [16]byte) [16]byte
	}{
		{
			name: "h7",
			auth: AuthBond | AuthSC | AuthCT2,
			expect: func(ltk [16]byte) [16]byte {
				ilk := smpcrypto.H7(smpcrypto.Salt(smpcrypto.KeyIDTmp1), ltk)
				return smpcrypto.H6(ilk, smpcrypto.KeyIDLEBR)
			},
		},
		{
			name: "h6",
			auth: AuthBond | AuthSC,
			expect: func(ltk [16]byte) [16]byte {
				return smpcrypto.H6(smpcrypto.H6(ltk, smpcrypto.KeyIDTmp1), smpcrypto.KeyIDLEBR)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, hb := newRecorder(), newRecorder()
			ka, kb := newMemKeys(), newMemKeys()
			_, ma, _ := newPair(t, linkKeyConfig(addrA, tt.auth), linkKeyConfig(addrB, tt.auth), ha, hb, ka, kb)

			require.NoError(t, ma.Pair(addrB))
			oa, ob := ha.wait(t), hb.wait(t)
			require.NoError(t, oa.err)
			require.NoError(t, ob.err)

			want := tt.expect(oa.result.EncryptionKey)
			lkA, ok := oa.result.Key(KeyTypeLinkKey, false)
			require.True(t, ok)
			lkB, ok := ob.result.Key(KeyTypeLinkKey, false)
			require.True(t, ok)
			assert.Equal(t, want, lkA.Value)
			assert.Equal(t, want, lkB.Value)
			assert.Equal(t, addrB, lkA.Address)
			assert.Equal(t, addrA, lkB.Address)
			assert.Equal(t, LinkKeyUnauthenticatedP256, lkA.LinkKeyType)

			// Derived exactly once.
			n := 0
			for _, k := range ka.saved(addrB) {
				if k.Type == KeyTypeLinkKey {
					n++
				}
			}
			assert.Equal(t, 1, n)
		})
	}
}

func TestDeriveLinkKeyNeedsPublicAddress(t *testing.T) {
	addrRandom := Address{Type: AddressRandom, Addr: [6]byte{0xc1, 0x00, 0x00, 0x00, 0x00, 0x0b}}
	ha, hb := newRecorder(), newRecorder()
	cfgA := linkKeyConfig(addrA, AuthBond|AuthSC)
	cfgB := linkKeyConfig(addrRandom, AuthBond|AuthSC)
	_, ma, _ := newPair(t, cfgA, cfgB, ha, hb, nil, nil)

	require.NoError(t, ma.Pair(addrRandom))
	oa := ha.wait(t)
	assert.True(t, errors.Is(oa.err, ErrDerivation))

	// The peer already had everything it needed.
	ob := hb.wait(t)
	require.NoError(t, ob.err)
	_, ok := ob.result.Key(KeyTypeLinkKey, false)
	assert.True(t, ok)
}

func TestLinkKeyNotRequestedByPeer(t *testing.T) {
	ha, hb := newRecorder(), newRecorder()
	_, ma, _ := newPair(t, linkKeyConfig(addrA, AuthBond|AuthSC), testConfig(addrB), ha, hb, nil, nil)

	require.NoError(t, ma.Pair(addrB))
	oa, ob := ha.wait(t), hb.wait(t)
	require.NoError(t, oa.err)
	require.NoError(t, ob.err)
	_, ok := oa.result.Key(KeyTypeLinkKey, false)
	assert.False(t, ok)
}

func TestPairOverBREDR(t *testing.T) {
	lk := [16]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0xfe, 0xdc, 0xba, 0x98, 0x76, 0x54, 0x32, 0x10}
	ha, hb := newRecorder(), newRecorder()
	ka, kb := newMemKeys(), newMemKeys()
	kb.linkKeys[addrA] = Key{Type: KeyTypeLinkKey, Value: lk, LinkKeyType: LinkKeyAuthenticatedP256}
	l, ma, _ := newPair(t, testConfig(addrA), testConfig(addrB), ha, hb, ka, kb)

	require.NoError(t, ma.PairOverBREDR(addrB, lk, LinkKeyAuthenticatedP256))
	oa, ob := ha.wait(t), hb.wait(t)
	require.NoError(t, oa.err)
	require.NoError(t, ob.err)

	want := smpcrypto.H6(smpcrypto.H6(lk, smpcrypto.KeyIDTmp2), smpcrypto.KeyIDBRLE)
	assert.Equal(t, want, oa.result.EncryptionKey)
	assert.Equal(t, want, ob.result.EncryptionKey)
	assert.Equal(t, LinkBREDR, oa.result.Link)
	assert.Equal(t, SecurityAuthenticatedSC, oa.result.Level)

	ltk, ok := oa.result.Key(KeyTypeLTK, false)
	require.True(t, ok)
	assert.Equal(t, want, ltk.Value)
	assert.True(t, ltk.Authenticated)

	irk, ok := oa.result.Key(KeyTypeIRK, false)
	require.True(t, ok)
	assert.Equal(t, addrB, irk.Address)

	for _, e := range l.ends {
		e.mu.Lock()
		for _, link := range e.links {
			assert.Equal(t, LinkBREDR, link)
		}
		assert.Zero(t, e.encryptions)
		e.mu.Unlock()
	}
}

func TestPairOverBREDRRejectsP192(t *testing.T) {
	h := newRecorder()
	peer, m := newScripted(t, testConfig(addrA), h, addrB, nil)

	require.NoError(t, m.PairOverBREDR(addrB, [16]byte{1}, LinkKeyAuthenticatedP192))
	o := h.wait(t)
	assert.True(t, errors.Is(o.err, ErrCrossTransport))
	assert.Empty(t, peer.sentPDUs())
}

func TestBREDRResponderWithoutLinkKey(t *testing.T) {
	ha, hb := newRecorder(), newRecorder()
	_, ma, _ := newPair(t, testConfig(addrA), testConfig(addrB), ha, hb, nil, newMemKeys())

	require.NoError(t, ma.PairOverBREDR(addrB, [16]byte{1}, LinkKeyUnauthenticatedP256))
	ob := hb.wait(t)
	assert.Equal(t, ReasonCrossTransportNotAllowed, ReasonOf(ob.err))

	oa := ha.wait(t)
	var pe *PairingError
	require.ErrorAs(t, oa.err, &pe)
	assert.True(t, pe.Remote)
	assert.Equal(t, ReasonCrossTransportNotAllowed, pe.Reason)
}

package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
)

var testSeed = strings.Repeat("01", ed25519.SeedSize)

func TestParseKeyFormats(t *testing.T) {
	seed, _ := hex.DecodeString(testSeed)
	want := ed25519.NewKeyFromSeed(seed)

	for name, in := range map[string]string{
		"hex":            testSeed,
		"0x hex":         "0x" + testSeed,
		"base64":         base64.StdEncoding.EncodeToString(seed),
		"flagged base64": base64.StdEncoding.EncodeToString(append([]byte{0x00}, seed...)),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ParseKey(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseKey("")
	assert.ErrorIs(t, err, ErrDisconnected)

	_, err = ParseKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestAddressDerivation(t *testing.T) {
	priv, err := ParseKey(testSeed)
	require.NoError(t, err)
	kp := NewKeypair(priv, nil)

	addr, ok := kp.Address()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 66)
	assert.Equal(t, addr, DeriveAddress(priv.Public().(ed25519.PublicKey)))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := ParseKey(testSeed)
	require.NoError(t, err)
	kp := NewKeypair(priv, nil)

	sig, err := kp.Sign([]byte("tx-bytes"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.Len(t, raw, 97)
	assert.Equal(t, byte(0x00), raw[0])

	signer, err := Verify(sig, []byte("tx-bytes"))
	require.NoError(t, err)
	addr, _ := kp.Address()
	assert.Equal(t, addr, signer)

	_, err = Verify(sig, []byte("other-bytes"))
	assert.Error(t, err)
}

func TestSignAndExecuteUsesLedger(t *testing.T) {
	priv, err := ParseKey(testSeed)
	require.NoError(t, err)
	c := ledger.NewContract("0xpkg", "", "")
	m := ledger.NewMemory(c)
	kp := NewKeypair(priv, m)

	res, err := kp.SignAndExecute(context.Background(), c.CreateProfile("", "about", "contacts"))
	require.NoError(t, err)

	addr, _ := kp.Address()
	owned, err := m.ListOwned(context.Background(), addr, c.StructType(ledger.StructProfile))
	require.NoError(t, err)
	require.Len(t, owned, 1)
	id, _ := res.CreatedOfType(c.StructType(ledger.StructProfile))
	assert.Equal(t, id, owned[0].ID)
}

func TestDisconnected(t *testing.T) {
	var s Session = Disconnected{}
	_, ok := s.Address()
	assert.False(t, ok)
	_, err := s.SignAndExecute(context.Background(), ledger.Call{})
	assert.ErrorIs(t, err, ErrDisconnected)
}

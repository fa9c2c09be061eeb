// Package wallet holds the acting account: an ed25519 key, its ledger address,
// and the sign-and-submit operation every entry-point call goes through.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
)

// ErrDisconnected is returned when no account is configured.
var ErrDisconnected = errors.New("wallet disconnected")

// Signature scheme flag for ed25519 in serialized signatures and address derivation.
const schemeEd25519 byte = 0x00

// intentTransaction prefixes transaction bytes before hashing: scope, version, app id.
var intentTransaction = []byte{0, 0, 0}

// Session is the acting account.
type Session interface {
	// Address returns the account address, or false when disconnected.
	Address() (string, bool)
	// SignAndExecute signs call and submits it to the ledger.
	SignAndExecute(ctx context.Context, call ledger.Call) (*ledger.TxResult, error)
}

// Keypair is a Session backed by an in-process ed25519 key.
type Keypair struct {
	priv    ed25519.PrivateKey
	address string
	sub     ledger.Submitter
}

// NewKeypair wraps an ed25519 private key and the submitter its transactions go to.
func NewKeypair(priv ed25519.PrivateKey, sub ledger.Submitter) *Keypair {
	return &Keypair{
		priv:    priv,
		address: DeriveAddress(priv.Public().(ed25519.PublicKey)),
		sub:     sub,
	}
}

// ParseKey decodes a 32-byte ed25519 seed given as hex (optionally 0x-prefixed) or
// base64. A 33-byte base64 value with a leading scheme flag is also accepted.
func ParseKey(s string) (ed25519.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrDisconnected
	}

	var raw []byte
	if h := strings.TrimPrefix(s, "0x"); len(h) == 2*ed25519.SeedSize {
		if b, err := hex.DecodeString(h); err == nil {
			raw = b
		}
	}
	if raw == nil {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("wallet key is neither hex nor base64: %w", err)
		}
		raw = b
	}

	switch {
	case len(raw) == ed25519.SeedSize:
	case len(raw) == ed25519.SeedSize+1 && raw[0] == schemeEd25519:
		raw = raw[1:]
	default:
		return nil, fmt.Errorf("wallet key must be a %d-byte ed25519 seed, got %d bytes", ed25519.SeedSize, len(raw))
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

// DeriveAddress returns 0x-prefixed hex of blake2b-256(flag || public key).
func DeriveAddress(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, schemeEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// Address implements Session.
func (k *Keypair) Address() (string, bool) {
	return k.address, true
}

// Sign produces the serialized signature for transaction bytes:
// base64(flag || ed25519(blake2b-256(intent || txBytes)) || public key).
func (k *Keypair) Sign(txBytes []byte) (string, error) {
	digest := intentDigest(txBytes)
	sig := ed25519.Sign(k.priv, digest[:])

	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, schemeEd25519)
	out = append(out, sig...)
	out = append(out, k.priv.Public().(ed25519.PublicKey)...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// SignAndExecute implements Session.
func (k *Keypair) SignAndExecute(ctx context.Context, call ledger.Call) (*ledger.TxResult, error) {
	return k.sub.Submit(ctx, k.address, call, k.Sign)
}

// Verify checks a serialized signature over txBytes and returns the signer's address.
func Verify(serialized string, txBytes []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize || raw[0] != schemeEd25519 {
		return "", errors.New("unsupported signature encoding")
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	digest := intentDigest(txBytes)
	if !ed25519.Verify(pub, digest[:], sig) {
		return "", errors.New("signature does not verify")
	}
	return DeriveAddress(pub), nil
}

func intentDigest(txBytes []byte) [32]byte {
	msg := make([]byte, 0, len(intentTransaction)+len(txBytes))
	msg = append(msg, intentTransaction...)
	msg = append(msg, txBytes...)
	return blake2b.Sum256(msg)
}

// Disconnected is the Session used when no key is configured.
type Disconnected struct{}

// Address implements Session.
func (Disconnected) Address() (string, bool) { return "", false }

// SignAndExecute implements Session.
func (Disconnected) SignAndExecute(context.Context, ledger.Call) (*ledger.TxResult, error) {
	return nil, ErrDisconnected
}

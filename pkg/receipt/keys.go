// Copyright 2025 Certen Protocol

package receipt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"
)

// SigningKey is what a KeyProvider hands the receipt service: the verifier's
// stable key identifier plus its ES256 keypair.
type SigningKey struct {
	KeyID      string
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// KeyProvider is the collaborator interface of spec.md §6: production reads
// key material from configuration; development may generate it ephemerally.
type KeyProvider interface {
	SigningKey() (SigningKey, error)
}

// StaticKeyProvider wraps a pre-parsed keypair, typically built by
// cmd/registryd from the RECEIPT_VERIFIER_PRIVATE_JWK value config.Load reads.
type StaticKeyProvider struct {
	Key SigningKey
}

func (p StaticKeyProvider) SigningKey() (SigningKey, error) { return p.Key, nil }

// EphemeralKeyProvider holds an ES256 keypair generated by
// NewEphemeralKeyProvider, which logs the public key, matching the teacher's dev-mode
// "generate and log" idiom (pkg/crypto/bls.KeyManager). Never use this in
// production — spec.md §1 requires durable KMS/HSM-backed keys there.
type EphemeralKeyProvider struct {
	key  *SigningKey
}

func NewEphemeralKeyProvider() (*EphemeralKeyProvider, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral ES256 key: %w", err)
	}
	kid := fmt.Sprintf("ephemeral-%x", priv.PublicKey.X.Bytes()[:8])
	k := SigningKey{KeyID: kid, PrivateKey: priv, PublicKey: &priv.PublicKey}
	x := base64.RawURLEncoding.EncodeToString(priv.PublicKey.X.FillBytes(make([]byte, 32)))
	y := base64.RawURLEncoding.EncodeToString(priv.PublicKey.Y.FillBytes(make([]byte, 32)))
	log.Warn().Str("kid", kid).Str("kty", "EC").Str("crv", "P-256").Str("x", x).Str("y", y).
		Msg("receipt: generated ephemeral ES256 signing key (development only)")
	return &EphemeralKeyProvider{key: &k}, nil
}

func (p *EphemeralKeyProvider) SigningKey() (SigningKey, error) {
	if p.key == nil {
		return SigningKey{}, fmt.Errorf("ephemeral key provider not initialized")
	}
	return *p.key, nil
}

// JWKSResolver resolves a verification public key by `kid`, backing the
// "remote JWKS resolver" path of spec.md §4.3 step 2. Implementations cache
// by kid.
type JWKSResolver interface {
	Resolve(kid string) (*ecdsa.PublicKey, error)
}

// StaticJWKSResolver serves a fixed set of known keys, for tests and for
// single-verifier deployments that embed their own public key directly.
type StaticJWKSResolver struct {
	Keys map[string]*ecdsa.PublicKey
}

func (r StaticJWKSResolver) Resolve(kid string) (*ecdsa.PublicKey, error) {
	k, ok := r.Keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return k, nil
}

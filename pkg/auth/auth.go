// Copyright 2025 Certen Protocol
//
// Package auth implements the registry's Authenticator collaborator
// (spec.md §6): partner API keys, hashed with Argon2id, scoped and
// time-bounded. This is deliberately thin — full partner management is
// out of scope per spec.md §1.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/certen/proof-asset-registry/pkg/database"
	"github.com/certen/proof-asset-registry/pkg/perr"
)

// argon2 parameters tuned for an interactive API-gateway auth check, not
// a password login flow: this runs on every authenticated request.
const (
	argonTime    = 1
	argonMemory  = 19 * 1024 // KiB
	argonThreads = 2
	argonKeyLen  = 32
	saltLen      = 16
)

// HashSecret derives an Argon2id hash of secret for storage, encoding the
// parameters and salt alongside the digest so verification is
// self-describing.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	digest := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		argonTime, argonMemory, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest)), nil
}

// VerifySecret checks secret against an encoded hash produced by
// HashSecret, in constant time.
func VerifySecret(secret, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false, fmt.Errorf("unrecognized secret hash format")
	}
	var timeCost, memCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[1], "%d", &timeCost); err != nil {
		return false, err
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &memCost); err != nil {
		return false, err
	}
	if _, err := fmt.Sscanf(parts[3], "%d", &threads); err != nil {
		return false, err
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed digest: %w", err)
	}
	got := argon2.IDKey([]byte(secret), salt, timeCost, memCost, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// Principal is the authenticated caller a verified request acts as.
type Principal struct {
	PartnerID uuid.UUID
	KeyID     uuid.UUID
	Scopes    []string
}

// HasScope reports whether the principal was granted scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// KeyStore is the persistence contract Authenticator depends on;
// *database.AuthRepository satisfies it by method shape.
type KeyStore interface {
	GetAPIKey(ctx context.Context, keyID uuid.UUID) (*database.ApiKey, error)
}

// Authenticator verifies a "<keyID>.<secret>" bearer credential against
// the table-backed partner/API-key store (SPEC_FULL.md §6a).
type Authenticator struct {
	Keys KeyStore
	Now  func() time.Time
}

// NewAuthenticator builds an Authenticator over keys.
func NewAuthenticator(keys KeyStore) *Authenticator {
	return &Authenticator{Keys: keys}
}

func (a *Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Authenticate parses and verifies a bearer credential of the form
// "<keyID>.<secret>", checking status and validity window.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	keyIDStr, secret, ok := strings.Cut(credential, ".")
	if !ok || keyIDStr == "" || secret == "" {
		return nil, perr.New(perr.CodeUnauthorized, "malformed credential")
	}
	keyID, err := uuid.Parse(keyIDStr)
	if err != nil {
		return nil, perr.New(perr.CodeUnauthorized, "malformed key id")
	}

	key, err := a.Keys.GetAPIKey(ctx, keyID)
	if err != nil {
		if err == database.ErrAPIKeyNotFound {
			return nil, perr.New(perr.CodeUnauthorized, "unknown api key")
		}
		return nil, perr.Wrap(perr.CodeInternal, "failed to load api key", err)
	}

	if key.Status != database.KeyStatusActive {
		return nil, perr.New(perr.CodeUnauthorized, "api key is not active")
	}
	now := a.now()
	if key.NotBefore.Valid && now.Before(key.NotBefore.Time) {
		return nil, perr.New(perr.CodeUnauthorized, "api key is not yet valid")
	}
	if key.NotAfter.Valid && now.After(key.NotAfter.Time) {
		return nil, perr.New(perr.CodeUnauthorized, "api key has expired")
	}

	ok, err = VerifySecret(secret, key.SecretHash)
	if err != nil {
		return nil, perr.Wrap(perr.CodeInternal, "failed to verify api key secret", err)
	}
	if !ok {
		return nil, perr.New(perr.CodeUnauthorized, "invalid api key secret")
	}

	return &Principal{PartnerID: key.PartnerID, KeyID: key.KeyID, Scopes: key.Scopes}, nil
}

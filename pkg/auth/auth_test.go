// Copyright 2025 Certen Protocol

package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/proof-asset-registry/pkg/database"
	"github.com/certen/proof-asset-registry/pkg/perr"
)

type fakeKeyStore struct {
	keys map[uuid.UUID]*database.ApiKey
}

func (f *fakeKeyStore) GetAPIKey(_ context.Context, keyID uuid.UUID) (*database.ApiKey, error) {
	k, ok := f.keys[keyID]
	if !ok {
		return nil, database.ErrAPIKeyNotFound
	}
	return k, nil
}

func TestHashAndVerifySecret(t *testing.T) {
	encoded, err := HashSecret("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	ok, err := VerifySecret("correct-horse-battery-staple", encoded)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if !ok {
		t.Fatalf("expected the correct secret to verify")
	}
	ok, err = VerifySecret("wrong-secret", encoded)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if ok {
		t.Fatalf("expected the wrong secret to fail verification")
	}
}

func newActiveKey(t *testing.T, secret string) (uuid.UUID, *database.ApiKey) {
	t.Helper()
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	keyID := uuid.New()
	return keyID, &database.ApiKey{
		KeyID:      keyID,
		PartnerID:  uuid.New(),
		SecretHash: hash,
		Scopes:     []string{"register", "verify"},
		Status:     database.KeyStatusActive,
	}
}

func TestAuthenticateHappyPath(t *testing.T) {
	keyID, key := newActiveKey(t, "s3cret")
	a := NewAuthenticator(&fakeKeyStore{keys: map[uuid.UUID]*database.ApiKey{keyID: key}})

	p, err := a.Authenticate(context.Background(), keyID.String()+".s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.PartnerID != key.PartnerID || !p.HasScope("register") {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	keyID, key := newActiveKey(t, "s3cret")
	a := NewAuthenticator(&fakeKeyStore{keys: map[uuid.UUID]*database.ApiKey{keyID: key}})

	_, err := a.Authenticate(context.Background(), keyID.String()+".wrong")
	if err == nil {
		t.Fatalf("expected an error for the wrong secret")
	}
	if pe, ok := perr.As(err); !ok || pe.Code != perr.CodeUnauthorized {
		t.Fatalf("expected CodeUnauthorized, got %v", err)
	}
}

func TestAuthenticateRejectsRevokedKey(t *testing.T) {
	keyID, key := newActiveKey(t, "s3cret")
	key.Status = database.KeyStatusRevoked
	a := NewAuthenticator(&fakeKeyStore{keys: map[uuid.UUID]*database.ApiKey{keyID: key}})

	_, err := a.Authenticate(context.Background(), keyID.String()+".s3cret")
	if err == nil {
		t.Fatalf("expected an error for a revoked key")
	}
}

func TestAuthenticateRejectsExpiredKey(t *testing.T) {
	keyID, key := newActiveKey(t, "s3cret")
	key.NotAfter = sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true}
	a := NewAuthenticator(&fakeKeyStore{keys: map[uuid.UUID]*database.ApiKey{keyID: key}})

	_, err := a.Authenticate(context.Background(), keyID.String()+".s3cret")
	if err == nil {
		t.Fatalf("expected an error for an expired key")
	}
}

func TestAuthenticateRejectsMalformedCredential(t *testing.T) {
	a := NewAuthenticator(&fakeKeyStore{keys: map[uuid.UUID]*database.ApiKey{}})
	_, err := a.Authenticate(context.Background(), "not-a-valid-credential")
	if err == nil {
		t.Fatalf("expected an error for a malformed credential")
	}
}

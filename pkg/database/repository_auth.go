// Copyright 2025 Certen Protocol
//
// AuthRepository - CRUD for partners and their API keys, the thin
// partner-management slice backing pkg/auth's Authenticator.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthRepository handles Partner and ApiKey persistence.
type AuthRepository struct {
	client *Client
}

// NewAuthRepository creates a new auth repository.
func NewAuthRepository(client *Client) *AuthRepository {
	return &AuthRepository{client: client}
}

// CreatePartner inserts a new partner.
func (r *AuthRepository) CreatePartner(ctx context.Context, name string) (*Partner, error) {
	p := &Partner{PartnerID: uuid.New(), Name: name, CreatedAt: time.Now()}
	_, err := r.client.ExecContext(ctx,
		`INSERT INTO partners (partner_id, name, created_at) VALUES ($1,$2,$3)`,
		p.PartnerID, p.Name, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert partner: %w", err)
	}
	return p, nil
}

// CreateAPIKey inserts a new API key row. secretHash must already be an
// Argon2id hash; this repository never sees the raw secret.
func (r *AuthRepository) CreateAPIKey(ctx context.Context, partnerID uuid.UUID, secretHash string, scopes []string, notBefore, notAfter sql.NullTime) (*ApiKey, error) {
	k := &ApiKey{
		KeyID:      uuid.New(),
		PartnerID:  partnerID,
		SecretHash: secretHash,
		Scopes:     scopes,
		Status:     KeyStatusActive,
		NotBefore:  notBefore,
		NotAfter:   notAfter,
		CreatedAt:  time.Now(),
	}
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, partner_id, secret_hash, scopes, status, not_before, not_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		k.KeyID, k.PartnerID, k.SecretHash, strings.Join(k.Scopes, ","), k.Status, k.NotBefore, k.NotAfter, k.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert api key: %w", err)
	}
	return k, nil
}

// GetAPIKey retrieves an ApiKey by its key ID.
func (r *AuthRepository) GetAPIKey(ctx context.Context, keyID uuid.UUID) (*ApiKey, error) {
	k := &ApiKey{}
	var scopes string
	err := r.client.QueryRowContext(ctx, `
		SELECT key_id, partner_id, secret_hash, scopes, status, not_before, not_after, created_at
		FROM api_keys WHERE key_id = $1`, keyID).Scan(
		&k.KeyID, &k.PartnerID, &k.SecretHash, &scopes, &k.Status, &k.NotBefore, &k.NotAfter, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key %s: %w", keyID, err)
	}
	k.Scopes = splitScopes(scopes)
	return k, nil
}

// RevokeAPIKey marks a key revoked.
func (r *AuthRepository) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	res, err := r.client.ExecContext(ctx, `UPDATE api_keys SET status = $2 WHERE key_id = $1`, keyID, KeyStatusRevoked)
	if err != nil {
		return fmt.Errorf("failed to revoke api key %s: %w", keyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Copyright 2025 Certen Protocol
//
// Repositories - convenience wrapper for all database repositories.
// Provides a single point of access to all repository types.

package database

import (
	"context"
	"fmt"
)

// Repositories holds all repository instances, backed directly by client.
type Repositories struct {
	Assets      *AssetRepository
	StatusLists *StatusListRepository
	Audit       *AuditRepository
	Auth        *AuthRepository
	client      *Client
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Assets:      NewAssetRepository(client),
		StatusLists: NewStatusListRepository(client),
		Audit:       NewAuditRepository(client),
		Auth:        NewAuthRepository(client),
		client:      client,
	}
}

// TxRepositories is the subset of Repositories usable inside WithinTx: every
// method call runs against the same open transaction.
type TxRepositories struct {
	Assets      *AssetRepository
	StatusLists *StatusListRepository
	Audit       *AuditRepository
}

// WithinTx begins a transaction, hands fn repositories bound to it, and
// commits on success or rolls back on any error fn returns — spec.md §7's
// requirement that a failed audit append undo the mutation that produced
// it. Only meaningful for the Postgres-backed deployment; the in-memory
// stores have no equivalent and never call this.
func (r *Repositories) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *TxRepositories) error) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepos := &TxRepositories{
		Assets:      NewAssetRepository(tx),
		StatusLists: NewStatusListRepository(tx),
		Audit:       NewAuditRepository(tx),
	}

	if err := fn(ctx, txRepos); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

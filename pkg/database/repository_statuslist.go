// Copyright 2025 Certen Protocol
//
// StatusListRepository - CRUD + ETag-gated updates for StatusList rows.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusListRepository handles StatusList persistence. q is either a
// *Client or a *Tx; see AssetRepository.
type StatusListRepository struct {
	q querier
}

// NewStatusListRepository creates a new status-list repository.
func NewStatusListRepository(q querier) *StatusListRepository {
	return &StatusListRepository{q: q}
}

// Upsert creates the status list at url if absent, or returns the existing
// row unchanged (spec.md §4.7 step 6, "create if absent").
func (r *StatusListRepository) Upsert(ctx context.Context, purpose StatusPurpose, url string, sizeBits int, initialBitstring []byte, etag string) (*StatusList, error) {
	now := time.Now()
	query := `
		INSERT INTO status_lists (list_id, purpose, url, bitstring, size, etag, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (url) DO UPDATE SET url = status_lists.url
		RETURNING list_id, purpose, url, bitstring, size, etag, created_at, updated_at`

	sl := &StatusList{}
	err := r.q.QueryRowContext(ctx, query, uuid.New(), purpose, url, initialBitstring, sizeBits, etag, now).Scan(
		&sl.ListID, &sl.Purpose, &sl.URL, &sl.Bitstring, &sl.Size, &sl.ETag, &sl.CreatedAt, &sl.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert status list %s: %w", url, err)
	}
	return sl, nil
}

// Get retrieves a StatusList by its normalized URL.
func (r *StatusListRepository) Get(ctx context.Context, url string) (*StatusList, error) {
	sl := &StatusList{}
	err := r.q.QueryRowContext(ctx, `
		SELECT list_id, purpose, url, bitstring, size, etag, created_at, updated_at
		FROM status_lists WHERE url = $1`, url).Scan(
		&sl.ListID, &sl.Purpose, &sl.URL, &sl.Bitstring, &sl.Size, &sl.ETag, &sl.CreatedAt, &sl.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrStatusListNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status list %s: %w", url, err)
	}
	return sl, nil
}

// UpdateWithETag persists newBitstring under a fresh weak etag, but only if
// the row's current etag still equals ifMatch. Returns whether the
// precondition held (spec.md §6, updateStatusListWithETag).
func (r *StatusListRepository) UpdateWithETag(ctx context.Context, url string, newBitstring []byte, newETag, ifMatch string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE status_lists SET bitstring = $3, etag = $4, updated_at = $5
		WHERE url = $1 AND etag = $2`,
		url, ifMatch, newBitstring, newETag, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to update status list %s: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

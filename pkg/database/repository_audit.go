// Copyright 2025 Certen Protocol
//
// AuditRepository - append-only insert/read for audit events, and the
// durable half of the receipt JTI replay cache. Satisfies both
// pkg/audit.Appender and pkg/receipt.ReplayCache by method shape, so the
// orchestrator can wire a single Postgres-backed instance into both.

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/proof-asset-registry/pkg/audit"
)

// AuditRepository handles audit-event and JtiReplayEntry persistence. q is
// either a *Client or a *Tx; see AssetRepository.
type AuditRepository struct {
	q querier
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(q querier) *AuditRepository {
	return &AuditRepository{q: q}
}

// LatestHash returns the eventHash of the most recently inserted event, or
// "" if the log is empty. Implements pkg/audit.Appender.
func (r *AuditRepository) LatestHash(ctx context.Context) (string, error) {
	var hash string
	err := r.q.QueryRowContext(ctx, `SELECT event_hash FROM audit_events ORDER BY timestamp DESC, event_id DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read latest audit hash: %w", err)
	}
	return hash, nil
}

// Insert appends one audit event. The previous_hash unique constraint (see
// migrations) rejects a second writer that raced against this one and
// already claimed the same previousHash, surfacing as
// ErrAuditChainConflict so the orchestrator can retry with a freshly read
// chain tip. Implements pkg/audit.Appender.
func (r *AuditRepository) Insert(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	row := AuditEventRow{
		EventID:      uuid.New(),
		EventType:    string(event.EventType),
		AssetID:      assetIDOrNull(event.AssetID),
		Payload:      payload,
		PreviousHash: nullString(event.PreviousHash),
		EventHash:    event.EventHash,
		Timestamp:    event.Timestamp,
	}

	query := `
		INSERT INTO audit_events (event_id, event_type, asset_id, payload, trace_id, previous_hash, event_hash, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.q.ExecContext(ctx, query,
		row.EventID, row.EventType, row.AssetID, row.Payload, row.TraceID, row.PreviousHash, row.EventHash, row.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAuditChainConflict
		}
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func assetIDOrNull(s string) uuid.NullUUID {
	if s == "" {
		return uuid.NullUUID{}
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: id, Valid: true}
}

// ForAsset returns every audit event recorded for assetID, oldest first.
func (r *AuditRepository) ForAsset(ctx context.Context, assetID uuid.UUID) ([]audit.Event, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT event_id, event_type, asset_id, payload, trace_id, previous_hash, event_hash, timestamp
		FROM audit_events WHERE asset_id = $1 ORDER BY timestamp ASC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events for asset %s: %w", assetID, err)
	}
	defer rows.Close()
	return scanAuditEvents(rows)
}

// Recent returns the most recent limit audit events across all assets,
// oldest first, for Merkle export windowing.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT event_id, event_type, asset_id, payload, trace_id, previous_hash, event_hash, timestamp
		FROM (
			SELECT * FROM audit_events ORDER BY timestamp DESC, event_id DESC LIMIT $1
		) recent ORDER BY timestamp ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent audit events: %w", err)
	}
	defer rows.Close()
	return scanAuditEvents(rows)
}

func scanAuditEvents(rows *sql.Rows) ([]audit.Event, error) {
	var out []audit.Event
	for rows.Next() {
		var row AuditEventRow
		if err := rows.Scan(&row.EventID, &row.EventType, &row.AssetID, &row.Payload, &row.TraceID, &row.PreviousHash, &row.EventHash, &row.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		var payload map[string]interface{}
		if len(row.Payload) > 0 {
			if err := json.Unmarshal(row.Payload, &payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit payload: %w", err)
			}
		}
		assetID := ""
		if row.AssetID.Valid {
			assetID = row.AssetID.UUID.String()
		}
		out = append(out, audit.Event{
			EventType:    audit.EventType(row.EventType),
			AssetID:      assetID,
			Payload:      payload,
			PreviousHash: row.PreviousHash.String,
			EventHash:    row.EventHash,
			Timestamp:    row.Timestamp,
		})
	}
	return out, rows.Err()
}

// SetIfAbsent inserts a replay-cache row, reporting false (no error) if jti
// is already present and unexpired. Implements pkg/receipt.ReplayCache.
func (r *AuditRepository) SetIfAbsent(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO jti_replay_entries (jti, exp_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO UPDATE SET exp_at = EXCLUDED.exp_at
		WHERE jti_replay_entries.exp_at < now()`, jti, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert jti %s: %w", jti, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// GC deletes replay rows whose expiry has passed. Implements
// pkg/receipt.ReplayCache.
func (r *AuditRepository) GC(ctx context.Context, now time.Time) (int, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM jti_replay_entries WHERE exp_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to gc jti replay entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

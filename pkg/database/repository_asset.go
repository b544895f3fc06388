// Copyright 2025 Certen Protocol
//
// AssetRepository - CRUD operations for ProofAsset rows.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssetRepository handles ProofAsset persistence. q is either a *Client or
// a *Tx, so the same repository code runs standalone or inside
// Repositories.WithinTx.
type AssetRepository struct {
	q querier
}

// NewAssetRepository creates a new asset repository.
func NewAssetRepository(q querier) *AssetRepository {
	return &AssetRepository{q: q}
}

// Insert creates a new ProofAsset with verificationStatus=verified (the
// orchestrator's register operation only persists assets it has already
// verified; see spec.md §4.7 step 8). A unique-index violation on
// commitment surfaces as ErrCommitmentConflict.
func (r *AssetRepository) Insert(ctx context.Context, input *NewProofAsset, receipt string) (*ProofAsset, error) {
	now := time.Now()
	asset := &ProofAsset{
		AssetID:             uuid.New(),
		Commitment:          input.Commitment,
		IssuerDID:           nullString(input.IssuerDID),
		PartnerID:           input.PartnerID,
		SubjectBinding:      nullString(input.SubjectBinding),
		ProofFormat:         input.ProofFormat,
		ProofDigest:         input.ProofDigest,
		DigestAlg:           input.DigestAlg,
		ProofURI:            nullString(input.ProofURI),
		ConstraintHash:      input.ConstraintHash,
		ConstraintCID:       nullString(input.ConstraintCID),
		PolicyHash:          input.PolicyHash,
		PolicyCID:           input.PolicyCID,
		CircuitOrSchemaID:   nullString(input.CircuitOrSchemaID),
		CircuitCID:          nullString(input.CircuitCID),
		SchemaCID:           nullString(input.SchemaCID),
		ContentCIDs:         input.ContentCIDs,
		License:             input.License,
		StatusListURL:       input.StatusListURL,
		StatusListIndex:     input.StatusListIndex,
		StatusPurpose:       input.StatusPurpose,
		VerificationStatus:  StatusVerified,
		VerifierProofRef:    nullString(receipt),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	query := `
		INSERT INTO proof_assets (
			asset_id, commitment, issuer_did, partner_id, subject_binding,
			proof_format, proof_digest, digest_alg, proof_uri,
			constraint_hash, constraint_cid, policy_hash, policy_cid,
			circuit_or_schema_id, circuit_cid, schema_cid, content_cids, license,
			status_list_url, status_list_index, status_purpose,
			verification_status, verifier_proof_ref, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
		RETURNING asset_id, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query,
		asset.AssetID, asset.Commitment, asset.IssuerDID, asset.PartnerID, asset.SubjectBinding,
		asset.ProofFormat, asset.ProofDigest, asset.DigestAlg, asset.ProofURI,
		asset.ConstraintHash, asset.ConstraintCID, asset.PolicyHash, asset.PolicyCID,
		asset.CircuitOrSchemaID, asset.CircuitCID, asset.SchemaCID, pqStringArray(asset.ContentCIDs), asset.License,
		asset.StatusListURL, asset.StatusListIndex, asset.StatusPurpose,
		asset.VerificationStatus, asset.VerifierProofRef, asset.CreatedAt, asset.UpdatedAt,
	).Scan(&asset.AssetID, &asset.CreatedAt, &asset.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrCommitmentConflict
		}
		return nil, fmt.Errorf("failed to insert proof asset: %w", err)
	}
	return asset, nil
}

// Get retrieves a ProofAsset by ID.
func (r *AssetRepository) Get(ctx context.Context, assetID uuid.UUID) (*ProofAsset, error) {
	query := `
		SELECT asset_id, commitment, issuer_did, partner_id, subject_binding,
			proof_format, proof_digest, digest_alg, proof_uri,
			constraint_hash, constraint_cid, policy_hash, policy_cid,
			circuit_or_schema_id, circuit_cid, schema_cid, content_cids, license,
			status_list_url, status_list_index, status_purpose,
			audit_cid, verification_status, verification_algorithm,
			verification_public_key_digest, verification_timestamp, verification_metadata,
			verifier_proof_ref, created_at, updated_at
		FROM proof_assets WHERE asset_id = $1`

	asset := &ProofAsset{}
	var contentCIDs pqStringArrayScanner
	err := r.q.QueryRowContext(ctx, query, assetID).Scan(
		&asset.AssetID, &asset.Commitment, &asset.IssuerDID, &asset.PartnerID, &asset.SubjectBinding,
		&asset.ProofFormat, &asset.ProofDigest, &asset.DigestAlg, &asset.ProofURI,
		&asset.ConstraintHash, &asset.ConstraintCID, &asset.PolicyHash, &asset.PolicyCID,
		&asset.CircuitOrSchemaID, &asset.CircuitCID, &asset.SchemaCID, &contentCIDs, &asset.License,
		&asset.StatusListURL, &asset.StatusListIndex, &asset.StatusPurpose,
		&asset.AuditCID, &asset.VerificationStatus, &asset.VerificationAlgorithm,
		&asset.VerificationPublicKeyDigest, &asset.VerificationTimestamp, &asset.VerificationMetadata,
		&asset.VerifierProofRef, &asset.CreatedAt, &asset.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proof asset %s: %w", assetID, err)
	}
	asset.ContentCIDs = contentCIDs.vals
	return asset, nil
}

// GetByCommitment retrieves a ProofAsset by its unique commitment CID.
func (r *AssetRepository) GetByCommitment(ctx context.Context, commitment string) (*ProofAsset, error) {
	var assetID uuid.UUID
	err := r.q.QueryRowContext(ctx, `SELECT asset_id FROM proof_assets WHERE commitment = $1`, commitment).Scan(&assetID)
	if err == sql.ErrNoRows {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up commitment: %w", err)
	}
	return r.Get(ctx, assetID)
}

// UpdateVerification persists a re-verify outcome: new status, timestamp,
// and metadata.
func (r *AssetRepository) UpdateVerification(ctx context.Context, assetID uuid.UUID, status VerificationStatus, metadata []byte) error {
	query := `
		UPDATE proof_assets
		SET verification_status = $2, verification_timestamp = $3, verification_metadata = $4, updated_at = $3
		WHERE asset_id = $1`
	res, err := r.q.ExecContext(ctx, query, assetID, status, time.Now(), metadata)
	if err != nil {
		return fmt.Errorf("failed to update verification for asset %s: %w", assetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// List returns a page of proof assets ordered newest first.
func (r *AssetRepository) List(ctx context.Context, limit, offset int) ([]*ProofAsset, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT asset_id, commitment, issuer_did, partner_id, subject_binding,
			proof_format, proof_digest, digest_alg, proof_uri,
			constraint_hash, constraint_cid, policy_hash, policy_cid,
			circuit_or_schema_id, circuit_cid, schema_cid, content_cids, license,
			status_list_url, status_list_index, status_purpose,
			audit_cid, verification_status, verification_algorithm,
			verification_public_key_digest, verification_timestamp, verification_metadata,
			verifier_proof_ref, created_at, updated_at
		FROM proof_assets ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list proof assets: %w", err)
	}
	defer rows.Close()
	return scanProofAssets(rows)
}

// Recent returns the most recently registered assets, newest first, with no
// offset pagination (spec.md §6's GET /proof-assets/recent).
func (r *AssetRepository) Recent(ctx context.Context, limit int) ([]*ProofAsset, error) {
	return r.List(ctx, limit, 0)
}

func scanProofAssets(rows *sql.Rows) ([]*ProofAsset, error) {
	var out []*ProofAsset
	for rows.Next() {
		asset := &ProofAsset{}
		var contentCIDs pqStringArrayScanner
		if err := rows.Scan(
			&asset.AssetID, &asset.Commitment, &asset.IssuerDID, &asset.PartnerID, &asset.SubjectBinding,
			&asset.ProofFormat, &asset.ProofDigest, &asset.DigestAlg, &asset.ProofURI,
			&asset.ConstraintHash, &asset.ConstraintCID, &asset.PolicyHash, &asset.PolicyCID,
			&asset.CircuitOrSchemaID, &asset.CircuitCID, &asset.SchemaCID, &contentCIDs, &asset.License,
			&asset.StatusListURL, &asset.StatusListIndex, &asset.StatusPurpose,
			&asset.AuditCID, &asset.VerificationStatus, &asset.VerificationAlgorithm,
			&asset.VerificationPublicKeyDigest, &asset.VerificationTimestamp, &asset.VerificationMetadata,
			&asset.VerifierProofRef, &asset.CreatedAt, &asset.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan proof asset: %w", err)
		}
		asset.ContentCIDs = contentCIDs.vals
		out = append(out, asset)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// pqStringArray renders a Go string slice as a Postgres text[] literal, the
// idiom lib/pq expects for array parameters without pulling in pq.Array's
// reflection-based helper.
func pqStringArray(vals []string) string {
	if len(vals) == 0 {
		return "{}"
	}
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// pqStringArrayScanner parses a Postgres text[] result back into a []string.
type pqStringArrayScanner struct{ vals []string }

func (s *pqStringArrayScanner) Scan(src interface{}) error {
	if src == nil {
		s.vals = nil
		return nil
	}
	raw, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			raw = string(b)
		} else {
			return fmt.Errorf("unsupported scan type %T for text[]", src)
		}
	}
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		s.vals = nil
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	s.vals = out
	return nil
}

// Copyright 2025 Certen Protocol
//
// Package memstore provides in-process implementations of the registry's
// persistence contracts (pkg/registry.AssetStore, .StatusListStore, and
// pkg/audit.Appender), for tests and for running the registry without a
// PostgreSQL dependency. Method shapes mirror pkg/database's repositories
// exactly so either backend satisfies pkg/registry's interfaces.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certen/proof-asset-registry/pkg/audit"
	"github.com/certen/proof-asset-registry/pkg/database"
)

// AssetStore is an in-memory database.AssetRepository equivalent.
type AssetStore struct {
	mu           sync.Mutex
	assets       map[uuid.UUID]*database.ProofAsset
	byCommitment map[string]uuid.UUID
}

// NewAssetStore builds an empty AssetStore.
func NewAssetStore() *AssetStore {
	return &AssetStore{
		assets:       make(map[uuid.UUID]*database.ProofAsset),
		byCommitment: make(map[string]uuid.UUID),
	}
}

func (s *AssetStore) Insert(_ context.Context, input *database.NewProofAsset, receiptJWS string) (*database.ProofAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCommitment[input.Commitment]; exists {
		return nil, database.ErrCommitmentConflict
	}

	now := time.Now()
	asset := &database.ProofAsset{
		AssetID:            uuid.New(),
		Commitment:         input.Commitment,
		PartnerID:          input.PartnerID,
		ProofFormat:        input.ProofFormat,
		ProofDigest:        input.ProofDigest,
		DigestAlg:          input.DigestAlg,
		ConstraintHash:     input.ConstraintHash,
		PolicyHash:         input.PolicyHash,
		PolicyCID:          input.PolicyCID,
		ContentCIDs:        input.ContentCIDs,
		License:            input.License,
		StatusListURL:      input.StatusListURL,
		StatusListIndex:    input.StatusListIndex,
		StatusPurpose:      input.StatusPurpose,
		VerificationStatus: database.StatusVerified,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	asset.IssuerDID = nullString(input.IssuerDID)
	asset.SubjectBinding = nullString(input.SubjectBinding)
	asset.ProofURI = nullString(input.ProofURI)
	asset.ConstraintCID = nullString(input.ConstraintCID)
	asset.CircuitOrSchemaID = nullString(input.CircuitOrSchemaID)
	asset.CircuitCID = nullString(input.CircuitCID)
	asset.SchemaCID = nullString(input.SchemaCID)
	asset.VerifierProofRef = nullString(receiptJWS)

	s.assets[asset.AssetID] = asset
	s.byCommitment[asset.Commitment] = asset.AssetID
	return copyAsset(asset), nil
}

func (s *AssetStore) Get(_ context.Context, assetID uuid.UUID) (*database.ProofAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[assetID]
	if !ok {
		return nil, database.ErrAssetNotFound
	}
	return copyAsset(asset), nil
}

func (s *AssetStore) GetByCommitment(ctx context.Context, commitment string) (*database.ProofAsset, error) {
	s.mu.Lock()
	id, ok := s.byCommitment[commitment]
	s.mu.Unlock()
	if !ok {
		return nil, database.ErrAssetNotFound
	}
	return s.Get(ctx, id)
}

func (s *AssetStore) UpdateVerification(_ context.Context, assetID uuid.UUID, status database.VerificationStatus, metadata []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[assetID]
	if !ok {
		return database.ErrAssetNotFound
	}
	asset.VerificationStatus = status
	asset.VerificationMetadata = metadata
	asset.UpdatedAt = time.Now()
	asset.VerificationTimestamp.Time = asset.UpdatedAt
	asset.VerificationTimestamp.Valid = true
	return nil
}

// List returns a page of assets ordered newest first.
func (s *AssetStore) List(_ context.Context, limit, offset int) ([]*database.ProofAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*database.ProofAsset, 0, len(s.assets))
	for _, a := range s.assets {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*database.ProofAsset, 0, end-offset)
	for _, a := range all[offset:end] {
		out = append(out, copyAsset(a))
	}
	return out, nil
}

// Recent returns the most recently registered assets, newest first.
func (s *AssetStore) Recent(ctx context.Context, limit int) ([]*database.ProofAsset, error) {
	return s.List(ctx, limit, 0)
}

func copyAsset(a *database.ProofAsset) *database.ProofAsset {
	cp := *a
	cp.ContentCIDs = append([]string(nil), a.ContentCIDs...)
	return &cp
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// StatusListStore is an in-memory database.StatusListRepository equivalent.
type StatusListStore struct {
	mu    sync.Mutex
	lists map[string]*database.StatusList
}

// NewStatusListStore builds an empty StatusListStore.
func NewStatusListStore() *StatusListStore {
	return &StatusListStore{lists: make(map[string]*database.StatusList)}
}

func (s *StatusListStore) Upsert(_ context.Context, purpose database.StatusPurpose, url string, sizeBits int, initialBitstring []byte, etag string) (*database.StatusList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.lists[url]; ok {
		return copyList(existing), nil
	}
	now := time.Now()
	sl := &database.StatusList{
		ListID:    uuid.New(),
		Purpose:   purpose,
		URL:       url,
		Bitstring: append([]byte(nil), initialBitstring...),
		Size:      sizeBits,
		ETag:      etag,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lists[url] = sl
	return copyList(sl), nil
}

func (s *StatusListStore) Get(_ context.Context, url string) (*database.StatusList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.lists[url]
	if !ok {
		return nil, database.ErrStatusListNotFound
	}
	return copyList(sl), nil
}

func (s *StatusListStore) UpdateWithETag(_ context.Context, url string, newBitstring []byte, newETag, ifMatch string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.lists[url]
	if !ok {
		return false, database.ErrStatusListNotFound
	}
	if sl.ETag != ifMatch {
		return false, nil
	}
	sl.Bitstring = append([]byte(nil), newBitstring...)
	sl.ETag = newETag
	sl.UpdatedAt = time.Now()
	return true, nil
}

func copyList(sl *database.StatusList) *database.StatusList {
	cp := *sl
	cp.Bitstring = append([]byte(nil), sl.Bitstring...)
	return &cp
}

// AuditStore is an in-memory pkg/audit.Appender equivalent, enforcing the
// same previousHash race check a unique-constraint insert would.
type AuditStore struct {
	mu     sync.Mutex
	events []audit.Event
}

// NewAuditStore builds an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) LatestHash(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return "", nil
	}
	return s.events[len(s.events)-1].EventHash, nil
}

func (s *AuditStore) Insert(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := ""
	if len(s.events) > 0 {
		latest = s.events[len(s.events)-1].EventHash
	}
	if event.PreviousHash != latest {
		return database.ErrAuditChainConflict
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a defensive copy of every recorded event, oldest first.
func (s *AuditStore) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ForAsset returns every event recorded for assetID, oldest first.
func (s *AuditStore) ForAsset(_ context.Context, assetID uuid.UUID) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := assetID.String()
	var out []audit.Event
	for _, e := range s.events {
		if e.AssetID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// Recent returns the most recent limit events across all assets, oldest
// first, for Merkle export windowing.
func (s *AuditStore) Recent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if len(s.events) > limit && limit > 0 {
		start = len(s.events) - limit
	}
	out := make([]audit.Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out, nil
}

// Copyright 2025 Certen Protocol
//
// Package database provides sentinel errors for repository operations,
// explicit instead of nil, nil returns.

package database

import "errors"

// Sentinel errors for database operations.
var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrAssetNotFound is returned when a ProofAsset is not found.
	ErrAssetNotFound = errors.New("proof asset not found")

	// ErrStatusListNotFound is returned when a StatusList is not found.
	ErrStatusListNotFound = errors.New("status list not found")

	// ErrCommitmentConflict is returned when a ProofAsset insert collides
	// with an existing commitment (unique-index violation).
	ErrCommitmentConflict = errors.New("commitment already registered")

	// ErrETagMismatch is returned when a status-list update's If-Match
	// precondition does not hold.
	ErrETagMismatch = errors.New("etag precondition failed")

	// ErrAuditChainConflict is returned when an audit-event insert's
	// previousHash no longer matches the log's latest hash (lost the race
	// to a concurrent writer).
	ErrAuditChainConflict = errors.New("audit chain conflict: previousHash is stale")

	// ErrAPIKeyNotFound is returned when an ApiKey row is not found.
	ErrAPIKeyNotFound = errors.New("api key not found")
)

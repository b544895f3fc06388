// Copyright 2025 Certen Protocol
//
// Package registry implements the orchestrator of spec.md §4.7: the
// verification state machine for each ProofAsset and the operations that
// mutate it (register, re-verify, status-update), wired atop the
// canon/bitstring/receipt/statuslist/sri/verifyproof/audit packages.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/certen/proof-asset-registry/pkg/audit"
	"github.com/certen/proof-asset-registry/pkg/bitstring"
	"github.com/certen/proof-asset-registry/pkg/canon"
	"github.com/certen/proof-asset-registry/pkg/database"
	"github.com/certen/proof-asset-registry/pkg/perr"
	"github.com/certen/proof-asset-registry/pkg/receipt"
	"github.com/certen/proof-asset-registry/pkg/statuslist"
	"github.com/certen/proof-asset-registry/pkg/sri"
	"github.com/certen/proof-asset-registry/pkg/verifyproof"
)

// AssetStore is the ProofAsset persistence contract the orchestrator
// requires; *database.AssetRepository satisfies it by method shape.
type AssetStore interface {
	Insert(ctx context.Context, input *database.NewProofAsset, receipt string) (*database.ProofAsset, error)
	Get(ctx context.Context, assetID uuid.UUID) (*database.ProofAsset, error)
	GetByCommitment(ctx context.Context, commitment string) (*database.ProofAsset, error)
	UpdateVerification(ctx context.Context, assetID uuid.UUID, status database.VerificationStatus, metadata []byte) error
}

// StatusListStore is the durable StatusList-row persistence contract;
// *database.StatusListRepository satisfies it by method shape.
type StatusListStore interface {
	Upsert(ctx context.Context, purpose database.StatusPurpose, url string, sizeBits int, initialBitstring []byte, etag string) (*database.StatusList, error)
	Get(ctx context.Context, url string) (*database.StatusList, error)
	UpdateWithETag(ctx context.Context, url string, newBitstring []byte, newETag, ifMatch string) (bool, error)
}

// StatusVerifier reads a status-list bit; *statuslist.Client and
// *statuslist.LocalStore both satisfy it.
type StatusVerifier interface {
	VerifyStatus(ctx context.Context, url string, index int, purpose bitstring.Purpose) statuslist.Result
}

// IssuerDirectory resolves a DID to its verification methods (spec.md §6).
// The pkg/issuerdirectory implementations report failures as *perr.Error
// values (VALIDATION_FAILED, FORBIDDEN, PAYLOAD_TOO_LARGE, ...) with a free-
// text detail; they set no invalid-format / method-not-supported / timeout /
// not-found reason string.
type IssuerDirectory interface {
	ResolveDID(ctx context.Context, did string) (verificationMethods []string, err error)
}

// Config holds the orchestrator's process-wide, immutable settings.
type Config struct {
	Audience           string
	Issuer             string
	StatusListBaseURL  string
	StatusListSizeBits int
	DefaultPurpose     database.StatusPurpose
	DIDValidationOn    bool
}

// AuditMirror is an optional, best-effort secondary sink for audit events
// (spec.md §6's real-time dashboard feed); pkg/firestoremirror.Mirror
// satisfies it. A failure here never fails the mutation that produced the
// event — the durable chain in Audit is the system of record.
type AuditMirror interface {
	MirrorEvent(ctx context.Context, e audit.Event) error
}

// Transactor runs a mutation and its audit append as a single unit: if fn
// returns an error, everything it did through the collaborators it was
// handed is rolled back (spec.md §7). DBTransactor is the only
// implementation; it is nil for in-memory deployments, which fall back to
// running directly against Assets/StatusLists/Audit with no such guarantee.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, assets AssetStore, statusLists StatusListStore, auditLog audit.Appender) error) error
}

// DBTransactor adapts a *database.Repositories into a Transactor, running
// the mutation and its audit append inside one SQL transaction. Wire it
// into Orchestrator.Transactor only for the Postgres-backed deployment.
type DBTransactor struct {
	Repos *database.Repositories
}

func (t *DBTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, assets AssetStore, statusLists StatusListStore, auditLog audit.Appender) error) error {
	return t.Repos.WithinTx(ctx, func(ctx context.Context, tx *database.TxRepositories) error {
		return fn(ctx, tx.Assets, tx.StatusLists, tx.Audit)
	})
}

// Orchestrator wires the registry's collaborators together. It holds no
// mutable state of its own beyond what its collaborators already guard.
type Orchestrator struct {
	Assets          AssetStore
	StatusLists     StatusListStore
	StatusVerifier  StatusVerifier
	StatusWriter    *statuslist.LocalStore // nil if StatusVerifier is not a LocalStore-backed deployment
	Audit           audit.Appender
	Mirror          AuditMirror // nil disables the best-effort Firestore mirror
	Transactor      Transactor  // nil on in-memory deployments; see Transactor
	Receipts        *receipt.Service
	VerifierKeys    receipt.JWKSResolver // resolves the registry's own signing key(s) by kid, for verifying receipts it issued
	SRI             *sri.Fetcher
	IssuerDirectory IssuerDirectory // nil disables DID resolution
	Config          Config
	Now             func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

var hexDigestRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// validateDigest enforces spec.md §3's encoding rule: hex for the
// byte-oriented hash algorithms, base64url permitted for multihash.
func validateDigest(alg database.DigestAlgorithm, digest string) error {
	switch alg {
	case database.DigestSHA256, database.DigestSHA3_256, database.DigestBlake3:
		if !hexDigestRe.MatchString(digest) {
			return perr.New(perr.CodeInvalidDigest, "proof digest must be 64 lowercase hex characters for "+string(alg))
		}
	case database.DigestMultihash:
		if digest == "" {
			return perr.New(perr.CodeInvalidDigest, "proof digest must not be empty")
		}
		if _, err := base64.RawURLEncoding.DecodeString(digest); err != nil {
			return perr.New(perr.CodeInvalidDigest, "multihash proof digest must be unpadded base64url")
		}
	default:
		return perr.New(perr.CodeInvalidDigest, "unknown digest algorithm "+string(alg))
	}
	return nil
}

// base64URLDigest renders digest as base64url regardless of its storage
// encoding, per SPEC_FULL.md §4.3a: receipts and commitment-binding checks
// always compare proof_digest in base64url.
func base64URLDigest(alg database.DigestAlgorithm, digest string) (string, error) {
	if alg == database.DigestMultihash {
		return digest, nil
	}
	raw, err := hex.DecodeString(digest)
	if err != nil {
		return "", perr.Wrap(perr.CodeInvalidDigest, "failed to decode hex digest", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// RegisterInput is the insertProofAsset request (spec.md §4.7 "Register
// operation"), plus the ProofRef bytes verifyFresh dispatches on.
type RegisterInput struct {
	IssuerDID         string
	PartnerID         uuid.NullUUID
	SubjectBinding    string
	ProofFormat       database.ProofFormat
	ProofDigest       string
	DigestAlg         database.DigestAlgorithm
	ProofURI          string
	ProofRef          []byte
	ConstraintHash    string
	ConstraintCID     string
	PolicyHash        string
	PolicyCID         string
	CircuitOrSchemaID string
	CircuitCID        string
	SchemaCID         string
	ContentCIDs       []string
	License           json.RawMessage
	ProofID           string
}

// RegisterResult is the response to a successful register operation.
type RegisterResult struct {
	Asset   *database.ProofAsset
	Receipt string
}

// Register implements spec.md §4.7's register operation end to end.
func (o *Orchestrator) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if in.PolicyHash == "" || in.PolicyCID == "" {
		return nil, perr.New(perr.CodeValidationFailed, "policy_hash and policy_cid are required")
	}
	if err := validateDigest(in.DigestAlg, in.ProofDigest); err != nil {
		return nil, err
	}

	if o.IssuerDirectory != nil && in.IssuerDID != "" {
		if _, err := o.IssuerDirectory.ResolveDID(ctx, in.IssuerDID); err != nil {
			return nil, perr.Wrap(perr.CodeValidationFailed, "issuer DID resolution failed", err)
		}
	}

	verifyResult := verifyproof.Dispatch(verifyproof.Format(in.ProofFormat), in.ProofRef)
	if !verifyResult.OK {
		return nil, perr.WithReason(perr.CodeProofVerifyFailed, "fresh-proof verification failed", verifyResult.Reason)
	}

	commitment, err := canon.ProofCommitment(canon.CommitmentInputs{
		PolicyCID:      in.PolicyCID,
		PolicyHash:     in.PolicyHash,
		ConstraintCID:  in.ConstraintCID,
		ConstraintHash: in.ConstraintHash,
		CircuitCID:     in.CircuitCID,
		SchemaCID:      in.SchemaCID,
		License:        rawLicense(in.License),
		ProofID:        in.ProofID,
	})
	if err != nil {
		return nil, perr.Wrap(perr.CodeInternal, "failed to compute proof commitment", err)
	}

	statusURL, statusIndex, err := o.allocateStatusSlot(ctx)
	if err != nil {
		return nil, err
	}

	digestForReceipt, err := base64URLDigest(in.DigestAlg, in.ProofDigest)
	if err != nil {
		return nil, err
	}
	receiptJWS, err := o.Receipts.Generate(receipt.GenerateParams{
		Audience:       o.Config.Audience,
		ProofDigest:    digestForReceipt,
		PolicyHash:     in.PolicyHash,
		ConstraintHash: in.ConstraintHash,
		StatusRef: receipt.StatusRef{
			StatusListURL:   statusURL,
			StatusListIndex: strconv.Itoa(statusIndex),
			StatusPurpose:   string(o.Config.DefaultPurpose),
		},
		Issuer: o.Config.Issuer,
	})
	if err != nil {
		return nil, err
	}

	var asset *database.ProofAsset
	err = o.withMutation(ctx, func(ctx context.Context, assets AssetStore, _ StatusListStore, auditLog audit.Appender) error {
		var insertErr error
		asset, insertErr = assets.Insert(ctx, &database.NewProofAsset{
			Commitment:        commitment,
			IssuerDID:         in.IssuerDID,
			PartnerID:         in.PartnerID,
			SubjectBinding:    in.SubjectBinding,
			ProofFormat:       in.ProofFormat,
			ProofDigest:       in.ProofDigest,
			DigestAlg:         in.DigestAlg,
			ProofURI:          in.ProofURI,
			ConstraintHash:    in.ConstraintHash,
			ConstraintCID:     in.ConstraintCID,
			PolicyHash:        in.PolicyHash,
			PolicyCID:         in.PolicyCID,
			CircuitOrSchemaID: in.CircuitOrSchemaID,
			CircuitCID:        in.CircuitCID,
			SchemaCID:         in.SchemaCID,
			ContentCIDs:       in.ContentCIDs,
			License:           in.License,
			StatusListURL:     statusURL,
			StatusListIndex:   strconv.Itoa(statusIndex),
			StatusPurpose:     o.Config.DefaultPurpose,
		}, receiptJWS)
		if insertErr != nil {
			if errors.Is(insertErr, database.ErrCommitmentConflict) {
				return perr.New(perr.CodeCommitmentConflict, "a proof asset with this commitment already exists")
			}
			return perr.Wrap(perr.CodeInternal, "failed to persist proof asset", insertErr)
		}

		if err := o.appendEvent(ctx, auditLog, audit.EventMint, asset.AssetID.String(), map[string]interface{}{
			"commitment":    commitment,
			"proofFormat":   string(in.ProofFormat),
			"statusListUrl": statusURL,
			"statusIndex":   statusIndex,
		}); err != nil {
			return perr.Wrap(perr.CodeInternal, "failed to record mint audit event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &RegisterResult{Asset: asset, Receipt: receiptJWS}, nil
}

func rawLicense(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// allocateStatusSlot picks a random index within the configured bit width
// and ensures the backing status list exists (spec.md §4.7 steps 5-6). The
// demo's random-index scheme accepts the small residual collision
// probability the spec explicitly allows ("a production implementation
// MUST avoid double-allocation").
func (o *Orchestrator) allocateStatusSlot(ctx context.Context) (string, int, error) {
	sizeBits := o.Config.StatusListSizeBits
	if sizeBits <= 0 {
		sizeBits = 131072
	}
	url, err := statuslist.Normalize(o.Config.StatusListBaseURL + "/" + string(o.Config.DefaultPurpose))
	if err != nil {
		return "", 0, err
	}

	if _, err := o.StatusLists.Get(ctx, url); errors.Is(err, database.ErrStatusListNotFound) {
		initial := bitstring.NewBitstring(sizeBits)
		etag := weakETag(initial)
		if _, err := o.StatusLists.Upsert(ctx, o.Config.DefaultPurpose, url, sizeBits, initial, etag); err != nil {
			return "", 0, perr.Wrap(perr.CodeInternal, "failed to create status list", err)
		}
		if o.StatusWriter != nil {
			_ = o.StatusWriter.Put(url, initial)
		}
	} else if err != nil {
		return "", 0, perr.Wrap(perr.CodeInternal, "failed to look up status list", err)
	}

	index, err := randomIndex(sizeBits)
	if err != nil {
		return "", 0, perr.Wrap(perr.CodeInternal, "failed to allocate status index", err)
	}
	return url, index, nil
}

func randomIndex(sizeBits int) (int, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(buf[:])
	return int(n % uint32(sizeBits)), nil
}

func weakETag(data []byte) string {
	return `W/"` + canon.SHA256Hex(data)[:16] + `"`
}

// appendEvent computes the next event's hash off the latest chain tip and
// inserts it into auditLog, retrying on a detected race per spec.md §5
// ordering guarantee (a). auditLog is o.Audit on the non-transactional path,
// or a transaction-scoped audit.Appender when called from withMutation.
func (o *Orchestrator) appendEvent(ctx context.Context, auditLog audit.Appender, eventType audit.EventType, assetID string, payload map[string]interface{}) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		prev, err := auditLog.LatestHash(ctx)
		if err != nil {
			return err
		}
		ts := o.now()
		hash, err := audit.ComputeEventHash(eventType, assetID, payload, prev, ts)
		if err != nil {
			return err
		}
		ev := audit.Event{
			EventType:    eventType,
			AssetID:      assetID,
			Payload:      payload,
			PreviousHash: prev,
			Timestamp:    ts,
			EventHash:    hash,
		}
		err = auditLog.Insert(ctx, ev)
		if err == nil {
			o.mirrorEvent(ctx, ev)
			return nil
		}
		if errors.Is(err, database.ErrAuditChainConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to append audit event after %d attempts: chain tip kept moving", maxAttempts)
}

// withMutation runs fn against o.Transactor's single SQL transaction when
// one is wired, so a failing audit append rolls back the mutation that
// preceded it (spec.md §7); otherwise it runs fn directly against
// o.Assets/o.StatusLists/o.Audit with no such guarantee (the in-memory
// deployment's documented limitation).
func (o *Orchestrator) withMutation(ctx context.Context, fn func(ctx context.Context, assets AssetStore, statusLists StatusListStore, auditLog audit.Appender) error) error {
	if o.Transactor != nil {
		return o.Transactor.WithinTx(ctx, fn)
	}
	return fn(ctx, o.Assets, o.StatusLists, o.Audit)
}

// mirrorEvent forwards ev to the optional dashboard mirror. Mirroring is
// best-effort and never affects the outcome of the mutation that produced
// ev; failures are logged by the mirror implementation itself.
func (o *Orchestrator) mirrorEvent(ctx context.Context, ev audit.Event) {
	if o.Mirror == nil {
		return
	}
	_ = o.Mirror.MirrorEvent(ctx, ev)
}

// VerifyInput is a re-verify request (spec.md §4.7 "Re-verify operation").
type VerifyInput struct {
	AssetID           uuid.UUID
	Receipt           string
	RequireFreshProof bool
	ProofURI          string
	ProofBytes        []byte
	ExpectedNonce     string
}

// VerifyOutcome is the tagged result of a re-verify call.
type VerifyOutcome struct {
	Success            bool
	VerificationStatus database.VerificationStatus
	VerificationMethod string // "receipt_based" | "fresh_proof"
	ReceiptVerified    bool
	CommitmentsMatched bool
	StatusChecked      bool
	FreshProofVerified bool
	Claims             *receipt.Claims
}

// Verify implements spec.md §4.7's re-verify operation.
func (o *Orchestrator) Verify(ctx context.Context, in VerifyInput) (*VerifyOutcome, error) {
	asset, err := o.Assets.Get(ctx, in.AssetID)
	if err != nil {
		if errors.Is(err, database.ErrAssetNotFound) {
			return nil, perr.New(perr.CodeAssetNotFound, "proof asset not found")
		}
		return nil, perr.Wrap(perr.CodeInternal, "failed to load proof asset", err)
	}

	out := &VerifyOutcome{}
	method := "receipt_based"

	if !in.RequireFreshProof {
		if in.Receipt == "" {
			return nil, perr.New(perr.CodeNoReceipt, "a receipt is required unless requireFreshProof is set")
		}
		vr, err := o.Receipts.Verify(ctx, in.Receipt, receipt.VerifyOptions{
			JWKS:             o.VerifierKeys,
			ExpectedAudience: o.Config.Audience,
			ExpectedNonce:    in.ExpectedNonce,
		})
		if err != nil {
			return nil, perr.Wrap(perr.CodeInternal, "receipt verification unavailable", err)
		}
		if !vr.OK {
			return nil, perr.WithReason(perr.CodeReceiptInvalid, "receipt verification failed", vr.Reason)
		}
		out.ReceiptVerified = true
		out.Claims = vr.Claims

		if reason := bindingMismatch(asset, vr.Claims); reason != "" {
			return nil, perr.WithReason(perr.CodeReceiptInvalid, "receipt does not bind to this asset", reason)
		}
		out.CommitmentsMatched = true
	}

	index, err := strconv.Atoi(asset.StatusListIndex)
	if err != nil {
		return nil, perr.Wrap(perr.CodeInternal, "stored status index is not numeric", err)
	}
	statusRes := o.StatusVerifier.VerifyStatus(ctx, asset.StatusListURL, index, bitstring.Purpose(asset.StatusPurpose))
	out.StatusChecked = true
	if statusRes.Verdict == statuslist.VerdictUnknown {
		e := perr.New(perr.CodeStatusUnavailable, "status list unreachable or stale")
		e.FailClosed = true
		return nil, e
	}

	newStatus := verdictToStatus(statusRes.Verdict)

	if in.RequireFreshProof {
		method = "fresh_proof"
		bytes := in.ProofBytes
		if len(bytes) == 0 {
			uri := in.ProofURI
			if uri == "" {
				uri = asset.ProofURI.String
			}
			if uri == "" {
				return nil, perr.New(perr.CodeFreshProofInvalid, "no proof_bytes or proof_uri supplied")
			}
			expectedDigest, err := base64URLDigest(asset.DigestAlg, asset.ProofDigest)
			if err != nil {
				return nil, err
			}
			fetched, err := o.SRI.FetchWithSRI(ctx, uri, expectedDigest)
			if err != nil {
				return nil, err
			}
			bytes = fetched
		}
		fresh := verifyproof.Dispatch(verifyproof.Format(asset.ProofFormat), bytes)
		bytes = nil // discard: never persisted (spec.md §4.5 step 6)
		if !fresh.OK {
			return nil, perr.WithReason(perr.CodeFreshProofInvalid, "fresh proof verification failed", fresh.Reason)
		}
		out.FreshProofVerified = true
	}

	oldStatus := asset.VerificationStatus
	metadata, _ := json.Marshal(map[string]interface{}{
		"verificationMethod": method,
		"statusVerdict":      string(statusRes.Verdict),
	})
	err = o.withMutation(ctx, func(ctx context.Context, assets AssetStore, _ StatusListStore, auditLog audit.Appender) error {
		if err := assets.UpdateVerification(ctx, asset.AssetID, newStatus, metadata); err != nil {
			return perr.Wrap(perr.CodeInternal, "failed to persist verification outcome", err)
		}
		if err := o.appendEvent(ctx, auditLog, audit.EventUse, asset.AssetID.String(), map[string]interface{}{
			"oldStatus":          string(oldStatus),
			"newStatus":          string(newStatus),
			"verificationMethod": method,
			"freshProofVerified": out.FreshProofVerified,
		}); err != nil {
			return perr.Wrap(perr.CodeInternal, "failed to record use audit event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.Success = true
	out.VerificationStatus = newStatus
	out.VerificationMethod = method
	return out, nil
}

func verdictToStatus(v statuslist.Verdict) database.VerificationStatus {
	switch v {
	case statuslist.VerdictRevoked:
		return database.StatusRevoked
	case statuslist.VerdictSuspended:
		return database.StatusSuspended
	default:
		return database.StatusVerified
	}
}

// bindingMismatch checks the receipt's claims against the asset's persisted
// commitment fields (spec.md §4.7 step 2) and returns the stable mismatch
// reason, or "" if every binding holds.
func bindingMismatch(asset *database.ProofAsset, claims *receipt.Claims) string {
	expectedDigest, err := base64URLDigest(asset.DigestAlg, asset.ProofDigest)
	if err == nil && claims.ProofDigest != expectedDigest {
		return "digest_mismatch"
	}
	if claims.PolicyHash != asset.PolicyHash {
		return "policy_mismatch"
	}
	if claims.ConstraintHash != asset.ConstraintHash {
		return "constraint_mismatch"
	}
	normalizedAssetURL, err := statuslist.Normalize(asset.StatusListURL)
	if err != nil {
		normalizedAssetURL = asset.StatusListURL
	}
	normalizedClaimURL, err := statuslist.Normalize(claims.StatusRef.StatusListURL)
	if err != nil {
		normalizedClaimURL = claims.StatusRef.StatusListURL
	}
	if normalizedClaimURL != normalizedAssetURL ||
		claims.StatusRef.StatusListIndex != asset.StatusListIndex ||
		claims.StatusRef.StatusPurpose != string(asset.StatusPurpose) {
		return "status_ref_mismatch"
	}
	return ""
}

// StatusUpdateInput is a status-list mutation request (spec.md §4.7
// "Status-update operation").
type StatusUpdateInput struct {
	StatusListURL string
	Operations    []bitstring.Op
	IfMatch       string
}

// StatusUpdateOutcome is the response to a status-update call.
type StatusUpdateOutcome struct {
	Updated bool
	ETag    string
}

// UpdateStatus implements spec.md §4.7's status-update operation.
func (o *Orchestrator) UpdateStatus(ctx context.Context, in StatusUpdateInput) (*StatusUpdateOutcome, error) {
	url, err := statuslist.Normalize(in.StatusListURL)
	if err != nil {
		return nil, err
	}
	row, err := o.StatusLists.Get(ctx, url)
	if err != nil {
		if errors.Is(err, database.ErrStatusListNotFound) {
			return nil, perr.New(perr.CodeStatusListNotFound, "status list not found")
		}
		return nil, perr.Wrap(perr.CodeInternal, "failed to load status list", err)
	}
	ifMatch := in.IfMatch
	if ifMatch == "" {
		// No If-Match supplied: the caller accepts whatever the list's
		// current state is (spec.md §6, "honours If-Match" implies it is
		// optional), so the precondition is the row's own etag.
		ifMatch = row.ETag
	} else if row.ETag != ifMatch {
		return nil, perr.New(perr.CodeETagMismatch, "status list etag precondition failed")
	}

	next, err := bitstring.ApplyOps(row.Bitstring, in.Operations)
	if err != nil {
		return nil, perr.Wrap(perr.CodeValidationFailed, "failed to apply status-list operations", err)
	}
	newETag := weakETag(next)

	opPayload := make([]map[string]interface{}, len(in.Operations))
	for i, op := range in.Operations {
		opPayload[i] = map[string]interface{}{"op": string(op.Kind), "index": op.Index}
	}

	err = o.withMutation(ctx, func(ctx context.Context, _ AssetStore, statusLists StatusListStore, auditLog audit.Appender) error {
		ok, err := statusLists.UpdateWithETag(ctx, url, next, newETag, ifMatch)
		if err != nil {
			return perr.Wrap(perr.CodeInternal, "failed to persist status-list update", err)
		}
		if !ok {
			return perr.New(perr.CodeETagMismatch, "status list etag precondition failed")
		}
		if err := o.appendEvent(ctx, auditLog, audit.EventStatusUpdate, "", map[string]interface{}{
			"statusListUrl": url,
			"operations":    opPayload,
			"oldEtag":       in.IfMatch,
			"newEtag":       newETag,
		}); err != nil {
			return perr.Wrap(perr.CodeInternal, "failed to record status-update audit event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if o.StatusWriter != nil {
		_ = o.StatusWriter.Put(url, next)
	}

	return &StatusUpdateOutcome{Updated: true, ETag: newETag}, nil
}

// Copyright 2025 Certen Protocol

package registry

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/certen/proof-asset-registry/pkg/bitstring"
	"github.com/certen/proof-asset-registry/pkg/canon"
	"github.com/certen/proof-asset-registry/pkg/database"
	"github.com/certen/proof-asset-registry/pkg/memstore"
	"github.com/certen/proof-asset-registry/pkg/perr"
	"github.com/certen/proof-asset-registry/pkg/receipt"
	"github.com/certen/proof-asset-registry/pkg/sri"
	"github.com/certen/proof-asset-registry/pkg/statuslist"
)

func fakeJWS(alg string) []byte {
	header, _ := json.Marshal(map[string]string{"alg": alg, "typ": "JWT"})
	payload, _ := json.Marshal(map[string]string{})
	enc := base64.RawURLEncoding.EncodeToString
	return []byte(enc(header) + "." + enc(payload) + ".sig")
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	keys, err := receipt.NewEphemeralKeyProvider()
	if err != nil {
		t.Fatalf("NewEphemeralKeyProvider: %v", err)
	}
	sk, err := keys.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	jwks := receipt.StaticJWKSResolver{Keys: map[string]*ecdsa.PublicKey{sk.KeyID: sk.PublicKey}}

	localStore := statuslist.NewLocalStore()

	return &Orchestrator{
		Assets:         memstore.NewAssetStore(),
		StatusLists:    memstore.NewStatusListStore(),
		StatusVerifier: localStore,
		StatusWriter:   localStore,
		Audit:          memstore.NewAuditStore(),
		Receipts:       receipt.NewService(keys, receipt.NewMemoryReplayCache()),
		VerifierKeys:   jwks,
		SRI:            sri.New(nil, false),
		Config: Config{
			Audience:           "par-test-audience",
			Issuer:             "did:example:registry",
			StatusListBaseURL:  "https://registry.example/status",
			StatusListSizeBits: 1024,
			DefaultPurpose:     database.PurposeRevocation,
		},
	}
}

func validRegisterInput() RegisterInput {
	return RegisterInput{
		ProofFormat:    database.ProofFormatJWS,
		ProofRef:       fakeJWS("ES256"),
		ProofDigest:    canon.SHA256HexString("proof-bytes"),
		DigestAlg:      database.DigestSHA256,
		ConstraintHash: canon.SHA256HexString("constraint"),
		PolicyHash:     canon.SHA256HexString("policy"),
		PolicyCID:      "policy-cid-1",
		ProofID:        "proof-1",
	}
}

func TestRegisterPersistsVerifiedAssetWithReceipt(t *testing.T) {
	o := newTestOrchestrator(t)
	res, err := o.Register(context.Background(), validRegisterInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Asset.VerificationStatus != database.StatusVerified {
		t.Fatalf("expected verified, got %v", res.Asset.VerificationStatus)
	}
	if res.Receipt == "" {
		t.Fatalf("expected a non-empty receipt")
	}
	if res.Asset.Commitment == "" {
		t.Fatalf("expected a commitment to be computed")
	}
}

func TestRegisterRejectsDuplicateCommitment(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	in := validRegisterInput()
	if _, err := o.Register(ctx, in); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := o.Register(ctx, in)
	if err == nil {
		t.Fatalf("expected commitment-conflict error on duplicate register")
	}
	pe, ok := perr.As(err)
	if !ok || pe.Code != perr.CodeCommitmentConflict {
		t.Fatalf("expected CodeCommitmentConflict, got %v", err)
	}
}

func TestRegisterRejectsMalformedDigest(t *testing.T) {
	o := newTestOrchestrator(t)
	in := validRegisterInput()
	in.ProofDigest = "not-hex"
	_, err := o.Register(context.Background(), in)
	if err == nil {
		t.Fatalf("expected invalid-digest error")
	}
	pe, ok := perr.As(err)
	if !ok || pe.Code != perr.CodeInvalidDigest {
		t.Fatalf("expected CodeInvalidDigest, got %v", err)
	}
}

func TestRegisterRejectsFreshProofFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	in := validRegisterInput()
	in.ProofRef = fakeJWS("none")
	_, err := o.Register(context.Background(), in)
	if err == nil {
		t.Fatalf("expected proof-verify-failed error for alg:none")
	}
	pe, ok := perr.As(err)
	if !ok || pe.Code != perr.CodeProofVerifyFailed {
		t.Fatalf("expected CodeProofVerifyFailed, got %v", err)
	}
}

func TestVerifyReceiptBasedHappyPath(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	reg, err := o.Register(ctx, validRegisterInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := o.Verify(ctx, VerifyInput{AssetID: reg.Asset.AssetID, Receipt: reg.Receipt})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !out.Success || !out.ReceiptVerified || !out.CommitmentsMatched || !out.StatusChecked {
		t.Fatalf("expected a fully successful verify, got %+v", out)
	}
	if out.VerificationStatus != database.StatusVerified {
		t.Fatalf("expected verified, got %v", out.VerificationStatus)
	}
}

func TestVerifyRejectsReplayedReceipt(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	reg, err := o.Register(ctx, validRegisterInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := o.Verify(ctx, VerifyInput{AssetID: reg.Asset.AssetID, Receipt: reg.Receipt}); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	_, err = o.Verify(ctx, VerifyInput{AssetID: reg.Asset.AssetID, Receipt: reg.Receipt})
	if err == nil {
		t.Fatalf("expected replay rejection on second verify with same receipt")
	}
	pe, ok := perr.As(err)
	if !ok || pe.Code != perr.CodeReceiptInvalid || pe.Reason != "replay_detected" {
		t.Fatalf("expected RECEIPT_INVALID/replay_detected, got %v", err)
	}
}

func TestVerifyReflectsRevokedStatusBit(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	reg, err := o.Register(ctx, validRegisterInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	row, err := o.StatusLists.Get(ctx, reg.Asset.StatusListURL)
	if err != nil {
		t.Fatalf("Get status list: %v", err)
	}
	idx := mustAtoi(t, reg.Asset.StatusListIndex)
	updateOut, err := o.UpdateStatus(ctx, StatusUpdateInput{
		StatusListURL: reg.Asset.StatusListURL,
		Operations:    []bitstring.Op{{Kind: bitstring.OpSet, Index: idx}},
		IfMatch:       row.ETag,
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if !updateOut.Updated || updateOut.ETag == row.ETag {
		t.Fatalf("expected a fresh etag after update, got %+v", updateOut)
	}

	out, err := o.Verify(ctx, VerifyInput{AssetID: reg.Asset.AssetID, Receipt: reg.Receipt})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if out.VerificationStatus != database.StatusRevoked {
		t.Fatalf("expected revoked after status-list bit was set, got %v", out.VerificationStatus)
	}
}

func TestUpdateStatusRejectsStaleETag(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	reg, err := o.Register(ctx, validRegisterInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = o.UpdateStatus(ctx, StatusUpdateInput{
		StatusListURL: reg.Asset.StatusListURL,
		Operations:    []bitstring.Op{{Kind: bitstring.OpSet, Index: 0}},
		IfMatch:       `W/"stale-etag"`,
	})
	if err == nil {
		t.Fatalf("expected etag-mismatch error")
	}
	pe, ok := perr.As(err)
	if !ok || pe.Code != perr.CodeETagMismatch {
		t.Fatalf("expected CodeETagMismatch, got %v", err)
	}
}

func TestVerifyFailsWithoutReceiptWhenFreshProofNotRequested(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	reg, err := o.Register(ctx, validRegisterInput())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = o.Verify(ctx, VerifyInput{AssetID: reg.Asset.AssetID})
	if err == nil {
		t.Fatalf("expected NO_RECEIPT error")
	}
	pe, ok := perr.As(err)
	if !ok || pe.Code != perr.CodeNoReceipt {
		t.Fatalf("expected CodeNoReceipt, got %v", err)
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("not a digit string: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}

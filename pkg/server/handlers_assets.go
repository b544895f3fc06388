// Copyright 2025 Certen Protocol

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/certen/proof-asset-registry/pkg/bitstring"
	"github.com/certen/proof-asset-registry/pkg/database"
	"github.com/certen/proof-asset-registry/pkg/perr"
	"github.com/certen/proof-asset-registry/pkg/registry"
	"github.com/certen/proof-asset-registry/pkg/statuslist"
)

// registerRequest is the POST /proof-assets body (spec.md §6).
type registerRequest struct {
	IssuerDID         string          `json:"issuerDid"`
	SubjectBinding    string          `json:"subjectBinding"`
	ProofFormat       string          `json:"proofFormat"`
	ProofDigest       string          `json:"proofDigest"`
	DigestAlg         string          `json:"digestAlg"`
	ProofURI          string          `json:"proofUri"`
	ProofBytes        []byte          `json:"proofBytes"`
	ConstraintHash    string          `json:"constraintHash"`
	ConstraintCID     string          `json:"constraintCid"`
	PolicyHash        string          `json:"policyHash"`
	PolicyCID         string          `json:"policyCid"`
	CircuitOrSchemaID string          `json:"circuitOrSchemaId"`
	CircuitCID        string          `json:"circuitCid"`
	SchemaCID         string          `json:"schemaCid"`
	ContentCIDs       []string        `json:"contentCids"`
	License           json.RawMessage `json:"license"`
	ProofID           string          `json:"proofId"`
}

type assetResponse struct {
	AssetID            string          `json:"assetId"`
	Commitment         string          `json:"commitment"`
	IssuerDID          string          `json:"issuerDid,omitempty"`
	ProofFormat        string          `json:"proofFormat"`
	ProofDigest        string          `json:"proofDigest"`
	DigestAlg          string          `json:"digestAlg"`
	ProofURI           string          `json:"proofUri,omitempty"`
	ConstraintHash     string          `json:"constraintHash"`
	PolicyHash         string          `json:"policyHash"`
	PolicyCID          string          `json:"policyCid"`
	ContentCIDs        []string        `json:"contentCids,omitempty"`
	StatusListURL      string          `json:"statusListUrl"`
	StatusListIndex    string          `json:"statusListIndex"`
	StatusPurpose      string          `json:"statusPurpose"`
	VerificationStatus string          `json:"verificationStatus"`
	CreatedAt          string          `json:"createdAt"`
	UpdatedAt          string          `json:"updatedAt"`
	Receipt            string          `json:"_receipt,omitempty"`
}

func toAssetResponse(a *database.ProofAsset, receiptJWS string) assetResponse {
	return assetResponse{
		AssetID:            a.AssetID.String(),
		Commitment:         a.Commitment,
		IssuerDID:          a.IssuerDID.String,
		ProofFormat:        string(a.ProofFormat),
		ProofDigest:        a.ProofDigest,
		DigestAlg:          string(a.DigestAlg),
		ProofURI:           a.ProofURI.String,
		ConstraintHash:     a.ConstraintHash,
		PolicyHash:         a.PolicyHash,
		PolicyCID:          a.PolicyCID,
		ContentCIDs:        a.ContentCIDs,
		StatusListURL:      a.StatusListURL,
		StatusListIndex:    a.StatusListIndex,
		StatusPurpose:      string(a.StatusPurpose),
		VerificationStatus: string(a.VerificationStatus),
		CreatedAt:          a.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:          a.UpdatedAt.UTC().Format(timeFormat),
		Receipt:            receiptJWS,
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z"

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, perr.New(perr.CodeValidationFailed, "malformed JSON body"))
		return
	}
	principal, _ := principalFromContext(r.Context())

	var partnerID uuid.NullUUID
	if principal != nil {
		partnerID = uuid.NullUUID{UUID: principal.PartnerID, Valid: true}
	}

	result, err := s.Orchestrator.Register(r.Context(), registry.RegisterInput{
		IssuerDID:         req.IssuerDID,
		PartnerID:         partnerID,
		SubjectBinding:    req.SubjectBinding,
		ProofFormat:       database.ProofFormat(req.ProofFormat),
		ProofDigest:       req.ProofDigest,
		DigestAlg:         database.DigestAlgorithm(req.DigestAlg),
		ProofURI:          req.ProofURI,
		ProofRef:          req.ProofBytes,
		ConstraintHash:    req.ConstraintHash,
		ConstraintCID:     req.ConstraintCID,
		PolicyHash:        req.PolicyHash,
		PolicyCID:         req.PolicyCID,
		CircuitOrSchemaID: req.CircuitOrSchemaID,
		CircuitCID:        req.CircuitCID,
		SchemaCID:         req.SchemaCID,
		ContentCIDs:       req.ContentCIDs,
		License:           req.License,
		ProofID:           req.ProofID,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssetResponse(result.Asset, result.Receipt))
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeProblem(w, r, perr.New(perr.CodeValidationFailed, "malformed asset id"))
		return
	}
	asset, err := s.Assets.Get(r.Context(), id)
	if err != nil {
		writeProblem(w, r, assetLookupErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponse(asset, ""))
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	assets, err := s.Assets.List(r.Context(), limit, offset)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to list proof assets", err))
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponses(assets))
}

func (s *Server) handleRecentAssets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	assets, err := s.Assets.Recent(r.Context(), limit)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to list recent proof assets", err))
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponses(assets))
}

func toAssetResponses(assets []*database.ProofAsset) []assetResponse {
	out := make([]assetResponse, len(assets))
	for i, a := range assets {
		out[i] = toAssetResponse(a, "")
	}
	return out
}

// verifyRequest is the POST /proof-assets/:id/verify body (spec.md §6).
type verifyRequest struct {
	Receipt           string `json:"receipt"`
	RequireFreshProof bool   `json:"requireFreshProof"`
	ProofURI          string `json:"proof_uri"`
	ProofBytes        []byte `json:"proof_bytes"`
	ExpectedNonce     string `json:"expectedNonce"`
}

type verifyResultResponse struct {
	ReceiptVerified    bool        `json:"receiptVerified"`
	CommitmentsMatched bool        `json:"commitmentsMatched"`
	StatusChecked      bool        `json:"statusChecked"`
	FreshProofVerified bool        `json:"freshProofVerified"`
	Claims             interface{} `json:"claims,omitempty"`
}

type verifyResponse struct {
	Success            bool                 `json:"success"`
	VerificationStatus string               `json:"verificationStatus"`
	VerificationMethod string               `json:"verificationMethod"`
	VerificationResult verifyResultResponse `json:"verificationResult"`
	Proof              string               `json:"proof,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeProblem(w, r, perr.New(perr.CodeValidationFailed, "malformed asset id"))
		return
	}
	var req verifyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, r, perr.New(perr.CodeValidationFailed, "malformed JSON body"))
			return
		}
	}

	outcome, err := s.Orchestrator.Verify(r.Context(), registry.VerifyInput{
		AssetID:           id,
		Receipt:           req.Receipt,
		RequireFreshProof: req.RequireFreshProof,
		ProofURI:          req.ProofURI,
		ProofBytes:        req.ProofBytes,
		ExpectedNonce:     req.ExpectedNonce,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	var claims interface{}
	if outcome.Claims != nil {
		claims = outcome.Claims
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Success:            outcome.Success,
		VerificationStatus: string(outcome.VerificationStatus),
		VerificationMethod: outcome.VerificationMethod,
		VerificationResult: verifyResultResponse{
			ReceiptVerified:    outcome.ReceiptVerified,
			CommitmentsMatched: outcome.CommitmentsMatched,
			StatusChecked:      outcome.StatusChecked,
			FreshProofVerified: outcome.FreshProofVerified,
			Claims:             claims,
		},
		Proof: req.Receipt,
	})
}

type assetStatusResponse struct {
	AssetID       string `json:"assetId"`
	StatusListURL string `json:"statusListUrl"`
	Index         int    `json:"index"`
	Bit           int    `json:"bit"`
	Verdict       string `json:"verdict"`
}

func (s *Server) handleAssetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeProblem(w, r, perr.New(perr.CodeValidationFailed, "malformed asset id"))
		return
	}
	asset, err := s.Assets.Get(r.Context(), id)
	if err != nil {
		writeProblem(w, r, assetLookupErr(err))
		return
	}
	index, err := strconv.Atoi(asset.StatusListIndex)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "stored status index is not numeric", err))
		return
	}
	res := s.Orchestrator.StatusVerifier.VerifyStatus(r.Context(), asset.StatusListURL, index, bitstring.Purpose(asset.StatusPurpose))
	if res.Verdict == statuslist.VerdictUnknown {
		e := perr.New(perr.CodeStatusUnavailable, "status list unreachable or stale")
		e.FailClosed = true
		writeProblem(w, r, e)
		return
	}
	bit := 0
	if res.Verdict != statuslist.VerdictValid {
		bit = 1
	}
	writeJSON(w, http.StatusOK, assetStatusResponse{
		AssetID:       asset.AssetID.String(),
		StatusListURL: asset.StatusListURL,
		Index:         index,
		Bit:           bit,
		Verdict:       string(res.Verdict),
	})
}

func assetLookupErr(err error) error {
	if errors.Is(err, database.ErrAssetNotFound) {
		return perr.New(perr.CodeAssetNotFound, "proof asset not found")
	}
	return perr.Wrap(perr.CodeInternal, "failed to load proof asset", err)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Copyright 2025 Certen Protocol

package server

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/certen/proof-asset-registry/pkg/audit"
	"github.com/certen/proof-asset-registry/pkg/canon"
	"github.com/certen/proof-asset-registry/pkg/perr"
)

type auditEventResponse struct {
	Seq          int64                  `json:"seq"`
	EventType    string                 `json:"eventType"`
	AssetID      string                 `json:"assetId,omitempty"`
	Payload      map[string]interface{} `json:"payload"`
	PreviousHash string                 `json:"previousHash"`
	Timestamp    string                 `json:"timestamp"`
	EventHash    string                 `json:"eventHash"`
}

func toAuditEventResponse(e audit.Event) auditEventResponse {
	return auditEventResponse{
		Seq:          e.Seq,
		EventType:    string(e.EventType),
		AssetID:      e.AssetID,
		Payload:      e.Payload,
		PreviousHash: e.PreviousHash,
		Timestamp:    e.Timestamp.UTC().Format(timeFormat),
		EventHash:    e.EventHash,
	}
}

// handleAuditEvents answers GET /audit-events, optionally filtered by
// ?assetId=, falling back to the most recent events otherwise.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	var events []audit.Event
	var err error
	if raw := r.URL.Query().Get("assetId"); raw != "" {
		assetID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			writeProblem(w, r, perr.New(perr.CodeValidationFailed, "malformed assetId"))
			return
		}
		events, err = s.Audit.ForAsset(r.Context(), assetID)
	} else {
		events, err = s.Audit.Recent(r.Context(), queryInt(r, "limit", audit.DefaultExportWindow))
	}
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to load audit events", err))
		return
	}
	out := make([]auditEventResponse, len(events))
	for i, e := range events {
		out[i] = toAuditEventResponse(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	events, err := s.Audit.Recent(r.Context(), s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to load audit events", err))
		return
	}
	if verr := audit.VerifyChain(events); verr != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "reason": verr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "eventsChecked": len(events)})
}

type auditRootResponse struct {
	Root          string `json:"root"`
	RootMultibase string `json:"rootMultibase,omitempty"`
	TreeSize      int    `json:"treeSize"`
	FirstEvent    string `json:"firstEventHash,omitempty"`
	LastEvent     string `json:"lastEventHash,omitempty"`
}

func (s *Server) handleAuditRoot(w http.ResponseWriter, r *http.Request) {
	events, err := s.Audit.Recent(r.Context(), s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to load audit events", err))
		return
	}
	windowed, root, err := audit.ExportMerkle(events, s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to export merkle root", err))
		return
	}
	resp := auditRootResponse{Root: hex.EncodeToString(root), TreeSize: len(windowed)}
	if mb, err := canon.EncodeMultibaseBase32(root); err == nil {
		resp.RootMultibase = mb
	}
	if len(windowed) > 0 {
		resp.FirstEvent = windowed[0].EventHash
		resp.LastEvent = windowed[len(windowed)-1].EventHash
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuditProof answers GET /audit/proof/:eventId, where eventId is an
// event's eventHash (the chain's only stable per-event identifier; neither
// storage backend assigns a numeric sequence).
func (s *Server) handleAuditProof(w http.ResponseWriter, r *http.Request) {
	eventHash := r.PathValue("eventId")
	events, err := s.Audit.Recent(r.Context(), s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to load audit events", err))
		return
	}
	windowed, _, err := audit.ExportMerkle(events, s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to export merkle root", err))
		return
	}
	index := -1
	for i, e := range windowed {
		if e.EventHash == eventHash {
			index = i
			break
		}
	}
	if index < 0 {
		writeProblem(w, r, perr.New(perr.CodeAssetNotFound, "event not found in the current export window"))
		return
	}
	leaves := make([][]byte, len(windowed))
	for i, e := range windowed {
		leaf, err := audit.LeafHash(e)
		if err != nil {
			writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to hash audit event", err))
			return
		}
		leaves[i] = leaf
	}
	proof, err := audit.MerkleProof(leaves, index)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to build inclusion proof", err))
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (s *Server) handleAuditExportCSV(w http.ResponseWriter, r *http.Request) {
	events, err := s.Audit.Recent(r.Context(), s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to load audit events", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-events.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"seq", "eventType", "assetId", "previousHash", "eventHash", "timestamp", "payload"})
	for _, e := range events {
		payload, _ := json.Marshal(e.Payload)
		_ = cw.Write([]string{
			strconv.FormatInt(e.Seq, 10),
			string(e.EventType),
			e.AssetID,
			e.PreviousHash,
			e.EventHash,
			e.Timestamp.UTC().Format(timeFormat),
			string(payload),
		})
	}
	cw.Flush()
}

func (s *Server) handleAuditExportJSONLD(w http.ResponseWriter, r *http.Request) {
	events, err := s.Audit.Recent(r.Context(), s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to load audit events", err))
		return
	}
	windowed, root, err := audit.ExportMerkle(events, s.ExportWindow)
	if err != nil {
		writeProblem(w, r, perr.Wrap(perr.CodeInternal, "failed to export merkle root", err))
		return
	}
	out := make([]auditEventResponse, len(windowed))
	for i, e := range windowed {
		out[i] = toAuditEventResponse(e)
	}
	rootMultibase, _ := canon.EncodeMultibaseBase32(root)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"@context":      []string{"https://www.w3.org/ns/credentials/v2"},
		"type":          "AuditEventExport",
		"merkleRoot":    hex.EncodeToString(root),
		"merkleRootCid": rootMultibase,
		"events":        out,
	})
}

// Copyright 2025 Certen Protocol

package server

import (
	"encoding/json"
	"net/http"

	"github.com/certen/proof-asset-registry/pkg/bitstring"
	"github.com/certen/proof-asset-registry/pkg/perr"
	"github.com/certen/proof-asset-registry/pkg/registry"
)

// statusUpdateOp mirrors one {op, index} entry of a status-list update
// request (spec.md §6).
type statusUpdateOp struct {
	Op    string `json:"op"`
	Index int    `json:"index"`
}

type statusUpdateRequest struct {
	StatusListURL string           `json:"statusListUrl"`
	Operations    []statusUpdateOp `json:"operations"`
}

type statusUpdateResponse struct {
	Updated bool   `json:"updated"`
	ETag    string `json:"etag"`
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, perr.New(perr.CodeValidationFailed, "malformed JSON body"))
		return
	}
	if req.StatusListURL == "" {
		writeProblem(w, r, perr.New(perr.CodeValidationFailed, "statusListUrl is required"))
		return
	}

	ops := make([]bitstring.Op, len(req.Operations))
	for i, op := range req.Operations {
		kind := bitstring.OpKind(op.Op)
		switch kind {
		case bitstring.OpSet, bitstring.OpClear, bitstring.OpFlip:
		default:
			writeProblem(w, r, perr.New(perr.CodeValidationFailed, "unknown operation kind "+op.Op))
			return
		}
		ops[i] = bitstring.Op{Kind: kind, Index: op.Index}
	}

	ifMatch := ifMatchFromHeader(r)
	outcome, err := s.Orchestrator.UpdateStatus(r.Context(), registry.StatusUpdateInput{
		StatusListURL: req.StatusListURL,
		Operations:    ops,
		IfMatch:       ifMatch,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	w.Header().Set("ETag", outcome.ETag)
	writeJSON(w, http.StatusOK, statusUpdateResponse{Updated: outcome.Updated, ETag: outcome.ETag})
}

// ifMatchFromHeader returns the If-Match header verbatim, without stripping
// its quoting, since the registry's stored etags are already the quoted weak
// form ("W/\"...\"") produced by weakETag.
func ifMatchFromHeader(r *http.Request) string {
	return r.Header.Get("If-Match")
}

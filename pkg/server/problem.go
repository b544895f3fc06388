// Copyright 2025 Certen Protocol

package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/certen/proof-asset-registry/pkg/perr"
)

// problem is an RFC 7807 Problem Details document (spec.md §6).
type problem struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Instance   string `json:"instance,omitempty"`
	TraceID    string `json:"traceId"`
	Code       string `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	FailClosed bool   `json:"failClosed,omitempty"`
}

type traceIDKey struct{}

// withTraceID attaches a per-request trace id to ctx, generating one if the
// caller did not already supply an X-Trace-Id header.
func withTraceID(ctx context.Context, existing string) context.Context {
	id := existing
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey{}, id)
}

func traceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// writeProblem translates err into an RFC 7807 response. A *perr.Error
// carries its own stable code and HTTP status; any other error is treated
// as an unclassified internal failure, per spec.md §7's propagation policy
// that persistence failures bubble up as 500 with a traceId.
func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	traceID := traceIDFromContext(r.Context())

	pe, ok := perr.As(err)
	if !ok {
		writeProblemDoc(w, r, &problem{
			Type:    "about:blank",
			Title:   "internal error",
			Status:  http.StatusInternalServerError,
			Detail:  "an unexpected error occurred",
			TraceID: traceID,
			Code:    string(perr.CodeInternal),
		})
		log.Error().Err(err).Str("traceId", traceID).Msg("unclassified error")
		return
	}

	doc := &problem{
		Type:       "about:blank",
		Title:      httpStatusTitle(pe.Status),
		Status:     pe.Status,
		Detail:     pe.Detail,
		Instance:   r.URL.Path,
		TraceID:    traceID,
		Code:       string(pe.Code),
		Reason:     pe.Reason,
		FailClosed: pe.FailClosed,
	}
	writeProblemDoc(w, r, doc)
}

func writeProblemDoc(w http.ResponseWriter, r *http.Request, doc *problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(doc.Status)
	_ = json.NewEncoder(w).Encode(doc)
}

func httpStatusTitle(status int) string {
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "error"
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

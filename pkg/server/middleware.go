// Copyright 2025 Certen Protocol

package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/certen/proof-asset-registry/pkg/auth"
	"github.com/certen/proof-asset-registry/pkg/perr"
)

type principalKey struct{}

// principalFromContext returns the authenticated caller, if authenticate
// middleware ran for this request.
func principalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*auth.Principal)
	return p, ok
}

// withTrace assigns a per-request trace id before any handler runs, so
// writeProblem can always attach one.
func withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := withTraceID(r.Context(), r.Header.Get("X-Trace-Id"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth extracts a "Bearer <keyId>.<secret>" credential, authenticates
// it, and requires scope (empty scope means "any authenticated caller").
func (s *Server) requireAuth(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		credential, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || credential == "" {
			writeProblem(w, r, perr.New(perr.CodeUnauthorized, "missing bearer credential"))
			return
		}
		principal, err := s.Auth.Authenticate(r.Context(), credential)
		if err != nil {
			writeProblem(w, r, err)
			return
		}
		if scope != "" && !principal.HasScope(scope) {
			writeProblem(w, r, perr.New(perr.CodeForbidden, "api key lacks the "+scope+" scope"))
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

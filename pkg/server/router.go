// Copyright 2025 Certen Protocol

package server

import "net/http"

// routes builds the registry's HTTP surface (spec.md §6) on the Go 1.22+
// net/http.ServeMux method+wildcard pattern syntax.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /proof-assets", s.requireAuth("register", s.handleRegister))
	mux.HandleFunc("GET /proof-assets", s.requireAuth("", s.handleListAssets))
	mux.HandleFunc("GET /proof-assets/recent", s.requireAuth("", s.handleRecentAssets))
	mux.HandleFunc("GET /proof-assets/{id}", s.requireAuth("", s.handleGetAsset))
	mux.HandleFunc("POST /proof-assets/{id}/verify", s.requireAuth("verify", s.handleVerify))
	mux.HandleFunc("GET /proof-assets/{id}/status", s.requireAuth("", s.handleAssetStatus))

	mux.HandleFunc("POST /status-lists/{purpose}/update", s.requireAuth("status-update", s.handleStatusUpdate))

	mux.HandleFunc("GET /audit-events", s.requireAuth("", s.handleAuditEvents))
	mux.HandleFunc("GET /audit-events/verify-chain", s.requireAuth("", s.handleVerifyChain))
	mux.HandleFunc("GET /audit/root", s.requireAuth("", s.handleAuditRoot))
	mux.HandleFunc("GET /audit/proof/{eventId}", s.requireAuth("", s.handleAuditProof))
	mux.HandleFunc("GET /audit/export.csv", s.requireAuth("", s.handleAuditExportCSV))
	mux.HandleFunc("GET /audit/export.jsonld", s.requireAuth("", s.handleAuditExportJSONLD))

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

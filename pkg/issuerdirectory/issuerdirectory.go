// Copyright 2025 Certen Protocol
//
// Package issuerdirectory resolves an issuer DID to its verification
// methods (spec.md §6's IssuerDirectory collaborator). StaticDirectory
// serves a fixed map for tests and demo deployments; HTTPDirectory
// resolves did:web: DIDs by fetching the target's did.json document,
// with the same HTTPS-only, timeout-bounded discipline as pkg/sri.
package issuerdirectory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/certen/proof-asset-registry/pkg/perr"
)

const (
	DefaultTimeout  = 3 * time.Second
	DefaultMaxBytes = 64 << 10
)

// StaticDirectory resolves DIDs from a fixed in-process map, for tests
// and single-tenant demo deployments that pre-register their partners'
// verification methods out of band.
type StaticDirectory struct {
	Methods map[string][]string // did -> verification method ids/keys
}

// NewStaticDirectory builds a StaticDirectory over methods.
func NewStaticDirectory(methods map[string][]string) *StaticDirectory {
	return &StaticDirectory{Methods: methods}
}

// ResolveDID implements registry.IssuerDirectory.
func (d *StaticDirectory) ResolveDID(_ context.Context, did string) ([]string, error) {
	methods, ok := d.Methods[did]
	if !ok {
		return nil, perr.New(perr.CodeValidationFailed, "unknown issuer DID")
	}
	return methods, nil
}

// didDocument mirrors the subset of a W3C DID document this resolver reads.
type didDocument struct {
	VerificationMethod []struct {
		ID string `json:"id"`
	} `json:"verificationMethod"`
}

// HTTPDirectory resolves did:web: DIDs by fetching the corresponding
// well-known did.json document over HTTPS. Any other DID method is
// rejected outright: this is not a general-purpose DID resolver.
type HTTPDirectory struct {
	HTTP      *http.Client
	Timeout   time.Duration
	MaxBytes  int64
	Allowlist map[string]struct{} // lowercase domains; empty = reject all
}

// NewHTTPDirectory builds an HTTPDirectory restricted to allowedDomains.
func NewHTTPDirectory(allowedDomains []string) *HTTPDirectory {
	allow := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		allow[strings.ToLower(d)] = struct{}{}
	}
	return &HTTPDirectory{
		HTTP:      &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}},
		Timeout:   DefaultTimeout,
		MaxBytes:  DefaultMaxBytes,
		Allowlist: allow,
	}
}

// ResolveDID implements registry.IssuerDirectory for did:web: identifiers.
func (d *HTTPDirectory) ResolveDID(ctx context.Context, did string) ([]string, error) {
	docURL, err := didWebToURL(did)
	if err != nil {
		return nil, err
	}
	if _, ok := d.Allowlist[strings.ToLower(docURL.Hostname())]; !ok {
		return nil, perr.New(perr.CodeForbidden, "issuer domain not in allowlist")
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, docURL.String(), nil)
	if err != nil {
		return nil, perr.Wrap(perr.CodeValidationFailed, "failed to build did.json request", err)
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return nil, perr.Wrap(perr.CodeValidationFailed, "did.json fetch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, perr.New(perr.CodeValidationFailed, fmt.Sprintf("did.json fetch returned status %d", resp.StatusCode))
	}

	maxBytes := d.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, perr.Wrap(perr.CodeValidationFailed, "failed reading did.json body", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, perr.New(perr.CodePayloadTooLarge, "did.json exceeds size limit")
	}

	var doc didDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, perr.Wrap(perr.CodeValidationFailed, "malformed did.json", err)
	}
	if len(doc.VerificationMethod) == 0 {
		return nil, perr.New(perr.CodeValidationFailed, "did.json has no verification methods")
	}

	methods := make([]string, len(doc.VerificationMethod))
	for i, vm := range doc.VerificationMethod {
		methods[i] = vm.ID
	}
	return methods, nil
}

// didWebToURL implements the did:web: method's well-known resolution
// rule: did:web:example.com -> https://example.com/.well-known/did.json,
// did:web:example.com:path:to -> https://example.com/path/to/did.json.
func didWebToURL(did string) (*url.URL, error) {
	const prefix = "did:web:"
	if !strings.HasPrefix(did, prefix) {
		return nil, perr.New(perr.CodeValidationFailed, "only did:web: issuers are resolvable over HTTP")
	}
	rest := strings.TrimPrefix(did, prefix)
	if rest == "" {
		return nil, perr.New(perr.CodeValidationFailed, "empty did:web: identifier")
	}

	parts := strings.Split(rest, ":")
	for i, p := range parts {
		decoded, err := url.PathUnescape(p)
		if err != nil {
			return nil, perr.Wrap(perr.CodeValidationFailed, "malformed did:web: identifier", err)
		}
		parts[i] = decoded
	}

	host := parts[0]
	var path string
	if len(parts) == 1 {
		path = "/.well-known/did.json"
	} else {
		path = "/" + strings.Join(parts[1:], "/") + "/did.json"
	}

	u := &url.URL{Scheme: "https", Host: host, Path: path}
	return u, nil
}

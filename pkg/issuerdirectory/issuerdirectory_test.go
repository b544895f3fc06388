// Copyright 2025 Certen Protocol

package issuerdirectory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/certen/proof-asset-registry/pkg/perr"
)

func TestStaticDirectoryResolvesKnownDID(t *testing.T) {
	d := NewStaticDirectory(map[string][]string{
		"did:example:issuer1": {"did:example:issuer1#key-1"},
	})
	methods, err := d.ResolveDID(context.Background(), "did:example:issuer1")
	if err != nil {
		t.Fatalf("ResolveDID: %v", err)
	}
	if len(methods) != 1 || methods[0] != "did:example:issuer1#key-1" {
		t.Fatalf("unexpected methods: %v", methods)
	}
}

func TestStaticDirectoryRejectsUnknownDID(t *testing.T) {
	d := NewStaticDirectory(nil)
	_, err := d.ResolveDID(context.Background(), "did:example:nobody")
	if err == nil {
		t.Fatalf("expected an error for an unknown DID")
	}
	if pe, ok := perr.As(err); !ok || pe.Code != perr.CodeValidationFailed {
		t.Fatalf("expected CodeValidationFailed, got %v", err)
	}
}

func TestHTTPDirectoryResolvesDIDWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/did.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		doc := map[string]interface{}{
			"verificationMethod": []map[string]string{
				{"id": "did:web:example.com#key-1"},
			},
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	host := hostOf(t, srv.URL)
	d := NewHTTPDirectory([]string{host})
	d.HTTP = srv.Client()

	// Redirect the https-only resolution at the test server by resolving
	// against its plain-http host directly; HTTPDirectory always builds an
	// https:// URL, so point the client's transport at the test server.
	d.HTTP.Transport = rewriteHostTransport{target: srv.URL, base: http.DefaultTransport}

	methods, err := d.ResolveDID(context.Background(), "did:web:"+host)
	if err != nil {
		t.Fatalf("ResolveDID: %v", err)
	}
	if len(methods) != 1 || methods[0] != "did:web:example.com#key-1" {
		t.Fatalf("unexpected methods: %v", methods)
	}
}

func TestHTTPDirectoryRejectsNonDIDWeb(t *testing.T) {
	d := NewHTTPDirectory(nil)
	_, err := d.ResolveDID(context.Background(), "did:key:z6Mk...")
	if err == nil {
		t.Fatalf("expected rejection of a non-did:web: identifier")
	}
}

func TestHTTPDirectoryRejectsDisallowedHost(t *testing.T) {
	d := NewHTTPDirectory([]string{"allowed.example"})
	_, err := d.ResolveDID(context.Background(), "did:web:blocked.example")
	if err == nil {
		t.Fatalf("expected rejection of a non-allowlisted host")
	}
	if pe, ok := perr.As(err); !ok || pe.Code != perr.CodeForbidden {
		t.Fatalf("expected CodeForbidden, got %v", err)
	}
}

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return u.Hostname()
}

// rewriteHostTransport redirects every request to target regardless of the
// request's own scheme/host, so tests can exercise HTTPDirectory's
// https://<host>/.well-known/did.json construction against a plain
// httptest.Server without standing up real TLS.
type rewriteHostTransport struct {
	target string
	base   http.RoundTripper
}

func (t rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetURL, err := url.Parse(t.target)
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.URL.Scheme = targetURL.Scheme
	clone.URL.Host = targetURL.Host
	clone.Host = targetURL.Host
	return t.base.RoundTrip(clone)
}

// Copyright 2025 Certen Protocol
//
// Package sri fetches a remote proof payload with Subresource-Integrity
// style digest verification (spec.md §4.5): HTTPS-only, host-allowlisted,
// streamed with a hard size cap, never persisted.
package sri

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/certen/proof-asset-registry/pkg/perr"
)

const (
	DefaultTimeout = 3 * time.Second
	DefaultMaxBytes = 128 << 10
)

// Fetcher retrieves and digest-verifies proof bytes over HTTPS.
type Fetcher struct {
	HTTP       *http.Client
	Timeout    time.Duration
	MaxBytes   int64
	Allowlist  map[string]struct{} // lowercase hostnames; empty = reject all
	Production bool                // when true, disables the localhost HTTP exception
}

// New builds a Fetcher that is closed by default: it rejects every host
// until Allowlist is populated, per spec.md §4.5 step 2.
func New(allowedHosts []string, production bool) *Fetcher {
	allow := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allow[h] = struct{}{}
	}
	return &Fetcher{
		HTTP:       &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}},
		Timeout:    DefaultTimeout,
		MaxBytes:   DefaultMaxBytes,
		Allowlist:  allow,
		Production: production,
	}
}

// FetchWithSRI retrieves uri and verifies the downloaded bytes' SHA-256
// digest (base64url, no padding) against expectedDigestB64u.
func (f *Fetcher) FetchWithSRI(ctx context.Context, uri, expectedDigestB64u string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, perr.Wrap(perr.CodeProofFetchFailed, "malformed proof URI", err)
	}

	if err := f.checkScheme(u); err != nil {
		return nil, err
	}
	if _, ok := f.Allowlist[u.Hostname()]; !ok {
		return nil, perr.New(perr.CodeForbidden, "host not in PROOF_ALLOWED_HOSTS allowlist")
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBytes := f.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, perr.Wrap(perr.CodeProofFetchFailed, "failed to build proof request", err)
	}

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, perr.Wrap(perr.CodeProofFetchFailed, "proof fetch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, perr.New(perr.CodeProofFetchFailed, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	h := sha256.New()
	buf := make([]byte, 0, 4096)
	limited := io.LimitReader(resp.Body, maxBytes+1)
	var total int64
	for {
		chunk := make([]byte, 4096)
		n, rerr := limited.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return nil, perr.New(perr.CodePayloadTooLarge, "payload_too_large")
			}
			h.Write(chunk[:n])
			buf = append(buf, chunk[:n]...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, perr.Wrap(perr.CodeProofFetchFailed, "failed reading proof body", rerr)
		}
	}

	digest := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	if digest != expectedDigestB64u {
		return nil, perr.New(perr.CodeSRIDigestMismatch, "sri_digest_mismatch")
	}
	return buf, nil
}

func (f *Fetcher) checkScheme(u *url.URL) error {
	if u.Scheme == "https" {
		return nil
	}
	if !f.Production && u.Scheme == "http" {
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return nil
		}
	}
	return perr.New(perr.CodeInvalidStatusURL, "proof URI must use https")
}

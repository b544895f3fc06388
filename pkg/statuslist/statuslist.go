// Copyright 2025 Certen Protocol
//
// Package statuslist fetches and caches W3C Bitstring Status List
// credentials, with ETag revalidation and bounded-staleness fail-closed
// semantics (spec.md §4.4).
package statuslist

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/certen/proof-asset-registry/pkg/bitstring"
	"github.com/certen/proof-asset-registry/pkg/perr"
)

// Verdict is the outcome of a status check at a single bitstring index.
type Verdict string

const (
	VerdictValid     Verdict = "valid"
	VerdictRevoked   Verdict = "revoked"
	VerdictSuspended Verdict = "suspended"
	VerdictUnknown   Verdict = "unknown"
)

// Result is the tagged return of VerifyStatus.
type Result struct {
	Verdict Verdict
	Reason  string
}

const (
	DefaultMaxStaleness = 24 * time.Hour
	DefaultTimeout      = 3 * time.Second
)

// entry is one cached status-list document, keyed by normalized URL.
type entry struct {
	Bitstring []byte
	ETag      string
	FetchedAt time.Time
}

// credentialDoc mirrors the subset of a W3C BitstringStatusListCredential
// this client reads.
type credentialDoc struct {
	CredentialSubject struct {
		Type          string `json:"type"`
		StatusPurpose string `json:"statusPurpose"`
		EncodedList   string `json:"encodedList"`
	} `json:"credentialSubject"`
}

// Client fetches, caches, and decodes status lists. The zero value is not
// usable; build one with New.
type Client struct {
	HTTP          *http.Client
	MaxStaleness  time.Duration
	Timeout       time.Duration
	AllowInsecure bool // permits http:// for localhost/127.0.0.1, non-production only

	mu    sync.RWMutex
	cache map[string]entry
}

// New builds a Client with sane production defaults: a 3s-timeout HTTP
// client and a 24h staleness bound.
func New() *Client {
	return &Client{
		HTTP: &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}},
		},
		MaxStaleness: DefaultMaxStaleness,
		Timeout:      DefaultTimeout,
		cache:        make(map[string]entry),
	}
}

// Normalize lowercases scheme and host, strips default ports, and strips a
// trailing slash from non-root paths, per spec.md §4.4.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", perr.Wrap(perr.CodeInvalidStatusURL, "malformed status-list URL", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", perr.New(perr.CodeInvalidStatusURL, "status-list URL must be absolute")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	}
	u.Host = host
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// FetchResult is the outcome of Fetch.
type FetchResult struct {
	Bitstring []byte
	ETag      string
	FromCache bool
	Age       time.Duration
}

// Fetch retrieves the status list at url, serving from cache when a 304 is
// returned, and fails closed on any unreachability per spec.md §4.4 step 5.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return nil, err
	}
	if err := c.checkScheme(normalized); err != nil {
		return nil, err
	}

	maxStale := c.MaxStaleness
	if maxStale <= 0 {
		maxStale = DefaultMaxStaleness
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	cached, hasCache := c.cache[normalized]
	if hasCache && time.Since(cached.FetchedAt) > maxStale {
		delete(c.cache, normalized)
		hasCache = false
	}
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, normalized, nil)
	if err != nil {
		return nil, perr.Wrap(perr.CodeStatusUnavailable, "failed to build status-list request", err)
	}
	if hasCache && cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return c.failClosed(hasCache, cached, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && hasCache:
		c.mu.Lock()
		cached.FetchedAt = time.Now()
		c.cache[normalized] = cached
		c.mu.Unlock()
		return &FetchResult{Bitstring: cached.Bitstring, ETag: cached.ETag, FromCache: true, Age: 0}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return c.failClosed(hasCache, cached, err)
		}
		var doc credentialDoc
		if err := json.Unmarshal(body, &doc); err != nil {
			return c.failClosed(hasCache, cached, err)
		}
		decoded, err := bitstring.DecodeGzipB64(doc.CredentialSubject.EncodedList)
		if err != nil {
			return c.failClosed(hasCache, cached, err)
		}
		e := entry{Bitstring: decoded, ETag: resp.Header.Get("ETag"), FetchedAt: time.Now()}
		c.mu.Lock()
		c.cache[normalized] = e
		c.mu.Unlock()
		return &FetchResult{Bitstring: decoded, ETag: e.ETag, FromCache: false, Age: 0}, nil

	default:
		return c.failClosed(hasCache, cached, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func (c *Client) failClosed(hasCache bool, cached entry, cause error) (*FetchResult, error) {
	if !hasCache {
		return nil, perr.Wrap(perr.CodeStatusUnavailable, "status_list_unreachable", cause)
	}
	age := time.Since(cached.FetchedAt)
	e := perr.Wrap(perr.CodeStatusUnavailable, "status_list_stale", cause)
	e.Reason = "status_list_stale"
	_ = age
	return nil, e
}

func (c *Client) checkScheme(normalized string) error {
	u, err := url.Parse(normalized)
	if err != nil {
		return perr.Wrap(perr.CodeInvalidStatusURL, "malformed status-list URL", err)
	}
	if u.Scheme == "https" {
		return nil
	}
	if c.AllowInsecure && u.Scheme == "http" {
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return nil
		}
	}
	return perr.New(perr.CodeInvalidStatusURL, "status-list URL must use https")
}

// VerifyStatus fetches the status list at url and reads the bit at index,
// translating it into a Verdict per spec.md §4.4.
func (c *Client) VerifyStatus(ctx context.Context, rawURL string, index int, purpose bitstring.Purpose) Result {
	fetched, err := c.Fetch(ctx, rawURL)
	if err != nil {
		reason := "status_list_unreachable"
		if pe, ok := perr.As(err); ok && pe.Reason != "" {
			reason = pe.Reason
		}
		return Result{Verdict: VerdictUnknown, Reason: reason}
	}
	if index < 0 {
		return Result{Verdict: VerdictUnknown, Reason: "index out of range"}
	}
	if bitstring.BitAt(fetched.Bitstring, index) == 0 {
		return Result{Verdict: VerdictValid}
	}
	if purpose == bitstring.PurposeRevocation {
		return Result{Verdict: VerdictRevoked}
	}
	return Result{Verdict: VerdictSuspended}
}

// LocalStore backs demo/dev deployments that keep their own status lists
// in-process rather than behind an HTTP endpoint (spec.md §4.4, "raw bytes
// when locally stored for demo").
type LocalStore struct {
	mu   sync.RWMutex
	data map[string][]byte // key: normalized url -> raw decoded bitstring
}

// NewLocalStore builds an empty LocalStore.
func NewLocalStore() *LocalStore {
	return &LocalStore{data: make(map[string][]byte)}
}

// Put installs/replaces the raw bitstring bytes for url.
func (s *LocalStore) Put(rawURL string, bits []byte) error {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[normalized] = bits
	return nil
}

// Apply mutates the bitstring at url with ops, matching bitstring.ApplyOps'
// fail-closed, copy-on-write semantics.
func (s *LocalStore) Apply(rawURL string, ops []bitstring.Op) error {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.data[normalized]
	if !ok {
		return perr.New(perr.CodeStatusListNotFound, "no local status list at "+normalized)
	}
	next, err := bitstring.ApplyOps(current, ops)
	if err != nil {
		return perr.Wrap(perr.CodeVerificationError, "failed to apply status-list ops", err)
	}
	s.data[normalized] = next
	return nil
}

// Get returns the raw decoded bitstring bytes stored at url.
func (s *LocalStore) Get(rawURL string) ([]byte, error) {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bits, ok := s.data[normalized]
	if !ok {
		return nil, perr.New(perr.CodeStatusListNotFound, "no local status list at "+normalized)
	}
	return bits, nil
}

// VerifyStatus reads the bit at index directly from local storage. ctx is
// accepted but unused, matching the Client.VerifyStatus shape so callers can
// depend on a single StatusVerifier interface across both backends.
func (s *LocalStore) VerifyStatus(_ context.Context, rawURL string, index int, purpose bitstring.Purpose) Result {
	normalized, err := Normalize(rawURL)
	if err != nil {
		return Result{Verdict: VerdictUnknown, Reason: err.Error()}
	}
	s.mu.RLock()
	bits, ok := s.data[normalized]
	s.mu.RUnlock()
	if !ok {
		return Result{Verdict: VerdictUnknown, Reason: "status_list_not_found"}
	}
	if index < 0 {
		return Result{Verdict: VerdictUnknown, Reason: "index out of range"}
	}
	if bitstring.BitAt(bits, index) == 0 {
		return Result{Verdict: VerdictValid}
	}
	if purpose == bitstring.PurposeRevocation {
		return Result{Verdict: VerdictRevoked}
	}
	return Result{Verdict: VerdictSuspended}
}

// Copyright 2025 Certen Protocol

package statuslist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/certen/proof-asset-registry/pkg/bitstring"
)

func contextBackground() context.Context { return context.Background() }

func docWithBit(t *testing.T, index int) ([]byte, string) {
	t.Helper()
	bits := bitstring.NewBitstring(64)
	if err := bitstring.SetBit(bits, index); err != nil {
		t.Fatalf("SetBit: %v", err)
	}
	encoded, err := bitstring.EncodeGzipB64(bits)
	if err != nil {
		t.Fatalf("EncodeGzipB64: %v", err)
	}
	doc := credentialDoc{}
	doc.CredentialSubject.Type = "BitstringStatusListCredential"
	doc.CredentialSubject.StatusPurpose = "revocation"
	doc.CredentialSubject.EncodedList = encoded
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	return body, "\"v1\""
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"https://Example.com:443/status/1/":  "https://example.com/status/1",
		"http://example.com:80/status":       "http://example.com/status",
		"https://example.com/":               "https://example.com/",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetchAndCache(t *testing.T) {
	var hits int32
	body, etag := docWithBit(t, 5)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Write(body)
	}))
	defer srv.Close()

	c := New()
	c.HTTP = srv.Client()

	res, err := c.Fetch(contextBackground(), srv.URL+"/list")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.FromCache {
		t.Fatalf("first fetch should not be from cache")
	}

	res2, err := c.Fetch(contextBackground(), srv.URL+"/list")
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if !res2.FromCache {
		t.Fatalf("second fetch should be served via 304/cache")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 HTTP round trips, got %d", hits)
	}
}

func TestVerifyStatusRevokedAndValid(t *testing.T) {
	body, _ := docWithBit(t, 5)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := New()
	c.HTTP = srv.Client()

	revoked := c.VerifyStatus(contextBackground(), srv.URL+"/list", 5, bitstring.PurposeRevocation)
	if revoked.Verdict != VerdictRevoked {
		t.Fatalf("expected revoked, got %v", revoked.Verdict)
	}
	valid := c.VerifyStatus(contextBackground(), srv.URL+"/list", 6, bitstring.PurposeRevocation)
	if valid.Verdict != VerdictValid {
		t.Fatalf("expected valid, got %v", valid.Verdict)
	}
}

func TestVerifyStatusSuspensionPurpose(t *testing.T) {
	body, _ := docWithBit(t, 2)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := New()
	c.HTTP = srv.Client()
	res := c.VerifyStatus(contextBackground(), srv.URL+"/list", 2, bitstring.PurposeSuspension)
	if res.Verdict != VerdictSuspended {
		t.Fatalf("expected suspended, got %v", res.Verdict)
	}
}

func TestFetchFailsClosedWithNoCache(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	c.HTTP = srv.Client()
	_, err := c.Fetch(contextBackground(), srv.URL+"/list")
	if err == nil {
		t.Fatalf("expected fail-closed error")
	}
}

func TestVerifyStatusUnknownOnUnreachable(t *testing.T) {
	c := New()
	c.Timeout = 200 * time.Millisecond
	res := c.VerifyStatus(contextBackground(), "https://127.0.0.1.invalid.example/list", 0, bitstring.PurposeRevocation)
	if res.Verdict != VerdictUnknown {
		t.Fatalf("expected unknown verdict, got %v (reason=%s)", res.Verdict, res.Reason)
	}
}

func TestRejectsNonHTTPS(t *testing.T) {
	c := New()
	_, err := c.Fetch(contextBackground(), "http://example.com/list")
	if err == nil {
		t.Fatalf("expected rejection of non-https URL")
	}
}

func TestLocalStoreApplyAndVerify(t *testing.T) {
	store := NewLocalStore()
	if err := store.Put("https://registry.example/local/1", bitstring.NewBitstring(16)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Apply("https://registry.example/local/1", []bitstring.Op{{Kind: bitstring.OpSet, Index: 3}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	res := store.VerifyStatus(contextBackground(), "https://registry.example/local/1", 3, bitstring.PurposeRevocation)
	if res.Verdict != VerdictRevoked {
		t.Fatalf("expected revoked, got %v", res.Verdict)
	}
	res2 := store.VerifyStatus(contextBackground(), "https://registry.example/local/1", 4, bitstring.PurposeRevocation)
	if res2.Verdict != VerdictValid {
		t.Fatalf("expected valid, got %v", res2.Verdict)
	}
}

func TestLocalStoreApplyMissingListErrors(t *testing.T) {
	store := NewLocalStore()
	err := store.Apply("https://registry.example/nope", []bitstring.Op{{Kind: bitstring.OpSet, Index: 0}})
	if err == nil {
		t.Fatalf("expected error applying ops to missing list")
	}
}

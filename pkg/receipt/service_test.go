// Copyright 2025 Certen Protocol

package receipt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

func newTestService(t *testing.T) (*Service, *EphemeralKeyProvider) {
	t.Helper()
	kp, err := NewEphemeralKeyProvider()
	if err != nil {
		t.Fatalf("NewEphemeralKeyProvider: %v", err)
	}
	svc := NewService(kp, NewMemoryReplayCache())
	return svc, kp
}

func validParams() GenerateParams {
	return GenerateParams{
		Audience:       "https://verifier.example/aud",
		ProofDigest:    "Zm9v",
		PolicyHash:     "cG9saWN5",
		ConstraintHash: "Y29uc3RyYWludA",
		StatusRef: StatusRef{
			StatusListURL:   "https://registry.example/status/1",
			StatusListIndex: "42",
			StatusPurpose:   "revocation",
		},
	}
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	svc, kp := newTestService(t)
	jws, err := svc.Generate(validParams())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	key, _ := kp.SigningKey()
	res, err := svc.Verify(context.Background(), jws, VerifyOptions{
		PublicKey:        key.PublicKey,
		ExpectedAudience: "https://verifier.example/aud",
	})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected OK, got reason %q", res.Reason)
	}
	if res.Claims.ProofDigest != "Zm9v" {
		t.Fatalf("unexpected proof digest: %s", res.Claims.ProofDigest)
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	svc, kp := newTestService(t)
	jws, _ := svc.Generate(validParams())
	key, _ := kp.SigningKey()
	opts := VerifyOptions{PublicKey: key.PublicKey, ExpectedAudience: "https://verifier.example/aud"}

	first, err := svc.Verify(context.Background(), jws, opts)
	if err != nil || !first.OK {
		t.Fatalf("first verify should succeed: %v %+v", err, first)
	}
	second, err := svc.Verify(context.Background(), jws, opts)
	if err != nil {
		t.Fatalf("second verify error: %v", err)
	}
	if second.OK || second.Reason != "replay_detected" {
		t.Fatalf("expected replay_detected, got OK=%v reason=%q", second.OK, second.Reason)
	}
}

func TestVerifyRejectsAudienceMismatch(t *testing.T) {
	svc, kp := newTestService(t)
	jws, _ := svc.Generate(validParams())
	key, _ := kp.SigningKey()
	res, err := svc.Verify(context.Background(), jws, VerifyOptions{
		PublicKey:        key.PublicKey,
		ExpectedAudience: "https://someone-else.example/aud",
	})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.OK || res.Reason != "audience_mismatch" {
		t.Fatalf("expected audience_mismatch, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc, kp := newTestService(t)
	svc.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	p := validParams()
	p.ExpiresIn = time.Minute
	jws, _ := svc.Generate(p)
	key, _ := kp.SigningKey()

	res, err := svc.Verify(context.Background(), jws, VerifyOptions{
		PublicKey:        key.PublicKey,
		ExpectedAudience: p.Audience,
		ClockNow:         time.Unix(1_700_000_000, 0).Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.OK || res.Reason != "token_expired" {
		t.Fatalf("expected token_expired, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestVerifyToleratesClockSkewWithinBound(t *testing.T) {
	svc, kp := newTestService(t)
	base := time.Unix(1_700_000_000, 0)
	svc.Now = func() time.Time { return base }
	p := validParams()
	p.ExpiresIn = time.Minute
	jws, _ := svc.Generate(p)
	key, _ := kp.SigningKey()

	res, err := svc.Verify(context.Background(), jws, VerifyOptions{
		PublicKey:        key.PublicKey,
		ExpectedAudience: p.Audience,
		ClockNow:         base.Add(time.Minute + 30*time.Second), // 30s past exp, inside 60s skew
	})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected skew-tolerant verify to succeed, got reason %q", res.Reason)
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Verify(context.Background(), "not-a-jws", VerifyOptions{})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.OK || res.Reason != "invalid_jwt_format" {
		t.Fatalf("expected invalid_jwt_format, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestVerifyRejectsDisallowedAlgorithm(t *testing.T) {
	svc, _ := newTestService(t)

	header := map[string]interface{}{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{}`))
	fake := strings.Join([]string{headerB64, payload, "sig"}, ".")

	res, err := svc.Verify(context.Background(), fake, VerifyOptions{})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.OK || res.Reason != "algorithm_not_allowed" {
		t.Fatalf("expected algorithm_not_allowed, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestVerifyRejectsCritHeader(t *testing.T) {
	svc, kp := newTestService(t)
	key, _ := kp.SigningKey()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key.PrivateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KeyID).WithHeader("crit", []string{"exp"}))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	claims := Claims{Audience: "aud", ProofDigest: "d", PolicyHash: "p", ConstraintHash: "c", JTI: "j",
		NotBefore: time.Now().Unix(), Expiry: time.Now().Add(time.Hour).Unix()}
	payload, _ := json.Marshal(claims)
	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("CompactSerialize: %v", err)
	}

	res, err := svc.Verify(context.Background(), compact, VerifyOptions{PublicKey: key.PublicKey, ExpectedAudience: "aud"})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.OK || res.Reason != "unsupported_crit_headers" {
		t.Fatalf("expected unsupported_crit_headers, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestVerifyRejectsMissingRequiredClaim(t *testing.T) {
	svc, kp := newTestService(t)
	key, _ := kp.SigningKey()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key.PrivateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KeyID))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	// Missing proof_digest entirely.
	payload := []byte(`{"aud":"aud","policy_hash":"p","constraint_hash":"c","status_ref":{},"jti":"j","nbf":1,"exp":9999999999}`)
	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("CompactSerialize: %v", err)
	}

	res, err := svc.Verify(context.Background(), compact, VerifyOptions{PublicKey: key.PublicKey, ExpectedAudience: "aud"})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.OK || res.Reason != "missing_or_null_claim_proof_digest" {
		t.Fatalf("expected missing_or_null_claim_proof_digest, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestVerifyRejectsNonceMismatch(t *testing.T) {
	svc, kp := newTestService(t)
	p := validParams()
	p.Nonce = "abc123"
	jws, _ := svc.Generate(p)
	key, _ := kp.SigningKey()

	res, err := svc.Verify(context.Background(), jws, VerifyOptions{
		PublicKey:        key.PublicKey,
		ExpectedAudience: p.Audience,
		ExpectedNonce:    "different",
	})
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if res.OK || res.Reason != "nonce_mismatch" {
		t.Fatalf("expected nonce_mismatch, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

// Copyright 2025 Certen Protocol

package receipt

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/certen/proof-asset-registry/pkg/perr"
)

// Service produces and verifies compact-JWS receipts.
type Service struct {
	Keys        KeyProvider
	ReplayCache ReplayCache
	Now         func() time.Time // overridable for tests
}

// NewService builds a receipt Service. now defaults to time.Now.
func NewService(keys KeyProvider, replay ReplayCache) *Service {
	return &Service{Keys: keys, ReplayCache: replay, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GenerateParams is the caller-supplied half of the receipt payload; jti,
// iat, nbf, and exp are always computed by Generate.
type GenerateParams struct {
	Audience         string
	ProofDigest      string
	PolicyHash       string
	ConstraintHash   string
	StatusRef        StatusRef
	Issuer           string
	Subject          string
	Nonce            string
	NotBeforeSeconds int64 // defaults to 0 (nbf = now)
	ExpiresIn        time.Duration // defaults to DefaultExpiry
}

// Generate signs and returns a compact-JWS receipt.
func (s *Service) Generate(p GenerateParams) (string, error) {
	if p.Audience == "" {
		return "", perr.New(perr.CodeValidationFailed, "audience is required")
	}
	key, err := s.Keys.SigningKey()
	if err != nil {
		return "", perr.Wrap(perr.CodeInternal, "signing key unavailable", err)
	}

	jti, err := randomJTI()
	if err != nil {
		return "", perr.Wrap(perr.CodeInternal, "failed to generate jti", err)
	}

	expiresIn := p.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpiry
	}
	now := s.now()

	claims := Claims{
		ProofDigest:    p.ProofDigest,
		PolicyHash:     p.PolicyHash,
		ConstraintHash: p.ConstraintHash,
		StatusRef:      p.StatusRef,
		JTI:            jti,
		Audience:       p.Audience,
		IssuedAt:       now.Unix(),
		NotBefore:      now.Add(-time.Duration(p.NotBeforeSeconds) * time.Second).Unix(),
		Expiry:         now.Add(expiresIn).Unix(),
		Issuer:         p.Issuer,
		Subject:        p.Subject,
		Nonce:          p.Nonce,
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", perr.Wrap(perr.CodeInternal, "failed to marshal claims", err)
	}

	signerOpts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KeyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key.PrivateKey}, signerOpts)
	if err != nil {
		return "", perr.Wrap(perr.CodeInternal, "failed to build JWS signer", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", perr.Wrap(perr.CodeInternal, "failed to sign receipt", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", perr.Wrap(perr.CodeInternal, "failed to serialize receipt", err)
	}
	return compact, nil
}

func randomJTI() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyOptions configures Verify. Exactly one of PublicKey or JWKS should
// be set.
type VerifyOptions struct {
	PublicKey        *ecdsa.PublicKey
	JWKS             JWKSResolver
	ExpectedAudience string
	ExpectedNonce    string // empty means "don't enforce"
	ClockNow         time.Time
}

// VerifyResult is the tagged-result return of Verify (spec.md §9: "exception
// based control flow -> tagged results").
type VerifyResult struct {
	OK         bool
	Claims     *Claims
	HeaderKid  string
	HeaderAlg  string
	Reason     string
}

// rawHeader mirrors the JOSE protected-header fields this service inspects
// directly, ahead of any library-level signature check, so that format
// violations ("alg":"none", non-JWT typ, any crit header) are rejected
// before a single cryptographic operation runs.
type rawHeader struct {
	Alg string      `json:"alg"`
	Typ string      `json:"typ"`
	Kid string      `json:"kid"`
	Crit []string   `json:"crit,omitempty"`
}

// Verify performs the ordered checks of spec.md §4.3: header policy,
// signature, required claims, audience, time-skew, replay, nonce.
func (s *Service) Verify(ctx context.Context, compactJWS string, opts VerifyOptions) (*VerifyResult, error) {
	parts := strings.Split(compactJWS, ".")
	if len(parts) != 3 {
		return &VerifyResult{Reason: "invalid_jwt_format"}, nil
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return &VerifyResult{Reason: "invalid_jwt_format"}, nil
	}
	var hdr rawHeader
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return &VerifyResult{Reason: "invalid_jwt_format"}, nil
	}

	if !isAllowed(hdr.Alg) {
		return &VerifyResult{Reason: "algorithm_not_allowed", HeaderAlg: hdr.Alg}, nil
	}
	if hdr.Typ != "JWT" {
		return &VerifyResult{Reason: "invalid_typ", HeaderAlg: hdr.Alg}, nil
	}
	if len(hdr.Crit) > 0 {
		return &VerifyResult{Reason: "unsupported_crit_headers", HeaderAlg: hdr.Alg}, nil
	}

	pub, err := s.resolvePublicKey(hdr.Kid, opts)
	if err != nil {
		return &VerifyResult{Reason: "signature_invalid", HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}

	jws, err := jose.ParseSigned(compactJWS, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return &VerifyResult{Reason: "signature_invalid", HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return &VerifyResult{Reason: "signature_invalid", HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return &VerifyResult{Reason: "invalid_jwt_format"}, nil
	}
	if reason, ok := missingOrNullClaim(raw); !ok {
		return &VerifyResult{Reason: reason, HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return &VerifyResult{Reason: "invalid_jwt_format"}, nil
	}

	if claims.Audience != opts.ExpectedAudience {
		return &VerifyResult{Reason: "audience_mismatch", Claims: &claims, HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}

	now := opts.ClockNow
	if now.IsZero() {
		now = s.now()
	}
	nbf := time.Unix(claims.NotBefore, 0)
	exp := time.Unix(claims.Expiry, 0)
	if now.Before(nbf.Add(-ClockSkew)) {
		return &VerifyResult{Reason: "token_not_yet_valid", Claims: &claims, HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}
	if now.After(exp.Add(ClockSkew)) {
		return &VerifyResult{Reason: "token_expired", Claims: &claims, HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}

	inserted, err := s.ReplayCache.SetIfAbsent(ctx, claims.JTI, now.Add(ReplayTTL))
	if err != nil {
		return nil, perr.Wrap(perr.CodeInternal, "replay cache unavailable", err)
	}
	if !inserted {
		return &VerifyResult{Reason: "replay_detected", Claims: &claims, HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}

	if opts.ExpectedNonce != "" && claims.Nonce != opts.ExpectedNonce {
		return &VerifyResult{Reason: "nonce_mismatch", Claims: &claims, HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
	}

	return &VerifyResult{OK: true, Claims: &claims, HeaderAlg: hdr.Alg, HeaderKid: hdr.Kid}, nil
}

func (s *Service) resolvePublicKey(kid string, opts VerifyOptions) (*ecdsa.PublicKey, error) {
	if opts.PublicKey != nil {
		return opts.PublicKey, nil
	}
	if opts.JWKS != nil {
		return opts.JWKS.Resolve(kid)
	}
	return nil, fmt.Errorf("no public key or JWKS resolver configured")
}

var requiredClaims = []string{
	"proof_digest", "policy_hash", "constraint_hash", "status_ref", "jti", "aud", "exp", "nbf",
}

func missingOrNullClaim(raw map[string]interface{}) (reason string, ok bool) {
	for _, name := range requiredClaims {
		v, present := raw[name]
		if !present || v == nil {
			return "missing_or_null_claim_" + name, false
		}
		if s, isStr := v.(string); isStr && s == "" {
			return "missing_or_null_claim_" + name, false
		}
	}
	return "", true
}

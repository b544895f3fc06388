// Copyright 2025 Certen Protocol
//
// Package receipt implements compact-JWS receipt generation and strict
// verification (spec.md §4.3): algorithm allowlisting, required-claim and
// audience/time-skew enforcement, and JTI replay protection.
package receipt

import "time"

// Algorithm is a JOSE signature algorithm this service will sign or accept.
// The allowlist is exactly {ES256}; "alg":"none" and every other algorithm
// are rejected, both at generation time (impossible to select) and at
// verification time (explicit reject).
type Algorithm string

const (
	AlgES256 Algorithm = "ES256"
)

// AllowedAlgorithms is the receipt service's signature-algorithm allowlist.
var AllowedAlgorithms = []Algorithm{AlgES256}

func isAllowed(alg string) bool {
	for _, a := range AllowedAlgorithms {
		if string(a) == alg {
			return true
		}
	}
	return false
}

// StatusRef binds a receipt to the status-list slot backing its asset.
type StatusRef struct {
	StatusListURL   string `json:"statusListUrl"`
	StatusListIndex string `json:"statusListIndex"`
	StatusPurpose   string `json:"statusPurpose"`
}

// Claims is the receipt payload (spec.md §3 "Receipt").
type Claims struct {
	ProofDigest    string    `json:"proof_digest"`
	PolicyHash     string    `json:"policy_hash"`
	ConstraintHash string    `json:"constraint_hash"`
	StatusRef      StatusRef `json:"status_ref"`
	JTI            string    `json:"jti"`
	Audience       string    `json:"aud"`
	IssuedAt       int64     `json:"iat"`
	NotBefore      int64     `json:"nbf"`
	Expiry         int64     `json:"exp"`
	Issuer         string    `json:"iss,omitempty"`
	Subject        string    `json:"sub,omitempty"`
	Nonce          string    `json:"nonce,omitempty"`
}

// Clock-skew tolerance applied to nbf/exp, per spec.md §4.3 step 5.
const ClockSkew = 60 * time.Second

// DefaultExpiry is the default receipt lifetime when GenerateParams.ExpiresIn
// is zero.
const DefaultExpiry = 365 * 24 * time.Hour

// ReplayTTL is how long a jti is retained in the replay cache after a
// successful verify, per spec.md §4.3.
const ReplayTTL = 10 * time.Minute

// Copyright 2025 Certen Protocol
//
// Package verifyproof implements the fresh-proof dispatcher of spec.md
// §4.6: a pure function with no network or storage access that inspects
// the proof bytes for the declared format and reports structural validity.
package verifyproof

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Format is the closed set of proof encodings this dispatcher understands.
type Format string

const (
	FormatJWS     Format = "JWS"
	FormatVCJWT   Format = "VC_JWT"
	FormatZKProof Format = "ZK_PROOF"
)

// Result is the tagged outcome of Dispatch.
type Result struct {
	OK       bool
	Reason   string
	Metadata map[string]string
}

type jwsHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Dispatch inspects proof bytes for the declared format and returns a
// structural verdict. It performs no I/O: callers fetch bytes (pkg/sri)
// before calling this.
func Dispatch(format Format, raw []byte) Result {
	switch format {
	case FormatJWS, FormatVCJWT:
		return dispatchJWS(raw)
	case FormatZKProof:
		return dispatchZKProof(raw)
	default:
		return Result{OK: true, Reason: "not yet implemented for format " + string(format)}
	}
}

func dispatchJWS(raw []byte) Result {
	parts := strings.Split(string(raw), ".")
	if len(parts) != 3 {
		return Result{OK: false, Reason: "invalid_jwt_format"}
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Result{OK: false, Reason: "invalid_jwt_format"}
	}
	var hdr jwsHeader
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return Result{OK: false, Reason: "invalid_jwt_format"}
	}
	if strings.EqualFold(hdr.Alg, "none") || hdr.Alg == "" {
		return Result{OK: false, Reason: "algorithm_not_allowed"}
	}
	return Result{
		OK: true,
		Metadata: map[string]string{
			"alg": hdr.Alg,
			"typ": hdr.Typ,
		},
	}
}

func dispatchZKProof(raw []byte) Result {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Result{OK: false, Reason: "invalid_proof_shape"}
	}
	return Result{OK: true, Reason: "stub: full Groth16 verification against a circuit-addressed key is a planned extension"}
}

// Copyright 2025 Certen Protocol
//
// Package canon implements RFC 8785 JSON canonicalization, SHA-256 digests,
// and CIDv1 content addressing for proof-asset commitments.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

// codecJSON is the multicodec code for the "json" codec (0x0200), used for
// every CID this package mints.
const codecJSON = 0x0200

// CanonicalizationError is returned when a value cannot be canonicalized,
// e.g. it contains a non-finite float or an un-marshalable type.
type CanonicalizationError struct {
	Err error
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("canonicalization failed: %v", e.Err)
}

func (e *CanonicalizationError) Unwrap() error { return e.Err }

// Canonicalize renders v as RFC 8785 JCS bytes: object keys sorted
// lexicographically (by UTF-16 code unit, which for the ASCII-range keys
// used throughout this registry is equivalent to a byte-wise sort), numbers
// in I-JSON form, no insignificant whitespace, UTF-8 output.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &CanonicalizationError{Err: err}
	}
	var parsed interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, &CanonicalizationError{Err: err}
	}
	var buf []byte
	buf, err = appendCanonical(buf, parsed)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendCanonical(buf []byte, v interface{}) ([]byte, error) {
	switch vv := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if vv {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case json.Number:
		return appendCanonicalNumber(buf, vv)
	case string:
		b, err := json.Marshal(vv)
		if err != nil {
			return nil, &CanonicalizationError{Err: err}
		}
		return append(buf, b...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, &CanonicalizationError{Err: err}
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			var err2 error
			buf, err2 = appendCanonical(buf, vv[k])
			if err2 != nil {
				return nil, err2
			}
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf = append(buf, '[')
		for i, e := range vv {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendCanonical(buf, e)
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return nil, &CanonicalizationError{Err: fmt.Errorf("unsupported type %T", v)}
	}
}

// appendCanonicalNumber renders a JSON number in I-JSON form: integers
// without a decimal point or exponent, non-integers via the shortest
// round-tripping decimal representation.
func appendCanonicalNumber(buf []byte, n json.Number) ([]byte, error) {
	if i, err := n.Int64(); err == nil {
		return strconv.AppendInt(buf, i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, &CanonicalizationError{Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &CanonicalizationError{Err: fmt.Errorf("non-finite number %v", f)}
	}
	return append(buf, strconv.FormatFloat(f, 'g', -1, 64)...), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256HexString is a convenience wrapper over a string input.
func SHA256HexString(s string) string { return SHA256Hex([]byte(s)) }

// SHA256Base64URL returns the unpadded base64url SHA-256 digest of data, the
// encoding this registry uses for `proof_digest` (see DESIGN.md).
func SHA256Base64URL(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// CIDv1JSON builds a CIDv1 string (base32, multicodec "json", sha2-256
// multihash) over the RFC 8785 canonicalization of v.
func CIDv1JSON(v interface{}) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	digest, err := mh.Encode(sum[:], mh.SHA2_256)
	if err != nil {
		return "", &CanonicalizationError{Err: err}
	}
	c := cid.NewCidV1(codecJSON, digest)
	return c.String(), nil
}

// EncodeMultibaseBase32 renders data as a self-describing multibase string
// (lowercase RFC 4648 base32, no padding) — the same encoding CIDv1JSON's
// CIDs carry internally, exposed directly for callers that want a
// multibase digest without minting a full CID (e.g. the audit export's
// Merkle root).
func EncodeMultibaseBase32(data []byte) (string, error) {
	return multibase.Encode(multibase.Base32, data)
}

// CommitmentInputs is the canonical-order tuple proofCommitment is computed
// over (spec.md §4.1). Missing fields canonicalize as null, matching the
// contract exactly.
type CommitmentInputs struct {
	PolicyCID      string      `json:"policy_cid"`
	PolicyHash     string      `json:"policy_hash"`
	ConstraintCID  string      `json:"constraint_cid"`
	ConstraintHash string      `json:"constraint_hash"`
	CircuitCID     string      `json:"circuit_cid"`
	SchemaCID      string      `json:"schema_cid"`
	License        interface{} `json:"license"`
	ProofID        string      `json:"proof_id"`
}

// ProofCommitment computes the CIDv1 commitment over the canonical-order
// tuple {policy_cid, policy_hash, constraint_cid, constraint_hash,
// circuit_cid, schema_cid, license, proof_id}.
func ProofCommitment(in CommitmentInputs) (string, error) {
	m := map[string]interface{}{
		"policy_cid":      nullable(in.PolicyCID),
		"policy_hash":      nullable(in.PolicyHash),
		"constraint_cid":   nullable(in.ConstraintCID),
		"constraint_hash":  nullable(in.ConstraintHash),
		"circuit_cid":      nullable(in.CircuitCID),
		"schema_cid":       nullable(in.SchemaCID),
		"license":          in.License,
		"proof_id":         nullable(in.ProofID),
	}
	return CIDv1JSON(m)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Copyright 2025 Certen Protocol

package verifyproof

import (
	"encoding/base64"
	"testing"
)

func jwsOf(alg, typ string) []byte {
	header := `{"alg":"` + alg + `","typ":"` + typ + `"}`
	h := base64.RawURLEncoding.EncodeToString([]byte(header))
	return []byte(h + ".eyJmb28iOiJiYXIifQ.c2ln")
}

func TestDispatchJWSAccepted(t *testing.T) {
	res := Dispatch(FormatJWS, jwsOf("ES256", "JWT"))
	if !res.OK {
		t.Fatalf("expected OK, got reason %q", res.Reason)
	}
	if res.Metadata["alg"] != "ES256" {
		t.Fatalf("unexpected alg metadata: %+v", res.Metadata)
	}
}

func TestDispatchJWSRejectsAlgNone(t *testing.T) {
	res := Dispatch(FormatVCJWT, jwsOf("none", "JWT"))
	if res.OK || res.Reason != "algorithm_not_allowed" {
		t.Fatalf("expected algorithm_not_allowed, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestDispatchJWSRejectsMalformed(t *testing.T) {
	res := Dispatch(FormatJWS, []byte("not-a-jws"))
	if res.OK || res.Reason != "invalid_jwt_format" {
		t.Fatalf("expected invalid_jwt_format, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestDispatchZKProofStub(t *testing.T) {
	res := Dispatch(FormatZKProof, []byte(`{"pi_a":[],"pi_b":[],"pi_c":[]}`))
	if !res.OK {
		t.Fatalf("expected stub acceptance, got reason %q", res.Reason)
	}
}

func TestDispatchZKProofRejectsNonObject(t *testing.T) {
	res := Dispatch(FormatZKProof, []byte(`"not an object"`))
	if res.OK || res.Reason != "invalid_proof_shape" {
		t.Fatalf("expected invalid_proof_shape, got OK=%v reason=%q", res.OK, res.Reason)
	}
}

func TestDispatchUnknownFormatAcceptedProvisionally(t *testing.T) {
	res := Dispatch(Format("BBS_PLUS"), []byte("anything"))
	if !res.OK {
		t.Fatalf("expected provisional acceptance for unknown format")
	}
}

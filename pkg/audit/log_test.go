// Copyright 2025 Certen Protocol

package audit

import (
	"testing"
)

func TestAppendChainsHashes(t *testing.T) {
	log := NewLog()
	e1, err := log.Append(EventMint, "asset-1", map[string]interface{}{"status": "verified"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e1.PreviousHash != "" {
		t.Fatalf("first event should have empty previousHash, got %q", e1.PreviousHash)
	}
	e2, err := log.Append(EventUse, "asset-1", map[string]interface{}{"old_status": "verified", "new_status": "revoked"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e2.PreviousHash != e1.EventHash {
		t.Fatalf("second event's previousHash %q should equal first event's hash %q", e2.PreviousHash, e1.EventHash)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	log := NewLog()
	log.Append(EventMint, "asset-1", map[string]interface{}{"a": 1})
	log.Append(EventUse, "asset-1", map[string]interface{}{"b": 2})
	events := log.Events()

	if err := VerifyChain(events); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}

	events[0].Payload["a"] = 999
	if err := VerifyChain(events); err == nil {
		t.Fatalf("expected tampering to be detected")
	}
}

func TestMerkleRootAndProofRoundTrip(t *testing.T) {
	log := NewLog()
	for i := 0; i < 7; i++ {
		if _, err := log.Append(EventMint, "asset-x", map[string]interface{}{"i": i}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	events := log.Events()
	windowed, root, err := ExportMerkle(events, 0)
	if err != nil {
		t.Fatalf("ExportMerkle: %v", err)
	}
	if len(windowed) != 7 {
		t.Fatalf("expected 7 windowed events, got %d", len(windowed))
	}

	for i, ev := range windowed {
		leaf, err := LeafHash(ev)
		if err != nil {
			t.Fatalf("LeafHash(%d): %v", i, err)
		}
		proof, err := merkleProofFor(windowed, i)
		if err != nil {
			t.Fatalf("merkleProofFor(%d): %v", i, err)
		}
		ok, err := VerifyMerkleProof(leaf, proof, root)
		if err != nil {
			t.Fatalf("VerifyMerkleProof(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("expected proof for index %d to verify", i)
		}
	}
}

func merkleProofFor(events []Event, index int) (*InclusionProof, error) {
	leaves := make([][]byte, len(events))
	for i, ev := range events {
		leaf, err := LeafHash(ev)
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf
	}
	return MerkleProof(leaves, index)
}

func TestExportMerkleWindowCapsToRecent(t *testing.T) {
	log := NewLog()
	for i := 0; i < 10; i++ {
		log.Append(EventMint, "asset-y", map[string]interface{}{"i": i})
	}
	events := log.Events()
	windowed, _, err := ExportMerkle(events, 3)
	if err != nil {
		t.Fatalf("ExportMerkle: %v", err)
	}
	if len(windowed) != 3 {
		t.Fatalf("expected window of 3, got %d", len(windowed))
	}
	if windowed[0].Payload["i"].(int) != 7 {
		t.Fatalf("expected window to start at event 7, got %v", windowed[0].Payload["i"])
	}
}

func TestForAssetFilters(t *testing.T) {
	log := NewLog()
	log.Append(EventMint, "asset-a", map[string]interface{}{})
	log.Append(EventMint, "asset-b", map[string]interface{}{})
	log.Append(EventUse, "asset-a", map[string]interface{}{})

	onlyA := log.ForAsset("asset-a")
	if len(onlyA) != 2 {
		t.Fatalf("expected 2 events for asset-a, got %d", len(onlyA))
	}
}

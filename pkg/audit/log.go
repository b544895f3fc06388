// Copyright 2025 Certen Protocol
//
// Package audit implements the append-only, hash-chained audit log and its
// Merkle export (spec.md §4.7). Each event's hash commits to the previous
// event's hash, so altering or removing any event breaks every hash after
// it; the Merkle export lets a third party check inclusion of a single
// event without replaying the whole chain.
package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/certen/proof-asset-registry/pkg/canon"
)

// EventType is one of the audit actions the registry records.
type EventType string

const (
	EventMint         EventType = "MINT"
	EventUse          EventType = "USE"
	EventStatusUpdate EventType = "STATUS_UPDATE"
)

// Event is one append-only audit record.
type Event struct {
	Seq          int64                  `json:"seq"`
	EventType    EventType              `json:"eventType"`
	AssetID      string                 `json:"assetId"`
	Payload      map[string]interface{} `json:"payload"`
	PreviousHash string                 `json:"previousHash"`
	Timestamp    time.Time              `json:"timestamp"`
	EventHash    string                 `json:"eventHash"`
}

// hashInput mirrors the exact field set and order canonicalized into an
// event's hash; Payload is pre-canonicalized into a string per spec.md §4.7
// ("payload: canonicalize(payload)").
type hashInput struct {
	EventType    string `json:"eventType"`
	AssetID      string `json:"assetId"`
	Payload      string `json:"payload"`
	PreviousHash interface{} `json:"previousHash"`
	Timestamp    string `json:"timestamp"`
}

// ComputeEventHash recomputes an event's hash from its fields; persistence
// adapters use it to fill in EventHash before an Appender.Insert call.
func ComputeEventHash(eventType EventType, assetID string, payload map[string]interface{}, previousHash string, ts time.Time) (string, error) {
	return computeEventHash(eventType, assetID, payload, previousHash, ts)
}

func computeEventHash(eventType EventType, assetID string, payload map[string]interface{}, previousHash string, ts time.Time) (string, error) {
	payloadCanonical, err := canon.Canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	in := hashInput{
		EventType:    string(eventType),
		AssetID:      assetID,
		Payload:      string(payloadCanonical),
		Timestamp:    ts.UTC().Format(time.RFC3339Nano),
	}
	if previousHash == "" {
		in.PreviousHash = nil
	} else {
		in.PreviousHash = previousHash
	}
	canonical, err := canon.Canonicalize(in)
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	return canon.SHA256Hex(canonical), nil
}

// Appender is the persistence-facing half of the audit log: it must
// serialize inserts so that no two concurrent appends can observe the same
// "latest hash" (spec.md §5 ordering guarantee (a)).
type Appender interface {
	// LatestHash returns the eventHash of the most recent event for the
	// log as a whole, or "" if the log is empty.
	LatestHash(ctx context.Context) (string, error)
	// Insert persists event. Implementations MUST reject the insert (and
	// the caller must retry) if LatestHash has changed since it was read,
	// e.g. via a unique constraint on previousHash or a serializable
	// transaction.
	Insert(ctx context.Context, event Event) error
}

// Log is a single-writer, in-process audit log: the mutex is the
// concurrency primitive satisfying spec.md §5's linearizability
// requirement when no external transactional store is wired in.
type Log struct {
	mu     sync.Mutex
	events []Event
	seq    int64
	now    func() time.Time
}

// NewLog builds an empty in-process audit log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append computes the next event's hash chained off the prior event and
// stores it. The caller's payload is copied defensively so later mutation
// by the caller cannot corrupt the chain.
func (l *Log) Append(eventType EventType, assetID string, payload map[string]interface{}) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if n := len(l.events); n > 0 {
		prev = l.events[n-1].EventHash
	}
	ts := l.nowFunc()
	hash, err := computeEventHash(eventType, assetID, payload, prev, ts)
	if err != nil {
		return Event{}, err
	}
	l.seq++
	ev := Event{
		Seq:          l.seq,
		EventType:    eventType,
		AssetID:      assetID,
		Payload:      copyPayload(payload),
		PreviousHash: prev,
		Timestamp:    ts,
		EventHash:    hash,
	}
	l.events = append(l.events, ev)
	return ev, nil
}

func (l *Log) nowFunc() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

// Events returns a defensive copy of every event recorded so far.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ForAsset returns a defensive copy of the events recorded for assetID, in
// append order.
func (l *Log) ForAsset(assetID string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.AssetID == assetID {
			out = append(out, e)
		}
	}
	return out
}

func copyPayload(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// VerifyChain recomputes every event's hash and asserts previousHash(i) =
// eventHash(i-1), with previousHash(0) = "".
func VerifyChain(events []Event) error {
	prev := ""
	for i, ev := range events {
		if ev.PreviousHash != prev {
			return fmt.Errorf("event %d: previousHash %q does not match prior eventHash %q", i, ev.PreviousHash, prev)
		}
		recomputed, err := computeEventHash(ev.EventType, ev.AssetID, ev.Payload, ev.PreviousHash, ev.Timestamp)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if recomputed != ev.EventHash {
			return fmt.Errorf("event %d: recomputed hash %q does not match stored hash %q", i, recomputed, ev.EventHash)
		}
		prev = ev.EventHash
	}
	return nil
}

// LeafHash is the Merkle-tree leaf for an event: sha256(canonicalize(event)).
func LeafHash(ev Event) ([]byte, error) {
	canonical, err := canon.Canonicalize(ev)
	if err != nil {
		return nil, err
	}
	sum := canon.SHA256Hex(canonical)
	return hex.DecodeString(sum)
}

// DefaultExportWindow caps the number of recent events a Merkle export
// covers, per spec.md §4.7 ("implementations MAY cap n ... e.g. 10,000").
const DefaultExportWindow = 10000

// ExportMerkle builds the Merkle root over the most recent min(len(events),
// window) events and returns the windowed event slice alongside it, so
// callers can compute proofs with MerkleProof/VerifyMerkleProof against
// indices within that slice.
func ExportMerkle(events []Event, window int) ([]Event, []byte, error) {
	if window <= 0 {
		window = DefaultExportWindow
	}
	start := 0
	if len(events) > window {
		start = len(events) - window
	}
	windowed := events[start:]
	if len(windowed) == 0 {
		return nil, nil, fmt.Errorf("cannot export a merkle root over zero events")
	}
	leaves := make([][]byte, len(windowed))
	for i, ev := range windowed {
		leaf, err := LeafHash(ev)
		if err != nil {
			return nil, nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = leaf
	}
	root, err := MerkleRoot(leaves)
	if err != nil {
		return nil, nil, err
	}
	return windowed, root, nil
}

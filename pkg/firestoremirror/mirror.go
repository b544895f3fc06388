// Copyright 2025 Certen Protocol
//
// Mirror writes each audit event into a flat Firestore collection as soon
// as it lands in the durable chain, so a dashboard can subscribe to live
// updates without polling the registry's own API.

package firestoremirror

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/certen/proof-asset-registry/pkg/audit"
)

// Mirror implements registry.AuditMirror atop a Client.
type Mirror struct {
	client *Client
	logger *log.Logger
}

// MirrorConfig configures a Mirror.
type MirrorConfig struct {
	Client *Client
	Logger *log.Logger
}

// NewMirror builds a Mirror. client may be a disabled no-op Client, in
// which case MirrorEvent becomes a no-op too.
func NewMirror(cfg *MirrorConfig) (*Mirror, error) {
	if cfg == nil || cfg.Client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[firestoremirror] ", log.LstdFlags)
	}
	return &Mirror{client: cfg.Client, logger: logger}, nil
}

// IsEnabled reports whether MirrorEvent performs real writes.
func (m *Mirror) IsEnabled() bool { return m.client.IsEnabled() }

// MirrorEvent writes e to /auditMirror/{eventHash}. A write error is both
// logged here and returned, so the caller can decide to ignore it, as
// registry.Orchestrator.mirrorEvent does.
func (m *Mirror) MirrorEvent(ctx context.Context, e audit.Event) error {
	if !m.client.IsEnabled() {
		return nil
	}
	if m.client.firestore == nil {
		return fmt.Errorf("firestore client not initialized")
	}
	docPath := fmt.Sprintf("auditMirror/%s", e.EventHash)
	_, err := m.client.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"eventType":    string(e.EventType),
		"assetId":      e.AssetID,
		"payload":      e.Payload,
		"previousHash": e.PreviousHash,
		"eventHash":    e.EventHash,
		"timestamp":    e.Timestamp,
		"mirroredAt":   time.Now().UTC(),
	})
	if err != nil {
		m.logger.Printf("failed to mirror audit event %s: %v", e.EventHash, err)
		return fmt.Errorf("mirror audit event: %w", err)
	}
	return nil
}

// Copyright 2025 Certen Protocol

package firestoremirror

import (
	"context"
	"testing"
	"time"

	"github.com/certen/proof-asset-registry/pkg/audit"
)

func TestDisabledClientIsNoOp(t *testing.T) {
	client, err := NewClient(context.Background(), &ClientConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.IsEnabled() {
		t.Fatalf("expected a disabled client")
	}
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("disabled client should always be healthy, got %v", err)
	}
}

func TestDisabledMirrorEventIsNoOp(t *testing.T) {
	client, err := NewClient(context.Background(), &ClientConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	mirror, err := NewMirror(&MirrorConfig{Client: client})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	if mirror.IsEnabled() {
		t.Fatalf("expected a disabled mirror")
	}
	ev := audit.Event{EventType: audit.EventMint, AssetID: "asset-1", EventHash: "deadbeef", Timestamp: time.Now()}
	if err := mirror.MirrorEvent(context.Background(), ev); err != nil {
		t.Fatalf("disabled mirror should no-op, got %v", err)
	}
}

func TestNewMirrorRequiresClient(t *testing.T) {
	if _, err := NewMirror(&MirrorConfig{}); err == nil {
		t.Fatalf("expected an error when no client is supplied")
	}
}

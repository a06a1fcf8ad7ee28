package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qualys/accessgraph/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Neo4j.URI != "bolt://localhost:7687" {
		t.Errorf("Neo4j.URI = %q, want bolt://localhost:7687", cfg.Neo4j.URI)
	}
	if cfg.Importer.BatchSize != 100 {
		t.Errorf("Importer.BatchSize = %d, want 100", cfg.Importer.BatchSize)
	}
	if cfg.Analyzer.Workers != 10 {
		t.Errorf("Analyzer.Workers = %d, want 10", cfg.Analyzer.Workers)
	}
	if cfg.Source.Kind != "file" {
		t.Errorf("Source.Kind = %q, want file", cfg.Source.Kind)
	}
	if len(cfg.Environments[models.EnvProduction]) == 0 {
		t.Error("default environment mapping should classify prod")
	}
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
importer:
  batch_size: 50
analyzer:
  extensive_access_threshold: 20
environments:
  production: ["prod", "live"]
  non_production: ["dev"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Importer.BatchSize != 50 {
		t.Errorf("Importer.BatchSize = %d, want 50", cfg.Importer.BatchSize)
	}
	if cfg.Analyzer.ExtensiveAccessThreshold != 20 {
		t.Errorf("ExtensiveAccessThreshold = %d, want 20", cfg.Analyzer.ExtensiveAccessThreshold)
	}
	// Unset fields still fall back.
	if cfg.Importer.MaxAttempts != 3 {
		t.Errorf("Importer.MaxAttempts = %d, want default 3", cfg.Importer.MaxAttempts)
	}
	if got := cfg.Environments[models.EnvProduction]; len(got) != 2 {
		t.Errorf("production tags = %v, want [prod live]", got)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_NEO4J_PASSWORD", "s3cret")

	path := writeConfig(t, `
neo4j:
  password: ${TEST_NEO4J_PASSWORD}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Neo4j.Password != "s3cret" {
		t.Errorf("Neo4j.Password = %q, want expanded value", cfg.Neo4j.Password)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown environment class", "environments:\n  staging: [\"stage\"]\n"},
		{"negative batch size", "importer:\n  batch_size: -1\n"},
		{"negative backoff base", "importer:\n  backoff_base: -200000000\n"},
		{"negative backoff max", "importer:\n  backoff_max: -1000000000\n"},
		{"bad source kind", "source:\n  kind: ftp\n"},
		{"s3 without bucket", "source:\n  kind: s3\n"},
		{"malformed yaml", "server: [not a map\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.name != "malformed yaml" {
				var ce *models.ConfigurationError
				if !errors.As(err, &ce) {
					t.Errorf("expected ConfigurationError, got %T: %v", err, err)
				}
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Database.User = "accessgraph"
	cfg.Database.Password = "pw"
	cfg.Database.Database = "accessgraph"

	dsn := cfg.Database.DSN()
	for _, want := range []string{"host=localhost", "port=5432", "dbname=accessgraph", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Expected memory store, got %q", cfg.Store.Backend)
	}
	if cfg.Providers.Timeout != 10*time.Second {
		t.Errorf("Expected provider timeout 10s, got %v", cfg.Providers.Timeout)
	}
	if cfg.Reconciler.StaleAfter != 5*time.Minute {
		t.Errorf("Expected stale_after 5m, got %v", cfg.Reconciler.StaleAfter)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
store:
  backend: postgres
  postgres:
    host: db.internal
providers:
  timeout: 3s
users:
  seed:
    - id: u1
      phone: "+254700000001"
      roles: [donor]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv("DONATIONS_SERVER_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Expected env to override port, got %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "postgres" || cfg.Store.Postgres.Host != "db.internal" {
		t.Errorf("Expected postgres at db.internal, got %q at %q", cfg.Store.Backend, cfg.Store.Postgres.Host)
	}
	if cfg.Store.Postgres.Port != 5432 {
		t.Errorf("Expected default postgres port, got %d", cfg.Store.Postgres.Port)
	}
	if cfg.Providers.Timeout != 3*time.Second {
		t.Errorf("Expected timeout 3s, got %v", cfg.Providers.Timeout)
	}
	if len(cfg.Users.Seed) != 1 || cfg.Users.Seed[0].ID != "u1" {
		t.Errorf("Expected one seed user u1, got %+v", cfg.Users.Seed)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"unknown store", func(c *Config) { c.Store.Backend = "redis" }, true},
		{"bigquery without project", func(c *Config) { c.Store.Backend = "bigquery" }, true},
		{"bigquery with project", func(c *Config) {
			c.Store.Backend = "bigquery"
			c.Store.BigQuery.ProjectID = "proj"
		}, false},
		{"zero provider timeout", func(c *Config) { c.Providers.Timeout = 0 }, true},
		{"unknown events backend", func(c *Config) { c.Events.Backend = "kafka" }, true},
		{"sandbox without secret", func(c *Config) { c.Providers.Sandbox.Secret = "" }, true},
		{"reconciler disabled ignores zero workers", func(c *Config) {
			c.Reconciler.Enabled = false
			c.Reconciler.Workers = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	want := "host=h port=5432 user=u password=p dbname=d sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestWarnings(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if w := c.Warnings(); len(w) != 0 {
		t.Errorf("Expected no warnings for defaults, got %v", w)
	}

	c.Store.Backend = "bigquery"
	w := c.Warnings()
	if len(w) != 1 || !strings.Contains(w[0], "unique") {
		t.Errorf("Expected a uniqueness warning for bigquery, got %v", w)
	}
}

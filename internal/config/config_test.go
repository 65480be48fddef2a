package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "memory" || cfg.Server.Port != 3001 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Pipeline.Budget.MaxInstructions == 0 || len(cfg.Pipeline.Scoring.Thresholds) == 0 {
		t.Fatal("pipeline defaults missing")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 8080
  apiKeys:
    acme: k1
database:
  driver: postgres
  host: db
  user: reg
  password: "p@ss word"
  name: registry
pipeline:
  jobDeadline: 45s
  budget:
    maxInstructions: 1000
aggregation:
  interval: 1m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.APIKeys["acme"] != "k1" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Pipeline.JobDeadline != 45*time.Second || cfg.Aggregation.Interval != time.Minute {
		t.Fatalf("durations = %v %v", cfg.Pipeline.JobDeadline, cfg.Aggregation.Interval)
	}
	if cfg.Pipeline.Budget.MaxInstructions != 1000 || cfg.Pipeline.Budget.MaxCallDepth != 256 {
		t.Fatalf("budget = %+v", cfg.Pipeline.Budget)
	}
	// untouched sections keep their defaults
	if cfg.Log.Format != "text" || cfg.Pipeline.MaxArtifactBytes != 4<<20 {
		t.Fatalf("defaults lost: %+v", cfg.Log)
	}
	dsn := cfg.PostgresDSN()
	if !strings.HasPrefix(dsn, "postgres://reg:p%40ss%20word@db:5432/registry?") || !strings.Contains(dsn, "sslmode=disable") {
		t.Fatalf("dsn = %s", dsn)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("DB_HOST", "mysql.internal")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "reg")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AGGREGATION_INTERVAL", "30s")
	t.Setenv("INSTANCE_ID", "api-7")

	cfg, err := Load(writeFile(t, "log:\n  format: text\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("env should win over file, got %q", cfg.Log.Format)
	}
	if got := cfg.MySQLDSN(); got != "u:@tcp(mysql.internal:3307)/reg?parseTime=true&charset=utf8mb4&loc=UTC" {
		t.Fatalf("dsn = %s", got)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Aggregation.Interval != 30*time.Second {
		t.Fatalf("interval = %v", cfg.Aggregation.Interval)
	}
	if cfg.Pipeline.InstanceID != "api-7" || cfg.Pipeline.LeaseTTL != 30*time.Second {
		t.Fatalf("instance = %q lease = %v", cfg.Pipeline.InstanceID, cfg.Pipeline.LeaseTTL)
	}
}

func TestEnvOverrideBadNumber(t *testing.T) {
	t.Setenv("PORT", "eighty")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil || !strings.Contains(err.Error(), "PORT") {
		t.Fatalf("expected PORT error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "sqlite" }, "database.driver"},
		{"sql without host", func(c *Config) { c.Database.Driver = "postgres" }, "needs a dsn or a host"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"watch", func(c *Config) { c.Checklist.Watch = true }, "checklist.watch"},
		{"bucket", func(c *Config) { c.Minio.Endpoint = "minio:9000"; c.Minio.BucketName = "" }, "bucketName"},
		{"empty key", func(c *Config) { c.Server.APIKeys = map[string]string{"acme": ""} }, "empty key"},
		{"threshold", func(c *Config) { c.Pipeline.Scoring.Thresholds[0].Hard = 0 }, "pipeline.scoring"},
		{"lease", func(c *Config) { c.Pipeline.LeaseTTL = 0 }, "pipeline.leaseTtl"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	if _, err := Load(writeFile(t, "server: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

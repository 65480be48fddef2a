package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/benchmark"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scoring"
)

const (
	DefaultPath   = "config.yaml"
	configPathEnv = "CONFIG_PATH"
)

type Config struct {
	Server struct {
		Port            int               `yaml:"port"`
		ReadTimeout     time.Duration     `yaml:"readTimeout"`
		WriteTimeout    time.Duration     `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration     `yaml:"shutdownTimeout"`
		AllowedOrigins  []string          `yaml:"allowedOrigins"`
		APIKeys         map[string]string `yaml:"apiKeys"` // publisher id -> key
		Admins          []string          `yaml:"admins"`
		RateLimit       struct {
			Capacity        int `yaml:"capacity"`
			RefillPerSecond int `yaml:"refillPerSecond"`
		} `yaml:"rateLimit"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres | memory
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	// Minio stores artifacts. An empty endpoint keeps them in memory.
	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	// OpenAI backs remediation advice. Without a key the offline advisor
	// is used.
	OpenAI struct {
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"baseUrl"`
	} `yaml:"openai"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`

	Pipeline struct {
		JobDeadline      time.Duration    `yaml:"jobDeadline"`
		PersistTimeout   time.Duration    `yaml:"persistTimeout"`
		MaxArtifactBytes int              `yaml:"maxArtifactBytes"`
		RuleMaxSteps     int64            `yaml:"ruleMaxSteps"`
		RuleTimeout      time.Duration    `yaml:"ruleTimeout"`
		RuleConcurrency  int              `yaml:"ruleConcurrency"`
		WaitTimeout      time.Duration    `yaml:"waitTimeout"`
		Budget           benchmark.Budget `yaml:"budget"`
		Scoring          scoring.Policy   `yaml:"scoring"`

		// InstanceID must differ between replicas sharing a database.
		// Empty means the host name.
		InstanceID   string        `yaml:"instanceId"`
		LeaseTTL     time.Duration `yaml:"leaseTtl"`
		ReapInterval time.Duration `yaml:"reapInterval"`
	} `yaml:"pipeline"`

	Checklist struct {
		// Path of a rules file; empty publishes the built-in checklist.
		Path  string `yaml:"path"`
		Watch bool   `yaml:"watch"`
	} `yaml:"checklist"`

	Aggregation struct {
		Interval time.Duration `yaml:"interval"`
		Batch    int           `yaml:"batch"`
	} `yaml:"aggregation"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	var c Config
	c.Server.Port = 3001
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Server.AllowedOrigins = []string{"http://localhost:3000", "https://soroban-registry.vercel.app"}
	c.Server.RateLimit.Capacity = 100
	c.Server.RateLimit.RefillPerSecond = 10

	c.Database.Driver = "memory"
	c.Database.SSLMode = "disable"

	c.Minio.BucketName = "contract-artifacts"
	c.Minio.Region = "us-east-1"

	c.OpenAI.Model = "o3-2025-04-16"

	c.Log.Level = "info"
	c.Log.Format = "text"

	c.Pipeline.JobDeadline = 2 * time.Minute
	c.Pipeline.PersistTimeout = 10 * time.Second
	c.Pipeline.MaxArtifactBytes = 4 << 20
	c.Pipeline.RuleMaxSteps = 5_000_000
	c.Pipeline.RuleTimeout = 10 * time.Second
	c.Pipeline.RuleConcurrency = 4
	c.Pipeline.WaitTimeout = 30 * time.Second
	c.Pipeline.Budget = benchmark.DefaultBudget()
	c.Pipeline.Scoring = scoring.DefaultPolicy()
	c.Pipeline.LeaseTTL = 30 * time.Second
	c.Pipeline.ReapInterval = 30 * time.Second

	c.Aggregation.Interval = 5 * time.Minute
	c.Aggregation.Batch = 500
	return &c
}

// Path returns CONFIG_PATH or the default path.
func Path() string {
	if v := os.Getenv(configPathEnv); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"DATABASE_DRIVER":  &c.Database.Driver,
		"DATABASE_DSN":     &c.Database.DSN,
		"DB_HOST":          &c.Database.Host,
		"DB_USER":          &c.Database.User,
		"DB_PASSWORD":      &c.Database.Password,
		"DB_NAME":          &c.Database.Name,
		"MINIO_ENDPOINT":   &c.Minio.Endpoint,
		"MINIO_ACCESS_KEY": &c.Minio.AccessKey,
		"MINIO_SECRET_KEY": &c.Minio.SecretKey,
		"MINIO_BUCKET":     &c.Minio.BucketName,
		"OPENAI_API_KEY":   &c.OpenAI.APIKey,
		"OPENAI_MODEL":     &c.OpenAI.Model,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FORMAT":       &c.Log.Format,
		"CHECKLIST_PATH":   &c.Checklist.Path,
		"INSTANCE_ID":      &c.Pipeline.InstanceID,
	}
	for env, dst := range str {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	for env, dst := range map[string]*int{"PORT": &c.Server.Port, "DB_PORT": &c.Database.Port} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*dst = n
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("AGGREGATION_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AGGREGATION_INTERVAL: %w", err)
		}
		c.Aggregation.Interval = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database: %s needs a dsn or a host", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of mysql, postgres, memory", c.Database.Driver))
	}
	if c.Minio.Endpoint != "" && c.Minio.BucketName == "" {
		errs = append(errs, errors.New("minio.bucketName is required with an endpoint"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Pipeline.JobDeadline <= 0 {
		errs = append(errs, errors.New("pipeline.jobDeadline must be positive"))
	}
	if c.Pipeline.MaxArtifactBytes <= 0 {
		errs = append(errs, errors.New("pipeline.maxArtifactBytes must be positive"))
	}
	if c.Pipeline.LeaseTTL <= 0 || c.Pipeline.ReapInterval <= 0 {
		errs = append(errs, errors.New("pipeline.leaseTtl and pipeline.reapInterval must be positive"))
	}
	if err := c.Pipeline.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.scoring: %w", err))
	}
	if c.Aggregation.Interval <= 0 {
		errs = append(errs, errors.New("aggregation.interval must be positive"))
	}
	if c.Checklist.Watch && c.Checklist.Path == "" {
		errs = append(errs, errors.New("checklist.watch needs checklist.path"))
	}
	for p := range c.Server.APIKeys {
		if c.Server.APIKeys[p] == "" {
			errs = append(errs, fmt.Errorf("server.apiKeys: publisher %q has an empty key", p))
		}
	}
	return errors.Join(errs...)
}

// MySQLDSN builds the go-sql-driver DSN unless one is configured.
func (c *Config) MySQLDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	port := c.Database.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL unless a DSN is configured.
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	port := c.Database.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}

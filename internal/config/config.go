package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qualys/accessgraph/internal/models"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	Importer  ImporterConfig  `yaml:"importer"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Source    SourceConfig    `yaml:"source"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Environments maps environment classes to the account tags belonging
	// to them. Tags absent from every class classify as other.
	Environments map[models.Environment][]string `yaml:"environments"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type Neo4jConfig struct {
	URI      string        `yaml:"uri"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ImporterConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

type AnalyzerConfig struct {
	Workers                  int      `yaml:"workers"`
	MaxGroupDepth            int      `yaml:"max_group_depth"`
	ExtensiveAccessThreshold int      `yaml:"extensive_access_threshold"`
	AdminPatterns            []string `yaml:"admin_patterns"`
	ReadOnlyPatterns         []string `yaml:"read_only_patterns"`
	HighRiskAccountFloor     int      `yaml:"high_risk_account_floor"`
}

type SourceConfig struct {
	Kind         string `yaml:"kind"` // file or s3
	VerticesPath string `yaml:"vertices_path"`
	EdgesPath    string `yaml:"edges_path"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
}

type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Neo4j.URI == "" {
		c.Neo4j.URI = "bolt://localhost:7687"
	}
	if c.Neo4j.Timeout == 0 {
		c.Neo4j.Timeout = 30 * time.Second
	}

	if c.Importer.BatchSize == 0 {
		c.Importer.BatchSize = 100
	}
	if c.Importer.MaxAttempts == 0 {
		c.Importer.MaxAttempts = 3
	}

	if c.Analyzer.Workers == 0 {
		c.Analyzer.Workers = 10
	}
	if c.Analyzer.ExtensiveAccessThreshold == 0 {
		c.Analyzer.ExtensiveAccessThreshold = 10
	}

	if c.Source.Kind == "" {
		c.Source.Kind = "file"
	}
	if c.Source.VerticesPath == "" {
		c.Source.VerticesPath = "graph_data/vertices.json"
	}
	if c.Source.EdgesPath == "" {
		c.Source.EdgesPath = "graph_data/edges.json"
	}
	if c.Source.Region == "" {
		c.Source.Region = "us-east-1"
	}

	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = "0 */6 * * *"
	}

	if c.Environments == nil {
		c.Environments = map[models.Environment][]string{
			models.EnvProduction:    {"prod"},
			models.EnvNonProduction: {"dev", "test", "stage"},
		}
	}
}

// Validate fails fast on configuration that would otherwise surface as a
// confusing failure mid-pipeline. Called before any store connection.
func (c *Config) Validate() error {
	for env := range c.Environments {
		switch env {
		case models.EnvProduction, models.EnvNonProduction, models.EnvOther:
		default:
			return &models.ConfigurationError{
				Field: "environments",
				Msg:   fmt.Sprintf("unknown environment class %q", env),
			}
		}
	}

	if c.Importer.BatchSize < 0 {
		return &models.ConfigurationError{Field: "importer.batch_size", Msg: "must not be negative"}
	}
	if c.Importer.BackoffBase < 0 {
		return &models.ConfigurationError{Field: "importer.backoff_base", Msg: "must not be negative"}
	}
	if c.Importer.BackoffMax < 0 {
		return &models.ConfigurationError{Field: "importer.backoff_max", Msg: "must not be negative"}
	}
	if c.Analyzer.Workers < 0 {
		return &models.ConfigurationError{Field: "analyzer.workers", Msg: "must not be negative"}
	}
	if c.Analyzer.ExtensiveAccessThreshold < 0 {
		return &models.ConfigurationError{Field: "analyzer.extensive_access_threshold", Msg: "must not be negative"}
	}

	switch c.Source.Kind {
	case "file", "s3":
	default:
		return &models.ConfigurationError{
			Field: "source.kind",
			Msg:   fmt.Sprintf("must be file or s3, got %q", c.Source.Kind),
		}
	}
	if c.Source.Kind == "s3" && c.Source.Bucket == "" {
		return &models.ConfigurationError{Field: "source.bucket", Msg: "required for s3 sources"}
	}

	return nil
}

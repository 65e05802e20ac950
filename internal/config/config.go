// Package config loads the dmx server configuration from a TOML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

type Config struct {
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Neo4j         Neo4jConfig         `toml:"neo4j"`
	Log           LogConfig           `toml:"log"`
	Subscriptions SubscriptionsConfig `toml:"subscriptions"`
}

type ServerConfig struct {
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// StorageConfig selects the graph store. Path is the SQLite database file.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type Neo4jConfig struct {
	URI      string `toml:"uri"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// LogConfig: an empty File logs to stdout.
type LogConfig struct {
	Level  string `toml:"level"`
	File   string `toml:"file"`
	Pretty bool   `toml:"pretty"`
}

type SubscriptionsConfig struct {
	Disabled  bool `toml:"disabled"`
	QueueSize int  `toml:"queue_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads path, fills in defaults, applies environment overrides and
// validates the result. An empty path starts from Default.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyDefaults(cfg)
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}

	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = BackendSQLite
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = "data/dmx.db"
	}

	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = "bolt://localhost:7687"
	}
	if cfg.Neo4j.Username == "" {
		cfg.Neo4j.Username = "neo4j"
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = "neo4j"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Subscriptions.QueueSize == 0 {
		cfg.Subscriptions.QueueSize = 1000
	}
}

// ApplyEnvOverrides applies environment variable overrides: DMX_[SECTION]_[KEY]
// for dmx settings, NEO4J_* for the Neo4j connection and PORT for the listen
// port.
func ApplyEnvOverrides(cfg *Config) error {
	setEnvString(&cfg.Storage.Backend, "DMX_STORAGE_BACKEND")
	setEnvString(&cfg.Storage.Path, "DMX_STORAGE_PATH")
	setEnvString(&cfg.Log.Level, "DMX_LOG_LEVEL")
	setEnvString(&cfg.Log.File, "DMX_LOG_FILE")
	setEnvString(&cfg.Neo4j.URI, "NEO4J_URI")
	setEnvString(&cfg.Neo4j.Username, "NEO4J_USER")
	setEnvString(&cfg.Neo4j.Password, "NEO4J_PASSWORD")
	setEnvString(&cfg.Neo4j.Database, "NEO4J_DATABASE")

	if err := setEnvBool(&cfg.Log.Pretty, "DMX_LOG_PRETTY"); err != nil {
		return err
	}
	if err := setEnvBool(&cfg.Subscriptions.Disabled, "DMX_SUBSCRIPTIONS_DISABLED"); err != nil {
		return err
	}
	if err := setEnvInt(&cfg.Subscriptions.QueueSize, "DMX_SUBSCRIPTIONS_QUEUE_SIZE"); err != nil {
		return err
	}
	return setEnvInt(&cfg.Server.Port, "PORT")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		*target = val
	}
}

func setEnvInt(target *int, key string) error {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, val)
	}
	*target = n
	return nil
}

func setEnvBool(target *bool, key string) error {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %q is not a boolean", key, val)
	}
	*target = b
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path must not be empty")
		}
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("neo4j.uri must not be empty")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: %s, %s; got %q", BackendSQLite, BackendNeo4j, c.Storage.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("log.level %q is not a zerolog level", c.Log.Level)
	}
	if c.Subscriptions.QueueSize < 1 {
		return fmt.Errorf("subscriptions.queue_size must be positive, got %d", c.Subscriptions.QueueSize)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string { return ":" + strconv.Itoa(c.Server.Port) }

// Package config loads the service configuration from the environment and
// the optional YAML resource file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relves/vaultgate/pkg/types"
)

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config is the service configuration.
type Config struct {
	DataPath string
	LogLevel slog.Level
	Port     string
	// Storage is StorageSQLite or StorageMemory.
	Storage string

	// TransferURL is the vault endpoint. Empty disables transfers.
	TransferURL   string
	TransferToken string

	// RedisAddr enables the Redis stream publisher.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// KafkaBrokers enables the Kafka publisher.
	KafkaBrokers []string
	KafkaTopic   string

	// AllowedOrigins may open the websocket event feed cross-origin.
	AllowedOrigins []string
	ServiceName    string

	SweepInterval time.Duration
	// ProposalRetention of zero disables pruning.
	ProposalRetention time.Duration

	// ConfigPath is the resource file, if any.
	ConfigPath string
	Resources  map[types.ResourceID]types.Params
}

// File is the layout of the resource file.
type File struct {
	Resources map[string]types.Params `yaml:"resources"`
}

// Load reads the configuration using getenv, usually os.Getenv, and the
// resource file named by VAULTGATE_CONFIG.
func Load(getenv func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return defaultValue
	}

	cfg := &Config{
		DataPath:      get("DATA_PATH", "./data"),
		Port:          get("PORT", "8080"),
		Storage:       get("STORAGE", StorageSQLite),
		TransferURL:   getenv("TRANSFER_URL"),
		TransferToken: getenv("TRANSFER_TOKEN"),
		ConfigPath:    getenv("VAULTGATE_CONFIG"),

		RedisAddr:      getenv("REDIS_ADDR"),
		RedisPassword:  getenv("REDIS_PASSWORD"),
		KafkaBrokers:   list(getenv("KAFKA_BROKERS")),
		KafkaTopic:     get("KAFKA_TOPIC", "vaultgate.events"),
		AllowedOrigins: list(getenv("WS_ALLOWED_ORIGINS")),
		ServiceName:    get("OTEL_SERVICE_NAME", "vaultgate"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		cfg.LogLevel = slog.LevelInfo
	}

	switch cfg.Storage {
	case StorageSQLite, StorageMemory:
	default:
		return nil, fmt.Errorf("STORAGE: unknown backend %q", cfg.Storage)
	}

	var err error
	if v := getenv("REDIS_DB"); v != "" {
		if cfg.RedisDB, err = strconv.Atoi(v); err != nil || cfg.RedisDB < 0 {
			return nil, fmt.Errorf("REDIS_DB: invalid database %q", v)
		}
	}
	if cfg.SweepInterval, err = duration(get("SWEEP_INTERVAL", "1m")); err != nil {
		return nil, fmt.Errorf("SWEEP_INTERVAL: %w", err)
	}
	if cfg.ProposalRetention, err = duration(get("PROPOSAL_RETENTION", "0s")); err != nil {
		return nil, fmt.Errorf("PROPOSAL_RETENTION: %w", err)
	}

	if cfg.ConfigPath != "" {
		if cfg.Resources, err = LoadResources(cfg.ConfigPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// list splits a comma separated value, dropping blanks.
func list(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func duration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

// LoadResources reads the resource file at path.
func LoadResources(path string) (map[types.ResourceID]types.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource file: %w", err)
	}
	res, err := ParseResources(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// ParseResources decodes a resource file. Unknown keys are rejected so a
// misspelled cap is not silently ignored.
func ParseResources(data []byte) (map[types.ResourceID]types.Params, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse resource file: %w", err)
	}

	out := make(map[types.ResourceID]types.Params, len(f.Resources))
	for name, p := range f.Resources {
		id, err := types.ParseResourceID(name)
		if err != nil {
			return nil, err
		}
		if !p.Kind.Valid() {
			return nil, fmt.Errorf("%s: %w: %q", name, types.ErrInvalidKind, p.Kind)
		}
		out[id] = p
	}
	return out, nil
}

// Package config loads process configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Backend names accepted in BACKEND.
const (
	BackendMemory    = "memory"
	BackendDynamoDB  = "dynamodb"
	BackendDatastore = "datastore"
)

// Config is the process configuration.
type Config struct {
	// Backend selects the document store: memory, dynamodb or datastore.
	// Env: BACKEND. Default: memory
	Backend string

	// Port is the HTTP listen port. Env: PORT. Default: 8080
	Port int

	// AWSProfile is the shared config profile. Env: AWS_PROFILE
	AWSProfile string

	// DynamoEndpoint overrides the DynamoDB endpoint, e.g. DynamoDB Local.
	// Env: DYNAMODB_ENDPOINT
	DynamoEndpoint string

	// TablePrefix is prepended to collection names. Env: TABLE_PREFIX
	TablePrefix string

	// StreamARNs lists DynamoDB stream ARNs to poll for changes made by
	// other clients. Env: STREAM_ARNS (comma separated)
	StreamARNs []string

	// StreamPollInterval is the pause between empty stream reads.
	// Env: STREAM_POLL_INTERVAL. Default: 1s
	StreamPollInterval time.Duration

	// IndexLag is how long after a change a live query re-runs to catch
	// writes its index had not shown yet. Zero disables it.
	// Env: INDEX_LAG. Default: 1s
	IndexLag time.Duration

	// GCPProjectID is the Cloud Datastore project. Env: GCP_PROJECT_ID
	GCPProjectID string

	// Owner is the identity used by the command-line client.
	// Env: SHOPLIST_OWNER
	Owner string

	// LogLevel is the minimum slog level. Env: LOG_LEVEL. Default: info
	LogLevel slog.Level
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Backend:            strings.ToLower(strings.TrimSpace(getenv("BACKEND"))),
		Port:               8080,
		AWSProfile:         getenv("AWS_PROFILE"),
		DynamoEndpoint:     getenv("DYNAMODB_ENDPOINT"),
		TablePrefix:        getenv("TABLE_PREFIX"),
		StreamPollInterval: time.Second,
		IndexLag:           time.Second,
		GCPProjectID:       getenv("GCP_PROJECT_ID"),
		Owner:              strings.TrimSpace(getenv("SHOPLIST_OWNER")),
		LogLevel:           slog.LevelInfo,
	}

	switch cfg.Backend {
	case "":
		cfg.Backend = BackendMemory
	case BackendMemory, BackendDynamoDB, BackendDatastore:
	default:
		return Config{}, fmt.Errorf("config: unknown BACKEND %q", cfg.Backend)
	}

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("config: invalid PORT %q", v)
		}
		cfg.Port = port
	}

	if v := getenv("STREAM_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: invalid STREAM_POLL_INTERVAL %q", v)
		}
		cfg.StreamPollInterval = d
	}

	if v := getenv("INDEX_LAG"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("config: invalid INDEX_LAG %q", v)
		}
		cfg.IndexLag = d
	}

	for _, arn := range strings.Split(getenv("STREAM_ARNS"), ",") {
		if arn = strings.TrimSpace(arn); arn != "" {
			cfg.StreamARNs = append(cfg.StreamARNs, arn)
		}
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("config: invalid LOG_LEVEL %q: %w", v, err)
		}
	}

	if cfg.Backend == BackendDatastore && cfg.GCPProjectID == "" {
		return Config{}, fmt.Errorf("config: GCP_PROJECT_ID is required for the datastore backend")
	}
	return cfg, nil
}

// Logger returns a JSON slog logger at the configured level.
func (c Config) Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel}))
}

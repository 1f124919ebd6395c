package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "feedbackforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FEEDBACKFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "FEEDBACKFORGE_CORS_ORIGIN")
	setString(&cfg.Server.PublicURL, "FEEDBACKFORGE_PUBLIC_URL")
	setString(&cfg.Server.APIKeyHash, "FEEDBACKFORGE_API_KEY_HASH")
	setString(&cfg.Logging.Level, "FEEDBACKFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FEEDBACKFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FEEDBACKFORGE_LOG_ASYNC")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FEEDBACKFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FEEDBACKFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FEEDBACKFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FEEDBACKFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FEEDBACKFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "FEEDBACKFORGE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "FEEDBACKFORGE_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "FEEDBACKFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "FEEDBACKFORGE_CACHE_L2_TTL")

	setInt(&cfg.Breaker.MaxFailures, "FEEDBACKFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FEEDBACKFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "FEEDBACKFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "FEEDBACKFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "FEEDBACKFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "FEEDBACKFORGE_RATE_MAX_IDLE_TIME")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "FEEDBACKFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRatio, "FEEDBACKFORGE_OTEL_SAMPLE_RATIO")

	// Chain
	setString(&cfg.Chain.RPCURL, "FEEDBACKFORGE_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "FEEDBACKFORGE_CHAIN_ID")
	setDuration(&cfg.Chain.ReadTimeout, "FEEDBACKFORGE_CHAIN_READ_TIMEOUT")
	setString(&cfg.Chain.IdentityRegistryAddress, "FEEDBACKFORGE_IDENTITY_REGISTRY")
	setString(&cfg.Chain.ReputationRegistryAddress, "FEEDBACKFORGE_REPUTATION_REGISTRY")
	setString(&cfg.Chain.SignerPrivateKey, "FEEDBACKFORGE_SIGNER_PRIVATE_KEY")
	setDuration(&cfg.Chain.AuthTTL, "FEEDBACKFORGE_AUTH_TTL")
	setDuration(&cfg.Chain.MaxAuthTTL, "FEEDBACKFORGE_MAX_AUTH_TTL")

	setString(&cfg.Session.Path, "FEEDBACKFORGE_SESSION_PATH")

	// Bundler
	setString(&cfg.Bundler.URL, "FEEDBACKFORGE_BUNDLER_URL")
	setDuration(&cfg.Bundler.PollInterval, "FEEDBACKFORGE_BUNDLER_POLL_INTERVAL")
	setUint64(&cfg.Bundler.CallGasLimit, "FEEDBACKFORGE_CALL_GAS_LIMIT")
	setUint64(&cfg.Bundler.VerificationGasLimit, "FEEDBACKFORGE_VERIFICATION_GAS_LIMIT")
	setUint64(&cfg.Bundler.PreVerificationGas, "FEEDBACKFORGE_PRE_VERIFICATION_GAS")
	setUint64(&cfg.Bundler.MaxFeePerGasGwei, "FEEDBACKFORGE_MAX_FEE_GWEI")
	setUint64(&cfg.Bundler.MaxPriorityFeePerGasGwei, "FEEDBACKFORGE_MAX_PRIORITY_FEE_GWEI")

	setString(&cfg.Feedback.Backend, "FEEDBACKFORGE_FEEDBACK_BACKEND")
	setString(&cfg.Feedback.Path, "FEEDBACKFORGE_FEEDBACK_PATH")

	setString(&cfg.Agent.Name, "FEEDBACKFORGE_AGENT_NAME")
	setString(&cfg.Agent.Domain, "FEEDBACKFORGE_AGENT_DOMAIN")
	setStrings(&cfg.Agent.TrustModels, "FEEDBACKFORGE_TRUST_MODELS")
	setStrings(&cfg.Agent.AuthorizeClients, "FEEDBACKFORGE_AUTHORIZE_CLIENTS")

	setString(&cfg.MCP.Addr, "FEEDBACKFORGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "FEEDBACKFORGE_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Chain.ChainID < 1 {
		return errors.New("chain.chain_id must be >= 1")
	}
	if cfg.Chain.ReadTimeout <= 0 {
		return errors.New("chain.read_timeout must be > 0")
	}
	if cfg.Chain.AuthTTL <= 0 {
		return errors.New("chain.auth_ttl must be > 0")
	}
	if cfg.Chain.MaxAuthTTL < cfg.Chain.AuthTTL {
		return errors.New("chain.max_auth_ttl must be >= chain.auth_ttl")
	}
	if cfg.Bundler.PollInterval <= 0 {
		return errors.New("bundler.poll_interval must be > 0")
	}
	switch cfg.Feedback.Backend {
	case "file", "sqlite":
		if cfg.Feedback.Path == "" {
			return fmt.Errorf("feedback.path is required for backend %q", cfg.Feedback.Backend)
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("feedback.backend %q is not supported", cfg.Feedback.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

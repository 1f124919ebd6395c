package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Chain.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Chain.ReadTimeout)
	}
	if cfg.Bundler.CallGasLimit != 1_000_000 {
		t.Errorf("expected call gas limit 1000000, got %d", cfg.Bundler.CallGasLimit)
	}
	if cfg.Feedback.Backend != "file" {
		t.Errorf("expected file backend, got %s", cfg.Feedback.Backend)
	}
	if cfg.Chain.MaxAuthTTL != 24*time.Hour {
		t.Errorf("expected max auth ttl 24h, got %v", cfg.Chain.MaxAuthTTL)
	}
	if len(cfg.Agent.AuthorizeClients) != 0 {
		t.Errorf("server-side authorization must be off by default, got %v", cfg.Agent.AuthorizeClients)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
chain:
  chain_id: 84532
  read_timeout: 3s
feedback:
  backend: sqlite
  path: /var/lib/feedback.db
agent:
  address_hints:
    finder.localhost: "0x00000000000000000000000000000000000000aa"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Chain.ChainID != 84532 {
		t.Errorf("expected chain id 84532, got %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.ReadTimeout != 3*time.Second {
		t.Errorf("expected read timeout 3s, got %v", cfg.Chain.ReadTimeout)
	}
	if cfg.Feedback.Backend != "sqlite" || cfg.Feedback.Path != "/var/lib/feedback.db" {
		t.Errorf("unexpected feedback config %+v", cfg.Feedback)
	}
	if cfg.Agent.AddressHints["finder.localhost"] == "" {
		t.Error("expected address hint for finder.localhost")
	}
	// Unchanged fields keep defaults
	if cfg.Bundler.PollInterval != 2*time.Second {
		t.Errorf("expected default poll interval, got %v", cfg.Bundler.PollInterval)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("FEEDBACKFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("FEEDBACKFORGE_CHAIN_ID", "59141")
	t.Setenv("FEEDBACKFORGE_CHAIN_READ_TIMEOUT", "1m")
	t.Setenv("FEEDBACKFORGE_CALL_GAS_LIMIT", "2000000")
	t.Setenv("FEEDBACKFORGE_TRUST_MODELS", "feedback, inference-validation ,")
	t.Setenv("FEEDBACKFORGE_MAX_AUTH_TTL", "2h")
	t.Setenv("FEEDBACKFORGE_AUTHORIZE_CLIENTS", "42,0x2b")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Chain.ChainID != 59141 {
		t.Errorf("expected chain id 59141, got %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.ReadTimeout != time.Minute {
		t.Errorf("expected read timeout 1m, got %v", cfg.Chain.ReadTimeout)
	}
	if cfg.Bundler.CallGasLimit != 2_000_000 {
		t.Errorf("expected call gas 2000000, got %d", cfg.Bundler.CallGasLimit)
	}
	if len(cfg.Agent.TrustModels) != 2 || cfg.Agent.TrustModels[1] != "inference-validation" {
		t.Errorf("unexpected trust models %v", cfg.Agent.TrustModels)
	}
	if cfg.Chain.MaxAuthTTL != 2*time.Hour {
		t.Errorf("expected max auth ttl 2h, got %v", cfg.Chain.MaxAuthTTL)
	}
	if len(cfg.Agent.AuthorizeClients) != 2 || cfg.Agent.AuthorizeClients[1] != "0x2b" {
		t.Errorf("unexpected authorize clients %v", cfg.Agent.AuthorizeClients)
	}
}

func TestEnvOverrideIgnoresMalformed(t *testing.T) {
	cfg := Defaults()
	t.Setenv("FEEDBACKFORGE_CHAIN_ID", "not-a-number")
	t.Setenv("FEEDBACKFORGE_BUNDLER_POLL_INTERVAL", "soon")

	loadEnv(&cfg)

	if cfg.Chain.ChainID != 11155111 {
		t.Errorf("malformed env should keep default chain id, got %d", cfg.Chain.ChainID)
	}
	if cfg.Bundler.PollInterval != 2*time.Second {
		t.Errorf("malformed env should keep default poll interval, got %v", cfg.Bundler.PollInterval)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
		{
			name:   "zero chain id",
			modify: func(c *Config) { c.Chain.ChainID = 0 },
			errMsg: "chain.chain_id must be >= 1",
		},
		{
			name:   "zero read timeout",
			modify: func(c *Config) { c.Chain.ReadTimeout = 0 },
			errMsg: "chain.read_timeout must be > 0",
		},
		{
			name:   "zero auth ttl",
			modify: func(c *Config) { c.Chain.AuthTTL = 0 },
			errMsg: "chain.auth_ttl must be > 0",
		},
		{
			name:   "max auth ttl below default",
			modify: func(c *Config) { c.Chain.MaxAuthTTL = time.Minute },
			errMsg: "chain.max_auth_ttl must be >= chain.auth_ttl",
		},
		{
			name:   "file backend without path",
			modify: func(c *Config) { c.Feedback.Path = "" },
			errMsg: `feedback.path is required for backend "file"`,
		},
		{
			name: "postgres backend without DSN",
			modify: func(c *Config) {
				c.Feedback.Backend = "postgres"
				c.Postgres.DSN = ""
			},
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Feedback.Backend = "redis" },
			errMsg: `feedback.backend "redis" is not supported`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromFullHierarchy(t *testing.T) {
	// YAML sets port=9090, env overrides to 7070. Env must win.
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FEEDBACKFORGE_PORT", "7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML: got port %q, want 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("YAML should override defaults: got level %q, want debug", cfg.Logging.Level)
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug", "--session", "/etc/ff/session.json"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	if flags.SessionPath == nil || *flags.SessionPath != "/etc/ff/session.json" {
		t.Errorf("expected session path, got %v", flags.SessionPath)
	}
	// Unset flags remain nil
	if flags.DSN != nil {
		t.Errorf("expected nil DSN, got %v", *flags.DSN)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port {
		t.Errorf("port changed from %s to %s", original.Server.Port, cfg.Server.Port)
	}
	if cfg.Session.Path != original.Session.Path {
		t.Errorf("session path changed from %s to %s", original.Session.Path, cfg.Session.Path)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("FEEDBACKFORGE_PORT", "7070")
	t.Setenv("FEEDBACKFORGE_RPC_URL", "http://env-rpc")

	flags, err := ParseFlags([]string{"--port", "3333", "--rpc-url", "http://cli-rpc", "-c", "/nonexistent.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	cfg, path, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/nonexistent.yaml" {
		t.Errorf("expected resolved path /nonexistent.yaml, got %s", path)
	}
	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Chain.RPCURL != "http://cli-rpc" {
		t.Errorf("expected CLI rpc url, got %s", cfg.Chain.RPCURL)
	}
}

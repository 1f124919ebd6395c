package config

import (
	"flag"
	"fmt"
	"io"
)

// CLIFlags holds command-line overrides. Nil fields were not given on the command line.
type CLIFlags struct {
	ConfigPath      *string
	Port            *string
	LogLevel        *string
	DSN             *string
	NatsURL         *string
	SessionPath     *string
	RPCURL          *string
	FeedbackBackend *string
}

// ParseFlags parses server flags. Long and short forms share one destination.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("feedbackforge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, port, logLevel, dsn, natsURL string
		sessionPath, rpcURL, backend             string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "HTTP port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL")
	fs.StringVar(&sessionPath, "session", "", "session package path")
	fs.StringVar(&rpcURL, "rpc-url", "", "chain RPC URL")
	fs.StringVar(&backend, "feedback-backend", "", "feedback store backend")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var flags CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = &configPath
		case "port", "p":
			flags.Port = &port
		case "log-level":
			flags.LogLevel = &logLevel
		case "dsn":
			flags.DSN = &dsn
		case "nats-url":
			flags.NatsURL = &natsURL
		case "session":
			flags.SessionPath = &sessionPath
		case "rpc-url":
			flags.RPCURL = &rpcURL
		case "feedback-backend":
			flags.FeedbackBackend = &backend
		}
	})
	return flags, nil
}

// LoadWithCLI loads configuration with the hierarchy defaults < YAML < ENV < CLI.
// It returns the YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
	if flags.SessionPath != nil {
		cfg.Session.Path = *flags.SessionPath
	}
	if flags.RPCURL != nil {
		cfg.Chain.RPCURL = *flags.RPCURL
	}
	if flags.FeedbackBackend != nil {
		cfg.Feedback.Backend = *flags.FeedbackBackend
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"github.com/Strob0t/FeedbackForge/internal/adapter/ethereum"
	"github.com/Strob0t/FeedbackForge/internal/adapter/postgres"
	"github.com/Strob0t/FeedbackForge/internal/adapter/sessionfile"
	"github.com/Strob0t/FeedbackForge/internal/config"
	"github.com/Strob0t/FeedbackForge/internal/domain/delegation"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
	"github.com/Strob0t/FeedbackForge/internal/service"
)

// commandFlags returns a flag set carrying the shared --config option.
func commandFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "path to YAML config")
	fs.StringVar(path, "c", "", "path to YAML config (shorthand)")
	return fs, path
}

func loadCommandConfig(path string) (*config.Config, error) {
	var flags config.CLIFlags
	if path != "" {
		flags.ConfigPath = &path
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- session ---

func runSession(args []string) error {
	if len(args) == 0 || args[0] != "check" {
		fmt.Fprintln(os.Stderr, "Usage: feedbackforge session check [--config path] [--path session.json]")
		return errors.New("expected: session check")
	}
	fs, cfgPath := commandFlags("session check")
	path := fs.String("path", "", "session package path (defaults to session.path)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, err := loadCommandConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *path == "" {
		*path = cfg.Session.Path
	}

	loader, err := sessionfile.New(*path)
	if err != nil {
		return err
	}
	pkg, err := loader.Load(context.Background())
	if err != nil {
		return err
	}
	sel := pkg.Selector()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "PATH\t%s\n", loader.Path())
	_, _ = fmt.Fprintf(w, "CHAIN_ID\t%d\n", pkg.ChainID)
	_, _ = fmt.Fprintf(w, "DELEGATOR\t%s\n", pkg.DelegatorAccount)
	_, _ = fmt.Fprintf(w, "SENDER\t%s\n", pkg.Sender().Hex())
	_, _ = fmt.Fprintf(w, "SESSION_KEY\t%s\n", pkg.SessionKey.Address)
	_, _ = fmt.Fprintf(w, "SELECTOR\t0x%x\n", sel[:])
	_, _ = fmt.Fprintf(w, "REPUTATION_REGISTRY\t%s\n", pkg.ReputationRegistryAddress)
	_, _ = fmt.Fprintf(w, "DELEGATION_MANAGER\t%s\n", pkg.DelegationManager().Hex())
	_, _ = fmt.Fprintf(w, "ENTRY_POINT\t%s\n", pkg.EntryPointAddress)
	_, _ = fmt.Fprintf(w, "BUNDLER\t%s\n", pkg.BundlerURL)
	_, _ = fmt.Fprintf(w, "ACTIVE\t%t\n", pkg.ActiveAt(time.Now()))
	return w.Flush()
}

// --- auth ---

func runAuth(args []string) error {
	if len(args) == 0 || args[0] != "create" {
		fmt.Fprintln(os.Stderr, "Usage: feedbackforge auth create --client 0x... [--agent id] [--ttl seconds]")
		return errors.New("expected: auth create")
	}
	fs, cfgPath := commandFlags("auth create")
	client := fs.String("client", "", "client address (required)")
	agentID := fs.String("agent", "", "agent id (defaults to the id registered for agent.domain)")
	ttl := fs.Int64("ttl", 0, "validity in seconds (defaults to chain.auth_ttl)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *client == "" {
		return errors.New("--client is required")
	}
	clientAddr, err := service.ParseAddress(*client)
	if err != nil {
		return err
	}

	cfg, err := loadCommandConfig(*cfgPath)
	if err != nil {
		return err
	}
	if cfg.Chain.SignerPrivateKey == "" {
		key, err := promptSecret("Signer private key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		cfg.Chain.SignerPrivateKey = key
	}
	signer, err := ethereum.ParseKeyAccount(cfg.Chain.SignerPrivateKey)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := buildChainApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if a.reputation == nil {
		return errors.New("no reputation registry configured")
	}
	if *ttl < 0 {
		return fmt.Errorf("invalid --ttl %d", *ttl)
	}

	req := service.AuthRequest{Client: clientAddr, TTLSeconds: *ttl}
	switch {
	case *agentID != "":
		if req.AgentID, err = service.ParseAgentID(*agentID); err != nil {
			return err
		}
	case a.directory != nil:
		self, err := a.directory.Resolve(ctx, cfg.Agent.Domain)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", cfg.Agent.Domain, err)
		}
		req.AgentID = self.ID
	default:
		return errors.New("--agent is required when no identity registry is configured")
	}

	auth := service.NewAuthorizationService(a.reputation, signer, cfg.Chain.ChainID, cfg.Chain.AuthTTL, nil)
	out, err := auth.CreateAuthorization(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(out.View())
}

// --- redeem ---

func runRedeem(args []string) error {
	fs, cfgPath := commandFlags("redeem")
	target := fs.String("target", "", "call target (defaults to the session's reputation registry)")
	value := fs.String("value", "0", "wei to send")
	data := fs.String("data", "", "hex call data (required)")
	authorize := fs.String("authorize", "", "instead of --data, authorize client,server agent ids via acceptFeedback")
	noWait := fs.Bool("no-wait", false, "return after submission without waiting for inclusion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *data == "" && *authorize == "" {
		return errors.New("--data or --authorize is required")
	}

	cfg, err := loadCommandConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildChainApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if a.redemption == nil {
		return errors.New("delegated execution is not available; check the session package and bundler")
	}

	if *authorize != "" {
		client, server, err := parseAgentPair(*authorize)
		if err != nil {
			return err
		}
		out, err := a.redemption.AuthorizeClient(ctx, client, server)
		if err != nil {
			return err
		}
		return printJSON(out)
	}

	req := service.RedeemRequest{CallData: common.FromHex(*data), Wait: !*noWait}
	if *target != "" {
		if req.Target, err = service.ParseAddress(*target); err != nil {
			return err
		}
	}
	v, err := delegation.Quantity(*value).Big()
	if err != nil {
		return fmt.Errorf("invalid --value %q", *value)
	}
	req.Value = v

	res, err := a.redemption.Redeem(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func parseAgentPair(s string) (client, server *big.Int, err error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok || a == "" || b == "" {
		return nil, nil, fmt.Errorf("expected client,server agent ids, got %q", s)
	}
	if client, err = service.ParseAgentID(a); err != nil {
		return nil, nil, err
	}
	if server, err = service.ParseAgentID(b); err != nil {
		return nil, nil, err
	}
	return client, server, nil
}

// --- agent ---

func runAgent(args []string) error {
	if len(args) == 0 || args[0] != "register" {
		fmt.Fprintln(os.Stderr, "Usage: feedbackforge agent register [--domain d]")
		return errors.New("expected: agent register")
	}
	fs, cfgPath := commandFlags("agent register")
	d := fs.String("domain", "", "agent domain (defaults to agent.domain)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := loadCommandConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *d == "" {
		*d = cfg.Agent.Domain
	}
	ctx := context.Background()
	a, err := buildChainApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if a.registration == nil {
		return errors.New("registration needs the session package, a bundler and an identity registry")
	}

	out, err := a.registration.EnsureIdentity(ctx, *d)
	if err != nil {
		return err
	}
	return printJSON(out)
}

// --- feedback ---

func runFeedback(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: feedbackforge feedback list|stats|export [--domain d]")
		return errors.New("expected: feedback list|stats|export")
	}
	sub := args[0]
	fs, cfgPath := commandFlags("feedback " + sub)
	d := fs.String("domain", "", "only this agent domain")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, err := loadCommandConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, closeStore, _, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	svc := service.NewFeedbackService(store, nil, nil, cfg.Chain.ChainID, nil)

	switch sub {
	case "list":
		recs, err := svc.List(ctx, *d)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No feedback found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tDOMAIN\tRATING\tAUTH_ID\tSOURCE\tCREATED")
		for i := range recs {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
				recs[i].ID, recs[i].Domain, recs[i].Rating, recs[i].FeedbackAuthID, recs[i].AuthIDSource, recs[i].CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	case "stats":
		var domains []string
		if *d != "" {
			domains = append(domains, *d)
		}
		stats, err := svc.Stats(ctx, domains...)
		if err != nil {
			return err
		}
		return printJSON(stats)
	case "export":
		out, err := svc.Export(ctx)
		if err != nil {
			return err
		}
		return printJSON(out)
	default:
		return fmt.Errorf("unknown feedback command: %s", sub)
	}
}

// --- migrate ---

func runMigrate(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: feedbackforge migrate up|down|version [--steps n]")
		return errors.New("expected: migrate up|down|version")
	}
	sub := args[0]
	fs, cfgPath := commandFlags("migrate " + sub)
	steps := fs.Int("steps", 1, "migrations to roll back")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, err := loadCommandConfig(*cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	dsn := cfg.Postgres.DSN

	switch sub {
	case "up":
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
	case "down":
		if err := postgres.RollbackMigrations(ctx, dsn, *steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate command: %s", sub)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return err
	}
	fmt.Println("version " + strconv.FormatInt(v, 10))
	return nil
}

// chainApp holds the chain-facing services a one-shot command needs.
type chainApp struct {
	reputation   chain.ReputationRegistry
	directory    *service.AgentDirectory
	redemption   *service.RedemptionService
	registration *service.RegistrationService
	closers      []func()
}

func (a *chainApp) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildChainApp dials the chain and wires what the configuration allows,
// without NATS or metrics.
func buildChainApp(ctx context.Context, cfg *config.Config) (*chainApp, error) {
	pkg := loadSession(ctx, cfg)
	client, err := dialChain(ctx, cfg, pkg)
	if err != nil {
		return nil, err
	}
	a := &chainApp{closers: []func(){client.Close}}

	if a.reputation, err = reputationRegistry(client, cfg, pkg); err != nil {
		slog.Warn("reputation registry disabled", "error", err)
	}
	identity, err := identityRegistry(ctx, client, cfg, a.reputation)
	if err != nil {
		slog.Warn("identity registry disabled", "error", err)
	} else {
		dirCache, err := directoryCache(ctx, cfg, nil)
		if err != nil {
			a.close()
			return nil, err
		}
		if a.directory, err = service.NewAgentDirectory(identity, dirCache, cfg.Cache.L1TTL, cfg.Agent.AddressHints); err != nil {
			a.close()
			return nil, err
		}
	}
	if pkg != nil {
		submitter, closeBundler, err := buildSubmitter(ctx, cfg, pkg, client, nil, nil)
		if err != nil {
			slog.Warn("delegated execution disabled", "error", err)
		} else {
			a.closers = append(a.closers, closeBundler)
			a.redemption = service.NewRedemptionService(pkg, submitter, a.reputation)
			if identity != nil {
				a.registration = service.NewRegistrationService(identity, submitter)
			}
		}
	}
	return a, nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after secret input
	if err != nil {
		return "", err
	}
	return string(b), nil
}

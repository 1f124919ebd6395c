package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/FeedbackForge/internal/adapter/http"
	cfmcp "github.com/Strob0t/FeedbackForge/internal/adapter/mcp"
	cfotel "github.com/Strob0t/FeedbackForge/internal/adapter/otel"
	"github.com/Strob0t/FeedbackForge/internal/config"
	"github.com/Strob0t/FeedbackForge/internal/logger"
	"github.com/Strob0t/FeedbackForge/internal/middleware"
	"github.com/Strob0t/FeedbackForge/internal/port/a2a"
)

// version is set at build time.
var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func dispatch(args []string) error {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "serve":
			return runServe(args[1:])
		case "session":
			return runSession(args[1:])
		case "auth":
			return runAuth(args[1:])
		case "redeem":
			return runRedeem(args[1:])
		case "agent":
			return runAgent(args[1:])
		case "feedback":
			return runFeedback(args[1:])
		case "migrate":
			return runMigrate(args[1:])
		case "help":
			printHelp()
			return nil
		default:
			printHelp()
			return fmt.Errorf("unknown command: %s", args[0])
		}
	}
	return runServe(args)
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: feedbackforge [command] [options]

Commands:
  serve            Run the HTTP, A2A and MCP servers (default)
  session check    Validate the session package
  auth create      Sign a feedback authorization
  redeem           Redeem the session delegation for one call
  agent register   Register the session account with the identity registry
  feedback         List, aggregate or export stored feedback
  migrate          Apply or roll back PostgreSQL migrations
  help             Show this help message

Examples:
  feedbackforge --port 8080 --session ./session.json
  feedbackforge session check -c feedbackforge.yaml
  feedbackforge auth create --client 0xabc... --agent 12
  feedbackforge agent register --domain finder.example
  feedbackforge feedback list --domain finder.example
  feedbackforge migrate up
`)
}

func runServe(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", path,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"feedback_backend", cfg.Feedback.Backend,
		"chain_id", cfg.Chain.ChainID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL, cfg.Logging.Service, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	stopRelay, err := a.events.Relay(ctx)
	if err != nil {
		return fmt.Errorf("event relay: %w", err)
	}
	defer stopRelay()

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	a2aH, err := a2aHandler(a)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(a, a2aH, limiter),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var mcpSrv *cfmcp.Server
	if cfg.MCP.Addr != "" {
		mcpSrv = cfmcp.NewServer(cfmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Agent.Name,
			Version: cfg.Agent.Version,
			APIKey:  cfg.MCP.APIKey,
		}, cfmcp.ServerDeps{Tools: a.tools, Feedback: a.feedback})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if mcpSrv != nil {
			if err := mcpSrv.Stop(sctx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func newRouter(a *app, a2aH *a2a.Handler, limiter *middleware.RateLimiter) http.Handler {
	cfg := a.cfg
	r := chi.NewRouter()

	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.RequestID)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)

	// WebSocket endpoint, exempt from the request timeout.
	r.Get("/ws", a.hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(2 * time.Minute))

		handlers := &cfhttp.Handlers{
			Feedback:   a.feedback,
			Auth:       a.auth,
			Redemption: a.redemption,
			Directory:  a.directory,
			SelfDomain: cfg.Agent.Domain,
			Peers:      cfg.Agent.Peers,
			Checks:     a.checks,
		}
		cfhttp.MountRoutes(r, handlers, cfg.Server.APIKeyHash)

		a2aH.MountRoutes(r)
	})
	return r
}

// a2aHandler wires the A2A executor. Optional collaborators are passed only
// when configured so the executor sees untyped nils.
func a2aHandler(a *app) (*a2a.Handler, error) {
	var (
		authorizer a2a.ClientAuthorizer
		resolver   a2a.AgentResolver
	)
	if a.redemption != nil {
		authorizer = a.redemption
	}
	if a.directory != nil {
		resolver = a.directory
	}
	exec := a2a.NewExecutor(a.tools, authorizer, resolver, a.cfg.Agent.Domain)
	if err := exec.AllowClients(a.cfg.Agent.AuthorizeClients); err != nil {
		return nil, fmt.Errorf("agent.authorize_clients: %w", err)
	}
	if len(a.cfg.Agent.AuthorizeClients) > 0 {
		slog.Info("server-side client authorization enabled", "clients", a.cfg.Agent.AuthorizeClients)
	}

	card := a2a.CardConfig{
		Name:        a.cfg.Agent.Name,
		Description: "ERC-8004 feedback authorization and delegated execution agent",
		Version:     a.cfg.Agent.Version,
		BaseURL:     a.cfg.Server.PublicURL,
		Domain:      a.cfg.Agent.Domain,
		ChainID:     a.cfg.Chain.ChainID,
		TrustModels: a.cfg.Agent.TrustModels,
	}
	if a.signer != nil {
		return a2a.NewHandler(card, exec, resolver, a.signer), nil
	}
	return a2a.NewHandler(card, exec, resolver, nil), nil
}

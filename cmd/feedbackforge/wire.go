package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Strob0t/FeedbackForge/internal/adapter/ethereum"
	"github.com/Strob0t/FeedbackForge/internal/adapter/jsonfile"
	cfnats "github.com/Strob0t/FeedbackForge/internal/adapter/nats"
	"github.com/Strob0t/FeedbackForge/internal/adapter/natskv"
	cfotel "github.com/Strob0t/FeedbackForge/internal/adapter/otel"
	"github.com/Strob0t/FeedbackForge/internal/adapter/postgres"
	"github.com/Strob0t/FeedbackForge/internal/adapter/ristretto"
	"github.com/Strob0t/FeedbackForge/internal/adapter/sessionfile"
	"github.com/Strob0t/FeedbackForge/internal/adapter/sqlite"
	"github.com/Strob0t/FeedbackForge/internal/adapter/tiered"
	"github.com/Strob0t/FeedbackForge/internal/adapter/ws"
	"github.com/Strob0t/FeedbackForge/internal/config"
	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/session"
	"github.com/Strob0t/FeedbackForge/internal/domain/userop"
	"github.com/Strob0t/FeedbackForge/internal/port/broadcast"
	"github.com/Strob0t/FeedbackForge/internal/port/cache"
	"github.com/Strob0t/FeedbackForge/internal/port/chain"
	"github.com/Strob0t/FeedbackForge/internal/port/feedbackstore"
	"github.com/Strob0t/FeedbackForge/internal/port/messagequeue"
	"github.com/Strob0t/FeedbackForge/internal/resilience"
	"github.com/Strob0t/FeedbackForge/internal/service"
)

// app holds the wired services and the resources to release on shutdown.
// Optional services are nil when their configuration is missing.
type app struct {
	cfg *config.Config

	store  feedbackstore.Store
	queue  *cfnats.Queue
	hub    *ws.Hub
	events *service.Events
	signer *ethereum.KeyAccount

	feedback   *service.FeedbackService
	auth       *service.AuthorizationService
	redemption *service.RedemptionService
	directory  *service.AgentDirectory
	tools      *service.ToolService

	checks  map[string]func(context.Context) error
	closers []func()
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

// buildApp wires every component the server needs.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, checks: make(map[string]func(context.Context) error)}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	// --- Infrastructure ---

	store, closeStore, check, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.onClose(closeStore)
	if check != nil {
		a.checks["store"] = check
	}

	var mq messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.queue, mq = q, q
		a.onClose(func() { _ = q.Drain() })
		a.checks["nats"] = func(context.Context) error {
			if !q.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	a.hub = ws.NewHub(cfg.Server.CORSOrigin)
	a.onClose(a.hub.Close)
	a.events = service.NewEvents(mq, broadcast.Broadcaster(a.hub))

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	// --- Chain ---

	pkg := loadSession(ctx, cfg)

	client, err := dialChain(ctx, cfg, pkg)
	if err != nil {
		slog.Warn("chain access disabled", "error", err)
	} else {
		a.onClose(client.Close)
	}

	var reputation chain.ReputationRegistry
	var identity chain.IdentityRegistry
	if client != nil {
		if reputation, err = reputationRegistry(client, cfg, pkg); err != nil {
			slog.Warn("reputation registry disabled", "error", err)
		}
		if identity, err = identityRegistry(ctx, client, cfg, reputation); err != nil {
			slog.Warn("identity registry disabled", "error", err)
		}
	}

	if identity != nil {
		dirCache, err := directoryCache(ctx, cfg, a.queue)
		if err != nil {
			return nil, err
		}
		if a.directory, err = service.NewAgentDirectory(identity, dirCache, cfg.Cache.L2TTL, cfg.Agent.AddressHints); err != nil {
			return nil, err
		}
	}

	if cfg.Chain.SignerPrivateKey != "" {
		if a.signer, err = ethereum.ParseKeyAccount(cfg.Chain.SignerPrivateKey); err != nil {
			return nil, err
		}
	}
	if a.signer != nil && reputation != nil {
		a.auth = service.NewAuthorizationService(reputation, a.signer, cfg.Chain.ChainID, cfg.Chain.AuthTTL, a.events)
		a.auth.SetMaxTTL(cfg.Chain.MaxAuthTTL)
		a.auth.SetMetrics(metrics)
		slog.Info("feedback authorization signer ready", "signer", a.signer.Address().Hex())
	}

	if pkg != nil && client != nil {
		red, closeBundler, err := buildRedemption(ctx, cfg, pkg, client, reputation, a.events, metrics)
		if err != nil {
			slog.Warn("delegated execution disabled", "error", err)
		} else {
			a.redemption = red
			a.onClose(closeBundler)
		}
	}

	// --- Services ---

	a.feedback = service.NewFeedbackService(a.store, reputation, a.auth, cfg.Chain.ChainID, a.events)
	a.feedback.SetMetrics(metrics)
	a.tools = service.NewToolService(a.feedback, a.auth, a.directory, cfg.Agent.Domain)

	ok = true
	return a, nil
}

// openStore opens the configured feedback store. check is nil when the
// backend has nothing to check.
func openStore(ctx context.Context, cfg *config.Config) (feedbackstore.Store, func(), func(context.Context) error, error) {
	switch cfg.Feedback.Backend {
	case "file":
		s, err := jsonfile.New(cfg.Feedback.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("feedback file: %w", err)
		}
		slog.Info("feedback store opened", "backend", "file", "path", cfg.Feedback.Path)
		return s, func() { _ = s.Close() }, nil, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Feedback.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("feedback store opened", "backend", "sqlite", "path", cfg.Feedback.Path)
		return s, func() { _ = s.Close() }, nil, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("feedback store opened", "backend", "postgres")
		return postgres.NewStore(pool), pool.Close, pool.Ping, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: feedback backend %q", domain.ErrConfig, cfg.Feedback.Backend)
	}
}

// loadSession loads the session package. A missing or invalid package only
// disables delegated execution.
func loadSession(ctx context.Context, cfg *config.Config) *session.Package {
	loader, err := sessionfile.New(cfg.Session.Path)
	if err != nil {
		slog.Warn("session package disabled", "error", err)
		return nil
	}
	pkg, err := loader.Load(ctx)
	if err != nil {
		slog.Warn("session package not loaded", "path", loader.Path(), "error", err)
		return nil
	}
	if !pkg.ActiveAt(time.Now()) {
		slog.Warn("session key is outside its validity window", "valid_after", pkg.SessionKey.ValidAfter, "valid_until", pkg.SessionKey.ValidUntil)
	}
	if pkg.ChainID != cfg.Chain.ChainID {
		slog.Warn("session package chain differs from configured chain", "session_chain_id", pkg.ChainID, "chain_id", cfg.Chain.ChainID)
	}
	return pkg
}

func dialChain(ctx context.Context, cfg *config.Config, pkg *session.Package) (*ethereum.Client, error) {
	var pkgURL string
	if pkg != nil && pkg.ChainID == cfg.Chain.ChainID {
		pkgURL = pkg.RPCURL
	}
	url, err := session.ResolveRPCURL(cfg.Chain.ChainID, cfg.Chain.RPCURL, pkgURL)
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewBreaker("chain-read", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client, err := ethereum.Dial(ctx, url, cfg.Chain.ReadTimeout, breaker)
	if err != nil {
		return nil, err
	}
	slog.Info("chain client ready", "chain_id", cfg.Chain.ChainID, "rpc_url", url)
	return client, nil
}

func reputationRegistry(client *ethereum.Client, cfg *config.Config, pkg *session.Package) (chain.ReputationRegistry, error) {
	addr := cfg.Chain.ReputationRegistryAddress
	if addr == "" && pkg != nil {
		addr = pkg.ReputationRegistryAddress
	}
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("%w: reputation registry address %q", domain.ErrConfig, addr)
	}
	return ethereum.NewReputationRegistry(client, common.HexToAddress(addr)), nil
}

// identityRegistry uses the configured address, or the one the reputation
// registry points at.
func identityRegistry(ctx context.Context, client *ethereum.Client, cfg *config.Config, reputation chain.ReputationRegistry) (chain.IdentityRegistry, error) {
	if addr := cfg.Chain.IdentityRegistryAddress; addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%w: identity registry address %q", domain.ErrConfig, addr)
		}
		return ethereum.NewIdentityRegistry(client, common.HexToAddress(addr)), nil
	}
	if reputation == nil {
		return nil, fmt.Errorf("%w: no identity registry address", domain.ErrConfig)
	}
	addr, err := reputation.IdentityRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("read identity registry address: %w", err)
	}
	return ethereum.NewIdentityRegistry(client, addr), nil
}

// directoryCache builds the ristretto L1 with a NATS KV L2 when NATS is up.
func directoryCache(ctx context.Context, cfg *config.Config, q *cfnats.Queue) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	var l2 cache.Cache
	if q != nil {
		kv, err := q.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			slog.Warn("l2 cache disabled", "bucket", cfg.Cache.L2Bucket, "error", err)
		} else {
			l2 = natskv.New(kv)
		}
	}
	return tiered.New(l1, l2, cfg.Cache.L1TTL), nil
}

// buildSubmitter dials the bundler and returns a submitter sending from the
// session's smart account.
func buildSubmitter(ctx context.Context, cfg *config.Config, pkg *session.Package, client *ethereum.Client, events *service.Events, metrics *cfotel.Metrics) (*service.Submitter, func(), error) {
	key, err := pkg.PrivateKey()
	if err != nil {
		return nil, nil, err
	}
	bundlerURL := cfg.Bundler.URL
	if bundlerURL == "" {
		bundlerURL = pkg.BundlerURL
	}
	if bundlerURL == "" {
		return nil, nil, fmt.Errorf("%w: no bundler URL", domain.ErrConfig)
	}
	bundler, err := ethereum.DialBundler(ctx, bundlerURL)
	if err != nil {
		return nil, nil, err
	}

	submitter := service.NewSubmitter(bundler, ethereum.NewEntryPoint(client), ethereum.NewKeyAccount(key), service.SubmitterConfig{
		Sender:       pkg.Sender(),
		EntryPoint:   common.HexToAddress(pkg.EntryPointAddress),
		ChainID:      pkg.ChainID,
		Gas:          gasConfig(cfg.Bundler),
		PollInterval: cfg.Bundler.PollInterval,
	}, events)
	submitter.SetMetrics(metrics)
	slog.Info("delegated execution ready", "sender", pkg.Sender().Hex(), "bundler", bundlerURL)
	return submitter, bundler.Close, nil
}

func buildRedemption(ctx context.Context, cfg *config.Config, pkg *session.Package, client *ethereum.Client, reputation chain.ReputationRegistry, events *service.Events, metrics *cfotel.Metrics) (*service.RedemptionService, func(), error) {
	submitter, closeBundler, err := buildSubmitter(ctx, cfg, pkg, client, events, metrics)
	if err != nil {
		return nil, nil, err
	}
	return service.NewRedemptionService(pkg, submitter, reputation), closeBundler, nil
}

func gasConfig(b config.Bundler) userop.GasConfig {
	gwei := big.NewInt(1_000_000_000)
	return userop.GasConfig{
		CallGasLimit:                  b.CallGasLimit,
		VerificationGasLimit:          b.VerificationGasLimit,
		PreVerificationGas:            b.PreVerificationGas,
		MaxFeePerGas:                  new(big.Int).Mul(new(big.Int).SetUint64(b.MaxFeePerGasGwei), gwei),
		MaxPriorityFeePerGas:          new(big.Int).Mul(new(big.Int).SetUint64(b.MaxPriorityFeePerGasGwei), gwei),
		PaymasterVerificationGasLimit: b.PaymasterVerificationGasLimit,
		PaymasterPostOpGasLimit:       b.PaymasterPostOpGasLimit,
	}
}

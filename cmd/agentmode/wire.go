package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Strob0t/agentmode/internal/adapter/afs"
	"github.com/Strob0t/agentmode/internal/adapter/inmem"
	"github.com/Strob0t/agentmode/internal/adapter/litellm"
	amnats "github.com/Strob0t/agentmode/internal/adapter/nats"
	"github.com/Strob0t/agentmode/internal/adapter/natskv"
	amotel "github.com/Strob0t/agentmode/internal/adapter/otel"
	"github.com/Strob0t/agentmode/internal/adapter/postgres"
	"github.com/Strob0t/agentmode/internal/adapter/ristretto"
	"github.com/Strob0t/agentmode/internal/adapter/shell"
	"github.com/Strob0t/agentmode/internal/adapter/sqlite"
	"github.com/Strob0t/agentmode/internal/adapter/taskfile"
	"github.com/Strob0t/agentmode/internal/adapter/tiered"
	"github.com/Strob0t/agentmode/internal/adapter/ws"
	"github.com/Strob0t/agentmode/internal/config"
	"github.com/Strob0t/agentmode/internal/logger"
	"github.com/Strob0t/agentmode/internal/port/broadcast"
	"github.com/Strob0t/agentmode/internal/port/cache"
	"github.com/Strob0t/agentmode/internal/port/messagequeue"
	"github.com/Strob0t/agentmode/internal/port/strategystore"
	"github.com/Strob0t/agentmode/internal/resilience"
	"github.com/Strob0t/agentmode/internal/secrets"
	"github.com/Strob0t/agentmode/internal/service"
)

// app holds the wired services of one process.
type app struct {
	cfg     *config.Config
	root    string
	planner *service.Planner
	engine  *service.Engine
	runner  *service.ActionRunner
	memory  *service.StrategyMemory
	hub     *ws.Hub
	secrets *secrets.Vault
	queue   messagequeue.Queue
	closers []func()
}

// wireOptions selects the optional pieces a command needs.
type wireOptions struct {
	live bool // create the WebSocket hub
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// wire builds every service from cfg. On error the partially built app is
// already closed.
func wire(ctx context.Context, cfg *config.Config, opts wireOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// --- Logging & telemetry ---
	lg, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(lg)
	a.onClose(logCloser.Close)

	shutdownOtel, err := amotel.Init(ctx, cfg.Otel)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.onClose(func() {
		if err := shutdownOtel(context.Background()); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	})
	metrics, err := amotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	a.root, err = filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	stateDir := a.inRoot(cfg.Workspace.StateDir)

	// --- Infrastructure ---
	store, err := a.openStrategyStore(ctx)
	if err != nil {
		return nil, err
	}

	var l2 cache.Cache
	if cfg.NATS.URL != "" {
		q, err := amnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.onClose(func() { _ = q.Drain() })
		a.queue = q
		slog.Info("nats connected", "url", cfg.NATS.URL)

		kv, err := q.KeyValue(ctx, cfg.NATS.KVBucket, cfg.Memory.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("nats kv: %w", err)
		}
		l2 = natskv.New(kv)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	a.onClose(l1.Close)
	var patternCache cache.Cache = l1
	if l2 != nil {
		patternCache = tiered.New(l1, l2, cfg.Memory.CacheTTL)
	}

	a.secrets, err = openVault(cfg)
	if err != nil {
		return nil, err
	}

	// --- Services ---
	a.memory = service.NewStrategyMemory(store, cfg.Memory)
	a.memory.SetCache(patternCache)
	a.memory.SetMetrics(metrics)
	if a.queue != nil {
		a.memory.SetQueue(a.queue)
	}

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Model, cfg.LiteLLM.Timeout)
	llm.SetBreaker(breaker)
	llm.SetKeySource(a.secrets.Source(secrets.LiteLLMMasterKey))
	planModel := llm
	if cfg.Planner.Model != "" && cfg.Planner.Model != cfg.LiteLLM.Model {
		planModel = litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.Planner.Model, cfg.LiteLLM.Timeout)
		planModel.SetBreaker(breaker)
		planModel.SetKeySource(a.secrets.Source(secrets.LiteLLMMasterKey))
	}

	var live broadcast.Broadcaster
	if opts.live {
		a.hub = ws.NewHub(originPatterns(cfg.Server.CORSOrigin))
		live = a.hub
	}
	states := taskfile.New(afero.NewOsFs(), filepath.Join(stateDir, "tasks"))
	notifier := service.NewStatusNotifier(live, a.queue, states)

	a.planner = service.NewPlanner(planModel, a.memory, cfg.Planner)
	a.planner.SetStateStore(states)
	a.planner.SetNotifier(notifier)
	a.planner.SetMetrics(metrics)

	sh := shell.New(a.root, cfg.Runtime.CommandTimeout, cfg.Runtime.MaxOutputBytes)
	sh.SetSlots(shell.NewSlots(cfg.Runtime.MaxConcurrentCommands))
	a.runner = service.NewActionRunner(afs.NewOS(a.root), sh, llm, cfg.Runtime)
	mc := service.NewMetacog(llm, cfg.Metacog)
	mc.SetMetrics(metrics)
	a.engine = service.NewEngine(a.runner, llm, a.memory, mc, cfg.Runtime)
	a.engine.SetNotifier(notifier)
	a.engine.SetMetrics(metrics)

	slog.Info("agent core ready",
		"workspace", a.root,
		"memory", cfg.Memory.Backend,
		"nats", a.queue != nil,
		"model", cfg.LiteLLM.Model,
	)
	return a, nil
}

func (a *app) openStrategyStore(ctx context.Context) (strategystore.Store, error) {
	switch a.cfg.Memory.Backend {
	case "memory":
		return inmem.NewStore(), nil
	case "sqlite":
		s, err := sqlite.Open(ctx, a.inRoot(a.cfg.Memory.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		a.onClose(func() { _ = s.Close() })
		slog.Info("strategy memory opened", "path", s.Path())
		return s, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s := postgres.NewStore(pool)
		a.onClose(func() { _ = s.Close() })
		if err := postgres.RunMigrations(ctx, a.cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")
		return s, nil
	default:
		return nil, errors.New("unknown memory backend " + a.cfg.Memory.Backend)
	}
}

// openVault seeds the credentials from config and layers the secrets file
// over them when one is configured.
func openVault(cfg *config.Config) (*secrets.Vault, error) {
	base := map[string]string{
		secrets.LiteLLMMasterKey: cfg.LiteLLM.MasterKey,
		secrets.MCPAPIKey:        cfg.MCP.APIKey,
	}
	loader := secrets.Static(base)
	if cfg.Secrets.File != "" {
		loader = secrets.FileLoader(afero.NewOsFs(), cfg.Secrets.File, base)
	}
	v, err := secrets.NewVault(loader)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return v, nil
}

// inRoot resolves p against the workspace root unless it is absolute.
func (a *app) inRoot(p string) string {
	if filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	return filepath.Join(a.root, p)
}

// originPatterns turns the configured CORS origin into a WebSocket
// handshake host pattern.
func originPatterns(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// Package app wires every subsystem of the gateway together: configuration,
// observability, the conversation store, the module registry, MCP tool
// hosting, and the WebSocket/HTTP transports. It mirrors a conventional
// long-running server's lifecycle: [New] constructs and initialises every
// subsystem in dependency order, [Run] serves traffic until the context is
// cancelled, and [Shutdown] tears everything down in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cnwinds/chatflow-nexus/internal/config"
	"github.com/cnwinds/chatflow-nexus/internal/gateway"
	"github.com/cnwinds/chatflow-nexus/internal/health"
	"github.com/cnwinds/chatflow-nexus/internal/httpapi"
	"github.com/cnwinds/chatflow-nexus/internal/mcp"
	"github.com/cnwinds/chatflow-nexus/internal/metrics"
	"github.com/cnwinds/chatflow-nexus/internal/observe"
	"github.com/cnwinds/chatflow-nexus/internal/providers"
	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/internal/resilience"
	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// App owns every long-lived subsystem the gateway process needs and
// coordinates their startup and shutdown order.
type App struct {
	cfg *config.Config
	log *slog.Logger

	store    *store.Store
	catalog  *registry.Catalog
	recorder *metrics.Recorder
	obs      *observe.Metrics
	mcpHost  *mcp.Client
	watcher  *config.Watcher

	httpServer    *http.Server
	metricsServer *http.Server

	otelShutdown func(context.Context) error

	bgCancel context.CancelFunc
	bgDone   sync.WaitGroup

	closers  []func() error
	stopOnce sync.Once
}

// New constructs every subsystem from the already-loaded cfg:
// telemetry, the conversation store, the module registry (and its
// configured instances), the metrics recorder, MCP tool hosting, and the
// WebSocket/HTTP transports. Subsystems are initialised in dependency
// order; a failure at any step unwinds everything already started.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{cfg: cfg, log: slog.Default()}

	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCatalog(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}
	if err := a.initMetricsRecorder(ctx); err != nil {
		return nil, fmt.Errorf("app: init metrics recorder: %w", err)
	}
	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}
	if err := a.initTransport(ctx); err != nil {
		return nil, fmt.Errorf("app: init transport: %w", err)
	}
	a.startBackgroundWorkers()

	return a, nil
}

// startBackgroundWorkers launches the store's growth-summary worker (§4.3:
// "a single background worker picks pending rows whose scheduledAt ≤ now"),
// the per-agent summary scheduler feeding it, and the voice-clone trainer,
// all on a context scoped to the App's own lifetime, stopped from
// [App.Shutdown] rather than the caller's request-scoped ctx.
func (a *App) startBackgroundWorkers() {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel

	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		if err := a.store.RunGrowthSummaryWorker(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("growth summary worker stopped", "err", err)
		}
	}()

	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		a.runSummaryScheduler(bgCtx)
	}()

	a.bgDone.Add(1)
	go func() {
		defer a.bgDone.Done()
		a.runVoiceTrainer(bgCtx)
	}()

	a.closers = append(a.closers, func() error {
		cancel()
		a.bgDone.Wait()
		return nil
	})
}

// initTelemetry wires the OpenTelemetry SDK and the application's named
// metric instruments.
func (a *App) initTelemetry(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "chatflow-nexus",
		ServiceVersion: "dev",
	})
	if err != nil {
		return err
	}
	a.otelShutdown = shutdown
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.otelShutdown(shutdownCtx)
	})

	obs, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.obs = obs
	return nil
}

// initStore opens the Postgres-backed conversation store. Its summarizer is
// wired later, by initCatalog, once the LLM module instances exist.
func (a *App) initStore(ctx context.Context) error {
	if a.cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn must be set")
	}
	st, err := store.NewStore(ctx, a.cfg.Postgres.DSN, a.cfg.Postgres.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, func() error {
		a.store.Close()
		return nil
	})
	return nil
}

// initCatalog registers every built-in module factory, then constructs one
// instance per configured entry across all six module types.
func (a *App) initCatalog(ctx context.Context) error {
	catalog := registry.NewCatalog()
	providers.RegisterFactories(catalog, a.store)
	a.catalog = catalog
	a.closers = append(a.closers, catalog.Close)

	if err := a.reloadModules(ctx, a.cfg); err != nil {
		return err
	}

	// The conversation store's compaction and growth-summary rollups need an
	// LLM to condense history; wire it to the type's default instance now
	// that the catalog is populated.
	a.store.SetSummarizer(newLLMSummarizer(a.catalog, ""))
	return nil
}

// reloadModules constructs (or reconstructs, under the catalog's own lock)
// one module instance per configured entry across all six module types.
// Called at startup and again by the config watcher on every file change,
// which is what makes the registry's "read-mostly after init" discipline
// (§5) a hot-reload path rather than just a concurrency guarantee: Construct
// overwrites the (type, code) slot atomically, so in-flight Resolve/Call
// lookups from live sessions never observe a half-updated entry. A second
// pass then rewraps any entry naming FallbackCodes in a fresh
// [resilience.ModuleFallback] over the just-(re)constructed instances.
func (a *App) reloadModules(ctx context.Context, cfg *config.Config) error {
	entries := map[string][]config.ModuleEntry{
		string(types.ModuleVAD):    cfg.Modules.VAD,
		string(types.ModuleASR):    cfg.Modules.ASR,
		string(types.ModuleLLM):    cfg.Modules.LLM,
		string(types.ModuleTTS):    cfg.Modules.TTS,
		string(types.ModuleMemory): cfg.Modules.Memory,
		string(types.ModuleIntent): cfg.Modules.Intent,
	}
	for typ, list := range entries {
		for _, entry := range list {
			if err := a.catalog.Construct(ctx, entry.Kind, entry.ToModuleParams(typ)); err != nil {
				return fmt.Errorf("construct %s/%s: %w", typ, entry.Code, err)
			}
		}
	}
	for typ, list := range entries {
		if err := a.wireFallbacks(types.ModuleType(typ), list); err != nil {
			return err
		}
	}
	return nil
}

// wireFallbacks wraps every entry that names FallbackCodes in a
// [resilience.ModuleFallback], once all of a type's instances are
// constructed so the named fallback codes are guaranteed resolvable. The
// wrapped group replaces the primary's catalog slot, so ordinary
// Catalog.Resolve/Call/CallStream dispatch transparently fails over without
// the pipeline orchestrator knowing a fallback group is even involved —
// this is the §7 provider_transient/provider_fatal resilience layer that
// sits below the per-call retry-once-with-backoff in
// [pipeline.Session.callWithRetry], insulating against a whole instance
// being down rather than a single transient call failing.
func (a *App) wireFallbacks(typ types.ModuleType, list []config.ModuleEntry) error {
	for _, entry := range list {
		if len(entry.FallbackCodes) == 0 {
			continue
		}
		primary, err := a.catalog.Resolve(typ, entry.Code)
		if err != nil {
			return fmt.Errorf("wire fallback %s/%s: resolve primary: %w", typ, entry.Code, err)
		}
		group := resilience.NewModuleFallback(primary, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: entry.Code},
		})
		for _, code := range entry.FallbackCodes {
			fb, err := a.catalog.Resolve(typ, code)
			if err != nil {
				return fmt.Errorf("wire fallback %s/%s: resolve fallback %s: %w", typ, entry.Code, code, err)
			}
			group.AddFallback(fb)
		}
		a.catalog.Put(typ, entry.Code, group)
		slog.Info("module fallback group wired", "type", typ, "primary", entry.Code, "fallbacks", entry.FallbackCodes)
	}
	return nil
}

// initMetricsRecorder starts the async-flush usage/cost recorder backed by
// the store's connection pool.
func (a *App) initMetricsRecorder(ctx context.Context) error {
	rec, err := metrics.NewRecorder(ctx, a.store.Pool(), metrics.DefaultPricingTable(), a.obs)
	if err != nil {
		return err
	}
	a.recorder = rec
	a.closers = append(a.closers, func() error {
		a.recorder.Stop()
		return nil
	})
	return nil
}

// initMCP connects to every configured MCP tool server so the gateway's
// `mcp` frame pass-through has somewhere to dispatch to.
func (a *App) initMCP(ctx context.Context) error {
	client := mcp.NewClient()
	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: mcp.Transport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := client.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
	}
	a.mcpHost = client
	a.closers = append(a.closers, client.Close)
	return nil
}

// initTransport builds the WebSocket gateway, the health/readiness
// endpoints, the thin HTTP CRUD surface, and the Prometheus scrape
// endpoint, then starts listening.
func (a *App) initTransport(ctx context.Context) error {
	gw := gateway.New(a.cfg, a.catalog, a.store, a.recorder, a.mcpHost)

	hh := health.New(health.Checker{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			return a.store.Pool().Ping(ctx)
		},
	})

	api := httpapi.New(a.cfg, a.store)

	mux := http.NewServeMux()
	mux.Handle("/ws/chat", gw)
	hh.Register(mux)
	mux.HandleFunc("GET /aitoys/v1/health", hh.Healthz)
	api.Register(mux)

	handler := otelhttp.NewHandler(observe.Middleware(a.obs)(mux), "chatflow-nexus")

	a.httpServer = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: handler,
	}

	if a.cfg.Server.MetricsAddr != "" && a.cfg.Server.MetricsAddr != a.cfg.Server.ListenAddr {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		a.metricsServer = &http.Server{Addr: a.cfg.Server.MetricsAddr, Handler: metricsMux}
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return nil
}

// StartWatcher begins polling path for configuration changes and, on each
// change, reconstructs every configured module instance through the same
// reloadModules path New used at startup (§5: "module registry is read-mostly after init; a
// reader/writer discipline allows hot reloading without stopping
// sessions"). Known limitation: the gateway snapshots cfg.Agents and
// cfg.Server.AuthTokens once at construction, so edits to agent templates
// or the auth allowlist are logged but require a restart to take effect —
// only module instances (vad/asr/llm/tts/memory/intent) hot-reload live.
func (a *App) StartWatcher(path string) error {
	w, err := config.NewWatcher(path, func(_, newCfg *config.Config) {
		if err := a.reloadModules(context.Background(), newCfg); err != nil {
			a.log.Error("config reload failed", "path", path, "err", err)
			return
		}
		a.log.Info("configuration reloaded", "path", path)
	})
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		a.watcher.Stop()
		return nil
	})
	return nil
}

// Run starts serving HTTP/WebSocket traffic and blocks until ctx is
// cancelled or a listener fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.log.Info("gateway listening", "addr", a.cfg.Server.ListenAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	if a.metricsServer != nil {
		go func() {
			a.log.Info("metrics listening", "addr", a.cfg.Server.MetricsAddr)
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
				return
			}
			errCh <- nil
		}()
	} else {
		errCh <- nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP/WebSocket listeners and closes every subsystem in
// reverse initialisation order, respecting ctx's deadline. Safe to call
// multiple times; only the first call performs work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.httpServer != nil {
			_ = a.httpServer.Shutdown(ctx)
		}
		if a.metricsServer != nil {
			_ = a.metricsServer.Shutdown(ctx)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer failed during shutdown", "err", err)
			}
		}
	})
	return shutdownErr
}

// NewLogger builds the process-wide structured logger from the configured
// level. JSON output is used so logs remain machine-parseable in
// production; a plain text handler is used for "debug" to keep local
// development output readable.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if level == "debug" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

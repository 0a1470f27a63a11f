package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"

	"highscores/adapters/jsonfile"
	mem "highscores/adapters/memory"
	redisAdapter "highscores/adapters/redis"
	sqlxAdapter "highscores/adapters/sqlx"
	"highscores/api/httpapi"
	"highscores/config"
	"highscores/engine"
	"highscores/highscores"
	"highscores/integrations/webhook"
	"highscores/metrics"
	"highscores/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Hub           *realtime.Hub
	Notifier      *webhook.Notifier
	Service       *engine.Service
	Server        *http.Server
	MetricsServer *MetricsServer
}

// MetricsServer serves the Prometheus endpoint. Its Server is nil when
// metrics are disabled.
type MetricsServer struct {
	*http.Server
}

func provideConfig() (*config.Config, error) {
	if path := os.Getenv("HIGHSCORES_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideMetrics(cfg *config.Config) *metrics.Manager {
	var opts []metrics.Option
	if cfg.Metrics.CollectSystem {
		opts = append(opts, metrics.WithSystemCollectors())
	}
	return metrics.NewManager(opts...)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

// provideStore connects the configured adapter. The cleanup closes it.
func provideStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Store, func(), error) {
	store, err := setupStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	desc := fmt.Sprintf("%T", store)
	if s, ok := store.(fmt.Stringer); ok {
		desc = s.String()
	}
	logger.Info("store ready", "adapter", cfg.Storage.Adapter, "store", desc)
	cleanup := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Error("closing store", "error", err)
			}
		}
	}
	return store, cleanup, nil
}

func provideNotifier(cfg *config.Config, store engine.Store, m *metrics.Manager, logger *slog.Logger) *webhook.Notifier {
	return webhook.New(engine.NewRegistry(store, logger),
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithMaxInFlight(cfg.Webhook.MaxInFlight),
		webhook.WithRecorder(m),
		webhook.WithLogger(logger),
	)
}

func provideService(cfg *config.Config, store engine.Store, hub *realtime.Hub, notifier *webhook.Notifier, m *metrics.Manager, logger *slog.Logger) *engine.Service {
	mode := engine.DispatchSync
	if cfg.Events.Async {
		mode = engine.DispatchAsync
	}
	return highscores.New(
		highscores.WithStore(store),
		highscores.WithRealtime(hub),
		highscores.WithWebhooks(notifier),
		highscores.WithMetrics(m),
		highscores.WithLogger(logger),
		highscores.WithDispatchMode(mode),
	)
}

func provideHandler(svc *engine.Service, hub *realtime.Hub, m *metrics.Manager, logger *slog.Logger, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		Names:            cfg.Names,
		WebhookPolicy:    webhook.Policy{AllowInsecure: cfg.Webhook.AllowInsecure},
		Metrics:          m,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config, m *metrics.Manager) *MetricsServer {
	if !cfg.Metrics.Enabled {
		return &MetricsServer{}
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, m.Handler())
	return &MetricsServer{Server: &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr in key order.
func convertAttributes(attrs map[string]string) []slog.Attr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		result = append(result, slog.String(k, attrs[k]))
	}
	return result
}

// setupStore creates the storage adapter selected by configuration.
func setupStore(ctx context.Context, cfg *config.Config) (engine.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		return redisAdapter.New(ctx, cfg.Storage.Redis)
	case "sql":
		store, err := sqlxAdapter.New(ctx, cfg.Storage.SQL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case "file":
		return jsonfile.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

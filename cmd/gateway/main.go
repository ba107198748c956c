// Command gateway runs the chat access-control gateway: a reverse proxy
// that passes every request through the policy pipeline (audit logging,
// time-of-day gating, role gating, sliding-window rate limiting) before
// forwarding it to the downstream chat application.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"chat-gateway/internal/audit"
	"chat-gateway/internal/config"
	"chat-gateway/internal/handler/http/auth"
	"chat-gateway/internal/handler/http/middleware"
	"chat-gateway/internal/handler/http/requestid"
	"chat-gateway/internal/handler/http/respond"
	"chat-gateway/internal/observability/logging"
	"chat-gateway/internal/observability/tracing"
	"chat-gateway/internal/pipeline"
	"chat-gateway/pkg/ratelimit"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the gateway YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	jwtSecret := loadJWTSecret(logger)

	sink, db, err := buildSink(cfg)
	if err != nil {
		logger.Error("failed to build audit sink", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeQuietly(logger, sink, db)

	chain, rlStage, err := buildChain(cfg, sink)
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("pipeline configured",
		slog.Any("stages", chain.Stages()),
		slog.Int("ratelimit_limit", cfg.RateLimit.Limit),
		slog.Duration("ratelimit_window", cfg.RateLimit.Window.Std()),
		slog.Int("allowed_hours_start", cfg.AllowedHours.Start),
		slog.Int("allowed_hours_end", cfg.AllowedHours.End),
	)

	resolver, err := buildKeyResolver(cfg)
	if err != nil {
		logger.Error("failed to build client key resolver", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "chat-gateway")
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}

	handler, err := buildHandler(cfg, chain, resolver, jwtSecret)
	if err != nil {
		logger.Error("failed to build HTTP handler", slog.Any("error", err))
		os.Exit(1)
	}

	scheduler := startMaintenance(logger, cfg, rlStage)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("upstream", cfg.Server.UpstreamURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("gateway exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

// loadJWTSecret reads and validates JWT_SECRET. The secret is optional:
// without it the gateway runs with identity resolution disabled and every
// request is treated as anonymous. A secret that is present but weak stops
// the process.
func loadJWTSecret(logger *slog.Logger) []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Warn("JWT_SECRET not set, identity resolution disabled, all requests treated as anonymous")
		return nil
	}
	if err := auth.ValidateSecret(secret); err != nil {
		logger.Error("JWT secret validation failed", slog.Any("error", err))
		os.Exit(1)
	}
	return []byte(secret)
}

// buildSink constructs the configured audit sink. The postgres sink is
// wrapped in a circuit breaker so an unreachable database degrades to
// unaudited requests instead of a per-request connection attempt.
func buildSink(cfg *config.Config) (audit.Sink, *sql.DB, error) {
	switch cfg.Audit.Sink {
	case config.SinkFile:
		sink, err := audit.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return sink, nil, nil

	case config.SinkSlog:
		return audit.NewSlogSink(slog.Default()), nil, nil

	case config.SinkPostgres:
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres audit sink")
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		sink := audit.NewBreakerSink(audit.NewPostgresSink(db), audit.DefaultBreakerConfig("audit-postgres"))
		return sink, db, nil

	default:
		return nil, nil, fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}
}

// buildChain assembles the stage chain in the configured order. The rate
// limit stage is returned separately so the maintenance job can reach it.
func buildChain(cfg *config.Config, sink audit.Sink) (*pipeline.Chain, *pipeline.RateLimitStage, error) {
	clock := &ratelimit.SystemClock{}
	store := ratelimit.NewInMemoryStore(ratelimit.InMemoryStoreConfig{MaxKeys: cfg.RateLimit.MaxKeys})

	var rlStage *pipeline.RateLimitStage
	stages := make([]pipeline.Stage, 0, len(cfg.Pipeline.Stages))
	for _, name := range cfg.Pipeline.Stages {
		switch name {
		case pipeline.StageAudit:
			stages = append(stages, pipeline.NewAuditStage(sink, cfg.Audit.SinkTimeout.Std()))
		case pipeline.StageTimeWindow:
			stages = append(stages, pipeline.NewTimeWindowGate(cfg.AllowedHours.Start, cfg.AllowedHours.End, clock))
		case pipeline.StageRole:
			stages = append(stages, pipeline.NewRoleGate(cfg.Roles.Authorized))
		case pipeline.StageRateLimit:
			rlStage = pipeline.NewRateLimitStage(store, clock, cfg.RateLimit.Limit, cfg.RateLimit.Window.Std())
			stages = append(stages, rlStage)
		default:
			return nil, nil, fmt.Errorf("unknown pipeline stage %q", name)
		}
	}
	return pipeline.NewChain(stages...), rlStage, nil
}

// buildKeyResolver picks the client key strategy from the proxy trust
// configuration.
func buildKeyResolver(cfg *config.Config) (middleware.KeyResolver, error) {
	if !cfg.Proxy.TrustForwardedFor {
		return middleware.RemoteAddrResolver{}, nil
	}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	return middleware.NewTrustedProxyResolver(middleware.TrustedProxyConfig{
		Enabled:      true,
		AllowedCIDRs: prefixes,
	}), nil
}

// buildHandler composes the HTTP surface: operational endpoints bypass the
// policy pipeline; everything else runs identity resolution, the pipeline,
// and finally the reverse proxy to the upstream application.
func buildHandler(cfg *config.Config, chain *pipeline.Chain, resolver middleware.KeyResolver, jwtSecret []byte) (http.Handler, error) {
	upstream, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("upstream request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		respond.Error(w, http.StatusBadGateway, "upstream unavailable")
	}

	var guarded http.Handler = proxy
	guarded = middleware.Pipeline(chain, resolver)(guarded)
	if jwtSecret != nil {
		guarded = auth.Middleware(jwtSecret)(guarded)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", guarded)

	return requestid.Middleware(tracing.Middleware(mux)), nil
}

// startMaintenance schedules periodic rate limit store cleanup. Returns nil
// when the rate limit stage is not part of the configured pipeline.
func startMaintenance(logger *slog.Logger, cfg *config.Config, rlStage *pipeline.RateLimitStage) *cron.Cron {
	if rlStage == nil {
		return nil
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.RateLimit.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := rlStage.Maintain(ctx); err != nil {
			logger.Warn("rate limit store maintenance failed", slog.Any("error", err))
		}
	})
	if err != nil {
		logger.Error("invalid cleanup schedule",
			slog.String("schedule", cfg.RateLimit.CleanupSchedule),
			slog.Any("error", err))
		os.Exit(1)
	}
	scheduler.Start()
	return scheduler
}

// closeQuietly closes the sink and database, logging failures.
func closeQuietly(logger *slog.Logger, sink audit.Sink, db *sql.DB) {
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error("failed to close audit sink", slog.Any("error", err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}
}

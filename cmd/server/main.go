// Command server starts the Sudbury Business Directory HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intelletix/sudbury-directory/internal/adapter/ai/real"
	"github.com/intelletix/sudbury-directory/internal/adapter/ai/stub"
	"github.com/intelletix/sudbury-directory/internal/adapter/ai/tokencount"
	"github.com/intelletix/sudbury-directory/internal/adapter/directory"
	httpserver "github.com/intelletix/sudbury-directory/internal/adapter/httpserver"
	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/adapter/store/memstore"
	"github.com/intelletix/sudbury-directory/internal/adapter/store/redisstore"
	"github.com/intelletix/sudbury-directory/internal/app"
	"github.com/intelletix/sudbury-directory/internal/config"
	"github.com/intelletix/sudbury-directory/internal/domain"
	"github.com/intelletix/sudbury-directory/internal/service/ratelimiter"
	"github.com/intelletix/sudbury-directory/internal/service/respcache"
	"github.com/intelletix/sudbury-directory/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Shared state: rate-limit counters and cached replies.
	st, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.close()

	dir, err := directory.Load(ctx, directory.Source{Path: cfg.DirectoryPath, URL: cfg.DirectoryURL})
	if err != nil {
		slog.Error("directory load failed", slog.Any("error", err))
		os.Exit(1)
	}

	var client domain.CompletionClient
	switch cfg.CompletionProvider {
	case "static":
		client = stub.New()
		slog.Warn("static completion provider in use, replies are fixed")
	default:
		client = real.New(cfg)
		if !cfg.OpenAIConfigured() {
			slog.Warn("OPENAI_API_KEY is not set, chat requests will fail with 503")
		}
	}

	gk := usecase.NewGatekeeper(
		usecase.GatekeeperConfig{
			Limits:          domain.ChatLimits{MaxMessages: cfg.MaxMessages, MaxContentChars: cfg.MaxContentChars},
			MaxPromptTokens: cfg.MaxPromptTokens,
			UpstreamTimeout: cfg.UpstreamTimeout,
			Options: domain.CompletionOptions{
				Model:       cfg.OpenAIModel,
				MaxTokens:   cfg.OpenAIMaxTokens,
				Temperature: cfg.OpenAITemperature,
			},
		},
		ratelimiter.NewWindowLimiter(st.limits, cfg.RateLimitMax, cfg.RateLimitWindow),
		respcache.New(st.replies, cfg.CacheTTL),
		client,
		tokencount.DefaultCounter,
	)

	srv := httpserver.NewServer(cfg, gk, usecase.NewDirectoryService(dir), st.check)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("provider", cfg.CompletionProvider), slog.String("store", cfg.StoreBackend))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// stores holds the KV backends of the gatekeeper. With Redis both fields
// point at the same client.
type stores struct {
	limits  domain.KVStore
	replies domain.KVStore
	check   func(context.Context) error
	close   func()
}

// openStores selects the KV backend. In memory the limiter gets its own
// unbounded store so reply caching can never evict a live counter; only the
// reply store is capped. Both are swept until ctx ends.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.UsesRedis() {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rs, rdb, err := redisstore.Dial(dialCtx, cfg.RedisURL, "sudbury:")
		if err != nil {
			return stores{}, err
		}
		return stores{
			limits:  rs,
			replies: rs,
			check:   app.BuildStoreCheck(rs),
			close: func() {
				if err := rdb.Close(); err != nil {
					slog.Error("failed to close redis client", slog.Any("error", err))
				}
			},
		}, nil
	}
	limits := memstore.New()
	replies := memstore.New(memstore.WithMaxEntries(cfg.StoreMaxEntries))
	go limits.RunSweeper(ctx, cfg.StoreSweepInterval)
	go replies.RunSweeper(ctx, cfg.StoreSweepInterval)
	return stores{limits: limits, replies: replies, close: func() {}}, nil
}

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

	"github.com/ariefcatur/go-marketplace/internal/config"
	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/logx"
	"github.com/ariefcatur/go-marketplace/internal/metrics"
	"github.com/ariefcatur/go-marketplace/internal/projector"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, closer := logx.Setup(logx.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		Production: cfg.Production(),
	})
	log = log.With("service", cfg.ServiceName+"-projector")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("projector exit", "err", err)
	}
	_ = closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

// run owns every resource of the projector so deferred cleanup always runs
// before main decides the exit code.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		return errors.New("projector needs KAFKA_BROKERS and REDIS_ADDR")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	svc := &projector.Service{KV: redisx.Redis{C: rdb}}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, projector.Topics, cfg.ProjectorWorkers)

	// metrics endpoint untuk scrape
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.ProjectorMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("projector consumer started", "group", cfg.ProjectorGroup, "topics", projector.Topics, "workers", cfg.ProjectorWorkers)
		return cons.Start(logx.WithLogger(gctx, log), svc.HandleEvent)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down projector...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

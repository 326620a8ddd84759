package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/config"
	"github.com/ariefcatur/go-marketplace/internal/httpx"
	"github.com/ariefcatur/go-marketplace/internal/inventory"
	kafkax "github.com/ariefcatur/go-marketplace/internal/kafka"
	"github.com/ariefcatur/go-marketplace/internal/orders"
	"github.com/ariefcatur/go-marketplace/internal/postgres"
	"github.com/ariefcatur/go-marketplace/internal/query"
	"github.com/ariefcatur/go-marketplace/internal/redisx"
	"github.com/ariefcatur/go-marketplace/internal/storage"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, closer := setup()
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis
	kv, closeKV, err := openKV(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeKV()

	// Kafka producer
	var pub kafkax.Publisher = kafkax.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
		prod.Start()
		defer func() {
			prod.Close()      // tutup inbox -> flush & close writer
			prod.WaitClosed() // drain
		}()
		pub = prod
		log.Info("kafka producer started", "brokers", cfg.KafkaBrokers)
	} else {
		log.Warn("KAFKA_BROKERS empty, events are discarded")
	}

	// Image storage
	disk, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}

	// Services & router
	router := httpx.NewRouter(cfg.CORSOrigins...)
	h := &httpx.Handlers{
		Inventory: &inventory.Service{
			Store:       store,
			KV:          kv,
			Producer:    pub,
			Images:      disk,
			ServiceName: cfg.ServiceName,
		},
		Query:          &query.Service{Store: store, KV: kv},
		MaxUploadBytes: cfg.MaxUploadMB << 20,
	}
	h.Register(router)
	if local, ok := disk.(*storage.LocalDisk); ok {
		httpx.ServeUploads(router, local.Prefix, local.Root)
	}

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	return srv.Shutdown(ctx2)
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return orders.NewMemoryRepo(orders.MemoryOptions{
			LockAttempts:    cfg.LockAttempts,
			LockAttemptWait: cfg.LockAttemptWait,
		}), func() {}, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if migrateOnStart {
			if err := postgres.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, nil, err
			}
			log.Info("schema applied")
		}
		return &orders.Repo{DB: db, LockTimeout: cfg.LockTimeout}, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openKV(ctx context.Context, cfg config.Config, log *slog.Logger) (redisx.KV, func(), error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR empty, using in-process cache")
		return redisx.NewMemory(), func() {}, nil
	}
	rdb := redisx.New(cfg.RedisAddr)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return redisx.Redis{C: rdb}, func() { _ = rdb.Close() }, nil
}

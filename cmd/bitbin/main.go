package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbin/cfg"
	"bitbin/svc/api"
	"bitbin/svc/cache"
	"bitbin/svc/db"
	"bitbin/svc/lim"
	"bitbin/svc/pool"
	"bitbin/svc/storage"
	"bitbin/svc/svc"
	"bitbin/svc/util"
)

const walInterval = 5 * time.Minute

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthCheck())
	}
	c, err := cfg.Load()
	if err != nil {
		util.InitLog("info", false)
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.InitLog("info", false)
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
			}
			util.Warn().Err(err).Msg("redis unavailable, continuing without shared cache")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	lruCache, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to create LRU cache")
	}

	backend, err := storage.New(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Str("backend", c.StorageBackend).Msg("failed to configure storage backend")
	}
	if err := backend.Init(ctx); err != nil {
		util.Fatal().Err(err).Str("backend", backend.ID()).Msg("failed to initialize storage backend")
	}
	util.Info().Str("backend", backend.ID()).Msg("storage backend ready")

	workers := pool.New(c.WorkerPoolSize * 4)
	if err := workers.Start(c.WorkerPoolSize); err != nil {
		util.Fatal().Err(err).Msg("failed to start worker pool")
	}
	defer workers.Stop()

	contentSvc := svc.NewContent(sqlDB, lruCache, rdb, backend, workers, c)
	if len(os.Args) > 1 && os.Args[1] == "-audit" {
		os.Exit(audit(ctx, contentSvc))
	}

	var counter lim.Counter
	if rdb != nil {
		counter = rdb
	}
	limiter, err := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, counter, c.TrustedProxies)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize rate limiter")
	}
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, contentSvc, limiter, sqlDB, rdb)

	quitWAL := make(chan struct{})
	walDone := make(chan struct{})
	go func() {
		defer close(walDone)
		db.StartWALMaintenance(sqlDB.DB(), walInterval, quitWAL)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		util.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-serverErr:
		if err != nil {
			util.Error().Err(err).Msg("server stopped")
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	contentSvc.Shutdown()
	close(quitWAL)
	select {
	case <-walDone:
	case <-time.After(5 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	util.Info().Msg("shutdown complete")
}

func healthCheck() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "bitbin.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}

// audit prints the index and backend comparison as JSON. Exit status 2
// signals an inconsistent store.
func audit(ctx context.Context, s *svc.Content) int {
	report, err := s.Audit(ctx)
	if err != nil {
		util.Error().Err(err).Msg("audit failed")
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 1
	}
	if !report.Consistent() {
		return 2
	}
	return 0
}

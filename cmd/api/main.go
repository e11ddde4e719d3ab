package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokerdesk/api/internal/app"
	"brokerdesk/api/internal/clients"
	"brokerdesk/api/internal/config"
	"brokerdesk/api/internal/export"
	"brokerdesk/api/internal/ledger"
	"brokerdesk/api/internal/logging"
	"brokerdesk/api/internal/metrics"
	"brokerdesk/api/internal/reports"
	"brokerdesk/api/internal/scheduler"
	"brokerdesk/api/internal/search"
	"brokerdesk/api/internal/sources"
	"brokerdesk/api/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(logging.DefaultConfig())
	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger = logging.New(&logging.Config{
		Level:      logging.ParseLevel(cfg.LogLevel),
		Output:     os.Stdout,
		JSON:       cfg.LogJSON,
		TimeFormat: time.RFC3339,
	})
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger logging.Logger) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		return err
	}

	table, err := sources.Load(cfg.SourcesFile)
	if err != nil {
		return err
	}

	m := metrics.New()
	dataStore := store.NewPostgresStore(db)
	loc := cfg.Location()

	var cache clients.Cache
	if cfg.RedisURL != "" {
		logger.Info("using redis for the client cache")
		redisCache, err := clients.NewRedisCache(cfg.RedisURL, cfg.ClientCacheTTL)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache.WithKeyPrefix(cfg.TeamID)
	} else {
		logger.Info("using in-process client cache")
		cache = clients.NewMemoryCache(cfg.ClientCacheTTL, nil)
	}

	var engine search.Backend
	if cfg.SearchEnabled() {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		engine = meiliClient
	}

	// The directory indexes what the resolver publishes and falls back to it.
	var directory *search.Directory
	resolver := clients.NewResolver(dataStore, table, cache, clients.Options{
		Team:        cfg.TeamID,
		PrimaryTeam: cfg.PrimaryTeamID,
		Parallelism: cfg.ResolveParallelism,
		Location:    loc,
		Logger:      logger,
		Metrics:     m,
		OnResolved: func(_ context.Context, profiles []clients.ClientProfile) {
			directory.ReindexAsync(profiles)
		},
	})
	directory = search.NewDirectory(engine, resolver, logger)

	l := ledger.New(dataStore, ledger.Options{Location: loc, Logger: logger, Metrics: m})
	reportService := reports.NewService(resolver, dataStore, table, l, reports.Options{
		Team:        cfg.TeamID,
		PrimaryTeam: cfg.PrimaryTeamID,
		Logger:      logger,
	})

	var archive *export.Archive
	if cfg.ObjectStorageEnabled() {
		archive, err = export.NewArchive(export.ArchiveConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn("report archive unavailable, exports will not be archived", "error", err)
			archive = nil
		}
	}
	exportService := export.NewService(export.Options{Archive: archive, Logger: logger, Metrics: m})

	jobs, err := scheduler.New(scheduler.Config{
		RefreshSpec: cfg.RefreshSpec,
		AuditSpec:   cfg.AuditSpec,
		Location:    loc,
	}, resolver, directory, reportService, logger, m)
	if err != nil {
		return err
	}
	jobs.Start(ctx)

	service := app.New(cfg, app.Deps{
		Store:     dataStore,
		Sources:   table,
		Clients:   resolver,
		Directory: directory,
		Ledger:    l,
		Reports:   reportService,
		Exports:   exportService,
		Logger:    logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger, m)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("brokerdesk api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	logger.Info("brokerdesk api stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"archive/api/internal/app"
	"archive/api/internal/blob"
	"archive/api/internal/config"
	"archive/api/internal/email"
	"archive/api/internal/logging"
	"archive/api/internal/search"
	"archive/api/internal/store"
	"archive/api/internal/urlcache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		slog.Error("logger setup failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("archive api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var (
		dataStore app.DataStore
		pgfts     *search.PgFTS
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir), logger); err != nil {
			return err
		}
		dataStore = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	var (
		blobs    blob.Store
		memBlobs *blob.Memory
	)
	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		minioStore, err := blob.NewMinio(ctx, blob.MinioOptions{
			Endpoint:  cfg.BlobEndpoint,
			AccessKey: cfg.BlobAccessKey,
			SecretKey: cfg.BlobSecretKey,
			Bucket:    cfg.BlobBucket,
			UseSSL:    cfg.BlobUseSSL,
		})
		if err != nil {
			return err
		}
		blobs = minioStore
	} else {
		logger.Warn("BLOB_ENDPOINT not set, attachments are kept in memory")
		memBlobs = blob.NewMemory("http://localhost" + cfg.Addr + "/blobs")
		blobs = memBlobs
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)
	go searchService.Reindex(ctx)

	opts := []app.Option{app.WithLogger(logger), app.WithIndexer(searchService)}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := urlcache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer cache.Close()
		logger.Info("caching signed urls in redis")
		opts = append(opts, app.WithURLCache(cache))
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, notifications will be skipped")
	}
	opts = append(opts, app.WithMailer(mailer))

	service := app.New(cfg, dataStore, blobs, opts...)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	if memBlobs != nil {
		httpServer.ServeBlobs("/blobs", memBlobs)
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("archive api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

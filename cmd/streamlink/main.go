package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/streamlink/internal/adapter/driven/broadcast"
	"github.com/ericfisherdev/streamlink/internal/adapter/driven/permission"
	sqliteadapter "github.com/ericfisherdev/streamlink/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/streamlink/internal/adapter/driven/streamlabs"
	"github.com/ericfisherdev/streamlink/internal/adapter/driven/twitch"
	httphandler "github.com/ericfisherdev/streamlink/internal/adapter/driving/http"
	"github.com/ericfisherdev/streamlink/internal/application"
	"github.com/ericfisherdev/streamlink/internal/config"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// primaryQueueSize bounds the closures waiting for the primary loop.
const primaryQueueSize = 256

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"live_check_interval", cfg.LiveCheckInterval,
		"permission_backend", cfg.PermissionBackend,
		"loyalty_source", cfg.LoyaltySource,
		"token_encryption", cfg.SecretKey != nil,
	)
	if !cfg.HasTwitchCredentials() {
		slog.Warn("twitch client credentials not configured, linking and token refresh are disabled")
	}

	// 2. Signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Database (dual reader/writer, WAL) and migrations.
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("database ready", "path", db.Path())

	// 4. Durable identities into the in-memory credential store.
	identityRepo, err := sqliteadapter.NewIdentityRepo(db, cfg.SecretKey)
	if err != nil {
		return err
	}
	creds := application.NewCredentialStore(identityRepo)
	records, err := creds.Load(ctx)
	if err != nil {
		return err
	}
	slog.Info("identities loaded", "total", len(records), "linked", len(creds.AllLinked()))

	// 5. Driven adapters.
	platform := twitch.NewClient(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchScopes)

	permissions, err := permission.New(cfg.PermissionBackend, sqliteadapter.NewGroupRepo(db))
	if err != nil {
		return err
	}

	sinks := broadcast.Fanout{broadcast.NewLogBroadcaster(slog.Default())}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, broadcast.NewWebhook(cfg.WebhookURL, nil))
	}
	var broadcaster driven.Broadcaster = sinks

	// 6. Primary loop: the only place externally visible effects are applied.
	loop := application.NewPrimaryLoop(primaryQueueSize)
	go loop.Start(ctx)

	// 7. Application services.
	metrics := application.NewMetrics()
	marker := application.NewDisplayMarker()
	tokens := application.NewTokenLifecycle(platform, creds, nil)
	poller := application.NewLiveStatusPoller(
		platform, creds, tokens, permissions, broadcaster, marker, loop, metrics, cfg.LiveCheckInterval, nil,
	)
	links := application.NewLinkService(
		platform, creds, tokens, application.NewSessionRegistry(), poller,
		permissions, broadcaster, marker, loop, metrics, application.FlowSettings{},
	)

	go poller.Start(ctx)

	if cfg.LoyaltyAPIEnabled() {
		loyaltyClient := streamlabs.NewClient(cfg.StreamlabsOAuthHelper)
		shared := application.NewSharedToken(loyaltyClient, cfg.StreamlabsAccessToken, cfg.StreamlabsRefreshToken, nil)
		loyalty := application.NewLoyaltyPoller(
			loyaltyClient, creds, shared, cfg.StreamlabsChannel, cfg.LoyaltyPreferStored, cfg.LoyaltyInterval,
		)
		go loyalty.Start(ctx)
		slog.Info("loyalty poller started", "channel", cfg.StreamlabsChannel, "interval", cfg.LoyaltyInterval)
	}

	maintenance := application.NewMaintenanceTask(metrics, sqliteadapter.NewBackup(db, nil), cfg.BackupDir, cfg.MetricsInterval)
	go maintenance.Start(ctx)

	// 8. HTTP API.
	apiHandler := httphandler.NewHandler(links, metrics, db.Reader, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("streamlink started")

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Drain HTTP, cancel pending device flows, then a final report and backup.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	links.Shutdown()
	maintenance.RunOnce(shutdownCtx)

	slog.Info("shutdown complete")
	return nil
}

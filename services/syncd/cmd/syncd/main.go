package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"pairsync/pkg/bus"
	"pairsync/pkg/db"
	"pairsync/pkg/feed"
	"pairsync/pkg/notify"
	"pairsync/pkg/pairing"
	"pairsync/pkg/presence"
	gos3 "pairsync/pkg/s3"
	"pairsync/pkg/session"
	"pairsync/pkg/telemetry"
	"pairsync/services/syncd/internal/api"
	"pairsync/services/syncd/internal/archive"
	"pairsync/services/syncd/internal/config"
)

const serviceName = "syncd"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "syncd",
		Short:         "Paired-session synchronization service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the syncd HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()

			return db.Migrate(ctx, pool)
		},
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	b, err := bus.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer b.Close()

	if err := b.EnsureStreams(ctx); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	f, err := feed.NewNATS(b)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}

	notifier, err := notify.NewBus(b)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	var archiver session.Archiver
	var history api.HistoryProvider
	if cfg.ArchiveBucket != "" {
		s3Client, err := gos3.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		s3Archiver, err := archive.NewS3(s3Client, cfg.ArchiveBucket)
		if err != nil {
			return fmt.Errorf("create archiver: %w", err)
		}
		archiver, history = s3Archiver, s3Archiver
	}

	pairingStore, err := pairing.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("create pairing store: %w", err)
	}
	sessionStore, err := session.NewPostgresStore(pool)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	engine, err := session.NewEngine(sessionStore, session.ResolverFunc(pairingStore.Get), f, session.Options{
		Notifier:      notifier,
		Archiver:      archiver,
		Logger:        logger,
		MaxStateBytes: cfg.MaxStateBytes,
		Timeout:       cfg.StoreTimeout(),
	})
	if err != nil {
		return fmt.Errorf("create session engine: %w", err)
	}

	pairings, err := pairing.NewService(pairingStore, engine, logger)
	if err != nil {
		return fmt.Errorf("create pairing service: %w", err)
	}

	tracker := presence.NewTracker(cfg.PresenceTTL(), f.PublishPresence, logger)

	a, err := api.New(pairings, engine, tracker, f, history, logger)
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}

	go expireInvites(ctx, pairings, cfg.InviteTTL(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", a.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: middleware(mux),
	}

	errCh := make(chan error, 1)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO http listening on %s", server.Addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// expireInvites sweeps pending invites past their TTL once an hour.
func expireInvites(ctx context.Context, pairings *pairing.Service, ttl time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pairings.ExpirePending(ctx, ttl); err != nil {
				logger.Printf("ERROR expire pending invites: %v", err)
			}
		}
	}
}

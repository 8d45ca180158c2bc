package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/flagship-webdemo/internal/config"
	"github.com/TimurManjosov/flagship-webdemo/internal/flags"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
	"github.com/TimurManjosov/flagship-webdemo/internal/web"
)

// listen opens the shared listener; tests replace it.
var listen = net.Listen

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the demo site",
	Long: `Serve the demo site and its flag API.

The flag client is created once, before any worker starts. Each worker then
restarts the client's update channel and serves the shared listener until
SIGINT or SIGTERM.

Examples:
  flagdemo serve
  flagdemo serve --addr :8000 --workers 4 --metrics-addr ""`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, logger)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "HTTP bind address")
	f.String("metrics-addr", "", "Metrics bind address")
	f.Int("workers", 0, "Number of serving workers")
	f.Int("rate-limit", 0, "Requests per minute per IP on /api")
	bindFlags(f, map[string]string{
		"addr":         "APP_HTTP_ADDR",
		"metrics-addr": "METRICS_ADDR",
		"workers":      "WORKERS",
		"rate-limit":   "RATE_LIMIT_PER_IP",
	})
	rootCmd.AddCommand(serveCmd)
}

// runServe serves until ctx is done or a server fails. Configuration errors
// are returned before anything listens.
func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.InsecureSecret() {
		logger.Warn().Msg("SECRET_KEY is unset or the development default; set it in production")
	}
	telemetry.Init()

	manager := flags.NewManager(
		flags.SDKFactory(cfg.SDKConfig(logger.With().Str("component", "sdk").Logger())),
		flags.WithLogger(logger),
		flags.WithShutdownTimeout(cfg.ShutdownTimeout),
		flags.WithWorkers(),
	)
	handle, err := manager.Initialize(cfg.SDKKey)
	if err != nil {
		return err
	}
	// Shutdown logs its own failures.
	defer func() { _ = manager.Shutdown(handle) }()

	raw, err := listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	ln := &sharedListener{Listener: raw}

	site := web.NewServer(handle, web.Options{
		BannerFlagKey:  cfg.BannerFlagKey,
		RateLimitPerIP: cfg.RateLimitPerIP,
		Logger:         logger,
	})
	srv := &http.Server{
		Handler:           site.Router(),
		ReadHeaderTimeout: 3 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           telemetry.Handler(),
			ReadHeaderTimeout: 3 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for worker := 1; worker <= cfg.Workers; worker++ {
		g.Go(func() error {
			// a failed restart is logged by the manager; the worker serves cached values
			_ = manager.OnWorkerStart(worker)
			logger.Info().Int("worker", worker).Str("addr", ln.Addr().String()).Msg("worker serving")
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
			return nil
		})
	}
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(ctxShut)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctxShut)
		}
		return err
	})

	err = g.Wait()
	logger.Info().Msg("stopped")
	return err
}

// sharedListener is served by every worker. http.Server.Shutdown closes it once
// per Serve call; only the first Close reaches the socket.
type sharedListener struct {
	net.Listener
	once sync.Once
	err  error
}

func (l *sharedListener) Close() error {
	l.once.Do(func() { l.err = l.Listener.Close() })
	return l.err
}

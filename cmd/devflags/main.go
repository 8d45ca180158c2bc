// Command devflags runs the local flag service the web demo's SDK talks to.
//
//	devflags          serve flags (configured through the environment)
//	devflags genkey   print a new SDK key and its bcrypt hash
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TimurManjosov/flagship-webdemo/internal/auth"
	"github.com/TimurManjosov/flagship-webdemo/internal/config"
	"github.com/TimurManjosov/flagship-webdemo/internal/devserver"
	"github.com/TimurManjosov/flagship-webdemo/internal/logging"
	"github.com/TimurManjosov/flagship-webdemo/internal/store"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "genkey" {
		if err := genKey(os.Stdout, auth.BCryptCost); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadDevServer()
	if err != nil {
		bootLog := logging.New("info", logging.FormatConsole, nil)
		bootLog.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, nil).With().Str("app", "devflags").Logger()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, store.Options{
		Type:     cfg.StoreType,
		FlagFile: cfg.FlagFile,
		DSN:      cfg.DatabaseDSN,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("store")
	}
	defer st.Close()

	if m, ok := st.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	dev := devserver.NewServer(st, cfg.Env, cfg.SDKKey, cfg.RolloutSalt,
		devserver.WithLogger(logger),
		devserver.WithHeartbeat(cfg.Heartbeat),
		devserver.WithHashedKeys(cfg.KeyHashes...),
	)
	// initial snapshot
	if err := dev.RebuildSnapshot(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load flags")
	}
	if err := dev.Watch(ctx); err != nil {
		logger.Fatal().Err(err).Msg("watch flags")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           dev.Router(),
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      0, // SSE
		IdleTimeout:       60 * time.Second,
		// streams end when the signal context is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreType).Str("env", cfg.Env).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
			stop()
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 3 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	// graceful shutdown
	<-ctx.Done()
	ctxShut, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctxShut)
	}
	logger.Info().Msg("stopped")
}

// genKey prints a new SDK key and the bcrypt hash to list in SDK_KEY_HASHES.
func genKey(w io.Writer, cost int) error {
	key, err := auth.GenerateSDKKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashSDKKey(key, cost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "SDK key:   %s\nbcrypt:    %s\n", key, hash)
	return err
}

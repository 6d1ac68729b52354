// Command aosim-gateway serves a ledger over HTTP for WeaveDrive remote
// sources and exposes its metrics.
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

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/aosim/internal/gateway"
	"github.com/roach88/aosim/internal/metrics"
	"github.com/roach88/aosim/internal/store"
)

const envPrefix = "AOSIM_GATEWAY"

func main() {
	if err := run(); err != nil {
		slog.Error("main: exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; the environment wins over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	var cfg struct {
		Ledger struct {
			Database string `conf:"default:aosim.db"`
		}
		Server struct {
			ListenAddress   string        `conf:"default:0.0.0.0:8734"`
			ReadTimeout     time.Duration `conf:"default:15s"`
			WriteTimeout    time.Duration `conf:"default:60s"`
			ShutdownTimeout time.Duration `conf:"default:10s"`
		}
		Metrics struct {
			Namespace string `conf:"default:aosim_gateway"`
		}
		Log struct {
			Debug bool `conf:"default:false"`
		}
	}

	help, err := conf.Parse(envPrefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Log.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	logger.Info("main: config", "config", "\n"+out)

	st, err := store.Open(cfg.Ledger.Database)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Metrics.Namespace, reg)

	srv := &http.Server{
		Addr: cfg.Server.ListenAddress,
		Handler: gateway.New(st,
			gateway.WithLogger(logger),
			gateway.WithMetrics(m),
			gateway.WithGatherer(reg),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverError := make(chan error, 1)
	go func() {
		logger.Info("main: gateway listening", "addr", cfg.Server.ListenAddress, "db", cfg.Ledger.Database)
		serverError <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverError:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving gateway: %w", err)
	case sig := <-shutdown:
		logger.Info("main: received shutdown signal", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		logger.Info("main: gateway stopped")
		return nil
	}
}

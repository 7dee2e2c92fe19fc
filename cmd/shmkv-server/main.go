// Command shmkv-server is the server process: it owns the shared-memory
// mailbox and the hash table, and drains requests through a worker pool
// sized to match the ring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/shmkv/internal/config"
	"github.com/adred-codev/shmkv/internal/dispatch"
	"github.com/adred-codev/shmkv/internal/hashtable"
	"github.com/adred-codev/shmkv/internal/kvclient"
	"github.com/adred-codev/shmkv/internal/logging"
	"github.com/adred-codev/shmkv/internal/mailbox"
	"github.com/adred-codev/shmkv/internal/metrics"
	"github.com/adred-codev/shmkv/internal/resource"
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadServer(&bootstrap)
	if err != nil {
		bootstrap.Error().Err(err).Msg("failed to load server configuration")
		return 1
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty}, "shmkv-server")

	if cfg.RingSlots != mailbox.Slots {
		logger.Warn().
			Int("configured_ring_slots", cfg.RingSlots).
			Int("compiled_ring_slots", mailbox.Slots).
			Msg("SHMKV_RING_SLOTS does not match the compiled ring capacity; the wire layout is fixed at build time and the configured value is ignored")
	}

	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting")

	initialCapacity, resizable, err := parseCapacityArg(os.Args)
	if err != nil {
		logger.Error().Err(err).Msg("invalid CLI argument")
		return 1
	}

	mbox, err := mailbox.CreateShared(cfg.ShmName)
	if err != nil {
		logger.Error().Err(err).Str("shm_name", cfg.ShmName).Msg("failed to create shared mailbox")
		return 1
	}
	defer func() {
		if err := mbox.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to destroy mailbox on shutdown")
		}
	}()

	table := hashtable.New(initialCapacity, resizable)

	var reg *metrics.Registry
	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		reg = metrics.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
	}

	resourceInterval, err := time.ParseDuration(cfg.ResourceLogFreq)
	if err != nil {
		logger.Warn().Err(err).Str("value", cfg.ResourceLogFreq).Msg("invalid resource log interval, defaulting to 30s")
		resourceInterval = 30 * time.Second
	}
	resMonitor := resource.NewMonitor(logger, resourceInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go resMonitor.Run(ctx)

	pool := dispatch.New(mbox, table, reg, logger)

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	logger.Info().
		Int("initial_capacity", initialCapacity).
		Bool("resizable", resizable).
		Int("ring_slots", mailbox.Slots).
		Str("shm_name", cfg.ShmName).
		Msg("server ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received, draining workers")
	cancel()

	drainExitWorkers(mbox, logger)

	select {
	case <-poolDone:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("worker pool did not drain within timeout")
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("shutdown complete")
	return 0
}

// drainExitWorkers pushes one EXIT request per ring slot so every worker
// drains and returns, as part of the server's shutdown sequence.
func drainExitWorkers(mbox *mailbox.Mailbox, logger zerolog.Logger) {
	c := kvclient.New(mbox)
	ctx := context.Background()
	for i := 0; i < mailbox.Slots; i++ {
		if err := c.Exit(ctx); err != nil {
			logger.Warn().Err(err).Int("worker", i).Msg("failed to push EXIT request")
		}
	}
}

// parseCapacityArg implements the CLI contract: one positional
// argument, decimal initial capacity, or 0 for default-capacity
// resizable mode.
func parseCapacityArg(args []string) (capacity int, resizable bool, err error) {
	if len(args) < 2 {
		return hashtable.MinCapacity, true, nil
	}

	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, false, fmt.Errorf("initial capacity must be a decimal integer, got %q: %w", args[1], err)
	}
	if n == 0 {
		return hashtable.MinCapacity, true, nil
	}
	if n < hashtable.MinCapacity {
		return 0, false, fmt.Errorf("initial capacity must be >= %d or 0, got %d", hashtable.MinCapacity, n)
	}
	return n, false, nil
}

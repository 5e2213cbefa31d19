package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/yombcpu/internal/bridge"
	"codeberg.org/mutker/yombcpu/internal/config"
	"codeberg.org/mutker/yombcpu/internal/cpu"
	"codeberg.org/mutker/yombcpu/internal/errors"
	"codeberg.org/mutker/yombcpu/internal/link"
	"codeberg.org/mutker/yombcpu/internal/logger"
	"codeberg.org/mutker/yombcpu/internal/metrics"
	"codeberg.org/mutker/yombcpu/internal/monitor"
	"codeberg.org/mutker/yombcpu/internal/pid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger.Init(cfg.Level(), logger.IsService())
	logger.Debug().Msg("Config loaded")

	pidFile := pid.New(cfg.PIDDir)
	if err := pidFile.Write(); err != nil {
		logger.Error().Err(err).Str("path", pidFile.Path()).Msg("Failed to write PID file")
		return 1
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	log := logger.Default()

	collector, err := metrics.NewService(metrics.Config{
		DBPath:       cfg.MetricsDB,
		Enabled:      cfg.Metrics,
		BatchSize:    cfg.MetricsBatchSize,
		BatchTimeout: cfg.MetricsBatchTimeout,
	}, log.With("metrics"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize metrics")
		return 1
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close metrics")
		}
	}()

	mon := monitor.New(
		monitor.Command{On: cfg.PowerOnCommand, Off: cfg.PowerOffCommand},
		monitor.Options{Interval: cfg.MonitorInterval, TransitionOnly: cfg.TransitionOnly},
		log.With("monitor"),
	)
	cycle := bridge.New(cpu.NewSampler(cpu.Host{}), cpu.Host{}, mon, collector, log.With("bridge"))
	manager := link.New(link.Options{
		Path:              cfg.Port,
		Baud:              cfg.Baud,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, link.OpenSerial, cycle, log.With("link"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, manager, cancel)

	if err := loop(ctx, cfg, manager, mon); err != nil {
		logger.Error().Err(err).Msg("Error in main loop")
		return 1
	}

	logger.Info().Msg("Exiting...")
	return 0
}

// loop runs the link and, when enabled, the display power tick until the
// link terminates.
func loop(ctx context.Context, cfg *config.Config, manager *link.Manager, mon *monitor.Monitor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The tick loop has nothing to do once the link is gone
		defer cancel()
		if err := manager.Run(gctx); err != nil {
			return errors.New().Wrap(errors.ErrMainLoop, err)
		}
		return nil
	})

	if cfg.Monitor {
		logger.Info().Dur("interval", cfg.MonitorInterval).Msg("Display power control enabled")
		g.Go(func() error {
			return mon.Run(gctx)
		})
	}

	return g.Wait()
}

func handleSignals(ctx context.Context, manager *link.Manager, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("Received termination signal, shutting down")
		manager.Terminate()
		cancel()
	case <-ctx.Done():
	}
}

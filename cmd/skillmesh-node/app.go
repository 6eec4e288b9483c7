package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/config"
	"github.com/rohitg00/skillmesh/pkg/node"
	"github.com/rohitg00/skillmesh/pkg/observability"
)

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("skillmesh-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	n, err := node.New(cfg)
	if err != nil {
		zap.L().Error("failed to build node", zap.Error(err))
		return 1
	}
	if err := n.Start(); err != nil {
		zap.L().Error("failed to start node", zap.Error(err))
		return 1
	}

	// Run an initial discovery pass in the background so the peer cache is
	// warm before the first send.
	go func() {
		found, err := n.Discover(context.Background(), node.StrategyAuto)
		if err != nil {
			zap.L().Warn("initial discovery pass failed", zap.Error(err))
			return
		}
		zap.L().Info("initial discovery pass complete", zap.Int("peers", len(found)))
	}()

	zap.L().Info("node is running; press Ctrl+C to exit")
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	zap.L().Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Stop(ctx); err != nil {
		zap.L().Error("shutdown error", zap.Error(err))
		return 1
	}
	return 0
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shardline/sharddb/internal/adminserver"
	"github.com/shardline/sharddb/pkg/shard"
	"github.com/shardline/sharddb/pkg/shardconfig"
	"github.com/shardline/sharddb/pkg/shardlog"
	"go.uber.org/zap"
)

func main() {
	logger, err := shardlog.New(shardlog.Config{
		Level:  shardlog.Level(getenv("LOG_LEVEL", string(shardlog.LevelInfo))),
		Format: shardlog.Format(getenv("LOG_FORMAT", string(shardlog.FormatJSON))),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	memCfg, err := shardconfig.LoadMemoryConfig(getenv("MEMORY_CONFIG_PATH", "configs/memory_config.yaml"))
	if err != nil {
		logger.Fatal("failed to load memory config", zap.Error(err))
	}

	ip := getenv("SHARD_IP", "127.0.0.1")
	port := mustGetenv(logger, "SHARD_PORT")
	mountPath := getenv("DATA_MOUNT_PATH", "/var/lib/postgresql/data")

	s, err := shard.New(logger, ip, port, memCfg.UnavailableMemoryPerc, mountPath)
	if err != nil {
		logger.Fatal("failed to start shard", zap.Error(err))
	}

	controlPort, err := shardconfig.ControlPort(port)
	if err != nil {
		logger.Fatal("invalid shard port", zap.Error(err))
	}

	go func() {
		if err := s.Listen(ip, controlPort); err != nil {
			logger.Fatal("shard listener failed", zap.Error(err))
		}
	}()

	// Optional periodic self-refresh, independent of router-driven
	// ASK_MEMORY_UPDATE requests, so available_pct does not go stale
	// between queries on an otherwise idle shard.
	scheduler := cron.New(cron.WithSeconds())
	if spec := os.Getenv("SHARD_REFRESH_CRON"); spec != "" {
		if _, err := scheduler.AddFunc(spec, func() {
			s.Refresh()
		}); err != nil {
			logger.Warn("invalid SHARD_REFRESH_CRON, periodic refresh disabled", zap.Error(err))
		} else {
			scheduler.Start()
			defer scheduler.Stop()
		}
	}

	admin := adminserver.New(logger, getenv("ADMIN_ADDR", ":9100"), nil)
	admin.StartAsync()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := admin.Shutdown(ctx); err != nil {
		logger.Error("admin server shutdown error", zap.Error(err))
	}
	if err := s.Close(); err != nil {
		logger.Error("shard shutdown error", zap.Error(err))
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustGetenv(logger *zap.Logger, key string) string {
	v := os.Getenv(key)
	if v == "" {
		logger.Fatal("missing required environment variable", zap.String("key", key))
	}
	return v
}

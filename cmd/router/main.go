package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shardline/sharddb/internal/adminserver"
	"github.com/shardline/sharddb/pkg/protocol"
	"github.com/shardline/sharddb/pkg/shardconfig"
	"github.com/shardline/sharddb/pkg/shardlog"
	"github.com/shardline/sharddb/pkg/shardrouter"
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

	nodesCfg, err := shardconfig.LoadNodesConfig(getenv("NODES_CONFIG_PATH", "configs/nodes_config.yaml"))
	if err != nil {
		logger.Fatal("failed to load nodes config", zap.Error(err))
	}

	self := protocol.NodeAddress{
		IP:   getenv("ROUTER_IP", "127.0.0.1"),
		Port: mustGetenv(logger, "ROUTER_PORT"),
	}

	r := shardrouter.New(logger, self)
	r.Connect(nodesCfg.Nodes)

	controlPort, err := shardconfig.ControlPort(self.Port)
	if err != nil {
		logger.Fatal("invalid router port", zap.Error(err))
	}

	go func() {
		if err := r.Listen(self.IP, controlPort); err != nil {
			logger.Fatal("router listener failed", zap.Error(err))
		}
	}()

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
	if err := r.Close(); err != nil {
		logger.Error("router shutdown error", zap.Error(err))
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

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/shardline/sharddb/pkg/protocol"
	"github.com/shardline/sharddb/pkg/shardclient"
	"github.com/shardline/sharddb/pkg/shardconfig"
	"github.com/shardline/sharddb/pkg/shardlog"
	"go.uber.org/zap"
)

func main() {
	logger, err := shardlog.New(shardlog.Config{
		Level:  shardlog.Level(getenv("LOG_LEVEL", string(shardlog.LevelInfo))),
		Format: shardlog.Format(getenv("LOG_FORMAT", string(shardlog.FormatConsole))),
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
		IP:   getenv("CLIENT_IP", "127.0.0.1"),
		Port: getenv("CLIENT_PORT", "0"),
	}

	client, err := shardclient.Discover(logger, self, nodesCfg.Nodes)
	if err != nil {
		logger.Fatal("failed to discover router", zap.Error(err))
	}
	defer client.Close()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("sql> ")
	for scanner.Scan() {
		sql := strings.TrimSpace(scanner.Text())
		if sql == "" {
			fmt.Print("sql> ")
			continue
		}
		if sql == "exit" || sql == "quit" {
			return
		}

		text, err := client.Query(sql)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else {
			fmt.Println(text)
		}
		fmt.Print("sql> ")
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

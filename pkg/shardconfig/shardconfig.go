// Package shardconfig loads the two YAML configuration files spec §6
// defines: the node list every role reads to discover each other, and
// the memory-reservation threshold shards use.
package shardconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Node is one entry in nodes_config.yaml.
type Node struct {
	IP   string `yaml:"ip"`
	Port string `yaml:"port"`
	Name string `yaml:"name"`
}

// NodesConfig is the root of nodes_config.yaml.
type NodesConfig struct {
	Nodes []Node `yaml:"nodes"`
}

// MemoryConfig is the root of memory_config.yaml.
type MemoryConfig struct {
	UnavailableMemoryPerc float64 `yaml:"unavailable_memory_perc"`
}

// LoadNodesConfig reads and parses nodes_config.yaml at path.
func LoadNodesConfig(path string) (*NodesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shardconfig: read %s: %w", path, err)
	}

	var cfg NodesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("shardconfig: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadMemoryConfig reads and parses memory_config.yaml at path.
func LoadMemoryConfig(path string) (*MemoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shardconfig: read %s: %w", path, err)
	}

	var cfg MemoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("shardconfig: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ControlPort is the side-channel control port for a SQL data port:
// always data_port + 1000 (spec §3, §4.1).
func ControlPort(dataPort string) (string, error) {
	n, err := parsePort(dataPort)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n+1000), nil
}

func parsePort(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("shardconfig: invalid port %q: %w", s, err)
	}
	return n, nil
}

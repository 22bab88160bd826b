package shardconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadNodesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes_config.yaml")
	content := `
nodes:
  - { ip: "127.0.0.1", port: "5433", name: "s1" }
  - { ip: "127.0.0.1", port: "5434", name: "s2" }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadNodesConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Nodes, 2)
	require.Equal(t, "5433", cfg.Nodes[0].Port)
	require.Equal(t, "s2", cfg.Nodes[1].Name)
}

func TestLoadMemoryConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unavailable_memory_perc: 10.0\n"), 0o644))

	cfg, err := LoadMemoryConfig(path)
	require.NoError(t, err)
	require.Equal(t, 10.0, cfg.UnavailableMemoryPerc)
}

func TestLoadNodesConfigMissingFile(t *testing.T) {
	_, err := LoadNodesConfig("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestControlPort(t *testing.T) {
	p, err := ControlPort("5433")
	require.NoError(t, err)
	require.Equal(t, "6433", p)

	_, err = ControlPort("not-a-port")
	require.Error(t, err)
}

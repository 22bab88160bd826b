package shardmanager

import (
	"testing"

	"github.com/shardline/sharddb/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func TestPeekEmpty(t *testing.T) {
	m := New()
	_, ok := m.Peek()
	require.False(t, ok)
}

func TestPeekReturnsMax(t *testing.T) {
	m := New()
	m.AddShard(50, "s1")
	m.AddShard(90, "s2")
	m.AddShard(10, "s3")

	id, ok := m.Peek()
	require.True(t, ok)
	require.Equal(t, "s2", id)
}

func TestPeekTieBrokenByInsertionOrder(t *testing.T) {
	m := New()
	m.AddShard(50, "first")
	m.AddShard(50, "second")

	id, ok := m.Peek()
	require.True(t, ok)
	require.Equal(t, "first", id)
}

func TestUpdateShardMemoryReplaces(t *testing.T) {
	m := New()
	m.AddShard(10, "s1")
	m.AddShard(20, "s2")

	m.UpdateShardMemory(99, "s1")

	id, ok := m.Peek()
	require.True(t, ok)
	require.Equal(t, "s1", id)
}

func TestUpdateShardMemoryActsAsAddWhenAbsent(t *testing.T) {
	m := New()
	m.UpdateShardMemory(5, "only")

	id, ok := m.Peek()
	require.True(t, ok)
	require.Equal(t, "only", id)
}

func TestInvariantAfterRandomSequence(t *testing.T) {
	m := New()
	ops := []struct {
		shard string
		pct   float64
	}{
		{"a", 10}, {"b", 90}, {"c", 30}, {"a", 95}, {"b", 1}, {"d", 50},
	}
	for _, op := range ops {
		m.UpdateShardMemory(op.pct, op.shard)
	}

	id, ok := m.Peek()
	require.True(t, ok)
	require.Equal(t, "a", id) // last update gave a=95, the current max
}

func TestMaxIdsRoundTrip(t *testing.T) {
	m := New()
	info := protocol.NewTablesIdInfo()
	info.Set("employees", 3)
	m.SaveMaxIdsForShard("s1", info)

	v, ok := m.GetMaxIdsForShardTable("s1", "employees")
	require.True(t, ok)
	require.Equal(t, int64(3), v)

	_, ok = m.GetMaxIdsForShardTable("s1", "departments")
	require.False(t, ok)

	_, ok = m.GetMaxIdsForShardTable("unknown-shard", "employees")
	require.False(t, ok)
}

func TestPeekAcceptingInsertsSkipsExhaustedShards(t *testing.T) {
	m := New()
	m.AddShard(90, "full")
	m.UpdateShardMemory(0, "full")
	m.AddShard(5, "has-room")

	id, ok := m.PeekAcceptingInserts()
	require.True(t, ok)
	require.Equal(t, "has-room", id)
}

func TestPeekAcceptingInsertsFallsBackWhenAllExhausted(t *testing.T) {
	m := New()
	m.AddShard(0, "s1")
	m.AddShard(0, "s2")

	id, ok := m.PeekAcceptingInserts()
	require.True(t, ok)
	require.Equal(t, "s1", id)
}

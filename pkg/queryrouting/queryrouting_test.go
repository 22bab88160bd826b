package queryrouting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Keyword{
		"select * from t":                   KeywordSelect,
		"  INSERT INTO t VALUES (1)":        KeywordInsert,
		"UPDATE t SET x = 1":                KeywordUpdate,
		"delete from t where id = 1":        KeywordDelete,
		"DROP TABLE t":                      KeywordDrop,
		"CREATE TABLE t (id INT)":           KeywordCreate,
		"BEGIN":                             KeywordOther,
		"":                                  KeywordOther,
	}
	for sql, want := range cases {
		assert.Equal(t, want, Classify(sql), "sql=%q", sql)
	}
}

func TestRequiresMemoryUpdate(t *testing.T) {
	assert.True(t, KeywordInsert.RequiresMemoryUpdate())
	assert.True(t, KeywordDelete.RequiresMemoryUpdate())
	assert.True(t, KeywordDrop.RequiresMemoryUpdate())
	assert.True(t, KeywordUpdate.RequiresMemoryUpdate())
	assert.True(t, KeywordCreate.RequiresMemoryUpdate())
	assert.False(t, KeywordSelect.RequiresMemoryUpdate())
	assert.False(t, KeywordOther.RequiresMemoryUpdate())
}

func TestExtractWhereID(t *testing.T) {
	id, ok := ExtractWhereID("SELECT * FROM test_table WHERE id = 7;")
	require.True(t, ok)
	require.Equal(t, int64(7), id)

	id, ok = ExtractWhereID("SELECT * FROM test_table WHERE id=7;")
	require.True(t, ok)
	require.Equal(t, int64(7), id)

	id, ok = ExtractWhereID("   SELECT * FROM t WHERE   id   =   42  ;")
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	_, ok = ExtractWhereID("SELECT * FROM t WHERE id > 7;")
	require.False(t, ok)

	_, ok = ExtractWhereID("SELECT * FROM t WHERE name = 'id = 7'")
	require.False(t, ok)
}

func TestExtractTable(t *testing.T) {
	assert.Equal(t, "test_table", ExtractTable("SELECT * FROM test_table WHERE id = 1;"))
	assert.Equal(t, "test_table", ExtractTable("UPDATE test_table SET x=1"))
	assert.Equal(t, "test_table", ExtractTable("INSERT INTO test_table VALUES (1)"))
	assert.Equal(t, "test_table", ExtractTable("CREATE TABLE test_table (id INT PRIMARY KEY)"))
	assert.Equal(t, "", ExtractTable("BEGIN"))
}

func TestRewriteWhereID(t *testing.T) {
	got := RewriteWhereID("SELECT * FROM test_table WHERE id = 7;", 2)
	assert.Equal(t, "SELECT * FROM test_table WHERE id = 2;", got)
}

package sqlbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderValue(t *testing.T) {
	assert.Equal(t, "", renderValue(nil))
	assert.Equal(t, "hello", renderValue([]byte("hello")))
	assert.Equal(t, "hello", renderValue("hello"))
	assert.Equal(t, "42", renderValue(42))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"test_table"`, quoteIdent("test_table"))
	assert.Equal(t, `"weird""name"`, quoteIdent(`weird"name`))
}

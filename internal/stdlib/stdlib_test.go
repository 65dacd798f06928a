package stdlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/shibukawa/snapsql/internal/dialect"
)

func TestLoadRegistersKnownFunctions(t *testing.T) {
	_, mod := Load()

	_, ok := mod.Names["count"]
	assert.True(t, ok)

	_, ok = mod.Names["row_number"]
	assert.True(t, ok)
}

func TestLoadIsIdempotent(t *testing.T) {
	arena1, mod1 := Load()
	arena2, mod2 := Load()

	assert.Equal(t, arena1, arena2)
	assert.Equal(t, mod1, mod2)
}

func TestResolveFunctionNameGenericFallback(t *testing.T) {
	assert.Equal(t, "AVG", ResolveFunctionName(dialect.Generic, "std.average"))
}

func TestResolveFunctionNameDialectOverride(t *testing.T) {
	assert.Equal(t, "LEN", ResolveFunctionName(dialect.MsSQL, "std.length"))
	assert.Equal(t, "CURRENT_TIMESTAMP", ResolveFunctionName(dialect.SQLite, "std.now"))
}

func TestResolveFunctionNameUnknownFallsBackToUppercase(t *testing.T) {
	assert.Equal(t, "FOOBAR", ResolveFunctionName(dialect.Generic, "std.foobar"))
}

package diagnostic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesLineCol(t *testing.T) {
	src := "from employees\n  | filter age > 100\n"
	span := Span{Start: len("from employees\n  | filter "), End: len("from employees\n  | filter age")}

	err := New("unknown column `age`", &span).WithSource("query.prql", src)

	assert.Equal(t, "query.prql:2:12: unknown column `age`", err.Error())
}

func TestErrorWithCodeAndHints(t *testing.T) {
	err := New("type mismatch", nil).WithCode("E0301").WithHint("try casting with `@int`")

	assert.Equal(t, "[E0301] type mismatch", err.Error())
	assert.Equal(t, []string{"try casting with `@int`"}, err.Reason.Hints)
}

func TestWrapUnwrapsSentinel(t *testing.T) {
	sentinel := errors.New("boom")
	err := Wrap(sentinel, "wrapped", nil)

	assert.True(t, errors.Is(err, sentinel))
}

func TestDisplayRendersCaretUnderSpan(t *testing.T) {
	src := "from employees\n  | filter age > 100\n"
	start := len("from employees\n  | filter ")
	span := Span{Start: start, End: start + 3}

	err := New("unknown column `age`", &span).WithSource("query.prql", src)

	out := err.Display(false)
	assert.Contains(t, out, "  | filter age > 100")
	assert.Contains(t, out, "^")
}

func TestFormatSpan(t *testing.T) {
	assert.Equal(t, "3..9", FormatSpan(Span{Start: 3, End: 9}))
}

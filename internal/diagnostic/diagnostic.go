// Package diagnostic implements the rich structured error type of
// spec.md §6/§7: a span-anchored reason, optional hints, and an optional
// error code, rendered either as plain text or with ANSI color.
//
// Grounded on the teacher's intermediate/error_reporting.go
// (ExecutionError: message + position + source-line + caret rendering)
// for the source-snippet/caret shape, and on
// _examples/original_source/prqlc/prqlc-parser/src/err/error.rs for the
// Reason/hint/code fields spec.md §6/§7 name without giving Go shape to.
package diagnostic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Sentinel errors for spec.md §7's resolution/lowering error catalogue.
// Declared here (rather than in the root package, which internal
// packages cannot import without a cycle) so the packages that actually
// detect these conditions — resolver, srq — can wrap them at the real
// failure site via Wrap. The root package re-exports each one from its
// own errors.go for the public errors.Is API.
var (
	ErrUnknownName         = errors.New("unknown name")
	ErrAmbiguousName       = errors.New("ambiguous name")
	ErrWrongArity          = errors.New("wrong number of arguments")
	ErrUnexpectedNamedArg  = errors.New("unexpected named argument")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrTransformNotAllowed = errors.New("transform not allowed in this context")
	ErrInvalidTakeRange    = errors.New("take range must be a positive integer range")
	ErrSetOpUnsupported    = errors.New("EXCEPT ALL / INTERSECT ALL is unsupported by this dialect and cannot be expressed with an unresolvable wildcard")
	ErrSStringMustSelect   = errors.New("a table s-string must start with SELECT")
)

// Span is a byte-offset range into the compiled source, shared with
// package decl (spec.md §3.2's Span).
type Span struct {
	Start, End int
}

// Reason is one diagnostic's message plus supporting detail: an optional
// error code (e.g. "E0301", following the original's convention),
// zero or more hints, and the span it anchors to.
type Reason struct {
	Message string
	Code    string // empty means no code
	Hints   []string
	Span    *Span // nil means "no specific source location"
}

// Error is the rich diagnostic type returned at package boundaries; it
// wraps an optional underlying sentinel error (for errors.Is checks by
// internal control flow) with rendering-ready detail.
type Error struct {
	Reason Reason
	Source string // full compiled source text, for snippet rendering
	File   string // empty means no named source file
	Err    error  // the wrapped sentinel, if any
}

// New builds an Error with no wrapped sentinel.
func New(message string, span *Span) *Error {
	return &Error{Reason: Reason{Message: message, Span: span}}
}

// Wrap builds an Error around a sentinel error (for errors.Is / errors.Unwrap).
func Wrap(err error, message string, span *Span) *Error {
	return &Error{Reason: Reason{Message: message, Span: span}, Err: err}
}

// WithCode sets the diagnostic's error code and returns the receiver, for
// fluent construction.
func (e *Error) WithCode(code string) *Error {
	e.Reason.Code = code
	return e
}

// WithHint appends a hint and returns the receiver.
func (e *Error) WithHint(hint string) *Error {
	e.Reason.Hints = append(e.Reason.Hints, hint)
	return e
}

// WithSource attaches the full source text (for snippet rendering) and an
// optional file name, returning the receiver.
func (e *Error) WithSource(file, source string) *Error {
	e.File = file
	e.Source = source

	return e
}

// Error implements the error interface with a single-line rendering:
// "file:line:col: [CODE] message".
func (e *Error) Error() string {
	var b strings.Builder

	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(":")
	}

	if e.Reason.Span != nil {
		line, col := lineCol(e.Source, e.Reason.Span.Start)
		fmt.Fprintf(&b, "%d:%d: ", line, col)
	}

	if e.Reason.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Reason.Code)
	}

	b.WriteString(e.Reason.Message)

	return b.String()
}

// Unwrap exposes the wrapped sentinel error, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// Display renders the full multi-line diagnostic: the one-line message,
// a source snippet with a caret under the offending span, and any hints.
// When ansiColor is true, the message/caret/hints are colorized with
// github.com/fatih/color, matching Options.Display == "ansi-color" (§6).
func (e *Error) Display(ansiColor bool) string {
	var b strings.Builder

	headline := e.Error()
	if ansiColor {
		headline = color.New(color.FgRed, color.Bold).Sprint(headline)
	}

	b.WriteString(headline)
	b.WriteString("\n")

	if e.Reason.Span != nil && e.Source != "" {
		b.WriteString(snippet(e.Source, *e.Reason.Span, ansiColor))
	}

	for _, h := range e.Reason.Hints {
		hint := "hint: " + h
		if ansiColor {
			hint = color.New(color.FgCyan).Sprint(hint)
		}

		b.WriteString(hint)
		b.WriteString("\n")
	}

	return b.String()
}

// lineCol converts a byte offset into 1-based line/column numbers.
func lineCol(source string, offset int) (line, col int) {
	line, col = 1, 1

	for i, r := range source {
		if i >= offset {
			break
		}

		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	return line, col
}

// snippet renders the source line containing span.Start, followed by a
// caret line pointing at the span's start column. Grounded on the
// teacher's ExecutionError.DetailedError caret-rendering.
func snippet(source string, span Span, ansiColor bool) string {
	line, col := lineCol(source, span.Start)

	lines := strings.Split(source, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}

	srcLine := lines[line-1]

	caretLine := strings.Repeat(" ", col-1) + "^"
	if ansiColor {
		caretLine = color.New(color.FgYellow, color.Bold).Sprint(caretLine)
	}

	return fmt.Sprintf("%4d | %s\n     | %s\n", line, srcLine, caretLine)
}

// FormatSpan renders a Span as "start..end", matching the original's
// compact span-debug formatting.
func FormatSpan(s Span) string {
	return strconv.Itoa(s.Start) + ".." + strconv.Itoa(s.End)
}

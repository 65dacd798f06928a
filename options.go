package snapsql

// Display selects how diagnostics are rendered (spec.md §6 Options).
type Display string

const (
	DisplayPlain     Display = "plain"
	DisplayAnsiColor Display = "ansi-color"
)

// Options controls one compilation, per spec.md §6's public API.
type Options struct {
	// Target is the dialect spec ("sql.<dialect>" or "sql.any"). A concrete
	// dialect takes precedence over the query header's own `target:`;
	// "sql.any" or empty defers to the header, then to generic.
	Target string

	// Format pretty-prints the generated SQL (keyword-upper / table-lower
	// style, trailing newline) instead of emitting it minimally spaced.
	Format bool

	// SignatureComment appends a trailing "-- Generated by ..." comment
	// line carrying a per-compilation fingerprint.
	SignatureComment bool

	// Display selects plain or ANSI-colored diagnostic rendering.
	Display Display

	// Verbose is carried from the CLI and config; no compilation step
	// reads it and no tracing is emitted.
	Verbose bool
}

// DefaultOptions returns the zero-value-safe baseline: generic dialect,
// unformatted output, no signature comment, plain diagnostics.
func DefaultOptions() Options {
	return Options{Target: "sql.any", Display: DisplayPlain}
}

package snapsql

import (
	"errors"

	"github.com/shibukawa/snapsql/internal/diagnostic"
)

// Query header errors (spec.md §6 "Query header").
var (
	ErrUnknownHeaderField  = errors.New("unknown query header field")
	ErrInvalidTarget       = errors.New("invalid target: must be sql.<dialect> or sql.any")
	ErrIncompatibleVersion = errors.New("query header version is incompatible with this compiler")
)

// Resolution errors (spec.md §7 "Resolution errors"). Re-exported from
// package diagnostic, which declares them so internal/resolver and
// internal/srq can wrap them at the call site that actually detects the
// condition without an import cycle back to this package.
var (
	ErrUnknownName         = diagnostic.ErrUnknownName
	ErrAmbiguousName       = diagnostic.ErrAmbiguousName
	ErrWrongArity          = diagnostic.ErrWrongArity
	ErrUnexpectedNamedArg  = diagnostic.ErrUnexpectedNamedArg
	ErrTypeMismatch        = diagnostic.ErrTypeMismatch
	ErrTransformNotAllowed = diagnostic.ErrTransformNotAllowed
)

// Lowering errors (spec.md §7 "Lowering errors").
var (
	ErrInvalidTakeRange      = diagnostic.ErrInvalidTakeRange
	ErrSetOpUnsupported      = diagnostic.ErrSetOpUnsupported
	ErrLoopWithoutAtomicHead = errors.New("loop requires an atomic pipeline before it")
	ErrSStringMustSelect     = diagnostic.ErrSStringMustSelect
)

// Configuration errors (SPEC_FULL.md §1.1).
var (
	ErrConfigNotFound   = errors.New("config file not found")
	ErrConfigParse      = errors.New("failed to parse config file")
	ErrConfigValidation = errors.New("config validation failed")
)

// Internal bugs (spec.md §7 "Internal bugs"): invariant violations that
// should never surface to a user; reported rather than swallowed.
var ErrInternalBug = errors.New("internal compiler bug (please file an issue)")

// Package version implements the query-header `version:"x.y"`
// compatibility check of spec.md's "Query header" rule: the header's
// version is compared against the compiler's own semantic version,
// major.minor. Grounded on
// _examples/original_source/prqlc/prqlc/src/lib.rs's COMPILER_VERSION
// (a single process-wide parsed semver value compared against at parse
// time), using the major-must-match/minor-must-not-exceed comparison
// the original applies without spec.md spelling out the rule itself.
package version

import (
	"fmt"

	goversion "github.com/aquasecurity/go-version/pkg/version"
)

// Compiler is this compiler's own version, the baseline every query
// header's `version:"x.y"` is checked against.
const Compiler = "0.1"

// Check reports whether a query header's `version:"x.y"` string is
// compatible with the compiler: the major component must match exactly,
// and the header's minor must not exceed the compiler's minor (a query
// written against a newer minor may use syntax this compiler doesn't
// know yet).
func Check(header string) error {
	want, err := goversion.Parse(header)
	if err != nil {
		return fmt.Errorf("invalid version %q in query header: %w", header, err)
	}

	have, err := goversion.Parse(Compiler)
	if err != nil {
		return fmt.Errorf("invalid compiler version %q: %w", Compiler, err)
	}

	wantSeg, haveSeg := want.Segments(), have.Segments()

	if wantSeg[0] != haveSeg[0] {
		return fmt.Errorf("query requires version %s, but compiler is version %s (major mismatch)", header, Compiler)
	}

	if wantSeg[1] > haveSeg[1] {
		return fmt.Errorf("query requires version %s, but compiler is version %s (compiler too old)", header, Compiler)
	}

	return nil
}

// Package errs defines the error-kind taxonomy this module reports against
// (spec section 7) as annotations on top of github.com/grailbio/base/errors,
// following the teacher's own style of tagging errors.E calls with plain
// descriptive strings (see markduplicates/metrics.go) rather than inventing
// a parallel error type hierarchy.
package errs

// Kind labels which of the four error categories spec section 7 describes an
// error belongs to. Kind values are passed as an errors.E() argument, e.g.
// errors.E(errs.InputValidation, "line", lineNo, "bad cM value").
type Kind string

const (
	// InputValidation covers malformed files, incompatible marker ordering,
	// unknown panel identifiers, duplicated ancestry labels, out-of-range
	// parameters, and rows that fail to sum to 1 within tolerance.
	InputValidation Kind = "InputValidation"
	// Compatibility covers reference/target marker-set disjointness, sample
	// ID collisions between reference and target, and panel-count overflow.
	Compatibility Kind = "Compatibility"
	// IO covers read/write failures against the underlying filesystem.
	IO Kind = "IO"
	// Internal covers assertion failures: non-finite lattice values,
	// negative probabilities after a scaled update, and other invariant
	// violations that indicate a bug rather than bad input.
	Internal Kind = "Internal"
)

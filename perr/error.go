/*
Package perr defines the error taxonomy shared by every pipeline stage.

Each sentinel names one of the failure modes the pipeline stages can raise;
callers compare against them with errors.Is after a stage wraps one in a
FamilyError for context, following the genbank package's line-numbered
GenbankSyntaxError.
*/
package perr

import (
	"errors"
	"fmt"
)

var (
	// ErrInputMalformed signals a structural problem in an input record:
	// missing required field or a list whose length disagrees with others.
	ErrInputMalformed = errors.New("input malformed")

	// ErrInconsistentPairing signals a uid with more than one surviving
	// partner after cleaning, or a pid-group invariant violation.
	ErrInconsistentPairing = errors.New("inconsistent pairing")

	// ErrDuplicateUid signals a uid present in more than one cluster, or
	// twice within one cluster.
	ErrDuplicateUid = errors.New("duplicate uid")

	// ErrTreeAnnotationMismatch signals a tree referencing a uid absent
	// from its annotation, or vice versa, beyond tolerance.
	ErrTreeAnnotationMismatch = errors.New("tree and annotation mismatch")

	// ErrUnsupportedMetric signals a caller requesting a metric name not
	// in the known set.
	ErrUnsupportedMetric = errors.New("unsupported metric")

	// ErrNumericDomain signals tau <= 0, a negative edge length, or
	// rescaling an empty tree.
	ErrNumericDomain = errors.New("value outside numeric domain")
)

// FamilyError wraps one of the sentinels above with the family key on which
// it occurred, so a caller processing many families can skip the failing one
// and continue, per the fatal-but-scoped-to-one-family propagation rule.
type FamilyError struct {
	Family string
	Err    error
}

func (e *FamilyError) Error() string {
	return fmt.Sprintf("family %q: %v", e.Family, e.Err)
}

func (e *FamilyError) Unwrap() error {
	return e.Err
}

// Family wraps err with a family key, or returns nil if err is nil.
func Family(family string, err error) error {
	if err == nil {
		return nil
	}
	return &FamilyError{Family: family, Err: err}
}

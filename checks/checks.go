/*
Package checks provides the productivity predicates PairCleaner applies to
real-data sequences before deciding whether to keep them.
*/
package checks

import (
	"github.com/scharch/partis/transform/translate"
)

// IsInFrame reports whether a nucleotide sequence's length is a multiple of
// three, the first check PairCleaner's remove_unproductive performs before
// looking for stop codons.
func IsInFrame(nucSeq string) bool {
	return len(nucSeq)%3 == 0
}

// IsFunctional reports whether a nucleotide sequence is in frame and free of
// in-frame stop codons (the last codon included). PairCleaner drops uids failing this check when
// remove_unproductive is set on real (non-simulated) data (spec.md 4.1).
func IsFunctional(nucSeq string) bool {
	return IsInFrame(nucSeq) && !translate.HasStopCodon(nucSeq, translate.Standard)
}

/*
Package seqhash derives stable cache keys from sequence content.

AnnotationStore's consensus-sequence cache is process-global and write-once
(spec.md 5, 9): the first goroutine to compute a family's consensus wins, and
every later lookup for the same family must hash to the same key regardless
of which caller asks. This is a trimmed fork of poly's seqhash package - the
circular-rotation, double-strand-complement, and fragment/overhang machinery
all exist to give restriction fragments and circular plasmids a canonical
orientation before hashing, a concern that nucleotide and amino-acid
sequences sharing a clonal family never have.

Happy hacking,
Tim
*/
package seqhash

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// SequenceType distinguishes the alphabet a Key is drawn from, so a nucleotide
// and an amino-acid sequence that happen to share bytes never collide.
type SequenceType string

const (
	Nucleotide SequenceType = "N"
	AminoAcid  SequenceType = "A"
)

// Key returns a stable, content-addressed cache key for sequence. Keys are
// case-insensitive: "acgt" and "ACGT" hash identically, since uids carrying
// the same sequence in different cases still name the same clonal member.
func Key(sequence string, sequenceType SequenceType) string {
	upper := strings.ToUpper(sequence)
	sum := blake3.Sum256([]byte(string(sequenceType) + "_" + upper))
	return string(sequenceType) + "_" + hex.EncodeToString(sum[:])
}

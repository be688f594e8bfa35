/*
Package sequence holds the immutable per-uid tuple every other package reads
from: a uid, its chain locus, and its nucleotide sequence, with the derived
amino-acid sequence computed once and cached.
*/
package sequence

import (
	"github.com/scharch/partis/transform/translate"
)

// Locus identifies the chain type a Sequence belongs to.
type Locus string

const (
	Heavy       Locus = "heavy"
	LightKappa  Locus = "light-kappa"
	LightLambda Locus = "light-lambda"
)

// IsLight reports whether loc is either light-chain locus.
func (loc Locus) IsLight() bool {
	return loc == LightKappa || loc == LightLambda
}

// Sequence is an immutable (uid, locus, nuc_seq, aa_seq) tuple. aa_seq is
// derived from nuc_seq but computed lazily and cached on first read, since a
// single family's sequences may be translated many times across pipeline
// stages.
type Sequence struct {
	UID    string
	Locus  Locus
	NucSeq string

	aaSeq     string
	aaSeqDone bool
}

// New constructs a Sequence. The amino-acid sequence is not computed until
// AASeq is first called.
func New(uid string, locus Locus, nucSeq string) Sequence {
	return Sequence{UID: uid, Locus: locus, NucSeq: nucSeq}
}

// AASeq returns the cached amino-acid translation of NucSeq, computing and
// caching it on first call. An empty NucSeq translates to an empty string.
func (s *Sequence) AASeq() string {
	if s.aaSeqDone {
		return s.aaSeq
	}
	s.aaSeqDone = true
	if s.NucSeq == "" {
		return ""
	}
	aa, err := translate.Translate(s.NucSeq, translate.Standard)
	if err != nil {
		return ""
	}
	s.aaSeq = aa
	return s.aaSeq
}

/*
Package annotation holds the per-family bundle (Annotation) and the disjoint
cover of families (Partition) that every pipeline stage reads and rewrites,
plus the process-global, write-once consensus-sequence cache spec.md 5 and 9
call for.
*/
package annotation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/scharch/partis/alphabet"
	"github.com/scharch/partis/perr"
	"github.com/scharch/partis/seqhash"
	"github.com/scharch/partis/sequence"
	"github.com/scharch/partis/transform/translate"
)

// Member is one sequence's record within an Annotation: the aligned
// sequence itself plus every per-seq field spec.md 3 lists.
type Member struct {
	Seq sequence.Sequence

	InputSeq     string // possibly differs from Seq.NucSeq when indels were removed to align
	NMutations   int
	MutFreq      float64
	HasSHMIndel  bool
	PairedUIDs   []string // 0, 1, or >1 candidate opposite-chain partners; >1 is "dirty"
	Multiplicity int      // >= 1

	Affinity *float64
	CellType string
	Meta     map[string]string
}

// UID is a convenience accessor for the member's sequence identifier.
func (m *Member) UID() string { return m.Seq.UID }

// Annotation is a clonal family: an ordered list of Members descending from
// one inferred naive ancestor, plus the family-level derived fields.
type Annotation struct {
	Family     string
	Locus      sequence.Locus
	NaiveSeq   string
	CDR3Length int

	// NaiveSeqName is the label the inferred naive sequence carries in this
	// family's TreeModel, used by SelectionMetrics to find the root when
	// the tree's literal root label doesn't already match it (spec.md 4.3.1).
	// Defaults to "naive" when left empty.
	NaiveSeqName string

	Members []*Member

	naiveSeqAA      string
	naiveSeqAADone  bool
	consensusSeq    string
	consensusSeqAA  string
	consensusDone   bool
}

// Validate checks the invariants spec.md 3 requires of a single Annotation:
// every member's aligned sequence has the same length, and every
// multiplicity is >= 1.
func (a *Annotation) Validate() error {
	if len(a.Members) == 0 {
		return nil
	}
	seqLen := len(a.Members[0].Seq.NucSeq)
	for _, m := range a.Members {
		if len(m.Seq.NucSeq) != seqLen {
			return fmt.Errorf("%w: family %s: member %s has length %d, want %d", perr.ErrInputMalformed, a.Family, m.UID(), len(m.Seq.NucSeq), seqLen)
		}
		if m.Multiplicity < 1 {
			return fmt.Errorf("%w: family %s: member %s has multiplicity %d", perr.ErrInputMalformed, a.Family, m.UID(), m.Multiplicity)
		}
	}
	return nil
}

// NaiveSeqAA returns the cached amino-acid translation of NaiveSeq.
func (a *Annotation) NaiveSeqAA() string {
	if a.naiveSeqAADone {
		return a.naiveSeqAA
	}
	a.naiveSeqAADone = true
	if a.NaiveSeq == "" {
		return ""
	}
	aa, err := translate.Translate(a.NaiveSeq, translate.Standard)
	if err == nil {
		a.naiveSeqAA = aa
	}
	return a.naiveSeqAA
}

// MeanSeqLen returns the mean nucleotide sequence length over the family's
// members, the default divisor SelectionMetrics uses for tau (spec.md 4.3).
func (a *Annotation) MeanSeqLen() float64 {
	if len(a.Members) == 0 {
		return 0
	}
	var sum int
	for _, m := range a.Members {
		sum += len(m.Seq.NucSeq)
	}
	return float64(sum) / float64(len(a.Members))
}

// MemberByUID returns the member with the given uid, or nil.
func (a *Annotation) MemberByUID(uid string) *Member {
	for _, m := range a.Members {
		if m.UID() == uid {
			return m
		}
	}
	return nil
}

// consensusCache is the process-global, write-once cache of per-position
// plurality consensus sequences keyed by content hash, per spec.md 9's
// "global mutable state ... initialize once, then treat as read-only".
var consensusCache sync.Map // seqhash key -> consensus string

// ConsensusSeq returns the per-position plurality consensus over the
// family's aligned nucleotide sequences, computing and caching it on first
// call. Ties are broken by the lexicographically smallest base, so repeated
// computation (from distinct goroutines racing on LoadOrStore) always
// agrees.
func (a *Annotation) ConsensusSeq() string {
	if a.consensusDone {
		return a.consensusSeq
	}
	a.consensusSeq = a.cachedConsensus(seqhash.Nucleotide, func(m *Member) string { return m.Seq.NucSeq })
	a.consensusDone = true
	return a.consensusSeq
}

// ConsensusSeqAA returns the per-position plurality consensus over the
// family's amino-acid sequences.
func (a *Annotation) ConsensusSeqAA() string {
	if a.consensusSeqAA != "" {
		return a.consensusSeqAA
	}
	a.consensusSeqAA = a.cachedConsensus(seqhash.AminoAcid, func(m *Member) string { return m.Seq.AASeq() })
	return a.consensusSeqAA
}

func (a *Annotation) cachedConsensus(kind seqhash.SequenceType, extract func(*Member) string) string {
	seqs := make([]string, 0, len(a.Members))
	for _, m := range a.Members {
		seqs = append(seqs, extract(m))
	}
	key := seqhash.Key(a.Family+"|"+strings.Join(seqs, "|"), kind)
	if v, ok := consensusCache.Load(key); ok {
		return v.(string)
	}
	computed := plurality(seqs)
	actual, _ := consensusCache.LoadOrStore(key, computed)
	return actual.(string)
}

// plurality computes the per-position plurality consensus over seqs, all of
// which are assumed equal length (enforced by Validate for the nucleotide
// case; amino-acid translations of equal-length nucleotide sequences are
// equal length too, since stop codons translate to '*' and unresolvable
// codons to 'X'). A shorter string contributes no vote past its own length.
func plurality(seqs []string) string {
	if len(seqs) == 0 {
		return ""
	}
	maxLen := 0
	for _, s := range seqs {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	var out strings.Builder
	for pos := 0; pos < maxLen; pos++ {
		counts := make(map[byte]int)
		for _, s := range seqs {
			if pos < len(s) {
				counts[s[pos]]++
			}
		}
		out.WriteByte(pluralityByte(counts))
	}
	return out.String()
}

func pluralityByte(counts map[byte]int) byte {
	var bases []byte
	for b := range counts {
		bases = append(bases, b)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	best := byte(alphabet.AmbiguousBase)
	bestCount := -1
	for _, b := range bases {
		if counts[b] > bestCount {
			best, bestCount = b, counts[b]
		}
	}
	return best
}

// Partition is a disjoint cover of uids by clusters (Annotations), with an
// optional seed uid and a history of the partitions it was derived from.
type Partition struct {
	Clusters []*Annotation
	Seed     string
	History  []*Partition
}

// AllUIDs returns every uid across every cluster, in cluster then member
// order.
func (p *Partition) AllUIDs() []string {
	var uids []string
	for _, c := range p.Clusters {
		for _, m := range c.Members {
			uids = append(uids, m.UID())
		}
	}
	return uids
}

// ClusterOf returns the cluster containing uid, or nil.
func (p *Partition) ClusterOf(uid string) *Annotation {
	for _, c := range p.Clusters {
		if c.MemberByUID(uid) != nil {
			return c
		}
	}
	return nil
}

// Validate checks that no uid appears in more than one cluster and no
// cluster repeats a uid, per spec.md 7's DuplicateUid failure mode.
func (p *Partition) Validate() error {
	seen := make(map[string]bool)
	for _, c := range p.Clusters {
		local := make(map[string]bool)
		for _, m := range c.Members {
			uid := m.UID()
			if local[uid] {
				return fmt.Errorf("%w: uid %s repeated within family %s", perr.ErrDuplicateUid, uid, c.Family)
			}
			local[uid] = true
			if seen[uid] {
				return fmt.Errorf("%w: uid %s present in more than one cluster", perr.ErrDuplicateUid, uid)
			}
			seen[uid] = true
		}
	}
	return nil
}

/*
Package selection computes local branching index/ratio/fraction (LBI/LBR/LBF)
and consensus distance on a per-family phylogenetic tree: tree rescaling,
dummy-branch augmentation, up/down exponential-decay message passing, and
nucleotide-to-amino-acid tree conversion, grounded throughout on
original_source/python/treeutils.py's set_lb_values/get_lb_bounds/get_aa_tree.
*/
package selection

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/scharch/partis/align"
	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/perr"
	"github.com/scharch/partis/tree"
)

// defaultNaiveLabel is the node label SelectionMetrics looks for when an
// Annotation doesn't name its own NaiveSeqName.
const defaultNaiveLabel = "naive"

// defaultNTauLengths is the dummy-root edge length in units of tau, per
// spec.md 4.3.2's default.
const defaultNTauLengths = 10.0

// lbiBoundPoint is one entry of the length-to-max-LBI interpolation table
// that must be embedded verbatim to reproduce reference numbers (spec.md 9).
type lbiBoundPoint struct {
	seqLen int
	max    float64
}

var lbiBoundTable = []lbiBoundPoint{
	{300, 0.0219},
	{400, 0.0169},
	{500, 0.0135},
	{600, 0.0119},
	{700, 0.0091},
	{900, 0.0073},
}

// lbMaxBound linearly interpolates the max-LBI bound for seqLen from the two
// table entries closest to it, matching get_lb_bounds's
// sorted-by-abs-difference-then-interpolate approach. Callers are warned via
// w when seqLen falls outside the table's range; the nearest endpoint is
// still returned rather than failing.
func lbMaxBound(seqLen float64, w io.Writer) float64 {
	minLen, maxLen := lbiBoundTable[0].seqLen, lbiBoundTable[0].seqLen
	for _, p := range lbiBoundTable {
		if p.seqLen < minLen {
			minLen = p.seqLen
		}
		if p.seqLen > maxLen {
			maxLen = p.seqLen
		}
	}
	if seqLen < float64(minLen) || seqLen > float64(maxLen) {
		if w != nil {
			fmt.Fprintf(w, "warning: seq len %.0f outside known lb-bound interpolation range [%d, %d]\n", seqLen, minLen, maxLen)
		}
		nearest := lbiBoundTable[0]
		for _, p := range lbiBoundTable {
			if math.Abs(float64(p.seqLen)-seqLen) < math.Abs(float64(nearest.seqLen)-seqLen) {
				nearest = p
			}
		}
		return nearest.max
	}

	sorted := append([]lbiBoundPoint(nil), lbiBoundTable...)
	sort.Slice(sorted, func(i, j int) bool {
		return math.Abs(float64(sorted[i].seqLen)-seqLen) < math.Abs(float64(sorted[j].seqLen)-seqLen)
	})
	p1, p2 := sorted[0], sorted[1]
	if p1.seqLen == p2.seqLen {
		return p1.max
	}
	frac := (seqLen - float64(p1.seqLen)) / float64(p2.seqLen-p1.seqLen)
	return p1.max + frac*(p2.max-p1.max)
}

// DefaultTau returns 1/mean_seq_len(a), the default tau spec.md 4.3 names.
func DefaultTau(a *annotation.Annotation) (float64, error) {
	meanLen := a.MeanSeqLen()
	if meanLen <= 0 {
		return 0, fmt.Errorf("%w: cannot derive default tau from an empty annotation", perr.ErrNumericDomain)
	}
	return 1 / meanLen, nil
}

// Metrics holds every per-node value SelectionMetrics produces for one
// family, keyed by uid. A uid absent from a map means that metric wasn't
// computed for it (e.g. a dummy node, or a node skipped for missing aa data)
// per spec.md 6's "missing metrics are omitted, not null".
type Metrics struct {
	LBI map[string]float64
	LBR map[string]float64
	LBF map[string]float64

	AALBI map[string]float64
	AALBR map[string]float64
	AALBF map[string]float64

	ConsDistAA map[string]float64

	Tree   string
	AATree string

	Warnings []string
}

// Options configures one Compute call.
type Options struct {
	Tau          float64 // <= 0 selects DefaultTau(a)
	NormalizeLBI bool
	NTauLengths  float64 // <= 0 selects defaultNTauLengths
}

// Compute runs the full SelectionMetrics pipeline (spec.md 4.3) on t for
// family a: pre-flight rescale/reroot, dummy-branch augmentation, up/down
// message passing for nucleotide LBI/LBR/LBF, nucleotide-to-amino-acid tree
// conversion and the same message passing on the aa tree, and consensus
// distance. t is mutated in place (rescaled and dummy branches are added and
// removed again before return); pass a clone if the caller needs the
// original edge lengths preserved exactly as a distinct value.
func Compute(t *tree.Tree, a *annotation.Annotation, opts Options) (*Metrics, error) {
	tau := opts.Tau
	if tau <= 0 {
		var err error
		tau, err = DefaultTau(a)
		if err != nil {
			return nil, perr.Family(a.Family, err)
		}
	}
	nTauLengths := opts.NTauLengths
	if nTauLengths <= 0 {
		nTauLengths = defaultNTauLengths
	}

	m := &Metrics{}

	if err := preflight(t, a, m); err != nil {
		return nil, perr.Family(a.Family, err)
	}

	for _, mem := range a.Members {
		if err := t.SetMultiplicity(mem.UID(), mem.Multiplicity); err != nil {
			// uid observed in the annotation but absent from the tree: not
			// fatal here (BadPairFilter/JointMerger already own uid-vs-tree
			// consistency); just skip its multiplicity.
			continue
		}
	}

	t.Nodes[t.Root].Multiplicity = 1 // root's own multiplicity never contributes a nub

	nuc, err := computeOnTree(t, tau, nTauLengths)
	if err != nil {
		return nil, perr.Family(a.Family, err)
	}
	m.LBI, m.LBR, m.LBF = nuc.lbi, nuc.lbr, nuc.lbf
	m.Tree = t.Newick()

	if opts.NormalizeLBI {
		bound := lbMaxBound(a.MeanSeqLen(), nil)
		for uid, v := range m.LBI {
			if bound == tau {
				continue
			}
			m.LBI[uid] = (v - tau) / (bound - tau)
		}
	}

	aaTree, warnings := toAminoAcidTree(t, a)
	m.Warnings = append(m.Warnings, warnings...)
	if aaTree != nil {
		aaNuc, err := computeOnTree(aaTree, tau, nTauLengths)
		if err != nil {
			return nil, perr.Family(a.Family, err)
		}
		m.AALBI, m.AALBR, m.AALBF = aaNuc.lbi, aaNuc.lbr, aaNuc.lbf
		m.AATree = aaTree.Newick()
		if opts.NormalizeLBI {
			bound := lbMaxBound(a.MeanSeqLen(), nil)
			for uid, v := range m.AALBI {
				if bound == tau {
					continue
				}
				m.AALBI[uid] = (v - tau) / (bound - tau)
			}
		}
	}

	m.ConsDistAA = consensusDistanceAA(a)

	return m, nil
}

// preflight applies spec.md 4.3.1: rescale if the tree's max leaf depth
// exceeds 1, and reroot at the annotation's naive label if the tree's root
// doesn't already carry it.
func preflight(t *tree.Tree, a *annotation.Annotation, m *Metrics) error {
	if t.MaxLeafDepth() > 1 {
		meanLen := a.MeanSeqLen()
		if meanLen <= 0 {
			return fmt.Errorf("%w: tree needs rescaling (max leaf depth > 1) but annotation has no sequences to derive a factor from", perr.ErrNumericDomain)
		}
		if err := t.Rescale(1 / meanLen); err != nil {
			return err
		}
	}

	naiveLabel := a.NaiveSeqName
	if naiveLabel == "" {
		naiveLabel = defaultNaiveLabel
	}
	rootLabel := t.Nodes[t.Root].Label
	if rootLabel != naiveLabel {
		if _, ok := t.NodeByLabel(naiveLabel); ok {
			if err := t.Reroot(naiveLabel); err != nil {
				return err
			}
		}
		// otherwise assume t.Root is already the naive node under a
		// different label, per spec.md 4.3.1.
	}

	var disagreements int
	for _, mem := range a.Members {
		id, ok := t.NodeByLabel(mem.UID())
		if !ok {
			continue
		}
		depth := t.Depth(id)
		if depth == 0 {
			continue
		}
		if math.Abs(depth-mem.MutFreq)/depth > 0.25 {
			disagreements++
		}
	}
	if disagreements > 0 {
		m.Warnings = append(m.Warnings, fmt.Sprintf("warning: tree depth and mut_freq disagree by >25%% for %d node(s)", disagreements))
	}
	return nil
}

type passResult struct {
	lbi map[string]float64
	lbr map[string]float64
	lbf map[string]float64
}

// computeOnTree adds dummy branches, runs the up/down message-passing
// recursion (spec.md 4.3.3), derives LBI/LBR/LBF (spec.md 4.3.4), and then
// removes the dummy branches again, leaving t exactly as it was except for
// the multiplicity bookkeeping AddDummyBranches reads (which is read-only).
func computeOnTree(t *tree.Tree, tau, nTauLengths float64) (*passResult, error) {
	dummyLabels, err := t.AddDummyBranches(tau, nTauLengths)
	if err != nil {
		return nil, err
	}
	defer t.RemoveDummyBranches(dummyLabels)

	isDummy := make(map[string]bool, len(dummyLabels))
	for _, l := range dummyLabels {
		isDummy[l] = true
	}

	clock := make(map[tree.NodeID]float64, len(t.Nodes))
	up := make(map[tree.NodeID]float64, len(t.Nodes))
	down := make(map[tree.NodeID]float64, len(t.Nodes))

	t.Postorder(func(id tree.NodeID) {
		n := t.Nodes[id]
		if id == t.Root {
			clock[id] = 0
		} else {
			clock[id] = n.Length
		}
	})

	// Up pass: postorder, children before parents.
	t.Postorder(func(id tree.NodeID) {
		n := t.Nodes[id]
		var childSum float64
		for _, c := range n.Children {
			childSum += up[c]
		}
		bl := clock[id] / tau
		decay := math.Exp(-bl)
		up[id] = decay*childSum + tau*(1-decay)
	})

	down[t.Root] = 0

	// Down pass: preorder, parents before children.
	t.Preorder(func(id tree.NodeID) {
		n := t.Nodes[id]
		for _, c := range n.Children {
			sum := down[id]
			for _, sib := range n.Children {
				if sib != c {
					sum += up[sib]
				}
			}
			cbl := clock[c] / tau
			decay := math.Exp(-cbl)
			down[c] = decay*sum + tau*(1-decay)
		}
	})

	totalLength := t.TotalLength()

	lbi := make(map[string]float64)
	lbr := make(map[string]float64)
	lbf := make(map[string]float64)

	t.Postorder(func(id tree.NodeID) {
		n := t.Nodes[id]
		if isDummy[n.Label] {
			return
		}
		var childUpSum float64
		for _, c := range n.Children {
			childUpSum += up[c]
		}
		lbiVal := down[id] + childUpSum
		var lbrVal float64
		if down[id] > 0 {
			lbrVal = childUpSum / down[id]
		}
		if id == t.Root || t.Nodes[id].Parent == t.Root {
			lbrVal = 0
		}
		var lbfVal float64
		if totalLength > 0 {
			lbfVal = 100 * lbiVal / totalLength
		}
		lbi[n.Label] = lbiVal
		lbr[n.Label] = lbrVal
		lbf[n.Label] = lbfVal
	})

	return &passResult{lbi: lbi, lbr: lbr, lbf: lbf}, nil
}

// cloneTopology deep-copies t's node labels, lengths, and multiplicities
// into a fresh arena, for callers (toAminoAcidTree) that need to rewrite
// edge lengths without disturbing the nucleotide tree.
func cloneTopology(t *tree.Tree) *tree.Tree {
	nt := tree.New()
	mapping := make(map[tree.NodeID]tree.NodeID, len(t.Nodes))
	t.Preorder(func(id tree.NodeID) {
		n := t.Nodes[id]
		parent := tree.NodeID(-1)
		if id != t.Root {
			parent = mapping[n.Parent]
		}
		newID := nt.AddNode(n.Label, n.Length, parent)
		nt.Nodes[newID].Multiplicity = n.Multiplicity
		mapping[id] = newID
	})
	return nt
}

// toAminoAcidTree implements spec.md 4.3.5: rewrite every edge length as the
// aa Hamming distance between its endpoints' amino-acid sequences, leaving
// edges with a missing endpoint sequence at their original (nucleotide)
// length and recording a warning for each.
func toAminoAcidTree(t *tree.Tree, a *annotation.Annotation) (*tree.Tree, []string) {
	aaSeqs := make(map[string]string, len(a.Members))
	for _, mem := range a.Members {
		aaSeqs[mem.UID()] = mem.Seq.AASeq()
	}
	rootLabel := t.Nodes[t.Root].Label
	if _, ok := aaSeqs[rootLabel]; !ok {
		if naiveAA := a.NaiveSeqAA(); naiveAA != "" {
			aaSeqs[rootLabel] = naiveAA
		}
	}

	mutFreqs := make(map[string]float64, len(a.Members))
	for _, mem := range a.Members {
		mutFreqs[mem.UID()] = mem.MutFreq
	}

	nt := cloneTopology(t)
	var warnings []string

	nt.Preorder(func(id tree.NodeID) {
		if id == nt.Root {
			return
		}
		n := &nt.Nodes[id]
		nucLength := n.Length
		parentLabel := nt.Nodes[n.Parent].Label
		childLabel := n.Label

		parentAA, okP := aaSeqs[parentLabel]
		childAA, okC := aaSeqs[childLabel]
		if !okP || !okC || parentAA == "" || childAA == "" || len(parentAA) != len(childAA) {
			warnings = append(warnings, fmt.Sprintf("warning: missing or incompatible amino-acid sequence for edge %s->%s, keeping nucleotide branch length", parentLabel, childLabel))
			return
		}

		n.Length = float64(align.Hamming(parentAA, childAA))

		if mf, ok := mutFreqs[childLabel]; ok && mf > 0 {
			if math.Abs(mf-nucLength)/mf > 0.5 {
				warnings = append(warnings, fmt.Sprintf("warning: nuc branch length %.4f and mut_freq %.4f very different for %s", nucLength, mf, childLabel))
			}
		}
	})

	return nt, warnings
}

// consensusDistanceAA implements spec.md 4.3.6: per-member aa Hamming
// distance to the family's amino-acid consensus, negated so that higher is
// better, matching the other selection metrics' convention.
func consensusDistanceAA(a *annotation.Annotation) map[string]float64 {
	consensus := a.ConsensusSeqAA()
	out := make(map[string]float64, len(a.Members))
	for _, mem := range a.Members {
		aa := mem.Seq.AASeq()
		if len(aa) != len(consensus) || aa == "" {
			continue
		}
		out[mem.UID()] = -float64(align.Hamming(consensus, aa))
	}
	return out
}

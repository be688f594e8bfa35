package selection_test

import (
	"math"
	"testing"

	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/selection"
	"github.com/scharch/partis/sequence"
	"github.com/scharch/partis/tree"
)

func threeNodeLine(tau float64) *tree.Tree {
	tr := tree.New()
	r := tr.AddNode("naive", 0, -1)
	a := tr.AddNode("a", tau, r)
	tr.AddNode("b", tau, a)
	return tr
}

func memberOf(uid, nuc string) *annotation.Member {
	return &annotation.Member{
		Seq:          sequence.New(uid, sequence.Heavy, nuc),
		Multiplicity: 1,
	}
}

// TestLBIThreeNodeLine pins end-to-end scenario E: root "naive" - child "a"
// (edge tau) - leaf "b" (edge tau), all multiplicities 1, checked against the
// closed-form up/down values a 10-tau dummy root produces.
func TestLBIThreeNodeLine(t *testing.T) {
	const tau = 0.01
	tr := threeNodeLine(tau)

	a := &annotation.Annotation{
		Family:       "fam-line",
		NaiveSeqName: "naive",
		Members: []*annotation.Member{
			memberOf("naive", "AAAAAAAAAAAA"),
			memberOf("a", "AAAAAAAAAAAA"),
			memberOf("b", "AAAAAAAAAAAA"),
		},
	}

	m, err := selection.Compute(tr, a, selection.Options{Tau: tau})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	decay1 := math.Exp(-1)
	decay10 := math.Exp(-10)

	upB := tau * (1 - decay1)
	upA := tau*(1-decay1) + decay1*upB
	downR := tau * (1 - decay10) // dummy root's up-sum contribution is 0
	downA := tau*(1-decay1) + decay1*downR

	wantLBIa := downA + upB
	wantLBRa := upB / downA

	if got := m.LBI["a"]; math.Abs(got-wantLBIa) > 1e-9 {
		t.Fatalf("LBI(a) = %v, want %v", got, wantLBIa)
	}
	if got := m.LBR["a"]; math.Abs(got-wantLBRa) > 1e-9 {
		t.Fatalf("LBR(a) = %v, want %v", got, wantLBRa)
	}
}

// TestLBRRootAndItsChildrenAreZero pins the convention that the root and its
// direct children always report LBR 0 regardless of subtree shape.
func TestLBRRootAndItsChildrenAreZero(t *testing.T) {
	const tau = 0.01
	tr := threeNodeLine(tau)
	a := &annotation.Annotation{
		Family:       "fam-line",
		NaiveSeqName: "naive",
		Members: []*annotation.Member{
			memberOf("naive", "AAAAAAAAAAAA"),
			memberOf("a", "AAAAAAAAAAAA"),
			memberOf("b", "AAAAAAAAAAAA"),
		},
	}
	m, err := selection.Compute(tr, a, selection.Options{Tau: tau})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := m.LBR["naive"]; got != 0 {
		t.Fatalf("LBR(naive) = %v, want 0", got)
	}
	if got := m.LBR["a"]; got != 0 {
		t.Fatalf("LBR(a) (direct child of root) = %v, want 0", got)
	}
}

// TestComputePropagatesDefaultTauFailure checks that Compute surfaces
// DefaultTau's error (wrapped with the family key) when an explicit tau
// isn't given and the annotation has no members to derive one from.
func TestComputePropagatesDefaultTauFailure(t *testing.T) {
	tr := threeNodeLine(0.01)
	a := &annotation.Annotation{Family: "fam-empty"}
	_, err := selection.Compute(tr, a, selection.Options{})
	if err == nil {
		t.Fatal("expected error when tau must be derived from an empty annotation")
	}
}

func TestDefaultTauUsesMeanSeqLen(t *testing.T) {
	a := &annotation.Annotation{
		Family: "fam-tau",
		Members: []*annotation.Member{
			memberOf("h1", "AAAAAAAAAA"), // length 10
			memberOf("h2", "AAAAAAAAAA"),
		},
	}
	tau, err := selection.DefaultTau(a)
	if err != nil {
		t.Fatalf("DefaultTau: %v", err)
	}
	if want := 1.0 / 10.0; math.Abs(tau-want) > 1e-12 {
		t.Fatalf("DefaultTau = %v, want %v", tau, want)
	}
}

func TestDefaultTauRejectsEmptyAnnotation(t *testing.T) {
	a := &annotation.Annotation{Family: "fam-empty"}
	if _, err := selection.DefaultTau(a); err == nil {
		t.Fatal("expected error for an annotation with no members")
	}
}

// TestComputeRescalesOversizedTree exercises the preflight rescale branch
// (spec.md 4.3.1): a tree whose max leaf depth exceeds 1 nucleotide-sequence
// unit must be rescaled by 1/MeanSeqLen before message passing runs, rather
// than erroring outright.
func TestComputeRescalesOversizedTree(t *testing.T) {
	tr := tree.New()
	r := tr.AddNode("naive", 0, -1)
	tr.AddNode("a", 5, r) // way beyond 1: triggers the rescale branch

	a := &annotation.Annotation{
		Family:       "fam-big",
		NaiveSeqName: "naive",
		Members: []*annotation.Member{
			memberOf("naive", "AAAAAAAAAA"),
			memberOf("a", "AAAAAAAAAA"),
		},
	}
	if _, err := selection.Compute(tr, a, selection.Options{Tau: 0.1}); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := tr.MaxLeafDepth(); got > 1 {
		t.Fatalf("MaxLeafDepth() after preflight rescale = %v, want <= 1", got)
	}
}

// TestAATreeEdgeLengthsBoundedBySeqLen pins property 6: every aa-tree edge's
// length (an amino-acid Hamming distance) can never exceed the number of
// codons in the underlying nucleotide sequence, since that's the largest
// possible Hamming distance between two amino-acid strings of that length.
func TestAATreeEdgeLengthsBoundedBySeqLen(t *testing.T) {
	const tau = 0.01
	tr := threeNodeLine(tau)

	a := &annotation.Annotation{
		Family:       "fam-aa-bound",
		NaiveSeqName: "naive",
		Members: []*annotation.Member{
			memberOf("naive", "GCAGCAGCAGCA"), // AAAA
			memberOf("a", "TGCGCAGCAGCA"),      // CAAA: 1 aa diff
			memberOf("b", "TGCTGCGACGAC"),      // CCDD: 3 aa diff from a
		},
	}

	m, err := selection.Compute(tr, a, selection.Options{Tau: tau})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if m.AATree == "" {
		t.Fatal("expected a non-empty AATree")
	}

	aaTree, err := tree.ParseNewick(m.AATree)
	if err != nil {
		t.Fatalf("ParseNewick(AATree): %v", err)
	}

	const seqLenCodons = 12 / 3
	for _, n := range aaTree.Nodes {
		if n.Parent < 0 {
			continue
		}
		if n.Length > float64(seqLenCodons) {
			t.Fatalf("aa edge length %v for node %q exceeds seq_len/3 = %d", n.Length, n.Label, seqLenCodons)
		}
	}
}

package evaluate_test

import (
	"bytes"
	"testing"

	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/evaluate"
	"github.com/scharch/partis/sequence"
)

func memberNamed(uid string) *annotation.Member {
	return &annotation.Member{Seq: sequence.New(uid, sequence.Heavy, "ACGT"), Multiplicity: 1}
}

func partitionOf(groups ...[]string) *annotation.Partition {
	p := &annotation.Partition{}
	for i, g := range groups {
		var members []*annotation.Member
		for _, uid := range g {
			members = append(members, memberNamed(uid))
		}
		p.Clusters = append(p.Clusters, &annotation.Annotation{Family: string(rune('a' + i)), Members: members})
	}
	return p
}

func TestPurityCompletenessPerfectMatch(t *testing.T) {
	p := partitionOf([]string{"a", "b", "c"}, []string{"d", "e"})
	purity, completeness, err := evaluate.PurityCompleteness(p, p)
	if err != nil {
		t.Fatalf("PurityCompleteness: %v", err)
	}
	if purity != 1 || completeness != 1 {
		t.Fatalf("identical partitions should score 1/1, got %v/%v", purity, completeness)
	}
}

func TestPurityCompletenessOverMerged(t *testing.T) {
	truth := partitionOf([]string{"a", "b"}, []string{"c", "d"})
	inferred := partitionOf([]string{"a", "b", "c", "d"})
	purity, completeness, err := evaluate.PurityCompleteness(inferred, truth)
	if err != nil {
		t.Fatalf("PurityCompleteness: %v", err)
	}
	if completeness != 1 {
		t.Fatalf("merging everything together should have perfect completeness, got %v", completeness)
	}
	if purity >= 1 {
		t.Fatalf("over-merged partition should have imperfect purity, got %v", purity)
	}
}

func TestCorrectlyPairedFraction(t *testing.T) {
	truth := map[string]string{"h1": "l1", "h2": "l2"}
	inferred := map[string]string{"h1": "l1", "h2": "l3"}
	if got := evaluate.CorrectlyPairedFraction(inferred, truth); got != 0.5 {
		t.Fatalf("got %v, want 0.5", got)
	}
}

func TestTabulateMatrices(t *testing.T) {
	m := map[string]evaluate.ConfusionMatrix{
		"igh": {evaluate.Correct: 8, evaluate.Unpaired: 2},
	}
	var buf bytes.Buffer
	if err := evaluate.TabulateMatrices(&buf, m); err != nil {
		t.Fatalf("TabulateMatrices: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty table output")
	}
}

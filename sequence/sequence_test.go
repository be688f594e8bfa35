package sequence_test

import (
	"testing"

	"github.com/scharch/partis/sequence"
)

func TestAASeqCachesTranslation(t *testing.T) {
	s := sequence.New("h1", sequence.Heavy, "ATGGCC")
	if got := s.AASeq(); got != "MA" {
		t.Fatalf("AASeq() = %q, want %q", got, "MA")
	}
	// mutate NucSeq directly (as a test would never do in the pipeline) to
	// confirm the cached value, not a fresh translation, is returned.
	s.NucSeq = "TGA"
	if got := s.AASeq(); got != "MA" {
		t.Fatalf("AASeq() after mutation = %q, want cached %q", got, "MA")
	}
}

func TestAASeqEmpty(t *testing.T) {
	s := sequence.New("h1", sequence.Heavy, "")
	if got := s.AASeq(); got != "" {
		t.Fatalf("AASeq() of empty NucSeq = %q, want empty", got)
	}
}

func TestLocusIsLight(t *testing.T) {
	if sequence.Heavy.IsLight() {
		t.Error("Heavy.IsLight() = true")
	}
	if !sequence.LightKappa.IsLight() || !sequence.LightLambda.IsLight() {
		t.Error("expected both light loci to report IsLight")
	}
}

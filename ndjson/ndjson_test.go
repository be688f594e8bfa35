package ndjson_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/scharch/partis/ndjson"
	"github.com/scharch/partis/selection"
	"github.com/scharch/partis/sequence"
)

func TestRoundTripRecord(t *testing.T) {
	rec := &ndjson.Record{
		UniqueIDs:    []string{"h1", "h2"},
		InputSeqs:    []string{"ACGT", "ACGA"},
		Seqs:         []string{"ACGT", "ACGA"},
		NMutations:   []int{0, 1},
		MutFreqs:     []float64{0, 0.25},
		HasSHMIndels: []bool{false, false},
		PairedUIDs:   [][]string{{"l1"}, nil},
		NaiveSeq:     "ACGT",
		CDR3Length:   4,
	}

	var buf bytes.Buffer
	w := ndjson.NewWriter(&buf)
	if err := w.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	p := ndjson.NewParser(&buf)
	got, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(got.UniqueIDs) != 2 || got.UniqueIDs[1] != "h2" {
		t.Fatalf("got %+v", got)
	}

	if _, err := p.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after one record, got %v", err)
	}
}

func TestToAnnotationRejectsMismatchedLengths(t *testing.T) {
	rec := &ndjson.Record{
		UniqueIDs: []string{"h1", "h2"},
		InputSeqs: []string{"ACGT"}, // wrong length
	}
	if _, err := rec.ToAnnotation("fam", sequence.Heavy); err == nil {
		t.Fatal("expected a validation error for mismatched field lengths")
	}
}

func TestFromMetricsOmitsMissingFields(t *testing.T) {
	m := &selection.Metrics{
		LBI: map[string]float64{"h1": 0.5},
		Tree: "(h1:1);",
	}
	rec := ndjson.FromMetrics("fam1", m)
	sm, ok := rec.Metrics["h1"]
	if !ok || sm.LBI == nil || *sm.LBI != 0.5 {
		t.Fatalf("expected h1's lbi to be set, got %+v", rec.Metrics)
	}
	if sm.LBR != nil {
		t.Fatalf("expected lbr to be omitted (nil) for h1, got %v", *sm.LBR)
	}
}

package chooser_test

import (
	"testing"

	"github.com/scharch/partis/chooser"
)

func TestLoadConfigExpandsAndValidates(t *testing.T) {
	doc := []byte(`
n-families: 3
min-umis: 5
cell-types: [plasmablast]
vars:
  umis:
    sort: high
`)
	scorers := map[string]func(chooser.Candidate) float64{
		"umis": func(c chooser.Candidate) float64 { return float64(c.UMIs) },
	}
	cfg, err := chooser.LoadConfig(doc, scorers)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NFamilies != 3 || cfg.MinUMIs != 5 {
		t.Fatalf("got %+v", cfg)
	}
	if len(cfg.Vars) != 1 || cfg.Vars[0].Direction != "high" {
		t.Fatalf("got vars %+v", cfg.Vars)
	}
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	doc := []byte("n-families: 1\nbogus-key: true\n")
	if _, err := chooser.LoadConfig(doc, nil); err == nil {
		t.Fatal("expected an error for an unrecognized top-level key")
	}
}

func TestLoadConfigRejectsUnregisteredSortVar(t *testing.T) {
	doc := []byte("n-families: 1\nvars:\n  mystery:\n    sort: high\n")
	if _, err := chooser.LoadConfig(doc, map[string]func(chooser.Candidate) float64{}); err == nil {
		t.Fatal("expected an error for a sort var with no registered scorer")
	}
}

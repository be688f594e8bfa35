package translate_test

import (
	"testing"

	"github.com/scharch/partis/transform/translate"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		nuc  string
		want string
	}{
		{"ATGGCC", "MA"},
		{"TGA", "*"},
		{"", ""},
	}
	for _, c := range cases {
		if c.nuc == "" {
			_, err := translate.Translate(c.nuc, translate.Standard)
			if err == nil {
				t.Errorf("Translate(%q) expected error for empty sequence", c.nuc)
			}
			continue
		}
		got, err := translate.Translate(c.nuc, translate.Standard)
		if err != nil {
			t.Fatalf("Translate(%q) unexpected error: %v", c.nuc, err)
		}
		if got != c.want {
			t.Errorf("Translate(%q) = %q, want %q", c.nuc, got, c.want)
		}
	}
}

func TestTranslateDropsTrailingPartialCodon(t *testing.T) {
	got, err := translate.Translate("ATGGC", translate.Standard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "M" {
		t.Errorf("Translate with trailing partial codon = %q, want %q", got, "M")
	}
}

func TestHasStopCodon(t *testing.T) {
	if !translate.HasStopCodon("TGA", translate.Standard) {
		t.Error("expected TGA to be detected as a stop codon")
	}
	if translate.HasStopCodon("ATGGCC", translate.Standard) {
		t.Error("did not expect ATGGCC to contain a stop codon")
	}
}

/*
Package translate converts nucleotide sequences to amino acid sequences using
an NCBI codon table.

Every Annotation sequence carries both a nucleotide seq and a derived amino
acid seq (aa_seq is cached, not recomputed on every read), and the nucleotide
to amino-acid tree conversion rewrites edge lengths in terms of this same
translation. This package is a trimmed fork of poly's codon package: the
codon-optimization half (Optimize, weighted random codon choice, table
training from observed frequencies) has no consumer here, since nothing in
this module designs sequences - it only reads and compares them.

Happy hacking,
Tim
*/
package translate

import (
	"errors"
	"strings"
)

var errEmptyCodonTable = errors.New("empty codon table")
var errEmptySequenceString = errors.New("empty sequence string")

// Codon holds information for a codon triplet in a struct.
type Codon struct {
	Triplet string
}

// AminoAcid holds information for an amino acid and its related codons.
type AminoAcid struct {
	Letter string
	Codons []Codon
}

// Table holds a codon table: which triplets start/stop translation, and the
// codon -> amino acid mapping.
type Table struct {
	StartCodons []string
	StopCodons  []string
	AminoAcids  []AminoAcid

	translation map[string]string // lazily built, codon -> letter
}

// Translate translates a nucleotide sequence to an amino acid sequence,
// reading three nucleotides (one codon) at a time. A trailing partial codon
// (len(sequence) % 3 != 0) is dropped, matching how partis pads nucleotide
// sequences to a multiple of three before translating.
func Translate(sequence string, codonTable *Table) (string, error) {
	if codonTable == nil || (len(codonTable.StartCodons) == 0 && len(codonTable.StopCodons) == 0 && len(codonTable.AminoAcids) == 0) {
		return "", errEmptyCodonTable
	}
	if len(sequence) == 0 {
		return "", errEmptySequenceString
	}

	translationTable := codonTable.translationTable()

	var aminoAcids strings.Builder
	var currentCodon strings.Builder
	for _, letter := range sequence {
		currentCodon.WriteRune(letter)
		if currentCodon.Len() == 3 {
			letter, ok := translationTable[strings.ToUpper(currentCodon.String())]
			if !ok {
				letter = "X" // unresolvable codon (gap or ambiguous base): emit unknown-residue marker rather than fail the whole translation
			}
			aminoAcids.WriteString(letter)
			currentCodon.Reset()
		}
	}
	return aminoAcids.String(), nil
}

// IsStopCodon reports whether triplet (uppercased) is a stop codon in codonTable.
func IsStopCodon(triplet string, codonTable *Table) bool {
	triplet = strings.ToUpper(triplet)
	for _, stop := range codonTable.StopCodons {
		if stop == triplet {
			return true
		}
	}
	return false
}

// HasStopCodon reports whether any in-frame codon of sequence (read from the
// start, three bases at a time, the final codon included) is a stop codon.
// This backs PairCleaner's remove_unproductive check (spec.md 4.1).
func HasStopCodon(sequence string, codonTable *Table) bool {
	var currentCodon strings.Builder
	codons := 0
	for _, letter := range sequence {
		currentCodon.WriteRune(letter)
		if currentCodon.Len() == 3 {
			codons++
			if IsStopCodon(currentCodon.String(), codonTable) {
				return true
			}
			currentCodon.Reset()
		}
	}
	return false
}

func (codonTable *Table) translationTable() map[string]string {
	if codonTable.translation != nil {
		return codonTable.translation
	}
	translationMap := make(map[string]string)
	for _, aminoAcid := range codonTable.AminoAcids {
		for _, codon := range aminoAcid.Codons {
			translationMap[codon.Triplet] = aminoAcid.Letter
		}
	}
	codonTable.translation = translationMap
	return translationMap
}

// generateCodonTable builds a codon Table from NCBI's wprintgc.cgi format:
// a 64-character amino-acid string and a parallel start-codon marker string,
// both ordered by the standard base1/base2/base3 triplet enumeration.
// https://www.ncbi.nlm.nih.gov/Taxonomy/Utils/wprintgc.cgi
func generateCodonTable(aminoAcids, starts string) *Table {
	base1 := "TTTTTTTTTTTTTTTTCCCCCCCCCCCCCCCCAAAAAAAAAAAAAAAAGGGGGGGGGGGGGGGG"
	base2 := "TTTTCCCCAAAAGGGGTTTTCCCCAAAAGGGGTTTTCCCCAAAAGGGGTTTTCCCCAAAAGGGG"
	base3 := "TCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAG"

	aminoAcidMap := make(map[rune][]Codon)
	var startCodons, stopCodons []string
	for i, aminoAcid := range aminoAcids {
		triplet := string([]byte{base1[i], base2[i], base3[i]})
		aminoAcidMap[aminoAcid] = append(aminoAcidMap[aminoAcid], Codon{triplet})
		if starts[i] == 'M' {
			startCodons = append(startCodons, triplet)
		}
		if starts[i] == '*' {
			stopCodons = append(stopCodons, triplet)
		}
	}

	var aminoAcidSlice []AminoAcid
	for letter, codons := range aminoAcidMap {
		aminoAcidSlice = append(aminoAcidSlice, AminoAcid{string(letter), codons})
	}
	return &Table{StartCodons: startCodons, StopCodons: stopCodons, AminoAcids: aminoAcidSlice}
}

// Standard is the NCBI standard genetic code (translation table 1), used for
// human and mouse immunoglobulin loci.
var Standard = generateCodonTable(
	"FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG",
	"---M------**--*----M---------------M----------------------------",
)

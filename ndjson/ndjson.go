/*
Package ndjson reads and writes the newline-delimited JSON bundles spec.md 6
defines for Annotation records and the selection-metric sidecar, following
the streaming NewParser(r, maxLineSize) / (*Parser).Next() shape of
bio/fasta/fasta.go, backed by encoding/json.Decoder instead of a line
scanner since records are JSON objects rather than >-delimited blocks.
*/
package ndjson

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/perr"
	"github.com/scharch/partis/selection"
	"github.com/scharch/partis/sequence"
)

// Record is one clonal family's on-disk bundle, matching spec.md 6's field
// list exactly.
type Record struct {
	Family       string      `json:"family,omitempty"`
	Locus        string      `json:"locus,omitempty"`
	UniqueIDs    []string    `json:"unique_ids"`
	InputSeqs    []string    `json:"input_seqs"`
	Seqs         []string    `json:"seqs"`
	NMutations   []int       `json:"n_mutations"`
	MutFreqs     []float64   `json:"mut_freqs"`
	HasSHMIndels []bool      `json:"has_shm_indels"`
	PairedUIDs   [][]string  `json:"paired_uids"`
	NaiveSeq     string      `json:"naive_seq"`
	NaiveSeqName string      `json:"naive_seq_name,omitempty"`
	CDR3Length   int         `json:"cdr3_length"`
	Affinities   []*float64  `json:"affinities,omitempty"`
	Tree         string      `json:"tree,omitempty"`
}

// Validate checks the structural precondition spec.md 7's InputMalformed
// covers: every per-seq list has the same length as unique_ids.
func (r *Record) Validate() error {
	n := len(r.UniqueIDs)
	for name, length := range map[string]int{
		"input_seqs":     len(r.InputSeqs),
		"seqs":           len(r.Seqs),
		"n_mutations":    len(r.NMutations),
		"mut_freqs":      len(r.MutFreqs),
		"has_shm_indels": len(r.HasSHMIndels),
		"paired_uids":    len(r.PairedUIDs),
	} {
		if length != n {
			return fmt.Errorf("%w: field %s has length %d, want %d (len(unique_ids))", perr.ErrInputMalformed, name, length, n)
		}
	}
	if r.Affinities != nil && len(r.Affinities) != n {
		return fmt.Errorf("%w: field affinities has length %d, want %d", perr.ErrInputMalformed, len(r.Affinities), n)
	}
	return nil
}

// ToAnnotation converts r into an in-memory Annotation for locus, computing
// each Member's derived Sequence from Seqs (the padded/aligned form).
func (r *Record) ToAnnotation(family string, locus sequence.Locus) (*annotation.Annotation, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if family == "" {
		family = r.Family
	}
	if locus == "" && r.Locus != "" {
		locus = sequence.Locus(r.Locus)
	}
	a := &annotation.Annotation{
		Family:       family,
		Locus:        locus,
		NaiveSeq:     r.NaiveSeq,
		NaiveSeqName: r.NaiveSeqName,
		CDR3Length:   r.CDR3Length,
	}
	for i, uid := range r.UniqueIDs {
		m := &annotation.Member{
			Seq:          sequence.New(uid, locus, r.Seqs[i]),
			InputSeq:     r.InputSeqs[i],
			NMutations:   r.NMutations[i],
			MutFreq:      r.MutFreqs[i],
			HasSHMIndel:  r.HasSHMIndels[i],
			PairedUIDs:   r.PairedUIDs[i],
			Multiplicity: 1,
		}
		if r.Affinities != nil {
			m.Affinity = r.Affinities[i]
		}
		a.Members = append(a.Members, m)
	}
	return a, a.Validate()
}

// FromAnnotation converts an in-memory Annotation back into its on-disk
// Record form, the inverse of ToAnnotation (modulo field ordering).
func FromAnnotation(a *annotation.Annotation) *Record {
	r := &Record{
		Family:       a.Family,
		Locus:        string(a.Locus),
		NaiveSeq:     a.NaiveSeq,
		NaiveSeqName: a.NaiveSeqName,
		CDR3Length:   a.CDR3Length,
	}
	anyAffinity := false
	for _, m := range a.Members {
		r.UniqueIDs = append(r.UniqueIDs, m.UID())
		r.InputSeqs = append(r.InputSeqs, m.InputSeq)
		r.Seqs = append(r.Seqs, m.Seq.NucSeq)
		r.NMutations = append(r.NMutations, m.NMutations)
		r.MutFreqs = append(r.MutFreqs, m.MutFreq)
		r.HasSHMIndels = append(r.HasSHMIndels, m.HasSHMIndel)
		r.PairedUIDs = append(r.PairedUIDs, m.PairedUIDs)
		r.Affinities = append(r.Affinities, m.Affinity)
		if m.Affinity != nil {
			anyAffinity = true
		}
	}
	if !anyAffinity {
		r.Affinities = nil
	}
	return r
}

// Parser streams Records out of an ndjson document, one JSON object per
// line.
type Parser struct {
	dec *json.Decoder
}

// NewParser returns a Parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{dec: json.NewDecoder(r)}
}

// Next decodes and returns the next Record, or io.EOF once the document is
// exhausted.
func (p *Parser) Next() (*Record, error) {
	var rec Record
	if err := p.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", perr.ErrInputMalformed, err)
	}
	return &rec, nil
}

// Writer appends Records to an ndjson document, one JSON object per line.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRecord marshals rec as one line of JSON.
func (w *Writer) WriteRecord(rec *Record) error {
	return w.writeLine(rec)
}

// WriteMetrics marshals a selection-metric sidecar record as one line of
// JSON.
func (w *Writer) WriteMetrics(rec *MetricsRecord) error {
	return w.writeLine(rec)
}

func (w *Writer) writeLine(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	_, err = io.WriteString(w.w, "\n")
	return err
}

// SeqMetrics is one uid's selection-metric sidecar entry. Pointer fields
// are omitted from JSON, not null, when that metric wasn't computed for
// this uid (spec.md 6).
type SeqMetrics struct {
	LBI        *float64 `json:"lbi,omitempty"`
	LBR        *float64 `json:"lbr,omitempty"`
	LBF        *float64 `json:"lbf,omitempty"`
	AALBI      *float64 `json:"aa-lbi,omitempty"`
	AALBR      *float64 `json:"aa-lbr,omitempty"`
	AALBF      *float64 `json:"aa-lbf,omitempty"`
	ConsDistAA *float64 `json:"cons-dist-aa,omitempty"`
}

// MetricsRecord is one family's full selection-metric sidecar entry.
type MetricsRecord struct {
	Family  string                `json:"family"`
	Tree    string                `json:"tree,omitempty"`
	AATree  string                `json:"aa-tree,omitempty"`
	Metrics map[string]SeqMetrics `json:"metrics"`
}

// FromMetrics builds the sidecar record for family from m, the computed
// output of selection.Compute.
func FromMetrics(family string, m *selection.Metrics) *MetricsRecord {
	rec := &MetricsRecord{Family: family, Tree: m.Tree, AATree: m.AATree, Metrics: make(map[string]SeqMetrics)}

	touch := func(uid string) SeqMetrics { return rec.Metrics[uid] }
	set := func(uid string, apply func(*SeqMetrics)) {
		sm := touch(uid)
		apply(&sm)
		rec.Metrics[uid] = sm
	}

	for uid, v := range m.LBI {
		v := v
		set(uid, func(sm *SeqMetrics) { sm.LBI = &v })
	}
	for uid, v := range m.LBR {
		v := v
		set(uid, func(sm *SeqMetrics) { sm.LBR = &v })
	}
	for uid, v := range m.LBF {
		v := v
		set(uid, func(sm *SeqMetrics) { sm.LBF = &v })
	}
	for uid, v := range m.AALBI {
		v := v
		set(uid, func(sm *SeqMetrics) { sm.AALBI = &v })
	}
	for uid, v := range m.AALBR {
		v := v
		set(uid, func(sm *SeqMetrics) { sm.AALBR = &v })
	}
	for uid, v := range m.AALBF {
		v := v
		set(uid, func(sm *SeqMetrics) { sm.AALBF = &v })
	}
	for uid, v := range m.ConsDistAA {
		v := v
		set(uid, func(sm *SeqMetrics) { sm.ConsDistAA = &v })
	}

	return rec
}

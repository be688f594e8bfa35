/*
Package chooser applies a declarative antibody-selection policy to a set of
joint clonal families, picking representative heavy/light pairs per family.
Grounded on original_source/python/treeutils.py's read_cfgfo and choose_abs.
*/
package chooser

import (
	"fmt"
	"sort"

	"github.com/scharch/partis/align"
	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/perr"
)

// Candidate is one heavy/light sequence pair available for selection from a
// joint family: either an observed droplet's pair, or an injected unobserved
// consensus/naive pseudo-sequence (seq_type "cons"/"naive" in the source).
type Candidate struct {
	DropletID string // empty for injected pseudo-sequences
	Heavy     *annotation.Member
	Light     *annotation.Member
	SeqType   string // "observed", "cons", or "naive"

	CellType         string
	UMIs             int
	AmbigPositions   int // h+l ambiguous amino-acid positions, only meaningful for injected seqtypes
}

func (c Candidate) aaPair() (string, string) {
	h, l := "", ""
	if c.Heavy != nil {
		h = c.Heavy.Seq.AASeq()
	}
	if c.Light != nil {
		l = c.Light.Seq.AASeq()
	}
	return h, l
}

// SortVar scores and orders candidates within a family for one selection
// pass. Score is called from rank's sort comparator, so it may run several
// times per candidate; lower-is-better sort vars set Direction to "low".
type SortVar struct {
	Name      string
	Direction string // "low" or "high"
	Score     func(Candidate) float64

	// N is the per-family-index count to take for this var alone. nil means
	// this var is unbounded and relies on Config.NPerFamily to stop.
	N []int
}

func (v SortVar) nFor(familyIndex int) (int, bool) {
	if v.N == nil {
		return 0, false
	}
	if familyIndex < 0 || familyIndex >= len(v.N) {
		return 0, false
	}
	return v.N[familyIndex], true
}

// Config is the declarative selection policy (cfgfo), spec.md 4.4.
type Config struct {
	NFamilies  int
	NPerFamily []int // per-family-index count across all vars combined; nil means unbounded
	Vars       []SortVar

	IncludeUnobsConsSeqs  []bool
	IncludeUnobsNaiveSeqs []bool

	CellTypes []string // allowlist; empty means no filter

	MinUMIs                 int
	MaxAmbigPositions       int // <0 means unset
	MinHdistToAlreadyChosen int // <0 means unset

	ForcedDropletIDs    []string
	SimilarToDropletIDs map[string]int // ref droplet id -> n nearest neighbours to also take
}

// Validate mirrors read_cfgfo's structural checks: per-var N lists and
// IncludeUnobs* lists must match NFamilies, and n-per-family cannot coexist
// with a var's own N (spec.md 4.4, "can only specify number to take in one
// place").
func (c Config) Validate() error {
	if c.NFamilies <= 0 {
		return fmt.Errorf("%w: n_families must be positive", perr.ErrInputMalformed)
	}
	if c.NPerFamily != nil && len(c.NPerFamily) != c.NFamilies {
		return fmt.Errorf("%w: n_per_family has %d entries, want %d", perr.ErrInputMalformed, len(c.NPerFamily), c.NFamilies)
	}
	hasVarN := false
	for _, v := range c.Vars {
		if v.Direction != "low" && v.Direction != "high" {
			return fmt.Errorf("%w: sort var %s: direction must be low or high, got %q", perr.ErrInputMalformed, v.Name, v.Direction)
		}
		if v.N != nil {
			hasVarN = true
			if len(v.N) != c.NFamilies {
				return fmt.Errorf("%w: sort var %s: n has %d entries, want %d", perr.ErrInputMalformed, v.Name, len(v.N), c.NFamilies)
			}
		}
	}
	if c.NPerFamily != nil && hasVarN {
		return fmt.Errorf("%w: n_per_family was set, but also found a per-var n", perr.ErrInputMalformed)
	}
	for _, lst := range [][]bool{c.IncludeUnobsConsSeqs, c.IncludeUnobsNaiveSeqs} {
		if lst != nil && len(lst) != c.NFamilies {
			return fmt.Errorf("%w: include-unobs-*-seqs has %d entries, want %d", perr.ErrInputMalformed, len(lst), c.NFamilies)
		}
	}
	return nil
}

// FamilyCandidates is one joint family's selectable candidates, keyed by
// Family for diagnostics. Callers sort families by descending joint size
// before calling Choose, since the policy's per-index lists (N, NPerFamily,
// IncludeUnobs*) are indexed in that order.
type FamilyCandidates struct {
	Family     string
	Candidates []Candidate

	// ConsCandidate and NaiveCandidate are pre-built injectable
	// pseudo-sequences for this family (nil if the caller has none to
	// offer); Choose only uses them when the matching IncludeUnobs* flag is
	// set for this family's index.
	ConsCandidate  *Candidate
	NaiveCandidate *Candidate
}

// Chosen is one family's selected representatives.
type Chosen struct {
	Family  string
	Members []Candidate
}

// Choose applies cfg to families, in the order given (already sorted by
// descending joint size by the caller), accumulating the chosen aa-seq-pair
// set across the whole run so later families' min_hdist_to_already_chosen
// checks see every earlier choice, matching the source's all_chosen_seqs.
func Choose(families []FamilyCandidates, cfg Config) ([]Chosen, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chosenSeqs := make(map[[2]string]bool)
	var out []Chosen

	for i, fam := range families {
		if i >= cfg.NFamilies {
			break
		}
		chosen, err := chooseOneFamily(fam, i, cfg, chosenSeqs)
		if err != nil {
			return nil, perr.Family(fam.Family, err)
		}
		out = append(out, Chosen{Family: fam.Family, Members: chosen})
	}
	return out, nil
}

func chooseOneFamily(fam FamilyCandidates, idx int, cfg Config, chosenSeqs map[[2]string]bool) ([]Candidate, error) {
	pool := filterAllowed(fam.Candidates, cfg)

	var chosen []Candidate
	markChosen := func(c Candidate) {
		chosen = append(chosen, c)
		h, l := c.aaPair()
		chosenSeqs[[2]string{h, l}] = true
	}

	for _, id := range cfg.ForcedDropletIDs {
		for _, c := range pool {
			if c.DropletID == id && !alreadyChosen(chosenSeqs, c) {
				markChosen(c)
			}
		}
	}

	for refID, n := range cfg.SimilarToDropletIDs {
		var ref *Candidate
		for i := range pool {
			if pool[i].DropletID == refID {
				ref = &pool[i]
				break
			}
		}
		if ref == nil {
			continue
		}
		neighbours := nearestTo(*ref, pool)
		taken := 0
		for _, c := range neighbours {
			if taken >= n {
				break
			}
			if c.DropletID == refID || alreadyChosen(chosenSeqs, c) {
				continue
			}
			if tooClose(chosenSeqs, c, cfg.MinHdistToAlreadyChosen) {
				continue
			}
			markChosen(c)
			taken++
		}
	}

	if flagAt(cfg.IncludeUnobsConsSeqs, idx) && fam.ConsCandidate != nil {
		tryInjectUnobserved(*fam.ConsCandidate, cfg, chosenSeqs, markChosen)
	}
	if flagAt(cfg.IncludeUnobsNaiveSeqs, idx) && fam.NaiveCandidate != nil {
		tryInjectUnobserved(*fam.NaiveCandidate, cfg, chosenSeqs, markChosen)
	}

	perFamilyLimit, hasPerFamilyLimit := nFor(cfg.NPerFamily, idx)

	for _, v := range cfg.Vars {
		ranked := rank(pool, v)
		varLimit, hasVarLimit := v.nFor(idx)
		newlyChosenForVar := 0
		for _, c := range ranked {
			if hasPerFamilyLimit && len(chosen) >= perFamilyLimit {
				break
			}
			if hasVarLimit && newlyChosenForVar >= varLimit {
				break
			}
			if alreadyChosen(chosenSeqs, c) || tooClose(chosenSeqs, c, cfg.MinHdistToAlreadyChosen) {
				continue
			}
			markChosen(c)
			newlyChosenForVar++
		}
	}

	return chosen, nil
}

func flagAt(flags []bool, idx int) bool {
	if idx < 0 || idx >= len(flags) {
		return false
	}
	return flags[idx]
}

func nFor(list []int, idx int) (int, bool) {
	if list == nil || idx < 0 || idx >= len(list) {
		return 0, false
	}
	return list[idx], true
}

// filterAllowed applies the cell-type allowlist and min_umis floor, the
// first two gates read_cfgfo's caller applies before anything else.
func filterAllowed(cands []Candidate, cfg Config) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if len(cfg.CellTypes) > 0 && !stringIn(cfg.CellTypes, c.CellType) {
			continue
		}
		if cfg.MinUMIs > 0 && c.UMIs < cfg.MinUMIs {
			continue
		}
		out = append(out, c)
	}
	return out
}

func stringIn(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// rank sorts a copy of cands by v.Score, ascending for "low" and descending
// for "high"; ties keep the input's relative order (observed-candidate
// iteration order, which callers build deterministically).
func rank(cands []Candidate, v SortVar) []Candidate {
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := v.Score(out[i]), v.Score(out[j])
		if v.Direction == "high" {
			return si > sj
		}
		return si < sj
	})
	return out
}

// tryInjectUnobserved adds cand (an unobserved consensus or naive
// pseudo-sequence) unless it duplicates, or is too close to, an already
// chosen pair, or exceeds the ambiguous-position ceiling — the three gates
// add_unobs_seq applies after building the candidate.
func tryInjectUnobserved(cand Candidate, cfg Config, chosenSeqs map[[2]string]bool, mark func(Candidate)) {
	if cfg.MaxAmbigPositions >= 0 && cand.AmbigPositions > cfg.MaxAmbigPositions {
		return
	}
	if alreadyChosen(chosenSeqs, cand) {
		return
	}
	if tooClose(chosenSeqs, cand, cfg.MinHdistToAlreadyChosen) {
		return
	}
	mark(cand)
}

func alreadyChosen(chosenSeqs map[[2]string]bool, c Candidate) bool {
	h, l := c.aaPair()
	return chosenSeqs[[2]string{h, l}]
}

// tooClose mirrors too_close_to_chosen_seqs: the summed h+l amino-acid
// Hamming distance to every already-chosen pair must be >= threshold.
// threshold < 0 disables the check.
func tooClose(chosenSeqs map[[2]string]bool, c Candidate, threshold int) bool {
	if threshold < 0 || len(chosenSeqs) == 0 {
		return false
	}
	h, l := c.aaPair()
	for pair := range chosenSeqs {
		if localHdistAA(h, pair[0])+localHdistAA(l, pair[1]) < threshold {
			return true
		}
	}
	return false
}

// localHdistAA mirrors local_hdist_aa: equal-length strings are compared
// directly; unequal lengths are treated as maximally distant, since the
// source only cares about catching genuinely similar pairs.
func localHdistAA(a, b string) int {
	if len(a) != len(b) {
		if len(a) > len(b) {
			return len(a)
		}
		return len(b)
	}
	return align.Hamming(a, b)
}

// nearestTo sorts pool by summed h+l amino-acid distance to ref, for the
// similar-to-droplet-id neighbour fill.
func nearestTo(ref Candidate, pool []Candidate) []Candidate {
	refH, refL := ref.aaPair()
	dist := func(c Candidate) int {
		h, l := c.aaPair()
		return localHdistAA(h, refH) + localHdistAA(l, refL)
	}
	out := append([]Candidate(nil), pool...)
	sort.SliceStable(out, func(i, j int) bool { return dist(out[i]) < dist(out[j]) })
	return out
}

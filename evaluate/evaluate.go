/*
Package evaluate scores an inferred pipeline's output against ground truth:
CCF (purity/completeness) between partitions, correctly-paired fractions,
and pair-cleaning confusion matrices. Grounded on
original_source/test/cf-paired-loci.py and the ccf reporting in
original_source/python/paircluster.py's evaluate_joint_partitions.
*/
package evaluate

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/scharch/partis/annotation"
)

// PurityCompleteness computes the standard pairwise co-clustering
// precision/recall of inferred against truth: for every pair of uids that
// share a cluster in inferred, purity is the fraction that also share a
// cluster in truth; completeness is the fraction of truth-co-clustered
// pairs that inferred also co-clusters. Only uids present in both
// partitions are counted.
func PurityCompleteness(inferred, truth *annotation.Partition) (purity, completeness float64, err error) {
	truthClusterOf := make(map[string]int)
	for i, c := range truth.Clusters {
		for _, m := range c.Members {
			truthClusterOf[m.UID()] = i
		}
	}

	var truePairs, predPairs, tpPairs int64

	inferredPresent := make(map[string]bool)
	for _, c := range inferred.Clusters {
		for _, m := range c.Members {
			if _, ok := truthClusterOf[m.UID()]; ok {
				inferredPresent[m.UID()] = true
			}
		}
	}
	// restrict truePairs to uids also present in inferred, so both
	// fractions are comparable over the same uid universe.
	byTrueCluster := make(map[int]int64)
	for uid := range inferredPresent {
		byTrueCluster[truthClusterOf[uid]]++
	}
	for _, n := range byTrueCluster {
		truePairs += n * (n - 1) / 2
	}

	for _, c := range inferred.Clusters {
		var present []string
		for _, m := range c.Members {
			if inferredPresent[m.UID()] {
				present = append(present, m.UID())
			}
		}
		n := int64(len(present))
		predPairs += n * (n - 1) / 2

		byTruth := make(map[int]int64)
		for _, uid := range present {
			byTruth[truthClusterOf[uid]]++
		}
		for _, n := range byTruth {
			tpPairs += n * (n - 1) / 2
		}
	}

	if predPairs == 0 && truePairs == 0 {
		return 1, 1, nil
	}
	if predPairs == 0 {
		return 1, 0, nil
	}
	if truePairs == 0 {
		return 0, 1, nil
	}
	return float64(tpPairs) / float64(predPairs), float64(tpPairs) / float64(truePairs), nil
}

// CorrectlyPairedFraction reports, among uids present in both maps, the
// fraction whose inferred partner equals their truth partner (an empty
// partner value means "unpaired", which counts as a correct match when both
// sides agree).
func CorrectlyPairedFraction(inferred, truth map[string]string) float64 {
	var total, correct int
	for uid, truePartner := range truth {
		infPartner, ok := inferred[uid]
		if !ok {
			continue
		}
		total++
		if infPartner == truePartner {
			correct++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(correct) / float64(total)
}

// Classification is the per-uid outcome BadPairFilter assigns, used to
// tabulate a pair-cleaning confusion matrix against ground truth.
type Classification int

const (
	Correct Classification = iota
	OtherLight
	NonReciprocal
	Unpaired
)

func (c Classification) String() string {
	switch c {
	case Correct:
		return "correct"
	case OtherLight:
		return "other-light"
	case NonReciprocal:
		return "non-reciprocal"
	case Unpaired:
		return "unpaired"
	default:
		return "unknown"
	}
}

// ConfusionMatrix counts how many uids fell into each Classification for one
// locus.
type ConfusionMatrix map[Classification]int

// Add increments c's count by one.
func (m ConfusionMatrix) Add(c Classification) {
	m[c]++
}

// Total returns the sum of all counts.
func (m ConfusionMatrix) Total() int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// Tabulate builds a ConfusionMatrix from a uid->Classification map, the
// shape BadPairFilter's Result.Classifications takes.
func Tabulate(classifications map[string]Classification) ConfusionMatrix {
	m := make(ConfusionMatrix)
	for _, c := range classifications {
		m.Add(c)
	}
	return m
}

// TabulateMatrices writes one fixed-width row per locus (keys of matrices,
// sorted) with a column per Classification, using text/tabwriter for
// alignment.
func TabulateMatrices(w io.Writer, matrices map[string]ConfusionMatrix) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	classes := []Classification{Correct, OtherLight, NonReciprocal, Unpaired}
	fmt.Fprint(tw, "locus")
	for _, c := range classes {
		fmt.Fprintf(tw, "\t%s", c)
	}
	fmt.Fprint(tw, "\ttotal\n")

	var loci []string
	for locus := range matrices {
		loci = append(loci, locus)
	}
	sort.Strings(loci)

	for _, locus := range loci {
		m := matrices[locus]
		fmt.Fprint(tw, locus)
		for _, c := range classes {
			fmt.Fprintf(tw, "\t%d", m[c])
		}
		fmt.Fprintf(tw, "\t%d\n", m.Total())
	}
	return tw.Flush()
}

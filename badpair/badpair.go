/*
Package badpair classifies each sequence in a single-chain partition as
correctly paired, contaminated by the wrong light locus, non-reciprocally
paired, or unpaired, and removes everything but the correctly paired ones
from their cluster. Grounded on
original_source/python/paircluster.py's remove_badly_paired_seqs.
*/
package badpair

import (
	"fmt"

	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/evaluate"
	"github.com/scharch/partis/perr"
	"github.com/scharch/partis/sequence"
)

// Options configures one Filter call.
type Options struct {
	// LightLocus is the light-chain locus this run considers correct; a
	// heavy sequence paired with the other light locus is contamination
	// (spec.md 4.2.1).
	LightLocus sequence.Locus
}

// UnpairedInfo records what a removed (but not contaminated-out) uid needs
// for JointMerger's later reinsertion pass (spec.md 4.2.2). Member is the
// removed sequence itself, since once it's dropped from its cluster nothing
// else in the pipeline keeps a reference to it.
type UnpairedInfo struct {
	Member                    *annotation.Member
	NearestInCluster          string
	NearestPairedInCluster    string
	OriginalSingleChainFamily []string
}

// Result is one chain's filtered partition plus the bookkeeping needed to
// reinsert removed sequences after joint merging.
type Result struct {
	Partition *annotation.Partition
	Unpaired  map[string]UnpairedInfo

	// Classifications records, per uid this chain's partition held on entry,
	// which of evaluate's four outcomes Filter assigned it — feeding
	// evaluate.TabulateMatrices's pair-cleaning confusion matrix.
	Classifications map[string]evaluate.Classification
}

// Filter walks every cluster of partitions[chain], removing unpaired,
// non-reciprocally-paired, and (for the heavy chain) wrong-light-contaminated
// sequences, per spec.md 4.2.1. partitions must include every locus a
// removed uid's partner could live in, so reciprocity can be checked
// cross-chain.
func Filter(chain sequence.Locus, partitions map[sequence.Locus]*annotation.Partition, opts Options) (*Result, error) {
	memberOf := make(map[string]*annotation.Member)
	localeOf := make(map[string]sequence.Locus)
	for loc, p := range partitions {
		for _, c := range p.Clusters {
			for _, m := range c.Members {
				memberOf[m.UID()] = m
				localeOf[m.UID()] = loc
			}
		}
	}

	result := &Result{
		Partition:       &annotation.Partition{Seed: partitions[chain].Seed},
		Unpaired:        make(map[string]UnpairedInfo),
		Classifications: make(map[string]evaluate.Classification),
	}

	for _, cluster := range partitions[chain].Clusters {
		var originalUIDs []string
		for _, m := range cluster.Members {
			originalUIDs = append(originalUIDs, m.UID())
		}

		var kept []*annotation.Member
		var removedForReinsertion []*annotation.Member

		for _, m := range cluster.Members {
			uid := m.UID()
			pids := m.PairedUIDs

			switch {
			case len(pids) == 0:
				result.Classifications[uid] = evaluate.Unpaired
				removedForReinsertion = append(removedForReinsertion, m)

			case len(pids) > 1:
				return nil, perr.Family(cluster.Family, fmt.Errorf("%w: uid %s has %d surviving partners entering BadPairFilter", perr.ErrInconsistentPairing, uid, len(pids)))

			default:
				partner := memberOf[pids[0]]
				if chain == sequence.Heavy && partner != nil && localeOf[pids[0]].IsLight() && localeOf[pids[0]] != opts.LightLocus {
					// true contamination: no reinsertion.
					result.Classifications[uid] = evaluate.OtherLight
					continue
				}
				if partner == nil || len(partner.PairedUIDs) != 1 || partner.PairedUIDs[0] != uid {
					result.Classifications[uid] = evaluate.NonReciprocal
					removedForReinsertion = append(removedForReinsertion, m)
					continue
				}
				result.Classifications[uid] = evaluate.Correct
				kept = append(kept, m)
			}
		}

		for _, m := range removedForReinsertion {
			uid := m.UID()
			nearest, nearestPaired := nearestNeighbors(m, kept, cluster)
			info := UnpairedInfo{Member: m, NearestInCluster: nearest, NearestPairedInCluster: nearestPaired}
			if nearestPaired == "" {
				info.OriginalSingleChainFamily = originalUIDs
			}
			result.Unpaired[uid] = info
		}

		if len(kept) > 0 {
			result.Partition.Clusters = append(result.Partition.Clusters, &annotation.Annotation{
				Family:       cluster.Family,
				Locus:        cluster.Locus,
				NaiveSeq:     cluster.NaiveSeq,
				NaiveSeqName: cluster.NaiveSeqName,
				CDR3Length:   cluster.CDR3Length,
				Members:      kept,
			})
		}
	}

	return result, nil
}

// mutatedPositions returns the set of amino-acid positions at which m's
// translation differs from naiveAA, the "approximate Hamming" basis spec.md
// 4.2.1 calls for.
func mutatedPositions(m *annotation.Member, naiveAA string) map[int]bool {
	aa := m.Seq.AASeq()
	positions := make(map[int]bool)
	n := len(aa)
	if len(naiveAA) < n {
		n = len(naiveAA)
	}
	for i := 0; i < n; i++ {
		if aa[i] != naiveAA[i] {
			positions[i] = true
		}
	}
	return positions
}

// approxHamming counts the symmetric difference of two members' mutated-
// position sets relative to the family naive sequence, a cheap proxy for
// their pairwise amino-acid Hamming distance.
func approxHamming(a, b map[int]bool) int {
	n := 0
	for pos := range a {
		if !b[pos] {
			n++
		}
	}
	for pos := range b {
		if !a[pos] {
			n++
		}
	}
	return n
}

// nearestNeighbors finds, among kept (the cluster's surviving members), the
// nearest member overall and the nearest among those that still carry a
// partner, both by approxHamming. Either may be "" if kept is empty.
func nearestNeighbors(m *annotation.Member, kept []*annotation.Member, cluster *annotation.Annotation) (nearest, nearestPaired string) {
	naiveAA := cluster.NaiveSeqAA()
	myPositions := mutatedPositions(m, naiveAA)

	bestDist, bestPairedDist := -1, -1
	for _, k := range kept {
		d := approxHamming(myPositions, mutatedPositions(k, naiveAA))
		if bestDist == -1 || d < bestDist {
			bestDist = d
			nearest = k.UID()
		}
		if len(k.PairedUIDs) > 0 && (bestPairedDist == -1 || d < bestPairedDist) {
			bestPairedDist = d
			nearestPaired = k.UID()
		}
	}
	return nearest, nearestPaired
}

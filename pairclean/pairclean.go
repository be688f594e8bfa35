/*
Package pairclean repairs a noisy heavy/light pairing graph into a
reciprocal matching: every sequence ends with at most one opposite-chain
partner, and if it has one, that partner points back. Grounded on
original_source/python/paircluster.py's clean_pair_info/ptn_clean.
*/
package pairclean

import (
	"fmt"
	"sort"

	"github.com/scharch/partis/align"
	"github.com/scharch/partis/alphabet"
	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/checks"
	"github.com/scharch/partis/perr"
	"github.com/scharch/partis/sequence"
)

// Options configures one Clean call.
type Options struct {
	IsData                    bool
	CollapseSimilarPairedSeqs bool
	MaxHDist                  int  // default 4
	RemoveUnproductive        bool // real data only, per IsData
}

func (o Options) maxHDist() int {
	if o.MaxHDist <= 0 {
		return 4
	}
	return o.MaxHDist
}

// Stats counts the non-fatal anomalies Clean recovers from rather than
// failing on, per spec.md 7's "PairCleaner recovers (drops) MissingUid and
// UnknownPartner locally with counters".
type Stats struct {
	MissingUID     int
	UnknownPartner int
}

// registry indexes every member across every locus partition by uid, so
// pid-group construction and arbitration can cross from one chain's
// Annotation to the other's without the caller threading lookups through.
type registry struct {
	memberOf    map[string]*annotation.Member
	localeOf    map[string]sequence.Locus
	clusterKeys map[string]string // uid -> "<locus>|<sorted member uids joined by :>"
}

func buildRegistry(partitions map[sequence.Locus]*annotation.Partition) *registry {
	r := &registry{
		memberOf:    make(map[string]*annotation.Member),
		localeOf:    make(map[string]sequence.Locus),
		clusterKeys: make(map[string]string),
	}
	for loc, p := range partitions {
		for _, c := range p.Clusters {
			uids := make([]string, 0, len(c.Members))
			for _, m := range c.Members {
				uids = append(uids, m.UID())
			}
			sort.Strings(uids)
			key := fmt.Sprintf("%s|%v", loc, uids)
			for _, m := range c.Members {
				r.memberOf[m.UID()] = m
				r.localeOf[m.UID()] = loc
				r.clusterKeys[m.UID()] = key
			}
		}
	}
	return r
}

// sameChain reports whether a and b are both heavy, or both any light locus
// (kappa and lambda count as the same "chain" for pairing purposes, matching
// utils.samechain in the source).
func sameChain(a, b sequence.Locus) bool {
	return a.IsLight() == b.IsLight()
}

// uidFind is a path-compressing union-find over uids, used to build
// pid-groups (spec.md 4.1 step 1).
type uidFind struct {
	parent map[string]string
}

func newUIDFind() *uidFind { return &uidFind{parent: make(map[string]string)} }

func (u *uidFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *uidFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// Clean mutates every Member.PairedUIDs across partitions in place so that,
// on return, every surviving pairing is reciprocal and cross-chain. It
// returns recoverable-anomaly counts; only a malformed universe (a uid
// ending with more than one surviving partner) is fatal, per spec.md 7.
func Clean(partitions map[sequence.Locus]*annotation.Partition, opts Options) (Stats, error) {
	var stats Stats
	reg := buildRegistry(partitions)

	// Step 1: pid-group construction. A uid referenced in paired_uids but
	// absent from the universe is dropped from that list and counted, not
	// unioned.
	uf := newUIDFind()
	for uid, m := range reg.memberOf {
		uf.find(uid) // register even isolated uids
		var kept []string
		for _, p := range m.PairedUIDs {
			if _, ok := reg.memberOf[p]; !ok {
				stats.MissingUID++
				continue
			}
			kept = append(kept, p)
			uf.union(uid, p)
		}
		m.PairedUIDs = kept
	}

	groups := make(map[string]map[string]bool)
	for uid := range reg.memberOf {
		root := uf.find(uid)
		if groups[root] == nil {
			groups[root] = make(map[string]bool)
		}
		groups[root][uid] = true
	}

	// Step 2: per-group pruning. Pruned-out uids become their own singleton
	// pid-group and are struck from every remaining group member's
	// paired_uids (they're no longer a valid candidate for anybody).
	for root, group := range groups {
		var heavy, light []string
		for uid := range group {
			if reg.localeOf[uid] == sequence.Heavy {
				heavy = append(heavy, uid)
			} else {
				light = append(light, uid)
			}
		}
		sort.Strings(heavy)
		sort.Strings(light)

		removed := make(map[string]bool)
		for _, chainIDs := range [][]string{heavy, light} {
			if len(chainIDs) < 2 {
				continue
			}
			for uid := range pruneChain(chainIDs, reg, opts) {
				removed[uid] = true
			}
		}
		if len(removed) == 0 {
			continue
		}
		for uid := range removed {
			delete(group, uid)
			groups[uid] = map[string]bool{uid: true} // its own pid-group now
			reg.memberOf[uid].PairedUIDs = nil
		}
		for uid := range group {
			m := reg.memberOf[uid]
			var kept []string
			for _, p := range m.PairedUIDs {
				if !removed[p] {
					kept = append(kept, p)
				}
			}
			m.PairedUIDs = kept
		}
		groups[root] = group
	}

	// Step 3: partition-informed arbitration (ptn_clean), largest-cluster-
	// first across all loci, loci visited in a stable (sorted) order.
	var loci []sequence.Locus
	for loc := range partitions {
		loci = append(loci, loc)
	}
	sort.Slice(loci, func(i, j int) bool { return loci[i] < loci[j] })

	groupOf := make(map[string]map[string]bool)
	for _, group := range groups {
		for uid := range group {
			groupOf[uid] = group
		}
	}

	for _, loc := range loci {
		p := partitions[loc]
		clusters := append([]*annotation.Annotation(nil), p.Clusters...)
		sort.SliceStable(clusters, func(i, j int) bool { return len(clusters[i].Members) > len(clusters[j].Members) })
		for _, cluster := range clusters {
			finished := ptnClean(cluster, reg)
			updateAllPidInfo(finished, groupOf, reg)
		}
	}

	// Step 4: reciprocity synchronization.
	for uid, m := range reg.memberOf {
		if len(m.PairedUIDs) != 1 {
			continue
		}
		partner := reg.memberOf[m.PairedUIDs[0]]
		if partner == nil {
			stats.UnknownPartner++
			m.PairedUIDs = nil
			continue
		}
		if len(partner.PairedUIDs) == 0 {
			partner.PairedUIDs = []string{uid}
		}
	}

	for uid, m := range reg.memberOf {
		if len(m.PairedUIDs) > 1 {
			return stats, fmt.Errorf("%w: uid %s has %d surviving partners after cleaning", perr.ErrInconsistentPairing, uid, len(m.PairedUIDs))
		}
	}

	return stats, nil
}

// pruneChain implements choose_seqs_to_remove: within one chain's ids inside
// an over-large pid-group, collapse near-identical sequences (keeping the
// one with fewer ambiguous bases) and, on real data when requested, drop
// non-functional sequences. Returns the set of ids to remove.
func pruneChain(chainIDs []string, reg *registry, opts Options) map[string]bool {
	toRemove := make(map[string]bool)

	if opts.CollapseSimilarPairedSeqs {
		maxHDist := opts.maxHDist()
		for i := 0; i < len(chainIDs); i++ {
			for j := i + 1; j < len(chainIDs); j++ {
				a, b := chainIDs[i], chainIDs[j]
				ma, mb := reg.memberOf[a], reg.memberOf[b]
				if len(ma.Seq.NucSeq) != len(mb.Seq.NucSeq) {
					continue
				}
				if align.Hamming(ma.Seq.NucSeq, mb.Seq.NucSeq) > maxHDist {
					continue
				}
				worse := b
				if alphabet.AmbiguousBaseFraction(ma.Seq.NucSeq) > alphabet.AmbiguousBaseFraction(mb.Seq.NucSeq) {
					worse = a
				}
				toRemove[worse] = true
			}
		}
	}

	if opts.IsData && opts.RemoveUnproductive {
		for _, uid := range chainIDs {
			if !checks.IsFunctional(reg.memberOf[uid].Seq.NucSeq) {
				toRemove[uid] = true
			}
		}
	}

	return toRemove
}

// pfamily tracks, for one opposite-chain family key, how many votes (uids in
// the cluster under arbitration pointing at it) it has received.
type pfamily struct {
	key   string
	count int
}

// ptnClean implements one cluster's pass of the source's ptn_clean: for
// every uid, keep only opposite-chain, not-yet-finished candidates; if the
// top-voted family strictly beats the runner-up (or they're actually the
// same family), commit that pairing and mark both uids finished. Uids left
// undecided have their paired_uids cleared (spec.md 9's resolved open
// question: ties clear to nil rather than keep multiple candidates).
func ptnClean(cluster *annotation.Annotation, reg *registry) []string {
	pfamilies := make(map[string]*pfamily)
	for _, m := range cluster.Members {
		for _, p := range m.PairedUIDs {
			key := reg.clusterKeys[p]
			if key == "" {
				continue
			}
			if pfamilies[key] == nil {
				pfamilies[key] = &pfamily{key: key}
			}
			pfamilies[key].count++
		}
	}

	finishedSet := make(map[string]bool)
	var finished []string

	for _, m := range cluster.Members {
		uid := m.UID()
		uloc := reg.localeOf[uid]

		var candidates []string
		for _, p := range m.PairedUIDs {
			if finishedSet[p] || sameChain(reg.localeOf[p], uloc) {
				continue
			}
			candidates = append(candidates, p)
		}
		m.PairedUIDs = candidates

		if len(candidates) == 0 {
			continue
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			ci, cj := pfamilies[reg.clusterKeys[candidates[i]]], pfamilies[reg.clusterKeys[candidates[j]]]
			return ci.count > cj.count
		})

		var chosen string
		if len(candidates) == 1 {
			chosen = candidates[0]
		} else {
			first, second := pfamilies[reg.clusterKeys[candidates[0]]], pfamilies[reg.clusterKeys[candidates[1]]]
			if first.count > second.count || reg.clusterKeys[candidates[0]] == reg.clusterKeys[candidates[1]] {
				chosen = candidates[0]
			}
		}

		if chosen == "" {
			m.PairedUIDs = nil
			continue
		}

		m.PairedUIDs = []string{chosen}
		if cm := reg.memberOf[chosen]; cm != nil {
			cm.PairedUIDs = []string{uid}
		}
		finishedSet[uid] = true
		finishedSet[chosen] = true
		finished = append(finished, uid, chosen)
	}

	return finished
}

// updateAllPidInfo implements update_all_pid_info: once a cluster finishes
// arbitration, strip the newly-finished uids out of every other member's
// paired_uids list in their original pid-group (they've been claimed, so
// nobody else should still be offering them as a candidate).
func updateAllPidInfo(finished []string, groupOf map[string]map[string]bool, reg *registry) {
	if len(finished) == 0 {
		return
	}
	finishedSet := make(map[string]bool, len(finished))
	for _, u := range finished {
		finishedSet[u] = true
	}
	touched := make(map[string]bool)
	for _, uid := range finished {
		for other := range groupOf[uid] {
			if finishedSet[other] || touched[other] {
				continue
			}
			touched[other] = true
			m := reg.memberOf[other]
			var kept []string
			for _, p := range m.PairedUIDs {
				if !finishedSet[p] {
					kept = append(kept, p)
				}
			}
			m.PairedUIDs = kept
		}
	}
}

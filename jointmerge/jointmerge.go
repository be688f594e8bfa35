/*
Package jointmerge reconciles a cleaned heavy-chain partition and a cleaned
light-chain partition into one joint partition, and re-inserts the sequences
BadPairFilter set aside. Grounded on
original_source/python/paircluster.py's merge_chains, resolve_discordant_clusters,
incorporate_rclusts, and re_add_unpaired.
*/
package jointmerge

import (
	"fmt"
	"sort"

	"github.com/scharch/partis/align"
	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/badpair"
	"github.com/scharch/partis/perr"
)

// Options configures one Merge call.
type Options struct {
	// OverMerge disables naive-hamming-fraction splitting within a CDR3
	// group (hi_hbound becomes 1), correct only when every such group is
	// known to deserve one cluster.
	OverMerge bool
}

// JointCluster is one joint clonal family: its heavy single-chain members and
// its light single-chain members, either of which may be absent if only one
// chain observed this family.
type JointCluster struct {
	Heavy *annotation.Annotation
	Light *annotation.Annotation
}

// JointPartition is the set of JointClusters covering every heavy and light
// uid exactly once.
type JointPartition struct {
	Clusters []JointCluster
}

// idSet is a translated-uid set: light uids are addressed by their paired
// heavy partner's uid wherever one exists, so that heavy and light clusters
// referring to the same joint family share a key space (the source's
// translate_paired_uids).
type idSet map[string]bool

func newIDSet(ids []string) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func (s idSet) slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s idSet) intersects(o idSet) bool {
	small, big := s, o
	if len(big) < len(small) {
		small, big = big, small
	}
	for id := range small {
		if big[id] {
			return true
		}
	}
	return false
}

func (s idSet) intersection(o idSet) idSet {
	out := make(idSet)
	small, big := s, o
	if len(big) < len(small) {
		small, big = big, small
	}
	for id := range small {
		if big[id] {
			out[id] = true
		}
	}
	return out
}

func (s idSet) subtract(o idSet) {
	for id := range o {
		delete(s, id)
	}
}

// clusterInfo is one opposite-chain candidate cluster as seen from the side
// being resolved: its translated ids plus the CDR3/naive-sequence/mutation
// data resolveDiscordantClusters needs.
type clusterInfo struct {
	ids        idSet
	cdr3Length int
	naiveSeq   string
	mutFreqs   []float64
}

// Merge reconciles heavy and light into a JointPartition and folds heavyUnpaired
// / lightUnpaired (BadPairFilter's leftovers) back in. It is pure: the only
// failure mode is a uid appearing in more than one cluster of the same
// partition, which raises ErrDuplicateUid.
func Merge(heavy, light *annotation.Partition, heavyUnpaired, lightUnpaired map[string]badpair.UnpairedInfo, opts Options) (*JointPartition, error) {
	heavyMemberOf, heavyClusterOf, err := index(heavy)
	if err != nil {
		return nil, err
	}
	lightMemberOf, lightClusterOf, err := index(light)
	if err != nil {
		return nil, err
	}

	translate := func(uid string) string {
		m := lightMemberOf[uid]
		if m != nil && len(m.PairedUIDs) == 1 {
			if _, ok := heavyMemberOf[m.PairedUIDs[0]]; ok {
				return m.PairedUIDs[0]
			}
		}
		return uid
	}
	reverseLight := make(map[string][]string)
	for uid := range lightMemberOf {
		key := translate(uid)
		reverseLight[key] = append(reverseLight[key], uid)
	}

	heavySets := make([]idSet, len(heavy.Clusters))
	for i, c := range heavy.Clusters {
		ids := make([]string, 0, len(c.Members))
		for _, m := range c.Members {
			ids = append(ids, m.UID())
		}
		heavySets[i] = newIDSet(ids)
	}
	lightSets := make([]idSet, len(light.Clusters))
	for i, c := range light.Clusters {
		ids := make([]string, 0, len(c.Members))
		for _, m := range c.Members {
			ids = append(ids, translate(m.UID()))
		}
		lightSets[i] = newIDSet(ids)
	}

	finalSets := make([]idSet, 0)
	idx := make(map[string]int)

	resolveAgainstList := func(single idSet, oppositeClusters []*annotation.Annotation, oppositeSets []idSet) []idSet {
		cluster := make([]clusterInfo, len(oppositeClusters))
		for i, c := range oppositeClusters {
			cluster[i] = clusterInfo{ids: oppositeSets[i], cdr3Length: c.CDR3Length, naiveSeq: c.NaiveSeq, mutFreqs: mutFreqsOf(c)}
		}
		return resolveDiscordantClusters(single, cluster, opts)
	}

	for i := range heavy.Clusters {
		var oppAnn []*annotation.Annotation
		var oppSets []idSet
		for j, lc := range light.Clusters {
			if heavySets[i].intersects(lightSets[j]) {
				oppAnn = append(oppAnn, lc)
				oppSets = append(oppSets, lightSets[j])
			}
		}
		resolved := resolveAgainstList(heavySets[i], oppAnn, oppSets)
		incorporateRclusts(&finalSets, idx, resolved)
	}
	for j := range light.Clusters {
		var oppAnn []*annotation.Annotation
		var oppSets []idSet
		for i, hc := range heavy.Clusters {
			if lightSets[j].intersects(heavySets[i]) {
				oppAnn = append(oppAnn, hc)
				oppSets = append(oppSets, heavySets[i])
			}
		}
		resolved := resolveAgainstList(lightSets[j], oppAnn, oppSets)
		incorporateRclusts(&finalSets, idx, resolved)
	}

	jp := &JointPartition{}
	for _, fs := range finalSets {
		if len(fs) == 0 {
			continue
		}
		var heavyMembers, lightMembers []*annotation.Member
		var heavySrc, lightSrc *annotation.Annotation
		for _, id := range fs.slice() {
			if m, ok := heavyMemberOf[id]; ok {
				heavyMembers = append(heavyMembers, m)
				if heavySrc == nil {
					heavySrc = heavyClusterOf[id]
				}
			}
			for _, lu := range reverseLight[id] {
				if m, ok := lightMemberOf[lu]; ok {
					lightMembers = append(lightMembers, m)
					if lightSrc == nil {
						lightSrc = lightClusterOf[lu]
					}
				}
			}
		}
		jc := JointCluster{}
		if len(heavyMembers) > 0 {
			jc.Heavy = cloneAnnotationShell(heavySrc, heavyMembers)
		}
		if len(lightMembers) > 0 {
			jc.Light = cloneAnnotationShell(lightSrc, lightMembers)
		}
		if jc.Heavy != nil || jc.Light != nil {
			jp.Clusters = append(jp.Clusters, jc)
		}
	}

	reAddUnpaired(jp, heavyUnpaired, true)
	reAddUnpaired(jp, lightUnpaired, false)

	return jp, nil
}

func mutFreqsOf(a *annotation.Annotation) []float64 {
	out := make([]float64, len(a.Members))
	for i, m := range a.Members {
		out[i] = m.MutFreq
	}
	return out
}

func cloneAnnotationShell(src *annotation.Annotation, members []*annotation.Member) *annotation.Annotation {
	sort.Slice(members, func(i, j int) bool { return members[i].UID() < members[j].UID() })
	a := &annotation.Annotation{Members: members}
	if src != nil {
		a.Family = src.Family
		a.Locus = src.Locus
		a.NaiveSeq = src.NaiveSeq
		a.NaiveSeqName = src.NaiveSeqName
		a.CDR3Length = src.CDR3Length
	} else if len(members) > 0 {
		a.Locus = members[0].Seq.Locus
	}
	return a
}

func index(p *annotation.Partition) (map[string]*annotation.Member, map[string]*annotation.Annotation, error) {
	memberOf := make(map[string]*annotation.Member)
	clusterOf := make(map[string]*annotation.Annotation)
	for _, c := range p.Clusters {
		for _, m := range c.Members {
			uid := m.UID()
			if _, dup := memberOf[uid]; dup {
				return nil, nil, fmt.Errorf("%w: %s appears in more than one cluster", perr.ErrDuplicateUid, uid)
			}
			memberOf[uid] = m
			clusterOf[uid] = c
		}
	}
	return memberOf, clusterOf, nil
}

// hiHbound is the naive-hamming-fraction ceiling above which two same-CDR3
// clusters must be kept apart, loosening as the family's observed mutation
// frequency rises (higher SHM makes naive-sequence inference noisier, so the
// threshold for "clearly the same rearrangement" has to relax). The source's
// lookup table (utils.get_naive_hamming_bounds) isn't present in this corpus;
// this is a monotonic stand-in with the same shape, documented in DESIGN.md.
func hiHbound(meanMutFreq float64) float64 {
	b := 0.015 + 2.0*meanMutFreq
	if b > 1 {
		return 1
	}
	return b
}

// resolveDiscordantClusters decides which of opposite's cluster boundaries
// should be imposed on single. With fewer than two candidates there is
// nothing to adjudicate between, so single passes through unchanged. With
// two or more, the result is built entirely from opposite's clusters (single
// is not used further, matching the source's note that it "doesn't get used
// after here"): clusters sharing a CDR3 length are greedily merged unless
// their naive-sequence Hamming fraction exceeds hiHbound, in which case they
// are kept split.
func resolveDiscordantClusters(single idSet, opposite []clusterInfo, opts Options) []idSet {
	if len(opposite) < 2 {
		return []idSet{single}
	}

	groupOf := make(map[int][]int) // cdr3Length -> indices into opposite, in order
	var cdr3Order []int
	for i, c := range opposite {
		if _, seen := groupOf[c.cdr3Length]; !seen {
			cdr3Order = append(cdr3Order, c.cdr3Length)
		}
		groupOf[c.cdr3Length] = append(groupOf[c.cdr3Length], i)
	}

	bound := 1.0
	if !opts.OverMerge {
		bound = hiHbound(meanOf(allMutFreqs(opposite)))
	}

	var result []idSet
	for _, cdr3 := range cdr3Order {
		members := groupOf[cdr3]
		mustSplit := make(map[int]map[int]bool)
		for ii := 0; ii < len(members); ii++ {
			for jj := ii + 1; jj < len(members); jj++ {
				i, j := members[ii], members[jj]
				if len(opposite[i].naiveSeq) != len(opposite[j].naiveSeq) || opposite[i].naiveSeq == "" {
					continue
				}
				hfrac := align.HammingFraction(opposite[i].naiveSeq, opposite[j].naiveSeq)
				if hfrac > bound {
					if mustSplit[i] == nil {
						mustSplit[i] = make(map[int]bool)
					}
					if mustSplit[j] == nil {
						mustSplit[j] = make(map[int]bool)
					}
					mustSplit[i][j] = true
					mustSplit[j][i] = true
				}
			}
		}

		var groupResult []idSet
		var groupResultIdx [][]int // which opposite indices ended up in each groupResult entry
		for _, i := range members {
			splitFrom := mustSplit[i]
			found := -1
			for ri, existingIdx := range groupResultIdx {
				conflicts := false
				for _, o := range existingIdx {
					if splitFrom[o] {
						conflicts = true
						break
					}
				}
				if !conflicts {
					found = ri
					break
				}
			}
			if found == -1 {
				s := make(idSet)
				for id := range opposite[i].ids {
					s[id] = true
				}
				groupResult = append(groupResult, s)
				groupResultIdx = append(groupResultIdx, []int{i})
			} else {
				for id := range opposite[i].ids {
					groupResult[found][id] = true
				}
				groupResultIdx[found] = append(groupResultIdx[found], i)
			}
		}
		result = append(result, groupResult...)
	}
	return result
}

func allMutFreqs(opposite []clusterInfo) []float64 {
	var out []float64
	for _, c := range opposite {
		out = append(out, c.mutFreqs...)
	}
	return out
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// incorporateRclusts folds resolved into final (a running list of translated-
// id sets). On the first collision with an already-committed cluster, the
// shared uids are removed from the larger of the two, so they stay with the
// smaller one (the smaller, "splittier" evidence wins); on a later collision
// with the same committed cluster the overlap is split off as its own
// cluster, so two different resolved clusters can't get silently merged via
// a shared final cluster. idx is uid -> index into final, kept in sync throughout.
func incorporateRclusts(final *[]idSet, idx map[string]int, resolved []idSet) {
	rc := append([]idSet(nil), resolved...)

	overlapSet := make(map[int]bool)
	for _, r := range rc {
		for id := range r {
			if i, ok := idx[id]; ok {
				overlapSet[i] = true
			}
		}
	}
	var ifovrlps []int
	for i := range overlapSet {
		ifovrlps = append(ifovrlps, i)
	}
	sort.Ints(ifovrlps)

	for _, ifclust := range ifovrlps {
		oldFset := (*final)[ifclust]
		newFset := make(idSet, len(oldFset))
		for id := range oldFset {
			newFset[id] = true
		}

		var irclusts []int
		for i, r := range rc {
			if r.intersects(oldFset) {
				irclusts = append(irclusts, i)
			}
		}

		for k, irclust := range irclusts {
			rset := rc[irclust]
			common := newFset.intersection(rset)
			if k == 0 {
				if len(newFset) > len(rset) {
					newFset.subtract(common)
				} else {
					rset.subtract(common)
				}
			} else {
				newFset.subtract(common)
				rset.subtract(common)
				rc = append(rc, common)
			}
			rc[irclust] = rset
		}

		(*final)[ifclust] = newFset
		for id := range newFset {
			idx[id] = ifclust
		}
	}

	start := len(*final)
	for _, r := range rc {
		*final = append(*final, r)
	}
	for i := start; i < len(*final); i++ {
		for id := range (*final)[i] {
			idx[id] = i
		}
	}
}

// reAddUnpaired re-inserts BadPairFilter's leftovers into jp: a uid that was
// already a singleton stays one; otherwise it attaches to the joint cluster
// holding its nearest still-paired former cluster-mate, falling back to any
// member of its original single-chain family, or else becomes its own new
// cluster (later leftovers from the same family will accrete to it in turn).
func reAddUnpaired(jp *JointPartition, unpaired map[string]badpair.UnpairedInfo, heavy bool) {
	if len(unpaired) == 0 {
		return
	}
	idx := make(map[string]int)
	for i, c := range jp.Clusters {
		ann := c.Light
		if heavy {
			ann = c.Heavy
		}
		if ann == nil {
			continue
		}
		for _, m := range ann.Members {
			idx[m.UID()] = i
		}
	}

	uids := make([]string, 0, len(unpaired))
	for uid := range unpaired {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		info := unpaired[uid]
		m := info.Member
		if m == nil {
			continue
		}

		if info.NearestInCluster == "" && len(info.OriginalSingleChainFamily) <= 1 {
			appendSingleton(jp, heavy, m)
			idx[uid] = len(jp.Clusters) - 1
			continue
		}

		var candidates []string
		if info.NearestPairedInCluster != "" {
			candidates = []string{info.NearestPairedInCluster}
		} else {
			candidates = info.OriginalSingleChainFamily
		}

		target := -1
		for _, cand := range candidates {
			if i, ok := idx[cand]; ok {
				target = i
				break
			}
		}
		if target == -1 {
			appendSingleton(jp, heavy, m)
			idx[uid] = len(jp.Clusters) - 1
			continue
		}
		attach(jp, target, heavy, m)
		idx[uid] = target
	}
}

func attach(jp *JointPartition, i int, heavy bool, m *annotation.Member) {
	c := &jp.Clusters[i]
	if heavy {
		if c.Heavy == nil {
			c.Heavy = &annotation.Annotation{Locus: m.Seq.Locus, Members: []*annotation.Member{m}}
		} else {
			c.Heavy.Members = append(c.Heavy.Members, m)
		}
		return
	}
	if c.Light == nil {
		c.Light = &annotation.Annotation{Locus: m.Seq.Locus, Members: []*annotation.Member{m}}
	} else {
		c.Light.Members = append(c.Light.Members, m)
	}
}

func appendSingleton(jp *JointPartition, heavy bool, m *annotation.Member) {
	jc := JointCluster{}
	ann := &annotation.Annotation{Locus: m.Seq.Locus, Members: []*annotation.Member{m}}
	if heavy {
		jc.Heavy = ann
	} else {
		jc.Light = ann
	}
	jp.Clusters = append(jp.Clusters, jc)
}

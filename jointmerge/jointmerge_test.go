package jointmerge_test

import (
	"testing"

	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/badpair"
	"github.com/scharch/partis/jointmerge"
	"github.com/scharch/partis/sequence"
)

func member(uid string, loc sequence.Locus, mutFreq float64, pids ...string) *annotation.Member {
	return &annotation.Member{
		Seq:          sequence.New(uid, loc, "ACGTACGTACGTACGTACGT"),
		MutFreq:      mutFreq,
		Multiplicity: 1,
		PairedUIDs:   pids,
	}
}

// TestEveryUidAppearsExactlyOnce pins property 2: the joint partition is
// disjoint and covers both single-chain partitions' uids.
func TestEveryUidAppearsExactlyOnce(t *testing.T) {
	h1 := member("h1", sequence.Heavy, 0.05, "l1")
	l1 := member("l1", sequence.LightKappa, 0.05, "h1")

	heavy := &annotation.Partition{Clusters: []*annotation.Annotation{{Family: "h", CDR3Length: 30, NaiveSeq: "AAAA", Members: []*annotation.Member{h1}}}}
	light := &annotation.Partition{Clusters: []*annotation.Annotation{{Family: "l", CDR3Length: 27, NaiveSeq: "CCCC", Members: []*annotation.Member{l1}}}}

	jp, err := jointmerge.Merge(heavy, light, nil, nil, jointmerge.Options{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	seen := map[string]int{}
	for _, c := range jp.Clusters {
		if c.Heavy != nil {
			for _, m := range c.Heavy.Members {
				seen[m.UID()]++
			}
		}
		if c.Light != nil {
			for _, m := range c.Light.Members {
				seen[m.UID()]++
			}
		}
	}
	for _, uid := range []string{"h1", "l1"} {
		if seen[uid] != 1 {
			t.Fatalf("uid %s appeared %d times, want 1", uid, seen[uid])
		}
	}
}

// TestNoMergeAcrossCDR3 pins scenario D / property 3: two light clusters
// overlapping the same heavy cluster, with different CDR3 lengths, must stay
// in distinct joint clusters.
func TestNoMergeAcrossCDR3(t *testing.T) {
	h1 := member("h1", sequence.Heavy, 0.05, "l1")
	h2 := member("h2", sequence.Heavy, 0.05, "l2")
	l1 := member("l1", sequence.LightKappa, 0.05, "h1")
	l2 := member("l2", sequence.LightKappa, 0.05, "h2")

	heavy := &annotation.Partition{Clusters: []*annotation.Annotation{
		{Family: "h", CDR3Length: 30, NaiveSeq: "AAAAAAAAAA", Members: []*annotation.Member{h1, h2}},
	}}
	light := &annotation.Partition{Clusters: []*annotation.Annotation{
		{Family: "l1", CDR3Length: 27, NaiveSeq: "CCCCCCCCCC", Members: []*annotation.Member{l1}},
		{Family: "l2", CDR3Length: 30, NaiveSeq: "GGGGGGGGGG", Members: []*annotation.Member{l2}},
	}}

	jp, err := jointmerge.Merge(heavy, light, nil, nil, jointmerge.Options{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	clusterOf := func(uid string) int {
		for i, c := range jp.Clusters {
			if c.Light != nil {
				for _, m := range c.Light.Members {
					if m.UID() == uid {
						return i
					}
				}
			}
		}
		return -1
	}
	if ci1, ci2 := clusterOf("l1"), clusterOf("l2"); ci1 == ci2 {
		t.Fatalf("l1 and l2 (different CDR3 lengths) ended up in the same joint cluster %d", ci1)
	}
}

// TestReinsertsSingletonUnpaired checks the singleton branch of unpaired
// reinsertion: an unpaired sequence that was already a singleton in its
// single-chain cluster stays a standalone joint cluster.
func TestReinsertsSingletonUnpaired(t *testing.T) {
	h1 := member("h1", sequence.Heavy, 0.05, "l1")
	l1 := member("l1", sequence.LightKappa, 0.05, "h1")

	heavy := &annotation.Partition{Clusters: []*annotation.Annotation{{Family: "h", CDR3Length: 30, NaiveSeq: "AAAA", Members: []*annotation.Member{h1}}}}
	light := &annotation.Partition{Clusters: []*annotation.Annotation{{Family: "l", CDR3Length: 27, NaiveSeq: "CCCC", Members: []*annotation.Member{l1}}}}

	// h2 was already removed from the heavy partition by BadPairFilter (it
	// carried no paired_uids); its UnpairedInfo is the only place its Member
	// still lives.
	h2 := member("h2", sequence.Heavy, 0.05)
	heavyUnpaired := map[string]badpair.UnpairedInfo{"h2": {Member: h2}}

	jp, err := jointmerge.Merge(heavy, light, heavyUnpaired, nil, jointmerge.Options{})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	found := false
	for _, c := range jp.Clusters {
		if c.Heavy != nil && len(c.Heavy.Members) == 1 && c.Heavy.Members[0].UID() == "h2" && c.Light == nil {
			found = true
		}
	}
	if !found {
		t.Fatal("expected h2 to form its own singleton joint cluster")
	}
}

func TestMergeRejectsDuplicateUID(t *testing.T) {
	h1 := member("h1", sequence.Heavy, 0.05)
	heavy := &annotation.Partition{Clusters: []*annotation.Annotation{
		{Family: "h1", Members: []*annotation.Member{h1}},
		{Family: "h2", Members: []*annotation.Member{h1}},
	}}
	light := &annotation.Partition{}
	if _, err := jointmerge.Merge(heavy, light, nil, nil, jointmerge.Options{}); err == nil {
		t.Fatal("expected an error for a uid duplicated across clusters")
	}
}

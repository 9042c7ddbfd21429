// Package story implements the Work Story Grouper (C8): it builds an
// undirected graph over accepted relationships, filters by τ_group, and
// groups evidence into connected components per spec.md §4.8.
package story

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/perfpulse/correlate/evidence"
)

// Config holds the grouper's tunables, per spec.md §4.8.
type Config struct {
	// GroupThreshold (τ_group) is the minimum relationship confidence for
	// an edge to participate in grouping. Default 0.55.
	GroupThreshold float64
	// MaxMembers (N_max) is the maximum member count per story before the
	// component is split. Default 50.
	MaxMembers int
}

// DefaultConfig returns the production defaults from spec.md §4.8.
func DefaultConfig() Config {
	return Config{GroupThreshold: 0.55, MaxMembers: 50}
}

// Story is a connected component of evidence with a stable id, per
// spec.md §3's "Work story" type.
type Story struct {
	ID             string
	Members        []uint64 // sorted evidence fingerprints
	TMin, TMax     time.Time
	PerSourceCount map[string]int
	Title          string
	Relationships  []*evidence.Relationship
}

type edge struct {
	a, b       uint64
	confidence float64
	rel        *evidence.Relationship
}

// Group builds work stories from accepted relationships, per spec.md
// §4.8. Relationships below cfg.GroupThreshold do not participate in
// grouping at all (they may still be reported individually elsewhere).
// Singleton components are dropped; components exceeding cfg.MaxMembers
// are split deterministically.
func Group(cfg Config, relationships []*evidence.Relationship) []*Story {
	itemsByFP := make(map[uint64]*evidence.Item)
	var edges []edge
	for _, r := range relationships {
		if r.Confidence < cfg.GroupThreshold {
			continue
		}
		fa, fb := r.A.Fingerprint(), r.B.Fingerprint()
		itemsByFP[fa] = r.A
		itemsByFP[fb] = r.B
		edges = append(edges, edge{a: fa, b: fb, confidence: r.Confidence, rel: r})
	}
	if len(edges) == 0 {
		return nil
	}

	components := componentsFromEdges(edges)

	var stories []*Story
	for _, comp := range components {
		if len(comp.members) < 2 {
			continue // singleton components are dropped, not stories
		}
		for _, sub := range splitToMax(comp, cfg.MaxMembers) {
			if len(sub.members) < 2 {
				continue
			}
			stories = append(stories, buildStory(sub, itemsByFP))
		}
	}

	sort.Slice(stories, func(i, j int) bool { return stories[i].ID < stories[j].ID })
	return stories
}

type component struct {
	members []uint64
	edges   []edge
}

// componentsFromEdges groups edges into connected components via
// union-find.
func componentsFromEdges(edges []edge) []component {
	uf := newUnionFind()
	for _, e := range edges {
		uf.union(e.a, e.b)
	}

	byRoot := make(map[uint64][]edge)
	membersByRoot := make(map[uint64]map[uint64]bool)
	for _, e := range edges {
		root := uf.find(e.a)
		byRoot[root] = append(byRoot[root], e)
		if membersByRoot[root] == nil {
			membersByRoot[root] = make(map[uint64]bool)
		}
		membersByRoot[root][e.a] = true
		membersByRoot[root][e.b] = true
	}

	var out []component
	for root, es := range byRoot {
		members := make([]uint64, 0, len(membersByRoot[root]))
		for m := range membersByRoot[root] {
			members = append(members, m)
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		out = append(out, component{members: members, edges: es})
	}
	return out
}

// splitToMax recursively splits comp so every returned component has at
// most maxSize members, per spec.md §4.8: "split by removing the
// lowest-confidence edges until all sub-components are ≤ N_max,
// deterministic choice on ties by (confidence asc, lexicographic edge
// endpoints)."
func splitToMax(comp component, maxSize int) []component {
	if len(comp.members) <= maxSize || len(comp.edges) == 0 {
		return []component{comp}
	}

	remaining := make([]edge, 0, len(comp.edges)-1)
	lowest := lowestConfidenceEdge(comp.edges)
	for _, e := range comp.edges {
		if e == lowest {
			continue
		}
		remaining = append(remaining, e)
	}

	if len(remaining) == 0 {
		return nil // every member becomes a singleton; no stories survive
	}

	var out []component
	for _, sub := range componentsFromEdges(remaining) {
		out = append(out, splitToMax(sub, maxSize)...)
	}
	return out
}

// lowestConfidenceEdge returns the edge to remove: lowest confidence,
// ties broken lexicographically by (min endpoint, max endpoint).
func lowestConfidenceEdge(edges []edge) edge {
	best := edges[0]
	for _, e := range edges[1:] {
		if e.confidence < best.confidence {
			best = e
			continue
		}
		if e.confidence == best.confidence && lexLess(e, best) {
			best = e
		}
	}
	return best
}

func lexLess(a, b edge) bool {
	aLo, aHi := a.a, a.b
	if aLo > aHi {
		aLo, aHi = aHi, aLo
	}
	bLo, bHi := b.a, b.b
	if bLo > bHi {
		bLo, bHi = bHi, bLo
	}
	if aLo != bLo {
		return aLo < bLo
	}
	return aHi < bHi
}

func buildStory(comp component, itemsByFP map[uint64]*evidence.Item) *Story {
	s := &Story{
		Members:        comp.members,
		PerSourceCount: make(map[string]int),
	}

	rels := make([]*evidence.Relationship, 0, len(comp.edges))
	degree := make(map[uint64]int)
	for _, e := range comp.edges {
		rels = append(rels, e.rel)
		degree[e.a]++
		degree[e.b]++
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Confidence != rels[j].Confidence {
			return rels[i].Confidence > rels[j].Confidence
		}
		return rels[i].Pair.A < rels[j].Pair.A
	})
	s.Relationships = rels

	for _, fp := range comp.members {
		it, ok := itemsByFP[fp]
		if !ok {
			continue
		}
		s.PerSourceCount[it.Source]++
		if s.TMin.IsZero() || it.Timestamp.Before(s.TMin) {
			s.TMin = it.Timestamp
		}
		if s.TMax.IsZero() || it.Timestamp.After(s.TMax) {
			s.TMax = it.Timestamp
		}
	}

	s.Title = deriveTitle(comp.members, itemsByFP, rels, degree)
	s.ID = computeID(comp.members)
	return s
}

// deriveTitle implements spec.md §4.8's heuristic: "select the
// highest-confidence issue-tracker item's title if present; else the
// longest title among top-3 by degree."
func deriveTitle(members []uint64, itemsByFP map[uint64]*evidence.Item, rels []*evidence.Relationship, degree map[uint64]int) string {
	var bestTicketTitle string
	bestConfidence := -1.0
	for _, r := range rels {
		for _, it := range []*evidence.Item{r.A, r.B} {
			if it.Kind == evidence.KindTicket && r.Confidence > bestConfidence {
				bestConfidence = r.Confidence
				bestTicketTitle = it.Title
			}
		}
	}
	if bestTicketTitle != "" {
		return bestTicketTitle
	}

	type ranked struct {
		fp     uint64
		degree int
	}
	all := make([]ranked, 0, len(members))
	for _, fp := range members {
		all = append(all, ranked{fp: fp, degree: degree[fp]})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].degree != all[j].degree {
			return all[i].degree > all[j].degree
		}
		return all[i].fp < all[j].fp
	})
	top := all
	if len(top) > 3 {
		top = top[:3]
	}
	var longest string
	for _, r := range top {
		it, ok := itemsByFP[r.fp]
		if !ok {
			continue
		}
		if len(it.Title) > len(longest) {
			longest = it.Title
		}
	}
	return longest
}

// computeID derives a stable story id from the sorted member fingerprint
// list, per spec.md §3's invariant that story ids are deterministic given
// identical input — never random, per spec.md §9's design note.
func computeID(sortedMembers []uint64) string {
	h := fnv.New64a()
	for _, fp := range sortedMembers {
		fmt.Fprintf(h, "%016x\x00", fp)
	}
	return fmt.Sprintf("story-%016x", h.Sum64())
}

type unionFind struct {
	parent map[uint64]uint64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[uint64]uint64)}
}

func (uf *unionFind) find(x uint64) uint64 {
	if _, ok := uf.parent[x]; !ok {
		uf.parent[x] = x
		return x
	}
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		uf.parent[x], x = root, uf.parent[x]
	}
	return root
}

func (uf *unionFind) union(a, b uint64) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	// Deterministic merge direction keeps component output stable
	// regardless of edge insertion order.
	if ra < rb {
		uf.parent[rb] = ra
	} else {
		uf.parent[ra] = rb
	}
}

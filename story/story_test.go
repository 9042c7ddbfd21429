package story

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/evidence"
)

func mkItem(id, source string, kind evidence.Kind, title string, ts time.Time) *evidence.Item {
	return &evidence.Item{ID: id, Source: source, Kind: kind, Title: title, Timestamp: ts}
}

func relOf(a, b *evidence.Item, conf float64) *evidence.Relationship {
	return &evidence.Relationship{Pair: evidence.PairIDOf(a, b), A: a, B: b, Confidence: conf, Type: evidence.RelSolves}
}

func TestGroup_ThreeMemberComponent(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkItem("1", "gitea", evidence.KindCommit, "refactor payment retry now", base)
	b := mkItem("2", "gitea", evidence.KindCommit, "refactor payment retry more", base.Add(time.Hour))
	c := mkItem("3", "gitea", evidence.KindCommit, "refactor payment retry final", base.Add(2*time.Hour))

	rels := []*evidence.Relationship{
		relOf(a, b, 0.8),
		relOf(b, c, 0.82),
	}
	stories := Group(DefaultConfig(), rels)
	require.Len(t, stories, 1)
	assert.Len(t, stories[0].Members, 3)
	assert.Equal(t, base, stories[0].TMin)
	assert.Equal(t, base.Add(2*time.Hour), stories[0].TMax)
	assert.Equal(t, 3, stories[0].PerSourceCount["gitea"])
}

func TestGroup_SingletonDropped(t *testing.T) {
	a := mkItem("1", "s", evidence.KindCommit, "t1", time.Now())
	b := mkItem("2", "s", evidence.KindCommit, "t2", time.Now())
	rels := []*evidence.Relationship{relOf(a, b, 0.2)} // below τ_group
	assert.Empty(t, Group(DefaultConfig(), rels))
}

func TestGroup_TitleFromHighestConfidenceTicket(t *testing.T) {
	base := time.Now()
	commit := mkItem("c1", "gitea", evidence.KindCommit, "fix thing", base)
	ticket := mkItem("t1", "gitlab", evidence.KindTicket, "Login crashes on empty password", base)
	rels := []*evidence.Relationship{relOf(commit, ticket, 0.9)}
	stories := Group(DefaultConfig(), rels)
	require.Len(t, stories, 1)
	assert.Equal(t, "Login crashes on empty password", stories[0].Title)
}

func TestGroup_DeterministicID(t *testing.T) {
	a := mkItem("1", "s", evidence.KindCommit, "a", time.Now())
	b := mkItem("2", "s", evidence.KindCommit, "b", time.Now())
	rels := []*evidence.Relationship{relOf(a, b, 0.9)}
	s1 := Group(DefaultConfig(), rels)
	s2 := Group(DefaultConfig(), []*evidence.Relationship{relOf(b, a, 0.9)})
	require.Len(t, s1, 1)
	require.Len(t, s2, 1)
	assert.Equal(t, s1[0].ID, s2[0].ID)
}

func TestGroup_SplitsOversizedComponent(t *testing.T) {
	cfg := Config{GroupThreshold: 0.5, MaxMembers: 2}
	base := time.Now()
	items := make([]*evidence.Item, 4)
	for i := range items {
		items[i] = mkItem(string(rune('a'+i)), "s", evidence.KindCommit, "t", base)
	}
	// Chain a-b-c-d with one weak link (b-c) that should be cut first.
	rels := []*evidence.Relationship{
		relOf(items[0], items[1], 0.9),
		relOf(items[1], items[2], 0.55),
		relOf(items[2], items[3], 0.9),
	}
	stories := Group(cfg, rels)
	for _, s := range stories {
		assert.LessOrEqual(t, len(s.Members), 2)
	}
	total := 0
	for _, s := range stories {
		total += len(s.Members)
	}
	assert.Equal(t, 4, total)
}

func TestGroup_NoEdges_Empty(t *testing.T) {
	assert.Empty(t, Group(DefaultConfig(), nil))
}

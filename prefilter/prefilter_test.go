package prefilter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/evidence"
)

func mustPair(t *testing.T, pairs []*evidence.CandidatePair, a, b *evidence.Item) *evidence.CandidatePair {
	t.Helper()
	id := evidence.PairIDOf(a, b)
	for _, p := range pairs {
		if p.ID == id {
			return p
		}
	}
	require.Failf(t, "pair not found", "no candidate pair for %s/%s", a.ID, b.ID)
	return nil
}

func TestFilter_ExplicitReference(t *testing.T) {
	commit := &evidence.Item{
		ID: "deadbee1234", Source: "gitea", Kind: evidence.KindCommit, Author: "alice",
		Title: "Fix login crash (AUTH-123)", Timestamp: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	ticket := &evidence.Item{
		ID: "AUTH-123", Source: "gitlab", Kind: evidence.KindTicket, Author: "alice",
		Title: "AUTH-123 Login crashes on empty password", Timestamp: time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
	}

	pairs := Filter(DefaultConfig(), []*evidence.Item{commit, ticket})
	require.Len(t, pairs, 1)
	p := mustPair(t, pairs, commit, ticket)
	assert.True(t, p.HasRule(evidence.RuleExplicitReference))
	assert.Equal(t, "AUTH-123", p.MatchedKey)
}

func TestFilter_SameAuthorDifferentSourceWithinWindow(t *testing.T) {
	a := &evidence.Item{ID: "1", Source: "gitea", Kind: evidence.KindCommit, Author: "bob", Title: "refactor retry", Timestamp: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	b := &evidence.Item{ID: "2", Source: "gitlab", Kind: evidence.KindTicket, Author: "bob", Title: "Payments flaky", Timestamp: time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)}

	pairs := Filter(DefaultConfig(), []*evidence.Item{a, b})
	require.Len(t, pairs, 1)
	assert.True(t, pairs[0].HasRule(evidence.RuleSameAuthorWindow))
}

func TestFilter_SameAuthorOutsideWindow_NoPair(t *testing.T) {
	a := &evidence.Item{ID: "1", Source: "gitea", Kind: evidence.KindCommit, Author: "bob", Title: "aaa", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := &evidence.Item{ID: "2", Source: "gitlab", Kind: evidence.KindTicket, Author: "bob", Title: "zzz", Timestamp: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)}

	pairs := Filter(DefaultConfig(), []*evidence.Item{a, b})
	assert.Empty(t, pairs)
}

func TestFilter_TemporalProximitySameKind(t *testing.T) {
	a := &evidence.Item{ID: "1", Source: "gitea", Kind: evidence.KindCommit, Author: "carol", Title: "wip", Timestamp: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	b := &evidence.Item{ID: "2", Source: "gitea", Kind: evidence.KindCommit, Author: "carol", Title: "wip2", Timestamp: time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)}

	pairs := Filter(DefaultConfig(), []*evidence.Item{a, b})
	require.Len(t, pairs, 1)
	assert.True(t, pairs[0].HasRule(evidence.RuleTemporalProximity))
}

func TestFilter_BranchTicketMatch(t *testing.T) {
	commit := &evidence.Item{
		ID: "1", Source: "gitea", Kind: evidence.KindCommit, Author: "dave",
		Title: "wip", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Attrs: map[string]evidence.Attr{"branch": evidence.StrAttr("feature/PROJ-77-fix")},
	}
	ticket := &evidence.Item{
		ID: "PROJ-77", Source: "gitlab", Kind: evidence.KindTicket, Author: "eve",
		Title: "PROJ-77 something broken", Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	pairs := Filter(DefaultConfig(), []*evidence.Item{commit, ticket})
	require.Len(t, pairs, 1)
	assert.True(t, pairs[0].HasRule(evidence.RuleBranchTicketMatch))
}

func TestFilter_TitleNgramOverlap(t *testing.T) {
	a := &evidence.Item{ID: "1", Source: "gitea", Kind: evidence.KindCommit, Author: "x1", Title: "refactor payment retry logic now", Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := &evidence.Item{ID: "2", Source: "gitea", Kind: evidence.KindCommit, Author: "x2", Title: "refactor payment retry logic again", Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}

	pairs := Filter(DefaultConfig(), []*evidence.Item{a, b})
	require.Len(t, pairs, 1)
	assert.True(t, pairs[0].HasRule(evidence.RuleTitleNgramOverlap))
}

func TestFilter_DeterministicOrdering(t *testing.T) {
	items := []*evidence.Item{
		{ID: "3", Source: "gitea", Kind: evidence.KindCommit, Author: "a", Title: "t3", Timestamp: time.Unix(300, 0)},
		{ID: "1", Source: "gitea", Kind: evidence.KindCommit, Author: "a", Title: "t1", Timestamp: time.Unix(100, 0)},
		{ID: "2", Source: "gitea", Kind: evidence.KindCommit, Author: "a", Title: "t2", Timestamp: time.Unix(200, 0)},
	}
	p1 := Filter(DefaultConfig(), items)
	p2 := Filter(DefaultConfig(), []*evidence.Item{items[2], items[0], items[1]})
	require.Equal(t, len(p1), len(p2))
	for i := range p1 {
		assert.Equal(t, p1[i].ID, p2[i].ID)
	}
}

func TestFilter_NoPairsForSingleItem(t *testing.T) {
	a := &evidence.Item{ID: "1", Source: "gitea", Kind: evidence.KindCommit, Author: "a", Title: "t", Timestamp: time.Unix(1, 0)}
	assert.Empty(t, Filter(DefaultConfig(), []*evidence.Item{a}))
}

func TestFilter_EmptySet(t *testing.T) {
	assert.Empty(t, Filter(DefaultConfig(), nil))
}

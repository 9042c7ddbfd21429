package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_MissingFields(t *testing.T) {
	cases := []struct {
		name string
		item Item
	}{
		{"missing id", Item{Source: "gitea", Kind: KindCommit, Timestamp: time.Now()}},
		{"missing source", Item{ID: "1", Kind: KindCommit, Timestamp: time.Now()}},
		{"missing kind", Item{ID: "1", Source: "gitea", Timestamp: time.Now()}},
		{"zero timestamp", Item{ID: "1", Source: "gitea", Kind: KindCommit}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.item.Validate()
			require.Error(t, err)
			var invalid *InvalidEvidence
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestValidate_OK(t *testing.T) {
	it := Item{ID: "1", Source: "gitea", Kind: KindCommit, Timestamp: time.Now()}
	assert.NoError(t, it.Validate())
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("gitea", KindCommit, "abc123")
	b := Fingerprint("gitea", KindCommit, "abc123")
	assert.Equal(t, a, b)

	c := Fingerprint("gitlab", KindCommit, "abc123")
	assert.NotEqual(t, a, c)
}

func TestFingerprint_FieldBoundary(t *testing.T) {
	// Different field splits of the same concatenated bytes must not
	// collide, which is why Fingerprint uses an explicit separator.
	a := Fingerprint("ab", KindCommit, "c")
	b := Fingerprint("a", KindCommit, "bc")
	assert.NotEqual(t, a, b)
}

func TestTruncateBodyTo(t *testing.T) {
	it := Item{Body: "hello world"}
	it.TruncateBodyTo(5)
	assert.Equal(t, "hello", it.Body)

	it2 := Item{Body: "hi"}
	it2.TruncateBodyTo(5)
	assert.Equal(t, "hi", it2.Body)

	it3 := Item{Body: "hi"}
	it3.TruncateBodyTo(0)
	assert.Equal(t, "hi", it3.Body)
}

func TestCanonicalizeTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	it := Item{Timestamp: time.Date(2025, 3, 10, 12, 0, 0, 0, loc)}
	it.CanonicalizeTimestamp()
	assert.Equal(t, time.UTC, it.Timestamp.Location())
	assert.Equal(t, 10, it.Timestamp.Hour())
}

func TestDedup_KeepsLaterTimestamp(t *testing.T) {
	older := &Item{ID: "1", Source: "gitea", Kind: KindCommit, Timestamp: time.Unix(100, 0), Body: "old"}
	newer := &Item{ID: "1", Source: "gitea", Kind: KindCommit, Timestamp: time.Unix(200, 0), Body: "new"}

	out := Dedup([]*Item{older, newer})
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].Body)
}

func TestDedup_DistinctItemsSurvive(t *testing.T) {
	a := &Item{ID: "1", Source: "gitea", Kind: KindCommit, Timestamp: time.Unix(100, 0)}
	b := &Item{ID: "2", Source: "gitea", Kind: KindCommit, Timestamp: time.Unix(100, 0)}
	out := Dedup([]*Item{a, b})
	assert.Len(t, out, 2)
}

func TestDedup_DeterministicOrder(t *testing.T) {
	a := &Item{ID: "1", Source: "gitea", Kind: KindCommit, Timestamp: time.Unix(100, 0)}
	b := &Item{ID: "2", Source: "gitea", Kind: KindCommit, Timestamp: time.Unix(100, 0)}

	out1 := Dedup([]*Item{a, b})
	out2 := Dedup([]*Item{b, a})
	assert.Equal(t, out1[0].Fingerprint(), out2[0].Fingerprint())
	assert.Equal(t, out1[1].Fingerprint(), out2[1].Fingerprint())
}

func TestSameAuthor_LiteralMatch(t *testing.T) {
	im := NewStaticIdentityMap(nil)
	a := &Item{Source: "gitea", Author: "alice"}
	b := &Item{Source: "gitea", Author: "alice"}
	assert.True(t, SameAuthor(im, a, b))
}

func TestSameAuthor_ViaIdentityMap(t *testing.T) {
	im := NewStaticIdentityMap(map[[2]string]PersonID{
		{"gitea", "alice"}:   "person-1",
		{"gitlab", "alice2"}: "person-1",
	})
	a := &Item{Source: "gitea", Author: "alice"}
	b := &Item{Source: "gitlab", Author: "alice2"}
	assert.True(t, SameAuthor(im, a, b))
}

func TestSameAuthor_Unmapped(t *testing.T) {
	im := NewStaticIdentityMap(nil)
	a := &Item{Source: "gitea", Author: "alice"}
	b := &Item{Source: "gitlab", Author: "alice2"}
	assert.False(t, SameAuthor(im, a, b))
}

func TestEmbeddingText(t *testing.T) {
	it := Item{Title: "Fix login crash", Body: "details here"}
	assert.Equal(t, "Fix login crash\ndetails here", it.EmbeddingText())
}

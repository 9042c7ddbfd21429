// Package prefilter generates candidate evidence pairs with cheap,
// rule-based heuristics, for free, before any paid tier runs (spec.md
// §4.3). It is the FREE tier (C3) of the three-tier correlation pipeline.
package prefilter

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/perfpulse/correlate/evidence"
)

// Config holds the tunable windows and thresholds spec.md §4.3 names.
type Config struct {
	// SameAuthorWindow is Δ_t for rule 1 (same author, different source).
	// Default 24h.
	SameAuthorWindow time.Duration
	// TemporalProximityWindow is Δ_t/4 for rule 3 (same author, same kind,
	// rapid iteration). Default SameAuthorWindow/4.
	TemporalProximityWindow time.Duration
	// NgramTheta (θ_ngram) is the minimum Jaccard similarity on title
	// 3-grams for rule 5. Default 0.35.
	NgramTheta float64
	// ExplicitReferenceConfidence is the provisional confidence rule 2
	// assigns before C7 recalibrates it. Default 0.95.
	ExplicitReferenceConfidence float64
}

// DefaultConfig returns the production defaults from spec.md §4.3.
func DefaultConfig() Config {
	window := 24 * time.Hour
	return Config{
		SameAuthorWindow:            window,
		TemporalProximityWindow:     window / 4,
		NgramTheta:                  0.35,
		ExplicitReferenceConfidence: 0.95,
	}
}

// issueKeyRe matches an issue-tracker key like "AUTH-123" or "PROJ-42".
var issueKeyRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-[0-9]+\b`)

// commitHashRe matches a commit hash prefix of at least 7 hex characters.
var commitHashRe = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)

// mrRefRe matches a GitLab/GitHub-style "!123" or "#123" project reference.
var mrRefRe = regexp.MustCompile(`[!#][0-9]+\b`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "to": true,
	"of": true, "in": true, "on": true, "for": true, "is": true, "it": true,
	"with": true, "at": true, "by": true, "from": true, "into": true,
}

// Filter runs every rule from spec.md §4.3 over items and returns the
// deduplicated, deterministically ordered candidate pair set. The
// same-author rules (1 and 3) bucket items by author and compare only
// within a bucket, stopping once a pair falls outside the time window. The
// explicit-reference, branch/ticket and title n-gram rules (2, 4 and 5)
// compare every pair of items, so Filter as a whole is O(n²) in the number
// of items.
func Filter(cfg Config, items []*evidence.Item) []*evidence.CandidatePair {
	pairs := make(map[evidence.PairID]*evidence.CandidatePair)

	merge := func(a, b *evidence.Item, tag evidence.RuleTag, matchedKey string) {
		id := evidence.PairIDOf(a, b)
		p, ok := pairs[id]
		if !ok {
			p = &evidence.CandidatePair{
				ID:               id,
				A:                a,
				B:                b,
				TimeDeltaSeconds: a.Timestamp.Sub(b.Timestamp).Abs().Seconds(),
			}
			pairs[id] = p
		}
		p.AddRule(tag)
		if matchedKey != "" && p.MatchedKey == "" {
			p.MatchedKey = matchedKey
		}
	}

	byAuthor := bucketByAuthor(items)
	for _, bucket := range byAuthor {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Timestamp.Before(bucket[j].Timestamp) })
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				delta := b.Timestamp.Sub(a.Timestamp)
				if delta < 0 {
					delta = -delta
				}
				if delta > cfg.SameAuthorWindow {
					break // bucket is time-sorted; no later pair can be within window either
				}
				if a.Source != b.Source {
					merge(a, b, evidence.RuleSameAuthorWindow, "")
				}
				if a.Source == b.Source && a.Kind == b.Kind && delta <= cfg.TemporalProximityWindow {
					merge(a, b, evidence.RuleTemporalProximity, "")
				}
			}
		}
	}

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if key := explicitReference(a, b); key != "" {
				merge(a, b, evidence.RuleExplicitReference, key)
			}
			if key := branchTicketMatch(a, b); key != "" {
				merge(a, b, evidence.RuleBranchTicketMatch, key)
			}
			if ngramJaccard(a.Title, b.Title) >= cfg.NgramTheta {
				merge(a, b, evidence.RuleTitleNgramOverlap, "")
			}
		}
	}

	out := make([]*evidence.CandidatePair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p)
	}
	evidence.SortPairs(out)
	return out
}

func bucketByAuthor(items []*evidence.Item) map[string][]*evidence.Item {
	buckets := make(map[string][]*evidence.Item)
	for _, it := range items {
		if it.Author == "" {
			continue
		}
		buckets[it.Author] = append(buckets[it.Author], it)
	}
	return buckets
}

// explicitReference implements rule 2: one item's body/title contains the
// other's external key (issue key, commit hash prefix, or MR/PR number).
func explicitReference(a, b *evidence.Item) string {
	if key := findKeyReference(a, b); key != "" {
		return key
	}
	return findKeyReference(b, a)
}

// findKeyReference looks for needle's external key inside haystack's text.
func findKeyReference(needle, haystack *evidence.Item) string {
	text := haystack.Title + " " + haystack.Body

	if needle.Kind == evidence.KindTicket {
		if key := issueKeyRe.FindString(needle.Title); key != "" && strings.Contains(text, key) {
			return key
		}
	}
	if needle.Kind == evidence.KindCommit {
		if key := commitHashRe.FindString(needle.ID); key != "" && len(key) >= 7 && strings.Contains(text, key) {
			return key
		}
	}
	if needle.Kind == evidence.KindMergeReq {
		if ref := mrRefRe.FindString(needle.ID); ref != "" && strings.Contains(text, ref) {
			return ref
		}
	}
	// Generic: any issue key embedded in needle's own title/body that also
	// appears in haystack's text.
	for _, key := range issueKeyRe.FindAllString(needle.Title+" "+needle.Body, -1) {
		if strings.Contains(text, key) {
			return key
		}
	}
	return ""
}

// branchTicketMatch implements rule 4: a branch/source-ref attribute token
// equals an issue key present in the other item.
func branchTicketMatch(a, b *evidence.Item) string {
	if key := branchMatchesOther(a, b); key != "" {
		return key
	}
	return branchMatchesOther(b, a)
}

func branchMatchesOther(withBranch, other *evidence.Item) string {
	attr, ok := withBranch.Attrs["branch"]
	if !ok || attr.Str == "" {
		return ""
	}
	for _, key := range issueKeyRe.FindAllString(attr.Str, -1) {
		if strings.Contains(other.Title+" "+other.Body, key) {
			return key
		}
	}
	return ""
}

// ngramJaccard computes Jaccard similarity on lowercased, stop-word-free
// 3-grams of the two titles, per rule 5.
func ngramJaccard(a, b string) float64 {
	ga := ngrams(a, 3)
	gb := ngrams(b, 3)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	inter := 0
	for g := range ga {
		if gb[g] {
			inter++
		}
	}
	union := len(ga) + len(gb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func ngrams(title string, n int) map[string]bool {
	tokens := tokenize(title)
	set := make(map[string]bool)
	if len(tokens) < n {
		if len(tokens) > 0 {
			set[strings.Join(tokens, " ")] = true
		}
		return set
	}
	for i := 0; i+n <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+n], " ")] = true
	}
	return set
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" && !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

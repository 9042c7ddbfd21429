package evidence

import "sort"

// PairID canonically identifies an unordered pair of evidence fingerprints.
// The lower fingerprint is always stored first so two constructions of the
// same pair compare equal, which spec.md §5 requires for deterministic
// ordering of pre-filter output.
type PairID struct {
	A, B uint64
}

// NewPairID builds a canonical PairID from two fingerprints.
func NewPairID(fpA, fpB uint64) PairID {
	if fpA > fpB {
		fpA, fpB = fpB, fpA
	}
	return PairID{A: fpA, B: fpB}
}

// PairIDOf builds the canonical PairID for two items.
func PairIDOf(a, b *Item) PairID {
	return NewPairID(a.Fingerprint(), b.Fingerprint())
}

// RuleTag names a pre-filter rule, used to tag which rule(s) produced a
// candidate pair (spec.md §4.3).
type RuleTag string

const (
	RuleSameAuthorWindow   RuleTag = "same_author_window"
	RuleExplicitReference  RuleTag = "explicit_reference"
	RuleTemporalProximity  RuleTag = "temporal_proximity"
	RuleBranchTicketMatch  RuleTag = "branch_ticket_match"
	RuleTitleNgramOverlap  RuleTag = "title_ngram_overlap"
)

// CandidatePair is an unordered pair of evidence ids plus the minimal
// context later tiers need, per spec.md §3.
type CandidatePair struct {
	ID PairID
	A  *Item
	B  *Item

	// Rules is the union of pre-filter rule tags that fired for this pair,
	// sorted for deterministic output.
	Rules []RuleTag

	// MatchedKey is the issue/ticket key or commit hash prefix that
	// triggered an explicit-reference or branch/ticket match, if any.
	MatchedKey string

	// TimeDeltaSeconds is the absolute duration, in seconds, between the
	// two items' timestamps, used by temporal rules and carried forward for
	// scoring context.
	TimeDeltaSeconds float64
}

// AddRule adds a rule tag if not already present, keeping Rules sorted.
func (p *CandidatePair) AddRule(tag RuleTag) {
	for _, r := range p.Rules {
		if r == tag {
			return
		}
	}
	p.Rules = append(p.Rules, tag)
	sort.Slice(p.Rules, func(i, j int) bool { return p.Rules[i] < p.Rules[j] })
}

// HasRule reports whether tag fired for this pair.
func (p *CandidatePair) HasRule(tag RuleTag) bool {
	for _, r := range p.Rules {
		if r == tag {
			return true
		}
	}
	return false
}

// SortPairs sorts pairs by (A fingerprint, B fingerprint) for the
// deterministic pre-filter output ordering spec.md §5 requires.
func SortPairs(pairs []*CandidatePair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ID.A != pairs[j].ID.A {
			return pairs[i].ID.A < pairs[j].ID.A
		}
		return pairs[i].ID.B < pairs[j].ID.B
	})
}

package evidence

import "sort"

// RelType enumerates the relationship types spec.md §3 names, in the fixed
// tie-breaking priority order spec.md §4.7 defines (index 0 wins ties).
type RelType string

const (
	RelSolves     RelType = "solves"
	RelReferences RelType = "references"
	RelDuplicates RelType = "duplicates"
	RelSequential RelType = "sequential"
	RelDiscusses  RelType = "discusses"
	RelCoAuthored RelType = "co-authored"
)

// typePriority gives the fixed tie-break order from spec.md §4.7: "solves >
// references > duplicates > sequential > discusses > co-authored."
var typePriority = map[RelType]int{
	RelSolves:     0,
	RelReferences: 1,
	RelDuplicates: 2,
	RelSequential: 3,
	RelDiscusses:  4,
	RelCoAuthored: 5,
}

// TypePriority returns the tie-break rank of a relationship type (lower
// wins). Unknown types sort last.
func TypePriority(t RelType) int {
	if p, ok := typePriority[t]; ok {
		return p
	}
	return len(typePriority)
}

// Method identifies which tier produced a verdict, per spec.md §3.
type Method string

const (
	MethodRuleBased Method = "rule-based"
	MethodEmbedding Method = "embedding"
	MethodLLM       Method = "llm"
)

// MethodVerdict is one method's opinion about a candidate pair, the input
// to the Confidence Scorer (spec.md §4.7).
type MethodVerdict struct {
	Method    Method
	Type      RelType
	Strength  float64 // method-specific normalized strength in [0,1]
	Negative  bool    // true for an llm_negative dissent verdict
	Rationale string
}

// Relationship is a directed-or-undirected link between two evidence items
// with calibrated confidence, per spec.md §3.
type Relationship struct {
	Pair            PairID
	A               *Item
	B               *Item
	Type            RelType
	Confidence      float64
	Method          Method // the max-confidence method's verdict
	Corroborating   []Method
	Rationale       string
	NegativeDissent bool
}

// AddCorroborating records an additional method that also fired for this
// relationship, keeping the list sorted and deduplicated, per spec.md §3's
// invariant that "the relationship stores the max-confidence method's
// verdict plus an array of corroborating methods."
func (r *Relationship) AddCorroborating(m Method) {
	for _, existing := range r.Corroborating {
		if existing == m {
			return
		}
	}
	r.Corroborating = append(r.Corroborating, m)
	sort.Slice(r.Corroborating, func(i, j int) bool { return r.Corroborating[i] < r.Corroborating[j] })
}

// Package insight implements Derived Insights (C9): per-story timeline,
// technology extraction, collaboration indicators, and pattern flags, per
// spec.md §4.9. Every function here is a pure function of a story plus the
// evidence items it references, so recomputation is idempotent.
package insight

import (
	"sort"
	"strings"
	"time"

	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/story"
)

// Config holds the tunable thresholds spec.md §4.9 names.
type Config struct {
	// GapThreshold (γ) marks a phase boundary in the timeline. Default 72h.
	GapThreshold time.Duration
	// BugFixWindow bounds the "bug-fix cluster" pattern lookback. Default 7*24h.
	BugFixWindow time.Duration
	// BugFixMinCount is the minimum count of `solves`-typed items within
	// BugFixWindow to flag a bug-fix cluster. Default 3.
	BugFixMinCount int
	// ReviewHeavyRatio is the comment-to-code-change ratio that flags
	// "review-heavy". Default 2.0.
	ReviewHeavyRatio float64
	// SpecLedGap is the minimum lead time a document must precede code by
	// to flag "spec-led". Default 24h.
	SpecLedGap time.Duration
}

// DefaultConfig returns the production defaults from spec.md §4.9.
func DefaultConfig() Config {
	return Config{
		GapThreshold:     72 * time.Hour,
		BugFixWindow:     7 * 24 * time.Hour,
		BugFixMinCount:   3,
		ReviewHeavyRatio: 2.0,
		SpecLedGap:       24 * time.Hour,
	}
}

// TimelineEvent is one story member placed on the timeline.
type TimelineEvent struct {
	Fingerprint uint64
	Timestamp   time.Time
	Source      string
	Kind        evidence.Kind
	Title       string
}

// Timeline is the sorted event sequence plus detected phase boundaries.
type Timeline struct {
	Events          []TimelineEvent
	PhaseBoundaries []time.Time
}

// Technology is a detected technology and how many times it was
// referenced across the story's evidence.
type Technology struct {
	Name  string
	Count int
}

// Collaboration summarizes cross-person, cross-source activity.
type Collaboration struct {
	DistinctAuthors  int
	CrossSourceLinks int
	CommentLikeItems int
}

// Patterns holds the boolean pattern flags spec.md §4.9 defines.
type Patterns struct {
	BugFixCluster bool
	ReviewHeavy   bool
	SpecLed       bool
}

// Insight is the full derived-insight bundle for one story.
type Insight struct {
	StoryID       string
	Timeline      Timeline
	Technologies  []Technology
	Collaboration Collaboration
	Patterns      Patterns
}

// Compute derives insights for s. items must contain every evidence item
// referenced by s.Members, keyed by fingerprint.
func Compute(cfg Config, s *story.Story, items map[uint64]*evidence.Item) *Insight {
	members := make([]*evidence.Item, 0, len(s.Members))
	for _, fp := range s.Members {
		if it, ok := items[fp]; ok {
			members = append(members, it)
		}
	}

	return &Insight{
		StoryID:       s.ID,
		Timeline:      buildTimeline(cfg, s.Members, members),
		Technologies:  extractTechnologies(members),
		Collaboration: computeCollaboration(members, s.Relationships),
		Patterns:      computePatterns(cfg, members, s.Relationships),
	}
}

func buildTimeline(cfg Config, fps []uint64, members []*evidence.Item) Timeline {
	events := make([]TimelineEvent, 0, len(members))
	for i, it := range members {
		events = append(events, TimelineEvent{
			Fingerprint: fps[i],
			Timestamp:   it.Timestamp,
			Source:      it.Source,
			Kind:        it.Kind,
			Title:       it.Title,
		})
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Fingerprint < events[j].Fingerprint
	})

	var boundaries []time.Time
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Sub(events[i-1].Timestamp) > cfg.GapThreshold {
			boundaries = append(boundaries, events[i].Timestamp)
		}
	}
	return Timeline{Events: events, PhaseBoundaries: boundaries}
}

func extractTechnologies(members []*evidence.Item) []Technology {
	counts := make(map[string]int)
	for _, it := range members {
		text := strings.ToLower(it.Title + " " + it.Body)
		for _, token := range tokenize(text) {
			if name, ok := techTable[token]; ok {
				counts[name]++
			}
		}
	}
	out := make([]Technology, 0, len(counts))
	for name, count := range counts {
		out = append(out, Technology{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func computeCollaboration(members []*evidence.Item, rels []*evidence.Relationship) Collaboration {
	authors := make(map[string]bool)
	sources := make(map[string]bool)
	comments := 0
	for _, it := range members {
		if it.Author != "" {
			authors[it.Author] = true
		}
		sources[it.Source] = true
		if it.Kind == evidence.KindComment || it.Kind == evidence.KindMessage {
			comments++
		}
	}

	crossSource := 0
	for _, r := range rels {
		if r.A.Source != r.B.Source {
			crossSource++
		}
	}

	return Collaboration{
		DistinctAuthors:  len(authors),
		CrossSourceLinks: crossSource,
		CommentLikeItems: comments,
	}
}

func computePatterns(cfg Config, members []*evidence.Item, rels []*evidence.Relationship) Patterns {
	return Patterns{
		BugFixCluster: hasBugFixCluster(cfg, rels),
		ReviewHeavy:   isReviewHeavy(cfg, members),
		SpecLed:       isSpecLed(cfg, members),
	}
}

// hasBugFixCluster flags stories with >= BugFixMinCount items participating
// in a solves-typed relationship whose timestamps fall within any
// BugFixWindow sliding span, per spec.md §4.9's literal definition. An item
// can appear as either endpoint of more than one solves edge; it is only
// counted once.
func hasBugFixCluster(cfg Config, rels []*evidence.Relationship) bool {
	seen := make(map[uint64]time.Time)
	for _, r := range rels {
		if r.Type != evidence.RelSolves {
			continue
		}
		if r.A != nil {
			seen[r.A.Fingerprint()] = r.A.Timestamp
		}
		if r.B != nil {
			seen[r.B.Fingerprint()] = r.B.Timestamp
		}
	}
	if len(seen) < cfg.BugFixMinCount {
		return false
	}
	fixTimes := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		fixTimes = append(fixTimes, ts)
	}
	sort.Slice(fixTimes, func(i, j int) bool { return fixTimes[i].Before(fixTimes[j]) })
	for i := 0; i+cfg.BugFixMinCount-1 < len(fixTimes); i++ {
		if fixTimes[i+cfg.BugFixMinCount-1].Sub(fixTimes[i]) <= cfg.BugFixWindow {
			return true
		}
	}
	return false
}

func isReviewHeavy(cfg Config, members []*evidence.Item) bool {
	comments, codeChanges := 0, 0
	for _, it := range members {
		switch it.Kind {
		case evidence.KindComment:
			comments++
		case evidence.KindCommit, evidence.KindMergeReq:
			codeChanges++
		}
	}
	if codeChanges == 0 {
		return comments > 0
	}
	return float64(comments) >= cfg.ReviewHeavyRatio*float64(codeChanges)
}

func isSpecLed(cfg Config, members []*evidence.Item) bool {
	var earliestDoc, earliestCode time.Time
	for _, it := range members {
		switch it.Kind {
		case evidence.KindDocument:
			if earliestDoc.IsZero() || it.Timestamp.Before(earliestDoc) {
				earliestDoc = it.Timestamp
			}
		case evidence.KindCommit, evidence.KindMergeReq:
			if earliestCode.IsZero() || it.Timestamp.Before(earliestCode) {
				earliestCode = it.Timestamp
			}
		}
	}
	if earliestDoc.IsZero() || earliestCode.IsZero() {
		return false
	}
	return earliestCode.Sub(earliestDoc) >= cfg.SpecLedGap
}

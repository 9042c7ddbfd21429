// Package evidence defines the canonical evidence item — the atomic record
// of one activity on one platform — along with the invariants and
// operations spec.md §3 and §4.1 require of it. Every other correlate
// package (prefilter, embedding, llm, scorer, story, insight) operates on
// Items produced here.
package evidence

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/perfpulse/correlate/correrr"
)

// Kind enumerates the activity types spec.md §3 names.
type Kind string

const (
	KindCommit   Kind = "commit"
	KindMergeReq Kind = "merge-request"
	KindTicket   Kind = "ticket"
	KindComment  Kind = "comment"
	KindMessage  Kind = "message"
	KindDocument Kind = "document"
)

// Attr is a bounded scalar/list variant for the source-specific attribute
// bag (spec.md §9, "Dynamic typing / loose schemas → strict typed model").
// Exactly one of the fields is populated.
type Attr struct {
	Str  string   `json:"str,omitempty"`
	Num  float64  `json:"num,omitempty"`
	Bool bool     `json:"bool,omitempty"`
	List []string `json:"list,omitempty"`
}

// StrAttr builds a string-valued Attr.
func StrAttr(s string) Attr { return Attr{Str: s} }

// NumAttr builds a numeric-valued Attr.
func NumAttr(n float64) Attr { return Attr{Num: n} }

// ListAttr builds a list-valued Attr.
func ListAttr(items ...string) Attr { return Attr{List: items} }

// Item is the atomic record of one activity from one source, per spec.md §3.
type Item struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Kind      Kind            `json:"kind"`
	Author    string          `json:"author"` // platform-local handle
	Timestamp time.Time       `json:"timestamp"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	URL       string          `json:"url"`
	Attrs     map[string]Attr `json:"attrs,omitempty"`
}

// MaxBodyLength is the default truncation limit applied before any
// cost-bearing operation, per spec.md §3's invariant that "body length is
// truncated to a configured maximum before any cost-bearing operation."
const MaxBodyLength = 4000

// InvalidEvidence is returned by Validate when a required field is missing
// or the timestamp is unparseable, per spec.md §4.1.
type InvalidEvidence struct {
	Field  string
	Reason string
}

func (e *InvalidEvidence) Error() string {
	return fmt.Sprintf("invalid evidence: field %q: %s", e.Field, e.Reason)
}

// Code implements correrr.CorrError: a malformed item is always the
// caller's input, never a provider or budget failure.
func (e *InvalidEvidence) Code() correrr.Code { return correrr.CodeInvalidInput }

func (e *InvalidEvidence) Unwrap() error { return nil }

var _ correrr.CorrError = (*InvalidEvidence)(nil)

// Validate checks the required-field invariants spec.md §3/§4.1 describe.
// It does not check timestamp parseability (Timestamp is already a
// time.Time by construction) but does reject the zero time, which is how a
// collector signals "could not parse timestamp."
func (it *Item) Validate() error {
	if it.ID == "" {
		return &InvalidEvidence{Field: "ID", Reason: "must not be empty"}
	}
	if it.Source == "" {
		return &InvalidEvidence{Field: "Source", Reason: "must not be empty"}
	}
	if it.Kind == "" {
		return &InvalidEvidence{Field: "Kind", Reason: "must not be empty"}
	}
	if it.Timestamp.IsZero() {
		return &InvalidEvidence{Field: "Timestamp", Reason: "not parseable or not set"}
	}
	return nil
}

// CanonicalizeTimestamp normalizes Timestamp to UTC in place, satisfying
// spec.md §3's invariant that timestamps are "comparable across sources
// after normalization to UTC."
func (it *Item) CanonicalizeTimestamp() {
	it.Timestamp = it.Timestamp.UTC()
}

// TruncateBodyTo truncates Body to at most limit runes, preserving valid
// UTF-8. A limit <= 0 leaves Body untouched.
func (it *Item) TruncateBodyTo(limit int) {
	if limit <= 0 {
		return
	}
	runes := []rune(it.Body)
	if len(runes) > limit {
		it.Body = string(runes[:limit])
	}
}

// Fingerprint computes the 64-bit stable hash over (source, kind, id) that
// spec.md §4.1 defines as the cache and dedup key. It is stable across
// processes and Go versions because it hashes a fixed string encoding
// rather than relying on map iteration or struct layout.
func Fingerprint(source string, kind Kind, id string) uint64 {
	h := fnv.New64a()
	// "\x00" is not a legal byte in any of the three fields as produced by
	// collectors (ids/sources/kinds are alphanumeric/slug-like), so it is
	// a safe separator against field-boundary collisions.
	fmt.Fprintf(h, "%s\x00%s\x00%s", source, string(kind), id)
	return h.Sum64()
}

// Fingerprint returns this item's fingerprint.
func (it *Item) Fingerprint() uint64 {
	return Fingerprint(it.Source, it.Kind, it.ID)
}

// FingerprintHex returns the item's fingerprint as a fixed-width hex
// string, the format spec.md §6 uses as half of the embedding cache key
// (`hex(fingerprint) + ":" + hex(model_id)`).
func (it *Item) FingerprintHex() string {
	return fmt.Sprintf("%016x", it.Fingerprint())
}

// Key identifies an item uniquely within a run: (source, kind, id). It is
// used as a map key wherever items must be deduplicated or looked up by
// identity rather than by fingerprint hash.
type Key struct {
	Source string
	Kind   Kind
	ID     string
}

// KeyOf returns the identity key of an item.
func KeyOf(it *Item) Key {
	return Key{Source: it.Source, Kind: it.Kind, ID: it.ID}
}

// Dedup coalesces items with identical fingerprints, per spec.md §4.2's
// "Deduplication at ingest" rule: when two items collide, the one with the
// later timestamp wins (its fields, including any updated body, are kept).
// The returned slice is sorted by fingerprint for deterministic downstream
// ordering (spec.md §5, "Ordering guarantees").
func Dedup(items []*Item) []*Item {
	byFP := make(map[uint64]*Item, len(items))
	for _, it := range items {
		fp := it.Fingerprint()
		existing, ok := byFP[fp]
		if !ok || it.Timestamp.After(existing.Timestamp) {
			byFP[fp] = it
		}
	}
	out := make([]*Item, 0, len(byFP))
	for _, it := range byFP {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint() < out[j].Fingerprint() })
	return out
}

// NormalizeAll canonicalizes timestamps and truncates bodies on every item
// in place, in preparation for pre-filtering and cost-bearing tiers
// (spec.md §4.10, pipeline step 2, "Normalize and deduplicate").
func NormalizeAll(items []*Item, bodyLimit int) {
	for _, it := range items {
		it.CanonicalizeTimestamp()
		it.TruncateBodyTo(bodyLimit)
	}
}

// EmbeddingText returns the text an embedding provider should vectorize
// for this item: title, a newline, then the (already truncated) body, per
// spec.md §4.4.
func (it *Item) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(it.Title)
	b.WriteByte('\n')
	b.WriteString(it.Body)
	return b.String()
}

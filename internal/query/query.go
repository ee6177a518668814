// Package query implements hybrid keyword + semantic ranking over the
// latest catalog projection, plus the filter predicate and "top" ranker
// shared by both.
package query

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/khalidsaidi/ragmap/internal/catalog"
	"github.com/khalidsaidi/ragmap/internal/enrich"
)

// Item is one searchable projection of a latest catalog entry.
type Item struct {
	Entry      catalog.CatalogEntry
	SearchText string
}

// ResultKind records which ranker produced a hybrid result.
type ResultKind string

const (
	KindKeyword  ResultKind = "keyword"
	KindSemantic ResultKind = "semantic"
)

// Result is a single ranked item.
type Result struct {
	Entry catalog.CatalogEntry
	Score float64
	Kind  ResultKind
}

// Filters is the predicate applied before scoring.
type Filters struct {
	MinScore     *int
	Categories   []string
	Transport    string
	RegistryType string
	HasRemote    *bool
	Reachable    *bool
	Citations    *bool
	LocalOnly    *bool
	ServerKind   *catalog.ServerKind
}

const maxQueryTokens = 16

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// BuildItem rebuilds the search projection for an entry. It is never
// persisted; callers recompute it from the latest catalog snapshot.
func BuildItem(entry catalog.CatalogEntry) Item {
	return Item{Entry: entry, SearchText: enrich.TextBlob(entry.Server)}
}

// MatchesFilter applies the §4.H filter predicate.
func MatchesFilter(item Item, f Filters) bool {
	e := item.Entry.Ragmap

	if f.MinScore != nil && e.RagScore < *f.MinScore {
		return false
	}
	if len(f.Categories) > 0 && !hasAllCategories(e.Categories, f.Categories) {
		return false
	}
	if f.Transport != "" && !hasTransport(item.Entry.Server, f.Transport) {
		return false
	}
	if f.RegistryType != "" && !hasRegistryType(item.Entry.Server, f.RegistryType) {
		return false
	}
	if f.HasRemote != nil && inferredHasRemote(item.Entry) != *f.HasRemote {
		return false
	}
	if f.Reachable != nil {
		if *f.Reachable {
			if e.Reachable == nil || !*e.Reachable {
				return false
			}
		}
	}
	if f.Citations != nil && *f.Citations && !e.Citations {
		return false
	}
	if f.LocalOnly != nil && inferredLocalOnly(item.Entry) != *f.LocalOnly {
		return false
	}
	if f.ServerKind != nil && e.ServerKind != *f.ServerKind {
		return false
	}
	return true
}

func hasAllCategories(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[strings.ToLower(c)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}

func hasTransport(server catalog.ServerRecord, transport string) bool {
	want := catalog.TransportType(transport)
	for _, pkg := range server.Packages {
		if pkg.Transport != nil && pkg.Transport.Type == want {
			return true
		}
	}
	for _, r := range server.Remotes {
		if r.Type == want {
			return true
		}
	}
	return false
}

func hasRegistryType(server catalog.ServerRecord, registryType string) bool {
	for _, pkg := range server.Packages {
		if strings.EqualFold(pkg.RegistryType, registryType) {
			return true
		}
	}
	return false
}

// inferredHasRemote returns the enrichment's HasRemote classification,
// recomputing from the server record directly if enrichment was never run
// for this entry (a defensive fallback — in practice every stored entry
// has been enriched).
func inferredHasRemote(entry catalog.CatalogEntry) bool {
	if entry.Ragmap.ServerKind == "" && entry.Ragmap.RagScore == 0 && entry.Ragmap.Categories == nil {
		return recomputeHasRemote(entry.Server)
	}
	return entry.Ragmap.HasRemote
}

func inferredLocalOnly(entry catalog.CatalogEntry) bool {
	return !inferredHasRemote(entry)
}

func recomputeHasRemote(server catalog.ServerRecord) bool {
	for _, r := range server.Remotes {
		if strings.TrimSpace(r.URL) != "" {
			return true
		}
	}
	for _, pkg := range server.Packages {
		if pkg.Transport != nil && pkg.Transport.Type == catalog.TransportStreamableHTTP && strings.TrimSpace(pkg.Transport.URL) != "" {
			return true
		}
	}
	return false
}

// Tokenize lowercases and splits a query into alphanumeric tokens, taking
// the first 16 and deduping in order.
func Tokenize(q string) []string {
	lower := strings.ToLower(q)
	raw := tokenSplit.Split(lower, -1)

	seen := make(map[string]struct{})
	var tokens []string
	taken := 0
	for _, t := range raw {
		if t == "" {
			continue
		}
		if taken == maxQueryTokens {
			break
		}
		taken++
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens
}

// KeywordScore counts distinct tokens whose word-boundary-prefix regex
// matches searchText, case-insensitively.
func KeywordScore(tokens []string, searchText string) int {
	score := 0
	for _, t := range tokens {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t))
		if re.MatchString(searchText) {
			score++
		}
	}
	return score
}

// CosineSimilarity computes cosine similarity in [-1,1]. Mismatched or
// empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// qualityLess reports whether i sorts before j by the quality-signal
// tiebreaker tuple: reachable, ragScore desc, official.updatedAt desc,
// name asc.
func qualityLess(i, j catalog.CatalogEntry) bool {
	ri := i.Ragmap.Reachable != nil && *i.Ragmap.Reachable
	rj := j.Ragmap.Reachable != nil && *j.Ragmap.Reachable
	if ri != rj {
		return ri
	}
	if i.Ragmap.RagScore != j.Ragmap.RagScore {
		return i.Ragmap.RagScore > j.Ragmap.RagScore
	}
	ui, uj := i.Official.UpdatedAt(), j.Official.UpdatedAt()
	switch {
	case ui != nil && uj != nil && !ui.Equal(*uj):
		return ui.After(*uj)
	case ui != nil && uj == nil:
		return true
	case ui == nil && uj != nil:
		return false
	}
	return i.Server.Name < j.Server.Name
}

// Keyword ranks items by keyword score, ties broken by quality signals.
// Zero-score items are dropped.
func Keyword(items []Item, q string, filters Filters) []Result {
	tokens := Tokenize(q)
	var results []Result
	for _, item := range items {
		if !MatchesFilter(item, filters) {
			continue
		}
		score := KeywordScore(tokens, item.SearchText)
		if score == 0 {
			continue
		}
		results = append(results, Result{Entry: item.Entry, Score: float64(score), Kind: KindKeyword})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return qualityLess(results[i].Entry, results[j].Entry)
	})
	return results
}

// Semantic ranks items by cosine similarity against queryVector. Items
// without an embedding are skipped; non-positive scores are dropped.
func Semantic(items []Item, queryVector []float32, filters Filters) []Result {
	if len(queryVector) == 0 {
		return nil
	}
	var results []Result
	for _, item := range items {
		if !MatchesFilter(item, filters) {
			continue
		}
		if item.Entry.Ragmap.Embedding == nil {
			continue
		}
		score := CosineSimilarity(queryVector, item.Entry.Ragmap.Embedding.Vector)
		if score <= 0 {
			continue
		}
		results = append(results, Result{Entry: item.Entry, Score: score, Kind: KindSemantic})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return qualityLess(results[i].Entry, results[j].Entry)
	})
	return results
}

// Hybrid merges semantic results first (up to limit), then appends
// keyword-only names not already emitted, until limit.
func Hybrid(items []Item, q string, queryVector []float32, filters Filters, limit int) []Result {
	semantic := Semantic(items, queryVector, filters)
	keyword := Keyword(items, q, filters)

	emitted := make(map[catalog.ServerName]struct{})
	var out []Result

	for _, r := range semantic {
		if len(out) >= limit {
			break
		}
		out = append(out, r)
		emitted[r.Entry.Server.Name] = struct{}{}
	}
	for _, r := range keyword {
		if len(out) >= limit {
			break
		}
		if _, ok := emitted[r.Entry.Server.Name]; ok {
			continue
		}
		out = append(out, r)
		emitted[r.Entry.Server.Name] = struct{}{}
	}
	return out
}

// Top applies the filter predicate and orders purely by quality signals.
func Top(items []Item, filters Filters, limit int) []Result {
	var results []Result
	for _, item := range items {
		if !MatchesFilter(item, filters) {
			continue
		}
		results = append(results, Result{Entry: item.Entry})
	}
	sort.SliceStable(results, func(i, j int) bool { return qualityLess(results[i].Entry, results[j].Entry) })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

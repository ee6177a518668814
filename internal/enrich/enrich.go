// Package enrich derives a deterministic RAG-relevance classification from
// a normalized server record. Enrich is a pure function: identical input
// always produces bit-identical output, which keeps it cheap to test with
// canonical snapshots and cheap to recompute whenever the rule table
// changes.
package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/khalidsaidi/ragmap/internal/catalog"
)

type rule struct {
	category    string
	score       int
	pattern     *regexp.Regexp
	keyword     string
	requireCore bool
}

// rules is the ordered rule table. Order determines insertion order of
// categories/reasons/keywords and the requireCore gating of the "search"
// rule on a prior core-category match.
var rules = []rule{
	{category: "rag", score: 30, pattern: regexp.MustCompile(`(?i)\brag\b|retrieval[- ]augmented`), keyword: "rag"},
	{category: "retrieval", score: 15, pattern: regexp.MustCompile(`(?i)\bretriev(al|e)\b|semantic search`), keyword: "retrieval"},
	{category: "embeddings", score: 20, pattern: regexp.MustCompile(`(?i)\bembedding(s)?\b|vectorize|text-embedding`), keyword: "embeddings"},
	{category: "vector-db", score: 20, pattern: regexp.MustCompile(`(?i)\bvector\s*(db|database)\b|vector store|pgvector`), keyword: "vector db"},
	{category: "qdrant", score: 15, pattern: regexp.MustCompile(`(?i)\bqdrant\b`)},
	{category: "pinecone", score: 15, pattern: regexp.MustCompile(`(?i)\bpinecone\b`)},
	{category: "weaviate", score: 15, pattern: regexp.MustCompile(`(?i)\bweaviate\b`)},
	{category: "milvus", score: 15, pattern: regexp.MustCompile(`(?i)\bmilvus\b`)},
	{category: "chroma", score: 15, pattern: regexp.MustCompile(`(?i)\bchroma\b`)},
	{category: "reranking", score: 12, pattern: regexp.MustCompile(`(?i)\brerank(er|ing)?\b`), keyword: "rerank"},
	{category: "documents", score: 10, pattern: regexp.MustCompile(`(?i)\bpdf\b|docx|markdown|documents?\b`), keyword: "documents"},
	{category: "ingestion", score: 10, pattern: regexp.MustCompile(`(?i)\bingest(ion|ing)?\b|etl|connector`), keyword: "ingestion"},
	{category: "search", score: 8, pattern: regexp.MustCompile(`(?i)\bsearch\b|query\b`), keyword: "search", requireCore: true},
}

var citationsPattern = regexp.MustCompile(`(?i)\bcitation(s)?\b|cite(s|d)?\s+(source|reference)|source\s+attribution|grounding\b|provenance\b`)

type kindRule struct {
	kind    catalog.ServerKind
	pattern *regexp.Regexp
}

var kindRules = []kindRule{
	{catalog.ServerKindEvaluator, regexp.MustCompile(`(?i)evaluate|evaluation|benchmark|dataset|leaderboard|judge`)},
	{catalog.ServerKindIndexer, regexp.MustCompile(`(?i)ingest|index|crawl|scrape|etl|connector`)},
	{catalog.ServerKindRouter, regexp.MustCompile(`(?i)router|select tool|tool selection|orchestrate`)},
	{catalog.ServerKindRetriever, regexp.MustCompile(`(?i)search|retrieval|retriever|semantic search|rag|vector search`)},
}

const (
	maxReasons  = 12
	maxKeywords = 24
)

// Enrich derives the full Enrichment for a server record. It never touches
// reachability fields or the embedding vector — those are populated by
// other components. It does set EmbeddingTextHash.
func Enrich(server catalog.ServerRecord) catalog.Enrichment {
	blob := buildTextBlob(server)

	var categories, reasons, keywords []string
	seenCategory := make(map[string]struct{})
	seenReason := make(map[string]struct{})
	seenKeyword := make(map[string]struct{})

	score := 0
	coreFired := false

	for _, r := range rules {
		if r.requireCore && !coreFired {
			continue
		}
		if !r.pattern.MatchString(blob) {
			continue
		}

		if !r.requireCore {
			coreFired = true
		}

		if _, ok := seenCategory[r.category]; !ok {
			seenCategory[r.category] = struct{}{}
			categories = append(categories, r.category)
		}
		if _, ok := seenReason[r.category]; !ok && len(reasons) < maxReasons {
			seenReason[r.category] = struct{}{}
			reasons = append(reasons, r.category)
		}
		if r.keyword != "" {
			if _, ok := seenKeyword[r.keyword]; !ok && len(keywords) < maxKeywords {
				seenKeyword[r.keyword] = struct{}{}
				keywords = append(keywords, r.keyword)
			}
		}
		score += r.score
	}
	if score > 100 {
		score = 100
	}

	hasRemote := inferHasRemote(server)
	citations := citationsPattern.MatchString(blob)
	kind := inferServerKind(server)

	sum := sha256.Sum256([]byte(blob))

	return catalog.Enrichment{
		Categories:        categories,
		RagScore:          score,
		Reasons:           reasons,
		Keywords:          keywords,
		HasRemote:         hasRemote,
		LocalOnly:         !hasRemote,
		Citations:         citations,
		ServerKind:        kind,
		EmbeddingTextHash: hex.EncodeToString(sum[:]),
	}
}

// TextBlob exposes the concatenated input text used to derive the
// enrichment and, separately, for keyword/semantic search (§4.H rebuilds it
// rather than persisting it).
func TextBlob(server catalog.ServerRecord) string {
	return buildTextBlob(server)
}

func buildTextBlob(server catalog.ServerRecord) string {
	var lines []string
	push := func(s string) {
		if s != "" {
			lines = append(lines, s)
		}
	}

	push(string(server.Name))
	push(server.Title)
	push(server.Description)
	push(server.RepositoryURL)
	push(server.WebsiteURL)

	for _, pkg := range server.Packages {
		push(pkg.Identifier)
		push(pkg.RegistryType)
		if pkg.Transport != nil {
			push(string(pkg.Transport.Type))
		}
	}
	for _, remote := range server.Remotes {
		push(string(remote.Type))
		push(remote.URL)
	}

	return strings.Join(lines, "\n")
}

func inferHasRemote(server catalog.ServerRecord) bool {
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

func inferServerKind(server catalog.ServerRecord) catalog.ServerKind {
	text := string(server.Name) + "\n" + server.Title + "\n" + server.Description
	for _, kr := range kindRules {
		if kr.pattern.MatchString(text) {
			return kr.kind
		}
	}
	return catalog.ServerKindOther
}

// Package catalog defines the RAGMap data model and the Store contract
// that the ingestion coordinator, reachability scheduler, and query engine
// share.
package catalog

import (
	"encoding/json"
	"time"
)

// ServerName is an opaque upstream identifier. It may contain forward
// slashes and is treated as a single token when persisted; comparisons are
// byte-exact.
type ServerName string

// Version is an opaque string in the upstream's own versioning scheme.
type Version string

// RunMode selects ingestion behavior.
type RunMode string

const (
	RunModeFull        RunMode = "full"
	RunModeIncremental RunMode = "incremental"
)

// ServerKind is the finite classification produced by the enrichment engine.
type ServerKind string

const (
	ServerKindRetriever ServerKind = "retriever"
	ServerKindEvaluator ServerKind = "evaluator"
	ServerKindIndexer   ServerKind = "indexer"
	ServerKindRouter    ServerKind = "router"
	ServerKindOther     ServerKind = "other"
)

// TransportType identifies a package or remote transport.
type TransportType string

const (
	TransportStdio          TransportType = "stdio"
	TransportStreamableHTTP TransportType = "streamable-http"
	TransportSSE            TransportType = "sse"
)

// ReachabilityMethod records which HTTP method produced a probe result.
type ReachabilityMethod string

const (
	ReachabilityMethodHead ReachabilityMethod = "HEAD"
	ReachabilityMethodGet  ReachabilityMethod = "GET"
)

// Header describes a named header a remote transport may require.
type Header struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsSecret    bool   `json:"isSecret"`
	Required    bool   `json:"required"`
}

// Remote is a streamable-http or sse endpoint a server exposes.
type Remote struct {
	Type    TransportType `json:"type"`
	URL     string        `json:"url"`
	Headers []Header      `json:"headers,omitempty"`
}

// PackageArgument is a single positional argument passed to a stdio package.
type PackageArgument struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PackageTransport describes how a package is invoked.
type PackageTransport struct {
	Type TransportType `json:"type"`
	URL  string        `json:"url,omitempty"`
}

// Package describes a single installable artifact for a server.
type Package struct {
	RegistryType     string             `json:"registryType"`
	Identifier       string             `json:"identifier"`
	Version          string             `json:"version,omitempty"`
	RuntimeHint      string             `json:"runtimeHint,omitempty"`
	Transport        *PackageTransport  `json:"transport,omitempty"`
	PackageArguments []PackageArgument  `json:"packageArguments,omitempty"`
}

// OfficialMeta is the opaque upstream metadata blob. Known keys get typed
// accessors; everything else round-trips unchanged through Raw.
type OfficialMeta struct {
	Raw json.RawMessage `json:"-"`
}

type officialShape struct {
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"publishedAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
	IsLatest    bool       `json:"isLatest"`
}

// MarshalJSON passes the raw blob through unchanged.
func (o OfficialMeta) MarshalJSON() ([]byte, error) {
	if len(o.Raw) == 0 {
		return []byte("null"), nil
	}
	return o.Raw, nil
}

// UnmarshalJSON stores the raw blob for pass-through.
func (o *OfficialMeta) UnmarshalJSON(data []byte) error {
	o.Raw = append([]byte(nil), data...)
	return nil
}

func (o OfficialMeta) decode() officialShape {
	var s officialShape
	if len(o.Raw) == 0 {
		return s
	}
	_ = json.Unmarshal(o.Raw, &s)
	return s
}

// Status returns the upstream's lifecycle status as upstream wrote it (case
// is not normalised).
func (o OfficialMeta) Status() string { return o.decode().Status }

// IsLatest reports whether upstream marked this version as latest.
func (o OfficialMeta) IsLatest() bool { return o.decode().IsLatest }

// UpdatedAt returns the upstream's updatedAt, if present.
func (o OfficialMeta) UpdatedAt() *time.Time { return o.decode().UpdatedAt }

// PublishedAt returns the upstream's publishedAt, if present.
func (o OfficialMeta) PublishedAt() *time.Time { return o.decode().PublishedAt }

// ServerRecord is the normalized, immutable-once-written form of a single
// (name, version) upstream entry.
type ServerRecord struct {
	Name        ServerName `json:"name"`
	Version     Version    `json:"version"`
	Description string     `json:"description,omitempty"`
	Title       string     `json:"title,omitempty"`

	RepositoryURL string `json:"repositoryUrl,omitempty"`
	WebsiteURL    string `json:"websiteUrl,omitempty"`

	Remotes  []Remote  `json:"remotes,omitempty"`
	Packages []Package `json:"packages,omitempty"`

	Official           OfficialMeta    `json:"official"`
	PublisherProvided  json.RawMessage `json:"publisherProvided,omitempty"`
}

// Embedding is a dense vector produced by an embedding provider.
type Embedding struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Vector     []float32 `json:"vector"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Enrichment is the derived, deterministic classification attached to a
// ServerRecord. It is replaced wholesale on every ingest of a given version.
type Enrichment struct {
	Categories []string   `json:"categories,omitempty"`
	RagScore   int        `json:"ragScore"`
	Reasons    []string   `json:"reasons,omitempty"`
	Keywords   []string   `json:"keywords,omitempty"`
	HasRemote  bool       `json:"hasRemote"`
	LocalOnly  bool       `json:"localOnly"`
	Citations  bool       `json:"citations"`
	ServerKind ServerKind `json:"serverKind"`

	Embedding         *Embedding `json:"embedding,omitempty"`
	EmbeddingTextHash string     `json:"embeddingTextHash,omitempty"`

	Reachable          *bool               `json:"reachable,omitempty"`
	ReachableCheckedAt *time.Time          `json:"reachableCheckedAt,omitempty"`
	LastReachableAt    *time.Time          `json:"lastReachableAt,omitempty"`
	ReachableStatus    *int                `json:"reachableStatus,omitempty"`
	ReachableMethod    *ReachabilityMethod `json:"reachableMethod,omitempty"`
}

// CatalogEntry is the canonical serialized form of one server version plus
// its derived enrichment.
type CatalogEntry struct {
	Server            ServerRecord    `json:"server"`
	Official          OfficialMeta    `json:"official"`
	PublisherProvided json.RawMessage `json:"publisherProvided,omitempty"`
	Ragmap            Enrichment      `json:"ragmap"`
}

// RunMeta describes a single ingestion run.
type RunMeta struct {
	RunID      string     `json:"runId"`
	Mode       RunMode    `json:"mode"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// ProcessMeta tracks process-wide watermarks that survive across runs.
type ProcessMeta struct {
	LastSuccessfulIngestAt *time.Time `json:"lastSuccessfulIngestAt,omitempty"`
	LastReachabilityRunAt  *time.Time `json:"lastReachabilityRunAt,omitempty"`
}

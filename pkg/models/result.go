package models

import "time"

// Result sources.
const (
	SourceStructured = "structured"
	SourceDocument   = "document"
	SourceBoth       = "both"
)

// ResultItem is one ranked answer. IdentityKey is empty when the item cannot
// be correlated across sources.
type ResultItem struct {
	Source      string         `json:"source"`
	IdentityKey string         `json:"identity_key,omitempty"`
	Payload     map[string]any `json:"payload"`
	Relevance   float64        `json:"relevance"`
}

// DocumentHit is one vector index match.
type DocumentHit struct {
	DocumentID string         `json:"document_id"`
	DocType    string         `json:"doc_type,omitempty"`
	Content    string         `json:"content,omitempty"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ResolutionResult is the cached, attributed answer to a query.
type ResolutionResult struct {
	Query          string              `json:"query"`
	ConnectionID   string              `json:"connection_id,omitempty"`
	Classification QueryClassification `json:"classification"`
	Mapping        *MappingResult      `json:"mapping,omitempty"`
	GeneratedQuery *GeneratedQuery     `json:"generated_query,omitempty"`
	Items          []ResultItem        `json:"items"`
	Degraded       bool                `json:"degraded"`
	Warnings       []string            `json:"warnings,omitempty"`
	ResolvedAt     time.Time           `json:"resolved_at"`
}

// Resolution wraps a result with cache provenance. RequestID is unique per
// call and is not part of the cached payload.
type Resolution struct {
	RequestID   string            `json:"request_id"`
	Fingerprint string            `json:"fingerprint"`
	FromCache   bool              `json:"from_cache"`
	Result      *ResolutionResult `json:"result"`
}

// CacheEntry is a stored resolution payload.
type CacheEntry struct {
	Fingerprint       string    `json:"fingerprint"`
	SourceFingerprint string    `json:"source_fingerprint"`
	Payload           []byte    `json:"payload"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry. A zero ExpiresAt never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

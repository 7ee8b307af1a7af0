// Package vectorstore defines the similarity index the document branch consumes.
// Embeddings are produced by an external ingestion pipeline; this side only reads.
package vectorstore

import (
	"context"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// SearchRequest is one nearest-neighbour lookup.
type SearchRequest struct {
	Text          string
	TopK          int
	MinSimilarity float64
	DocTypes      []string // empty means any type
}

// Index is a read-only vector index over pre-embedded documents.
// Hits are ordered by descending similarity in [0,1].
type Index interface {
	Search(ctx context.Context, req SearchRequest) ([]models.DocumentHit, error)
	Ping(ctx context.Context) error
	Close() error
}

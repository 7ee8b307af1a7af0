package services

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/vectorstore"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// SearchOptions bounds document search.
type SearchOptions struct {
	TopK            int
	MaxTopK         int
	MinSimilarity   float64
	UseTypePriority bool
}

// DocumentSearchAdapter runs similarity search against the vector index.
type DocumentSearchAdapter interface {
	// Search returns hits ranked by similarity. Non-positive topK or negative
	// minSimilarity use the configured defaults. An unreachable or missing
	// index fails with *apperrors.SearchUnavailableError.
	Search(ctx context.Context, text string, topK int, minSimilarity float64, docTypes []string) ([]models.DocumentHit, error)
	Available() bool
	Ping(ctx context.Context) error
}

type documentSearchAdapter struct {
	index  vectorstore.Index
	opts   SearchOptions
	vocab  *Vocabulary
	logger *zap.Logger
}

// NewDocumentSearchAdapter creates a DocumentSearchAdapter. index may be nil
// when no vector store is configured.
func NewDocumentSearchAdapter(index vectorstore.Index, opts SearchOptions, vocab *Vocabulary, logger *zap.Logger) DocumentSearchAdapter {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 100
	}
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &documentSearchAdapter{index: index, opts: opts, vocab: vocab, logger: logger.Named("document_search")}
}

func (d *documentSearchAdapter) Available() bool {
	return d.index != nil
}

func (d *documentSearchAdapter) Ping(ctx context.Context) error {
	if d.index == nil {
		return &apperrors.SearchUnavailableError{Err: errors.New("no vector index configured")}
	}
	return d.index.Ping(ctx)
}

func (d *documentSearchAdapter) Search(ctx context.Context, text string, topK int, minSimilarity float64, docTypes []string) ([]models.DocumentHit, error) {
	if d.index == nil {
		return nil, &apperrors.SearchUnavailableError{Err: errors.New("no vector index configured")}
	}
	if topK <= 0 {
		topK = d.opts.TopK
	}
	topK = min(topK, d.opts.MaxTopK)
	if minSimilarity < 0 {
		minSimilarity = d.opts.MinSimilarity
	}

	hits, err := d.index.Search(ctx, vectorstore.SearchRequest{
		Text:          text,
		TopK:          topK,
		MinSimilarity: minSimilarity,
		DocTypes:      docTypes,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrSearchUnavailable) {
			return nil, err
		}
		return nil, &apperrors.SearchUnavailableError{Err: err}
	}

	if d.opts.UseTypePriority {
		hits = d.prioritize(hits)
	}
	d.logger.Debug("Document search complete",
		zap.Int("hits", len(hits)),
		zap.Int("top_k", topK),
		zap.Strings("doc_types", docTypes))
	return hits, nil
}

// prioritize scales similarity by the document type's weight and re-ranks.
// The unweighted similarity is kept in metadata.
func (d *documentSearchAdapter) prioritize(hits []models.DocumentHit) []models.DocumentHit {
	out := make([]models.DocumentHit, len(hits))
	for i, h := range hits {
		meta := make(map[string]any, len(h.Metadata)+1)
		for k, v := range h.Metadata {
			meta[k] = v
		}
		meta["raw_similarity"] = h.Similarity
		h.Metadata = meta
		h.Similarity = clamp01(h.Similarity * d.vocab.Priority(h.DocType))
		out[i] = h
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

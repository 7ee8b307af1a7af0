// Package pgvector implements vectorstore.Index over a PostgreSQL table with a
// pgvector embedding column.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/vectorstore"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/retry"
)

// Config describes the document table. The table must have columns
// id, doc_type, content, metadata (jsonb) and embedding (vector).
type Config struct {
	Table          string
	EmbeddingModel string
	Retry          *retry.Config
}

// Index searches document chunks by cosine distance.
type Index struct {
	pool     *pgxpool.Pool
	embedder llm.Embedder
	cfg      Config
	logger   *zap.Logger
}

// New opens a pool against dsn.
func New(ctx context.Context, dsn string, embedder llm.Embedder, cfg Config, logger *zap.Logger) (*Index, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.NewConnectionError("pgvector", err)
	}
	return NewWithPool(pool, embedder, cfg, logger), nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *pgxpool.Pool, embedder llm.Embedder, cfg Config, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Table == "" {
		cfg.Table = "document_chunks"
	}
	return &Index{pool: pool, embedder: embedder, cfg: cfg, logger: logger.Named("pgvector")}
}

// Search embeds req.Text and returns the nearest chunks.
func (i *Index) Search(ctx context.Context, req vectorstore.SearchRequest) ([]models.DocumentHit, error) {
	embedding, err := i.embedder.CreateEmbedding(ctx, req.Text, i.cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding")
	}

	var docTypes []string
	if len(req.DocTypes) > 0 {
		docTypes = req.DocTypes
	}

	query := fmt.Sprintf(`
		SELECT id, doc_type, content, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE ($3::text[] IS NULL OR doc_type = ANY($3::text[]))
		  AND 1 - (embedding <=> $1::vector) >= $4
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, pgx.Identifier(strings.Split(i.cfg.Table, ".")).Sanitize())

	return retry.DoWithResult(ctx, i.cfg.Retry, i.logger, "vector search", func() ([]models.DocumentHit, error) {
		rows, err := i.pool.Query(ctx, query, vectorLiteral(embedding), req.TopK, docTypes, req.MinSimilarity)
		if err != nil {
			return nil, classifyError(err)
		}
		defer rows.Close()

		var hits []models.DocumentHit
		for rows.Next() {
			var h models.DocumentHit
			if err := rows.Scan(&h.DocumentID, &h.DocType, &h.Content, &h.Metadata, &h.Similarity); err != nil {
				return nil, fmt.Errorf("scan document hit: %w", err)
			}
			hits = append(hits, h)
		}
		if err := rows.Err(); err != nil {
			return nil, classifyError(err)
		}
		return hits, nil
	})
}

// Ping checks the pool.
func (i *Index) Ping(ctx context.Context) error {
	if err := i.pool.Ping(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// Close releases the pool.
func (i *Index) Close() error {
	i.pool.Close()
	return nil
}

// vectorLiteral renders an embedding in pgvector's text form: [0.1,0.2,...].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 8)
	b.WriteByte('[')
	for n, f := range v {
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func classifyError(err error) error {
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return apperrors.NewConnectionError("pgvector", err)
	}
	return err
}

var _ vectorstore.Index = (*Index)(nil)

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

func sampleHits() []models.DocumentHit {
	return []models.DocumentHit{
		{DocumentID: "policy-1", DocType: "policy", Content: "Remote work policy", Similarity: 0.9},
		{DocumentID: "resume-7", DocType: "resume", Content: "Senior Python developer", Similarity: 0.8,
			Metadata: map[string]any{"employee_id": 1}},
		{DocumentID: "review-3", DocType: "review", Content: "Great Python work", Similarity: 0.4},
	}
}

func TestDocumentSearch_NoIndex(t *testing.T) {
	s := NewDocumentSearchAdapter(nil, SearchOptions{}, nil, nil)

	assert.False(t, s.Available())
	_, err := s.Search(context.Background(), "python", 5, 0, nil)
	assert.ErrorIs(t, err, apperrors.ErrSearchUnavailable)
	assert.ErrorIs(t, s.Ping(context.Background()), apperrors.ErrSearchUnavailable)
}

func TestDocumentSearch_DefaultsAndClamping(t *testing.T) {
	index := &fakeIndex{hits: sampleHits()}
	s := NewDocumentSearchAdapter(index, SearchOptions{TopK: 2, MaxTopK: 3, MinSimilarity: 0.5}, nil, nil)

	hits, err := s.Search(context.Background(), "python", 0, -1, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	req := index.lastRequest()
	assert.Equal(t, 2, req.TopK)
	assert.Equal(t, 0.5, req.MinSimilarity)

	_, err = s.Search(context.Background(), "python", 50, 0, []string{"resume"})
	require.NoError(t, err)
	req = index.lastRequest()
	assert.Equal(t, 3, req.TopK, "top_k is clamped to the maximum")
	assert.Equal(t, []string{"resume"}, req.DocTypes)
}

func TestDocumentSearch_TypePriority(t *testing.T) {
	s := NewDocumentSearchAdapter(&fakeIndex{hits: sampleHits()}, SearchOptions{UseTypePriority: true}, nil, nil)

	hits, err := s.Search(context.Background(), "python", 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "resume-7", hits[0].DocumentID, "resumes outrank policies of similar similarity")
	assert.InDelta(t, 0.8, hits[0].Similarity, 1e-9)
	assert.InDelta(t, 0.63, hits[1].Similarity, 1e-9)
	assert.Equal(t, 0.9, hits[1].Metadata["raw_similarity"])
	assert.Equal(t, 1, hits[0].Metadata["employee_id"])
}

func TestDocumentSearch_IndexFailureIsUnavailable(t *testing.T) {
	index := &fakeIndex{err: errors.New("dial tcp: connection refused")}
	s := NewDocumentSearchAdapter(index, SearchOptions{}, nil, nil)

	_, err := s.Search(context.Background(), "python", 5, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSearchUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

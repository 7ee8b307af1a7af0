package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// ScoredItem is one source's raw result before combination.
type ScoredItem struct {
	IdentityKey string
	Payload     map[string]any
	Score       float64
}

// ResultCombiner merges structured rows and document hits into one ranking.
type ResultCombiner interface {
	Combine(structured, documents []ScoredItem) []models.ResultItem
}

type resultCombiner struct {
	wStructured float64
	wDocument   float64
}

// NewResultCombiner creates a ResultCombiner. Weights are normalized to sum to 1.
func NewResultCombiner(structuredWeight, documentWeight float64) ResultCombiner {
	total := structuredWeight + documentWeight
	if structuredWeight < 0 || documentWeight < 0 || total <= 0 {
		structuredWeight, documentWeight, total = 0.6, 0.4, 1
	}
	return &resultCombiner{wStructured: structuredWeight / total, wDocument: documentWeight / total}
}

// Combine normalizes each source independently, merges items that share an
// identity key across sources into one "both" item, and sorts by relevance.
// No identity key appears twice in the output.
func (c *resultCombiner) Combine(structured, documents []ScoredItem) []models.ResultItem {
	s := dedupe(normalize(structured))
	d := dedupe(normalize(documents))

	docByKey := map[string]int{}
	for i, item := range d {
		if item.IdentityKey != "" {
			docByKey[item.IdentityKey] = i
		}
	}
	mergedDocs := map[int]bool{}

	out := make([]models.ResultItem, 0, len(s)+len(d))
	for _, item := range s {
		if j, ok := docByKey[item.IdentityKey]; ok && item.IdentityKey != "" {
			doc := d[j]
			mergedDocs[j] = true
			out = append(out, models.ResultItem{
				Source:      models.SourceBoth,
				IdentityKey: item.IdentityKey,
				Payload:     map[string]any{"structured": item.Payload, "document": doc.Payload},
				Relevance:   clamp01(c.wStructured*item.Score + c.wDocument*doc.Score),
			})
			continue
		}
		out = append(out, models.ResultItem{
			Source:      models.SourceStructured,
			IdentityKey: item.IdentityKey,
			Payload:     item.Payload,
			Relevance:   clamp01(c.wStructured * item.Score),
		})
	}
	for j, doc := range d {
		if mergedDocs[j] {
			continue
		}
		out = append(out, models.ResultItem{
			Source:      models.SourceDocument,
			IdentityKey: doc.IdentityKey,
			Payload:     doc.Payload,
			Relevance:   clamp01(c.wDocument * doc.Score),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.IdentityKey < b.IdentityKey
	})
	return out
}

// normalize rescales scores to [0,1] by min-max. A single item, or items
// that all share one score, normalize to 1.
func normalize(items []ScoredItem) []ScoredItem {
	if len(items) == 0 {
		return nil
	}
	lo, hi := items[0].Score, items[0].Score
	for _, it := range items[1:] {
		lo = min(lo, it.Score)
		hi = max(hi, it.Score)
	}
	out := make([]ScoredItem, len(items))
	for i, it := range items {
		if hi == lo {
			it.Score = 1
		} else {
			it.Score = (it.Score - lo) / (hi - lo)
		}
		out[i] = it
	}
	return out
}

// dedupe keeps the best-scoring item per identity key within one source.
// Items without a key are kept as they are.
func dedupe(items []ScoredItem) []ScoredItem {
	index := map[string]int{}
	var out []ScoredItem
	for _, it := range items {
		if it.IdentityKey == "" {
			out = append(out, it)
			continue
		}
		if i, ok := index[it.IdentityKey]; ok {
			if it.Score > out[i].Score {
				out[i] = it
			}
			continue
		}
		index[it.IdentityKey] = len(out)
		out = append(out, it)
	}
	return out
}

// RowIdentityKey identifies a structured row by its base table's entity and
// primary key value, e.g. "employee:42". Rows without the key have none.
func RowIdentityKey(table, primaryKey string, row map[string]any) string {
	if primaryKey == "" {
		return ""
	}
	v, ok := row[primaryKey]
	if !ok || v == nil {
		return ""
	}
	return singular(table) + ":" + keyValue(v)
}

// HitIdentityKey identifies the entity a document describes from its
// metadata: entity_type/entity_id when present, else the first
// <entity>_id field in sorted order.
func HitIdentityKey(meta map[string]any) string {
	if t, ok := meta["entity_type"].(string); ok && t != "" {
		if id, ok := meta["entity_id"]; ok && id != nil {
			return singular(t) + ":" + keyValue(id)
		}
	}
	for _, k := range sortedKeys(meta) {
		lk := strings.ToLower(k)
		if !strings.HasSuffix(lk, "_id") || lk == "document_id" || lk == "chunk_id" || lk == "entity_id" {
			continue
		}
		if v := meta[k]; v != nil {
			return singular(strings.TrimSuffix(lk, "_id")) + ":" + keyValue(v)
		}
	}
	return ""
}

// keyValue renders ids so 42, int64(42), 42.0 and "42" agree.
func keyValue(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return x.String()
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return keyValue(float64(x))
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

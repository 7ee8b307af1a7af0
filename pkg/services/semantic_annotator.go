package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/oracle"
)

// Purpose labels assigned from structure rather than names.
const (
	purposeIdentifier = "identifier"
	purposeReference  = "reference"
	purposeDate       = "date"
	purposeMeasure    = "measure"
	purposeAttribute  = "attribute"
)

// AnnotatorOptions holds the blend between heuristic and oracle evidence.
type AnnotatorOptions struct {
	OracleWeight           float64
	HeuristicWeight        float64
	HeuristicCeiling       float64
	InferredBaseConfidence float64
	Concurrency            int
}

// SemanticAnnotator assigns purposes to tables and columns and builds the
// relationship edge list.
type SemanticAnnotator interface {
	// Annotate turns raw introspection output into an immutable snapshot.
	// Oracle failures never surface: affected elements fall back to heuristic
	// evidence capped at the heuristic ceiling.
	Annotate(ctx context.Context, connectionID, fingerprint string, raw *RawSchema, discoveredAt time.Time) *models.SchemaSnapshot
}

type semanticAnnotator struct {
	opts   AnnotatorOptions
	vocab  *Vocabulary
	oracle oracle.Oracle
	pool   *llm.WorkerPool
	logger *zap.Logger
}

// NewSemanticAnnotator creates a SemanticAnnotator. A nil oracle behaves as oracle.Disabled.
func NewSemanticAnnotator(opts AnnotatorOptions, vocab *Vocabulary, orc oracle.Oracle, logger *zap.Logger) SemanticAnnotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if orc == nil {
		orc = oracle.Disabled{}
	}
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if opts.OracleWeight+opts.HeuristicWeight <= 0 {
		opts.OracleWeight, opts.HeuristicWeight = 0.7, 0.3
	}
	if opts.HeuristicCeiling <= 0 {
		opts.HeuristicCeiling = 0.6
	}
	if opts.InferredBaseConfidence <= 0 {
		opts.InferredBaseConfidence = 0.7
	}
	return &semanticAnnotator{
		opts:   opts,
		vocab:  vocab,
		oracle: orc,
		pool:   llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: opts.Concurrency}, logger),
		logger: logger.Named("semantic_annotator"),
	}
}

// heuristic is one deterministic judgement awaiting blending.
type heuristic struct {
	label      string
	confidence float64
	evidence   []string
}

func (a *semanticAnnotator) Annotate(ctx context.Context, connectionID, fingerprint string, raw *RawSchema, discoveredAt time.Time) *models.SchemaSnapshot {
	edges := a.relationships(raw)
	fanIn := map[string]int{}
	for _, e := range edges {
		fanIn[strings.ToLower(e.ToTable)]++
	}

	requests := map[string]oracle.Request{}
	tableH := map[string]heuristic{}
	columnH := map[string]heuristic{}

	for _, t := range raw.Tables {
		if _, unreadable := raw.Unreadable[t.Name]; unreadable {
			continue
		}
		tableH[t.Name] = a.tablePurpose(t, fanIn[strings.ToLower(t.Name)])
		requests["t:"+t.Name] = tableRequest(t)
		for _, c := range t.Columns {
			key := t.Name + "." + c.Name
			columnH[key] = a.columnPurpose(c)
			requests["c:"+key] = columnRequest(t, c)
		}
	}
	for _, e := range edges {
		if e.Kind == models.RelationshipInferred {
			requests["r:"+edgeKey(e)] = oracle.Request{
				Kind:    oracle.KindRelationship,
				Subject: edgeKey(e),
				Context: map[string]any{"from": e.FromTable + "." + e.FromColumn, "to": e.ToTable + "." + e.ToColumn},
			}
		}
	}

	answers := a.consult(llm.WithContext(ctx, map[string]string{
		"connection_id": connectionID,
		"operation":     "annotate",
	}), requests)

	for _, t := range raw.Tables {
		if reason, unreadable := raw.Unreadable[t.Name]; unreadable {
			t.Purpose = models.UnknownPurpose(reason)
			continue
		}
		t.Purpose = a.blend(tableH[t.Name], answers["t:"+t.Name])
		for i := range t.Columns {
			key := t.Name + "." + t.Columns[i].Name
			t.Columns[i].Purpose = a.blend(columnH[key], answers["c:"+key])
		}
	}
	for i, e := range edges {
		if e.Kind != models.RelationshipInferred {
			continue
		}
		p := a.blend(heuristic{label: models.RelationshipInferred, confidence: e.Confidence}, answers["r:"+edgeKey(e)])
		edges[i].Confidence = min(p.Confidence, models.MaxInferredConfidence)
	}

	snapshot := models.NewSchemaSnapshot(connectionID, fingerprint, raw.Database, raw.Tables, edges, discoveredAt)
	a.logger.Info("Schema annotated",
		zap.String("connection_id", connectionID),
		zap.Int("tables", len(raw.Tables)),
		zap.Int("relationships", len(edges)),
		zap.Int("oracle_requests", len(requests)),
		zap.Bool("oracle_available", a.oracle.Available()))
	return snapshot
}

// consult asks the oracle every question through the worker pool. When the
// oracle is unavailable no calls are made.
func (a *semanticAnnotator) consult(ctx context.Context, requests map[string]oracle.Request) map[string]oracle.Result {
	answers := make(map[string]oracle.Result, len(requests))
	if !a.oracle.Available() {
		for id := range requests {
			answers[id] = oracle.Unavailable("oracle disabled")
		}
		return answers
	}

	ids := make([]string, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]llm.WorkItem[oracle.Result], len(ids))
	for i, id := range ids {
		req := requests[id]
		items[i] = llm.WorkItem[oracle.Result]{
			ID: id,
			Execute: func(ctx context.Context) (oracle.Result, error) {
				return a.oracle.Classify(ctx, req), nil
			},
		}
	}
	for _, r := range llm.Process(ctx, a.pool, items, nil) {
		if r.Err != nil {
			answers[r.ID] = oracle.Unavailable(r.Err.Error())
			continue
		}
		answers[r.ID] = r.Result
	}
	return answers
}

// blend combines heuristic and oracle evidence. Without an oracle answer
// the heuristic confidence stays strictly below the heuristic ceiling.
func (a *semanticAnnotator) blend(h heuristic, r oracle.Result) models.Purpose {
	evidence := append([]string(nil), h.evidence...)
	if !r.OK() {
		reason := r.Reason
		if reason == "" {
			reason = string(r.Status)
		}
		evidence = append(evidence, "oracle "+string(r.Status)+": "+reason)
		return models.Purpose{
			Label:      h.label,
			Confidence: clamp01(min(h.confidence, math.Nextafter(a.opts.HeuristicCeiling, 0))),
			Evidence:   evidence,
		}
	}

	total := a.opts.OracleWeight + a.opts.HeuristicWeight
	conf := (a.opts.OracleWeight*r.Confidence + a.opts.HeuristicWeight*h.confidence) / total
	evidence = append(evidence, fmt.Sprintf("oracle: %s (%.2f)", r.Label, r.Confidence))
	label := r.Label
	if label == "" {
		label = h.label
	}
	return models.Purpose{Label: label, Confidence: clamp01(conf), Evidence: evidence}
}

func (a *semanticAnnotator) tablePurpose(t *models.TableDescriptor, fanIn int) heuristic {
	name := singular(t.Name)
	h := heuristic{label: name, confidence: 0.4, evidence: []string{"named after table"}}

	if label, ok := lexiconLabel(a.vocab.TablePurposes, name); ok {
		h = heuristic{label: label, confidence: 0.9, evidence: []string{fmt.Sprintf("table name matches %s keyword %q", label, name)}}
	} else if label, word, ok := tokenLabel(a.vocab.TablePurposes, name); ok {
		h = heuristic{label: label, confidence: 0.7, evidence: []string{fmt.Sprintf("table name contains %s keyword %q", label, word)}}
	}

	if t.PrimaryKey() != "" {
		h.confidence += 0.05
		h.evidence = append(h.evidence, "declares primary key")
	}
	if fanIn > 0 {
		h.confidence += 0.05
		h.evidence = append(h.evidence, fmt.Sprintf("referenced by %d relationships", fanIn))
	}
	h.confidence = clamp01(h.confidence)
	return h
}

func (a *semanticAnnotator) columnPurpose(c models.ColumnDescriptor) heuristic {
	name := strings.ToLower(c.Name)
	var h heuristic

	switch {
	case c.IsPrimaryKey:
		h = heuristic{purposeIdentifier, 0.95, []string{"primary key"}}
	case c.IsForeignKey:
		h = heuristic{purposeReference, 0.9, []string{"declared foreign key"}}
	default:
		if label, ok := lexiconLabel(a.vocab.ColumnPurposes, name); ok {
			h = heuristic{label, 0.85, []string{fmt.Sprintf("column name matches %s keyword %q", label, name)}}
		} else if strings.HasSuffix(name, "_id") {
			h = heuristic{purposeReference, 0.7, []string{"name ends in _id"}}
		} else if label, word, ok := tokenLabel(a.vocab.ColumnPurposes, name); ok {
			h = heuristic{label, 0.7, []string{fmt.Sprintf("column name contains %s keyword %q", label, word)}}
		} else if c.IsTemporal() {
			h = heuristic{purposeDate, 0.5, []string{"temporal type"}}
		} else if c.IsNumeric() {
			h = heuristic{purposeMeasure, 0.4, []string{"numeric type"}}
		} else {
			h = heuristic{purposeAttribute, 0.3, []string{"no naming evidence"}}
		}
	}

	switch h.label {
	case "compensation", "amount":
		if c.IsNumeric() {
			h.confidence += 0.05
			h.evidence = append(h.evidence, "numeric type")
		} else if c.IsText() {
			h.confidence -= 0.1
		}
	case purposeDate:
		if c.IsTemporal() {
			h.confidence += 0.05
		}
	}
	if c.IsUnique && !c.IsPrimaryKey {
		h.evidence = append(h.evidence, "unique")
	}
	h.confidence = clamp01(h.confidence)
	return h
}

// relationships returns declared edges at 1.0 and edges inferred from
// <singular-of-table>_id columns at the base confidence.
func (a *semanticAnnotator) relationships(raw *RawSchema) []models.RelationshipEdge {
	var edges []models.RelationshipEdge
	for _, fk := range raw.ForeignKeys {
		edges = append(edges, models.RelationshipEdge{
			FromTable:  fk.SourceTable,
			FromColumn: fk.SourceColumn,
			ToTable:    fk.TargetTable,
			ToColumn:   fk.TargetColumn,
			Kind:       models.RelationshipExplicitFK,
			Confidence: 1.0,
		})
	}

	bySingular := map[string]*models.TableDescriptor{}
	for _, t := range raw.Tables {
		bySingular[singular(t.Name)] = t
	}
	for _, t := range raw.Tables {
		for _, c := range t.Columns {
			name := strings.ToLower(c.Name)
			if c.IsPrimaryKey || c.IsForeignKey || !strings.HasSuffix(name, "_id") || len(name) <= 3 {
				continue
			}
			target, ok := bySingular[singular(strings.TrimSuffix(name, "_id"))]
			if !ok || target == t || target.PrimaryKey() == "" {
				continue
			}
			edges = append(edges, models.RelationshipEdge{
				FromTable:  t.Name,
				FromColumn: c.Name,
				ToTable:    target.Name,
				ToColumn:   target.PrimaryKey(),
				Kind:       models.RelationshipInferred,
				Confidence: min(a.opts.InferredBaseConfidence, models.MaxInferredConfidence),
			})
		}
	}
	return edges
}

func tableRequest(t *models.TableDescriptor) oracle.Request {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}
	rows := t.SampleRows
	if len(rows) > 3 {
		rows = rows[:3]
	}
	return oracle.Request{
		Kind:    oracle.KindTablePurpose,
		Subject: t.Name,
		Context: map[string]any{"columns": cols, "sample_rows": rows},
	}
}

func columnRequest(t *models.TableDescriptor, c models.ColumnDescriptor) oracle.Request {
	return oracle.Request{
		Kind:    oracle.KindColumnPurpose,
		Subject: t.Name + "." + c.Name,
		Context: map[string]any{"data_type": c.DataType, "sample_values": c.SampleValues},
	}
}

func edgeKey(e models.RelationshipEdge) string {
	return e.FromTable + "." + e.FromColumn + "->" + e.ToTable + "." + e.ToColumn
}

// lexiconLabel finds the label whose keywords contain word. Labels are
// checked in sorted order so results are reproducible.
func lexiconLabel(lexicon map[string][]string, word string) (string, bool) {
	for _, label := range sortedKeys(lexicon) {
		for _, kw := range lexicon[label] {
			if singular(kw) == word || strings.ToLower(kw) == word {
				return label, true
			}
		}
	}
	return "", false
}

// tokenLabel matches the underscore-separated parts of name, last part first.
func tokenLabel(lexicon map[string][]string, name string) (string, string, bool) {
	parts := strings.Split(name, "_")
	for i := len(parts) - 1; i >= 0; i-- {
		w := singular(parts[i])
		if w == "" || w == "id" {
			continue
		}
		if label, ok := lexiconLabel(lexicon, w); ok {
			return label, w, true
		}
	}
	return "", "", false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/audit"
	"github.com/ekaya-inc/ekaya-query/pkg/cache"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/retry"
	sqlguard "github.com/ekaya-inc/ekaya-query/pkg/sql"
)

// Branch names used in warnings and metrics.
const (
	branchStructured = "structured"
	branchDocument   = "document"
)

// ResolverOptions configures the resolution pipeline.
type ResolverOptions struct {
	DefaultConnectionID string
	StructuredTimeout   time.Duration
	DocumentTimeout     time.Duration
	FallbackToDocuments bool
	MaxQueryLength      int
	MaxRows             int
	CacheTTL            time.Duration
	Retry               *retry.Config
}

// ResolverDeps are the pipeline components. Nil Mapper, Classifier,
// Generator, Combiner and Auditor get defaults.
type ResolverDeps struct {
	Vocabulary *Vocabulary
	Schemas    *SchemaCache
	Mapper     EntityMapper
	Classifier QueryClassifier
	Generator  QueryGenerator
	Search     DocumentSearchAdapter
	Combiner   ResultCombiner
	Cache      cache.Store
	Auditor    *audit.SecurityAuditor
}

// Resolver answers free-text questions from the database and the document
// index, caching each answer by fingerprint.
type Resolver struct {
	opts       ResolverOptions
	vocab      *Vocabulary
	schemas    *SchemaCache
	mapper     EntityMapper
	classifier QueryClassifier
	generator  QueryGenerator
	search     DocumentSearchAdapter
	combiner   ResultCombiner
	store      cache.Store
	auditor    *audit.SecurityAuditor
	logger     *zap.Logger
	now        func() time.Time

	flight     singleflight.Group
	executions atomic.Int64
}

// NewResolver wires a Resolver.
func NewResolver(opts ResolverOptions, deps ResolverDeps, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StructuredTimeout <= 0 {
		opts.StructuredTimeout = 10 * time.Second
	}
	if opts.DocumentTimeout <= 0 {
		opts.DocumentTimeout = 5 * time.Second
	}
	if opts.MaxQueryLength <= 0 {
		opts.MaxQueryLength = 1000
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = datasource.MaxQueryLimit
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if deps.Vocabulary == nil {
		deps.Vocabulary = DefaultVocabulary()
	}
	if deps.Mapper == nil {
		deps.Mapper = NewEntityMapper(MapperOptions{MinScore: 0.6}, deps.Vocabulary, nil, logger)
	}
	if deps.Classifier == nil {
		deps.Classifier = NewQueryClassifier(ClassifierOptions{})
	}
	if deps.Generator == nil {
		deps.Generator = NewQueryGenerator(logger)
	}
	if deps.Search == nil {
		deps.Search = NewDocumentSearchAdapter(nil, SearchOptions{}, deps.Vocabulary, logger)
	}
	if deps.Combiner == nil {
		deps.Combiner = NewResultCombiner(0.6, 0.4)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryStore()
	}
	if deps.Auditor == nil {
		deps.Auditor = audit.NewSecurityAuditor(logger)
	}
	return &Resolver{
		opts:       opts,
		vocab:      deps.Vocabulary,
		schemas:    deps.Schemas,
		mapper:     deps.Mapper,
		classifier: deps.Classifier,
		generator:  deps.Generator,
		search:     deps.Search,
		combiner:   deps.Combiner,
		store:      deps.Cache,
		auditor:    deps.Auditor,
		logger:     logger.Named("resolver"),
		now:        time.Now,
	}
}

// Resolve answers text against the default connection.
func (r *Resolver) Resolve(ctx context.Context, text string) (*models.Resolution, error) {
	return r.ResolveOn(ctx, "", text)
}

// plan is everything decided before any branch runs.
type plan struct {
	requestID    uuid.UUID
	connectionID string
	text         string
	snapshot     *models.SchemaSnapshot
	schemaErr    error
	parsed       *ParsedQuery
	mapping      *models.MappingResult
	class        models.QueryClassification
}

// ResolveOn answers text against connectionID, or against the default
// connection when connectionID is empty. With no connection configured at
// all only documents are searched.
func (r *Resolver) ResolveOn(ctx context.Context, connectionID, raw string) (*models.Resolution, error) {
	if connectionID == "" {
		connectionID = r.opts.DefaultConnectionID
	}
	p := &plan{requestID: uuid.New(), connectionID: connectionID}

	p.text = SanitizeInput(raw)
	if p.text == "" {
		return nil, fmt.Errorf("%w: question is empty", apperrors.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(p.text); n > r.opts.MaxQueryLength {
		return nil, fmt.Errorf("%w: question is %d characters, limit is %d", apperrors.ErrInvalidInput, n, r.opts.MaxQueryLength)
	}
	if flags := sqlguard.InspectInput(p.text); len(flags) > 0 {
		r.auditor.LogSecurityViolation(p.requestID, connectionID, "input", p.text, flags)
		metrics.ObserveSecurityViolation("input")
		return nil, apperrors.NewSecurityViolation("question contains SQL statements", flags...)
	}

	if connectionID != "" && r.schemas != nil {
		p.snapshot, p.schemaErr = r.schemas.Get(ctx, connectionID)
		if p.schemaErr != nil {
			if !r.search.Available() {
				return nil, p.schemaErr
			}
			r.logger.Warn("Schema unavailable, continuing with document search",
				zap.String("connection_id", connectionID),
				zap.Error(p.schemaErr))
		}
	}

	p.parsed = ParseQuery(p.text, r.vocab)
	p.mapping = r.mapper.Map(ctx, p.parsed, p.snapshot)
	p.class = r.classifier.Classify(p.parsed, p.mapping)
	fingerprint := r.fingerprint(p)

	if entry := r.lookup(ctx, fingerprint); entry != nil {
		metrics.ObserveCacheLookup(true)
		res, err := decodeResult(entry.Payload)
		if err == nil {
			metrics.ObserveResolution(res.Classification.Type)
			return &models.Resolution{RequestID: p.requestID.String(), Fingerprint: fingerprint, FromCache: true, Result: res}, nil
		}
		r.logger.Warn("Discarding undecodable cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
	} else {
		metrics.ObserveCacheLookup(false)
	}

	ch := r.flight.DoChan(fingerprint, func() (any, error) {
		if entry := r.lookup(ctx, fingerprint); entry != nil {
			return entry.Payload, nil
		}
		return r.compute(context.WithoutCancel(ctx), p, fingerprint)
	})

	var payload []byte
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		payload = res.Val.([]byte)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res, err := decodeResult(payload)
	if err != nil {
		return nil, fmt.Errorf("decode resolution: %w", err)
	}
	metrics.ObserveResolution(res.Classification.Type)
	return &models.Resolution{RequestID: p.requestID.String(), Fingerprint: fingerprint, Result: res}, nil
}

// fingerprint hashes the normalized question, the schema it was mapped
// against and its classification.
func (r *Resolver) fingerprint(p *plan) string {
	source := "unavailable:" + p.connectionID
	if p.snapshot != nil {
		source = p.snapshot.SourceFingerprint
	}
	h := sha256.New()
	h.Write([]byte(NormalizeQuery(p.text)))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(p.class.Type))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Resolver) lookup(ctx context.Context, fingerprint string) *models.CacheEntry {
	entry, err := r.store.Get(ctx, fingerprint)
	if err != nil {
		r.logger.Warn("Cache read failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil
	}
	return entry
}

// compute runs the pipeline once and stores the payload. When another
// writer stored first, its payload is returned so every caller sees the
// same bytes. Degraded answers are returned but not cached.
func (r *Resolver) compute(ctx context.Context, p *plan, fingerprint string) ([]byte, error) {
	r.executions.Add(1)
	metrics.IncrementPipelineExecutions()

	result, err := r.execute(ctx, p)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode resolution: %w", err)
	}
	if result.Degraded || p.snapshot == nil {
		return payload, nil
	}
	if r.superseded(p) {
		r.logger.Debug("Schema replaced during resolution, not caching",
			zap.String("connection_id", p.connectionID),
			zap.String("fingerprint", fingerprint))
		return payload, nil
	}

	now := r.now()
	entry := &models.CacheEntry{
		Fingerprint:       fingerprint,
		SourceFingerprint: p.snapshot.SourceFingerprint,
		Payload:           payload,
		CreatedAt:         now,
		ExpiresAt:         now.Add(r.opts.CacheTTL),
	}
	stored, err := r.store.SetIfAbsent(ctx, entry, r.opts.CacheTTL)
	switch {
	case err != nil:
		r.logger.Warn("Cache write failed", zap.String("fingerprint", fingerprint), zap.Error(err))
	case !stored:
		if existing := r.lookup(ctx, fingerprint); existing != nil {
			return existing.Payload, nil
		}
	case r.superseded(p):
		// The refresh's invalidation may have run before the write landed.
		if _, err := r.store.InvalidateSource(ctx, entry.SourceFingerprint); err != nil {
			r.logger.Warn("Failed to drop stale resolution", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
	}
	return payload, nil
}

// superseded reports whether the snapshot p was mapped against is no
// longer the connection's current one.
func (r *Resolver) superseded(p *plan) bool {
	current, ok := r.schemas.Peek(p.connectionID)
	return !ok || current != p.snapshot
}

// branchOutcome is what one branch produced.
type branchOutcome struct {
	ran   bool
	items []ScoredItem
	err   error
}

func (r *Resolver) execute(ctx context.Context, p *plan) (*models.ResolutionResult, error) {
	class := p.class
	result := &models.ResolutionResult{
		Query:          p.text,
		ConnectionID:   p.connectionID,
		Mapping:        p.mapping,
		ResolvedAt:     r.now().UTC(),
		Items:          []models.ResultItem{},
		Classification: class,
	}

	runStructured, runDocuments := class.WantsStructured(), class.WantsDocuments()
	var (
		gq   *models.GeneratedQuery
		conn *Connection
	)

	if runStructured {
		var genErr error
		conn, gq, genErr = r.generate(p)
		switch {
		case genErr == nil && !gq.Executable():
			r.auditor.LogSecurityViolation(p.requestID, p.connectionID, "generated", gq.Text, gq.RiskFlags)
			for _, param := range gq.Parameters {
				if hit := sqlguard.CheckParameterForInjection(param.Column, param.Value); hit != nil {
					r.auditor.LogInjectionAttempt(p.requestID, p.connectionID, audit.SQLInjectionDetails{
						ParamName:   hit.ParamName,
						Fingerprint: hit.Fingerprint,
					})
				}
			}
			metrics.ObserveSecurityViolation("generated")
			return nil, apperrors.NewSecurityViolation("generated query failed validation", gq.RiskFlags...)
		case genErr != nil && class.Type == models.QueryTypeStructured && r.opts.FallbackToDocuments:
			class.Type = models.QueryTypeDocument
			class.Rationale += "; structured query not possible (" + genErr.Error() + "), falling back to document search"
			runStructured, runDocuments = false, true
		case genErr != nil:
			runStructured = false
			result.Warnings = append(result.Warnings, "structured branch skipped: "+genErr.Error())
			if class.Type == models.QueryTypeStructured {
				return nil, genErr
			}
		}
	}
	result.Classification = class
	result.GeneratedQuery = gq

	var structured, documents branchOutcome
	var g errgroup.Group
	if runStructured {
		structured.ran = true
		g.Go(func() error {
			structured.items, structured.err = r.runStructured(ctx, p, conn, gq)
			return nil
		})
	}
	if runDocuments {
		documents.ran = true
		g.Go(func() error {
			documents.items, documents.err = r.runDocuments(ctx, p, class)
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	for _, b := range []struct {
		name string
		out  branchOutcome
	}{{branchStructured, structured}, {branchDocument, documents}} {
		if !b.out.ran || b.out.err == nil {
			continue
		}
		failures = append(failures, fmt.Errorf("%s branch: %w", b.name, b.out.err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s branch failed: %v", b.name, b.out.err))
		metrics.ObserveDegraded(b.name)
	}
	executed := 0
	if structured.ran {
		executed++
	}
	if documents.ran {
		executed++
	}
	if executed > 0 && len(failures) == executed {
		return nil, errors.Join(failures...)
	}
	result.Degraded = len(failures) > 0

	if items := r.combiner.Combine(structured.items, documents.items); len(items) > 0 {
		result.Items = items
	}

	r.logger.Info("Query resolved",
		zap.String("request_id", p.requestID.String()),
		zap.String("type", class.Type),
		zap.Int("items", len(result.Items)),
		zap.Bool("degraded", result.Degraded))
	return result, nil
}

// generate builds the structured query for the plan's connection.
func (r *Resolver) generate(p *plan) (*Connection, *models.GeneratedQuery, error) {
	if p.snapshot == nil {
		reason := "no connection configured"
		if p.schemaErr != nil {
			reason = "schema unavailable: " + p.schemaErr.Error()
		}
		return nil, nil, &apperrors.UnmappableQueryError{Rationale: reason}
	}
	conn, err := r.schemas.Connection(p.connectionID)
	if err != nil {
		return nil, nil, err
	}
	gq, err := r.generator.Generate(p.parsed, p.mapping, p.class, p.snapshot, conn.Adapter.Dialect())
	return conn, gq, err
}

func (r *Resolver) runStructured(ctx context.Context, p *plan, conn *Connection, gq *models.GeneratedQuery) ([]ScoredItem, error) {
	start := time.Now()
	defer func() { metrics.ObserveBranch(branchStructured, time.Since(start)) }()

	bctx, cancel := context.WithTimeout(ctx, r.opts.StructuredTimeout)
	defer cancel()

	rows, err := retry.DoWithResult(bctx, r.opts.Retry, r.logger, "execute structured query", func() (*datasource.QueryExecutionResult, error) {
		return conn.Adapter.ExecuteQueryWithParams(bctx, gq.Text, gq.Args(), r.opts.MaxRows)
	})
	if err != nil {
		if errors.Is(bctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", r.opts.StructuredTimeout, err)
		}
		return nil, err
	}
	r.auditor.LogQueryExecution(p.requestID, p.connectionID, gq.Text, gq.Args(), rows.RowCount)

	var table, pk string
	if len(gq.Tables) > 0 {
		if t, ok := p.snapshot.Table(gq.Tables[0]); ok {
			table, pk = t.Name, t.PrimaryKey()
		}
	}
	items := make([]ScoredItem, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		items = append(items, ScoredItem{IdentityKey: RowIdentityKey(table, pk, row), Payload: row, Score: 1})
	}
	return items, nil
}

func (r *Resolver) runDocuments(ctx context.Context, p *plan, class models.QueryClassification) ([]ScoredItem, error) {
	start := time.Now()
	defer func() { metrics.ObserveBranch(branchDocument, time.Since(start)) }()

	bctx, cancel := context.WithTimeout(ctx, r.opts.DocumentTimeout)
	defer cancel()

	hits, err := r.search.Search(bctx, documentSearchText(p, r.vocab), 0, -1, class.DocumentTypes)
	if err != nil {
		if errors.Is(bctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", r.opts.DocumentTimeout, err)
		}
		return nil, err
	}
	items := make([]ScoredItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, ScoredItem{
			IdentityKey: HitIdentityKey(h.Metadata),
			Score:       h.Similarity,
			Payload: map[string]any{
				"document_id": h.DocumentID,
				"doc_type":    h.DocType,
				"content":     h.Content,
				"similarity":  h.Similarity,
				"metadata":    h.Metadata,
			},
		})
	}
	return items, nil
}

// documentSearchText searches for what the schema could not answer: the
// unmapped terms followed by the facets they belong to, or the whole
// question when every term mapped.
func documentSearchText(p *plan, vocab *Vocabulary) string {
	if len(p.mapping.Unmapped) == 0 {
		return p.text
	}
	words := append([]string(nil), p.mapping.Unmapped...)
	for _, w := range p.mapping.Unmapped {
		facet, ok := vocab.Topic(w)
		if ok && !containsString(words, facet) && !containsString(words, singular(facet)) {
			words = append(words, facet)
		}
	}
	return strings.Join(words, " ")
}

func decodeResult(payload []byte) (*models.ResolutionResult, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var res models.ResolutionResult
	if err := dec.Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RefreshSchema rediscovers a connection's schema and summarizes it. An
// empty connectionID refreshes the default connection.
func (r *Resolver) RefreshSchema(ctx context.Context, connectionID string) (*models.SchemaSummary, error) {
	if connectionID == "" {
		connectionID = r.opts.DefaultConnectionID
	}
	if r.schemas == nil || connectionID == "" {
		return nil, fmt.Errorf("%w: no connection configured", apperrors.ErrNotFound)
	}
	snap, err := r.schemas.Refresh(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	sum := snap.Summary()
	return &sum, nil
}

// HealthReport is the reachability of each dependency.
type HealthReport struct {
	Status      string            `json:"status"` // ok, degraded
	Connections map[string]string `json:"connections"`
	// Schemas holds the discovery time of each cached snapshot.
	Schemas        map[string]time.Time `json:"schemas,omitempty"`
	DocumentSearch string               `json:"document_search"`
}

// Health pings every connection and the vector index.
func (r *Resolver) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "ok", Connections: map[string]string{}, Schemas: map[string]time.Time{}}
	check := func(err error) string {
		if err != nil {
			report.Status = "degraded"
			return err.Error()
		}
		return "ok"
	}

	if r.schemas != nil {
		for _, id := range r.schemas.ConnectionIDs() {
			conn, err := r.schemas.Connection(id)
			if err == nil {
				pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err = conn.Adapter.TestConnection(pctx)
				cancel()
			}
			report.Connections[id] = check(err)
			if snap, ok := r.schemas.Peek(id); ok {
				report.Schemas[id] = snap.DiscoveredAt
			}
		}
	}

	if r.search.Available() {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		report.DocumentSearch = check(r.search.Ping(pctx))
		cancel()
	} else {
		report.DocumentSearch = "disabled"
	}
	return report
}

// Close tears down the schema cache and the resolution cache store.
func (r *Resolver) Close() error {
	var errs []error
	if r.schemas != nil {
		errs = append(errs, r.schemas.Close())
	}
	errs = append(errs, r.store.Close())
	return errors.Join(errs...)
}

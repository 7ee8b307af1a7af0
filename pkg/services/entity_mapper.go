package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/oracle"
)

// Candidate scores by evidence.
const (
	scoreExact        = 1.0
	scoreInflection   = 0.95
	scoreValueMatch   = 0.9
	scoreFuzzyCeiling = 0.9
	scoreLexicon      = 0.8
)

// MapperOptions tunes candidate retention.
type MapperOptions struct {
	MinScore  float64
	TopK      int
	UseOracle bool
}

// EntityMapper resolves question terms to schema elements.
type EntityMapper interface {
	// Map returns ranked candidates for every phrase of the question. A phrase
	// with no candidates is reported in Unmapped, not as an error.
	Map(ctx context.Context, q *ParsedQuery, snap *models.SchemaSnapshot) *models.MappingResult
}

type entityMapper struct {
	opts   MapperOptions
	vocab  *Vocabulary
	oracle oracle.Oracle
	logger *zap.Logger
}

// NewEntityMapper creates an EntityMapper. A nil oracle behaves as oracle.Disabled.
func NewEntityMapper(opts MapperOptions, vocab *Vocabulary, orc oracle.Oracle, logger *zap.Logger) EntityMapper {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if orc == nil {
		orc = oracle.Disabled{}
	}
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &entityMapper{opts: opts, vocab: vocab, oracle: orc, logger: logger.Named("entity_mapper")}
}

func (m *entityMapper) Map(ctx context.Context, q *ParsedQuery, snap *models.SchemaSnapshot) *models.MappingResult {
	result := &models.MappingResult{}
	if snap == nil {
		for _, t := range q.Terms {
			result.Unmapped = append(result.Unmapped, t.Word)
		}
		return result
	}

	for i := 0; i < len(q.Terms); i++ {
		t := q.Terms[i]

		// Adjacent words form one phrase when the pair names an element exactly.
		if i+1 < len(q.Terms) && q.Terms[i+1].Pos == t.Pos+1 {
			phrase := t.Word + " " + q.Terms[i+1].Word
			if cands := m.candidates(ctx, phrase, snap); len(cands) > 0 && cands[0].MatchKind == models.MatchExact && cands[0].Score >= scoreInflection {
				result.Terms = append(result.Terms, models.TermMapping{Term: phrase, Position: t.Pos, Candidates: cands})
				i++
				continue
			}
		}

		cands := m.candidates(ctx, t.Word, snap)
		result.Terms = append(result.Terms, models.TermMapping{Term: t.Word, Position: t.Pos, Candidates: cands})
		if len(cands) == 0 {
			result.Unmapped = append(result.Unmapped, t.Word)
		}
	}

	result.Confidence = mappingConfidence(result)
	m.logger.Debug("Mapped query terms",
		zap.Int("terms", len(result.Terms)),
		zap.Int("unmapped", len(result.Unmapped)),
		zap.Float64("confidence", result.Confidence))
	return result
}

// mappingConfidence is the best table score plus a fifth of the best column
// score, capped at 1.
func mappingConfidence(r *models.MappingResult) float64 {
	var bestTable, bestColumn float64
	for _, t := range r.Terms {
		for _, c := range t.Candidates {
			if c.IsTable() {
				bestTable = max(bestTable, c.Score)
			} else {
				bestColumn = max(bestColumn, c.Score)
			}
		}
	}
	return min(1, bestTable+0.2*bestColumn)
}

// candidates scores every table and column against phrase and returns the
// top-K above the minimum score.
func (m *entityMapper) candidates(ctx context.Context, phrase string, snap *models.SchemaSnapshot) []models.MappingCandidate {
	best := map[string]models.MappingCandidate{}
	consider := func(c models.MappingCandidate) {
		if c.Score < m.opts.MinScore || c.Score <= 0 {
			return
		}
		key := c.Ref() + "\x00" + fmt.Sprint(c.Value)
		if prev, ok := best[key]; ok && !outranks(c, prev, snap) {
			return
		}
		best[key] = c
	}

	termLabels := m.vocab.TermLabels(phrase)
	for _, name := range snap.TableNames() {
		t := snap.Tables[name]
		score, kind := nameScore(phrase, t.Name)
		consider(models.MappingCandidate{Term: phrase, TableName: t.Name, Score: score, MatchKind: kind})
		if m.lexiconMatch(termLabels, t.Purpose.Label, t.Name) {
			consider(models.MappingCandidate{Term: phrase, TableName: t.Name, Score: scoreLexicon, MatchKind: models.MatchSemantic})
		}

		for _, c := range t.Columns {
			score, kind := nameScore(phrase, c.Name)
			consider(models.MappingCandidate{Term: phrase, TableName: t.Name, ColumnName: c.Name, Score: score, MatchKind: kind})
			if m.lexiconMatch(termLabels, c.Purpose.Label, c.Name) {
				consider(models.MappingCandidate{Term: phrase, TableName: t.Name, ColumnName: c.Name, Score: scoreLexicon, MatchKind: models.MatchSemantic})
			}
			if v, ok := valueMatch(phrase, c); ok {
				consider(models.MappingCandidate{Term: phrase, TableName: t.Name, ColumnName: c.Name, Score: scoreValueMatch, MatchKind: models.MatchExact, Value: v})
			}
		}
	}

	if m.opts.UseOracle && m.oracle.Available() && !hasExact(best) {
		if c, ok := m.oracleMatch(ctx, phrase, snap); ok {
			consider(c)
		}
	}

	out := make([]models.MappingCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return outranks(out[i], out[j], snap) })
	if len(out) > m.opts.TopK {
		out = out[:m.opts.TopK]
	}
	return out
}

// outranks orders candidates by score, then match kind (exact > semantic >
// fuzzy), then fan-in of the owning table, then name.
func outranks(a, b models.MappingCandidate, snap *models.SchemaSnapshot) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ra, rb := models.MatchKindRank(a.MatchKind), models.MatchKindRank(b.MatchKind); ra != rb {
		return ra > rb
	}
	if fa, fb := snap.FanIn(a.TableName), snap.FanIn(b.TableName); fa != fb {
		return fa > fb
	}
	if a.Ref() != b.Ref() {
		return a.Ref() < b.Ref()
	}
	return fmt.Sprint(a.Value) < fmt.Sprint(b.Value)
}

func hasExact(cands map[string]models.MappingCandidate) bool {
	for _, c := range cands {
		if c.MatchKind == models.MatchExact {
			return true
		}
	}
	return false
}

// lexiconMatch reports whether the phrase shares a purpose label with an
// element, either through the element's assigned purpose or its name.
// Structural labels never match: every table has an identifier.
func (m *entityMapper) lexiconMatch(termLabels []string, purpose, name string) bool {
	if len(termLabels) == 0 {
		return false
	}
	for _, l := range termLabels {
		if l == purposeIdentifier || l == purposeReference {
			continue
		}
		if l == purpose || containsString(m.vocab.TermLabels(name), l) {
			return true
		}
	}
	return false
}

// oracleMatch asks the oracle which element a phrase refers to. Oracle
// scores are capped below exact matches.
func (m *entityMapper) oracleMatch(ctx context.Context, phrase string, snap *models.SchemaSnapshot) (models.MappingCandidate, bool) {
	var elements []string
	for _, name := range snap.TableNames() {
		t := snap.Tables[name]
		elements = append(elements, t.Name+" ("+t.Purpose.Label+")")
		for _, c := range t.Columns {
			elements = append(elements, t.Name+"."+c.Name+" ("+c.Purpose.Label+")")
		}
	}
	ctx = llm.WithContext(ctx, map[string]string{"operation": "map_term", "connection_id": snap.ConnectionID})
	res := m.oracle.Classify(ctx, oracle.Request{
		Kind:    oracle.KindTermMatch,
		Subject: phrase,
		Context: map[string]any{"candidates": elements},
	})
	if !res.OK() || res.Target == "" {
		return models.MappingCandidate{}, false
	}

	tableName, columnName, _ := strings.Cut(res.Target, ".")
	t, ok := snap.Table(tableName)
	if !ok {
		return models.MappingCandidate{}, false
	}
	c := models.MappingCandidate{Term: phrase, TableName: t.Name, MatchKind: models.MatchSemantic, Score: min(res.Confidence, scoreFuzzyCeiling)}
	if columnName != "" {
		col, ok := t.Column(columnName)
		if !ok {
			return models.MappingCandidate{}, false
		}
		c.ColumnName = col.Name
	}
	return c, true
}

// nameScore compares a phrase with an identifier: exact or inflection-equal
// names are exact matches, anything else is a fuzzy edit-distance ratio with
// a containment bonus, capped at scoreFuzzyCeiling.
func nameScore(phrase, name string) (float64, string) {
	p := strings.ReplaceAll(strings.ToLower(phrase), " ", "_")
	n := strings.ToLower(name)
	if p == n {
		return scoreExact, models.MatchExact
	}
	ps, ns := singular(p), singular(n)
	if ps == ns {
		return scoreInflection, models.MatchExact
	}

	maxLen := max(len([]rune(ps)), len([]rune(ns)))
	if maxLen == 0 {
		return 0, models.MatchFuzzy
	}
	dist := levenshtein.DistanceForStrings([]rune(ps), []rune(ns), levenshtein.DefaultOptionsWithSub)
	score := 1 - float64(dist)/float64(maxLen)

	short, long := ps, ns
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) >= 3 && strings.Contains(long, short) {
		bonus := 0.7 + 0.2*float64(len(short))/float64(len(long))
		if strings.HasPrefix(long, short) {
			bonus += 0.05
		}
		score = max(score, bonus)
	}
	return min(score, scoreFuzzyCeiling), models.MatchFuzzy
}

// valueMatch finds phrase among a text column's sampled values.
func valueMatch(phrase string, c models.ColumnDescriptor) (string, bool) {
	if !c.IsText() {
		return "", false
	}
	for _, v := range c.SampleValues {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		if strings.EqualFold(s, phrase) || singular(s) == singular(phrase) {
			return s, true
		}
	}
	return "", false
}

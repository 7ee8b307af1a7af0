package services

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// ClassifierOptions holds classification thresholds.
type ClassifierOptions struct {
	HighConfidence float64
	MinConfidence  float64
}

// QueryClassifier decides which sources a question needs.
type QueryClassifier interface {
	Classify(q *ParsedQuery, mapping *models.MappingResult) models.QueryClassification
}

type queryClassifier struct {
	opts ClassifierOptions
}

// NewQueryClassifier creates a QueryClassifier.
func NewQueryClassifier(opts ClassifierOptions) QueryClassifier {
	if opts.HighConfidence <= 0 {
		opts.HighConfidence = 0.75
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.6
	}
	return &queryClassifier{opts: opts}
}

// classification is the classifier state machine. It starts UNCLASSIFIED and
// accepts exactly one transition to a terminal type.
type classification struct {
	state      string
	confidence float64
	rationale  []string
}

func newClassification() *classification {
	return &classification{state: models.QueryTypeUnclassified}
}

func (c *classification) transition(to string, confidence float64, reason string) error {
	if c.state != models.QueryTypeUnclassified {
		return fmt.Errorf("classification already %s, cannot move to %s", c.state, to)
	}
	switch to {
	case models.QueryTypeStructured, models.QueryTypeDocument, models.QueryTypeHybrid:
	default:
		return fmt.Errorf("unknown query type %q", to)
	}
	c.state = to
	c.confidence = confidence
	c.rationale = append(c.rationale, reason)
	return nil
}

func (c *classification) note(reason string) {
	c.rationale = append(c.rationale, reason)
}

func (q *queryClassifier) Classify(parsed *ParsedQuery, mapping *models.MappingResult) models.QueryClassification {
	total := len(mapping.Terms)
	var mapped, high int
	var scoreSum float64
	for _, t := range mapping.Terms {
		best, ok := t.Best()
		if !ok {
			continue
		}
		mapped++
		scoreSum += best.Score
		if best.Score >= q.opts.HighConfidence {
			high++
		}
	}
	cues := len(parsed.DocumentCues)

	c := newClassification()
	target, confidence, reason := q.decide(total, mapped, high, cues, scoreSum)

	// Low-confidence single-source answers widen to both sources.
	if target != models.QueryTypeHybrid && confidence < q.opts.MinConfidence {
		c.note(reason)
		reason = fmt.Sprintf("confidence %.2f below %.2f, searching both sources", confidence, q.opts.MinConfidence)
		target = models.QueryTypeHybrid
	}
	// The state machine starts fresh per call, so this cannot fail.
	_ = c.transition(target, confidence, reason)

	return models.QueryClassification{
		Type:          c.state,
		Confidence:    c.confidence,
		Rationale:     strings.Join(c.rationale, "; "),
		Intent:        intent(parsed, mapping, c.state),
		Complexity:    complexity(parsed, mapping, c.state),
		DocumentTypes: parsed.DocTypes,
	}
}

func (q *queryClassifier) decide(total, mapped, high, cues int, scoreSum float64) (string, float64, string) {
	switch {
	case total > 0 && high == total && cues == 0:
		return models.QueryTypeStructured, scoreSum / float64(mapped),
			fmt.Sprintf("all %d terms map to the schema with high confidence and no document cues", total)
	case mapped == 0 && cues > 0:
		return models.QueryTypeDocument, min(0.95, 0.7+0.1*float64(cues-1)),
			fmt.Sprintf("no terms map to the schema and %d document cues present", cues)
	case total == 0 && cues == 0:
		return models.QueryTypeHybrid, 0.3, "no content terms or document cues"
	}

	coverage := 0.0
	if total > 0 {
		coverage = float64(mapped) / float64(total)
	}
	reason := fmt.Sprintf("%d of %d terms mapped (%d with high confidence)", mapped, total, high)
	if cues > 0 {
		reason += fmt.Sprintf(", %d document cues present", cues)
	}
	return models.QueryTypeHybrid, 0.5 + 0.4*coverage, reason
}

func intent(q *ParsedQuery, mapping *models.MappingResult, queryType string) string {
	switch {
	case q.Aggregate == "COUNT":
		return models.IntentCount
	case q.Aggregate != "":
		return models.IntentAggregate
	case queryType == models.QueryTypeDocument:
		return models.IntentSearch
	case len(q.Comparisons) > 0 || hasValueMatch(mapping):
		return models.IntentFilter
	case len(q.DocumentCues) > 0:
		return models.IntentSearch
	default:
		return models.IntentList
	}
}

func complexity(q *ParsedQuery, mapping *models.MappingResult, queryType string) string {
	tables := len(mapping.Tables())
	filters := len(q.Comparisons)
	if hasValueMatch(mapping) {
		filters++
	}
	switch {
	case tables > 2 || (q.GroupBy != nil && tables > 1) || (queryType == models.QueryTypeHybrid && filters > 1):
		return models.ComplexityComplex
	case tables == 2 || filters > 0 || q.Aggregate != "" || queryType == models.QueryTypeHybrid:
		return models.ComplexityMedium
	default:
		return models.ComplexitySimple
	}
}

func hasValueMatch(mapping *models.MappingResult) bool {
	for _, t := range mapping.Terms {
		if best, ok := t.Best(); ok && best.IsValueMatch() {
			return true
		}
	}
	return false
}

package services

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"gopkg.in/yaml.v3"
)

//go:embed vocabulary/default.yaml
var defaultVocabularyYAML []byte

// Vocabulary is the deterministic lexicon behind every heuristic in the
// engine: purpose labels, document cues, stopwords and query operators.
type Vocabulary struct {
	TablePurposes      map[string][]string `yaml:"table_purposes"`
	ColumnPurposes     map[string][]string `yaml:"column_purposes"`
	DocumentCues       map[string][]string `yaml:"document_cues"`
	Topics             map[string][]string `yaml:"topics"`
	NarrativeCues      []string            `yaml:"narrative_cues"`
	DocumentPriorities map[string]float64  `yaml:"document_priorities"`
	Stopwords          []string            `yaml:"stopwords"`
	Aggregates         map[string][]string `yaml:"aggregates"`
	Comparisons        map[string][]string `yaml:"comparisons"`
	GroupMarkers       []string            `yaml:"group_markers"`

	stop       map[string]bool
	aggregate  map[string]string
	comparison map[string]string
	group      map[string]bool
	docCue     map[string]string
	narrative  map[string]bool
	topic      map[string]string
	termLabels map[string][]string // keyword -> purpose labels, tables and columns combined
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := parseVocabulary(defaultVocabularyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded vocabulary is invalid: %v", err))
	}
	return v
}

// LoadVocabulary reads path and merges it over the embedded defaults. Keys
// present in the file replace the default entry for that key. An empty path
// returns the defaults.
func LoadVocabulary(path string) (*Vocabulary, error) {
	base := DefaultVocabulary()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	var override Vocabulary
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}

	mergeLists(base.TablePurposes, override.TablePurposes)
	mergeLists(base.ColumnPurposes, override.ColumnPurposes)
	mergeLists(base.DocumentCues, override.DocumentCues)
	mergeLists(base.Topics, override.Topics)
	mergeLists(base.Aggregates, override.Aggregates)
	mergeLists(base.Comparisons, override.Comparisons)
	for k, v := range override.DocumentPriorities {
		base.DocumentPriorities[k] = v
	}
	if override.NarrativeCues != nil {
		base.NarrativeCues = override.NarrativeCues
	}
	if override.Stopwords != nil {
		base.Stopwords = override.Stopwords
	}
	if override.GroupMarkers != nil {
		base.GroupMarkers = override.GroupMarkers
	}
	base.index()
	return base, nil
}

func mergeLists(dst, src map[string][]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func parseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	for _, m := range []*map[string][]string{&v.TablePurposes, &v.ColumnPurposes, &v.DocumentCues, &v.Topics, &v.Aggregates, &v.Comparisons} {
		if *m == nil {
			*m = map[string][]string{}
		}
	}
	if v.DocumentPriorities == nil {
		v.DocumentPriorities = map[string]float64{}
	}
	v.index()
	return &v, nil
}

func (v *Vocabulary) index() {
	v.stop = toWordSet(v.Stopwords)
	v.group = toWordSet(v.GroupMarkers)
	v.narrative = toWordSet(v.NarrativeCues)

	v.aggregate = map[string]string{}
	for fn, words := range v.Aggregates {
		for _, w := range words {
			v.aggregate[strings.ToLower(w)] = fn
		}
	}
	v.comparison = map[string]string{}
	for op, words := range v.Comparisons {
		for _, w := range words {
			v.comparison[strings.ToLower(w)] = op
		}
	}
	v.docCue = map[string]string{}
	for docType, words := range v.DocumentCues {
		for _, w := range words {
			v.docCue[singular(w)] = docType
		}
	}

	v.topic = map[string]string{}
	for facet, words := range v.Topics {
		for _, w := range words {
			v.topic[strings.ToLower(w)] = facet
		}
	}

	v.termLabels = map[string][]string{}
	add := func(lexicon map[string][]string) {
		for label, words := range lexicon {
			for _, w := range words {
				key := singular(w)
				if !containsString(v.termLabels[key], label) {
					v.termLabels[key] = append(v.termLabels[key], label)
				}
			}
		}
	}
	add(v.TablePurposes)
	add(v.ColumnPurposes)
	for k := range v.termLabels {
		sort.Strings(v.termLabels[k])
	}
}

// IsStopword reports whether word carries no schema meaning.
func (v *Vocabulary) IsStopword(word string) bool { return v.stop[word] }

// DocumentType returns the document type a cue word routes to.
func (v *Vocabulary) DocumentType(word string) (string, bool) {
	t, ok := v.docCue[singular(word)]
	return t, ok
}

// IsNarrativeCue reports a word that points at document content without a type.
func (v *Vocabulary) IsNarrativeCue(word string) bool {
	return v.narrative[word] || v.narrative[singular(word)]
}

// Topic returns the facet a keyword belongs to, e.g. python is a skill.
func (v *Vocabulary) Topic(word string) (string, bool) {
	f, ok := v.topic[strings.ToLower(word)]
	return f, ok
}

// TermLabels returns the purpose labels whose lexicon contains term.
func (v *Vocabulary) TermLabels(term string) []string {
	if labels, ok := v.termLabels[strings.ReplaceAll(term, " ", "_")]; ok {
		return labels
	}
	return v.termLabels[singular(term)]
}

// Priority returns the ranking weight of a document type.
func (v *Vocabulary) Priority(docType string) float64 {
	if p, ok := v.DocumentPriorities[docType]; ok {
		return p
	}
	if p, ok := v.DocumentPriorities["other"]; ok {
		return p
	}
	return 1
}

func toWordSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = true
	}
	return m
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// singular lower-cases and singularizes the last word of a phrase.
func singular(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	sep := strings.LastIndexAny(s, " _")
	return s[:sep+1] + inflection.Singular(s[sep+1:])
}

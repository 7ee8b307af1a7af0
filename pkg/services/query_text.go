package services

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)\s*>`)
	htmlTagPattern     = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
	tokenPattern       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}|[$€£]?\d+(?:[.,]\d+)*(?:[kKmM]\b)?|[A-Za-z][A-Za-z0-9_']*`)
	isoDatePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// SanitizeInput strips markup and control characters from a question and
// collapses whitespace.
func SanitizeInput(text string) string {
	text = scriptBlockPattern.ReplaceAllString(text, " ")
	text = htmlTagPattern.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// NormalizeQuery is the form of a question used for fingerprinting.
func NormalizeQuery(text string) string {
	text = strings.ToLower(strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " ")))
	return strings.TrimRight(text, "?!. ")
}

// Literal kinds.
const (
	LiteralNumber = "number"
	LiteralDate   = "date"
	LiteralYear   = "year"
)

// Comparison is a filter condition extracted from a question. Values hold
// one bound literal, or two for BETWEEN.
type Comparison struct {
	Op     string // >, >=, <, <=, =, BETWEEN
	Values []any
	Kind   string
	Pos    int // token index of the operator, or of the literal when none was given
}

// Term is a content word of a question.
type Term struct {
	Word string
	Pos  int
}

// ParsedQuery is the deterministic reading of a question that the mapper,
// classifier and generator share.
type ParsedQuery struct {
	Text         string
	Terms        []Term
	Aggregate    string // COUNT, AVG, SUM, MAX, MIN, or ""
	AggregatePos int
	GroupBy      *Term
	Comparisons  []Comparison
	DocumentCues []string
	DocTypes     []string
}

type token struct {
	text    string // lower-cased
	literal any
	kind    string // literal kind, empty for words
}

// ParseQuery tokenizes text and extracts terms, operators and literals.
func ParseQuery(text string, vocab *Vocabulary) *ParsedQuery {
	p := &ParsedQuery{Text: text, AggregatePos: -1}

	raw := tokenPattern.FindAllString(text, -1)
	tokens := make([]token, len(raw))
	for i, r := range raw {
		tokens[i] = classifyToken(r)
	}
	consumed := make([]bool, len(tokens))

	p.Comparisons = extractComparisons(tokens, consumed, vocab)

	docTypes := map[string]bool{}
	for i, tok := range tokens {
		if consumed[i] || tok.kind != "" {
			continue
		}
		w := tok.text

		if p.Aggregate == "" {
			if fn := aggregateAt(tokens, i, vocab); fn != "" {
				p.Aggregate, p.AggregatePos = fn, i
				consumed[i] = true
				continue
			}
		}
		if _, isAgg := vocab.aggregate[w]; isAgg {
			consumed[i] = true
			continue
		}
		if vocab.group[w] && p.GroupBy == nil {
			if j := nextContentWord(tokens, i+1, vocab); j >= 0 {
				p.GroupBy = &Term{Word: tokens[j].text, Pos: j}
			}
			consumed[i] = true
			continue
		}
		if docType, ok := vocab.DocumentType(w); ok {
			p.DocumentCues = append(p.DocumentCues, w)
			docTypes[docType] = true
			consumed[i] = true
			continue
		}
		if vocab.IsNarrativeCue(w) {
			p.DocumentCues = append(p.DocumentCues, w)
			consumed[i] = true
			continue
		}
		if vocab.IsStopword(w) {
			consumed[i] = true
			continue
		}
		if _, isCmp := vocab.comparison[w]; isCmp {
			consumed[i] = true
			continue
		}
		p.Terms = append(p.Terms, Term{Word: w, Pos: i})
	}

	for t := range docTypes {
		p.DocTypes = append(p.DocTypes, t)
	}
	sort.Strings(p.DocTypes)
	return p
}

// aggregateAt recognizes an aggregate starting at i. "how many" and
// "number of" are counts; a bare "total" counts when followed by "number".
func aggregateAt(tokens []token, i int, vocab *Vocabulary) string {
	w := tokens[i].text
	next := ""
	if i+1 < len(tokens) {
		next = tokens[i+1].text
	}
	switch {
	case w == "many" && i > 0 && tokens[i-1].text == "how":
		return "COUNT"
	case w == "number" && next == "of":
		return "COUNT"
	case w == "total" && (next == "number" || next == "count"):
		return "COUNT"
	case w == "many" || w == "number":
		return ""
	}
	return vocab.aggregate[w]
}

func nextContentWord(tokens []token, from int, vocab *Vocabulary) int {
	for j := from; j < len(tokens) && j < from+3; j++ {
		if tokens[j].kind != "" {
			return -1
		}
		if !vocab.IsStopword(tokens[j].text) {
			return j
		}
	}
	return -1
}

// extractComparisons pairs comparison words with the literal that follows
// them. Literals without an operator become equality (years become a
// calendar-year range in the generator).
func extractComparisons(tokens []token, consumed []bool, vocab *Vocabulary) []Comparison {
	var out []Comparison
	for i := 0; i < len(tokens); i++ {
		if consumed[i] {
			continue
		}
		tok := tokens[i]

		if tok.kind != "" {
			consumed[i] = true
			op := "="
			if tok.kind == LiteralYear {
				op = "year"
			}
			out = append(out, Comparison{Op: op, Values: []any{tok.literal}, Kind: tok.kind, Pos: i})
			continue
		}

		op, width := comparisonAt(tokens, i, vocab)
		if op == "" {
			continue
		}

		if op == "BETWEEN" {
			lo := nextLiteral(tokens, i+1, 2)
			if lo < 0 || lo+2 >= len(tokens) || tokens[lo+1].text != "and" || tokens[lo+2].kind == "" {
				continue
			}
			hi := lo + 2
			markConsumed(consumed, i, hi)
			out = append(out, Comparison{Op: op, Values: []any{tokens[lo].literal, tokens[hi].literal}, Kind: tokens[lo].kind, Pos: i})
			i = hi
			continue
		}

		j := nextLiteral(tokens, i+width, 3)
		if j < 0 {
			continue
		}
		markConsumed(consumed, i, j)
		out = append(out, Comparison{Op: op, Values: []any{tokens[j].literal}, Kind: tokens[j].kind, Pos: i})
		i = j
	}
	return out
}

func comparisonAt(tokens []token, i int, vocab *Vocabulary) (string, int) {
	w := tokens[i].text
	next := ""
	if i+1 < len(tokens) {
		next = tokens[i+1].text
	}
	switch {
	case w == "between":
		return "BETWEEN", 1
	case w == "at" && next == "least":
		return ">=", 2
	case w == "at" && next == "most":
		return "<=", 2
	case (w == "more" || w == "greater" || w == "less" || w == "fewer") && next == "than":
		return vocab.comparison[w], 2
	}
	if w == "most" || w == "least" {
		return "", 0
	}
	return vocab.comparison[w], 1
}

func nextLiteral(tokens []token, from, window int) int {
	for j := from; j < len(tokens) && j < from+window; j++ {
		if tokens[j].kind != "" {
			return j
		}
	}
	return -1
}

func markConsumed(consumed []bool, from, to int) {
	for k := from; k <= to && k < len(consumed); k++ {
		consumed[k] = true
	}
}

func classifyToken(raw string) token {
	lower := strings.ToLower(raw)
	if isoDatePattern.MatchString(raw) {
		return token{text: lower, literal: raw, kind: LiteralDate}
	}
	if r, _ := utf8.DecodeRuneInString(raw); unicode.IsDigit(r) || strings.ContainsRune("$€£", r) {
		if n, kind, ok := parseNumber(raw); ok {
			return token{text: lower, literal: n, kind: kind}
		}
	}
	return token{text: strings.Trim(lower, "'")}
}

// parseNumber reads 100, 100k, 1.5m, $100,000. Four-digit integers between
// 1900 and 2100 without currency or suffix are years.
func parseNumber(raw string) (any, string, bool) {
	s := strings.TrimLeft(raw, "$€£")
	currency := len(s) != len(raw)
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k") || strings.HasSuffix(s, "K"):
		mult, s = 1e3, s[:len(s)-1]
	case strings.HasSuffix(s, "m") || strings.HasSuffix(s, "M"):
		mult, s = 1e6, s[:len(s)-1]
	}
	if strings.Count(s, ",") > 0 {
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, "", false
	}
	f *= mult

	if !currency && mult == 1 && len(s) == 4 && f >= 1900 && f <= 2100 && !strings.Contains(s, ".") {
		return int64(f), LiteralYear, true
	}
	if f == float64(int64(f)) {
		return int64(f), LiteralNumber, true
	}
	return f, LiteralNumber, true
}

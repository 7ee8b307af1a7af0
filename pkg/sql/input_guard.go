package sql

import (
	"regexp"
	"sort"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// Input guard flags.
const (
	FlagMutatingStatement = "mutating_statement"
	FlagStackedStatements = "stacked_statements"
	FlagInjectionPattern  = "injection_pattern"
)

// statementPatterns match SQL statements embedded in a natural language
// question. Words like "update" or "drop" alone are ordinary English and do
// not match; the statement shape around them does.
var statementPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(drop|truncate|alter|create)\s+(table|database|schema|view|index|user|role|procedure|function)\b`),
	regexp.MustCompile(`(?i)\bdelete\s+from\b`),
	regexp.MustCompile(`(?i)\binsert\s+into\b`),
	regexp.MustCompile(`(?i)\bupdate\s+[\w."\[\]` + "`" + `]+\s+set\b`),
	regexp.MustCompile(`(?i)\b(grant|revoke)\s+\w+(\s*,\s*\w+)*\s+(on|to|from)\b`),
	regexp.MustCompile(`(?i)\bexec(ute)?\s*\(?\s*(xp_|sp_)\w*`),
	regexp.MustCompile(`(?i)\bmerge\s+into\b`),
}

var stackedPattern = regexp.MustCompile(`;\s*\w+`)

// InspectInput screens raw user text for embedded SQL statements. It returns
// the sorted set of flags raised; an empty result means the text is safe to
// interpret.
func InspectInput(text string) []string {
	flags := map[string]bool{}

	for _, p := range statementPatterns {
		if p.MatchString(text) {
			flags[FlagMutatingStatement] = true
			break
		}
	}
	if stackedPattern.MatchString(text) && len(FindDenylistedTokens(text)) > 0 {
		flags[FlagStackedStatements] = true
	}
	if hasSQLMetacharacters(text) {
		if isSQLi, _ := libinjection.IsSQLi(text); isSQLi {
			flags[FlagInjectionPattern] = true
		}
	}

	out := make([]string, 0, len(flags))
	for f := range flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// hasSQLMetacharacters limits libinjection to text that could terminate a
// literal or comment out a clause. Plain prose is tokenized as bare words by
// libinjection and is prone to false positives.
func hasSQLMetacharacters(text string) bool {
	return strings.ContainsAny(text, "'\";=") || strings.Contains(text, "--") || strings.Contains(text, "/*")
}

package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// reasoningPreamble matches a leading <think>...</think> block some models emit.
var reasoningPreamble = regexp.MustCompile(`(?s)^\s*<think>.*?</think>`)

var errNoJSON = errors.New("no valid JSON found in response")

// ExtractJSON returns the first complete JSON object or array in a model
// reply, skipping reasoning preambles, code fences and surrounding prose.
func ExtractJSON(response string) (string, error) {
	s := reasoningPreamble.ReplaceAllString(response, "")

	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&raw); err == nil {
			return string(raw), nil
		}
	}
	return "", errNoJSON
}

// ParseJSONResponse decodes the JSON in a model reply into T. Both a missing
// payload and a shape mismatch are ErrorTypeMalformed, which callers must not
// count against the provider's health.
func ParseJSONResponse[T any](response string) (T, error) {
	var out T
	payload, err := ExtractJSON(response)
	if err != nil {
		return out, NewError(ErrorTypeMalformed, "no JSON in reply", false, err)
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, NewError(ErrorTypeMalformed, "reply does not match expected shape", false, err)
	}
	return out, nil
}

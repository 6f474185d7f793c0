package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// extractor pulls a JSON candidate out of a model response. ok is false
// when the shape does not occur in the text.
type extractor struct {
	name    string
	extract func(text string) (candidate string, ok bool)
}

// extractors are tried in order; the first candidate that decodes wins.
var extractors = []extractor{
	{"whole body", func(text string) (string, bool) { return text, true }},
	{"json fenced block", func(text string) (string, bool) { return fenced(text, "```json") }},
	{"fenced block", func(text string) (string, bool) { return fenced(text, "```") }},
	{"brace span", func(text string) (string, bool) {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start == -1 || end <= start {
			return "", false
		}
		return text[start : end+1], true
	}},
}

func fenced(text, opener string) (string, bool) {
	i := strings.Index(text, opener)
	if i == -1 {
		return "", false
	}
	rest := text[i+len(opener):]
	j := strings.Index(rest, "```")
	if j == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

// DecodeJSONObject finds and decodes the JSON object embedded in a model
// response. The returned error lists the decode failure of every shape tried.
func DecodeJSONObject(text string) (map[string]interface{}, error) {
	var errs []error
	for _, ex := range extractors {
		candidate, ok := ex.extract(text)
		if !ok {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ex.name, err))
			continue
		}
		if obj == nil {
			errs = append(errs, fmt.Errorf("%s: not a JSON object", ex.name))
			continue
		}
		return obj, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("could not find valid JSON in response")
	}
	return nil, errors.Join(errs...)
}

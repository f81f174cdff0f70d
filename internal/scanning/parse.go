package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object found in response")

// decodeJSONObject decodes the first JSON object in a backend response.
// Markdown fences are stripped first, then surrounding prose is cut at the
// outermost braces. Numbers are kept as json.Number so nothing is rounded.
func decodeJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errNoJSONObject
	}

	candidates := []string{text}
	if stripped := stripCodeFences(text); stripped != "" && stripped != text {
		candidates = append(candidates, stripped)
	}
	if extracted := extractObject(text); extracted != "" && extracted != text {
		candidates = append(candidates, extracted)
	}

	var lastErr error = errNoJSONObject
	for _, candidate := range candidates {
		obj, err := decodeObject(candidate)
		if err == nil {
			return obj, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	return obj, nil
}

func stripCodeFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return ""
	}
	// Drop the opening fence line, which may carry a language tag
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}

// remarshal converts a decoded document into a typed value
func remarshal(doc any, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding receipt: %w", err)
	}
	return nil
}

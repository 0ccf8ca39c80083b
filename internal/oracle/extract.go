package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "sanadbot/pkg/errors"
)

// ExtractJSON locates the first balanced JSON object in text and unmarshals
// it into v. Models wrap JSON in prose and markdown fences often enough that
// a plain Unmarshal of the raw text is the exceptional case.
func ExtractJSON(text string, v interface{}) error {
	raw, err := firstJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrParse, err)
	}
	return nil
}

func firstJSONObject(text string) (string, error) {
	// Strip markdown code fences before scanning; the fence language tag
	// (```json) would otherwise sit inside the candidate object.
	text = strings.ReplaceAll(text, "```json", "\n")
	text = strings.ReplaceAll(text, "```", "\n")

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object in oracle output", apperrors.ErrParse)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced JSON object in oracle output", apperrors.ErrParse)
}

package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseResponse extracts the JSON object spanning from the first '{' to the
// last '}' of text. It fails with ErrNoStructuredContent when either brace is
// missing and with ErrMalformedContent when the span is not one JSON object.
// Values are returned uninterpreted; numbers are json.Number.
func ParseResponse(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 {
		return nil, ErrNoStructuredContent
	}
	if end < start {
		return nil, fmt.Errorf("%w: closing brace before opening brace", ErrMalformedContent)
	}

	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedContent)
	}

	return out, nil
}

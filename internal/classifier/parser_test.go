package classifier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		raw, err := ParseResponse(`{"category":"invoice","confidence":92,"reason":"VAT"}`)
		require.NoError(t, err)
		assert.Equal(t, "invoice", raw["category"])
		assert.Equal(t, json.Number("92"), raw["confidence"])
		assert.Equal(t, "VAT", raw["reason"])
	})

	t.Run("object wrapped in prose", func(t *testing.T) {
		raw, err := ParseResponse("Sure! Here it is:\n```json\n{\"category\": \"spam\", \"confidence\": 99}\n```\nHope that helps.")
		require.NoError(t, err)
		assert.Equal(t, "spam", raw["category"])
	})

	t.Run("nested braces", func(t *testing.T) {
		raw, err := ParseResponse(`{"category":"social","meta":{"x":1}}`)
		require.NoError(t, err)
		assert.Equal(t, "social", raw["category"])
	})

	t.Run("empty object", func(t *testing.T) {
		raw, err := ParseResponse(`{}`)
		require.NoError(t, err)
		assert.Empty(t, raw)
	})

	noContent := []string{"", "I cannot classify this email.", "only an opening {", "only a closing }"}
	for _, text := range noContent {
		t.Run("no structured content: "+text, func(t *testing.T) {
			_, err := ParseResponse(text)
			assert.ErrorIs(t, err, ErrNoStructuredContent)
		})
	}

	malformed := map[string]string{
		"reversed braces": `} oops {`,
		"invalid json":    `{"category": invoice}`,
		"trailing data":   `{"category":"spam"} and also {"category":"social"}`,
		"truncated":       `{"category":"spam", "confidence": }`,
	}
	for name, text := range malformed {
		t.Run("malformed: "+name, func(t *testing.T) {
			_, err := ParseResponse(text)
			assert.ErrorIs(t, err, ErrMalformedContent)
			assert.NotErrorIs(t, err, ErrNoStructuredContent)
		})
	}
}

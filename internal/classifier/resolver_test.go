package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"emailagent/internal/model"
)

func TestResolve(t *testing.T) {
	t.Run("well formed mapping", func(t *testing.T) {
		v := Resolve(map[string]any{
			"category":   "Invoice",
			"confidence": json.Number("87"),
			"reason":     "  contains VAT and IBAN ",
		})
		assert.Equal(t, model.Verdict{Category: model.CategoryInvoice, Confidence: 87, Reason: "contains VAT and IBAN"}, v)
	})

	t.Run("empty mapping", func(t *testing.T) {
		v := Resolve(map[string]any{})
		assert.Equal(t, model.CategoryUnknown, v.Category)
		assert.Equal(t, DefaultConfidence, v.Confidence)
		assert.Equal(t, NoReason, v.Reason)
	})

	categories := []struct {
		in   any
		want model.Category
	}{
		{"promotion", model.CategoryPromotion},
		{" SPAM ", model.CategorySpam},
		{"work", model.CategoryUnknown},
		{42, model.CategoryUnknown},
		{nil, model.CategoryUnknown},
	}
	for _, tt := range categories {
		t.Run(fmt.Sprintf("category %v", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(map[string]any{"category": tt.in}).Category)
		})
	}

	confidences := []struct {
		name string
		in   any
		want int
	}{
		{"number", json.Number("75"), 75},
		{"fraction truncated", json.Number("75.9"), 75},
		{"numeric string", "64", 64},
		{"padded string", " 12.5 ", 12},
		{"above range", json.Number("150"), 100},
		{"negative", json.Number("-3"), 0},
		{"huge literal", json.Number("1e400"), 100},
		{"float", 33.3, 33},
		{"int", 7, 7},
		{"NaN string", "NaN", DefaultConfidence},
		{"word", "high", DefaultConfidence},
		{"bool", true, DefaultConfidence},
		{"null", nil, DefaultConfidence},
	}
	for _, tt := range confidences {
		t.Run("confidence "+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(map[string]any{"confidence": tt.in}).Confidence)
		})
	}

	t.Run("non-string reason", func(t *testing.T) {
		assert.Equal(t, NoReason, Resolve(map[string]any{"reason": 5}).Reason)
		assert.Equal(t, NoReason, Resolve(map[string]any{"reason": "   "}).Reason)
	})
}

func TestFallback(t *testing.T) {
	t.Run("gateway error", func(t *testing.T) {
		err := &GatewayError{Kind: KindTimeout, Err: errors.New("deadline")}
		v := Fallback(err)
		assert.Equal(t, model.CategoryUnknown, v.Category)
		assert.Equal(t, 0, v.Confidence)
		assert.Equal(t, err.Error(), v.Reason)
	})

	t.Run("no structured content", func(t *testing.T) {
		v := Fallback(ErrNoStructuredContent)
		assert.Equal(t, 0, v.Confidence)
		assert.Equal(t, "no structured content found in model response", v.Reason)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseResponse(`{"category": }`)
		v := Fallback(err)
		assert.Equal(t, model.CategoryUnknown, v.Category)
		assert.Equal(t, MalformedConfidence, v.Confidence)
		assert.Contains(t, v.Reason, "model response could not be parsed: ")
	})

	t.Run("other error", func(t *testing.T) {
		v := Fallback(errors.New("boom"))
		assert.Equal(t, 0, v.Confidence)
		assert.Equal(t, "classification error: boom", v.Reason)
	})
}

package classifier

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"emailagent/internal/model"
)

const (
	DefaultConfidence = 50
	NoReason          = "No reason provided"

	// MalformedConfidence is used when the model answered but its JSON was unusable.
	MalformedConfidence = 20
)

// Resolve turns a parsed model mapping into a verdict. It never fails:
// unknown categories become unknown, confidence is clamped to [0,100].
func Resolve(raw map[string]any) model.Verdict {
	return model.Verdict{
		Category:   resolveCategory(raw["category"]),
		Confidence: resolveConfidence(raw["confidence"]),
		Reason:     resolveReason(raw["reason"]),
	}
}

// Fallback is the verdict for an attempt whose model call or parse failed.
func Fallback(err error) model.Verdict {
	v := model.Verdict{Category: model.CategoryUnknown}

	switch {
	case err == nil:
		v.Reason = "classification error: no result"
	case errors.Is(err, ErrMalformedContent):
		v.Confidence = MalformedConfidence
		v.Reason = "model response could not be parsed: " + err.Error()
	case errors.Is(err, ErrNoStructuredContent):
		v.Reason = "no structured content found in model response"
	case IsGatewayError(err):
		v.Reason = err.Error()
	default:
		v.Reason = "classification error: " + err.Error()
	}
	return v
}

func resolveCategory(v any) model.Category {
	token, ok := v.(string)
	if !ok {
		return model.CategoryUnknown
	}
	c, _ := model.ParseCategory(token)
	return c
}

func resolveConfidence(v any) int {
	var f float64
	var err error

	switch t := v.(type) {
	case json.Number:
		f, err = strconv.ParseFloat(t.String(), 64)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return DefaultConfidence
	}
	// out-of-range literals come back as ±Inf with ErrRange and are clamped below
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return DefaultConfidence
	}
	if math.IsNaN(f) {
		return DefaultConfidence
	}

	switch {
	case f <= 0:
		return 0
	case f >= 100:
		return 100
	default:
		return int(f)
	}
}

func resolveReason(v any) string {
	s, ok := v.(string)
	if !ok {
		return NoReason
	}
	if s = strings.TrimSpace(s); s == "" {
		return NoReason
	}
	return s
}

package models

import (
	"encoding/json"
	"math"
)

// AnalysisResult is the structured payload a vision model returns. Its shape is defined by
// the model prompt; the gateway only reads the few well-known keys below.
type AnalysisResult map[string]any

const (
	FieldPrediction     = "prediction"
	FieldConfidence     = "confidence"
	FieldOverallSummary = "overall_summary"
	FieldGlowScore      = "overall_glow_score"
)

func (r AnalysisResult) Prediction() string {
	s, _ := r[FieldPrediction].(string)
	return s
}

// Confidence returns the confidence in [0,100]. Models that only report a 1-10 glow score
// get it scaled by ten.
func (r AnalysisResult) Confidence() (float64, bool) {
	if v, ok := number(r[FieldConfidence]); ok {
		return clamp(v, 0, 100), true
	}
	if v, ok := number(r[FieldGlowScore]); ok {
		return clamp(v*10, 0, 100), true
	}
	return 0, false
}

func (r AnalysisResult) Summary() string {
	s, _ := r[FieldOverallSummary].(string)
	return s
}

func (r AnalysisResult) JSON() ([]byte, error) {
	return json.Marshal(r)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"glowscan_go_backend/internal/models"
)

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n?```")

var errUnparsableOutput = errors.New("model output is not a JSON object")

// ParseAnalysis reads a model reply as a JSON object. Replies wrapped in a ```json fence
// are accepted as well as bare JSON.
func ParseAnalysis(raw string) (models.AnalysisResult, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errUnparsableOutput
	}

	if result, err := decodeObject(text); err == nil {
		return result, nil
	}

	match := jsonFence.FindStringSubmatch(text)
	if match == nil {
		return nil, errUnparsableOutput
	}
	return decodeObject(strings.TrimSpace(match[1]))
}

func decodeObject(text string) (models.AnalysisResult, error) {
	decoder := json.NewDecoder(bytes.NewBufferString(text))
	decoder.UseNumber()

	var result models.AnalysisResult
	if err := decoder.Decode(&result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errUnparsableOutput
	}
	if decoder.More() {
		return nil, errUnparsableOutput
	}
	return normalizeNumbers(result), nil
}

// normalizeNumbers turns json.Number values into float64 so results marshal and compare
// like ordinary decoded JSON.
func normalizeNumbers(result models.AnalysisResult) models.AnalysisResult {
	for key, value := range result {
		if n, ok := value.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				result[key] = f
			}
		}
	}
	return result
}

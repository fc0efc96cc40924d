package common

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseJSON cleans and unmarshals a JSON string into a type T.
// It handles common LLM quirks like surrounding markdown or extra text, and
// falls back to jsonrepair for truncated or slightly malformed objects.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	start := strings.IndexByte(response, '{')
	if start == -1 {
		return zero, fmt.Errorf("no JSON object found in response (missing '{')")
	}
	jsonStr := response[start:]
	if end := strings.LastIndexByte(jsonStr, '}'); end != -1 {
		jsonStr = jsonStr[:end+1]
	}

	var result T
	err := json.Unmarshal([]byte(jsonStr), &result)
	if err == nil {
		return result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(jsonStr)
	if repairErr != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal repaired JSON: %w", err)
	}
	return result, nil
}

// Package llm holds helpers for digesting raw LLM output: fenced-JSON
// extraction and repair of the malformed JSON models routinely emit.
package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats tracks what it took to get usable JSON out of a response.
type RepairStats struct {
	OriginalBytes int      `json:"original_bytes"`
	RepairedBytes int      `json:"repaired_bytes"`
	Strategies    []string `json:"strategies,omitempty"`
	WasRepaired   bool     `json:"was_repaired"`
}

// ExtractJSON pulls the JSON object out of a model response, tolerating
// markdown code fences and prose around the payload.
func ExtractJSON(response string) string {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return trimmed
	}

	start := strings.Index(response, "```json")
	if start == -1 {
		start = strings.Index(response, "```")
	}
	if start >= 0 {
		response = response[start:]
	}

	open := strings.Index(response, "{")
	if open == -1 {
		return ""
	}
	close := strings.LastIndex(response, "}")
	if close == -1 || close < open {
		// Truncated output: keep everything from the opening brace and let
		// repair close the structures.
		return response[open:]
	}
	return response[open : close+1]
}

// StripFences removes a surrounding markdown code fence, if any, and trims
// whitespace. Used when a model was asked for JSON but answered in prose.
func StripFences(response string) string {
	trimmed := strings.TrimSpace(response)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// RepairJSON returns valid JSON for raw model output, trying a cheap
// trailing-comma pass, then structure completion, then the jsonrepair
// library as the heavyweight fallback.
func RepairJSON(raw string) (string, RepairStats, error) {
	stats := RepairStats{OriginalBytes: len(raw)}

	var probe any
	if json.Unmarshal([]byte(raw), &probe) == nil {
		stats.RepairedBytes = len(raw)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw

	if trailingComma.MatchString(repaired) {
		repaired = trailingComma.ReplaceAllString(repaired, "$1")
		stats.Strategies = append(stats.Strategies, "trailing_commas")
	}

	if completed := completeJSON(repaired); completed != repaired {
		repaired = completed
		stats.Strategies = append(stats.Strategies, "completion")
	}

	if json.Unmarshal([]byte(repaired), &probe) != nil {
		fixed, err := jsonrepair.JSONRepair(repaired)
		if err == nil {
			repaired = fixed
			stats.Strategies = append(stats.Strategies, "jsonrepair_library")
		}
	}

	if json.Unmarshal([]byte(repaired), &probe) != nil {
		stats.RepairedBytes = len(repaired)
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
	}

	stats.RepairedBytes = len(repaired)
	return repaired, stats, nil
}

// DecodeResponse extracts, repairs, and unmarshals a model response into
// target in one step.
func DecodeResponse(response string, target any) (RepairStats, error) {
	payload := ExtractJSON(response)
	if payload == "" {
		return RepairStats{OriginalBytes: len(response)}, fmt.Errorf("no JSON object found in response")
	}
	repaired, stats, err := RepairJSON(payload)
	if err != nil {
		return stats, err
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return stats, fmt.Errorf("decoding repaired response: %w", err)
	}
	return stats, nil
}

// completeJSON closes unbalanced objects/arrays in last-opened-first-closed
// order. Strings are tracked so braces inside values don't count.
func completeJSON(s string) string {
	var stack []rune
	inString := false
	escaped := false

	for _, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

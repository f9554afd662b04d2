package reasoning

import (
	"encoding/json"
	"strings"

	"kestrel/internal/model"
)

// Payload is a typed response contract. Each phase module defines its own
// payload types; the adapter refuses to hand back anything that fails
// Validate or cites facts the ledger does not hold.
type Payload interface {
	// Validate checks structural invariants beyond JSON decoding.
	Validate() error

	// CitedFacts returns every fact id the payload references.
	CitedFacts() []model.FactID
}

// Schema pairs a payload constructor with the JSON shape shown to the model.
type Schema struct {
	Name  string         // stable name, part of the cache key
	Shape string         // example JSON shown in prompts
	New   func() Payload // allocates the payload to decode into
}

// extractJSON pulls the JSON object out of a completion. Models wrap output
// in markdown fences or prose often enough that this cannot be skipped.
func extractJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}

	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

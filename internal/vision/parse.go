package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
)

// ParseAnswer decodes the model's reply. Models occasionally wrap the
// JSON object in a markdown code fence despite being told not to, so
// the fences are stripped before decoding. A photo the model flags as
// not-food surfaces as ErrNotFood, everything undecodable as
// ErrAnalysisFailed.
func ParseAnswer(raw string) (*maaltijd.Analysis, error) {

	s := stripFences(strings.TrimSpace(raw))
	if s == "" {
		return nil, fmt.Errorf("%w: empty answer", ErrAnalysisFailed)
	}

	var a maaltijd.Analysis
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	if !a.IsFood {
		return nil, ErrNotFood
	}

	return &a, nil
}

func stripFences(s string) string {

	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}

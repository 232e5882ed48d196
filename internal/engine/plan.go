package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/puk/internal/ledger"
)

var jsonFence = regexp.MustCompile("(?is)```(?:json)?\n(.*?)```")

var bracketed = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)

// ExtractPlan parses a plan-mode model output into its structured form. The
// output should be a JSON object with a "steps" list, but models wrap JSON in
// fences and prose often enough that extraction tolerates both.
func ExtractPlan(text string) (*ledger.PlaybookPlan, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("plan output is empty")
	}
	var candidates []string
	for _, m := range jsonFence.FindAllStringSubmatch(trimmed, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, trimmed)
	if m := bracketed.FindString(trimmed); m != "" {
		candidates = append(candidates, m)
	}
	for _, candidate := range candidates {
		plan, err := decodePlan(candidate)
		if err == nil {
			return plan, nil
		}
	}
	return nil, fmt.Errorf("plan output is not a JSON object with a steps list")
}

func decodePlan(candidate string) (*ledger.PlaybookPlan, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return nil, err
	}
	raw, ok := probe["steps"]
	if !ok {
		return nil, fmt.Errorf("missing steps")
	}
	var steps []ledger.PlanStep
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("steps is not a list: %w", err)
	}
	return &ledger.PlaybookPlan{Steps: steps}, nil
}

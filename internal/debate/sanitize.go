// Package debate implements the two-persona planning loop that decides,
// turn by turn, whether a research session should search more or conclude.
// Model output drives the loop but is never trusted raw: every decision
// passes through the sanitizer, and alternation, cycle floors, and round
// ceilings are enforced by construction rather than by the model.
package debate

import (
	"strings"

	"github.com/deepdive-ai/deepdive/pkg/models"
)

// maxDecisionQueries caps how many search queries one decision may carry.
const maxDecisionQueries = 4

// Sanitize repairs an arbitrary JSON object into a usable decision. It is
// total over its input: the only nil return is an absent or null "thought",
// and every non-nil result has an action from the known three-value set.
//
//   - a non-string thought is coerced via JSON stringification, not dropped
//   - unknown or missing actions normalize to continue_debate
//   - queries survive only for action=search: trimmed, emptied of blanks,
//     capped at 4
//   - a finish reason survives only for action=finish; non-strings stringify
func Sanitize(obj map[string]any) *models.PlannerDecision {
	rawThought, ok := obj["thought"]
	if !ok || rawThought == nil {
		return nil
	}

	d := &models.PlannerDecision{
		Thought: models.Stringify(rawThought),
		Action:  models.ActionContinueDebate,
	}

	if s, ok := obj["action"].(string); ok {
		switch models.PlannerAction(strings.ToLower(strings.TrimSpace(s))) {
		case models.ActionSearch:
			d.Action = models.ActionSearch
		case models.ActionFinish:
			d.Action = models.ActionFinish
		case models.ActionContinueDebate:
			d.Action = models.ActionContinueDebate
		}
	}

	switch d.Action {
	case models.ActionSearch:
		if items, ok := obj["queries"].([]any); ok {
			for _, item := range items {
				if len(d.Queries) >= maxDecisionQueries {
					break
				}
				q := strings.TrimSpace(models.Stringify(item))
				if q != "" {
					d.Queries = append(d.Queries, q)
				}
			}
		}

	case models.ActionFinish:
		reason := obj["reason"]
		if reason == nil {
			reason = obj["finish_reason"]
		}
		if reason != nil {
			d.FinishReason = strings.TrimSpace(models.Stringify(reason))
		}
	}

	return d
}

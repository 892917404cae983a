package agent

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoDecision is returned when the reasoning output carries no JSON object
var ErrNoDecision = errors.New("no structured decision in model output")

// InputRequest is a question the agent wants the user to answer
type InputRequest struct {
	Question string `json:"question"`
}

// Decision is the structured output of a Reason step
type Decision struct {
	Plan         string        `json:"plan"`
	Tools        []string      `json:"tools"`
	Finish       bool          `json:"finish"`
	FinalAnswer  string        `json:"final_answer"`
	NextAction   string        `json:"next_action"`
	RequestInput *InputRequest `json:"request_input"`
}

// WantsInput reports whether the decision asks the user a question
func (d Decision) WantsInput() bool {
	return !d.Finish && d.RequestInput != nil && strings.TrimSpace(d.RequestInput.Question) != ""
}

// ParseDecision extracts a Decision from model output. Code fences and prose
// around the JSON object are tolerated.
func ParseDecision(text string) (Decision, error) {
	var d Decision
	obj, ok := extractJSONObject(text)
	if !ok {
		return d, ErrNoDecision
	}
	if err := json.Unmarshal([]byte(obj), &d); err != nil {
		return d, err
	}
	return d, nil
}

type observation struct {
	Observation string `json:"observation"`
}

// parseObservation returns the structured observation, or the raw text when
// the output carries none
func parseObservation(text string) string {
	if obj, ok := extractJSONObject(text); ok {
		var o observation
		if err := json.Unmarshal([]byte(obj), &o); err == nil && strings.TrimSpace(o.Observation) != "" {
			return strings.TrimSpace(o.Observation)
		}
	}
	return strings.TrimSpace(text)
}

func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Model responses are untyped JSON at the wire; each consumer decodes them
// into one of these shapes and falls back to the raw text when the decode
// fails.

// PlanSpec is the planner response shape: {"queries":[{"label","sql"}...]}.
type PlanSpec struct {
	Queries []PlanQuery `json:"queries"`
}

// PlanQuery is one planned query from the model.
type PlanQuery struct {
	Label   string `json:"label"`
	Purpose string `json:"purpose"`
	SQL     string `json:"sql"`
}

// DecodePlanSpec parses a planner response. ok is false when the text is not
// a JSON object carrying a queries list.
func DecodePlanSpec(text string) (PlanSpec, bool) {
	var spec PlanSpec
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &spec); err != nil {
		return PlanSpec{}, false
	}
	return spec, spec.Queries != nil
}

// Narrative is the synthesis response shape.
type Narrative struct {
	Headline  string `json:"headline"`
	Narrative string `json:"narrative"`
	Summary   string `json:"summary"`
}

// DecodeNarrative parses a synthesis response.
func DecodeNarrative(text string) (Narrative, bool) {
	var narrative Narrative
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &narrative); err != nil {
		return Narrative{}, false
	}
	return narrative, true
}

// IntentSpec is the intent-extraction response shape.
type IntentSpec struct {
	Metric     string          `json:"metric"`
	TimeColumn string          `json:"time_column"`
	Timeframe  string          `json:"timeframe"`
	Dimensions []string        `json:"dimensions"`
	TopN       json.RawMessage `json:"top_n"`
}

// TopNValue coerces the model's top_n (number or numeric string) to an int.
func (s IntentSpec) TopNValue() (int, bool) {
	if len(s.TopN) == 0 {
		return 0, false
	}
	var asInt int
	if err := json.Unmarshal(s.TopN, &asInt); err == nil {
		return asInt, true
	}
	var asFloat float64
	if err := json.Unmarshal(s.TopN, &asFloat); err == nil {
		return int(asFloat), true
	}
	var asString string
	if err := json.Unmarshal(s.TopN, &asString); err == nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(asString)); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// DecodeIntentSpec parses an intent-extraction response.
func DecodeIntentSpec(text string) (IntentSpec, bool) {
	var spec IntentSpec
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &spec); err != nil {
		return IntentSpec{}, false
	}
	return spec, true
}

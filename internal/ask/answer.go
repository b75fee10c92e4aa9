package ask

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/clash402/dataghost/internal/analytics"
	"github.com/clash402/dataghost/internal/llm"
	"github.com/clash402/dataghost/internal/rag"
	"github.com/clash402/dataghost/internal/sqlexec"
)

// coerceFloat maps a row value onto a float64 when possible.
func coerceFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case int64:
		return float64(value), true
	case float64:
		return value, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	default:
		return ""
	}
}

// buildDrivers prefers decomposition/contribution results; otherwise it
// falls back to the first result whose first row carries a numeric field.
func buildDrivers(executed []sqlexec.Result) []Driver {
	drivers := []Driver{}

	for _, result := range executed {
		label := strings.ToLower(result.Label)
		if !strings.Contains(label, "decomposition") && !strings.Contains(label, "contribution") {
			continue
		}
		for _, row := range firstRows(result.Rows, 5) {
			drivers = append(drivers, driverFromRow(row, "contribution", "delta"))
		}
		if len(drivers) > 0 {
			return drivers
		}
	}

	for _, result := range executed {
		if len(result.Rows) == 0 {
			continue
		}
		first := result.Rows[0]
		valueColumn := ""
		for _, column := range result.Columns {
			if _, ok := coerceFloat(first[column]); ok {
				valueColumn = column
				break
			}
		}
		if valueColumn == "" {
			continue
		}
		for _, row := range firstRows(result.Rows, 5) {
			name := ""
			for _, column := range result.Columns {
				if column == valueColumn {
					continue
				}
				if text := stringify(row[column]); text != "" {
					if _, numeric := coerceFloat(row[column]); !numeric {
						name = text
						break
					}
				}
			}
			if name == "" {
				name = "segment"
			}
			contribution, _ := coerceFloat(row[valueColumn])
			drivers = append(drivers, Driver{Name: name, Contribution: contribution, Evidence: row})
		}
		break
	}
	return drivers
}

func driverFromRow(row sqlexec.Row, valueKeys ...string) Driver {
	name := stringify(row["segment"])
	if name == "" {
		name = stringify(row["name"])
	}
	if name == "" {
		name = "segment"
	}
	var contribution float64
	for _, key := range valueKeys {
		if value, ok := coerceFloat(row[key]); ok {
			contribution = value
			break
		}
	}
	return Driver{Name: name, Contribution: contribution, Evidence: row}
}

func firstRows(rows []sqlexec.Row, n int) []sqlexec.Row {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

var chartXKeys = []string{"segment", "x", "dt", "date", "value"}
var chartYKeys = []string{"contribution", "delta", "y", "metric_value", "frequency"}

// buildCharts emits the trend series reversed into ascending time when
// present, else synthesizes a line chart from the first non-empty result.
func buildCharts(executed []sqlexec.Result) []Chart {
	charts := []Chart{}

	for _, result := range executed {
		if result.Label != "Trend series" || len(result.Rows) == 0 {
			continue
		}
		points := make([]ChartPoint, 0, len(result.Rows))
		// Server-side order is newest first; reverse for display.
		for i := len(result.Rows) - 1; i >= 0; i-- {
			row := result.Rows[i]
			y, _ := coerceFloat(row["y"])
			points = append(points, ChartPoint{X: row["x"], Y: y})
		}
		charts = append(charts, Chart{Kind: "line", Title: "Metric trend (latest 30 periods)", Data: points})
	}
	if len(charts) > 0 {
		return charts
	}

	for _, result := range executed {
		if len(result.Rows) == 0 {
			continue
		}
		first := result.Rows[0]
		xKey := firstPresent(result.Columns, chartXKeys)
		yKey := firstPresent(result.Columns, chartYKeys)
		if yKey == "" {
			for _, column := range result.Columns {
				if column == xKey {
					continue
				}
				if _, ok := coerceFloat(first[column]); ok {
					yKey = column
					break
				}
			}
		}
		if xKey == "" || yKey == "" {
			continue
		}
		points := make([]ChartPoint, 0, 30)
		for _, row := range firstRows(result.Rows, 30) {
			y, _ := coerceFloat(row[yKey])
			points = append(points, ChartPoint{X: row[xKey], Y: y})
		}
		charts = append(charts, Chart{Kind: "line", Title: result.Label + " signal", Data: points})
		break
	}
	return charts
}

func firstPresent(columns []string, keys []string) string {
	present := make(map[string]bool, len(columns))
	for _, column := range columns {
		present[column] = true
	}
	for _, key := range keys {
		if present[key] {
			return key
		}
	}
	return ""
}

const synthesisSystemPrompt = "You are a data analyst assistant. Only summarize what is supported by SQL results. " +
	"If evidence is partial, say that explicitly. Return JSON with headline and narrative."

type synthesisResult struct {
	Label string        `json:"label"`
	SQL   string        `json:"sql"`
	Rows  []sqlexec.Row `json:"rows"`
}

type synthesisPayload struct {
	Question    string                 `json:"question"`
	TopResults  []synthesisResult      `json:"top_results"`
	Diagnostics []analytics.Diagnostic `json:"diagnostics"`
	Confidence  analytics.Confidence   `json:"confidence"`
	Context     []rag.Citation         `json:"context"`
}

// synthesizeNarrative produces the headline and narrative. With no executed
// results it short-circuits to a fixed insufficient-evidence answer and
// makes no model call.
func (p *Pipeline) synthesizeNarrative(ctx context.Context, state *askState) (string, string, *llm.CallResult, error) {
	if len(state.executed) == 0 {
		return "Insufficient evidence",
			"No SQL query produced usable results. Upload a richer dataset or clarify metric/timeframe.",
			nil, nil
	}

	topResults := make([]synthesisResult, 0, 3)
	for _, result := range state.executed {
		if len(topResults) == 3 {
			break
		}
		topResults = append(topResults, synthesisResult{Label: result.Label, SQL: result.SQL, Rows: result.Rows})
	}
	citations := state.citations
	if len(citations) > 3 {
		citations = citations[:3]
	}
	payload, err := json.Marshal(synthesisPayload{
		Question:    state.req.Question,
		TopResults:  topResults,
		Diagnostics: state.diagnostics,
		Confidence:  state.confidence,
		Context:     citations,
	})
	if err != nil {
		return "", "", nil, err
	}

	result, err := p.Router.Call(ctx, llm.CallRequest{
		RequestID:       state.req.RequestID,
		App:             p.Cfg.AppName,
		Task:            "synthesize_explanation",
		SystemPrompt:    synthesisSystemPrompt,
		UserPrompt:      string(payload),
		PreferExpensive: true,
	})
	if err != nil {
		return "", "", nil, err
	}

	headline := "Analysis summary"
	narrative := "SQL results were executed and summarized."
	if parsed, ok := llm.DecodeNarrative(result.Text); ok {
		if parsed.Headline != "" {
			headline = parsed.Headline
		}
		if parsed.Narrative != "" {
			narrative = parsed.Narrative
		} else if parsed.Summary != "" {
			narrative = parsed.Summary
		}
	}
	return headline, narrative, result, nil
}

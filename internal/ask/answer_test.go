package ask

import (
	"testing"

	"github.com/clash402/dataghost/internal/sqlexec"
)

func decompositionResult() sqlexec.Result {
	return sqlexec.Result{
		Label:   "Metric change decomposition",
		SQL:     "SELECT 1",
		Columns: []string{"segment", "current_value", "prior_value", "contribution"},
		Rows: []sqlexec.Row{
			{"segment": "A", "current_value": 40.0, "prior_value": 180.0, "contribution": -140.0},
			{"segment": "B", "current_value": 95.0, "prior_value": 0.0, "contribution": 95.0},
		},
	}
}

func TestBuildDriversPrefersDecomposition(t *testing.T) {
	drivers := buildDrivers([]sqlexec.Result{
		{Label: "Row count", SQL: "SELECT 1", Columns: []string{"row_count"}, Rows: []sqlexec.Row{{"row_count": int64(4)}}},
		decompositionResult(),
	})
	if len(drivers) != 2 {
		t.Fatalf("drivers = %v, want 2", drivers)
	}
	if drivers[0].Name != "A" || drivers[0].Contribution != -140 {
		t.Errorf("driver[0] = %+v", drivers[0])
	}
	if drivers[0].Evidence == nil {
		t.Error("driver should carry the evidence row")
	}
}

func TestBuildDriversFallsBackToDelta(t *testing.T) {
	drivers := buildDrivers([]sqlexec.Result{
		{
			Label:   "Segment contribution analysis",
			SQL:     "SELECT 1",
			Columns: []string{"segment", "delta", "contribution_share"},
			Rows:    []sqlexec.Row{{"segment": "B", "delta": 95.0, "contribution_share": nil}},
		},
	})
	if len(drivers) != 1 {
		t.Fatalf("drivers = %v", drivers)
	}
	if drivers[0].Contribution != 95 {
		t.Errorf("contribution = %f, want delta fallback 95", drivers[0].Contribution)
	}
}

func TestBuildDriversGenericFallback(t *testing.T) {
	drivers := buildDrivers([]sqlexec.Result{
		{
			Label:   "Most common values for segment",
			SQL:     "SELECT 1",
			Columns: []string{"value", "frequency"},
			Rows: []sqlexec.Row{
				{"value": "A", "frequency": int64(3)},
				{"value": "B", "frequency": int64(1)},
			},
		},
	})
	if len(drivers) != 2 {
		t.Fatalf("drivers = %v", drivers)
	}
	if drivers[0].Name != "A" || drivers[0].Contribution != 3 {
		t.Errorf("driver[0] = %+v", drivers[0])
	}
}

func TestBuildDriversEmpty(t *testing.T) {
	if drivers := buildDrivers(nil); len(drivers) != 0 {
		t.Errorf("drivers = %v, want none", drivers)
	}
}

func TestBuildChartsPrefersTrendSeries(t *testing.T) {
	charts := buildCharts([]sqlexec.Result{
		decompositionResult(),
		{
			Label:   "Trend series",
			SQL:     "SELECT 1",
			Columns: []string{"x", "y"},
			Rows: []sqlexec.Row{
				{"x": "2025-01-03", "y": 90.0},
				{"x": "2025-01-02", "y": 120.0},
				{"x": "2025-01-01", "y": 100.0},
			},
		},
	})
	if len(charts) != 1 {
		t.Fatalf("charts = %v", charts)
	}
	chart := charts[0]
	if chart.Kind != "line" {
		t.Errorf("kind = %q", chart.Kind)
	}
	// Points are reversed into ascending time for display.
	if chart.Data[0].X != "2025-01-01" || chart.Data[2].X != "2025-01-03" {
		t.Errorf("points not reversed: %v", chart.Data)
	}
}

func TestBuildChartsSynthesizesFromFirstResult(t *testing.T) {
	charts := buildCharts([]sqlexec.Result{decompositionResult()})
	if len(charts) != 1 {
		t.Fatalf("charts = %v", charts)
	}
	chart := charts[0]
	if chart.Data[0].X != "A" || chart.Data[0].Y != -140 {
		t.Errorf("chart data = %v", chart.Data)
	}
}

func TestBuildChartsSkipsEmptyResults(t *testing.T) {
	charts := buildCharts([]sqlexec.Result{
		{Label: "empty", Columns: []string{"x", "y"}, Rows: nil},
	})
	if len(charts) != 0 {
		t.Errorf("charts = %v, want none", charts)
	}
}

func TestCoerceFloat(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
		ok    bool
	}{
		{name: "int64", value: int64(3), want: 3, ok: true},
		{name: "float64", value: 2.5, want: 2.5, ok: true},
		{name: "numeric string", value: "4.25", want: 4.25, ok: true},
		{name: "text", value: "abc", ok: false},
		{name: "nil", value: nil, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerceFloat(tt.value)
			if ok != tt.ok || got != tt.want {
				t.Errorf("coerceFloat(%v) = %f, %v; want %f, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

package dataset

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

const sampleCSV = "Order Date,Segment,Revenue\n" +
	"2025-01-01,A,100\n" +
	"2025-01-02,B,80.5\n" +
	"2025-01-03,,90\n"

func TestIngestCSV(t *testing.T) {
	database := newTestDB(t)

	summary, err := IngestCSV(database, config.Default(), "sales.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}

	wantColumns := []string{"order_date", "segment", "revenue"}
	if len(summary.Columns) != 3 {
		t.Fatalf("columns = %v", summary.Columns)
	}
	for i, want := range wantColumns {
		if summary.Columns[i] != want {
			t.Errorf("column %d = %q, want %q", i, summary.Columns[i], want)
		}
	}
	if summary.Schema["order_date"] != "TEXT" {
		t.Errorf("order_date type = %s, want TEXT", summary.Schema["order_date"])
	}
	if summary.Schema["revenue"] != "REAL" {
		t.Errorf("revenue type = %s, want REAL", summary.Schema["revenue"])
	}
	if summary.Rows != 3 {
		t.Errorf("rows = %d, want 3", summary.Rows)
	}
	if !strings.HasPrefix(summary.TableName, "data_") {
		t.Errorf("table name = %q", summary.TableName)
	}

	meta, err := database.GetDatasetMeta()
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.DatasetID != summary.DatasetID {
		t.Fatalf("dataset meta not installed: %+v", meta)
	}

	// Empty cells become NULL in the physical table.
	var nullSegments int
	err = database.Conn().QueryRow(
		"SELECT COUNT(*) FROM `" + summary.TableName + "` WHERE `segment` IS NULL").Scan(&nullSegments)
	if err != nil {
		t.Fatal(err)
	}
	if nullSegments != 1 {
		t.Errorf("null segments = %d, want 1", nullSegments)
	}
}

func TestIngestCSVTypeInference(t *testing.T) {
	tests := []struct {
		name   string
		values string
		want   string
	}{
		{name: "integers", values: "1\n2\n3", want: "INTEGER"},
		{name: "floats", values: "1.5\n2\n3", want: "REAL"},
		{name: "mixed", values: "1\nabc\n3", want: "TEXT"},
		{name: "all blank", values: " \n \n ", want: "TEXT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database := newTestDB(t)
			csvContent := "metric\n" + tt.values + "\n"
			summary, err := IngestCSV(database, config.Default(), "t.csv", []byte(csvContent))
			if err != nil {
				t.Fatalf("IngestCSV: %v", err)
			}
			if got := summary.Schema["metric"]; got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIngestCSVReplacesPreviousDataset(t *testing.T) {
	database := newTestDB(t)
	cfg := config.Default()

	first, err := IngestCSV(database, cfg, "first.csv", []byte(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	second, err := IngestCSV(database, cfg, "second.csv", []byte("a,b\n1,2\n"))
	if err != nil {
		t.Fatal(err)
	}

	meta, err := database.GetDatasetMeta()
	if err != nil {
		t.Fatal(err)
	}
	if meta.DatasetID != second.DatasetID {
		t.Errorf("active dataset = %s, want %s", meta.DatasetID, second.DatasetID)
	}

	// The previous physical table is dropped.
	var count int
	err = database.Conn().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", first.TableName).Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("old table %s still exists", first.TableName)
	}
}

func TestIngestCSVRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mutate  func(cfg *config.Config)
	}{
		{name: "no data rows", content: "a,b\n"},
		{name: "empty file", content: ""},
		{
			name:    "too many rows",
			content: "a\n1\n2\n3\n",
			mutate:  func(cfg *config.Config) { cfg.DatasetMaxRows = 2 },
		},
		{
			name:    "too many columns",
			content: "a,b,c\n1,2,3\n",
			mutate:  func(cfg *config.Config) { cfg.DatasetMaxColumns = 2 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database := newTestDB(t)
			cfg := config.Default()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			_, err := IngestCSV(database, cfg, "t.csv", []byte(tt.content))
			if err == nil {
				t.Fatal("expected rejection")
			}
			var ingest *IngestError
			if !errors.As(err, &ingest) {
				t.Errorf("error type = %T, want *IngestError", err)
			}
		})
	}
}

func TestIngestCSVDuplicateHeaders(t *testing.T) {
	database := newTestDB(t)
	summary, err := IngestCSV(database, config.Default(), "t.csv", []byte("value,Value\n1,2\n"))
	if err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
	if summary.Columns[0] != "value" || summary.Columns[1] != "value_2" {
		t.Errorf("columns = %v, want [value value_2]", summary.Columns)
	}
}

// Package dataset ingests an uploaded CSV into the single active dataset: a
// physical SQLite table plus the dataset_meta row, installed atomically over
// the previous dataset.
package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/ident"
)

// IngestError reports an upload the caller must fix; the transport maps it
// to a 400.
type IngestError struct {
	msg string
}

func (e *IngestError) Error() string {
	return e.msg
}

func ingestErrorf(format string, args ...any) error {
	return &IngestError{msg: fmt.Sprintf(format, args...)}
}

// Summary reports the installed dataset.
type Summary struct {
	DatasetID  string            `json:"dataset_id"`
	Name       string            `json:"name"`
	TableName  string            `json:"table_name"`
	Rows       int               `json:"rows"`
	Columns    []string          `json:"columns"`
	Schema     map[string]string `json:"schema"`
	SampleRows []map[string]any  `json:"sample_rows"`
	CreatedAt  time.Time         `json:"created_at"`
}

// inferColumnType classifies a column from its non-empty values: INTEGER
// when all parse as integers, REAL when all parse as floats, TEXT otherwise.
// A column with no values is TEXT.
func inferColumnType(values []string) string {
	isInt, isFloat := true, true
	sawValue := false
	for _, value := range values {
		if value == "" {
			continue
		}
		sawValue = true
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			isFloat = false
		}
	}
	if !sawValue {
		return "TEXT"
	}
	if isInt {
		return "INTEGER"
	}
	if isFloat {
		return "REAL"
	}
	return "TEXT"
}

func normalizeValue(value, kind string) (any, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	switch kind {
	case "INTEGER":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return parsed, nil
	case "REAL":
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, err
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func stripBOM(content []byte) []byte {
	return bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})
}

// IngestCSV parses, types, and installs content as the active dataset.
func IngestCSV(database *db.DB, cfg *config.Config, filename string, content []byte) (*Summary, error) {
	reader := csv.NewReader(bytes.NewReader(stripBOM(content)))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, ingestErrorf("CSV is missing header row")
	}
	if len(header) > cfg.DatasetMaxColumns {
		return nil, ingestErrorf("CSV has %d columns, limit is %d", len(header), cfg.DatasetMaxColumns)
	}

	slugged := make([]string, len(header))
	for i, name := range header {
		slugged[i] = ident.Slugify(name)
	}
	columns := ident.DedupeColumns(slugged)

	var rawRows [][]string
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		row := make([]string, len(columns))
		for i := range columns {
			if i < len(record) {
				row[i] = strings.TrimSpace(record[i])
			}
		}
		rawRows = append(rawRows, row)
		if len(rawRows) > cfg.DatasetMaxRows {
			return nil, ingestErrorf("CSV has more than %d rows", cfg.DatasetMaxRows)
		}
	}
	if len(rawRows) == 0 {
		return nil, ingestErrorf("CSV has no data rows")
	}

	schema := make(map[string]string, len(columns))
	for i, column := range columns {
		values := make([]string, len(rawRows))
		for j, row := range rawRows {
			values[j] = row[i]
		}
		schema[column] = inferColumnType(values)
	}

	normalized := make([][]any, len(rawRows))
	for j, row := range rawRows {
		out := make([]any, len(columns))
		for i, column := range columns {
			value, err := normalizeValue(row[i], schema[column])
			if err != nil {
				return nil, ingestErrorf("row %d column %s: %v", j+1, column, err)
			}
			out[i] = value
		}
		normalized[j] = out
	}

	datasetID := uuid.NewString()
	tableName := "data_" + strings.ReplaceAll(datasetID, "-", "")[:12]
	meta := &db.DatasetMeta{
		DatasetID: datasetID,
		Name:      filename,
		TableName: tableName,
		Rows:      len(normalized),
		Columns:   columns,
		Schema:    schema,
		CreatedAt: time.Now().UTC(),
	}

	if err := database.ReplaceDataset(meta, normalized); err != nil {
		return nil, fmt.Errorf("installing dataset: %w", err)
	}

	sample := make([]map[string]any, 0, 5)
	for j := 0; j < len(normalized) && j < 5; j++ {
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalized[j][i]
		}
		sample = append(sample, row)
	}

	return &Summary{
		DatasetID:  datasetID,
		Name:       filename,
		TableName:  tableName,
		Rows:       len(normalized),
		Columns:    columns,
		Schema:     schema,
		SampleRows: sample,
		CreatedAt:  meta.CreatedAt,
	}, nil
}

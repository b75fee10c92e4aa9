package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DatasetMeta describes the single active dataset.
type DatasetMeta struct {
	DatasetID string
	Name      string
	TableName string
	Rows      int
	// Columns preserves ingestion order; all tie-break rules ("first numeric
	// column", "first dimension") are defined against this order.
	Columns []string
	// Schema maps column name to one of INTEGER, REAL, TEXT.
	Schema    map[string]string
	CreatedAt time.Time
}

// NumericColumns returns the numeric columns in ingestion order.
func (m *DatasetMeta) NumericColumns() []string {
	var out []string
	for _, c := range m.Columns {
		if kind := m.Schema[c]; kind == "INTEGER" || kind == "REAL" {
			out = append(out, c)
		}
	}
	return out
}

// TextColumns returns the TEXT columns in ingestion order.
func (m *DatasetMeta) TextColumns() []string {
	var out []string
	for _, c := range m.Columns {
		if m.Schema[c] == "TEXT" {
			out = append(out, c)
		}
	}
	return out
}

// GetDatasetMeta loads the active dataset, or nil when none exists.
func (db *DB) GetDatasetMeta() (*DatasetMeta, error) {
	row := db.conn.QueryRow(`
SELECT dataset_id, name, table_name, rows, columns_json, schema_json, created_at
FROM dataset_meta
LIMIT 1`)

	var meta DatasetMeta
	var columnsJSON, schemaJSON, createdAt string
	err := row.Scan(&meta.DatasetID, &meta.Name, &meta.TableName, &meta.Rows, &columnsJSON, &schemaJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading dataset meta: %w", err)
	}

	if err := json.Unmarshal([]byte(columnsJSON), &meta.Columns); err != nil {
		return nil, fmt.Errorf("decoding dataset columns: %w", err)
	}
	if err := json.Unmarshal([]byte(schemaJSON), &meta.Schema); err != nil {
		return nil, fmt.Errorf("decoding dataset schema: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		meta.CreatedAt = ts
	}
	return &meta, nil
}

// ReplaceDataset atomically installs a new active dataset: the previous
// physical table is dropped, the new table is created and loaded, and the
// single dataset_meta row is replaced, all in one transaction. Row values are
// given column-aligned with meta.Columns; nil means SQL NULL.
func (db *DB) ReplaceDataset(meta *DatasetMeta, rows [][]any) error {
	previous, err := db.GetDatasetMeta()
	if err != nil {
		return err
	}

	return db.withTx(func(tx *sql.Tx) error {
		if previous != nil {
			if _, err := tx.Exec(fmt.Sprintf("DROP TABLE IF EXISTS `%s`", previous.TableName)); err != nil {
				return fmt.Errorf("dropping previous dataset table: %w", err)
			}
		}

		ddl := make([]string, 0, len(meta.Columns))
		for _, column := range meta.Columns {
			ddl = append(ddl, fmt.Sprintf("`%s` %s", column, meta.Schema[column]))
		}
		createSQL := fmt.Sprintf("CREATE TABLE `%s` (%s)", meta.TableName, strings.Join(ddl, ", "))
		if _, err := tx.Exec(createSQL); err != nil {
			return fmt.Errorf("creating dataset table: %w", err)
		}

		quoted := make([]string, 0, len(meta.Columns))
		placeholders := make([]string, 0, len(meta.Columns))
		for _, column := range meta.Columns {
			quoted = append(quoted, fmt.Sprintf("`%s`", column))
			placeholders = append(placeholders, "?")
		}
		insertSQL := fmt.Sprintf(
			"INSERT INTO `%s` (%s) VALUES (%s)",
			meta.TableName, strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
		)
		stmt, err := tx.Prepare(insertSQL)
		if err != nil {
			return fmt.Errorf("preparing dataset insert: %w", err)
		}
		defer stmt.Close()
		for _, row := range rows {
			if _, err := stmt.Exec(row...); err != nil {
				return fmt.Errorf("inserting dataset row: %w", err)
			}
		}

		columnsJSON, err := json.Marshal(meta.Columns)
		if err != nil {
			return err
		}
		schemaJSON, err := json.Marshal(meta.Schema)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM dataset_meta`); err != nil {
			return err
		}
		if _, err := tx.Exec(`
INSERT INTO dataset_meta(dataset_id, name, table_name, rows, columns_json, schema_json, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
			meta.DatasetID, meta.Name, meta.TableName, meta.Rows,
			string(columnsJSON), string(schemaJSON), meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("inserting dataset meta: %w", err)
		}
		return nil
	})
}

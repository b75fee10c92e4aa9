package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RequestLog is the persisted record of one ask request.
type RequestLog struct {
	RequestID        string
	ConversationID   string
	Question         string
	Models           []string
	PromptTokens     int
	CompletionTokens int
	USDCost          float64
	Status           string
	DiagnosticsJSON  string
	ResponseJSON     string
	CreatedAt        time.Time
}

// InsertRequestLog writes the request log row. Called exactly once per
// completed or clarification-gated request.
func (db *DB) InsertRequestLog(entry *RequestLog) error {
	modelsJSON, err := json.Marshal(entry.Models)
	if err != nil {
		return fmt.Errorf("encoding request models: %w", err)
	}
	diagnostics := entry.DiagnosticsJSON
	if diagnostics == "" {
		diagnostics = "[]"
	}
	var response any
	if entry.ResponseJSON != "" {
		response = entry.ResponseJSON
	}

	_, err = db.conn.Exec(`
INSERT INTO requests(request_id, conversation_id, question, models_json, prompt_tokens, completion_tokens, usd_cost, status, diagnostics_json, response_json, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.ConversationID, entry.Question, string(modelsJSON),
		entry.PromptTokens, entry.CompletionTokens, entry.USDCost, entry.Status,
		diagnostics, response, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

// LatestRequestLog returns the most recent request log row, or nil when the
// log is empty.
func (db *DB) LatestRequestLog() (*RequestLog, error) {
	row := db.conn.QueryRow(`
SELECT request_id, conversation_id, question, models_json, prompt_tokens, completion_tokens, usd_cost, status, diagnostics_json, COALESCE(response_json, ''), created_at
FROM requests
ORDER BY created_at DESC, request_id DESC
LIMIT 1`)

	var entry RequestLog
	var modelsJSON, createdAt string
	err := row.Scan(
		&entry.RequestID, &entry.ConversationID, &entry.Question, &modelsJSON,
		&entry.PromptTokens, &entry.CompletionTokens, &entry.USDCost, &entry.Status,
		&entry.DiagnosticsJSON, &entry.ResponseJSON, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading request log: %w", err)
	}
	if err := json.Unmarshal([]byte(modelsJSON), &entry.Models); err != nil {
		return nil, fmt.Errorf("decoding request models: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = ts
	}
	return &entry, nil
}

// CountRequestLogs reports the total number of logged requests.
func (db *DB) CountRequestLogs() (int, error) {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM requests`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

package db

import (
	"encoding/json"
	"fmt"
	"time"
)

// LedgerEntry is one append-only record of model spend.
type LedgerEntry struct {
	ID               string
	RequestID        string
	App              string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	USD              float64
	CreatedAt        time.Time
	Metadata         map[string]string
}

// InsertCostLedger appends a ledger entry.
func (db *DB) InsertCostLedger(entry *LedgerEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding ledger metadata: %w", err)
	}

	_, err = db.conn.Exec(`
INSERT INTO cost_ledger(id, request_id, app, provider, model, prompt_tokens, completion_tokens, usd, created_at, metadata_json)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RequestID, entry.App, entry.Provider, entry.Model,
		entry.PromptTokens, entry.CompletionTokens, entry.USD,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano), string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// RequestSpendUSD sums ledger spend for one request.
func (db *DB) RequestSpendUSD(requestID string) (float64, error) {
	var spend float64
	err := db.conn.QueryRow(
		`SELECT COALESCE(SUM(usd), 0) FROM cost_ledger WHERE request_id = ?`, requestID,
	).Scan(&spend)
	if err != nil {
		return 0, fmt.Errorf("reading request spend: %w", err)
	}
	return spend, nil
}

// GlobalSpendUSDSince sums ledger spend committed at or after the given time.
func (db *DB) GlobalSpendUSDSince(since time.Time) (float64, error) {
	var spend float64
	err := db.conn.QueryRow(
		`SELECT COALESCE(SUM(usd), 0) FROM cost_ledger WHERE created_at >= ?`,
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&spend)
	if err != nil {
		return 0, fmt.Errorf("reading global spend: %w", err)
	}
	return spend, nil
}

// CountLedgerEntries reports the total number of ledger rows.
func (db *DB) CountLedgerEntries() (int, error) {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM cost_ledger`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

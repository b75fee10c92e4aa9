package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocMeta describes one ingested context document.
type DocMeta struct {
	DocID       string
	Filename    string
	ContentType string
	Chunks      int
	CreatedAt   time.Time
}

// VectorChunk is one embedded slice of a context document, joined with its
// document's filename for retrieval output.
type VectorChunk struct {
	ChunkID    string
	DocID      string
	Filename   string
	ChunkIndex int
	Content    string
	Embedding  []float64
}

// InsertDocMeta records a context document.
func (db *DB) InsertDocMeta(meta *DocMeta) error {
	var contentType any
	if meta.ContentType != "" {
		contentType = meta.ContentType
	}
	_, err := db.conn.Exec(`
INSERT INTO docs_meta(doc_id, filename, content_type, chunks, created_at)
VALUES(?, ?, ?, ?, ?)`,
		meta.DocID, meta.Filename, contentType, meta.Chunks,
		meta.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting doc meta: %w", err)
	}
	return nil
}

// InsertVectorChunk persists one embedded chunk and returns its id.
func (db *DB) InsertVectorChunk(docID string, chunkIndex int, content string, embedding []float64, createdAt time.Time) (string, error) {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("encoding embedding: %w", err)
	}
	chunkID := uuid.NewString()
	_, err = db.conn.Exec(`
INSERT INTO vector_chunks(chunk_id, doc_id, chunk_index, content, embedding_json, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		chunkID, docID, chunkIndex, content, string(embeddingJSON),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting vector chunk: %w", err)
	}
	return chunkID, nil
}

// ListVectorChunks returns all persisted chunks joined with document
// metadata, newest document first.
func (db *DB) ListVectorChunks() ([]VectorChunk, error) {
	rows, err := db.conn.Query(`
SELECT vc.chunk_id, vc.doc_id, vc.chunk_index, vc.content, vc.embedding_json, dm.filename
FROM vector_chunks vc
JOIN docs_meta dm ON dm.doc_id = vc.doc_id
ORDER BY vc.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing vector chunks: %w", err)
	}
	defer rows.Close()

	var chunks []VectorChunk
	for rows.Next() {
		var chunk VectorChunk
		var embeddingJSON string
		if err := rows.Scan(&chunk.ChunkID, &chunk.DocID, &chunk.ChunkIndex, &chunk.Content, &embeddingJSON, &chunk.Filename); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &chunk.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %s: %w", chunk.ChunkID, err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// CountDocs reports the number of context documents, used by status output.
func (db *DB) CountDocs() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM docs_meta`).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return count, nil
}

package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
)

// DocSummary reports an ingested context document.
type DocSummary struct {
	DocID     string    `json:"doc_id"`
	Filename  string    `json:"filename"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestError reports a document the caller supplied that cannot be
// ingested; the transport maps it to a 400.
type IngestError struct {
	msg string
}

func (e *IngestError) Error() string {
	return e.msg
}

func extractText(filename string, content []byte) (string, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".csv"):
		return string(stripBOM(content)), nil
	default:
		return "", &IngestError{msg: "Unsupported context file type. Use TXT, MD, or CSV"}
	}
}

func stripBOM(content []byte) []byte {
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		return content[3:]
	}
	return content
}

// IngestContextDoc chunks, embeds, and persists one reference document.
func IngestContextDoc(database *db.DB, cfg *config.Config, filename, contentType string, content []byte) (*DocSummary, error) {
	text, err := extractText(filename, content)
	if err != nil {
		return nil, err
	}

	chunks := ChunkText(text, cfg.RAGChunkSize, cfg.RAGChunkOverlap)
	if len(chunks) == 0 {
		return nil, &IngestError{msg: "Document is empty after extraction"}
	}

	createdAt := time.Now().UTC()
	docID := uuid.NewString()
	if err := database.InsertDocMeta(&db.DocMeta{
		DocID:       docID,
		Filename:    filename,
		ContentType: contentType,
		Chunks:      len(chunks),
		CreatedAt:   createdAt,
	}); err != nil {
		return nil, fmt.Errorf("persisting doc meta: %w", err)
	}

	for idx, chunk := range chunks {
		embedding := EmbedText(chunk)
		if _, err := database.InsertVectorChunk(docID, idx, chunk, embedding, createdAt); err != nil {
			return nil, fmt.Errorf("persisting chunk %d: %w", idx, err)
		}
	}

	return &DocSummary{
		DocID:     docID,
		Filename:  filename,
		Chunks:    len(chunks),
		CreatedAt: createdAt,
	}, nil
}

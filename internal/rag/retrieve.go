package rag

import (
	"sort"

	"github.com/clash402/dataghost/internal/db"
)

// snippetLimit truncates citation snippets.
const snippetLimit = 300

// Citation is one retrieved context chunk.
type Citation struct {
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename"`
	ChunkID  string  `json:"chunk_id"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
}

// Retriever scores persisted chunks against a question.
type Retriever struct {
	db *db.DB
}

// NewRetriever builds a retriever over the chunk store.
func NewRetriever(database *db.DB) *Retriever {
	return &Retriever{db: database}
}

// Retrieve embeds the question, scores every persisted chunk, and returns
// the top-k by cosine similarity.
func (r *Retriever) Retrieve(question string, topK int) ([]Citation, error) {
	queryEmbedding := EmbedText(question)
	chunks, err := r.db.ListVectorChunks()
	if err != nil {
		return nil, err
	}

	scored := make([]Citation, 0, len(chunks))
	for _, chunk := range chunks {
		snippet := chunk.Content
		if len(snippet) > snippetLimit {
			snippet = snippet[:snippetLimit]
		}
		scored = append(scored, Citation{
			DocID:    chunk.DocID,
			Filename: chunk.Filename,
			ChunkID:  chunk.ChunkID,
			Score:    CosineSimilarity(queryEmbedding, chunk.Embedding),
			Snippet:  snippet,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

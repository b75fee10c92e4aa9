package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/clash402/dataghost/internal/ask"
	"github.com/clash402/dataghost/internal/askcache"
	"github.com/clash402/dataghost/internal/dataset"
	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/llm"
	"github.com/clash402/dataghost/internal/rag"
	"github.com/clash402/dataghost/internal/ratelimit"
)

// AskRequest is the inbound ask payload.
type AskRequest struct {
	Question       string            `json:"question"`
	ConversationID string            `json:"conversation_id"`
	Clarifications map[string]string `json:"clarifications"`
}

// AskResponse is the outbound ask payload.
type AskResponse struct {
	ConversationID         string                      `json:"conversation_id"`
	NeedsClarification     bool                        `json:"needs_clarification"`
	ClarificationQuestions []ask.ClarificationQuestion `json:"clarification_questions"`
	Answer                 *ask.Answer                 `json:"answer"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "app": s.cfg.AppName})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if err := s.limiter.Enforce("ask_per_minute", ip, s.cfg.AskRateLimitPerMinute, 60); err != nil {
		s.writeRateLimited(w, err)
		return
	}
	if err := s.limiter.Enforce("ask_per_hour", ip, s.cfg.AskRateLimitPerHour, 3600); err != nil {
		s.writeRateLimited(w, err)
		return
	}

	var payload AskRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if payload.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	requestID := requestIDFrom(r)

	meta, err := s.db.GetDatasetMeta()
	if err != nil {
		s.logger.Error("loading dataset meta", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error while processing question.")
		return
	}
	datasetID := ""
	if meta != nil {
		datasetID = meta.DatasetID
	}
	cacheKey := askcache.BuildKey(payload.Question, datasetID, payload.Clarifications)
	if cached, ok := s.cache.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached)
		return
	}

	result, err := s.pipeline.Run(r.Context(), ask.Request{
		Question:       payload.Question,
		ConversationID: payload.ConversationID,
		RequestID:      requestID,
		Clarifications: payload.Clarifications,
	})
	if err != nil {
		s.writePipelineError(w, requestID, err)
		return
	}

	questions := result.ClarificationQuestions
	if questions == nil {
		questions = []ask.ClarificationQuestion{}
	}
	response := AskResponse{
		ConversationID:         result.ConversationID,
		NeedsClarification:     result.NeedsClarification,
		ClarificationQuestions: questions,
		Answer:                 result.Answer,
	}
	encoded, err := json.Marshal(response)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal error while processing question.")
		return
	}

	s.logAskRequest(payload.Question, result, encoded)

	// Clarification-gated responses are never cached.
	if !result.NeedsClarification && result.Answer != nil {
		s.cache.Set(cacheKey, encoded, time.Duration(s.cfg.AskCacheTTLSeconds)*time.Second)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (s *Server) logAskRequest(question string, result *ask.Result, response []byte) {
	diagnosticsJSON, err := json.Marshal(result.Diagnostics)
	if err != nil {
		diagnosticsJSON = []byte("[]")
	}
	entry := &db.RequestLog{
		RequestID:        result.RequestID,
		ConversationID:   result.ConversationID,
		Question:         question,
		Models:           result.CostTrace.Models,
		PromptTokens:     result.CostTrace.PromptTokens,
		CompletionTokens: result.CostTrace.CompletionTokens,
		USDCost:          result.CostTrace.USD,
		Status:           result.Status(),
		DiagnosticsJSON:  string(diagnosticsJSON),
		ResponseJSON:     string(response),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.db.InsertRequestLog(entry); err != nil {
		s.logger.Error("writing request log", "request_id", result.RequestID, "error", err)
	}
}

func (s *Server) writeRateLimited(w http.ResponseWriter, err error) {
	var limited *ratelimit.LimitExceededError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, limited.Error())
		return
	}
	writeError(w, http.StatusTooManyRequests, err.Error())
}

// writePipelineError maps pipeline failures onto transport status codes:
// budget exhaustion 429, disabled or failing model 503, anything else 500.
func (s *Server) writePipelineError(w http.ResponseWriter, requestID string, err error) {
	var budget *llm.BudgetExceededError
	if errors.As(err, &budget) {
		writeError(w, http.StatusTooManyRequests, budget.Error())
		return
	}
	var disabled *llm.DisabledError
	if errors.As(err, &disabled) {
		writeError(w, http.StatusServiceUnavailable, disabled.Error())
		return
	}
	var provider *llm.ProviderError
	if errors.As(err, &provider) {
		writeError(w, http.StatusServiceUnavailable, provider.Error())
		return
	}
	s.logger.Error("ask pipeline failed", "request_id", requestID, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal error while processing question.")
}

// readUpload pulls the multipart "file" part, bounding the read at maxMB.
func readUpload(w http.ResponseWriter, r *http.Request, maxMB int) (string, []byte, bool) {
	limit := int64(maxMB) << 20
	if r.ContentLength > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB limit.", maxMB))
		return "", nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1)
	if err := r.ParseMultipartForm(limit + 1); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB limit.", maxMB))
		} else {
			writeError(w, http.StatusBadRequest, "Expected multipart form with a file field.")
		}
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field.")
		return "", nil, false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unable to read upload.")
		return "", nil, false
	}
	if int64(len(content)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB limit.", maxMB))
		return "", nil, false
	}
	return header.Filename, content, true
}

func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	filename, content, ok := readUpload(w, r, s.cfg.DatasetMaxUploadMB)
	if !ok {
		return
	}

	summary, err := dataset.IngestCSV(s.db, s.cfg, filename, content)
	if err != nil {
		var ingest *dataset.IngestError
		if errors.As(err, &ingest) {
			writeError(w, http.StatusBadRequest, ingest.Error())
			return
		}
		s.logger.Error("dataset ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error while ingesting dataset.")
		return
	}

	// A new dataset invalidates every cached answer.
	s.cache.Clear()
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUploadContext(w http.ResponseWriter, r *http.Request) {
	filename, content, ok := readUpload(w, r, s.cfg.ContextMaxUploadMB)
	if !ok {
		return
	}

	summary, err := rag.IngestContextDoc(s.db, s.cfg, filename, r.Header.Get("Content-Type"), content)
	if err != nil {
		var ingest *rag.IngestError
		if errors.As(err, &ingest) {
			writeError(w, http.StatusBadRequest, ingest.Error())
			return
		}
		s.logger.Error("context ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error while ingesting context document.")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

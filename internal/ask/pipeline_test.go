package ask

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/clash402/dataghost/internal/analytics"
	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/dataset"
	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/llm"
	"github.com/clash402/dataghost/internal/rag"
	"github.com/clash402/dataghost/internal/sqlexec"
)

func newTestPipeline(t *testing.T, mutate func(cfg *config.Config)) (*Pipeline, *db.DB, *config.Config) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	logger := log.New(io.Discard)
	pipeline := &Pipeline{
		DB:        database,
		Cfg:       cfg,
		Router:    llm.NewRouter(cfg, database, llm.NewMockProvider(cfg), logger),
		Executor:  sqlexec.New(database, time.Duration(cfg.QueryTimeoutSeconds*float64(time.Second)), cfg.QueryMaxRows),
		Retriever: rag.NewRetriever(database),
		Logger:    logger,
	}
	return pipeline, database, cfg
}

func uploadCSV(t *testing.T, database *db.DB, cfg *config.Config, content string) {
	t.Helper()
	if _, err := dataset.IngestCSV(database, cfg, "test.csv", []byte(content)); err != nil {
		t.Fatalf("IngestCSV: %v", err)
	}
}

const twoWeekCSV = "date,segment,revenue\n" +
	"2025-01-06,A,120\n" +
	"2025-01-07,B,60\n" +
	"2025-01-13,A,40\n" +
	"2025-01-14,B,95\n"

func TestPipelineDatasetNotReady(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t, nil)

	result, err := pipeline.Run(context.Background(), Request{Question: "Why did revenue drop last week?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NeedsClarification {
		t.Fatal("dataset-missing requests are not clarification-gated")
	}
	if result.Answer == nil {
		t.Fatal("expected canonical answer")
	}
	if result.Answer.Headline != "Dataset required" {
		t.Errorf("headline = %q, want Dataset required", result.Answer.Headline)
	}
	if len(result.Answer.SQL) != 0 {
		t.Errorf("sql artifacts = %v, want none", result.Answer.SQL)
	}
	if result.Answer.Confidence.Level != analytics.ConfidenceInsufficient {
		t.Errorf("confidence = %q, want insufficient", result.Answer.Confidence.Level)
	}
	found := false
	for _, d := range result.Diagnostics {
		if d.Code == analytics.CodeDatasetNotReady {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics missing DATASET_NOT_READY: %v", result.Diagnostics)
	}
}

func TestPipelineRevenueChangeQuestion(t *testing.T) {
	pipeline, database, cfg := newTestPipeline(t, nil)
	uploadCSV(t, database, cfg, twoWeekCSV)

	result, err := pipeline.Run(context.Background(), Request{Question: "Why did revenue change last week?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NeedsClarification {
		t.Fatalf("unexpected clarification: %v", result.ClarificationQuestions)
	}
	if result.Answer == nil {
		t.Fatal("expected answer")
	}
	if len(result.Answer.SQL) == 0 {
		t.Fatal("expected SQL artifacts")
	}
	foundDriverArtifact := false
	for _, artifact := range result.Answer.SQL {
		lowered := strings.ToLower(artifact.Label)
		if strings.Contains(lowered, "decomposition") || strings.Contains(lowered, "contribution") {
			foundDriverArtifact = true
		}
	}
	if !foundDriverArtifact {
		t.Errorf("artifacts should include decomposition or contribution: %v", result.Answer.SQL)
	}
	switch result.Answer.Confidence.Level {
	case analytics.ConfidenceHigh, analytics.ConfidenceMedium, analytics.ConfidenceInsufficient:
	default:
		t.Errorf("confidence = %q", result.Answer.Confidence.Level)
	}
	if len(result.CostTrace.Models) == 0 {
		t.Error("cost trace should record the models used")
	}
	if result.Answer.Cost.USD < 0 {
		t.Error("cost must be non-negative")
	}
}

func TestPipelineMostCommonSegment(t *testing.T) {
	pipeline, database, cfg := newTestPipeline(t, nil)
	uploadCSV(t, database, cfg, twoWeekCSV)

	result, err := pipeline.Run(context.Background(), Request{Question: "What is the most common segment in the dataset?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NeedsClarification {
		t.Fatal("unexpected clarification")
	}
	if len(result.Answer.SQL) != 1 {
		t.Fatalf("artifacts = %v, want exactly one", result.Answer.SQL)
	}
	artifact := result.Answer.SQL[0]
	if !strings.Contains(strings.ToLower(artifact.Label), "common") {
		t.Errorf("label = %q, want it to mention common", artifact.Label)
	}
	if !strings.Contains(artifact.Query, "`segment`") || !strings.Contains(artifact.Query, "COUNT(*)") {
		t.Errorf("query should group segment counts:\n%s", artifact.Query)
	}
}

func TestPipelineAmbiguousQuestionAsksClarifications(t *testing.T) {
	pipeline, database, cfg := newTestPipeline(t, nil)
	uploadCSV(t, database, cfg,
		"order_date,event_date,revenue,profit,segment\n"+
			"2025-01-01,2025-01-02,100,25,A\n"+
			"2025-01-08,2025-01-09,80,20,A\n"+
			"2025-01-15,2025-01-16,90,24,B\n")

	result, err := pipeline.Run(context.Background(), Request{Question: "Why did performance change last week?"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.NeedsClarification {
		t.Fatal("expected clarification gate")
	}
	if result.Answer != nil {
		t.Error("clarification-gated responses carry no answer")
	}

	byKey := map[string]ClarificationQuestion{}
	for _, question := range result.ClarificationQuestions {
		byKey[question.Key] = question
	}
	metric, ok := byKey["metric"]
	if !ok {
		t.Fatalf("missing metric question: %v", result.ClarificationQuestions)
	}
	if !containsAll(metric.Options, "revenue", "profit") {
		t.Errorf("metric options = %v", metric.Options)
	}
	timeQ, ok := byKey["time_column"]
	if !ok {
		t.Fatalf("missing time_column question: %v", result.ClarificationQuestions)
	}
	if !containsAll(timeQ.Options, "order_date", "event_date") {
		t.Errorf("time options = %v", timeQ.Options)
	}
}

func TestPipelineClarificationsResolveAmbiguity(t *testing.T) {
	pipeline, database, cfg := newTestPipeline(t, nil)
	uploadCSV(t, database, cfg,
		"order_date,event_date,revenue,profit,segment\n"+
			"2025-01-01,2025-01-02,100,25,A\n"+
			"2025-01-08,2025-01-09,80,20,A\n"+
			"2025-01-15,2025-01-16,90,24,B\n")

	result, err := pipeline.Run(context.Background(), Request{
		Question: "Why did performance change last week?",
		Clarifications: map[string]string{
			"metric":      "profit",
			"time_column": "order_date",
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.NeedsClarification {
		t.Fatalf("clarified request should not gate again: %v", result.ClarificationQuestions)
	}
	if result.Answer == nil {
		t.Fatal("expected answer")
	}
	foundProfit := false
	for _, artifact := range result.Answer.SQL {
		if strings.Contains(artifact.Query, "`profit`") {
			foundProfit = true
		}
	}
	if !foundProfit {
		t.Errorf("clarified metric should drive the plan: %v", result.Answer.SQL)
	}
}

func TestPipelineBudgetErrorUnwinds(t *testing.T) {
	pipeline, database, cfg := newTestPipeline(t, func(cfg *config.Config) {
		cfg.LLMMaxUSDPerRequest = 0.00000001
	})
	uploadCSV(t, database, cfg, "date,revenue\n2025-01-01,100\n2025-01-02,120\n")

	_, err := pipeline.Run(context.Background(), Request{Question: "How many rows are in this dataset?"})
	if err == nil {
		t.Fatal("expected budget error to unwind the request")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "per-request budget exceeded") {
		t.Errorf("error = %v", err)
	}
}

func TestPipelineGeneratesConversationAndRequestIDs(t *testing.T) {
	pipeline, _, _ := newTestPipeline(t, nil)
	result, err := pipeline.Run(context.Background(), Request{Question: "anything"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.RequestID == "" || result.ConversationID == "" {
		t.Errorf("ids should be generated: %+v", result)
	}
}

func TestCostTraceAdd(t *testing.T) {
	trace := CostTrace{}
	trace.Add("m1", 10, 20, 0.001)
	trace.Add("m2", 5, 5, 0.002)
	trace.Add("m1", 1, 1, 0.0005)

	if len(trace.Models) != 2 || trace.Models[0] != "m1" || trace.Models[1] != "m2" {
		t.Errorf("models = %v, want unique insertion order", trace.Models)
	}
	if trace.PromptTokens != 16 || trace.CompletionTokens != 26 {
		t.Errorf("tokens = %d/%d", trace.PromptTokens, trace.CompletionTokens)
	}
	summary := trace.Summary()
	if summary.Model != "m1,m2" {
		t.Errorf("summary model = %q", summary.Model)
	}
	if summary.USD != 0.0035 {
		t.Errorf("summary usd = %v", summary.USD)
	}
}

func containsAll(options []string, wanted ...string) bool {
	present := map[string]bool{}
	for _, option := range options {
		present[option] = true
	}
	for _, want := range wanted {
		if !present[want] {
			return false
		}
	}
	return true
}

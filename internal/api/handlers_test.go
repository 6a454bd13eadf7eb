package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deskflow/internal/classify"
	"github.com/deskflow/internal/kb"
	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/pipeline"
	"github.com/deskflow/internal/proposals"
	"github.com/deskflow/internal/thread"
)

type fixedClassifier struct {
	result classify.Result
}

func (f *fixedClassifier) Classify(ctx context.Context, subject, body string, history []thread.Message) (classify.Result, error) {
	return f.result, nil
}

type apiFixture struct {
	server       *Server
	threads      *thread.InMemoryStore
	proposals    *proposals.InMemoryStore
	kb           *kb.InMemoryStore
	observations *observation.InMemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	threads := thread.NewInMemoryStore()
	observationStore := observation.NewInMemoryStore()
	obsService := observation.NewService(observationStore, threads, nil)
	proposalStore := proposals.NewInMemoryStore()
	kbStore := kb.NewInMemoryStore()

	orch := pipeline.NewOrchestrator(pipeline.Config{
		Threads:      threads,
		Classifier:   &fixedClassifier{result: classify.Result{Intent: thread.IntentOrderStatus, Confidence: 0.9}},
		Observations: obsService,
		AutoSend:     pipeline.DefaultAutoSendConfig(),
	})

	server := NewServer(0, orch, obsService, proposals.NewService(proposalStore, kbStore), threads)
	return &apiFixture{
		server:       server,
		threads:      threads,
		proposals:    proposalStore,
		kb:           kbStore,
		observations: observationStore,
	}
}

func (fx *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"channel": "email", "external_id": "msg-1", "subject": "order", "body_text": "Where is order #10045?", "from_identifier": "a@b.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result pipeline.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.ThreadID == "" {
		t.Error("thread id missing from response")
	}
	if result.Intent != thread.IntentOrderStatus {
		t.Errorf("intent = %s", result.Intent)
	}
}

func TestIngestRejectsEmptyBody(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(http.MethodPost, "/api/v1/ingest", `{"channel": "email", "subject": "hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(http.MethodGet, "/api/v1/threads/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTakeoverAndReturnFlow(t *testing.T) {
	fx := newAPIFixture(t)

	ingest := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"channel": "email", "external_id": "msg-1", "subject": "order", "body_text": "Where is order #10045?"}`)
	var result pipeline.IngestResult
	if err := json.Unmarshal(ingest.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode ingest: %v", err)
	}

	rec := fx.do(http.MethodPost, "/api/v1/threads/"+result.ThreadID+"/takeover", `{"handler": "casey"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("takeover status = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, err := fx.threads.GetThread(context.Background(), result.ThreadID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.State != thread.StateHumanHandling {
		t.Errorf("state after takeover = %s", got.State)
	}

	rec = fx.do(http.MethodPost, "/api/v1/threads/"+result.ThreadID+"/return", `{"resolution": "resolved", "summary": "sorted out"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("return status = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, err = fx.threads.GetThread(context.Background(), result.ThreadID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if got.State != thread.StateResolved {
		t.Errorf("state after return = %s", got.State)
	}
}

func TestRecordObservedMessageFeedsTranscript(t *testing.T) {
	fx := newAPIFixture(t)

	ingest := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"channel": "email", "external_id": "msg-1", "subject": "order", "body_text": "Where is order #10045?"}`)
	var result pipeline.IngestResult
	if err := json.Unmarshal(ingest.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode ingest: %v", err)
	}

	rec := fx.do(http.MethodPost, "/api/v1/threads/"+result.ThreadID+"/takeover", `{"handler": "casey"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("takeover status = %d", rec.Code)
	}

	rec = fx.do(http.MethodPost, "/api/v1/threads/"+result.ThreadID+"/observed-messages",
		`{"from": "casey", "body": "Gift wrap is $5, I've added it to your order."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("observed-message status = %d, body = %s", rec.Code, rec.Body.String())
	}

	obs, err := fx.observations.ActiveForThread(context.Background(), result.ThreadID)
	if err != nil {
		t.Fatalf("ActiveForThread failed: %v", err)
	}
	if len(obs.ObservedMessages) != 1 {
		t.Fatalf("transcript should hold the operator reply, got %d messages", len(obs.ObservedMessages))
	}
	got := obs.ObservedMessages[0]
	if got.Direction != "outbound" {
		t.Errorf("direction = %s, want outbound default", got.Direction)
	}
	if got.From != "casey" {
		t.Errorf("from = %s", got.From)
	}

	// The reply also lands in the thread's message log.
	msgs, err := fx.threads.ListMessages(context.Background(), result.ThreadID, 0)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Direction == thread.DirectionOutbound && m.From == "casey" {
			found = true
		}
	}
	if !found {
		t.Error("operator reply missing from the thread message log")
	}
}

func TestRecordObservedMessageWithoutTakeoverConflicts(t *testing.T) {
	fx := newAPIFixture(t)

	ingest := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"channel": "email", "external_id": "msg-1", "subject": "order", "body_text": "Where is order #10045?"}`)
	var result pipeline.IngestResult
	if err := json.Unmarshal(ingest.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode ingest: %v", err)
	}

	rec := fx.do(http.MethodPost, "/api/v1/threads/"+result.ThreadID+"/observed-messages",
		`{"body": "a reply with no handoff"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	rec = fx.do(http.MethodPost, "/api/v1/threads/"+result.ThreadID+"/observed-messages", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", rec.Code)
	}
}

func TestTakeoverRequiresHandler(t *testing.T) {
	fx := newAPIFixture(t)
	rec := fx.do(http.MethodPost, "/api/v1/threads/abc/takeover", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestReturnWithoutTakeoverConflicts(t *testing.T) {
	fx := newAPIFixture(t)

	ingest := fx.do(http.MethodPost, "/api/v1/ingest",
		`{"channel": "email", "external_id": "msg-1", "subject": "order", "body_text": "Where is order #10045?"}`)
	var result pipeline.IngestResult
	if err := json.Unmarshal(ingest.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode ingest: %v", err)
	}

	rec := fx.do(http.MethodPost, "/api/v1/threads/"+result.ThreadID+"/return", `{"resolution": "resolved"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestProposalReviewEndpoints(t *testing.T) {
	fx := newAPIFixture(t)
	p := &proposals.LearningProposal{
		Type:            proposals.TypeKBArticle,
		Title:           "Gift wrap",
		Summary:         "s",
		ProposedContent: "Gift wrap costs $5.",
		ObservationID:   "obs-1",
	}
	if err := fx.proposals.Create(context.Background(), p); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}

	rec := fx.do(http.MethodGet, "/api/v1/proposals?status=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Gift wrap") {
		t.Error("pending proposal missing from list")
	}

	rec = fx.do(http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", `{"reviewer": "morgan"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body = %s", rec.Code, rec.Body.String())
	}

	articles, err := fx.kb.ListArticles(context.Background())
	if err != nil {
		t.Fatalf("ListArticles failed: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("approved proposal should publish an article, got %d", len(articles))
	}

	// Second approve conflicts.
	rec = fx.do(http.MethodPost, "/api/v1/proposals/"+p.ID+"/approve", `{"reviewer": "morgan"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-approve status = %d, want 409", rec.Code)
	}
}

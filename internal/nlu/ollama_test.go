package nlu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/shared"
)

type fakeOllama struct {
	mu       sync.Mutex
	requests []generateRequest
	status   int
	reply    string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/generate" {
		http.NotFound(w, r)
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.status != 0 && f.status != http.StatusOK {
		http.Error(w, "model not loaded", f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(generateResponse{Response: f.reply})
}

func (f *fakeOllama) calls() []generateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]generateRequest(nil), f.requests...)
}

func newTestOllama(t *testing.T, fake *fakeOllama) *Ollama {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewOllama(OllamaConfig{
		BaseURL: srv.URL,
		Model:   "llama3.2",
		Timeout: 2 * time.Second,
		Breaker: shared.DefaultBreakerConfig(),
	}, nil)
}

func TestOllamaDetectIntent(t *testing.T) {
	t.Parallel()

	fake := &fakeOllama{reply: `Sure. {"intent": "provide_pan", "confidence": 0.92}`}
	o := newTestOllama(t, fake)

	history := []domain.Turn{
		{Role: domain.RoleSystem, Text: "turn-one"},
		{Role: domain.RoleCustomer, Text: "turn-two"},
		{Role: domain.RoleSystem, Text: "turn-three"},
		{Role: domain.RoleCustomer, Text: "turn-four"},
	}
	got, err := o.DetectIntent(context.Background(), "my pan is ABCDE1234F", domain.StageKYC, history)
	if err != nil {
		t.Fatalf("DetectIntent() error = %v", err)
	}
	if got.Name != IntentProvidePAN || got.Confidence != 0.92 || got.RequiresClarification {
		t.Errorf("DetectIntent() = %+v", got)
	}

	calls := fake.calls()
	if len(calls) != 1 {
		t.Fatalf("requests = %d, want 1", len(calls))
	}
	req := calls[0]
	if req.Model != "llama3.2" || req.Stream {
		t.Errorf("request model=%q stream=%v", req.Model, req.Stream)
	}
	if req.Options.Temperature != 0.1 || req.Options.NumPredict != 100 {
		t.Errorf("request options = %+v", req.Options)
	}
	if strings.Contains(req.Prompt, "turn-one") || !strings.Contains(req.Prompt, "turn-four") {
		t.Errorf("prompt should carry only the last %d turns:\n%s", historyTurns, req.Prompt)
	}
	if !strings.Contains(req.Prompt, IntentConfirmKYC) {
		t.Errorf("prompt missing stage intents:\n%s", req.Prompt)
	}
}

func TestOllamaFallsBackToRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fake *fakeOllama
	}{
		{"server error", &fakeOllama{status: http.StatusInternalServerError}},
		{"intent outside stage", &fakeOllama{reply: `{"intent": "download_letter", "confidence": 0.99}`}},
		{"no json", &fakeOllama{reply: "I think they are giving a PAN"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOllama(t, tt.fake)
			got, err := o.DetectIntent(context.Background(), "My PAN is ABCDE1234F", domain.StageKYC, nil)
			if err != nil {
				t.Fatalf("DetectIntent() error = %v", err)
			}
			if got.Name != IntentProvidePAN {
				t.Errorf("fallback intent = %q, want %q", got.Name, IntentProvidePAN)
			}
		})
	}
}

func TestOllamaSkipsModelForSystemStages(t *testing.T) {
	t.Parallel()

	fake := &fakeOllama{reply: `{"intent": "accept_offer", "confidence": 1}`}
	o := newTestOllama(t, fake)

	got, err := o.DetectIntent(context.Background(), "ok", domain.StageUnderwriting, nil)
	if err != nil {
		t.Fatalf("DetectIntent() error = %v", err)
	}
	if got.Name != IntentNone {
		t.Errorf("intent = %q, want %q", got.Name, IntentNone)
	}
	if n := len(fake.calls()); n != 0 {
		t.Errorf("model called %d times for a system stage", n)
	}
}

func TestOllamaExtractEntitiesUsesRules(t *testing.T) {
	t.Parallel()

	o := newTestOllama(t, &fakeOllama{})
	e, err := o.ExtractEntities(context.Background(), "5 lakhs for 3 years", IntentProvideLoanAmount)
	if err != nil {
		t.Fatalf("ExtractEntities() error = %v", err)
	}
	if e.Amount != 500_000 || e.TenureMonths != 36 {
		t.Errorf("ExtractEntities() = %+v", e)
	}
}

func TestParseModelIntent(t *testing.T) {
	t.Parallel()

	candidates := StageIntents(domain.StageSales)
	tests := []struct {
		output  string
		want    string
		wantErr bool
	}{
		{`{"intent": "provide_tenure", "confidence": 0.8}`, IntentProvideTenure, false},
		{"```json\n{\"intent\": \"PROVIDE_LOAN_AMOUNT\", \"confidence\": 0.75}\n```", IntentProvideLoanAmount, false},
		{`{"intent": "provide_pan", "confidence": 0.9}`, "", true},
		{`{"intent": "provide_tenure", "confidence": 7}`, "", true},
		{`no braces here`, "", true},
	}

	for _, tt := range tests {
		got, err := parseModelIntent(tt.output, candidates)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseModelIntent(%q) error = %v, wantErr %v", tt.output, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.Name != tt.want {
			t.Errorf("parseModelIntent(%q) = %q, want %q", tt.output, got.Name, tt.want)
		}
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/narrative"
)

func TestExecSummary_RelaysStream(t *testing.T) {
	var gotPrompt string
	svc := &mockNarrativeService{
		configured: true,
		relayFn: func(ctx context.Context, prompt string, w http.ResponseWriter) error {
			gotPrompt = prompt
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("data: {}\n\n"))
			return nil
		},
	}
	h := NewNarrativeHandler(svc)

	w := httptest.NewRecorder()
	h.ExecSummary(w, httptest.NewRequest(http.MethodPost, "/api/exec-summary", strings.NewReader(`{"prompt":"Resumí el mes"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPrompt != "Resumí el mes" {
		t.Errorf("prompt = %q", gotPrompt)
	}
	if w.Body.String() != "data: {}\n\n" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestExecSummary_BuildsPromptFromReport(t *testing.T) {
	var gotPrompt string
	svc := &mockNarrativeService{
		relayFn: func(ctx context.Context, prompt string, w http.ResponseWriter) error {
			gotPrompt = prompt
			return nil
		},
	}
	h := NewNarrativeHandler(svc)

	body := `{"config":{"company":"Acme","industry":"Retail"},"report":{"sections":[{"title":"HubSpot","source":"HubSpot"}]}}`
	w := httptest.NewRecorder()
	h.ExecSummary(w, httptest.NewRequest(http.MethodPost, "/api/exec-summary", strings.NewReader(body)))

	if !strings.Contains(gotPrompt, "Acme") || !strings.Contains(gotPrompt, "Retail") || !strings.Contains(gotPrompt, `"HubSpot"`) {
		t.Errorf("prompt was not built from config and report: %q", gotPrompt)
	}
}

func TestExecSummary_ErrorsBeforeStream(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not configured", model.NewNotConfiguredError("Anthropic"), http.StatusServiceUnavailable, model.ErrCodeNotConfigured},
		{"empty prompt", model.NewInvalidRequestError("El prompt es obligatorio."), http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"upstream error", model.NewUpstreamError("Anthropic", 401, nil), http.StatusBadGateway, model.ErrCodeUpstreamError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockNarrativeService{
				relayFn: func(ctx context.Context, prompt string, w http.ResponseWriter) error {
					return tt.err
				},
			}
			h := NewNarrativeHandler(svc)

			w := httptest.NewRecorder()
			h.ExecSummary(w, httptest.NewRequest(http.MethodPost, "/api/exec-summary", strings.NewReader(`{"prompt":"x"}`)))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != tt.code || body["error"] == "" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestExecSummary_MalformedJSON_Returns400(t *testing.T) {
	h := NewNarrativeHandler(&mockNarrativeService{})

	w := httptest.NewRecorder()
	h.ExecSummary(w, httptest.NewRequest(http.MethodPost, "/api/exec-summary", strings.NewReader(`prompt`)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestExecSummary_AcceptJSON_ReturnsInterpretedResult(t *testing.T) {
	relayed := false
	svc := &mockNarrativeService{
		relayFn: func(ctx context.Context, prompt string, w http.ResponseWriter) error {
			relayed = true
			return nil
		},
		summarizeFn: func(ctx context.Context, prompt string) (narrative.Result, error) {
			return narrative.Result{
				Narrative: "Crecimos.",
				Actions:   &narrative.Actions{Urgent: "a", Opportunity: "b", Sustain: "c"},
			}, nil
		},
	}
	h := NewNarrativeHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/exec-summary", strings.NewReader(`{"prompt":"x"}`))
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	h.ExecSummary(w, req)

	if relayed {
		t.Error("JSON clients should not receive the raw stream")
	}
	var res narrative.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if res.Narrative != "Crecimos." || res.Actions == nil || res.Actions.Opportunity != "b" {
		t.Errorf("result = %+v", res)
	}
}

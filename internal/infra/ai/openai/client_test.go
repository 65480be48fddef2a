package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/ai"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
	"github.com/Macnelson9/Soroban-Registry/internal/infra/ai/openai"
)

func newClient(t *testing.T, h http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := goopenai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg, "gpt-4o-mini")
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

var result = &scans.ScanResult{
	JobID: "j1", ContractID: "token", Version: "1",
	Findings: []scans.Finding{{RuleID: "missing-auth-check", Kind: scans.KindViolation, Severity: scans.SeverityHigh, Message: "writes storage"}},
	Score:    scans.Score{Value: 85, Grade: "B"},
}

func TestAdviseReturnsModelContent(t *testing.T) {
	t.Parallel()

	var gotModel string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req goopenai.ChatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "missing-auth-check") {
			t.Errorf("user prompt should carry the findings, got %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"contract_id":"token","advice":"add require_auth"}`))
	})

	out, err := c.Advise(context.Background(), result)
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if !strings.Contains(out, "require_auth") || gotModel != "gpt-4o-mini" {
		t.Fatalf("unexpected advice %q from model %q", out, gotModel)
	}
}

func TestAdviseMapsRateLimit(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota","type":"insufficient_quota"}}`))
	})
	if _, err := c.Advise(context.Background(), result); !errors.Is(err, ai.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestAdviseRejectsEmptyAnswer(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "x", "object": "chat.completion", "choices": []any{}})
	})
	if _, err := c.Advise(context.Background(), result); !errors.Is(err, ai.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/agentmode/internal/adapter/litellm"
	"github.com/Strob0t/agentmode/internal/port/ai"
	"github.com/Strob0t/agentmode/internal/resilience"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens int               `json:"max_tokens"`
			Metadata  map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Model != "openai/gpt-4o-mini" {
			t.Errorf("model = %q", body.Model)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "plan it" {
			t.Errorf("unexpected messages %+v", body.Messages)
		}
		if body.MaxTokens != 512 || body.Metadata["purpose"] != "plan" {
			t.Errorf("unexpected options %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"task\":{}}"}}]}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini", time.Second)
	out, err := client.Complete(context.Background(), ai.Request{
		Purpose:   ai.PurposePlan,
		System:    "you plan",
		Prompt:    "plan it",
		MaxTokens: 512,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"task":{}}` {
		t.Errorf("content = %q", out)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m", time.Second)
	if _, err := client.Complete(context.Background(), ai.Request{Prompt: "x"}); !errors.Is(err, litellm.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestCompleteServerErrorOpensBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m", time.Second)
	client.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for range 2 {
		_, err := client.Complete(context.Background(), ai.Request{Prompt: "x"})
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Fatalf("expected 502 error, got %v", err)
		}
	}
	_, err := client.Complete(context.Background(), ai.Request{Prompt: "x"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model/info" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		resp := map[string][]litellm.Model{
			"data": {
				{ModelName: "gpt-4o", Provider: "openai"},
				{ModelName: "claude-sonnet", Provider: "anthropic"},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m", time.Second)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0].ModelName != "gpt-4o" {
		t.Fatalf("unexpected models %+v", models)
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`"I'm alive!"`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", "m", time.Second)
	if ok, err := client.Health(context.Background()); !ok || err != nil {
		t.Fatalf("expected healthy, got %v %v", ok, err)
	}
	healthy = false
	if ok, _ := client.Health(context.Background()); ok {
		t.Fatal("expected unhealthy")
	}
}

func TestKeySourceReadPerRequest(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	key := "sk-one"
	client := litellm.NewClient(srv.URL, "ignored", "m", time.Second)
	client.SetKeySource(func() string { return key })
	for _, k := range []string{"sk-one", "sk-two"} {
		key = k
		if _, err := client.Complete(context.Background(), ai.Request{Prompt: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if strings.Join(seen, ",") != "Bearer sk-one,Bearer sk-two" {
		t.Errorf("auth headers = %q", seen)
	}
}

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MagClaw/MagClaw/internal/config"
)

func TestCreateSendsSchemaAndAuth(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, "default-model")
	resp, err := p.Create(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Schema:   &JSONSchema{Name: "thing", Schema: map[string]any{"type": "object"}, Strict: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["model"] != "default-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	rf, ok := gotBody["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_schema" {
		t.Errorf("response_format = %v", gotBody["response_format"])
	}
	if resp.Content != `{"ok":true}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCreateParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"exec","arguments":"{\"command\":\"ls\"}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, "m")
	resp, err := p.Create(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "list files"}},
		Tools:    []ToolDefinition{{Type: "function", Function: FunctionDef{Name: "exec"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "c1" || tc.Name != "exec" || tc.Arguments["command"] != "ls" {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestCreateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL, "m")
	if _, err := p.Create(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hi"}}}); err == nil {
		t.Fatal("expected API error")
	}
}

func TestResolvePrefersOpenRouter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenRouter.APIKey = "sk-router"

	oracle, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := oracle.(*OpenAIProvider)
	if !ok {
		t.Fatalf("oracle type %T", oracle)
	}
	if p.apiBase != "https://openrouter.ai/api/v1" {
		t.Errorf("apiBase = %q", p.apiBase)
	}

	cfg.Providers.OpenRouter.APIKey = ""
	cfg.Providers.OpenAI.APIKey = ""
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("expected error with no provider configured")
	}
}

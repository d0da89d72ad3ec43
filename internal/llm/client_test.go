package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/threadline-ai/threadline/go/engine/internal/loop"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
)

func TestSplitModelSpec(t *testing.T) {
	cases := []struct {
		spec     string
		provider string
		model    string
		wantErr  bool
	}{
		{"openai/gpt-4o-mini", "openai", "gpt-4o-mini", false},
		{"openrouter/meta-llama/llama-3-70b", "openrouter", "meta-llama/llama-3-70b", false},
		{"gpt-4o-mini", "", "", true},
		{"openai/", "", "", true},
		{"/gpt-4o", "", "", true},
	}
	for _, tc := range cases {
		provider, model, err := SplitModelSpec(tc.spec)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SplitModelSpec(%q): expected error", tc.spec)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitModelSpec(%q): %v", tc.spec, err)
			continue
		}
		if provider != tc.provider || model != tc.model {
			t.Errorf("SplitModelSpec(%q) = (%q, %q), want (%q, %q)",
				tc.spec, provider, model, tc.provider, tc.model)
		}
	}
}

func TestGenerateStepRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/step" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var wire stepWireRequest
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if wire.Provider != "openai" || wire.Model != "gpt-4o-mini" {
			t.Errorf("unexpected model routing: %s/%s", wire.Provider, wire.Model)
		}
		if wire.ToolChoice != "auto" {
			t.Errorf("unexpected tool choice %q", wire.ToolChoice)
		}
		json.NewEncoder(w).Encode(StepResult{
			Text: "looking that up",
			ToolCalls: []state.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: state.ToolCallFunction{
					Name:      "web_search",
					Arguments: `{"query":"go idioms"}`,
				},
			}},
			Usage: loop.Usage{InputTokens: 120, OutputTokens: 30, TotalTokens: 150},
		})
	}))
	defer srv.Close()

	gen := NewHTTPGeneratorWithURL(srv.URL, srv.Client())
	out, err := gen.GenerateStep(context.Background(), StepRequest{
		ModelSpec:  "openai/gpt-4o-mini",
		Messages:   []state.Message{{Role: state.RoleUser}},
		ToolChoice: loop.ToolChoiceAuto,
	})
	if err != nil {
		t.Fatalf("GenerateStep failed: %v", err)
	}
	if out.Text != "looking that up" {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Function.Name != "web_search" {
		t.Fatalf("unexpected tool calls %+v", out.ToolCalls)
	}
	if out.Usage.TotalTokens != 150 {
		t.Fatalf("unexpected usage %+v", out.Usage)
	}
}

func TestGenerateStepServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gen := NewHTTPGeneratorWithURL(srv.URL, srv.Client())
	_, err := gen.GenerateStep(context.Background(), StepRequest{ModelSpec: "openai/gpt-4o-mini"})
	if err == nil {
		t.Fatal("expected error on 503")
	}
}

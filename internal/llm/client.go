// Package llm is the boundary to the model-serving sidecar. The loop engine
// treats generation as an opaque call: model spec plus conversation in, text
// plus tool calls plus usage out.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/threadline-ai/threadline/go/engine/internal/loop"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
	"github.com/threadline-ai/threadline/go/engine/internal/tools"
)

// StepRequest is one generation turn.
type StepRequest struct {
	// ModelSpec is "<provider>/<model>", e.g. "openai/gpt-4o-mini".
	ModelSpec  string
	Messages   []state.Message
	Tools      []tools.Definition
	ToolChoice loop.ToolChoice
}

// StepResult is the model's output for one turn.
type StepResult struct {
	Text      string           `json:"text"`
	ToolCalls []state.ToolCall `json:"tool_calls,omitempty"`
	Usage     loop.Usage       `json:"usage"`
}

// Generator produces one step of model output.
type Generator interface {
	GenerateStep(ctx context.Context, req StepRequest) (*StepResult, error)
}

// HTTPGenerator calls the model service's /v1/step endpoint.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGenerator reads LLM_SERVICE_URL (default http://llm-service:8000)
// and LLM_STEP_TIMEOUT_SECONDS (default 60).
func NewHTTPGenerator() *HTTPGenerator {
	base := os.Getenv("LLM_SERVICE_URL")
	if base == "" {
		base = "http://llm-service:8000"
	}

	timeoutSec := 60
	if v := os.Getenv("LLM_STEP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeoutSec = n
		}
	}

	return &HTTPGenerator{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// NewHTTPGeneratorWithURL is used by tests against httptest servers.
func NewHTTPGeneratorWithURL(baseURL string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPGenerator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type stepWireRequest struct {
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	Messages   []state.Message    `json:"messages"`
	Tools      []tools.Definition `json:"tools,omitempty"`
	ToolChoice string             `json:"tool_choice,omitempty"`
}

// GenerateStep posts the conversation to the model service and decodes its
// reply. Non-2xx responses surface as errors so the activity retry policy
// owns backoff.
func (g *HTTPGenerator) GenerateStep(ctx context.Context, req StepRequest) (*StepResult, error) {
	provider, model, err := SplitModelSpec(req.ModelSpec)
	if err != nil {
		return nil, err
	}

	wire := stepWireRequest{
		Provider:   provider,
		Model:      model,
		Messages:   req.Messages,
		Tools:      req.Tools,
		ToolChoice: string(req.ToolChoice),
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/step", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model step HTTP call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model step returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var out StepResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode step response: %w", err)
	}
	return &out, nil
}

// SplitModelSpec parses "<provider>/<model>". The model half may itself
// contain slashes (hosted router specs), so only the first one splits.
func SplitModelSpec(spec string) (provider, model string, err error) {
	idx := strings.Index(spec, "/")
	if idx <= 0 || idx == len(spec)-1 {
		return "", "", fmt.Errorf("invalid model spec %q: want <provider>/<model>", spec)
	}
	return spec[:idx], spec[idx+1:], nil
}

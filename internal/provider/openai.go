package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	qerrors "quorum/internal/errors"
	"quorum/internal/logging"
)

// OpenAIConfig configures an OpenAI-compatible chat completions adapter.
// Any endpoint speaking the /chat/completions dialect works: OpenAI itself,
// OpenRouter, vLLM, Ollama's compat mode.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Headers map[string]string
}

// OpenAIAdapter speaks the OpenAI-compatible chat completions API.
type OpenAIAdapter struct {
	baseURL    string
	apiKey     string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

var _ Adapter = (*OpenAIAdapter)(nil)

// NewOpenAIAdapter creates the adapter. The model is taken per request from
// GenerateRequest.ModelID, so one adapter serves every model on the route
// table that shares the endpoint.
func NewOpenAIAdapter(cfg OpenAIConfig, logger logging.Logger) *OpenAIAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIAdapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

func (a *OpenAIAdapter) GenerateText(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	payload := map[string]any{
		"model": req.ModelID,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"stream": false,
	}
	if len(req.Tools) > 0 {
		payload["tools"] = convertTools(req.Tools)
		payload["tool_choice"] = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := a.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	a.logger.Debug("POST %s model=%s tools=%d", endpoint, req.ModelID, len(req.Tools))

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, qerrors.NewTransientError(err, "model endpoint unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, qerrors.NewTransientError(err, "reading model response failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapHTTPStatus(resp.StatusCode, respBody)
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     *int `json:"prompt_tokens"`
			CompletionTokens *int `json:"completion_tokens"`
			TotalTokens      *int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if oaiResp.Error != nil && oaiResp.Error.Message != "" {
		return nil, qerrors.NewPermanentError(
			fmt.Errorf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message),
			"model endpoint rejected the request")
	}
	if len(oaiResp.Choices) == 0 {
		return nil, qerrors.NewTransientError(errors.New("no choices in response"), "model returned an empty response")
	}

	choice := oaiResp.Choices[0]
	result := &GenerateResult{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Provider:     req.ProviderID,
		Model:        req.ModelID,
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
		TotalTokens:  oaiResp.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if result.FinishReason == "" {
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		} else {
			result.FinishReason = "stop"
		}
	}
	return result, nil
}

func convertTools(tools []ToolDescriptor) []oaiTool {
	out := make([]oaiTool, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.Required))
		for _, name := range t.Required {
			props[name] = map[string]any{"type": "string"}
		}
		out = append(out, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": props,
					"required":   t.Required,
				},
			},
		})
	}
	return out
}

// mapHTTPStatus classifies provider HTTP failures: 408/429/5xx are worth
// retrying, everything else is permanent.
func mapHTTPStatus(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	err := fmt.Errorf("provider returned %d: %s", status, msg)
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return qerrors.NewTransientError(err, "model endpoint is temporarily failing")
	default:
		return qerrors.NewPermanentError(err, "model endpoint rejected the request")
	}
}

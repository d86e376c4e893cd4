// Package provider executes model calls against configured provider/model
// routes with per-attempt timeouts, retries, and primary→secondary
// fallback. Invoke never returns an error: exhaustion yields a fail-safe
// empty-text result so the calling worker can proceed to its own skip or
// retry logic deterministically.
package provider

import (
	"context"
	"fmt"

	"quorum/internal/queue"
)

// Route identifies one provider/model pair.
type Route struct {
	ProviderID string `json:"provider_id" mapstructure:"provider_id"`
	ModelID    string `json:"model_id" mapstructure:"model_id"`
}

// String renders the route as providerId:modelId, the form recorded in
// attempt paths.
func (r Route) String() string {
	return fmt.Sprintf("%s:%s", r.ProviderID, r.ModelID)
}

// IsZero reports whether the route is unset.
func (r Route) IsZero() bool {
	return r.ProviderID == "" && r.ModelID == ""
}

// RoutePair is a primary route with an optional secondary fallback.
type RoutePair struct {
	Primary   Route  `json:"primary" mapstructure:"primary"`
	Secondary *Route `json:"secondary,omitempty" mapstructure:"secondary"`
}

// RouteTable resolves a route pair per task type, with a default for task
// types without a dedicated entry. Static configuration: the router never
// mutates it.
type RouteTable struct {
	Default RoutePair                    `json:"default" mapstructure:"default"`
	ByType  map[queue.TaskType]RoutePair `json:"by_type,omitempty" mapstructure:"by_type"`
}

// Resolve returns the route pair for a task type.
func (t RouteTable) Resolve(taskType queue.TaskType) RoutePair {
	if pair, ok := t.ByType[taskType]; ok {
		return pair
	}
	return t.Default
}

// Usage is normalized token accounting. Normalized is set when any count
// was missing upstream and replaced with a best guess, so callers can tell
// trustworthy usage from estimated usage.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	Normalized   bool `json:"normalized"`
}

// ToolCall is one tool invocation requested by the model. Arguments is the
// raw JSON string exactly as the provider returned it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// GenerateRequest is one attempt's input to a model adapter.
type GenerateRequest struct {
	ProviderID string
	ModelID    string
	Prompt     string
	Tools      []ToolDescriptor
}

// ToolDescriptor advertises an available tool to the model.
type ToolDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// GenerateResult is the raw adapter output before normalization.
type GenerateResult struct {
	Text         string
	FinishReason string // "stop", "tool_calls", "length", "error", ...
	Provider     string
	Model        string
	InputTokens  *int // nil when the provider did not report it
	OutputTokens *int
	TotalTokens  *int
	ToolCalls    []ToolCall
	ErrorMessage string
}

// Adapter is the model-call contract consumed by the router. Concrete LLM
// providers live behind it.
type Adapter interface {
	GenerateText(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

func (f AdapterFunc) GenerateText(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}

// Result is the router's terminal output for one invocation. FinishReason
// "error" with empty text is the fail-safe shape after all retries and
// fallbacks are exhausted.
type Result struct {
	Text         string
	FinishReason string
	Provider     string
	Model        string
	Usage        Usage
	ToolCalls    []ToolCall
	ErrorMessage string
	// AttemptPath records providerId:modelId for every stage reached, in
	// order, for observability.
	AttemptPath []string
	// FellBack is set when the secondary route produced the result.
	FellBack bool
}

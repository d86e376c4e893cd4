package provider

import (
	"context"
	"fmt"
	"time"

	qerrors "quorum/internal/errors"
	"quorum/internal/events"
	"quorum/internal/logging"
	"quorum/internal/queue"
)

// Config tunes the router's attempt loop.
type Config struct {
	// Retries is how many times each stage is retried after its first
	// attempt, so each stage runs up to Retries+1 attempts.
	Retries int
	// AttemptTimeout bounds every individual attempt.
	AttemptTimeout time.Duration
	// RetryBackoff is the base delay between attempts within a stage.
	RetryBackoff time.Duration
}

func (c *Config) defaults() {
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
}

// Router resolves a route pair per task type and executes model calls with
// retry, timeout, and primary→secondary fallback.
type Router struct {
	routes   RouteTable
	adapters map[string]Adapter // provider id -> adapter
	config   Config
	sink     events.Sink
	logger   logging.Logger
}

// NewRouter creates a Router. adapters maps provider ids to their model
// adapters; a route naming an unknown provider fails its attempts.
func NewRouter(routes RouteTable, adapters map[string]Adapter, config Config, sink events.Sink, logger logging.Logger) *Router {
	config.defaults()
	return &Router{
		routes:   routes,
		adapters: adapters,
		config:   config,
		sink:     events.OrNop(sink),
		logger:   logging.OrNop(logger),
	}
}

// Invoke executes one model call for the given task type. It never returns
// an error: when the primary route is exhausted it falls back to the
// secondary (recording a fallback event first), and when that is exhausted
// too it returns a fail-safe empty-text result carrying the last error.
func (r *Router) Invoke(ctx context.Context, taskType queue.TaskType, prompt string, tools []ToolDescriptor) *Result {
	pair := r.routes.Resolve(taskType)
	attemptPath := make([]string, 0, 2)

	if pair.Primary.IsZero() {
		return &Result{
			FinishReason: "error",
			ErrorMessage: fmt.Sprintf("no route configured for task type %q", taskType),
			AttemptPath:  attemptPath,
		}
	}

	attemptPath = append(attemptPath, pair.Primary.String())
	result, err := r.runStage(ctx, pair.Primary, prompt, tools)
	if err == nil {
		result.AttemptPath = attemptPath
		return result
	}
	lastErr := err

	if pair.Secondary != nil && !pair.Secondary.IsZero() {
		r.logger.Warn("primary route %s exhausted, falling back to %s: %v",
			pair.Primary, pair.Secondary, err)
		r.sink.Emit(events.Event{
			Kind:       events.KindProviderFallback,
			EntityID:   pair.Primary.String(),
			TaskType:   string(taskType),
			ReasonCode: "primary_exhausted",
			OccurredAt: time.Now(),
			Fields:     map[string]string{"secondary": pair.Secondary.String()},
		})

		attemptPath = append(attemptPath, pair.Secondary.String())
		result, err = r.runStage(ctx, *pair.Secondary, prompt, tools)
		if err == nil {
			result.AttemptPath = attemptPath
			result.FellBack = true
			return result
		}
		lastErr = err
	}

	return &Result{
		Text:         "",
		FinishReason: "error",
		Provider:     pair.Primary.ProviderID,
		Model:        pair.Primary.ModelID,
		ErrorMessage: lastErr.Error(),
		AttemptPath:  attemptPath,
	}
}

// runStage runs up to Retries+1 attempts against one route. Each attempt is
// independently timeout-bounded; an adapter error or an "error" finish
// reason counts as attempt failure.
func (r *Router) runStage(ctx context.Context, route Route, prompt string, tools []ToolDescriptor) (*Result, error) {
	adapter, ok := r.adapters[route.ProviderID]
	if !ok {
		return nil, qerrors.NewPermanentError(
			fmt.Errorf("unknown provider %q", route.ProviderID),
			fmt.Sprintf("no adapter registered for provider %q", route.ProviderID))
	}

	retryConfig := qerrors.RetryConfig{
		MaxAttempts:  r.config.Retries,
		BaseDelay:    r.config.RetryBackoff,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.25,
	}

	return qerrors.RetryWithResultAndLog(ctx, retryConfig, func(ctx context.Context) (*Result, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
		defer cancel()

		raw, err := adapter.GenerateText(attemptCtx, GenerateRequest{
			ProviderID: route.ProviderID,
			ModelID:    route.ModelID,
			Prompt:     prompt,
			Tools:      tools,
		})
		if err != nil {
			r.emitAttempt(route, "error")
			// Every in-stage failure is retried while attempts remain.
			return nil, qerrors.NewTransientError(err, fmt.Sprintf("route %s: %v", route, err))
		}
		if raw.FinishReason == "error" {
			r.emitAttempt(route, "error_finish")
			return nil, qerrors.NewTransientError(
				fmt.Errorf("provider returned error finish: %s", raw.ErrorMessage),
				fmt.Sprintf("route %s returned an error result", route))
		}

		r.emitAttempt(route, "ok")
		providerID := raw.Provider
		if providerID == "" {
			providerID = route.ProviderID
		}
		modelID := raw.Model
		if modelID == "" {
			modelID = route.ModelID
		}
		return &Result{
			Text:         raw.Text,
			FinishReason: raw.FinishReason,
			Provider:     providerID,
			Model:        modelID,
			Usage:        normalizeUsage(raw, prompt),
			ToolCalls:    raw.ToolCalls,
		}, nil
	}, r.logger)
}

func (r *Router) emitAttempt(route Route, outcome string) {
	r.sink.Emit(events.Event{
		Kind:       events.KindProviderAttempt,
		EntityID:   route.String(),
		ReasonCode: outcome,
		OccurredAt: time.Now(),
	})
}

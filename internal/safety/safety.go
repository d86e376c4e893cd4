// Package safety defines the gate contract the pipeline consumes before any
// generated text is published, plus the lightweight checkers the core ships
// with. The full natural-language rule set lives behind the Gate interface
// and is injected by the host application.
package safety

import "context"

// Risk levels attached to gate results.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Input is the text under evaluation plus caller-supplied context.
type Input struct {
	Text    string
	Context map[string]string
}

// Result is a gate verdict. ReviewRequired routes the artifact to a human
// instead of auto-publishing or auto-discarding.
type Result struct {
	Allowed        bool
	ReasonCode     string
	Reason         string
	ReviewRequired bool
	RiskLevel      string
}

// Gate evaluates generated text. An error means the check itself failed
// (treated as transient by callers), not that the text was rejected.
type Gate interface {
	Check(ctx context.Context, input Input) (Result, error)
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, input Input) (Result, error)

func (f GateFunc) Check(ctx context.Context, input Input) (Result, error) {
	return f(ctx, input)
}

// AllowAll returns a gate that approves everything. Test and bootstrap use.
func AllowAll() Gate {
	return GateFunc(func(context.Context, Input) (Result, error) {
		return Result{Allowed: true, RiskLevel: RiskLow}, nil
	})
}

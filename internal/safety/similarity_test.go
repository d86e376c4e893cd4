package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{name: "identical", a: "the quick brown fox", b: "the quick brown fox", min: 1, max: 1},
		{name: "disjoint", a: "alpha beta", b: "gamma delta", min: 0, max: 0},
		{name: "partial overlap", a: "hello brave new world", b: "hello old world", min: 0.3, max: 0.5},
		{name: "empty side", a: "", b: "anything", min: 0, max: 0},
		{name: "punctuation ignored", a: "Hello, world!", b: "hello world", min: 1, max: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			require.GreaterOrEqual(t, got, tt.min)
			require.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestRecentReplyGate(t *testing.T) {
	gate, err := NewRecentReplyGate(0.8, 16)
	require.NoError(t, err)

	gate.Record("post-1", "great point, totally agree with this take")

	blocked, err := gate.Check(context.Background(), Input{
		Text:    "great point, totally agree with this take",
		Context: map[string]string{"post_id": "post-1"},
	})
	require.NoError(t, err)
	require.False(t, blocked.Allowed)
	require.Equal(t, ReasonSimilarToRecentReply, blocked.ReasonCode)

	fresh, err := gate.Check(context.Background(), Input{
		Text:    "an entirely different perspective on the matter",
		Context: map[string]string{"post_id": "post-1"},
	})
	require.NoError(t, err)
	require.True(t, fresh.Allowed)

	// Other posts are not consulted.
	other, err := gate.Check(context.Background(), Input{
		Text:    "great point, totally agree with this take",
		Context: map[string]string{"post_id": "post-2"},
	})
	require.NoError(t, err)
	require.True(t, other.Allowed)
}

func TestRecentReplyGateNoPostContext(t *testing.T) {
	gate, err := NewRecentReplyGate(0.5, 16)
	require.NoError(t, err)
	res, err := gate.Check(context.Background(), Input{Text: "anything"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

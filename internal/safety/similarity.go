package safety

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ReasonSimilarToRecentReply flags a draft that is too close to something
// already posted in the same thread.
const ReasonSimilarToRecentReply = "similar_to_recent_reply"

// Similarity computes Jaccard overlap between the lowercase token sets of
// two texts. 0 means disjoint, 1 means identical sets.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?;:\"'()[]")
		if token != "" {
			set[token] = true
		}
	}
	return set
}

// RecentReplyGate rejects drafts whose token overlap with a recent reply in
// the same thread meets the configured threshold. Recent replies are kept
// per post in a bounded LRU so memory stays flat under many threads.
type RecentReplyGate struct {
	threshold float64
	maxKept   int

	mu     sync.Mutex
	byPost *lru.Cache[string, []string]
}

// NewRecentReplyGate creates a gate with the given similarity threshold in
// (0, 1]. postCapacity bounds how many posts are tracked at once.
func NewRecentReplyGate(threshold float64, postCapacity int) (*RecentReplyGate, error) {
	if postCapacity <= 0 {
		postCapacity = 1024
	}
	cache, err := lru.New[string, []string](postCapacity)
	if err != nil {
		return nil, err
	}
	return &RecentReplyGate{
		threshold: threshold,
		maxKept:   20,
		byPost:    cache,
	}, nil
}

// Record remembers a published reply for future similarity checks.
func (g *RecentReplyGate) Record(postID, text string) {
	if postID == "" || text == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	replies, _ := g.byPost.Get(postID)
	replies = append(replies, text)
	if len(replies) > g.maxKept {
		replies = replies[len(replies)-g.maxKept:]
	}
	g.byPost.Add(postID, replies)
}

// Check implements Gate. The post id is read from input.Context["post_id"];
// with no post context the draft passes.
func (g *RecentReplyGate) Check(_ context.Context, input Input) (Result, error) {
	postID := input.Context["post_id"]
	if postID == "" || g.threshold <= 0 {
		return Result{Allowed: true, RiskLevel: RiskLow}, nil
	}

	g.mu.Lock()
	replies, _ := g.byPost.Get(postID)
	g.mu.Unlock()

	for _, prior := range replies {
		if Similarity(input.Text, prior) >= g.threshold {
			return Result{
				Allowed:    false,
				ReasonCode: ReasonSimilarToRecentReply,
				Reason:     "draft repeats a recent reply in this thread",
				RiskLevel:  RiskMedium,
			}, nil
		}
	}
	return Result{Allowed: true, RiskLevel: RiskLow}, nil
}

var _ Gate = (*RecentReplyGate)(nil)

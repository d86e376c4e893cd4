package dispatch

import (
	"context"
	"time"

	"quorum/internal/events"
	"quorum/internal/logging"
	"quorum/internal/policy"
	"quorum/internal/safety"
)

// EligibilityCheck verifies the persona may act on the intent's target at
// all (persona active, target not archived or banned). It runs on every
// dispatch regardless of the precheck-enabled policy flag: eligibility is
// correctness, not tunable throttling.
type EligibilityCheck func(ctx context.Context, intent *Intent, persona Persona) (ok bool, reasonCode string)

// ReplyHistory is the consumed view of prior persona activity.
type ReplyHistory interface {
	// CountSince returns how many replies persona published at or after
	// since.
	CountSince(ctx context.Context, personaID string, since time.Time) (int, error)
}

// DryRunGenerator produces a draft reply for the safety similarity check
// without committing anything.
type DryRunGenerator func(ctx context.Context, intent *Intent, persona Persona) (string, error)

// PrecheckDeps wires the reply precheck's collaborators.
type PrecheckDeps struct {
	Eligibility EligibilityCheck
	History     ReplyHistory
	Cooldowns   *CooldownTracker
	DryRun      DryRunGenerator
	Similarity  safety.Gate // typically *safety.RecentReplyGate
	Sink        events.Sink // best-effort safety event record
	Logger      logging.Logger
}

// NewReplyPrecheck composes the reply dispatch precheck. Check order:
//
//  1. eligibility, always enforced, even when the precheck is disabled by
//     policy; a failure short-circuits everything else.
//  2. hourly rate limit per persona (policy-gated).
//  3. per-post cooldown keyed by (persona, post) (policy-gated).
//  4. dry-run generation + similarity check against recent replies in the
//     thread (policy-gated); the safety event record is best-effort and
//     never blocks dispatch.
//
// Reasons from steps 2-4 accumulate; the intent is allowed only when the
// reason list is empty.
func NewReplyPrecheck(deps PrecheckDeps) Precheck {
	logger := logging.OrNop(deps.Logger)
	sink := events.OrNop(deps.Sink)

	return func(ctx context.Context, intent *Intent, persona Persona, pol policy.Snapshot, now time.Time) PrecheckResult {
		var result PrecheckResult

		if deps.Eligibility != nil {
			if ok, reasonCode := deps.Eligibility(ctx, intent, persona); !ok {
				result.Reasons = append(result.Reasons, reasonCode, ReasonPrecheckBlocked)
				return result
			}
		}

		if !pol.PrecheckEnabled {
			return result
		}

		if deps.History != nil && pol.PerPersonaHourlyReplyLimit > 0 {
			count, err := deps.History.CountSince(ctx, persona.ID, now.Add(-time.Hour))
			if err != nil {
				// Fail closed on an unreadable history: an unverifiable
				// rate limit counts as exceeded.
				logger.Warn("precheck: reply history unavailable for %s: %v", persona.ID, err)
				result.Reasons = append(result.Reasons, ReasonRateLimitHourly)
			} else if count >= pol.PerPersonaHourlyReplyLimit {
				result.Reasons = append(result.Reasons, ReasonRateLimitHourly)
			}
		}

		postID, _ := intent.Payload["post_id"].(string)
		if deps.Cooldowns != nil && postID != "" {
			if deps.Cooldowns.InCooldown(persona.ID, postID, pol.PerPostCooldown, now) {
				result.Reasons = append(result.Reasons, ReasonPerPostCooldown)
			}
		}

		if deps.DryRun != nil && deps.Similarity != nil {
			draft, err := deps.DryRun(ctx, intent, persona)
			if err != nil {
				logger.Warn("precheck: dry-run generation failed for intent %s: %v", intent.ID, err)
			} else if draft != "" {
				verdict, err := deps.Similarity.Check(ctx, safety.Input{
					Text:    draft,
					Context: map[string]string{"post_id": postID, "persona_id": persona.ID},
				})
				if err != nil {
					logger.Warn("precheck: similarity check failed for intent %s: %v", intent.ID, err)
				} else {
					if !verdict.Allowed {
						result.Reasons = append(result.Reasons, ReasonSimilarToRecent)
					}
					// Best-effort record; a full sink never blocks dispatch.
					sink.Emit(events.Event{
						Kind:       events.KindSafety,
						EntityID:   intent.ID,
						PersonaID:  persona.ID,
						ReasonCode: verdict.ReasonCode,
						OccurredAt: now,
					})
				}
			}
		}

		return result
	}
}

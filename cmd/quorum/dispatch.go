package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"quorum/internal/config"
	"quorum/internal/dispatch"
	"quorum/internal/logging"
	"quorum/internal/policy"
	"quorum/internal/queue"
)

// dispatchReport is the per-intent line the dispatch command prints.
type dispatchReport struct {
	IntentID   string   `json:"intent_id"`
	Dispatched bool     `json:"dispatched"`
	PersonaID  string   `json:"persona_id,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

func newDispatchCmd(configPath *string) *cobra.Command {
	var intentsPath string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Evaluate intents against policy and print the decisions",
		Long:  "Runs intents through eligibility and precheck without executing anything, printing one JSON decision per intent. Useful for tuning policy before letting the pipeline act.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runDispatch(cmd.Context(), cfg, intentsPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&intentsPath, "intents", "", "path to a JSON or YAML file of intents (required)")
	_ = cmd.MarkFlagRequired("intents")
	return cmd
}

func runDispatch(ctx context.Context, cfg *config.Config, intentsPath string, out io.Writer) error {
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	intents, err := loadIntents(intentsPath)
	if err != nil {
		return err
	}

	snapshot := policy.Snapshot{
		ReplyEnabled:                cfg.Policy.ReplyEnabled,
		PrecheckEnabled:             cfg.Policy.PrecheckEnabled,
		PerPersonaHourlyReplyLimit:  cfg.Policy.PerPersonaHourlyReplyLimit,
		PerPostCooldown:             cfg.Policy.PerPostCooldown,
		PrecheckSimilarityThreshold: cfg.Policy.PrecheckSimilarityThreshold,
	}

	cooldowns, err := dispatch.NewCooldownTracker(0)
	if err != nil {
		return fmt.Errorf("cooldown tracker: %w", err)
	}
	precheck := dispatch.NewReplyPrecheck(dispatch.PrecheckDeps{
		Cooldowns: cooldowns,
		Logger:    logging.WithComponent(logger, "precheck"),
	})

	// Decisions only: the created tasks go nowhere.
	scratch := queue.New(queue.NewMemoryStore(), queue.Config{}, nil, nil)
	now := time.Now()
	createTask := func(ctx context.Context, task *queue.Task, _ *dispatch.Intent) error {
		return scratch.Enqueue(ctx, task, now)
	}

	dispatcher := dispatch.New(nil, logging.WithComponent(logger, "dispatch"))
	decisions, err := dispatcher.DispatchIntents(ctx, intents, configPersonaList(cfg.Personas), snapshot, now, precheck, createTask)
	if err != nil {
		return fmt.Errorf("dispatch intents: %w", err)
	}

	enc := json.NewEncoder(out)
	for i, d := range decisions {
		report := dispatchReport{
			IntentID:   intents[i].ID,
			Dispatched: d.Dispatched,
			PersonaID:  d.PersonaID,
			TaskID:     d.TaskID,
			Reasons:    d.Reasons,
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return nil
}

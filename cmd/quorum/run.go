package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"quorum/internal/agent"
	"quorum/internal/config"
	"quorum/internal/dispatch"
	"quorum/internal/events"
	"quorum/internal/generate"
	"quorum/internal/logging"
	"quorum/internal/metrics"
	"quorum/internal/policy"
	"quorum/internal/prompt"
	"quorum/internal/provider"
	"quorum/internal/queue"
	"quorum/internal/review"
	"quorum/internal/safety"
	"quorum/internal/sweeper"
)

func newRunCmd(configPath *string) *cobra.Command {
	var intentsPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: dispatch intents, execute tasks, sweep leases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg, intentsPath)
		},
	}
	cmd.Flags().StringVar(&intentsPath, "intents", "", "path to a JSON or YAML file of intents to dispatch on startup")
	return cmd
}

func runPipeline(parent context.Context, cfg *config.Config, intentsPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	logger.Info("quorum starting (version %s)", version)

	// Observability: every pipeline event flows to the log and to
	// prometheus through one async fan-out.
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sink := events.NewAsyncSink(
		events.Multi(events.NewLogSink(logging.WithComponent(logger, "events")), metrics.NewSink(m)),
		cfg.Events.BufferSize,
		logger,
	)
	defer sink.Close()

	// Queues.
	tasks := queue.New(queue.NewMemoryStore(), queue.Config{
		Lease:             cfg.Queue.Lease,
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
	}, sink, logging.WithComponent(logger, "queue"))
	reviews := review.NewQueue(review.NewMemoryStore(), tasks, sink, logging.WithComponent(logger, "review"))

	// Policy snapshots.
	policies := policy.NewProvider(policy.Static(policy.Snapshot{
		ReplyEnabled:                cfg.Policy.ReplyEnabled,
		PrecheckEnabled:             cfg.Policy.PrecheckEnabled,
		PerPersonaHourlyReplyLimit:  cfg.Policy.PerPersonaHourlyReplyLimit,
		PerPostCooldown:             cfg.Policy.PerPostCooldown,
		PrecheckSimilarityThreshold: cfg.Policy.PrecheckSimilarityThreshold,
	}), cfg.Policy.SnapshotTTL, logging.WithComponent(logger, "policy"))

	// Model routing.
	adapters := make(map[string]provider.Adapter, len(cfg.Provider.Endpoints))
	for providerID, ep := range cfg.Provider.Endpoints {
		adapters[providerID] = provider.NewOpenAIAdapter(provider.OpenAIConfig{
			BaseURL: ep.BaseURL,
			APIKey:  ep.APIKey,
			Timeout: ep.Timeout,
		}, logging.WithComponent(logger, "provider."+providerID))
	}
	router := provider.NewRouter(cfg.Provider.Routes, adapters, provider.Config{
		Retries:        cfg.Provider.Retries,
		AttemptTimeout: cfg.Provider.AttemptTimeout,
		RetryBackoff:   cfg.Provider.RetryBackoff,
	}, sink, logging.WithComponent(logger, "router"))

	// Prompt runtime and generation.
	loop := prompt.NewLoop(router, prompt.NewRegistry(), prompt.LoopConfig{
		MaxIterations: cfg.ToolLoop.MaxIterations,
		Timeout:       cfg.ToolLoop.Timeout,
	}, sink, logging.WithComponent(logger, "toolloop"))
	generator := generate.New(loop, newConfigPersonas(cfg.Personas), generate.Config{
		SystemBaseline:    cfg.Prompt.SystemBaseline,
		Policy:            cfg.Prompt.Policy,
		OutputConstraints: cfg.Prompt.OutputConstraints,
	}, logging.WithComponent(logger, "generate"))

	// Execution agent.
	ag := agent.New(agent.Config{
		Queue:     tasks,
		Reviews:   reviews,
		Generator: generator,
		Gate:      safety.AllowAll(),
		Results:   agent.NewMemoryResultStore(uuid.NewString),
		ReviewTTL: cfg.Review.TTL,
		Logger:    logging.WithComponent(logger, "agent"),
	})

	// Seed work, if any.
	if intentsPath != "" {
		if err := dispatchIntentsFile(ctx, cfg, intentsPath, tasks, policies, sink, logger); err != nil {
			return err
		}
	}

	sweep := sweeper.New(sweeper.Config{
		Enabled:         cfg.Sweeper.Enabled,
		RecoverSchedule: cfg.Sweeper.RecoverSchedule,
		ExpireSchedule:  cfg.Sweeper.ExpireSchedule,
	}, tasks, reviews, logging.WithComponent(logger, "sweeper"))
	if err := sweep.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweep.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen, reg, logger) })
	}
	for i := 0; i < cfg.Worker.Count; i++ {
		worker := agent.NewWorker(fmt.Sprintf("worker-%d", i), ag, tasks, agent.WorkerConfig{
			PollInterval:      cfg.Worker.PollInterval,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		}, logging.WithComponent(logger, "worker"))
		g.Go(func() error { return worker.Run(gctx) })
	}

	err := g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	logger.Info("quorum stopped")
	return nil
}

func serveMetrics(ctx context.Context, listen string, reg *prometheus.Registry, logger logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening on %s", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// dispatchIntentsFile loads intents from a file and runs them through the
// dispatcher, enqueueing tasks for those that pass policy.
func dispatchIntentsFile(
	ctx context.Context,
	cfg *config.Config,
	path string,
	tasks *queue.Queue,
	policies *policy.Provider,
	sink events.Sink,
	logger logging.Logger,
) error {
	intents, err := loadIntents(path)
	if err != nil {
		return err
	}

	snapshot := policies.Snapshot(ctx)

	now := time.Now()
	dispatcher := dispatch.New(sink, logging.WithComponent(logger, "dispatch"))
	cooldowns, err := dispatch.NewCooldownTracker(0)
	if err != nil {
		return fmt.Errorf("cooldown tracker: %w", err)
	}
	precheck := dispatch.NewReplyPrecheck(dispatch.PrecheckDeps{
		Cooldowns: cooldowns,
		Sink:      sink,
		Logger:    logging.WithComponent(logger, "precheck"),
	})

	createTask := func(ctx context.Context, task *queue.Task, _ *dispatch.Intent) error {
		return tasks.Enqueue(ctx, task, now)
	}

	decisions, err := dispatcher.DispatchIntents(ctx, intents, configPersonaList(cfg.Personas), snapshot, now, precheck, createTask)
	if err != nil {
		return fmt.Errorf("dispatch intents: %w", err)
	}

	dispatched := 0
	for _, d := range decisions {
		if d.Dispatched {
			dispatched++
		}
	}
	logger.Info("dispatched %d/%d intents from %s", dispatched, len(intents), path)
	return nil
}

// loadIntents reads a JSON or YAML intent list, chosen by file extension.
func loadIntents(path string) ([]*dispatch.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}
	var intents []*dispatch.Intent
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &intents)
	default:
		err = json.Unmarshal(data, &intents)
	}
	if err != nil {
		return nil, fmt.Errorf("parse intents: %w", err)
	}
	for _, intent := range intents {
		if intent.Status == "" {
			intent.Status = dispatch.IntentNew
		}
	}
	return intents, nil
}

func configPersonaList(personas []config.PersonaConfig) []dispatch.Persona {
	out := make([]dispatch.Persona, 0, len(personas))
	for _, p := range personas {
		status := dispatch.PersonaStatus(p.Status)
		if p.Status == "" {
			status = dispatch.PersonaActive
		}
		out = append(out, dispatch.Persona{ID: p.ID, Status: status})
	}
	return out
}

// configPersonas serves persona souls straight from configuration. Memory
// is not wired here, so the memory block degrades to its default.
type configPersonas struct {
	souls map[string]string
}

func newConfigPersonas(personas []config.PersonaConfig) *configPersonas {
	souls := make(map[string]string, len(personas))
	for _, p := range personas {
		souls[p.ID] = p.Soul
	}
	return &configPersonas{souls: souls}
}

func (c *configPersonas) Soul(_ context.Context, personaID string) (string, error) {
	return c.souls[personaID], nil
}

func (c *configPersonas) Memory(context.Context, string, string) (string, error) {
	return "", nil
}

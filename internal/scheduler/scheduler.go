// Package scheduler drives the refresh cycle: the periodic trigger, the
// single-flight guard, and the fan-out of one generation task per model
// with progressive per-model broadcasts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aiweather/internal/archive"
	"aiweather/internal/config"
	"aiweather/internal/hub"
	"aiweather/internal/provider"
	"aiweather/internal/state"
	"aiweather/internal/weather"
)

// ErrRoundActive is returned when a trigger arrives while a round is in
// flight. The trigger is skipped; rounds never queue or overlap.
var ErrRoundActive = errors.New("refresh round already active")

// SnapshotSource fetches the external data snapshot that opens a round.
type SnapshotSource interface {
	Fetch(ctx context.Context) (*weather.Snapshot, error)
}

// Scheduler owns the refresh loop. Exactly one instance exists per
// process; it is the only writer of the state store.
type Scheduler struct {
	cfg         *config.Config
	store       *state.Store
	hub         *hub.Hub
	archive     *archive.Archive
	source      SnapshotSource
	providers   provider.Registry
	coordinator *Coordinator
	logger      *zap.Logger

	active atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
	rounds sync.WaitGroup
}

// New creates a scheduler.
func New(cfg *config.Config, store *state.Store, h *hub.Hub, arch *archive.Archive, source SnapshotSource, providers provider.Registry, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		store:       store,
		hub:         h,
		archive:     arch,
		source:      source,
		providers:   providers,
		coordinator: NewCoordinator(cfg.Generation.MaxConcurrent, logger),
		logger:      logger.Named("scheduler"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the refresh loop. When the restored state is stale or
// incomplete a round fires immediately; otherwise the first round waits
// for the next boundary. Non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	if s.NeedsRefresh() {
		s.logger.Info("state stale or incomplete, refreshing immediately")
		s.triggerAsync(ctx)
	}

	go s.loop(ctx)
	s.logger.Info("scheduler started",
		zap.Int("refresh_minute", s.cfg.Scheduler.RefreshMinute),
		zap.Duration("cadence", s.cfg.GetCadence()))
}

// Stop halts the loop and waits for any in-flight round to settle.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.rounds.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		next := s.nextTrigger(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.triggerAsync(ctx)
		}
	}
}

// nextTrigger returns the next cadence boundary at the configured
// refresh minute, strictly after now.
func (s *Scheduler) nextTrigger(now time.Time) time.Time {
	next := now.Truncate(time.Hour).Add(time.Duration(s.cfg.Scheduler.RefreshMinute) * time.Minute)
	for !next.After(now) {
		next = next.Add(s.cfg.GetCadence())
	}
	return next
}

// triggerAsync runs a round in its own goroutine so a long round never
// delays trigger evaluation; the single-flight guard skips overlap.
func (s *Scheduler) triggerAsync(ctx context.Context) {
	s.rounds.Add(1)
	go func() {
		defer s.rounds.Done()
		if err := s.TryRefresh(ctx); err != nil && !errors.Is(err, ErrRoundActive) {
			s.logger.Error("refresh failed", zap.Error(err))
		}
	}()
}

// TryRefresh runs one round unless one is already active, in which case
// the trigger is skipped entirely: no queuing, no state mutation, no
// broadcast.
func (s *Scheduler) TryRefresh(ctx context.Context) error {
	if !s.active.CompareAndSwap(false, true) {
		s.logger.Warn("round already active, skipping trigger")
		return ErrRoundActive
	}
	defer s.active.Store(false)

	return s.refresh(ctx)
}

// refresh is one full round: fetch, persist, broadcast, fan out.
func (s *Scheduler) refresh(ctx context.Context) error {
	s.logger.Info("refresh started")

	snap, err := s.source.Fetch(ctx)
	if err != nil {
		// Prior state stays untouched; the next scheduled trigger retries.
		s.hub.Broadcast(hub.NewErrorMessage("weather fetch failed"))
		return fmt.Errorf("weather fetch failed: %w", err)
	}
	cycleID := snap.CycleID()
	models := s.cfg.EnabledModelNames()
	promptTemplate := s.store.PromptTemplate()

	// Archive writes are best-effort side effects; failures never abort
	// the round.
	if err := s.archive.SaveMetadata(snap.CapturedAt, models, promptTemplate); err != nil {
		s.logger.Error("metadata archive failed", zap.Error(err))
	}
	if err := s.archive.SaveWeather(snap.CapturedAt, snap.Payload); err != nil {
		s.logger.Error("weather archive failed", zap.Error(err))
	}

	s.store.SetSnapshot(snap, cycleID)
	s.hub.Broadcast(hub.NewWeatherMessage(snap))

	s.store.MarkAllOutdated()
	s.broadcastAllVisualizations()

	prompt := RenderPrompt(promptTemplate, snap.Payload)
	jobs := s.buildJobs()

	s.coordinator.Run(ctx, jobs, prompt,
		func(modelName string) {
			s.store.MarkGenerating(modelName)
			s.broadcastVisualization(modelName)
		},
		func(modelName, html, raw string, status state.Status) {
			s.store.UpdateVisualization(modelName, html, raw, status)

			switch status {
			case state.StatusComplete:
				if err := s.archive.SaveVisualization(snap.CapturedAt, modelName, raw); err != nil {
					s.logger.Error("visualization archive failed",
						zap.String("model", modelName), zap.Error(err))
				}
			case state.StatusFailed:
				if s.cfg.Generation.ArchiveFailed {
					if err := s.archive.SaveFailurePlaceholder(snap.CapturedAt, modelName, "generation failed"); err != nil {
						s.logger.Error("placeholder archive failed",
							zap.String("model", modelName), zap.Error(err))
					}
				}
			}

			s.broadcastVisualization(modelName)
		})

	s.logger.Info("refresh complete",
		zap.String("cycle_id", cycleID),
		zap.Int("models", len(jobs)))
	return nil
}

func (s *Scheduler) buildJobs() []Job {
	var jobs []Job
	for _, m := range s.cfg.EnabledModels() {
		p, ok := s.providers[m.Provider]
		if !ok {
			// Build validates this at startup; an unknown provider here
			// settles the model as failed instead of crashing the round.
			s.logger.Error("no client for provider", zap.String("provider", m.Provider))
			s.store.UpdateVisualization(m.Name, "", "", state.StatusFailed)
			s.broadcastVisualization(m.Name)
			continue
		}
		jobs = append(jobs, Job{
			ModelName:   m.Name,
			Provider:    p,
			ModelID:     m.ModelID,
			Temperature: m.Temp,
			Timeout:     s.cfg.GetModelTimeout(m),
		})
	}
	return jobs
}

func (s *Scheduler) broadcastAllVisualizations() {
	full := s.store.FullState()
	for _, name := range full.ModelNames {
		s.hub.Broadcast(hub.NewVisualizationMessage(full.Visualizations[name]))
	}
}

func (s *Scheduler) broadcastVisualization(modelName string) {
	full := s.store.FullState()
	viz, ok := full.Visualizations[modelName]
	if !ok {
		return
	}
	s.hub.Broadcast(hub.NewVisualizationMessage(viz))
}

// NeedsRefresh reports whether the current state warrants an immediate
// round: no snapshot at all, a snapshot older than the cadence, or
// models missing their archived artifact for the current cycle.
func (s *Scheduler) NeedsRefresh() bool {
	snap, _ := s.store.Snapshot()
	if snap == nil {
		s.logger.Info("no cached snapshot")
		return true
	}

	age := time.Since(snap.CapturedAt)
	if age > s.cfg.GetCadence() {
		s.logger.Info("cached snapshot too old", zap.Duration("age", age))
		return true
	}

	if missing := s.archive.MissingModels(snap.CapturedAt, s.cfg.EnabledModelNames()); len(missing) > 0 {
		s.logger.Info("cached cycle missing models", zap.Strings("missing", missing))
		return true
	}

	return false
}

package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/common"
	"github.com/ternarybob/sellerbatch/internal/models"
)

// ScenarioRunner runs one named scenario to completion.
type ScenarioRunner interface {
	RunScenario(ctx context.Context, name string, scenario common.ScenarioConfig) models.BatchResult
}

// Scheduler runs scheduled scenarios on their cron expressions. Scenarios
// without a schedule are ignored; they run once via the CLI instead.
type Scheduler struct {
	cron   *cron.Cron
	runner ScenarioRunner
	logger arbor.ILogger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]bool
}

// New creates a scheduler over the scenario runner.
func New(runner ScenarioRunner, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		running: make(map[string]bool),
	}
}

// Add registers every scheduled scenario from the config. Returns the
// number of scenarios registered.
func (s *Scheduler) Add(ctx context.Context, scenarios map[string]common.ScenarioConfig) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for name, scenario := range scenarios {
		if scenario.Schedule == "" {
			continue
		}
		name, scenario := name, scenario
		id, err := s.cron.AddFunc(scenario.Schedule, func() {
			s.run(ctx, name, scenario)
		})
		if err != nil {
			return added, fmt.Errorf("invalid schedule %q for scenario %s: %w", scenario.Schedule, name, err)
		}
		s.entries[name] = id
		added++
		s.logger.Info().
			Str("scenario", name).
			Str("schedule", scenario.Schedule).
			Msg("Scenario scheduled")
	}
	return added, nil
}

// run executes one tick, skipping when the previous tick is still going.
func (s *Scheduler) run(ctx context.Context, name string, scenario common.ScenarioConfig) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn().Str("scenario", name).Msg("Previous run still in progress, skipping tick")
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	result := s.runner.RunScenario(ctx, name, scenario)
	s.logger.Info().
		Str("scenario", name).
		Bool("success", result.Success).
		Int("processed", result.Processed()).
		Msg("Scheduled scenario finished")
}

// Start begins dispatching ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("scenarios", len(s.entries)).Msg("Scenario scheduler started")
}

// Stop halts dispatch and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scenario scheduler stopped")
}

// Scheduled returns the names of registered scenarios.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

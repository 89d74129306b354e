package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/browser"
	"github.com/ternarybob/sellerbatch/internal/models"
)

// Runner adapts the stage table for the executor: it resolves ids, times
// calls, and normalizes results so downstream code never sees a malformed
// shape. Stage errors are returned unchanged; the executor owns retries.
type Runner struct {
	registry *Registry
	logger   arbor.ILogger
}

// NewRunner creates a runner over the stage table.
func NewRunner(registry *Registry, logger arbor.ILogger) *Runner {
	return &Runner{registry: registry, logger: logger}
}

// Registry exposes the underlying stage table.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run executes one stage call and normalizes the result.
func (r *Runner) Run(ctx context.Context, driver *browser.Driver, account models.Account, stageID string, quantity int, extras map[string]any) (models.StageResult, error) {
	stage, err := r.registry.Get(stageID)
	if err != nil {
		return models.NewStageResult(), err
	}

	start := time.Now()
	r.logger.Debug().
		Str("account", account.ID).
		Str("stage", stageID).
		Int("quantity", quantity).
		Msg("Running stage")

	result, err := stage.Execute(ctx, driver, account, quantity, extras)
	if err != nil {
		return models.NewStageResult(), fmt.Errorf("stage %s failed for %s: %w", stageID, account.ID, err)
	}

	normalize(&result)
	r.logger.Debug().
		Str("account", account.ID).
		Str("stage", stageID).
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Bool("stop_signal", result.ShouldStopBatch).
		Dur("duration", time.Since(start)).
		Msg("Stage finished")
	return result, nil
}

// normalize clamps counters and fills safe defaults so a sloppy stage
// cannot put the executor's accounting into a bad state.
func normalize(res *models.StageResult) {
	if res.Processed < 0 {
		res.Processed = 0
	}
	if res.Failed < 0 {
		res.Failed = 0
	}
	if res.SubOpsDone < 0 {
		res.SubOpsDone = 0
	}
	if res.Errors == nil {
		res.Errors = []string{}
	}
	if res.Failed > 0 && len(res.Errors) == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("%d items failed without detail", res.Failed))
	}
}

package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/browser"
	"github.com/ternarybob/sellerbatch/internal/journal"
	"github.com/ternarybob/sellerbatch/internal/limits"
	"github.com/ternarybob/sellerbatch/internal/models"
	"github.com/ternarybob/sellerbatch/internal/stages"
)

// BrowserManager is the slice of the browser registry the executor needs.
type BrowserManager interface {
	Acquire(accountID string) (*browser.Driver, error)
	Create(accountID string) (*browser.Driver, error)
	IsAlive(d *browser.Driver) bool
	Close(accountID string)
}

// CredentialSource resolves an account id to its login pair.
type CredentialSource interface {
	Credentials(idOrEmail string) (email, password string, err error)
	Get(idOrEmail string) (models.Account, error)
}

// LoginFunc performs the console login on a live driver.
type LoginFunc func(ctx context.Context, d *browser.Driver, email, password string) (bool, error)

// Timing groups the executor's delays. Production uses DefaultTiming;
// tests zero them out.
type Timing struct {
	// RestartCloseDelay and RestartSettleDelay bracket the inter-chunk
	// browser restart. These are the minimum observed to avoid driver
	// startup races on the host.
	RestartCloseDelay  time.Duration
	RestartSettleDelay time.Duration
	// RetryCoolOff precedes the single inline retry of a failed chunk.
	RetryCoolOff time.Duration
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		RestartCloseDelay:  2 * time.Second,
		RestartSettleDelay: 3 * time.Second,
		RetryCoolOff:       30 * time.Second,
	}
}

// ChunkedExecutor runs one task unit as a sequence of chunks with a
// browser restart between them. Long console sessions leak memory and
// accumulate DOM state; restarting every chunk_size items keeps the
// session healthy without losing progress.
type ChunkedExecutor struct {
	browsers   BrowserManager
	runner     *stages.Runner
	accountant *limits.Accountant
	journal    *journal.Journal
	creds      CredentialSource
	login      LoginFunc
	timing     Timing
	logger     arbor.ILogger
}

// NewChunkedExecutor wires the executor's collaborators.
func NewChunkedExecutor(
	browsers BrowserManager,
	runner *stages.Runner,
	accountant *limits.Accountant,
	j *journal.Journal,
	creds CredentialSource,
	login LoginFunc,
	timing Timing,
	logger arbor.ILogger,
) *ChunkedExecutor {
	return &ChunkedExecutor{
		browsers:   browsers,
		runner:     runner,
		accountant: accountant,
		journal:    j,
		creds:      creds,
		login:      login,
		timing:     timing,
		logger:     logger,
	}
}

// Run executes the task unit to completion, retry, limit, stop signal,
// or cancellation. It always returns a populated TaskResult; errors are
// folded into it rather than returned.
func (e *ChunkedExecutor) Run(ctx context.Context, task models.TaskUnit) models.TaskResult {
	start := time.Now()
	result := models.TaskResult{
		TaskID:             task.ID,
		AccountID:          task.AccountID,
		StageID:            task.StageID,
		ProductCountBefore: -1,
		ProductCountAfter:  -1,
	}
	defer func() { result.Duration = time.Since(start) }()

	account, err := e.creds.Get(task.AccountID)
	if err != nil {
		return e.fail(result, fmt.Sprintf("account lookup failed: %v", err))
	}

	progress, resumed := e.journal.Load(task.AccountID, task.StageID, task.Server)
	// Ceilings are per task unit: start the counters fresh and seed them
	// from the journal alone, not from earlier task units on the account.
	e.accountant.Reset(task.AccountID)
	e.accountant.Restore(task.AccountID, progress)

	remaining := task.Quantity - progress.ProductsDone
	if remaining <= 0 {
		e.logger.Info().
			Str("account", task.AccountID).
			Str("stage", task.StageID).
			Int("already_done", progress.ProductsDone).
			Msg("Nothing left to do, task already complete")
		result.Success = true
		result.Skipped = true
		e.journal.Delete(task.AccountID, task.StageID, task.Server)
		return result
	}
	if resumed {
		e.logger.Info().
			Str("account", task.AccountID).
			Str("stage", task.StageID).
			Int("products_done", progress.ProductsDone).
			Int("remaining", remaining).
			Msg("Resuming from progress journal")
	}
	remainingKeywords := progress.Remaining(task.Keywords)

	chunkSize := task.ChunkSize
	if chunkSize <= 0 {
		chunkSize = remaining
	}
	result.TotalChunks = (remaining + chunkSize - 1) / chunkSize

	stage, err := e.runner.Registry().Get(task.StageID)
	if err != nil {
		return e.fail(result, err.Error())
	}
	singleBrowser := stages.PrefersSingleBrowser(stage)

	driver, err := e.browsers.Acquire(task.AccountID)
	if err != nil {
		return e.fail(result, fmt.Sprintf("browser creation failed: %v", err))
	}
	defer e.browsers.Close(task.AccountID)

	if !e.loginWithRetry(ctx, driver, account) {
		return e.fail(result, "login failed after retry")
	}

	processedThisRun := 0
	failedThisRun := 0
	aborted := false
	for chunk := 0; chunk < result.TotalChunks; chunk++ {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		productAllow, subOpAllow := e.accountant.AllowanceForNextChunk(task.AccountID, chunkSize)
		// Written-off chunks spend their share of the quantity too, so
		// processed plus failed never exceeds the request.
		if left := remaining - processedThisRun - failedThisRun; productAllow > left {
			productAllow = left
		}
		if productAllow <= 0 {
			e.logger.Warn().
				Str("account", task.AccountID).
				Str("stage", task.StageID).
				Int("chunk", chunk+1).
				Msg("Product ceiling reached, stopping remaining chunks")
			result.LimitReached = true
			break
		}

		extras := cloneExtras(task.Extras)
		if len(task.Keywords) > 0 {
			extras["keywords"] = remainingKeywords
		}
		extras["sub_op_allowance"] = subOpAllow

		e.logger.Info().
			Str("account", task.AccountID).
			Str("stage", task.StageID).
			Int("chunk", chunk+1).
			Int("total_chunks", result.TotalChunks).
			Int("allowance", productAllow).
			Msg("Starting chunk")

		stageRes, runErr := e.runner.Run(ctx, driver, account, task.StageID, productAllow, extras)
		if runErr != nil {
			stageRes, driver, runErr = e.retryChunk(ctx, driver, task, account, productAllow, extras, runErr)
		}

		if runErr != nil {
			// The chunk is written off after its one retry; its share of
			// the quantity is spent.
			result.Failed += productAllow
			failedThisRun += productAllow
			result.Errors = append(result.Errors, runErr.Error())
		} else {
			result.Processed += stageRes.Processed
			result.Failed += stageRes.Failed
			result.Errors = append(result.Errors, stageRes.Errors...)
			if result.ProductCountBefore < 0 && stageRes.ProductCountBefore >= 0 {
				result.ProductCountBefore = stageRes.ProductCountBefore
			}
			if stageRes.ProductCountAfter >= 0 {
				result.ProductCountAfter = stageRes.ProductCountAfter
			}
			processedThisRun += stageRes.Processed

			e.accountant.Observe(task.AccountID, stageRes.Processed, stageRes.SubOpsDone)

			progress.CompletedKeywords = appendUnique(progress.CompletedKeywords, stageRes.CompletedKeywords)
			progress.ProductsDone += stageRes.Processed
			progress.SubOpsDone += stageRes.SubOpsDone
		}

		// Persist every chunk, written-off ones included. A write failure
		// is logged inside the journal and does not abort the task; the
		// next chunk rewrites.
		_ = e.journal.Save(progress)
		remainingKeywords = progress.Remaining(task.Keywords)
		result.ChunksCompleted++

		if runErr == nil && stageRes.ShouldStopBatch {
			e.logger.Info().
				Str("account", task.AccountID).
				Str("stage", task.StageID).
				Int("chunk", chunk+1).
				Msg("Stage raised stop signal, abandoning remaining chunks")
			result.Stopped = true
			break
		}
		if processedThisRun+failedThisRun >= remaining {
			break
		}

		if chunk < result.TotalChunks-1 && !singleBrowser {
			// A failed chunk reaches here too: the next chunk always
			// starts on a fresh browser.
			driver, err = e.restartBrowser(ctx, task.AccountID, account)
			if err != nil {
				// A restart failure mid-task fails the whole task even
				// when every completed chunk succeeded.
				result.Errors = append(result.Errors, err.Error())
				aborted = true
				break
			}
		}
	}

	if ctx.Err() != nil {
		result.Cancelled = true
	}
	result.Success = !result.Cancelled && !aborted && result.Failed == 0

	if result.Success && processedThisRun >= remaining {
		e.journal.Delete(task.AccountID, task.StageID, task.Server)
	}
	return result
}

// loginWithRetry attempts the console login with one inline retry.
func (e *ChunkedExecutor) loginWithRetry(ctx context.Context, driver *browser.Driver, account models.Account) bool {
	for attempt := 1; attempt <= 2; attempt++ {
		ok, err := e.login(ctx, driver, account.Email, account.Password)
		if ok {
			return true
		}
		e.logger.Warn().
			Err(err).
			Str("account", account.ID).
			Int("attempt", attempt).
			Msg("Login failed")
	}
	return false
}

// retryChunk performs the single inline retry after a chunk exception:
// cool off, verify the browser still answers, recreate and re-login if it
// does not, then run the chunk once more.
func (e *ChunkedExecutor) retryChunk(
	ctx context.Context,
	driver *browser.Driver,
	task models.TaskUnit,
	account models.Account,
	allowance int,
	extras map[string]any,
	cause error,
) (models.StageResult, *browser.Driver, error) {
	e.logger.Warn().
		Err(cause).
		Str("account", task.AccountID).
		Str("stage", task.StageID).
		Dur("cool_off", e.timing.RetryCoolOff).
		Msg("Chunk failed, retrying once after cool-off")
	e.sleep(ctx, e.timing.RetryCoolOff)

	if !e.browsers.IsAlive(driver) {
		fresh, err := e.browsers.Create(task.AccountID)
		if err != nil {
			return models.StageResult{}, driver, fmt.Errorf("chunk retry: browser recreate failed: %w", err)
		}
		driver = fresh
		if !e.loginWithRetry(ctx, driver, account) {
			return models.StageResult{}, driver, fmt.Errorf("chunk retry: re-login failed")
		}
	}

	res, err := e.runner.Run(ctx, driver, account, task.StageID, allowance, extras)
	if err != nil {
		return models.StageResult{}, driver, fmt.Errorf("chunk failed after retry: %w", err)
	}
	e.logger.Info().
		Str("account", task.AccountID).
		Str("stage", task.StageID).
		Msg("Chunk retry succeeded")
	return res, driver, nil
}

// restartBrowser performs the inter-chunk restart sequence: close, settle,
// recreate, re-login, settle again.
func (e *ChunkedExecutor) restartBrowser(ctx context.Context, accountID string, account models.Account) (*browser.Driver, error) {
	e.browsers.Close(accountID)
	e.sleep(ctx, e.timing.RestartCloseDelay)

	driver, err := e.browsers.Create(accountID)
	if err != nil {
		return nil, fmt.Errorf("inter-chunk browser restart failed: %w", err)
	}
	if !e.loginWithRetry(ctx, driver, account) {
		return nil, fmt.Errorf("re-login after browser restart failed")
	}
	e.sleep(ctx, e.timing.RestartSettleDelay)
	return driver, nil
}

func (e *ChunkedExecutor) fail(result models.TaskResult, msg string) models.TaskResult {
	e.logger.Error().
		Str("account", result.AccountID).
		Str("stage", result.StageID).
		Msg(msg)
	result.Errors = append(result.Errors, msg)
	result.Success = false
	return result
}

func (e *ChunkedExecutor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func cloneExtras(extras map[string]any) map[string]any {
	out := make(map[string]any, len(extras)+2)
	for k, v := range extras {
		out[k] = v
	}
	return out
}

func appendUnique(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, k := range have {
		seen[k] = struct{}{}
	}
	for _, k := range add {
		if _, ok := seen[k]; !ok {
			have = append(have, k)
			seen[k] = struct{}{}
		}
	}
	return have
}

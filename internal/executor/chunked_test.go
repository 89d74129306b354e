package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/browser"
	"github.com/ternarybob/sellerbatch/internal/journal"
	"github.com/ternarybob/sellerbatch/internal/limits"
	"github.com/ternarybob/sellerbatch/internal/models"
	"github.com/ternarybob/sellerbatch/internal/stages"
)

type fakeBrowsers struct {
	creates  int
	closes   int
	alive    bool
	failNext bool
}

func (f *fakeBrowsers) Acquire(accountID string) (*browser.Driver, error) { return f.Create(accountID) }

func (f *fakeBrowsers) Create(accountID string) (*browser.Driver, error) {
	if f.failNext {
		f.failNext = false
		return nil, errors.New("no chrome")
	}
	f.creates++
	f.alive = true
	return &browser.Driver{AccountID: accountID}, nil
}

func (f *fakeBrowsers) IsAlive(d *browser.Driver) bool { return f.alive }

func (f *fakeBrowsers) Close(accountID string) { f.closes++ }

type fakeCreds struct{}

func (fakeCreds) Credentials(id string) (string, string, error) { return id + "@example.com", "pw", nil }

func (fakeCreds) Get(id string) (models.Account, error) {
	if id == "account_missing" {
		return models.Account{}, fmt.Errorf("account %q not found", id)
	}
	return models.Account{ID: id, Email: id + "@example.com", Password: "pw", Active: true}, nil
}

// scriptStage lets each test script the stage's per-chunk behavior.
type scriptStage struct {
	id           string
	single       bool
	calls        []int      // allowance passed per call
	seenKeywords [][]string // keywords passed per call
	execute      func(call, quantity int, extras map[string]any) (models.StageResult, error)
}

func (s *scriptStage) ID() string                 { return s.id }
func (s *scriptStage) Name() string               { return "script-" + s.id }
func (s *scriptStage) PrefersSingleBrowser() bool { return s.single }

func (s *scriptStage) Execute(ctx context.Context, driver *browser.Driver, account models.Account, quantity int, extras map[string]any) (models.StageResult, error) {
	call := len(s.calls)
	s.calls = append(s.calls, quantity)
	if ks := keywordsFrom(extras); ks != nil {
		s.seenKeywords = append(s.seenKeywords, ks)
	}
	return s.execute(call, quantity, extras)
}

// fullConsumption scripts a stage that does exactly what it is allowed.
func fullConsumption(call, quantity int, extras map[string]any) (models.StageResult, error) {
	res := models.NewStageResult()
	res.Success = true
	res.Processed = quantity
	return res, nil
}

type fixture struct {
	exec     *ChunkedExecutor
	browsers *fakeBrowsers
	journal  *journal.Journal
	stage    *scriptStage
	logins   int
}

func newFixture(t *testing.T, stage *scriptStage, productLimit int) *fixture {
	t.Helper()

	logger := arbor.NewLogger()
	j, err := journal.New(t.TempDir(), logger)
	require.NoError(t, err)

	reg := stages.NewRegistry()
	reg.Register(stage)

	f := &fixture{
		browsers: &fakeBrowsers{},
		journal:  j,
		stage:    stage,
	}
	login := func(ctx context.Context, d *browser.Driver, email, password string) (bool, error) {
		f.logins++
		return true, nil
	}
	f.exec = NewChunkedExecutor(
		f.browsers,
		stages.NewRunner(reg, logger),
		limits.NewAccountant(productLimit, 2000),
		j,
		fakeCreds{},
		login,
		Timing{}, // no sleeps in tests
		logger,
	)
	return f
}

func task(quantity, chunkSize int) models.TaskUnit {
	return models.TaskUnit{
		ID:        "task_test",
		AccountID: "account_1",
		StageID:   "1",
		Quantity:  quantity,
		ChunkSize: chunkSize,
	}
}

func TestSequentialSmallBatch(t *testing.T) {
	stage := &scriptStage{id: "1", execute: fullConsumption}
	f := newFixture(t, stage, 20)

	res := f.exec.Run(context.Background(), task(3, 2))

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 2, res.ChunksCompleted)
	assert.Equal(t, 2, res.TotalChunks)
	// Initial creation plus one inter-chunk restart.
	assert.Equal(t, 2, f.browsers.creates)
	assert.Equal(t, []int{2, 1}, stage.calls)

	// The journal does not survive a completed task.
	_, ok := f.journal.Load("account_1", "1", "")
	assert.False(t, ok)
}

func TestLimitReachedEarlyStop(t *testing.T) {
	stage := &scriptStage{id: "1", execute: fullConsumption}
	f := newFixture(t, stage, 5)

	res := f.exec.Run(context.Background(), task(10, 3))

	assert.True(t, res.Success)
	assert.True(t, res.LimitReached)
	assert.Equal(t, 5, res.Processed)
	// Chunks of 3 and 2; the third call is never made.
	assert.Equal(t, []int{3, 2}, stage.calls)

	// Unfinished work keeps its journal for a later resume.
	rec, ok := f.journal.Load("account_1", "1", "")
	require.True(t, ok)
	assert.Equal(t, 5, rec.ProductsDone)
}

func TestResumeAfterCrash(t *testing.T) {
	stage := &scriptStage{id: "1", execute: func(call, quantity int, extras map[string]any) (models.StageResult, error) {
		res := models.NewStageResult()
		res.Success = true
		res.Processed = quantity
		res.CompletedKeywords = keywordsFrom(extras)
		return res, nil
	}}
	f := newFixture(t, stage, 20)

	require.NoError(t, f.journal.Save(models.ProgressRecord{
		AccountID:         "account_1",
		StageID:           "1",
		CompletedKeywords: []string{"k1", "k2"},
		ProductsDone:      7,
	}))

	unit := task(10, 5)
	unit.Keywords = []string{"k1", "k2", "k3", "k4"}
	res := f.exec.Run(context.Background(), unit)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Processed)
	require.Len(t, stage.calls, 1)
	assert.Equal(t, 3, stage.calls[0])

	// Only the incomplete keywords reach the stage.
	assert.Equal(t, [][]string{{"k3", "k4"}}, stage.seenKeywords)

	_, ok := f.journal.Load("account_1", "1", "")
	assert.False(t, ok)
}

func TestStopSignalAbandonsRemainingChunks(t *testing.T) {
	stage := &scriptStage{id: "1", execute: func(call, quantity int, extras map[string]any) (models.StageResult, error) {
		res := models.NewStageResult()
		res.Success = true
		res.Processed = quantity
		if call == 1 {
			res.ShouldStopBatch = true
		}
		return res, nil
	}}
	f := newFixture(t, stage, 20)

	res := f.exec.Run(context.Background(), task(10, 2))

	assert.True(t, res.Success)
	assert.True(t, res.Stopped)
	assert.Equal(t, 2, res.ChunksCompleted)
	assert.Equal(t, 5, res.TotalChunks)
	assert.Len(t, stage.calls, 2)
	// The browser is closed before return.
	assert.GreaterOrEqual(t, f.browsers.closes, 1)
}

func TestChunkRetrySucceeds(t *testing.T) {
	failed := false
	stage := &scriptStage{id: "1", execute: func(call, quantity int, extras map[string]any) (models.StageResult, error) {
		if !failed {
			failed = true
			return models.StageResult{}, errors.New("stale element")
		}
		return fullConsumption(call, quantity, extras)
	}}
	f := newFixture(t, stage, 20)

	res := f.exec.Run(context.Background(), task(2, 2))

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, res.ChunksCompleted)
	assert.Len(t, stage.calls, 2)
}

func TestChunkFailsAfterRetry(t *testing.T) {
	stage := &scriptStage{id: "1", execute: func(call, quantity int, extras map[string]any) (models.StageResult, error) {
		if call < 2 {
			return models.StageResult{}, errors.New("console exploded")
		}
		return fullConsumption(call, quantity, extras)
	}}
	f := newFixture(t, stage, 20)

	res := f.exec.Run(context.Background(), task(4, 2))

	// Chunk 1 fails twice and is written off; chunk 2 proceeds.
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.ChunksCompleted)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "after retry")

	// The written-off chunk still triggers the inter-chunk restart, so
	// chunk 2 runs on a fresh browser.
	assert.Equal(t, 2, f.browsers.creates)

	// A failed task keeps its journal; the write-off persisted at the
	// chunk boundary like any other chunk.
	rec, ok := f.journal.Load("account_1", "1", "")
	require.True(t, ok)
	assert.Equal(t, 2, rec.ProductsDone)
}

func TestFailedChunkSpendsItsQuantity(t *testing.T) {
	stage := &scriptStage{id: "1", execute: func(call, quantity int, extras map[string]any) (models.StageResult, error) {
		if call < 2 {
			return models.StageResult{}, errors.New("console exploded")
		}
		return fullConsumption(call, quantity, extras)
	}}
	f := newFixture(t, stage, 20)

	res := f.exec.Run(context.Background(), task(3, 2))

	// The written-off first chunk consumed 2 of the 3 requested items,
	// so the final chunk is allowed only the remaining 1.
	assert.Equal(t, []int{2, 2, 1}, stage.calls)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Failed)
	assert.LessOrEqual(t, res.Processed+res.Failed, 3)
	assert.False(t, res.Success)
}

func TestConsecutiveTaskUnitsGetFreshCeilings(t *testing.T) {
	stage := &scriptStage{id: "1", execute: fullConsumption}
	f := newFixture(t, stage, 20)

	first := f.exec.Run(context.Background(), task(15, 15))
	require.True(t, first.Success)
	require.Equal(t, 15, first.Processed)

	// A new task unit starts counting from its own journal, not from the
	// previous unit's consumption.
	second := f.exec.Run(context.Background(), task(15, 15))
	assert.True(t, second.Success)
	assert.Equal(t, 15, second.Processed)
	assert.False(t, second.LimitReached)
}

func TestRetryRecreatesDeadBrowser(t *testing.T) {
	var f *fixture
	stage := &scriptStage{id: "1", execute: func(call, quantity int, extras map[string]any) (models.StageResult, error) {
		if call == 0 {
			f.browsers.alive = false
			return models.StageResult{}, errors.New("browser gone")
		}
		return fullConsumption(call, quantity, extras)
	}}
	f = newFixture(t, stage, 20)

	res := f.exec.Run(context.Background(), task(2, 2))

	assert.True(t, res.Success)
	// Initial create plus the retry's recreate.
	assert.Equal(t, 2, f.browsers.creates)
	// Initial login plus re-login after recreate.
	assert.Equal(t, 2, f.logins)
}

func TestCancellationBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stage := &scriptStage{id: "1", execute: func(call, quantity int, extras map[string]any) (models.StageResult, error) {
		cancel() // cancel while a chunk is in flight
		return fullConsumption(call, quantity, extras)
	}}
	f := newFixture(t, stage, 20)

	res := f.exec.Run(ctx, task(6, 2))

	assert.False(t, res.Success)
	assert.True(t, res.Cancelled)
	// The in-flight chunk completes; later chunks never start.
	assert.Equal(t, 2, res.Processed)
	assert.Len(t, stage.calls, 1)

	// The journal survives a cancelled task.
	rec, ok := f.journal.Load("account_1", "1", "")
	require.True(t, ok)
	assert.Equal(t, 2, rec.ProductsDone)
}

func TestLoginFailureAbortsTask(t *testing.T) {
	stage := &scriptStage{id: "1", execute: fullConsumption}
	f := newFixture(t, stage, 20)
	f.exec.login = func(ctx context.Context, d *browser.Driver, email, password string) (bool, error) {
		f.logins++
		return false, nil
	}

	res := f.exec.Run(context.Background(), task(4, 2))

	assert.False(t, res.Success)
	assert.Empty(t, stage.calls)
	// One inline retry, then abort.
	assert.Equal(t, 2, f.logins)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "login failed")
}

func TestBrowserCreationFailureAbortsTask(t *testing.T) {
	stage := &scriptStage{id: "1", execute: fullConsumption}
	f := newFixture(t, stage, 20)
	f.browsers.failNext = true

	res := f.exec.Run(context.Background(), task(4, 2))

	assert.False(t, res.Success)
	assert.Empty(t, stage.calls)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "browser creation failed")
}

func TestAlreadyCompleteTaskIsSkipped(t *testing.T) {
	stage := &scriptStage{id: "1", execute: fullConsumption}
	f := newFixture(t, stage, 20)

	require.NoError(t, f.journal.Save(models.ProgressRecord{
		AccountID:    "account_1",
		StageID:      "1",
		ProductsDone: 10,
	}))

	res := f.exec.Run(context.Background(), task(10, 2))

	assert.True(t, res.Success)
	assert.True(t, res.Skipped)
	assert.Empty(t, stage.calls)
	assert.Equal(t, 0, f.browsers.creates)

	_, ok := f.journal.Load("account_1", "1", "")
	assert.False(t, ok)
}

func TestSingleBrowserStageSkipsRestarts(t *testing.T) {
	stage := &scriptStage{id: "1", single: true, execute: fullConsumption}
	f := newFixture(t, stage, 20)

	res := f.exec.Run(context.Background(), task(6, 2))

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.ChunksCompleted)
	// One browser for the whole run.
	assert.Equal(t, 1, f.browsers.creates)
}

func TestUnknownAccountFailsTask(t *testing.T) {
	stage := &scriptStage{id: "1", execute: fullConsumption}
	f := newFixture(t, stage, 20)

	unit := task(2, 2)
	unit.AccountID = "account_missing"
	res := f.exec.Run(context.Background(), unit)

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "account lookup failed")
}

func keywordsFrom(extras map[string]any) []string {
	if ks, ok := extras["keywords"].([]string); ok {
		return ks
	}
	return nil
}

package batch

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/sellerbatch/internal/accounts"
	"github.com/ternarybob/sellerbatch/internal/browser"
	"github.com/ternarybob/sellerbatch/internal/common"
	"github.com/ternarybob/sellerbatch/internal/executor"
	"github.com/ternarybob/sellerbatch/internal/history"
	"github.com/ternarybob/sellerbatch/internal/journal"
	"github.com/ternarybob/sellerbatch/internal/limits"
	"github.com/ternarybob/sellerbatch/internal/logs"
	"github.com/ternarybob/sellerbatch/internal/models"
	"github.com/ternarybob/sellerbatch/internal/reports"
	"github.com/ternarybob/sellerbatch/internal/stages"
)

// TaskRunner executes one task unit. Satisfied by the chunked executor;
// tests substitute a stub.
type TaskRunner interface {
	Run(ctx context.Context, task models.TaskUnit) models.TaskResult
}

// SingleStepRequest describes one run_single_step invocation.
type SingleStepRequest struct {
	StageID    string
	Accounts   []string
	Quantity   int
	Concurrent bool
	Interval   time.Duration
	ChunkSize  int
	Keywords   []string
	Server     string
}

// Manager is the public facade binding the account store, browser
// registry, executor, loggers, and reporters. One instance per process.
type Manager struct {
	cfg      *common.Config
	store    *accounts.Store
	mapper   *accounts.Mapper
	browsers *browser.Registry
	runner   TaskRunner
	session  *logs.Session
	reporter *reports.Reporter
	history  *history.Store
	logger   arbor.ILogger
	limiter  *rate.Limiter

	mu        sync.Mutex
	results   []models.BatchResult
	cancels   map[int]context.CancelFunc
	runSeq    int
	cancelled bool
	active    int
}

// NewManager wires the production object graph for one session. An empty
// sessionID asks for a fresh timestamp id.
func NewManager(cfg *common.Config, sessionID string, logger arbor.ILogger) (*Manager, error) {
	if sessionID == "" {
		sessionID = common.NewSessionID()
	}
	store := accounts.NewStore(cfg.Accounts.File, logger)
	mapper := accounts.NewMapper(cfg.Accounts.File, cfg.Accounts.MappingSheet, logger)
	registry := browser.NewRegistry(cfg.Browser, logger)
	registry.SetLoginFunc(stages.Login)

	j, err := journal.New("", logger)
	if err != nil {
		return nil, err
	}

	accountant := limits.NewAccountant(cfg.Batch.ProductLimit, cfg.Batch.SubOpLimit)
	runner := stages.NewRunner(stages.DefaultRegistry(), logger)
	exec := executor.NewChunkedExecutor(
		registry, runner, accountant, j, store,
		stages.Login, executor.DefaultTiming(), logger,
	)

	var hist *history.Store
	if cfg.History.Path != "" {
		hist, err = history.Open(cfg.History.Path, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("History store unavailable, continuing without it")
			hist = nil
		}
	}

	session := logs.NewSession(sessionID, "logs")
	m := &Manager{
		cfg:      cfg,
		store:    store,
		mapper:   mapper,
		browsers: registry,
		runner:   exec,
		session:  session,
		reporter: reports.NewReporter(session, "logs", logger),
		history:  hist,
		logger:   logger,
		limiter:  taskLimiter(cfg.TaskDelay()),
	}
	return m, nil
}

// NewManagerWithRunner builds a manager around an injected task runner
// and collaborators. Used by tests and the scheduler.
func NewManagerWithRunner(cfg *common.Config, store *accounts.Store, mapper *accounts.Mapper, registry *browser.Registry, runner TaskRunner, session *logs.Session, reporter *reports.Reporter, logger arbor.ILogger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		mapper:   mapper,
		browsers: registry,
		runner:   runner,
		session:  session,
		reporter: reporter,
		logger:   logger,
		limiter:  taskLimiter(cfg.TaskDelay()),
	}
}

func taskLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// SessionID returns the session identifier.
func (m *Manager) SessionID() string { return m.session.ID() }

// RunSingleStep runs one stage over a set of accounts, sequentially or
// through the bounded worker pool.
func (m *Manager) RunSingleStep(ctx context.Context, req SingleStepRequest) models.BatchResult {
	start := time.Now()
	result := models.BatchResult{
		TaskID:    common.NewTaskID(),
		StageID:   req.StageID,
		Accounts:  req.Accounts,
		Results:   make(map[string]models.TaskResult),
		StartTime: start,
	}

	if req.Quantity <= 0 {
		req.Quantity = m.cfg.Batch.DefaultQuantity
	}
	if req.Interval < 0 {
		req.Interval = 5 * time.Second
	}

	runCtx, done := m.trackRun(ctx)
	defer done()

	m.logger.Info().
		Str("task", result.TaskID).
		Str("stage", req.StageID).
		Int("accounts", len(req.Accounts)).
		Bool("concurrent", req.Concurrent).
		Msg("Starting batch")

	if req.Concurrent {
		m.runConcurrent(runCtx, req, &result)
	} else {
		m.runSequential(runCtx, req, &result)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	// No accounts means no work, which is a successful no-op.
	result.Success = true
	for _, task := range result.Results {
		if !task.Success {
			result.Success = false
		}
	}

	m.finishBatch(result)
	return result
}

func (m *Manager) runSequential(ctx context.Context, req SingleStepRequest, result *models.BatchResult) {
	for i, accountID := range req.Accounts {
		if ctx.Err() != nil || m.isCancelled() {
			break
		}
		if i > 0 && req.Interval > 0 {
			select {
			case <-time.After(req.Interval):
			case <-ctx.Done():
			}
		}
		taskResult := m.runOne(ctx, req, accountID, result.TaskID)
		m.mu.Lock()
		result.Results[taskResult.AccountID] = taskResult
		m.mu.Unlock()
	}
}

func (m *Manager) runConcurrent(ctx context.Context, req SingleStepRequest, result *models.BatchResult) {
	workers := m.cfg.Batch.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, accountID := range req.Accounts {
		if ctx.Err() != nil || m.isCancelled() {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			taskResult := m.runOne(ctx, req, id, result.TaskID)
			m.mu.Lock()
			result.Results[taskResult.AccountID] = taskResult
			m.mu.Unlock()
		}(accountID)
	}
	wg.Wait()
}

// runOne resolves the account, paces submission, and executes one task
// unit with status bookkeeping around it.
func (m *Manager) runOne(ctx context.Context, req SingleStepRequest, accountID, taskID string) models.TaskResult {
	resolved := m.resolveAccount(accountID)
	accountLog := m.session.For(resolved)

	if err := m.limiter.Wait(ctx); err != nil {
		return models.TaskResult{
			TaskID: taskID, AccountID: resolved, StageID: req.StageID,
			Cancelled: true, Errors: []string{"cancelled before start"},
		}
	}

	m.mu.Lock()
	m.active++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	_ = m.store.SetStatus(resolved, models.AccountStatusRunning)
	accountLog.Infof("stage %s starting: quantity=%d chunk_size=%d", req.StageID, req.Quantity, req.ChunkSize)

	task := models.TaskUnit{
		ID:        taskID,
		AccountID: resolved,
		StageID:   req.StageID,
		Quantity:  req.Quantity,
		ChunkSize: req.ChunkSize,
		Interval:  req.Interval,
		Keywords:  req.Keywords,
		Server:    req.Server,
	}
	taskResult := m.runner.Run(ctx, task)

	if taskResult.Success {
		_ = m.store.SetStatus(resolved, models.AccountStatusCompleted)
		accountLog.Infof("stage %s finished: processed=%d failed=%d chunks=%d/%d",
			req.StageID, taskResult.Processed, taskResult.Failed, taskResult.ChunksCompleted, taskResult.TotalChunks)
	} else {
		_ = m.store.SetStatus(resolved, models.AccountStatusError)
		for _, e := range taskResult.Errors {
			accountLog.Errorf("stage %s: %s", req.StageID, e)
		}
		accountLog.Errorf("stage %s failed: processed=%d failed=%d", req.StageID, taskResult.Processed, taskResult.Failed)
	}
	return taskResult
}

// RunMultiStep runs several stages for one account, sequentially. A
// failed stage does not stop the later ones; the batch reports each.
func (m *Manager) RunMultiStep(ctx context.Context, accountID string, stageIDs []string, quantities []int) models.BatchResult {
	start := time.Now()
	resolved := m.resolveAccount(accountID)
	result := models.BatchResult{
		TaskID:    common.NewTaskID(),
		StageID:   joinStages(stageIDs),
		Accounts:  []string{resolved},
		Results:   make(map[string]models.TaskResult),
		StartTime: start,
	}

	runCtx, done := m.trackRun(ctx)
	defer done()

	for i, stageID := range stageIDs {
		if runCtx.Err() != nil || m.isCancelled() {
			break
		}
		quantity := m.cfg.Batch.DefaultQuantity
		if i < len(quantities) && quantities[i] > 0 {
			quantity = quantities[i]
		}
		req := SingleStepRequest{StageID: stageID, Quantity: quantity, ChunkSize: quantity}
		taskResult := m.runOne(runCtx, req, resolved, result.TaskID)
		// One entry per stage; key by stage to keep them all.
		result.Results[resolved+"/"+stageID] = taskResult
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	result.Success = len(result.Results) == len(stageIDs)
	for _, task := range result.Results {
		if !task.Success {
			result.Success = false
		}
	}
	m.finishBatch(result)
	return result
}

// RunMultiBatch runs one stage across many accounts strictly one at a
// time with the given pause between them.
func (m *Manager) RunMultiBatch(ctx context.Context, accountIDs []string, stageID string, quantity int, interval time.Duration) models.BatchResult {
	return m.RunSingleStep(ctx, SingleStepRequest{
		StageID:  stageID,
		Accounts: accountIDs,
		Quantity: quantity,
		Interval: interval,
		// Browser restarts stay per-chunk; one account at a time.
		Concurrent: false,
		ChunkSize:  quantity,
	})
}

// RunScenario executes a named preset request from the config.
func (m *Manager) RunScenario(ctx context.Context, name string, scenario common.ScenarioConfig) models.BatchResult {
	stageID, err := stages.ParseID(scenario.Step)
	if err != nil {
		m.logger.Error().Err(err).Str("scenario", name).Msg("Scenario has an invalid step")
		return models.BatchResult{TaskID: common.NewTaskID(), Results: map[string]models.TaskResult{}}
	}

	accountIDs := scenario.Accounts
	if len(accountIDs) == 0 {
		accountIDs = m.store.ActiveIDs()
	}

	m.logger.Info().Str("scenario", name).Str("stage", stageID).Msg("Running scenario")
	return m.RunSingleStep(ctx, SingleStepRequest{
		StageID:    stageID,
		Accounts:   accountIDs,
		Quantity:   scenario.Quantity,
		Concurrent: scenario.Concurrent,
		Interval:   time.Duration(scenario.Interval * float64(time.Second)),
		ChunkSize:  scenario.ChunkSize,
	})
}

// ExecuteSingleStep is the boolean wrapper used by embedding UIs.
func (m *Manager) ExecuteSingleStep(ctx context.Context, accountID, stageID string, quantity int) bool {
	result := m.RunSingleStep(ctx, SingleStepRequest{
		StageID:   stageID,
		Accounts:  []string{accountID},
		Quantity:  quantity,
		ChunkSize: quantity,
	})
	return result.Success
}

// Status reports the manager's current state.
func (m *Manager) Status() models.StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := models.StatusSnapshot{
		SessionID:    m.session.ID(),
		Running:      m.active > 0,
		ActiveTasks:  m.active,
		LiveBrowsers: m.browsers.Count(),
		BatchesRun:   len(m.results),
		Accounts:     m.store.Summary(),
	}
	for _, res := range m.results {
		snapshot.TotalProcessed += res.Processed()
		snapshot.TotalFailed += res.FailedCount()
	}
	return snapshot
}

// Cancel requests cooperative cancellation of all running batches. Tasks
// stop at their next chunk or account boundary.
func (m *Manager) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	for _, cancel := range m.cancels {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()

	m.logger.Warn().Msg("Cancellation requested, stopping at next boundary")
	for _, cancel := range cancels {
		cancel()
	}
}

// Results returns every batch the session has run.
func (m *Manager) Results() []models.BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BatchResult(nil), m.results...)
}

// WriteSummary emits the session summary report.
func (m *Manager) WriteSummary() string {
	return m.reporter.WriteSummary(m.Results())
}

// WriteExecutionSummary emits the CLI closing summary.
func (m *Manager) WriteExecutionSummary() string {
	return m.reporter.WriteExecutionSummary(m.Results())
}

// Close tears down browsers and the history store.
func (m *Manager) Close() {
	m.browsers.CloseAll()
	if m.history != nil {
		if err := m.history.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("History store close failed")
		}
	}
}

// finishBatch records the outcome, writes the report, and appends to the
// session history. None of these may alter or fail the batch.
func (m *Manager) finishBatch(result models.BatchResult) {
	m.mu.Lock()
	m.results = append(m.results, result)
	m.mu.Unlock()

	m.reporter.WriteBatchReport(result)
	if m.history != nil {
		_ = m.history.Record(m.session.ID(), result)
	}

	m.logger.Info().
		Str("task", result.TaskID).
		Str("stage", result.StageID).
		Bool("success", result.Success).
		Int("processed", result.Processed()).
		Int("failed", result.FailedCount()).
		Dur("duration", result.Duration).
		Msg("Batch finished")
}

// resolveAccount translates virtual ids through the mapper and then
// normalizes to the store's id when the result is a known email.
func (m *Manager) resolveAccount(accountID string) string {
	resolved := m.mapper.Resolve(accountID)
	if account, ok := m.store.ByEmail(resolved); ok {
		return account.ID
	}
	return accountID
}

func (m *Manager) trackRun(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	if m.cancels == nil {
		m.cancels = make(map[int]context.CancelFunc)
	}
	m.runSeq++
	id := m.runSeq
	m.cancels[id] = cancel
	m.mu.Unlock()

	return ctx, func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
	}
}

func (m *Manager) isCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func joinStages(stageIDs []string) string {
	out := ""
	for i, id := range stageIDs {
		if i > 0 {
			out += "+"
		}
		out += id
	}
	return out
}

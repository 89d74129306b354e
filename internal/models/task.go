package models

import "time"

// TaskUnit is one (account, stage, quantity) execution request. Immutable
// after creation by the batch manager.
type TaskUnit struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	StageID   string         `json:"stage_id"`
	Quantity  int            `json:"quantity"`
	ChunkSize int            `json:"chunk_size"`
	Interval  time.Duration  `json:"interval"`
	Keywords  []string       `json:"keywords,omitempty"`
	Server    string         `json:"server,omitempty"`
	Extras    map[string]any `json:"extras,omitempty"`
}

// ChunkDescriptor identifies one slice of a task unit processed between two
// browser restarts.
type ChunkDescriptor struct {
	Index int
	Total int
	Size  int
}

// StageResult is the normalized shape every stage returns. Missing fields
// are zero-valued by the runner; ProductCountBefore/After use -1 for
// "not reported" so a genuine count of zero stays distinguishable.
type StageResult struct {
	Success            bool     `json:"success"`
	Processed          int      `json:"processed"`
	Failed             int      `json:"failed"`
	Errors             []string `json:"errors,omitempty"`
	ProductCountBefore int      `json:"product_count_before"`
	ProductCountAfter  int      `json:"product_count_after"`
	ShouldStopBatch    bool     `json:"should_stop_batch"`
	Skipped            bool     `json:"skipped"`
	CompletedKeywords  []string `json:"completed_keywords,omitempty"`
	SubOpsDone         int      `json:"sub_ops_done"`
}

// NewStageResult returns a StageResult with the count sentinels in place.
func NewStageResult() StageResult {
	return StageResult{ProductCountBefore: -1, ProductCountAfter: -1}
}

// TaskResult accumulates stage results across the chunks of one task unit.
type TaskResult struct {
	TaskID             string        `json:"task_id"`
	AccountID          string        `json:"account_id"`
	StageID            string        `json:"stage_id"`
	Success            bool          `json:"success"`
	Processed          int           `json:"processed"`
	Failed             int           `json:"failed"`
	Errors             []string      `json:"errors,omitempty"`
	ChunksCompleted    int           `json:"chunks_completed"`
	TotalChunks        int           `json:"total_chunks"`
	LimitReached       bool          `json:"limit_reached"`
	Stopped            bool          `json:"stopped"`
	Cancelled          bool          `json:"cancelled"`
	Skipped            bool          `json:"skipped"`
	ProductCountBefore int           `json:"product_count_before"`
	ProductCountAfter  int           `json:"product_count_after"`
	Duration           time.Duration `json:"duration"`
}

// BatchResult is the outcome of one manager operation over one or more
// task units.
type BatchResult struct {
	TaskID    string                `json:"task_id"`
	StageID   string                `json:"stage_id"`
	Accounts  []string              `json:"accounts"`
	Results   map[string]TaskResult `json:"results"`
	Success   bool                  `json:"success"`
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time"`
	Duration  time.Duration         `json:"duration"`
}

// Processed sums processed items across all task results.
func (b *BatchResult) Processed() int {
	total := 0
	for _, r := range b.Results {
		total += r.Processed
	}
	return total
}

// FailedCount sums failed items across all task results.
func (b *BatchResult) FailedCount() int {
	total := 0
	for _, r := range b.Results {
		total += r.Failed
	}
	return total
}

// SuccessCount returns the number of task units that succeeded.
func (b *BatchResult) SuccessCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// StatusSnapshot describes the manager's current state.
type StatusSnapshot struct {
	SessionID      string         `json:"session_id"`
	Running        bool           `json:"running"`
	ActiveTasks    int            `json:"active_tasks"`
	LiveBrowsers   int            `json:"live_browsers"`
	BatchesRun     int            `json:"batches_run"`
	TotalProcessed int            `json:"total_processed"`
	TotalFailed    int            `json:"total_failed"`
	Accounts       AccountSummary `json:"accounts"`
}

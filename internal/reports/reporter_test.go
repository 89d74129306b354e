package reports

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/logs"
	"github.com/ternarybob/sellerbatch/internal/models"
)

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()
	dir := t.TempDir()
	session := logs.NewSession("20260901_120000", dir)
	return NewReporter(session, dir, arbor.NewLogger())
}

func sampleBatch() models.BatchResult {
	return models.BatchResult{
		TaskID:   "task_abc",
		StageID:  "2_1",
		Accounts: []string{"account_1", "account_2"},
		Results: map[string]models.TaskResult{
			"account_1": {
				AccountID:          "account_1",
				StageID:            "2_1",
				Success:            true,
				Processed:          5,
				ChunksCompleted:    3,
				TotalChunks:        3,
				ProductCountBefore: 100,
				ProductCountAfter:  105,
			},
			"account_2": {
				AccountID:          "account_2",
				StageID:            "2_1",
				Processed:          1,
				Failed:             2,
				Errors:             []string{"item 2 rejected by console"},
				ProductCountBefore: -1,
				ProductCountAfter:  -1,
			},
		},
		Success:   false,
		StartTime: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		Duration:  90 * time.Second,
	}
}

func TestWriteBatchReport(t *testing.T) {
	r := newTestReporter(t)

	path := r.WriteBatchReport(sampleBatch())
	require.NotEmpty(t, path)
	assert.Equal(t, "batch_report_task_abc.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(data)

	assert.Contains(t, report, "# Batch Report: task_abc")
	assert.Contains(t, report, "### account_1")
	assert.Contains(t, report, "Product count: 100 -> 105 (delta +5)")
	assert.Contains(t, report, "item 2 rejected by console")
	assert.Contains(t, report, "Success rate: 50%")
	// Account 2 never measured counts; no bogus delta line for it.
	assert.NotContains(t, report, "-1 ->")
}

func TestWriteBatchReportDeltaMismatchNote(t *testing.T) {
	r := newTestReporter(t)

	batch := sampleBatch()
	task := batch.Results["account_1"]
	task.ProductCountAfter = 102 // delta 2, processed 5
	batch.Results["account_1"] = task

	path := r.WriteBatchReport(batch)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "delta differs from processed count (2 vs 5)")
}

func TestWriteSummary(t *testing.T) {
	r := newTestReporter(t)

	path := r.WriteSummary([]models.BatchResult{sampleBatch()})
	require.NotEmpty(t, path)
	assert.Equal(t, "summary_report_20260901_120000.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "| task_abc | 2_1 | 2 | 6 | 2 | false |")

	// JSON sibling.
	_, err = os.Stat(path[:len(path)-3] + ".json")
	assert.NoError(t, err)
}

func TestWriteSummaryEmptySession(t *testing.T) {
	r := newTestReporter(t)
	path := r.WriteSummary(nil)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**Batches:** 0")
}

func TestWriteExecutionSummary(t *testing.T) {
	r := newTestReporter(t)

	path := r.WriteExecutionSummary([]models.BatchResult{sampleBatch()})
	require.NotEmpty(t, path)
	assert.Equal(t, "execution_summary.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "task_abc stage 2_1: FAILED, processed 6, failed 2")
}

func TestMultiStepReportPointsAtAccountLogs(t *testing.T) {
	r := newTestReporter(t)

	// Multi-step batches key results by account/stage; the log pointers
	// must still name the per-account files.
	batch := models.BatchResult{
		TaskID:   "task_multi",
		StageID:  "1+2_1",
		Accounts: []string{"account_1"},
		Results: map[string]models.TaskResult{
			"account_1/1":   {AccountID: "account_1", StageID: "1", Success: true, Processed: 2, ProductCountBefore: -1, ProductCountAfter: -1},
			"account_1/2_1": {AccountID: "account_1", StageID: "2_1", Success: true, Processed: 3, ProductCountBefore: -1, ProductCountAfter: -1},
		},
		Success:   true,
		StartTime: time.Now(),
	}

	path := r.WriteBatchReport(batch)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(data)

	assert.Contains(t, report, "### account_1/1")
	assert.Contains(t, report, filepath.Join("accounts", "20260901_120000", "account_1.log"))
	assert.NotContains(t, report, "account_1_1.log")
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "cancelled", outcome(models.TaskResult{Cancelled: true}))
	assert.Equal(t, "skipped (already complete)", outcome(models.TaskResult{Success: true, Skipped: true}))
	assert.Equal(t, "success (limit reached)", outcome(models.TaskResult{Success: true, LimitReached: true}))
	assert.Equal(t, "success (stop signal)", outcome(models.TaskResult{Success: true, Stopped: true}))
	assert.Equal(t, "success", outcome(models.TaskResult{Success: true}))
	assert.Equal(t, "failed", outcome(models.TaskResult{}))
}

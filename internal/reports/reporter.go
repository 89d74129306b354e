package reports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/logs"
	"github.com/ternarybob/sellerbatch/internal/models"
)

// Reporter emits the per-task markdown batch reports and the session
// summary. Report writing never fails a batch: errors are logged and the
// result is returned to the caller unchanged.
type Reporter struct {
	session *logs.Session
	baseDir string
	logger  arbor.ILogger
}

// NewReporter creates a reporter writing under baseDir (default "logs").
func NewReporter(session *logs.Session, baseDir string, logger arbor.ILogger) *Reporter {
	if baseDir == "" {
		baseDir = "logs"
	}
	return &Reporter{session: session, baseDir: baseDir, logger: logger}
}

func (r *Reporter) reportDir() string {
	return filepath.Join(r.baseDir, "reports", r.session.ID())
}

// WriteBatchReport renders one batch outcome as markdown. Returns the
// report path, or empty string when the write failed.
func (r *Reporter) WriteBatchReport(result models.BatchResult) string {
	path := filepath.Join(r.reportDir(), fmt.Sprintf("batch_report_%s.md", result.TaskID))
	if err := os.MkdirAll(r.reportDir(), 0o755); err != nil {
		r.logger.Error().Err(err).Str("path", path).Msg("Report directory creation failed")
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Batch Report: %s\n\n", result.TaskID)
	fmt.Fprintf(&b, "- **Stage:** %s\n", result.StageID)
	fmt.Fprintf(&b, "- **Session:** %s\n", r.session.ID())
	fmt.Fprintf(&b, "- **Started:** %s\n", result.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **Duration:** %s\n", result.Duration.Round(time.Second))
	fmt.Fprintf(&b, "- **Accounts:** %d\n\n", len(result.Accounts))

	b.WriteString("## Per-account results\n\n")
	for _, key := range sortedKeys(result) {
		task := result.Results[key]
		// Multi-step batches key results by account/stage; log files are
		// still per account.
		accountID := task.AccountID
		if accountID == "" {
			accountID = key
		}
		fmt.Fprintf(&b, "### %s\n\n", key)
		fmt.Fprintf(&b, "- Outcome: %s\n", outcome(task))
		fmt.Fprintf(&b, "- Processed: %d\n", task.Processed)
		fmt.Fprintf(&b, "- Failed: %d\n", task.Failed)
		fmt.Fprintf(&b, "- Chunks: %d/%d\n", task.ChunksCompleted, task.TotalChunks)
		writeCountDelta(&b, task)
		if len(task.Errors) > 0 {
			b.WriteString("- Errors:\n")
			for _, e := range task.Errors {
				fmt.Fprintf(&b, "  - %s\n", e)
			}
		}
		fmt.Fprintf(&b, "- Logs: `%s` / `%s`\n\n", r.session.InfoPath(accountID), r.session.ErrorPath(accountID))
	}

	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Processed: %d\n", result.Processed())
	fmt.Fprintf(&b, "- Failed: %d\n", result.FailedCount())
	fmt.Fprintf(&b, "- Success rate: %s\n", successRate(result))

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		r.logger.Error().Err(err).Str("path", path).Msg("Batch report write failed")
		return ""
	}
	r.logger.Info().Str("path", path).Msg("Batch report written")
	return path
}

// WriteSummary aggregates every batch the session has run into a single
// markdown report with a JSON sibling.
func (r *Reporter) WriteSummary(results []models.BatchResult) string {
	base := filepath.Join(r.reportDir(), fmt.Sprintf("summary_report_%s", r.session.ID()))
	if err := os.MkdirAll(r.reportDir(), 0o755); err != nil {
		r.logger.Error().Err(err).Msg("Report directory creation failed")
		return ""
	}

	totalProcessed, totalFailed, succeeded := 0, 0, 0
	for _, res := range results {
		totalProcessed += res.Processed()
		totalFailed += res.FailedCount()
		if res.Success {
			succeeded++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session Summary: %s\n\n", r.session.ID())
	fmt.Fprintf(&b, "- **Batches:** %d (%d succeeded)\n", len(results), succeeded)
	fmt.Fprintf(&b, "- **Processed:** %d\n", totalProcessed)
	fmt.Fprintf(&b, "- **Failed:** %d\n\n", totalFailed)

	if len(results) > 0 {
		b.WriteString("| Task | Stage | Accounts | Processed | Failed | Success |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, res := range results {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %t |\n",
				res.TaskID, res.StageID, len(res.Accounts), res.Processed(), res.FailedCount(), res.Success)
		}
	}

	mdPath := base + ".md"
	if err := os.WriteFile(mdPath, []byte(b.String()), 0o644); err != nil {
		r.logger.Error().Err(err).Str("path", mdPath).Msg("Summary report write failed")
		return ""
	}

	if data, err := json.MarshalIndent(results, "", "  "); err == nil {
		if err := os.WriteFile(base+".json", data, 0o644); err != nil {
			r.logger.Warn().Err(err).Msg("Summary JSON write failed")
		}
	}
	r.logger.Info().Str("path", mdPath).Msg("Session summary written")
	return mdPath
}

// UnifiedLogPath is where CLI-driven runs mirror their full log stream.
func (r *Reporter) UnifiedLogPath() string {
	return filepath.Join(r.baseDir, "unified", r.session.ID(), "batch_execution.log")
}

// WriteExecutionSummary renders the CLI run's closing summary next to the
// unified log.
func (r *Reporter) WriteExecutionSummary(results []models.BatchResult) string {
	dir := filepath.Join(r.baseDir, "unified", r.session.ID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Error().Err(err).Msg("Unified log directory creation failed")
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Execution Summary\n\nSession `%s`, %d batch(es).\n\n", r.session.ID(), len(results))
	for _, res := range results {
		status := "FAILED"
		if res.Success {
			status = "OK"
		}
		fmt.Fprintf(&b, "- %s stage %s: %s, processed %d, failed %d\n",
			res.TaskID, res.StageID, status, res.Processed(), res.FailedCount())
	}

	path := filepath.Join(dir, "execution_summary.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		r.logger.Error().Err(err).Str("path", path).Msg("Execution summary write failed")
		return ""
	}
	return path
}

// writeCountDelta renders the before/after product counts when the stage
// measured them. Absent counts (-1) render nothing rather than a bogus
// zero delta.
func writeCountDelta(b *strings.Builder, task models.TaskResult) {
	if task.ProductCountBefore < 0 || task.ProductCountAfter < 0 {
		return
	}
	delta := task.ProductCountAfter - task.ProductCountBefore
	fmt.Fprintf(b, "- Product count: %d -> %d (delta %+d)\n", task.ProductCountBefore, task.ProductCountAfter, delta)
	if delta != task.Processed {
		fmt.Fprintf(b, "- Note: delta differs from processed count (%d vs %d)\n", delta, task.Processed)
	}
}

func outcome(task models.TaskResult) string {
	switch {
	case task.Cancelled:
		return "cancelled"
	case task.Skipped:
		return "skipped (already complete)"
	case task.LimitReached && task.Success:
		return "success (limit reached)"
	case task.Stopped && task.Success:
		return "success (stop signal)"
	case task.Success:
		return "success"
	default:
		return "failed"
	}
}

func successRate(result models.BatchResult) string {
	if len(result.Results) == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", float64(result.SuccessCount())/float64(len(result.Results))*100)
}

func sortedKeys(result models.BatchResult) []string {
	ids := make([]string, 0, len(result.Results))
	for id := range result.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

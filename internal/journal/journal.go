package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/models"
)

const (
	writeRetries    = 3
	writeRetryDelay = 500 * time.Millisecond
)

// Journal persists per-account, per-stage progress so an interrupted
// session can resume where it stopped. One JSON file per (account, stage,
// server) triple, kept in the working directory so the files sit next to
// the logs an operator inspects after a crash.
type Journal struct {
	dir    string
	logger arbor.ILogger
}

// New creates a journal rooted at dir, creating the directory if needed.
// An empty dir means the working directory.
func New(dir string, logger arbor.ILogger) (*Journal, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &Journal{dir: dir, logger: logger}, nil
}

// Path returns the journal file for the (account, stage, server) triple:
// progress_<account>_<stage>.json, with _<server> appended when set.
func (j *Journal) Path(accountID, stageID, server string) string {
	name := fmt.Sprintf("progress_%s_%s", sanitize(accountID), sanitize(stageID))
	if server != "" {
		name += "_" + sanitize(server)
	}
	return filepath.Join(j.dir, name+".json")
}

// Save writes the record, retrying transient write errors. Disk hiccups
// mid-batch must not kill the run, so a final failure is logged and
// returned but callers treat it as non-fatal.
func (j *Journal) Save(record models.ProgressRecord) error {
	record.UpdatedAt = time.Now()
	path := j.Path(record.AccountID, record.StageID, record.Server)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress record: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= writeRetries; attempt++ {
		if lastErr = os.WriteFile(path, data, 0o644); lastErr == nil {
			return nil
		}
		j.logger.Warn().
			Err(lastErr).
			Str("path", path).
			Int("attempt", attempt).
			Msg("Progress write failed, retrying")
		if attempt < writeRetries {
			time.Sleep(writeRetryDelay)
		}
	}
	j.logger.Error().Err(lastErr).Str("path", path).Msg("Progress write gave up")
	return fmt.Errorf("failed to write progress after %d attempts: %w", writeRetries, lastErr)
}

// Load reads the record for the triple. A missing file returns an empty
// record and ok=false; a corrupt file is treated the same way so a bad
// journal never blocks a fresh run.
func (j *Journal) Load(accountID, stageID, server string) (models.ProgressRecord, bool) {
	path := j.Path(accountID, stageID, server)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn().Err(err).Str("path", path).Msg("Failed to read progress file")
		}
		return models.ProgressRecord{AccountID: accountID, StageID: stageID, Server: server}, false
	}

	var record models.ProgressRecord
	if err := json.Unmarshal(data, &record); err != nil {
		j.logger.Warn().Err(err).Str("path", path).Msg("Corrupt progress file, starting fresh")
		return models.ProgressRecord{AccountID: accountID, StageID: stageID, Server: server}, false
	}
	return record, true
}

// Delete removes the triple's journal file once its work completes.
func (j *Journal) Delete(accountID, stageID, server string) {
	path := j.Path(accountID, stageID, server)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		j.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove progress file")
	}
}

// MarkKeywordDone appends a completed keyword and updates the counters,
// persisting the result. Duplicate keywords are ignored.
func (j *Journal) MarkKeywordDone(record *models.ProgressRecord, keyword string, products, subOps int) error {
	for _, done := range record.CompletedKeywords {
		if done == keyword {
			return j.Save(*record)
		}
	}
	record.CompletedKeywords = append(record.CompletedKeywords, keyword)
	record.ProductsDone += products
	record.SubOpsDone += subOps
	return j.Save(*record)
}

func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(s)
}

package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sellerbatch/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func batchResult(taskID, stageID string, processed int) models.BatchResult {
	return models.BatchResult{
		TaskID:   taskID,
		StageID:  stageID,
		Accounts: []string{"account_1"},
		Results: map[string]models.TaskResult{
			"account_1": {AccountID: "account_1", StageID: stageID, Success: true, Processed: processed},
		},
		Success:   true,
		StartTime: time.Now(),
	}
}

func TestRecordAndQueryBySession(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record("20260901_120000", batchResult("task_a", "1", 3)))
	require.NoError(t, s.Record("20260901_120000", batchResult("task_b", "2_1", 5)))
	require.NoError(t, s.Record("20260901_130000", batchResult("task_c", "1", 2)))

	entries, err := s.BySession("20260901_120000")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "task_a", entries[0].Result.TaskID)
	assert.Equal(t, "task_b", entries[1].Result.TaskID)
}

func TestRecordUpsertsSameTask(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record("20260901_120000", batchResult("task_a", "1", 3)))
	require.NoError(t, s.Record("20260901_120000", batchResult("task_a", "1", 9)))

	entries, err := s.BySession("20260901_120000")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 9, entries[0].Result.Processed())
}

func TestRecent(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record("s", batchResult(fmt.Sprintf("task_%d", i), "1", i)))
	}

	entries, err := s.Recent(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBySessionEmpty(t *testing.T) {
	s := openTestStore(t)
	entries, err := s.BySession("nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

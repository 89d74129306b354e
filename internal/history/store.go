package history

import (
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/sellerbatch/internal/models"
)

// Entry is one batch outcome persisted across sessions.
type Entry struct {
	Key        string             `badgerhold:"key"`
	SessionID  string             `badgerholdIndex:"SessionID"`
	StageID    string             `badgerholdIndex:"StageID"`
	RecordedAt time.Time          `json:"recorded_at"`
	Result     models.BatchResult `json:"result"`
}

// Store keeps batch history in an embedded Badger database so summaries
// can span sessions.
type Store struct {
	db     *badgerhold.Store
	logger arbor.ILogger
}

// Open opens (or creates) the history database at path.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	// arbor owns process logging; badger stays quiet.
	options.Options = badger.DefaultOptions(path).WithLogger(nil)

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	logger.Debug().Str("path", path).Msg("History database opened")
	return &Store{db: db, logger: logger}, nil
}

// Record persists one batch outcome. History is best-effort: a failed
// write is logged and reported but callers do not fail the batch over it.
func (s *Store) Record(sessionID string, result models.BatchResult) error {
	entry := Entry{
		Key:        fmt.Sprintf("%s_%s", sessionID, result.TaskID),
		SessionID:  sessionID,
		StageID:    result.StageID,
		RecordedAt: time.Now(),
		Result:     result,
	}
	if err := s.db.Upsert(entry.Key, &entry); err != nil {
		s.logger.Error().Err(err).Str("task", result.TaskID).Msg("Failed to record batch history")
		return fmt.Errorf("failed to record batch history: %w", err)
	}
	return nil
}

// BySession returns all batches of one session, oldest first.
func (s *Store) BySession(sessionID string) ([]Entry, error) {
	var entries []Entry
	query := badgerhold.Where("SessionID").Eq(sessionID).SortBy("RecordedAt")
	if err := s.db.Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	return entries, nil
}

// Recent returns the latest n batches across all sessions.
func (s *Store) Recent(n int) ([]Entry, error) {
	var entries []Entry
	query := badgerhold.Where("Key").Ne("").SortBy("RecordedAt").Reverse()
	if n > 0 {
		query = query.Limit(n)
	}
	if err := s.db.Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to query recent history: %w", err)
	}
	return entries, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

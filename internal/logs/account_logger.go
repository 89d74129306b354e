package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"
)

// AccountLogger writes one account's activity to two streams: a full
// info-level log and an error-only log. Every line carries the account id
// as a bracketed prefix so grepping across all accounts stays meaningful.
type AccountLogger struct {
	accountID string
	mu        sync.Mutex
	info      arbor.ILogger
	errors    arbor.ILogger
}

// Infof records normal activity.
func (a *AccountLogger) Infof(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info.Info().Msg(a.prefix(format, args...))
}

// Warnf records a recoverable problem.
func (a *AccountLogger) Warnf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.info.Warn().Msg(a.prefix(format, args...))
}

// Errorf records a failure to both streams.
func (a *AccountLogger) Errorf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	line := a.prefix(format, args...)
	a.info.Error().Msg(line)
	a.errors.Error().Msg(line)
}

func (a *AccountLogger) prefix(format string, args ...any) string {
	return "[" + a.accountID + "] " + fmt.Sprintf(format, args...)
}

// Session hands out per-account loggers for one run. File handles are
// opened lazily the first time an account logs.
type Session struct {
	id      string
	baseDir string

	mu      sync.Mutex
	loggers map[string]*AccountLogger
}

// NewSession creates the logger factory for a session id. baseDir
// defaults to "logs".
func NewSession(sessionID, baseDir string) *Session {
	if baseDir == "" {
		baseDir = "logs"
	}
	return &Session{
		id:      sessionID,
		baseDir: baseDir,
		loggers: make(map[string]*AccountLogger),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// For returns the account's logger, opening its files on first use.
func (s *Session) For(accountID string) *AccountLogger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loggers[accountID]; ok {
		return l
	}

	name := sanitizeName(accountID)
	infoPath := filepath.Join(s.baseDir, "accounts", s.id, name+".log")
	errorPath := filepath.Join(s.baseDir, "errors", s.id, name+"_errors.log")
	_ = os.MkdirAll(filepath.Dir(infoPath), 0o755)
	_ = os.MkdirAll(filepath.Dir(errorPath), 0o755)

	l := &AccountLogger{
		accountID: accountID,
		info:      fileLogger(infoPath, "info"),
		errors:    fileLogger(errorPath, "error"),
	}
	s.loggers[accountID] = l
	return l
}

// InfoPath returns where the account's info log lives.
func (s *Session) InfoPath(accountID string) string {
	return filepath.Join(s.baseDir, "accounts", s.id, sanitizeName(accountID)+".log")
}

// ErrorPath returns where the account's error log lives.
func (s *Session) ErrorPath(accountID string) string {
	return filepath.Join(s.baseDir, "errors", s.id, sanitizeName(accountID)+"_errors.log")
}

// fileLogger builds a file-only arbor logger so account records never
// duplicate into the process console log.
func fileLogger(path, level string) arbor.ILogger {
	return arbor.NewLogger().
		WithFileWriter(arbormodels.WriterConfiguration{
			Type:       arbormodels.LogWriterTypeFile,
			FileName:   path,
			TimeFormat: "2006-01-02 15:04:05",
			MaxSize:    50 * 1024 * 1024,
			MaxBackups: 2,
			TextOutput: true,
		}).
		WithLevelFromString(level)
}

func sanitizeName(s string) string {
	r := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(s)
}

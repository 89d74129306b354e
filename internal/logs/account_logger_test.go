package logs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionReusesLoggers(t *testing.T) {
	s := NewSession("20260901_120000", t.TempDir())

	first := s.For("account_1")
	second := s.For("account_1")
	assert.Same(t, first, second)

	other := s.For("account_2")
	assert.NotSame(t, first, other)
}

func TestLogPaths(t *testing.T) {
	base := t.TempDir()
	s := NewSession("20260901_120000", base)

	assert.Equal(t,
		filepath.Join(base, "accounts", "20260901_120000", "account_1.log"),
		s.InfoPath("account_1"))
	assert.Equal(t,
		filepath.Join(base, "errors", "20260901_120000", "account_1_errors.log"),
		s.ErrorPath("account_1"))
}

func TestLogPathsSanitizeEmails(t *testing.T) {
	s := NewSession("20260901_120000", t.TempDir())
	path := s.InfoPath("seller@example.com")
	assert.Equal(t, "seller_at_example.com.log", filepath.Base(path))
}

func TestPrefixCarriesAccountID(t *testing.T) {
	l := &AccountLogger{accountID: "account_7"}
	assert.Equal(t, "[account_7] stage 1 starting: quantity=5",
		l.prefix("stage %d starting: quantity=%d", 1, 5))
}

func TestForCreatesLogDirectories(t *testing.T) {
	base := t.TempDir()
	s := NewSession("20260901_120000", base)
	s.For("account_1")

	assert.DirExists(t, filepath.Join(base, "accounts", "20260901_120000"))
	assert.DirExists(t, filepath.Join(base, "errors", "20260901_120000"))
}

package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"
)

func writeMappingFile(t *testing.T, sheet string, emails []string) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}
	for i, email := range emails {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cellRef, email))
	}

	path := filepath.Join(t.TempDir(), "seller_accounts.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestMapperResolve(t *testing.T) {
	path := writeMappingFile(t, "login_id", []string{
		"real1@example.com",
		"real2@example.com",
	})

	m := NewMapper(path, "login_id", arbor.NewLogger())

	assert.Equal(t, "real1@example.com", m.Resolve("account_1"))
	assert.Equal(t, "real2@example.com", m.Resolve("account_2"))
}

func TestMapperUnknownIDPassesThrough(t *testing.T) {
	path := writeMappingFile(t, "login_id", []string{"real1@example.com"})

	m := NewMapper(path, "login_id", arbor.NewLogger())

	assert.Equal(t, "account_9", m.Resolve("account_9"))
	assert.Equal(t, "direct@example.com", m.Resolve("direct@example.com"))
}

func TestMapperFallbackWhenFileMissing(t *testing.T) {
	m := NewMapper(filepath.Join(t.TempDir(), "nope.xlsx"), "login_id", arbor.NewLogger())

	// With no cache and no readable sheet, the built-in fallback answers.
	assert.Equal(t, fallbackMapping["account_1"], m.Resolve("account_1"))
}

func TestMapperServesStaleCacheOnReadFailure(t *testing.T) {
	path := writeMappingFile(t, "login_id", []string{"real1@example.com"})

	m := NewMapper(path, "login_id", arbor.NewLogger())
	require.Equal(t, "real1@example.com", m.Resolve("account_1"))

	// Expire the cache and break the file. The stale table keeps serving.
	m.loadedAt = m.loadedAt.Add(-2 * mappingTTL)
	require.NoError(t, os.Remove(path))
	assert.Equal(t, "real1@example.com", m.Resolve("account_1"))
}

func TestMapperInvalidate(t *testing.T) {
	path := writeMappingFile(t, "login_id", []string{"real1@example.com"})

	m := NewMapper(path, "login_id", arbor.NewLogger())
	require.Equal(t, "real1@example.com", m.Resolve("account_1"))

	m.Invalidate()
	assert.Nil(t, m.cache)
	assert.Equal(t, "real1@example.com", m.Resolve("account_1"))
}

func TestMapperMappingCopy(t *testing.T) {
	path := writeMappingFile(t, "login_id", []string{"real1@example.com"})

	m := NewMapper(path, "login_id", arbor.NewLogger())
	table := m.Mapping()
	table["account_1"] = "mutated"

	assert.Equal(t, "real1@example.com", m.Resolve("account_1"))
}

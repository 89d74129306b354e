package accounts

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/sellerbatch/internal/models"
)

func writeAccountFile(t *testing.T, rows [][]string) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		for j, val := range row {
			cellRef, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cellRef, val))
		}
	}

	path := filepath.Join(t.TempDir(), "seller_accounts.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestStoreLoadWithHeader(t *testing.T) {
	path := writeAccountFile(t, [][]string{
		{"email", "password", "name", "active"},
		{"alpha@example.com", "pw1", "Alpha", "true"},
		{"beta@example.com", "pw2", "", "false"},
	})

	store := NewStore(path, arbor.NewLogger())

	all := store.All()
	require.Len(t, all, 2)

	assert.Equal(t, "account_1", all[0].ID)
	assert.Equal(t, "alpha@example.com", all[0].Email)
	assert.Equal(t, "Alpha", all[0].Name)
	assert.True(t, all[0].Active)

	assert.Equal(t, "account_2", all[1].ID)
	assert.Equal(t, "Account 2", all[1].Name)
	assert.False(t, all[1].Active)
}

func TestStoreSkipsBlankRowsButKeepsPositions(t *testing.T) {
	path := writeAccountFile(t, [][]string{
		{"alpha@example.com", "pw1"},
		{"", ""},
		{"gamma@example.com", "pw3"},
	})

	store := NewStore(path, arbor.NewLogger())

	all := store.All()
	require.Len(t, all, 2)

	// The skipped row still consumes a position so ids stay aligned
	// with the sheet.
	assert.Equal(t, "account_1", all[0].ID)
	assert.Equal(t, "account_3", all[1].ID)
	assert.Equal(t, "gamma@example.com", all[1].Email)
}

func TestStoreGetByIDAndEmail(t *testing.T) {
	path := writeAccountFile(t, [][]string{
		{"alpha@example.com", "pw1"},
	})

	store := NewStore(path, arbor.NewLogger())

	byID, err := store.Get("account_1")
	require.NoError(t, err)
	assert.Equal(t, "alpha@example.com", byID.Email)

	byEmail, err := store.Get("alpha@example.com")
	require.NoError(t, err)
	assert.Equal(t, "account_1", byEmail.ID)

	_, err = store.Get("account_99")
	assert.Error(t, err)
}

func TestStoreCredentials(t *testing.T) {
	path := writeAccountFile(t, [][]string{
		{"alpha@example.com", "secret"},
	})

	store := NewStore(path, arbor.NewLogger())

	email, password, err := store.Credentials("account_1")
	require.NoError(t, err)
	assert.Equal(t, "alpha@example.com", email)
	assert.Equal(t, "secret", password)
}

func TestStoreMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.xlsx"), arbor.NewLogger())
	assert.Empty(t, store.All())

	_, err := store.Get("account_1")
	assert.Error(t, err)
}

func TestStoreSetStatusAndSummary(t *testing.T) {
	path := writeAccountFile(t, [][]string{
		{"alpha@example.com", "pw1", "", "true"},
		{"beta@example.com", "pw2", "", "false"},
	})

	store := NewStore(path, arbor.NewLogger())

	require.NoError(t, store.SetStatus("account_1", models.AccountStatusRunning))
	assert.Error(t, store.SetStatus("account_9", models.AccountStatusRunning))

	summary := store.Summary()
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Active)
	assert.Equal(t, 1, summary.Inactive)
	assert.Equal(t, 1, summary.StatusCounts[models.AccountStatusRunning])
	assert.Equal(t, 1, summary.StatusCounts[models.AccountStatusReady])
}

func TestStoreActiveIDs(t *testing.T) {
	path := writeAccountFile(t, [][]string{
		{"alpha@example.com", "pw1", "", "true"},
		{"beta@example.com", "pw2", "", "no"},
		{"gamma@example.com", "pw3"},
	})

	store := NewStore(path, arbor.NewLogger())
	assert.Equal(t, []string{"account_1", "account_3"}, store.ActiveIDs())
}

package accounts

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/sellerbatch/internal/models"
)

// Store loads seller accounts from the account spreadsheet and exposes
// lookup by id or email. The first sheet supplies email+password rows;
// a header row is tolerated. Status mutations are process-local.
type Store struct {
	path   string
	logger arbor.ILogger

	mu      sync.RWMutex
	byID    map[string]*models.Account
	byEmail map[string]*models.Account
	order   []string // account ids in sheet order
}

// NewStore loads the spreadsheet at path. A missing file yields an empty
// store with a warning; a parse error yields an empty store with an error
// log. Neither is fatal.
func NewStore(path string, logger arbor.ILogger) *Store {
	s := &Store{
		path:    path,
		logger:  logger,
		byID:    make(map[string]*models.Account),
		byEmail: make(map[string]*models.Account),
	}
	s.load()
	return s
}

func (s *Store) load() {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.logger.Warn().Str("path", s.path).Msg("Account file not found, starting with empty store")
		return
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("Failed to open account file")
		return
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		s.logger.Error().Str("path", s.path).Msg("Account file has no sheets")
		return
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		s.logger.Error().Err(err).Str("sheet", sheets[0]).Msg("Failed to read account sheet")
		return
	}

	loaded := 0
	position := 0
	for i, row := range rows {
		email := cell(row, 0)
		password := cell(row, 1)

		// Header row: first cell is not an address.
		if i == 0 && !strings.Contains(email, "@") {
			continue
		}

		// Enumeration position counts every data row, skipped or not, so
		// virtual ids stay aligned with the sheet.
		position++
		id := fmt.Sprintf("account_%d", position)

		if email == "" || password == "" {
			s.logger.Warn().Int("row", i+1).Str("email", email).Msg("Skipping account row with blank email or password")
			continue
		}

		name := cell(row, 2)
		if name == "" {
			name = fmt.Sprintf("Account %d", position)
		}
		active := true
		if v := cell(row, 3); v != "" {
			active = parseBool(v)
		}

		account := &models.Account{
			ID:       id,
			Email:    email,
			Password: password,
			Name:     name,
			Active:   active,
			Status:   models.AccountStatusReady,
		}
		s.byID[id] = account
		s.byEmail[email] = account
		s.order = append(s.order, id)
		loaded++
	}

	s.logger.Info().Int("accounts", loaded).Str("path", s.path).Msg("Accounts loaded")
}

// Get resolves an account by id or email.
func (s *Store) Get(idOrEmail string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.byID[idOrEmail]; ok {
		return *a, nil
	}
	if a, ok := s.byEmail[idOrEmail]; ok {
		return *a, nil
	}
	return models.Account{}, fmt.Errorf("account %q not found", idOrEmail)
}

// Credentials returns the login pair for an account.
func (s *Store) Credentials(idOrEmail string) (string, string, error) {
	a, err := s.Get(idOrEmail)
	if err != nil {
		return "", "", err
	}
	return a.Email, a.Password, nil
}

// ByEmail looks up an account by email address.
func (s *Store) ByEmail(email string) (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.byEmail[email]; ok {
		return *a, true
	}
	return models.Account{}, false
}

// All returns every loaded account in sheet order.
func (s *Store) All() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// ActiveIDs returns the ids of active accounts in sheet order.
func (s *Store) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.byID[id].Active {
			out = append(out, id)
		}
	}
	return out
}

// SetStatus updates the process-local status of an account.
func (s *Store) SetStatus(idOrEmail string, status models.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[idOrEmail]
	if !ok {
		a, ok = s.byEmail[idOrEmail]
	}
	if !ok {
		return fmt.Errorf("account %q not found", idOrEmail)
	}
	a.Status = status
	return nil
}

// Summary aggregates store contents by status.
func (s *Store) Summary() models.AccountSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := models.AccountSummary{
		StatusCounts: make(map[models.AccountStatus]int),
	}
	for _, id := range s.order {
		a := s.byID[id]
		summary.Total++
		if a.Active {
			summary.Active++
		} else {
			summary.Inactive++
		}
		summary.StatusCounts[a.Status]++
	}
	return summary
}

// Reload discards and re-reads the spreadsheet.
func (s *Store) Reload() {
	s.mu.Lock()
	s.byID = make(map[string]*models.Account)
	s.byEmail = make(map[string]*models.Account)
	s.order = nil
	s.mu.Unlock()
	s.load()
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "n", "off":
		return false
	}
	return true
}

package accounts

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"
)

// mappingTTL is how long a loaded virtual mapping stays fresh before the
// next lookup triggers a re-read of the spreadsheet.
const mappingTTL = 5 * time.Minute

// fallbackMapping keeps lookups working when the spreadsheet cannot be
// re-read. Stale answers beat a crashed batch.
var fallbackMapping = map[string]string{
	"account_1": "seller01@sellerbatch.local",
	"account_2": "seller02@sellerbatch.local",
	"account_3": "seller03@sellerbatch.local",
	"account_4": "seller04@sellerbatch.local",
}

// Mapper translates virtual account ids (account_1, account_2, ...) to the
// real emails listed on the mapping sheet. The mapping is memoized under a
// process-wide lock with a 5-minute TTL.
type Mapper struct {
	path   string
	sheet  string
	logger arbor.ILogger

	mu       sync.Mutex
	cache    map[string]string
	loadedAt time.Time
}

// NewMapper creates a mapper over the named sheet of the account
// spreadsheet. The sheet's column A lists emails indexed positionally as
// account_1, account_2, ...
func NewMapper(path, sheet string, logger arbor.ILogger) *Mapper {
	if sheet == "" {
		sheet = "login_id"
	}
	return &Mapper{path: path, sheet: sheet, logger: logger}
}

// Resolve translates a virtual id to its real email. Unknown ids are
// returned unchanged so callers can pass through already-real identifiers.
func (m *Mapper) Resolve(virtualID string) string {
	mapping := m.mapping()
	if email, ok := mapping[virtualID]; ok {
		return email
	}
	return virtualID
}

// Mapping returns a copy of the full virtual->real table.
func (m *Mapper) Mapping() map[string]string {
	mapping := m.mapping()
	out := make(map[string]string, len(mapping))
	for k, v := range mapping {
		out[k] = v
	}
	return out
}

func (m *Mapper) mapping() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil && time.Since(m.loadedAt) < mappingTTL {
		return m.cache
	}

	mapping, err := m.loadFromSheet()
	if err != nil {
		m.logger.Error().Err(err).Str("path", m.path).Str("sheet", m.sheet).Msg("Failed to load account mapping")
		if m.cache != nil {
			// Keep serving the stale cache rather than failing lookups.
			return m.cache
		}
		return fallbackMapping
	}

	m.cache = mapping
	m.loadedAt = time.Now()
	m.logger.Info().Int("accounts", len(mapping)).Msg("Account mapping loaded")
	return m.cache
}

func (m *Mapper) loadFromSheet() (map[string]string, error) {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return nil, fmt.Errorf("mapping file not found: %s", m.path)
	}

	f, err := excelize.OpenFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(m.sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", m.sheet, err)
	}

	mapping := make(map[string]string)
	position := 0
	for i, row := range rows {
		email := cell(row, 0)
		if email == "" {
			break // blank row terminates parsing
		}
		// Header row: first cell is not an address.
		if i == 0 && !strings.Contains(email, "@") {
			continue
		}
		position++
		mapping[fmt.Sprintf("account_%d", position)] = email
	}
	return mapping, nil
}

// Invalidate drops the cache so the next lookup re-reads the sheet.
func (m *Mapper) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = nil
	m.loadedAt = time.Time{}
}

package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/sellerbatch/internal/browser"
	"github.com/ternarybob/sellerbatch/internal/models"
)

// Stage is one step of the catalog-edit pipeline. Implementations drive
// the seller console through the supplied browser session and report what
// they actually did. Implementations must not retain the driver.
type Stage interface {
	ID() string
	Name() string
	Execute(ctx context.Context, driver *browser.Driver, account models.Account, quantity int, extras map[string]any) (models.StageResult, error)
}

// SingleBrowserPreferrer marks stages that want one browser session for
// their whole run instead of the usual restart-per-chunk policy.
type SingleBrowserPreferrer interface {
	PrefersSingleBrowser() bool
}

// PrefersSingleBrowser reports whether the stage opted out of per-chunk
// browser restarts.
func PrefersSingleBrowser(s Stage) bool {
	if p, ok := s.(SingleBrowserPreferrer); ok {
		return p.PrefersSingleBrowser()
	}
	return false
}

// Registry is the open stage table. Stage ids follow the sub-stage
// convention (1, 2_1 ... 6_3) but any id registers.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds or replaces a stage under its id.
func (r *Registry) Register(s Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[s.ID()] = s
}

// Get resolves a stage id.
func (r *Registry) Get(id string) (Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[id]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", id)
	}
	return s, nil
}

// IDs returns all registered stage ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.stages))
	for id := range r.stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ParseID maps a CLI stage number to its canonical id: single digits are
// main stages (1 -> "1"), two digits split into stage and sub-stage
// (21 -> "2_1", 53 -> "5_3").
func ParseID(n int) (string, error) {
	switch {
	case n >= 1 && n <= 9:
		return fmt.Sprintf("%d", n), nil
	case n >= 10 && n <= 99:
		return fmt.Sprintf("%d_%d", n/10, n%10), nil
	default:
		return "", fmt.Errorf("stage number %d out of range", n)
	}
}

// NormalizeID accepts either canonical ids ("2_1") or CLI numbers ("21")
// and returns the canonical form.
func NormalizeID(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("empty stage id")
	}
	if strings.Contains(token, "_") {
		return token, nil
	}
	var n int
	if _, err := fmt.Sscanf(token, "%d", &n); err != nil {
		return "", fmt.Errorf("invalid stage id %q", token)
	}
	return ParseID(n)
}

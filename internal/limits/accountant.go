package limits

import (
	"sync"

	"github.com/ternarybob/sellerbatch/internal/models"
)

// Default ceilings applied when the config leaves them unset.
const (
	DefaultProductLimit = 20
	DefaultSubOpLimit   = 2000
)

// Accountant tracks per-account consumption against the product and
// sub-operation ceilings for one session. Consumption is observed, not
// predicted: counters only move when a stage reports actual work done.
type Accountant struct {
	productLimit int
	subOpLimit   int

	mu       sync.Mutex
	products map[string]int
	subOps   map[string]int
}

// NewAccountant creates an accountant with the given ceilings. A ceiling
// of zero or less falls back to the default.
func NewAccountant(productLimit, subOpLimit int) *Accountant {
	if productLimit <= 0 {
		productLimit = DefaultProductLimit
	}
	if subOpLimit <= 0 {
		subOpLimit = DefaultSubOpLimit
	}
	return &Accountant{
		productLimit: productLimit,
		subOpLimit:   subOpLimit,
		products:     make(map[string]int),
		subOps:       make(map[string]int),
	}
}

// Observe records work a stage actually performed for the account.
func (a *Accountant) Observe(accountID string, products, subOps int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if products > 0 {
		a.products[accountID] += products
	}
	if subOps > 0 {
		a.subOps[accountID] += subOps
	}
}

// Restore seeds the account's counters from a persisted progress record,
// so a resumed session keeps counting where the interrupted one stopped.
func (a *Accountant) Restore(accountID string, record models.ProgressRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if record.ProductsDone > a.products[accountID] {
		a.products[accountID] = record.ProductsDone
	}
	if record.SubOpsDone > a.subOps[accountID] {
		a.subOps[accountID] = record.SubOpsDone
	}
}

// AllowanceForNextChunk returns how much the account may still process in
// its next chunk: the requested chunk size clamped to the remaining
// product allowance, plus the remaining sub-op allowance. A zero product
// allowance means the ceiling is already hit.
func (a *Accountant) AllowanceForNextChunk(accountID string, chunkSize int) (productAllow, subOpAllow int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	productAllow = a.productLimit - a.products[accountID]
	if productAllow < 0 {
		productAllow = 0
	}
	if chunkSize < productAllow {
		productAllow = chunkSize
	}

	subOpAllow = a.subOpLimit - a.subOps[accountID]
	if subOpAllow < 0 {
		subOpAllow = 0
	}
	return productAllow, subOpAllow
}

// IsLimitReached reports whether the account has hit either ceiling.
func (a *Accountant) IsLimitReached(accountID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.products[accountID] >= a.productLimit || a.subOps[accountID] >= a.subOpLimit
}

// Consumed returns the account's current product and sub-op counters.
func (a *Accountant) Consumed(accountID string) (products, subOps int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.products[accountID], a.subOps[accountID]
}

// Reset clears the account's counters, e.g. when a new session starts.
func (a *Accountant) Reset(accountID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.products, accountID)
	delete(a.subOps, accountID)
}

// Limits returns the configured ceilings.
func (a *Accountant) Limits() (productLimit, subOpLimit int) {
	return a.productLimit, a.subOpLimit
}

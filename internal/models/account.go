package models

// AccountStatus is the process-local lifecycle state of an account.
// It is never persisted.
type AccountStatus string

const (
	AccountStatusReady     AccountStatus = "ready"
	AccountStatusRunning   AccountStatus = "running"
	AccountStatusError     AccountStatus = "error"
	AccountStatusCompleted AccountStatus = "completed"
)

// Account is one seller-console login loaded from the account spreadsheet.
// ID and Email both resolve to the same record; Email is unique.
type Account struct {
	ID       string        `json:"id"`
	Email    string        `json:"email"`
	Password string        `json:"-"`
	Name     string        `json:"name"`
	Active   bool          `json:"active"`
	Status   AccountStatus `json:"status"`
}

// AccountSummary aggregates store contents for status displays.
type AccountSummary struct {
	Total        int                   `json:"total"`
	Active       int                   `json:"active"`
	Inactive     int                   `json:"inactive"`
	StatusCounts map[AccountStatus]int `json:"status_counts"`
}

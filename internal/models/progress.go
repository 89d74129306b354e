package models

import "time"

// ProgressRecord is the durable resume state for one (account, stage,
// server-variant) task. One JSON file per record; deleted on successful
// completion of the whole task unit.
type ProgressRecord struct {
	AccountID         string    `json:"account_id"`
	StageID           string    `json:"stage_id"`
	Server            string    `json:"server_name,omitempty"`
	CompletedKeywords []string  `json:"completed_keywords"`
	ProductsDone      int       `json:"total_products_processed"`
	SubOpsDone        int       `json:"total_sub_ops"`
	UpdatedAt         time.Time `json:"last_updated"`
}

// Remaining returns the members of keywords not yet completed, preserving
// input order.
func (p *ProgressRecord) Remaining(keywords []string) []string {
	if len(p.CompletedKeywords) == 0 {
		return keywords
	}
	done := make(map[string]struct{}, len(p.CompletedKeywords))
	for _, k := range p.CompletedKeywords {
		done[k] = struct{}{}
	}
	remaining := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if _, ok := done[k]; !ok {
			remaining = append(remaining, k)
		}
	}
	return remaining
}

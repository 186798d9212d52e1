package model

import "time"

// ClassificationRule is a user-defined override evaluated against an EmailSummary.
type ClassificationRule struct {
	ID             int64          `json:"id"`
	UserID         int64          `json:"user_id"`
	Name           string         `json:"name"`
	Description    *string        `json:"description,omitempty"`
	Priority       int            `json:"priority"`
	IsActive       bool           `json:"is_active"`
	Conditions     map[string]any `json:"conditions"`
	TargetCategory Category       `json:"target_category"`
	TargetFolder   *string        `json:"target_folder,omitempty"`
	AutoDelete     bool           `json:"auto_delete"`
	MatchCount     int64          `json:"match_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

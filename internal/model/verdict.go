package model

import "time"

// Verdict is the outcome of one classification attempt.
type Verdict struct {
	Category   Category `json:"category"`
	Confidence int      `json:"confidence"`
	Reason     string   `json:"reason"`
}

// RuleOverride is the action of the rule that superseded the model verdict.
type RuleOverride struct {
	RuleID       int64    `json:"rule_id"`
	RuleName     string   `json:"rule_name"`
	Category     Category `json:"category"`
	TargetFolder *string  `json:"target_folder,omitempty"`
	AutoDelete   bool     `json:"auto_delete"`
}

// Decision is the final result written back to the email.
type Decision struct {
	EmailID      int64
	UserID       int64
	Verdict      Verdict
	ModelVerdict Verdict
	Rule         *RuleOverride
	Fallback     bool
	Duration     time.Duration
}

// TargetFolder returns the rule's folder, if any.
func (d *Decision) TargetFolder() *string {
	if d.Rule == nil {
		return nil
	}
	return d.Rule.TargetFolder
}

// AutoDelete reports whether the matched rule asks for deletion.
func (d *Decision) AutoDelete() bool {
	return d.Rule != nil && d.Rule.AutoDelete
}

// Source labels where the final category came from.
func (d *Decision) Source() string {
	switch {
	case d.Rule != nil:
		return "rule"
	case d.Fallback:
		return "fallback"
	default:
		return "model"
	}
}

// ProcessingLog mirrors a row of processing_logs.
type ProcessingLog struct {
	ID               int64          `json:"id"`
	EmailID          *int64         `json:"email_id,omitempty"`
	Level            string         `json:"level"`
	Message          string         `json:"message"`
	Details          map[string]any `json:"details,omitempty"`
	Component        string         `json:"component"`
	ProcessingTimeMs *int           `json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

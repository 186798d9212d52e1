package mq

import "time"

// 分类请求的原因
const (
	ReasonIngested   = "ingested"
	ReasonReclassify = "reclassify"
	ReasonStale      = "stale"
)

// EmailClassifyPayload 请求对一封邮件做分类 (routing key email.classify)
type EmailClassifyPayload struct {
	EmailID     int64     `json:"email_id"`
	UserID      int64     `json:"user_id"`
	RequestID   string    `json:"request_id"`
	TraceID     string    `json:"trace_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// EmailClassifiedPayload 分类结果已落库 (routing key email.classified)
type EmailClassifiedPayload struct {
	EmailID      int64   `json:"email_id"`
	UserID       int64   `json:"user_id"`
	Category     string  `json:"category"`
	Confidence   int     `json:"confidence"`
	Source       string  `json:"source"`
	TargetFolder *string `json:"target_folder,omitempty"`
	AutoDelete   bool    `json:"auto_delete"`
	RuleID       *int64  `json:"rule_id,omitempty"`
	TraceID      string  `json:"trace_id,omitempty"`
}

// ReclassifyRequestedPayload 用户请求重新分类 (routing key email.reclassify.requested)
type ReclassifyRequestedPayload struct {
	UserID    int64   `json:"user_id"`
	Category  *string `json:"category,omitempty"`
	RequestID string  `json:"request_id"`
	TraceID   string  `json:"trace_id,omitempty"`
}

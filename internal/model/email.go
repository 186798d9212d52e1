package model

import "time"

// Status is the processing state of an email.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusClassified Status = "classified"
	StatusError      Status = "error"
	StatusArchived   Status = "archived"
	StatusDeleted    Status = "deleted"
)

// EmailSummary is the projection of an email the classifier reads.
type EmailSummary struct {
	Sender          string   `json:"sender"`
	Subject         string   `json:"subject"`
	BodyPreview     string   `json:"body_preview"`
	HasAttachments  bool     `json:"has_attachments"`
	AttachmentNames []string `json:"attachment_names,omitempty"`
}

// ClaimedEmail is what the store hands back when an email enters processing.
type ClaimedEmail struct {
	ID      int64
	UserID  int64
	Summary EmailSummary
}

// Email mirrors a row of the emails table.
type Email struct {
	ID                       int64
	UserID                   int64
	AccountID                int64
	MessageID                string
	ThreadID                 *string
	Subject                  string
	Sender                   string
	Recipients               []string
	DateReceived             *time.Time
	Category                 Category
	ClassificationConfidence *int
	ClassificationReason     *string
	HasAttachments           bool
	AttachmentCount          int
	BodyPreview              string
	Status                   Status
	ArchivedFolder           *string
	AutoDelete               bool
	MatchedRuleID            *int64
	IsDeleted                bool
	DeletedAt                *time.Time
	ProcessedAt              *time.Time
	ProcessingTimeMs         *int
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// EmailRef identifies an email and its owner, e.g. for republishing.
type EmailRef struct {
	ID     int64
	UserID int64
}

// CategoryStat is an aggregate over a user's classified emails.
type CategoryStat struct {
	Category          Category `json:"category"`
	Count             int64    `json:"count"`
	AvgConfidence     float64  `json:"avg_confidence"`
	AvgProcessingTime float64  `json:"avg_processing_time_ms"`
}

// PerformanceStats summarizes processing time and confidence for a user.
type PerformanceStats struct {
	AvgProcessingTimeMs      float64 `json:"avg_processing_time_ms"`
	AvgProcessingTimeSeconds float64 `json:"avg_processing_time_seconds"`
	ErrorCount               int64   `json:"error_count"`
	AvgConfidence            float64 `json:"avg_classification_confidence"`
}

// TimelinePoint is the number of emails received on one day.
type TimelinePoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

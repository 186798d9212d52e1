package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mqcontract "emailagent/contracts/mq"
	"emailagent/internal/model"
	"emailagent/pkg/mq"
	"emailagent/pkg/otel"
	"emailagent/pkg/outbox"
)

const aggregateEmail = "email"

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

// Claim moves the email into processing under token. It succeeds for a
// pending email, for one already held by the same token, and for one whose
// attempt started more than staleAfter ago.
func (r *EmailRepository) Claim(ctx context.Context, emailID int64, token string, staleAfter time.Duration) (*model.ClaimedEmail, error) {
	query := `
        UPDATE emails
        SET status = 'processing',
            processing_started_at = NOW(),
            processing_token = $2,
            updated_at = NOW()
        WHERE id = $1
          AND is_deleted = FALSE
          AND (status = 'pending'
               OR (status = 'processing'
                   AND (processing_token = $2
                        OR processing_started_at IS NULL
                        OR processing_started_at < NOW() - make_interval(secs => $3))))
        RETURNING id, user_id, sender, subject, body_preview, has_attachments
    `
	var c model.ClaimedEmail
	err := otel.Traced(ctx, "UPDATE", "emails", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, emailID, token, staleAfter.Seconds()).Scan(
			&c.ID,
			&c.UserID,
			&c.Summary.Sender,
			&c.Summary.Subject,
			&c.Summary.BodyPreview,
			&c.Summary.HasAttachments,
		)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM emails WHERE id = $1)`, emailID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %d", model.ErrEmailNotFound, emailID)
		}
		return nil, fmt.Errorf("%w: %d", model.ErrNotClaimable, emailID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim email %d: %w", emailID, err)
	}

	names, err := r.attachmentNames(ctx, emailID)
	if err != nil {
		return nil, err
	}
	c.Summary.AttachmentNames = names
	if len(names) > 0 {
		c.Summary.HasAttachments = true
	}
	return &c, nil
}

func (r *EmailRepository) attachmentNames(ctx context.Context, emailID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `
        SELECT filename FROM email_attachments WHERE email_id = $1 ORDER BY id
    `, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments: %w", err)
	}
	return names, nil
}

// SaveDecision writes the decision, counts the matched rule, logs the attempt
// and queues email.classified, all in one transaction. It only applies while
// the email is still processing.
func (r *EmailRepository) SaveDecision(ctx context.Context, d *model.Decision, traceID string) error {
	return otel.Traced(ctx, "TX", "emails", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
			ms := int(d.Duration.Milliseconds())
			var ruleID *int64
			if d.Rule != nil {
				ruleID = &d.Rule.RuleID
			}

			tag, err := tx.Exec(ctx, `
                UPDATE emails
                SET category = $2,
                    classification_confidence = $3,
                    classification_reason = $4,
                    status = 'classified',
                    processing_time_ms = $5,
                    processed_at = NOW(),
                    archived_folder = $6,
                    auto_delete = $7,
                    matched_rule_id = $8,
                    processing_started_at = NULL,
                    processing_token = NULL,
                    updated_at = NOW()
                WHERE id = $1 AND status = 'processing'
            `, d.EmailID, string(d.Verdict.Category), d.Verdict.Confidence, d.Verdict.Reason,
				ms, d.TargetFolder(), d.AutoDelete(), ruleID)
			if err != nil {
				return fmt.Errorf("failed to update email: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %d is no longer processing", model.ErrNotClaimable, d.EmailID)
			}

			if ruleID != nil {
				if _, err := tx.Exec(ctx, `
                    UPDATE classification_rules SET match_count = match_count + 1 WHERE id = $1
                `, *ruleID); err != nil {
					return fmt.Errorf("failed to count rule match: %w", err)
				}
			}

			details := map[string]any{
				"category":         d.Verdict.Category,
				"confidence":       d.Verdict.Confidence,
				"model_category":   d.ModelVerdict.Category,
				"model_confidence": d.ModelVerdict.Confidence,
				"source":           d.Source(),
			}
			if ruleID != nil {
				details["rule_id"] = *ruleID
			}
			if err := insertLog(ctx, tx, &model.ProcessingLog{
				EmailID:          &d.EmailID,
				Level:            "info",
				Message:          "email classified",
				Details:          details,
				Component:        "classifier",
				ProcessingTimeMs: &ms,
			}); err != nil {
				return err
			}

			_, err = outbox.Insert(ctx, tx, aggregateEmail, &d.EmailID, mq.RoutingEmailClassified, mqcontract.EmailClassifiedPayload{
				EmailID:      d.EmailID,
				UserID:       d.UserID,
				Category:     string(d.Verdict.Category),
				Confidence:   d.Verdict.Confidence,
				Source:       d.Source(),
				TargetFolder: d.TargetFolder(),
				AutoDelete:   d.AutoDelete(),
				RuleID:       ruleID,
				TraceID:      traceID,
			})
			return err
		})
	})
}

// MarkError is the processing -> error transition.
func (r *EmailRepository) MarkError(ctx context.Context, emailID int64, reason string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            UPDATE emails
            SET status = 'error',
                classification_reason = $2,
                processing_started_at = NULL,
                processing_token = NULL,
                updated_at = NOW()
            WHERE id = $1 AND status = 'processing'
        `, emailID, reason)
		if err != nil {
			return fmt.Errorf("failed to mark email %d as error: %w", emailID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return insertLog(ctx, tx, &model.ProcessingLog{
			EmailID:   &emailID,
			Level:     "error",
			Message:   "classification failed",
			Details:   map[string]any{"reason": reason},
			Component: "classifier",
		})
	})
}

// ApplyAction carries out the rule-driven intent of a classified email:
// soft delete, or archive into folder. It returns the new status and whether
// anything changed.
func (r *EmailRepository) ApplyAction(ctx context.Context, emailID int64, folder *string, autoDelete bool) (model.Status, bool, error) {
	var (
		status model.Status
		query  string
		args   []any
	)
	switch {
	case autoDelete:
		status = model.StatusDeleted
		query = `
            UPDATE emails
            SET status = 'deleted', is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
            WHERE id = $1 AND status = 'classified'
        `
		args = []any{emailID}
	case folder != nil && *folder != "":
		status = model.StatusArchived
		query = `
            UPDATE emails
            SET status = 'archived', archived_folder = $2, updated_at = NOW()
            WHERE id = $1 AND status = 'classified'
        `
		args = []any{emailID, *folder}
	default:
		return model.StatusClassified, false, nil
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return "", false, fmt.Errorf("failed to apply action to email %d: %w", emailID, err)
	}
	return status, tag.RowsAffected() > 0, nil
}

// PurgeQuarantine hard-deletes emails soft-deleted more than olderThan ago.
func (r *EmailRepository) PurgeQuarantine(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        DELETE FROM emails
        WHERE is_deleted = TRUE
          AND deleted_at < NOW() - make_interval(secs => $1)
    `, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to purge quarantine: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindStale lists emails whose processing attempt started more than
// staleAfter ago.
func (r *EmailRepository) FindStale(ctx context.Context, staleAfter time.Duration, limit int) ([]model.EmailRef, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, user_id
        FROM emails
        WHERE status = 'processing'
          AND (processing_started_at IS NULL
               OR processing_started_at < NOW() - make_interval(secs => $1))
        ORDER BY processing_started_at NULLS FIRST, id
        LIMIT $2
    `, staleAfter.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale emails: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EmailRef, error) {
		var ref model.EmailRef
		err := row.Scan(&ref.ID, &ref.UserID)
		return ref, err
	})
}

// ResetForReclassify puts up to limit classified emails of userID back to
// pending and queues one email.classify event per email in the same
// transaction. category narrows the selection when set.
func (r *EmailRepository) ResetForReclassify(ctx context.Context, userID int64, category *model.Category, limit int, payload func(model.EmailRef) any) (int, error) {
	var filter *string
	if category != nil {
		s := string(*category)
		filter = &s
	}

	var n int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
            UPDATE emails
            SET status = 'pending',
                processing_started_at = NULL,
                processing_token = NULL,
                updated_at = NOW()
            WHERE id IN (
                SELECT id FROM emails
                WHERE user_id = $1
                  AND status = 'classified'
                  AND is_deleted = FALSE
                  AND ($2::text IS NULL OR category = $2)
                ORDER BY id
                LIMIT $3
                FOR UPDATE SKIP LOCKED
            )
            RETURNING id, user_id
        `, userID, filter, limit)
		if err != nil {
			return fmt.Errorf("failed to reset emails: %w", err)
		}
		refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EmailRef, error) {
			var ref model.EmailRef
			err := row.Scan(&ref.ID, &ref.UserID)
			return ref, err
		})
		if err != nil {
			return fmt.Errorf("failed to reset emails: %w", err)
		}

		for _, ref := range refs {
			id := ref.ID
			if _, err := outbox.Insert(ctx, tx, aggregateEmail, &id, mq.RoutingEmailClassify, payload(ref)); err != nil {
				return err
			}
		}
		n = len(refs)
		return nil
	})
	return n, err
}

// CategoryStats aggregates classified emails per category. userID nil means
// all users.
func (r *EmailRepository) CategoryStats(ctx context.Context, userID *int64) ([]model.CategoryStat, error) {
	rows, err := r.db.Query(ctx, `
        SELECT category,
               COUNT(*),
               COALESCE(AVG(classification_confidence), 0)::float8,
               COALESCE(AVG(processing_time_ms), 0)::float8
        FROM emails
        WHERE status IN ('classified', 'archived')
          AND ($1::bigint IS NULL OR user_id = $1)
        GROUP BY category
        ORDER BY COUNT(*) DESC, category
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query category stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CategoryStat, error) {
		var (
			st       model.CategoryStat
			category string
		)
		err := row.Scan(&category, &st.Count, &st.AvgConfidence, &st.AvgProcessingTime)
		st.Category = model.Category(category)
		return st, err
	})
}

// PerformanceStats averages processing time and confidence over processed
// emails and counts those in error.
func (r *EmailRepository) PerformanceStats(ctx context.Context, userID *int64) (*model.PerformanceStats, error) {
	var st model.PerformanceStats
	err := r.db.QueryRow(ctx, `
        SELECT COALESCE(AVG(processing_time_ms), 0)::float8,
               COUNT(*) FILTER (WHERE status = 'error'),
               COALESCE(AVG(classification_confidence), 0)::float8
        FROM emails
        WHERE $1::bigint IS NULL OR user_id = $1
    `, userID).Scan(&st.AvgProcessingTimeMs, &st.ErrorCount, &st.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance stats: %w", err)
	}
	st.AvgProcessingTimeMs = math.Round(st.AvgProcessingTimeMs*100) / 100
	st.AvgProcessingTimeSeconds = math.Round(st.AvgProcessingTimeMs/10) / 100
	st.AvgConfidence = math.Round(st.AvgConfidence*100) / 100
	return &st, nil
}

// Timeline counts emails per day of created_at over the last days days,
// oldest first. Days without mail are absent.
func (r *EmailRepository) Timeline(ctx context.Context, userID *int64, days int) ([]model.TimelinePoint, error) {
	rows, err := r.db.Query(ctx, `
        SELECT to_char(created_at::date, 'YYYY-MM-DD'), COUNT(*)
        FROM emails
        WHERE created_at >= NOW() - make_interval(days => $2)
          AND ($1::bigint IS NULL OR user_id = $1)
        GROUP BY created_at::date
        ORDER BY created_at::date
    `, userID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query email timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TimelinePoint, error) {
		var p model.TimelinePoint
		err := row.Scan(&p.Date, &p.Count)
		return p, err
	})
}

// maintainedTables 是 VACUUM ANALYZE 的白名单，表名不能走参数绑定
var maintainedTables = map[string]bool{
	"emails":               true,
	"email_attachments":    true,
	"classification_rules": true,
	"processing_logs":      true,
	"outbox_events":        true,
}

// Optimize runs VACUUM ANALYZE on table. VACUUM cannot run inside a
// transaction, so it goes straight to the pool.
func (r *EmailRepository) Optimize(ctx context.Context, table string) error {
	if !maintainedTables[table] {
		return fmt.Errorf("optimize: unknown table %q", table)
	}
	if _, err := r.db.Exec(ctx, "VACUUM ANALYZE "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("failed to vacuum %s: %w", table, err)
	}
	return nil
}

package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
)

// PublishFunc sends one audit message and returns the broker message id.
type PublishFunc func(ctx context.Context, topic string, msg config.AuditMessage) (string, error)

// AuditPublisher drains unpublished audit_logs rows to Pub/Sub. Rows are
// claimed with SKIP LOCKED so several publishers can run side by side.
type AuditPublisher struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Publish     PublishFunc
	Topic       string
	PublisherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewAuditPublisher(db *gorm.DB, logger *logrus.Logger, topic string) *AuditPublisher {
	return &AuditPublisher{
		DB:             db,
		Logger:         logger,
		Publish:        config.PublishAuditWithResult,
		Topic:          topic,
		PublisherID:    uuid.NewString(),
		BatchSize:      50,
		PollInterval:   time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (p *AuditPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.PublishOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.PollInterval):
		}
	}
}

// PublishOnce claims one batch and publishes it. Returns how many rows were sent.
func (p *AuditPublisher) PublishOnce(ctx context.Context) int {
	if p.DB == nil {
		return 0
	}
	now := time.Now().UTC()
	claimed, err := p.claim(ctx, now)
	if err != nil {
		config.LogError(p.Logger, "AuditPublisher", "PublishOnce", "claim batch", nil, err)
		return 0
	}

	sent := 0
	for _, row := range claimed {
		if row.PublishStatus == models.AuditPublishDead {
			continue
		}
		msgID, pubErr := p.Publish(ctx, p.Topic, row.ToAuditMessage())
		if pubErr != nil {
			p.markFailed(ctx, row.ID, pubErr, row.PublishAttempts)
			continue
		}
		p.markSent(ctx, row.ID, msgID)
		sent++
	}
	return sent
}

func (p *AuditPublisher) claim(ctx context.Context, now time.Time) ([]models.AuditLog, error) {
	staleBefore := now.Add(-p.LockTimeout)
	var claimed []models.AuditLog
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// ready PENDING/FAILED rows, or PROCESSING rows whose publisher died
		q := tx.
			Where(`(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
				OR (publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?)`,
				[]string{models.AuditPublishPending, models.AuditPublishFailed}, now,
				models.AuditPublishProcessing, staleBefore).
			Order("id ASC").
			Limit(p.BatchSize)
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}

		for i := range claimed {
			if p.MaxAttempts > 0 && claimed[i].PublishAttempts >= p.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", p.MaxAttempts)
				claimed[i].PublishStatus = models.AuditPublishDead
				if err := tx.Model(&models.AuditLog{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":  models.AuditPublishDead,
					"last_error":      &msg,
					"next_attempt_at": nil,
					"locked_at":       nil,
					"locked_by":       nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.AuditPublishProcessing
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.AuditLog{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":   models.AuditPublishProcessing,
				"locked_at":        &now,
				"locked_by":        &p.PublisherID,
				"publish_attempts": gorm.Expr("publish_attempts + 1"),
				"next_attempt_at":  nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

func (p *AuditPublisher) markSent(ctx context.Context, id int, msgID string) {
	now := time.Now().UTC()
	err := p.DB.WithContext(ctx).Model(&models.AuditLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     models.AuditPublishSent,
			"published_at":       &now,
			"pub_sub_message_id": &msgID,
			"last_error":         nil,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	if err != nil {
		config.LogError(p.Logger, "AuditPublisher", "markSent", "update audit log", id, err)
	}
}

func (p *AuditPublisher) markFailed(ctx context.Context, id int, pubErr error, attempt int) {
	now := time.Now().UTC()
	msg := pubErr.Error()
	db := p.DB.WithContext(ctx)

	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		_ = db.Model(&models.AuditLog{}).Where("id = ?", id).Updates(map[string]interface{}{
			"publish_status":  models.AuditPublishDead,
			"last_error":      &msg,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
		p.Logger.WithFields(logrus.Fields{
			"module":       "AuditPublisher",
			"audit_log_id": id,
			"attempt":      attempt,
		}).Error("audit publish moved to DEAD after max attempts: " + msg)
		return
	}

	next := now.Add(publishBackoff(p.InitialBackoff, attempt))
	_ = db.Model(&models.AuditLog{}).Where("id = ?", id).Updates(map[string]interface{}{
		"publish_status":  models.AuditPublishFailed,
		"last_error":      &msg,
		"next_attempt_at": &next,
		"locked_at":       nil,
		"locked_by":       nil,
	}).Error
	p.Logger.WithFields(logrus.Fields{
		"module":          "AuditPublisher",
		"audit_log_id":    id,
		"attempt":         attempt,
		"next_attempt_at": next.Format(time.RFC3339Nano),
	}).Warn("audit publish failed: " + msg)
}

// publishBackoff doubles per attempt, capped at ten minutes.
func publishBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}

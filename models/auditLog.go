package models

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// AuditLog is one row of the audit trail. Old/new values are JSON snapshots.
// Publish* columns are owned by the audit publisher.
type AuditLog struct {
	ID              int         `gorm:"primary_key" json:"id"`
	Action          AuditAction `gorm:"size:10;not null;index" json:"action"`
	EntityType      string      `gorm:"size:20;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityId        int         `gorm:"not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	OldValues       *string     `gorm:"type:text" json:"old_values"`
	NewValues       *string     `gorm:"type:text" json:"new_values"`
	UserId          int         `gorm:"default:0" json:"user_id"`
	Username        string      `gorm:"size:100" json:"username"`
	CorrelationId   string      `gorm:"size:64" json:"correlation_id"`
	PublishStatus   string      `gorm:"size:12;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts int         `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt   *time.Time  `json:"next_attempt_at"`
	LockedAt        *time.Time  `json:"-"`
	LockedBy        *string     `gorm:"size:64" json:"-"`
	PubSubMessageId *string     `gorm:"size:128" json:"pub_sub_message_id"`
	PublishedAt     *time.Time  `json:"published_at"`
	LastError       *string     `gorm:"type:text" json:"last_error"`
	CreatedAt       time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
}

const (
	AuditPublishPending    = "PENDING"
	AuditPublishProcessing = "PROCESSING"
	AuditPublishSent       = "SENT"
	AuditPublishFailed     = "FAILED"
	AuditPublishDead       = "DEAD"
)

// ToAuditMessage converts the row into the Pub/Sub payload.
func (a AuditLog) ToAuditMessage() config.AuditMessage {
	msg := config.AuditMessage{
		ID:            a.ID,
		Action:        string(a.Action),
		EntityType:    a.EntityType,
		EntityId:      a.EntityId,
		CorrelationId: a.CorrelationId,
		CreatedAt:     a.CreatedAt,
	}
	if a.OldValues != nil {
		msg.OldValues = json.RawMessage(*a.OldValues)
	}
	if a.NewValues != nil {
		msg.NewValues = json.RawMessage(*a.NewValues)
	}
	return msg
}

type AuditEvent struct {
	Action     AuditAction
	EntityType string
	EntityId   int
	OldValues  any
	NewValues  any
}

// AuditSink receives audit events. Record must not block the caller's unit
// of work and never reports failure to it.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditWriter persists a prepared row.
type AuditWriter interface {
	WriteAudit(ctx context.Context, row *AuditLog) error
}

// newAuditLog snapshots the event values and request identity from ctx.
func newAuditLog(ctx context.Context, event AuditEvent) (*AuditLog, error) {
	row := &AuditLog{
		Action:        event.Action,
		EntityType:    event.EntityType,
		EntityId:      event.EntityId,
		PublishStatus: AuditPublishPending,
	}
	if ctx != nil {
		row.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
		row.UserId, _ = utils.GetUserIdFromContext(ctx)
		row.Username, _ = utils.GetUsernameFromContext(ctx)
	}
	oldRaw, err := utils.MarshalToRaw(event.OldValues)
	if err != nil {
		return nil, err
	}
	newRaw, err := utils.MarshalToRaw(event.NewValues)
	if err != nil {
		return nil, err
	}
	if oldRaw != nil {
		s := string(oldRaw)
		row.OldValues = &s
	}
	if newRaw != nil {
		s := string(newRaw)
		row.NewValues = &s
	}
	return row, nil
}

// DBAuditSink writes rows into audit_logs. A nil DB means config.GetDB().
type DBAuditSink struct {
	DB *gorm.DB
}

func (s DBAuditSink) WriteAudit(ctx context.Context, row *AuditLog) error {
	db := s.DB
	if db == nil {
		db = config.GetDB()
	}
	return db.WithContext(ctx).Create(row).Error
}

// AsyncAuditSink writes each event on its own goroutine with a bounded
// timeout. Failures are logged only.
type AsyncAuditSink struct {
	Writer  AuditWriter
	Logger  *logrus.Logger
	Timeout time.Duration

	wg sync.WaitGroup
}

func NewAsyncAuditSink(writer AuditWriter) *AsyncAuditSink {
	return &AsyncAuditSink{
		Writer:  writer,
		Logger:  config.GetLogger(),
		Timeout: 10 * time.Second,
	}
}

func (s *AsyncAuditSink) Record(ctx context.Context, event AuditEvent) {
	row, err := newAuditLog(ctx, event)
	if err != nil {
		config.LogError(s.Logger, "AuditLog", "Record", "marshal audit values", event.EntityType, err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.Logger.WithFields(logrus.Fields{
					"module":   "AuditLog",
					"funcName": "Record",
					"panic":    r,
				}).Error("audit writer panicked")
			}
		}()

		wctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()
		if err := s.Writer.WriteAudit(wctx, row); err != nil {
			config.LogError(s.Logger, "AuditLog", "Record", "write audit log", map[string]any{
				"action":      row.Action,
				"entity_type": row.EntityType,
				"entity_id":   row.EntityId,
			}, err)
		}
	}()
}

// Wait blocks until every in-flight write finished. Used on shutdown and in tests.
func (s *AsyncAuditSink) Wait() {
	s.wg.Wait()
}

var (
	auditSinkMu      sync.RWMutex
	defaultAuditSink AuditSink = NewAsyncAuditSink(DBAuditSink{})
)

// SetAuditSink replaces the package-wide sink and returns the previous one.
func SetAuditSink(sink AuditSink) AuditSink {
	auditSinkMu.Lock()
	defer auditSinkMu.Unlock()
	prev := defaultAuditSink
	defaultAuditSink = sink
	return prev
}

func currentAuditSink() AuditSink {
	auditSinkMu.RLock()
	defer auditSinkMu.RUnlock()
	return defaultAuditSink
}

// RecordAudit hands event to the package-wide sink.
func RecordAudit(ctx context.Context, event AuditEvent) {
	if sink := currentAuditSink(); sink != nil {
		sink.Record(ctx, event)
	}
}

// WaitAudit drains the package-wide sink when it is asynchronous.
func WaitAudit() {
	if s, ok := currentAuditSink().(interface{ Wait() }); ok {
		s.Wait()
	}
}

type AuditLogFilter struct {
	EntityType string
	EntityId   int
	Action     AuditAction
	Limit      int
	Offset     int
}

func ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]AuditLog, error) {
	dbCtx := config.GetDB().WithContext(ctx).Model(&AuditLog{})
	if filter.EntityType != "" {
		dbCtx = dbCtx.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityId > 0 {
		dbCtx = dbCtx.Where("entity_id = ?", filter.EntityId)
	}
	if filter.Action != "" {
		dbCtx = dbCtx.Where("action = ?", filter.Action)
	}
	var results []AuditLog
	err := dbCtx.Order("id DESC").
		Limit(normalizeLimit(filter.Limit)).
		Offset(max(filter.Offset, 0)).
		Find(&results).Error
	if err != nil {
		return nil, internalError("list audit logs", err)
	}
	return results, nil
}

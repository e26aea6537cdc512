package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
)

type fakeBroker struct {
	mu      sync.Mutex
	failFor map[int]bool
	sent    []config.AuditMessage
	calls   int
}

func (b *fakeBroker) publish(ctx context.Context, topic string, msg config.AuditMessage) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failFor[msg.EntityId] {
		return "", errors.New("pubsub unavailable")
	}
	b.sent = append(b.sent, msg)
	return fmt.Sprintf("msg-%d", msg.ID), nil
}

func openPublisherDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))
	return db
}

func insertAudit(t *testing.T, db *gorm.DB, entityId int, status string) *models.AuditLog {
	t.Helper()
	values := fmt.Sprintf(`{"invoice_number":"INV-202403-%05d"}`, entityId)
	row := &models.AuditLog{
		Action:        models.AuditActionCreate,
		EntityType:    models.EntityInvoice,
		EntityId:      entityId,
		NewValues:     &values,
		PublishStatus: status,
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func newTestPublisher(db *gorm.DB, broker *fakeBroker) *AuditPublisher {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &AuditPublisher{
		DB:             db,
		Logger:         log,
		Publish:        broker.publish,
		Topic:          "audit-test",
		PublisherID:    "publisher-1",
		BatchSize:      10,
		PollInterval:   time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    2,
		InitialBackoff: time.Hour,
	}
}

func reload(t *testing.T, db *gorm.DB, id int) models.AuditLog {
	t.Helper()
	var row models.AuditLog
	require.NoError(t, db.First(&row, id).Error)
	return row
}

func TestAuditPublisher_PublishesAndBacksOff(t *testing.T) {
	db := openPublisherDB(t)
	first := insertAudit(t, db, 1, models.AuditPublishPending)
	failing := insertAudit(t, db, 2, models.AuditPublishPending)
	third := insertAudit(t, db, 3, models.AuditPublishPending)

	broker := &fakeBroker{failFor: map[int]bool{2: true}}
	p := newTestPublisher(db, broker)

	assert.Equal(t, 2, p.PublishOnce(context.Background()))

	sent := reload(t, db, first.ID)
	assert.Equal(t, models.AuditPublishSent, sent.PublishStatus)
	require.NotNil(t, sent.PubSubMessageId)
	assert.Equal(t, fmt.Sprintf("msg-%d", first.ID), *sent.PubSubMessageId)
	assert.NotNil(t, sent.PublishedAt)
	assert.Nil(t, sent.LockedBy)
	assert.Equal(t, models.AuditPublishSent, reload(t, db, third.ID).PublishStatus)

	failed := reload(t, db, failing.ID)
	assert.Equal(t, models.AuditPublishFailed, failed.PublishStatus)
	assert.Equal(t, 1, failed.PublishAttempts)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "pubsub unavailable", *failed.LastError)
	require.NotNil(t, failed.NextAttemptAt)

	require.Len(t, broker.sent, 2)
	assert.JSONEq(t, `{"invoice_number":"INV-202403-00001"}`, string(broker.sent[0].NewValues))
	assert.Equal(t, string(models.AuditActionCreate), broker.sent[0].Action)

	// still backing off: nothing is claimed
	calls := broker.calls
	assert.Equal(t, 0, p.PublishOnce(context.Background()))
	assert.Equal(t, calls, broker.calls)

	// due again; the second failure exhausts MaxAttempts
	require.NoError(t, db.Model(&models.AuditLog{}).Where("id = ?", failing.ID).
		Update("next_attempt_at", time.Now().UTC().Add(-time.Minute)).Error)
	assert.Equal(t, 0, p.PublishOnce(context.Background()))

	dead := reload(t, db, failing.ID)
	assert.Equal(t, models.AuditPublishDead, dead.PublishStatus)
	assert.Equal(t, 2, dead.PublishAttempts)
}

func TestAuditPublisher_ReclaimsStaleProcessing(t *testing.T) {
	db := openPublisherDB(t)
	stale := insertAudit(t, db, 7, models.AuditPublishProcessing)
	fresh := insertAudit(t, db, 8, models.AuditPublishProcessing)

	other := "publisher-crashed"
	require.NoError(t, db.Model(&models.AuditLog{}).Where("id = ?", stale.ID).Updates(map[string]interface{}{
		"locked_at": time.Now().UTC().Add(-time.Hour),
		"locked_by": &other,
	}).Error)
	require.NoError(t, db.Model(&models.AuditLog{}).Where("id = ?", fresh.ID).Updates(map[string]interface{}{
		"locked_at": time.Now().UTC(),
		"locked_by": &other,
	}).Error)

	broker := &fakeBroker{}
	p := newTestPublisher(db, broker)
	assert.Equal(t, 1, p.PublishOnce(context.Background()))

	assert.Equal(t, models.AuditPublishSent, reload(t, db, stale.ID).PublishStatus)
	assert.Equal(t, models.AuditPublishProcessing, reload(t, db, fresh.ID).PublishStatus)
}

func TestAuditPublisher_RunStopsOnCancel(t *testing.T) {
	db := openPublisherDB(t)
	row := insertAudit(t, db, 1, models.AuditPublishPending)
	broker := &fakeBroker{}
	p := newTestPublisher(db, broker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		var status string
		db.Model(&models.AuditLog{}).Where("id = ?", row.ID).Select("publish_status").Scan(&status)
		return status == models.AuditPublishSent
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPublishBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, publishBackoff(5*time.Second, 1))
	assert.Equal(t, 20*time.Second, publishBackoff(5*time.Second, 3))
	assert.Equal(t, 10*time.Minute, publishBackoff(5*time.Second, 20))
}

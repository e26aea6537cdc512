package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// openTestDB opens a private in-memory database and installs it as the
// process database for the duration of the test.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := config.NewGormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open("file::memory:"), cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))

	prevDB := config.GetDB()
	config.SetDB(db)
	prevSink := SetAuditSink(NewAsyncAuditSink(DBAuditSink{DB: db}))
	t.Cleanup(func() {
		WaitAudit()
		SetAuditSink(prevSink)
		config.SetDB(prevDB)
		_ = sqlDB.Close()
	})
	return db
}

func seedMasterData(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&Company{
		ID:               CompanyId,
		CompanyName:      "Acme Traders",
		CompanyAddress:   "1 Anna Salai, Chennai",
		CompanyState:     "Tamil Nadu",
		CompanyGstNumber: "33ABCDE1234F1Z5",
		BankName:         "State Bank",
	}).Error)
	require.NoError(t, db.Create(&[]Client{
		{ID: 1, ClientName: "Local Buyer", ClientAddress: "Madurai", ClientState: "Tamil Nadu", ClientGstNumber: "33AAAAA0000A1Z5", IsActive: utils.NewTrue()},
		{ID: 2, ClientName: "Mumbai Buyer", ClientAddress: "Mumbai", ClientState: "Maharashtra", ClientGstNumber: "27AAAAA0000A1Z5", IsActive: utils.NewTrue()},
	}).Error)
	l, m := laptop(), mouse()
	l.IsActive, m.IsActive = utils.NewTrue(), utils.NewTrue()
	require.NoError(t, db.Create(&[]Item{l, m}).Error)
}

func newDBCoordinator(db *gorm.DB) *InvoiceCoordinator {
	c := NewInvoiceCoordinator(db)
	c.Logger = quietLogger()
	c.RetryDelay = time.Millisecond
	return c
}

func counterValue(t *testing.T, db *gorm.DB, period string) int64 {
	t.Helper()
	var seq InvoiceSequence
	err := db.Where("period = ?", period).Take(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0
	}
	require.NoError(t, err)
	return seq.LastValue
}

func TestAllocateInvoiceNumber_PerPeriod(t *testing.T) {
	db := openTestDB(t)

	for i := 1; i <= 3; i++ {
		seq, number, err := AllocateInvoiceNumber(db, "202403")
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
		assert.Equal(t, fmt.Sprintf("INV-202403-%05d", i), number)
	}
	seq, number, err := AllocateInvoiceNumber(db, "202404")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, "INV-202404-00001", number)
}

func TestCreateInvoice_PersistsHeaderAndLines(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)

	input := validInput()
	input.InvoiceItems = []NewInvoiceLine{{ItemId: 1, Quantity: d("2")}, {ItemId: 2, Quantity: d("5")}}
	created, err := c.CreateInvoice(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "INV-202403-00001", created.InvoiceNumber)

	detail, err := GetInvoice(context.Background(), created.InvoiceId)
	require.NoError(t, err)
	inv := detail.Invoice
	assert.Equal(t, InvoiceStatusFinalized, inv.Status)
	assert.Equal(t, GstTypeIntraState, inv.GstType)
	assert.Equal(t, "2024-03-15", inv.InvoiceDate.String())
	assert.Equal(t, "Acme Traders", inv.CompanyName)
	assert.Equal(t, "33", inv.CompanyStateCode)
	assertMoney(t, "subtotal", "110000", inv.Subtotal)
	assertMoney(t, "total_cgst", "9600", inv.TotalCgst)
	assertMoney(t, "grand_total", "129200", inv.GrandTotal)

	require.Len(t, detail.Items, 2)
	assert.Equal(t, 1, detail.Items[0].LineNo)
	assert.Equal(t, "Laptop", detail.Items[0].ItemName)
	assert.Equal(t, 2, detail.Items[1].LineNo)
	assertMoney(t, "line 2 cgst", "600", detail.Items[1].CgstAmount)

	assert.Equal(t, int64(1), counterValue(t, db, "202403"))
}

func TestCreateInvoice_LinesAreSnapshots(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)

	created, err := c.CreateInvoice(context.Background(), validInput())
	require.NoError(t, err)

	require.NoError(t, db.Model(&Item{}).Where("id = ?", 1).
		Updates(map[string]any{"name": "Renamed", "unit_price": d("1")}).Error)
	require.NoError(t, db.Model(&Client{}).Where("id = ?", 1).
		Update("client_name", "Someone Else").Error)

	detail, err := GetInvoice(context.Background(), created.InvoiceId)
	require.NoError(t, err)
	assert.Equal(t, "Local Buyer", detail.Invoice.ClientName)
	assert.Equal(t, "Laptop", detail.Items[0].ItemName)
	assertMoney(t, "unit_price", "50000", detail.Items[0].UnitPrice)
}

func TestCreateInvoice_ValidationConsumesNoNumber(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)

	input := validInput()
	input.InvoiceItems[0].Quantity = d("0")
	_, err := c.CreateInvoice(context.Background(), input)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	var count int64
	require.NoError(t, db.Model(&Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, counterValue(t, db, "202403"))
}

func TestCreateInvoice_ExhaustedPeriodIsConflict(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	require.NoError(t, db.Create(&InvoiceSequence{Period: "202403", LastValue: 99998}).Error)

	seq, number, err := AllocateInvoiceNumber(db, "202403")
	require.NoError(t, err)
	assert.Equal(t, int64(99999), seq)
	assert.Equal(t, "INV-202403-99999", number)

	_, _, err = AllocateInvoiceNumber(db, "202403")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	c := newDBCoordinator(db)
	_, err = c.CreateInvoice(context.Background(), validInput())
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Error(), "exhausted")

	// the failed transaction rolled its increment back
	var count int64
	require.NoError(t, db.Model(&Invoice{}).Count(&count).Error)
	assert.Zero(t, count)

	// another period is unaffected
	input := validInput()
	input.InvoiceDate = NewDate(2024, time.April, 1)
	created, err := c.CreateInvoice(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "INV-202404-00001", created.InvoiceNumber)
}

func TestCreateInvoice_ConcurrentNumbersAreUnique(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := c.CreateInvoice(context.Background(), validInput())
			if err != nil {
				errs <- err
				return
			}
			results <- created.InvoiceNumber
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("create failed: %v", err)
	}
	seen := map[string]bool{}
	for n := range results {
		if seen[n] {
			t.Fatalf("duplicate invoice number %s", n)
		}
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	for i := 1; i <= workers; i++ {
		assert.True(t, seen[FormatInvoiceNumber("202403", int64(i))], "missing sequence %d", i)
	}
	assert.Equal(t, int64(workers), counterValue(t, db, "202403"))
}

// A counter that fell behind the stored invoices keeps hitting the unique
// index; every attempt rolls back, so the counter never moves.
func TestCreateInvoice_LaggingCounterIsConflictUntilRepaired(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)

	require.NoError(t, db.Create(&Invoice{
		InvoiceNumber: "INV-202403-00001",
		BillingPeriod: "202403",
		SequenceNo:    1,
		InvoiceDate:   NewDate(2024, time.March, 1),
		ClientId:      1,
		CompanyName:   "Acme Traders",
		CompanyState:  "Tamil Nadu",
		ClientName:    "Local Buyer",
		ClientState:   "Tamil Nadu",
		GstType:       GstTypeIntraState,
		Status:        InvoiceStatusFinalized,
	}).Error)

	_, err := c.CreateInvoice(context.Background(), validInput())
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, counterValue(t, db, "202403"))

	drifts, err := CheckInvoiceSequences(context.Background(), db, false)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.False(t, drifts[0].Repaired)
	assert.Equal(t, int64(1), drifts[0].MaxIssued)

	drifts, err = CheckInvoiceSequences(context.Background(), db, true)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.True(t, drifts[0].Repaired)

	created, err := c.CreateInvoice(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "INV-202403-00002", created.InvoiceNumber)

	drifts, err = CheckInvoiceSequences(context.Background(), db, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestTransition_CancelOnce(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)

	created, err := c.CreateInvoice(context.Background(), validInput())
	require.NoError(t, err)

	require.NoError(t, c.CancelInvoice(context.Background(), created.InvoiceId))
	detail, err := GetInvoice(context.Background(), created.InvoiceId)
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusCancelled, detail.Invoice.Status)
	assert.NotNil(t, detail.Invoice.CancelledAt)
	assert.Equal(t, created.InvoiceNumber, detail.Invoice.InvoiceNumber)

	err = c.CancelInvoice(context.Background(), created.InvoiceId)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "invoice is already Cancelled", ce.Message)

	var nf *NotFoundError
	require.ErrorAs(t, c.CancelInvoice(context.Background(), created.InvoiceId+100), &nf)

	// the cancelled number is not handed out again
	next, err := c.CreateInvoice(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "INV-202403-00002", next.InvoiceNumber)
}

func TestGetInvoice_RepeatedReadsAreIdentical(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)
	ctx := context.Background()

	created, err := c.CreateInvoice(ctx, validInput())
	require.NoError(t, err)

	read := func() string {
		detail, err := GetInvoice(ctx, created.InvoiceId)
		require.NoError(t, err)
		b, err := json.Marshal(detail)
		require.NoError(t, err)
		return string(b)
	}

	first := read()
	assert.Equal(t, first, read())
	assert.Contains(t, first, `"status":"Finalized"`)

	require.NoError(t, c.CancelInvoice(ctx, created.InvoiceId))
	cancelled := read()
	assert.Equal(t, cancelled, read())
	assert.NotEqual(t, first, cancelled)
}

func TestTransition_RejectsIllegalMove(t *testing.T) {
	db := openTestDB(t)
	err := GormInvoiceStore{DB: db}.Transition(context.Background(), 1, InvoiceStatusCancelled, InvoiceStatusFinalized)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
}

func TestGetInvoice_NotFound(t *testing.T) {
	openTestDB(t)
	_, err := GetInvoice(context.Background(), 404)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestListInvoicesAndDashboard(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)
	ctx := context.Background()

	local, err := c.CreateInvoice(ctx, validInput())
	require.NoError(t, err)

	remote := validInput()
	remote.ClientId = 2
	remote.InvoiceDate = NewDate(2024, time.April, 2)
	_, err = c.CreateInvoice(ctx, remote)
	require.NoError(t, err)

	cancelled, err := c.CreateInvoice(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, c.CancelInvoice(ctx, cancelled.InvoiceId))

	all, err := ListInvoices(ctx, InvoiceFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	require.Len(t, all.Invoices, 3)
	assert.Equal(t, "INV-202404-00001", all.Invoices[0].InvoiceNumber)

	finalized, err := ListInvoices(ctx, InvoiceFilter{Status: InvoiceStatusFinalized, ClientId: 1})
	require.NoError(t, err)
	require.Len(t, finalized.Invoices, 1)
	assert.Equal(t, local.InvoiceNumber, finalized.Invoices[0].InvoiceNumber)

	from := NewDate(2024, time.April, 1)
	april, err := ListInvoices(ctx, InvoiceFilter{FromDate: &from})
	require.NoError(t, err)
	assert.Equal(t, int64(1), april.Total)

	byNumber, err := ListInvoices(ctx, InvoiceFilter{Search: "202404"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byNumber.Total)

	summary, err := GetDashboard(ctx, time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.AllTime.InvoiceCount)
	assertMoney(t, "all time grand total", "236000", summary.AllTime.GrandTotal)
	assert.Equal(t, int64(1), summary.CurrentMonth.InvoiceCount)
	assertMoney(t, "month tax", "18000", summary.CurrentMonth.TotalTax)
	assert.Equal(t, int64(1), summary.CancelledCount)
	assert.Equal(t, int64(2), summary.ClientCount)
	assert.Equal(t, int64(2), summary.ItemCount)
	assert.Len(t, summary.RecentInvoices, 2)
}

func TestAuditTrailIsWritten(t *testing.T) {
	db := openTestDB(t)
	seedMasterData(t, db)
	c := newDBCoordinator(db)
	ctx := context.Background()

	created, err := c.CreateInvoice(ctx, validInput())
	require.NoError(t, err)
	WaitAudit()
	require.NoError(t, c.CancelInvoice(ctx, created.InvoiceId))
	WaitAudit()

	logs, err := ListAuditLogs(ctx, AuditLogFilter{EntityType: EntityInvoice, EntityId: created.InvoiceId})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, AuditActionCancel, logs[0].Action)
	assert.Equal(t, AuditActionCreate, logs[1].Action)
	assert.Equal(t, AuditPublishPending, logs[0].PublishStatus)
	require.NotNil(t, logs[1].NewValues)
	assert.Contains(t, *logs[1].NewValues, created.InvoiceNumber)
}

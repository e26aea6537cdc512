package reports

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
)

func openReportDB(t *testing.T) *gorm.DB {
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

func insertInvoice(t *testing.T, db *gorm.DB, seq int64, date models.Date, status models.InvoiceStatus, hsn string, taxable int64) {
	t.Helper()
	period := models.BillingPeriod(date.Time())
	tax := decimal.NewFromInt(taxable).Mul(decimal.NewFromInt(18)).Shift(-2)
	inv := models.Invoice{
		InvoiceNumber:   models.FormatInvoiceNumber(period, seq),
		BillingPeriod:   period,
		SequenceNo:      seq,
		InvoiceDate:     date,
		ClientId:        1,
		CompanyName:     "Acme Traders",
		CompanyState:    "Tamil Nadu",
		ClientName:      "Mumbai Buyer",
		ClientState:     "Maharashtra",
		ClientStateCode: "27",
		ClientGstNumber: "27AAAAA0000A1Z5",
		Subtotal:        decimal.NewFromInt(taxable),
		TotalIgst:       tax,
		TotalTax:        tax,
		GrandTotal:      decimal.NewFromInt(taxable).Add(tax),
		GstType:         models.GstTypeInterState,
		Status:          status,
		Lines: []models.InvoiceLine{{
			LineNo:       1,
			ItemId:       1,
			ItemName:     "Widget",
			HsnCode:      hsn,
			Quantity:     decimal.NewFromInt(1),
			UnitPrice:    decimal.NewFromInt(taxable),
			IgstRate:     decimal.NewFromInt(18),
			TaxableValue: decimal.NewFromInt(taxable),
			IgstAmount:   tax,
			TotalAmount:  decimal.NewFromInt(taxable).Add(tax),
			GstType:      models.GstTypeInterState,
		}},
	}
	require.NoError(t, db.Create(&inv).Error)
}

func TestGstRegister(t *testing.T) {
	db := openReportDB(t)
	insertInvoice(t, db, 1, models.NewDate(2024, time.March, 1), models.InvoiceStatusFinalized, "8471", 1000)
	insertInvoice(t, db, 2, models.NewDate(2024, time.March, 5), models.InvoiceStatusCancelled, "8471", 5000)
	insertInvoice(t, db, 3, models.NewDate(2024, time.March, 9), models.InvoiceStatusFinalized, "8471", 2000)
	insertInvoice(t, db, 4, models.NewDate(2024, time.March, 9), models.InvoiceStatusFinalized, "9983", 300)
	insertInvoice(t, db, 1, models.NewDate(2024, time.April, 1), models.InvoiceStatusFinalized, "8471", 7000)

	from := models.NewDate(2024, time.March, 1)
	to := models.NewDate(2024, time.March, 31)
	register, summary, err := GstRegister(context.Background(), db, from, to)
	require.NoError(t, err)

	require.Len(t, register, 4)
	assert.Equal(t, "INV-202403-00001", register[0].InvoiceNumber)
	assert.Equal(t, models.InvoiceStatusCancelled, register[1].Status)

	require.Len(t, summary, 2)
	assert.Equal(t, "8471", summary[0].HsnCode)
	assert.True(t, summary[0].TaxableValue.Equal(decimal.NewFromInt(3000)), summary[0].TaxableValue.String())
	assert.True(t, summary[0].IgstAmount.Equal(decimal.NewFromInt(540)), summary[0].IgstAmount.String())
	assert.True(t, summary[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "9983", summary[1].HsnCode)
}

func TestExportGstRegister(t *testing.T) {
	db := openReportDB(t)
	insertInvoice(t, db, 1, models.NewDate(2024, time.March, 1), models.InvoiceStatusFinalized, "8471", 1000)

	out, err := ExportGstRegister(context.Background(), db,
		models.NewDate(2024, time.March, 1), models.NewDate(2024, time.March, 31))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Register", "HSN Summary"}, f.GetSheetList())
	head, err := f.GetCellValue("Register", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice No", head)
	number, err := f.GetCellValue("Register", "A2")
	require.NoError(t, err)
	assert.Equal(t, "INV-202403-00001", number)
	hsn, err := f.GetCellValue("HSN Summary", "A2")
	require.NoError(t, err)
	assert.Equal(t, "8471", hsn)
}

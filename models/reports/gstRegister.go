package reports

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
)

type GstRegisterRow struct {
	InvoiceNumber   string
	InvoiceDate     models.Date
	ClientName      string
	ClientGstNumber string
	ClientStateCode string
	GstType         models.GstType
	Subtotal        decimal.Decimal
	TotalCgst       decimal.Decimal
	TotalSgst       decimal.Decimal
	TotalIgst       decimal.Decimal
	GrandTotal      decimal.Decimal
	Status          models.InvoiceStatus
}

func (r GstRegisterRow) GetCellValues() []interface{} {
	return []interface{}{
		r.InvoiceNumber,
		r.InvoiceDate.String(),
		r.ClientName,
		r.ClientGstNumber,
		r.ClientStateCode,
		string(r.GstType),
		r.Subtotal.InexactFloat64(),
		r.TotalCgst.InexactFloat64(),
		r.TotalSgst.InexactFloat64(),
		r.TotalIgst.InexactFloat64(),
		r.GrandTotal.InexactFloat64(),
		string(r.Status),
	}
}

// HsnSummaryRow aggregates non-cancelled lines per HSN code.
type HsnSummaryRow struct {
	HsnCode      string
	Quantity     decimal.Decimal
	TaxableValue decimal.Decimal
	CgstAmount   decimal.Decimal
	SgstAmount   decimal.Decimal
	IgstAmount   decimal.Decimal
}

func (r HsnSummaryRow) GetCellValues() []interface{} {
	return []interface{}{
		r.HsnCode,
		r.Quantity.InexactFloat64(),
		r.TaxableValue.InexactFloat64(),
		r.CgstAmount.InexactFloat64(),
		r.SgstAmount.InexactFloat64(),
		r.IgstAmount.InexactFloat64(),
	}
}

// GstRegister lists invoices dated within [from, to], cancelled ones included
// and marked, plus an HSN summary of the rest.
func GstRegister(ctx context.Context, db *gorm.DB, from models.Date, to models.Date) ([]GstRegisterRow, []HsnSummaryRow, error) {
	var invoices []models.Invoice
	if err := db.WithContext(ctx).
		Where("invoice_date BETWEEN ? AND ?", from, to).
		Order("billing_period").Order("sequence_no").
		Find(&invoices).Error; err != nil {
		return nil, nil, err
	}

	register := make([]GstRegisterRow, 0, len(invoices))
	for _, inv := range invoices {
		register = append(register, GstRegisterRow{
			InvoiceNumber:   inv.InvoiceNumber,
			InvoiceDate:     inv.InvoiceDate,
			ClientName:      inv.ClientName,
			ClientGstNumber: inv.ClientGstNumber,
			ClientStateCode: inv.ClientStateCode,
			GstType:         inv.GstType,
			Subtotal:        inv.Subtotal,
			TotalCgst:       inv.TotalCgst,
			TotalSgst:       inv.TotalSgst,
			TotalIgst:       inv.TotalIgst,
			GrandTotal:      inv.GrandTotal,
			Status:          inv.Status,
		})
	}

	var lines []models.InvoiceLine
	err := db.WithContext(ctx).
		Joins("JOIN invoices ON invoices.id = invoice_lines.invoice_id").
		Where("invoices.invoice_date BETWEEN ? AND ? AND invoices.status <> ?", from, to, models.InvoiceStatusCancelled).
		Order("invoice_lines.hsn_code").
		Find(&lines).Error
	if err != nil {
		return nil, nil, err
	}

	var summary []HsnSummaryRow
	index := map[string]int{}
	for _, l := range lines {
		i, ok := index[l.HsnCode]
		if !ok {
			i = len(summary)
			index[l.HsnCode] = i
			summary = append(summary, HsnSummaryRow{HsnCode: l.HsnCode})
		}
		s := &summary[i]
		s.Quantity = s.Quantity.Add(l.Quantity)
		s.TaxableValue = s.TaxableValue.Add(l.TaxableValue)
		s.CgstAmount = s.CgstAmount.Add(l.CgstAmount)
		s.SgstAmount = s.SgstAmount.Add(l.SgstAmount)
		s.IgstAmount = s.IgstAmount.Add(l.IgstAmount)
	}
	return register, summary, nil
}

// ExportGstRegister renders GstRegister as an xlsx workbook with two sheets.
func ExportGstRegister(ctx context.Context, db *gorm.DB, from models.Date, to models.Date) ([]byte, error) {
	register, summary, err := GstRegister(ctx, db, from, to)
	if err != nil {
		return nil, err
	}

	registerRows := make([]ExcelExporter, len(register))
	for i := range register {
		registerRows[i] = register[i]
	}
	summaryRows := make([]ExcelExporter, len(summary))
	for i := range summary {
		summaryRows[i] = summary[i]
	}

	return writeWorkbook(
		sheet{
			name: "Register",
			headings: []string{"Invoice No", "Date", "Client", "GSTIN", "State Code", "GST Type",
				"Taxable", "CGST", "SGST", "IGST", "Total", "Status"},
			rows: registerRows,
		},
		sheet{
			name:     "HSN Summary",
			headings: []string{"HSN", "Quantity", "Taxable", "CGST", "SGST", "IGST"},
			rows:     summaryRows,
		},
	)
}

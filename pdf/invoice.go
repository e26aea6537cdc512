package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/gst_billing_backend/models"
)

const (
	pageMargin = 10.0
	lineHeight = 6.0
)

type column struct {
	title string
	width float64
	align string
}

var intraColumns = []column{
	{"#", 8, "C"}, {"Item", 52, "L"}, {"HSN", 16, "C"}, {"Qty", 16, "R"}, {"Rate", 20, "R"},
	{"Taxable", 22, "R"}, {"CGST", 18, "R"}, {"SGST", 18, "R"}, {"Total", 20, "R"},
}

var interColumns = []column{
	{"#", 8, "C"}, {"Item", 62, "L"}, {"HSN", 16, "C"}, {"Qty", 18, "R"}, {"Rate", 22, "R"},
	{"Taxable", 24, "R"}, {"IGST", 20, "R"}, {"Total", 20, "R"},
}

// RenderInvoice draws a tax invoice on A4 and returns the PDF bytes.
func RenderInvoice(detail *models.InvoiceDetail) ([]byte, error) {
	if detail == nil || detail.Invoice == nil {
		return nil, fmt.Errorf("invoice is required")
	}
	inv := detail.Invoice

	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(true, 15)
	doc.SetTitle(inv.InvoiceNumber, false)
	doc.SetCreator("gst-billing", false)
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()

	title := "TAX INVOICE"
	if inv.Status == models.InvoiceStatusCancelled {
		title = "TAX INVOICE (CANCELLED)"
	}
	doc.SetFont("Arial", "B", 16)
	doc.CellFormat(0, 10, title, "", 1, "C", false, 0, "")

	doc.SetFont("Arial", "B", 12)
	doc.CellFormat(0, lineHeight, tr(inv.CompanyName), "", 1, "L", false, 0, "")
	doc.SetFont("Arial", "", 9)
	doc.MultiCell(0, 5, tr(inv.CompanyAddress), "", "L", false)
	doc.CellFormat(0, 5, fmt.Sprintf("GSTIN: %s   State: %s (%s)", inv.CompanyGstNumber, inv.CompanyState, inv.CompanyStateCode), "", 1, "L", false, 0, "")
	doc.Ln(2)

	doc.SetFont("Arial", "", 9)
	doc.CellFormat(95, 5, "Invoice No: "+inv.InvoiceNumber, "", 0, "L", false, 0, "")
	doc.CellFormat(95, 5, "Invoice Date: "+inv.InvoiceDate.Time().Format("02-01-2006"), "", 1, "R", false, 0, "")
	if inv.EwayBillNumber != "" {
		ewayDate := ""
		if inv.EwayBillDate != nil {
			ewayDate = inv.EwayBillDate.Time().Format("02-01-2006")
		}
		doc.CellFormat(95, 5, "E-Way Bill: "+inv.EwayBillNumber, "", 0, "L", false, 0, "")
		doc.CellFormat(95, 5, ewayDate, "", 1, "R", false, 0, "")
	}
	if inv.DcNumber != "" {
		doc.CellFormat(0, 5, "DC No: "+tr(inv.DcNumber), "", 1, "L", false, 0, "")
	}
	doc.Ln(2)

	partyBlock(doc, tr, inv)
	doc.Ln(3)

	cols := interColumns
	if inv.GstType == models.GstTypeIntraState {
		cols = intraColumns
	}
	doc.SetFont("Arial", "B", 8)
	doc.SetFillColor(230, 230, 230)
	for _, c := range cols {
		doc.CellFormat(c.width, 7, c.title, "1", 0, "C", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Arial", "", 8)
	for i, l := range detail.Items {
		values := []string{
			fmt.Sprint(i + 1),
			truncate(tr(l.ItemName), 34),
			l.HsnCode,
			l.Quantity.String(),
			money(l.UnitPrice),
			money(l.TaxableValue),
		}
		if inv.GstType == models.GstTypeIntraState {
			values = append(values,
				fmt.Sprintf("%s (%s%%)", money(l.CgstAmount), l.CgstRate.String()),
				fmt.Sprintf("%s (%s%%)", money(l.SgstAmount), l.SgstRate.String()))
		} else {
			values = append(values, fmt.Sprintf("%s (%s%%)", money(l.IgstAmount), l.IgstRate.String()))
		}
		values = append(values, money(l.TotalAmount))
		for j, c := range cols {
			doc.CellFormat(c.width, lineHeight, values[j], "1", 0, c.align, false, 0, "")
		}
		doc.Ln(-1)
	}
	doc.Ln(2)

	totalsBlock(doc, inv)

	doc.Ln(2)
	doc.SetFont("Arial", "I", 9)
	doc.MultiCell(0, 5, "Amount in words: "+AmountInWords(inv.GrandTotal), "", "L", false)

	if inv.BankName != "" || inv.UpiId != "" {
		doc.Ln(2)
		doc.SetFont("Arial", "B", 9)
		doc.CellFormat(0, 5, "Bank Details", "", 1, "L", false, 0, "")
		doc.SetFont("Arial", "", 9)
		if inv.BankName != "" {
			doc.CellFormat(0, 5, fmt.Sprintf("%s  A/c: %s  IFSC: %s", tr(inv.BankName), inv.BankAccountNumber, inv.BankIfscCode), "", 1, "L", false, 0, "")
		}
		if inv.UpiId != "" {
			doc.CellFormat(0, 5, "UPI: "+inv.UpiId, "", 1, "L", false, 0, "")
		}
	}
	if inv.Notes != "" {
		doc.Ln(2)
		doc.SetFont("Arial", "", 8)
		doc.MultiCell(0, 4, "Notes: "+tr(inv.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func partyBlock(doc *gofpdf.Fpdf, tr func(string) string, inv *models.Invoice) {
	y := doc.GetY()
	doc.SetFont("Arial", "B", 9)
	doc.CellFormat(95, 5, "Bill To", "", 0, "L", false, 0, "")
	doc.CellFormat(95, 5, "Ship To", "", 1, "L", false, 0, "")
	doc.SetFont("Arial", "", 9)

	left := []string{
		inv.ClientName,
		inv.ClientAddress,
		fmt.Sprintf("GSTIN: %s", inv.ClientGstNumber),
		fmt.Sprintf("State: %s (%s)", inv.ClientState, inv.ClientStateCode),
	}
	right := []string{inv.ClientName, inv.ShippingAddress, "State: " + inv.ShippingState}

	doc.SetXY(pageMargin, y+5)
	for _, s := range left {
		doc.MultiCell(95, 5, tr(s), "", "L", false)
	}
	bottom := doc.GetY()
	doc.SetXY(pageMargin+95, y+5)
	for _, s := range right {
		doc.SetX(pageMargin + 95)
		doc.MultiCell(95, 5, tr(s), "", "L", false)
	}
	if doc.GetY() > bottom {
		bottom = doc.GetY()
	}
	doc.SetXY(pageMargin, bottom)
}

func totalsBlock(doc *gofpdf.Fpdf, inv *models.Invoice) {
	rows := [][2]string{{"Subtotal", money(inv.Subtotal)}}
	if inv.GstType == models.GstTypeIntraState {
		rows = append(rows, [2]string{"CGST", money(inv.TotalCgst)}, [2]string{"SGST", money(inv.TotalSgst)})
	} else {
		rows = append(rows, [2]string{"IGST", money(inv.TotalIgst)})
	}
	rows = append(rows, [2]string{"Total Tax", money(inv.TotalTax)}, [2]string{"Grand Total", money(inv.GrandTotal)})

	for i, r := range rows {
		if i == len(rows)-1 {
			doc.SetFont("Arial", "B", 10)
		} else {
			doc.SetFont("Arial", "", 9)
		}
		doc.CellFormat(150, lineHeight, r[0], "", 0, "R", false, 0, "")
		doc.CellFormat(40, lineHeight, "Rs. "+r[1], "", 1, "R", false, 0, "")
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-2] + ".."
}

var (
	ones = []string{"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine", "Ten",
		"Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen", "Seventeen", "Eighteen", "Nineteen"}
	tens = []string{"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety"}
)

// AmountInWords spells a rupee amount using the Indian grouping
// (crore, lakh, thousand), e.g. "Rupees One Lakh Five Only".
func AmountInWords(amount decimal.Decimal) string {
	amount = amount.Abs().Round(2)
	rupees := amount.IntPart()
	paise := amount.Sub(decimal.NewFromInt(rupees)).Shift(2).IntPart()

	words := "Zero"
	if rupees > 0 {
		words = indianWords(rupees)
	}
	out := "Rupees " + words
	if paise > 0 {
		out += " and " + belowHundred(paise) + " Paise"
	}
	return out + " Only"
}

func indianWords(n int64) string {
	var parts []string
	if n >= 10000000 {
		parts = append(parts, indianWords(n/10000000)+" Crore")
		n %= 10000000
	}
	if n >= 100000 {
		parts = append(parts, belowHundred(n/100000)+" Lakh")
		n %= 100000
	}
	if n >= 1000 {
		parts = append(parts, belowHundred(n/1000)+" Thousand")
		n %= 1000
	}
	if n >= 100 {
		parts = append(parts, ones[n/100]+" Hundred")
		n %= 100
	}
	if n > 0 {
		parts = append(parts, belowHundred(n))
	}
	return strings.Join(parts, " ")
}

func belowHundred(n int64) string {
	if n < 20 {
		return ones[n]
	}
	if n%10 == 0 {
		return tens[n/10]
	}
	return tens[n/10] + " " + ones[n%10]
}

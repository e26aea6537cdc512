package models

import (
	"github.com/shopspring/decimal"
)

const (
	moneyPlaces    = 2
	quantityPlaces = 4
)

var (
	maxTaxRate = decimal.NewFromInt(28)
	// exclusive upper bounds of the decimal(20,4) and decimal(20,2) columns
	maxQuantity = decimal.New(1, 16)
	maxAmount   = decimal.New(1, 18)
)

// fitsAmount reports whether d can be stored in a money column.
func fitsAmount(d decimal.Decimal) bool {
	return d.Abs().LessThan(maxAmount)
}

// roundMoney rounds half away from zero to paise. All amounts here are
// non-negative, so this is round-half-up.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func percentOf(base decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return roundMoney(base.Mul(pct).Shift(-2))
}

// ValidateQuantity accepts positive quantities below 10^16 with at most four
// decimal places.
func ValidateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return NewFieldError("quantity", "must be greater than 0")
	}
	if q.GreaterThanOrEqual(maxQuantity) {
		return NewFieldError("quantity", "must be less than 10^16")
	}
	if !q.Equal(q.Truncate(quantityPlaces)) {
		return NewFieldError("quantity", "at most 4 decimal places")
	}
	return nil
}

// GstTypeFor decides the tax split once per invoice from the normalized states.
func GstTypeFor(companyState State, clientState State) GstType {
	if companyState == clientState {
		return GstTypeIntraState
	}
	return GstTypeInterState
}

// EvaluateLine computes one invoice line from an item snapshot. The item's
// catalogue fields are copied, so later item edits never touch the line.
func EvaluateLine(companyState State, clientState State, item Item, quantity decimal.Decimal) (InvoiceLine, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return InvoiceLine{}, err
	}

	taxable := roundMoney(quantity.Mul(item.UnitPrice))

	line := InvoiceLine{
		ItemId:       item.ID,
		ItemName:     item.Name,
		Description:  item.Description,
		HsnCode:      item.HsnCode,
		Unit:         item.Unit,
		Quantity:     quantity,
		UnitPrice:    item.UnitPrice,
		CgstRate:     decimal.Zero,
		SgstRate:     decimal.Zero,
		IgstRate:     decimal.Zero,
		TaxableValue: taxable,
		CgstAmount:   decimal.Zero,
		SgstAmount:   decimal.Zero,
		IgstAmount:   decimal.Zero,
		GstType:      GstTypeFor(companyState, clientState),
	}

	if line.GstType == GstTypeIntraState {
		line.CgstRate = item.CgstPct
		line.SgstRate = item.SgstPct
		line.CgstAmount = percentOf(taxable, item.CgstPct)
		line.SgstAmount = percentOf(taxable, item.SgstPct)
	} else {
		line.IgstRate = item.IgstPct
		line.IgstAmount = percentOf(taxable, item.IgstPct)
	}

	line.TotalAmount = taxable.Add(line.CgstAmount).Add(line.SgstAmount).Add(line.IgstAmount)
	if !fitsAmount(line.TotalAmount) {
		return InvoiceLine{}, NewFieldError("invoice_items", "line total exceeds the largest storable amount")
	}
	return line, nil
}

type InvoiceTotals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	TotalCgst  decimal.Decimal `json:"total_cgst"`
	TotalSgst  decimal.Decimal `json:"total_sgst"`
	TotalIgst  decimal.Decimal `json:"total_igst"`
	TotalTax   decimal.Decimal `json:"total_tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	GstType    GstType         `json:"gst_type"`
}

// AggregateLines sums already rounded line values. No rounding happens here.
func AggregateLines(lines []InvoiceLine) (InvoiceTotals, error) {
	if len(lines) == 0 {
		return InvoiceTotals{}, NewFieldError("invoice_items", "at least one line is required")
	}

	totals := InvoiceTotals{
		Subtotal:  decimal.Zero,
		TotalCgst: decimal.Zero,
		TotalSgst: decimal.Zero,
		TotalIgst: decimal.Zero,
		GstType:   lines[0].GstType,
	}
	for _, l := range lines {
		if l.GstType != totals.GstType {
			return InvoiceTotals{}, NewFieldError("invoice_items", "lines carry different gst types")
		}
		totals.Subtotal = totals.Subtotal.Add(l.TaxableValue)
		totals.TotalCgst = totals.TotalCgst.Add(l.CgstAmount)
		totals.TotalSgst = totals.TotalSgst.Add(l.SgstAmount)
		totals.TotalIgst = totals.TotalIgst.Add(l.IgstAmount)
	}
	totals.TotalTax = totals.TotalCgst.Add(totals.TotalSgst).Add(totals.TotalIgst)
	totals.GrandTotal = totals.Subtotal.Add(totals.TotalTax)
	if !fitsAmount(totals.GrandTotal) {
		return InvoiceTotals{}, NewFieldError("invoice_items", "grand total exceeds the largest storable amount")
	}
	return totals, nil
}

// validateTaxRate enforces 0..28 with two decimal places.
func validateTaxRate(field string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxTaxRate) {
		return NewFieldError(field, "must be between 0 and 28")
	}
	if !rate.Equal(rate.Truncate(moneyPlaces)) {
		return NewFieldError(field, "at most 2 decimal places")
	}
	return nil
}

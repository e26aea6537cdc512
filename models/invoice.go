package models

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

// Invoice header. Company and client fields are snapshots taken at creation;
// after that the only mutation is the Finalized -> Cancelled transition.
type Invoice struct {
	ID            int    `gorm:"primary_key" json:"id"`
	InvoiceNumber string `gorm:"size:20;not null;uniqueIndex" json:"invoice_number"`
	BillingPeriod string `gorm:"size:6;not null;uniqueIndex:idx_invoice_period_seq,priority:1" json:"billing_period"`
	SequenceNo    int64  `gorm:"not null;uniqueIndex:idx_invoice_period_seq,priority:2" json:"sequence_no"`
	InvoiceDate   Date   `gorm:"not null;index" json:"invoice_date"`
	ClientId      int    `gorm:"index;not null" json:"client_id"`

	CompanyName       string `gorm:"size:255;not null" json:"company_name"`
	CompanyAddress    string `gorm:"type:text" json:"company_address"`
	CompanyState      string `gorm:"size:100;not null" json:"company_state"`
	CompanyStateCode  string `gorm:"size:2" json:"company_state_code"`
	CompanyGstNumber  string `gorm:"size:15;not null" json:"company_gst_number"`
	BankName          string `gorm:"size:255" json:"bank_name"`
	BankAccountNumber string `gorm:"size:30" json:"bank_account_number"`
	BankIfscCode      string `gorm:"size:11" json:"bank_ifsc_code"`
	UpiId             string `gorm:"size:100" json:"upi_id"`

	ClientName       string `gorm:"size:255;not null" json:"client_name"`
	ClientAddress    string `gorm:"type:text" json:"client_address"`
	ClientState      string `gorm:"size:100;not null" json:"client_state"`
	ClientStateCode  string `gorm:"size:2" json:"client_state_code"`
	ClientGstNumber  string `gorm:"size:15;not null" json:"client_gst_number"`
	ClientMobile     string `gorm:"size:20" json:"client_mobile"`
	ClientEmail      string `gorm:"size:255" json:"client_email"`

	ShippingSameAsBilling *bool  `gorm:"not null;default:true" json:"shipping_same_as_billing"`
	ShippingAddress       string `gorm:"type:text" json:"shipping_address"`
	ShippingState         string `gorm:"size:100" json:"shipping_state"`

	EwayBillNumber string `gorm:"size:12" json:"eway_bill_number"`
	EwayBillDate   *Date  `json:"eway_bill_date"`
	DcNumber       string `gorm:"size:50" json:"dc_number"`
	Notes          string `gorm:"type:text" json:"notes"`

	Subtotal   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"subtotal"`
	TotalCgst  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_cgst"`
	TotalSgst  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_sgst"`
	TotalIgst  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_igst"`
	TotalTax   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_tax"`
	GrandTotal decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"grand_total"`
	GstType    GstType         `gorm:"size:10;not null" json:"gst_type"`

	Status      InvoiceStatus `gorm:"size:10;not null;index" json:"status"`
	CancelledAt *time.Time    `json:"cancelled_at"`

	Lines     []InvoiceLine `gorm:"foreignKey:InvoiceId" json:"-"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceLine belongs to exactly one invoice. Item fields are copied, not referenced.
type InvoiceLine struct {
	ID           int             `gorm:"primary_key" json:"id"`
	InvoiceId    int             `gorm:"index;not null" json:"invoice_id"`
	LineNo       int             `gorm:"not null" json:"line_no"`
	ItemId       int             `gorm:"index;not null" json:"item_id"`
	ItemName     string          `gorm:"size:255;not null" json:"item_name"`
	Description  string          `gorm:"type:text" json:"description"`
	HsnCode      string          `gorm:"size:8" json:"hsn_code"`
	Unit         string          `gorm:"size:20" json:"unit"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unit_price"`
	CgstRate     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"cgst_rate"`
	SgstRate     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"sgst_rate"`
	IgstRate     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"igst_rate"`
	TaxableValue decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"taxable_value"`
	CgstAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cgst_amount"`
	SgstAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"sgst_amount"`
	IgstAmount   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"igst_amount"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	GstType      GstType         `gorm:"size:10;not null" json:"gst_type"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// InvoiceDetail is the fetch shape: header plus its lines.
type InvoiceDetail struct {
	Invoice *Invoice      `json:"invoice"`
	Items   []InvoiceLine `json:"items"`
}

type NewInvoice struct {
	ClientId              int              `json:"client_id"`
	InvoiceDate           Date             `json:"invoice_date"`
	InvoiceItems          []NewInvoiceLine `json:"invoice_items"`
	ShippingSameAsBilling *bool            `json:"shipping_same_as_billing"`
	ShippingAddress       string           `json:"shipping_address"`
	ShippingState         string           `json:"shipping_state"`
	EwayBillNumber        string           `json:"eway_bill_number"`
	EwayBillDate          *Date            `json:"eway_bill_date"`
	DcNumber              string           `json:"dc_number"`
	Notes                 string           `json:"notes"`
}

type NewInvoiceLine struct {
	ItemId   int             `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type CreatedInvoice struct {
	InvoiceId     int    `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
}

// Shipping is either ShipToBilling or ShipToAddress.
type Shipping interface {
	isShipping()
}

// ShipToBilling ships to the client's billing address.
type ShipToBilling struct{}

// ShipToAddress ships to an explicit address in a recognised state.
type ShipToAddress struct {
	Address string
	State   State
}

func (ShipToBilling) isShipping() {}
func (ShipToAddress) isShipping() {}

var ewayBillPattern = regexp.MustCompile(`^[0-9]{12}$`)

// shipping resolves the flag plus optional fields into a Shipping variant.
// A nil flag means "billing" unless an explicit address was supplied.
func (input *NewInvoice) shipping() (Shipping, error) {
	address := strings.TrimSpace(input.ShippingAddress)
	rawState := strings.TrimSpace(input.ShippingState)

	sameAsBilling := address == "" && rawState == ""
	if input.ShippingSameAsBilling != nil {
		sameAsBilling = *input.ShippingSameAsBilling
	}
	if sameAsBilling {
		return ShipToBilling{}, nil
	}

	fields := map[string]string{}
	if address == "" {
		fields["shipping_address"] = "required when shipping differs from billing"
	}
	if rawState == "" {
		fields["shipping_state"] = "required when shipping differs from billing"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Message: "invalid shipping details", Fields: fields}
	}
	state, err := NormalizeState(rawState)
	if err != nil {
		return nil, NewFieldError("shipping_state", "unrecognised state")
	}
	return ShipToAddress{Address: address, State: state}, nil
}

// validate checks structure only; nothing here touches the database.
func (input *NewInvoice) validate() (Shipping, error) {
	fields := map[string]string{}
	if input.ClientId <= 0 {
		fields["client_id"] = "required"
	}
	if input.InvoiceDate.IsZero() {
		fields["invoice_date"] = "required (YYYY-MM-DD)"
	}
	if len(input.InvoiceItems) == 0 {
		fields["invoice_items"] = "at least one line is required"
	}
	for i, line := range input.InvoiceItems {
		if line.ItemId <= 0 {
			fields[fmt.Sprintf("invoice_items[%d].item_id", i)] = "required"
		}
		if err := ValidateQuantity(line.Quantity); err != nil {
			var problem string
			if ve, ok := err.(*ValidationError); ok {
				problem = ve.Fields["quantity"]
			}
			fields[fmt.Sprintf("invoice_items[%d].quantity", i)] = problem
		}
	}
	input.EwayBillNumber = strings.TrimSpace(input.EwayBillNumber)
	if input.EwayBillNumber != "" && !ewayBillPattern.MatchString(input.EwayBillNumber) {
		fields["eway_bill_number"] = "must be 12 digits"
	}
	if input.EwayBillDate != nil && !input.EwayBillDate.IsZero() && !input.InvoiceDate.IsZero() &&
		input.EwayBillDate.Time().Before(input.InvoiceDate.Time()) {
		fields["eway_bill_date"] = "must not be before invoice_date"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Message: "invalid invoice", Fields: fields}
	}
	return input.shipping()
}

// snapshot builds the header for persistence. Number fields are filled by the store.
func newInvoiceSnapshot(input *NewInvoice, company *Company, companyState State, client *Client, clientState State,
	shipping Shipping, totals InvoiceTotals, lines []InvoiceLine) *Invoice {

	inv := &Invoice{
		BillingPeriod:     BillingPeriod(input.InvoiceDate.Time()),
		InvoiceDate:       input.InvoiceDate,
		ClientId:          client.ID,
		CompanyName:       company.CompanyName,
		CompanyAddress:    company.CompanyAddress,
		CompanyState:      string(companyState),
		CompanyStateCode:  companyState.Code(),
		CompanyGstNumber:  company.CompanyGstNumber,
		BankName:          company.BankName,
		BankAccountNumber: company.BankAccountNumber,
		BankIfscCode:      company.BankIfscCode,
		UpiId:             company.UpiId,
		ClientName:        client.ClientName,
		ClientAddress:     client.ClientAddress,
		ClientState:       string(clientState),
		ClientStateCode:   clientState.Code(),
		ClientGstNumber:   client.ClientGstNumber,
		ClientMobile:      client.ClientMobile,
		ClientEmail:       client.ClientEmail,
		EwayBillNumber:    input.EwayBillNumber,
		DcNumber:          strings.TrimSpace(input.DcNumber),
		Notes:             strings.TrimSpace(input.Notes),
		Subtotal:          totals.Subtotal,
		TotalCgst:         totals.TotalCgst,
		TotalSgst:         totals.TotalSgst,
		TotalIgst:         totals.TotalIgst,
		TotalTax:          totals.TotalTax,
		GrandTotal:        totals.GrandTotal,
		GstType:           totals.GstType,
		Status:            InvoiceStatusFinalized,
		Lines:             lines,
	}
	if input.EwayBillDate != nil && !input.EwayBillDate.IsZero() {
		d := *input.EwayBillDate
		inv.EwayBillDate = &d
	}

	switch s := shipping.(type) {
	case ShipToAddress:
		inv.ShippingSameAsBilling = utils.NewFalse()
		inv.ShippingAddress = s.Address
		inv.ShippingState = string(s.State)
	default:
		inv.ShippingSameAsBilling = utils.NewTrue()
		inv.ShippingAddress = client.ClientAddress
		inv.ShippingState = string(clientState)
	}
	return inv
}

// fresh returns a copy with every database assigned field cleared, so a
// retried transaction starts from the same computed values.
func (inv *Invoice) fresh() *Invoice {
	cp := *inv
	cp.ID = 0
	cp.InvoiceNumber = ""
	cp.SequenceNo = 0
	cp.CreatedAt = time.Time{}
	cp.UpdatedAt = time.Time{}
	cp.Lines = make([]InvoiceLine, len(inv.Lines))
	for i, l := range inv.Lines {
		l.ID = 0
		l.InvoiceId = 0
		l.CreatedAt = time.Time{}
		cp.Lines[i] = l
	}
	return &cp
}

func (inv *Invoice) Detail() *InvoiceDetail {
	lines := inv.Lines
	if lines == nil {
		lines = []InvoiceLine{}
	}
	return &InvoiceDetail{Invoice: inv, Items: lines}
}

func invoiceCacheKey(id int) string {
	return fmt.Sprintf("Invoice:%d", id)
}

// GetInvoice returns the header and lines. Cancelled invoices never change
// again, so they are served from redis once cached.
func GetInvoice(ctx context.Context, id int) (*InvoiceDetail, error) {
	var cached InvoiceDetail
	if ok, err := config.GetRedisObject(invoiceCacheKey(id), &cached); err == nil && ok && cached.Invoice != nil {
		return &cached, nil
	}

	inv, err := utils.FetchModel[Invoice](ctx, id, "Lines")
	if err != nil {
		return nil, notFoundOr(err, "invoice", id, "get invoice")
	}
	sortLines(inv.Lines)
	detail := inv.Detail()

	if inv.Status == InvoiceStatusCancelled {
		if err := config.SetRedisObject(invoiceCacheKey(id), detail, 24*time.Hour); err != nil {
			config.LogError(config.GetLogger(), "Invoice", "GetInvoice", "cache cancelled invoice", id, err)
		}
	}
	return detail, nil
}

func sortLines(lines []InvoiceLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].LineNo < lines[j].LineNo
	})
}

type InvoiceFilter struct {
	Status   InvoiceStatus
	ClientId int
	FromDate *Date
	ToDate   *Date
	Search   string
	MinTotal *decimal.Decimal
	MaxTotal *decimal.Decimal
	Limit    int
	Offset   int
}

type InvoiceList struct {
	Invoices []Invoice `json:"invoices"`
	Total    int64     `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// ListInvoices returns headers newest first. Lines are not loaded.
func ListInvoices(ctx context.Context, filter InvoiceFilter) (*InvoiceList, error) {
	dbCtx := config.GetDB().WithContext(ctx).Model(&Invoice{})
	if filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", filter.Status)
	}
	if filter.ClientId > 0 {
		dbCtx = dbCtx.Where("client_id = ?", filter.ClientId)
	}
	if filter.FromDate != nil && !filter.FromDate.IsZero() {
		dbCtx = dbCtx.Where("invoice_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil && !filter.ToDate.IsZero() {
		dbCtx = dbCtx.Where("invoice_date <= ?", *filter.ToDate)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		term := likePattern(s)
		dbCtx = dbCtx.Where("(invoice_number LIKE ? OR client_name LIKE ? OR client_gst_number LIKE ?)", term, term, term)
	}
	if filter.MinTotal != nil {
		dbCtx = dbCtx.Where("grand_total >= ?", *filter.MinTotal)
	}
	if filter.MaxTotal != nil {
		dbCtx = dbCtx.Where("grand_total <= ?", *filter.MaxTotal)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, internalError("count invoices", err)
	}

	limit := normalizeLimit(filter.Limit)
	offset := max(filter.Offset, 0)
	var invoices []Invoice
	err := dbCtx.Order("invoice_date DESC").Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&invoices).Error
	if err != nil {
		return nil, internalError("list invoices", err)
	}
	return &InvoiceList{Invoices: invoices, Total: total, Limit: limit, Offset: offset}, nil
}

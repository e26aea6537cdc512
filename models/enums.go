package models

import (
	"encoding/json"
	"fmt"
)

type GstType string

const (
	GstTypeIntraState GstType = "CGST+SGST"
	GstTypeInterState GstType = "IGST"
)

func (e GstType) IsValid() bool {
	switch e {
	case GstTypeIntraState, GstTypeInterState:
		return true
	}
	return false
}

func (e GstType) String() string {
	return string(e)
}

// InvoiceStatus has a single legal transition: Finalized -> Cancelled.
type InvoiceStatus string

const (
	InvoiceStatusFinalized InvoiceStatus = "Finalized"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

func (e InvoiceStatus) IsValid() bool {
	switch e {
	case InvoiceStatusFinalized, InvoiceStatusCancelled:
		return true
	}
	return false
}

func (e InvoiceStatus) String() string {
	return string(e)
}

// CanTransitionTo reports whether e -> next is an allowed status change.
func (e InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	return e == InvoiceStatusFinalized && next == InvoiceStatusCancelled
}

func (e *InvoiceStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*e = InvoiceStatus(s)
	if !e.IsValid() {
		return fmt.Errorf("%s is not a valid InvoiceStatus", s)
	}
	return nil
}

type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
	AuditActionCancel AuditAction = "CANCEL"
)

const (
	EntityCompany = "COMPANY"
	EntityClient  = "CLIENT"
	EntityItem    = "ITEM"
	EntityInvoice = "INVOICE"
)

package models

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceSequence is the durable per-period counter behind invoice numbers.
// last_value is the highest sequence handed out for the period; numbers are
// never reused, so cancelled or rolled back allocations leave gaps.
type InvoiceSequence struct {
	Period    string    `gorm:"primaryKey;size:6" json:"period"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	invoiceNumberPrefix = "INV"
	// NNNNN has five digits
	maxSequence = 99999
)

// BillingPeriod returns the YYYYMM period an invoice dated d belongs to.
func BillingPeriod(d time.Time) string {
	return d.Format("200601")
}

// FormatInvoiceNumber renders INV-YYYYMM-NNNNN.
func FormatInvoiceNumber(period string, seq int64) string {
	return fmt.Sprintf("%s-%s-%05d", invoiceNumberPrefix, period, seq)
}

// AllocateInvoiceNumber increments the period counter and reads it back inside
// tx. The UPDATE holds the counter row's write lock until tx ends, so concurrent
// allocations for the same period are serialized and commit in number order.
// Must be called inside the same transaction that inserts the invoice.
func AllocateInvoiceNumber(tx *gorm.DB, period string) (int64, string, error) {
	seed := InvoiceSequence{Period: period}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return 0, "", err
	}

	res := tx.Model(&InvoiceSequence{}).
		Where("period = ?", period).
		UpdateColumn("last_value", gorm.Expr("last_value + ?", 1))
	if res.Error != nil {
		return 0, "", res.Error
	}
	if res.RowsAffected != 1 {
		return 0, "", fmt.Errorf("invoice sequence %s: expected 1 row updated, got %d", period, res.RowsAffected)
	}

	var seq int64
	if err := tx.Model(&InvoiceSequence{}).
		Where("period = ?", period).
		Select("last_value").
		Scan(&seq).Error; err != nil {
		return 0, "", err
	}
	if seq > maxSequence {
		return 0, "", &ConflictError{Message: fmt.Sprintf("invoice numbers for period %s are exhausted", period)}
	}
	return seq, FormatInvoiceNumber(period, seq), nil
}

type SequenceDrift struct {
	Period      string `json:"period"`
	LastValue   int64  `json:"last_value"`
	MaxIssued   int64  `json:"max_issued"`
	InvoiceRows int64  `json:"invoice_rows"`
	Repaired    bool   `json:"repaired"`
}

// CheckInvoiceSequences compares every counter with the highest sequence
// actually stored on invoices. A counter behind its invoices would reissue a
// number; with repair set such counters are moved forward, never back.
func CheckInvoiceSequences(ctx context.Context, db *gorm.DB, repair bool) ([]SequenceDrift, error) {
	type issuedRow struct {
		BillingPeriod string
		MaxSeq        int64
		InvoiceRows   int64
	}
	var issued []issuedRow
	if err := db.WithContext(ctx).Model(&Invoice{}).
		Select("billing_period, MAX(sequence_no) AS max_seq, COUNT(*) AS invoice_rows").
		Group("billing_period").
		Order("billing_period").
		Scan(&issued).Error; err != nil {
		return nil, err
	}

	var drifts []SequenceDrift
	for _, row := range issued {
		var counter InvoiceSequence
		err := db.WithContext(ctx).Where("period = ?", row.BillingPeriod).Take(&counter).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, err
		}
		if counter.LastValue >= row.MaxSeq {
			continue
		}
		drift := SequenceDrift{
			Period:      row.BillingPeriod,
			LastValue:   counter.LastValue,
			MaxIssued:   row.MaxSeq,
			InvoiceRows: row.InvoiceRows,
		}
		if repair {
			err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&InvoiceSequence{Period: row.BillingPeriod}).Error; err != nil {
					return err
				}
				return tx.Model(&InvoiceSequence{}).
					Where("period = ? AND last_value < ?", row.BillingPeriod, row.MaxSeq).
					UpdateColumn("last_value", row.MaxSeq).Error
			})
			if err != nil {
				return drifts, err
			}
			drift.Repaired = true
		}
		drifts = append(drifts, drift)
	}
	return drifts, nil
}

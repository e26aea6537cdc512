package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormInvoiceStore persists invoices. Number allocation and the header/line
// inserts share one transaction, so a failed insert never consumes a number
// visibly and a committed invoice always owns its number.
type GormInvoiceStore struct {
	DB *gorm.DB
}

// AtomicCreate allocates the next number for inv.BillingPeriod and inserts
// the header with its lines. On success inv carries its ids and number.
func (s GormInvoiceStore) AtomicCreate(ctx context.Context, inv *Invoice) (err error) {
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	seq, number, err := AllocateInvoiceNumber(tx, inv.BillingPeriod)
	if err != nil {
		return err
	}
	inv.SequenceNo = seq
	inv.InvoiceNumber = number

	if err = tx.Create(inv).Error; err != nil {
		return err
	}
	return tx.Commit().Error
}

// Transition moves an invoice from one status to another with a conditional
// update. When nothing matched, the current row decides between not found
// and conflict.
func (s GormInvoiceStore) Transition(ctx context.Context, id int, from InvoiceStatus, to InvoiceStatus) error {
	if !from.CanTransitionTo(to) {
		return &ConflictError{Message: fmt.Sprintf("invoice cannot move from %s to %s", from, to)}
	}

	updates := map[string]interface{}{"status": to}
	if to == InvoiceStatusCancelled {
		updates["cancelled_at"] = time.Now().UTC()
	}

	db := s.DB.WithContext(ctx)
	res := db.Model(&Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current Invoice
	if err := db.Select("id", "status").First(&current, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Entity: "invoice", Id: id}
		}
		return err
	}
	if current.Status == to {
		return &ConflictError{Message: fmt.Sprintf("invoice is already %s", to)}
	}
	return &ConflictError{Message: fmt.Sprintf("invoice in status %s cannot move to %s", current.Status, to)}
}

package models

import (
	"errors"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWait       = 1205
	mysqlErrDeadlock       = 1213
)

func mysqlErrorNumber(err error) (uint16, bool) {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number, true
	}
	return 0, false
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if n, ok := mysqlErrorNumber(err); ok {
		return n == mysqlErrDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isDuplicateInvoiceNumber reports a unique index hit on the issued number.
func isDuplicateInvoiceNumber(err error) bool {
	if !isDuplicateKey(err) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "invoice_number") ||
		strings.Contains(msg, "idx_invoice_period_seq") ||
		strings.Contains(msg, "sequence_no")
}

// isSerializationConflict reports errors after which the whole transaction
// can simply be run again: deadlocks, lock wait timeouts and SQLite busy.
func isSerializationConflict(err error) bool {
	if err == nil {
		return false
	}
	if n, ok := mysqlErrorNumber(err); ok {
		return n == mysqlErrDeadlock || n == mysqlErrLockWait
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

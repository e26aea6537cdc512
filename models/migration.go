package models

import (
	"log"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
)

// AllModels lists every table owned by the service.
func AllModels() []interface{} {
	return []interface{}{
		&Company{}, &Client{}, &Item{},
		&Invoice{}, &InvoiceLine{}, &InvoiceSequence{},
		&AuditLog{},
		&User{},
	}
}

// Migrate creates or updates all tables on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

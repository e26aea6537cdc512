package config

import (
	"os"
	"strings"
)

// InvoiceCreateMaxAttempts bounds how often the number allocation + insert
// transaction is retried after a serialization conflict.
//
// Set via env:
// - INVOICE_CREATE_MAX_ATTEMPTS=3
func InvoiceCreateMaxAttempts() int {
	n := intFromEnv("INVOICE_CREATE_MAX_ATTEMPTS", 3)
	if n < 1 {
		return 1
	}
	return n
}

// AuthDisabled turns off bearer token checks on /api routes (local development only).
//
// Set via env:
// - AUTH_DISABLED=true
func AuthDisabled() bool {
	return envBool("AUTH_DISABLED")
}

// SkipMigrations skips AutoMigrate at startup.
func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}

// RateLimitPerMinute is the per-client request budget enforced through redis. 0 disables it.
func RateLimitPerMinute() int {
	return intFromEnv("RATE_LIMIT_PER_MINUTE", 300)
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// InvoicePdfBucket is the GCS bucket rendered invoice PDFs are archived to. "" disables archiving.
func InvoicePdfBucket() string {
	return strings.TrimSpace(os.Getenv("INVOICE_PDF_BUCKET"))
}

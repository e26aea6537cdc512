package models

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
)

const (
	// bumped on every invoice write; summaries are cached per generation
	dashboardGenerationKey = "Dashboard:generation"
	dashboardCacheTTL      = 30 * time.Second
)

func dashboardCacheKey(generation int64) string {
	return fmt.Sprintf("Dashboard:summary:%d", generation)
}

type DashboardTotals struct {
	InvoiceCount int64           `json:"invoice_count"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TotalTax     decimal.Decimal `json:"total_tax"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
}

// DashboardSummary excludes cancelled invoices from every figure.
type DashboardSummary struct {
	AllTime        DashboardTotals `json:"all_time"`
	CurrentMonth   DashboardTotals `json:"current_month"`
	CancelledCount int64           `json:"cancelled_count"`
	ClientCount    int64           `json:"client_count"`
	ItemCount      int64           `json:"item_count"`
	RecentInvoices []Invoice       `json:"recent_invoices"`
}

type dashboardRow struct {
	InvoiceCount int64
	Subtotal     decimal.NullDecimal
	TotalTax     decimal.NullDecimal
	GrandTotal   decimal.NullDecimal
}

func (r dashboardRow) totals() DashboardTotals {
	return DashboardTotals{
		InvoiceCount: r.InvoiceCount,
		Subtotal:     nullToZero(r.Subtotal),
		TotalTax:     nullToZero(r.TotalTax),
		GrandTotal:   nullToZero(r.GrandTotal),
	}
}

func nullToZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

// GetDashboard reads the summary from cache or computes it. now decides the
// current month. A computation that overlaps an invoice write stores its
// result under the old generation, where no later read looks.
func GetDashboard(ctx context.Context, now time.Time) (*DashboardSummary, error) {
	generation, genErr := config.GetRedisInt(ctx, dashboardGenerationKey)
	if genErr == nil {
		var cached DashboardSummary
		if ok, err := config.GetRedisObject(dashboardCacheKey(generation), &cached); err == nil && ok {
			return &cached, nil
		}
	}

	db := config.GetDB().WithContext(ctx)
	var summary DashboardSummary

	sumSelect := "COUNT(*) AS invoice_count, SUM(subtotal) AS subtotal, SUM(total_tax) AS total_tax, SUM(grand_total) AS grand_total"

	var all dashboardRow
	if err := db.Model(&Invoice{}).Select(sumSelect).
		Where("status <> ?", InvoiceStatusCancelled).
		Scan(&all).Error; err != nil {
		return nil, internalError("dashboard totals", err)
	}
	summary.AllTime = all.totals()

	var month dashboardRow
	if err := db.Model(&Invoice{}).Select(sumSelect).
		Where("status <> ? AND billing_period = ?", InvoiceStatusCancelled, BillingPeriod(now)).
		Scan(&month).Error; err != nil {
		return nil, internalError("dashboard month totals", err)
	}
	summary.CurrentMonth = month.totals()

	if err := db.Model(&Invoice{}).Where("status = ?", InvoiceStatusCancelled).
		Count(&summary.CancelledCount).Error; err != nil {
		return nil, internalError("dashboard cancelled count", err)
	}
	if err := db.Model(&Client{}).Where("is_active = ?", true).Count(&summary.ClientCount).Error; err != nil {
		return nil, internalError("dashboard client count", err)
	}
	if err := db.Model(&Item{}).Where("is_active = ?", true).Count(&summary.ItemCount).Error; err != nil {
		return nil, internalError("dashboard item count", err)
	}
	if err := db.Where("status <> ?", InvoiceStatusCancelled).
		Order("id DESC").Limit(5).
		Find(&summary.RecentInvoices).Error; err != nil {
		return nil, internalError("dashboard recent invoices", err)
	}

	if genErr == nil {
		if err := config.SetRedisObject(dashboardCacheKey(generation), &summary, dashboardCacheTTL); err != nil {
			config.LogError(config.GetLogger(), "Dashboard", "GetDashboard", "cache summary", nil, err)
		}
	}
	return &summary, nil
}

func invalidateDashboard(ctx context.Context) {
	generation, err := config.IncrRedisKey(ctx, dashboardGenerationKey)
	if err != nil {
		config.LogError(config.GetLogger(), "Dashboard", "invalidateDashboard", "bump generation", nil, err)
		return
	}
	if err := config.RemoveRedisKey(dashboardCacheKey(generation - 1)); err != nil {
		config.LogError(config.GetLogger(), "Dashboard", "invalidateDashboard", "remove cache", nil, err)
	}
}

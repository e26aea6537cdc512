package models

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

type Item struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Name        string          `gorm:"size:255;not null;index" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	HsnCode     string          `gorm:"size:8;not null;index" json:"hsn_code"`
	Unit        string          `gorm:"size:20;not null" json:"unit"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"unit_price"`
	CgstPct     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"cgst_pct"`
	SgstPct     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"sgst_pct"`
	IgstPct     decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0" json:"igst_pct"`
	IsActive    *bool           `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewItem struct {
	Name        string          `json:"name" binding:"required,max=255"`
	Description string          `json:"description"`
	HsnCode     string          `json:"hsn_code" binding:"required,numeric,min=2,max=8"`
	Unit        string          `json:"unit" binding:"required,max=20"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CgstPct     decimal.Decimal `json:"cgst_pct"`
	SgstPct     decimal.Decimal `json:"sgst_pct"`
	IgstPct     decimal.Decimal `json:"igst_pct"`
}

func (i Item) Active() bool {
	return i.IsActive == nil || *i.IsActive
}

func (input *NewItem) validate() error {
	input.HsnCode = strings.TrimSpace(input.HsnCode)
	input.Unit = upperTrim(input.Unit)
	if err := validateBinding(input); err != nil {
		return err
	}
	if input.UnitPrice.IsNegative() {
		return NewFieldError("unit_price", "must not be negative")
	}
	if !input.UnitPrice.Equal(input.UnitPrice.Truncate(moneyPlaces)) {
		return NewFieldError("unit_price", "at most 2 decimal places")
	}
	if !fitsAmount(input.UnitPrice) {
		return NewFieldError("unit_price", "exceeds the largest storable amount")
	}
	if err := validateTaxRate("cgst_pct", input.CgstPct); err != nil {
		return err
	}
	if err := validateTaxRate("sgst_pct", input.SgstPct); err != nil {
		return err
	}
	return validateTaxRate("igst_pct", input.IgstPct)
}

// GormItemRepository resolves active items for invoicing.
type GormItemRepository struct {
	DB *gorm.DB
}

func (r GormItemRepository) Get(ctx context.Context, id int) (*Item, error) {
	var item Item
	if err := r.DB.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFoundOr(err, "item", id, "get item")
	}
	if !item.Active() {
		return nil, &NotFoundError{Entity: "item", Id: id}
	}
	return &item, nil
}

func CreateItem(ctx context.Context, input *NewItem) (*Item, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	item := Item{
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		HsnCode:     input.HsnCode,
		Unit:        input.Unit,
		UnitPrice:   input.UnitPrice,
		CgstPct:     input.CgstPct,
		SgstPct:     input.SgstPct,
		IgstPct:     input.IgstPct,
		IsActive:    utils.NewTrue(),
	}
	if err := config.GetDB().WithContext(ctx).Create(&item).Error; err != nil {
		return nil, internalError("create item", err)
	}

	RecordAudit(ctx, AuditEvent{
		Action:     AuditActionCreate,
		EntityType: EntityItem,
		EntityId:   item.ID,
		NewValues:  item,
	})
	return &item, nil
}

func GetItem(ctx context.Context, id int) (*Item, error) {
	return GormItemRepository{DB: config.GetDB()}.Get(ctx, id)
}

// UpdateItem edits the catalogue entry. Lines of issued invoices hold their
// own copy of these fields and do not change.
func UpdateItem(ctx context.Context, id int, input *NewItem) (*Item, error) {
	old, err := GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	err = config.GetDB().WithContext(ctx).Model(&Item{ID: id}).Updates(map[string]interface{}{
		"name":        strings.TrimSpace(input.Name),
		"description": strings.TrimSpace(input.Description),
		"hsn_code":    input.HsnCode,
		"unit":        input.Unit,
		"unit_price":  input.UnitPrice,
		"cgst_pct":    input.CgstPct,
		"sgst_pct":    input.SgstPct,
		"igst_pct":    input.IgstPct,
	}).Error
	if err != nil {
		return nil, internalError("update item", err)
	}

	result, err := GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	RecordAudit(ctx, AuditEvent{
		Action:     AuditActionUpdate,
		EntityType: EntityItem,
		EntityId:   id,
		OldValues:  old,
		NewValues:  result,
	})
	return result, nil
}

func DeleteItem(ctx context.Context, id int) (*Item, error) {
	item, err := GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := config.GetDB().WithContext(ctx).Model(&Item{ID: id}).Update("is_active", false).Error; err != nil {
		return nil, internalError("delete item", err)
	}
	item.IsActive = utils.NewFalse()

	RecordAudit(ctx, AuditEvent{
		Action:     AuditActionDelete,
		EntityType: EntityItem,
		EntityId:   id,
		NewValues:  map[string]any{"is_active": false},
	})
	return item, nil
}

// ListItems returns active items ordered by name. search matches name or HSN code.
func ListItems(ctx context.Context, search string, limit int, offset int) ([]Item, error) {
	dbCtx := config.GetDB().WithContext(ctx).Where("is_active = ?", true)
	if strings.TrimSpace(search) != "" {
		term := likePattern(search)
		dbCtx = dbCtx.Where("(name LIKE ? OR hsn_code LIKE ?)", term, term)
	}
	var results []Item
	err := dbCtx.Order("name").
		Limit(normalizeLimit(limit)).
		Offset(max(offset, 0)).
		Find(&results).Error
	if err != nil {
		return nil, internalError("list items", err)
	}
	return results, nil
}

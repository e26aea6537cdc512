package models

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
)

// CompanyId is the id of the only company row.
const CompanyId = 1

type Company struct {
	ID                int       `gorm:"primary_key" json:"id"`
	CompanyName       string    `gorm:"size:255;not null" json:"company_name"`
	CompanyAddress    string    `gorm:"type:text;not null" json:"company_address"`
	CompanyState      string    `gorm:"size:100;not null" json:"company_state"`
	CompanyGstNumber  string    `gorm:"size:15;not null" json:"company_gst_number"`
	CompanyEmail      string    `gorm:"size:255" json:"company_email"`
	CompanyPhone      string    `gorm:"size:20" json:"company_phone"`
	BankName          string    `gorm:"size:255" json:"bank_name"`
	BankAccountNumber string    `gorm:"size:30" json:"bank_account_number"`
	BankIfscCode      string    `gorm:"size:11" json:"bank_ifsc_code"`
	UpiId             string    `gorm:"size:100" json:"upi_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCompany struct {
	CompanyName       string `json:"company_name" binding:"required,max=255"`
	CompanyAddress    string `json:"company_address" binding:"required"`
	CompanyState      string `json:"company_state" binding:"required"`
	CompanyGstNumber  string `json:"company_gst_number" binding:"required,gstin"`
	CompanyEmail      string `json:"company_email" binding:"omitempty,email"`
	CompanyPhone      string `json:"company_phone"`
	BankName          string `json:"bank_name"`
	BankAccountNumber string `json:"bank_account_number" binding:"omitempty,numeric,min=9,max=18"`
	BankIfscCode      string `json:"bank_ifsc_code" binding:"omitempty,ifsc"`
	UpiId             string `json:"upi_id"`
}

func (input *NewCompany) validate() (State, error) {
	input.CompanyGstNumber = upperTrim(input.CompanyGstNumber)
	input.BankIfscCode = upperTrim(input.BankIfscCode)
	input.CompanyEmail = strings.TrimSpace(input.CompanyEmail)
	if err := validateBinding(input); err != nil {
		return "", err
	}
	state, err := NormalizeState(input.CompanyState)
	if err != nil {
		return "", NewFieldError("company_state", "unrecognised state")
	}
	phone, err := normalizePhone("company_phone", input.CompanyPhone)
	if err != nil {
		return "", err
	}
	input.CompanyPhone = phone
	return state, nil
}

// GormCompanyRepository reads the company singleton.
type GormCompanyRepository struct {
	DB *gorm.DB
}

func (r GormCompanyRepository) Get(ctx context.Context) (*Company, error) {
	var company Company
	if err := r.DB.WithContext(ctx).First(&company, CompanyId).Error; err != nil {
		return nil, notFoundOr(err, "company", 0, "get company")
	}
	return &company, nil
}

func GetCompany(ctx context.Context) (*Company, error) {
	return GormCompanyRepository{DB: config.GetDB()}.Get(ctx)
}

// UpdateCompany writes the company singleton, creating it on first use.
// Issued invoices keep their own snapshot and are not affected.
func UpdateCompany(ctx context.Context, input *NewCompany) (*Company, error) {
	state, err := input.validate()
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var oldValues any
	if existing, err := GetCompany(ctx); err == nil {
		oldValues = existing
	}

	company := Company{
		ID:                CompanyId,
		CompanyName:       strings.TrimSpace(input.CompanyName),
		CompanyAddress:    strings.TrimSpace(input.CompanyAddress),
		CompanyState:      string(state),
		CompanyGstNumber:  input.CompanyGstNumber,
		CompanyEmail:      input.CompanyEmail,
		CompanyPhone:      input.CompanyPhone,
		BankName:          strings.TrimSpace(input.BankName),
		BankAccountNumber: strings.TrimSpace(input.BankAccountNumber),
		BankIfscCode:      input.BankIfscCode,
		UpiId:             strings.TrimSpace(input.UpiId),
	}

	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"company_name", "company_address", "company_state", "company_gst_number",
			"company_email", "company_phone", "bank_name", "bank_account_number",
			"bank_ifsc_code", "upi_id", "updated_at",
		}),
	}).Create(&company).Error
	if err != nil {
		return nil, internalError("update company", err)
	}

	updated, err := GetCompany(ctx)
	if err != nil {
		return nil, err
	}

	RecordAudit(ctx, AuditEvent{
		Action:     AuditActionUpdate,
		EntityType: EntityCompany,
		EntityId:   CompanyId,
		OldValues:  oldValues,
		NewValues:  updated,
	})
	return updated, nil
}

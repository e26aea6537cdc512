package models

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

type Client struct {
	ID                int       `gorm:"primary_key" json:"id"`
	ClientName        string    `gorm:"size:255;not null;index" json:"client_name"`
	ClientAddress     string    `gorm:"type:text;not null" json:"client_address"`
	ClientState       string    `gorm:"size:100;not null" json:"client_state"`
	ClientGstNumber   string    `gorm:"size:15;not null;uniqueIndex" json:"client_gst_number"`
	ClientMobile      string    `gorm:"size:20" json:"client_mobile"`
	ClientEmail       string    `gorm:"size:255" json:"client_email"`
	BankName          string    `gorm:"size:255" json:"bank_name"`
	BankAccountNumber string    `gorm:"size:30" json:"bank_account_number"`
	BankIfscCode      string    `gorm:"size:11" json:"bank_ifsc_code"`
	IsActive          *bool     `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewClient struct {
	ClientName        string `json:"client_name" binding:"required,max=255"`
	ClientAddress     string `json:"client_address" binding:"required"`
	ClientState       string `json:"client_state" binding:"required"`
	ClientGstNumber   string `json:"client_gst_number" binding:"required,gstin"`
	ClientMobile      string `json:"client_mobile"`
	ClientEmail       string `json:"client_email" binding:"omitempty,email"`
	BankName          string `json:"bank_name"`
	BankAccountNumber string `json:"bank_account_number" binding:"omitempty,numeric,min=9,max=18"`
	BankIfscCode      string `json:"bank_ifsc_code" binding:"omitempty,ifsc"`
}

func (c Client) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

// validate input for both create & update. (id = 0 for create)
func (input *NewClient) validate(ctx context.Context, id int) (State, error) {
	input.ClientGstNumber = upperTrim(input.ClientGstNumber)
	input.BankIfscCode = upperTrim(input.BankIfscCode)
	input.ClientEmail = strings.TrimSpace(input.ClientEmail)
	if err := validateBinding(input); err != nil {
		return "", err
	}
	state, err := NormalizeState(input.ClientState)
	if err != nil {
		return "", NewFieldError("client_state", "unrecognised state")
	}
	mobile, err := normalizePhone("client_mobile", input.ClientMobile)
	if err != nil {
		return "", err
	}
	input.ClientMobile = mobile

	if err := utils.ValidateUnique[Client](ctx, "client_gst_number", input.ClientGstNumber, id); err != nil {
		if strings.HasPrefix(err.Error(), "duplicate") {
			return "", &ConflictError{Message: "client with this GST number already exists"}
		}
		return "", internalError("validate client", err)
	}
	return state, nil
}

func (input *NewClient) toModel(state State) Client {
	return Client{
		ClientName:        strings.TrimSpace(input.ClientName),
		ClientAddress:     strings.TrimSpace(input.ClientAddress),
		ClientState:       string(state),
		ClientGstNumber:   input.ClientGstNumber,
		ClientMobile:      input.ClientMobile,
		ClientEmail:       input.ClientEmail,
		BankName:          strings.TrimSpace(input.BankName),
		BankAccountNumber: strings.TrimSpace(input.BankAccountNumber),
		BankIfscCode:      input.BankIfscCode,
	}
}

// GormClientRepository resolves active clients for invoicing.
type GormClientRepository struct {
	DB *gorm.DB
}

func (r GormClientRepository) Get(ctx context.Context, id int) (*Client, error) {
	var client Client
	if err := r.DB.WithContext(ctx).First(&client, id).Error; err != nil {
		return nil, notFoundOr(err, "client", id, "get client")
	}
	if !client.Active() {
		return nil, &NotFoundError{Entity: "client", Id: id}
	}
	return &client, nil
}

func CreateClient(ctx context.Context, input *NewClient) (*Client, error) {
	state, err := input.validate(ctx, 0)
	if err != nil {
		return nil, err
	}

	client := input.toModel(state)
	client.IsActive = utils.NewTrue()
	if err := config.GetDB().WithContext(ctx).Create(&client).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, &ConflictError{Message: "client with this GST number already exists"}
		}
		return nil, internalError("create client", err)
	}

	RecordAudit(ctx, AuditEvent{
		Action:     AuditActionCreate,
		EntityType: EntityClient,
		EntityId:   client.ID,
		NewValues:  client,
	})
	return &client, nil
}

func GetClient(ctx context.Context, id int) (*Client, error) {
	return GormClientRepository{DB: config.GetDB()}.Get(ctx, id)
}

func UpdateClient(ctx context.Context, id int, input *NewClient) (*Client, error) {
	old, err := GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := input.validate(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := input.toModel(state)
	err = config.GetDB().WithContext(ctx).Model(&Client{ID: id}).Updates(map[string]interface{}{
		"client_name":         updated.ClientName,
		"client_address":      updated.ClientAddress,
		"client_state":        updated.ClientState,
		"client_gst_number":   updated.ClientGstNumber,
		"client_mobile":       updated.ClientMobile,
		"client_email":        updated.ClientEmail,
		"bank_name":           updated.BankName,
		"bank_account_number": updated.BankAccountNumber,
		"bank_ifsc_code":      updated.BankIfscCode,
	}).Error
	if err != nil {
		if isDuplicateKey(err) {
			return nil, &ConflictError{Message: "client with this GST number already exists"}
		}
		return nil, internalError("update client", err)
	}

	result, err := GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	RecordAudit(ctx, AuditEvent{
		Action:     AuditActionUpdate,
		EntityType: EntityClient,
		EntityId:   id,
		OldValues:  old,
		NewValues:  result,
	})
	return result, nil
}

// DeleteClient deactivates the client. Issued invoices keep their snapshot.
func DeleteClient(ctx context.Context, id int) (*Client, error) {
	client, err := GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := config.GetDB().WithContext(ctx).Model(&Client{ID: id}).Update("is_active", false).Error; err != nil {
		return nil, internalError("delete client", err)
	}
	client.IsActive = utils.NewFalse()

	RecordAudit(ctx, AuditEvent{
		Action:     AuditActionDelete,
		EntityType: EntityClient,
		EntityId:   id,
		NewValues:  map[string]any{"is_active": false},
	})
	return client, nil
}

// ListClients returns active clients ordered by name. search matches name or GST number.
func ListClients(ctx context.Context, search string, limit int, offset int) ([]Client, error) {
	dbCtx := config.GetDB().WithContext(ctx).Where("is_active = ?", true)
	if strings.TrimSpace(search) != "" {
		term := likePattern(search)
		dbCtx = dbCtx.Where("(client_name LIKE ? OR client_gst_number LIKE ?)", term, term)
	}
	var results []Client
	err := dbCtx.Order("client_name").
		Limit(normalizeLimit(limit)).
		Offset(max(offset, 0)).
		Find(&results).Error
	if err != nil {
		return nil, internalError("list clients", err)
	}
	return results, nil
}

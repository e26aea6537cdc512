package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleOperator UserRole = "operator"
)

// User is an API operator. There is no tenant or business scoping.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"size:20;not null;default:operator" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required,max=100"`
	Name     string   `json:"name" binding:"required,max=100"`
	Password string   `json:"password" binding:"required,min=8"`
	Role     UserRole `json:"role" binding:"omitempty,oneof=admin operator"`
}

type LoginInfo struct {
	Token     string    `json:"token"`
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrInvalidCredentials is returned for unknown users, wrong passwords and
// disabled accounts alike.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Login checks the credentials and issues a signed token.
func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user User
	err := config.GetDB().WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, internalError("login", err)
	}

	if err := utils.ComparePassword(user.Password, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, internalError("login", err)
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, ErrInvalidCredentials
	}

	token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, internalError("login", err)
	}
	claims, err := utils.JwtValidate(token)
	if err != nil {
		return nil, internalError("login", err)
	}

	return &LoginInfo{
		Token:     token,
		Name:      user.Name,
		Role:      user.Role,
		ExpiresAt: time.Unix(claims.ExpiresAt, 0).UTC(),
	}, nil
}

// UpsertUser creates the user or resets name, role and password of an
// existing one. Used by the seed command.
func UpsertUser(ctx context.Context, db *gorm.DB, input *NewUser) (*User, error) {
	input.Username = strings.TrimSpace(input.Username)
	if input.Role == "" {
		input.Role = UserRoleOperator
	}
	if err := validateBinding(input); err != nil {
		return nil, err
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, internalError("hash password", err)
	}

	var user User
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("username = ?", input.Username).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = User{
				Username: input.Username,
				Name:     strings.TrimSpace(input.Name),
				Password: string(hashed),
				Role:     input.Role,
				IsActive: utils.NewTrue(),
			}
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}
		user.Name = strings.TrimSpace(input.Name)
		user.Password = string(hashed)
		user.Role = input.Role
		user.IsActive = utils.NewTrue()
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, internalError("upsert user", err)
	}
	return &user, nil
}

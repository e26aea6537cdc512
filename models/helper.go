package models

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
	"bitbucket.org/mmdatafocus/gst_billing_backend/utils"
)

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return config.SearchLimit
	}
	return limit
}

// validateBinding runs the `binding` tags of input and converts failures.
func validateBinding(input any) error {
	if err := utils.ValidateStruct(input); err != nil {
		return &ValidationError{
			Message: "validation failed",
			Fields:  utils.ProcessValidationErrors(err),
		}
	}
	return nil
}

func notFoundOr(err error, entity string, id int, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, utils.ErrorRecordNotFound) {
		return &NotFoundError{Entity: entity, Id: id}
	}
	return internalError(op, err)
}

func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(search)) + "%"
}

func upperTrim(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// normalizePhone stores valid numbers in E.164 form; "" stays empty.
func normalizePhone(field string, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	formatted, err := utils.FormatPhoneNumber(phone, utils.CountryCode)
	if err != nil {
		return "", NewFieldError(field, "invalid phone number")
	}
	return formatted, nil
}

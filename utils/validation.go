package utils

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

// RegisterValidations installs the custom tags (gstin, ifsc, phone_in) and
// json field naming on v. Gin's binding engine gets the same registration.
func RegisterValidations(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	if err := v.RegisterValidation("gstin", func(fl validator.FieldLevel) bool {
		return IsValidGSTIN(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
	}); err != nil {
		return err
	}
	if err := v.RegisterValidation("ifsc", func(fl validator.FieldLevel) bool {
		return IsValidIFSC(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
	}); err != nil {
		return err
	}
	return v.RegisterValidation("phone_in", func(fl validator.FieldLevel) bool {
		return ValidatePhoneNumber(fl.Field().String(), CountryCode) == nil
	})
}

// ValidateStruct checks `binding` tags outside of a gin request.
func ValidateStruct(s any) error {
	structValidatorOnce.Do(func() {
		structValidator = validator.New()
		structValidator.SetTagName("binding")
		if err := RegisterValidations(structValidator); err != nil {
			panic(err)
		}
	})
	return structValidator.Struct(s)
}

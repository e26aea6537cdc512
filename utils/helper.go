package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"bitbucket.org/mmdatafocus/gst_billing_backend/config"
)

var CountryCode = "IN"

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z]{1}[1-9A-Z]{1}Z[0-9A-Z]{1}$`)
	ifscPattern  = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
)

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// IsValidGSTIN checks the 15 character GST identification number layout.
func IsValidGSTIN(gstin string) bool {
	return gstinPattern.MatchString(gstin)
}

func IsValidIFSC(code string) bool {
	return ifscPattern.MatchString(code)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil
}

// FormatPhoneNumber returns the E.164 form of a valid number.
func FormatPhoneNumber(phoneNumber, countryCode string) (string, error) {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

// ProcessValidationErrors flattens validator errors into field -> tag.
// Errors of any other type are returned under the "request" key.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["request"] = err.Error()
		return errorResponse
	}

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ParseAmount accepts user formatted amounts such as "50,000", "₹ 1,234.50",
// "Rs. 2000" or "INR -20,000".
func ParseAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s != "" {
		s = strings.ReplaceAll(s, ",", "")
		for _, symbol := range []string{"₹", "INR", "inr", "Rs.", "rs.", "Rs", "rs"} {
			s = strings.ReplaceAll(s, symbol, "")
		}
		s = strings.TrimSpace(s)
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero, errors.New("invalid amount")
	}
	if neg {
		clean = "-" + clean
	}
	return decimal.NewFromString(clean)
}

// TryLock takes a best-effort redis lock. The returned release func is never nil.
// ok=false means the lock was not taken (redis missing, contended or erroring)
// and the caller proceeds without it.
func TryLock(ctx context.Context, key string, ttl time.Duration, moduleName string, functionName string) (release func(), ok bool) {
	noop := func() {}
	locker := config.GetRedisLock()
	if locker == nil {
		return noop, false
	}
	lock, err := locker.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	})
	if err != nil {
		if !errors.Is(err, redislock.ErrNotObtained) {
			config.LogError(config.GetLogger(), moduleName, functionName, "obtain lock", key, err)
		}
		return noop, false
	}
	return func() {
		_ = lock.Release(context.Background())
	}, true
}

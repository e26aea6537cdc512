package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"50000":        "50000",
		"50,000":       "50000",
		" ₹ 1,234.50 ": "1234.5",
		"Rs. 2000":     "2000",
		"INR -20,000":  "-20000",
		"-15.75":       "-15.75",
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("ParseAmount(%q): expected %s, got %s", in, want, got)
		}
	}

	for _, in := range []string{"", "abc", "Rs.", "1.2.3"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, in)
	}
}

func TestIdentifierPatterns(t *testing.T) {
	assert.True(t, IsValidGSTIN("33ABCDE1234F1Z5"))
	assert.False(t, IsValidGSTIN("33abcde1234f1z5"))
	assert.False(t, IsValidGSTIN("33ABCDE1234F1X5"))
	assert.False(t, IsValidGSTIN("3ABCDE1234F1Z5"))

	assert.True(t, IsValidIFSC("SBIN0001234"))
	assert.False(t, IsValidIFSC("SBIN1001234"))

	assert.True(t, IsValidEmail("billing@acme.in"))
	assert.False(t, IsValidEmail("billing@acme"))
}

func TestFormatPhoneNumber(t *testing.T) {
	got, err := FormatPhoneNumber("098765 43210", CountryCode)
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", got)

	_, err = FormatPhoneNumber("12345", CountryCode)
	assert.Error(t, err)
}

func TestValidateStructCustomTags(t *testing.T) {
	type input struct {
		Gstin string `json:"gstin" binding:"required,gstin"`
		Ifsc  string `json:"ifsc" binding:"omitempty,ifsc"`
	}
	assert.NoError(t, ValidateStruct(input{Gstin: "33ABCDE1234F1Z5"}))

	err := ValidateStruct(input{Gstin: "nope", Ifsc: "bad"})
	require.Error(t, err)
	fields := ProcessValidationErrors(err)
	assert.Equal(t, "gstin", fields["gstin"])
	assert.Equal(t, "ifsc", fields["ifsc"])
}

func TestJwtRoundTrip(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")
	token, err := JwtGenerate(7, "operator1", "operator")
	require.NoError(t, err)

	claims, err := JwtValidate(token)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.ID)
	assert.Equal(t, "operator1", claims.Username)
	assert.Equal(t, "operator", claims.Role)

	t.Setenv("API_SECRET", "other-secret")
	_, err = JwtValidate(token)
	assert.Error(t, err)
}

func TestJwtSecretRequiredInProduction(t *testing.T) {
	t.Setenv("API_SECRET", "")
	t.Setenv("GO_ENV", "development")
	require.NoError(t, CheckJwtSecret())
	devToken, err := JwtGenerate(1, "operator1", "operator")
	require.NoError(t, err)

	t.Setenv("GO_ENV", "production")
	assert.ErrorIs(t, CheckJwtSecret(), ErrJwtSecretMissing)
	_, err = JwtGenerate(1, "operator1", "operator")
	assert.ErrorIs(t, err, ErrJwtSecretMissing)
	// a token signed with the development secret is not accepted either
	_, err = JwtValidate(devToken)
	assert.Error(t, err)

	t.Setenv("API_SECRET", "prod-secret")
	require.NoError(t, CheckJwtSecret())
	token, err := JwtGenerate(1, "operator1", "operator")
	require.NoError(t, err)
	_, err = JwtValidate(token)
	assert.NoError(t, err)
}

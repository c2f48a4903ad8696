package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"gte=18"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Age:      20,
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Username: "",
		Email:    "invalid",
		Age:      10,
	}

	err := ValidateStruct(payload)
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 3)

	fields := make([]string, 0, len(vErrs))
	for _, v := range vErrs {
		fields = append(fields, v.Field)
	}
	require.Contains(t, fields, "email")
	require.Contains(t, err.Error(), "age failed on gte=18")
}

func TestPhoneRule(t *testing.T) {
	type contact struct {
		Phone string `json:"phone" validate:"omitempty,phone"`
	}

	for _, ok := range []string{"", "+15550001111", "5550001", "123456789012345"} {
		require.NoError(t, ValidateStruct(contact{Phone: ok}), ok)
	}
	for _, bad := range []string{"555", "+1 555 000 1111", "++15550001111", "1234567890123456", "phone"} {
		err := ValidateStruct(contact{Phone: bad})
		require.Error(t, err, bad)
		require.Equal(t, "phone", err.(ValidationErrors)[0].Tag)
	}
}

func TestNewValidatorRegistersPhoneRule(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	require.NoError(t, v.Var("+15550001111", "phone"))
	require.Error(t, v.Var("555", "phone"))
	require.NotPanics(t, func() { _ = getValidator() })
}

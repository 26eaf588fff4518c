package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gatekeeper/pkg/domain-errors"
)

type sampleRequest struct {
	UserID  string `json:"id" validate:"notblank"`
	Token   string `json:"captcha" validate:"required"`
	IconURL string `json:"guild_icon" validate:"omitempty,url"`
}

func TestValidate(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		err := Validate(&sampleRequest{UserID: "42", Token: "tok"})
		assert.NoError(t, err)
	})

	t.Run("missing token uses json field name", func(t *testing.T) {
		err := Validate(&sampleRequest{UserID: "42"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.Equal(t, "captcha is required", err.Error())
	})

	t.Run("blank id is rejected", func(t *testing.T) {
		err := Validate(&sampleRequest{UserID: "   ", Token: "tok"})
		require.Error(t, err)
		assert.Equal(t, "id must not be blank", err.Error())
	})

	t.Run("malformed url is rejected", func(t *testing.T) {
		err := Validate(&sampleRequest{UserID: "42", Token: "tok", IconURL: "not a url"})
		require.Error(t, err)
		assert.Equal(t, "guild_icon must be a valid url", err.Error())
	})

	t.Run("non-struct values are ignored", func(t *testing.T) {
		assert.NoError(t, Validate("plain"))
	})
}

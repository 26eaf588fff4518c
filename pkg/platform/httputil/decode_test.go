package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gatekeeper/pkg/domain-errors"
)

type confirmBody struct {
	ID      string `json:"id" validate:"required"`
	Captcha string `json:"captcha" validate:"required"`
}

type guildBody struct {
	Guild string `json:"guild"`
}

func (b *guildBody) Validate() error {
	if b.Guild == "0" {
		return errors.New("guild must not be zero")
	}
	return nil
}

type trimmedBody struct {
	ID string `json:"id" validate:"notblank"`
}

func (b *trimmedBody) Normalize() { b.ID = strings.TrimSpace(b.ID) }

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestDecodeJSON(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("decodes body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"42","captcha":"tok"}`))
		w := httptest.NewRecorder()

		got, ok := DecodeJSON[confirmBody](w, req, logger)

		require.True(t, ok)
		assert.Equal(t, &confirmBody{ID: "42", Captcha: "tok"}, got)
	})

	tests := []struct {
		name        string
		body        string
		limit       int64
		wantDetails string
	}{
		{"malformed", `{invalid json}`, 0, "invalid request body"},
		{"empty", ``, 0, "request body is empty"},
		{"over limit", `{"id":"` + strings.Repeat("x", 64) + `"}`, 16, "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.limit > 0 {
				req.Body = http.MaxBytesReader(w, req.Body, tt.limit)
			}

			got, ok := DecodeJSON[confirmBody](w, req, logger)

			assert.False(t, ok)
			assert.Nil(t, got)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, "bad_request", resp.Error)
			assert.Equal(t, tt.wantDetails, resp.Details)
		})
	}
}

func TestPrepareRequest(t *testing.T) {
	t.Run("missing tagged field", func(t *testing.T) {
		err := PrepareRequest(&confirmBody{ID: "42"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.Contains(t, err.Error(), "captcha is required")
	})

	t.Run("plain Validate error becomes a validation error", func(t *testing.T) {
		err := PrepareRequest(&guildBody{Guild: "0"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("normalize runs before tags", func(t *testing.T) {
		b := &trimmedBody{ID: "   "}
		assert.True(t, dErrors.HasCode(PrepareRequest(b), dErrors.CodeInvalidInput))

		b = &trimmedBody{ID: " 42 "}
		require.NoError(t, PrepareRequest(b))
		assert.Equal(t, "42", b.ID)
	})
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"input fault", dErrors.New(dErrors.CodeInvalidInput, "id is required"), http.StatusBadRequest, "bad_request"},
		{"auth fault", dErrors.New(dErrors.CodeUnauthorized, "missing bearer"), http.StatusUnauthorized, "unauthorized"},
		{"configuration fault", dErrors.New(dErrors.CodeConfiguration, "missing secret"), http.StatusInternalServerError, "configuration_error"},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "slow"), http.StatusGatewayTimeout, "timeout"},
		{"reason wins over code", dErrors.WithReason(dErrors.CodeUpstreamRejected, "score_too_low", "low score"), http.StatusBadRequest, "score_too_low"},
		{"downstream fault", dErrors.WithReason(dErrors.CodeDownstreamUnavailable, "downstream_timeout", "timeout"), http.StatusInternalServerError, "downstream_timeout"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			resp := decodeError(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "verification_failed", Label(dErrors.CodeUpstreamRejected))
	assert.Equal(t, "internal_error", Label(dErrors.Code("unmapped")))
}

package types

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeAuthSignatureMissing, http.StatusUnauthorized},
		{ErrCodeAuthSignatureInvalid, http.StatusUnauthorized},
		{ErrCodeNotFoundAccount, http.StatusNotFound},
		{ErrCodeNotFoundSubscription, http.StatusNotFound},
		{ErrCodeConflictEmail, http.StatusConflict},
		{ErrCodeEventSkipped, http.StatusOK},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrCodeUpstreamStripe, http.StatusBadGateway},
		{ErrCodeUpstreamUnavailable, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrorCode("something_new"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	appErr := NewAppError(ErrCodeInternalDB, "failed to upsert account", inner)

	if !errors.Is(appErr, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}

	var target *AppError
	wrapped := NewAppError(ErrCodeUpstreamStripe, "outer", appErr)
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to find an AppError")
	}
	if target.Code != ErrCodeUpstreamStripe {
		t.Errorf("errors.As should find the outermost AppError, got %s", target.Code)
	}
}

func TestSkipEventIsAcknowledged(t *testing.T) {
	err := SkipEvent("no email on payload")
	if err.Code != ErrCodeEventSkipped {
		t.Errorf("code = %s", err.Code)
	}
	if err.HTTPStatus() != http.StatusOK {
		t.Errorf("skip events must map to 200, got %d", err.HTTPStatus())
	}
}

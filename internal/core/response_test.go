package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"memberlane/internal/types"
)

func doError(t *testing.T, err error) (*httptest.ResponseRecorder, APIErrorResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-123"))
	rr := httptest.NewRecorder()

	Error(rr, req, err)

	var resp APIErrorResponse
	if unmarshalErr := json.Unmarshal(rr.Body.Bytes(), &resp); unmarshalErr != nil {
		t.Fatalf("decoding error response: %v", unmarshalErr)
	}
	return rr, resp
}

func TestError_AppErrorMapping(t *testing.T) {
	rr, resp := doError(t, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "bad signature", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if resp.Error.Code != string(types.ErrCodeAuthSignatureInvalid) {
		t.Errorf("code = %s", resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("request id = %s", resp.Error.RequestID)
	}
}

func TestError_WrappedAppError(t *testing.T) {
	inner := types.NewAppError(types.ErrCodeUpstreamUnavailable, "stripe down", nil)
	rr, resp := doError(t, errors.Join(errors.New("context"), inner))

	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
	if resp.Error.Code != string(types.ErrCodeUpstreamUnavailable) {
		t.Errorf("code = %s", resp.Error.Code)
	}
}

func TestError_GenericErrorHidesDetails(t *testing.T) {
	rr, resp := doError(t, errors.New("pq: password authentication failed for user"))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %s", resp.Error.Code)
	}
	if resp.Error.Message != "an unexpected error occurred" {
		t.Errorf("internal error text must not leak, got %q", resp.Error.Message)
	}
}

func TestJSON_WritesEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	JSON(rr, req, http.StatusCreated, map[string]string{"status": "ok"})

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %s", ct)
	}
}

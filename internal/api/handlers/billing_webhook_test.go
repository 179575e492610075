package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"memberlane/internal/billing"
	"memberlane/internal/external"
	"memberlane/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockWebhookVerifier implements external.WebhookVerifier for testing.
type mockWebhookVerifier struct {
	shouldFail bool
	err        error
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		if m.err != nil {
			return m.err
		}
		return errors.New("signature verification failed")
	}
	return nil
}

// mockReconciler implements EventReconciler, recording every dispatch.
type mockReconciler struct {
	checkoutCalls  []billing.CheckoutEvent
	changeCalls    []billing.SubscriptionEvent
	deleteCalls    []string
	paidCalls      []billing.InvoiceEvent
	failedCalls    []billing.InvoiceEvent
	returnedErrors map[string]error // event kind -> error to return
}

func (m *mockReconciler) errFor(kind string) error {
	if m.returnedErrors == nil {
		return nil
	}
	return m.returnedErrors[kind]
}

func (m *mockReconciler) HandleCheckoutCompleted(ctx context.Context, ev billing.CheckoutEvent) error {
	m.checkoutCalls = append(m.checkoutCalls, ev)
	return m.errFor(external.EventCheckoutCompleted)
}

func (m *mockReconciler) HandleSubscriptionChange(ctx context.Context, ev billing.SubscriptionEvent) error {
	m.changeCalls = append(m.changeCalls, ev)
	return m.errFor(external.EventSubUpdated)
}

func (m *mockReconciler) HandleSubscriptionDeleted(ctx context.Context, id string) error {
	m.deleteCalls = append(m.deleteCalls, id)
	return m.errFor(external.EventSubDeleted)
}

func (m *mockReconciler) HandleInvoicePaid(ctx context.Context, ev billing.InvoiceEvent) error {
	m.paidCalls = append(m.paidCalls, ev)
	return m.errFor(external.EventInvoicePaid)
}

func (m *mockReconciler) HandleInvoiceFailed(ctx context.Context, ev billing.InvoiceEvent) error {
	m.failedCalls = append(m.failedCalls, ev)
	return m.errFor(external.EventInvoiceFailed)
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

// buildEvent creates a JSON-encoded webhook event for testing.
func buildEvent(eventType, eventID string, dataObject interface{}) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": int64(1756500000),
		"data": map[string]interface{}{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

func checkoutEventBody() []byte {
	return buildEvent(external.EventCheckoutCompleted, "evt_1", map[string]interface{}{
		"customer":       "cus_1",
		"customer_email": "a@b.com",
		"subscription":   "sub_1",
		"metadata": map[string]string{
			"tier":          "Gold",
			"assessment_id": "ASM-1",
		},
	})
}

func newTestHandler(verifier external.WebhookVerifier, rec EventReconciler) *BillingWebhookHandler {
	return NewBillingWebhookHandler(verifier, rec, "whsec_test", slog.Default())
}

func postWebhook(t *testing.T, h *BillingWebhookHandler, body []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if signed {
		req.Header.Set("Stripe-Signature", "t=1756500000,v1=deadbeef")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	return resp.Error.Code
}

// ---------------------------------------------------------------------------
// Signature and envelope handling
// ---------------------------------------------------------------------------

func TestWebhook_MissingSignatureHeader(t *testing.T) {
	rec := &mockReconciler{}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	rr := postWebhook(t, h, checkoutEventBody(), false)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != string(types.ErrCodeAuthSignatureMissing) {
		t.Errorf("expected auth_signature_missing, got %s", code)
	}
	if len(rec.checkoutCalls) != 0 {
		t.Error("no dispatch should happen for unauthenticated requests")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	rec := &mockReconciler{}
	h := newTestHandler(&mockWebhookVerifier{shouldFail: true}, rec)

	rr := postWebhook(t, h, checkoutEventBody(), true)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != string(types.ErrCodeAuthSignatureInvalid) {
		t.Errorf("expected auth_signature_invalid, got %s", code)
	}
	if len(rec.checkoutCalls) != 0 {
		t.Error("payload must not be processed when the signature fails")
	}
}

func TestWebhook_MalformedJSON(t *testing.T) {
	h := newTestHandler(&mockWebhookVerifier{}, &mockReconciler{})

	rr := postWebhook(t, h, []byte("{not json"), true)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWebhook_OversizedBodyRejected(t *testing.T) {
	h := newTestHandler(&mockWebhookVerifier{}, &mockReconciler{})

	big := bytes.Repeat([]byte("a"), maxWebhookBodySize+1)
	rr := postWebhook(t, h, big, true)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestWebhook_CheckoutCompletedDispatch(t *testing.T) {
	rec := &mockReconciler{}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	rr := postWebhook(t, h, checkoutEventBody(), true)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(rec.checkoutCalls) != 1 {
		t.Fatalf("expected 1 checkout dispatch, got %d", len(rec.checkoutCalls))
	}
	ev := rec.checkoutCalls[0]
	if ev.Email != "a@b.com" {
		t.Errorf("email = %q", ev.Email)
	}
	if ev.StripeSubscriptionID != "sub_1" {
		t.Errorf("subscription id = %q", ev.StripeSubscriptionID)
	}
	if ev.MetadataTier != "Gold" {
		t.Errorf("metadata tier = %q", ev.MetadataTier)
	}
	if ev.AssessmentRef != "ASM-1" {
		t.Errorf("assessment ref = %q", ev.AssessmentRef)
	}
}

func TestWebhook_CheckoutEmailFromCustomerDetails(t *testing.T) {
	rec := &mockReconciler{}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	body := buildEvent(external.EventCheckoutCompleted, "evt_1", map[string]interface{}{
		"customer":     "cus_1",
		"subscription": "sub_1",
		"customer_details": map[string]string{
			"email": "fallback@b.com",
		},
	})
	postWebhook(t, h, body, true)

	if len(rec.checkoutCalls) != 1 || rec.checkoutCalls[0].Email != "fallback@b.com" {
		t.Fatalf("expected email from customer_details, got %+v", rec.checkoutCalls)
	}
}

func TestWebhook_SubscriptionEventsDispatch(t *testing.T) {
	subObj := map[string]interface{}{"id": "sub_1", "customer": "cus_1"}

	tests := []struct {
		eventType string
		verify    func(t *testing.T, rec *mockReconciler)
	}{
		{external.EventSubCreated, func(t *testing.T, rec *mockReconciler) {
			if len(rec.changeCalls) != 1 || rec.changeCalls[0].StripeSubscriptionID != "sub_1" {
				t.Fatalf("change dispatch = %+v", rec.changeCalls)
			}
		}},
		{external.EventSubUpdated, func(t *testing.T, rec *mockReconciler) {
			if len(rec.changeCalls) != 1 || rec.changeCalls[0].StripeCustomerID != "cus_1" {
				t.Fatalf("change dispatch = %+v", rec.changeCalls)
			}
		}},
		{external.EventSubDeleted, func(t *testing.T, rec *mockReconciler) {
			if len(rec.deleteCalls) != 1 || rec.deleteCalls[0] != "sub_1" {
				t.Fatalf("delete dispatch = %+v", rec.deleteCalls)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			rec := &mockReconciler{}
			h := newTestHandler(&mockWebhookVerifier{}, rec)

			rr := postWebhook(t, h, buildEvent(tt.eventType, "evt_1", subObj), true)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			tt.verify(t, rec)
		})
	}
}

func TestWebhook_InvoiceEventsDispatch(t *testing.T) {
	invObj := map[string]interface{}{
		"id":                 "in_1",
		"customer":           "cus_1",
		"subscription":       "sub_1",
		"amount_paid":        int64(4900),
		"currency":           "usd",
		"hosted_invoice_url": "https://pay.example/in_1",
		"created":            int64(1756500000),
	}

	rec := &mockReconciler{}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	rr := postWebhook(t, h, buildEvent(external.EventInvoicePaid, "evt_1", invObj), true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(rec.paidCalls) != 1 {
		t.Fatalf("expected 1 paid dispatch, got %d", len(rec.paidCalls))
	}
	if rec.paidCalls[0].AmountCents != 4900 || rec.paidCalls[0].StripeInvoiceID != "in_1" {
		t.Errorf("paid dispatch = %+v", rec.paidCalls[0])
	}

	rr = postWebhook(t, h, buildEvent(external.EventInvoiceFailed, "evt_2", invObj), true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(rec.failedCalls) != 1 {
		t.Fatalf("expected 1 failed dispatch, got %d", len(rec.failedCalls))
	}
}

func TestWebhook_UnknownEventKindAcknowledged(t *testing.T) {
	rec := &mockReconciler{}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	body := buildEvent("customer.tax_id.created", "evt_1", map[string]string{})
	rr := postWebhook(t, h, body, true)

	if rr.Code != http.StatusOK {
		t.Fatalf("unknown event kinds must be acknowledged, got %d", rr.Code)
	}
	if len(rec.checkoutCalls)+len(rec.changeCalls)+len(rec.deleteCalls)+len(rec.paidCalls)+len(rec.failedCalls) != 0 {
		t.Error("unknown event kinds must not be dispatched")
	}
}

// ---------------------------------------------------------------------------
// Response policy
// ---------------------------------------------------------------------------

func TestWebhook_SkippedEventAcknowledged(t *testing.T) {
	rec := &mockReconciler{
		returnedErrors: map[string]error{
			external.EventCheckoutCompleted: types.SkipEvent("checkout event carries no customer email"),
		},
	}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	rr := postWebhook(t, h, checkoutEventBody(), true)

	if rr.Code != http.StatusOK {
		t.Fatalf("skipped events must be acknowledged with 200, got %d", rr.Code)
	}
	var ack webhookAck
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if !ack.Received || !ack.Skipped {
		t.Errorf("ack = %+v", ack)
	}
}

func TestWebhook_RequiredWriteFailureIsRetryable(t *testing.T) {
	rec := &mockReconciler{
		returnedErrors: map[string]error{
			external.EventCheckoutCompleted: types.NewAppError(
				types.ErrCodeInternalDB, "failed to upsert account", errors.New("timeout")),
		},
	}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	rr := postWebhook(t, h, checkoutEventBody(), true)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("required-write failures must return 500 so the processor retries, got %d", rr.Code)
	}
}

func TestWebhook_UpstreamFailureIsRetryable(t *testing.T) {
	rec := &mockReconciler{
		returnedErrors: map[string]error{
			external.EventSubUpdated: types.NewAppError(
				types.ErrCodeUpstreamUnavailable, "stripe returned 503 after retries", nil),
		},
	}
	h := newTestHandler(&mockWebhookVerifier{}, rec)

	body := buildEvent(external.EventSubUpdated, "evt_1", map[string]interface{}{
		"id": "sub_1", "customer": "cus_1",
	})
	rr := postWebhook(t, h, body, true)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("upstream failures must return a non-2xx status, got %d", rr.Code)
	}
}

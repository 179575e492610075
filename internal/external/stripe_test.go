package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"memberlane/internal/types"
)

const subscriptionJSON = `{
	"id": "sub_123",
	"object": "subscription",
	"customer": "cus_456",
	"status": "active",
	"cancel_at_period_end": false,
	"current_period_start": 1735689600,
	"current_period_end": 1738368000,
	"items": {
		"data": [
			{
				"price": {
					"id": "price_gold_monthly",
					"unit_amount": 2900,
					"recurring": {"interval": "month"}
				}
			}
		]
	}
}`

func newTestStripeClient(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := NewBaseClient(srv.Client(), "stripe-test", testPolicy(), "Memberlane/1.0", noSleep())
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_abc",
		BaseURL:   srv.URL,
	})
}

func TestFetchSubscription_MapsResponse(t *testing.T) {
	var gotPath, gotAuth, gotVersion string
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Stripe-Version")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, subscriptionJSON)
	})

	state, err := client.FetchSubscription(context.Background(), "sub_123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v1/subscriptions/sub_123" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer sk_test_abc" {
		t.Errorf("authorization = %s", gotAuth)
	}
	if gotVersion == "" {
		t.Error("Stripe-Version header not set")
	}

	if state.StripeSubscriptionID != "sub_123" {
		t.Errorf("subscription id = %s", state.StripeSubscriptionID)
	}
	if state.StripeCustomerID != "cus_456" {
		t.Errorf("customer id = %s", state.StripeCustomerID)
	}
	if state.Status != types.SubStatusActive {
		t.Errorf("status = %s", state.Status)
	}
	if state.PriceID != "price_gold_monthly" {
		t.Errorf("price id = %s", state.PriceID)
	}
	if state.UnitAmountCents != 2900 {
		t.Errorf("unit amount = %d", state.UnitAmountCents)
	}
	if state.BillingCycle != types.CycleMonthly {
		t.Errorf("billing cycle = %s", state.BillingCycle)
	}
	if want := time.Unix(1738368000, 0).UTC(); !state.CurrentPeriodEnd.Equal(want) {
		t.Errorf("period end = %v, want %v", state.CurrentPeriodEnd, want)
	}
}

func TestFetchSubscription_AnnualInterval(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "sub_y", "customer": "cus_y", "status": "trialing",
			"current_period_start": 1735689600, "current_period_end": 1767225600,
			"items": {"data": [{"price": {"id": "price_gold_annual", "unit_amount": 29000, "recurring": {"interval": "year"}}}]}
		}`)
	})

	state, err := client.FetchSubscription(context.Background(), "sub_y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.BillingCycle != types.CycleAnnual {
		t.Errorf("billing cycle = %s", state.BillingCycle)
	}
	if state.Status != types.SubStatusTrialing {
		t.Errorf("status = %s", state.Status)
	}
}

func TestFetchSubscription_NotFound(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"type": "invalid_request_error", "message": "No such subscription: sub_missing"}}`)
	})

	_, err := client.FetchSubscription(context.Background(), "sub_missing")
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeNotFoundSubscription {
		t.Errorf("code = %s", appErr.Code)
	}
}

func TestFetchSubscription_ServerErrorSurfacesAsUnavailable(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"type": "api_error", "message": "boom"}}`)
	})

	_, err := client.FetchSubscription(context.Background(), "sub_1")
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("code = %s", appErr.Code)
	}
}

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_1", "type": "invoice.paid"}`)
	header := signPayload(payload, "whsec_test", time.Now())

	v := &StripeVerifier{}
	if err := v.Verify(payload, header, "whsec_test"); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestStripeVerifier_WrongSecret(t *testing.T) {
	payload := []byte(`{"id": "evt_1"}`)
	header := signPayload(payload, "whsec_other", time.Now())

	v := &StripeVerifier{}
	if err := v.Verify(payload, header, "whsec_test"); err == nil {
		t.Fatal("signature from the wrong secret must be rejected")
	}
}

func TestStripeVerifier_StaleTimestamp(t *testing.T) {
	payload := []byte(`{"id": "evt_1"}`)
	header := signPayload(payload, "whsec_test", time.Now().Add(-time.Hour))

	v := &StripeVerifier{}
	if err := v.Verify(payload, header, "whsec_test"); err == nil {
		t.Fatal("stale timestamps must be rejected")
	}
}

func TestStripeVerifier_TamperedPayload(t *testing.T) {
	payload := []byte(`{"id": "evt_1", "amount": 100}`)
	header := signPayload(payload, "whsec_test", time.Now())

	v := &StripeVerifier{}
	tampered := []byte(`{"id": "evt_1", "amount": 999999}`)
	if err := v.Verify(tampered, header, "whsec_test"); err == nil {
		t.Fatal("tampered payloads must be rejected")
	}
}

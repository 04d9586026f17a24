package airtel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"easyswitch/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noEnv(string) (string, bool) { return "", false }

type fakeAirtel struct {
	tokenCalls int32
	handler    http.HandlerFunc
}

func (f *fakeAirtel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/auth/oauth2/token" {
		atomic.AddInt32(&f.tokenCalls, 1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["client_secret"] != "cs" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600,"token_type":"bearer"}`))
		return
	}
	f.handler(w, r)
}

func newAdapter(t *testing.T, fake *fakeAirtel, cfg payment.ProviderConfig) *Adapter {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	if cfg.APIKey == "" {
		cfg.APIKey = "ak"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ci"
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = "cs"
	}
	cfg.BaseURL = server.URL

	a, err := New(cfg, payment.Options{
		Lookup:    noEnv,
		Logger:    zap.NewNop(),
		Transport: payment.TransportSettings{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return a.(*Adapter)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func ugxTx() payment.TransactionDetail {
	return payment.TransactionDetail{
		TransactionID: "tx-100",
		Amount:        decimal.NewFromInt(1000),
		Currency:      payment.CurrencyUGX,
		Customer:      &payment.CustomerInfo{PhoneNumber: "+256 700 000 000", Country: "UG"},
	}
}

func TestNew_RequiresClientCredentials(t *testing.T) {
	_, err := New(payment.ProviderConfig{APIKey: "ak", ClientID: "ci"}, payment.Options{Lookup: noEnv})
	assert.True(t, errors.Is(err, payment.ErrAuthentication))
}

func TestAdapter_Headers(t *testing.T) {
	a := newAdapter(t, &fakeAirtel{}, payment.ProviderConfig{Extra: map[string]string{"country": "ke", "currency": "kes"}})

	h := a.Headers(true)
	assert.Equal(t, "KE", h.Get("X-Country"))
	assert.Equal(t, "KES", h.Get("X-Currency"))
	assert.Empty(t, h.Get("Authorization"), "no token fetched yet")
}

func TestAdapter_SendPayment(t *testing.T) {
	fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/merchant/v1/payments/", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "UG", r.Header.Get("X-Country"))
		assert.Equal(t, "UGX", r.Header.Get("X-Currency"))

		var body struct {
			Reference   string         `json:"reference"`
			Subscriber  map[string]any `json:"subscriber"`
			Transaction map[string]any `json:"transaction"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tx-100", body.Reference)
		assert.Equal(t, "256700000000", body.Subscriber["msisdn"])
		assert.EqualValues(t, 1000, body.Transaction["amount"])
		assert.Equal(t, "tx-100", body.Transaction["id"])

		writeJSON(w, http.StatusOK, `{"data":{"transaction":{"id":"tx-100","status":{"code":"TP","message":"In process"}}},"status":{"success":true}}`)
	}}
	a := newAdapter(t, fake, payment.ProviderConfig{})

	resp, err := a.SendPayment(context.Background(), ugxTx())
	require.NoError(t, err)
	assert.Equal(t, "tx-100", resp.TransactionID)
	assert.Equal(t, payment.StatusPending, resp.Status)
	assert.Equal(t, "256700000000", resp.Metadata["msisdn"])
	assert.Equal(t, "TP", resp.Metadata["provider_status"])
	assert.Equal(t, "Bearer tok-1", a.Headers(true).Get("Authorization"))

	_, err = a.SendPayment(context.Background(), ugxTx())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.tokenCalls), "token is cached")
}

func TestAdapter_SendPayment_Validation(t *testing.T) {
	fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}}
	a := newAdapter(t, fake, payment.ProviderConfig{})

	tx := ugxTx()
	tx.Amount = decimal.NewFromInt(100)
	_, err := a.SendPayment(context.Background(), tx)

	assert.True(t, errors.Is(err, payment.ErrValidation))
	assert.EqualValues(t, 0, atomic.LoadInt32(&fake.tokenCalls))
}

func TestAdapter_TokenFailure(t *testing.T) {
	fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}}
	a := newAdapter(t, fake, payment.ProviderConfig{ClientSecret: "wrong"})

	_, err := a.SendPayment(context.Background(), ugxTx())

	assert.True(t, errors.Is(err, payment.ErrAuthentication))
	assert.Equal(t, http.StatusUnauthorized, payment.StatusCodeOf(err))
}

func TestAdapter_TokenRefreshAfterExpiry(t *testing.T) {
	fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"transaction":{"id":"tx-1","status":{"code":"TS"}}}}`)
	}}
	a := newAdapter(t, fake, payment.ProviderConfig{})

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	_, err := a.CheckStatus(context.Background(), "tx-1")
	require.NoError(t, err)
	clock = clock.Add(54 * time.Minute)
	_, err = a.CheckStatus(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.tokenCalls))

	clock = clock.Add(2 * time.Minute)
	_, err = a.CheckStatus(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fake.tokenCalls))
}

func TestAdapter_ConcurrentCallsShareToken(t *testing.T) {
	fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"transaction":{"id":"tx-1","status":{"code":"TS"}}}}`)
	}}
	a := newAdapter(t, fake, payment.ProviderConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := a.CheckStatus(context.Background(), "tx-1")
			assert.NoError(t, err)
			assert.Equal(t, payment.StatusSuccessful, status)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&fake.tokenCalls))
}

func TestAdapter_CheckStatus(t *testing.T) {
	tests := []struct {
		code string
		want payment.TransactionStatus
	}{
		{"TS", payment.StatusSuccessful},
		{"TF", payment.StatusFailed},
		{"TA", payment.StatusPending},
		{"TR", payment.StatusRefunded},
		{"TC", payment.StatusCancelled},
		{"XX", payment.StatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/standard/v1/payments/tx-1", r.URL.Path)
				writeJSON(w, http.StatusOK, `{"data":{"transaction":{"id":"tx-1","status":{"code":"`+tt.code+`"}}}}`)
			}}
			a := newAdapter(t, fake, payment.ProviderConfig{})

			status, err := a.CheckStatus(context.Background(), "tx-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}

	t.Run("NotFoundCode", func(t *testing.T) {
		fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"data":{"transaction":{"status":{"code":"TN"}}}}`)
		}}
		a := newAdapter(t, fake, payment.ProviderConfig{})

		_, err := a.CheckStatus(context.Background(), "tx-x")
		assert.True(t, errors.Is(err, payment.ErrTransactionNotFound))
	})
}

func TestAdapter_Refund(t *testing.T) {
	t.Run("Full", func(t *testing.T) {
		fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/standard/v1/payments/refund", r.URL.Path)
			writeJSON(w, http.StatusOK, `{"data":{"transaction":{"id":"rf-1","amount":1000,"currency":"UGX","status":{"code":"TS","message":"Refunded"}}}}`)
		}}
		a := newAdapter(t, fake, payment.ProviderConfig{})

		resp, err := a.Refund(context.Background(), "am-1", payment.RefundOptions{})
		require.NoError(t, err)
		assert.Equal(t, "refund-am-1", resp.Reference)
		assert.Equal(t, "rf-1", resp.Metadata["refund_id"])
		assert.Equal(t, payment.CurrencyUGX, resp.Currency)
	})

	t.Run("PartialUnsupported", func(t *testing.T) {
		a := newAdapter(t, &fakeAirtel{}, payment.ProviderConfig{})

		_, err := a.Refund(context.Background(), "am-1", payment.RefundOptions{Amount: decimal.NewFromInt(10)})
		assert.True(t, errors.Is(err, payment.ErrUnsupportedOperation))
	})

	t.Run("Rejected", func(t *testing.T) {
		fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"status":{"message":"Refund window closed"}}`)
		}}
		a := newAdapter(t, fake, payment.ProviderConfig{})

		_, err := a.Refund(context.Background(), "am-1", payment.RefundOptions{})
		assert.True(t, errors.Is(err, payment.ErrRefund))
	})
}

func TestAdapter_CancelUnsupported(t *testing.T) {
	a := newAdapter(t, &fakeAirtel{}, payment.ProviderConfig{})
	_, err := a.CancelTransaction(context.Background(), "tx-1")
	assert.True(t, errors.Is(err, payment.ErrUnsupportedOperation))
}

func TestAdapter_GetTransactionDetail(t *testing.T) {
	fake := &fakeAirtel{handler: func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{
			"transaction":{"id":"tx-1","amount":"2500","currency":"KES","status":{"code":"TS","message":"Success"},"created_at":"2024-03-01T08:00:00"},
			"subscriber":{"msisdn":"254700000000","first_name":"Wanjiru","country":"KE"}}}`)
	}}
	a := newAdapter(t, fake, payment.ProviderConfig{})

	detail, err := a.GetTransactionDetail(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "2500", detail.Amount.String())
	assert.Equal(t, payment.CurrencyKES, detail.Currency)
	assert.Equal(t, payment.StatusSuccessful, detail.Status)
	assert.Equal(t, "Wanjiru", detail.Customer.FirstName)
	assert.Equal(t, "Success", detail.Metadata["status_message"])
	assert.NotNil(t, detail.CreatedAt)
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestAdapter_Webhook(t *testing.T) {
	a := newAdapter(t, &fakeAirtel{}, payment.ProviderConfig{WebhookSecret: "whsec"})
	payload := []byte(`{"transaction":{"id":"tx-1","msisdn":"256700000000","amount":1000,"currency":"UGX","status":{"code":"TS","message":"ok"}}}`)

	t.Run("ValidFallbackHeader", func(t *testing.T) {
		h := http.Header{"X-Signature": {sign("whsec", payload)}, "X-Country": {"UG"}}
		require.True(t, a.ValidateWebhook(payload, h))

		event, err := a.ParseWebhook(payload, h)
		require.NoError(t, err)
		assert.True(t, event.Verified())
		assert.Equal(t, "payment_notification", event.EventType)
		assert.Equal(t, payment.StatusSuccessful, event.Status)
		assert.Equal(t, "256700000000", event.Context["msisdn"])
		assert.Equal(t, "UG", event.Context["country"])
		assert.NotNil(t, event.CreatedAt)
	})

	t.Run("Tampered", func(t *testing.T) {
		h := http.Header{"x-airtel-signature": {sign("whsec", payload)}}
		tampered := []byte(`{"status":"paid"}`)

		assert.False(t, a.ValidateWebhook(tampered, h))
		_, err := a.ParseWebhook(tampered, h)
		assert.True(t, errors.Is(err, payment.ErrWebhookValidation))
	})

	t.Run("APIKeyWithoutWebhookSecret", func(t *testing.T) {
		plain := newAdapter(t, &fakeAirtel{}, payment.ProviderConfig{})
		assert.True(t, plain.ValidateWebhook(payload, http.Header{"x-airtel-signature": {sign("ak", payload)}}))
		assert.False(t, plain.ValidateWebhook(payload, http.Header{"x-airtel-signature": {sign("whsec", payload)}}))
	})
}

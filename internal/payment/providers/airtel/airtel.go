// Package airtel integrates Airtel Money collections. Requests are
// authorised with an OAuth client-credentials token cached per adapter.
package airtel

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"easyswitch/internal/payment"
	"easyswitch/internal/transport"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sandboxURL    = "https://openapiuat.airtel.africa"
	productionURL = "https://openapi.airtel.africa"

	defaultCountry  = "NG"
	defaultCurrency = payment.CurrencyNGN

	// tokenLeeway renews the token before Airtel expires it.
	tokenLeeway        = 5 * time.Minute
	defaultTokenExpiry = time.Hour
)

var statuses = payment.NewStatusMap(map[string]payment.TransactionStatus{
	"ts": payment.StatusSuccessful, // transaction successful
	"tf": payment.StatusFailed,
	"ta": payment.StatusPending, // ambiguous
	"tp": payment.StatusPending,
	"tn": payment.StatusFailed, // not found
	"tr": payment.StatusRefunded,
	"tc": payment.StatusCancelled,
})

var constraints = payment.Constraints{
	Currencies: []payment.Currency{
		payment.CurrencyUGX, payment.CurrencyTZS, payment.CurrencyKES, payment.CurrencyRWF,
		payment.CurrencyZMW, payment.CurrencyMWK, payment.CurrencyNGN, payment.CurrencyCDF,
		payment.CurrencyXOF, payment.CurrencyGHS, payment.CurrencyBIF, payment.CurrencyETB,
		payment.CurrencyBWP, payment.CurrencyZWL,
	},
	MinAmount: map[payment.Currency]decimal.Decimal{
		payment.CurrencyUGX: decimal.NewFromInt(500),
		payment.CurrencyTZS: decimal.NewFromInt(500),
		payment.CurrencyKES: decimal.NewFromInt(10),
		payment.CurrencyRWF: decimal.NewFromInt(100),
		payment.CurrencyZMW: decimal.NewFromInt(1),
		payment.CurrencyMWK: decimal.NewFromInt(100),
		payment.CurrencyNGN: decimal.NewFromInt(50),
		payment.CurrencyCDF: decimal.NewFromInt(500),
		payment.CurrencyXOF: decimal.NewFromInt(100),
		payment.CurrencyGHS: decimal.NewFromInt(1),
		payment.CurrencyBIF: decimal.NewFromInt(500),
		payment.CurrencyETB: decimal.NewFromInt(10),
		payment.CurrencyBWP: decimal.NewFromInt(1),
		payment.CurrencyZWL: decimal.NewFromInt(100),
	},
	MaxAmount: map[payment.Currency]decimal.Decimal{
		payment.CurrencyUGX: decimal.NewFromInt(10_000_000),
		payment.CurrencyTZS: decimal.NewFromInt(10_000_000),
		payment.CurrencyKES: decimal.NewFromInt(500_000),
		payment.CurrencyRWF: decimal.NewFromInt(5_000_000),
		payment.CurrencyZMW: decimal.NewFromInt(50_000),
		payment.CurrencyMWK: decimal.NewFromInt(5_000_000),
		payment.CurrencyNGN: decimal.NewFromInt(1_000_000),
		payment.CurrencyCDF: decimal.NewFromInt(10_000_000),
		payment.CurrencyXOF: decimal.NewFromInt(5_000_000),
		payment.CurrencyGHS: decimal.NewFromInt(50_000),
		payment.CurrencyBIF: decimal.NewFromInt(10_000_000),
		payment.CurrencyETB: decimal.NewFromInt(500_000),
		payment.CurrencyBWP: decimal.NewFromInt(50_000),
		payment.CurrencyZWL: decimal.NewFromInt(10_000_000),
	},
}

type Adapter struct {
	*payment.Base
	client   *transport.Client
	verifier payment.HMACVerifier
	now      func() time.Time

	// refresh serialises token requests; mu guards the cached token.
	refresh     sync.Mutex
	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

var Factory = payment.NewFactory(payment.ProviderAirtel, New)

func New(cfg payment.ProviderConfig, opts payment.Options) (payment.Adapter, error) {
	base, err := payment.NewBase(payment.BaseConfig{
		Provider:       payment.ProviderAirtel,
		SandboxURL:     sandboxURL,
		ProductionURL:  productionURL,
		Constraints:    constraints,
		Statuses:       statuses,
		CredentialRule: payment.RequireAll("api_key", "client_id", "client_secret"),
	}, cfg, opts)
	if err != nil {
		return nil, err
	}

	creds := base.Credentials()
	secret := creds.WebhookSecret
	if secret == "" {
		secret = creds.APIKey
	}

	return &Adapter{
		Base:   base,
		client: transport.ForAdapter(base),
		verifier: payment.HMACVerifier{
			Headers: []string{"x-airtel-signature", "x-signature"},
			Secret:  []byte(secret),
			Hash:    sha256.New,
		},
		now: time.Now,
	}, nil
}

func (a *Adapter) country() string {
	if c := a.Credentials().Extra["country"]; c != "" {
		return strings.ToUpper(c)
	}
	return defaultCountry
}

func (a *Adapter) currency() payment.Currency {
	if c := a.Credentials().Extra["currency"]; c != "" {
		return payment.Currency(strings.ToUpper(c))
	}
	return defaultCurrency
}

// Headers uses the cached access token when authorize is set; it never
// fetches one. Calls that need a fresh token go through authorized.
func (a *Adapter) Headers(authorize bool) http.Header {
	h := a.DefaultHeaders()
	h.Set("X-Country", a.country())
	h.Set("X-Currency", string(a.currency()))
	if authorize {
		a.mu.RLock()
		token := a.token
		a.mu.RUnlock()
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return h
}

func (a *Adapter) cachedToken() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token, a.token != "" && a.now().Before(a.tokenExpiry)
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	if token, ok := a.cachedToken(); ok {
		return token, nil
	}

	a.refresh.Lock()
	defer a.refresh.Unlock()
	if token, ok := a.cachedToken(); ok {
		return token, nil
	}

	creds := a.Credentials()
	resp, err := a.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/auth/oauth2/token",
		JSON: map[string]string{
			"client_id":     creds.ClientID,
			"client_secret": creds.ClientSecret,
			"grant_type":    "client_credentials",
		},
		Idempotent: true,
	})
	if err != nil {
		if payment.KindOf(err) == payment.KindAPI {
			authErr := payment.NewAuthenticationError(a.Provider(), "failed to obtain access token")
			authErr.StatusCode = payment.StatusCodeOf(err)
			authErr.Err = err
			return "", authErr
		}
		return "", err
	}

	token := resp.Data.String("access_token")
	if token == "" {
		return "", payment.NewAuthenticationError(a.Provider(), "token response carried no access_token")
	}
	ttl := defaultTokenExpiry
	if secs := resp.Data.Decimal("expires_in").IntPart(); secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > tokenLeeway {
		ttl -= tokenLeeway
	}

	a.mu.Lock()
	a.token = token
	a.tokenExpiry = a.now().Add(ttl)
	a.mu.Unlock()
	a.Logger().Debug("airtel access token refreshed", zap.Duration("ttl", ttl))
	return token, nil
}

func (a *Adapter) authorized(ctx context.Context, country string, currency payment.Currency) (http.Header, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := a.Headers(false)
	if country != "" {
		h.Set("X-Country", country)
	}
	if currency != "" {
		h.Set("X-Currency", string(currency))
	}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func msisdn(phone string) string {
	return strings.TrimPrefix(payment.NormalizePhone(phone), "+")
}

func (a *Adapter) SendPayment(ctx context.Context, tx payment.TransactionDetail) (*payment.PaymentResponse, error) {
	if err := a.ValidateTransaction(tx); err != nil {
		return nil, err
	}

	country := strings.ToUpper(tx.Customer.Country)
	if country == "" {
		country = a.country()
	}
	reference := tx.Reference
	if reference == "" {
		reference = tx.TransactionID
	}
	id := tx.TransactionID
	if id == "" {
		id = reference
	}
	number := msisdn(tx.Customer.PhoneNumber)

	log := a.Logger().With(
		zap.String("transaction_id", id),
		zap.String("amount", tx.Amount.String()),
		zap.String("currency", string(tx.Currency)),
		zap.String("country", country),
	)

	headers, err := a.authorized(ctx, country, tx.Currency)
	if err != nil {
		log.Error("airtel authentication failed", zap.Error(err))
		return nil, err
	}

	resp, err := a.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/merchant/v1/payments/",
		Headers: headers,
		JSON: map[string]any{
			"reference": reference,
			"subscriber": map[string]any{
				"country":  country,
				"currency": string(tx.Currency),
				"msisdn":   number,
			},
			"transaction": map[string]any{
				"amount":   json.Number(tx.Amount.String()),
				"country":  country,
				"currency": string(tx.Currency),
				"id":       id,
			},
		},
	})
	if err != nil {
		log.Error("airtel collection request failed", zap.Error(err))
		return nil, payment.AsKind(err, payment.KindPayment, "payment request failed")
	}

	txData := resp.Data.Map("data").Map("transaction")
	st := txData.Map("status")
	code := st.String("code")
	if code == "" {
		code = "TP"
	}
	status, meta := a.Statuses().Annotate(code, map[string]any{
		"message": st.String("message"),
		"msisdn":  number,
	})

	transactionID := txData.String("id")
	if transactionID == "" {
		transactionID = txData.String("airtel_money_id")
	}
	if transactionID == "" {
		transactionID = id
	}
	log.Info("airtel collection requested", zap.String("status", string(status)))

	return &payment.PaymentResponse{
		TransactionID:    transactionID,
		Provider:         a.Provider(),
		Status:           status,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		Reference:        reference,
		TransactionToken: txData.String("id"),
		Customer:         tx.Customer,
		RawResponse:      resp.Data.Raw(),
		Metadata:         meta,
	}, nil
}

// enquiry fetches a collection. Airtel answers unknown ids with the TN code
// rather than a 404, both surface as TransactionNotFoundError.
func (a *Adapter) enquiry(ctx context.Context, transactionID string) (payment.Fields, error) {
	headers, err := a.authorized(ctx, "", "")
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(ctx, transport.Request{
		Method:     http.MethodGet,
		Path:       "/standard/v1/payments/" + url.PathEscape(transactionID),
		Headers:    headers,
		Idempotent: true,
	})
	if err != nil {
		if payment.StatusCodeOf(err) == http.StatusNotFound {
			return nil, payment.NewTransactionNotFoundError(a.Provider(), transactionID)
		}
		return nil, err
	}

	data := resp.Data.Map("data")
	if strings.EqualFold(data.Map("transaction").Map("status").String("code"), "tn") {
		return nil, payment.NewTransactionNotFoundError(a.Provider(), transactionID)
	}
	return data, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, transactionID string) (payment.TransactionStatus, error) {
	data, err := a.enquiry(ctx, transactionID)
	if err != nil {
		return payment.StatusUnknown, err
	}
	return a.NormalizeStatus(data.Map("transaction").Map("status").String("code")), nil
}

func (a *Adapter) CancelTransaction(ctx context.Context, transactionID string) (bool, error) {
	return false, a.Unsupported("cancel transaction")
}

// Refund reverses a whole collection. Airtel has no partial refunds.
func (a *Adapter) Refund(ctx context.Context, transactionID string, opts payment.RefundOptions) (*payment.PaymentResponse, error) {
	if opts.Partial() {
		return nil, a.Unsupported("partial refund")
	}

	headers, err := a.authorized(ctx, "", "")
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/standard/v1/payments/refund",
		Headers: headers,
		JSON: map[string]any{
			"transaction": map[string]any{"airtel_money_id": transactionID},
		},
	})
	if err != nil {
		a.Logger().Error("airtel refund failed", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, payment.AsKind(err, payment.KindRefund, "refund failed")
	}

	txData := resp.Data.Map("data").Map("transaction")
	st := txData.Map("status")
	code := st.String("code")
	if code == "" {
		code = "TP"
	}
	status, meta := a.Statuses().Annotate(code, map[string]any{
		"message":   st.String("message"),
		"refund_id": txData.String("id"),
	})
	currency := payment.Currency(txData.String("currency"))
	if currency == "" {
		currency = a.currency()
	}

	return &payment.PaymentResponse{
		TransactionID: transactionID,
		Provider:      a.Provider(),
		Status:        status,
		Amount:        txData.Decimal("amount"),
		Currency:      currency,
		Reference:     "refund-" + transactionID,
		RawResponse:   resp.Data.Raw(),
		Metadata:      meta,
	}, nil
}

func (a *Adapter) GetTransactionDetail(ctx context.Context, transactionID string) (*payment.TransactionDetail, error) {
	data, err := a.enquiry(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	txData := data.Map("transaction")
	sub := data.Map("subscriber")
	st := txData.Map("status")

	status, meta := a.Statuses().Annotate(st.String("code"), map[string]any{
		"status_message": st.String("message"),
		"response_code":  st.String("response_code"),
	})
	id := txData.String("id")
	if id == "" {
		id = txData.String("airtel_money_id")
	}
	if id == "" {
		id = transactionID
	}
	reference := txData.String("reference")
	if reference == "" {
		reference = id
	}
	currency := payment.Currency(txData.String("currency"))
	if currency == "" {
		currency = a.currency()
	}

	return &payment.TransactionDetail{
		TransactionID: id,
		Provider:      a.Provider(),
		Amount:        txData.Decimal("amount"),
		Currency:      currency,
		Status:        status,
		Type:          payment.TransactionPayment,
		Reference:     reference,
		CreatedAt:     txData.Time("created_at"),
		UpdatedAt:     txData.Time("updated_at"),
		CompletedAt:   txData.Time("completed_at"),
		Customer: &payment.CustomerInfo{
			PhoneNumber: sub.String("msisdn"),
			FirstName:   sub.String("first_name"),
			LastName:    sub.String("last_name"),
			Country:     sub.String("country"),
			Metadata:    map[string]any{"subscriber_type": sub.String("type")},
		},
		Metadata: meta,
		RawData:  data.Raw(),
	}, nil
}

func (a *Adapter) ValidateWebhook(payload []byte, headers http.Header) bool {
	return a.verifier.Verify(payload, headers)
}

func (a *Adapter) ParseWebhook(payload []byte, headers http.Header) (*payment.WebhookEvent, error) {
	return payment.VerifyAndParse(a.Provider(), a.verifier, payload, headers, a.decodeWebhook)
}

func (a *Adapter) decodeWebhook(payload []byte, headers http.Header) (*payment.WebhookEvent, error) {
	body, err := payment.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	txData := body.Map("transaction")
	st := txData.Map("status")

	eventType := body.String("event_type")
	if eventType == "" {
		eventType = "payment_notification"
	}
	id := txData.String("id")
	if id == "" {
		id = txData.String("airtel_money_id")
	}
	code := st.String("code")
	if code == "" {
		code = "TN"
	}
	status, meta := a.Statuses().Annotate(code, map[string]any{
		"message":       st.String("message"),
		"response_code": st.String("response_code"),
	})
	currency := payment.Currency(txData.String("currency"))
	if currency == "" {
		currency = a.currency()
	}
	createdAt := txData.Time("created_at")
	if createdAt == nil {
		now := a.now()
		createdAt = &now
	}

	return &payment.WebhookEvent{
		EventType:     eventType,
		TransactionID: id,
		Status:        status,
		Amount:        txData.Decimal("amount"),
		Currency:      currency,
		CreatedAt:     createdAt,
		RawData:       body.Raw(),
		Metadata:      meta,
		Context: map[string]any{
			"msisdn":  txData.String("msisdn"),
			"country": payment.HeaderValue(headers, "x-country"),
		},
	}, nil
}

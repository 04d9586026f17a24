// Package semoa integrates the Semoa order API. The adapter logs in with
// username and password and reuses the returned JWT until shortly before
// its exp claim.
package semoa

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

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	sandboxURL    = "https://sandbox.semoa-payments.com/api"
	productionURL = "https://api.semoa-payments.com/api"

	tokenLeeway        = time.Minute
	defaultTokenExpiry = 30 * time.Minute
)

var statuses = payment.NewStatusMap(map[string]payment.TransactionStatus{
	"pending":   payment.StatusPending,
	"created":   payment.StatusInitiated,
	"initiated": payment.StatusInitiated,
	"paid":      payment.StatusSuccessful,
	"success":   payment.StatusSuccessful,
	"completed": payment.StatusSuccessful,
	"failed":    payment.StatusFailed,
	"error":     payment.StatusError,
	"expired":   payment.StatusExpired,
	"cancelled": payment.StatusCancelled,
	"canceled":  payment.StatusCancelled,
	"refused":   payment.StatusRefused,
})

var constraints = payment.Constraints{
	Currencies: []payment.Currency{payment.CurrencyXOF, payment.CurrencyXAF, payment.CurrencyEUR, payment.CurrencyUSD},
	MinAmount: map[payment.Currency]decimal.Decimal{
		payment.CurrencyXOF: decimal.NewFromInt(100),
		payment.CurrencyXAF: decimal.NewFromInt(100),
		payment.CurrencyEUR: decimal.NewFromInt(1),
		payment.CurrencyUSD: decimal.NewFromInt(1),
	},
	MaxAmount: map[payment.Currency]decimal.Decimal{
		payment.CurrencyXOF: decimal.NewFromInt(1_000_000),
		payment.CurrencyXAF: decimal.NewFromInt(1_000_000),
		payment.CurrencyEUR: decimal.NewFromInt(10_000),
		payment.CurrencyUSD: decimal.NewFromInt(10_000),
	},
}

type Adapter struct {
	*payment.Base
	client   *transport.Client
	verifier payment.HMACVerifier
	now      func() time.Time

	login       sync.Mutex
	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

var Factory = payment.NewFactory(payment.ProviderSemoa, New)

func New(cfg payment.ProviderConfig, opts payment.Options) (payment.Adapter, error) {
	base, err := payment.NewBase(payment.BaseConfig{
		Provider:       payment.ProviderSemoa,
		SandboxURL:     sandboxURL,
		ProductionURL:  productionURL,
		Constraints:    constraints,
		Statuses:       statuses,
		CredentialRule: payment.RequireAll("username", "password", "client_id", "client_secret"),
	}, cfg, opts)
	if err != nil {
		return nil, err
	}

	creds := base.Credentials()
	secret := creds.WebhookSecret
	if secret == "" {
		secret = creds.ClientSecret
	}

	a := &Adapter{
		Base:   base,
		client: transport.ForAdapter(base),
		verifier: payment.HMACVerifier{
			Headers: []string{"x-semoa-signature", "x-signature"},
			Secret:  []byte(secret),
			Hash:    sha256.New,
		},
		now: time.Now,
	}
	// A token supplied up front is used until it expires.
	if creds.Token != "" {
		a.token = creds.Token
		a.tokenExpiry = a.expiryOf(creds.Token, 0)
	}
	return a, nil
}

func (a *Adapter) Headers(authorize bool) http.Header {
	h := a.DefaultHeaders()
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

// expiryOf reads the exp claim without verifying the signature. Tokens that
// carry no exp fall back to expires_in, then to a fixed lifetime.
func (a *Adapter) expiryOf(token string, expiresIn int64) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-tokenLeeway)
		}
	}
	if expiresIn > 0 {
		return a.now().Add(time.Duration(expiresIn)*time.Second - tokenLeeway)
	}
	return a.now().Add(defaultTokenExpiry)
}

func (a *Adapter) cachedToken() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token, a.token != "" && a.now().Before(a.tokenExpiry)
}

func (a *Adapter) authenticate(ctx context.Context) (string, error) {
	if token, ok := a.cachedToken(); ok {
		return token, nil
	}

	a.login.Lock()
	defer a.login.Unlock()
	if token, ok := a.cachedToken(); ok {
		return token, nil
	}

	creds := a.Credentials()
	resp, err := a.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/auth",
		JSON: map[string]string{
			"username":      creds.Username,
			"password":      creds.Password,
			"client_id":     creds.ClientID,
			"client_secret": creds.ClientSecret,
		},
		Idempotent: true,
	})
	if err != nil {
		if payment.KindOf(err) == payment.KindAPI {
			authErr := payment.NewAuthenticationError(a.Provider(), "authentication failed")
			authErr.StatusCode = payment.StatusCodeOf(err)
			authErr.Err = err
			return "", authErr
		}
		return "", err
	}

	token := resp.Data.String("access_token")
	if token == "" {
		return "", payment.NewAuthenticationError(a.Provider(), "login response carried no access_token")
	}
	expiry := a.expiryOf(token, resp.Data.Decimal("expires_in").IntPart())

	a.mu.Lock()
	a.token = token
	a.tokenExpiry = expiry
	a.mu.Unlock()

	a.Logger().Debug("semoa token refreshed", zap.Time("expires_at", expiry))
	return token, nil
}

func (a *Adapter) do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	req.Headers = a.Headers(false)
	req.Headers.Set("Authorization", "Bearer "+token)
	return a.client.Do(ctx, req)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (a *Adapter) SendPayment(ctx context.Context, tx payment.TransactionDetail) (*payment.PaymentResponse, error) {
	if err := a.ValidateTransaction(tx); err != nil {
		return nil, err
	}

	log := a.Logger().With(
		zap.String("transaction_id", tx.TransactionID),
		zap.String("amount", tx.Amount.String()),
		zap.String("currency", string(tx.Currency)),
	)

	order := map[string]any{
		"amount":             json.Number(tx.Amount.String()),
		"currency":           string(tx.Currency),
		"description":        tx.Reason,
		"merchant_reference": orDefault(tx.Reference, tx.TransactionID),
		"client": map[string]any{
			"last_name":  orDefault(tx.Customer.LastName, "Doe"),
			"first_name": orDefault(tx.Customer.FirstName, "John"),
			"phone":      payment.NormalizePhone(tx.Customer.PhoneNumber),
		},
		"metadata":     tx.Metadata,
		"callback_url": a.CallbackURL(tx),
	}
	if ret := a.ReturnURL(tx); ret != "" {
		order["return_url"] = ret
	}

	resp, err := a.do(ctx, transport.Request{Method: http.MethodPost, Path: "/orders", JSON: order})
	if err != nil {
		log.Error("semoa order creation failed", zap.Error(err))
		return nil, payment.AsKind(err, payment.KindPayment, "payment request failed")
	}

	d := resp.Data
	transactionID := orDefault(d.String("orderNum"), tx.TransactionID)
	log.Info("semoa order created", zap.String("order_num", transactionID))

	return &payment.PaymentResponse{
		TransactionID: transactionID,
		Provider:      a.Provider(),
		Status:        payment.StatusPending,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Reference:     d.String("reference"),
		PaymentLink:   d.String("bill_url"),
		CreatedAt:     d.Time("created_at"),
		ExpiresAt:     d.Time("expires_at"),
		Customer:      tx.Customer,
		RawResponse:   d.Raw(),
		Metadata:      tx.Metadata,
	}, nil
}

func (a *Adapter) order(ctx context.Context, transactionID string) (payment.Fields, error) {
	resp, err := a.do(ctx, transport.Request{
		Method:     http.MethodGet,
		Path:       "/orders/" + url.PathEscape(transactionID),
		Idempotent: true,
	})
	if err != nil {
		if payment.StatusCodeOf(err) == http.StatusNotFound {
			return nil, payment.NewTransactionNotFoundError(a.Provider(), transactionID)
		}
		return nil, err
	}
	return resp.Data, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, transactionID string) (payment.TransactionStatus, error) {
	d, err := a.order(ctx, transactionID)
	if err != nil {
		return payment.StatusUnknown, err
	}
	return a.NormalizeStatus(d.String("status")), nil
}

// CancelTransaction deletes a pending order. A 4xx answer means Semoa
// refused to cancel it (already paid or expired) and yields false.
func (a *Adapter) CancelTransaction(ctx context.Context, transactionID string) (bool, error) {
	_, err := a.do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   "/orders/" + url.PathEscape(transactionID),
	})
	if err == nil {
		return true, nil
	}

	code := payment.StatusCodeOf(err)
	switch {
	case code == http.StatusNotFound:
		return false, payment.NewTransactionNotFoundError(a.Provider(), transactionID)
	case payment.KindOf(err) == payment.KindAPI && code >= 400 && code < 500:
		a.Logger().Warn("semoa refused cancellation", zap.String("transaction_id", transactionID), zap.Int("status", code))
		return false, nil
	}
	return false, payment.AsKind(err, payment.KindCancellation, "cancellation failed")
}

func (a *Adapter) Refund(ctx context.Context, transactionID string, opts payment.RefundOptions) (*payment.PaymentResponse, error) {
	return nil, a.Unsupported("refund")
}

func (a *Adapter) GetTransactionDetail(ctx context.Context, transactionID string) (*payment.TransactionDetail, error) {
	d, err := a.order(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	client := d.Map("client")
	status, meta := a.Statuses().Annotate(d.String("status"), d.Map("metadata").Raw())
	return &payment.TransactionDetail{
		TransactionID: orDefault(d.String("orderNum"), transactionID),
		Provider:      a.Provider(),
		Amount:        d.Decimal("amount"),
		Currency:      payment.Currency(d.String("currency")),
		Status:        status,
		Type:          payment.TransactionPayment,
		Reference:     d.String("reference"),
		Reason:        d.String("description"),
		CallbackURL:   d.String("callback_url"),
		CreatedAt:     d.Time("created_at"),
		UpdatedAt:     d.Time("updated_at"),
		Customer: &payment.CustomerInfo{
			PhoneNumber: client.String("phone"),
			FirstName:   client.String("first_name"),
			LastName:    client.String("last_name"),
		},
		Metadata: meta,
		RawData:  d.Raw(),
	}, nil
}

func (a *Adapter) ValidateWebhook(payload []byte, headers http.Header) bool {
	return a.verifier.Verify(payload, headers)
}

func (a *Adapter) ParseWebhook(payload []byte, headers http.Header) (*payment.WebhookEvent, error) {
	return payment.VerifyAndParse(a.Provider(), a.verifier, payload, headers, a.decodeWebhook)
}

func (a *Adapter) decodeWebhook(payload []byte, _ http.Header) (*payment.WebhookEvent, error) {
	body, err := payment.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	// Notifications either wrap the order in "order" or send it flat.
	d := body.Map("order")
	if len(d) == 0 {
		d = body
	}

	status, meta := a.Statuses().Annotate(d.String("status"), nil)
	return &payment.WebhookEvent{
		EventID:       body.String("id"),
		EventType:     orDefault(body.String("event"), "order.status"),
		TransactionID: d.String("orderNum"),
		Status:        status,
		Amount:        d.Decimal("amount"),
		Currency:      payment.Currency(d.String("currency")),
		CreatedAt:     d.Time("created_at"),
		RawData:       body.Raw(),
		Metadata:      meta,
	}, nil
}

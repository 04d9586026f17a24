// Package paystack integrates the Paystack transactions and refunds API.
// Amounts travel in minor units (kobo, pesewas, cents).
package paystack

import (
	"context"
	"crypto/sha512"
	"fmt"
	"net/http"
	"net/url"

	"easyswitch/internal/payment"
	"easyswitch/internal/transport"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const baseURL = "https://api.paystack.co"

var statuses = payment.NewStatusMap(map[string]payment.TransactionStatus{
	"success":    payment.StatusSuccessful,
	"failed":     payment.StatusFailed,
	"abandoned":  payment.StatusCancelled,
	"pending":    payment.StatusPending,
	"ongoing":    payment.StatusProcessing,
	"queued":     payment.StatusPending,
	"processing": payment.StatusProcessing,
	"processed":  payment.StatusRefunded,
	"reversed":   payment.StatusRefunded,
})

var constraints = payment.Constraints{
	Currencies: []payment.Currency{payment.CurrencyNGN, payment.CurrencyGHS, payment.CurrencyUSD},
	MinAmount: map[payment.Currency]decimal.Decimal{
		payment.CurrencyNGN: decimal.NewFromInt(50),
		payment.CurrencyGHS: decimal.RequireFromString("0.10"),
		payment.CurrencyUSD: decimal.NewFromInt(2),
	},
	MaxAmount: map[payment.Currency]decimal.Decimal{
		payment.CurrencyNGN: decimal.NewFromInt(10_000_000),
		payment.CurrencyGHS: decimal.NewFromInt(10_000_000),
		payment.CurrencyUSD: decimal.NewFromInt(10_000_000),
	},
	RequiredCustomerFields: []string{"email"},
}

type Adapter struct {
	*payment.Base
	client   *transport.Client
	verifier payment.HMACVerifier
}

// Factory registers Paystack in a payment.Registry.
var Factory = payment.NewFactory(payment.ProviderPaystack, New)

func New(cfg payment.ProviderConfig, opts payment.Options) (payment.Adapter, error) {
	base, err := payment.NewBase(payment.BaseConfig{
		Provider:       payment.ProviderPaystack,
		SandboxURL:     baseURL,
		ProductionURL:  baseURL,
		Constraints:    constraints,
		Statuses:       statuses,
		CredentialRule: payment.RequireAll("api_key"),
	}, cfg, opts)
	if err != nil {
		return nil, err
	}

	creds := base.Credentials()
	secret := creds.WebhookSecret
	if secret == "" {
		// Paystack signs webhooks with the secret key.
		secret = creds.APIKey
	}

	return &Adapter{
		Base:   base,
		client: transport.ForAdapter(base),
		verifier: payment.HMACVerifier{
			Headers: []string{"x-paystack-signature"},
			Secret:  []byte(secret),
			Hash:    sha512.New,
		},
	}, nil
}

func (a *Adapter) Headers(authorize bool) http.Header {
	h := a.DefaultHeaders()
	if authorize {
		h.Set("Authorization", "Bearer "+a.Credentials().APIKey)
	}
	return h
}

func (a *Adapter) SendPayment(ctx context.Context, tx payment.TransactionDetail) (*payment.PaymentResponse, error) {
	if err := a.ValidateTransaction(tx); err != nil {
		return nil, err
	}

	reference := tx.Reference
	if reference == "" {
		reference = tx.TransactionID
	}
	log := a.Logger().With(
		zap.String("transaction_id", tx.TransactionID),
		zap.String("reference", reference),
		zap.String("amount", tx.Amount.String()),
		zap.String("currency", string(tx.Currency)),
	)

	body := map[string]any{
		"amount":    payment.ToMinorUnits(tx.Amount),
		"currency":  string(tx.Currency),
		"email":     tx.Customer.Email,
		"reference": reference,
		"metadata":  tx.Metadata,
	}
	if cb := a.CallbackURL(tx); cb != "" {
		body["callback_url"] = cb
	}

	resp, err := a.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/transaction/initialize",
		Headers: a.Headers(true),
		JSON:    body,
	})
	if err != nil {
		log.Error("paystack initialize failed", zap.Error(err))
		return nil, payment.AsKind(err, payment.KindPayment, "payment initialization failed")
	}
	if !resp.Data.Bool("status") {
		return nil, payment.NewAPIError(payment.KindPayment, a.Provider(), resp.StatusCode, resp.Data.Raw(), messageOr(resp.Data, "payment initialization failed"))
	}

	data := resp.Data.Map("data")
	log.Info("paystack payment initialized")

	if r := data.String("reference"); r != "" {
		reference = r
	}
	// Paystack only knows the reference: status checks, refunds and
	// webhooks all address the transaction by it.
	meta := data.Raw()
	if tx.TransactionID != "" && tx.TransactionID != reference {
		meta["merchant_transaction_id"] = tx.TransactionID
	}
	return &payment.PaymentResponse{
		TransactionID:    reference,
		Provider:         a.Provider(),
		Status:           payment.StatusPending,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		Reference:        reference,
		PaymentLink:      data.String("authorization_url"),
		TransactionToken: data.String("access_code"),
		Customer:         tx.Customer,
		RawResponse:      resp.Data.Raw(),
		Metadata:         meta,
	}, nil
}

// verify fetches a transaction by the reference used at initialization.
func (a *Adapter) verify(ctx context.Context, reference string) (payment.Fields, error) {
	resp, err := a.client.Do(ctx, transport.Request{
		Method:     http.MethodGet,
		Path:       "/transaction/verify/" + url.PathEscape(reference),
		Headers:    a.Headers(true),
		Idempotent: true,
	})
	if err != nil {
		if payment.KindOf(err) == payment.KindAPI && payment.StatusCodeOf(err) == http.StatusNotFound {
			return nil, payment.NewTransactionNotFoundError(a.Provider(), reference)
		}
		return nil, err
	}
	if !resp.Data.Bool("status") {
		return nil, payment.NewAPIError(payment.KindAPI, a.Provider(), resp.StatusCode, resp.Data.Raw(), messageOr(resp.Data, "transaction verification failed"))
	}
	return resp.Data.Map("data"), nil
}

func (a *Adapter) CheckStatus(ctx context.Context, transactionID string) (payment.TransactionStatus, error) {
	data, err := a.verify(ctx, transactionID)
	if err != nil {
		return payment.StatusUnknown, err
	}
	return a.NormalizeStatus(data.String("status")), nil
}

// CancelTransaction is not offered by Paystack; reversals go through Refund.
func (a *Adapter) CancelTransaction(ctx context.Context, transactionID string) (bool, error) {
	return false, a.Unsupported("cancel transaction")
}

func (a *Adapter) Refund(ctx context.Context, transactionID string, opts payment.RefundOptions) (*payment.PaymentResponse, error) {
	body := map[string]any{"transaction": transactionID}
	if opts.Partial() {
		body["amount"] = payment.ToMinorUnits(opts.Amount)
	}
	if opts.Reason != "" {
		body["merchant_note"] = opts.Reason
	}

	resp, err := a.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "/refund",
		Headers: a.Headers(true),
		JSON:    body,
	})
	if err != nil {
		a.Logger().Error("paystack refund failed", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, payment.AsKind(err, payment.KindRefund, "refund failed")
	}
	if !resp.Data.Bool("status") {
		return nil, payment.NewAPIError(payment.KindRefund, a.Provider(), resp.StatusCode, resp.Data.Raw(), messageOr(resp.Data, "refund failed"))
	}

	data := resp.Data.Map("data")
	reference := data.Map("transaction").String("reference")
	if reference == "" {
		reference = "refund-" + transactionID
	}
	amount := opts.Amount
	if v := data.Decimal("amount"); !v.IsZero() {
		amount = payment.FromMinorUnits(v)
	}
	status, meta := a.Statuses().Annotate(data.String("status"), data.Raw())

	return &payment.PaymentResponse{
		TransactionID: transactionID,
		Provider:      a.Provider(),
		Status:        status,
		Amount:        amount,
		Currency:      payment.Currency(data.String("currency")),
		Reference:     reference,
		RawResponse:   resp.Data.Raw(),
		Metadata:      meta,
	}, nil
}

func (a *Adapter) GetTransactionDetail(ctx context.Context, transactionID string) (*payment.TransactionDetail, error) {
	data, err := a.verify(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	status, meta := a.Statuses().Annotate(data.String("status"), data.Map("metadata").Raw())
	detail := &payment.TransactionDetail{
		TransactionID: transactionID,
		Provider:      a.Provider(),
		Amount:        payment.FromMinorUnits(data.Decimal("amount")),
		Currency:      payment.Currency(data.String("currency")),
		Status:        status,
		Type:          payment.TransactionPayment,
		Reference:     data.String("reference"),
		CreatedAt:     data.Time("created_at"),
		CompletedAt:   data.Time("paid_at"),
		Metadata:      meta,
		RawData:       data.Raw(),
	}
	if c := data.Map("customer"); len(c) > 0 {
		detail.Customer = &payment.CustomerInfo{
			PhoneNumber: c.String("phone"),
			FirstName:   c.String("first_name"),
			LastName:    c.String("last_name"),
			Email:       c.String("email"),
			ID:          c.String("customer_code"),
		}
	}
	return detail, nil
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
	data := body.Map("data")
	event := body.String("event")

	eventID := ""
	if id := data.String("id"); id != "" {
		eventID = fmt.Sprintf("%s:%s", event, id)
	}
	currency := payment.Currency(data.String("currency"))
	status, meta := a.Statuses().Annotate(data.String("status"), nil)
	if email := data.Map("customer").String("email"); email != "" {
		meta["customer_email"] = email
	}

	return &payment.WebhookEvent{
		EventID:       eventID,
		EventType:     event,
		TransactionID: data.String("reference"),
		Status:        status,
		Amount:        payment.FromMinorUnits(data.Decimal("amount")),
		Currency:      currency,
		CreatedAt:     data.Time("created_at"),
		RawData:       body.Raw(),
		Metadata:      meta,
	}, nil
}

func messageOr(data payment.Fields, fallback string) string {
	if msg := data.String("message"); msg != "" {
		return msg
	}
	return fallback
}

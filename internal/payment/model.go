package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies a supported payment aggregator.
type Provider string

const (
	ProviderSemoa    Provider = "SEMOA"
	ProviderBizao    Provider = "BIZAO"
	ProviderCinetPay Provider = "CINETPAY"
	ProviderPayGate  Provider = "PAYGATE"
	ProviderFedaPay  Provider = "FEDAPAY"
	ProviderPaystack Provider = "PAYSTACK"
	ProviderAirtel   Provider = "AIRTEL"
)

var providers = []Provider{
	ProviderSemoa,
	ProviderBizao,
	ProviderCinetPay,
	ProviderPayGate,
	ProviderFedaPay,
	ProviderPaystack,
	ProviderAirtel,
}

// Providers returns every supported provider tag.
func Providers() []Provider {
	out := make([]Provider, len(providers))
	copy(out, providers)
	return out
}

// ParseProvider resolves a provider tag case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	if p.Valid() {
		return p, nil
	}
	return "", NewInvalidProviderError(s)
}

func (p Provider) Valid() bool {
	for _, known := range providers {
		if p == known {
			return true
		}
	}
	return false
}

func (p Provider) String() string { return string(p) }

// Currency is an ISO 4217 code handled by at least one adapter.
type Currency string

const (
	CurrencyXOF Currency = "XOF"
	CurrencyXAF Currency = "XAF"
	CurrencyNGN Currency = "NGN"
	CurrencyGHS Currency = "GHS"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyCDF Currency = "CDF"
	CurrencyGNF Currency = "GNF"
	CurrencyKMF Currency = "KMF"
	CurrencyUGX Currency = "UGX"
	CurrencyTZS Currency = "TZS"
	CurrencyKES Currency = "KES"
	CurrencyRWF Currency = "RWF"
	CurrencyZMW Currency = "ZMW"
	CurrencyMWK Currency = "MWK"
	CurrencyBIF Currency = "BIF"
	CurrencyETB Currency = "ETB"
	CurrencyBWP Currency = "BWP"
	CurrencyZWL Currency = "ZWL"
)

var currencies = []Currency{
	CurrencyXOF, CurrencyXAF, CurrencyNGN, CurrencyGHS, CurrencyEUR,
	CurrencyUSD, CurrencyCDF, CurrencyGNF, CurrencyKMF, CurrencyUGX,
	CurrencyTZS, CurrencyKES, CurrencyRWF, CurrencyZMW, CurrencyMWK,
	CurrencyBIF, CurrencyETB, CurrencyBWP, CurrencyZWL,
}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if c.Valid() {
		return c, nil
	}
	return "", NewValidationError("currency", fmt.Sprintf("unsupported currency %q", s))
}

func (c Currency) Valid() bool {
	for _, known := range currencies {
		if c == known {
			return true
		}
	}
	return false
}

// Country is an ISO 3166 alpha-2 code.
type Country string

const (
	CountryTogo       Country = "TG"
	CountryBenin      Country = "BJ"
	CountryGhana      Country = "GH"
	CountryBurkina    Country = "BF"
	CountryIvoryCoast Country = "CI"
	CountryNigeria    Country = "NG"
	CountryUganda     Country = "UG"
	CountryKenya      Country = "KE"
)

// TransactionStatus is the canonical status every provider status maps to.
type TransactionStatus string

const (
	StatusPending     TransactionStatus = "pending"
	StatusSuccessful  TransactionStatus = "successful"
	StatusFailed      TransactionStatus = "failed"
	StatusError       TransactionStatus = "error"
	StatusCancelled   TransactionStatus = "cancelled"
	StatusRefused     TransactionStatus = "refused"
	StatusDeclined    TransactionStatus = "declined"
	StatusExpired     TransactionStatus = "expired"
	StatusRefunded    TransactionStatus = "refunded"
	StatusProcessing  TransactionStatus = "processing"
	StatusInitiated   TransactionStatus = "initiated"
	StatusUnknown     TransactionStatus = "unknown"
	StatusCompleted   TransactionStatus = "completed"
	StatusTransferred TransactionStatus = "transferred"
)

var statuses = []TransactionStatus{
	StatusPending, StatusSuccessful, StatusFailed, StatusError,
	StatusCancelled, StatusRefused, StatusDeclined, StatusExpired,
	StatusRefunded, StatusProcessing, StatusInitiated, StatusUnknown,
	StatusCompleted, StatusTransferred,
}

func (s TransactionStatus) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsPending reports whether the transaction is still in flight.
func (s TransactionStatus) IsPending() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusInitiated
}

// IsFailed reports whether the transaction ended without moving funds.
func (s TransactionStatus) IsFailed() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusExpired
}

type TransactionType string

const (
	TransactionPayment    TransactionType = "payment"
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionRefund     TransactionType = "refund"
	TransactionTransfer   TransactionType = "transfer"
)

// Environment selects the provider endpoint family.
type Environment string

const (
	EnvironmentSandbox     Environment = "sandbox"
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

func (e Environment) Valid() bool {
	return e == EnvironmentSandbox || e == EnvironmentDevelopment || e == EnvironmentProduction
}

type CustomerInfo struct {
	PhoneNumber string         `json:"phone_number" validate:"required"`
	FirstName   string         `json:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty"`
	Email       string         `json:"email,omitempty" validate:"omitempty,email"`
	Address     string         `json:"address,omitempty"`
	City        string         `json:"city,omitempty"`
	Country     string         `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	PostalCode  string         `json:"postal_code,omitempty"`
	State       string         `json:"state,omitempty"`
	ID          string         `json:"id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TransactionDetail describes a transaction before dispatch or as reported
// back by a provider. A sent detail is never reused: retries use a new one.
type TransactionDetail struct {
	TransactionID string            `json:"transaction_id"`
	Provider      Provider          `json:"provider"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      Currency          `json:"currency"`
	Status        TransactionStatus `json:"status"`
	Type          TransactionType   `json:"transaction_type"`
	Customer      *CustomerInfo     `json:"customer,omitempty"`
	Reference     string            `json:"reference,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	CallbackURL   string            `json:"callback_url,omitempty"`
	ReturnURL     string            `json:"return_url,omitempty"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	UpdatedAt     *time.Time        `json:"updated_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	RawData       map[string]any    `json:"raw_data,omitempty"`
}

// TransactionType defaults to payment when unset.
func (t TransactionDetail) TransactionType() TransactionType {
	if t.Type == "" {
		return TransactionPayment
	}
	return t.Type
}

type PaymentResponse struct {
	TransactionID    string            `json:"transaction_id"`
	Provider         Provider          `json:"provider"`
	Status           TransactionStatus `json:"status"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         Currency          `json:"currency"`
	Reference        string            `json:"reference,omitempty"`
	PaymentLink      string            `json:"payment_link,omitempty"`
	TransactionToken string            `json:"transaction_token,omitempty"`
	CreatedAt        *time.Time        `json:"created_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	Customer         *CustomerInfo     `json:"customer,omitempty"`
	RawResponse      map[string]any    `json:"raw_response,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

func (r *PaymentResponse) IsSuccessful() bool { return r.Status == StatusSuccessful }
func (r *PaymentResponse) IsPending() bool    { return r.Status.IsPending() }
func (r *PaymentResponse) IsFailed() bool     { return r.Status.IsFailed() }

// WebhookEvent is a provider notification that passed signature
// verification. Only VerifyAndParse produces events with Verified() true.
type WebhookEvent struct {
	EventID       string            `json:"event_id,omitempty"`
	EventType     string            `json:"event_type"`
	Provider      Provider          `json:"provider"`
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      Currency          `json:"currency"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	RawData       map[string]any    `json:"raw_data,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Context       map[string]any    `json:"context,omitempty"`

	verified bool
}

func (e *WebhookEvent) Verified() bool { return e != nil && e.verified }

// ApiCredentials is resolved once at adapter construction and never mutated
// afterwards.
type ApiCredentials struct {
	Provider      Provider `json:"provider"`
	APIKey        string   `json:"api_key,omitempty"`
	APISecret     string   `json:"api_secret,omitempty"`
	ClientID      string   `json:"client_id,omitempty"`
	ClientSecret  string   `json:"client_secret,omitempty"`
	MerchantID    string   `json:"merchant_id,omitempty"`
	Token         string   `json:"token,omitempty"`
	MasterKey     string   `json:"master_key,omitempty"`
	PrivateKey    string   `json:"private_key,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	AppID         string   `json:"app_id,omitempty"`
	WebhookSecret string   `json:"webhook_secret,omitempty"`
	CallbackURL   string   `json:"callback_url,omitempty"`
	ReturnURL     string   `json:"return_url,omitempty"`
	Channels      string   `json:"channels,omitempty"`
	Lang          string   `json:"lang,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// ProviderConfig holds per-provider settings. Adapters keep a read-only copy.
type ProviderConfig struct {
	APIKey        string            `yaml:"api_key" json:"api_key"`
	APISecret     string            `yaml:"api_secret" json:"api_secret"`
	ClientID      string            `yaml:"client_id" json:"client_id"`
	ClientSecret  string            `yaml:"client_secret" json:"client_secret"`
	MerchantID    string            `yaml:"merchant_id" json:"merchant_id"`
	Token         string            `yaml:"token" json:"token"`
	Username      string            `yaml:"username" json:"username"`
	Password      string            `yaml:"password" json:"password"`
	AppID         string            `yaml:"app_id" json:"app_id"`
	WebhookSecret string            `yaml:"webhook_secret" json:"webhook_secret"`
	BaseURL       string            `yaml:"base_url" json:"base_url"`
	CallbackURL   string            `yaml:"callback_url" json:"callback_url"`
	ReturnURL     string            `yaml:"return_url" json:"return_url"`
	Timeout       time.Duration     `yaml:"-" json:"timeout"`
	Environment   Environment       `yaml:"environment" json:"environment"`
	Extra         map[string]string `yaml:"extra" json:"extra"`
}

const DefaultTimeout = 30 * time.Second

func (c ProviderConfig) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c ProviderConfig) EffectiveEnvironment() Environment {
	if c.Environment == "" {
		return EnvironmentSandbox
	}
	return c.Environment
}

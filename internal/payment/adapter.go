package payment

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adapter is the operation set every provider implementation exposes.
// Constructed adapters must be safe for concurrent use.
type Adapter interface {
	Provider() Provider

	// Headers builds the request headers. It performs no I/O.
	Headers(authorize bool) http.Header
	// Credentials returns the credentials validated at construction.
	Credentials() ApiCredentials
	ValidateCredentials(creds ApiCredentials) bool

	// SendPayment validates tx before any network call. A dropped response
	// does not mean the payment did not happen: reconcile with CheckStatus
	// instead of sending again.
	SendPayment(ctx context.Context, tx TransactionDetail) (*PaymentResponse, error)
	CheckStatus(ctx context.Context, transactionID string) (TransactionStatus, error)
	// CancelTransaction returns UnsupportedOperationError when the provider
	// cannot cancel, and false when it refused this cancellation.
	CancelTransaction(ctx context.Context, transactionID string) (bool, error)
	Refund(ctx context.Context, transactionID string, opts RefundOptions) (*PaymentResponse, error)
	GetTransactionDetail(ctx context.Context, transactionID string) (*TransactionDetail, error)

	// ValidateWebhook never fails; it returns false for anything it cannot
	// authenticate.
	ValidateWebhook(payload []byte, headers http.Header) bool
	// ParseWebhook fails with WebhookValidationError unless ValidateWebhook
	// accepts the same payload and headers.
	ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error)

	NormalizeStatus(raw string) TransactionStatus
}

// RefundOptions with a zero Amount refunds the full transaction.
type RefundOptions struct {
	Amount decimal.Decimal
	Reason string
}

func (o RefundOptions) Partial() bool { return !o.Amount.IsZero() }

// AdapterFactory builds adapters for one provider. Registries hand out the
// same factory value for every lookup of a key.
type AdapterFactory interface {
	Provider() Provider
	New(cfg ProviderConfig, opts Options) (Adapter, error)
}

// FactoryFunc adapts a constructor into an AdapterFactory.
type FactoryFunc struct {
	provider Provider
	build    func(cfg ProviderConfig, opts Options) (Adapter, error)
}

func NewFactory(provider Provider, build func(cfg ProviderConfig, opts Options) (Adapter, error)) *FactoryFunc {
	return &FactoryFunc{provider: provider, build: build}
}

func (f *FactoryFunc) Provider() Provider { return f.provider }

func (f *FactoryFunc) New(cfg ProviderConfig, opts Options) (Adapter, error) {
	return f.build(cfg, opts)
}

// Options carries construction-time collaborators. Context is consumed for
// observability only.
type Options struct {
	Context    map[string]any
	Logger     *zap.Logger
	HTTPClient *http.Client
	Lookup     LookupFunc
	Transport  TransportSettings
}

// TransportSettings tunes the outbound client built for each adapter.
type TransportSettings struct {
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	Backoff           time.Duration
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
}

// TraceID returns the trace id from the observability context, if any.
func (o Options) TraceID() string {
	if v, ok := o.Context["trace_id"].(string); ok {
		return v
	}
	return ""
}

// Debug reports whether verbose request logging was requested.
func (o Options) Debug() bool {
	v, _ := o.Context["debug"].(bool)
	return v
}

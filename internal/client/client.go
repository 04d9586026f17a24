// Package client dispatches payment operations to the adapter configured
// for each provider.
package client

import (
	"context"
	"fmt"
	"net/http"

	"easyswitch/internal/cache"
	"easyswitch/internal/config"
	"easyswitch/internal/logger"
	"easyswitch/internal/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Client struct {
	adapters        map[payment.Provider]payment.Adapter
	order           []payment.Provider
	defaultProvider payment.Provider
	currency        payment.Currency
	store           cache.IdempotencyStore
	repo            payment.Repository
	log             *zap.Logger
}

type Option func(*settings)

type settings struct {
	registry *payment.Registry
	store    cache.IdempotencyStore
	repo     payment.Repository
	log      *zap.Logger
	opts     payment.Options
}

// WithRegistry selects the registry adapters are built from. The default is
// payment.DefaultRegistry().
func WithRegistry(r *payment.Registry) Option {
	return func(s *settings) { s.registry = r }
}

// WithIdempotencyStore guards SendPayment against duplicate submissions.
func WithIdempotencyStore(store cache.IdempotencyStore) Option {
	return func(s *settings) { s.store = store }
}

// WithRepository journals every accepted payment so webhooks can be
// matched against it.
func WithRepository(repo payment.Repository) Option {
	return func(s *settings) { s.repo = repo }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithAdapterOptions passes collaborators such as an HTTP client or
// transport settings to every adapter.
func WithAdapterOptions(o payment.Options) Option {
	return func(s *settings) { s.opts = o }
}

// New builds one adapter per configured provider. Without an explicit
// default provider the first provider in sorted order is used.
func New(cfg config.EasySwitch, options ...Option) (*Client, error) {
	s := settings{registry: payment.DefaultRegistry()}
	for _, o := range options {
		o(&s)
	}
	if s.log == nil {
		s.log = logger.L()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	providers := cfg.ProviderKeys()
	if len(providers) == 0 {
		return nil, payment.NewConfigurationError("no providers configured")
	}

	adapterOpts := s.opts
	adapterOpts.Context = make(map[string]any, len(s.opts.Context)+2)
	for k, v := range s.opts.Context {
		adapterOpts.Context[k] = v
	}
	if _, ok := adapterOpts.Context["trace_id"]; !ok {
		adapterOpts.Context["trace_id"] = uuid.NewString()
	}
	if cfg.Debug {
		adapterOpts.Context["debug"] = true
	}
	if adapterOpts.Logger == nil {
		adapterOpts.Logger = s.log
	}

	c := &Client{
		adapters: make(map[payment.Provider]payment.Adapter, len(providers)),
		order:    providers,
		currency: cfg.DefaultCurrency,
		store:    s.store,
		repo:     s.repo,
		log:      s.log,
	}
	for _, p := range providers {
		factory, err := s.registry.Get(string(p))
		if err != nil {
			return nil, err
		}
		pc, _ := cfg.ProviderConfig(p)
		adapter, err := factory.New(pc, adapterOpts)
		if err != nil {
			return nil, fmt.Errorf("init %s adapter: %w", p, err)
		}
		c.adapters[p] = adapter
	}

	c.defaultProvider = cfg.DefaultProvider
	if c.defaultProvider == "" {
		c.defaultProvider = providers[0]
	}

	c.log.Info("payment client ready",
		zap.Strings("providers", providerNames(providers)),
		zap.String("default_provider", string(c.defaultProvider)),
	)
	return c, nil
}

func providerNames(ps []payment.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

// Providers returns the configured providers in sorted order.
func (c *Client) Providers() []payment.Provider {
	out := make([]payment.Provider, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Client) DefaultProvider() payment.Provider { return c.defaultProvider }

// DefaultCurrency is applied by SendPayment to transactions without one.
func (c *Client) DefaultCurrency() payment.Currency { return c.currency }

// Adapter returns the adapter for p. An empty p selects the default
// provider.
func (c *Client) Adapter(p payment.Provider) (payment.Adapter, error) {
	if p == "" {
		p = c.defaultProvider
	}
	a, ok := c.adapters[p]
	if !ok {
		return nil, payment.NewInvalidProviderError(string(p))
	}
	return a, nil
}

func idempotencyKey(p payment.Provider, transactionID string) string {
	return string(p) + ":" + transactionID
}

// SendPayment sends tx through tx.Provider, or the default provider. With an
// idempotency store a transaction id is submitted at most once: a repeat
// fails with DuplicateSubmissionError until the first attempt is settled.
func (c *Client) SendPayment(ctx context.Context, tx payment.TransactionDetail) (*payment.PaymentResponse, error) {
	adapter, err := c.Adapter(tx.Provider)
	if err != nil {
		return nil, err
	}
	provider := adapter.Provider()
	tx.Provider = provider
	if tx.Currency == "" {
		tx.Currency = c.currency
	}

	log := c.log.With(
		zap.String("provider", string(provider)),
		zap.String("transaction_id", tx.TransactionID),
	)
	if id := logger.RequestIDFrom(ctx); id != "" {
		log = log.With(zap.String("request_id", id))
	}

	if c.store == nil || tx.TransactionID == "" {
		resp, err := adapter.SendPayment(ctx, tx)
		c.journal(ctx, log, resp, err)
		return resp, err
	}

	key := idempotencyKey(provider, tx.TransactionID)
	dup, err := c.store.CheckOrSetInProgress(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if dup {
		log.Warn("duplicate payment submission rejected")
		return nil, payment.NewDuplicateSubmissionError(provider, tx.TransactionID)
	}

	resp, err := adapter.SendPayment(ctx, tx)
	c.settle(ctx, log, key, err)
	c.journal(ctx, log, resp, err)
	return resp, err
}

// journal records an accepted payment. A journal failure is logged but
// does not fail the send: the provider already has the payment.
func (c *Client) journal(ctx context.Context, log *zap.Logger, resp *payment.PaymentResponse, sendErr error) {
	if c.repo == nil || sendErr != nil || resp == nil {
		return
	}
	if err := c.repo.SaveTransaction(context.WithoutCancel(ctx), resp); err != nil {
		log.Error("failed to journal transaction", zap.Error(err))
	}
}

// settle records the outcome of a guarded send. Errors raised before the
// request reached the provider release the key. A network failure keeps it
// in progress until it expires because the provider may have accepted the
// payment.
func (c *Client) settle(ctx context.Context, log *zap.Logger, key string, sendErr error) {
	// The outcome must be recorded even if the caller gave up.
	ctx = context.WithoutCancel(ctx)

	var err error
	switch payment.KindOf(sendErr) {
	case "":
		if sendErr != nil {
			err = c.store.Release(ctx, key)
			break
		}
		err = c.store.SetCompleted(ctx, key)
	case payment.KindValidation, payment.KindAuthentication, payment.KindConfiguration,
		payment.KindUnsupportedOperation, payment.KindInvalidProvider, payment.KindRateLimit:
		err = c.store.Release(ctx, key)
	case payment.KindNetwork:
		log.Warn("payment outcome unknown, reconcile with CheckStatus", zap.Error(sendErr))
		return
	default:
		err = c.store.SetCompleted(ctx, key)
	}
	if err != nil {
		log.Error("failed to record idempotency outcome", zap.Error(err))
	}
}

func (c *Client) CheckStatus(ctx context.Context, p payment.Provider, transactionID string) (payment.TransactionStatus, error) {
	adapter, err := c.Adapter(p)
	if err != nil {
		return payment.StatusUnknown, err
	}
	return adapter.CheckStatus(ctx, transactionID)
}

func (c *Client) CancelTransaction(ctx context.Context, p payment.Provider, transactionID string) (bool, error) {
	adapter, err := c.Adapter(p)
	if err != nil {
		return false, err
	}
	return adapter.CancelTransaction(ctx, transactionID)
}

func (c *Client) Refund(ctx context.Context, p payment.Provider, transactionID string, opts payment.RefundOptions) (*payment.PaymentResponse, error) {
	adapter, err := c.Adapter(p)
	if err != nil {
		return nil, err
	}
	return adapter.Refund(ctx, transactionID, opts)
}

func (c *Client) GetTransactionDetail(ctx context.Context, p payment.Provider, transactionID string) (*payment.TransactionDetail, error) {
	adapter, err := c.Adapter(p)
	if err != nil {
		return nil, err
	}
	return adapter.GetTransactionDetail(ctx, transactionID)
}

// ValidateWebhook returns false for providers that are not configured.
func (c *Client) ValidateWebhook(p payment.Provider, payload []byte, headers http.Header) bool {
	adapter, err := c.Adapter(p)
	if err != nil {
		return false
	}
	return adapter.ValidateWebhook(payload, headers)
}

func (c *Client) ParseWebhook(p payment.Provider, payload []byte, headers http.Header) (*payment.WebhookEvent, error) {
	adapter, err := c.Adapter(p)
	if err != nil {
		return nil, err
	}
	return adapter.ParseWebhook(payload, headers)
}

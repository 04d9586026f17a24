package payment

import (
	"net/http"
	"strings"

	"easyswitch/internal/logger"

	"go.uber.org/zap"
)

// UserAgent is sent on every outbound request.
const UserAgent = "easyswitch-go/1.0"

// BaseConfig is what a provider implementation declares about itself.
type BaseConfig struct {
	Provider       Provider
	SandboxURL     string
	ProductionURL  string
	Constraints    Constraints
	Statuses       StatusMap
	CredentialRule CredentialRule
}

// Base holds the logic shared by all adapters. Provider implementations
// embed it and add the calls specific to their API.
type Base struct {
	decl  BaseConfig
	cfg   ProviderConfig
	creds ApiCredentials
	opts  Options
	log   *zap.Logger
}

// NewBase resolves and validates credentials once. Incomplete credentials
// fail with an AuthenticationError.
func NewBase(decl BaseConfig, cfg ProviderConfig, opts Options) (*Base, error) {
	if decl.CredentialRule == nil {
		decl.CredentialRule = DefaultCredentialRule
	}
	if cfg.Environment != "" && !cfg.Environment.Valid() {
		return nil, NewConfigurationError("environment must be sandbox, development or production")
	}

	creds := ResolveCredentials(decl.Provider, cfg, opts.Lookup)
	if !decl.CredentialRule(creds) {
		return nil, NewAuthenticationError(decl.Provider, "incomplete credentials")
	}

	log := opts.Logger
	if log == nil {
		log = logger.L()
	}
	log = log.With(zap.String("provider", string(decl.Provider)))
	if id := opts.TraceID(); id != "" {
		log = log.With(zap.String("trace_id", id))
	}

	return &Base{decl: decl, cfg: cfg, creds: creds, opts: opts, log: log}, nil
}

func (b *Base) Provider() Provider { return b.decl.Provider }
func (b *Base) Config() ProviderConfig { return b.cfg }
func (b *Base) Credentials() ApiCredentials { return b.creds }
func (b *Base) Constraints() Constraints { return b.decl.Constraints }
func (b *Base) Options() Options { return b.opts }
func (b *Base) Logger() *zap.Logger { return b.log }

func (b *Base) NormalizeStatus(raw string) TransactionStatus {
	return b.decl.Statuses.Normalize(raw)
}

func (b *Base) Statuses() StatusMap { return b.decl.Statuses }

func (b *Base) ValidateCredentials(c ApiCredentials) bool {
	return b.decl.CredentialRule(c)
}

func (b *Base) ValidateTransaction(tx TransactionDetail) error {
	return ValidateTransaction(tx, b.decl.Constraints)
}

// BaseURL prefers an explicit base_url, then the endpoint for the
// configured environment.
func (b *Base) BaseURL() string {
	if b.cfg.BaseURL != "" {
		return strings.TrimRight(b.cfg.BaseURL, "/")
	}
	if b.cfg.EffectiveEnvironment() == EnvironmentProduction {
		return strings.TrimRight(b.decl.ProductionURL, "/")
	}
	return strings.TrimRight(b.decl.SandboxURL, "/")
}

func (b *Base) CallbackURL(tx TransactionDetail) string {
	if tx.CallbackURL != "" {
		return tx.CallbackURL
	}
	return b.creds.CallbackURL
}

func (b *Base) ReturnURL(tx TransactionDetail) string {
	if tx.ReturnURL != "" {
		return tx.ReturnURL
	}
	return b.creds.ReturnURL
}

// DefaultHeaders are the headers common to every provider.
func (b *Base) DefaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("User-Agent", UserAgent)
	return h
}

func (b *Base) Unsupported(operation string) error {
	return NewUnsupportedOperationError(b.decl.Provider, operation)
}

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"easyswitch/internal/payment"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string
	AppPort    string
	AppEnv     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// WebhookRateLimit is the number of webhook requests per second
	// accepted from a single source.
	WebhookRateLimit float64
	WebhookBurst     int

	// OpsJWTSecret signs tokens for the operator API. Empty disables it.
	OpsJWTSecret string

	EasySwitch EasySwitch
}

// EasySwitch is the provider-facing part of the configuration. It has the
// same shape whether it comes from the environment or from a file.
type EasySwitch struct {
	Environment     payment.Environment                         `yaml:"environment"`
	Timeout         time.Duration                               `yaml:"timeout"`
	Debug           bool                                        `yaml:"debug"`
	DefaultCurrency payment.Currency                            `yaml:"currency"`
	DefaultProvider payment.Provider                            `yaml:"default_provider"`
	Providers       map[payment.Provider]payment.ProviderConfig `yaml:"providers"`
}

// ProviderKeys returns the configured providers in sorted order.
func (e EasySwitch) ProviderKeys() []payment.Provider {
	keys := make([]payment.Provider, 0, len(e.Providers))
	for p := range e.Providers {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Validate checks the invariants that span providers. Credential
// completeness is left to each adapter.
func (e EasySwitch) Validate() error {
	if e.Environment != "" && !e.Environment.Valid() {
		return payment.NewConfigurationError(fmt.Sprintf("invalid environment %q: must be sandbox, development or production", e.Environment))
	}
	if e.DefaultCurrency != "" && !e.DefaultCurrency.Valid() {
		return payment.NewConfigurationError(fmt.Sprintf("unsupported default currency %q", e.DefaultCurrency))
	}
	if e.Timeout < 0 {
		return payment.NewConfigurationError("timeout must not be negative")
	}
	for p, pc := range e.Providers {
		if !p.Valid() {
			return payment.NewConfigurationError(fmt.Sprintf("unsupported provider %q", p))
		}
		if pc.Environment != "" && !pc.Environment.Valid() {
			return payment.NewConfigurationError(fmt.Sprintf("invalid environment %q for provider %s", pc.Environment, p))
		}
	}
	if e.DefaultProvider != "" {
		if _, ok := e.Providers[e.DefaultProvider]; !ok {
			return payment.NewConfigurationError(fmt.Sprintf("default provider %s is not in the providers map", e.DefaultProvider))
		}
	}
	return nil
}

func (c *Config) Validate() error {
	return c.EasySwitch.Validate()
}

// LoadConfig reads .env when present, then the process environment. A file
// named by EASYSWITCH_CONFIG_FILE is merged on top of the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:        os.Getenv("DB_HOST"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		AppPort:       getEnv("APP_PORT", "8080"),
		AppEnv:        getEnv("APP_ENV", "development"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		OpsJWTSecret:  os.Getenv("OPS_JWT_SECRET"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.WebhookRateLimit, err = getFloat("WEBHOOK_RATE_LIMIT", 20); err != nil {
		return nil, err
	}
	if cfg.WebhookBurst, err = getInt("WEBHOOK_BURST", 40); err != nil {
		return nil, err
	}

	es, err := loadEasySwitchEnv()
	if err != nil {
		return nil, err
	}
	if path := os.Getenv("EASYSWITCH_CONFIG_FILE"); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		es = Merge(es, *file)
	}
	cfg.EasySwitch = es

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, payment.NewConfigurationError(fmt.Sprintf("%s must be an integer, got %q", key, v))
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, payment.NewConfigurationError(fmt.Sprintf("%s must be a number, got %q", key, v))
	}
	return f, nil
}

// parseTimeout accepts a Go duration ("30s") or a bare number of seconds.
func parseTimeout(key, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, payment.NewConfigurationError(fmt.Sprintf("%s must be a duration, got %q", key, v))
	}
	return d, nil
}

func loadEasySwitchEnv() (EasySwitch, error) {
	es := EasySwitch{
		Environment:     payment.Environment(strings.ToLower(os.Getenv(payment.EnvPrefix + "_ENVIRONMENT"))),
		DefaultCurrency: payment.Currency(strings.ToUpper(os.Getenv(payment.EnvPrefix + "_DEFAULT_CURRENCY"))),
	}

	var err error
	if es.Timeout, err = parseTimeout(payment.EnvPrefix+"_TIMEOUT", os.Getenv(payment.EnvPrefix+"_TIMEOUT")); err != nil {
		return es, err
	}
	es.Debug, _ = strconv.ParseBool(os.Getenv(payment.EnvPrefix + "_DEBUG"))

	if v := os.Getenv(payment.EnvPrefix + "_DEFAULT_PROVIDER"); v != "" {
		p, err := payment.ParseProvider(v)
		if err != nil {
			return es, err
		}
		es.DefaultProvider = p
	}

	enabled := os.Getenv(payment.EnvPrefix + "_ENABLED_PROVIDERS")
	for _, name := range strings.Split(enabled, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		p, err := payment.ParseProvider(name)
		if err != nil {
			return es, err
		}
		pc, err := providerFromEnv(p)
		if err != nil {
			return es, err
		}
		if es.Providers == nil {
			es.Providers = make(map[payment.Provider]payment.ProviderConfig)
		}
		es.Providers[p] = pc
	}
	return es, nil
}

// providerFromEnv reads the non-secret settings of p. Credential fields
// are resolved by the adapter itself from the same EASYSWITCH_{PROVIDER}_*
// keys, so they are not duplicated here.
func providerFromEnv(p payment.Provider) (payment.ProviderConfig, error) {
	pc := payment.ProviderConfig{
		BaseURL:     os.Getenv(payment.EnvKey(p, "base_url")),
		CallbackURL: os.Getenv(payment.EnvKey(p, "callback_url")),
		ReturnURL:   os.Getenv(payment.EnvKey(p, "return_url")),
		Environment: payment.Environment(strings.ToLower(os.Getenv(payment.EnvKey(p, "environment")))),
	}
	key := payment.EnvKey(p, "timeout")
	timeout, err := parseTimeout(key, os.Getenv(key))
	if err != nil {
		return pc, err
	}
	pc.Timeout = timeout
	return pc, nil
}

// fileTimeout reads a timeout written as seconds (30) or as a Go
// duration ("30s").
type fileTimeout time.Duration

func (t *fileTimeout) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return payment.NewConfigurationError(fmt.Sprintf("timeout at line %d must be a number of seconds or a duration", node.Line))
	}
	d, err := parseTimeout("timeout", node.Value)
	if err != nil {
		return err
	}
	*t = fileTimeout(d)
	return nil
}

type fileProvider struct {
	payment.ProviderConfig `yaml:",inline"`
	Timeout                fileTimeout `yaml:"timeout"`
}

type fileConfig struct {
	Environment     string                  `yaml:"environment"`
	Timeout         fileTimeout             `yaml:"timeout"`
	Debug           bool                    `yaml:"debug"`
	DefaultCurrency string                  `yaml:"currency"`
	DefaultProvider string                  `yaml:"default_provider"`
	Providers       map[string]fileProvider `yaml:"providers"`
}

// LoadFile parses a YAML or JSON configuration document. Provider keys and
// codes are matched case-insensitively.
func LoadFile(path string) (*EasySwitch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*EasySwitch, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, &payment.Error{
			Kind:    payment.KindConfiguration,
			Message: "invalid configuration document",
			Code:    string(payment.KindConfiguration),
			Err:     err,
		}
	}

	es := &EasySwitch{
		Environment:     payment.Environment(strings.ToLower(strings.TrimSpace(fc.Environment))),
		Timeout:         time.Duration(fc.Timeout),
		Debug:           fc.Debug,
		DefaultCurrency: payment.Currency(strings.ToUpper(strings.TrimSpace(fc.DefaultCurrency))),
	}
	if fc.DefaultProvider != "" {
		p, err := payment.ParseProvider(fc.DefaultProvider)
		if err != nil {
			return nil, err
		}
		es.DefaultProvider = p
	}
	if len(fc.Providers) > 0 {
		es.Providers = make(map[payment.Provider]payment.ProviderConfig, len(fc.Providers))
		for name, fp := range fc.Providers {
			p, err := payment.ParseProvider(name)
			if err != nil {
				return nil, err
			}
			pc := fp.ProviderConfig
			pc.Timeout = time.Duration(fp.Timeout)
			pc.Environment = payment.Environment(strings.ToLower(string(pc.Environment)))
			es.Providers[p] = pc
		}
	}
	return es, nil
}

// Merge returns base with every value set in override applied on top.
func Merge(base, override EasySwitch) EasySwitch {
	out := base
	if override.Environment != "" {
		out.Environment = override.Environment
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if override.Debug {
		out.Debug = true
	}
	if override.DefaultCurrency != "" {
		out.DefaultCurrency = override.DefaultCurrency
	}
	if override.DefaultProvider != "" {
		out.DefaultProvider = override.DefaultProvider
	}

	out.Providers = make(map[payment.Provider]payment.ProviderConfig, len(base.Providers)+len(override.Providers))
	for p, pc := range base.Providers {
		out.Providers[p] = pc
	}
	for p, pc := range override.Providers {
		out.Providers[p] = mergeProvider(out.Providers[p], pc)
	}
	return out
}

func mergeProvider(base, override payment.ProviderConfig) payment.ProviderConfig {
	pick := func(b, o string) string {
		if o != "" {
			return o
		}
		return b
	}
	out := payment.ProviderConfig{
		APIKey:        pick(base.APIKey, override.APIKey),
		APISecret:     pick(base.APISecret, override.APISecret),
		ClientID:      pick(base.ClientID, override.ClientID),
		ClientSecret:  pick(base.ClientSecret, override.ClientSecret),
		MerchantID:    pick(base.MerchantID, override.MerchantID),
		Token:         pick(base.Token, override.Token),
		Username:      pick(base.Username, override.Username),
		Password:      pick(base.Password, override.Password),
		AppID:         pick(base.AppID, override.AppID),
		WebhookSecret: pick(base.WebhookSecret, override.WebhookSecret),
		BaseURL:       pick(base.BaseURL, override.BaseURL),
		CallbackURL:   pick(base.CallbackURL, override.CallbackURL),
		ReturnURL:     pick(base.ReturnURL, override.ReturnURL),
		Environment:   payment.Environment(pick(string(base.Environment), string(override.Environment))),
		Timeout:       base.Timeout,
	}
	if override.Timeout != 0 {
		out.Timeout = override.Timeout
	}
	if len(base.Extra)+len(override.Extra) > 0 {
		out.Extra = make(map[string]string, len(base.Extra)+len(override.Extra))
		for k, v := range base.Extra {
			out.Extra[k] = v
		}
		for k, v := range override.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ProviderConfig returns the configuration of p with the global environment
// and timeout applied where p leaves them unset.
func (e EasySwitch) ProviderConfig(p payment.Provider) (payment.ProviderConfig, bool) {
	pc, ok := e.Providers[p]
	if !ok {
		return pc, false
	}
	if pc.Environment == "" {
		pc.Environment = e.Environment
	}
	if pc.Timeout == 0 {
		pc.Timeout = e.Timeout
	}
	return pc, true
}

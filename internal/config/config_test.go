package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"easyswitch/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Success loading from env", func(t *testing.T) {
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("DB_USER", "testuser")
		t.Setenv("DB_PASSWORD", "testpass")
		t.Setenv("DB_NAME", "testdb")
		t.Setenv("DB_PORT", "5433")
		t.Setenv("APP_PORT", "9090")
		t.Setenv("APP_ENV", "test")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("OPS_JWT_SECRET", "ops-secret")
		t.Setenv("EASYSWITCH_ENVIRONMENT", "Production")
		t.Setenv("EASYSWITCH_TIMEOUT", "15")
		t.Setenv("EASYSWITCH_DEBUG", "true")
		t.Setenv("EASYSWITCH_DEFAULT_CURRENCY", "xof")
		t.Setenv("EASYSWITCH_ENABLED_PROVIDERS", "paystack, semoa")
		t.Setenv("EASYSWITCH_DEFAULT_PROVIDER", "semoa")
		t.Setenv("EASYSWITCH_PAYSTACK_BASE_URL", "https://paystack.test")
		t.Setenv("EASYSWITCH_SEMOA_TIMEOUT", "5s")
		t.Setenv("EASYSWITCH_CONFIG_FILE", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "localhost", cfg.DBHost)
		assert.Equal(t, "testuser", cfg.DBUser)
		assert.Equal(t, "testpass", cfg.DBPassword)
		assert.Equal(t, "testdb", cfg.DBName)
		assert.Equal(t, "5433", cfg.DBPort)
		assert.Equal(t, "9090", cfg.AppPort)
		assert.Equal(t, "test", cfg.AppEnv)
		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
		assert.Equal(t, 2, cfg.RedisDB)
		assert.Equal(t, "ops-secret", cfg.OpsJWTSecret)

		es := cfg.EasySwitch
		assert.Equal(t, payment.EnvironmentProduction, es.Environment)
		assert.Equal(t, 15*time.Second, es.Timeout)
		assert.True(t, es.Debug)
		assert.Equal(t, payment.CurrencyXOF, es.DefaultCurrency)
		assert.Equal(t, payment.ProviderSemoa, es.DefaultProvider)
		assert.Equal(t, []payment.Provider{payment.ProviderPaystack, payment.ProviderSemoa}, es.ProviderKeys())
		assert.Equal(t, "https://paystack.test", es.Providers[payment.ProviderPaystack].BaseURL)
		assert.Equal(t, 5*time.Second, es.Providers[payment.ProviderSemoa].Timeout)
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("DB_PORT", "")
		t.Setenv("APP_PORT", "")
		t.Setenv("APP_ENV", "")
		t.Setenv("REDIS_DB", "")
		t.Setenv("EASYSWITCH_ENABLED_PROVIDERS", "")
		t.Setenv("EASYSWITCH_DEFAULT_PROVIDER", "")
		t.Setenv("EASYSWITCH_ENVIRONMENT", "")
		t.Setenv("EASYSWITCH_TIMEOUT", "")
		t.Setenv("EASYSWITCH_CONFIG_FILE", "")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "5432", cfg.DBPort)
		assert.Equal(t, "8080", cfg.AppPort)
		assert.Equal(t, "development", cfg.AppEnv)
		assert.Equal(t, "disable", cfg.DBSSLMode)
		assert.Equal(t, 20.0, cfg.WebhookRateLimit)
		assert.Equal(t, 40, cfg.WebhookBurst)
		assert.Empty(t, cfg.EasySwitch.Providers)
	})

	t.Run("Invalid values", func(t *testing.T) {
		cases := map[string][2]string{
			"redis db":         {"REDIS_DB", "two"},
			"environment":      {"EASYSWITCH_ENVIRONMENT", "staging"},
			"unknown provider": {"EASYSWITCH_ENABLED_PROVIDERS", "paystack,stripe"},
			"timeout":          {"EASYSWITCH_TIMEOUT", "soon"},
			"currency":         {"EASYSWITCH_DEFAULT_CURRENCY", "JPY"},
		}
		for name, kv := range cases {
			t.Run(name, func(t *testing.T) {
				t.Setenv("EASYSWITCH_CONFIG_FILE", "")
				t.Setenv(kv[0], kv[1])
				_, err := LoadConfig()
				require.Error(t, err)
			})
		}
	})

	t.Run("Default provider must be enabled", func(t *testing.T) {
		t.Setenv("EASYSWITCH_CONFIG_FILE", "")
		t.Setenv("EASYSWITCH_ENABLED_PROVIDERS", "paystack")
		t.Setenv("EASYSWITCH_DEFAULT_PROVIDER", "airtel")

		_, err := LoadConfig()
		require.Error(t, err)
		assert.True(t, errors.Is(err, payment.ErrConfiguration))
	})

	t.Run("File overrides env", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "easyswitch.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
environment: sandbox
providers:
  paystack:
    api_key: sk_file
    timeout: 45s
`), 0o600))

		t.Setenv("EASYSWITCH_ENVIRONMENT", "production")
		t.Setenv("EASYSWITCH_DEFAULT_PROVIDER", "")
		t.Setenv("EASYSWITCH_ENABLED_PROVIDERS", "paystack")
		t.Setenv("EASYSWITCH_PAYSTACK_BASE_URL", "https://paystack.env")
		t.Setenv("EASYSWITCH_CONFIG_FILE", path)

		cfg, err := LoadConfig()
		require.NoError(t, err)
		ps := cfg.EasySwitch.Providers[payment.ProviderPaystack]
		assert.Equal(t, payment.EnvironmentSandbox, cfg.EasySwitch.Environment)
		assert.Equal(t, "sk_file", ps.APIKey)
		assert.Equal(t, "https://paystack.env", ps.BaseURL)
		assert.Equal(t, 45*time.Second, ps.Timeout)
	})

	t.Run("Missing file", func(t *testing.T) {
		t.Setenv("EASYSWITCH_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		require.Error(t, err)
	})
}

func TestParse(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		es, err := Parse([]byte(`
environment: Production
timeout: 20s
currency: xof
default_provider: Semoa
providers:
  SEMOA:
    username: merchant
    password: secret
    client_id: cid
    client_secret: cs
    environment: SANDBOX
  airtel:
    api_key: ak
    extra:
      country: UG
      currency: UGX
`))
		require.NoError(t, err)
		assert.Equal(t, payment.EnvironmentProduction, es.Environment)
		assert.Equal(t, 20*time.Second, es.Timeout)
		assert.Equal(t, payment.CurrencyXOF, es.DefaultCurrency)
		assert.Equal(t, payment.ProviderSemoa, es.DefaultProvider)
		assert.Equal(t, "merchant", es.Providers[payment.ProviderSemoa].Username)
		assert.Equal(t, payment.EnvironmentSandbox, es.Providers[payment.ProviderSemoa].Environment)
		assert.Equal(t, "UG", es.Providers[payment.ProviderAirtel].Extra["country"])
		assert.NoError(t, es.Validate())
	})

	t.Run("json", func(t *testing.T) {
		es, err := Parse([]byte(`{"default_provider":"paystack","providers":{"paystack":{"api_key":"sk"}}}`))
		require.NoError(t, err)
		assert.Equal(t, "sk", es.Providers[payment.ProviderPaystack].APIKey)
		assert.NoError(t, es.Validate())
	})

	t.Run("timeouts", func(t *testing.T) {
		cases := []struct {
			name     string
			doc      string
			root     time.Duration
			provider time.Duration
		}{
			{"seconds", "timeout: 30\nproviders:\n  paystack:\n    api_key: k\n    timeout: 15\n", 30 * time.Second, 15 * time.Second},
			{"durations", "timeout: 30s\nproviders:\n  paystack:\n    api_key: k\n    timeout: 1m\n", 30 * time.Second, time.Minute},
			{"fractional seconds", "timeout: 2.5\nproviders:\n  paystack:\n    api_key: k\n", 2500 * time.Millisecond, 0},
			{"json", `{"timeout":10,"providers":{"paystack":{"api_key":"k","timeout":"5s"}}}`, 10 * time.Second, 5 * time.Second},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				es, err := Parse([]byte(tc.doc))
				require.NoError(t, err)
				assert.Equal(t, tc.root, es.Timeout)
				assert.Equal(t, tc.provider, es.Providers[payment.ProviderPaystack].Timeout)
				assert.Equal(t, "k", es.Providers[payment.ProviderPaystack].APIKey)
			})
		}
	})

	t.Run("bad timeout", func(t *testing.T) {
		for _, doc := range []string{"timeout: soon\n", "providers:\n  paystack:\n    timeout: [1]\n"} {
			_, err := Parse([]byte(doc))
			require.Error(t, err, doc)
			assert.True(t, errors.Is(err, payment.ErrConfiguration), doc)
		}
	})

	t.Run("unknown provider key", func(t *testing.T) {
		_, err := Parse([]byte("providers:\n  stripe:\n    api_key: x\n"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, payment.ErrInvalidProvider))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse([]byte("providers: [unterminated"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, payment.ErrConfiguration))
	})
}

func TestEasySwitchValidate(t *testing.T) {
	valid := EasySwitch{
		Environment:     payment.EnvironmentSandbox,
		DefaultCurrency: payment.CurrencyXOF,
		DefaultProvider: payment.ProviderSemoa,
		Providers: map[payment.Provider]payment.ProviderConfig{
			payment.ProviderSemoa: {},
		},
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(e *EasySwitch){
		"environment":        func(e *EasySwitch) { e.Environment = "staging" },
		"currency":           func(e *EasySwitch) { e.DefaultCurrency = "JPY" },
		"negative timeout":   func(e *EasySwitch) { e.Timeout = -time.Second },
		"default not in map": func(e *EasySwitch) { e.DefaultProvider = payment.ProviderAirtel },
		"unknown provider": func(e *EasySwitch) {
			e.Providers = map[payment.Provider]payment.ProviderConfig{"STRIPE": {}}
			e.DefaultProvider = ""
		},
		"provider environment": func(e *EasySwitch) {
			e.Providers = map[payment.Provider]payment.ProviderConfig{payment.ProviderSemoa: {Environment: "live"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := valid
			mutate(&e)
			err := e.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, payment.ErrConfiguration))
		})
	}
}

func TestMerge(t *testing.T) {
	base := EasySwitch{
		Environment: payment.EnvironmentProduction,
		Timeout:     10 * time.Second,
		Providers: map[payment.Provider]payment.ProviderConfig{
			payment.ProviderAirtel: {APIKey: "env-key", BaseURL: "https://env", Extra: map[string]string{"country": "NG"}},
		},
	}
	override := EasySwitch{
		DefaultProvider: payment.ProviderAirtel,
		Providers: map[payment.Provider]payment.ProviderConfig{
			payment.ProviderAirtel:   {APIKey: "file-key", Extra: map[string]string{"currency": "NGN"}},
			payment.ProviderPaystack: {APIKey: "sk"},
		},
	}

	out := Merge(base, override)
	assert.Equal(t, payment.EnvironmentProduction, out.Environment)
	assert.Equal(t, 10*time.Second, out.Timeout)
	assert.Equal(t, payment.ProviderAirtel, out.DefaultProvider)

	airtel := out.Providers[payment.ProviderAirtel]
	assert.Equal(t, "file-key", airtel.APIKey)
	assert.Equal(t, "https://env", airtel.BaseURL)
	assert.Equal(t, map[string]string{"country": "NG", "currency": "NGN"}, airtel.Extra)
	assert.Equal(t, "sk", out.Providers[payment.ProviderPaystack].APIKey)

	assert.Equal(t, "env-key", base.Providers[payment.ProviderAirtel].APIKey)
}

func TestProviderConfigInheritsGlobals(t *testing.T) {
	es := EasySwitch{
		Environment: payment.EnvironmentProduction,
		Timeout:     12 * time.Second,
		Providers: map[payment.Provider]payment.ProviderConfig{
			payment.ProviderPaystack: {},
			payment.ProviderAirtel:   {Environment: payment.EnvironmentSandbox, Timeout: time.Second},
		},
	}

	pc, ok := es.ProviderConfig(payment.ProviderPaystack)
	require.True(t, ok)
	assert.Equal(t, payment.EnvironmentProduction, pc.Environment)
	assert.Equal(t, 12*time.Second, pc.Timeout)

	pc, ok = es.ProviderConfig(payment.ProviderAirtel)
	require.True(t, ok)
	assert.Equal(t, payment.EnvironmentSandbox, pc.Environment)
	assert.Equal(t, time.Second, pc.Timeout)

	_, ok = es.ProviderConfig(payment.ProviderSemoa)
	assert.False(t, ok)
}

package payment

import (
	"fmt"
	"os"
	"strings"
)

// LookupFunc reads a single environment-style key.
type LookupFunc func(key string) (string, bool)

// EnvPrefix starts every environment-sourced credential key.
const EnvPrefix = "EASYSWITCH"

// EnvKey returns the environment key for a provider credential field,
// e.g. EnvKey(ProviderPaystack, "api_key") == "EASYSWITCH_PAYSTACK_API_KEY".
func EnvKey(provider Provider, field string) string {
	return fmt.Sprintf("%s_%s_%s", EnvPrefix, strings.ToUpper(string(provider)), strings.ToUpper(field))
}

// CredentialFields lists every field that can be sourced from the
// environment.
var CredentialFields = []string{
	"api_key", "api_secret", "client_id", "client_secret", "merchant_id",
	"token", "master_key", "private_key", "username", "password", "app_id",
	"webhook_secret", "callback_url", "return_url", "channels", "lang",
}

const (
	defaultChannels = "MOBILE_MONEY"
	defaultLang     = "fr"
)

// ResolveCredentials builds credentials for provider. For every field a
// value set in cfg wins over the environment, which wins over defaults.
func ResolveCredentials(provider Provider, cfg ProviderConfig, lookup LookupFunc) ApiCredentials {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	pick := func(field, configured, fallback string) string {
		if configured != "" {
			return configured
		}
		if v, ok := lookup(EnvKey(provider, field)); ok && v != "" {
			return v
		}
		return fallback
	}

	creds := ApiCredentials{
		Provider:      provider,
		APIKey:        pick("api_key", cfg.APIKey, ""),
		APISecret:     pick("api_secret", cfg.APISecret, ""),
		ClientID:      pick("client_id", cfg.ClientID, ""),
		ClientSecret:  pick("client_secret", cfg.ClientSecret, ""),
		MerchantID:    pick("merchant_id", cfg.MerchantID, ""),
		Token:         pick("token", cfg.Token, ""),
		MasterKey:     pick("master_key", cfg.Extra["master_key"], ""),
		PrivateKey:    pick("private_key", cfg.Extra["private_key"], ""),
		Username:      pick("username", cfg.Username, ""),
		Password:      pick("password", cfg.Password, ""),
		AppID:         pick("app_id", cfg.AppID, ""),
		WebhookSecret: pick("webhook_secret", cfg.WebhookSecret, ""),
		CallbackURL:   pick("callback_url", cfg.CallbackURL, ""),
		ReturnURL:     pick("return_url", cfg.ReturnURL, ""),
		Channels:      pick("channels", cfg.Extra["channels"], defaultChannels),
		Lang:          pick("lang", cfg.Extra["lang"], defaultLang),
	}
	if len(cfg.Extra) > 0 {
		creds.Extra = make(map[string]string, len(cfg.Extra))
		for k, v := range cfg.Extra {
			creds.Extra[k] = v
		}
	}
	return creds
}

// Field returns a credential field by its snake_case name.
func (c ApiCredentials) Field(name string) string {
	switch name {
	case "api_key":
		return c.APIKey
	case "api_secret":
		return c.APISecret
	case "client_id":
		return c.ClientID
	case "client_secret":
		return c.ClientSecret
	case "merchant_id":
		return c.MerchantID
	case "token":
		return c.Token
	case "master_key":
		return c.MasterKey
	case "private_key":
		return c.PrivateKey
	case "username":
		return c.Username
	case "password":
		return c.Password
	case "app_id":
		return c.AppID
	case "webhook_secret":
		return c.WebhookSecret
	case "callback_url":
		return c.CallbackURL
	case "return_url":
		return c.ReturnURL
	case "channels":
		return c.Channels
	case "lang":
		return c.Lang
	}
	return c.Extra[name]
}

// CredentialRule decides whether a credential set is complete enough.
type CredentialRule func(ApiCredentials) bool

// RequireAll accepts credentials where every named field is set.
func RequireAll(fields ...string) CredentialRule {
	return func(c ApiCredentials) bool {
		for _, f := range fields {
			if c.Field(f) == "" {
				return false
			}
		}
		return true
	}
}

// RequireAny accepts credentials where at least one named field is set.
func RequireAny(fields ...string) CredentialRule {
	return func(c ApiCredentials) bool {
		for _, f := range fields {
			if c.Field(f) != "" {
				return true
			}
		}
		return false
	}
}

// DefaultCredentialRule requires an api key or an api secret.
var DefaultCredentialRule = RequireAny("api_key", "api_secret")

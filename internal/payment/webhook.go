package payment

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"
)

// HeaderValue looks up name in h without assuming the caller canonicalised
// the keys.
func HeaderValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for k, vs := range h {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// Verifier authenticates a raw webhook payload.
type Verifier interface {
	Verify(payload []byte, headers http.Header) bool
}

type SignatureEncoding int

const (
	EncodingHex SignatureEncoding = iota
	EncodingBase64
)

// HMACVerifier checks an HMAC of the raw body sent in one of Headers.
type HMACVerifier struct {
	// Headers are tried in order; the first non-empty one is used.
	Headers  []string
	Secret   []byte
	Hash     func() hash.Hash
	Encoding SignatureEncoding
	// Prefix is stripped from the header value, e.g. "sha256=".
	Prefix string
}

func (v HMACVerifier) Verify(payload []byte, headers http.Header) bool {
	if len(v.Secret) == 0 || v.Hash == nil {
		return false
	}

	var sig string
	for _, name := range v.Headers {
		if sig = HeaderValue(headers, name); sig != "" {
			break
		}
	}
	sig = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sig), v.Prefix))
	if sig == "" {
		return false
	}

	var provided []byte
	var err error
	switch v.Encoding {
	case EncodingBase64:
		provided, err = base64.StdEncoding.DecodeString(sig)
	default:
		provided, err = hex.DecodeString(sig)
	}
	if err != nil {
		return false
	}

	mac := hmac.New(v.Hash, v.Secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign returns the encoded signature Verify expects for payload.
func (v HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(v.Hash, v.Secret)
	mac.Write(payload)
	sum := mac.Sum(nil)
	if v.Encoding == EncodingBase64 {
		return v.Prefix + base64.StdEncoding.EncodeToString(sum)
	}
	return v.Prefix + hex.EncodeToString(sum)
}

// WebhookDecoder turns an authenticated payload into an event.
type WebhookDecoder func(payload []byte, headers http.Header) (*WebhookEvent, error)

// VerifyAndParse is the only way to obtain a verified WebhookEvent. It
// re-runs verification so a payload that fails it is never decoded.
func VerifyAndParse(provider Provider, v Verifier, payload []byte, headers http.Header, decode WebhookDecoder) (*WebhookEvent, error) {
	if v == nil || !v.Verify(payload, headers) {
		return nil, NewWebhookValidationError(provider, "webhook signature verification failed")
	}

	event, err := decode(payload, headers)
	if err != nil {
		return nil, &Error{
			Kind:     KindWebhook,
			Message:  "invalid webhook payload",
			Code:     string(KindWebhook),
			Provider: provider,
			Err:      err,
		}
	}
	event.Provider = provider
	event.verified = true
	return event, nil
}

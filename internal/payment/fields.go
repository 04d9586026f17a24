package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Fields wraps a decoded JSON object from a provider.
type Fields map[string]any

// DecodeFields decodes a JSON object keeping numbers exact.
func DecodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return Fields(out), nil
}

// Map returns the nested object at key, or an empty Fields.
func (f Fields) Map(key string) Fields {
	switch m := f[key].(type) {
	case map[string]any:
		return Fields(m)
	case Fields:
		return m
	}
	return Fields{}
}

func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Decimal parses a number or numeric string; anything else is zero.
func (f Fields) Decimal(key string) decimal.Decimal {
	switch v := f[key].(type) {
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Time parses RFC 3339 timestamps, with or without a zone.
func (f Fields) Time(key string) *time.Time {
	s := f.String(key)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Raw returns f as a plain map for canonical records.
func (f Fields) Raw() map[string]any {
	return map[string]any(f)
}

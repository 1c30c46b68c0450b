package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Sign computes the hosted-page hash for a redirect:
// HMAC-SHA256("/?payment={merchant}.{order}.{amount}.{currency}", apiKey) in lowercase hex.
func Sign(merchantID, processorOrderID, amount, currency, apiKey string) string {
	path := "/?payment=" + merchantID + "." + processorOrderID + "." + amount + "." + currency
	return hmacHex(path, apiKey)
}

// SignFields signs the canonical query string made of fields restricted to keys.
func SignFields(keys []string, fields map[string]any, apiKey string) string {
	return hmacHex(CanonicalQuery(keys, fields), apiKey)
}

// Verify checks a callback signature against the canonical query string of
// fields restricted to keys. A missing key or signature never verifies.
func Verify(keys []string, fields map[string]any, received, apiKey string) bool {
	received = strings.TrimSpace(received)
	expected := SignFields(keys, fields, apiKey)
	if expected == "" || received == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(received))
}

// CanonicalQuery renders fields in the order given by keys using RFC 3986
// percent-encoding. Keys absent from fields and null values are skipped.
func CanonicalQuery(keys []string, fields map[string]any) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		parts = appendField(parts, key, value)
	}
	return strings.Join(parts, "&")
}

// FormatAmount renders an amount the same way for hashing and for the URL.
func FormatAmount(amount decimal.Decimal) string {
	return amount.Round(2).String()
}

func hmacHex(message, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func appendField(parts []string, name string, value any) []string {
	switch v := value.(type) {
	case nil:
		return parts
	case object:
		for _, m := range v {
			parts = appendField(parts, name+"["+m.Key+"]", m.Value)
		}
		return parts
	case map[string]any:
		// Go maps carry no member order; keys are sorted for a stable result.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = appendField(parts, name+"["+k+"]", v[k])
		}
		return parts
	case []any:
		for i, item := range v {
			parts = appendField(parts, name+"["+strconv.Itoa(i)+"]", item)
		}
		return parts
	}
	s, ok := fieldString(value)
	if !ok {
		return parts
	}
	return append(parts, rawURLEncode(name)+"="+rawURLEncode(s))
}

func fieldString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		f, err := v.Float64()
		if err != nil {
			return v.String(), true
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", false
	}
	return s, true
}

// rawURLEncode percent-encodes per RFC 3986: spaces become %20, not '+'.
func rawURLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

var uriComponentRevert = strings.NewReplacer(
	"%21", "!",
	"%2A", "*",
	"%27", "'",
	"%28", "(",
	"%29", ")",
)

// encodeURIComponent mirrors the browser function of the same name.
func encodeURIComponent(s string) string {
	return uriComponentRevert.Replace(rawURLEncode(s))
}

// Package tokenx implements the token lifecycle core of the clinic SDK: the
// canonical token record, the shape-tolerant response normalizer, the
// process-wide token store, and the single-flight refresh coordinator.
//
// The clinic backend has grown several token-issuance shapes over time (flat
// OAuth2-style objects, envelopes nested under "data", and bare JWT strings).
// Normalize folds all of them into one Record so the rest of the SDK never
// has to care.
package tokenx

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenType is the auth scheme assumed when the server declares none.
const DefaultTokenType = "Bearer"

// Record is the canonical, normalized result of any token-issuing response.
type Record struct {
	AccessToken  string
	RefreshToken string // empty when the flow issues none
	TokenType    string // defaults to "Bearer"
	ExpiresIn    *float64
	ExpiresAt    *int64 // epoch millis, as declared by the server
	Raw          any    // original payload, retained for diagnostics
}

// Field probe tables. Each key list is tried in priority order against the
// payload, then against a nested "data" sub-object; the first present,
// non-empty value wins.
var (
	accessTokenKeys  = []string{"access_token", "accessToken", "token", "jwt", "id_token"}
	refreshTokenKeys = []string{"refresh_token", "refreshToken"}
	tokenTypeKeys    = []string{"token_type", "tokenType", "type"}
	expiresInKeys    = []string{"expires_in", "expiresIn", "expires", "ttl"}
	expiresAtKeys    = []string{"expires_at", "expiresAt", "expiration"}
)

// Normalize folds a heterogeneous token-issuance payload into a Record.
// It accepts nil (empty record), a raw string (treated as a bare access
// token), or a decoded JSON object. Absent fields yield zero values;
// Normalize itself never fails.
func Normalize(payload any) Record {
	rec := Record{TokenType: DefaultTokenType, Raw: payload}

	switch v := payload.(type) {
	case nil:
		return rec
	case string:
		rec.AccessToken = strings.TrimSpace(v)
		return rec
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return rec
	}

	rec.AccessToken = probeString(obj, accessTokenKeys)
	rec.RefreshToken = probeString(obj, refreshTokenKeys)
	if t := probeString(obj, tokenTypeKeys); t != "" {
		rec.TokenType = t
	}
	rec.ExpiresIn = probeNumber(obj, expiresInKeys)
	rec.ExpiresAt = probeTimestamp(obj, expiresAtKeys)

	return rec
}

// probe returns the first present, non-empty value for keys, looking at the
// object itself and then inside a nested "data" object.
func probe(obj map[string]any, keys []string) (any, bool) {
	for _, scope := range []map[string]any{obj, nestedData(obj)} {
		if scope == nil {
			continue
		}
		for _, key := range keys {
			value, ok := scope[key]
			if !ok || value == nil {
				continue
			}
			if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
				continue
			}
			return value, true
		}
	}
	return nil, false
}

func nestedData(obj map[string]any) map[string]any {
	nested, _ := obj["data"].(map[string]any)
	return nested
}

func probeString(obj map[string]any, keys []string) string {
	value, ok := probe(obj, keys)
	if !ok {
		return ""
	}
	return stringValue(value)
}

func probeNumber(obj map[string]any, keys []string) *float64 {
	value, ok := probe(obj, keys)
	if !ok {
		return nil
	}
	return numberValue(value)
}

func probeTimestamp(obj map[string]any, keys []string) *int64 {
	value, ok := probe(obj, keys)
	if !ok {
		return nil
	}
	return timestampValue(value)
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// numberValue coerces a JSON value to a finite float64, or nil.
func numberValue(value any) *float64 {
	var num float64
	switch v := value.(type) {
	case float64:
		num = v
	case int:
		num = float64(v)
	case int64:
		num = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		num = parsed
	default:
		return nil
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return nil
	}
	return &num
}

// timestampLayouts are the date-string formats accepted for expires_at
// fields, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestampValue accepts an epoch number (seconds or millis, disambiguated
// later by the store) or a parseable date string, returning epoch millis for
// strings and the raw number otherwise.
func timestampValue(value any) *int64 {
	switch v := value.(type) {
	case float64, int, int64:
		num := numberValue(v)
		if num == nil {
			return nil
		}
		out := int64(*num)
		return &out
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		if num, err := strconv.ParseFloat(trimmed, 64); err == nil {
			if math.IsNaN(num) || math.IsInf(num, 0) {
				return nil
			}
			out := int64(num)
			return &out
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				out := t.UnixMilli()
				return &out
			}
		}
		return nil
	default:
		return nil
	}
}

package sessionx

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/senosalud/clinicsdk/pkg/tokenx"
)

// Role fields the backend may attach to a token payload, checked in order.
var roleKeys = []string{"rolNombre", "rol", "role", "roleNombre", "roleName", "nombreRol"}

// Derive builds a Session from a normalized token record. The token itself
// falls back to the store's current token and then the previous session;
// without a token there is no session. Role and user id come from the raw
// payload, falling back to the previous session. The deadline prefers the
// JWT exp claim over the record and store values so a short-lived token is
// never reported with a stale horizon.
//
// When role or user id cannot be determined and there is no previous
// session, Derive returns nil. With a previous session the identity is
// carried forward and only the token and deadline are updated.
func Derive(rec *tokenx.Record, store *tokenx.Store, prev *Session) *Session {
	token := ""
	if rec != nil {
		token = rec.AccessToken
	}
	if token == "" && store != nil {
		token = store.AccessToken()
	}
	if token == "" && prev != nil {
		token = prev.Token
	}
	if token == "" {
		return nil
	}

	var raw map[string]any
	if rec != nil {
		raw, _ = rec.Raw.(map[string]any)
	}

	role, haveRole := rawRole(raw)
	if !haveRole && prev != nil {
		role, haveRole = prev.Role, prev.Role != ""
	}

	userID, haveUser := ExtractUserID(raw)
	if !haveUser && prev != nil {
		userID, haveUser = prev.UserID, true
	}

	expiresAt := deriveExpiry(token, rec, store, prev)

	if !haveRole || !haveUser {
		if prev == nil {
			return nil
		}
		if prev.Token == token && (expiresAt == nil || (prev.ExpiresAt != nil && *prev.ExpiresAt == *expiresAt)) {
			return prev
		}
		next := *prev
		next.Token = token
		if expiresAt != nil {
			next.ExpiresAt = expiresAt
		}
		return &next
	}

	next := &Session{UserID: userID, Role: role, Token: token, ExpiresAt: expiresAt}
	if prev != nil && prev.Equal(next) {
		return prev
	}
	return next
}

func deriveExpiry(token string, rec *tokenx.Record, store *tokenx.Store, prev *Session) *int64 {
	if exp, ok := tokenx.DecodeExpiry(token); ok {
		return &exp
	}
	if rec != nil && rec.ExpiresAt != nil {
		exp := *rec.ExpiresAt
		return &exp
	}
	if store != nil {
		if exp, ok := store.ExpiresAt(); ok {
			return &exp
		}
	}
	if prev != nil && prev.ExpiresAt != nil {
		exp := *prev.ExpiresAt
		return &exp
	}
	return nil
}

func rawRole(raw map[string]any) (Role, bool) {
	for _, key := range roleKeys {
		if value, ok := raw[key].(string); ok {
			if role, ok := ParseRole(value); ok {
				return role, true
			}
		}
	}
	return "", false
}

// ExtractUserID probes the nested shapes backends use for the user id and
// returns the first numeric value found.
func ExtractUserID(raw map[string]any) (int64, bool) {
	if raw == nil {
		return 0, false
	}
	candidates := []any{
		raw["userId"],
		raw["user_id"],
		raw["usuarioId"],
		raw["idUsuario"],
		nestedValue(raw, "user", "id"),
		nestedValue(raw, "usuario", "id"),
		nestedValue(raw, "data", "userId"),
	}
	for _, candidate := range candidates {
		if id, ok := numericID(candidate); ok {
			return id, true
		}
	}
	return 0, false
}

func nestedValue(raw map[string]any, outer, inner string) any {
	obj, ok := raw[outer].(map[string]any)
	if !ok {
		return nil
	}
	return obj[inner]
}

func numericID(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
	}
	return 0, false
}

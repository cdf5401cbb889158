package sessionx

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/senosalud/clinicsdk/pkg/tokenx"
)

func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]any{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func TestDerive(t *testing.T) {
	t.Parallel()

	t.Run("full payload yields a session", func(t *testing.T) {
		rec := tokenx.Normalize(map[string]any{
			"access_token": "at",
			"rolNombre":    "ROLE_DIRECTOR",
			"userId":       float64(7),
		})
		session := Derive(&rec, nil, nil)
		require.NotNil(t, session)
		require.Equal(t, int64(7), session.UserID)
		require.Equal(t, RoleDirector, session.Role)
		require.Equal(t, "at", session.Token)
	})

	t.Run("role probed across alias keys", func(t *testing.T) {
		for _, key := range []string{"rolNombre", "rol", "role", "roleNombre", "roleName", "nombreRol"} {
			rec := tokenx.Normalize(map[string]any{
				"access_token": "at",
				key:            "licenciado",
				"userId":       float64(3),
			})
			session := Derive(&rec, nil, nil)
			require.NotNil(t, session, "key %s", key)
			require.Equal(t, RoleLicenciado, session.Role, "key %s", key)
		}
	})

	t.Run("user id probed from nested shapes", func(t *testing.T) {
		rec := tokenx.Normalize(map[string]any{
			"access_token": "at",
			"role":         "DIRECTOR",
			"usuario":      map[string]any{"id": float64(42)},
		})
		session := Derive(&rec, nil, nil)
		require.NotNil(t, session)
		require.Equal(t, int64(42), session.UserID)
	})

	t.Run("no token means no session", func(t *testing.T) {
		rec := tokenx.Normalize(map[string]any{"role": "DIRECTOR", "userId": float64(1)})
		require.Nil(t, Derive(&rec, nil, nil))
	})

	t.Run("unknown role without previous session yields nil", func(t *testing.T) {
		rec := tokenx.Normalize(map[string]any{
			"access_token": "at",
			"role":         "SUPERUSER",
			"userId":       float64(1),
		})
		require.Nil(t, Derive(&rec, nil, nil))
	})

	t.Run("previous identity carried through a token-only payload", func(t *testing.T) {
		prev := &Session{UserID: 7, Role: RoleRecepcionista, Token: "old"}
		rec := tokenx.Normalize(map[string]any{"access_token": "new"})

		session := Derive(&rec, nil, prev)
		require.NotNil(t, session)
		require.Equal(t, int64(7), session.UserID)
		require.Equal(t, RoleRecepcionista, session.Role)
		require.Equal(t, "new", session.Token)
	})

	t.Run("same token and deadline returns the previous session", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).UnixMilli()
		prev := &Session{UserID: 7, Role: RoleRecepcionista, Token: "at", ExpiresAt: &exp}
		rec := tokenx.Record{AccessToken: "at", ExpiresAt: &exp}

		session := Derive(&rec, nil, prev)
		require.Same(t, prev, session)
	})

	t.Run("token falls back to the store", func(t *testing.T) {
		store := tokenx.NewStore(tokenx.StoreOptions{})
		_, err := store.Set(map[string]any{"access_token": "stored"}, tokenx.SetOptions{})
		require.NoError(t, err)

		prev := &Session{UserID: 7, Role: RoleLicenciado, Token: "old"}
		session := Derive(nil, store, prev)
		require.NotNil(t, session)
		require.Equal(t, "stored", session.Token)
		require.Equal(t, RoleLicenciado, session.Role)
	})

	t.Run("jwt exp claim wins over declared deadline", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Unix()
		token := makeJWT(t, map[string]any{"exp": exp})
		declared := time.Now().Add(48 * time.Hour).UnixMilli()

		rec := tokenx.Record{
			AccessToken: token,
			ExpiresAt:   &declared,
			Raw:         map[string]any{"role": "DIRECTOR", "userId": float64(1)},
		}
		session := Derive(&rec, nil, nil)
		require.NotNil(t, session)
		require.NotNil(t, session.ExpiresAt)
		require.Equal(t, exp*1000, *session.ExpiresAt)
	})

	t.Run("declared deadline used for opaque tokens", func(t *testing.T) {
		declared := time.Now().Add(time.Hour).UnixMilli()
		rec := tokenx.Record{
			AccessToken: "opaque",
			ExpiresAt:   &declared,
			Raw:         map[string]any{"role": "DIRECTOR", "userId": float64(1)},
		}
		session := Derive(&rec, nil, nil)
		require.NotNil(t, session)
		require.NotNil(t, session.ExpiresAt)
		require.Equal(t, declared, *session.ExpiresAt)
	})

	t.Run("identical derivation returns previous pointer", func(t *testing.T) {
		prev := &Session{UserID: 1, Role: RoleDirector, Token: "at"}
		rec := tokenx.Record{
			AccessToken: "at",
			Raw:         map[string]any{"role": "DIRECTOR", "userId": float64(1)},
		}
		session := Derive(&rec, nil, prev)
		require.Same(t, prev, session)
	})
}

func TestExtractUserID(t *testing.T) {
	t.Parallel()

	t.Run("flat keys", func(t *testing.T) {
		for _, key := range []string{"userId", "user_id", "usuarioId", "idUsuario"} {
			id, ok := ExtractUserID(map[string]any{key: float64(5)})
			require.True(t, ok, "key %s", key)
			require.Equal(t, int64(5), id)
		}
	})

	t.Run("string ids are coerced", func(t *testing.T) {
		id, ok := ExtractUserID(map[string]any{"userId": "12"})
		require.True(t, ok)
		require.Equal(t, int64(12), id)
	})

	t.Run("nested data userId", func(t *testing.T) {
		id, ok := ExtractUserID(map[string]any{"data": map[string]any{"userId": float64(9)}})
		require.True(t, ok)
		require.Equal(t, int64(9), id)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := ExtractUserID(map[string]any{"name": "ana"})
		require.False(t, ok)
		_, ok = ExtractUserID(nil)
		require.False(t, ok)
	})

	t.Run("non numeric is skipped", func(t *testing.T) {
		id, ok := ExtractUserID(map[string]any{"userId": "abc", "user_id": float64(3)})
		require.True(t, ok)
		require.Equal(t, int64(3), id)
	})
}

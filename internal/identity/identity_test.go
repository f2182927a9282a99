package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	tok, err := v.Generate("user-42", time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestJWTVerifierRejects(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))

	expired, err := v.Generate("user-42", -time.Minute)
	require.NoError(t, err)

	foreign, err := NewJWTVerifier([]byte("other")).Generate("user-42", time.Hour)
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrMissingToken},
		{name: "garbage", token: "not-a-jwt", want: ErrInvalidToken},
		{name: "expired", token: expired, want: ErrExpiredToken},
		{name: "wrong secret", token: foreign, want: ErrInvalidToken},
		{name: "missing sub", token: noSub, want: ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	tok, err := v.Generate("user-42", time.Hour)
	require.NoError(t, err)

	var gotUser string
	h := Middleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "user-42", gotUser)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid credentials"}`, rec.Body.String())
	})
}

func TestTokenExtraction(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	req.Header.Set("Authorization", "bearer  xyz ")
	assert.Equal(t, "xyz", BearerToken(req))
	assert.Equal(t, "abc", QueryToken(req))

	req.Header.Set("Authorization", "Basic zzz")
	assert.Empty(t, BearerToken(req))
}

package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims() tokenClaims {
	return tokenClaims{
		Email: "stylist@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acc-1",
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, "https://auth.example.com", "authenticated")
	require.NoError(t, err)
	return v
}

func TestVerifyValidToken(t *testing.T) {
	claims, err := newVerifier(t).Verify(sign(t, testSecret, jwt.SigningMethodHS256, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.Subject)
	assert.Equal(t, "stylist@example.com", claims.Email)
}

func TestVerifyRejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"anon"}
	noSub := validClaims()
	noSub.Subject = ""
	noExp := validClaims()
	noExp.ExpiresAt = nil

	cases := map[string]string{
		"wrong secret":   sign(t, "other", jwt.SigningMethodHS256, validClaims()),
		"expired":        sign(t, testSecret, jwt.SigningMethodHS256, expired),
		"wrong audience": sign(t, testSecret, jwt.SigningMethodHS256, wrongAud),
		"missing sub":    sign(t, testSecret, jwt.SigningMethodHS256, noSub),
		"missing exp":    sign(t, testSecret, jwt.SigningMethodHS256, noExp),
		"wrong alg":      sign(t, testSecret, jwt.SigningMethodHS512, validClaims()),
		"garbage":        "not-a-token",
	}
	v := newVerifier(t)
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.Error(t, err)
		})
	}
}

func TestMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	deny := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) }
	var seen string
	h := Middleware(newVerifier(t), log, deny)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AccountID(r.Context())
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"invalid", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + sign(t, testSecret, jwt.SigningMethodHS256, validClaims()), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "acc-1", seen)
			} else {
				assert.Empty(t, seen)
			}
		})
	}
}

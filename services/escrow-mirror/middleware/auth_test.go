package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "mirror-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestAuthenticator(now time.Time) *Authenticator {
	auth := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "nervix",
		Audience:   "escrow-mirror",
	}, nil)
	auth.nowFn = func() time.Time { return now }
	return auth
}

func runAuth(auth *Authenticator, header string, scopes ...string) (*httptest.ResponseRecorder, string) {
	var subject string
	handler := auth.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/escrow/tx/create", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, subject
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(now)
	token := signToken(t, jwt.MapClaims{
		"sub":   "client-1",
		"iss":   "nervix",
		"aud":   "escrow-mirror",
		"exp":   now.Add(time.Hour).Unix(),
		"scope": "escrow:tx escrow:read",
	})
	rec, subject := runAuth(auth, "Bearer "+token, "escrow:tx")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "client-1", subject)
}

func TestAuthenticatorRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := newTestAuthenticator(now)
	valid := jwt.MapClaims{
		"sub": "client-1",
		"iss": "nervix",
		"aud": "escrow-mirror",
		"exp": now.Add(time.Hour).Unix(),
	}
	expired := jwt.MapClaims{"sub": "c", "iss": "nervix", "aud": "escrow-mirror", "exp": now.Add(-time.Hour).Unix()}
	wrongIssuer := jwt.MapClaims{"sub": "c", "iss": "other", "aud": "escrow-mirror", "exp": now.Add(time.Hour).Unix()}
	noExpiry := jwt.MapClaims{"sub": "c", "iss": "nervix", "aud": "escrow-mirror"}

	cases := []struct {
		name   string
		header string
		scopes []string
		status int
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer not-a-jwt", status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, expired), status: http.StatusUnauthorized},
		{name: "issuer", header: "Bearer " + signToken(t, wrongIssuer), status: http.StatusUnauthorized},
		{name: "no expiry", header: "Bearer " + signToken(t, noExpiry), status: http.StatusUnauthorized},
		{name: "scope", header: "Bearer " + signToken(t, valid), scopes: []string{"escrow:tx"}, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := runAuth(auth, tc.header, tc.scopes...)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	rec, _ := runAuth(auth, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExtractScopesFromList(t *testing.T) {
	claims := jwt.MapClaims{"scp": []interface{}{"a", "b", 3}}
	require.Equal(t, []string{"a", "b"}, extractScopes(claims, "scp"))
	require.Nil(t, extractScopes(claims, "scope"))
}

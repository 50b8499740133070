package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(t *testing.T) *Authenticator {
	a, err := New("test-secret", "HS256", 30*time.Minute)
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "HS256", time.Minute)
	assert.Error(t, err)

	_, err = New("secret", "RS256", time.Minute)
	assert.Error(t, err)

	a, err := New("secret", "HS512", 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, a.TTL())
}

func TestCreateAndVerify(t *testing.T) {
	a := newTestAuthenticator(t)

	token, err := a.CreateAccessToken(DefaultSubject, 0)
	require.NoError(t, err)

	subject, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, subject)
}

func TestCreateAccessToken_Claims(t *testing.T) {
	a := newTestAuthenticator(t)
	issued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return issued }

	token, err := a.CreateAccessToken("someone", 0)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, "someone", claims["sub"])
	assert.Equal(t, float64(issued.Unix()), claims["iat"])
	assert.Equal(t, float64(issued.Add(30*time.Minute).Unix()), claims["exp"])
}

func TestVerifyToken_Rejects(t *testing.T) {
	a := newTestAuthenticator(t)

	expired, err := a.CreateAccessToken("someone", time.Minute)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	other, err := New("other-secret", "HS256", time.Hour)
	require.NoError(t, err)
	foreign, err := other.CreateAccessToken("someone", 0)
	require.NoError(t, err)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "someone",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "someone",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", foreign},
		{"wrong algorithm", wrongAlg},
		{"missing subject", noSubject},
		{"missing expiry", noExpiry},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.VerifyToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuthenticator(t)
	valid, err := a.CreateAccessToken("someone", 0)
	require.NoError(t, err)

	var seen string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/individual/extraer", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), `"detail"`)
				assert.Empty(t, seen)
			} else {
				assert.Equal(t, "someone", seen)
			}
		})
	}
}

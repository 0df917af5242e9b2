package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	s := NewService("test-secret", time.Hour)
	tok, err := s.IssueJWT("ABC234", RoleLearner)
	require.NoError(t, err)

	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "ABC234", c.Sub)
	assert.Equal(t, RoleLearner, c.Role)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewService("secret-a", time.Hour).IssueJWT("ABC234", RoleLearner)
	require.NoError(t, err)

	_, err = NewService("secret-b", time.Hour).Parse(tok)
	assert.Error(t, err)
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	s := NewService("test-secret", time.Hour)
	tok, err := s.IssueJWT("ABC234", RoleLearner)
	require.NoError(t, err)

	var gotSub, gotRole string
	h := Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = SubjectFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABC234", gotSub)
	assert.Equal(t, RoleLearner, gotRole)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	s := NewService("test-secret", time.Hour)
	tok, err := s.IssueJWT("admin", RoleAdmin)
	require.NoError(t, err)

	h := Middleware(s)(RequireRole(RoleLearner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNewAccessCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := NewAccessCode()
		require.Len(t, code, codeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, c), "unexpected rune %q", c)
		}
		seen[code] = true
	}
	// collisions across 100 draws from a 31^6 space would be remarkable
	assert.Greater(t, len(seen), 95)
}

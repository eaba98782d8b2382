package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/rbac"
)

func TestIssueAndParse(t *testing.T) {
	a := NewService("s3cret", "bitacora")
	tok, err := a.Issue("u-1", RoleTeacher, time.Hour)
	require.NoError(t, err)

	c, err := a.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", c.Sub)
	assert.Equal(t, RoleTeacher, c.Role)
}

func TestParseRejects(t *testing.T) {
	a := NewService("s3cret", "bitacora")
	good, err := a.Issue("u-1", RoleStudent, time.Hour)
	require.NoError(t, err)

	other, err := NewService("other", "bitacora").Issue("u-1", RoleStudent, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := NewService("s3cret", "elsewhere").Issue("u-1", RoleStudent, time.Hour)
	require.NoError(t, err)
	expired, err := a.Issue("u-1", RoleStudent, -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Sub: "u-1", Role: RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"wrong secret": other, "wrong issuer": wrongIssuer, "expired": expired,
		"alg none": none, "garbage": "not.a.token",
	} {
		_, err := a.Parse(tok)
		assert.Error(t, err, name)
	}
	_, err = a.Parse(good)
	assert.NoError(t, err)
}

func TestMiddlewareSetsRoleAndSubject(t *testing.T) {
	a := NewService("s3cret", "bitacora")
	var gotRole, gotSub string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = rbac.RoleFromContext(r.Context())
		gotSub = rbac.SubjectFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := a.Issue("enr-7", RoleStudent, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RoleStudent, gotRole)
	assert.Equal(t, "enr-7", gotSub)
}

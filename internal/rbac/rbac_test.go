package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerDefaults(t *testing.T) {
	c := NewChecker(nil)

	assert.True(t, c.Has("student", "attempt:submit"))
	assert.False(t, c.Has("student", "attempt:grade"))
	assert.False(t, c.Has("student", "scores:write"))

	assert.True(t, c.Has("teacher", "exam:assemble"), "prefix wildcard")
	assert.True(t, c.Has("teacher", "attempt:grade"))
	assert.False(t, c.Has("teacher", "attempt:submit"))

	assert.True(t, c.Has("admin", "anything:at-all"))
	assert.False(t, c.Has("ghost", "attempt:view"))

	assert.True(t, c.Any("student", "attempt:grade", "attempt:view"))
	assert.False(t, c.All("student", "attempt:grade", "attempt:view"))
}

func TestContextValues(t *testing.T) {
	ctx := WithSubject(WithRole(context.Background(), "teacher"), "u-9")
	assert.Equal(t, "teacher", RoleFromContext(ctx))
	assert.Equal(t, "u-9", SubjectFromContext(ctx))
	assert.Empty(t, RoleFromContext(context.Background()))
	assert.Empty(t, SubjectFromContext(context.Background()))
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Require("attempt:grade")(ok)

	for role, want := range map[string]int{
		"":        http.StatusForbidden,
		"student": http.StatusForbidden,
		"teacher": http.StatusNoContent,
		"admin":   http.StatusNoContent,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithRole(req.Context(), role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "role %q", role)
	}
}

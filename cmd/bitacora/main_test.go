package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--sub", "enr-1", "--role", "teacher", "--jwt-secret", "s3cret"})
	require.NoError(t, root.Execute())

	c, err := auth.NewService("s3cret", "bitacora").Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "enr-1", c.Sub)
	assert.Equal(t, auth.RoleTeacher, c.Role)
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	root := rootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--sub", "x", "--role", "janitor", "--jwt-secret", "s3cret"})
	assert.Error(t, root.Execute())
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	cmd := serveCmd()
	dsn := "file:" + filepath.Join(t.TempDir(), "b.db") + "?mode=rwc&_pragma=busy_timeout(5000)"
	require.NoError(t, cmd.Flags().Parse([]string{"--db-dsn", dsn, "--jwt-secret", "s3cret", "--log-level", "error"}))

	a, err := newApp(context.Background(), cmd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h, err := a.router()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	for path, want := range map[string]int{
		"/healthz":        http.StatusOK,
		"/metrics":        http.StatusOK,
		"/api/blueprints": http.StatusUnauthorized,
	} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = res.Body.Close()
		assert.Equal(t, want, res.StatusCode, path)
	}
}

func TestRouterNeedsSecret(t *testing.T) {
	a := &app{}
	_, err := a.router()
	assert.Error(t, err)
}

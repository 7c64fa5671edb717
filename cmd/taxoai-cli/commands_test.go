package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxoai/internal/server"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestUsageCommand_YAMLOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/usage", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("refresh"))
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"message":"success","data":{"can_analyze":true,"source":"server","free_tier_limit":25,"local_count":3}}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, "usage", "--refresh", "--server", srv.URL, "--token", "abc", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "can_analyze: true")
	assert.Contains(t, out, "source: server")
}

func TestAnalyzeCommand_ReuseFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products/12/analyze", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("force"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"message":"success","data":{}}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, "analyze", "12", "--reuse", "--server", srv.URL)
	require.NoError(t, err)
}

func TestCommands_RejectBadInput(t *testing.T) {
	_, err := runCLI(t, "analyze", "abc", "--server", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "invalid product id")

	_, err = runCLI(t, "usage", "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestTokenCommand(t *testing.T) {
	out, err := runCLI(t, "token", "--secret", "s3cret", "--subject", "ops")
	require.NoError(t, err)

	claims, err := server.ParseToken("s3cret", "taxoai", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.Can(server.CapabilityEditProducts))
}

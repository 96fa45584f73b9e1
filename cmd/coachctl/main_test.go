package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRetrain_SendsFlagsAndToken(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotAuth = r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization")
		w.Write([]byte(`{"reason":"forced"}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "retrain", "--force", "--wait")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/admin/retrain", gotPath)
	assert.Equal(t, "force=true&wait=true", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Contains(t, out, `"reason": "forced"`)
}

func TestServerErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestTemplatesSeed_FromYAML(t *testing.T) {
	var body struct {
		Templates []map[string]interface{} `json:"templates"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/admin/templates", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"upserted":2}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - id: boost-1
    category: habit_boost
    body: "Keep it up {{ name }}"
    weight: 3
  - id: risk-1
    category: streak_risk
    body: "Your {{ streak_days }} day streak is at risk"
`), 0o644))

	_, err := runCLI(t, srv, "templates", "seed", path)
	require.NoError(t, err)
	require.Len(t, body.Templates, 2)
	assert.Equal(t, "boost-1", body.Templates[0]["id"])
	assert.Equal(t, float64(3), body.Templates[0]["weight"])
}

func TestLoadTemplates(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.json")
	require.NoError(t, os.WriteFile(list, []byte(`[{"id":"a","body":"x"}]`), 0o644))
	tpls, err := loadTemplates(list)
	require.NoError(t, err)
	assert.Len(t, tpls, 1)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("templates: []\n"), 0o644))
	_, err = loadTemplates(empty)
	assert.Error(t, err)
}

func TestCleanup_RejectsNonPositiveDays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "cleanup", "--days", "0")
	assert.Error(t, err)
}

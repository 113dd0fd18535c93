package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/loom/pkg/api"
	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/classref"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
	"github.com/Mindburn-Labs/loom/pkg/registry"
	"github.com/Mindburn-Labs/loom/pkg/rewrite"
	"github.com/Mindburn-Labs/loom/pkg/signing"
)

type consolePlugin struct {
	name string
}

func (p *consolePlugin) Name() string { return p.name }

func (p *consolePlugin) Handles(classref.Type, bool, plugin.Reason) plugin.Phases {
	return plugin.PhaseSet(plugin.PhaseBefore)
}

func (p *consolePlugin) Process(context.Context, plugin.Phase, plugin.ClassNode, classref.Type, plugin.Reason) (rewrite.Level, error) {
	return rewrite.LevelNone, nil
}

type auditingConsolePlugin struct {
	consolePlugin
	eligible []string
}

func (p *auditingConsolePlugin) AuditEligible(_ string, record plugin.RecordFunc) {
	record(p.eligible...)
}

func newConsoleFixture(t *testing.T) (*api.Server, *audit.Trail) {
	t.Helper()

	reg := registry.New()
	require.NoError(t, reg.Register(&auditingConsolePlugin{
		consolePlugin: consolePlugin{name: "mixin"},
		eligible:      []string{"mixin:applied"},
	}))
	require.NoError(t, reg.Register(&consolePlugin{name: "accesstransformer"}))

	trail := audit.NewTrail()
	trail.Append("com.example.Target", []string{"mixin:applied"})
	trail.Append("com.example.Other", []string{"at:public"})

	return api.NewServer(reg, trail, audit.NewExporter(trail)), trail
}

func TestConsole_Healthz(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["plugins"])
	assert.EqualValues(t, 2, body["trail_entries"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestConsole_Plugins(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("GET", "/v1/plugins", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count   int `json:"count"`
		Plugins []struct {
			Name  string `json:"name"`
			Audit bool   `json:"audit"`
		} `json:"plugins"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, 2, body.Count)

	// Registration order is preserved.
	assert.Equal(t, "mixin", body.Plugins[0].Name)
	assert.True(t, body.Plugins[0].Audit)
	assert.Equal(t, "accesstransformer", body.Plugins[1].Name)
	assert.False(t, body.Plugins[1].Audit)
}

func TestConsole_Trail(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("GET", "/v1/trail?class=com.example.Target", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count   int            `json:"count"`
		Entries []*audit.Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "com.example.Target", body.Entries[0].ClassName)
}

func TestConsole_Trail_BadSince(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("GET", "/v1/trail?since=yesterday", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, "/v1/trail", problem.Instance)
	assert.NotEmpty(t, problem.TraceID)
}

func TestConsole_TrailVerify(t *testing.T) {
	srv, trail := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("GET", "/v1/trail/verify", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, trail.Head(), body["chain_head"])
}

func TestConsole_TrailExport(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("POST", "/v1/trail/export", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Bundle-Checksum"))
	assert.Len(t, w.Header().Get("X-Bundle-Merkle-Root"), 64)

	zipBytes, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	require.NoError(t, audit.VerifyPack(zipBytes))
}

func TestConsole_TrailExport_EmptyBody(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	// No body means export everything.
	req := httptest.NewRequest("POST", "/v1/trail/export", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestConsole_TrailExport_NoMatches(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("POST", "/v1/trail/export",
		bytes.NewBufferString(`{"class_name":"com.example.Absent"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsole_TrailExport_InvalidRange(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	until := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	since := time.Now().UTC().Format(time.RFC3339)
	body, err := json.Marshal(map[string]string{"since": since, "until": until})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/v1/trail/export", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsole_TrailExport_IdempotentReplay(t *testing.T) {
	srv, trail := newConsoleFixture(t)
	handler := srv.Handler(nil, api.NewIdempotencyStore(time.Minute))

	req := httptest.NewRequest("POST", "/v1/trail/export", bytes.NewBufferString(`{}`))
	req.Header.Set("Idempotency-Key", "export-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	first := w.Header().Get("X-Bundle-ID")
	require.NotEmpty(t, first)

	// The trail keeps growing, but the same key replays the original pack.
	trail.Append("com.example.Later", nil)

	req = httptest.NewRequest("POST", "/v1/trail/export", bytes.NewBufferString(`{}`))
	req.Header.Set("Idempotency-Key", "export-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, w.Header().Get("X-Bundle-ID"))
}

func TestConsole_Keys(t *testing.T) {
	srv, _ := newConsoleFixture(t)

	keys, err := signing.NewMemoryKeyProvider()
	require.NoError(t, err)
	srv.WithAttestor(signing.NewAttestor(keys, "loom-test"))
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("GET", "/v1/keys", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Keys []struct {
			Alg       string `json:"alg"`
			PublicKey string `json:"public_key"`
		} `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Keys, 1)
	assert.Equal(t, "EdDSA", body.Keys[0].Alg)
	assert.Len(t, body.Keys[0].PublicKey, 64) // 32 bytes hex
}

func TestConsole_Keys_NoAttestor(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("GET", "/v1/keys", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsole_AuthToken(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	srv.WithAuthToken("secret")
	handler := srv.Handler(nil, nil)

	// Health stays open for probes.
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/v1/plugins", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("GET", "/v1/plugins", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestConsole_MethodNotAllowed(t *testing.T) {
	srv, _ := newConsoleFixture(t)
	handler := srv.Handler(nil, nil)

	req := httptest.NewRequest("DELETE", "/v1/trail", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

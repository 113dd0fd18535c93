package api

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/loom/pkg/audit"
	"github.com/Mindburn-Labs/loom/pkg/plugin"
	"github.com/Mindburn-Labs/loom/pkg/registry"
	"github.com/Mindburn-Labs/loom/pkg/signing"
)

// Server is the operator console for a running dispatch core. It is read-only
// except for evidence pack exports; plugin registration happens at launch
// wiring, never over HTTP.
type Server struct {
	registry *registry.Registry
	trail    *audit.Trail
	exporter *audit.Exporter
	attestor *signing.Attestor
	token    string
}

func NewServer(reg *registry.Registry, trail *audit.Trail, exporter *audit.Exporter) *Server {
	return &Server{
		registry: reg,
		trail:    trail,
		exporter: exporter,
	}
}

// WithAttestor exposes the pack verification key on /v1/keys.
func (s *Server) WithAttestor(a *signing.Attestor) *Server {
	s.attestor = a
	return s
}

// WithAuthToken requires a bearer token on every /v1 route. Empty leaves the
// console open, for local use.
func (s *Server) WithAuthToken(token string) *Server {
	s.token = token
	return s
}

// Handler wires the console routes. The rate limiter and idempotency store
// are optional; passing nil disables that layer.
func (s *Server) Handler(limiter *GlobalRateLimiter, idem IdempotencyStorer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/v1/plugins", s.protect(http.HandlerFunc(s.handlePlugins)))
	mux.Handle("/v1/trail", s.protect(http.HandlerFunc(s.handleTrail)))
	mux.Handle("/v1/trail/verify", s.protect(http.HandlerFunc(s.handleTrailVerify)))
	mux.Handle("/v1/keys", s.protect(http.HandlerFunc(s.handleKeys)))

	var export http.Handler = http.HandlerFunc(s.handleTrailExport)
	if idem != nil {
		export = IdempotencyMiddleware(idem)(export)
	}
	// Auth sits outside idempotency so replays cannot skip it.
	mux.Handle("/v1/trail/export", s.protect(export))

	var h http.Handler = mux
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	return RequestIDMiddleware(h)
}

func (s *Server) protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				WriteUnauthorized(w, "")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"plugins":       s.registry.Len(),
		"trail_entries": s.trail.Size(),
	})
}

// pluginInfo is the wire form of one registered plugin.
type pluginInfo struct {
	Name      string `json:"name"`
	Audit     bool   `json:"audit"`
	Resources bool   `json:"resources"`
	Extension bool   `json:"extension"`
}

// handlePlugins handles GET /v1/plugins.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	all := s.registry.All()
	infos := make([]pluginInfo, 0, len(all))
	for _, p := range all {
		_, auditOK := plugin.As[plugin.AuditConsumer](p)
		_, resOK := plugin.As[plugin.ResourceConsumer](p)
		_, extOK := plugin.ExtensionOf(p)
		infos = append(infos, pluginInfo{
			Name:      p.Name(),
			Audit:     auditOK,
			Resources: resOK,
			Extension: extOK,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":   len(infos),
		"plugins": infos,
	})
}

// handleTrail handles GET /v1/trail with optional class, contains, since,
// until, and limit query parameters.
func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	filter := audit.Filter{
		ClassName: r.URL.Query().Get("class"),
		Contains:  r.URL.Query().Get("contains"),
	}

	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "since must be RFC 3339")
			return
		}
		filter.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "until must be RFC 3339")
			return
		}
		filter.Until = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "limit must be a non-negative integer")
			return
		}
		filter.MaxResults = n
	}

	entries := s.trail.Query(filter)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"count":      len(entries),
		"chain_head": s.trail.Head(),
		"entries":    entries,
	})
}

// handleTrailVerify handles GET /v1/trail/verify. Verification failures are a
// result, not a transport error, so both outcomes are 200.
func (s *Server) handleTrailVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	resp := map[string]any{
		"ok":         true,
		"entries":    s.trail.Size(),
		"chain_head": s.trail.Head(),
	}
	if err := s.trail.VerifyChain(); err != nil {
		resp["ok"] = false
		resp["error"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// exportRequest is the wire form of POST /v1/trail/export.
type exportRequest struct {
	ClassName string `json:"class_name,omitempty"`
	Since     string `json:"since,omitempty"`
	Until     string `json:"until,omitempty"`
}

// handleTrailExport handles POST /v1/trail/export and streams back the
// evidence pack zip.
func (s *Server) handleTrailExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	exportReq := audit.ExportRequest{ClassName: req.ClassName}
	if req.Since != "" {
		t, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			WriteBadRequest(w, "since must be RFC 3339")
			return
		}
		exportReq.Since = &t
	}
	if req.Until != "" {
		t, err := time.Parse(time.RFC3339, req.Until)
		if err != nil {
			WriteBadRequest(w, "until must be RFC 3339")
			return
		}
		exportReq.Until = &t
	}

	zipBytes, bundle, err := s.exporter.GeneratePack(r.Context(), exportReq)
	switch {
	case errors.Is(err, audit.ErrInvalidTimeRange):
		WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, audit.ErrNoEntries):
		WriteNotFound(w, "No trail entries match the filter")
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "trail-"+bundle.GeneratedAt.Format("20060102")+".zip"))
	w.Header().Set("X-Bundle-ID", bundle.BundleID)
	w.Header().Set("X-Bundle-Checksum", bundle.Checksum)
	w.Header().Set("X-Bundle-Merkle-Root", bundle.MerkleRoot)
	_, _ = w.Write(zipBytes)
}

// handleKeys handles GET /v1/keys, exposing the Ed25519 key that verifies
// pack attestations.
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	if s.attestor == nil {
		WriteNotFound(w, "No attestation key configured")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]string{
			{
				"use":        "pack-attestation",
				"alg":        "EdDSA",
				"public_key": hex.EncodeToString(s.attestor.PublicKey()),
			},
		},
	})
}

// Package gateway is the thin HTTP layer spec.md §6 names: it attaches
// the F7T-* response headers, maps typed internal/ferrors failures to
// the gateway's status-code table, and wires just enough routes to
// exercise the admission gate and the error mapper end to end (the full
// OpenAPI route surface is out of scope, see spec.md's Non-goals).
//
// Grounded on pkg/api/health.go's plain net/http.ServeMux server shape
// (no router library anywhere in the pack) and pkg/api/interceptor.go's
// "decide, then respond" interceptor idiom, here applied to a plain
// http.Handler instead of a gRPC interceptor.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/germanfgv/firecrest-v2/internal/admission"
	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/germanfgv/firecrest-v2/internal/obslog"
	"github.com/germanfgv/firecrest-v2/internal/servicecontext"
)

// AppVersion is the value reported in the F7T-AppVersion header, set by
// the CLI entrypoint from the loaded configuration's appVersion.
var AppVersion = "dev"

// ErrorBody is the JSON error shape spec.md §6 names: a required
// errorType and message, plus optional data/user fields.
type ErrorBody struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	User      string `json:"user,omitempty"`
}

// statusForKind is the status-code mapping table spec.md §6 names
// verbatim.
var statusForKind = map[ferrors.Kind]int{
	ferrors.NotFound:             http.StatusNotFound,
	ferrors.Forbidden:            http.StatusForbidden,
	ferrors.Conflict:             http.StatusBadRequest,
	ferrors.Timeout:              http.StatusRequestTimeout,
	ferrors.OutputTooLarge:       http.StatusRequestEntityTooLarge,
	ferrors.UpstreamUnavailable:  http.StatusFailedDependency,
	ferrors.SchedulerInternal:    http.StatusServiceUnavailable,
	ferrors.ServiceUnavailable:   http.StatusServiceUnavailable,
	ferrors.PreconditionRequired: http.StatusPreconditionRequired,
	ferrors.AuthToken:            http.StatusBadRequest,
	ferrors.CredentialMissing:    http.StatusBadRequest,
	ferrors.BadRequest:           http.StatusBadRequest,
	ferrors.Validation:           http.StatusBadRequest,
}

// errorTypeForKind names the "error" vs "validation" discriminator
// spec.md §6's error body carries.
func errorTypeForKind(k ferrors.Kind) string {
	if k == ferrors.BadRequest || k == ferrors.Validation {
		return "validation"
	}
	return "error"
}

// MapError translates any error into an HTTP status code and body. Not
// implemented scheduler operations are signalled with
// errors.ErrUnsupported per spec.md §6's not-implemented-scheduler→501.
func MapError(err error) (int, ErrorBody) {
	if errors.Is(err, errors.ErrUnsupported) {
		return http.StatusNotImplemented, ErrorBody{ErrorType: "error", Message: err.Error()}
	}

	var fe *ferrors.Error
	if !errors.As(err, &fe) {
		return http.StatusInternalServerError, ErrorBody{ErrorType: "error", Message: err.Error()}
	}

	status, ok := statusForKind[fe.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, ErrorBody{ErrorType: errorTypeForKind(fe.Kind), Message: fe.Message}
}

// WriteError maps err and writes the resulting status/body as JSON,
// stamping the standard response headers first.
func WriteError(w http.ResponseWriter, r *http.Request, username string, err error) {
	status, body := MapError(err)
	writeHeaders(w, username)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeHeaders attaches the three F7T-* headers spec.md §6 requires on
// every response.
func writeHeaders(w http.ResponseWriter, username string) {
	w.Header().Set("F7T-Timestamp", time.Now().UTC().Format(time.RFC3339))
	w.Header().Set("F7T-AppVersion", AppVersion)
	if username != "" {
		w.Header().Set("F7T-AuthUsername", username)
	}
}

// Server holds the minimal route wiring that exercises the admission
// gate, the error mapper, and the per-cluster health/transfer wiring
// built by servicecontext.
type Server struct {
	Services *servicecontext.ServiceContext
	mux      *http.ServeMux
}

// NewServer builds a Server and registers its routes.
func NewServer(services *servicecontext.ServiceContext) *Server {
	s := &Server{Services: services, mux: http.NewServeMux()}
	s.mux.HandleFunc("/status/", s.handleClusterStatus)
	s.mux.HandleFunc("/healthz", s.handleLiveness)
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleLiveness is a process-liveness check independent of any
// cluster, mirroring the teacher's /health endpoint.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w, "")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// clusterNameFromPath extracts the path segment after "/status/".
func clusterNameFromPath(path string) string {
	const prefix = "/status/"
	if len(path) <= len(prefix) {
		return ""
	}
	return path[len(prefix):]
}

// handleClusterStatus runs the admission gate for the named cluster
// with no service requirement (ignoreHealth semantics), then reports
// every current health sample — a diagnostic route in the sense of
// spec.md §4.6's "ignoreHealth flag bypasses health matching for
// diagnostic routes".
func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	clusterName := clusterNameFromPath(r.URL.Path)
	if clusterName == "" {
		WriteError(w, r, "", ferrors.BadRequestf("missing cluster name"))
		return
	}

	req := admission.Request{ClusterName: clusterName, IgnoreHealth: true}
	cluster, err := s.Services.Admission.Admit(req)
	if err != nil {
		obslog.WithComponent("gateway").Warn().Err(err).Str("cluster", clusterName).Msg("status request rejected")
		WriteError(w, r, "", err)
		return
	}

	samples := s.Services.Health.Samples(cluster.Name)
	writeHeaders(w, "")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"cluster": cluster.Name,
		"samples": samples,
	})
}

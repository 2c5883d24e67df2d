package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanfgv/firecrest-v2/internal/config"
	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/germanfgv/firecrest-v2/internal/servicecontext"
)

const testYAML = `
appVersion: "1.14.0"
apisRootPath: /api/v2
auth:
  authentication:
    issuerUrl: https://auth.example.com/realms/firecrest
    audience: firecrest
sshCredentials:
  url: https://keys.example.com
storage:
  name: firecrest-transfers
  privateUrl: https://s3-private.example.com
  publicUrl: https://s3.example.com
  accessKeyId: AKIAEXAMPLE
  secretAccessKey: notarealsecret
  region: us-east-1
  lifecycleDays: 10
  maxOpsFileSize: 5242880
  multipart:
    maxPartSize: 2147483648
    parallelRuns: 3
clusters:
  - name: daint
    ssh:
      host: login.daint.example.com
      port: 22
      maxClients: 100
      timeout:
        connection: 5
        login: 5
        commandExecution: 10
        idleTimeout: 60
        keepAlive: 5
    scheduler:
      type: slurm
      timeout: 10
    serviceAccount:
      username: svc-firecrest
      clientId: firecrest-health
      secret: notarealsecret
    probing:
      interval: 30
      timeout: 5
    fileSystems:
      - path: /scratch/snx3000
        dataType: scratch
        defaultWorkDir: true
`

func testServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "firecrest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))

	doc, err := config.LoadFile(path)
	require.NoError(t, err)

	sc, err := servicecontext.Build(context.Background(), doc)
	require.NoError(t, err)

	return NewServer(sc)
}

func TestHandleLiveness_ReturnsHealthyWithHeaders(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("F7T-Timestamp"))
	assert.Equal(t, AppVersion, rec.Header().Get("F7T-AppVersion"))
}

func TestHandleClusterStatus_UnknownClusterReturns404(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status/nonexistent", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleClusterStatus_KnownClusterReturnsSamples(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status/daint", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMapError_KnownKindsMapToSpecStatusCodes(t *testing.T) {
	cases := []struct {
		kind   ferrors.Kind
		status int
		typ    string
	}{
		{ferrors.NotFound, http.StatusNotFound, "error"},
		{ferrors.Forbidden, http.StatusForbidden, "error"},
		{ferrors.Conflict, http.StatusBadRequest, "error"},
		{ferrors.Timeout, http.StatusRequestTimeout, "error"},
		{ferrors.OutputTooLarge, http.StatusRequestEntityTooLarge, "error"},
		{ferrors.UpstreamUnavailable, http.StatusFailedDependency, "error"},
		{ferrors.SchedulerInternal, http.StatusServiceUnavailable, "error"},
		{ferrors.PreconditionRequired, http.StatusPreconditionRequired, "error"},
		{ferrors.BadRequest, http.StatusBadRequest, "validation"},
		{ferrors.Validation, http.StatusBadRequest, "validation"},
	}

	for _, c := range cases {
		status, body := MapError(ferrors.New(c.kind, "boom"))
		assert.Equal(t, c.status, status, "kind=%s", c.kind)
		assert.Equal(t, c.typ, body.ErrorType, "kind=%s", c.kind)
		assert.Equal(t, "boom", body.Message)
	}
}

func TestMapError_UnknownErrorMapsTo500(t *testing.T) {
	status, body := MapError(errors.New("plain failure"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "error", body.ErrorType)
}

func TestMapError_UnsupportedOperationMapsTo501(t *testing.T) {
	err := errors.Join(errors.ErrUnsupported, errors.New("pbs not implemented"))
	status, _ := MapError(err)
	assert.Equal(t, http.StatusNotImplemented, status)
}

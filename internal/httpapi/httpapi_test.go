package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/festion/homelab-gitops-auditor/internal/core/service"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/orchestrator"
	memstore "github.com/festion/homelab-gitops-auditor/internal/store/memory"
)

type stubSubmitter struct {
	id   string
	err  error
	last orchestrator.Request
}

func (s *stubSubmitter) Submit(_ context.Context, req orchestrator.Request) (string, error) {
	s.last = req
	return s.id, s.err
}

type stubRollback struct {
	id  string
	err error
}

func (s *stubRollback) Rollback(context.Context, string, string, string) (string, error) {
	return s.id, s.err
}

type stubDescriptors struct{ descr []core.Descriptor }

func (s stubDescriptors) Descriptors() []core.Descriptor { return s.descr }

func newAPI(submit *stubSubmitter, rollback *stubRollback, st DeploymentStore) *API {
	return New(Config{}, submit, rollback, st, stubDescriptors{descr: []core.Descriptor{{Name: "orchestrator"}}}, nil)
}

func TestHandleManualDeployAcceptsValidRequest(t *testing.T) {
	submit := &stubSubmitter{id: "dep-1"}
	api := newAPI(submit, &stubRollback{}, memstore.New())

	body, _ := json.Marshal(manualDeployRequest{
		Repository: "owner/r", Branch: "main", Reason: "rolling out a config fix", TriggeredBy: "operator",
	})
	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TriggerManual, submit.last.Trigger)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dep-1", resp["deployment_id"])
}

func TestHandleManualDeployRejectsShortReason(t *testing.T) {
	api := newAPI(&stubSubmitter{id: "dep-1"}, &stubRollback{}, memstore.New())

	body, _ := json.Marshal(manualDeployRequest{Repository: "owner/r", Branch: "main", Reason: "short"})
	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleManualDeploySetsSkipLabels(t *testing.T) {
	submit := &stubSubmitter{id: "dep-1"}
	api := newAPI(submit, &stubRollback{}, memstore.New())

	createBackup := false
	skipHealth := true
	body, _ := json.Marshal(manualDeployRequest{
		Repository: "owner/r", Branch: "main", Reason: "emergency hotfix, skipping checks",
		CreateBackup: &createBackup, SkipHealthCheck: &skipHealth,
	})
	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false", submit.last.Labels["create_backup"])
	assert.Equal(t, "true", submit.last.Labels["skip_health_check"])
}

func TestHandleRollbackReturnsRollbackDeploymentID(t *testing.T) {
	api := newAPI(&stubSubmitter{}, &stubRollback{id: "dep-rollback"}, memstore.New())

	body, _ := json.Marshal(rollbackRequest{DeploymentID: "dep-1", Reason: "bad deploy", TriggeredBy: "operator"})
	req := httptest.NewRequest(http.MethodPost, "/rollbacks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dep-rollback", resp["rollback_deployment_id"])
}

func TestHandleRollbackRejectsMissingReason(t *testing.T) {
	api := newAPI(&stubSubmitter{}, &stubRollback{id: "dep-rollback"}, memstore.New())

	body, _ := json.Marshal(rollbackRequest{DeploymentID: "dep-1"})
	req := httptest.NewRequest(http.MethodPost, "/rollbacks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeploymentStatusReturnsStoredDeployment(t *testing.T) {
	st := memstore.New()
	require.NoError(t, st.PutDeployment(context.Background(), domain.Deployment{ID: "dep-1", Repository: "owner/r", State: domain.StateCompleted}))
	api := newAPI(&stubSubmitter{}, &stubRollback{}, st)

	req := httptest.NewRequest(http.MethodGet, "/deployments/dep-1", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dep domain.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dep))
	assert.Equal(t, "owner/r", dep.Repository)
}

func TestHandleDeploymentStatusReturns404ForUnknownID(t *testing.T) {
	api := newAPI(&stubSubmitter{}, &stubRollback{}, memstore.New())

	req := httptest.NewRequest(http.MethodGet, "/deployments/missing", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleManualDeployRejectsMissingTokenWhenConfigured(t *testing.T) {
	submit := &stubSubmitter{id: "dep-1"}
	api := New(Config{APITokens: []string{"secret-token"}}, submit, &stubRollback{}, memstore.New(), nil, nil)

	body, _ := json.Marshal(manualDeployRequest{Repository: "owner/r", Branch: "main", Reason: "rolling out a config fix"})
	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleManualDeployAcceptsValidToken(t *testing.T) {
	submit := &stubSubmitter{id: "dep-1"}
	api := New(Config{APITokens: []string{"secret-token"}}, submit, &stubRollback{}, memstore.New(), nil, nil)

	body, _ := json.Marshal(manualDeployRequest{Repository: "owner/r", Branch: "main", Reason: "rolling out a config fix"})
	req := httptest.NewRequest(http.MethodPost, "/deployments", bytes.NewReader(body))
	req.Header.Set("X-API-Token", "secret-token")
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDescriptorsReturnsRegisteredServices(t *testing.T) {
	api := newAPI(&stubSubmitter{}, &stubRollback{}, memstore.New())

	req := httptest.NewRequest(http.MethodGet, "/system/descriptors", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var descr []core.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &descr))
	require.Len(t, descr, 1)
	assert.Equal(t, "orchestrator", descr[0].Name)
}

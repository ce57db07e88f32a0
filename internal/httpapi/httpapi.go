// Package httpapi is the manual-control HTTP surface for the deployment
// orchestrator: submit a manual deployment, trigger a rollback, and
// check deployment/service status, using a per-route handler pattern;
// introspection endpoints expose the registered service descriptors from
// this control plane's internal/system.Manager.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	core "github.com/festion/homelab-gitops-auditor/internal/core/service"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/middleware"
	"github.com/festion/homelab-gitops-auditor/internal/orchestrator"
	"github.com/festion/homelab-gitops-auditor/internal/store"
	"github.com/festion/homelab-gitops-auditor/internal/svcerr"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Submitter accepts a normalized deployment request.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
}

// RollbackTrigger restores a terminal deployment's backup as a new
// deployment (narrowed from *orchestrator.Orchestrator).
type RollbackTrigger interface {
	Rollback(ctx context.Context, targetID, reason, actor string) (string, error)
}

// DeploymentStore is the read surface this API needs from the Store.
type DeploymentStore interface {
	LookupDeploymentByID(ctx context.Context, id string) (domain.Deployment, int, error)
	ListDeploymentHistory(ctx context.Context, repository string, limit, offset int) ([]domain.Deployment, error)
}

// DescriptorSource advertises registered service descriptors, implemented
// by internal/system.Manager.
type DescriptorSource interface {
	Descriptors() []core.Descriptor
}

// Config controls rate limiting, body caps, and API-token authentication for
// this surface.
type Config struct {
	MaxBodyBytes    int64
	RateLimitPerSec float64
	RateLimitBurst  int

	// APITokens authenticates manual-control requests via a bearer token or
	// X-API-Token header. Empty disables authentication, which is the right
	// default for a locally-trusted operator network but should be set
	// wherever this surface is reachable over an untrusted network.
	APITokens []string
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.RateLimitPerSec <= 0 {
		c.RateLimitPerSec = 5
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 10
	}
	return c
}

// API is the manual deploy/rollback/status/introspection HTTP surface.
type API struct {
	cfg         Config
	submit      Submitter
	rollback    RollbackTrigger
	store       DeploymentStore
	descriptors DescriptorSource
	log         *logging.Logger

	rateLimiter *middleware.RateLimiter
	bodyLimit   *middleware.BodyLimit
	tokens      map[string]struct{}
}

// New constructs an API. descriptors may be nil, in which case the
// introspection endpoint reports an empty list.
func New(cfg Config, submit Submitter, rollback RollbackTrigger, st DeploymentStore, descriptors DescriptorSource, log *logging.Logger) *API {
	if log == nil {
		log = logging.New("manual-api", logging.Config{Level: "info", Format: "text", Output: "stdout"})
	}
	cfg = cfg.withDefaults()
	return &API{
		cfg: cfg, submit: submit, rollback: rollback, store: st, descriptors: descriptors, log: log,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		bodyLimit:   middleware.NewBodyLimit(cfg.MaxBodyBytes),
		tokens:      tokenSet(cfg.APITokens),
	}
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Router returns the manual-control endpoints wrapped in the shared
// middleware chain.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(a.log), middleware.Logging(a.log), a.rateLimiter.Handler(middleware.ClientIP), a.bodyLimit.Handler, a.authenticate)
	r.HandleFunc("/deployments", a.handleManualDeploy).Methods(http.MethodPost)
	r.HandleFunc("/deployments/{id}", a.handleDeploymentStatus).Methods(http.MethodGet)
	r.HandleFunc("/repositories/{repository}/deployments", a.handleDeploymentHistory).Methods(http.MethodGet)
	r.HandleFunc("/rollbacks", a.handleRollback).Methods(http.MethodPost)
	r.HandleFunc("/system/descriptors", a.handleDescriptors).Methods(http.MethodGet)
	return r
}

// authenticate rejects requests lacking a configured API token. A nil/empty
// token set disables the check, so local/operator-trusted deployments need
// not configure one.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := a.tokens[bearerToken(r)]; !ok {
			reject(w, svcerr.New(svcerr.Unauthorized, "missing or invalid API token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get("X-API-Token")); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// Cleanup bounds the per-key rate limiter map's growth.
func (a *API) Cleanup() {
	a.rateLimiter.Cleanup()
}

type manualDeployRequest struct {
	Repository      string `json:"repository"`
	Commit          string `json:"commit"`
	Branch          string `json:"branch"`
	Reason          string `json:"reason"`
	CreateBackup    *bool  `json:"create_backup"`
	SkipHealthCheck *bool  `json:"skip_health_check"`
	TriggeredBy     string `json:"triggered_by"`
}

func (a *API) handleManualDeploy(w http.ResponseWriter, r *http.Request) {
	var req manualDeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, svcerr.Wrap(svcerr.Malformed, "invalid JSON body", err))
		return
	}

	repository := strings.TrimSpace(req.Repository)
	branch := strings.TrimSpace(req.Branch)
	reason := strings.TrimSpace(req.Reason)
	if repository == "" || branch == "" {
		reject(w, svcerr.New(svcerr.Validation, "repository and branch are required"))
		return
	}
	if len(reason) < 10 || len(reason) > 500 {
		reject(w, svcerr.New(svcerr.Validation, "reason must be between 10 and 500 characters"))
		return
	}

	labels := map[string]string{}
	if req.CreateBackup != nil && !*req.CreateBackup {
		labels["create_backup"] = "false"
	}
	if req.SkipHealthCheck != nil && *req.SkipHealthCheck {
		labels["skip_health_check"] = "true"
	}

	id, err := a.submit.Submit(r.Context(), orchestrator.Request{
		Repository: repository,
		Commit:     strings.TrimSpace(req.Commit),
		Branch:     branch,
		Actor:      req.TriggeredBy,
		Trigger:    domain.TriggerManual,
		Reason:     reason,
		Labels:     labels,
	})
	if err != nil {
		reject(w, svcerr.Wrap(svcerr.Internal, "deployment submission failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deployment_id": id})
}

type rollbackRequest struct {
	DeploymentID string `json:"deployment_id"`
	Reason       string `json:"reason"`
	TriggeredBy  string `json:"triggered_by"`
}

func (a *API) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, svcerr.Wrap(svcerr.Malformed, "invalid JSON body", err))
		return
	}
	deploymentID := strings.TrimSpace(req.DeploymentID)
	reason := strings.TrimSpace(req.Reason)
	if deploymentID == "" || reason == "" {
		reject(w, svcerr.New(svcerr.Validation, "deployment_id and reason are required"))
		return
	}

	id, err := a.rollback.Rollback(r.Context(), deploymentID, reason, req.TriggeredBy)
	if err != nil {
		reject(w, svcerr.Wrap(svcerr.Validation, err.Error(), err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rollback_deployment_id": id})
}

func (a *API) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dep, _, err := a.store.LookupDeploymentByID(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			reject(w, svcerr.New(svcerr.NotFound, "deployment not found"))
			return
		}
		reject(w, svcerr.Wrap(svcerr.Internal, "failed to load deployment", err))
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (a *API) handleDeploymentHistory(w http.ResponseWriter, r *http.Request) {
	repository := mux.Vars(r)["repository"]
	limit := core.ClampLimit(0, core.DefaultListLimit, core.MaxListLimit)
	history, err := a.store.ListDeploymentHistory(r.Context(), repository, limit, 0)
	if err != nil {
		reject(w, svcerr.Wrap(svcerr.Internal, "failed to load deployment history", err))
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) handleDescriptors(w http.ResponseWriter, r *http.Request) {
	if a.descriptors == nil {
		writeJSON(w, http.StatusOK, []core.Descriptor{})
		return
	}
	writeJSON(w, http.StatusOK, a.descriptors.Descriptors())
}

func reject(w http.ResponseWriter, err error) {
	kind := svcerr.KindOf(err)
	writeJSON(w, svcerr.StatusFor(kind), map[string]string{"error": string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Package webhook implements the Webhook Intake: a POST endpoint that
// authenticates inbound version-control events, parses the push envelope,
// and hands a normalized deployment request to the Orchestrator. The
// middleware chain (recovery, request logging, per-IP rate limit, body size
// cap) shares internal/middleware with the manual-control HTTP API; routing
// uses gorilla/mux.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/festion/homelab-gitops-auditor/internal/audit"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/middleware"
	"github.com/festion/homelab-gitops-auditor/internal/orchestrator"
	"github.com/festion/homelab-gitops-auditor/internal/security"
	"github.com/festion/homelab-gitops-auditor/internal/svcerr"
)

// defaultMaxBodyBytes is the cap applied absent configuration.
const defaultMaxBodyBytes int64 = 1 << 20

// Submitter accepts a normalized deployment request; narrowed from
// *orchestrator.Orchestrator so handlers are testable against a stub.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
}

// Bus publishes bus events (narrowed from eventbus.Bus).
type Bus interface {
	Publish(evt eventbus.Event)
}

// Config controls signature verification, rate limiting, and body caps
// (security/config surface).
type Config struct {
	Secret          []byte
	MaxBodyBytes    int64
	RateLimitPerSec float64
	RateLimitBurst  int
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

// pushEvent is the GitHub-style push envelope this endpoint accepts
// (X-Hub-Signature-256 / X-GitHub-Event headers, JSON body).
type pushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

func (p pushEvent) branch() string {
	return strings.TrimPrefix(p.Ref, "refs/heads/")
}

// Intake is the C11 HTTP surface.
type Intake struct {
	cfg      Config
	submit   Submitter
	auditLog *audit.Log
	bus      Bus
	log      *logging.Logger

	rateLimiter *middleware.RateLimiter
	bodyLimit   *middleware.BodyLimit
}

// New constructs an Intake.
func New(cfg Config, submit Submitter, auditLog *audit.Log, bus Bus, log *logging.Logger) *Intake {
	if log == nil {
		log = logging.New("webhook-intake", logging.Config{Level: "info", Format: "text", Output: "stdout"})
	}
	cfg = cfg.withDefaults()
	return &Intake{
		cfg: cfg, submit: submit, auditLog: auditLog, bus: bus, log: log,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		bodyLimit:   middleware.NewBodyLimit(cfg.MaxBodyBytes),
	}
}

// Router returns the webhook endpoint wrapped in its middleware chain.
func (in *Intake) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(in.log), middleware.Logging(in.log), in.rateLimiter.Handler(middleware.ClientIP), in.bodyLimit.Handler)
	r.HandleFunc("/webhooks/vcs", in.handlePush).Methods(http.MethodPost)
	return r
}

func (in *Intake) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		in.reject(w, r, "", svcerr.New(svcerr.PayloadTooLarge, "request body exceeds limit"))
		return
	}

	sigHeader := r.Header.Get("X-Hub-Signature-256")
	if err := security.VerifySignature(in.cfg.Secret, body, sigHeader); err != nil {
		in.record(domain.ActionWebhookSignatureInvalid, middleware.ClientIP(r), domain.AuditFailure, nil)
		in.reject(w, r, "", err)
		return
	}

	var evt pushEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		in.reject(w, r, "", svcerr.Wrap(svcerr.Malformed, "invalid JSON body", err))
		return
	}
	repository := strings.TrimSpace(evt.Repository.FullName)
	commit := strings.TrimSpace(evt.After)
	if repository == "" || commit == "" {
		in.reject(w, r, "", svcerr.New(svcerr.Malformed, "repository and after are required"))
		return
	}

	req := orchestrator.Request{
		Repository: repository,
		Commit:     commit,
		Branch:     evt.branch(),
		Actor:      evt.Pusher.Name,
		Trigger:    domain.TriggerWebhook,
		Reason:     "automated",
	}

	id, err := in.submit.Submit(ctx, req)
	if err != nil {
		in.record(domain.ActionWebhookRejected, repository, domain.AuditFailure, map[string]string{"error": err.Error()})
		in.reject(w, r, repository, svcerr.Wrap(svcerr.Internal, "deployment submission failed", err))
		return
	}

	in.record(domain.ActionWebhookAccepted, repository, domain.AuditSuccess, map[string]string{"commit": commit, "deployment_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"deployment_id": id})
}

func (in *Intake) record(action, resource string, result domain.AuditResult, details map[string]string) {
	if in.auditLog == nil {
		return
	}
	in.auditLog.Record(domain.AuditEvent{
		Timestamp: time.Now(), Action: action, Resource: resource, Result: result, Details: details,
	})
}

// reject maps a closed-set svcerr.Kind to a stable status code, never
// echoing the attempted signature.
func (in *Intake) reject(w http.ResponseWriter, r *http.Request, repository string, err error) {
	kind := svcerr.KindOf(err)
	status := svcerr.StatusFor(kind)
	message := publicMessage(kind)
	in.log.WithFields(map[string]interface{}{"kind": string(kind), "repository": repository, "remote": middleware.ClientIP(r)}).
		Warn("webhook rejected")
	writeJSON(w, status, map[string]string{"error": message})
}

func publicMessage(kind svcerr.Kind) string {
	switch kind {
	case svcerr.SignatureMissing:
		return "signature_missing"
	case svcerr.SignatureInvalid:
		return "signature_invalid"
	case svcerr.Malformed:
		return "malformed"
	case svcerr.PayloadTooLarge:
		return "payload_too_large"
	case svcerr.RateLimited:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Cleanup bounds the per-IP rate limiter map's growth; call periodically
// from a background ticker for a long-lived listener.
func (in *Intake) Cleanup() {
	in.rateLimiter.Cleanup()
}

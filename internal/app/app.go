// Package app assembles every component of the control plane into one
// running process: it owns construction order, the collaborator wiring
// between components, and the internal/system.Manager lifecycle that starts
// and stops them together. cmd/auditor is a thin flag/signal shim around
// this package.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/festion/homelab-gitops-auditor/internal/anomaly"
	"github.com/festion/homelab-gitops-auditor/internal/applier/shellapplier"
	"github.com/festion/homelab-gitops-auditor/internal/audit"
	"github.com/festion/homelab-gitops-auditor/internal/backup/fsbackup"
	"github.com/festion/homelab-gitops-auditor/internal/config"
	core "github.com/festion/homelab-gitops-auditor/internal/core/service"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/healthcheck"
	"github.com/festion/homelab-gitops-auditor/internal/httpapi"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/metricsource"
	"github.com/festion/homelab-gitops-auditor/internal/monitor"
	"github.com/festion/homelab-gitops-auditor/internal/notify"
	notifylog "github.com/festion/homelab-gitops-auditor/internal/notify/log"
	"github.com/festion/homelab-gitops-auditor/internal/notify/slack"
	"github.com/festion/homelab-gitops-auditor/internal/orchestrator"
	"github.com/festion/homelab-gitops-auditor/internal/security"
	"github.com/festion/homelab-gitops-auditor/internal/store"
	"github.com/festion/homelab-gitops-auditor/internal/store/memory"
	"github.com/festion/homelab-gitops-auditor/internal/store/postgres"
	"github.com/festion/homelab-gitops-auditor/internal/system"
	"github.com/festion/homelab-gitops-auditor/internal/trend"
	"github.com/festion/homelab-gitops-auditor/internal/webhook"
)

// App holds every constructed component plus the lifecycle manager that
// drives them. Fields are exported so operational tooling (health endpoints,
// admin scripts) can reach a component directly without re-deriving it.
type App struct {
	Config config.Config

	Store        store.Store
	EventBus     *eventbus.Bus
	AuditLog     *audit.Log
	Dedup        *security.DedupWindow
	Health       *healthcheck.Checker
	Metrics      *metricsource.StoreBacked
	Ingester     *metricsource.Ingester
	Trend        *trend.Analyzer
	Anomaly      *anomaly.Detector
	Monitor      *monitor.Monitor
	Orchestrator *orchestrator.Orchestrator
	Webhook      *webhook.Intake
	HTTPAPI      *httpapi.API
	Notify       *notify.Dispatcher

	manager *system.Manager
	closers []func()
}

// New constructs every component and wires them into a system.Manager,
// choosing a Postgres-backed or in-memory Store per cfg.Store.DSN. It does
// not start anything; call Start to bring the control plane up.
func New(ctx context.Context, cfg config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.New("control-plane", logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(256)
	auditLog := audit.New(audit.DefaultConfig(), storeAuditSink{store: st}, log)
	dedup := security.NewDedupWindowWithMaxSize(time.Duration(cfg.Deployment.WebhookDedupWindowS)*time.Second, 10000, log)

	recorder := metricsource.NewRecorder(prometheus.DefaultRegisterer)
	metrics := metricsource.New(st, nil, nil, recorder)
	ingester := metricsource.NewIngester(st)

	trendAnalyzer := trend.New(metrics, cfg.Anomaly, cfg.Intervals.TrendCacheTTL)
	anomalyDetector := anomaly.New(metrics, st, cfg.Anomaly.ZThreshold, cfg.Intervals.ModelTTL)

	healthChecker := healthcheck.New(cfg.Thresholds, metrics, trendSourceAdapter{analyzer: trendAnalyzer}, healthcheck.GopsutilHostStats{}, 10*time.Second)

	backupProvider := fsbackup.New(backupBaseDir(cfg), fsbackup.StaticDirResolver(repoDirTemplate(cfg)))
	applier := shellapplier.New(applyCommand(cfg))

	orch := orchestrator.New(st, bus, auditLog, dedup, cfg.Deployment, orchestrator.Collaborators{
		Backup: backupProvider, Applier: applier, Health: healthChecker,
	}, log)

	mon := monitor.New(monitor.DefaultConfig(cfg.Intervals), metrics, healthChecker, trendAnalyzer, anomalyDetector, st, bus, log)

	webhookIntake := webhook.New(webhook.Config{
		Secret:          []byte(cfg.Security.WebhookSecret),
		MaxBodyBytes:    cfg.Security.MaxBodyBytes,
		RateLimitPerSec: cfg.Security.RateLimitPerSec,
		RateLimitBurst:  cfg.Security.RateLimitBurst,
	}, orch, auditLog, bus, log)

	manager := system.NewManager()

	api := httpapi.New(httpapi.Config{
		MaxBodyBytes:    cfg.Security.MaxBodyBytes,
		RateLimitPerSec: cfg.Security.RateLimitPerSec,
		RateLimitBurst:  cfg.Security.RateLimitBurst,
		APITokens:       cfg.Security.APITokens,
	}, orch, orch, st, manager, log)

	notifySink := notifySinkFor(cfg, log)
	dispatcher := notify.NewDispatcher(bus, notifySink, log)

	a := &App{
		Config: cfg, Store: st, EventBus: bus, AuditLog: auditLog, Dedup: dedup,
		Health: healthChecker, Metrics: metrics, Ingester: ingester, Trend: trendAnalyzer, Anomaly: anomalyDetector,
		Monitor: mon, Orchestrator: orch, Webhook: webhookIntake, HTTPAPI: api, Notify: dispatcher,
		manager: manager, closers: []func(){closeStore},
	}

	if err := a.registerServices(cfg, log); err != nil {
		return nil, err
	}
	return a, nil
}

// registerServices wraps each long-lived component as a system.Service and
// registers it with the manager in start order: ingress surfaces last, so
// they don't accept traffic before the engine/data layers behind them are up.
func (a *App) registerServices(cfg config.Config, log *logging.Logger) error {
	services := []system.Service{
		componentDescriptor{name: "store", descriptor: core.Descriptor{Name: "store", Domain: "persistence", Layer: core.LayerData}.WithCapabilities("deployments", "audit", "pipeline-runs")},
		componentDescriptor{name: "event-bus", descriptor: core.Descriptor{Name: "event-bus", Domain: "messaging", Layer: core.LayerEngine}.WithCapabilities("publish", "subscribe")},
		componentDescriptor{name: "audit-log", descriptor: core.Descriptor{Name: "audit-log", Domain: "security", Layer: core.LayerSecurity}.WithCapabilities("record", "query")},
		componentDescriptor{name: "orchestrator", descriptor: core.Descriptor{Name: "orchestrator", Domain: "deployment", Layer: core.LayerEngine}.WithCapabilities("submit", "rollback")},
		newMonitorService(a.Monitor),
		newDispatcherService(a.Notify),
		newHTTPService(cfg, a.Webhook, a.HTTPAPI, log),
	}
	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return err
		}
	}
	return nil
}

// Start brings every registered component up in registration order.
func (a *App) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop tears every component down in reverse order, then releases resources
// (e.g. the store's database connection) that outlive the manager.
func (a *App) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	for _, closer := range a.closers {
		if closer != nil {
			closer()
		}
	}
	return err
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.Store.DSN == "" {
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func notifySinkFor(cfg config.Config, log *logging.Logger) notify.Sink {
	if cfg.Notify.SlackBotToken == "" {
		return notifylog.New(log)
	}
	return slack.New(cfg.Notify.SlackBotToken, cfg.Notify.SlackChannel)
}

func backupBaseDir(cfg config.Config) string {
	return "/var/lib/gitops-auditor/backups"
}

func repoDirTemplate(cfg config.Config) string {
	return "/var/lib/gitops-auditor/repos/%s"
}

func applyCommand(cfg config.Config) []string {
	return []string{"/usr/local/bin/gitops-apply"}
}

// storeAuditSink adapts store.Store's AppendAudit to audit.Sink.
type storeAuditSink struct{ store store.Store }

func (s storeAuditSink) Write(event domain.AuditEvent) error {
	return s.store.AppendAudit(context.Background(), event)
}

// trendSourceAdapter adapts *trend.Analyzer's repository-level Analyze to
// the single-number RelativeSlope the Health Checker's Performance dimension
// compares against max_degradation_rate.
type trendSourceAdapter struct{ analyzer *trend.Analyzer }

func (t trendSourceAdapter) RelativeSlope(ctx context.Context, repository string, window domain.TrendWindow) (float64, bool) {
	report, err := t.analyzer.Analyze(ctx, repository, window, trend.Options{})
	if err != nil {
		return 0, false
	}
	return report.RelativeSlope, true
}

// componentDescriptor advertises a component with no independent lifecycle
// (it is driven synchronously by its caller, e.g. the orchestrator or
// store) so it still appears in the system descriptor introspection.
type componentDescriptor struct {
	name       string
	descriptor core.Descriptor
}

func (c componentDescriptor) Name() string               { return c.name }
func (c componentDescriptor) Start(context.Context) error { return nil }
func (c componentDescriptor) Stop(context.Context) error  { return nil }
func (c componentDescriptor) Descriptor() core.Descriptor { return c.descriptor }

// monitorService adapts *monitor.Monitor to system.Service.
type monitorService struct {
	mon *monitor.Monitor
}

func newMonitorService(mon *monitor.Monitor) *monitorService { return &monitorService{mon: mon} }

func (m *monitorService) Name() string               { return "pipeline-monitor" }
func (m *monitorService) Start(ctx context.Context) error { return m.mon.Start(ctx) }
func (m *monitorService) Stop(ctx context.Context) error  { return m.mon.Stop(ctx) }
func (m *monitorService) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "pipeline-monitor", Domain: "observability", Layer: core.LayerEngine}.
		WithCapabilities("health-tick", "trend-tick", "prediction-tick")
}

// dispatcherService runs the notification dispatcher's blocking Run loop on
// its own goroutine, cancelled on Stop.
type dispatcherService struct {
	dispatcher *notify.Dispatcher
	cancel     context.CancelFunc
	done       chan struct{}
}

func newDispatcherService(d *notify.Dispatcher) *dispatcherService {
	return &dispatcherService{dispatcher: d}
}

func (d *dispatcherService) Name() string { return "notify-dispatcher" }

func (d *dispatcherService) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		d.dispatcher.Run(runCtx)
	}()
	return nil
}

func (d *dispatcherService) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	select {
	case <-d.done:
	case <-ctx.Done():
	}
	return nil
}

func (d *dispatcherService) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "notify-dispatcher", Domain: "notification", Layer: core.LayerEngine}.WithCapabilities("alert")
}

// httpService runs the webhook intake and manual-control API behind one
// listener: the webhook's /webhooks/vcs route takes precedence, everything
// else falls through to the manual API router.
type httpService struct {
	srv *http.Server
	log *logging.Logger
}

func newHTTPService(cfg config.Config, in *webhook.Intake, api *httpapi.API, log *logging.Logger) *httpService {
	root := mux.NewRouter()
	root.PathPrefix("/webhooks").Handler(in.Router())
	root.PathPrefix("/").Handler(api.Router())

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &httpService{srv: &http.Server{Addr: addr, Handler: root}, log: log}
}

func (h *httpService) Name() string { return "http-listener" }

func (h *httpService) Start(context.Context) error {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.WithError(err).Error("http listener stopped unexpectedly")
		}
	}()
	return nil
}

func (h *httpService) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

func (h *httpService) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "http-listener", Domain: "ingress", Layer: core.LayerIngress}.
		WithCapabilities("webhook-intake", "manual-deploy", "manual-rollback", "descriptors")
}

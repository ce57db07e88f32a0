// Package monitor implements the Pipeline Monitor: three
// independent periodic tickers (health, trend, prediction) that fan out
// across monitored repositories with bounded concurrency, drop-if-overlap
// per repository, and alert when thresholds are crossed. The ticker
// lifecycle (Start/Stop backed by a cancellable context and WaitGroup)
// follows a standard scheduler dispatch shape; robfig/cron drives the
// trend/prediction cadences, stdlib time.Ticker the fixed health cadence.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/trend"
)

// RepositorySource enumerates the repositories under watch.
type RepositorySource interface {
	MonitoredRepositories(ctx context.Context) ([]string, error)
}

// HealthChecker evaluates a repository's health snapshot.
type HealthChecker interface {
	Evaluate(ctx context.Context, repository string) domain.HealthReport
}

// TrendAnalyzer computes a repository's trend report.
type TrendAnalyzer interface {
	Analyze(ctx context.Context, repository string, window domain.TrendWindow, opts trend.Options) (domain.TrendReport, error)
}

// Predictor computes a repository's failure prediction.
type Predictor interface {
	PredictFailure(ctx context.Context, repository string) (domain.FailurePrediction, error)
}

// ResultStore persists tick outputs (narrowed from store.Store).
type ResultStore interface {
	PutHealthReport(ctx context.Context, report domain.HealthReport) error
	PutPrediction(ctx context.Context, prediction domain.FailurePrediction) error
}

// Bus publishes monitor events and alerts (narrowed from eventbus.Bus).
type Bus interface {
	Publish(evt eventbus.Event)
}

// Config controls tick cadence and fan-out concurrency.
type Config struct {
	Intervals          config.Intervals
	MaxConcurrency     int
	TrendDegradationPct float64 // alert threshold: degradation > 20%
	PredictionThreshold float64 // alert threshold: probability > 0.70
	HealthWarningScore  float64 // alert threshold: score < 75 with status = warning
}

// DefaultConfig returns normative alert thresholds.
func DefaultConfig(intervals config.Intervals) Config {
	return Config{
		Intervals:           intervals,
		MaxConcurrency:      8,
		TrendDegradationPct: 0.20,
		PredictionThreshold: 0.70,
		HealthWarningScore:  75,
	}
}

// Monitor runs the three periodic ticks.
type Monitor struct {
	cfg   Config
	repos RepositorySource
	health HealthChecker
	trendA TrendAnalyzer
	pred  Predictor
	store ResultStore
	bus   Bus
	log   *logging.Logger

	cronSched *cron.Cron

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	inFlight map[string]map[string]bool // tick name -> repository -> running
}

// New constructs a Monitor. Any collaborator may be nil; a nil collaborator
// degrades that tick to a no-op for each repository, consistent with how
// each collaborator degrades when given a nil dependency of its own.
func New(cfg Config, repos RepositorySource, health HealthChecker, trendA TrendAnalyzer, pred Predictor, store ResultStore, bus Bus, log *logging.Logger) *Monitor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if log == nil {
		log = logging.New("pipeline-monitor", logging.Config{Level: "info", Format: "text", Output: "stdout"})
	}
	return &Monitor{
		cfg: cfg, repos: repos, health: health, trendA: trendA, pred: pred, store: store, bus: bus, log: log,
		inFlight: map[string]map[string]bool{"health": {}, "trend": {}, "prediction": {}},
	}
}

// Start registers the three periodic ticks (start()). Health
// runs on a plain time.Ticker (a fixed, short cadence); trend and prediction
// run on a cron.Cron scheduler driven by "@every <interval>" expressions, so
// operators configuring those cadences via cron strings elsewhere in the
// deployment reuse the same scheduler instance.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.runTicker(runCtx, "health", m.cfg.Intervals.HealthCheckTick, m.tickHealth)

	m.cronSched = cron.New()
	m.addCronTick(runCtx, "trend", m.cfg.Intervals.TrendTick, m.tickTrend)
	m.addCronTick(runCtx, "prediction", m.cfg.Intervals.PredictionTick, m.tickPrediction)
	m.cronSched.Start()

	m.log.Info("pipeline monitor started")
	return nil
}

// Stop halts all tick loops and waits for in-flight work to drain.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	sched := m.cronSched
	m.running = false
	m.cancel = nil
	m.cronSched = nil
	m.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.log.Info("pipeline monitor stopped")
	return nil
}

// addCronTick schedules tick to run every interval via the cron scheduler.
// Falls back to a 1-minute cadence for a non-positive interval.
func (m *Monitor) addCronTick(ctx context.Context, name string, interval time.Duration, tick func(context.Context, string)) {
	if interval <= 0 {
		interval = time.Minute
	}
	expr, err := scheduleExpr(interval)
	if err != nil {
		m.log.WithError(err).WithFields(map[string]interface{}{"tick": name}).Warn("invalid cron schedule, falling back to time.Ticker")
		m.runTicker(ctx, name, interval, tick)
		return
	}
	m.cronSched.Schedule(expr, cron.FuncJob(func() { m.fanOut(ctx, name, tick) }))
}

func (m *Monitor) runTicker(ctx context.Context, name string, interval time.Duration, tick func(context.Context, string)) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.fanOut(ctx, name, tick)
			}
		}
	}()
}

// fanOut enumerates monitored repositories and runs tick for each with
// bounded concurrency, skipping (drop-if-overlap) any repository whose
// previous run for this tick name is still in flight.
func (m *Monitor) fanOut(ctx context.Context, tickName string, tick func(context.Context, string)) {
	if m.repos == nil {
		return
	}
	repos, err := m.repos.MonitoredRepositories(ctx)
	if err != nil {
		m.log.WithError(err).Warn("pipeline monitor could not enumerate repositories")
		return
	}

	sem := make(chan struct{}, m.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for _, repository := range repos {
		if m.markInFlight(tickName, repository) {
			m.log.WithFields(map[string]interface{}{"tick": tickName, "repository": repository}).
				Warn("pipeline monitor skipped tick: previous run still in flight")
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(repository string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer m.clearInFlight(tickName, repository)
			tick(ctx, repository)
		}(repository)
	}
	wg.Wait()
}

func (m *Monitor) markInFlight(tickName, repository string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[tickName][repository] {
		return true
	}
	m.inFlight[tickName][repository] = true
	return false
}

func (m *Monitor) clearInFlight(tickName, repository string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight[tickName], repository)
}

func (m *Monitor) tickHealth(ctx context.Context, repository string) {
	if m.health == nil {
		return
	}
	report := m.health.Evaluate(ctx, repository)
	if m.store != nil {
		if err := m.store.PutHealthReport(ctx, report); err != nil {
			m.log.WithError(err).WithFields(map[string]interface{}{"repository": repository}).Warn("failed to persist health report")
		}
	}
	m.publish(eventbus.ChannelHealth, "update", repository, report)

	if report.Status == domain.HealthCritical || (report.Status == domain.HealthWarning && report.Score < m.cfg.HealthWarningScore) {
		m.publish(eventbus.ChannelHealth, "threshold-breach", repository, report)
		m.alert(repository, "health", report)
	}
}

func (m *Monitor) tickTrend(ctx context.Context, repository string) {
	if m.trendA == nil {
		return
	}
	report, err := m.trendA.Analyze(ctx, repository, domain.WindowMedium, trend.Options{IncludeAnomalies: true})
	if err != nil {
		m.log.WithError(err).WithFields(map[string]interface{}{"repository": repository}).Warn("trend tick failed")
		return
	}
	m.publish(eventbus.ChannelPipelines, "status-summary", repository, report)

	if report.RelativeSlope > m.cfg.TrendDegradationPct {
		m.alert(repository, "trend", report)
	}
}

func (m *Monitor) tickPrediction(ctx context.Context, repository string) {
	if m.pred == nil {
		return
	}
	prediction, err := m.pred.PredictFailure(ctx, repository)
	if err != nil {
		m.log.WithError(err).WithFields(map[string]interface{}{"repository": repository}).Warn("prediction tick failed")
		return
	}
	if m.store != nil {
		if err := m.store.PutPrediction(ctx, prediction); err != nil {
			m.log.WithError(err).WithFields(map[string]interface{}{"repository": repository}).Warn("failed to persist prediction")
		}
	}
	m.publish(eventbus.ChannelPipelines, "status-summary", repository, prediction)

	if prediction.Probability > m.cfg.PredictionThreshold {
		m.alert(repository, "prediction", prediction)
	}
}

func (m *Monitor) publish(channel eventbus.Channel, eventType, repository string, payload interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Channel:   channel,
		Type:      eventType,
		Publisher: "pipeline-monitor:" + repository,
		Payload:   payload,
	})
}

func (m *Monitor) alert(repository, kind string, payload interface{}) {
	m.publish(eventbus.ChannelAlerts, "new", repository, domain.AlertEvent{Kind: kind, Repository: repository, Data: payload})
}

// scheduleExpr turns a duration into an "@every" cron.Schedule.
func scheduleExpr(interval time.Duration) (cron.Schedule, error) {
	return cron.ParseStandard("@every " + interval.String())
}

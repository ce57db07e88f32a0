package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/config"
	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/trend"
)

type stubRepos struct{ repos []string }

func (s stubRepos) MonitoredRepositories(context.Context) ([]string, error) { return s.repos, nil }

type countingHealth struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	score float64
	status domain.HealthStatus
}

func (c *countingHealth) Evaluate(ctx context.Context, repository string) domain.HealthReport {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
		}
	}
	return domain.HealthReport{Repository: repository, Score: c.score, Status: c.status, Timestamp: time.Now()}
}

type noopTrend struct{}

func (noopTrend) Analyze(context.Context, string, domain.TrendWindow, trend.Options) (domain.TrendReport, error) {
	return domain.TrendReport{}, nil
}

type noopPredictor struct{}

func (noopPredictor) PredictFailure(context.Context, string) (domain.FailurePrediction, error) {
	return domain.FailurePrediction{}, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(evt eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func TestHealthTickPublishesReportAndAlertsOnCritical(t *testing.T) {
	bus := &recordingBus{}
	health := &countingHealth{score: 40, status: domain.HealthCritical}
	cfg := DefaultConfig(config.Intervals{HealthCheckTick: 10 * time.Millisecond, TrendTick: time.Hour, PredictionTick: time.Hour})
	m := New(cfg, stubRepos{repos: []string{"owner/r"}}, health, noopTrend{}, noopPredictor{}, nil, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	require.Eventually(t, func() bool { return bus.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, m.Stop(context.Background()))

	var sawUpdate, sawBreach, sawAlert bool
	bus.mu.Lock()
	for _, e := range bus.events {
		if e.Channel == eventbus.ChannelHealth && e.Type == "update" {
			sawUpdate = true
		}
		if e.Channel == eventbus.ChannelHealth && e.Type == "threshold-breach" {
			sawBreach = true
		}
		if e.Channel == eventbus.ChannelAlerts && e.Type == "new" {
			sawAlert = true
		}
	}
	bus.mu.Unlock()
	assert.True(t, sawUpdate)
	assert.True(t, sawBreach)
	assert.True(t, sawAlert)
}

func TestFanOutSkipsOverlappingRepository(t *testing.T) {
	var running int32
	health := &blockingHealth{running: &running}
	cfg := DefaultConfig(config.Intervals{HealthCheckTick: time.Hour, TrendTick: time.Hour, PredictionTick: time.Hour})
	m := New(cfg, stubRepos{repos: []string{"owner/r"}}, health, noopTrend{}, noopPredictor{}, nil, nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.fanOut(context.Background(), "health", m.tickHealth) }()
	time.Sleep(5 * time.Millisecond)
	go func() { defer wg.Done(); m.fanOut(context.Background(), "health", m.tickHealth) }()
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&health.maxConcurrent))
}

type blockingHealth struct {
	running       *int32
	maxConcurrent int32
}

func (b *blockingHealth) Evaluate(ctx context.Context, repository string) domain.HealthReport {
	n := atomic.AddInt32(b.running, 1)
	for {
		cur := atomic.LoadInt32(&b.maxConcurrent)
		if n <= cur || atomic.CompareAndSwapInt32(&b.maxConcurrent, cur, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(b.running, -1)
	return domain.HealthReport{Repository: repository}
}

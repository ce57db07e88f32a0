// Package targetclient implements the "Target-service health" outbound
// contract: an HTTPS client that fetches a version+states
// document from the deployed service and turns it into a domain.HealthReport
// for the orchestrator's verify stage. Wrapped in a
// resilience.CircuitBreaker, grounded on the same breaker used by the
// orchestrator's applier call, with an independent per-request timeout.
package targetclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/resilience"
)

// stateDocument is the version+states payload the target service returns.
type stateDocument struct {
	Version string            `json:"version"`
	States  map[string]string `json:"states"` // entity/service name -> "ok"|"degraded"|"unavailable"
}

// URLResolver maps a repository to its target-service health endpoint.
type URLResolver interface {
	HealthURL(repository string) (string, error)
}

// StaticResolver formats a fixed template with the repository name, e.g.
// "https://%s.home/api/health".
type StaticResolver string

func (s StaticResolver) HealthURL(repository string) (string, error) {
	return fmt.Sprintf(string(s), repository), nil
}

// Client evaluates target-service health over HTTP.
type Client struct {
	httpClient *http.Client
	resolver   URLResolver
	breaker    *resilience.CircuitBreaker
	timeout    time.Duration
}

// New constructs a Client. A nil breaker config falls back to
// resilience.DefaultConfig().
func New(resolver URLResolver, timeout time.Duration, breakerCfg *resilience.Config) *Client {
	cfg := resilience.DefaultConfig()
	if breakerCfg != nil {
		cfg = *breakerCfg
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		resolver:   resolver,
		breaker:    resilience.New(cfg),
		timeout:    timeout,
	}
}

// Evaluate fetches the target service's state document and classifies it
// into a domain.HealthReport. A fetch error, breaker trip, or any
// non-"ok" state yields HealthCritical; a fully healthy document always
// yields HealthHealthy (this client is a single binary check, not the
// health checker's four weighted dimensions).
func (c *Client) Evaluate(ctx context.Context, repository string) domain.HealthReport {
	start := time.Now()
	report := domain.HealthReport{Timestamp: start, Repository: repository}

	var doc stateDocument
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		fetched, ferr := c.fetch(ctx, repository)
		if ferr != nil {
			return ferr
		}
		doc = fetched
		return nil
	})
	report.ExecutionTimeMS = time.Since(start).Milliseconds()

	if err != nil {
		report.Status = domain.HealthCritical
		report.Score = 0
		report.Issues = []string{fmt.Sprintf("target-service unreachable: %v", err)}
		return report
	}

	var degraded []string
	for name, state := range doc.States {
		if state != "ok" {
			degraded = append(degraded, fmt.Sprintf("%s:%s", name, state))
		}
	}
	if len(degraded) == 0 {
		report.Status = domain.HealthHealthy
		report.Score = 100
		return report
	}
	report.Status = domain.HealthCritical
	report.Score = 100 * float64(len(doc.States)-len(degraded)) / float64(maxInt(len(doc.States), 1))
	report.Issues = degraded
	return report
}

func (c *Client) fetch(ctx context.Context, repository string) (stateDocument, error) {
	url, err := c.resolver.HealthURL(repository)
	if err != nil {
		return stateDocument{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return stateDocument{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stateDocument{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stateDocument{}, fmt.Errorf("target-service health returned status %d", resp.StatusCode)
	}
	var doc stateDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return stateDocument{}, fmt.Errorf("decode target-service health document: %w", err)
	}
	return doc, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package targetclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

func TestEvaluateAllStatesOKIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1.2.3","states":{"light.kitchen":"ok","sensor.temp":"ok"}}`))
	}))
	defer srv.Close()

	c := New(StaticResolver(srv.URL+"/%s"), time.Second, nil)
	report := c.Evaluate(context.Background(), "owner/r")

	assert.Equal(t, domain.HealthHealthy, report.Status)
	assert.Equal(t, float64(100), report.Score)
}

func TestEvaluateDegradedStateIsCritical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1.2.3","states":{"light.kitchen":"unavailable","sensor.temp":"ok"}}`))
	}))
	defer srv.Close()

	c := New(StaticResolver(srv.URL+"/%s"), time.Second, nil)
	report := c.Evaluate(context.Background(), "owner/r")

	assert.Equal(t, domain.HealthCritical, report.Status)
	assert.Contains(t, report.Issues, "light.kitchen:unavailable")
}

func TestEvaluateUnreachableServerIsCritical(t *testing.T) {
	c := New(StaticResolver("http://127.0.0.1:1/%s"), 100*time.Millisecond, nil)
	report := c.Evaluate(context.Background(), "owner/r")

	assert.Equal(t, domain.HealthCritical, report.Status)
	assert.NotEmpty(t, report.Issues)
}

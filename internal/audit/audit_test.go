package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
)

type fakeSink struct {
	written []domain.AuditEvent
	fail    bool
}

func (f *fakeSink) Write(event domain.AuditEvent) error {
	if f.fail {
		return errors.New("sink down")
	}
	f.written = append(f.written, event)
	return nil
}

func TestRecordAssignsIDAndRedactsDetails(t *testing.T) {
	log := New(DefaultConfig(), nil, nil)

	recorded := log.Record(domain.AuditEvent{
		Timestamp: time.Now(),
		Actor:     "webhook",
		Action:    domain.ActionWebhookAccepted,
		Resource:  "owner/repo",
		Result:    domain.AuditSuccess,
		Details:   map[string]string{"webhook_secret": "topsecret", "note": "password=hunter22"},
	})

	require.NotEmpty(t, recorded.ID)
	assert.Equal(t, "[REDACTED]", recorded.Details["webhook_secret"])
	assert.NotContains(t, recorded.Details["note"], "hunter22")
}

func TestRecordPersistsToSink(t *testing.T) {
	sink := &fakeSink{}
	log := New(DefaultConfig(), sink, nil)

	log.Record(domain.AuditEvent{Action: domain.ActionDeploymentStarted})

	require.Len(t, sink.written, 1)
	assert.Equal(t, domain.ActionDeploymentStarted, sink.written[0].Action)
}

func TestRecordToleratesSinkFailure(t *testing.T) {
	sink := &fakeSink{fail: true}
	log := New(DefaultConfig(), sink, nil)

	assert.NotPanics(t, func() {
		log.Record(domain.AuditEvent{Action: domain.ActionAuthFailure})
	})
}

func TestRingBoundedAtMax(t *testing.T) {
	log := New(Config{MaxEntries: 3}, nil, nil)
	for i := 0; i < 5; i++ {
		log.Record(domain.AuditEvent{Action: domain.ActionManualTrigger})
	}
	assert.Len(t, log.Recent(0), 3)
}

func TestQueryFiltersByActorAndAction(t *testing.T) {
	log := New(DefaultConfig(), nil, nil)
	log.Record(domain.AuditEvent{Actor: "alice", Action: domain.ActionDeploymentStarted, Timestamp: time.Now()})
	log.Record(domain.AuditEvent{Actor: "bob", Action: domain.ActionDeploymentFailed, Timestamp: time.Now()})

	results := log.Query(domain.AuditFilter{Actor: "alice"})
	require.Len(t, results, 1)
	assert.Equal(t, domain.ActionDeploymentStarted, results[0].Action)
}

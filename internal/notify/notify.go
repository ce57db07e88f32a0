// Package notify defines the Notification Sink outbound contract —
// alert(level, title, message, context), optional, alerts are logged at
// warn when absent — and a dispatcher that subscribes to the alerts channel
// of the Event Bus and forwards every alert to a configured Sink.
package notify

import (
	"context"

	"github.com/festion/homelab-gitops-auditor/internal/domain"
	"github.com/festion/homelab-gitops-auditor/internal/eventbus"
	"github.com/festion/homelab-gitops-auditor/internal/logging"
)

// Level is an alert's severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Sink delivers an alert to an external channel. Errors are logged by the
// Dispatcher, never surfaced to the monitor/orchestrator that raised them
// (notification is best-effort and never deployment-fatal).
type Sink interface {
	Alert(ctx context.Context, level Level, title, message string, fields map[string]string) error
}

// Dispatcher subscribes to eventbus.ChannelAlerts and forwards every event
// to Sink as an alert, classifying level and message from the event's type
// and payload.
type Dispatcher struct {
	bus  *eventbus.Bus
	sink Sink
	log  *logging.Logger
}

// NewDispatcher constructs a Dispatcher. sink must not be nil; build one
// with internal/notify/log if no external sink is configured: alerts fall
// back to being logged at warn.
func NewDispatcher(bus *eventbus.Bus, sink Sink, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.New("notify-dispatcher", logging.Config{Level: "info", Format: "text", Output: "stdout"})
	}
	return &Dispatcher{bus: bus, sink: sink, log: log}
}

// Run subscribes to the alerts channel and forwards events until ctx is
// cancelled. Intended to run on its own goroutine for the lifetime of the
// control plane.
func (d *Dispatcher) Run(ctx context.Context) {
	sub := d.bus.Subscribe(eventbus.ChannelAlerts)
	defer sub.Unsubscribe()

	eventbus.Drain(ctx, sub, func(evt eventbus.Event) {
		level, title, message, fields := classify(evt)
		if err := d.sink.Alert(ctx, level, title, message, fields); err != nil && d.log != nil {
			d.log.WithError(err).Warn("notification sink failed to deliver alert")
		}
	})
}

func classify(evt eventbus.Event) (Level, string, string, map[string]string) {
	level := LevelWarning
	title := evt.Type
	kind := ""
	if alert, ok := evt.Payload.(domain.AlertEvent); ok {
		kind = alert.Kind
		title = alert.Kind
	}
	if kind == "health" {
		level = LevelCritical
	}
	message := "raised by " + evt.Publisher
	fields := map[string]string{"channel": string(evt.Channel), "publisher": evt.Publisher}
	return level, title, message, fields
}

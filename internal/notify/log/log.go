// Package log implements internal/notify.Sink as the graceful-degradation
// fallback ("When absent, alerts are logged at warn").
package log

import (
	"context"

	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/notify"
)

// Sink logs every alert at warn via internal/logging.
type Sink struct {
	log *logging.Logger
}

// New constructs a Sink. A nil logger builds a default stdout logger.
func New(log *logging.Logger) *Sink {
	if log == nil {
		log = logging.New("notify-log", logging.Config{Level: "info", Format: "text", Output: "stdout"})
	}
	return &Sink{log: log}
}

func (s *Sink) Alert(_ context.Context, level notify.Level, title, message string, fields map[string]string) error {
	entry := s.log.WithFields(map[string]interface{}{"level": string(level), "title": title})
	for k, v := range fields {
		entry.Data[k] = v
	}
	entry.Warn(message)
	return nil
}

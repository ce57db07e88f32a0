package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/logging"
	"github.com/festion/homelab-gitops-auditor/internal/notify"
)

func TestAlertLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New("test", logging.Config{Level: "info", Format: "json", Output: "stdout"})
	l.Logger.SetOutput(&buf)
	l.Logger.SetLevel(logrus.WarnLevel)

	s := New(l)
	err := s.Alert(context.Background(), notify.LevelCritical, "health-alert", "repository owner/r is critical", map[string]string{"repository": "owner/r"})

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "health-alert")
	assert.Contains(t, buf.String(), "owner/r")
}

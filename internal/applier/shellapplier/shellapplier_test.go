package shellapplier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySucceedsOnOKResult(t *testing.T) {
	a := New([]string{"sh", "-c", `echo "applying $1/$2"; echo '{"ok":true}'`, "sh"})

	var progress []string
	a.onLine = func(line string) { progress = append(progress, line) }

	err := a.Apply(context.Background(), "owner/r", "abc123")

	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Contains(t, progress[0], "owner/r")
}

func TestApplyFailsOnFailedResult(t *testing.T) {
	a := New([]string{"sh", "-c", `echo '{"ok":false,"kind":"apply_failed","message":"template render error"}'`})

	err := a.Apply(context.Background(), "owner/r", "abc123")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "template render error")
}

func TestApplyTimesOutOnSlowCommand(t *testing.T) {
	a := New([]string{"sh", "-c", "sleep 2"}, WithTimeout(20*time.Millisecond))

	err := a.Apply(context.Background(), "owner/r", "abc123")

	require.Error(t, err)
}

func TestApplyFailsWhenExitNonZero(t *testing.T) {
	a := New([]string{"sh", "-c", "exit 1"})

	err := a.Apply(context.Background(), "owner/r", "abc123")

	require.Error(t, err)
}

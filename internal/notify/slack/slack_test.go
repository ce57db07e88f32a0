package slack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/festion/homelab-gitops-auditor/internal/notify"
)

func TestFormatIncludesLevelTitleAndSortedFields(t *testing.T) {
	text := format(notify.LevelCritical, "health-alert", "repository owner/r is critical", map[string]string{
		"repository": "owner/r",
		"score":      "42",
	})

	assert.True(t, strings.HasPrefix(text, "*[CRITICAL]* health-alert"))
	assert.Contains(t, text, "repository owner/r is critical")
	assert.True(t, strings.Index(text, "repository") < strings.Index(text, "score"), "fields should be sorted for deterministic output")
}

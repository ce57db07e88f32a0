// Package slack implements internal/notify.Sink over the Slack Web API
// using github.com/slack-go/slack: it posts a formatted alert message to a
// configured channel.
package slack

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/festion/homelab-gitops-auditor/internal/notify"
)

// Sink posts alerts to a Slack channel.
type Sink struct {
	client  *slack.Client
	channel string
}

// New constructs a Sink from a bot token and target channel.
func New(token, channel string) *Sink {
	return &Sink{client: slack.New(token), channel: channel}
}

// Alert posts a formatted message to the configured channel.
func (s *Sink) Alert(ctx context.Context, level notify.Level, title, message string, fields map[string]string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(format(level, title, message, fields), false))
	return err
}

func format(level notify.Level, title, message string, fields map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* %s\n%s", strings.ToUpper(string(level)), title, message)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n>%s: %s", k, fields[k])
	}
	return b.String()
}

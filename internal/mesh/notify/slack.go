// Package notify forwards mesh-security events to an ops Slack channel.
// Grounded on internal/channels/slack's use of slack-go/slack for outbound
// messaging, scoped down to a single fire-and-forget PostMessage call: the
// mesh has no inbound Slack surface, just an alert sink for
// UnauthorizedNodeDetected and QuarantineAlert (§4.4, §4.5).
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/phoenixmesh/phoenix/internal/eventbus"
	"github.com/phoenixmesh/phoenix/internal/mesh/handshake"
)

// SlackAPIClient is the subset of *slack.Client this package needs, so
// tests can inject a fake instead of hitting the network.
type SlackAPIClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier relays quarantine and unauthorized-node events from the
// bus onto a single Slack channel.
type SlackNotifier struct {
	client  SlackAPIClient
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier builds a notifier posting to channelID with a bot token.
// Returns nil if token or channelID is empty: notifications are opt-in.
func NewSlackNotifier(token, channelID string, logger *slog.Logger) *SlackNotifier {
	if token == "" || channelID == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{client: slack.New(token), channel: channelID, logger: logger}
}

// Run subscribes to bus and posts a message for every unauthorized-node or
// quarantine-alert event, until ctx is cancelled.
func (n *SlackNotifier) Run(ctx context.Context, bus *eventbus.Bus) {
	sub := bus.Subscribe()
	defer sub.Cancel()

	for {
		evt, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if evt.IsLagged() {
			continue
		}

		var text string
		switch evt.Type {
		case eventbus.EventUnauthorizedNode:
			if p, ok := evt.Payload.(handshake.UnauthorizedNodeDetected); ok {
				text = fmt.Sprintf(":rotating_light: unauthorized node detected: `%s` (%s)", p.NodeID, p.Reason)
			}
		case eventbus.EventQuarantineAlert:
			if p, ok := evt.Payload.(handshake.QuarantineAlert); ok {
				text = fmt.Sprintf(":no_entry: peer `%s` quarantined agent `%s` (compliance score %.1f)", p.QuarantinedBy, p.AgentID, p.ComplianceScore)
			}
		default:
			continue
		}
		if text == "" {
			continue
		}

		if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
			n.logger.Warn("slack notification failed", "error", err)
		}
	}
}

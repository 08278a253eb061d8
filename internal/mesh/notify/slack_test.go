package notify

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixmesh/phoenix/internal/eventbus"
	"github.com/phoenixmesh/phoenix/internal/mesh/handshake"
)

type fakeSlackClient struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, channelID)
	return "ts", channelID, nil
}

func (f *fakeSlackClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestNewSlackNotifierRequiresTokenAndChannel(t *testing.T) {
	assert.Nil(t, NewSlackNotifier("", "C123", nil))
	assert.Nil(t, NewSlackNotifier("xoxb-token", "", nil))
	assert.NotNil(t, NewSlackNotifier("xoxb-token", "C123", nil))
}

func TestRunPostsOnUnauthorizedNodeAndQuarantineAlert(t *testing.T) {
	fake := &fakeSlackClient{}
	n := &SlackNotifier{client: fake, channel: "C123", logger: slog.Default()}

	bus := eventbus.New(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx, bus)
		close(done)
	}()

	bus.Publish(eventbus.EventUnauthorizedNode, handshake.UnauthorizedNodeDetected{NodeID: "node-x", Reason: "manifest_mismatch"})
	bus.Publish(eventbus.EventQuarantineAlert, handshake.QuarantineAlert{QuarantinedBy: "node-y", AgentID: "agent-1", ComplianceScore: 12.5})
	bus.Publish(eventbus.EventPeerVerified, handshake.PeerVerifiedEvent{NodeID: "node-z"})

	require.Eventually(t, func() bool { return fake.count() == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

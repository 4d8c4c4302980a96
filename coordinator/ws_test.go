package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/relay/mediator"
)

func dialControl(t *testing.T, serverURL, key string) *ControlClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := DialControl(ctx, serverURL, key)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func receiveFrame(t *testing.T, c *ControlClient) mediator.Envelope {
	t.Helper()
	select {
	case envelope, ok := <-c.Frames:
		require.True(t, ok, "control channel closed")
		return envelope
	case <-time.After(5 * time.Second):
		t.Fatal("no frame forwarded in time")
		return mediator.Envelope{}
	}
}

func TestControlClientJoinFlow(t *testing.T) {
	ts := newTestRelay(t)

	owner := dialControl(t, ts.URL, "A")
	joiner := dialControl(t, ts.URL, "B")

	require.NoError(t, owner.StartSession("s1", "A"))
	// the hub records the owner asynchronously; keep asking to join until
	// the envelope makes it through
	var envelope mediator.Envelope
	require.Eventually(t, func() bool {
		if err := joiner.JoinSession("s1", "B"); err != nil {
			return false
		}
		select {
		case envelope = <-owner.Frames:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, mediator.JoinSession, envelope.Header)
	var payload mediator.SessionPayload
	require.NoError(t, json.Unmarshal([]byte(envelope.Body), &payload))
	assert.Equal(t, "s1", payload.SessionID)
	assert.Equal(t, "B", payload.ClientKey)
}

func TestControlClientRouting(t *testing.T) {
	ts := newTestRelay(t)

	a := dialControl(t, ts.URL, "A")
	b := dialControl(t, ts.URL, "B")

	// B's Hello races A's first route; retry until the hub knows B
	var envelope mediator.Envelope
	require.Eventually(t, func() bool {
		if err := a.Route("B", "opaque round bytes"); err != nil {
			return false
		}
		select {
		case envelope = <-b.Frames:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, mediator.TSSRouting, envelope.Header)
	var payload mediator.RoutingPayload
	require.NoError(t, json.Unmarshal([]byte(envelope.Body), &payload))
	assert.Equal(t, "B", payload.To)
	assert.Equal(t, "opaque round bytes", payload.Body)
}

func TestControlClientStartTSS(t *testing.T) {
	ts := newTestRelay(t)

	a := dialControl(t, ts.URL, "A")
	b := dialControl(t, ts.URL, "B")

	var got mediator.Envelope
	require.Eventually(t, func() bool {
		if err := a.StartTSS([]string{"A", "B", "offline"}); err != nil {
			return false
		}
		select {
		case got = <-b.Frames:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, mediator.StartTSS, got.Header)
	// the sender is in the committee too, so its own copy comes back
	own := receiveFrame(t, a)
	assert.Equal(t, mediator.StartTSS, own.Header)
}

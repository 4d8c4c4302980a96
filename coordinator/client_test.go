package coordinator

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/relay/mediator"
)

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(mediator.NewServer(0).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type captureHandler struct {
	bodies chan string
}

func (c *captureHandler) ApplyData(body string) error {
	c.bodies <- body
	return nil
}

func TestRegisterAndWaitAllParties(t *testing.T) {
	ts := newTestRelay(t)

	require.NoError(t, RegisterSession(ts.URL, "s1", "first"))
	require.NoError(t, RegisterSession(ts.URL, "s1", "second"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitAllParties(ctx, ts.URL, "s1", []string{"second", "first"}))
}

func TestWaitAllPartiesHonorsContext(t *testing.T) {
	ts := newTestRelay(t)
	require.NoError(t, RegisterSession(ts.URL, "s1", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := WaitAllParties(ctx, ts.URL, "s1", []string{"first", "second"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCeremonyStartRoundTrip(t *testing.T) {
	ts := newTestRelay(t)

	parties := []string{"first", "second"}
	require.NoError(t, StartCeremony(ts.URL, "s1", parties))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	committee, err := WaitCeremonyStart(ctx, ts.URL, "s1")
	require.NoError(t, err)
	assert.Equal(t, parties, committee)
}

func TestMessengerDeliversExactlyOnce(t *testing.T) {
	ts := newTestRelay(t)

	require.NoError(t, RegisterSession(ts.URL, "s1", "first"))
	require.NoError(t, RegisterSession(ts.URL, "s1", "second"))

	handler := &captureHandler{bodies: make(chan string, 4)}
	endCh := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go DownloadMessages(ts.URL, "s1", "second", "", handler, endCh, wg)

	messenger := &Messenger{Server: ts.URL, SessionID: "s1"}
	require.NoError(t, messenger.Send("first", "second", "round payload"))

	select {
	case body := <-handler.bodies:
		assert.Equal(t, "round payload", body)
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the handler")
	}

	// the download loop acknowledged the copy; nothing is redelivered
	select {
	case body := <-handler.bodies:
		t.Fatalf("unexpected redelivery: %s", body)
	case <-time.After(1500 * time.Millisecond):
	}

	close(endCh)
	wg.Wait()
}

func TestDownloadSkipsOwnMessages(t *testing.T) {
	ts := newTestRelay(t)

	handler := &captureHandler{bodies: make(chan string, 4)}
	endCh := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go DownloadMessages(ts.URL, "s1", "first", "", handler, endCh, wg)

	// a copy addressed to first but sent by first stays untouched
	messenger := &Messenger{Server: ts.URL, SessionID: "s1"}
	require.NoError(t, messenger.Send("first", "first", "echo"))

	select {
	case body := <-handler.bodies:
		t.Fatalf("own message must be skipped, got %s", body)
	case <-time.After(1500 * time.Millisecond):
	}

	close(endCh)
	wg.Wait()
}

func TestMessengerRoundID(t *testing.T) {
	ts := newTestRelay(t)

	roundA := &Messenger{Server: ts.URL, SessionID: "s1", RoundID: "round-a"}
	require.NoError(t, roundA.Send("first", "second", "payload a"))

	handlerB := &captureHandler{bodies: make(chan string, 4)}
	endCh := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go DownloadMessages(ts.URL, "s1", "second", "round-b", handlerB, endCh, wg)

	// round-b's download loop never sees round-a's message
	select {
	case body := <-handlerB.bodies:
		t.Fatalf("round isolation broken, got %s", body)
	case <-time.After(1500 * time.Millisecond):
	}

	close(endCh)
	wg.Wait()
}

func TestEndSessionIsAlwaysSafe(t *testing.T) {
	ts := newTestRelay(t)
	require.NoError(t, EndSession(ts.URL, "never-existed"))

	require.NoError(t, RegisterSession(ts.URL, "s1", "first"))
	require.NoError(t, EndSession(ts.URL, "s1"))

	_, err := getParticipants(ts.URL + "/s1")
	assert.Error(t, err)
}

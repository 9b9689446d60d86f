package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_RegisterLastWriterWins(t *testing.T) {
	r := NewSessionRegistry()
	a, b := &recordingTransport{}, &recordingTransport{}

	assert.Nil(t, r.Register("c", "app", a))
	assert.Same(t, a, r.Register("c", "app", b))

	got, ok := r.Transport("c")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, 1, r.Len())

	_, _, ok = r.Unregister("c", a)
	assert.False(t, ok, "stale transport must not unregister")
	_, _, ok = r.Unregister("c", b)
	assert.True(t, ok)
	assert.Zero(t, r.Len())
}

func TestSessionRegistry_InFlight(t *testing.T) {
	r := NewSessionRegistry()
	first := newCancellableRequest(context.Background(), "c", time.Minute)
	second := newCancellableRequest(context.Background(), "c", time.Minute)
	defer first.finish()
	defer second.finish()

	_, ok := r.BeginTurn("c", first)
	assert.False(t, ok, "turn without session")

	r.Register("c", "app", &recordingTransport{})
	prev, ok := r.BeginTurn("c", first)
	require.True(t, ok)
	assert.Nil(t, prev)
	assert.True(t, r.Status("c").Processing)

	prev, ok = r.BeginTurn("c", second)
	require.True(t, ok)
	assert.Same(t, first, prev)

	assert.False(t, r.EndRequest("c", first), "replaced request must not clear the slot")
	assert.True(t, r.Status("c").Processing)
	assert.True(t, r.EndRequest("c", second))
	assert.False(t, r.Status("c").Processing)
}

func TestSessionRegistry_Take(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("c", "app", &recordingTransport{})
	req := newCancellableRequest(context.Background(), "c", time.Minute)
	defer req.finish()
	r.BeginRequest("c", req)

	s, got := r.Take("c")
	require.NotNil(t, s)
	assert.Same(t, req, got)
	assert.Equal(t, SessionStatus{}, r.Status("c"))

	s, got = r.Take("c")
	assert.Nil(t, s)
	assert.Nil(t, got)
}

func TestSessionRegistry_RemoveIdle(t *testing.T) {
	r := NewSessionRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	r.Register("b", "app", &recordingTransport{})
	r.Register("a", "app", &recordingTransport{})
	r.Register("busy", "app", &recordingTransport{})
	req := newCancellableRequest(context.Background(), "busy", time.Minute)
	defer req.finish()
	r.BeginRequest("busy", req)

	now = base.Add(10 * time.Minute)
	r.Register("fresh", "app", &recordingTransport{})

	removed := r.RemoveIdle(base.Add(5 * time.Minute))
	require.Len(t, removed, 2)
	assert.Equal(t, "a", removed[0].ChatID)
	assert.Equal(t, "b", removed[1].ChatID)
	assert.Equal(t, 2, r.Len())
}

func TestCancellableRequest_CancelSilences(t *testing.T) {
	req := newCancellableRequest(context.Background(), "c", time.Minute)
	defer req.finish()

	sent := 0
	require.NoError(t, req.deliver(func() error { sent++; return nil }))

	req.Cancel(ErrStopped)
	req.Cancel(ErrSuperseded)
	assert.True(t, req.Silenced())
	assert.ErrorIs(t, req.Cause(), ErrStopped, "first cause wins")

	err := req.deliver(func() error { sent++; return nil })
	assert.ErrorIs(t, err, errSilenced)
	assert.Equal(t, 1, sent)
}

func TestCancellableRequest_Timeout(t *testing.T) {
	req := newCancellableRequest(context.Background(), "c", 10*time.Millisecond)
	defer req.finish()

	<-req.Context().Done()
	assert.True(t, errors.Is(req.Cause(), ErrRequestTimeout))
	assert.False(t, req.Silenced(), "a timeout still delivers its error event")
	assert.False(t, isSilentCause(req.Cause()))
}

func TestCancellableRequest_Finish(t *testing.T) {
	req := newCancellableRequest(context.Background(), "c", time.Minute)
	select {
	case <-req.Done():
		t.Fatal("done before finish")
	default:
	}
	req.finish()
	req.finish()
	<-req.Done()
	assert.Error(t, req.Context().Err())
}

package live_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/model"
)

type recorder struct {
	mx     sync.Mutex
	events []live.Event
	fail   bool
}

func (r *recorder) Send(e live.Event) error {
	if r.fail {
		return errors.New("closed")
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) logs() []string {
	r.mx.Lock()
	defer r.mx.Unlock()
	var ret []string
	for _, e := range r.events {
		if e.Type == live.EventLog {
			ret = append(ret, e.Line)
		}
	}
	return ret
}

func TestSubscribe_Replay(t *testing.T) {
	t.Parallel()
	h := live.NewHub()
	h.Begin(3, "running")
	h.Log(3, "one")
	h.Log(3, "two")

	r := &recorder{}
	h.Subscribe(3, r)
	h.Log(3, "three")

	require.Equal(t, []live.Event{
		live.StatusEvent("running", ""),
		live.LogEvent("one"),
		live.LogEvent("two"),
		live.LogEvent("three"),
	}, r.events)
}

func TestSubscribe_Inactive(t *testing.T) {
	t.Parallel()
	h := live.NewHub()
	h.Begin(3, "running")
	h.Log(3, "one")
	h.Finish(3, "completed", "")

	r := &recorder{}
	unsubscribe := h.Subscribe(3, r)
	require.Empty(t, r.events)
	require.Equal(t, 1, h.Subscribers(3))

	unsubscribe()
	require.Zero(t, h.Subscribers(3))
	h.Log(3, "late")
	require.Empty(t, r.events)
}

// sendFunc is not comparable, so subscribers are told apart by their
// subscription.
type sendFunc func(live.Event) error

func (f sendFunc) Send(e live.Event) error {
	return f(e)
}

func TestUnsubscribe_FuncSubscriber(t *testing.T) {
	t.Parallel()
	h := live.NewHub()
	var gone, kept []live.Event
	unsubscribe := h.Subscribe(2, sendFunc(func(e live.Event) error {
		gone = append(gone, e)
		return nil
	}))
	h.Subscribe(2, sendFunc(func(e live.Event) error {
		kept = append(kept, e)
		return nil
	}))

	require.NotPanics(t, unsubscribe)
	require.Equal(t, 1, h.Subscribers(2))
	h.Begin(2, "running")
	require.Empty(t, gone)
	require.Equal(t, []live.Event{live.StatusEvent("running", "")}, kept)

	// unsubscribing twice is harmless
	unsubscribe()
	require.Equal(t, 1, h.Subscribers(2))
}

func TestPublish_FailingSubscriber(t *testing.T) {
	t.Parallel()
	h := live.NewHub()
	bad := &recorder{fail: true}
	good := &recorder{}
	h.Subscribe(1, bad)
	h.Subscribe(1, good)

	h.Begin(1, "running")
	h.Log(1, "x")
	h.SetProgress(1, live.Progress{Current: 1, Total: 2})
	h.SetStats(1, model.Counts{Added: 1})
	h.Finish(1, "completed", "")
	require.Len(t, good.events, 5)
}

// A client joining mid job and then polling sees the same lines as one
// subscribed from the start.
func TestPollPushEquivalence(t *testing.T) {
	t.Parallel()
	h := live.NewHub()
	early := &recorder{}
	h.Subscribe(5, early)
	h.Begin(5, "running")

	var wg sync.WaitGroup
	late := &recorder{}
	wg.Go(func() {
		for i := range 100 {
			h.Log(5, string(rune('a'+i%26)))
		}
	})
	h.Subscribe(5, late)
	wg.Wait()

	poll := h.ReadSince(5, 0)
	require.Equal(t, early.logs(), poll.Logs)
	require.Equal(t, poll.Logs, late.logs())
	require.Equal(t, 100, poll.Cursor)
}

func TestReadSince(t *testing.T) {
	t.Parallel()
	h := live.NewHub()

	idle := h.ReadSince(9, 0)
	require.Equal(t, live.StatusIdle, idle.Status)
	require.Empty(t, idle.Logs)
	require.Nil(t, idle.Progress)

	h.Begin(9, "running")
	h.Log(9, "a")
	h.Log(9, "b")
	h.Log(9, "c")
	h.SetProgress(9, live.Progress{Current: 1, Total: 3})

	var testCases = []struct {
		cursor int
		logs   []string
	}{
		{-5, []string{"a", "b", "c"}},
		{0, []string{"a", "b", "c"}},
		{2, []string{"c"}},
		{3, []string{}},
		{42, []string{}},
	}
	for _, tt := range testCases {
		p := h.ReadSince(9, tt.cursor)
		require.Equal(t, tt.logs, p.Logs)
		require.Equal(t, 3, p.Cursor)
		require.Equal(t, &live.Progress{Current: 1, Total: 3}, p.Progress)
	}

	h.Finish(9, "failed", "Process exited with code 2")
	p := h.ReadSince(9, 3)
	require.Equal(t, "failed", p.Status)
	require.Equal(t, "Process exited with code 2", p.Error)

	// snapshots are copies
	s := h.Snapshot(9)
	s.Logs[0] = "mutated"
	require.Equal(t, "a", h.Snapshot(9).Logs[0])

	// a new job resets the state
	h.Begin(9, "running")
	p = h.ReadSince(9, 0)
	require.Empty(t, p.Logs)
	require.Empty(t, p.Error)
	require.Nil(t, p.Progress)
}

func TestEventJSON(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		given live.Event
		then  string
	}{
		{live.LogEvent("hi"), `{"type":"log","line":"hi"}`},
		{live.StatusEvent("running", ""), `{"type":"status","status":"running"}`},
		{live.StatusEvent("failed", "boom"), `{"type":"status","status":"failed","error":"boom"}`},
		{live.ProgressEvent(live.Progress{Current: 2, Total: 5}), `{"type":"progress","current":2,"total":5}`},
		{live.StatsEvent(model.Counts{Added: 1, Removed: 2, Skipped: 3}), `{"type":"stats","added":1,"removed":2,"skipped":3}`},
	}
	for _, tt := range testCases {
		b, err := json.Marshal(tt.given)
		require.NoError(t, err)
		require.JSONEq(t, tt.then, string(b))
	}
}

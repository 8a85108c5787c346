// Package live keeps the ephemeral state of running jobs and the library
// relocation, and pushes every change to the subscribers of a channel.
//
// A channel is a source id; RelocationChannel is reserved for relocation.
package live

import (
	"slices"
	"sync"

	"github.com/tracksync/tracksync/internal/model"
)

// RelocationChannel never collides with a source id.
const RelocationChannel int64 = 0

// StatusIdle is the status of a channel nothing ever ran on.
const StatusIdle = "idle"

// Subscriber receives events of one channel. Send is called with the hub
// lock held and must not block; an error only drops that one event.
type Subscriber interface {
	Send(Event) error
}

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	File    string `json:"file,omitempty"`
}

// State of a channel. It is reset when a job starts and kept after it ends.
type State struct {
	Status   string        `json:"status"`
	Logs     []string      `json:"logs"`
	Progress *Progress     `json:"progress"`
	Stats    *model.Counts `json:"stats"`
	Error    string        `json:"error,omitempty"`
	Active   bool          `json:"active"`
}

// Poll is the incremental view returned to polling clients.
type Poll struct {
	Status   string        `json:"status"`
	Logs     []string      `json:"logs"`
	Cursor   int           `json:"cursor"`
	Progress *Progress     `json:"progress"`
	Stats    *model.Counts `json:"stats"`
	Error    string        `json:"error,omitempty"`
}

// Since returns the log lines after cursor. cursor is clamped to the
// available lines.
func (s State) Since(cursor int) Poll {
	cursor = max(0, min(cursor, len(s.Logs)))
	logs := s.Logs[cursor:]
	if logs == nil {
		logs = []string{}
	}
	return Poll{
		Status:   s.Status,
		Logs:     logs,
		Cursor:   len(s.Logs),
		Progress: s.Progress,
		Stats:    s.Stats,
		Error:    s.Error,
	}
}

func (s State) clone() State {
	s.Logs = slices.Clone(s.Logs)
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	if s.Stats != nil {
		c := *s.Stats
		s.Stats = &c
	}
	return s
}

// subscription gives a subscriber an identity, Subscriber values need not
// be comparable.
type subscription struct {
	Subscriber
}

type channel struct {
	state State
	subs  []*subscription
}

// Hub is safe for concurrent use. The zero value is not usable, use NewHub.
type Hub struct {
	mx       sync.Mutex
	channels map[int64]*channel
}

func NewHub() *Hub {
	return &Hub{channels: make(map[int64]*channel)}
}

func (h *Hub) get(id int64) *channel {
	c, ok := h.channels[id]
	if !ok {
		c = &channel{state: State{Status: StatusIdle}}
		h.channels[id] = c
	}
	return c
}

func (c *channel) publish(e Event) {
	for _, s := range c.subs {
		_ = s.Send(e)
	}
}

// Begin resets the channel state, marks it active and publishes status.
func (h *Hub) Begin(id int64, status string) {
	h.mx.Lock()
	defer h.mx.Unlock()
	c := h.get(id)
	c.state = State{Status: status, Active: true}
	c.publish(StatusEvent(status, ""))
}

// Log appends a line and publishes it.
func (h *Hub) Log(id int64, line string) {
	h.mx.Lock()
	defer h.mx.Unlock()
	c := h.get(id)
	c.state.Logs = append(c.state.Logs, line)
	c.publish(LogEvent(line))
}

func (h *Hub) SetProgress(id int64, p Progress) {
	h.mx.Lock()
	defer h.mx.Unlock()
	c := h.get(id)
	c.state.Progress = &p
	c.publish(ProgressEvent(p))
}

func (h *Hub) SetStats(id int64, counts model.Counts) {
	h.mx.Lock()
	defer h.mx.Unlock()
	c := h.get(id)
	c.state.Stats = &counts
	c.publish(StatsEvent(counts))
}

// SetStatus changes the status of an active channel, for example a
// relocation entering its next phase.
func (h *Hub) SetStatus(id int64, status string) {
	h.mx.Lock()
	defer h.mx.Unlock()
	c := h.get(id)
	c.state.Status = status
	c.publish(StatusEvent(status, ""))
}

// Finish stores the terminal status and publishes it. The state stays
// readable until the next Begin.
func (h *Hub) Finish(id int64, status, errMsg string) {
	h.mx.Lock()
	defer h.mx.Unlock()
	c := h.get(id)
	c.state.Status = status
	c.state.Error = errMsg
	c.state.Active = false
	c.publish(StatusEvent(status, errMsg))
}

// Snapshot returns a copy of the channel state.
func (h *Hub) Snapshot(id int64) State {
	h.mx.Lock()
	defer h.mx.Unlock()
	c, ok := h.channels[id]
	if !ok {
		return State{Status: StatusIdle}
	}
	return c.state.clone()
}

func (h *Hub) ReadSince(id int64, cursor int) Poll {
	return h.Snapshot(id).Since(cursor)
}

// Subscribe adds sub to the channel. While the channel is active, sub first
// gets the current status and every buffered line, before any event
// published after the call. The returned func removes sub again.
func (h *Hub) Subscribe(id int64, sub Subscriber) (unsubscribe func()) {
	h.mx.Lock()
	defer h.mx.Unlock()
	c := h.get(id)
	s := &subscription{sub}
	c.subs = append(c.subs, s)
	unsubscribe = func() {
		h.mx.Lock()
		defer h.mx.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(x *subscription) bool { return x == s })
	}
	if !c.state.Active {
		return unsubscribe
	}
	_ = sub.Send(StatusEvent(c.state.Status, ""))
	for _, line := range c.state.Logs {
		_ = sub.Send(LogEvent(line))
	}
	return unsubscribe
}

// Subscribers returns the number of subscribers of a channel.
func (h *Hub) Subscribers(id int64) int {
	h.mx.Lock()
	defer h.mx.Unlock()
	if c, ok := h.channels[id]; ok {
		return len(c.subs)
	}
	return 0
}

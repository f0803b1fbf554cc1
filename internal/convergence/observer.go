package convergence

import (
	"time"

	"github.com/Dicklesworthstone/accord/internal/response"
)

// EventType identifies a run event.
type EventType string

const (
	EventStatus   EventType = "status"
	EventRound    EventType = "round"
	EventFinished EventType = "finished"
)

// Event is a progress notification from a run or one of its forks.
type Event struct {
	Type     EventType       `json:"type"`
	RunID    string          `json:"run_id"`
	ParentID string          `json:"parent_id,omitempty"`
	Depth    int             `json:"depth"`
	Round    int             `json:"round"`
	Status   Status          `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Tally    *response.Tally `json:"tally,omitempty"`
	At       time.Time       `json:"at"`
}

// Observer receives run events. Forks run concurrently, so observers must
// be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

func (r *runner) emit(ev Event) {
	if len(r.e.observers) == 0 {
		return
	}
	ev.RunID = r.st.ID
	ev.ParentID = r.st.ParentID
	ev.Depth = r.st.Depth
	ev.Round = r.st.Round
	ev.At = r.e.now().UTC()
	for _, o := range r.e.observers {
		o.Observe(ev)
	}
}

package engine

import "quiz-attempt-service/internal/domain"

// EventType labels the attempt events fanned out to subscribers.
type EventType string

const (
	EventState      EventType = "state"
	EventTick       EventType = "tick"
	EventQuestion   EventType = "question"
	EventWarning    EventType = "warning"
	EventGeofence   EventType = "geofence"
	EventTerminated EventType = "terminated"
	EventScore      EventType = "score"
)

// Event is one observable attempt transition. Fields are populated per type;
// Score is only set on EventScore.
type Event struct {
	Type              EventType                `json:"type"`
	Phase             Phase                    `json:"phase"`
	QuestionIndex     int                      `json:"questionIndex,omitempty"`
	Remaining         int                      `json:"remaining,omitempty"`
	Category          domain.ViolationCategory `json:"category,omitempty"`
	WarningsRemaining int                      `json:"warningsRemaining,omitempty"`
	GeofenceBreached  bool                     `json:"geofenceBreached,omitempty"`
	Reason            domain.TerminationReason `json:"reason,omitempty"`
	Message           string                   `json:"message,omitempty"`
	Score             *domain.ScoreResult      `json:"score,omitempty"`
}

// Subscribe returns a channel receiving attempt events. The caller must
// invoke the returned cancel function to avoid leaks.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

// publishLocked fans an event out without blocking on slow subscribers:
// the oldest queued event is dropped to make room for the newest.
func (e *Engine) publishLocked(ev Event) {
	for ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

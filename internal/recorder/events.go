package recorder

// EventKind labels an outward session-lifecycle signal.
type EventKind string

const (
	// EventStarted fires once every track sequencer of a new session has
	// begun downloading.
	EventStarted EventKind = "started"

	// EventStopped fires when a session is stopped, by the caller or
	// automatically on a fatal storage error.
	EventStopped EventKind = "stopped"

	// EventResumed fires when a stopped session continues downloading.
	EventResumed EventKind = "resumed"

	// EventFinished fires when every track of a session has completed.
	EventFinished EventKind = "finished"
)

// SessionEvent is one lifecycle signal for a recording session.
type SessionEvent struct {
	RecordingID uint64
	Kind        EventKind

	// Err carries the cause of an automatic stop, nil otherwise.
	Err error
}

// Listener receives session lifecycle events. Listeners are invoked
// asynchronously and must not be assumed to run on any particular goroutine.
type Listener func(SessionEvent)

package ledger

// State is the lifecycle state of a job, derived from its markers.
//
// NOTE: State is never persisted. It is recomputed on every read.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateErrored  State = "errored"
)

// ResolveState maps a marker combination to a single State.
//
// Precedence, first match wins:
//
//	finished                 -> finished (an operator-forced finish always wins)
//	error and no lockfile    -> errored  (a locked job may still be retrying)
//	no started, no lockfile  -> queued
//	anything else            -> running
func ResolveState(m Markers) State {
	switch {
	case m.Finished:
		return StateFinished
	case m.Error && !m.Lock:
		return StateErrored
	case !m.Started && !m.Lock:
		return StateQueued
	default:
		return StateRunning
	}
}

// Terminal reports whether the worker is done with the job.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateErrored
}

func (s State) String() string {
	return string(s)
}

package models

import "time"

// ArchiveRequest is a token from the URL and the directory it resolved to.
type ArchiveRequest struct {
	Token string
	Dir   string
}

type SessionState string

const (
	SessionStateStreaming SessionState = "streaming"
	SessionStateDraining  SessionState = "draining"
	SessionStateDone      SessionState = "done"
	SessionStateAborted   SessionState = "aborted"
)

// StreamSession is the per-request record of a running archive stream.
type StreamSession struct {
	ID         string
	Token      string
	Dir        string
	Throttle   bool
	State      SessionState
	BytesSent  int64
	ChunksSent int64
	StartedAt  time.Time
	UpdatedAt  time.Time
}

type RelayOutcome string

const (
	RelayCompleted RelayOutcome = "completed"
	RelayAborted   RelayOutcome = "aborted"
	RelayFailed    RelayOutcome = "failed"
)

// RelayResult is what the relay hands back to the handler. Err is nil only
// for RelayCompleted.
type RelayResult struct {
	Outcome    RelayOutcome
	Err        error
	BytesSent  int64
	ChunksSent int64
}

package model

import "fmt"

type SessionStatus string

const (
	SessionStaging   SessionStatus = "staging"
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStaging: {SessionPending, SessionFailed},
	SessionPending: {SessionRunning, SessionFailed},
	SessionRunning: {SessionPaused, SessionCompleted, SessionFailed},
	SessionPaused:  {SessionRunning, SessionFailed},
}

func ParseSessionStatus(v string) (SessionStatus, error) {
	s := SessionStatus(v)
	switch s {
	case SessionStaging, SessionPending, SessionRunning, SessionPaused, SessionCompleted, SessionFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown session status %q", v)
}

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

func (s SessionStatus) CanTransitionTo(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SessionPredecessors lists the statuses a session may leave to reach to.
func SessionPredecessors(to SessionStatus) []SessionStatus {
	var out []SessionStatus
	for _, from := range []SessionStatus{SessionStaging, SessionPending, SessionRunning, SessionPaused} {
		if from.CanTransitionTo(to) {
			out = append(out, from)
		}
	}
	return out
}

type ImportSession struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Name            string        `json:"name"`
	Message         string        `json:"message,omitempty"`
	RootListID      string        `json:"root_list_id,omitempty"`
	Status          SessionStatus `json:"status"`
	FailReason      string        `json:"fail_reason,omitempty"`
	SourceFormat    string        `json:"source_format,omitempty"`
	SourceFileKey   string        `json:"source_file_key,omitempty"`
	LastProcessedAt int64         `json:"last_processed_at"`
	Ctime           int64         `json:"ctime"`
	Mtime           int64         `json:"mtime"`
}

type SessionProgress struct {
	Session *ImportSession `json:"session"`
	Counts  StatusCounts   `json:"counts"`
	Percent int            `json:"percent"`
}

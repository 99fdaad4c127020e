package model

import "fmt"

type CandidateKind string

const (
	KindLink  CandidateKind = "link"
	KindText  CandidateKind = "text"
	KindAsset CandidateKind = "asset"
)

func ParseCandidateKind(v string) (CandidateKind, error) {
	k := CandidateKind(v)
	switch k {
	case KindLink, KindText, KindAsset:
		return k, nil
	}
	return "", fmt.Errorf("unknown candidate kind %q", v)
}

type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryProcessing EntryStatus = "processing"
	EntryCompleted  EntryStatus = "completed"
	EntryFailed     EntryStatus = "failed"
)

var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryPending:    {EntryProcessing},
	EntryProcessing: {EntryPending, EntryCompleted, EntryFailed},
}

func (s EntryStatus) Terminal() bool {
	return s == EntryCompleted || s == EntryFailed
}

func (s EntryStatus) CanTransitionTo(to EntryStatus) bool {
	for _, next := range entryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type EntryResult string

const (
	ResultNone             EntryResult = ""
	ResultAccepted         EntryResult = "accepted"
	ResultRejected         EntryResult = "rejected"
	ResultSkippedDuplicate EntryResult = "skipped_duplicate"
)

// RawCandidate is one record produced by a CandidateSource.
type RawCandidate struct {
	Type          CandidateKind `json:"type"`
	URL           string        `json:"url,omitempty"`
	Title         string        `json:"title,omitempty"`
	Content       string        `json:"content,omitempty"`
	Note          string        `json:"note,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	ListIDs       []string      `json:"list_ids,omitempty"`
	SourceAddedAt int64         `json:"source_added_at,omitempty"`
}

type StagingEntry struct {
	ID                  string        `json:"id"`
	SessionID           string        `json:"session_id"`
	Position            int           `json:"position"`
	Type                CandidateKind `json:"type"`
	URL                 string        `json:"url,omitempty"`
	Title               string        `json:"title,omitempty"`
	Content             string        `json:"content,omitempty"`
	Note                string        `json:"note,omitempty"`
	Tags                []string      `json:"tags,omitempty"`
	ListIDs             []string      `json:"list_ids,omitempty"`
	SourceAddedAt       int64         `json:"source_added_at,omitempty"`
	Status              EntryStatus   `json:"status"`
	ProcessingStartedAt int64         `json:"processing_started_at,omitempty"`
	LeaseToken          string        `json:"-"`
	Attempts            int           `json:"attempts"`
	LastError           string        `json:"last_error,omitempty"`
	Result              EntryResult   `json:"result,omitempty"`
	ResultReason        string        `json:"result_reason,omitempty"`
	ResultBookmarkID    string        `json:"result_bookmark_id,omitempty"`
	Ctime               int64         `json:"ctime"`
	CompletedAt         int64         `json:"completed_at,omitempty"`
}

func (e *StagingEntry) Candidate() RawCandidate {
	return RawCandidate{
		Type:          e.Type,
		URL:           e.URL,
		Title:         e.Title,
		Content:       e.Content,
		Note:          e.Note,
		Tags:          e.Tags,
		ListIDs:       e.ListIDs,
		SourceAddedAt: e.SourceAddedAt,
	}
}

// Outcome is the terminal (or released) state a processor hands back for one
// leased entry.
type Outcome struct {
	Status     EntryStatus
	Result     EntryResult
	Reason     string
	BookmarkID string
}

// Validate enforces that result fields exist only on completed entries.
func (o Outcome) Validate() error {
	switch o.Status {
	case EntryCompleted:
		switch o.Result {
		case ResultAccepted:
			if o.BookmarkID == "" {
				return fmt.Errorf("accepted outcome requires bookmark id")
			}
		case ResultRejected, ResultSkippedDuplicate:
			if o.BookmarkID != "" {
				return fmt.Errorf("%s outcome must not carry bookmark id", o.Result)
			}
		default:
			return fmt.Errorf("completed outcome requires a result")
		}
	case EntryFailed:
		if o.Result != ResultNone || o.BookmarkID != "" {
			return fmt.Errorf("failed outcome must not carry a result")
		}
	default:
		return fmt.Errorf("outcome status %q is not terminal", o.Status)
	}
	return nil
}

type StatusCounts struct {
	Pending          int64 `json:"pending"`
	Processing       int64 `json:"processing"`
	Completed        int64 `json:"completed"`
	Failed           int64 `json:"failed"`
	Accepted         int64 `json:"accepted"`
	Rejected         int64 `json:"rejected"`
	SkippedDuplicate int64 `json:"skipped_duplicate"`
}

func (c StatusCounts) Total() int64 {
	return c.Pending + c.Processing + c.Completed + c.Failed
}

// Remaining counts entries that are not yet terminal.
func (c StatusCounts) Remaining() int64 {
	return c.Pending + c.Processing
}

package model

const (
	BookmarkSourceImport = "import"

	TagAttachedByHuman = "human"
)

type Bookmark struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Type           CandidateKind `json:"type"`
	Title          string        `json:"title"`
	Content        string        `json:"content,omitempty"`
	Note           string        `json:"note,omitempty"`
	URL            string        `json:"url,omitempty"`
	Source         string        `json:"source"`
	IdempotencyKey string        `json:"-"`
	Ctime          int64         `json:"ctime"`
	Mtime          int64         `json:"mtime"`
}

type BookmarkTag struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	Ctime          int64  `json:"ctime"`
}

type BookmarkList struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Ctime    int64  `json:"ctime"`
}

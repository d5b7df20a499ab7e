package audit

import "time"

// Filters narrows the audit timeline query.
type Filters struct {
	From      time.Time
	To        time.Time
	ActorType string
	ActorID   string
	Action    string
	Subject   string
	SubjectID string
	Page      int
	PageSize  int
}

// Entry is a single persisted audit event as read back from storage.
type Entry struct {
	ID        int64          `json:"id"`
	ActorType string         `json:"actor_type"`
	ActorID   string         `json:"actor_id"`
	Action    string         `json:"action"`
	Subject   string         `json:"subject"`
	SubjectID string         `json:"subject_id"`
	Meta      map[string]any `json:"meta,omitempty"`
	At        time.Time      `json:"occurred_at"`
}

// Paging carries forward/backward paging hints for the timeline.
type Paging struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result bundles a timeline page with its paging metadata.
type Result struct {
	Entries []Entry
	Paging  Paging
}

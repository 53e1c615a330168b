package domain

import "time"

// ActivityEntry is the persistent record of a single accepted mutation.
// Data holds the deep pre-image of the document and Change the recursive
// diff against the post-image; applying Change to Data yields the post-image
// for the covered fields.
type ActivityEntry struct {
	ID         string         `json:"id"`
	TargetType ObjectType     `json:"target_type"`
	TargetID   string         `json:"target_id"`
	ActorID    *string        `json:"actor_id"`
	Action     Action         `json:"action"`
	Data       map[string]any `json:"data"`
	Change     map[string]any `json:"change"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ActivityFilter narrows history queries. Zero values match everything.
type ActivityFilter struct {
	ActorID string
	Action  Action
	Limit   int
	Offset  int
}

// Match reports whether the entry satisfies the actor and action filters.
func (f ActivityFilter) Match(entry ActivityEntry) bool {
	if f.ActorID != "" {
		if entry.ActorID == nil || *entry.ActorID != f.ActorID {
			return false
		}
	}
	if f.Action != "" && entry.Action != f.Action {
		return false
	}
	return true
}

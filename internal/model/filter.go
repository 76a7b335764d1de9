package model

// FilterSnapshot is the immutable transfer view of a visibility filter.
type FilterSnapshot struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Active    bool    `json:"active"`
	FriendIDs []int64 `json:"friendIds"`
}

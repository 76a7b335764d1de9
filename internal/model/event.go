package model

import "time"

// EventSnapshot is the immutable transfer view of an event. Creator carries
// the nested user snapshot so the cache can materialise the creator before
// the event itself; an event snapshot without a creator cannot become live.
type EventSnapshot struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Creator        *UserSnapshot `json:"creator"`
	Position       Position      `json:"position"`
	LocationLabel  string        `json:"locationLabel"`
	StartsAt       time.Time     `json:"startsAt"`
	EndsAt         time.Time     `json:"endsAt"`
	ParticipantIDs []int64       `json:"participantIds"`
	Visible        bool          `json:"visible"`
}

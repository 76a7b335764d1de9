package cache

import (
	"sort"
	"time"

	"uk.co.dudmesh.waypoint/internal/model"
)

// Event is the single live instance for an event id, owned by the Cache.
// The creator reference is resolved to a live User before construction; an
// event container without one never becomes live.
type Event struct {
	id            int64
	name          string
	description   string
	creator       *User
	position      model.Position
	locationLabel string
	startsAt      time.Time
	endsAt        time.Time
	participants  map[int64]struct{}
	visible       bool
}

func newEvent(c model.EventSnapshot, creator *User) *Event {
	participants := make(map[int64]struct{}, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		participants[id] = struct{}{}
	}
	return &Event{
		id:            c.ID,
		name:          c.Name,
		description:   c.Description,
		creator:       creator,
		position:      c.Position,
		locationLabel: c.LocationLabel,
		startsAt:      c.StartsAt,
		endsAt:        c.EndsAt,
		participants:  participants,
		visible:       c.Visible,
	}
}

func (e *Event) ID() int64                { return e.id }
func (e *Event) Name() string             { return e.name }
func (e *Event) Description() string      { return e.description }
func (e *Event) Creator() *User           { return e.creator }
func (e *Event) Position() model.Position { return e.position }
func (e *Event) LocationLabel() string    { return e.locationLabel }
func (e *Event) StartsAt() time.Time      { return e.startsAt }
func (e *Event) EndsAt() time.Time        { return e.endsAt }
func (e *Event) IsVisible() bool          { return e.visible }

func (e *Event) ParticipantIDs() []int64 {
	ids := make([]int64, 0, len(e.participants))
	for id := range e.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Event) HasParticipant(id int64) bool {
	_, ok := e.participants[id]
	return ok
}

// IsLiveAt reports whether now falls within [startsAt, endsAt).
func (e *Event) IsLiveAt(now time.Time) bool {
	return !now.Before(e.startsAt) && now.Before(e.endsAt)
}

func (e *Event) IsOwnedBy(userID int64) bool {
	return e.creator != nil && e.creator.ID() == userID
}

func (e *Event) IsNear(p model.Position, radiusKm float64) bool {
	return e.position.DistanceKm(p) <= radiusKm
}

func (e *Event) Snapshot() model.EventSnapshot {
	var creator *model.UserSnapshot
	if e.creator != nil {
		c := e.creator.Snapshot()
		creator = &c
	}
	return model.EventSnapshot{
		ID:             e.id,
		Name:           e.name,
		Description:    e.description,
		Creator:        creator,
		Position:       e.position,
		LocationLabel:  e.locationLabel,
		StartsAt:       e.startsAt,
		EndsAt:         e.endsAt,
		ParticipantIDs: e.ParticipantIDs(),
		Visible:        e.visible,
	}
}

// update applies field deltas from the snapshot. The creator reference is
// part of the event's identity and is never rebound.
func (e *Event) update(c model.EventSnapshot) bool {
	changed := false
	if c.Name != "" && c.Name != e.name {
		e.name = c.Name
		changed = true
	}
	if c.Description != e.description {
		e.description = c.Description
		changed = true
	}
	if !c.Position.Equal(e.position) {
		e.position = c.Position
		changed = true
	}
	if c.LocationLabel != e.locationLabel {
		e.locationLabel = c.LocationLabel
		changed = true
	}
	if !c.StartsAt.Equal(e.startsAt) {
		e.startsAt = c.StartsAt
		changed = true
	}
	if !c.EndsAt.Equal(e.endsAt) {
		e.endsAt = c.EndsAt
		changed = true
	}
	if c.Visible != e.visible {
		e.visible = c.Visible
		changed = true
	}
	if !sameIDSet(e.participants, c.ParticipantIDs) {
		participants := make(map[int64]struct{}, len(c.ParticipantIDs))
		for _, id := range c.ParticipantIDs {
			participants[id] = struct{}{}
		}
		e.participants = participants
		changed = true
	}
	return changed
}

func sameIDSet(set map[int64]struct{}, ids []int64) bool {
	if len(set) != len(ids) {
		return false
	}
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

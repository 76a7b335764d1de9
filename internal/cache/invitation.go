package cache

import (
	"time"

	"uk.co.dudmesh.waypoint/internal/model"
)

// Invitation is the single live instance for an invitation id. Friend
// invitations reference a live User, event invitations a live Event; both
// references are resolved before construction.
type Invitation struct {
	id        int64
	typ       model.InvitationType
	status    model.InvitationStatus
	user      *User
	event     *Event
	createdAt time.Time
}

func (i *Invitation) ID() int64                      { return i.id }
func (i *Invitation) Type() model.InvitationType     { return i.typ }
func (i *Invitation) Status() model.InvitationStatus { return i.status }
func (i *Invitation) User() *User                    { return i.user }
func (i *Invitation) Event() *Event                  { return i.event }
func (i *Invitation) CreatedAt() time.Time           { return i.createdAt }

// before orders invitations for display: newest first, ties broken by
// descending id.
func (i *Invitation) before(other *Invitation) bool {
	if !i.createdAt.Equal(other.createdAt) {
		return i.createdAt.After(other.createdAt)
	}
	return i.id > other.id
}

func (i *Invitation) Snapshot() model.InvitationSnapshot {
	snap := model.InvitationSnapshot{
		ID:        i.id,
		Type:      i.typ,
		Status:    i.status,
		CreatedAt: i.createdAt,
	}
	if i.user != nil {
		user := i.user.Snapshot()
		snap.User = &user
	}
	if i.event != nil {
		event := i.event.Snapshot()
		snap.Event = &event
	}
	return snap
}

// update applies the snapshot's status. Type, references and timestamp are
// fixed at creation.
func (i *Invitation) update(c model.InvitationSnapshot) bool {
	if c.Status == i.status {
		return false
	}
	i.status = c.Status
	return true
}

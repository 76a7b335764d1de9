package cache

import (
	"bytes"
	"time"

	"uk.co.dudmesh.waypoint/internal/model"
)

// User is the single live instance for a user id, owned by the Cache. All
// mutation goes through update; a relationship change replaces the instance
// instead (see Cache.putUsers).
type User struct {
	id            int64
	name          string
	phone         string
	email         string
	position      model.Position
	locationLabel string
	image         []byte
	lastSeen      time.Time
	visible       bool
	relationship  model.Relationship
}

func newUser(c model.UserSnapshot) *User {
	return &User{
		id:            c.ID,
		name:          c.Name,
		phone:         c.Phone,
		email:         c.Email,
		position:      c.Position,
		locationLabel: c.LocationLabel,
		image:         c.Image,
		lastSeen:      c.LastSeen,
		visible:       c.Visible,
		relationship:  c.Relationship,
	}
}

func (u *User) ID() int64                        { return u.id }
func (u *User) Name() string                     { return u.name }
func (u *User) Phone() string                    { return u.phone }
func (u *User) Email() string                    { return u.email }
func (u *User) Position() model.Position         { return u.position }
func (u *User) LocationLabel() string            { return u.locationLabel }
func (u *User) Image() []byte                    { return u.image }
func (u *User) LastSeen() time.Time              { return u.lastSeen }
func (u *User) IsVisible() bool                  { return u.visible }
func (u *User) Relationship() model.Relationship { return u.relationship }

// Snapshot returns a disposable container copy of the current state.
func (u *User) Snapshot() model.UserSnapshot {
	return model.UserSnapshot{
		ID:            u.id,
		Name:          u.name,
		Phone:         u.phone,
		Email:         u.email,
		Position:      u.position,
		LocationLabel: u.locationLabel,
		Image:         u.image,
		LastSeen:      u.lastSeen,
		Visible:       u.visible,
		Relationship:  u.relationship,
	}
}

// update applies the snapshot's fields and reports whether anything
// observable changed. An empty string or nil image means "not provided" and
// leaves the current value alone, so position-only pulls do not erase the
// profile fields. Relationship is never touched here.
func (u *User) update(c model.UserSnapshot) bool {
	changed := false
	if c.Name != "" && c.Name != u.name {
		u.name = c.Name
		changed = true
	}
	if c.Phone != "" && c.Phone != u.phone {
		u.phone = c.Phone
		changed = true
	}
	if c.Email != "" && c.Email != u.email {
		u.email = c.Email
		changed = true
	}
	if !c.Position.Equal(u.position) {
		u.position = c.Position
		changed = true
	}
	if c.LocationLabel != "" && c.LocationLabel != u.locationLabel {
		u.locationLabel = c.LocationLabel
		changed = true
	}
	if c.Image != nil && !bytes.Equal(c.Image, u.image) {
		u.image = c.Image
		changed = true
	}
	if !c.LastSeen.Equal(u.lastSeen) {
		u.lastSeen = c.LastSeen
		changed = true
	}
	if c.Visible != u.visible {
		u.visible = c.Visible
		changed = true
	}
	return changed
}

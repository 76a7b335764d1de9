package cache

import (
	"fmt"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.waypoint/internal/dispatch"
	"uk.co.dudmesh.waypoint/internal/model"
)

// Network-backed mutations. Each one validates its arguments on the
// calling goroutine, performs the gateway call on a worker goroutine, then
// folds the result into the cache and runs exactly one callback on the
// dispatch queue.

// AcceptInvitation accepts a friend or event invitation. For a friend
// invitation the gateway returns the new friend's current info, which is
// put straight into the cache.
func (c *Cache) AcceptInvitation(id int64, cb *Callback[*Invitation]) {
	invitation := c.Invitation(id)
	if invitation == nil {
		cb.failure(model.ErrorInvitationNotFound)
		return
	}

	typ := invitation.typ
	var userID int64
	if invitation.user != nil {
		userID = invitation.user.id
	}

	dispatch.Go(c.queue, func() (model.UserSnapshot, error) {
		switch typ {
		case model.FriendInvitation:
			friend, err := c.client.AcceptInvitation(userID)
			if err != nil {
				return model.UserSnapshot{}, fmt.Errorf("accepting invitation %d: %w", id, err)
			}
			if err := c.store.DeletePendingFriend(userID); err != nil {
				log.Errorf("cache: clearing pending friend %d: %v", userID, err)
			}
			return friend, nil
		default:
			// Accepted-friend and event invitations carry no server-side
			// accept step; only the local status changes.
			return model.UserSnapshot{}, nil
		}
	}, func(friend model.UserSnapshot, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		if typ == model.FriendInvitation {
			friend.ID = userID
			friend.Relationship = model.RelationshipFriend
			c.PutUser(friend)
		}
		c.setInvitationStatus(id, model.InvitationAccepted)
		cb.success(c.Invitation(id))
	})
}

// DeclineInvitation declines a friend invitation at the gateway; event
// invitations are declined locally only.
func (c *Cache) DeclineInvitation(id int64, cb *Callback[*Invitation]) {
	invitation := c.Invitation(id)
	if invitation == nil {
		cb.failure(model.ErrorInvitationNotFound)
		return
	}

	typ := invitation.typ
	var userID int64
	if invitation.user != nil {
		userID = invitation.user.id
	}

	dispatch.Go(c.queue, func() (struct{}, error) {
		if typ != model.FriendInvitation {
			return struct{}{}, nil
		}
		if err := c.client.DeclineInvitation(userID); err != nil {
			return struct{}{}, fmt.Errorf("declining invitation %d: %w", id, err)
		}
		if err := c.store.DeletePendingFriend(userID); err != nil {
			log.Errorf("cache: clearing pending friend %d: %v", userID, err)
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		c.setInvitationStatus(id, model.InvitationDeclined)
		cb.success(c.Invitation(id))
	})
}

// CreateEvent submits a new event. The creator is always self; the gateway
// assigns the id.
func (c *Cache) CreateEvent(snap model.EventSnapshot, cb *Callback[*Event]) {
	if snap.Name == "" {
		cb.failure(model.ErrorEmptyName)
		return
	}
	self := c.Self()
	if self != nil {
		creator := self.Snapshot()
		snap.Creator = &creator
	}
	snap.Visible = true

	dispatch.Go(c.queue, func() (int64, error) {
		id, err := c.client.CreateEvent(snap)
		if err != nil {
			return model.NoID, fmt.Errorf("creating event: %w", err)
		}
		return id, nil
	}, func(id int64, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		snap.ID = id
		c.PutEvent(snap)
		cb.success(c.Event(id))
	})
}

// ModifyOwnEvent pushes changes to an event the caller created. Only the
// update path runs on success; a modified event never spawns a new
// instance.
func (c *Cache) ModifyOwnEvent(snap model.EventSnapshot, cb *Callback[*Event]) {
	event := c.Event(snap.ID)
	if event == nil {
		cb.failure(model.ErrorEventNotFound)
		return
	}
	if !event.IsOwnedBy(c.SelfID()) {
		cb.failure(model.ErrorEventNotFound)
		return
	}

	dispatch.Go(c.queue, func() (struct{}, error) {
		if err := c.client.UpdateEvent(snap); err != nil {
			return struct{}{}, fmt.Errorf("updating event %d: %w", snap.ID, err)
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		c.applyEventUpdate(snap)
		cb.success(c.Event(snap.ID))
	})
}

// JoinEvent adds self to an event's participants.
func (c *Cache) JoinEvent(id int64, cb *Callback[*Event]) {
	c.setParticipation(id, true, cb)
}

// LeaveEvent removes self from an event's participants.
func (c *Cache) LeaveEvent(id int64, cb *Callback[*Event]) {
	c.setParticipation(id, false, cb)
}

func (c *Cache) setParticipation(id int64, join bool, cb *Callback[*Event]) {
	event := c.Event(id)
	if event == nil {
		cb.failure(model.ErrorEventNotFound)
		return
	}
	selfID := c.SelfID()

	dispatch.Go(c.queue, func() (struct{}, error) {
		var err error
		if join {
			err = c.client.JoinEvent(id)
		} else {
			err = c.client.LeaveEvent(id)
		}
		if err != nil {
			return struct{}{}, fmt.Errorf("updating participation in event %d: %w", id, err)
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		event := c.Event(id)
		if event == nil {
			cb.failure(model.ErrorEventNotFound)
			return
		}
		snap := event.Snapshot()
		snap.ParticipantIDs = mergeParticipant(snap.ParticipantIDs, selfID, join)
		c.applyEventUpdate(snap)
		cb.success(c.Event(id))
	})
}

func mergeParticipant(ids []int64, id int64, add bool) []int64 {
	merged := make([]int64, 0, len(ids)+1)
	for _, existing := range ids {
		if existing != id {
			merged = append(merged, existing)
		}
	}
	if add {
		merged = append(merged, id)
	}
	return merged
}

// InviteUsersToEvent invites the given users to an event owned by self.
func (c *Cache) InviteUsersToEvent(eventID int64, userIDs []int64, cb *Callback[*Event]) {
	if c.Event(eventID) == nil {
		cb.failure(model.ErrorEventNotFound)
		return
	}
	if len(userIDs) == 0 {
		cb.failure(model.ErrorNoParticipants)
		return
	}

	dispatch.Go(c.queue, func() (struct{}, error) {
		if err := c.client.InviteUsersToEvent(eventID, userIDs); err != nil {
			return struct{}{}, fmt.Errorf("inviting users to event %d: %w", eventID, err)
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		cb.success(c.Event(eventID))
	})
}

// InviteUser sends a friend invitation to a user found via search.
func (c *Cache) InviteUser(id int64, cb *Callback[int64]) {
	if id <= 0 {
		cb.failure(model.ErrorInvalidID)
		return
	}

	dispatch.Go(c.queue, func() (struct{}, error) {
		if err := c.client.InviteFriend(id); err != nil {
			return struct{}{}, fmt.Errorf("inviting user %d: %w", id, err)
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		cb.success(id)
	})
}

// SetBlockedStatus blocks or unblocks a user, then reclassifies the cached
// instance to match.
func (c *Cache) SetBlockedStatus(id int64, blocked bool, cb *Callback[*User]) {
	user := c.User(id)
	if user == nil {
		cb.failure(model.ErrorUserNotFound)
		return
	}

	dispatch.Go(c.queue, func() (struct{}, error) {
		var err error
		if blocked {
			err = c.client.BlockFriend(id)
		} else {
			err = c.client.UnblockFriend(id)
		}
		if err != nil {
			return struct{}{}, fmt.Errorf("setting blocked status for %d: %w", id, err)
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		user := c.User(id)
		if user == nil {
			cb.failure(model.ErrorUserNotFound)
			return
		}
		snap := user.Snapshot()
		if blocked {
			snap.Relationship = model.RelationshipBlocked
		} else {
			snap.Relationship = model.RelationshipFriend
		}
		c.PutUser(snap)
		cb.success(c.User(id))
	})
}

// RemoveFriends drops the given friends locally, then tells the gateway
// about each one that was actually present, one call per removed friend.
func (c *Cache) RemoveFriends(ids []int64, cb *Callback[[]int64]) {
	ch := &changeSet{}
	c.mu.Lock()
	removed := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.friendIDs[id]; !ok {
			continue
		}
		removed = append(removed, id)
	}
	c.removeUsers(removed, ch)
	c.mu.Unlock()
	c.notify(ch)

	dispatch.Go(c.queue, func() ([]int64, error) {
		for _, id := range removed {
			if err := c.client.RemoveFriend(id); err != nil {
				return removed, fmt.Errorf("removing friend %d: %w", id, err)
			}
		}
		return removed, nil
	}, func(removed []int64, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		cb.success(removed)
	})
}

// RefreshUser re-pulls one user's info and picture from the gateway.
// Fire-and-forget; failures are logged.
func (c *Cache) RefreshUser(id int64) {
	user := c.User(id)
	if user == nil {
		return
	}
	relationship := user.relationship

	c.queue.Async(func() {
		info, err := c.client.UserInfo(id)
		if err != nil {
			log.Errorf("cache: refreshing user %d: %v", id, err)
			return
		}
		info.ID = id
		info.Relationship = relationship
		if image, err := c.client.ProfilePicture(id); err != nil {
			log.Debugf("cache: refreshing picture for %d: %v", id, err)
		} else {
			info.Image = image
		}
		c.PutUser(info)
	})
}

// UpdateSelfPosition records a new position for self and reports it to the
// gateway.
func (c *Cache) UpdateSelfPosition(position model.Position, cb *Callback[*User]) {
	self := c.Self()
	if self == nil {
		cb.failure(model.ErrorUserNotFound)
		return
	}
	snap := self.Snapshot()
	snap.Position = position
	c.PutUser(snap)

	dispatch.Go(c.queue, func() (struct{}, error) {
		if err := c.client.UpdatePosition(position); err != nil {
			return struct{}{}, fmt.Errorf("reporting position: %w", err)
		}
		return struct{}{}, nil
	}, func(_ struct{}, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		cb.success(c.Self())
	})
}

// FindUsers searches the gateway's directory. Results are handed to the
// callback without entering the cache; only an explicit invite creates
// state.
func (c *Cache) FindUsers(text string, cb *Callback[[]model.UserSnapshot]) {
	if text == "" {
		cb.failure(model.ErrorEmptyName)
		return
	}

	dispatch.Go(c.queue, func() ([]model.UserSnapshot, error) {
		found, err := c.client.FindUsers(text)
		if err != nil {
			return nil, fmt.Errorf("searching users: %w", err)
		}
		return found, nil
	}, func(found []model.UserSnapshot, err error) {
		if err != nil {
			cb.failure(err)
			return
		}
		cb.success(found)
	})
}

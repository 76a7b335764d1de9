package cache

import (
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.waypoint/internal/model"
)

// InitFromStore replaces the cache's contents with the store's. Called once
// at bootstrap before any network traffic.
func (c *Cache) InitFromStore() error {
	users, err := c.store.AllUsers()
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	events, err := c.store.AllEvents()
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}
	filters, err := c.store.AllFilters()
	if err != nil {
		return fmt.Errorf("loading filters: %w", err)
	}
	invitations, err := c.store.AllInvitations()
	if err != nil {
		return fmt.Errorf("loading invitations: %w", err)
	}

	ch := &changeSet{}
	c.mu.Lock()
	self := c.users[c.selfID]
	c.users = make(map[int64]*User)
	c.events = make(map[int64]*Event)
	c.invitations = make(map[int64]*Invitation)
	c.friendIDs = make(map[int64]struct{})
	if def, ok := c.filters[model.DefaultFilterID]; ok {
		def.friendIDs = make(map[int64]struct{})
	}

	c.putUsers(users, ch)
	if _, ok := c.users[c.selfID]; !ok && self != nil {
		c.putUsers([]model.UserSnapshot{self.Snapshot()}, ch)
	}
	c.putEvents(events, ch)
	c.putFilters(filters, ch)
	c.putInvitations(invitations, ch)
	c.mu.Unlock()

	ch.users = true
	ch.events = true
	ch.filters = true
	ch.invitations = true
	c.notify(ch)
	return nil
}

// UpdateFromNetwork performs a full resync against the gateway. The whole
// replacement set is staged off-lock first; any gateway failure aborts the
// resync and leaves the cache untouched. On success users and events are
// replaced wholesale: anything not in the staged set is gone.
func (c *Cache) UpdateFromNetwork() error {
	staged, err := c.stageFromNetwork()
	if err != nil {
		return err
	}

	ch := &changeSet{}
	c.mu.Lock()
	for id := range c.users {
		if _, keep := staged.users[id]; !keep {
			delete(c.users, id)
			if err := c.store.DeleteUser(id); err != nil {
				log.Errorf("cache: deleting user %d: %v", id, err)
			}
		}
	}
	for id := range c.events {
		if _, keep := staged.events[id]; !keep {
			delete(c.events, id)
			if err := c.store.DeleteEvent(id); err != nil {
				log.Errorf("cache: deleting event %d: %v", id, err)
			}
		}
	}
	c.friendIDs = make(map[int64]struct{})
	if def, ok := c.filters[model.DefaultFilterID]; ok {
		def.friendIDs = make(map[int64]struct{})
	}

	c.putUsers(staged.userList(), ch)
	c.putEvents(staged.eventList(), ch)
	c.mu.Unlock()

	ch.users = true
	ch.events = true
	c.notify(ch)
	return nil
}

type stagedState struct {
	users  map[int64]model.UserSnapshot
	events map[int64]model.EventSnapshot
	order  []int64
}

func (s *stagedState) addUser(snap model.UserSnapshot) {
	if _, ok := s.users[snap.ID]; !ok {
		s.order = append(s.order, snap.ID)
	}
	s.users[snap.ID] = snap
}

func (s *stagedState) userList() []model.UserSnapshot {
	users := make([]model.UserSnapshot, 0, len(s.users))
	for _, id := range s.order {
		users = append(users, s.users[id])
	}
	return users
}

func (s *stagedState) eventList() []model.EventSnapshot {
	events := make([]model.EventSnapshot, 0, len(s.events))
	for _, event := range s.events {
		// A staged creator takes precedence over whatever relationship the
		// gateway put on the embedded snapshot; without this a resync could
		// demote self or a friend to stranger through an event cascade.
		if event.Creator != nil {
			if staged, ok := s.users[event.Creator.ID]; ok {
				creator := staged
				event.Creator = &creator
			}
		}
		events = append(events, event)
	}
	return events
}

// stageFromNetwork builds the full replacement set without touching the
// cache. Every gateway error is fatal to the whole resync.
func (c *Cache) stageFromNetwork() (*stagedState, error) {
	staged := &stagedState{
		users:  make(map[int64]model.UserSnapshot),
		events: make(map[int64]model.EventSnapshot),
	}

	// Self first.
	selfID := c.SelfID()
	self, err := c.client.UserInfo(selfID)
	if err != nil {
		return nil, fmt.Errorf("resync: fetching self: %w", err)
	}
	self.ID = selfID
	self.Relationship = model.RelationshipSelf
	if image, err := c.client.ProfilePicture(selfID); err == nil {
		self.Image = image
	}
	staged.addUser(self)

	// Friends: ids from the gateway, enriched with positions, info and
	// pictures.
	friendIDs, err := c.client.FriendIDs()
	if err != nil {
		return nil, fmt.Errorf("resync: fetching friend ids: %w", err)
	}
	positions, err := c.client.FriendPositions()
	if err != nil {
		return nil, fmt.Errorf("resync: fetching friend positions: %w", err)
	}
	positioned := make(map[int64]model.UserSnapshot, len(positions))
	for _, p := range positions {
		positioned[p.ID] = p
	}
	for _, id := range friendIDs {
		info, err := c.client.UserInfo(id)
		if err != nil {
			return nil, fmt.Errorf("resync: fetching friend %d: %w", id, err)
		}
		info.ID = id
		info.Relationship = model.RelationshipFriend
		if p, ok := positioned[id]; ok {
			info.Position = p.Position
			info.LocationLabel = p.LocationLabel
			info.LastSeen = p.LastSeen
			info.Visible = p.Visible
		}
		if image, err := c.client.ProfilePicture(id); err == nil {
			info.Image = image
		}
		staged.addUser(info)
	}

	// Blocked users survive a resync. The gateway no longer serves their
	// info, so fall back to the cached instance, then the store.
	for _, user := range c.AllUsers() {
		if user.relationship != model.RelationshipBlocked {
			continue
		}
		staged.addUser(user.Snapshot())
	}
	if blocked, err := c.blockedFromStore(staged); err != nil {
		return nil, err
	} else {
		for _, snap := range blocked {
			staged.addUser(snap)
		}
	}

	// Events: keep what is near, owned or participated-in; refresh each
	// survivor from the gateway.
	nearIDs := make(map[int64]struct{})
	if self.Position.Latitude != 0 || self.Position.Longitude != 0 {
		ids, err := c.client.PublicEvents(self.Position.Latitude, self.Position.Longitude, c.nearRadiusKm)
		if err != nil {
			return nil, fmt.Errorf("resync: fetching public events: %w", err)
		}
		for _, id := range ids {
			nearIDs[id] = struct{}{}
		}
	}
	for _, event := range c.AllEvents() {
		_, near := nearIDs[event.id]
		if !near && !event.IsOwnedBy(selfID) && !event.HasParticipant(selfID) {
			continue
		}
		info, err := c.client.EventInfo(event.id)
		if err != nil {
			return nil, fmt.Errorf("resync: fetching event %d: %w", event.id, err)
		}
		info.ID = event.id
		staged.events[event.id] = info
	}

	// Users referenced by pending friend invitations stay resolvable.
	for _, invitation := range c.AllInvitations() {
		if invitation.typ != model.FriendInvitation || invitation.user == nil {
			continue
		}
		if _, ok := staged.users[invitation.user.id]; ok {
			continue
		}
		staged.addUser(invitation.user.Snapshot())
	}

	return staged, nil
}

func (c *Cache) blockedFromStore(staged *stagedState) ([]model.UserSnapshot, error) {
	stored, err := c.store.AllUsers()
	if err != nil {
		log.Errorf("cache: loading stored users for resync: %v", err)
		return nil, nil
	}
	blocked := make([]model.UserSnapshot, 0)
	for _, snap := range stored {
		if snap.Relationship != model.RelationshipBlocked {
			continue
		}
		if _, ok := staged.users[snap.ID]; ok {
			continue
		}
		if info, err := c.client.UserInfo(snap.ID); err == nil && info.Name != "" {
			snap.Name = info.Name
		} else if err != nil && !errors.Is(err, model.ErrorUserNotFound) {
			log.Debugf("cache: refreshing blocked user %d: %v", snap.ID, err)
		}
		blocked = append(blocked, snap)
	}
	return blocked, nil
}

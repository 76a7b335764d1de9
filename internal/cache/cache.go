// Package cache holds the live in-process instances of every user, event,
// filter and invitation the client knows about. Containers coming from the
// store or the gateway are reconciled into live instances here; everything
// else in the process only ever reads what the cache hands out.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.waypoint/internal/dispatch"
	"uk.co.dudmesh.waypoint/internal/model"
)

// Store is the durable side of the cache: load-all at bootstrap, upsert and
// delete as entities change, plus the pending-friend bookkeeping the
// invitation flows need.
type Store interface {
	AllUsers() ([]model.UserSnapshot, error)
	AllEvents() ([]model.EventSnapshot, error)
	AllFilters() ([]model.FilterSnapshot, error)
	AllInvitations() ([]model.InvitationSnapshot, error)
	User(id int64) (model.UserSnapshot, error)
	UpsertUser(model.UserSnapshot) error
	UpsertEvent(model.EventSnapshot) error
	UpsertFilter(model.FilterSnapshot) error
	UpsertInvitation(model.InvitationSnapshot) error
	AddInvitation(model.InvitationSnapshot) (int64, error)
	AddPendingFriend(id int64) error
	DeletePendingFriend(id int64) error
	DeleteUser(id int64) error
	DeleteEvent(id int64) error
	DeleteFilter(id int64) error
}

// Client is the remote gateway surface the cache consumes. Every call is
// blocking and may fail with a transport error.
type Client interface {
	UserInfo(id int64) (model.UserSnapshot, error)
	ProfilePicture(id int64) ([]byte, error)
	FriendIDs() ([]int64, error)
	FriendPositions() ([]model.UserSnapshot, error)
	FindUsers(text string) ([]model.UserSnapshot, error)
	InviteFriend(id int64) error
	AcceptInvitation(id int64) (model.UserSnapshot, error)
	DeclineInvitation(id int64) error
	AckAcceptedInvitation(id int64) error
	AckRemovedFriend(id int64) error
	AckEventInvitation(eventID int64) error
	RemoveFriend(id int64) error
	BlockFriend(id int64) error
	UnblockFriend(id int64) error
	EventInfo(id int64) (model.EventSnapshot, error)
	PublicEvents(latitude, longitude, radiusKm float64) ([]int64, error)
	CreateEvent(model.EventSnapshot) (int64, error)
	UpdateEvent(model.EventSnapshot) error
	JoinEvent(id int64) error
	LeaveEvent(id int64) error
	InviteUsersToEvent(eventID int64, userIDs []int64) error
	UpdatePosition(model.Position) error
	Invitations() (model.InvitationBag, error)
	EventInvitations() ([]model.InvitationSnapshot, error)
}

type Config struct {
	SelfID       int64
	SelfName     string
	NearRadiusKm float64
	Store        Store
	Client       Client
	Queue        *dispatch.Queue
}

// Cache behaves as a monitor: one coarse lock serialises every entry point
// across the caller's goroutine and background workers. No gateway call
// ever happens while the lock is held.
type Cache struct {
	mu sync.Mutex

	users       map[int64]*User
	events      map[int64]*Event
	filters     map[int64]*Filter
	invitations map[int64]*Invitation

	friendIDs map[int64]struct{}
	selfID    int64

	nextFilterID int64

	listeners []Listener

	store        Store
	client       Client
	queue        *dispatch.Queue
	nearRadiusKm float64
}

func New(config Config) (*Cache, error) {
	if config.SelfID <= 0 {
		return nil, model.ErrorInvalidID
	}
	if config.SelfName == "" {
		return nil, model.ErrorEmptyName
	}

	c := &Cache{
		users:        make(map[int64]*User),
		events:       make(map[int64]*Event),
		filters:      make(map[int64]*Filter),
		invitations:  make(map[int64]*Invitation),
		friendIDs:    make(map[int64]struct{}),
		selfID:       config.SelfID,
		nextFilterID: model.DefaultFilterID + 1,
		store:        config.Store,
		client:       config.Client,
		queue:        config.Queue,
		nearRadiusKm: config.NearRadiusKm,
	}

	c.filters[model.DefaultFilterID] = newFilter(model.FilterSnapshot{
		ID:     model.DefaultFilterID,
		Name:   "default",
		Active: true,
	})
	c.putUsers([]model.UserSnapshot{{
		ID:           config.SelfID,
		Name:         config.SelfName,
		Relationship: model.RelationshipSelf,
	}}, &changeSet{})

	return c, nil
}

func (c *Cache) AddListener(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// notify fires the coalesced per-kind callbacks for one top-level call. It
// runs without the lock so listeners can re-enter the cache.
func (c *Cache) notify(ch *changeSet) {
	if !ch.any() {
		return
	}
	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, listener := range listeners {
		if ch.users {
			listener.OnUserListUpdate()
		}
		if ch.events {
			listener.OnEventListUpdate()
		}
		if ch.filters {
			listener.OnFilterListUpdate()
		}
		if ch.invitations {
			listener.OnInvitationListUpdate()
		}
	}
}

// --- users ---------------------------------------------------------------

func (c *Cache) Self() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.users[c.selfID]
}

func (c *Cache) SelfID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Cache) User(id int64) *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.users[id]
}

func (c *Cache) Users(ids []int64) []*User {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]*User, 0, len(ids))
	for _, id := range ids {
		if user, ok := c.users[id]; ok {
			users = append(users, user)
		}
	}
	return users
}

func (c *Cache) AllUsers() []*User {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]*User, 0, len(c.users))
	for _, user := range c.users {
		users = append(users, user)
	}
	sortUsers(users)
	return users
}

func (c *Cache) AllFriends() []*User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usersLocked(c.friendIDs)
}

func (c *Cache) FriendIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.friendIDs))
	for id := range c.friendIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AllVisibleFriends computes the friends left visible after filtering: the
// default filter's baseline intersected with every active custom filter.
// An empty intersection is an empty result, not an error.
func (c *Cache) AllVisibleFriends() []*User {
	c.mu.Lock()
	defer c.mu.Unlock()

	visible := make(map[int64]struct{})
	if def, ok := c.filters[model.DefaultFilterID]; ok {
		for id := range def.friendIDs {
			visible[id] = struct{}{}
		}
	} else {
		for id := range c.friendIDs {
			visible[id] = struct{}{}
		}
	}

	for _, filter := range c.filters {
		if filter.IsDefault() || !filter.active {
			continue
		}
		for id := range visible {
			if _, ok := filter.friendIDs[id]; !ok {
				delete(visible, id)
			}
		}
	}

	return c.usersLocked(visible)
}

func (c *Cache) usersLocked(ids map[int64]struct{}) []*User {
	users := make([]*User, 0, len(ids))
	for id := range ids {
		if user, ok := c.users[id]; ok {
			users = append(users, user)
		}
	}
	sortUsers(users)
	return users
}

func sortUsers(users []*User) {
	sort.Slice(users, func(i, j int) bool { return users[i].id < users[j].id })
}

func (c *Cache) PutUser(snap model.UserSnapshot) {
	c.PutUsers([]model.UserSnapshot{snap})
}

func (c *Cache) PutUsers(snaps []model.UserSnapshot) {
	ch := &changeSet{}
	c.mu.Lock()
	c.putUsers(snaps, ch)
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) putUsers(snaps []model.UserSnapshot, ch *changeSet) {
	for _, snap := range snaps {
		if snap.ID <= 0 {
			log.Warnf("cache: dropping user container without id")
			continue
		}

		c.setFriendship(snap.ID, snap.Relationship)

		live, ok := c.users[snap.ID]
		switch {
		case !ok:
			c.users[snap.ID] = newUser(snap)
			ch.users = true
			c.persistUser(snap.ID)
		case live.relationship != snap.Relationship:
			// Reclassification replaces the instance; delete and re-add are
			// one structural change from the listener's point of view.
			replacement := newUser(snap)
			c.users[snap.ID] = replacement
			c.repointUser(replacement, ch)
			ch.users = true
			c.persistUser(snap.ID)
		default:
			if live.update(snap) {
				ch.users = true
				c.persistUser(snap.ID)
			}
		}
	}
}

// repointUser rebinds every event and invitation reference to the
// replacement instance, so a reclassified user stays the single live
// instance observable anywhere in the object graph.
func (c *Cache) repointUser(user *User, ch *changeSet) {
	for _, event := range c.events {
		if event.creator != nil && event.creator.id == user.id {
			event.creator = user
			ch.events = true
		}
	}
	for _, invitation := range c.invitations {
		if invitation.user != nil && invitation.user.id == user.id {
			invitation.user = user
			ch.invitations = true
		}
	}
}

// setFriendship keeps the friend-id set and the default filter's baseline
// consistent with a user's classification.
func (c *Cache) setFriendship(id int64, relationship model.Relationship) {
	def := c.filters[model.DefaultFilterID]
	if relationship == model.RelationshipFriend {
		c.friendIDs[id] = struct{}{}
		if def != nil {
			def.friendIDs[id] = struct{}{}
		}
		return
	}
	if relationship == model.RelationshipSelf {
		c.selfID = id
	}
	delete(c.friendIDs, id)
	if def != nil {
		delete(def.friendIDs, id)
	}
}

func (c *Cache) RemoveUsers(ids []int64) {
	ch := &changeSet{}
	c.mu.Lock()
	c.removeUsers(ids, ch)
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) removeUsers(ids []int64, ch *changeSet) {
	for _, id := range ids {
		if _, ok := c.users[id]; !ok {
			continue
		}
		delete(c.users, id)
		c.setFriendship(id, model.RelationshipStranger)
		if err := c.store.DeleteUser(id); err != nil {
			log.Errorf("cache: deleting user %d: %v", id, err)
		}
		ch.users = true
	}
}

func (c *Cache) persistUser(id int64) {
	if user, ok := c.users[id]; ok {
		if err := c.store.UpsertUser(user.Snapshot()); err != nil {
			log.Errorf("cache: persisting user %d: %v", id, err)
		}
	}
}

// --- events --------------------------------------------------------------

func (c *Cache) Event(id int64) *Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[id]
}

func (c *Cache) AllEvents() []*Event {
	return c.EventsWhere(func(*Event) bool { return true })
}

func (c *Cache) AllVisibleEvents() []*Event {
	return c.EventsWhere(func(e *Event) bool { return e.visible })
}

func (c *Cache) LiveEvents() []*Event {
	now := time.Now()
	return c.EventsWhere(func(e *Event) bool { return e.IsLiveAt(now) })
}

func (c *Cache) MyEvents() []*Event {
	selfID := c.SelfID()
	return c.EventsWhere(func(e *Event) bool { return e.IsOwnedBy(selfID) })
}

func (c *Cache) ParticipatingEvents() []*Event {
	selfID := c.SelfID()
	return c.EventsWhere(func(e *Event) bool { return e.HasParticipant(selfID) })
}

func (c *Cache) NearEvents() []*Event {
	c.mu.Lock()
	var position model.Position
	if self, ok := c.users[c.selfID]; ok {
		position = self.position
	}
	radius := c.nearRadiusKm
	c.mu.Unlock()
	return c.EventsWhere(func(e *Event) bool { return e.IsNear(position, radius) })
}

func (c *Cache) EventsWhere(pred func(*Event) bool) []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]*Event, 0, len(c.events))
	for _, event := range c.events {
		if pred(event) {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].id < events[j].id })
	return events
}

func (c *Cache) PutEvent(snap model.EventSnapshot) {
	c.PutEvents([]model.EventSnapshot{snap})
}

func (c *Cache) PutEvents(snaps []model.EventSnapshot) {
	ch := &changeSet{}
	c.mu.Lock()
	c.putEvents(snaps, ch)
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) putEvents(snaps []model.EventSnapshot, ch *changeSet) {
	for _, snap := range snaps {
		if live, ok := c.events[snap.ID]; ok {
			if live.update(snap) {
				ch.events = true
				c.persistEvent(snap.ID)
			}
			continue
		}

		// New events need a resolvable creator. Containers without one are
		// dropped, not retried; consistency wins over completeness here.
		if snap.Creator == nil {
			log.Debugf("cache: dropping event container %d without creator", snap.ID)
			continue
		}
		c.putUsers([]model.UserSnapshot{*snap.Creator}, ch)
		creator, ok := c.users[snap.Creator.ID]
		if !ok {
			log.Debugf("cache: dropping event container %d, creator %d unresolvable", snap.ID, snap.Creator.ID)
			continue
		}

		c.events[snap.ID] = newEvent(snap, creator)
		ch.events = true
		c.persistEvent(snap.ID)
	}
}

func (c *Cache) RemoveEvent(id int64) {
	c.RemoveEvents([]int64{id})
}

func (c *Cache) RemoveEvents(ids []int64) {
	ch := &changeSet{}
	c.mu.Lock()
	for _, id := range ids {
		if _, ok := c.events[id]; !ok {
			continue
		}
		delete(c.events, id)
		if err := c.store.DeleteEvent(id); err != nil {
			log.Errorf("cache: deleting event %d: %v", id, err)
		}
		ch.events = true
	}
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) persistEvent(id int64) {
	if event, ok := c.events[id]; ok {
		if err := c.store.UpsertEvent(event.Snapshot()); err != nil {
			log.Errorf("cache: persisting event %d: %v", id, err)
		}
	}
}

// applyEventUpdate runs the update path only; unknown ids are ignored.
func (c *Cache) applyEventUpdate(snap model.EventSnapshot) {
	ch := &changeSet{}
	c.mu.Lock()
	if live, ok := c.events[snap.ID]; ok {
		if live.update(snap) {
			ch.events = true
			c.persistEvent(snap.ID)
		}
	}
	c.mu.Unlock()
	c.notify(ch)
}

// --- filters -------------------------------------------------------------

func (c *Cache) Filter(id int64) *Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters[id]
}

func (c *Cache) DefaultFilter() *Filter {
	return c.Filter(model.DefaultFilterID)
}

func (c *Cache) AllFilters() []*Filter {
	return c.filtersWhere(func(*Filter) bool { return true })
}

// CustomFilters never includes the default filter.
func (c *Cache) CustomFilters() []*Filter {
	return c.filtersWhere(func(f *Filter) bool { return !f.IsDefault() })
}

func (c *Cache) ActiveFilters() []*Filter {
	return c.filtersWhere(func(f *Filter) bool { return f.active })
}

func (c *Cache) filtersWhere(pred func(*Filter) bool) []*Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	filters := make([]*Filter, 0, len(c.filters))
	for _, filter := range c.filters {
		if pred(filter) {
			filters = append(filters, filter)
		}
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].id < filters[j].id })
	return filters
}

func (c *Cache) PutFilter(snap model.FilterSnapshot) {
	c.PutFilters([]model.FilterSnapshot{snap})
}

func (c *Cache) PutFilters(snaps []model.FilterSnapshot) {
	ch := &changeSet{}
	c.mu.Lock()
	c.putFilters(snaps, ch)
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) putFilters(snaps []model.FilterSnapshot, ch *changeSet) {
	for _, snap := range snaps {
		if live, ok := c.filters[snap.ID]; ok {
			if live.update(snap) {
				ch.filters = true
				c.persistFilter(snap.ID)
			}
			continue
		}

		if snap.ID == model.NoID {
			snap.ID = c.nextFilterID
			c.nextFilterID++
		} else if snap.ID >= c.nextFilterID {
			c.nextFilterID = snap.ID + 1
		}

		c.filters[snap.ID] = newFilter(snap)
		ch.filters = true
		c.persistFilter(snap.ID)
	}
}

func (c *Cache) RemoveFilter(id int64) {
	c.RemoveFilters([]int64{id})
}

// RemoveFilters removes the given filters. Removing the default filter is a
// no-op.
func (c *Cache) RemoveFilters(ids []int64) {
	ch := &changeSet{}
	c.mu.Lock()
	for _, id := range ids {
		if id == model.DefaultFilterID {
			continue
		}
		if _, ok := c.filters[id]; !ok {
			continue
		}
		delete(c.filters, id)
		if err := c.store.DeleteFilter(id); err != nil {
			log.Errorf("cache: deleting filter %d: %v", id, err)
		}
		ch.filters = true
	}
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) persistFilter(id int64) {
	if id == model.DefaultFilterID {
		return
	}
	if filter, ok := c.filters[id]; ok {
		if err := c.store.UpsertFilter(filter.Snapshot()); err != nil {
			log.Errorf("cache: persisting filter %d: %v", id, err)
		}
	}
}

// --- invitations ---------------------------------------------------------

func (c *Cache) Invitation(id int64) *Invitation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invitations[id]
}

// AllInvitations returns every invitation ordered newest first.
func (c *Cache) AllInvitations() []*Invitation {
	return c.InvitationsWhere(func(*Invitation) bool { return true })
}

func (c *Cache) UnansweredFriendInvitations() []*Invitation {
	return c.InvitationsWhere(func(i *Invitation) bool {
		return i.typ == model.FriendInvitation &&
			(i.status == model.InvitationUnread || i.status == model.InvitationRead)
	})
}

func (c *Cache) InvitationsWhere(pred func(*Invitation) bool) []*Invitation {
	c.mu.Lock()
	defer c.mu.Unlock()
	invitations := make([]*Invitation, 0, len(c.invitations))
	for _, invitation := range c.invitations {
		if pred(invitation) {
			invitations = append(invitations, invitation)
		}
	}
	sort.Slice(invitations, func(i, j int) bool { return invitations[i].before(invitations[j]) })
	return invitations
}

func (c *Cache) PutInvitation(snap model.InvitationSnapshot) {
	c.PutInvitations([]model.InvitationSnapshot{snap})
}

func (c *Cache) PutInvitations(snaps []model.InvitationSnapshot) {
	ch := &changeSet{}
	c.mu.Lock()
	c.putInvitations(snaps, ch)
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) putInvitations(snaps []model.InvitationSnapshot, ch *changeSet) {
	for _, snap := range snaps {
		if snap.ID == model.AlreadyPersistedID {
			continue
		}
		if snap.ID != model.NoID {
			if live, ok := c.invitations[snap.ID]; ok {
				if live.update(snap) {
					ch.invitations = true
					c.persistInvitation(snap.ID)
				}
				continue
			}
		}

		user, event, ok := c.resolveInvitation(snap, ch)
		if !ok {
			// Nothing is persisted or acknowledged for a dropped container,
			// so the next pull redelivers it.
			log.Debugf("cache: dropping unresolvable invitation container")
			continue
		}

		fresh := snap.ID == model.NoID
		if fresh {
			id, err := c.store.AddInvitation(snap)
			if err != nil {
				log.Errorf("cache: recording invitation: %v", err)
				continue
			}
			if id == model.AlreadyPersistedID {
				// The store has seen this invitation in a previous pull.
				continue
			}
			snap.ID = id
		}

		c.invitations[snap.ID] = &Invitation{
			id:        snap.ID,
			typ:       snap.Type,
			status:    snap.Status,
			user:      user,
			event:     event,
			createdAt: snap.CreatedAt,
		}
		ch.invitations = true
		c.persistInvitation(snap.ID)
		if fresh {
			c.consumeInvitation(snap)
		}
	}
}

// resolveInvitation cascades the referenced user or event into the cache
// and re-checks resolvability after the cascade. It has no server-visible
// side effects; acknowledgements wait until the invitation materialises.
func (c *Cache) resolveInvitation(snap model.InvitationSnapshot, ch *changeSet) (*User, *Event, bool) {
	switch snap.Type {
	case model.FriendInvitation:
		if snap.User == nil {
			return nil, nil, false
		}
		c.putUsers([]model.UserSnapshot{*snap.User}, ch)
		user := c.users[snap.User.ID]
		return user, nil, user != nil

	case model.AcceptedFriendInvitation:
		if snap.User == nil {
			return nil, nil, false
		}
		friend := *snap.User
		friend.Relationship = model.RelationshipFriend
		c.putUsers([]model.UserSnapshot{friend}, ch)
		user := c.users[snap.User.ID]
		return user, nil, user != nil

	case model.EventInvitation:
		if snap.Event == nil {
			return nil, nil, false
		}
		c.putEvents([]model.EventSnapshot{*snap.Event}, ch)
		event := c.events[snap.Event.ID]
		return nil, event, event != nil

	default:
		return nil, nil, false
	}
}

// consumeInvitation runs the side effects a freshly pulled invitation owes
// once it has materialised: pending-friend bookkeeping and the matching
// gateway acknowledgement. Invitations reloaded from the store never come
// through here, so the server sees each acknowledgement once.
func (c *Cache) consumeInvitation(snap model.InvitationSnapshot) {
	switch snap.Type {
	case model.FriendInvitation:
		if err := c.store.AddPendingFriend(snap.User.ID); err != nil {
			log.Errorf("cache: recording pending friend %d: %v", snap.User.ID, err)
		}

	case model.AcceptedFriendInvitation:
		userID := snap.User.ID
		c.queue.Async(func() {
			if err := c.client.AckAcceptedInvitation(userID); err != nil {
				log.Errorf("cache: acking accepted invitation %d: %v", userID, err)
			}
		})

	case model.EventInvitation:
		eventID := snap.Event.ID
		c.queue.Async(func() {
			if err := c.client.AckEventInvitation(eventID); err != nil {
				log.Errorf("cache: acking event invitation %d: %v", eventID, err)
			}
		})
	}
}

// ReadAllInvitations marks every unread invitation as read.
func (c *Cache) ReadAllInvitations() {
	ch := &changeSet{}
	c.mu.Lock()
	for id, invitation := range c.invitations {
		if invitation.status != model.InvitationUnread {
			continue
		}
		snap := invitation.Snapshot()
		snap.Status = model.InvitationRead
		if invitation.update(snap) {
			ch.invitations = true
			c.persistInvitation(id)
		}
	}
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) setInvitationStatus(id int64, status model.InvitationStatus) {
	ch := &changeSet{}
	c.mu.Lock()
	if invitation, ok := c.invitations[id]; ok {
		snap := invitation.Snapshot()
		snap.Status = status
		if invitation.update(snap) {
			ch.invitations = true
			c.persistInvitation(id)
		}
	}
	c.mu.Unlock()
	c.notify(ch)
}

func (c *Cache) persistInvitation(id int64) {
	if invitation, ok := c.invitations[id]; ok {
		if err := c.store.UpsertInvitation(invitation.Snapshot()); err != nil {
			log.Errorf("cache: persisting invitation %d: %v", id, err)
		}
	}
}

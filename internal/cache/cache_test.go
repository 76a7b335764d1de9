package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"uk.co.dudmesh.waypoint/internal/dispatch"
	"uk.co.dudmesh.waypoint/internal/model"
)

const testSelfID int64 = 1

// --- fakes ---------------------------------------------------------------

type fakeStore struct {
	mu               sync.Mutex
	users            map[int64]model.UserSnapshot
	events           map[int64]model.EventSnapshot
	filters          map[int64]model.FilterSnapshot
	invitations      map[int64]model.InvitationSnapshot
	pending          map[int64]struct{}
	nextInvitationID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:            map[int64]model.UserSnapshot{},
		events:           map[int64]model.EventSnapshot{},
		filters:          map[int64]model.FilterSnapshot{},
		invitations:      map[int64]model.InvitationSnapshot{},
		pending:          map[int64]struct{}{},
		nextInvitationID: 1,
	}
}

func (s *fakeStore) AllUsers() ([]model.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]model.UserSnapshot, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

func (s *fakeStore) AllEvents() ([]model.EventSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.EventSnapshot, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	return events, nil
}

func (s *fakeStore) AllFilters() ([]model.FilterSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filters := make([]model.FilterSnapshot, 0, len(s.filters))
	for _, f := range s.filters {
		filters = append(filters, f)
	}
	return filters, nil
}

func (s *fakeStore) AllInvitations() ([]model.InvitationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invitations := make([]model.InvitationSnapshot, 0, len(s.invitations))
	for _, i := range s.invitations {
		invitations = append(invitations, i)
	}
	return invitations, nil
}

func (s *fakeStore) User(id int64) (model.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return model.UserSnapshot{}, model.ErrorUserNotFound
}

func (s *fakeStore) UpsertUser(snap model.UserSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[snap.ID] = snap
	return nil
}

func (s *fakeStore) UpsertEvent(snap model.EventSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[snap.ID] = snap
	return nil
}

func (s *fakeStore) UpsertFilter(snap model.FilterSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[snap.ID] = snap
	return nil
}

func (s *fakeStore) UpsertInvitation(snap model.InvitationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations[snap.ID] = snap
	return nil
}

func (s *fakeStore) AddInvitation(snap model.InvitationSnapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invitations {
		if existing.Type == snap.Type && existing.CreatedAt.Equal(snap.CreatedAt) &&
			sameRef(existing.User, snap.User) && sameEventRef(existing.Event, snap.Event) {
			return model.AlreadyPersistedID, nil
		}
	}
	id := s.nextInvitationID
	s.nextInvitationID++
	snap.ID = id
	s.invitations[id] = snap
	return id, nil
}

func sameRef(a, b *model.UserSnapshot) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || a.ID == b.ID
}

func sameEventRef(a, b *model.EventSnapshot) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || a.ID == b.ID
}

func (s *fakeStore) AddPendingFriend(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = struct{}{}
	return nil
}

func (s *fakeStore) DeletePendingFriend(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	return nil
}

func (s *fakeStore) DeleteUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

func (s *fakeStore) DeleteEvent(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
	return nil
}

func (s *fakeStore) DeleteFilter(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.filters, id)
	return nil
}

type fakeClient struct {
	mu    sync.Mutex
	calls []string

	userInfo        func(id int64) (model.UserSnapshot, error)
	friendIDs       func() ([]int64, error)
	friendPositions func() ([]model.UserSnapshot, error)
	eventInfo       func(id int64) (model.EventSnapshot, error)
	publicEvents    func(lat, lon, radius float64) ([]int64, error)
	acceptFriend    func(id int64) (model.UserSnapshot, error)
	createEvent     func(model.EventSnapshot) (int64, error)
	failing         error
}

func (c *fakeClient) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeClient) count(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, recorded := range c.calls {
		if recorded == call {
			n++
		}
	}
	return n
}

func (c *fakeClient) UserInfo(id int64) (model.UserSnapshot, error) {
	c.record("UserInfo")
	if c.userInfo != nil {
		return c.userInfo(id)
	}
	if c.failing != nil {
		return model.UserSnapshot{}, c.failing
	}
	return model.UserSnapshot{ID: id, Name: "user"}, nil
}

func (c *fakeClient) ProfilePicture(id int64) ([]byte, error) {
	c.record("ProfilePicture")
	return nil, c.failing
}

func (c *fakeClient) FriendIDs() ([]int64, error) {
	c.record("FriendIDs")
	if c.friendIDs != nil {
		return c.friendIDs()
	}
	return nil, c.failing
}

func (c *fakeClient) FriendPositions() ([]model.UserSnapshot, error) {
	c.record("FriendPositions")
	if c.friendPositions != nil {
		return c.friendPositions()
	}
	return nil, c.failing
}

func (c *fakeClient) FindUsers(text string) ([]model.UserSnapshot, error) {
	c.record("FindUsers")
	return []model.UserSnapshot{{ID: 99, Name: text}}, c.failing
}

func (c *fakeClient) InviteFriend(id int64) error {
	c.record("InviteFriend")
	return c.failing
}

func (c *fakeClient) AcceptInvitation(id int64) (model.UserSnapshot, error) {
	c.record("AcceptInvitation")
	if c.acceptFriend != nil {
		return c.acceptFriend(id)
	}
	return model.UserSnapshot{ID: id, Name: "friend"}, c.failing
}

func (c *fakeClient) DeclineInvitation(id int64) error {
	c.record("DeclineInvitation")
	return c.failing
}

func (c *fakeClient) AckAcceptedInvitation(id int64) error {
	c.record("AckAcceptedInvitation")
	return c.failing
}

func (c *fakeClient) AckRemovedFriend(id int64) error {
	c.record("AckRemovedFriend")
	return c.failing
}

func (c *fakeClient) AckEventInvitation(eventID int64) error {
	c.record("AckEventInvitation")
	return c.failing
}

func (c *fakeClient) RemoveFriend(id int64) error {
	c.record("RemoveFriend")
	return c.failing
}

func (c *fakeClient) BlockFriend(id int64) error {
	c.record("BlockFriend")
	return c.failing
}

func (c *fakeClient) UnblockFriend(id int64) error {
	c.record("UnblockFriend")
	return c.failing
}

func (c *fakeClient) EventInfo(id int64) (model.EventSnapshot, error) {
	c.record("EventInfo")
	if c.eventInfo != nil {
		return c.eventInfo(id)
	}
	return model.EventSnapshot{ID: id, Name: "event"}, c.failing
}

func (c *fakeClient) PublicEvents(lat, lon, radius float64) ([]int64, error) {
	c.record("PublicEvents")
	if c.publicEvents != nil {
		return c.publicEvents(lat, lon, radius)
	}
	return nil, c.failing
}

func (c *fakeClient) CreateEvent(snap model.EventSnapshot) (int64, error) {
	c.record("CreateEvent")
	if c.createEvent != nil {
		return c.createEvent(snap)
	}
	return 500, c.failing
}

func (c *fakeClient) UpdateEvent(snap model.EventSnapshot) error {
	c.record("UpdateEvent")
	return c.failing
}

func (c *fakeClient) JoinEvent(id int64) error {
	c.record("JoinEvent")
	return c.failing
}

func (c *fakeClient) LeaveEvent(id int64) error {
	c.record("LeaveEvent")
	return c.failing
}

func (c *fakeClient) InviteUsersToEvent(eventID int64, userIDs []int64) error {
	c.record("InviteUsersToEvent")
	return c.failing
}

func (c *fakeClient) UpdatePosition(position model.Position) error {
	c.record("UpdatePosition")
	return c.failing
}

func (c *fakeClient) Invitations() (model.InvitationBag, error) {
	c.record("Invitations")
	return model.InvitationBag{}, c.failing
}

func (c *fakeClient) EventInvitations() ([]model.InvitationSnapshot, error) {
	c.record("EventInvitations")
	return nil, c.failing
}

type countingListener struct {
	mu          sync.Mutex
	users       int
	events      int
	filters     int
	invitations int
}

func (l *countingListener) OnUserListUpdate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users++
}

func (l *countingListener) OnEventListUpdate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events++
}

func (l *countingListener) OnFilterListUpdate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters++
}

func (l *countingListener) OnInvitationListUpdate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invitations++
}

func (l *countingListener) counts() (int, int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users, l.events, l.filters, l.invitations
}

func newTestCache(t *testing.T) (*Cache, *fakeStore, *fakeClient) {
	t.Helper()
	store := newFakeStore()
	client := &fakeClient{}
	queue := dispatch.NewQueue()
	t.Cleanup(queue.Close)

	c, err := New(Config{
		SelfID:       testSelfID,
		SelfName:     "self",
		NearRadiusKm: 10,
		Store:        store,
		Client:       client,
		Queue:        queue,
	})
	if err != nil {
		t.Fatalf("creating cache: %v", err)
	}
	return c, store, client
}

func friendSnapshot(id int64, name string) model.UserSnapshot {
	return model.UserSnapshot{ID: id, Name: name, Relationship: model.RelationshipFriend}
}

func awaitCalls(t *testing.T, client *fakeClient, call string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if client.count(call) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s calls, got %d", want, call, client.count(call))
}

// --- tests ---------------------------------------------------------------

func TestNewSeedsSelfAndDefaultFilter(t *testing.T) {
	assert := assert.New(t)
	c, _, _ := newTestCache(t)

	self := c.Self()
	assert.NotNil(self)
	assert.Equal(testSelfID, self.ID())
	assert.Equal(model.RelationshipSelf, self.Relationship())

	def := c.DefaultFilter()
	assert.NotNil(def)
	assert.True(def.IsActive())
	assert.Empty(c.CustomFilters())
}

func TestPutUsers(t *testing.T) {
	assert := assert.New(t)

	t.Run("put is idempotent", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		listener := &countingListener{}
		c.AddListener(listener)

		c.PutUser(friendSnapshot(2, "ann"))
		first := c.User(2)
		assert.NotNil(first)

		c.PutUser(friendSnapshot(2, "ann"))
		assert.Same(first, c.User(2))
		users, _, _, _ := listener.counts()
		assert.Equal(1, users)
		assert.Len(c.AllFriends(), 1)
	})

	t.Run("containers without id are dropped", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutUser(model.UserSnapshot{ID: model.NoID, Name: "ghost"})
		assert.Len(c.AllUsers(), 1) // self only
	})

	t.Run("reclassification replaces the instance", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutUser(model.UserSnapshot{ID: 2, Name: "ann", Relationship: model.RelationshipStranger})
		stranger := c.User(2)
		assert.NotContains(c.FriendIDs(), int64(2))

		c.PutUser(friendSnapshot(2, "ann"))
		friend := c.User(2)
		assert.NotSame(stranger, friend)
		assert.Equal(model.RelationshipFriend, friend.Relationship())
		assert.Contains(c.FriendIDs(), int64(2))
		assert.True(c.DefaultFilter().Allows(2))

		c.PutUser(model.UserSnapshot{ID: 2, Name: "ann", Relationship: model.RelationshipBlocked})
		assert.NotContains(c.FriendIDs(), int64(2))
		assert.False(c.DefaultFilter().Allows(2))
	})

	t.Run("update preserves fields the container omits", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		snap := friendSnapshot(2, "ann")
		snap.Image = []byte{1, 2, 3}
		c.PutUser(snap)

		c.PutUser(model.UserSnapshot{ID: 2, Relationship: model.RelationshipFriend})
		user := c.User(2)
		assert.Equal("ann", user.Name())
		assert.Equal([]byte{1, 2, 3}, user.Image())
	})

	t.Run("position-only pulls preserve profile fields", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		full := friendSnapshot(2, "ann")
		full.Phone = "555-0101"
		full.Email = "ann@example.com"
		full.LocationLabel = "home"
		c.PutUser(full)

		listener := &countingListener{}
		c.AddListener(listener)

		positionOnly := model.UserSnapshot{
			ID:           2,
			Relationship: model.RelationshipFriend,
			Position:     model.Position{Latitude: 51.5, Longitude: -0.1},
		}
		c.PutUser(positionOnly)

		user := c.User(2)
		assert.Equal("555-0101", user.Phone())
		assert.Equal("ann@example.com", user.Email())
		assert.Equal("home", user.LocationLabel())
		assert.Equal(51.5, user.Position().Latitude)

		c.PutUser(positionOnly)
		users, _, _, _ := listener.counts()
		assert.Equal(1, users)
	})

	t.Run("reclassification repoints events and invitations", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		ann := friendSnapshot(2, "ann")
		c.PutUser(ann)
		c.PutEvent(model.EventSnapshot{ID: 10, Name: "picnic", Creator: &ann})
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.FriendInvitation, User: &ann, CreatedAt: time.Now(),
		})

		c.PutUser(model.UserSnapshot{ID: 2, Name: "ann", Relationship: model.RelationshipBlocked})

		blocked := c.User(2)
		assert.Equal(model.RelationshipBlocked, blocked.Relationship())
		assert.Same(blocked, c.Event(10).Creator())
		assert.Same(blocked, c.AllInvitations()[0].User())
	})
}

func TestRemoveUsers(t *testing.T) {
	assert := assert.New(t)
	c, store, _ := newTestCache(t)

	c.PutUser(friendSnapshot(2, "ann"))
	c.RemoveUsers([]int64{2})

	assert.Nil(c.User(2))
	assert.Empty(c.FriendIDs())
	assert.False(c.DefaultFilter().Allows(2))
	_, err := store.User(2)
	assert.ErrorIs(err, model.ErrorUserNotFound)
}

func TestPutEvents(t *testing.T) {
	assert := assert.New(t)

	t.Run("creator is cascaded", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		creator := friendSnapshot(2, "ann")
		c.PutEvent(model.EventSnapshot{ID: 10, Name: "picnic", Creator: &creator})

		event := c.Event(10)
		assert.NotNil(event)
		assert.Same(c.User(2), event.Creator())
		assert.Contains(c.FriendIDs(), int64(2))
	})

	t.Run("event without creator is dropped", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutEvent(model.EventSnapshot{ID: 10, Name: "picnic"})
		assert.Nil(c.Event(10))
	})

	t.Run("update never rebinds the creator", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		creator := friendSnapshot(2, "ann")
		c.PutEvent(model.EventSnapshot{ID: 10, Name: "picnic", Creator: &creator})

		other := friendSnapshot(3, "bob")
		c.PutEvent(model.EventSnapshot{ID: 10, Name: "lunch", Creator: &other})
		event := c.Event(10)
		assert.Equal("lunch", event.Name())
		assert.Equal(int64(2), event.Creator().ID())
	})
}

func TestEventCategories(t *testing.T) {
	assert := assert.New(t)
	c, _, _ := newTestCache(t)

	self := c.Self().Snapshot()
	now := time.Now()
	c.PutEvents([]model.EventSnapshot{
		{ID: 10, Name: "running", Creator: &self, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)},
		{ID: 11, Name: "done", Creator: &self, StartsAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Hour)},
	})
	ann := friendSnapshot(2, "ann")
	c.PutEvent(model.EventSnapshot{
		ID: 12, Name: "theirs", Creator: &ann,
		StartsAt: now.Add(time.Hour), EndsAt: now.Add(2 * time.Hour),
		ParticipantIDs: []int64{testSelfID},
	})

	live := c.LiveEvents()
	assert.Len(live, 1)
	assert.Equal(int64(10), live[0].ID())

	assert.Len(c.MyEvents(), 2)

	participating := c.ParticipatingEvents()
	assert.Len(participating, 1)
	assert.Equal(int64(12), participating[0].ID())
}

func TestFilters(t *testing.T) {
	assert := assert.New(t)

	t.Run("new filters get ids assigned", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutFilter(model.FilterSnapshot{ID: model.NoID, Name: "close"})
		c.PutFilter(model.FilterSnapshot{ID: model.NoID, Name: "work"})

		customs := c.CustomFilters()
		assert.Len(customs, 2)
		assert.NotEqual(customs[0].ID(), customs[1].ID())
		assert.NotEqual(model.DefaultFilterID, customs[0].ID())
	})

	t.Run("default filter cannot be removed", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.RemoveFilter(model.DefaultFilterID)
		assert.NotNil(c.DefaultFilter())
	})

	t.Run("stored ids advance the allocator", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutFilter(model.FilterSnapshot{ID: 7, Name: "stored"})
		c.PutFilter(model.FilterSnapshot{ID: model.NoID, Name: "fresh"})
		assert.NotNil(c.Filter(8))
	})
}

func TestAllVisibleFriends(t *testing.T) {
	assert := assert.New(t)

	visibleIDs := func(c *Cache) []int64 {
		friends := c.AllVisibleFriends()
		ids := make([]int64, 0, len(friends))
		for _, f := range friends {
			ids = append(ids, f.ID())
		}
		return ids
	}

	t.Run("no custom filters means all friends", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutUsers([]model.UserSnapshot{friendSnapshot(2, "ann"), friendSnapshot(3, "bob")})
		assert.ElementsMatch([]int64{2, 3}, visibleIDs(c))
	})

	t.Run("active filters intersect", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutUsers([]model.UserSnapshot{friendSnapshot(2, "ann"), friendSnapshot(3, "bob"), friendSnapshot(4, "cat")})
		c.PutFilter(model.FilterSnapshot{ID: model.NoID, Name: "a", Active: true, FriendIDs: []int64{2, 3}})
		c.PutFilter(model.FilterSnapshot{ID: model.NoID, Name: "b", Active: true, FriendIDs: []int64{3, 4}})
		assert.ElementsMatch([]int64{3}, visibleIDs(c))
	})

	t.Run("inactive filters do not constrain", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutUsers([]model.UserSnapshot{friendSnapshot(2, "ann"), friendSnapshot(3, "bob")})
		c.PutFilter(model.FilterSnapshot{ID: model.NoID, Name: "a", Active: false, FriendIDs: []int64{2}})
		assert.ElementsMatch([]int64{2, 3}, visibleIDs(c))
	})

	t.Run("an active empty filter hides everyone", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutUsers([]model.UserSnapshot{friendSnapshot(2, "ann")})
		c.PutFilter(model.FilterSnapshot{ID: model.NoID, Name: "nobody", Active: true})
		assert.Empty(visibleIDs(c))
	})
}

func TestPutInvitations(t *testing.T) {
	assert := assert.New(t)
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("friend invitation cascades the user", func(t *testing.T) {
		c, store, _ := newTestCache(t)
		ann := model.UserSnapshot{ID: 2, Name: "ann"}
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.FriendInvitation, User: &ann, CreatedAt: createdAt,
		})

		invitations := c.AllInvitations()
		assert.Len(invitations, 1)
		assert.Same(c.User(2), invitations[0].User())
		assert.Contains(store.pending, int64(2))
	})

	t.Run("duplicate pulls do not duplicate", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		ann := model.UserSnapshot{ID: 2, Name: "ann"}
		snap := model.InvitationSnapshot{
			ID: model.NoID, Type: model.FriendInvitation, User: &ann, CreatedAt: createdAt,
		}
		c.PutInvitation(snap)
		c.PutInvitation(snap)
		assert.Len(c.AllInvitations(), 1)
	})

	t.Run("accepted invitation makes a friend and acks", func(t *testing.T) {
		c, _, client := newTestCache(t)
		ann := model.UserSnapshot{ID: 2, Name: "ann"}
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.AcceptedFriendInvitation, User: &ann, CreatedAt: createdAt,
		})

		assert.Equal(model.RelationshipFriend, c.User(2).Relationship())
		awaitCalls(t, client, "AckAcceptedInvitation", 1)
	})

	t.Run("event invitation cascades the event and acks", func(t *testing.T) {
		c, _, client := newTestCache(t)
		ann := friendSnapshot(2, "ann")
		event := model.EventSnapshot{ID: 10, Name: "picnic", Creator: &ann}
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.EventInvitation, Event: &event, CreatedAt: createdAt,
		})

		assert.NotNil(c.Event(10))
		awaitCalls(t, client, "AckEventInvitation", 1)
	})

	t.Run("unresolvable invitations are dropped", func(t *testing.T) {
		c, _, _ := newTestCache(t)
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.FriendInvitation, CreatedAt: createdAt,
		})
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.EventInvitation, CreatedAt: createdAt,
		})
		assert.Empty(c.AllInvitations())
	})

	t.Run("dropped invitations are neither acked nor recorded", func(t *testing.T) {
		c, store, client := newTestCache(t)
		orphan := model.EventSnapshot{ID: 10, Name: "picnic"}
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.EventInvitation, Event: &orphan, CreatedAt: createdAt,
		})

		assert.Empty(c.AllInvitations())
		assert.Empty(store.invitations)

		// The next pull carries the creator, so the same invitation now
		// resolves and is acknowledged for the first time.
		ann := friendSnapshot(2, "ann")
		event := model.EventSnapshot{ID: 10, Name: "picnic", Creator: &ann}
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.EventInvitation, Event: &event, CreatedAt: createdAt,
		})

		assert.Len(c.AllInvitations(), 1)
		awaitCalls(t, client, "AckEventInvitation", 1)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(0, client.count("AckAcceptedInvitation"))
		assert.Equal(1, client.count("AckEventInvitation"))
	})

	t.Run("invitations reloaded from the store are not re-acked", func(t *testing.T) {
		c, store, client := newTestCache(t)
		ann := model.UserSnapshot{ID: 2, Name: "ann", Relationship: model.RelationshipFriend}
		store.UpsertUser(ann)
		store.UpsertInvitation(model.InvitationSnapshot{
			ID: 1, Type: model.AcceptedFriendInvitation, User: &ann, CreatedAt: createdAt,
		})

		err := c.InitFromStore()
		assert.Nil(err)
		assert.Len(c.AllInvitations(), 1)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(0, client.count("AckAcceptedInvitation"))
	})
}

func TestReadAllInvitations(t *testing.T) {
	assert := assert.New(t)
	c, _, _ := newTestCache(t)
	ann := model.UserSnapshot{ID: 2, Name: "ann"}
	c.PutInvitation(model.InvitationSnapshot{
		ID: model.NoID, Type: model.FriendInvitation, User: &ann, CreatedAt: time.Now(),
	})

	c.ReadAllInvitations()
	for _, invitation := range c.AllInvitations() {
		assert.Equal(model.InvitationRead, invitation.Status())
	}
}

func TestInvitationOrdering(t *testing.T) {
	assert := assert.New(t)
	c, _, _ := newTestCache(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, createdAt := range []time.Time{base, base.Add(time.Hour), base} {
		user := model.UserSnapshot{ID: int64(10 + i), Name: "u"}
		c.PutInvitation(model.InvitationSnapshot{
			ID: model.NoID, Type: model.FriendInvitation, User: &user, CreatedAt: createdAt,
		})
	}

	invitations := c.AllInvitations()
	assert.Len(invitations, 3)
	assert.Equal(base.Add(time.Hour), invitations[0].CreatedAt())
	assert.True(invitations[1].ID() > invitations[2].ID())
}

func TestAcceptInvitation(t *testing.T) {
	assert := assert.New(t)
	c, store, client := newTestCache(t)
	ann := model.UserSnapshot{ID: 2, Name: "ann"}
	c.PutInvitation(model.InvitationSnapshot{
		ID: model.NoID, Type: model.FriendInvitation, User: &ann, CreatedAt: time.Now(),
	})
	id := c.AllInvitations()[0].ID()

	done := make(chan *Invitation, 1)
	c.AcceptInvitation(id, &Callback[*Invitation]{
		OnSuccess: func(invitation *Invitation) { done <- invitation },
		OnFailure: func(err error) { t.Errorf("accept failed: %v", err) },
	})

	select {
	case invitation := <-done:
		assert.Equal(model.InvitationAccepted, invitation.Status())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	assert.Equal(1, client.count("AcceptInvitation"))
	assert.Equal(model.RelationshipFriend, c.User(2).Relationship())
	assert.NotContains(store.pending, int64(2))
}

func TestAcceptInvitationUnknownID(t *testing.T) {
	assert := assert.New(t)
	c, _, _ := newTestCache(t)

	var failed error
	c.AcceptInvitation(42, &Callback[*Invitation]{
		OnFailure: func(err error) { failed = err },
	})
	assert.ErrorIs(failed, model.ErrorInvitationNotFound)
}

func TestRemoveFriends(t *testing.T) {
	assert := assert.New(t)
	c, _, client := newTestCache(t)
	c.PutUsers([]model.UserSnapshot{friendSnapshot(2, "ann"), friendSnapshot(3, "bob")})

	done := make(chan []int64, 1)
	c.RemoveFriends([]int64{2, 3, 4}, &Callback[[]int64]{
		OnSuccess: func(removed []int64) { done <- removed },
		OnFailure: func(err error) { t.Errorf("remove failed: %v", err) },
	})

	select {
	case removed := <-done:
		assert.ElementsMatch([]int64{2, 3}, removed)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for removal")
	}

	// One gateway call per friend actually present, none for unknown ids.
	assert.Equal(2, client.count("RemoveFriend"))
	assert.Nil(c.User(2))
	assert.Nil(c.User(3))
}

func TestSetBlockedStatus(t *testing.T) {
	assert := assert.New(t)
	c, _, client := newTestCache(t)
	c.PutUser(friendSnapshot(2, "ann"))

	done := make(chan *User, 1)
	c.SetBlockedStatus(2, true, &Callback[*User]{
		OnSuccess: func(user *User) { done <- user },
		OnFailure: func(err error) { t.Errorf("block failed: %v", err) },
	})

	select {
	case user := <-done:
		assert.Equal(model.RelationshipBlocked, user.Relationship())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for block")
	}
	assert.Equal(1, client.count("BlockFriend"))
	assert.NotContains(c.FriendIDs(), int64(2))
}

func TestCreateEvent(t *testing.T) {
	assert := assert.New(t)
	c, _, _ := newTestCache(t)

	done := make(chan *Event, 1)
	c.CreateEvent(model.EventSnapshot{ID: model.NoID, Name: "picnic"}, &Callback[*Event]{
		OnSuccess: func(event *Event) { done <- event },
		OnFailure: func(err error) { t.Errorf("create failed: %v", err) },
	})

	select {
	case event := <-done:
		assert.Equal(int64(500), event.ID())
		assert.Equal(testSelfID, event.Creator().ID())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create")
	}
}

func TestCreateEventValidation(t *testing.T) {
	assert := assert.New(t)
	c, _, client := newTestCache(t)

	var failed error
	c.CreateEvent(model.EventSnapshot{ID: model.NoID}, &Callback[*Event]{
		OnFailure: func(err error) { failed = err },
	})
	assert.ErrorIs(failed, model.ErrorEmptyName)
	assert.Equal(0, client.count("CreateEvent"))
}

func TestInitFromStore(t *testing.T) {
	assert := assert.New(t)
	c, store, _ := newTestCache(t)

	ann := friendSnapshot(2, "ann")
	store.UpsertUser(ann)
	store.UpsertEvent(model.EventSnapshot{ID: 10, Name: "picnic", Creator: &ann})
	store.UpsertFilter(model.FilterSnapshot{ID: 5, Name: "close", Active: true, FriendIDs: []int64{2}})

	err := c.InitFromStore()
	assert.Nil(err)
	assert.NotNil(c.User(2))
	assert.NotNil(c.Event(10))
	assert.NotNil(c.Filter(5))
	assert.NotNil(c.Self())
	assert.Contains(c.FriendIDs(), int64(2))
}

func TestUpdateFromNetwork(t *testing.T) {
	assert := assert.New(t)

	t.Run("failure leaves the cache untouched", func(t *testing.T) {
		c, _, client := newTestCache(t)
		c.PutUsers([]model.UserSnapshot{friendSnapshot(2, "ann"), friendSnapshot(3, "bob")})

		client.failing = errors.New("boom")
		err := c.UpdateFromNetwork()
		assert.NotNil(err)
		assert.NotNil(c.User(2))
		assert.NotNil(c.User(3))
		assert.Len(c.AllFriends(), 2)
	})

	t.Run("success keeps only the fetched set", func(t *testing.T) {
		c, _, client := newTestCache(t)
		c.PutUsers([]model.UserSnapshot{friendSnapshot(2, "ann"), friendSnapshot(3, "bob")})

		client.userInfo = func(id int64) (model.UserSnapshot, error) {
			return model.UserSnapshot{ID: id, Name: "fresh"}, nil
		}
		client.friendIDs = func() ([]int64, error) { return []int64{2}, nil }
		client.friendPositions = func() ([]model.UserSnapshot, error) {
			return []model.UserSnapshot{{ID: 2, Position: model.Position{Latitude: 1, Longitude: 2, At: time.Now()}}}, nil
		}

		err := c.UpdateFromNetwork()
		assert.Nil(err)

		assert.NotNil(c.Self())
		assert.NotNil(c.User(2))
		assert.Nil(c.User(3))
		assert.ElementsMatch([]int64{2}, c.FriendIDs())
		assert.Equal(float64(1), c.User(2).Position().Latitude)
	})

	t.Run("blocked users survive", func(t *testing.T) {
		c, _, client := newTestCache(t)
		c.PutUser(model.UserSnapshot{ID: 4, Name: "mallory", Relationship: model.RelationshipBlocked})

		client.userInfo = func(id int64) (model.UserSnapshot, error) {
			return model.UserSnapshot{ID: id, Name: "fresh"}, nil
		}
		client.friendIDs = func() ([]int64, error) { return nil, nil }
		client.friendPositions = func() ([]model.UserSnapshot, error) { return nil, nil }

		err := c.UpdateFromNetwork()
		assert.Nil(err)
		mallory := c.User(4)
		assert.NotNil(mallory)
		assert.Equal(model.RelationshipBlocked, mallory.Relationship())
	})
}

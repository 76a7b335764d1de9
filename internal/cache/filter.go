package cache

import (
	"sort"

	"uk.co.dudmesh.waypoint/internal/model"
)

// Filter is the single live instance for a visibility filter. The default
// filter (model.DefaultFilterID) always exists, can never be removed, and
// its friend set is maintained by the Cache to mirror the friend-id set.
type Filter struct {
	id        int64
	name      string
	active    bool
	friendIDs map[int64]struct{}
}

func newFilter(c model.FilterSnapshot) *Filter {
	friendIDs := make(map[int64]struct{}, len(c.FriendIDs))
	for _, id := range c.FriendIDs {
		friendIDs[id] = struct{}{}
	}
	return &Filter{
		id:        c.ID,
		name:      c.Name,
		active:    c.Active,
		friendIDs: friendIDs,
	}
}

func (f *Filter) ID() int64       { return f.id }
func (f *Filter) Name() string    { return f.name }
func (f *Filter) IsActive() bool  { return f.active }
func (f *Filter) IsDefault() bool { return f.id == model.DefaultFilterID }

func (f *Filter) FriendIDs() []int64 {
	ids := make([]int64, 0, len(f.friendIDs))
	for id := range f.friendIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *Filter) Allows(userID int64) bool {
	_, ok := f.friendIDs[userID]
	return ok
}

func (f *Filter) Snapshot() model.FilterSnapshot {
	return model.FilterSnapshot{
		ID:        f.id,
		Name:      f.name,
		Active:    f.active,
		FriendIDs: f.FriendIDs(),
	}
}

// update applies field deltas. The default filter's friend set belongs to
// the Cache's friend bookkeeping, so containers never overwrite it.
func (f *Filter) update(c model.FilterSnapshot) bool {
	changed := false
	if c.Name != "" && c.Name != f.name {
		f.name = c.Name
		changed = true
	}
	if c.Active != f.active {
		f.active = c.Active
		changed = true
	}
	if !f.IsDefault() && !sameIDSet(f.friendIDs, c.FriendIDs) {
		friendIDs := make(map[int64]struct{}, len(c.FriendIDs))
		for _, id := range c.FriendIDs {
			friendIDs[id] = struct{}{}
		}
		f.friendIDs = friendIDs
		changed = true
	}
	return changed
}

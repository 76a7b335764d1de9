// Package refresh keeps the cache current in the background: a fast loop
// pulling friend positions and a slower loop pulling invitations and
// running a full resync.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.waypoint/internal/model"
)

type Cache interface {
	PutUsers([]model.UserSnapshot)
	PutInvitations([]model.InvitationSnapshot)
	RemoveUsers([]int64)
	UpdateFromNetwork() error
}

type Client interface {
	FriendPositions() ([]model.UserSnapshot, error)
	Invitations() (model.InvitationBag, error)
	EventInvitations() ([]model.InvitationSnapshot, error)
	AckRemovedFriend(id int64) error
}

type service struct {
	cache  Cache
	client Client

	positionInterval time.Duration
	fullInterval     time.Duration

	mu      sync.Mutex
	enabled bool
}

func New(cache Cache, client Client, positionInterval, fullInterval time.Duration) *service {
	return &service{
		cache:            cache,
		client:           client,
		positionInterval: positionInterval,
		fullInterval:     fullInterval,
		enabled:          true,
	}
}

// SetEnabled pauses or resumes the loops. Toggling takes effect at each
// loop's next tick; a pull already in flight completes.
func (s *service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *service) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Run blocks until ctx is cancelled.
func (s *service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.positionInterval, s.pullPositions)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.fullInterval, s.pullInvitationsAndResync)
	}()
	wg.Wait()
}

func (s *service) loop(ctx context.Context, interval time.Duration, pull func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.isEnabled() {
				continue
			}
			pull()
		}
	}
}

func (s *service) pullPositions() {
	positions, err := s.client.FriendPositions()
	if err != nil {
		log.Errorf("refresh: pulling friend positions: %v", err)
		return
	}
	for i := range positions {
		positions[i].Relationship = model.RelationshipFriend
	}
	s.cache.PutUsers(positions)
}

func (s *service) pullInvitationsAndResync() {
	bag, err := s.client.Invitations()
	if err != nil {
		log.Errorf("refresh: pulling invitations: %v", err)
	} else {
		s.cache.PutInvitations(bag.Invitations)
		if len(bag.RemovedFriendIDs) > 0 {
			s.cache.RemoveUsers(bag.RemovedFriendIDs)
			for _, id := range bag.RemovedFriendIDs {
				if err := s.client.AckRemovedFriend(id); err != nil {
					log.Errorf("refresh: acking removed friend %d: %v", id, err)
				}
			}
		}
	}

	eventInvitations, err := s.client.EventInvitations()
	if err != nil {
		log.Errorf("refresh: pulling event invitations: %v", err)
	} else {
		s.cache.PutInvitations(eventInvitations)
	}

	if err := s.cache.UpdateFromNetwork(); err != nil {
		log.Errorf("refresh: full resync: %v", err)
	}
}

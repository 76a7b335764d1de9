// Package handlers exposes the cache to a local UI frontend over HTTP.
// Read endpoints serve straight from the cache; mutating endpoints bridge
// the cache's asynchronous completion onto the HTTP response.
package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.waypoint/internal/cache"
	"uk.co.dudmesh.waypoint/internal/model"
)

const completionTimeout = 45 * time.Second

type CacheService interface {
	Self() *cache.User
	User(id int64) *cache.User
	AllUsers() []*cache.User
	AllFriends() []*cache.User
	AllVisibleFriends() []*cache.User
	Event(id int64) *cache.Event
	AllEvents() []*cache.Event
	LiveEvents() []*cache.Event
	MyEvents() []*cache.Event
	NearEvents() []*cache.Event
	ParticipatingEvents() []*cache.Event
	AllFilters() []*cache.Filter
	PutFilter(model.FilterSnapshot)
	RemoveFilter(id int64)
	AllInvitations() []*cache.Invitation
	ReadAllInvitations()
	RefreshUser(id int64)

	AcceptInvitation(id int64, cb *cache.Callback[*cache.Invitation])
	DeclineInvitation(id int64, cb *cache.Callback[*cache.Invitation])
	CreateEvent(snap model.EventSnapshot, cb *cache.Callback[*cache.Event])
	ModifyOwnEvent(snap model.EventSnapshot, cb *cache.Callback[*cache.Event])
	JoinEvent(id int64, cb *cache.Callback[*cache.Event])
	LeaveEvent(id int64, cb *cache.Callback[*cache.Event])
	InviteUsersToEvent(eventID int64, userIDs []int64, cb *cache.Callback[*cache.Event])
	InviteUser(id int64, cb *cache.Callback[int64])
	SetBlockedStatus(id int64, blocked bool, cb *cache.Callback[*cache.User])
	RemoveFriends(ids []int64, cb *cache.Callback[[]int64])
	UpdateSelfPosition(position model.Position, cb *cache.Callback[*cache.User])
	FindUsers(text string, cb *cache.Callback[[]model.UserSnapshot])
}

type outcome[T any] struct {
	result T
	err    error
}

// await builds a callback that forwards its single completion to the
// returned channel.
func await[T any]() (*cache.Callback[T], chan outcome[T]) {
	done := make(chan outcome[T], 1)
	cb := &cache.Callback[T]{
		OnSuccess: func(result T) { done <- outcome[T]{result: result} },
		OnFailure: func(err error) { done <- outcome[T]{err: err} },
	}
	return cb, done
}

func respond[T any](c echo.Context, done chan outcome[T], encode func(T) any) error {
	select {
	case out := <-done:
		if out.err != nil {
			return httpError(out.err)
		}
		return c.JSON(http.StatusOK, encode(out.result))
	case <-time.After(completionTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "operation timed out")
	}
}

func httpError(err error) error {
	switch err {
	case model.ErrorUserNotFound, model.ErrorEventNotFound, model.ErrorInvitationNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case model.ErrorInvalidID, model.ErrorEmptyName, model.ErrorNoParticipants:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func userSnapshots(users []*cache.User) []model.UserSnapshot {
	snaps := make([]model.UserSnapshot, 0, len(users))
	for _, user := range users {
		snaps = append(snaps, user.Snapshot())
	}
	return snaps
}

func eventSnapshots(events []*cache.Event) []model.EventSnapshot {
	snaps := make([]model.EventSnapshot, 0, len(events))
	for _, event := range events {
		snaps = append(snaps, event.Snapshot())
	}
	return snaps
}

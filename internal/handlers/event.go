package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.waypoint/internal/cache"
	"uk.co.dudmesh.waypoint/internal/model"
)

func GetEvent(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		event := service.Event(id)
		if event == nil {
			return echo.NewHTTPError(http.StatusNotFound, model.ErrorEventNotFound.Error())
		}
		return c.JSON(http.StatusOK, event.Snapshot())
	}
}

func ListEvents(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var events []*cache.Event
		switch c.QueryParam("scope") {
		case "live":
			events = service.LiveEvents()
		case "mine":
			events = service.MyEvents()
		case "near":
			events = service.NearEvents()
		case "participating":
			events = service.ParticipatingEvents()
		default:
			events = service.AllEvents()
		}
		return c.JSON(http.StatusOK, eventSnapshots(events))
	}
}

func CreateEvent(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap := model.EventSnapshot{}
		if err := c.Bind(&snap); err != nil {
			return err
		}
		snap.ID = model.NoID
		cb, done := await[*cache.Event]()
		service.CreateEvent(snap, cb)
		return respond(c, done, func(event *cache.Event) any { return event.Snapshot() })
	}
}

func UpdateEvent(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		snap := model.EventSnapshot{}
		if err := c.Bind(&snap); err != nil {
			return err
		}
		snap.ID = id
		cb, done := await[*cache.Event]()
		service.ModifyOwnEvent(snap, cb)
		return respond(c, done, func(event *cache.Event) any { return event.Snapshot() })
	}
}

func SetParticipation(service CacheService, join bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		cb, done := await[*cache.Event]()
		if join {
			service.JoinEvent(id, cb)
		} else {
			service.LeaveEvent(id, cb)
		}
		return respond(c, done, func(event *cache.Event) any { return event.Snapshot() })
	}
}

func InviteToEvent(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		params := struct {
			UserIDs []int64 `json:"userIds"`
		}{}
		if err := c.Bind(&params); err != nil {
			return err
		}
		cb, done := await[*cache.Event]()
		service.InviteUsersToEvent(id, params.UserIDs, cb)
		return respond(c, done, func(event *cache.Event) any { return event.Snapshot() })
	}
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.waypoint/internal/cache"
	"uk.co.dudmesh.waypoint/internal/model"
)

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func GetSelf(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		self := service.Self()
		if self == nil {
			return echo.NewHTTPError(http.StatusNotFound, model.ErrorUserNotFound.Error())
		}
		return c.JSON(http.StatusOK, self.Snapshot())
	}
}

func GetUser(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		user := service.User(id)
		if user == nil {
			return echo.NewHTTPError(http.StatusNotFound, model.ErrorUserNotFound.Error())
		}
		return c.JSON(http.StatusOK, user.Snapshot())
	}
}

func ListUsers(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, userSnapshots(service.AllUsers()))
	}
}

func ListFriends(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.QueryParam("scope") == "visible" {
			return c.JSON(http.StatusOK, userSnapshots(service.AllVisibleFriends()))
		}
		return c.JSON(http.StatusOK, userSnapshots(service.AllFriends()))
	}
}

func RefreshUser(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		service.RefreshUser(id)
		return c.NoContent(http.StatusAccepted)
	}
}

func FindUsers(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := struct {
			Text string `json:"text"`
		}{}
		if err := c.Bind(&params); err != nil {
			return err
		}
		cb, done := await[[]model.UserSnapshot]()
		service.FindUsers(params.Text, cb)
		return respond(c, done, func(found []model.UserSnapshot) any { return found })
	}
}

func InviteUser(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		cb, done := await[int64]()
		service.InviteUser(id, cb)
		return respond(c, done, func(id int64) any {
			return map[string]int64{"id": id}
		})
	}
}

func SetBlockedStatus(service CacheService, blocked bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		cb, done := await[*cache.User]()
		service.SetBlockedStatus(id, blocked, cb)
		return respond(c, done, func(user *cache.User) any { return user.Snapshot() })
	}
}

func RemoveFriends(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := struct {
			IDs []int64 `json:"ids"`
		}{}
		if err := c.Bind(&params); err != nil {
			return err
		}
		cb, done := await[[]int64]()
		service.RemoveFriends(params.IDs, cb)
		return respond(c, done, func(removed []int64) any {
			return map[string][]int64{"removed": removed}
		})
	}
}

func UpdatePosition(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		position := model.Position{}
		if err := c.Bind(&position); err != nil {
			return err
		}
		cb, done := await[*cache.User]()
		service.UpdateSelfPosition(position, cb)
		return respond(c, done, func(self *cache.User) any { return self.Snapshot() })
	}
}

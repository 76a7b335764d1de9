package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.waypoint/internal/model"
)

func ListFilters(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		filters := service.AllFilters()
		snaps := make([]model.FilterSnapshot, 0, len(filters))
		for _, filter := range filters {
			snaps = append(snaps, filter.Snapshot())
		}
		return c.JSON(http.StatusOK, snaps)
	}
}

func CreateFilter(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		snap := model.FilterSnapshot{}
		if err := c.Bind(&snap); err != nil {
			return err
		}
		if snap.Name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, model.ErrorEmptyName.Error())
		}
		snap.ID = model.NoID
		service.PutFilter(snap)
		return c.NoContent(http.StatusCreated)
	}
}

func UpdateFilter(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		snap := model.FilterSnapshot{}
		if err := c.Bind(&snap); err != nil {
			return err
		}
		snap.ID = id
		service.PutFilter(snap)
		return c.NoContent(http.StatusOK)
	}
}

// DeleteFilter removes a custom filter. The default filter cannot be
// deleted.
func DeleteFilter(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		if id == model.DefaultFilterID {
			return echo.NewHTTPError(http.StatusBadRequest, "default filter cannot be deleted")
		}
		service.RemoveFilter(id)
		return c.NoContent(http.StatusOK)
	}
}

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type RefreshService interface {
	SetEnabled(enabled bool)
}

// SetRefreshEnabled pauses or resumes the background refresh loops, for a
// frontend that wants to stop polling while it is hidden.
func SetRefreshEnabled(service RefreshService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := struct {
			Enabled bool `json:"enabled"`
		}{}
		if err := c.Bind(&params); err != nil {
			return err
		}
		service.SetEnabled(params.Enabled)
		return c.NoContent(http.StatusOK)
	}
}

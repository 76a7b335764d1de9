package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.waypoint/internal/cache"
	"uk.co.dudmesh.waypoint/internal/model"
)

func ListInvitations(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		invitations := service.AllInvitations()
		snaps := make([]model.InvitationSnapshot, 0, len(invitations))
		for _, invitation := range invitations {
			snaps = append(snaps, invitation.Snapshot())
		}
		return c.JSON(http.StatusOK, snaps)
	}
}

func ReadAllInvitations(service CacheService) echo.HandlerFunc {
	return func(c echo.Context) error {
		service.ReadAllInvitations()
		return c.NoContent(http.StatusOK)
	}
}

func AnswerInvitation(service CacheService, accept bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return err
		}
		cb, done := await[*cache.Invitation]()
		if accept {
			service.AcceptInvitation(id, cb)
		} else {
			service.DeclineInvitation(id, cb)
		}
		return respond(c, done, func(invitation *cache.Invitation) any {
			return invitation.Snapshot()
		})
	}
}

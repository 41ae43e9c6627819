package http

import (
	"net/http"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/pkg/errors"
	"voicemesh/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes read-only room state plus the per-channel screen-share
// flag toggle. Voice traffic itself never touches these routes.
type RoomHandler struct {
	rooms ports.RoomService
	flags ports.FlagService
}

func NewRoomHandler(rooms ports.RoomService, flags ports.FlagService) *RoomHandler {
	return &RoomHandler{rooms: rooms, flags: flags}
}

func (h *RoomHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id", h.GetRoom)
	api.PUT("/rooms/:id/flags/screen_share", h.SetScreenShareFlag)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.Rooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	if err := validation.ValidateRoomCode(string(roomID)); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	roster, err := h.rooms.Roster(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	sharers, err := h.rooms.Sharers(c.Request.Context(), roomID)
	if err != nil {
		sharers = nil
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           roomID,
		"participants": roster,
		"sharers":      sharers,
		"count":        len(roster),
	})
}

type screenShareFlagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *RoomHandler) SetScreenShareFlag(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	if err := validation.ValidateRoomCode(string(roomID)); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var req screenShareFlagRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := h.flags.SetScreenShareEnabled(c.Request.Context(), roomID, *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update flag"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": roomID, "screen_share_enabled": *req.Enabled})
}

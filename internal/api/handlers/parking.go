package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/txn"
)

// startParkingRequest 入场请求体
type startParkingRequest struct {
	LicensePlate string `json:"licensePlate" binding:"required,max=16"`
}

// FreeParkingSpaces 空闲车位
// GET /api/freeParkingSpaces
func (h *Handler) FreeParkingSpaces(c *gin.Context) {
	snapshot, err := h.parking.FreeSpaces(c.Request.Context(), txn.From(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetStatus 用户状态
// GET /api/user/:userID/status
func (h *Handler) GetStatus(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	status, err := h.parking.ResolveStatus(c.Request.Context(), txn.From(c), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ListCurrentBans 用户当前生效的封禁
// GET /api/user/:userID/ban
func (h *Handler) ListCurrentBans(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	bans, err := h.parking.CurrentBans(c.Request.Context(), txn.From(c), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"currentBans": bans})
}

// ListRecentVehicles 最近使用的车辆
// GET /api/user/:userID/recentVehicles
func (h *Handler) ListRecentVehicles(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	vehicles, err := h.parking.RecentVehicles(c.Request.Context(), txn.From(c), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recentVehicles": vehicles})
}

// ListParkingEvents 已结束的停车记录
// GET /api/user/:userID/parkingEvents
func (h *Handler) ListParkingEvents(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	events, err := h.parking.History(c.Request.Context(), txn.From(c), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"parkingEvents": events})
}

// StartParking 入场
// POST /api/user/:userID/parkingEvents
func (h *Handler) StartParking(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req startParkingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(http.StatusBadRequest, "Invalid request body"))
		return
	}

	tx := txn.From(c)
	event, err := h.parking.Admit(c.Request.Context(), tx, userID, req.LicensePlate)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.broadcastAfterCommit(c, tx)
	c.JSON(http.StatusCreated, event)
}

// GetCurrentParkingEvent 进行中的停车，没有时返回 204
// GET /api/user/:userID/parkingEvents/current
func (h *Handler) GetCurrentParkingEvent(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	event, err := h.parking.CurrentEvent(c.Request.Context(), txn.From(c), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if event == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, event)
}

// EndParking 出场
// PATCH /api/user/:userID/parkingEvents/current/end
func (h *Handler) EndParking(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	tx := txn.From(c)
	event, err := h.parking.Exit(c.Request.Context(), tx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.broadcastAfterCommit(c, tx)
	c.JSON(http.StatusOK, event)
}

// GetParkingEvent 停车详情
// GET /api/user/:userID/parkingEvents/:parkingEventID
func (h *Handler) GetParkingEvent(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	eventID, ok := parseUUIDParam(c, "parkingEventID", "Invalid parking event ID")
	if !ok {
		return
	}

	event, err := h.parking.Event(c.Request.Context(), txn.From(c), userID, eventID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// GateStatus 道闸诊断
// GET /api/gates
func (h *Handler) GateStatus(c *gin.Context) {
	statuses := h.parking.GateStatus(c.Request.Context())
	for _, status := range statuses {
		if status.Error != "" {
			h.logger.Warn("Gate group unreachable", zap.String("group", string(status.Group)), zap.String("error", status.Error))
		}
	}

	c.JSON(http.StatusOK, gin.H{"gates": statuses})
}

package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/service"
	"github.com/langchou/truckpark/internal/txn"
	"github.com/langchou/truckpark/pkg/ws"
)

const (
	// APIKeyHeader 客户端携带 API key 的请求头
	APIKeyHeader = "apikey"
	// UserStatusHeaderName 用户状态响应头
	UserStatusHeaderName = "X-User-Status"

	snapshotTimeout = 2 * time.Second
)

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	parking  *service.ParkingService
	db       txn.Beginner
	wsHub    *ws.Hub
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器，gatherer 为 nil 时不暴露 /metrics
func NewHandler(
	logger *zap.Logger,
	parking *service.ParkingService,
	db txn.Beginner,
	wsHub *ws.Hub,
	gatherer prometheus.Gatherer,
) *Handler {
	return &Handler{
		logger:   logger,
		parking:  parking,
		db:       db,
		wsHub:    wsHub,
		gatherer: gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 看板页面与 API 不同源
			},
		},
	}
}

// UserStatusHeader 在 /api/user/:userID 的响应上附加用户状态，与请求使用同一事务
func (h *Handler) UserStatusHeader(c *gin.Context, tx pgx.Tx) {
	raw := c.Param("userID")
	if raw == "" {
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return
	}

	status, err := h.parking.ResolveStatus(c.Request.Context(), tx, userID)
	if err != nil {
		if !errors.Is(err, service.ErrUserNotFound) {
			h.logger.Warn("Failed to resolve user status header", zap.String("user_id", raw), zap.Error(err))
		}
		return
	}

	data, err := json.Marshal(status)
	if err != nil {
		h.logger.Warn("Failed to marshal user status header", zap.Error(err))
		return
	}
	c.Header(UserStatusHeaderName, string(data))
}

// FreeSpacesSnapshot 在只读事务中读取空闲车位，用作 WebSocket 初始数据
func (h *Handler) FreeSpacesSnapshot() interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	tx, err := h.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		h.logger.Error("Failed to begin snapshot transaction", zap.Error(err))
		return nil
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snapshot, err := h.parking.FreeSpaces(ctx, tx)
	if err != nil {
		h.logger.Error("Failed to count free parking spaces", zap.Error(err))
		return nil
	}
	return snapshot
}

// broadcastAfterCommit 提交成功后推送本事务内计算出的空闲车位
func (h *Handler) broadcastAfterCommit(c *gin.Context, tx pgx.Tx) {
	// 道闸已动作，查询失败不能连带事务
	snapshot, err := h.parking.FreeSpaces(context.WithoutCancel(c.Request.Context()), tx)
	if err != nil {
		h.logger.Warn("Failed to count free parking spaces for broadcast", zap.Error(err))
		return
	}
	txn.AfterCommit(c, func() {
		h.wsHub.BroadcastFreeSpaces(snapshot)
	})
}

// respondError 把服务层错误映射为 HTTP 响应
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		startDenied *service.StartDeniedError
		endDenied   *service.EndDeniedError
	)
	switch {
	case errors.As(err, &startDenied):
		c.JSON(http.StatusConflict, denialBody("cannot start parking event", startDenied.Reason))
	case errors.As(err, &endDenied):
		c.JSON(http.StatusConflict, denialBody("cannot end parking event", endDenied.Reason))
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrEventNotFound):
		c.JSON(http.StatusNotFound, errorBody(http.StatusNotFound, err.Error()))
	case errors.Is(err, service.ErrInvalidLicensePlate):
		c.JSON(http.StatusBadRequest, errorBody(http.StatusBadRequest, err.Error()))
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorBody(http.StatusInternalServerError, "An internal server error occurred"))
	}
}

func errorBody(status int, message string) gin.H {
	return gin.H{
		"statusCode": status,
		"error":      http.StatusText(status),
		"message":    message,
	}
}

func denialBody(message string, reason interface{}) gin.H {
	body := errorBody(http.StatusConflict, message)
	body["reason"] = reason
	return body
}

// parseUserID 解析路径中的用户 ID，失败时已写入 400
func parseUserID(c *gin.Context) (uuid.UUID, bool) {
	return parseUUIDParam(c, "userID", "Invalid user ID")
}

func parseUUIDParam(c *gin.Context, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(http.StatusBadRequest, message))
		return uuid.Nil, false
	}
	return id, true
}

// apiKeyAuth 校验 apikey 请求头
func apiKeyAuth(apiKey string) gin.HandlerFunc {
	expected := []byte(apiKey)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(APIKeyHeader))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(http.StatusUnauthorized, "API key missing or invalid"))
			return
		}
		c.Next()
	}
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	if !client.Register() {
		// 服务正在关闭
		_ = conn.Close()
		return
	}

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}

// metricsHandler Prometheus 指标
func (h *Handler) metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}

package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/api/gate"
	"github.com/langchou/truckpark/internal/models"
	"github.com/langchou/truckpark/internal/repository"
)

// ExitController 出场流程：先标记结束，道闸失败时由事务回滚撤销
type ExitController struct {
	logger *zap.Logger
	users  UserStore
	events ParkingEventStore
	gate   Gate
	now    Clock
}

// NewExitController 创建出场控制器
func NewExitController(logger *zap.Logger, users UserStore, events ParkingEventStore, g Gate, now Clock) *ExitController {
	return &ExitController{
		logger: logger,
		users:  users,
		events: events,
		gate:   g,
		now:    now,
	}
}

// Exit 结束用户进行中的停车
func (x *ExitController) Exit(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error) {
	if err := lockUser(ctx, tx, x.users, userID); err != nil {
		return nil, err
	}

	ended, err := x.events.EndActive(ctx, tx, userID, x.now())
	if err != nil {
		return nil, err
	}
	if ended == 0 {
		return nil, &EndDeniedError{Reason: models.EndNotParking}
	}

	present, err := x.gate.SensorState(ctx, gate.Exit, gate.InductionLoop)
	if err != nil {
		x.logger.Warn("Exit induction loop did not reply", zap.Error(err))
		return nil, &EndDeniedError{Reason: models.EndNoReplyFromGate}
	}
	if !present {
		return nil, &EndDeniedError{Reason: models.EndNoVehicleAtGate}
	}

	if err := x.gate.Actuate(ctx, gate.Exit, gate.Open); err != nil {
		x.logger.Warn("Failed to open exit gate", zap.Error(err))
		return nil, &EndDeniedError{Reason: models.EndNoReplyFromGate}
	}
	// 道闸已打开，之后的读取和提交不再随请求取消
	ctx = context.WithoutCancel(ctx)

	event, err := x.events.GetLatestEnded(ctx, tx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		x.logger.Error("Parking event ended but could not be read back", zap.String("user_id", userID.String()))
		return nil, ErrLostSession
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

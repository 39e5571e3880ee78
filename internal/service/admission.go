package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/api/gate"
	"github.com/langchou/truckpark/internal/models"
	"github.com/langchou/truckpark/internal/repository"
)

// AdmissionController 入场流程：先做所有软件可检查的条件，再读地感、开闸，最后落库
type AdmissionController struct {
	logger     *zap.Logger
	users      UserStore
	events     ParkingEventStore
	bans       BanStore
	status     *StatusResolver
	capacity   *CapacityCounter
	gate       Gate
	maxParking time.Duration
	now        Clock
}

// NewAdmissionController 创建入场控制器
func NewAdmissionController(
	logger *zap.Logger,
	users UserStore,
	events ParkingEventStore,
	bans BanStore,
	status *StatusResolver,
	capacity *CapacityCounter,
	g Gate,
	maxParking time.Duration,
	now Clock,
) *AdmissionController {
	return &AdmissionController{
		logger:     logger,
		users:      users,
		events:     events,
		bans:       bans,
		status:     status,
		capacity:   capacity,
		gate:       g,
		maxParking: maxParking,
		now:        now,
	}
}

var standingDenials = map[models.Standing]models.StartDenial{
	models.StandingBanned:   models.StartBanned,
	models.StandingCooldown: models.StartCooldown,
	models.StandingParking:  models.StartAlreadyParking,
}

// Admit 为用户开始一次停车
func (a *AdmissionController) Admit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, licensePlate string) (*models.ParkingEvent, error) {
	if err := lockUser(ctx, tx, a.users, userID); err != nil {
		return nil, err
	}

	status, err := a.status.Resolve(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if status.Standing != models.StandingIdle {
		return nil, &StartDeniedError{Reason: standingDenials[status.Standing]}
	}

	free, err := a.capacity.FreeSpaces(ctx, tx)
	if err != nil {
		return nil, err
	}
	if free == 0 {
		return nil, &StartDeniedError{Reason: models.StartAreaFull}
	}

	plate := models.NormalizeLicensePlate(licensePlate)
	if plate == "" || utf8.RuneCountInString(plate) > models.MaxLicensePlateLength {
		return nil, ErrInvalidLicensePlate
	}
	now := a.now()
	vehicleBans, err := a.bans.CurrentVehicleBans(ctx, tx, plate, now)
	if err != nil {
		return nil, err
	}
	if len(vehicleBans) > 0 {
		return nil, &StartDeniedError{Reason: models.StartVehicleBanned}
	}

	present, err := a.gate.SensorState(ctx, gate.Entry, gate.InductionLoop)
	if err != nil {
		a.logger.Warn("Entry induction loop did not reply", zap.Error(err))
		return nil, &StartDeniedError{Reason: models.StartNoReplyFromGate}
	}
	if !present {
		return nil, &StartDeniedError{Reason: models.StartNoVehicleAtGate}
	}

	if err := a.gate.Actuate(ctx, gate.Entry, gate.Open); err != nil {
		a.logger.Warn("Failed to open entry gate", zap.Error(err))
		return nil, &StartDeniedError{Reason: models.StartNoReplyFromGate}
	}
	// 道闸已打开，写入记录不再随请求取消
	ctx = context.WithoutCancel(ctx)

	event := &models.ParkingEvent{
		ID:           uuid.New(),
		UserID:       userID,
		LicensePlate: plate,
		StartTime:    now,
		ExpiryTime:   now.Add(a.maxParking),
	}
	if err := a.events.Create(ctx, tx, event); err != nil {
		// 道闸已打开，车辆会进入但没有记录
		a.logger.Error("Entry gate opened but parking event was not stored",
			zap.String("user_id", userID.String()),
			zap.String("license_plate", plate),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create parking event: %w", err)
	}

	return event, nil
}

// lockUser 锁定用户行，用户不存在时返回 ErrUserNotFound
func lockUser(ctx context.Context, tx pgx.Tx, users UserStore, userID uuid.UUID) error {
	err := users.LockForUpdate(ctx, tx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

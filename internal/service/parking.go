package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/api/gate"
	"github.com/langchou/truckpark/internal/config"
	"github.com/langchou/truckpark/internal/metrics"
	"github.com/langchou/truckpark/internal/models"
	"github.com/langchou/truckpark/internal/repository"
)

// ParkingService 停车服务，组合状态计算、车位计数和出入场控制
type ParkingService struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	users       UserStore
	events      ParkingEventStore
	bans        BanStore
	gate        Gate
	recentLimit int

	status    *StatusResolver
	capacity  *CapacityCounter
	admission *AdmissionController
	exit      *ExitController
}

// NewParkingService 创建停车服务
func NewParkingService(
	cfg config.Parking,
	logger *zap.Logger,
	m *metrics.Metrics,
	users UserStore,
	events ParkingEventStore,
	bans BanStore,
	g Gate,
	now Clock,
) *ParkingService {
	status := NewStatusResolver(users, events, bans, cfg.Cooldown, cfg.MaxParkingTime, now)
	capacity := NewCapacityCounter(events, cfg.SpacesCount)

	return &ParkingService{
		logger:      logger,
		metrics:     m,
		users:       users,
		events:      events,
		bans:        bans,
		gate:        g,
		recentLimit: cfg.RecentVehiclesLimit,
		status:      status,
		capacity:    capacity,
		admission:   NewAdmissionController(logger, users, events, bans, status, capacity, g, cfg.MaxParkingTime, now),
		exit:        NewExitController(logger, users, events, g, now),
	}
}

// ResolveStatus 计算用户状态
func (s *ParkingService) ResolveStatus(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.DerivedStatus, error) {
	return s.status.Resolve(ctx, tx, userID)
}

// FreeSpaces 空闲车位
func (s *ParkingService) FreeSpaces(ctx context.Context, tx pgx.Tx) (*models.CapacitySnapshot, error) {
	free, err := s.capacity.FreeSpaces(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &models.CapacitySnapshot{FreeSpaces: free}, nil
}

// Admit 入场
func (s *ParkingService) Admit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, licensePlate string) (*models.ParkingEvent, error) {
	event, err := s.admission.Admit(ctx, tx, userID, licensePlate)
	s.observe("admit", userID, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Parking event started",
		zap.String("user_id", userID.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("license_plate", event.LicensePlate),
	)
	return event, nil
}

// Exit 出场
func (s *ParkingService) Exit(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error) {
	event, err := s.exit.Exit(ctx, tx, userID)
	s.observe("exit", userID, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Parking event ended",
		zap.String("user_id", userID.String()),
		zap.String("event_id", event.ID.String()),
	)
	return event, nil
}

// observe 记录出入场结果，拒绝记 Info，其他错误记 Error
func (s *ParkingService) observe(op string, userID uuid.UUID, err error) {
	var (
		startDenied *StartDeniedError
		endDenied   *EndDeniedError
		outcome     string
	)
	switch {
	case err == nil:
		outcome = "ok"
	case errors.As(err, &startDenied):
		outcome = startDenied.Reason.String()
	case errors.As(err, &endDenied):
		outcome = endDenied.Reason.String()
	case errors.Is(err, ErrUserNotFound):
		outcome = "user_not_found"
	case errors.Is(err, ErrInvalidLicensePlate):
		outcome = "invalid_license_plate"
	default:
		outcome = "error"
		s.logger.Error("Parking request failed", zap.String("op", op), zap.String("user_id", userID.String()), zap.Error(err))
	}
	if startDenied != nil || endDenied != nil {
		s.logger.Info("Parking request denied", zap.String("op", op), zap.String("user_id", userID.String()), zap.String("reason", outcome))
	}
	s.metrics.ObserveParking(op, outcome)
}

// CurrentEvent 用户进行中的停车，没有时返回 nil
func (s *ParkingService) CurrentEvent(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error) {
	if err := requireUser(ctx, tx, s.users, userID); err != nil {
		return nil, err
	}
	event, err := s.events.GetActive(ctx, tx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Event 用户的某次停车
func (s *ParkingService) Event(ctx context.Context, tx pgx.Tx, userID, eventID uuid.UUID) (*models.ParkingEvent, error) {
	if err := requireUser(ctx, tx, s.users, userID); err != nil {
		return nil, err
	}
	event, err := s.events.GetByUserAndID(ctx, tx, userID, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// History 用户已结束的停车
func (s *ParkingService) History(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.ParkingEvent, error) {
	if err := requireUser(ctx, tx, s.users, userID); err != nil {
		return nil, err
	}
	return s.events.ListEndedByUser(ctx, tx, userID)
}

// CurrentBans 用户当前生效的封禁
func (s *ParkingService) CurrentBans(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]models.UserBan, error) {
	if err := requireUser(ctx, tx, s.users, userID); err != nil {
		return nil, err
	}
	return s.bans.CurrentUserBans(ctx, tx, userID, s.status.now())
}

// RecentVehicles 用户最近使用的车辆及其当前封禁
func (s *ParkingService) RecentVehicles(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]models.RecentVehicle, error) {
	if err := requireUser(ctx, tx, s.users, userID); err != nil {
		return nil, err
	}

	plates, err := s.events.RecentLicensePlates(ctx, tx, userID, s.recentLimit)
	if err != nil {
		return nil, err
	}

	now := s.status.now()
	vehicles := make([]models.RecentVehicle, 0, len(plates))
	for _, plate := range plates {
		bans, err := s.bans.CurrentVehicleBans(ctx, tx, plate, now)
		if err != nil {
			return nil, fmt.Errorf("vehicle bans for %s: %w", plate, err)
		}
		vehicles = append(vehicles, models.RecentVehicle{LicensePlate: plate, Bans: bans})
	}
	return vehicles, nil
}

// GateGroupStatus 一组道闸的诊断信息
type GateGroupStatus struct {
	Group          gate.Group `json:"group"`
	VehiclePresent *bool      `json:"vehiclePresent"`
	BoomMissing    []bool     `json:"boomMissing"`
	Error          string     `json:"error,omitempty"`
}

// GateStatus 读取入口和出口道闸状态，不开闸
func (s *ParkingService) GateStatus(ctx context.Context) []GateGroupStatus {
	groups := []gate.Group{gate.Entry, gate.Exit}
	statuses := make([]GateGroupStatus, 0, len(groups))

	for _, group := range groups {
		status := GateGroupStatus{Group: group}

		present, err := s.gate.SensorState(ctx, group, gate.InductionLoop)
		if err != nil {
			status.Error = err.Error()
			statuses = append(statuses, status)
			continue
		}
		status.VehiclePresent = &present

		booms, err := s.gate.BoomStates(ctx, group)
		if err != nil {
			status.Error = err.Error()
		}
		status.BoomMissing = booms
		statuses = append(statuses, status)
	}
	return statuses
}

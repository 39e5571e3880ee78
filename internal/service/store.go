package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/truckpark/internal/api/gate"
	"github.com/langchou/truckpark/internal/models"
)

// UserStore 用户存储
type UserStore interface {
	Exists(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

// ParkingEventStore 停车事件存储，未找到时返回 repository.ErrNotFound
type ParkingEventStore interface {
	Create(ctx context.Context, tx pgx.Tx, event *models.ParkingEvent) error
	GetByUserAndID(ctx context.Context, tx pgx.Tx, userID, id uuid.UUID) (*models.ParkingEvent, error)
	GetActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error)
	GetLatestEnded(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error)
	EndActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (int64, error)
	CountActive(ctx context.Context, tx pgx.Tx) (int, error)
	ListEndedByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.ParkingEvent, error)
	RecentLicensePlates(ctx context.Context, tx pgx.Tx, userID uuid.UUID, limit int) ([]string, error)
}

// BanStore 封禁存储
type BanStore interface {
	CurrentUserBans(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) ([]models.UserBan, error)
	CurrentVehicleBans(ctx context.Context, tx pgx.Tx, licensePlate string, now time.Time) ([]models.VehicleBan, error)
}

// Gate 道闸控制
type Gate interface {
	SensorState(ctx context.Context, group gate.Group, sensor gate.Sensor) (bool, error)
	Actuate(ctx context.Context, group gate.Group, direction gate.Direction) error
	BoomStates(ctx context.Context, group gate.Group) ([]bool, error)
}

// Clock 当前时间来源
type Clock func() time.Time

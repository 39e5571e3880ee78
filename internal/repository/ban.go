package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/truckpark/internal/models"
)

// BanRepository 封禁数据仓库
type BanRepository struct{}

// NewBanRepository 创建封禁仓库
func NewBanRepository() *BanRepository {
	return &BanRepository{}
}

// CurrentUserBans 获取用户在 now 时刻生效的封禁，结束时间最晚的在前
func (r *BanRepository) CurrentUserBans(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) ([]models.UserBan, error) {
	query := `
		SELECT id, user_id, reason, start_time, end_time
		FROM user_bans
		WHERE user_id = $1 AND start_time <= $2 AND end_time > $2
		ORDER BY end_time DESC
	`
	rows, err := tx.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list user bans: %w", err)
	}
	defer rows.Close()

	bans := []models.UserBan{}
	for rows.Next() {
		var ban models.UserBan
		if err := rows.Scan(&ban.ID, &ban.UserID, &ban.Reason, &ban.StartTime, &ban.EndTime); err != nil {
			return nil, fmt.Errorf("scan user ban: %w", err)
		}
		bans = append(bans, ban)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user bans: %w", err)
	}
	return bans, nil
}

// CurrentVehicleBans 获取车牌在 now 时刻生效的封禁，结束时间最晚的在前
func (r *BanRepository) CurrentVehicleBans(ctx context.Context, tx pgx.Tx, licensePlate string, now time.Time) ([]models.VehicleBan, error) {
	query := `
		SELECT id, license_plate, reason, start_time, end_time
		FROM vehicle_bans
		WHERE license_plate = $1 AND start_time <= $2 AND end_time > $2
		ORDER BY end_time DESC
	`
	rows, err := tx.Query(ctx, query, licensePlate, now)
	if err != nil {
		return nil, fmt.Errorf("list vehicle bans: %w", err)
	}
	defer rows.Close()

	bans := []models.VehicleBan{}
	for rows.Next() {
		var ban models.VehicleBan
		if err := rows.Scan(&ban.ID, &ban.LicensePlate, &ban.Reason, &ban.StartTime, &ban.EndTime); err != nil {
			return nil, fmt.Errorf("scan vehicle ban: %w", err)
		}
		bans = append(bans, ban)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list vehicle bans: %w", err)
	}
	return bans, nil
}

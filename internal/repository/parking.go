package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/truckpark/internal/models"
)

const parkingEventColumns = `id, user_id, license_plate, start_time, end_time, expiry_time, license_plate_matches`

// ParkingEventRepository 停车事件数据仓库，所有方法都在调用方的事务中执行
type ParkingEventRepository struct{}

// NewParkingEventRepository 创建停车事件仓库
func NewParkingEventRepository() *ParkingEventRepository {
	return &ParkingEventRepository{}
}

// Create 创建停车事件
func (r *ParkingEventRepository) Create(ctx context.Context, tx pgx.Tx, event *models.ParkingEvent) error {
	query := `
		INSERT INTO parking_events (id, user_id, license_plate, start_time, end_time, expiry_time, license_plate_matches)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.UserID,
		event.LicensePlate,
		event.StartTime,
		event.EndTime,
		event.ExpiryTime,
		event.LicensePlateMatches,
	)
	if err != nil {
		return fmt.Errorf("insert parking event: %w", err)
	}
	return nil
}

// GetByUserAndID 获取属于指定用户的停车事件
func (r *ParkingEventRepository) GetByUserAndID(ctx context.Context, tx pgx.Tx, userID, id uuid.UUID) (*models.ParkingEvent, error) {
	query := `SELECT ` + parkingEventColumns + ` FROM parking_events WHERE id = $1 AND user_id = $2`
	event, err := scanParkingEvent(tx.QueryRow(ctx, query, id, userID))
	if err != nil {
		return nil, fmt.Errorf("get parking event: %w", notFound(err))
	}
	return event, nil
}

// GetActive 获取用户进行中的停车
func (r *ParkingEventRepository) GetActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error) {
	query := `SELECT ` + parkingEventColumns + ` FROM parking_events WHERE user_id = $1 AND end_time IS NULL`
	event, err := scanParkingEvent(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("get active parking event: %w", notFound(err))
	}
	return event, nil
}

// GetLatestEnded 获取用户最近结束的停车
func (r *ParkingEventRepository) GetLatestEnded(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error) {
	query := `
		SELECT ` + parkingEventColumns + `
		FROM parking_events
		WHERE user_id = $1 AND end_time IS NOT NULL
		ORDER BY end_time DESC
		LIMIT 1
	`
	event, err := scanParkingEvent(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("get latest ended parking event: %w", notFound(err))
	}
	return event, nil
}

// EndActive 结束用户进行中的停车，返回受影响行数
func (r *ParkingEventRepository) EndActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (int64, error) {
	query := `UPDATE parking_events SET end_time = $2 WHERE user_id = $1 AND end_time IS NULL`
	tag, err := tx.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("end parking event: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive 统计所有进行中的停车
func (r *ParkingEventRepository) CountActive(ctx context.Context, tx pgx.Tx) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM parking_events WHERE end_time IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active parking events: %w", err)
	}
	return count, nil
}

// ListEndedByUser 获取用户已结束的停车，最新的在前
func (r *ParkingEventRepository) ListEndedByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.ParkingEvent, error) {
	query := `
		SELECT ` + parkingEventColumns + `
		FROM parking_events
		WHERE user_id = $1 AND end_time IS NOT NULL
		ORDER BY start_time DESC
	`
	rows, err := tx.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list parking events: %w", err)
	}
	defer rows.Close()

	events := []*models.ParkingEvent{}
	for rows.Next() {
		event, err := scanParkingEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan parking event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list parking events: %w", err)
	}
	return events, nil
}

// RecentLicensePlates 用户最近使用的不同车牌，按最后一次入场时间倒序
func (r *ParkingEventRepository) RecentLicensePlates(ctx context.Context, tx pgx.Tx, userID uuid.UUID, limit int) ([]string, error) {
	query := `
		SELECT license_plate
		FROM parking_events
		WHERE user_id = $1
		GROUP BY license_plate
		ORDER BY MAX(start_time) DESC
		LIMIT $2
	`
	rows, err := tx.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent license plates: %w", err)
	}
	plates, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan license plates: %w", err)
	}
	return plates, nil
}

func scanParkingEvent(row pgx.Row) (*models.ParkingEvent, error) {
	event := &models.ParkingEvent{}
	err := row.Scan(
		&event.ID,
		&event.UserID,
		&event.LicensePlate,
		&event.StartTime,
		&event.EndTime,
		&event.ExpiryTime,
		&event.LicensePlateMatches,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}

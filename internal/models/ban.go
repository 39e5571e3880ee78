package models

import (
	"time"

	"github.com/google/uuid"
)

// Ban 封禁记录的公共字段
type Ban struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Reason    string    `json:"reason" db:"reason"`
	StartTime time.Time `json:"startDateTime" db:"start_time"`
	EndTime   time.Time `json:"endDateTime" db:"end_time"`
}

// IsCurrent 封禁在 t 时刻是否生效，区间为 [start, end)
func (b Ban) IsCurrent(t time.Time) bool {
	return !t.Before(b.StartTime) && t.Before(b.EndTime)
}

// UserBan 用户封禁
type UserBan struct {
	Ban
	UserID uuid.UUID `json:"userID" db:"user_id"`
}

// VehicleBan 车辆（车牌）封禁
type VehicleBan struct {
	Ban
	LicensePlate string `json:"licensePlate" db:"license_plate"`
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxLicensePlateLength 车牌最大字符数
const MaxLicensePlateLength = 16

// ParkingEvent 停车事件（一次从入场到出场的停车记录）
type ParkingEvent struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       uuid.UUID  `json:"userID" db:"user_id"`
	LicensePlate string     `json:"licensePlate" db:"license_plate"`
	StartTime    time.Time  `json:"startDateTime" db:"start_time"`
	EndTime      *time.Time `json:"endDateTime" db:"end_time"` // nil 表示仍在停车
	ExpiryTime   time.Time  `json:"expiryDateTime" db:"expiry_time"`

	// 车牌核对结果，由外部对账流程写入
	LicensePlateMatches bool `json:"licensePlateMatches" db:"license_plate_matches"`
}

// IsActive 是否为进行中的停车
func (e *ParkingEvent) IsActive() bool {
	return e.EndTime == nil
}

// RecentVehicle 最近使用过的车辆及其当前封禁
type RecentVehicle struct {
	LicensePlate string       `json:"licensePlate"`
	Bans         []VehicleBan `json:"bans"`
}

// NormalizeLicensePlate 车牌统一去空格并转大写后存储
func NormalizeLicensePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

package storetest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/langchou/truckpark/internal/models"
)

// AddUser 添加用户
func (s *Store) AddUser() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.users[id] = models.User{ID: id, EmailAddress: id.String() + "@example.com"}
	return id
}

// AddUserBan 添加用户封禁，区间 [start, end)
func (s *Store) AddUserBan(userID uuid.UUID, reason string, start, end time.Time) models.UserBan {
	s.mu.Lock()
	defer s.mu.Unlock()
	ban := models.UserBan{
		Ban:    models.Ban{ID: uuid.New(), Reason: reason, StartTime: start, EndTime: end},
		UserID: userID,
	}
	s.userBans = append(s.userBans, ban)
	return ban
}

// AddVehicleBan 添加车辆封禁，区间 [start, end)
func (s *Store) AddVehicleBan(licensePlate, reason string, start, end time.Time) models.VehicleBan {
	s.mu.Lock()
	defer s.mu.Unlock()
	ban := models.VehicleBan{
		Ban:          models.Ban{ID: uuid.New(), Reason: reason, StartTime: start, EndTime: end},
		LicensePlate: licensePlate,
	}
	s.vehicleBans = append(s.vehicleBans, ban)
	return ban
}

// AddEvent 直接写入已提交的停车事件，ID 为空时自动生成
func (s *Store) AddEvent(event models.ParkingEvent) models.ParkingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	s.events = append(s.events, cloneEvent(&event))
	return event
}

// Events 已提交停车事件的副本
func (s *Store) Events() []models.ParkingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]models.ParkingEvent, 0, len(s.events))
	for i := range s.events {
		events = append(events, cloneEvent(&s.events[i]))
	}
	return events
}

// Commits 成功提交次数
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Rollbacks 回滚次数，含提交失败
func (s *Store) Rollbacks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbacks
}

// Clock 手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建时钟
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now 当前时间
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 时钟前进 d
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

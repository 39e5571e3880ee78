package service

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// CapacityCounter 空闲车位计算，每次都在当前事务中实时统计
type CapacityCounter struct {
	events ParkingEventStore
	total  int
}

// NewCapacityCounter 创建车位计数器
func NewCapacityCounter(events ParkingEventStore, total int) *CapacityCounter {
	return &CapacityCounter{events: events, total: total}
}

// FreeSpaces 空闲车位数，不小于 0
func (c *CapacityCounter) FreeSpaces(ctx context.Context, tx pgx.Tx) (int, error) {
	active, err := c.events.CountActive(ctx, tx)
	if err != nil {
		return 0, err
	}
	return max(0, c.total-active), nil
}

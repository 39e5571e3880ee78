package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/langchou/truckpark/internal/models"
	"github.com/langchou/truckpark/internal/repository"
)

// epoch Idle 状态下的 NextAllowed
var epoch = time.Unix(0, 0).UTC()

// StatusResolver 根据封禁和停车记录计算用户状态
type StatusResolver struct {
	users      UserStore
	events     ParkingEventStore
	bans       BanStore
	cooldown   time.Duration
	maxParking time.Duration
	now        Clock
}

// NewStatusResolver 创建状态计算器
func NewStatusResolver(users UserStore, events ParkingEventStore, bans BanStore, cooldown, maxParking time.Duration, now Clock) *StatusResolver {
	return &StatusResolver{
		users:      users,
		events:     events,
		bans:       bans,
		cooldown:   cooldown,
		maxParking: maxParking,
		now:        now,
	}
}

// Resolve 计算用户状态，优先级：封禁 > 停车中 > 冷却 > 空闲
func (r *StatusResolver) Resolve(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.DerivedStatus, error) {
	if err := requireUser(ctx, tx, r.users, userID); err != nil {
		return nil, err
	}

	now := r.now()

	bans, err := r.bans.CurrentUserBans(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(bans) > 0 {
		until := bans[0].EndTime
		for _, ban := range bans[1:] {
			if ban.EndTime.After(until) {
				until = ban.EndTime
			}
		}
		return &models.DerivedStatus{Standing: models.StandingBanned, NextAllowed: until}, nil
	}

	active, err := r.events.GetActive(ctx, tx, userID)
	switch {
	case err == nil:
		return &models.DerivedStatus{
			Standing:    models.StandingParking,
			NextAllowed: active.StartTime.Add(r.maxParking).Add(r.cooldown),
		}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	latest, err := r.events.GetLatestEnded(ctx, tx, userID)
	switch {
	case err == nil:
		if next := latest.EndTime.Add(r.cooldown); next.After(now) {
			return &models.DerivedStatus{Standing: models.StandingCooldown, NextAllowed: next}, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	return &models.DerivedStatus{Standing: models.StandingIdle, NextAllowed: epoch}, nil
}

// requireUser 用户不存在时返回 ErrUserNotFound
func requireUser(ctx context.Context, tx pgx.Tx, users UserStore, userID uuid.UUID) error {
	exists, err := users.Exists(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return ErrUserNotFound
	}
	return nil
}

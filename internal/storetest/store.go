// Package storetest 测试用的内存存储、事务和道闸
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/langchou/truckpark/internal/models"
	"github.com/langchou/truckpark/internal/repository"
)

// Store 内存事务存储，事务内可见已提交数据和本事务的写入（读已提交）。
// LockForUpdate 持有用户锁直到提交或回滚
type Store struct {
	mu          sync.Mutex
	users       map[uuid.UUID]models.User
	events      []models.ParkingEvent
	userBans    []models.UserBan
	vehicleBans []models.VehicleBan
	locks       map[uuid.UUID]chan struct{}

	// 注入的故障
	BeginErr  error
	CommitErr error
	CreateErr error

	commits   int
	rollbacks int
}

// New 创建空存储
func New() *Store {
	return &Store{
		users: make(map[uuid.UUID]models.User),
		locks: make(map[uuid.UUID]chan struct{}),
	}
}

// Tx 内存事务，只实现了 pgx.Tx 的 Commit 和 Rollback
type Tx struct {
	pgx.Tx

	store   *Store
	created []*models.ParkingEvent
	ended   map[uuid.UUID]time.Time
	held    []uuid.UUID
	closed  bool
}

// BeginTx 开启事务
func (s *Store) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	return &Tx{store: s, ended: make(map[uuid.UUID]time.Time)}, nil
}

// Commit 提交本事务的写入，违反唯一进行中约束时返回 23505
func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	s := t.store
	defer t.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	t.closed = true

	if s.CommitErr != nil {
		s.rollbacks++
		return s.CommitErr
	}
	if err := ctx.Err(); err != nil {
		s.rollbacks++
		return err
	}

	for i := range s.events {
		if end, ok := t.ended[s.events[i].ID]; ok && s.events[i].EndTime == nil {
			s.events[i].EndTime = &end
		}
	}
	for _, event := range t.created {
		if event.IsActive() && s.activeLocked(event.UserID) != nil {
			s.rollbacks++
			return &pgconn.PgError{Code: "23505", ConstraintName: "idx_parking_events_one_active"}
		}
		s.events = append(s.events, cloneEvent(event))
	}
	s.commits++
	return nil
}

// Rollback 丢弃本事务的写入
func (t *Tx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	defer t.release()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.closed = true
	t.store.rollbacks++
	return nil
}

func (t *Tx) release() {
	for _, userID := range t.held {
		t.store.mu.Lock()
		lock := t.store.locks[userID]
		t.store.mu.Unlock()
		<-lock
	}
	t.held = nil
}

// txOf 取出内存事务；ctx 已取消时与 pgx 一样直接返回错误
func (s *Store) txOf(ctx context.Context, tx pgx.Tx) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("storetest: unexpected transaction type %T", tx)
	}
	if t.closed {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// view 事务可见的停车事件，调用方持有 s.mu
func (s *Store) view(t *Tx) []models.ParkingEvent {
	events := make([]models.ParkingEvent, 0, len(s.events)+len(t.created))
	for _, event := range s.events {
		event = cloneEvent(&event)
		if end, ok := t.ended[event.ID]; ok && event.EndTime == nil {
			event.EndTime = &end
		}
		events = append(events, event)
	}
	for _, event := range t.created {
		events = append(events, cloneEvent(event))
	}
	return events
}

func (s *Store) activeLocked(userID uuid.UUID) *models.ParkingEvent {
	for i := range s.events {
		if s.events[i].UserID == userID && s.events[i].IsActive() {
			return &s.events[i]
		}
	}
	return nil
}

func cloneEvent(event *models.ParkingEvent) models.ParkingEvent {
	c := *event
	if event.EndTime != nil {
		end := *event.EndTime
		c.EndTime = &end
	}
	return c
}

// Exists 用户是否存在
func (s *Store) Exists(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	if _, err := s.txOf(ctx, tx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok, nil
}

// LockForUpdate 等待用户锁，ctx 结束时放弃
func (s *Store) LockForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.users[userID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("lock user: %w", repository.ErrNotFound)
	}
	for _, held := range t.held {
		if held == userID {
			s.mu.Unlock()
			return nil
		}
	}
	lock, ok := s.locks[userID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[userID] = lock
	}
	s.mu.Unlock()

	select {
	case lock <- struct{}{}:
		t.held = append(t.held, userID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create 在事务中创建停车事件
func (s *Store) Create(ctx context.Context, tx pgx.Tx, event *models.ParkingEvent) error {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	for _, existing := range s.view(t) {
		if existing.ID == event.ID {
			return &pgconn.PgError{Code: "23505", ConstraintName: "parking_events_pkey"}
		}
		if event.IsActive() && existing.UserID == event.UserID && existing.IsActive() {
			return &pgconn.PgError{Code: "23505", ConstraintName: "idx_parking_events_one_active"}
		}
	}
	c := cloneEvent(event)
	t.created = append(t.created, &c)
	return nil
}

// GetByUserAndID 获取属于用户的停车事件
func (s *Store) GetByUserAndID(ctx context.Context, tx pgx.Tx, userID, id uuid.UUID) (*models.ParkingEvent, error) {
	return s.find(ctx, tx, func(e models.ParkingEvent) bool { return e.ID == id && e.UserID == userID })
}

// GetActive 获取进行中的停车
func (s *Store) GetActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error) {
	return s.find(ctx, tx, func(e models.ParkingEvent) bool { return e.UserID == userID && e.IsActive() })
}

// GetLatestEnded 获取最近结束的停车
func (s *Store) GetLatestEnded(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.ParkingEvent, error) {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.ParkingEvent
	for _, event := range s.view(t) {
		if event.UserID != userID || event.EndTime == nil {
			continue
		}
		if latest == nil || event.EndTime.After(*latest.EndTime) {
			e := event
			latest = &e
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("get latest ended parking event: %w", repository.ErrNotFound)
	}
	return latest, nil
}

// EndActive 在事务中结束进行中的停车
func (s *Store) EndActive(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (int64, error) {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ended int64
	for _, event := range s.events {
		if _, done := t.ended[event.ID]; event.UserID == userID && event.IsActive() && !done {
			t.ended[event.ID] = now
			ended++
		}
	}
	for _, event := range t.created {
		if event.UserID == userID && event.IsActive() {
			end := now
			event.EndTime = &end
			ended++
		}
	}
	return ended, nil
}

// CountActive 统计进行中的停车
func (s *Store) CountActive(ctx context.Context, tx pgx.Tx) (int, error) {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, event := range s.view(t) {
		if event.IsActive() {
			count++
		}
	}
	return count, nil
}

// ListEndedByUser 已结束的停车，最新的在前
func (s *Store) ListEndedByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.ParkingEvent, error) {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := []*models.ParkingEvent{}
	for _, event := range s.view(t) {
		if event.UserID == userID && event.EndTime != nil {
			e := event
			events = append(events, &e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].StartTime.After(events[j].StartTime) })
	return events, nil
}

// RecentLicensePlates 按最近入场时间排序的车牌
func (s *Store) RecentLicensePlates(ctx context.Context, tx pgx.Tx, userID uuid.UUID, limit int) ([]string, error) {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]time.Time)
	for _, event := range s.view(t) {
		if event.UserID != userID {
			continue
		}
		if seen, ok := latest[event.LicensePlate]; !ok || event.StartTime.After(seen) {
			latest[event.LicensePlate] = event.StartTime
		}
	}

	plates := make([]string, 0, len(latest))
	for plate := range latest {
		plates = append(plates, plate)
	}
	sort.Slice(plates, func(i, j int) bool { return latest[plates[i]].After(latest[plates[j]]) })
	if len(plates) > limit {
		plates = plates[:limit]
	}
	return plates, nil
}

// CurrentUserBans 当前生效的用户封禁，结束最晚的在前
func (s *Store) CurrentUserBans(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) ([]models.UserBan, error) {
	if _, err := s.txOf(ctx, tx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bans := []models.UserBan{}
	for _, ban := range s.userBans {
		if ban.UserID == userID && ban.IsCurrent(now) {
			bans = append(bans, ban)
		}
	}
	sort.SliceStable(bans, func(i, j int) bool { return bans[i].EndTime.After(bans[j].EndTime) })
	return bans, nil
}

// CurrentVehicleBans 当前生效的车辆封禁，结束最晚的在前
func (s *Store) CurrentVehicleBans(ctx context.Context, tx pgx.Tx, licensePlate string, now time.Time) ([]models.VehicleBan, error) {
	if _, err := s.txOf(ctx, tx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bans := []models.VehicleBan{}
	for _, ban := range s.vehicleBans {
		if ban.LicensePlate == licensePlate && ban.IsCurrent(now) {
			bans = append(bans, ban)
		}
	}
	sort.SliceStable(bans, func(i, j int) bool { return bans[i].EndTime.After(bans[j].EndTime) })
	return bans, nil
}

func (s *Store) find(ctx context.Context, tx pgx.Tx, match func(models.ParkingEvent) bool) (*models.ParkingEvent, error) {
	t, err := s.txOf(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.view(t) {
		if match(event) {
			e := event
			return &e, nil
		}
	}
	return nil, fmt.Errorf("get parking event: %w", repository.ErrNotFound)
}

// IsUniqueViolation 是否为唯一约束冲突
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

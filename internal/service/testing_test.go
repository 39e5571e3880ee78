package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/config"
	"github.com/langchou/truckpark/internal/models"
	"github.com/langchou/truckpark/internal/storetest"
)

var testStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *storetest.Store
	gate  *storetest.Gate
	clock *storetest.Clock
	svc   *ParkingService
	cfg   config.Parking
}

func newFixture(t *testing.T, spaces int) *fixture {
	t.Helper()
	f := &fixture{
		store: storetest.New(),
		gate:  storetest.NewGate(),
		clock: storetest.NewClock(testStart),
		cfg: config.Parking{
			SpacesCount:         spaces,
			Cooldown:            time.Hour,
			MaxParkingTime:      18 * time.Hour,
			RecentVehiclesLimit: 3,
		},
	}
	f.svc = NewParkingService(f.cfg, zap.NewNop(), nil, f.store, f.store, f.store, f.gate, f.clock.Now)
	return f
}

func (f *fixture) begin(t *testing.T) pgx.Tx {
	t.Helper()
	tx, err := f.store.BeginTx(context.Background(), pgx.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })
	return tx
}

// admit 在单独事务中入场，成功则提交，否则回滚
func (f *fixture) admit(t *testing.T, userID uuid.UUID, plate string) (*models.ParkingEvent, error) {
	t.Helper()
	tx := f.begin(t)
	event, err := f.svc.Admit(context.Background(), tx, userID, plate)
	f.finish(t, tx, err)
	return event, err
}

// exit 在单独事务中出场，成功则提交，否则回滚
func (f *fixture) exit(t *testing.T, userID uuid.UUID) (*models.ParkingEvent, error) {
	t.Helper()
	tx := f.begin(t)
	event, err := f.svc.Exit(context.Background(), tx, userID)
	f.finish(t, tx, err)
	return event, err
}

func (f *fixture) finish(t *testing.T, tx pgx.Tx, err error) {
	t.Helper()
	if err != nil {
		if rbErr := tx.Rollback(context.Background()); rbErr != nil {
			t.Fatalf("rollback: %v", rbErr)
		}
		return
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (f *fixture) activeEvents(userID uuid.UUID) int {
	count := 0
	for _, event := range f.store.Events() {
		if event.UserID == userID && event.IsActive() {
			count++
		}
	}
	return count
}

func expectStartDenial(t *testing.T, err error, reason models.StartDenial) {
	t.Helper()
	var denied *StartDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected start denial %s, got %v", reason, err)
	}
	if denied.Reason != reason {
		t.Fatalf("expected start denial %s, got %s", reason, denied.Reason)
	}
}

func expectEndDenial(t *testing.T, err error, reason models.EndDenial) {
	t.Helper()
	var denied *EndDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected end denial %s, got %v", reason, err)
	}
	if denied.Reason != reason {
		t.Fatalf("expected end denial %s, got %s", reason, denied.Reason)
	}
}

func ended(at time.Time) *time.Time {
	return &at
}

package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/looplab/fsm"
)

// 事务状态常量
const (
	StateNotStarted = "not_started"
	StateActive     = "active"
	StateCommitted  = "committed"
	StateRolledBack = "rolled_back"
)

// 事件常量
const (
	EventBegin    = "begin"
	EventCommit   = "commit"
	EventRollback = "rollback"
)

// ErrFinished 事务已提交或已回滚，不能再次结束
var ErrFinished = errors.New("transaction already finished")

// Beginner 可以开启事务的数据库
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Machine 单个请求的事务状态机，终态不再接受任何事件
type Machine struct {
	mu  sync.Mutex
	fsm *fsm.FSM
	tx  pgx.Tx
}

// NewMachine 创建状态机
func NewMachine(onStateChange func(from, to string)) *Machine {
	m := &Machine{}
	m.fsm = fsm.NewFSM(
		StateNotStarted,
		fsm.Events{
			{Name: EventBegin, Src: []string{StateNotStarted}, Dst: StateActive},
			{Name: EventCommit, Src: []string{StateActive}, Dst: StateCommitted},
			{Name: EventRollback, Src: []string{StateActive}, Dst: StateRolledBack},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if onStateChange != nil {
					onStateChange(e.Src, e.Dst)
				}
			},
		},
	)
	return m
}

// Current 当前状态
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Current()
}

// Tx 当前事务，未开始时为 nil
func (m *Machine) Tx() pgx.Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx
}

// Begin 开启事务
func (m *Machine) Begin(ctx context.Context, db Beginner, opts pgx.TxOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fsm.Can(EventBegin) {
		return fmt.Errorf("begin transaction in state %s", m.fsm.Current())
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	m.tx = tx
	return m.trigger(EventBegin)
}

// Commit 提交事务。提交失败时数据库已回滚，状态转为 rolled_back
func (m *Machine) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fsm.Can(EventCommit) {
		return ErrFinished
	}

	if err := m.tx.Commit(ctx); err != nil {
		if trigErr := m.trigger(EventRollback); trigErr != nil {
			return errors.Join(err, trigErr)
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return m.trigger(EventCommit)
}

// Rollback 回滚事务，无论数据库是否返回错误都进入 rolled_back
func (m *Machine) Rollback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fsm.Can(EventRollback) {
		return ErrFinished
	}

	err := m.tx.Rollback(ctx)
	if trigErr := m.trigger(EventRollback); trigErr != nil {
		return errors.Join(err, trigErr)
	}
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (m *Machine) trigger(event string) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

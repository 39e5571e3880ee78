package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/langchou/truckpark/internal/api/gate"
)

// Gate 记录每次调用的脚本化道闸
type Gate struct {
	mu sync.Mutex

	// VehiclePresent 各组地感状态
	VehiclePresent map[gate.Group]bool
	// Booms 各组每个控制器的闸杆缺失状态
	Booms      map[gate.Group][]bool
	SensorErr  error
	ActuateErr error
	// OnActuate 开闸或关闸后回调，例如模拟客户端此时断开
	OnActuate func()

	calls []string
}

// NewGate 两组道闸都有车等待
func NewGate() *Gate {
	return &Gate{
		VehiclePresent: map[gate.Group]bool{gate.Entry: true, gate.Exit: true},
		Booms:          map[gate.Group][]bool{gate.Entry: {false}, gate.Exit: {false}},
	}
}

// SensorState 返回预设的传感器状态
func (g *Gate) SensorState(ctx context.Context, group gate.Group, sensor gate.Sensor) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, fmt.Sprintf("%s:%s", sensor, group))
	if g.SensorErr != nil {
		return false, g.SensorErr
	}
	if sensor == gate.BoomMissing {
		booms := g.Booms[group]
		return len(booms) > 0 && booms[0], nil
	}
	return g.VehiclePresent[group], nil
}

// Actuate 记录指令并返回 ActuateErr
func (g *Gate) Actuate(ctx context.Context, group gate.Group, direction gate.Direction) error {
	g.mu.Lock()
	g.calls = append(g.calls, fmt.Sprintf("%s:%s", direction, group))
	err, hook := g.ActuateErr, g.OnActuate
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

// BoomStates 返回预设的闸杆状态
func (g *Gate) BoomStates(ctx context.Context, group gate.Group) ([]bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, fmt.Sprintf("booms:%s", group))
	if g.SensorErr != nil {
		return nil, g.SensorErr
	}
	return append([]bool(nil), g.Booms[group]...), nil
}

// Calls 已记录的调用，如 "loop:entry"、"open:exit"
func (g *Gate) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// Reset 清空调用记录
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

package models

import "fmt"

// StartDenial 拒绝入场的原因
type StartDenial int

const (
	StartAlreadyParking StartDenial = iota + 1
	StartAreaFull
	StartBanned
	StartCooldown
	StartVehicleBanned
	StartNoVehicleAtGate
	StartWaitForPreviousVehicle // 保留，目前没有触发条件
	StartNoReplyFromGate
)

var startDenialNames = map[StartDenial]string{
	StartAlreadyParking:         "alreadyParking",
	StartAreaFull:               "areaFull",
	StartBanned:                 "banned",
	StartCooldown:               "cooldown",
	StartVehicleBanned:          "VehicleBanned",
	StartNoVehicleAtGate:        "noVehicleAtGate",
	StartWaitForPreviousVehicle: "WaitForPreviousVehicle",
	StartNoReplyFromGate:        "NoReplyFromGate",
}

func (d StartDenial) String() string {
	if name, ok := startDenialNames[d]; ok {
		return name
	}
	return fmt.Sprintf("StartDenial(%d)", int(d))
}

// MarshalText 输出接口使用的原因代码
func (d StartDenial) MarshalText() ([]byte, error) {
	name, ok := startDenialNames[d]
	if !ok {
		return nil, fmt.Errorf("unknown start denial %d", int(d))
	}
	return []byte(name), nil
}

// EndDenial 拒绝出场的原因
type EndDenial int

const (
	EndNotParking EndDenial = iota + 1
	EndNoVehicleAtGate
	EndWaitForPreviousVehicle // 保留，目前没有触发条件
	EndNoReplyFromGate
)

var endDenialNames = map[EndDenial]string{
	EndNotParking:             "notParking",
	EndNoVehicleAtGate:        "noVehicleAtGate",
	EndWaitForPreviousVehicle: "WaitForPreviousVehicle",
	EndNoReplyFromGate:        "NoReplyFromGate",
}

func (d EndDenial) String() string {
	if name, ok := endDenialNames[d]; ok {
		return name
	}
	return fmt.Sprintf("EndDenial(%d)", int(d))
}

// MarshalText 输出接口使用的原因代码
func (d EndDenial) MarshalText() ([]byte, error) {
	name, ok := endDenialNames[d]
	if !ok {
		return nil, fmt.Errorf("unknown end denial %d", int(d))
	}
	return []byte(name), nil
}

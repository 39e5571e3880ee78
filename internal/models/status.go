package models

import (
	"fmt"
	"time"
)

// Standing 用户当前能否开始停车的状态
type Standing int

const (
	StandingIdle Standing = iota + 1
	StandingCooldown
	StandingBanned
	StandingParking
)

var standingNames = map[Standing]string{
	StandingIdle:     "idle",
	StandingCooldown: "cooldown",
	StandingBanned:   "banned",
	StandingParking:  "parking",
}

func (s Standing) String() string {
	if name, ok := standingNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Standing(%d)", int(s))
}

// MarshalText 输出小写名称
func (s Standing) MarshalText() ([]byte, error) {
	name, ok := standingNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown standing %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText 解析小写名称
func (s *Standing) UnmarshalText(text []byte) error {
	for standing, name := range standingNames {
		if name == string(text) {
			*s = standing
			return nil
		}
	}
	return fmt.Errorf("unknown standing %q", string(text))
}

// DerivedStatus 每次请求时根据封禁和停车记录计算出的用户状态
type DerivedStatus struct {
	Standing    Standing  `json:"status"`
	NextAllowed time.Time `json:"nextParkingAllowed"`
}

// CapacitySnapshot 空闲车位快照
type CapacitySnapshot struct {
	FreeSpaces int `json:"freeParkingSpaces"`
}

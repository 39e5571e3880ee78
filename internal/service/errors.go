package service

import (
	"errors"
	"fmt"

	"github.com/langchou/truckpark/internal/models"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEventNotFound       = errors.New("parking event not found")
	ErrInvalidLicensePlate = errors.New("license plate must be 1 to 16 characters")

	// ErrLostSession 出场已标记结束但读不回该停车事件，属于数据一致性故障
	ErrLostSession = errors.New("ended parking event could not be read back")
)

// StartDeniedError 入场被拒绝
type StartDeniedError struct {
	Reason models.StartDenial
}

func (e *StartDeniedError) Error() string {
	return fmt.Sprintf("cannot start parking event: %s", e.Reason)
}

// EndDeniedError 出场被拒绝
type EndDeniedError struct {
	Reason models.EndDenial
}

func (e *EndDeniedError) Error() string {
	return fmt.Sprintf("cannot end parking event: %s", e.Reason)
}

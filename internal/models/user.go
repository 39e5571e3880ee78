package models

import (
	"time"

	"github.com/google/uuid"
)

// User 用户，账号管理由外部服务负责，这里只读
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	FirstName    string    `json:"firstName" db:"first_name"`
	LastName     string    `json:"lastName" db:"last_name"`
	PhoneNumber  string    `json:"phoneNumber" db:"phone_number"`
	EmailAddress string    `json:"emailAddress" db:"email_address"`
	Company      string    `json:"company" db:"company"`
	RegisterTime time.Time `json:"registerDateTime" db:"register_time"`
}

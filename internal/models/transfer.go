package models

import (
	"time"
)

// Transfer status values. Status is monotonic: pending -> opened, never back.
const (
	TransferStatusPending = "pending"
	TransferStatusOpened  = "opened"
)

// MaxFailedAttempts is the sticky lockout cap for access-code verification.
// There is no automatic decay; a locked transfer stays locked.
const MaxFailedAttempts = 5

type Transfer struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	SenderID       uint       `json:"senderId" gorm:"index;not null"`
	ReceiverID     uint       `json:"receiverId" gorm:"index;not null"`
	AccessCodeHash string     `json:"-" gorm:"not null"`
	CodeHint       string     `json:"codeHint"` // length + last two chars, never the code body
	Status         string     `json:"status" gorm:"index;not null;default:pending"`
	OpenedAt       *time.Time `json:"openedAt"`
	FailedAttempts int        `json:"failedAttempts" gorm:"not null;default:0"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	CreatedAt      time.Time  `json:"createdAt" gorm:"index;autoCreateTime"`

	Sender   User           `json:"-" gorm:"foreignKey:SenderID"`
	Receiver User           `json:"-" gorm:"foreignKey:ReceiverID"`
	Files    []TransferFile `json:"files,omitempty" gorm:"foreignKey:TransferID;constraint:OnDelete:CASCADE"`
}

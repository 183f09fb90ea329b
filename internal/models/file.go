package models

import (
	"time"
)

// File is a persistent direct-share record: a sender-owned upload optionally
// assigned to one receiving client. Distinct from TransferFile, which lives
// inside a code-gated transfer.
type File struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	OwnerID          uint      `json:"ownerId" gorm:"index;not null"`
	ClientID         *uint     `json:"clientId" gorm:"index"`
	OriginalFilename string    `json:"originalFilename" gorm:"not null"`
	StoredFilename   string    `json:"-" gorm:"not null"`
	SizeBytes        int64     `json:"sizeBytes" gorm:"not null;default:0"`
	ContentType      string    `json:"contentType"`
	CreatedAt        time.Time `json:"createdAt" gorm:"autoCreateTime"`

	Owner User `json:"-" gorm:"foreignKey:OwnerID"`
}

package models

import (
	"time"
)

// TransferFile is one file inside a transfer. Each side hides the file for
// itself by setting its own deletion timestamp; the row never persists with
// both timestamps set, since at that instant it is hard-deleted along with
// its blob.
type TransferFile struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	TransferID        uint       `json:"transferId" gorm:"index;not null"`
	OriginalFilename  string     `json:"originalFilename" gorm:"not null"` // sanitized at upload
	StoredFilename    string     `json:"-" gorm:"not null"`                // opaque, server-generated
	SizeBytes         int64      `json:"sizeBytes" gorm:"not null;default:0"`
	ContentType       string     `json:"contentType"`
	CreatedAt         time.Time  `json:"createdAt" gorm:"index;autoCreateTime"`
	SenderDeletedAt   *time.Time `json:"-" gorm:"index"`
	ReceiverDeletedAt *time.Time `json:"-" gorm:"index"`
}

// VisibleTo reports whether the file is still visible to the given side.
func (f *TransferFile) VisibleTo(senderSide bool) bool {
	if senderSide {
		return f.SenderDeletedAt == nil
	}
	return f.ReceiverDeletedAt == nil
}

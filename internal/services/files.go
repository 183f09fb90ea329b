package services

import (
	"errors"
	"io"

	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"github.com/sjaiswal27/courierdrop/internal/audit"
	"github.com/sjaiswal27/courierdrop/internal/models"
	"github.com/sjaiswal27/courierdrop/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FileService manages persistent direct-share file records: uploads owned by
// a sender and optionally assigned to one receiving client. Unlike transfer
// files these have no access-code gate and no per-side soft delete.
type FileService struct {
	db    *gorm.DB
	store *storage.Store
	audit *audit.Logger
}

func NewFileService(db *gorm.DB, store *storage.Store, auditLog *audit.Logger) *FileService {
	return &FileService{db: db, store: store, audit: auditLog}
}

// Upload stores one blob and its record for the owner.
func (s *FileService) Upload(ownerID uint, f IncomingFile) (*models.File, error) {
	storedName := storage.NewStoredName(f.Filename)
	size, err := s.store.Save(storedName, f.Reader)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	record := models.File{
		OwnerID:          ownerID,
		OriginalFilename: storage.SanitizeFilename(f.Filename),
		StoredFilename:   storedName,
		SizeBytes:        size,
		ContentType:      f.ContentType,
	}
	if err := s.db.Create(&record).Error; err != nil {
		_ = s.store.Remove(storedName)
		return nil, apperr.Internal(err)
	}

	s.audit.Record("file_upload_success",
		zap.Uint("owner_id", ownerID),
		zap.Uint("file_id", record.ID),
	)
	return &record, nil
}

// List returns the files visible to a user: their own uploads plus files
// assigned to them.
func (s *FileService) List(userID uint) ([]models.File, error) {
	var files []models.File
	err := s.db.
		Where("owner_id = ? OR client_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&files).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return files, nil
}

// Download opens a file's blob for its owner or its assigned client.
func (s *FileService) Download(fileID, userID uint) (*models.File, io.ReadSeekCloser, error) {
	var record models.File
	if err := s.db.First(&record, fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("File not found")
		}
		return nil, nil, apperr.Internal(err)
	}

	if record.OwnerID != userID && (record.ClientID == nil || *record.ClientID != userID) {
		s.audit.Record("file_download_denied",
			zap.Uint("user_id", userID),
			zap.Uint("file_id", fileID),
		)
		return nil, nil, apperr.Forbidden("Forbidden")
	}

	blob, err := s.store.Open(record.StoredFilename)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Record("file_download_success",
		zap.Uint("user_id", userID),
		zap.Uint("file_id", fileID),
	)
	return &record, blob, nil
}

// Assign links a file to a receiving client. Only the owner may assign.
func (s *FileService) Assign(fileID, ownerID, clientID uint) error {
	var record models.File
	if err := s.db.First(&record, fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("File not found")
		}
		return apperr.Internal(err)
	}
	if record.OwnerID != ownerID {
		return apperr.Forbidden("Forbidden")
	}

	var client models.User
	if err := s.db.First(&client, clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("Client not found")
		}
		return apperr.Internal(err)
	}

	if err := s.db.Model(&record).Update("client_id", clientID).Error; err != nil {
		return apperr.Internal(err)
	}
	s.audit.Record("file_assign_success",
		zap.Uint("owner_id", ownerID),
		zap.Uint("file_id", fileID),
		zap.Uint("client_id", clientID),
	)
	return nil
}

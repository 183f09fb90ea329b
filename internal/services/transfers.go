package services

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sjaiswal27/courierdrop/internal/accesscode"
	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"github.com/sjaiswal27/courierdrop/internal/audit"
	"github.com/sjaiswal27/courierdrop/internal/auth"
	"github.com/sjaiswal27/courierdrop/internal/models"
	"github.com/sjaiswal27/courierdrop/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransferService owns the transfer lifecycle: code-gated creation, opening,
// per-side soft deletion, and the hard-delete purge once both sides have
// deleted a file.
type TransferService struct {
	db     *gorm.DB
	store  *storage.Store
	tokens *auth.Service
	audit  *audit.Logger
}

func NewTransferService(db *gorm.DB, store *storage.Store, tokens *auth.Service, auditLog *audit.Logger) *TransferService {
	return &TransferService{db: db, store: store, tokens: tokens, audit: auditLog}
}

// IncomingFile is one file of a send request, streamed straight to storage.
type IncomingFile struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

type SendResult struct {
	Transfer      *models.Transfer
	Receiver      *models.User
	FileCount     int
	GeneratedCode string // set only when the caller supplied no code; never stored
}

// CreateTransfer writes the transfer row, its file rows, and their blobs as
// one atomic unit. Any failure rolls back the database state and unlinks
// blobs already written for this attempt.
func (s *TransferService) CreateTransfer(senderID, receiverID uint, rawCode string, files []IncomingFile) (*SendResult, error) {
	if senderID == receiverID {
		return nil, apperr.Validation("Cannot send transfer to yourself")
	}

	var receiver models.User
	if err := s.db.First(&receiver, receiverID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Receiver not found")
		}
		return nil, apperr.Internal(err)
	}

	if len(files) == 0 {
		return nil, apperr.Validation("At least one file is required")
	}

	var generated string
	code := strings.TrimSpace(rawCode)
	if code == "" {
		var err error
		generated, err = accesscode.Generate(accesscode.DefaultLength)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		code = generated
	} else {
		var err error
		code, err = accesscode.Validate(code)
		if err != nil {
			return nil, err
		}
	}

	codeHash, err := accesscode.Hash(code)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	transfer := models.Transfer{
		SenderID:       senderID,
		ReceiverID:     receiverID,
		AccessCodeHash: codeHash,
		CodeHint:       accesscode.Hint(code),
		Status:         models.TransferStatusPending,
	}

	var written []string
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&transfer).Error; err != nil {
			return err
		}
		for _, f := range files {
			storedName := storage.NewStoredName(f.Filename)
			size, err := s.store.Save(storedName, f.Reader)
			if err != nil {
				return err
			}
			written = append(written, storedName)

			tf := models.TransferFile{
				TransferID:       transfer.ID,
				OriginalFilename: storage.SanitizeFilename(f.Filename),
				StoredFilename:   storedName,
				SizeBytes:        size,
				ContentType:      f.ContentType,
			}
			if err := tx.Create(&tf).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		for _, name := range written {
			_ = s.store.Remove(name)
		}
		s.audit.Record("transfer_send_failed",
			zap.Uint("sender_id", senderID),
			zap.Uint("receiver_id", receiverID),
			zap.Error(txErr),
		)
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to send transfer", txErr)
	}

	s.audit.Record("transfer_send_success",
		zap.Uint("sender_id", senderID),
		zap.Uint("receiver_id", receiverID),
		zap.Uint("transfer_id", transfer.ID),
		zap.Int("file_count", len(files)),
	)
	return &SendResult{
		Transfer:      &transfer,
		Receiver:      &receiver,
		FileCount:     len(files),
		GeneratedCode: generated,
	}, nil
}

// Verify checks the presented access code for a transfer. On success the
// transfer is opened, the attempt counter resets, and a scoped transfer
// access token is issued. Lockout at the attempt cap is sticky: a later
// correct code still fails until the counter is reset externally.
func (s *TransferService) Verify(transferID, userID uint, rawCode string) (token string, failedAttempts int, err error) {
	var transfer models.Transfer
	if dberr := s.db.First(&transfer, transferID).Error; dberr != nil {
		if errors.Is(dberr, gorm.ErrRecordNotFound) {
			return "", 0, apperr.NotFound("Transfer not found")
		}
		return "", 0, apperr.Internal(dberr)
	}

	if transfer.ReceiverID != userID {
		return "", 0, apperr.Forbidden("Forbidden")
	}
	if transfer.ExpiresAt != nil && transfer.ExpiresAt.Before(time.Now()) {
		return "", 0, apperr.Gone("Transfer expired")
	}
	if transfer.FailedAttempts >= models.MaxFailedAttempts {
		return "", transfer.FailedAttempts, apperr.RateLimited("Too many attempts. Try again later.")
	}

	code, err := accesscode.Validate(rawCode)
	if err != nil {
		return "", transfer.FailedAttempts, err
	}

	if !accesscode.Verify(code, transfer.AccessCodeHash) {
		attempts, incErr := s.recordFailedAttempt(transferID)
		if incErr != nil {
			return "", 0, apperr.Internal(incErr)
		}
		s.audit.Record("transfer_verify_failed",
			zap.Uint("transfer_id", transferID),
			zap.Uint("receiver_id", userID),
			zap.Int("attempts", attempts),
		)
		if attempts >= models.MaxFailedAttempts {
			return "", attempts, apperr.RateLimited("Too many attempts. Try again later.")
		}
		return "", attempts, apperr.Unauthorized("Invalid code")
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":          models.TransferStatusOpened,
		"opened_at":       &now,
		"failed_attempts": 0,
	}
	if dberr := s.db.Model(&models.Transfer{}).Where("id = ?", transferID).Updates(updates).Error; dberr != nil {
		return "", 0, apperr.Internal(dberr)
	}

	token, err = s.tokens.IssueTransfer(transferID, userID)
	if err != nil {
		return "", 0, apperr.Internal(err)
	}
	s.audit.Record("transfer_verify_success",
		zap.Uint("transfer_id", transferID),
		zap.Uint("receiver_id", userID),
	)
	return token, 0, nil
}

// recordFailedAttempt bumps failed_attempts with a single-row atomic update
// so two concurrent failed verifications cannot under-count, then reads the
// durable value back inside the same transaction.
func (s *TransferService) recordFailedAttempt(transferID uint) (int, error) {
	var attempts int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Transfer{}).
			Where("id = ?", transferID).
			UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1"))
		if res.Error != nil {
			return res.Error
		}
		var t models.Transfer
		if err := tx.Select("failed_attempts").First(&t, transferID).Error; err != nil {
			return err
		}
		attempts = t.FailedAttempts
		return nil
	})
	return attempts, err
}

// ResetAttempts clears the lockout counter for a transfer. The lockout has
// no automatic decay, so this is the only way back in.
func (s *TransferService) ResetAttempts(transferID uint) error {
	res := s.db.Model(&models.Transfer{}).Where("id = ?", transferID).Update("failed_attempts", 0)
	if res.Error != nil {
		return apperr.Internal(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Transfer not found")
	}
	return nil
}

// authorizeViewer resolves the transfer and the caller's side of it. The
// sender is authorized by identity alone; the receiver must present a valid
// transfer access token obtained from Verify.
func (s *TransferService) authorizeViewer(transferID, userID uint, transferToken string) (*models.Transfer, bool, error) {
	var transfer models.Transfer
	if err := s.db.First(&transfer, transferID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.NotFound("Transfer not found")
		}
		return nil, false, apperr.Internal(err)
	}
	if transfer.SenderID == userID {
		return &transfer, true, nil
	}
	if transfer.ReceiverID != userID {
		return nil, false, apperr.Forbidden("Forbidden")
	}
	if err := s.tokens.RequireTransferToken(transferID, userID, transferToken); err != nil {
		return nil, false, err
	}
	return &transfer, false, nil
}

func sideColumn(senderSide bool) string {
	if senderSide {
		return "sender_deleted_at"
	}
	return "receiver_deleted_at"
}

// ListVisible returns the transfer's files still visible to the caller's
// side, in upload order.
func (s *TransferService) ListVisible(transferID, userID uint, transferToken string) ([]models.TransferFile, error) {
	_, senderSide, err := s.authorizeViewer(transferID, userID, transferToken)
	if err != nil {
		return nil, err
	}
	var files []models.TransferFile
	dberr := s.db.
		Where("transfer_id = ? AND "+sideColumn(senderSide)+" IS NULL", transferID).
		Order("created_at ASC, id ASC").
		Find(&files).Error
	if dberr != nil {
		return nil, apperr.Internal(dberr)
	}
	return files, nil
}

// DownloadFile authorizes the caller and opens the blob of one visible file.
// The returned file must be closed by the caller.
func (s *TransferService) DownloadFile(transferID, fileID, userID uint, transferToken string) (*models.TransferFile, io.ReadSeekCloser, error) {
	_, senderSide, err := s.authorizeViewer(transferID, userID, transferToken)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindForbidden {
			s.audit.Record("transfer_download_denied",
				zap.Uint("user_id", userID),
				zap.Uint("transfer_id", transferID),
				zap.Uint("file_id", fileID),
			)
		}
		return nil, nil, err
	}

	var tf models.TransferFile
	if dberr := s.db.Where("id = ? AND transfer_id = ?", fileID, transferID).First(&tf).Error; dberr != nil {
		if errors.Is(dberr, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("File not found")
		}
		return nil, nil, apperr.Internal(dberr)
	}
	if !tf.VisibleTo(senderSide) {
		return nil, nil, apperr.NotFound("File not found")
	}

	blob, err := s.store.Open(tf.StoredFilename)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Record("transfer_download_success",
		zap.Uint("user_id", userID),
		zap.Uint("transfer_id", transferID),
		zap.Uint("file_id", fileID),
	)
	return &tf, blob, nil
}

type DeleteResult struct {
	HardDeleted      bool
	RemainingVisible int64
}

// DeleteFile soft-deletes a file for the caller's side. The moment both
// sides have deleted it, the row is removed in the same transaction and the
// blob is unlinked afterwards; a failing unlink is logged and swallowed
// since the row's absence is authoritative.
func (s *TransferService) DeleteFile(transferID, fileID, userID uint, transferToken string) (*DeleteResult, error) {
	_, senderSide, err := s.authorizeViewer(transferID, userID, transferToken)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindForbidden {
			s.audit.Record("transfer_delete_denied",
				zap.Uint("user_id", userID),
				zap.Uint("transfer_id", transferID),
				zap.Uint("file_id", fileID),
			)
		}
		return nil, err
	}

	var (
		hardDeleted bool
		storedName  string
	)
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&models.TransferFile{}).
			Where("id = ? AND transfer_id = ?", fileID, transferID).
			UpdateColumn(sideColumn(senderSide), &now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("File not found")
		}

		// Re-read after the write, not before: the update above blocked on
		// any concurrent deleter's row lock, so this snapshot includes the
		// other side's committed timestamp. Deciding from a pre-update read
		// would let two interleaved deletes each miss the other and persist
		// the both-deleted state.
		var tf models.TransferFile
		if err := tx.Where("id = ? AND transfer_id = ?", fileID, transferID).First(&tf).Error; err != nil {
			return err
		}

		// Both sides deleted is a transient state: purge immediately.
		if tf.SenderDeletedAt != nil && tf.ReceiverDeletedAt != nil {
			if err := tx.Delete(&tf).Error; err != nil {
				return err
			}
			hardDeleted = true
			storedName = tf.StoredFilename
		}
		return nil
	})
	if txErr != nil {
		var ae *apperr.Error
		if errors.As(txErr, &ae) {
			return nil, ae
		}
		s.audit.Record("transfer_delete_failed",
			zap.Uint("user_id", userID),
			zap.Uint("transfer_id", transferID),
			zap.Uint("file_id", fileID),
			zap.Error(txErr),
		)
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to delete file", txErr)
	}

	if hardDeleted {
		if err := s.store.Remove(storedName); err != nil {
			s.audit.Record("transfer_blob_unlink_failed",
				zap.Uint("transfer_id", transferID),
				zap.Uint("file_id", fileID),
				zap.Error(err),
			)
		}
	}

	var remaining int64
	if dberr := s.db.Model(&models.TransferFile{}).
		Where("transfer_id = ? AND "+sideColumn(senderSide)+" IS NULL", transferID).
		Count(&remaining).Error; dberr != nil {
		return nil, apperr.Internal(dberr)
	}

	s.audit.Record("transfer_delete_success",
		zap.Uint("user_id", userID),
		zap.Uint("transfer_id", transferID),
		zap.Uint("file_id", fileID),
		zap.Bool("hard_deleted", hardDeleted),
	)
	return &DeleteResult{HardDeleted: hardDeleted, RemainingVisible: remaining}, nil
}

// CountIncoming counts pending transfers that still have at least one file
// visible to the receiver.
func (s *TransferService) CountIncoming(receiverID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.Transfer{}).
		Where("receiver_id = ? AND status = ?", receiverID, models.TransferStatusPending).
		Where("EXISTS (SELECT 1 FROM transfer_files tf WHERE tf.transfer_id = transfers.id AND tf.receiver_deleted_at IS NULL)").
		Count(&count).Error
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return count, nil
}

type TransferListItem struct {
	TransferID    uint      `json:"transfer_id"`
	SenderEmail   string    `json:"sender_email"`
	ReceiverEmail string    `json:"receiver_email"`
	FileCount     int       `json:"file_count"`
	CreatedAt     time.Time `json:"created_at"`
	Status        string    `json:"status"`
	CodeHint      string    `json:"code_hint,omitempty"`
}

// ListReceived returns the caller's incoming transfers that still have files
// visible to them, newest first.
func (s *TransferService) ListReceived(userID uint) ([]TransferListItem, error) {
	var rows []struct {
		TransferID uint
		Email      string
		CreatedAt  time.Time
		Status     string
		FileCount  int
	}
	err := s.db.Table("transfers").
		Select("transfers.id AS transfer_id, users.email AS email, transfers.created_at, transfers.status, COUNT(transfer_files.id) AS file_count").
		Joins("JOIN users ON users.id = transfers.sender_id").
		Joins("JOIN transfer_files ON transfer_files.transfer_id = transfers.id AND transfer_files.receiver_deleted_at IS NULL").
		Where("transfers.receiver_id = ?", userID).
		Group("transfers.id, users.email, transfers.created_at, transfers.status").
		Order("transfers.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var me models.User
	if err := s.db.Select("email").First(&me, userID).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	items := make([]TransferListItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, TransferListItem{
			TransferID:    r.TransferID,
			SenderEmail:   r.Email,
			ReceiverEmail: me.Email,
			FileCount:     r.FileCount,
			CreatedAt:     r.CreatedAt,
			Status:        r.Status,
		})
	}
	return items, nil
}

// ListSent mirrors ListReceived for the sender's side, including the code
// hint so a sender can recall a self-chosen code.
func (s *TransferService) ListSent(userID uint) ([]TransferListItem, error) {
	var rows []struct {
		TransferID uint
		Email      string
		CreatedAt  time.Time
		Status     string
		FileCount  int
		CodeHint   string
	}
	err := s.db.Table("transfers").
		Select("transfers.id AS transfer_id, users.email AS email, transfers.created_at, transfers.status, transfers.code_hint, COUNT(transfer_files.id) AS file_count").
		Joins("JOIN users ON users.id = transfers.receiver_id").
		Joins("JOIN transfer_files ON transfer_files.transfer_id = transfers.id AND transfer_files.sender_deleted_at IS NULL").
		Where("transfers.sender_id = ?", userID).
		Group("transfers.id, users.email, transfers.created_at, transfers.status, transfers.code_hint").
		Order("transfers.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}

	var me models.User
	if err := s.db.Select("email").First(&me, userID).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	items := make([]TransferListItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, TransferListItem{
			TransferID:    r.TransferID,
			SenderEmail:   me.Email,
			ReceiverEmail: r.Email,
			FileCount:     r.FileCount,
			CreatedAt:     r.CreatedAt,
			Status:        r.Status,
			CodeHint:      r.CodeHint,
		})
	}
	return items, nil
}

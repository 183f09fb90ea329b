package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"github.com/sjaiswal27/courierdrop/internal/audit"
	"github.com/sjaiswal27/courierdrop/internal/auth"
	"github.com/sjaiswal27/courierdrop/internal/models"
	"github.com/sjaiswal27/courierdrop/internal/repositories"
	"github.com/sjaiswal27/courierdrop/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	svc    *TransferService
	store  *storage.Store
	db     *gorm.DB
	tokens *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	tokens := auth.NewService("test-secret")
	return &testEnv{
		svc:    NewTransferService(db, store, tokens, audit.NewNop()),
		store:  store,
		db:     db,
		tokens: tokens,
	}
}

func (e *testEnv) createUser(t *testing.T, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func textFiles(names ...string) []IncomingFile {
	files := make([]IncomingFile, 0, len(names))
	for _, name := range names {
		files = append(files, IncomingFile{
			Filename:    name,
			ContentType: "text/plain",
			Reader:      strings.NewReader("contents of " + name),
		})
	}
	return files
}

func TestCreateTransferRejectsSelfSend(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")

	_, err := env.svc.CreateTransfer(a.ID, a.ID, "ABC123", textFiles("one.txt"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateTransferUnknownReceiver(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")

	_, err := env.svc.CreateTransfer(a.ID, a.ID+100, "ABC123", textFiles("one.txt"))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateTransferRequiresFiles(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	_, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateTransferRejectsBadCode(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	_, err := env.svc.CreateTransfer(a.ID, b.ID, "AB1", textFiles("one.txt"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.svc.CreateTransfer(a.ID, b.ID, "ABC 123!", textFiles("one.txt"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateTransferGeneratesCodeWhenEmpty(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "  ", textFiles("one.txt"))
	require.NoError(t, err)
	assert.Len(t, result.GeneratedCode, 8)

	var stored models.Transfer
	require.NoError(t, env.db.First(&stored, result.Transfer.ID).Error)
	assert.NotContains(t, stored.AccessCodeHash, result.GeneratedCode)
	assert.Equal(t, "len:8 ends:"+result.GeneratedCode[6:], stored.CodeHint)
	assert.Equal(t, models.TransferStatusPending, stored.Status)

	// the generated code actually opens the transfer
	token, _, err := env.svc.Verify(result.Transfer.ID, b.ID, result.GeneratedCode)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestCreateTransferStoresFilesInOrder(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt", "two.txt", "three.txt"))
	require.NoError(t, err)
	assert.Equal(t, 3, result.FileCount)
	assert.Empty(t, result.GeneratedCode)
	assert.Equal(t, "b@example.com", result.Receiver.Email)

	files, err := env.svc.ListVisible(result.Transfer.ID, a.ID, "")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "one.txt", files[0].OriginalFilename)
	assert.Equal(t, "two.txt", files[1].OriginalFilename)
	assert.Equal(t, "three.txt", files[2].OriginalFilename)
	for _, f := range files {
		assert.True(t, env.store.Exists(f.StoredFilename))
		assert.Equal(t, int64(len("contents of "+f.OriginalFilename)), f.SizeBytes)
	}
}

func TestCreateTransferSanitizesFilenames(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("../../etc/passwd"))
	require.NoError(t, err)

	files, err := env.svc.ListVisible(result.Transfer.ID, a.ID, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "passwd", files[0].OriginalFilename)
	assert.NotContains(t, files[0].StoredFilename, "..")
}

func TestCreateTransferRollsBackOnWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	files := []IncomingFile{
		{Filename: "ok.txt", ContentType: "text/plain", Reader: strings.NewReader("fine")},
		{Filename: "broken.txt", ContentType: "text/plain", Reader: iotest.ErrReader(errors.New("disk gone"))},
	}
	_, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", files)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	// no orphaned rows
	var transferCount, fileCount int64
	require.NoError(t, env.db.Model(&models.Transfer{}).Count(&transferCount).Error)
	require.NoError(t, env.db.Model(&models.TransferFile{}).Count(&fileCount).Error)
	assert.Zero(t, transferCount)
	assert.Zero(t, fileCount)

	// no orphaned blobs
	entries, err := os.ReadDir(env.store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVerifyStickyLockout(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt", "two.txt", "three.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	for i := 1; i <= 4; i++ {
		_, attempts, err := env.svc.Verify(id, b.ID, "WRONG12")
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
		assert.Equal(t, i, attempts)
	}

	// fifth wrong attempt reaches the cap
	_, attempts, err := env.svc.Verify(id, b.ID, "WRONG12")
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	assert.Equal(t, 5, attempts)

	// the counter is durable
	var stored models.Transfer
	require.NoError(t, env.db.First(&stored, id).Error)
	assert.Equal(t, 5, stored.FailedAttempts)

	// lockout is sticky: the correct code still fails
	_, _, err = env.svc.Verify(id, b.ID, "ABC123")
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))

	// only an external reset opens the way back in
	require.NoError(t, env.svc.ResetAttempts(id))
	token, _, err := env.svc.Verify(id, b.ID, "ABC123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestVerifySuccessOpensAndResets(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	_, _, err = env.svc.Verify(id, b.ID, "WRONG12")
	require.Error(t, err)

	token, attempts, err := env.svc.Verify(id, b.ID, "ABC123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Zero(t, attempts)

	var stored models.Transfer
	require.NoError(t, env.db.First(&stored, id).Error)
	assert.Equal(t, models.TransferStatusOpened, stored.Status)
	assert.NotNil(t, stored.OpenedAt)
	assert.Zero(t, stored.FailedAttempts)

	// the issued token is bound to this transfer and receiver
	require.NoError(t, env.tokens.RequireTransferToken(id, b.ID, token))
	assert.Error(t, env.tokens.RequireTransferToken(id, a.ID, token))
}

func TestVerifyAuthorization(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")
	c := env.createUser(t, "c@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)

	_, _, err = env.svc.Verify(result.Transfer.ID+100, b.ID, "ABC123")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// neither the sender nor a stranger may verify
	_, _, err = env.svc.Verify(result.Transfer.ID, a.ID, "ABC123")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, _, err = env.svc.Verify(result.Transfer.ID, c.ID, "ABC123")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestVerifyExpiredTransferIsGone(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)

	expired := result.Transfer.CreatedAt.Add(-time.Hour)
	require.NoError(t, env.db.Model(&models.Transfer{}).
		Where("id = ?", result.Transfer.ID).
		Update("expires_at", &expired).Error)

	_, _, err = env.svc.Verify(result.Transfer.ID, b.ID, "ABC123")
	assert.Equal(t, apperr.KindGone, apperr.KindOf(err))
}

func TestReceiverNeedsTransferToken(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")
	c := env.createUser(t, "c@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	// sender lists without any token
	_, err = env.svc.ListVisible(id, a.ID, "")
	require.NoError(t, err)

	// receiver without a token is refused
	_, err = env.svc.ListVisible(id, b.ID, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// a stranger is refused even with the receiver's token
	token, _, err := env.svc.Verify(id, b.ID, "ABC123")
	require.NoError(t, err)
	_, err = env.svc.ListVisible(id, c.ID, token)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	files, err := env.svc.ListVisible(id, b.ID, token)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestSoftDeleteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt", "two.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	token, _, err := env.svc.Verify(id, b.ID, "ABC123")
	require.NoError(t, err)

	files, err := env.svc.ListVisible(id, b.ID, token)
	require.NoError(t, err)
	require.Len(t, files, 2)
	first := files[0]

	// receiver deletes file one: hidden for receiver only
	del, err := env.svc.DeleteFile(id, first.ID, b.ID, token)
	require.NoError(t, err)
	assert.False(t, del.HardDeleted)
	assert.Equal(t, int64(1), del.RemainingVisible)

	receiverView, err := env.svc.ListVisible(id, b.ID, token)
	require.NoError(t, err)
	assert.Len(t, receiverView, 1)

	senderView, err := env.svc.ListVisible(id, a.ID, "")
	require.NoError(t, err)
	assert.Len(t, senderView, 2)

	// the hidden file can no longer be downloaded by the receiver
	_, _, err = env.svc.DownloadFile(id, first.ID, b.ID, token)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// sender deletes the same file: both sides deleted, row and blob purged
	del, err = env.svc.DeleteFile(id, first.ID, a.ID, "")
	require.NoError(t, err)
	assert.True(t, del.HardDeleted)
	assert.Equal(t, int64(1), del.RemainingVisible)

	var count int64
	require.NoError(t, env.db.Model(&models.TransferFile{}).Where("id = ?", first.ID).Count(&count).Error)
	assert.Zero(t, count, "hard-deleted row must not persist")
	assert.False(t, env.store.Exists(first.StoredFilename), "hard-deleted blob must be unlinked")

	senderView, err = env.svc.ListVisible(id, a.ID, "")
	require.NoError(t, err)
	assert.Len(t, senderView, 1)
}

func TestDeleteFilePurgesWhenOtherSideAlreadyDeleted(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	files, err := env.svc.ListVisible(id, a.ID, "")
	require.NoError(t, err)
	stored := files[0].StoredFilename

	// the receiver's timestamp lands outside this call, as another
	// committed transaction would write it
	receiverDeleted := time.Now().UTC()
	require.NoError(t, env.db.Model(&models.TransferFile{}).
		Where("id = ?", files[0].ID).
		UpdateColumn("receiver_deleted_at", &receiverDeleted).Error)

	// the sender's delete must see that write and purge, never leave the
	// row behind with both timestamps set
	del, err := env.svc.DeleteFile(id, files[0].ID, a.ID, "")
	require.NoError(t, err)
	assert.True(t, del.HardDeleted)

	var count int64
	require.NoError(t, env.db.Model(&models.TransferFile{}).Where("id = ?", files[0].ID).Count(&count).Error)
	assert.Zero(t, count)
	assert.False(t, env.store.Exists(stored))
}

func TestDeleteFileAuthorization(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")
	c := env.createUser(t, "c@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	files, err := env.svc.ListVisible(id, a.ID, "")
	require.NoError(t, err)
	fileID := files[0].ID

	// receiver without token
	_, err = env.svc.DeleteFile(id, fileID, b.ID, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// stranger
	_, err = env.svc.DeleteFile(id, fileID, c.ID, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// unknown file
	_, err = env.svc.DeleteFile(id, fileID+100, a.ID, "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCountIncoming(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	count, err := env.svc.CountIncoming(b.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)

	count, err = env.svc.CountIncoming(b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// opening the transfer removes it from the pending count
	_, _, err = env.svc.Verify(result.Transfer.ID, b.ID, "ABC123")
	require.NoError(t, err)
	count, err = env.svc.CountIncoming(b.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCountIncomingIgnoresFullyDeletedTransfers(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	// hide the only file from the receiver while the transfer stays pending
	require.NoError(t, env.db.Model(&models.TransferFile{}).
		Where("transfer_id = ?", id).
		Update("receiver_deleted_at", time.Now()).Error)

	count, err := env.svc.CountIncoming(b.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestListReceivedAndSent(t *testing.T) {
	env := newTestEnv(t)
	a := env.createUser(t, "a@example.com")
	b := env.createUser(t, "b@example.com")

	result, err := env.svc.CreateTransfer(a.ID, b.ID, "ABC123", textFiles("one.txt", "two.txt"))
	require.NoError(t, err)
	id := result.Transfer.ID

	received, err := env.svc.ListReceived(b.ID)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, id, received[0].TransferID)
	assert.Equal(t, "a@example.com", received[0].SenderEmail)
	assert.Equal(t, "b@example.com", received[0].ReceiverEmail)
	assert.Equal(t, 2, received[0].FileCount)
	assert.Empty(t, received[0].CodeHint, "receiver must not see the code hint")

	sent, err := env.svc.ListSent(a.ID)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, 2, sent[0].FileCount)
	assert.Equal(t, "len:6 ends:23", sent[0].CodeHint)

	// receiver deletes everything: the transfer disappears from their list
	token, _, err := env.svc.Verify(id, b.ID, "ABC123")
	require.NoError(t, err)
	files, err := env.svc.ListVisible(id, b.ID, token)
	require.NoError(t, err)
	for _, f := range files {
		_, err := env.svc.DeleteFile(id, f.ID, b.ID, token)
		require.NoError(t, err)
	}

	received, err = env.svc.ListReceived(b.ID)
	require.NoError(t, err)
	assert.Empty(t, received)

	sent, err = env.svc.ListSent(a.ID)
	require.NoError(t, err)
	require.Len(t, sent, 1, "sender still sees the transfer")
	assert.Equal(t, 2, sent[0].FileCount)
}

package services

import (
	"archive/zip"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"github.com/sjaiswal27/courierdrop/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// crcWorkers bounds the concurrency of the CRC pre-pass over blobs.
const crcWorkers = 4

type zipEntry struct {
	name       string
	storedName string
	size       int64
	crc        uint32
}

// ZipArchive is a fully planned bundle export: entry names are deduplicated,
// sizes and checksums are known, so the exact byte length of the archive can
// be advertised before a single byte is streamed. Entries are written
// uncompressed (STORED), one file at a time.
type ZipArchive struct {
	Filename string
	Modified time.Time

	entries []zipEntry
	store   *storage.Store
}

// BuildZip plans the archive of every file currently visible to the caller's
// side of the transfer. Blobs missing from storage are skipped; a plan with
// no entries fails NotFound.
func (s *TransferService) BuildZip(ctx context.Context, transferID, userID uint, transferToken string) (*ZipArchive, error) {
	files, err := s.ListVisible(transferID, userID, transferToken)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperr.NotFound("No files in transfer")
	}

	archive := &ZipArchive{
		Filename: fmt.Sprintf("transfer_%d.zip", transferID),
		store:    s.store,
	}
	used := make(map[string]bool)
	for _, tf := range files {
		if !s.store.Exists(tf.StoredFilename) {
			continue
		}
		name := storage.SanitizeFilename(tf.OriginalFilename)
		if used[name] {
			base := name
			for i := 2; ; i++ {
				name = fmt.Sprintf("%s (%d)", base, i)
				if !used[name] {
					break
				}
			}
		}
		used[name] = true
		archive.entries = append(archive.entries, zipEntry{name: name, storedName: tf.StoredFilename})
		if tf.CreatedAt.After(archive.Modified) {
			archive.Modified = tf.CreatedAt
		}
	}
	if len(archive.entries) == 0 {
		return nil, apperr.NotFound("No files in transfer")
	}

	// CRC pre-pass: sizes and checksums must be known up front so the
	// archive length is exact and no data descriptors are needed.
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(crcWorkers)
	for i := range archive.entries {
		e := &archive.entries[i]
		g.Go(func() error {
			blob, err := s.store.Open(e.storedName)
			if err != nil {
				return err
			}
			defer blob.Close()
			h := crc32.NewIEEE()
			n, err := io.Copy(h, blob)
			if err != nil {
				return fmt.Errorf("checksum %s: %w", e.storedName, err)
			}
			e.size = n
			e.crc = h.Sum32()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal(err)
	}

	s.audit.Record("transfer_zip_download",
		zap.Uint("user_id", userID),
		zap.Uint("transfer_id", transferID),
		zap.Int("file_count", len(archive.entries)),
	)
	return archive, nil
}

// ContentLength is the exact size in bytes of the archive WriteTo produces.
// With STORED entries, no per-entry timestamps, and sizes in the local
// headers, the layout is fixed: a 30-byte local header and a 46-byte central
// directory record per entry (plus the name, twice), the raw file bytes, and
// the 22-byte end-of-central-directory record.
func (a *ZipArchive) ContentLength() int64 {
	var total int64 = 22
	for _, e := range a.entries {
		total += 30 + int64(len(e.name)) + e.size
		total += 46 + int64(len(e.name))
	}
	return total
}

// WriteTo streams the archive, reading one blob at a time. A client
// disconnect surfaces as a write error and simply stops the stream; nothing
// here mutates the store.
func (a *ZipArchive) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, e := range a.entries {
		hdr := &zip.FileHeader{
			Name:               e.name,
			Method:             zip.Store,
			CRC32:              e.crc,
			CompressedSize64:   uint64(e.size),
			UncompressedSize64: uint64(e.size),
		}
		entry, err := zw.CreateRaw(hdr)
		if err != nil {
			return cw.n, err
		}
		blob, err := a.store.Open(e.storedName)
		if err != nil {
			return cw.n, err
		}
		_, err = io.Copy(entry, blob)
		blob.Close()
		if err != nil {
			return cw.n, err
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

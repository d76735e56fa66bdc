package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"

	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/utils"
)

func (m *Manager) download(ctx context.Context, job *Job) *Result {
	result := &Result{Job: job}

	streamID := job.Object.StreamID
	if streamID == "" {
		result.Err = fmt.Errorf("download %q: object has no content stream", job.Object.ID)
		return result
	}

	// total length is nullable; not all content streams report one
	var total *int64
	expectedHash := job.Object.ContentHash
	if info, err := m.session.ContentInfo(ctx, streamID); err == nil {
		total = info.Length
		if info.Hash != "" {
			expectedHash = info.Hash
		}
	} else if job.Object.ContentLength != nil {
		total = job.Object.ContentLength
	}

	partPath := job.LocalPath + PartSuffix
	digest := sha256.New()

	offset, err := m.resumeDownload(ctx, job, partPath, digest)
	if err != nil {
		result.Err = err
		return result
	}

	if err := utils.EnsureParent(partPath); err != nil {
		result.Err = err
		return result
	}
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		result.Err = fmt.Errorf("open part file: %w", err)
		return result
	}
	defer file.Close()

	if err := file.Truncate(offset); err != nil {
		result.Err = fmt.Errorf("truncate part file: %w", err)
		return result
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		result.Err = fmt.Errorf("seek part file: %w", err)
		return result
	}

	if m.opts.ChunkSize > 0 {
		offset, err = m.downloadChunked(ctx, job, file, streamID, offset, total, digest)
	} else {
		offset, err = m.downloadSimple(ctx, job, file, streamID, offset, total, digest)
	}
	if err != nil {
		result.Err = err
		return result
	}

	if err := file.Sync(); err != nil {
		result.Err = fmt.Errorf("sync part file: %w", err)
		return result
	}
	if err := file.Close(); err != nil {
		result.Err = fmt.Errorf("close part file: %w", err)
		return result
	}

	checksum := hex.EncodeToString(digest.Sum(nil))
	if expectedHash != "" && expectedHash != checksum {
		// corrupted artifact must not survive as a resume candidate
		_ = os.Remove(partPath)
		_ = m.store.DeleteTransfer(job.Object.ID)
		result.Err = fmt.Errorf("%w: got %s, want %s", ErrContentCorrupted, checksum, expectedHash)
		return result
	}

	if err := os.Rename(partPath, job.LocalPath); err != nil {
		result.Err = fmt.Errorf("finalize download: %w", err)
		return result
	}

	if err := m.store.DeleteTransfer(job.Object.ID); err != nil {
		slog.Warn("drop transfer checkpoint", "id", job.Object.ID, "error", err)
	}

	result.Token = job.Object.ChangeToken
	result.Checksum = checksum
	result.Size = offset
	return result
}

// resumeDownload validates the checkpoint against the live object's change
// token and the actual part-file length; any mismatch restarts from zero.
// The token carried on the job may itself be stale, so the object is
// re-fetched like the upload resume does.
func (m *Manager) resumeDownload(ctx context.Context, job *Job, partPath string, digest hash.Hash) (int64, error) {
	rec, err := m.store.TransferFor(job.Object.ID)
	if err != nil {
		return 0, err
	}
	if rec == nil || rec.Direction != store.TransferDownload {
		return 0, nil
	}

	live, err := m.session.ObjectByID(ctx, job.Object.ID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return 0, err
	}

	info, statErr := os.Stat(partPath)
	valid := statErr == nil && live != nil &&
		rec.ChangeToken == live.ChangeToken &&
		rec.LocalPath == job.LocalPath &&
		rec.BytesDone > 0 && info.Size() >= rec.BytesDone

	if !valid {
		slog.Info("download resume refused, restarting", "path", job.LocalPath)
		_ = os.Remove(partPath)
		if err := m.store.DeleteTransfer(job.Object.ID); err != nil {
			return 0, err
		}
		return 0, nil
	}

	if err := rehashFileN(partPath, digest, rec.BytesDone); err != nil {
		return 0, fmt.Errorf("rehash confirmed bytes: %w", err)
	}

	slog.Info("download resumed", "path", job.LocalPath, "offset", rec.BytesDone)
	return rec.BytesDone, nil
}

func (m *Manager) downloadChunked(ctx context.Context, job *Job, file *os.File, streamID string, offset int64, total *int64, digest hash.Hash) (int64, error) {
	for {
		if total != nil && offset >= *total {
			break
		}

		var chunk []byte
		err := withRetry(ctx, m.opts.MaxAttempts, m.opts.RetryBase, m.opts.RetryMax, func() error {
			rc, err := m.session.ReadContent(ctx, streamID, offset, m.opts.ChunkSize)
			if err != nil {
				return err
			}
			defer rc.Close()

			data, err := io.ReadAll(io.LimitReader(rc, m.opts.ChunkSize))
			if err != nil {
				return err
			}
			chunk = data
			return nil
		})
		if err != nil {
			return 0, err
		}

		if len(chunk) == 0 {
			break
		}

		if _, err := file.Write(chunk); err != nil {
			return 0, fmt.Errorf("write part file: %w", err)
		}
		digest.Write(chunk)
		offset += int64(len(chunk))

		if err := m.checkpoint(job, store.TransferDownload, job.Object.ChangeToken, offset, total); err != nil {
			return 0, err
		}
		m.observe(job, offset, total)

		if int64(len(chunk)) < m.opts.ChunkSize {
			break
		}
	}
	return offset, nil
}

func (m *Manager) downloadSimple(ctx context.Context, job *Job, file *os.File, streamID string, offset int64, total *int64, digest hash.Hash) (int64, error) {
	rc, err := m.session.ReadContent(ctx, streamID, offset, -1)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(io.MultiWriter(file, digest), rc)
	if err != nil {
		return 0, fmt.Errorf("stream download: %w", err)
	}
	offset += n
	m.observe(job, offset, total)
	return offset, nil
}

func rehashFileN(path string, digest hash.Hash, n int64) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.CopyN(digest, file, n)
	return err
}

package transfer

import (
	"bytes"
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
)

func (m *Manager) upload(ctx context.Context, job *Job) *Result {
	result := &Result{Job: job}

	info, err := os.Stat(job.LocalPath)
	if err != nil {
		result.Err = fmt.Errorf("stat %q: %w", job.LocalPath, err)
		return result
	}
	size := info.Size()

	var token, checksum string
	if m.opts.ChunkSize > 0 {
		token, checksum, err = m.uploadChunked(ctx, job, size)
	} else {
		token, checksum, err = m.uploadSimple(ctx, job, size)
	}
	if err != nil {
		result.Err = err
		return result
	}

	if err := m.verifyRemoteHash(ctx, job.Object.ID, checksum); err != nil {
		result.Err = err
		return result
	}

	if err := m.store.DeleteTransfer(job.Object.ID); err != nil {
		slog.Warn("drop transfer checkpoint", "id", job.Object.ID, "error", err)
	}

	result.Token = token
	result.Checksum = checksum
	result.Size = size
	return result
}

func (m *Manager) uploadSimple(ctx context.Context, job *Job, size int64) (string, string, error) {
	var token string
	digest := sha256.New()

	err := withRetry(ctx, m.opts.MaxAttempts, m.opts.RetryBase, m.opts.RetryMax, func() error {
		digest.Reset()

		file, err := os.Open(job.LocalPath)
		if err != nil {
			return fmt.Errorf("open %q: %w", job.LocalPath, err)
		}
		defer file.Close()

		newToken, err := m.session.WriteContent(ctx, job.Object.ID, job.Object.ChangeToken,
			io.TeeReader(file, digest), remote.WriteOverwrite)
		if err != nil {
			return err
		}
		token = newToken
		return nil
	})
	if err != nil {
		return "", "", err
	}

	m.observe(job, size, &size)
	return token, hex.EncodeToString(digest.Sum(nil)), nil
}

func (m *Manager) uploadChunked(ctx context.Context, job *Job, size int64) (string, string, error) {
	token := job.Object.ChangeToken
	digest := sha256.New()

	offset, token, err := m.resumeUpload(ctx, job, size, token, digest)
	if err != nil {
		return "", "", err
	}

	file, err := os.Open(job.LocalPath)
	if err != nil {
		return "", "", fmt.Errorf("open %q: %w", job.LocalPath, err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("seek %q: %w", job.LocalPath, err)
	}

	buf := make([]byte, m.opts.ChunkSize)
	for offset < size {
		n := m.opts.ChunkSize
		if remaining := size - offset; remaining < n {
			n = remaining
		}

		if _, err := io.ReadFull(file, buf[:n]); err != nil {
			return "", "", fmt.Errorf("read chunk at %d: %w", offset, err)
		}

		mode := remote.WriteAppend
		if offset == 0 {
			mode = remote.WriteOverwrite
		}

		err := withRetry(ctx, m.opts.MaxAttempts, m.opts.RetryBase, m.opts.RetryMax, func() error {
			newToken, err := m.session.WriteContent(ctx, job.Object.ID, token, bytes.NewReader(buf[:n]), mode)
			if err != nil {
				return err
			}
			token = newToken
			return nil
		})
		if err != nil {
			return "", "", err
		}

		digest.Write(buf[:n])
		offset += n

		if err := m.checkpoint(job, store.TransferUpload, token, offset, &size); err != nil {
			return "", "", err
		}
		m.observe(job, offset, &size)
	}

	if size == 0 {
		// no bytes to send; clear the stream so remote and local agree
		err := withRetry(ctx, m.opts.MaxAttempts, m.opts.RetryBase, m.opts.RetryMax, func() error {
			newToken, err := m.session.WriteContent(ctx, job.Object.ID, token, bytes.NewReader(nil), remote.WriteOverwrite)
			if err != nil {
				return err
			}
			token = newToken
			return nil
		})
		if err != nil {
			return "", "", err
		}
		m.observe(job, 0, &size)
	}

	return token, hex.EncodeToString(digest.Sum(nil)), nil
}

// resumeUpload decides where the upload starts. Resume is refused unless
// the recorded change token still matches the live object and the recorded
// byte count is consistent with the local file; silently resuming against a
// changed remote object would corrupt the digest and falsify the final
// integrity check.
func (m *Manager) resumeUpload(ctx context.Context, job *Job, size int64, token string, digest hash.Hash) (int64, string, error) {
	rec, err := m.store.TransferFor(job.Object.ID)
	if err != nil {
		return 0, "", err
	}
	if rec == nil || rec.Direction != store.TransferUpload {
		return 0, token, nil
	}

	live, err := m.session.ObjectByID(ctx, job.Object.ID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return 0, "", err
	}

	valid := live != nil &&
		live.ChangeToken == rec.ChangeToken &&
		rec.LocalPath == job.LocalPath &&
		rec.BytesDone > 0 && rec.BytesDone <= size

	if !valid {
		slog.Info("upload resume refused, restarting", "path", job.LocalPath)
		if err := m.store.DeleteTransfer(job.Object.ID); err != nil {
			return 0, "", err
		}
		if live != nil && live.HasContent() {
			// drop the partial remote stream before starting over
			newToken, err := m.session.DeleteContent(ctx, job.Object.ID, live.ChangeToken)
			if err != nil {
				return 0, "", fmt.Errorf("clear partial upload: %w", err)
			}
			return 0, newToken, nil
		}
		if live != nil {
			return 0, live.ChangeToken, nil
		}
		return 0, token, nil
	}

	// rebuild the rolling digest over the already-confirmed bytes
	file, err := os.Open(job.LocalPath)
	if err != nil {
		return 0, "", fmt.Errorf("open %q: %w", job.LocalPath, err)
	}
	defer file.Close()

	if _, err := io.CopyN(digest, file, rec.BytesDone); err != nil {
		return 0, "", fmt.Errorf("rehash confirmed bytes: %w", err)
	}

	slog.Info("upload resumed", "path", job.LocalPath, "offset", rec.BytesDone)
	return rec.BytesDone, rec.ChangeToken, nil
}

// verifyRemoteHash compares the finalized digest against the hash the
// remote advertises after the write. Mismatch is content corruption, never
// silently accepted.
func (m *Manager) verifyRemoteHash(ctx context.Context, objectID, checksum string) error {
	live, err := m.session.ObjectByID(ctx, objectID)
	if err != nil {
		// verification is best-effort when the object cannot be re-read
		slog.Warn("post-upload verification skipped", "id", objectID, "error", err)
		return nil
	}
	if live.ContentHash != "" && live.ContentHash != checksum {
		return fmt.Errorf("%w: local %s, remote %s", ErrContentCorrupted, checksum, live.ContentHash)
	}
	return nil
}

func (m *Manager) checkpoint(job *Job, dir store.TransferDirection, token string, done int64, total *int64) error {
	return m.store.SaveTransfer(&store.TransferRecord{
		RemoteID:    job.Object.ID,
		LocalPath:   job.LocalPath,
		Direction:   dir,
		ChangeToken: token,
		BytesDone:   done,
		TotalBytes:  total,
	})
}

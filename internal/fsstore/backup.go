package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
	"go.uber.org/zap"
)

const (
	// BackupDirSuffix names the sibling directory holding a file's backups.
	BackupDirSuffix = ".backups"
	// BackupExt is the extension of every backup file.
	BackupExt = ".bak"

	stampLayout = "2006-01-02T15:04:05.000Z"
)

// Backup is one snapshot of a file.
type Backup struct {
	Path string    `json:"path"`
	Time time.Time `json:"time"`
}

// BackupDir returns the directory holding backups of path.
func BackupDir(path string) string {
	return filepath.Join(filepath.Dir(path), filepath.Base(path)+BackupDirSuffix)
}

// FormatStamp renders t as a filesystem-safe ISO-8601 stamp:
// 2006-01-02T15-04-05-000Z.
func FormatStamp(t time.Time) string {
	s := t.UTC().Format(stampLayout)
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// ParseStamp is the inverse of FormatStamp.
func ParseStamp(stamp string) (time.Time, error) {
	date, clock, ok := strings.Cut(stamp, "T")
	if !ok {
		return time.Time{}, fmt.Errorf("stamp %q has no time part", stamp)
	}
	parts := strings.Split(strings.TrimSuffix(clock, "Z"), "-")
	if len(parts) != 4 || !strings.HasSuffix(clock, "Z") {
		return time.Time{}, fmt.Errorf("stamp %q is malformed", stamp)
	}
	iso := fmt.Sprintf("%sT%s:%s:%s.%sZ", date, parts[0], parts[1], parts[2], parts[3])
	return time.Parse(stampLayout, iso)
}

// CreateBackup copies path into its backup directory under a
// timestamp-suffixed name and returns the backup's path.
func (s *Store) CreateBackup(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errs.New(errs.BackupError, "backup", "source file does not exist").WithPath(path)
		}
		return "", errs.WrapPath(errs.BackupError, "backup", path, err)
	}
	defer src.Close()

	dir := BackupDir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.WrapPath(errs.BackupError, "backup", path, fmt.Errorf("creating backup directory: %w", err))
	}

	base := filepath.Base(path)
	stamp := s.now().UTC()
	var dst *os.File
	var dstPath string
	// Two backups within the same millisecond would collide; nudge forward.
	for i := 0; i < 1000; i++ {
		dstPath = filepath.Join(dir, base+"."+FormatStamp(stamp)+BackupExt)
		dst, err = os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", errs.WrapPath(errs.BackupError, "backup", path, err)
		}
		stamp = stamp.Add(time.Millisecond)
	}
	if dst == nil {
		return "", errs.WrapPath(errs.BackupError, "backup", path, fmt.Errorf("no free backup name: %w", err))
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", errs.WrapPath(errs.BackupError, "backup", path, fmt.Errorf("copying: %w", err))
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return "", errs.WrapPath(errs.BackupError, "backup", path, fmt.Errorf("closing backup: %w", err))
	}

	s.logger.Debug("backup created", zap.String("file", path), zap.String("backup", dstPath))
	return dstPath, nil
}

// ListBackups returns path's backups, most recent first. Files in the
// backup directory that do not follow the naming scheme are ignored.
func (s *Store) ListBackups(path string) ([]Backup, error) {
	dir := BackupDir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.WrapPath(errs.BackupError, "list backups", path, err)
	}

	prefix := filepath.Base(path) + "."
	var backups []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, BackupExt) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), BackupExt)
		t, err := ParseStamp(stamp)
		if err != nil {
			continue
		}
		backups = append(backups, Backup{Path: filepath.Join(dir, name), Time: t})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Time.Equal(backups[j].Time) {
			return backups[i].Time.After(backups[j].Time)
		}
		return backups[i].Path > backups[j].Path
	})
	return backups, nil
}

// CleanupBackups deletes all but the keep most recent backups of path.
func (s *Store) CleanupBackups(path string, keep int) error {
	if keep < 0 {
		return errs.New(errs.InvalidArgument, "cleanup backups", fmt.Sprintf("keep must be >= 0, got %d", keep)).WithPath(path)
	}
	backups, err := s.ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) <= keep {
		return nil
	}

	var failures []error
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failures = append(failures, err)
		}
	}
	s.logger.Debug("backups pruned",
		zap.String("file", path), zap.Int("kept", keep), zap.Int("removed", len(backups)-keep-len(failures)))

	if len(failures) > 0 {
		return errs.WrapPath(errs.BackupError, "cleanup backups", path, errors.Join(failures...))
	}
	return nil
}

// RestoreFromBackup atomically replaces targetPath with the contents of
// backupPath. The current target, if any, is snapshotted first so the
// restore itself can be undone. With WithRestoreKeep set, older backups
// are then pruned; a failed prune is logged and does not fail the restore.
func (s *Store) RestoreFromBackup(ctx context.Context, backupPath, targetPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.New(errs.BackupError, "restore", "backup does not exist").WithPath(backupPath)
		}
		return errs.WrapPath(errs.RestoreError, "restore", backupPath, err)
	}

	err = s.locks.WithLock(ctx, targetPath, s.lockTimeout, func(ctx context.Context) error {
		if Exists(targetPath) {
			if _, err := s.CreateBackup(targetPath); err != nil {
				return err
			}
		}
		if err := s.writeAtomic(targetPath, data); err != nil {
			return err
		}
		if s.restoreKeep > 0 {
			if err := s.CleanupBackups(targetPath, s.restoreKeep); err != nil {
				s.logger.Warn("backup cleanup failed", zap.String("file", targetPath), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		if errs.KindOf(err) == errs.LockTimeout {
			return err
		}
		return errs.WrapPath(errs.RestoreError, "restore", targetPath, err)
	}

	s.logger.Info("restored from backup", zap.String("file", targetPath), zap.String("backup", backupPath))
	return nil
}

// Package backup copies mutable config artifacts into the root home on the
// data volume before anything is patched. Backups land on the data volume so
// they survive the later system-volume remount.
package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sealpatch/sealpatch/internal/safety"
)

// timestampLayout is the suffix appended to every backup file name.
const timestampLayout = "20060102150405"

// Copy records one verified backup.
type Copy struct {
	ID        string
	Source    string
	Dest      string
	Size      int64
	Verified  bool
	CreatedAt time.Time
}

// Manager creates timestamped, attribute-preserving backups in DestDir.
type Manager struct {
	DestDir string
	// Clock is swapped in tests for deterministic names.
	Clock  func() time.Time
	logger *slog.Logger
}

// NewManager creates a Manager writing backups under destDir.
func NewManager(destDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		DestDir: destDir,
		Clock:   time.Now,
		logger:  logger,
	}
}

// Name derives the backup file name for a source path at the given time:
// the path with separators flattened to underscores plus a timestamp suffix.
func Name(source string, ts time.Time) string {
	return safety.FlattenPath(source) + "." + ts.Format(timestampLayout)
}

// Backup copies source into DestDir and independently verifies the copy
// landed. Earlier backups are left in place when a later one fails.
func (m *Manager) Backup(source string) (*Copy, error) {
	ts := m.Clock()
	dest := filepath.Join(m.DestDir, Name(source, ts))

	dest, err := safety.EnsureUnderRoot(m.DestDir, dest)
	if err != nil {
		return nil, fmt.Errorf("backup destination: %w", err)
	}

	srcInfo, err := copyPreserving(source, dest)
	if err != nil {
		return nil, fmt.Errorf("backing up %s: %w", source, err)
	}

	// Independent post-copy check: the file must exist with the full size.
	destInfo, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("verifying backup %s: %w", dest, err)
	}
	if destInfo.Size() != srcInfo.Size() {
		return nil, fmt.Errorf("backup %s is %d bytes, want %d", dest, destInfo.Size(), srcInfo.Size())
	}

	m.logger.Info("backup created", "source", source, "dest", dest, "size", destInfo.Size())

	return &Copy{
		ID:        uuid.NewString(),
		Source:    source,
		Dest:      dest,
		Size:      destInfo.Size(),
		Verified:  true,
		CreatedAt: ts,
	}, nil
}

// copyPreserving copies bytes, mode, and modification time.
func copyPreserving(source, dest string) (os.FileInfo, error) {
	srcInfo, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if srcInfo.IsDir() {
		return nil, fmt.Errorf("%s is a directory", source)
	}

	in, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return nil, err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	if err := os.Chtimes(dest, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return nil, err
	}
	return srcInfo, nil
}

package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var fixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

// TestName checks the exact flattened, timestamped file name
func TestName(t *testing.T) {
	got := Name("/System/Library/LaunchDaemons/ssh.plist", fixedTime)
	want := "System_Library_LaunchDaemons_ssh.plist.20240101120000"
	if got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}

// TestBackup copies, preserves attributes, and verifies
func TestBackup(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	source := filepath.Join(srcDir, "sshd_config")
	content := []byte("PermitRootLogin yes\n")
	if err := os.WriteFile(source, content, 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	modTime := time.Date(2023, 6, 1, 8, 30, 0, 0, time.UTC)
	if err := os.Chtimes(source, modTime, modTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	m := NewManager(destDir, nil)
	m.Clock = fixedClock

	cp, err := m.Backup(source)
	if err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}

	if cp.ID == "" {
		t.Errorf("Copy.ID is empty, want a uuid")
	}
	if !cp.Verified {
		t.Errorf("Copy.Verified = false, want true")
	}
	if cp.Size != int64(len(content)) {
		t.Errorf("Copy.Size = %d, want %d", cp.Size, len(content))
	}

	got, err := os.ReadFile(cp.Dest)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("backup content = %q, want %q", got, content)
	}

	fi, err := os.Stat(cp.Dest)
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("backup mode = %v, want 0600", fi.Mode().Perm())
	}
	if !fi.ModTime().Equal(modTime) {
		t.Errorf("backup mtime = %v, want %v", fi.ModTime(), modTime)
	}

	wantName := Name(source, fixedTime)
	if filepath.Base(cp.Dest) != wantName {
		t.Errorf("backup name = %q, want %q", filepath.Base(cp.Dest), wantName)
	}
}

// TestBackupMissingSource fails before creating anything
func TestBackupMissingSource(t *testing.T) {
	destDir := t.TempDir()
	m := NewManager(destDir, nil)
	m.Clock = fixedClock

	if _, err := m.Backup(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("Backup() succeeded on missing source, want error")
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatalf("read dest dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("dest dir has %d entries after failed backup, want 0", len(entries))
	}
}

// TestBackupLeavesEarlierCopies keeps prior backups when a later one fails
func TestBackupLeavesEarlierCopies(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()

	first := filepath.Join(srcDir, "first")
	if err := os.WriteFile(first, []byte("one\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewManager(destDir, nil)
	m.Clock = fixedClock

	cp, err := m.Backup(first)
	if err != nil {
		t.Fatalf("Backup() failed: %v", err)
	}
	if _, err := m.Backup(filepath.Join(srcDir, "absent")); err == nil {
		t.Fatalf("Backup() of missing source succeeded, want error")
	}

	if _, err := os.Stat(cp.Dest); err != nil {
		t.Errorf("earlier backup gone after failure: %v", err)
	}
}

// TestBackupRejectsDirectory refuses to back up a directory
func TestBackupRejectsDirectory(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	m.Clock = fixedClock
	if _, err := m.Backup(t.TempDir()); err == nil {
		t.Errorf("Backup() of a directory succeeded, want error")
	}
}

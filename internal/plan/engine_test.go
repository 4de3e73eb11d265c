package plan

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sealpatch/sealpatch/internal/artifact"
	"github.com/sealpatch/sealpatch/internal/config"
	"github.com/sealpatch/sealpatch/internal/diskutil"
	"github.com/sealpatch/sealpatch/internal/executil"
	"github.com/sealpatch/sealpatch/internal/store"
)

const sshPlistFixture = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>Sockets</key>
	<dict>
		<key>Listeners</key>
		<dict>
			<key>SockServiceName</key>
			<string>ssh</string>
			<key>Bonjour</key>
			<array>
				<string>ssh</string>
				<string>sftp-ssh</string>
			</array>
		</dict>
	</dict>
</dict>
</plist>
`

const screenSharingPlistFixture = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>Sockets</key>
	<dict>
		<key>Listener</key>
		<dict>
			<key>Bonjour</key>
			<string>rfb</string>
			<key>SockServiceName</key>
			<string>vnc-server</string>
		</dict>
	</dict>
</dict>
</plist>
`

type fixture struct {
	engine *Engine
	inputs Inputs
	runner *executil.FakeRunner
	store  *store.Store
	out    *bytes.Buffer
}

// newFixture lays out two temp-dir "volumes" with all artifacts, one user,
// a scripted runner, and a real sqlite journal.
func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	systemMount := t.TempDir()
	dataMount := t.TempDir()

	mustWrite := func(path, content string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	mustWrite(filepath.Join(systemMount, "System/Library/LaunchDaemons/ssh.plist"), sshPlistFixture)
	mustWrite(filepath.Join(systemMount, "System/Library/LaunchDaemons/com.apple.screensharing.plist"), screenSharingPlistFixture)
	mustWrite(filepath.Join(dataMount, "private/etc/ssh/sshd_config"), "UsePAM yes\n")
	for _, d := range []string{"private/var/root", "Users/alice", "Users/Shared"} {
		if err := os.MkdirAll(filepath.Join(dataMount, d), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	arts := artifact.Resolve(systemMount, dataMount, "Users")
	if err := arts.Verify(); err != nil {
		t.Fatalf("fixture artifacts incomplete: %v", err)
	}

	inputs := Inputs{
		System:    diskutil.VolumeRef{Device: "/dev/disk3s1", Name: "Macintosh HD", MountPoint: systemMount},
		Data:      diskutil.VolumeRef{Device: "/dev/disk3s5", Name: "Macintosh HD - Data", MountPoint: dataMount},
		Artifacts: arts,
		Users:     []string{"alice"},
	}

	runner := executil.NewFakeRunner()
	runner.Script("csrutil authenticated-root status", []byte("Authenticated Root status: enabled\n"), nil)
	runner.Script("umount -f /dev/disk3s1", nil, nil)

	st, err := store.New(filepath.Join(t.TempDir(), "journal.db"), slog.Default())
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := NewEngine(cfg, runner, st, slog.Default())
	out := &bytes.Buffer{}
	e.Out = out
	e.BackupClock = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	// The remount lands on a known temp dir so the mount command can be
	// scripted ahead of time.
	liveMount := t.TempDir()
	e.mkTemp = func() (string, error) { return liveMount, nil }
	runner.Script("mount -o rw -t apfs /dev/disk3s1 "+liveMount, nil, nil)

	return &fixture{engine: e, inputs: inputs, runner: runner, store: st, out: out}
}

// TestApplyFullRun walks the whole procedure against the backup target
func TestApplyFullRun(t *testing.T) {
	cfg := config.DefaultConfig()
	f := newFixture(t, cfg)

	p := f.engine.Build(f.inputs)
	result := f.engine.Apply(context.Background(), p, ApplyOptions{ConfirmDestructive: true})
	if result.Err != nil {
		t.Fatalf("Apply() failed: %v", result.Err)
	}
	if !result.Success {
		t.Fatalf("Apply() not successful")
	}
	if result.StepsRun != len(p.Steps) {
		t.Errorf("StepsRun = %d, want %d", result.StepsRun, len(p.Steps))
	}

	// sshd_config gained exactly the four directives.
	data, err := os.ReadFile(f.inputs.Artifacts.SSHDConfig.Path)
	if err != nil {
		t.Fatalf("read sshd_config: %v", err)
	}
	want := "UsePAM yes\n" +
		"PermitRootLogin no\n" +
		"PasswordAuthentication no\n" +
		"ChallengeResponseAuthentication no\n" +
		"AllowUsers alice\n"
	if string(data) != want {
		t.Errorf("sshd_config = %q, want %q", data, want)
	}

	// The live descriptors are untouched under the default backup target.
	live, err := os.ReadFile(f.inputs.Artifacts.SSHDescriptor.Path)
	if err != nil {
		t.Fatalf("read live descriptor: %v", err)
	}
	if string(live) != sshPlistFixture {
		t.Errorf("live SSH descriptor modified under backup target")
	}

	// The backup copies carry the port override. Names are the flattened
	// source path plus the fixed-clock timestamp.
	rootHome := f.inputs.Artifacts.RootHome.Path
	entries, err := os.ReadDir(rootHome)
	if err != nil {
		t.Fatalf("read root home: %v", err)
	}
	var found string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), "_ssh.plist.20240101120000") {
			found = filepath.Join(rootHome, entry.Name())
		}
	}
	if found == "" {
		t.Fatalf("timestamped ssh.plist backup not found under %s", rootHome)
	}
	patched, err := os.ReadFile(found)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !strings.Contains(string(patched), "<string>22022</string>") {
		t.Errorf("backup copy not patched:\n%s", patched)
	}

	// Printed, never executed: the snapshot command and the status query.
	printed := f.out.String()
	if !strings.Contains(printed, "bless --folder") || !strings.Contains(printed, "--create-snapshot") {
		t.Errorf("snapshot command not printed:\n%s", printed)
	}
	if !strings.Contains(printed, "Authenticated Root status: enabled") {
		t.Errorf("authenticated-root status not printed:\n%s", printed)
	}
	for _, call := range f.runner.Calls {
		if strings.HasPrefix(call, "bless") || strings.Contains(call, "authenticated-root disable") {
			t.Errorf("forbidden command executed: %s", call)
		}
	}

	// The run and its steps are journaled.
	runs, err := f.store.ListRuns(1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns() = %v, %v", runs, err)
	}
	if runs[0].Status != store.RunStatusCompleted {
		t.Errorf("journaled run status = %q, want completed", runs[0].Status)
	}
	steps, err := f.store.ListSteps(result.RunID)
	if err != nil {
		t.Fatalf("ListSteps() failed: %v", err)
	}
	if len(steps) != len(p.Steps) {
		t.Errorf("journaled %d steps, want %d", len(steps), len(p.Steps))
	}
	backups, err := f.store.ListBackups(10)
	if err != nil {
		t.Fatalf("ListBackups() failed: %v", err)
	}
	if len(backups) != 3 {
		t.Errorf("journaled %d backups, want 3", len(backups))
	}
}

// TestApplyLiveTarget patches the remounted files instead of the copies
func TestApplyLiveTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Patch.Target = config.TargetLive
	f := newFixture(t, cfg)

	// The live tree under the remount mirrors the system volume layout.
	liveMount, err := f.engine.mkTemp()
	if err != nil {
		t.Fatalf("mkTemp: %v", err)
	}
	for rel, content := range map[string]string{
		"System/Library/LaunchDaemons/ssh.plist":                     sshPlistFixture,
		"System/Library/LaunchDaemons/com.apple.screensharing.plist": screenSharingPlistFixture,
	} {
		path := filepath.Join(liveMount, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	p := f.engine.Build(f.inputs)
	result := f.engine.Apply(context.Background(), p, ApplyOptions{ConfirmDestructive: true})
	if result.Err != nil {
		t.Fatalf("Apply() failed: %v", result.Err)
	}

	patched, err := os.ReadFile(filepath.Join(liveMount, "System/Library/LaunchDaemons/ssh.plist"))
	if err != nil {
		t.Fatalf("read live descriptor: %v", err)
	}
	if !strings.Contains(string(patched), "<string>22022</string>") {
		t.Errorf("live descriptor not patched:\n%s", patched)
	}
}

// TestApplyDryRun performs nothing but journals the plan
func TestApplyDryRun(t *testing.T) {
	cfg := config.DefaultConfig()
	f := newFixture(t, cfg)

	p := f.engine.Build(f.inputs)
	result := f.engine.Apply(context.Background(), p, ApplyOptions{DryRun: true})
	if result.Err != nil {
		t.Fatalf("Apply() failed: %v", result.Err)
	}
	if !result.Success {
		t.Errorf("dry run not successful")
	}

	if len(f.runner.Calls) != 0 {
		t.Errorf("dry run executed commands: %v", f.runner.Calls)
	}

	data, err := os.ReadFile(f.inputs.Artifacts.SSHDConfig.Path)
	if err != nil {
		t.Fatalf("read sshd_config: %v", err)
	}
	if string(data) != "UsePAM yes\n" {
		t.Errorf("dry run modified sshd_config: %q", data)
	}

	entries, err := os.ReadDir(f.inputs.Artifacts.RootHome.Path)
	if err != nil {
		t.Fatalf("read root home: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("dry run created backups: %v", entries)
	}

	steps, err := f.store.ListSteps(result.RunID)
	if err != nil {
		t.Fatalf("ListSteps() failed: %v", err)
	}
	for _, s := range steps {
		if s.Status != store.StepStatusPlanned {
			t.Errorf("step %s status = %q, want planned", s.StepID, s.Status)
		}
	}
}

// TestApplyRequiresConfirmation aborts at the destructive remount
func TestApplyRequiresConfirmation(t *testing.T) {
	cfg := config.DefaultConfig()
	f := newFixture(t, cfg)

	p := f.engine.Build(f.inputs)
	result := f.engine.Apply(context.Background(), p, ApplyOptions{})
	if !errors.Is(result.Err, ErrConfirmationRequired) {
		t.Fatalf("Apply() error = %v, want ErrConfirmationRequired", result.Err)
	}
	if result.Success {
		t.Errorf("Apply() reported success despite abort")
	}

	// Backups before the destructive step were made and stay in place.
	entries, err := os.ReadDir(f.inputs.Artifacts.RootHome.Path)
	if err != nil {
		t.Fatalf("read root home: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("found %d backups before abort, want 3", len(entries))
	}

	runs, err := f.store.ListRuns(1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns() = %v, %v", runs, err)
	}
	if runs[0].Status != store.RunStatusFailed {
		t.Errorf("journaled run status = %q, want failed", runs[0].Status)
	}
}

// TestApplyAbortsOnStepFailure stops at the first failing step
func TestApplyAbortsOnStepFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	f := newFixture(t, cfg)

	// Make the remount fail.
	f.runner.Script("umount -f /dev/disk3s1", nil, errors.New("resource busy"))

	p := f.engine.Build(f.inputs)
	result := f.engine.Apply(context.Background(), p, ApplyOptions{ConfirmDestructive: true})
	if result.Err == nil {
		t.Fatalf("Apply() succeeded, want remount failure")
	}
	if !strings.Contains(result.Err.Error(), "remount-system-volume") {
		t.Errorf("error %v does not name the failing step", result.Err)
	}

	// The daemon config after the failed step is untouched.
	data, err := os.ReadFile(f.inputs.Artifacts.SSHDConfig.Path)
	if err != nil {
		t.Fatalf("read sshd_config: %v", err)
	}
	if string(data) != "UsePAM yes\n" {
		t.Errorf("sshd_config modified after aborted run: %q", data)
	}
}

// TestBuildGatesDisableInstruction includes the csrutil note only when allowed
func TestBuildGatesDisableInstruction(t *testing.T) {
	cfg := config.DefaultConfig()
	f := newFixture(t, cfg)
	p := f.engine.Build(f.inputs)
	for _, s := range p.Steps {
		if s.ID == "note-authenticated-root-disable" {
			t.Errorf("disable instruction present despite default config")
		}
	}

	cfg2 := config.DefaultConfig()
	cfg2.Security.AllowAuthenticatedRootDisable = true
	f2 := newFixture(t, cfg2)
	p2 := f2.engine.Build(f2.inputs)
	found := false
	for _, s := range p2.Steps {
		if s.ID == "note-authenticated-root-disable" {
			found = true
		}
	}
	if !found {
		t.Errorf("disable instruction missing when allowed")
	}
	if len(p2.Steps) != len(p.Steps)+1 {
		t.Errorf("step count %d, want %d", len(p2.Steps), len(p.Steps)+1)
	}
}

// TestRenderMarksDestructiveSteps flags the remount in the listing
func TestRenderMarksDestructiveSteps(t *testing.T) {
	cfg := config.DefaultConfig()
	f := newFixture(t, cfg)
	p := f.engine.Build(f.inputs)

	var buf bytes.Buffer
	p.Render(&buf)
	out := buf.String()

	if !strings.Contains(out, "! remount-system-volume") {
		t.Errorf("destructive marker missing:\n%s", out)
	}
	if !strings.Contains(out, "emit-snapshot-command") {
		t.Errorf("snapshot step missing:\n%s", out)
	}
}

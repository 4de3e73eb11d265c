package plan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sealpatch/sealpatch/internal/artifact"
	"github.com/sealpatch/sealpatch/internal/backup"
	"github.com/sealpatch/sealpatch/internal/config"
	"github.com/sealpatch/sealpatch/internal/diskutil"
	"github.com/sealpatch/sealpatch/internal/executil"
	"github.com/sealpatch/sealpatch/internal/patch"
	"github.com/sealpatch/sealpatch/internal/store"
)

// Engine builds and applies plans.
type Engine struct {
	cfg     *config.Config
	runner  executil.Runner
	journal Journal
	logger  *slog.Logger

	// Out receives the printed-but-not-executed command lines.
	Out io.Writer
	// BackupClock overrides backup timestamping in tests.
	BackupClock func() time.Time
	// mkTemp creates the temporary mount point; swapped in tests.
	mkTemp func() (string, error)
}

// NewEngine creates an Engine.
func NewEngine(cfg *config.Config, runner executil.Runner, journal Journal, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		runner:  runner,
		journal: journal,
		logger:  logger,
		Out:     os.Stdout,
		mkTemp:  func() (string, error) { return os.MkdirTemp("", "sealpatch-mount-") },
	}
}

// Build assembles the full procedure from discovery results: backups first,
// then the boot-security query, the destructive remount, the descriptor and
// daemon-config edits, and finally the emitted snapshot command.
func (e *Engine) Build(in Inputs) *Plan {
	mgr := backup.NewManager(in.Artifacts.RootHome.Path, e.logger)
	if e.BackupClock != nil {
		mgr.Clock = e.BackupClock
	}

	var steps []Step

	for _, a := range in.Artifacts.Mutable() {
		steps = append(steps, e.backupStep(mgr, a))
	}

	steps = append(steps, Step{
		ID:          "query-authenticated-root",
		Description: "query the boot-security (authenticated-root) posture",
		Command:     "csrutil authenticated-root status",
		run: func(ctx context.Context, st *execState) (string, error) {
			out, err := e.runner.Run(ctx, "csrutil", "authenticated-root", "status")
			if err != nil {
				return "", err
			}
			status := strings.TrimSpace(string(out))
			fmt.Fprintln(e.Out, status)
			return status, nil
		},
	})

	if e.cfg.Security.AllowAuthenticatedRootDisable {
		steps = append(steps, Step{
			ID:          "note-authenticated-root-disable",
			Description: "print the authenticated-root disable instruction (never executed)",
			Command:     "csrutil authenticated-root disable",
			run: func(ctx context.Context, st *execState) (string, error) {
				fmt.Fprintln(e.Out, "run manually before the snapshot: csrutil authenticated-root disable")
				return "instruction printed, not executed", nil
			},
		})
	}

	steps = append(steps, Step{
		ID:          "remount-system-volume",
		Description: "force-unmount the sealed system volume and remount it read-write",
		Command: fmt.Sprintf("umount -f %s && mount -o rw -t apfs %s <temp mount point>",
			in.System.Device, in.System.Device),
		Destructive: true,
		run: func(ctx context.Context, st *execState) (string, error) {
			tmp, err := e.mkTemp()
			if err != nil {
				return "", fmt.Errorf("creating temp mount point: %w", err)
			}
			if _, err := e.runner.Run(ctx, "umount", "-f", in.System.Device); err != nil {
				return "", err
			}
			if _, err := e.runner.Run(ctx, "mount", "-o", "rw", "-t", "apfs", in.System.Device, tmp); err != nil {
				return "", err
			}
			st.liveMount = tmp
			return fmt.Sprintf("remounted %s read-write at %s", in.System.Device, tmp), nil
		},
	})

	steps = append(steps,
		e.patchStep("patch-ssh-descriptor",
			"override the SSH service port in the remote-login descriptor",
			in, in.Artifacts.SSHDescriptor,
			func(path string) (patch.Outcome, error) {
				return patch.PatchSSHDescriptorFile(path, e.cfg.Services.SSHPort)
			}),
		e.patchStep("patch-screensharing-descriptor",
			"bind screen sharing to localhost with a fixed port",
			in, in.Artifacts.ScreenSharingDescriptor,
			func(path string) (patch.Outcome, error) {
				return patch.PatchScreenSharingDescriptorFile(path, e.cfg.Services.ScreenSharingPort)
			}),
	)

	steps = append(steps, Step{
		ID:          "harden-sshd-config",
		Description: fmt.Sprintf("append hardening directives to %s", in.Artifacts.SSHDConfig.Path),
		Command:     fmt.Sprintf("append %d directives to %s", len(patch.Directives(in.Users)), in.Artifacts.SSHDConfig.Path),
		run: func(ctx context.Context, st *execState) (string, error) {
			added, err := patch.AppendDirectives(in.Artifacts.SSHDConfig.Path, in.Users)
			if err != nil {
				return "", err
			}
			if len(added) == 0 {
				return "all directives already present", nil
			}
			return fmt.Sprintf("appended %d directives: %s", len(added), strings.Join(added, "; ")), nil
		},
	})

	snapshotCmd := fmt.Sprintf("bless --folder %s/System/Library/CoreServices --bootefi --create-snapshot",
		diskutil.EscapeSpaces(in.System.MountPoint))
	steps = append(steps, Step{
		ID:          "emit-snapshot-command",
		Description: "print the boot-snapshot command (never executed)",
		Command:     snapshotCmd,
		run: func(ctx context.Context, st *execState) (string, error) {
			fmt.Fprintln(e.Out, "run manually to record the new boot snapshot:")
			fmt.Fprintln(e.Out, "  "+snapshotCmd)
			return "snapshot command printed, not executed", nil
		},
	})

	return &Plan{Steps: steps}
}

// backupStep copies one mutable artifact into the root home and journals
// the verified copy.
func (e *Engine) backupStep(mgr *backup.Manager, a artifact.Artifact) Step {
	return Step{
		ID:          "backup-" + string(a.Kind),
		Description: fmt.Sprintf("back up %s into %s", a.Path, mgr.DestDir),
		Command: fmt.Sprintf("cp -p %s %s/", diskutil.EscapeSpaces(a.Path),
			diskutil.EscapeSpaces(mgr.DestDir)),
		run: func(ctx context.Context, st *execState) (string, error) {
			cp, err := mgr.Backup(a.Path)
			if err != nil {
				return "", err
			}
			st.backups[a.Path] = cp
			if e.journal != nil {
				rec := &store.BackupRecord{
					ID:        cp.ID,
					RunID:     st.runID,
					Source:    cp.Source,
					Dest:      cp.Dest,
					SizeBytes: cp.Size,
					Verified:  cp.Verified,
					CreatedAt: cp.CreatedAt,
				}
				if err := e.journal.RecordBackup(rec); err != nil {
					return "", fmt.Errorf("journaling backup: %w", err)
				}
			}
			return fmt.Sprintf("backed up to %s (%d bytes)", cp.Dest, cp.Size), nil
		},
	}
}

// patchStep edits one descriptor on the paths selected by the patch target.
func (e *Engine) patchStep(id, desc string, in Inputs, a artifact.Artifact, apply func(string) (patch.Outcome, error)) Step {
	return Step{
		ID:          id,
		Description: desc + fmt.Sprintf(" (target: %s)", e.cfg.Patch.Target),
		Command:     fmt.Sprintf("rewrite %s", a.Path),
		run: func(ctx context.Context, st *execState) (string, error) {
			paths, err := e.patchTargets(st, in, a)
			if err != nil {
				return "", err
			}
			var details []string
			for _, p := range paths {
				outcome, err := apply(p)
				if err != nil {
					return "", err
				}
				details = append(details, fmt.Sprintf("%s: %s", p, outcome))
			}
			return strings.Join(details, "; "), nil
		},
	}
}

// patchTargets resolves which file(s) a descriptor edit lands on. The backup
// target preserves the source behavior of editing the timestamped copies;
// the live target edits the same file under the read-write remount.
func (e *Engine) patchTargets(st *execState, in Inputs, a artifact.Artifact) ([]string, error) {
	var paths []string

	if e.cfg.Patch.Target == config.TargetBackup || e.cfg.Patch.Target == config.TargetBoth {
		cp, ok := st.backups[a.Path]
		if !ok {
			return nil, fmt.Errorf("no backup copy of %s to patch", a.Path)
		}
		paths = append(paths, cp.Dest)
	}

	if e.cfg.Patch.Target == config.TargetLive || e.cfg.Patch.Target == config.TargetBoth {
		if st.liveMount == "" {
			return nil, fmt.Errorf("system volume not remounted; no live copy of %s", a.Path)
		}
		rel := strings.TrimPrefix(a.Path, in.System.MountPoint)
		paths = append(paths, filepath.Join(st.liveMount, rel))
	}

	return paths, nil
}

// ApplyOptions controls one apply.
type ApplyOptions struct {
	DryRun             bool
	ConfirmDestructive bool
}

// ApplyResult summarizes one apply.
type ApplyResult struct {
	RunID    string
	Success  bool
	StepsRun int
	Logs     []string
	Err      error
}

// Apply executes the plan strictly in order. The first failure aborts the
// run; completed side effects are left in place. Every step outcome is
// journaled.
func (e *Engine) Apply(ctx context.Context, p *Plan, opts ApplyOptions) *ApplyResult {
	result := &ApplyResult{RunID: uuid.NewString()}
	st := &execState{
		runID:   result.RunID,
		backups: make(map[string]*backup.Copy),
	}

	if e.journal != nil {
		run := &store.Run{
			ID:        result.RunID,
			StartedAt: time.Now(),
			DryRun:    opts.DryRun,
			Status:    store.RunStatusRunning,
		}
		if err := e.journal.CreateRun(run); err != nil {
			result.Err = fmt.Errorf("journaling run: %w", err)
			return result
		}
	}

	for i, step := range p.Steps {
		if opts.DryRun {
			e.recordStep(step, i+1, st, store.StepStatusPlanned, "dry run")
			result.Logs = append(result.Logs, fmt.Sprintf("would run %s: %s", step.ID, step.Description))
			continue
		}

		if step.Destructive && !opts.ConfirmDestructive {
			e.recordStep(step, i+1, st, store.StepStatusSkipped, "confirmation missing")
			result.Err = fmt.Errorf("step %s: %w", step.ID, ErrConfirmationRequired)
			e.finishRun(result.RunID, store.RunStatusFailed, result.Err.Error())
			return result
		}

		e.logger.Info("running step", "step", step.ID, "destructive", step.Destructive)
		detail, err := step.run(ctx, st)
		if err != nil {
			e.recordStep(step, i+1, st, store.StepStatusFailed, err.Error())
			result.Err = fmt.Errorf("step %s: %w", step.ID, err)
			e.finishRun(result.RunID, store.RunStatusFailed, result.Err.Error())
			return result
		}

		e.recordStep(step, i+1, st, store.StepStatusCompleted, detail)
		result.StepsRun++
		result.Logs = append(result.Logs, fmt.Sprintf("%s: %s", step.ID, detail))
	}

	e.finishRun(result.RunID, store.RunStatusCompleted, "")
	result.Success = true
	return result
}

func (e *Engine) recordStep(step Step, seq int, st *execState, status, detail string) {
	if e.journal == nil {
		return
	}
	rec := &store.StepRecord{
		RunID:       st.runID,
		Seq:         seq,
		StepID:      step.ID,
		Description: step.Description,
		Destructive: step.Destructive,
		Status:      status,
		Detail:      detail,
	}
	if err := e.journal.RecordStep(rec); err != nil {
		e.logger.Error("failed to journal step", "step", step.ID, "error", err)
	}
}

func (e *Engine) finishRun(id, status, errMsg string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.FinishRun(id, status, errMsg); err != nil {
		e.logger.Error("failed to finish journaled run", "run", id, "error", err)
	}
}

// Package plan builds the ordered provisioning procedure as explicit steps
// and applies them sequentially. Destructive steps are flagged and require
// confirmation; dry-run renders the plan without touching anything.
package plan

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sealpatch/sealpatch/internal/artifact"
	"github.com/sealpatch/sealpatch/internal/backup"
	"github.com/sealpatch/sealpatch/internal/diskutil"
	"github.com/sealpatch/sealpatch/internal/store"
)

// ErrConfirmationRequired is returned when a destructive step runs without
// explicit confirmation.
var ErrConfirmationRequired = errors.New("destructive step requires confirmation")

// Inputs are the discovery results the plan is built from.
type Inputs struct {
	System    diskutil.VolumeRef
	Data      diskutil.VolumeRef
	Artifacts *artifact.Set
	Users     []string
}

// Step is one unit of the procedure. Command is the rendered external
// command line (or a description of the file operation) for display and the
// journal; run performs the actual work.
type Step struct {
	ID          string
	Description string
	Command     string
	Destructive bool

	run func(ctx context.Context, st *execState) (string, error)
}

// Plan is the ordered step list for one procedure.
type Plan struct {
	Steps []Step
}

// Render writes a human-readable plan listing.
func (p *Plan) Render(w io.Writer) {
	for i, s := range p.Steps {
		marker := " "
		if s.Destructive {
			marker = "!"
		}
		fmt.Fprintf(w, "%2d %s %-32s %s\n", i+1, marker, s.ID, s.Description)
		if s.Command != "" {
			fmt.Fprintf(w, "     $ %s\n", s.Command)
		}
	}
}

// execState carries mutable state across steps within one apply.
type execState struct {
	runID string
	// backups maps source path to its verified copy.
	backups map[string]*backup.Copy
	// liveMount is where the system volume was remounted read-write.
	liveMount string
}

// Journal records runs, steps, and backups. *store.Store implements it; a
// nil Journal disables recording.
type Journal interface {
	CreateRun(run *store.Run) error
	FinishRun(id string, status string, errorMessage string) error
	RecordStep(rec *store.StepRecord) error
	RecordBackup(rec *store.BackupRecord) error
}

package store

import "time"

// Run statuses recorded in the journal.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Step statuses recorded in the journal.
const (
	StepStatusPlanned   = "planned"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// Run is one invocation of the provisioning procedure.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	DryRun       bool
	Status       string
	ErrorMessage string
}

// StepRecord is one executed (or planned) step within a run.
type StepRecord struct {
	ID          int64
	RunID       string
	Seq         int
	StepID      string
	Description string
	Destructive bool
	Status      string
	Detail      string
	CreatedAt   time.Time
}

// BackupRecord is one verified backup copy.
type BackupRecord struct {
	ID        string
	RunID     string
	Source    string
	Dest      string
	SizeBytes int64
	Verified  bool
	CreatedAt time.Time
}

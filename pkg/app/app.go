// Package app is the entry point for rangekit lifecycle apps. An app embeds
// Base, implements one method per lifecycle stage, and hands itself to Main.
// The runner parses the stage argument and dry-run flag, reads the
// experiment document from stdin, stores experiment, stage, and dry-run as
// instance state before the stage runs, and writes the document back to
// stdout when the stage succeeds.
package app

import (
	"context"

	"go.uber.org/zap"

	"rangekit/pkg/experiment"
	"rangekit/pkg/minimega"
	"rangekit/pkg/settings"
)

// App is a lifecycle app. Implementations embed Base, which the runner
// populates before dispatching the stage. Stage methods receive a context
// that is canceled when the process is interrupted.
type App interface {
	// Name is the app's scenario name; it selects the app's metadata from
	// the experiment and names its state directories.
	Name() string

	// base exposes the embedded Base for the runner to populate. Embedding
	// Base provides it; apps cannot implement it directly.
	base() *Base

	Configure(ctx context.Context) error
	PreStart(ctx context.Context) error
	PostStart(ctx context.Context) error
	Running(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Base carries the state every app receives. The runner sets all fields
// once before the stage method runs; apps treat them as read-only.
type Base struct {
	// Stage is the lifecycle stage being executed.
	Stage Stage

	// DryRun suppresses side effects: no state directories are created, no
	// ledger entry is written, and Orchestrator returns a logging stub.
	DryRun bool

	// RunID identifies this execution in logs and the run ledger.
	RunID string

	// Experiment is the document read from stdin. Stage methods may modify
	// it; the runner writes it back to stdout on success.
	Experiment *experiment.Experiment

	// Metadata is this app's metadata from the experiment scenario, or an
	// empty map when the scenario has no entry for the app.
	Metadata map[string]any

	// Settings is the resolved SDK configuration.
	Settings settings.Settings

	// ExpName is the experiment name.
	ExpName string

	// State directories, derived from settings and the experiment name.
	ExpDir       string
	AppDir       string
	FilesDir     string
	TemplatesDir string

	// Log is the app logger, pre-tagged with app, stage, and run ID.
	Log *zap.Logger
}

// base returns the embedded base; embedding Base satisfies App.
func (b *Base) base() *Base { return b }

// Orchestrator opens a command channel scoped to this experiment. In dry
// run it returns a stub that logs commands instead of sending them.
func (b *Base) Orchestrator() (minimega.Commander, error) {
	if b.DryRun {
		return minimega.DryRun{Namespace: b.ExpName}, nil
	}
	return minimega.Connect(b.Settings.MMSocket(), b.ExpName)
}

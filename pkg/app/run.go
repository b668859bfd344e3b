package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rangekit/internal/ledger"
	"rangekit/pkg/experiment"
	"rangekit/pkg/logging"
	"rangekit/pkg/settings"
)

// Main runs the app and exits the process. This is the whole body of an
// app binary's main function.
func Main(a App) {
	code := Run(a, os.Args[1:], os.Stdin, os.Stdout)
	logging.Sync()
	os.Exit(code)
}

// Run executes the app against args and the experiment document on stdin.
// It returns the process exit code. Stdout receives only the experiment
// document; all diagnostics go to the logger.
func Run(a App, args []string, stdin io.Reader, stdout io.Writer) int {
	var (
		dryRun   bool
		logLevel string
	)

	root := &cobra.Command{
		Use:   a.Name() + " [flags] <stage>",
		Short: fmt.Sprintf("%s experiment app", a.Name()),
		Long: fmt.Sprintf(`%s is a rangekit experiment app.

The orchestrator invokes it once per lifecycle stage with the experiment
document on stdin; the (possibly modified) document is written to stdout.`, a.Name()),
		Args:          cobra.ExactArgs(1),
		ValidArgs:     stageNames(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(a, args[0], dryRun, logLevel, stdin, stdout)
		},
	}

	root.Flags().BoolVar(&dryRun, "dry-run", false, "log side effects instead of performing them")
	root.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	// Stdout belongs to the experiment document; cobra output goes to stderr.
	root.SetOut(os.Stderr)
	root.SetErr(os.Stderr)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		logging.L().Error("app failed",
			zap.String("app", a.Name()),
			zap.Error(err))
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.Name(), err)
		return 1
	}
	return 0
}

func execute(a App, stageArg string, dryRun bool, logLevel string, stdin io.Reader, stdout io.Writer) error {
	s, err := settings.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		s.LogLevel = logLevel
	}
	if err := logging.Init(s); err != nil {
		return err
	}

	st, err := ParseStage(stageArg)
	if err != nil {
		return err
	}

	exp, err := experiment.Decode(stdin)
	if err != nil {
		return err
	}
	if exp.Name() == "" {
		return fmt.Errorf("experiment document has no name")
	}

	base := a.base()
	if err := populate(base, a.Name(), st, dryRun, exp, s); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *ledger.Store
	runID := base.RunID
	if s.LedgerEnabled() && !dryRun {
		store, err = ledger.Open(s.LedgerPath())
		if err != nil {
			// The ledger is an audit aid; a broken ledger must not block
			// the experiment.
			base.Log.Warn("run ledger unavailable", zap.Error(err))
		} else {
			defer store.Close()
			if id, err := store.Begin(a.Name(), string(st), base.ExpName, dryRun); err != nil {
				base.Log.Warn("failed to record run start", zap.Error(err))
				store = nil
			} else {
				runID = id
				base.RunID = id
				base.Log = base.Log.With(zap.String("run", id))
			}
		}
	}

	base.Log.Info("executing stage")
	start := time.Now()
	stageErr := dispatch(ctx, a, st)
	if store != nil {
		if err := store.Finish(runID, stageErr); err != nil {
			base.Log.Warn("failed to record run finish", zap.Error(err))
		}
	}
	if stageErr != nil {
		return fmt.Errorf("stage %s failed: %w", st, stageErr)
	}
	base.Log.Info("stage complete", zap.Duration("took", time.Since(start)))

	return exp.Encode(stdout)
}

// populate fills the app's Base before the stage runs.
func populate(base *Base, name string, st Stage, dryRun bool, exp *experiment.Experiment, s settings.Settings) error {
	base.Stage = st
	base.DryRun = dryRun
	base.RunID = uuid.NewString()
	base.Experiment = exp
	base.Settings = s
	base.ExpName = exp.Name()
	base.ExpDir = s.ExpDir(base.ExpName)
	base.AppDir = s.AppDir(base.ExpName, name)
	base.FilesDir = s.FilesDir(base.ExpName, name)
	base.TemplatesDir = s.TemplatesDir(base.ExpName, name)

	base.Metadata = map[string]any{}
	if sa := exp.App(name); sa != nil && sa.Metadata != nil {
		base.Metadata = sa.Metadata
	}

	base.Log = logging.L().With(
		zap.String("app", name),
		zap.String("stage", string(st)),
		zap.String("exp", base.ExpName),
		zap.Bool("dry_run", dryRun),
	)

	if !dryRun {
		for _, dir := range []string{base.AppDir, base.FilesDir, base.TemplatesDir} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create app directory %s: %w", dir, err)
			}
		}
	}
	return nil
}

func stageNames() []string {
	names := make([]string, 0, len(Stages()))
	for _, st := range Stages() {
		names = append(names, string(st))
	}
	return names
}

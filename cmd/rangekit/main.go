package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"rangekit/internal/ledger"
	"rangekit/internal/render"
	"rangekit/internal/scale"
	"rangekit/pkg/settings"

	// Register the bundled scale plugins so docs and listings see them.
	_ "rangekit/internal/scale/plugins"
)

var rootCmd = &cobra.Command{
	Use:   "rangekit",
	Short: "rangekit - experiment app toolkit",
	Long: `rangekit is the operator companion to rangekit experiment apps.

It inspects the run ledger, shows plugin documentation, and lints and
watches external plugin sources during development.`,
	SilenceUsage: true,
}

var runsLimit int

// runsCmd lists recorded stage executions, newest first.
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded app stage executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load()
		if err != nil {
			return err
		}

		store, err := ledger.Open(s.LedgerPath())
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
			return nil
		}

		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Experiment,
				r.App,
				r.Stage,
				strconv.FormatBool(r.DryRun),
				r.Status,
				r.Error,
			})
		}
		render.WriteTable(cmd.OutOrStdout(),
			[]string{"STARTED", "EXPERIMENT", "APP", "STAGE", "DRY RUN", "STATUS", "ERROR"}, rows)
		return nil
	},
}

// docsCmd shows plugin documentation, or lists registered plugins.
var docsCmd = &cobra.Command{
	Use:   "docs [plugin]",
	Short: "Show scale plugin documentation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := scale.DefaultRegistry()

		if len(args) == 0 {
			entries := reg.Entries()
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Name, e.Version})
			}
			render.WriteTable(cmd.OutOrStdout(), []string{"PLUGIN", "VERSION"}, rows)
			return nil
		}

		doc, ok := reg.Doc(args[0])
		if !ok || doc == "" {
			return fmt.Errorf("no documentation for plugin %q", args[0])
		}
		out, err := render.Markdown(doc)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Develop external scale plugins",
}

// pluginsLintCmd checks that plugin sources load cleanly.
var pluginsLintCmd = &cobra.Command{
	Use:   "lint <path>",
	Short: "Check that a plugin source (or directory of sources) loads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := pluginSources(args[0])
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no plugin sources under %s", args[0])
		}

		failed := 0
		for _, path := range paths {
			if err := scale.Lint(path); err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d plugin(s) failed lint", failed, len(paths))
		}
		return nil
	},
}

// pluginsWatchCmd relints plugins as they change on disk.
var pluginsWatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a plugin directory and lint sources on change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "watching %s (ctrl-c to stop)\n", args[0])
		return scale.Watch(ctx, args[0], func(path string) {
			if err := scale.Lint(path); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
		})
	},
}

// pluginSources resolves path to the plugin files it names: the file itself,
// or every .go file directly under a directory.
func pluginSources(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	return filepath.Glob(filepath.Join(path, "*.go"))
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list (0 for all)")

	pluginsCmd.AddCommand(pluginsLintCmd, pluginsWatchCmd)
	rootCmd.AddCommand(runsCmd, docsCmd, pluginsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rangekit: %v\n", err)
		os.Exit(1)
	}
}

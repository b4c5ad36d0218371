package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mvp-joe/dbindex-check/internal/checker"
	"github.com/mvp-joe/dbindex-check/internal/config"
	"github.com/mvp-joe/dbindex-check/internal/migrations"
	"github.com/mvp-joe/dbindex-check/internal/store"
	"github.com/mvp-joe/dbindex-check/internal/watcher"
	"github.com/spf13/cobra"
)

var (
	jsonFlag    bool
	saveFlag    bool
	watchFlag   bool
	quietFlag   bool
	onlyNewFlag bool
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check [root]",
	Short: "Reconstruct db_index state from migration history",
	Long: `Check discovers every Django app with a migrations directory under root
(default: the current directory), reads its migrations in order and reports
which fields currently carry db_index=True and the migration that added each
index.

Apps whose migrations cannot be read are reported individually; the command
exits non-zero when any app failed.

Examples:
  # Check the current project
  dbindex check

  # Machine-readable output
  dbindex check ./src --json

  # Record this run and show only indexes added since the previous one
  dbindex check --only-new --save

  # Re-check whenever a migration changes
  dbindex check --watch
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Handle interrupt signals gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
				fmt.Fprintln(cmd.ErrOrStderr(), "\nInterrupted! Stopping...")
				cancel()
			case <-ctx.Done():
			}
		}()

		root, err := resolveRoot(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}

		return runCheck(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), root, cfg, checkOptions{
			json:    jsonFlag,
			save:    saveFlag,
			watch:   watchFlag,
			quiet:   quietFlag,
			onlyNew: onlyNewFlag,
		})
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the report as JSON")
	checkCmd.Flags().BoolVar(&saveFlag, "save", false, "Record the indexed fields in the run history")
	checkCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Re-check whenever a migration file changes")
	checkCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Disable progress bars")
	checkCmd.Flags().BoolVar(&onlyNewFlag, "only-new", false, "Only report indexes added since the last saved run")
}

type checkOptions struct {
	json    bool
	save    bool
	watch   bool
	quiet   bool
	onlyNew bool
}

// checkSession holds what stays alive across watch iterations.
type checkSession struct {
	root   string
	cfg    *config.Config
	opts   checkOptions
	out    io.Writer
	errOut io.Writer
	source *migrations.CachedExtractor
	store  *store.Store
}

// checkOutput is the JSON document printed by --json.
type checkOutput struct {
	Root     string                        `json:"root"`
	Order    []string                      `json:"order"`
	Apps     map[string]*checker.AppResult `json:"apps"`
	Indexed  []checker.IndexedField        `json:"indexed"`
	New      []checker.IndexedField        `json:"new_indexes,omitempty"`
	Baseline string                        `json:"baseline_run,omitempty"`
	RunID    string                        `json:"run_id,omitempty"`
}

func runCheck(ctx context.Context, out, errOut io.Writer, root string, cfg *config.Config, opts checkOptions) error {
	source, err := migrations.NewCachedExtractor(migrations.NewExtractor(nil), cfg.Check.CacheSize)
	if err != nil {
		return err
	}
	defer source.Close()

	s := &checkSession{
		root:   root,
		cfg:    cfg,
		opts:   opts,
		out:    out,
		errOut: errOut,
		source: source,
	}

	if opts.save || opts.onlyNew {
		s.store, err = store.Open(cfg.StorePath(root))
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer s.store.Close()
	}

	report, err := s.once(ctx)
	if err != nil {
		return err
	}

	if !opts.watch {
		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%w: %d of %d", ErrAppsFailed, len(failed), len(report.Apps))
		}
		return nil
	}

	return s.watch(ctx)
}

// once runs a single check, then diffs, saves and renders it.
func (s *checkSession) once(ctx context.Context) (*checker.Report, error) {
	var progress checker.ProgressReporter = checker.NoOpProgressReporter{}
	if !s.opts.quiet && !s.opts.json {
		progress = NewCLIProgressReporter(s.errOut, false)
	}

	c := checker.New(checker.Options{
		Workers: s.cfg.Check.Workers,
		Discover: []migrations.DiscoverOption{
			migrations.WithMigrationsDirName(s.cfg.Discovery.MigrationsDir),
			migrations.WithIgnore(s.cfg.Discovery.Ignore...),
		},
		Source:   s.source,
		Progress: progress,
	})

	report, err := c.Run(ctx, s.root)
	if err != nil {
		return nil, err
	}

	output := checkOutput{
		Root:    report.Root,
		Order:   report.Order,
		Apps:    report.Apps,
		Indexed: report.Indexed(),
	}

	var baseline *store.Run
	if s.opts.onlyNew {
		baseline, err = s.store.LatestRun(ctx, s.root)
		switch {
		case errors.Is(err, store.ErrNoRuns):
			baseline = nil
		case err != nil:
			return nil, err
		}
		var prev []checker.IndexedField
		if baseline != nil {
			prev = baseline.Fields
			output.Baseline = baseline.ID
		}
		output.New = checker.Diff(prev, output.Indexed)
	}

	if s.opts.save {
		run, err := s.store.SaveRun(ctx, report)
		if err != nil {
			return nil, err
		}
		output.RunID = run.ID
	}

	if s.opts.json {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(output); err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		return report, nil
	}

	if s.opts.onlyNew {
		renderNew(s.out, baseline, output.New)
	} else {
		renderReport(s.out, report)
	}
	if output.RunID != "" {
		fmt.Fprintf(s.out, "Saved run %s\n", output.RunID)
	}
	return report, nil
}

// watch re-runs the check whenever a migration file changes until ctx is done.
func (s *checkSession) watch(ctx context.Context) error {
	w, err := watcher.New(s.root, watcher.Options{
		MigrationsDir: s.cfg.Discovery.MigrationsDir,
		Extensions:    []string{".py"},
		Debounce:      time.Duration(s.cfg.Watch.DebounceMS) * time.Millisecond,
		SkipDirs:      skipDirNames(s.cfg.Discovery.Ignore),
	})
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()

	// The callback runs on the watcher goroutine, so changes made during a
	// check queue up and arrive as the next batch.
	err = w.Start(ctx, func(files []string) {
		if verbose {
			for _, f := range files {
				log.Printf("Changed: %s", f)
			}
		}
		fmt.Fprintf(s.errOut, "\n%d migration file(s) changed, re-checking...\n", len(files))

		report, err := s.once(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Warning: check failed: %v", err)
			}
			return
		}
		if failed := report.Failed(); len(failed) > 0 {
			log.Printf("Warning: %d of %d apps failed", len(failed), len(report.Apps))
		}
	})
	if err != nil {
		return err
	}

	if !s.opts.quiet {
		fmt.Fprintln(s.errOut, "Watching migrations for changes (Ctrl+C to stop)...")
	}
	<-ctx.Done()
	return nil
}

// renderReport prints indexed fields per app in dependency order.
func renderReport(w io.Writer, report *checker.Report) {
	for _, res := range report.Results() {
		fmt.Fprintf(w, "%s\n", res.Name)
		if res.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", res.Err)
			continue
		}
		if res.NoMigrations {
			fmt.Fprintln(w, "  (no migrations)")
			continue
		}

		printed := false
		for _, model := range res.Registry.Models() {
			for _, field := range sortedFields(res.Registry[model]) {
				state := res.Registry[model][field]
				if !state.IsIndex {
					continue
				}
				fmt.Fprintf(w, "  %s.%s  indexed since %s\n", model, field, state.IndexAdded)
				printed = true
			}
		}
		if !printed {
			fmt.Fprintln(w, "  (no indexed fields)")
		}
	}

	indexed := report.Indexed()
	fmt.Fprintf(w, "\n%s indexed fields across %s apps\n",
		formatNumber(len(indexed)), formatNumber(len(report.Apps)))
}

// renderNew prints the fields indexed since baseline.
func renderNew(w io.Writer, baseline *store.Run, fields []checker.IndexedField) {
	since := "no previous run"
	if baseline != nil {
		since = fmt.Sprintf("run %s (%s)", shortID(baseline.ID), baseline.CreatedAt.Local().Format(time.DateTime))
	}

	if len(fields) == 0 {
		fmt.Fprintf(w, "No new indexes since %s\n", since)
		return
	}

	fmt.Fprintf(w, "New indexes since %s:\n", since)
	for _, f := range fields {
		fmt.Fprintf(w, "  %s  added in %s\n", f.Key(), f.AddedIn)
	}
}

func sortedFields(fields map[string]migrations.FieldIndexState) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// skipDirNames turns ignore patterns of the form "name/**" or "**/name/**"
// into directory names the watcher can skip outright.
func skipDirNames(patterns []string) []string {
	var names []string
	for _, p := range patterns {
		name := strings.TrimPrefix(p, "**/")
		name = strings.TrimSuffix(name, "/**")
		if name == "" || name == p || strings.ContainsAny(name, "/*?[]{}") {
			continue
		}
		names = append(names, name)
	}
	return names
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mvp-joe/dbindex-check/internal/config"
	"github.com/mvp-joe/dbindex-check/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyJSON  bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [root]",
	Short: "List runs recorded with check --save",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}
		return runHistory(cmd.Context(), cmd.OutOrStdout(), root, cfg, historyLimit, historyJSON)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Maximum number of runs to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print runs as JSON")
}

// historyEntry is the JSON form of a stored run.
type historyEntry struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Apps       int       `json:"apps"`
	FailedApps int       `json:"failed_apps"`
	Indexed    int       `json:"indexed_fields"`
}

func runHistory(ctx context.Context, w io.Writer, root string, cfg *config.Config, limit int, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	path := cfg.StorePath(root)
	var runs []store.Run
	if _, err := os.Stat(path); err == nil {
		s, err := store.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer s.Close()

		runs, err = s.ListRuns(ctx, root, limit)
		if err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to access run history: %w", err)
	}

	if asJSON {
		entries := make([]historyEntry, 0, len(runs))
		for _, run := range runs {
			entries = append(entries, historyEntry{
				ID:         run.ID,
				CreatedAt:  run.CreatedAt,
				Apps:       run.AppCount,
				FailedApps: run.FailedApps,
				Indexed:    run.FieldCount,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs recorded for %s\n", root)
		return nil
	}

	fmt.Fprintf(w, "%-10s %-19s %6s %7s %8s\n", "RUN", "CREATED", "APPS", "FAILED", "INDEXED")
	for _, run := range runs {
		fmt.Fprintf(w, "%-10s %-19s %6s %7s %8s\n",
			shortID(run.ID),
			run.CreatedAt.Local().Format(time.DateTime),
			formatNumber(run.AppCount),
			formatNumber(run.FailedApps),
			formatNumber(run.FieldCount))
	}
	return nil
}

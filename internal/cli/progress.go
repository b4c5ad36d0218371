package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mvp-joe/dbindex-check/internal/checker"
	"github.com/schollz/progressbar/v3"
)

// CLIProgressReporter renders check progress as a progress bar.
// Callbacks arrive from several worker goroutines.
type CLIProgressReporter struct {
	mu      sync.Mutex
	out     io.Writer
	quiet   bool
	fileBar *progressbar.ProgressBar
	failed  int
}

// NewCLIProgressReporter creates a reporter writing to out (normally stderr).
func NewCLIProgressReporter(out io.Writer, quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{
		out:   out,
		quiet: quiet,
	}
}

func (c *CLIProgressReporter) OnDiscoveryComplete(apps, files int) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "Found %s migration files in %s apps\n", formatNumber(files), formatNumber(apps))
	if files == 0 {
		return
	}
	c.fileBar = progressbar.NewOptions(files,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetDescription("Reading migrations"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.out)
		}),
	)
}

func (c *CLIProgressReporter) OnFileProcessed(app, fileName string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fileBar != nil {
		c.fileBar.Add(1)
	}
}

func (c *CLIProgressReporter) OnAppComplete(app string, err error) {
	if c.quiet || err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
}

func (c *CLIProgressReporter) OnComplete(report *checker.Report) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// A failing app leaves its remaining files unprocessed.
	if c.fileBar != nil {
		c.fileBar.Finish()
		c.fileBar = nil
	}
	fmt.Fprintf(c.out, "✓ Checked %s apps in %.1fs (%d failed)\n",
		formatNumber(len(report.Apps)), report.Duration.Seconds(), c.failed)
}

// formatNumber formats n with thousands separators.
func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	str := fmt.Sprintf("%d", n)
	var result string
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}
	return result
}

package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/danfe/internal/models"
)

// Console prints coloured progress lines above a batch progress bar.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
}

func NewConsole(out io.Writer, total int) *Console {
	return &Console{
		out: out,
		bar: newProgressBar(out, total, "Downloading documents"),
	}
}

func newProgressBar(out io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("keys"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (c *Console) Report(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bar.Clear()
	fmt.Fprintln(c.out, colorize(line))
	c.bar.RenderBlank()
}

func (c *Console) Outcome(o models.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bar.Describe(color.BlueString("Downloading documents (%s)", o.Status))
	c.bar.Add(1)
}

// Summary stops the bar and prints per-status totals.
func (c *Console) Summary(result models.BatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bar.Finish()
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, color.GreenString("✓ %d ready, %d artifacts downloaded", result.Count(models.StatusReady), result.ArtifactCount()))
	if n := result.Count(models.StatusTimedOut); n > 0 {
		fmt.Fprintln(c.out, color.YellowString("⚠ %d not available in time", n))
	}
	if n := result.Count(models.StatusRegistrationFailed) + result.Count(models.StatusFetchFailed); n > 0 {
		fmt.Fprintln(c.out, color.RedString("✗ %d failed", n))
	}
	if result.Cancelled {
		fmt.Fprintln(c.out, color.YellowString("batch was cancelled"))
	}
}

var (
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func colorize(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "failed") || strings.Contains(lower, "cancelled") || strings.Contains(lower, "internal error"):
		return red(line)
	case strings.Contains(lower, "warning") || strings.Contains(lower, "not available") || strings.Contains(lower, "giving up"):
		return yellow(line)
	case strings.Contains(lower, "fetched") || strings.Contains(lower, "saved"):
		return green(line)
	case strings.HasPrefix(line, "("):
		return cyan(line)
	default:
		return line
	}
}

package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"lingsync/internal/logging"
)

// Bar wraps a terminal progress bar for long apply runs. When the output
// is not a terminal, colors are off, or debug logging is active, the bar
// stays silent and progress goes to the debug log instead.
type Bar struct {
	bar     *progressbar.ProgressBar
	enabled bool
	desc    string
}

// BarOptions configures the progress bar behavior.
type BarOptions struct {
	// Max is the total number of steps.
	Max int64
	// Description is the prefix text shown before the bar.
	Description string
	// Writer is the output destination. Defaults to os.Stderr.
	Writer io.Writer
}

// NewBar creates a progress bar with the given options.
func NewBar(opts BarOptions) *Bar {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	b := &Bar{
		enabled: shouldShowProgress(opts.Writer),
		desc:    opts.Description,
	}

	if !b.enabled {
		logging.Debug(fmt.Sprintf("%s started", opts.Description),
			logging.Count(int(opts.Max)))
		return b
	}

	b.bar = progressbar.NewOptions64(
		opts.Max,
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionSetWriter(opts.Writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(opts.Writer, "\n")
		}),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(IsColorEnabled()),
	)

	return b
}

// SimpleBar creates a bar with just a total and a description.
func SimpleBar(max int64, description string) *Bar {
	return NewBar(BarOptions{Max: max, Description: description})
}

// Add increments the bar by n steps.
func (b *Bar) Add(n int) error {
	if !b.enabled {
		return nil
	}
	return b.bar.Add(n)
}

// Set moves the bar to a specific value.
func (b *Bar) Set(n int) error {
	if !b.enabled {
		return nil
	}
	return b.bar.Set(n)
}

// Describe updates the bar description.
func (b *Bar) Describe(desc string) {
	b.desc = desc
	if !b.enabled {
		return
	}
	b.bar.Describe(desc)
}

// Finish completes the bar, or logs completion when silent.
func (b *Bar) Finish() error {
	if !b.enabled {
		logging.Debug(fmt.Sprintf("%s completed", b.desc))
		return nil
	}
	return b.bar.Finish()
}

// Clear removes the bar from the terminal.
func (b *Bar) Clear() error {
	if !b.enabled {
		return nil
	}
	return b.bar.Clear()
}

func shouldShowProgress(w io.Writer) bool {
	if !IsColorEnabled() {
		return false
	}

	if f, ok := w.(*os.File); ok {
		if !term.IsTerminal(int(f.Fd())) {
			return false
		}
	}

	// A bar would interleave badly with debug output.
	if logging.Default().Enabled(context.Background(), logging.LevelDebug) {
		return false
	}

	return true
}

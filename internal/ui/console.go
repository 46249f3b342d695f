package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"sendmer/pkg/types"
	"sendmer/pkg/utils"

	"github.com/schollz/progressbar/v3"
)

// ConsoleUI renders a transfer's event stream as a progress bar and a
// closing summary.
type ConsoleUI struct {
	out       io.Writer
	operation string // "Sending" or "Receiving"

	bar        *progressbar.ProgressBar
	totalItems int
	totalBytes int64
	items      map[string]int64 // bytes held per item
	current    string
	startTime  time.Time
}

// NewConsoleUI creates a renderer writing to stderr
func NewConsoleUI(operation string) *ConsoleUI {
	return NewConsoleUIWriter(operation, os.Stderr)
}

// NewConsoleUIWriter creates a renderer writing to out
func NewConsoleUIWriter(operation string, out io.Writer) *ConsoleUI {
	return &ConsoleUI{
		out:       out,
		operation: operation,
		items:     make(map[string]int64),
	}
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	fmt.Fprintln(c.out, message)
}

// Run consumes events until the channel closes or ctx is done
func (c *ConsoleUI) Run(ctx context.Context, events <-chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			c.clearProgress()
			return
		case ev, ok := <-events:
			if !ok {
				c.clearProgress()
				return
			}
			c.handle(ev)
		}
	}
}

func (c *ConsoleUI) handle(ev types.Event) {
	switch ev.Kind {
	case types.EventStarted:
		c.totalItems = ev.TotalItems
		c.totalBytes = ev.TotalBytes
	case types.EventConnected:
		// a publisher may serve several receivers one after another
		c.clearProgress()
		c.items = make(map[string]int64)
		c.startTime = time.Time{}
		if ev.Peer != "" {
			c.ShowMessage(fmt.Sprintf("Connected to %s", ev.Peer))
		}
	case types.EventManifest:
		c.ShowMessage(fmt.Sprintf("%s %d files (%s)", c.operation, len(ev.Names), utils.FormatFileSize(c.totalBytes)))
	case types.EventItemProgress:
		c.updateProgress(ev.Item, ev.Bytes)
	case types.EventItemComplete:
		c.updateProgress(ev.Item, ev.Total)
	case types.EventCompleted:
		c.completeProgress()
		c.showTransferSummary(ev)
	case types.EventCancelled:
		c.clearProgress()
		c.ShowMessage("Operation cancelled")
	case types.EventFailed:
		c.clearProgress()
		c.ShowMessage(fmt.Sprintf("Transfer failed: %v", ev.Err))
	}
}

// initProgressBar creates the bar on the first byte of progress
func (c *ConsoleUI) initProgressBar() {
	if c.bar != nil {
		return
	}

	size := c.totalBytes
	if size <= 0 {
		size = -1
	}
	c.bar = progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(fmt.Sprintf("%s...", c.operation)),
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
	c.startTime = time.Now()
}

func (c *ConsoleUI) updateProgress(item string, held int64) {
	c.initProgressBar()
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
	c.items[item] = held
	c.current = item

	var total int64
	for _, n := range c.items {
		total += n
	}
	_ = c.bar.Set64(total)

	throughput := 0.0
	if elapsed := time.Since(c.startTime).Seconds(); elapsed > 0 {
		throughput = float64(total) / elapsed / (1024 * 1024)
	}
	c.bar.Describe(fmt.Sprintf("%s %s (%s/%s, %.1f MB/s)",
		c.operation, c.current, utils.FormatFileSize(total), utils.FormatFileSize(c.totalBytes), throughput))
}

// completeProgress marks the progress as complete
func (c *ConsoleUI) completeProgress() {
	if c.bar == nil {
		return
	}
	_ = c.bar.Finish()
	c.bar = nil
}

func (c *ConsoleUI) clearProgress() {
	if c.bar == nil {
		return
	}
	_ = c.bar.Exit()
	c.bar = nil
}

// showTransferSummary displays a summary of the completed transfer
func (c *ConsoleUI) showTransferSummary(ev types.Event) {
	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = time.Since(c.startTime)
	}
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(ev.TotalBytes) / elapsed.Seconds() / (1024 * 1024)
	}

	fmt.Fprintf(c.out, "\n=============================================\n")
	fmt.Fprintf(c.out, "%s completed\n", c.operation)
	fmt.Fprintf(c.out, "+ Files: %d\n", ev.TotalItems)
	fmt.Fprintf(c.out, "+ Total size: %s\n", utils.FormatFileSize(ev.TotalBytes))
	if ev.Path != "" {
		fmt.Fprintf(c.out, "+ Path: %s\n", ev.Path)
	}
	fmt.Fprintf(c.out, "+ Transfer time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(c.out, "+ Average throughput: %.2f MB/s\n", throughput)
	fmt.Fprintf(c.out, "=============================================\n")
}

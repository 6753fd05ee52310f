// Package progress drives a 1 Hz terminal progress widget: a
// scrolling-region progress bar on a tty, degrading to a plain
// percentage line otherwise.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-runewidth"
)

// progressBarWidth is the width, in characters, of the "[====>   ]"
// bar itself, not counting the percentage or filename.
const progressBarWidth = 40

// fixedOverhead is len("[100%] [] ") — the non-bar, non-filename chrome
// used to decide whether the terminal is wide enough for the full widget.
const fixedOverhead = len("[100%] [] ")

// Sizer reports the current terminal dimensions. Implementations wrap
// golang.org/x/term.GetSize; tests supply a fixed value.
type Sizer func() (width, height int, err error)

// Reporter accumulates byte counters and filename state and renders
// them on each Tick call. All mutation methods are safe for concurrent
// use by the fetch orchestrator's per-distfile goroutines.
type Reporter struct {
	Out      io.Writer
	IsTTY    bool
	Size     Sizer
	Makesum  bool // when true, Total tracks an evolving sum rather than a fixed known total

	current int64
	total   int64

	mu          sync.Mutex
	currentFile string

	ttyInit bool // scrolling region has been established at least once
	rows    int
	cols    int
}

// NewReporter constructs a Reporter. total is the sum of known manifest
// sizes; pass 0 when running in makesum mode, where the total is
// discovered incrementally via AddTotal.
func NewReporter(out io.Writer, isTTY bool, size Sizer, total int64) *Reporter {
	return &Reporter{
		Out:   out,
		IsTTY: isTTY,
		Size:  size,
		total: total,
	}
}

// Add records delta bytes written to a kept sink.
func (r *Reporter) Add(delta int64) {
	atomic.AddInt64(&r.current, delta)
}

// AddTotal adjusts the aggregate total by delta. Used in makesum mode:
// on each change to the observed total, the reporter's total is adjusted
// by −previous+new so it remains monotonic in aggregate.
func (r *Reporter) AddTotal(delta int64) {
	atomic.AddInt64(&r.total, delta)
}

// SetCurrentFile updates the filename shown in tty mode.
func (r *Reporter) SetCurrentFile(name string) {
	r.mu.Lock()
	r.currentFile = name
	r.mu.Unlock()
}

// Snapshot returns the current/total counters.
func (r *Reporter) Snapshot() (current, total int64) {
	return atomic.LoadInt64(&r.current), atomic.LoadInt64(&r.total)
}

// Percent computes min(100, 100*current/total). A zero or negative
// total renders as 0%, since nothing is known to be in progress yet.
func Percent(current, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int(100 * current / total)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// Tick renders one frame to Out, choosing tty or plain mode based on
// IsTTY and the terminal width reported by Size.
func (r *Reporter) Tick() {
	current, total := r.Snapshot()
	pct := Percent(current, total)

	width, height, err := 0, 0, error(nil)
	if r.Size != nil {
		width, height, err = r.Size()
	}
	useTTY := r.IsTTY && err == nil && width >= progressBarWidth+fixedOverhead

	if !useTTY {
		fmt.Fprintln(r.Out, renderPlain(pct, width))
		return
	}

	r.mu.Lock()
	file := r.currentFile
	r.mu.Unlock()

	if !r.ttyInit || r.rows != height || r.cols != width {
		r.setScrollRegion(height)
		r.rows, r.cols = height, width
		r.ttyInit = true
	}

	line := renderTTYLine(pct, file, width)
	fmt.Fprint(r.Out, "\x1b7")            // save cursor
	fmt.Fprintf(r.Out, "\x1b[%d;1H", height) // move to bottom row
	fmt.Fprint(r.Out, "\x1b[2K")           // clear line
	fmt.Fprint(r.Out, line)
	fmt.Fprint(r.Out, "\x1b8") // restore cursor
}

// setScrollRegion constrains scrolling to rows 1..rows-1, reserving the
// bottom row for the progress line.
func (r *Reporter) setScrollRegion(rows int) {
	if rows < 2 {
		return
	}
	fmt.Fprintf(r.Out, "\x1b[1;%dr", rows-1)
}

// ResetScrollRegion restores full-screen scrolling. Called on shutdown
// and from HandleInterrupt, when SIGINT arrives mid-run.
func (r *Reporter) ResetScrollRegion() {
	if !r.ttyInit {
		return
	}
	fmt.Fprint(r.Out, "\x1b[r")
}

// HandleResize re-queries terminal dimensions and re-establishes the
// scrolling region in response to SIGWINCH. It is safe to call even if
// no region has been set up yet (Tick will establish one on the next
// frame).
func (r *Reporter) HandleResize() {
	if r.Size == nil {
		return
	}
	width, height, err := r.Size()
	if err != nil {
		return
	}
	r.rows, r.cols = height, width
	if r.ttyInit {
		r.setScrollRegion(height)
	}
}

// HandleInterrupt restores the scrolling region in response to SIGINT.
// The caller is responsible for printing "interrupted by user" and
// exiting with status 1.
func (r *Reporter) HandleInterrupt() {
	r.ResetScrollRegion()
}

func renderPlain(pct, width int) string {
	if width >= 4 {
		return fmt.Sprintf("%3d%%", pct)
	}
	return fmt.Sprintf("%d%%", pct)
}

func renderBar(pct int) string {
	filled := progressBarWidth * pct / 100
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	var b strings.Builder
	b.Grow(progressBarWidth)
	for i := 0; i < filled; i++ {
		b.WriteByte('=')
	}
	if filled < progressBarWidth {
		b.WriteByte('>')
		for i := filled + 1; i < progressBarWidth; i++ {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func renderTTYLine(pct int, file string, width int) string {
	prefix := fmt.Sprintf("%3d%% [%s] ", pct, renderBar(pct))
	remaining := width - runewidth.StringWidth(prefix)
	if remaining < 0 {
		remaining = 0
	}
	return prefix + runewidth.Truncate(file, remaining, "")
}

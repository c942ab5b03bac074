package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-facing output. In JSON mode everything except the
// JSON payload is suppressed.
type UI struct {
	out      io.Writer
	noColor  bool
	jsonMode bool
}

// NewUI creates a UI writing to stdout.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: os.Stdout, noColor: noColor, jsonMode: jsonMode}
}

func (ui *UI) print(c *color.Color, prefix, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf("%s %s\n", prefix, fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Fprint(ui.out, msg)
		return
	}
	c.Fprint(ui.out, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.print(color.New(color.FgGreen), "✓", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.print(color.New(color.FgYellow), "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.print(color.New(color.FgCyan), "ℹ", format, args...)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	header := fmt.Sprintf("━━━ %s ━━━", strings.ToUpper(title))
	if ui.noColor {
		fmt.Fprintln(ui.out, header)
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintln(ui.out, header)
	}
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Line prints a plain line.
func (ui *UI) Line(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintf(ui.out, format+"\n", args...)
}

// Spinner starts an indeterminate spinner on stderr. The returned func
// stops it. Nothing is drawn in JSON mode or when stderr is not a terminal.
func (ui *UI) Spinner(message string) func() {
	if ui.jsonMode || !IsTerminal(os.Stderr) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}

// ProgressBar creates a single progress bar on stderr, or nil when output
// is not interactive.
func (ui *UI) ProgressBar(total int64, description string) *progressbar.ProgressBar {
	if ui.jsonMode || !IsTerminal(os.Stderr) {
		return nil
	}
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("queries"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// StageBars renders one bar per indexing stage.
type StageBars struct {
	progress *mpb.Progress
	bars     map[string]*mpb.Bar
}

// NewStageBars returns nil when output is not interactive.
func (ui *UI) NewStageBars() *StageBars {
	if ui.jsonMode || !IsTerminal(os.Stderr) {
		return nil
	}
	return &StageBars{
		progress: mpb.New(mpb.WithWidth(48), mpb.WithOutput(os.Stderr)),
		bars:     make(map[string]*mpb.Bar),
	}
}

// Update moves the named stage to done of total, adding its bar on first use.
func (s *StageBars) Update(stage string, done, total int) {
	if s == nil || total <= 0 {
		return
	}
	bar, ok := s.bars[stage]
	if !ok {
		bar = s.progress.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(stage, decor.WC{W: len(stage) + 1, C: decor.DSyncSpaceR}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(decor.Percentage(decor.WC{W: 5})),
		)
		s.bars[stage] = bar
	}
	bar.SetCurrent(int64(done))
}

// Close finishes rendering. Bars that never completed are aborted so Wait
// cannot block.
func (s *StageBars) Close() {
	if s == nil {
		return
	}
	for _, bar := range s.bars {
		if !bar.Completed() {
			bar.Abort(false)
		}
	}
	s.progress.Wait()
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

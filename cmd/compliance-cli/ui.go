// Package main provides UI utilities for the compliance CLI.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/pipeline"
)

// UI provides user-friendly output utilities. In JSON mode it prints nothing.
type UI struct {
	out      io.Writer
	progress *mpb.Progress
	bar      *mpb.Bar
	jsonMode bool
}

// NewUI creates a new UI instance.
func NewUI(jsonMode bool) *UI {
	ui := &UI{out: os.Stdout, jsonMode: jsonMode}
	if !jsonMode && IsTerminal() {
		ui.progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	}
	return ui
}

// Close waits for progress bars to finish rendering.
func (ui *UI) Close() {
	if ui.progress != nil {
		if ui.bar != nil && !ui.bar.Completed() {
			ui.bar.Abort(false)
		}
		ui.progress.Wait()
	}
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.line(color.FgGreen, "✓", format, args...)
}

// Error prints an error message.
func (ui *UI) Error(format string, args ...interface{}) {
	ui.line(color.FgRed, "✗", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.line(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.line(color.FgCyan, "ℹ", format, args...)
}

func (ui *UI) line(attr color.Attribute, mark, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(attr).Fprintf(ui.out, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "━━━ %s ━━━\n", strings.ToUpper(title))
}

// KeyValue prints a key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Spinner runs an indeterminate spinner on stderr until stop is called.
func (ui *UI) Spinner(message string) (stop func()) {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}

// ClauseProgress returns a pipeline progress hook. Terminals get an mpb bar; piped output
// gets a plain progressbar on stderr.
func (ui *UI) ClauseProgress() func(pipeline.Event) {
	if ui.jsonMode {
		return nil
	}

	if ui.progress != nil {
		return func(e pipeline.Event) {
			switch e.Stage {
			case pipeline.StageExtracted:
				if e.Total == 0 {
					return
				}
				ui.bar = ui.progress.AddBar(int64(e.Total),
					mpb.PrependDecorators(
						decor.Name("clauses", decor.WC{W: 8, C: decor.DSyncSpaceR}),
						decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
					),
					mpb.AppendDecorators(
						decor.Percentage(decor.WC{W: 5}),
						decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}),
					),
				)
			case pipeline.StageDone:
				if ui.bar != nil {
					ui.bar.Increment()
				}
			}
		}
	}

	var bar *progressbar.ProgressBar
	return func(e pipeline.Event) {
		switch e.Stage {
		case pipeline.StageExtracted:
			bar = progressbar.NewOptions(e.Total,
				progressbar.OptionSetDescription("clauses"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
			)
		case pipeline.StageDone:
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}
}

// Matches prints ranked matches with the selection highlighted.
func (ui *UI) Matches(matches []domain.RankedMatch) {
	if ui.jsonMode {
		return
	}
	for i, m := range matches {
		label := "alternative"
		if i == 0 {
			label = "selected"
		}
		c := color.New(color.FgWhite)
		if i == 0 {
			c = color.New(color.FgGreen, color.Bold)
		}
		c.Fprintf(ui.out, "  %d. %-10s %3d  [%s, %s]\n", i+1, m.ModelNumber, m.Score, label, m.Source)
		if m.Reasoning != "" {
			fmt.Fprintf(ui.out, "     %s\n", m.Reasoning)
		}
		for req, verdict := range m.SpecCompliance {
			fmt.Fprintf(ui.out, "       %s: %s\n", req, verdict)
		}
	}
}

// Report prints one compliance report.
func (ui *UI) Report(report *domain.ComplianceReport) {
	if ui.jsonMode || report == nil {
		return
	}
	if report.Error != "" {
		ui.Error("comparison failed: %s", report.Error)
		return
	}
	for _, item := range report.Analysis {
		mark, attr := "✗", color.FgRed
		if item.Complies {
			mark, attr = "✓", color.FgGreen
		}
		color.New(attr).Fprintf(ui.out, "  %s ", mark)
		fmt.Fprintf(ui.out, "%s", item.Requirement)
		if item.SpecValue != "" {
			color.New(color.FgHiBlack).Fprintf(ui.out, "  (%s)", item.SpecValue)
		}
		if item.Corrected {
			color.New(color.FgYellow).Fprint(ui.out, "  corrected")
		}
		fmt.Fprintln(ui.out)
	}
	for _, a := range report.AreasExceeding {
		ui.KeyValue("exceeds", a)
	}
	for _, issue := range report.PotentialIssues {
		ui.KeyValue("issue", issue)
	}
	verdict := color.New(color.FgRed, color.Bold).Sprint("NON-COMPLIANT")
	if report.OverallCompliance {
		verdict = color.New(color.FgGreen, color.Bold).Sprint("COMPLIANT")
	}
	fmt.Fprintf(ui.out, "  overall: %s (%d/%d)\n", verdict, report.CompliantCount(), len(report.Analysis))
}

// Clause prints one pipeline clause result.
func (ui *UI) Clause(c pipeline.ClauseResult) {
	if ui.jsonMode {
		return
	}
	title := c.Requirement.ClauseID
	if c.Requirement.Title != "" {
		title += " " + c.Requirement.Title
	}
	ui.Section(title)
	ui.KeyValue("meter type", c.Requirement.MeterType)
	ui.KeyValue("specifications", len(c.Requirement.Specifications))
	if c.Selected != "" {
		model := c.Selected
		if c.Overridden {
			model += " (override)"
		}
		ui.KeyValue("meter", model)
	}
	if len(c.Matches) > 1 {
		alts := make([]string, 0, 2)
		for _, m := range c.Matches[1:] {
			if len(alts) == 2 {
				break
			}
			alts = append(alts, m.ModelNumber)
		}
		ui.KeyValue("alternatives", strings.Join(alts, ", "))
	}
	if c.Error != "" {
		ui.Error("%s", c.Error)
	}
	ui.Report(c.Report)
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

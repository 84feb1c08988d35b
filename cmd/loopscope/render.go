package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/loopscope/loopscope/profiling"
)

const barWidth = 40

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

func renderStats(w io.Writer, stats profiling.Stats) {
	fmt.Fprintln(w, titleStyle.Render("Loopscope session"))

	summary := stats.Summary()
	style := okStyle
	if summary != "OK" {
		style = badStyle
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("summary:"), style.Render(summary))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("backend:"), stats.Backend)
	fmt.Fprintf(w, "%s %d created, %d completed, %d dropped\n",
		labelStyle.Render("tasks:  "),
		stats.TasksCreated, stats.TasksCompleted, stats.TasksDropped)
	fmt.Fprintf(w, "%s max %s, p95 %s, avg %s\n",
		labelStyle.Render("lag:    "),
		stats.EventLoopLag.Max, stats.EventLoopLag.P95, stats.EventLoopLag.Avg)

	renderBlocking(w, stats.BlockingCalls)
	renderTimeline(w, stats.Timeline)
	renderTopFunctions(w, stats.TopFunctions)

	for _, warning := range stats.Warnings {
		fmt.Fprintln(w, warnStyle.Render("warning: "+warning))
	}
}

func renderBlocking(w io.Writer, events []profiling.BlockingEvent) {
	if len(events) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Blocking callbacks"))
	for _, ev := range events {
		style := warnStyle
		if ev.Severity == profiling.SeverityCritical {
			style = badStyle
		}
		fmt.Fprintf(w, "%s %s at %s %s\n",
			style.Render(string(ev.Severity)),
			ev.Callback, ev.At, ev.Duration)
	}
}

func renderTimeline(w io.Writer, timeline []profiling.TimelineEntry) {
	if len(timeline) == 0 {
		return
	}

	var span time.Duration
	for _, entry := range timeline {
		if end := entry.Start + entry.Duration; end > span {
			span = end
		}
	}
	if span == 0 {
		span = time.Millisecond
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Timeline"))
	for _, entry := range timeline {
		offset := int(int64(barWidth) * int64(entry.Start) / int64(span))
		length := int(int64(barWidth) * int64(entry.Duration) / int64(span))
		if length < 1 {
			length = 1
		}
		if offset+length > barWidth {
			length = barWidth - offset
		}

		bar := strings.Repeat(" ", offset) +
			barStyle.Render(strings.Repeat("█", length))
		fmt.Fprintf(w, "%-*s %s %s\n",
			24, strings.Repeat("  ", entry.Depth)+entry.Name,
			bar, entry.Duration)
	}
}

func renderTopFunctions(w io.Writer, timings []profiling.FunctionTiming) {
	if len(timings) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Top functions"))
	for _, t := range timings {
		fmt.Fprintf(w, "%-40s calls %-4d total %-10s running %-10s cpu %s\n",
			t.Name, t.Calls, t.Total, t.Running, t.CPUTime)
	}
}

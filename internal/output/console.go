// Package output renders live progress and the final report of a run.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/engine"
	"github.com/wesleyorama2/surge/internal/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

// Box drawing and progress bar characters
const (
	boxHorizontal  = "━"
	boxLight       = "─"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 55
)

// Console manages console output during a run.
//
// On a terminal the live progress block is redrawn in place; otherwise one
// status line is printed per update so logs and CI output stay readable.
type Console struct {
	title  string
	writer io.Writer
	isTTY  bool
	quiet  bool
	colors *ColorScheme
	plain  bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Title       string
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a console writing to cfg.Writer (stdout when nil).
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Title == "" {
		cfg.Title = "surge"
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && supportsColors()))

	colors := NoColorScheme()
	if useColors {
		colors = ForcedColorScheme()
	}

	return &Console{
		title:  cfg.Title,
		writer: cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		colors: colors,
		plain:  !useColors,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints what is about to run.
func (c *Console) PrintHeader(cfg *config.Config, mode engine.Mode, runID string) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s [%s]",
		c.colors.Title.Sprint(c.title),
		"Running",
		c.colors.Accent.Sprint(string(mode))))
	c.writeln(rule)

	c.field("Run ID", runID)
	c.field("Broker", fmt.Sprintf("%s://%s:%d", cfg.Broker.Scheme, cfg.Broker.Address, cfg.Broker.Port))
	if mode != engine.ModeSubscribe {
		c.field("Publishers", fmt.Sprintf("%d x %d messages every %s, %d bytes, QoS %d",
			cfg.Publisher.Sessions, cfg.Publisher.Messages, cfg.Publisher.Interval,
			cfg.Publisher.PayloadBytes, cfg.Publisher.QoS))
		c.field("Topics", cfg.PublisherTopic(cfg.PublisherID(1))+" ...")
	}
	if mode != engine.ModePublish {
		c.field("Subscribers", fmt.Sprintf("%d on %s, QoS %d",
			cfg.Subscriber.Sessions, cfg.SubscriberFilter(), cfg.Subscriber.QoS))
	}
	if mode == engine.ModeSubscribe {
		if cfg.Subscriber.ExpectedMessages > 0 {
			c.field("Awaiting", formatNumber(cfg.Subscriber.ExpectedMessages)+" messages")
		} else {
			c.field("Awaiting", "messages until interrupted")
		}
	}
	c.writeln("")
}

// Update shows a progress report.
func (c *Console) Update(p engine.Progress) {
	if c.quiet {
		return
	}
	if !c.isTTY {
		c.printStatusLine(p)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLive(p)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// progressOf returns the completion fraction, or -1 when there is no target.
func progressOf(p engine.Progress) float64 {
	if p.Expected <= 0 {
		return -1
	}
	done := p.Live.Received
	if p.Mode == engine.ModePublish {
		done = p.Live.Published
	}
	frac := float64(done) / float64(p.Expected)
	if frac > 1 {
		frac = 1
	}
	return frac
}

func (c *Console) renderLive(p engine.Progress) []string {
	var lines []string

	elapsed := c.colors.Dim.Sprint(formatDuration(p.Live.Elapsed))
	if frac := progressOf(p); frac >= 0 {
		lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
			c.colors.Good.Sprint(renderProgressBar(frac, 40)),
			c.colors.Title.Sprintf("%.0f%%", frac*100),
			elapsed))
	} else {
		lines = append(lines, fmt.Sprintf("Progress: %s | %s",
			c.colors.Accent.Sprint("waiting for messages"), elapsed))
	}

	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxLight, boxWidth-2)+boxTopRight))
	lines = append(lines, c.boxRow(
		"Sessions:  "+c.colors.Value.Sprint(formatNumber(int64(p.Sessions))),
		"Malformed: "+c.colorCount(p.Live.Malformed, c.colors.Warn)))
	lines = append(lines, c.boxRow(
		"Published: "+c.colors.Value.Sprint(formatNumber(p.Live.Published)),
		"Received:  "+c.colors.Value.Sprint(formatNumber(p.Live.Received))))
	lines = append(lines, c.boxRow(
		"Pub/s:     "+c.colors.Good.Sprintf("%.1f", p.Live.PublishRate),
		"Recv/s:    "+c.colors.Good.Sprintf("%.1f", p.Live.ReceiveRate)))
	if p.Live.Samples > 0 {
		lines = append(lines, c.boxRow(
			"P50:       "+c.colors.Accent.Sprint(formatDurationShort(p.Live.P50)),
			"P95:       "+c.colors.Accent.Sprint(formatDurationShort(p.Live.P95))))
	}
	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxLight, boxWidth-2)+boxBottomRight))

	return lines
}

func (c *Console) printStatusLine(p engine.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := []string{
		fmt.Sprintf("[%s]", formatDuration(p.Live.Elapsed)),
		fmt.Sprintf("Sessions: %d", p.Sessions),
		fmt.Sprintf("Published: %d", p.Live.Published),
		fmt.Sprintf("Received: %d", p.Live.Received),
	}
	if frac := progressOf(p); frac >= 0 {
		parts = append(parts, fmt.Sprintf("Progress: %.0f%%", frac*100))
	}
	if p.Live.Malformed > 0 {
		parts = append(parts, fmt.Sprintf("Malformed: %d", p.Live.Malformed))
	}
	if p.Live.Samples > 0 {
		parts = append(parts, "P95: "+formatDurationShort(p.Live.P95))
	}
	c.writeln(strings.Join(parts, " | "))
}

// PrintSummary prints the final report of a run.
func (c *Console) PrintSummary(res *engine.Result) {
	if c.quiet {
		c.printQuietSummary(res)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	s := res.Summary
	status := "Completed " + SuccessIcon(c.plain)
	if res.Interrupted {
		status = "Interrupted " + WarningIcon(c.plain)
	}

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprintf("Test Results (%s)", res.Mode), status))
	c.writeln(rule)

	c.field("Run ID", res.RunID)
	if res.Mode != engine.ModeSubscribe {
		c.field("Publishers", sessionLine(res.Publishers))
	}
	if res.Mode != engine.ModePublish {
		c.field("Subscribers", sessionLine(res.Subscribers))
	}
	if s.ConnectFailures > 0 {
		c.field("Connect failures", ErrorIcon(c.plain)+" "+c.colors.Bad.Sprint(formatNumber(s.ConnectFailures)))
	}

	if res.Mode != engine.ModeSubscribe {
		c.field("Messages sent", formatNumber(s.Published))
		if s.PublishErrors > 0 {
			c.field("Publish errors", c.colors.Warn.Sprint(formatNumber(s.PublishErrors)))
		}
	}
	if res.Mode != engine.ModePublish {
		received := formatNumber(s.Received)
		if res.Expected > 0 {
			received += " of " + formatNumber(res.Expected)
		}
		c.field("Messages received", received)
		malformed := formatNumber(s.Malformed)
		if s.Malformed > 0 {
			malformed = c.colors.Warn.Sprint(malformed)
		}
		c.field("Malformed", malformed)
	}

	c.field("Test duration", fmt.Sprintf("%.2f seconds", s.Duration.Seconds()))
	if res.Mode != engine.ModeSubscribe {
		c.field("Publish rate", rateLine(s.PublishRate))
	}
	if res.Mode != engine.ModePublish {
		c.field("Receive rate", rateLine(s.ReceiveRate))
	}
	c.writeln("")

	if res.Mode != engine.ModePublish {
		c.printLatency(s.Latency)
		c.printSequence(s)
	}

	if res.Monitor != "" {
		c.field("Monitoring", monitorLine(res.Monitor))
	}
	if res.Drained > 0 {
		c.field("Force-closed sessions", formatNumber(int64(res.Drained)))
	}
	if res.Interrupted && res.Reason != "" {
		c.field("Stopped by", res.Reason)
	}
	c.writeln("")
}

func (c *Console) printQuietSummary(res *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := res.Summary
	c.writeln(fmt.Sprintf("sent=%d received=%d malformed=%d gaps=%d duration=%.2fs interrupted=%t",
		s.Published, s.Received, s.Malformed, s.Sequence.Gaps, s.Duration.Seconds(), res.Interrupted))
}

func (c *Console) printLatency(l *metrics.LatencySummary) {
	if l == nil {
		c.writeln("No messages received.")
		c.writeln("")
		return
	}

	c.writeln(c.colors.Title.Sprint("Latency (seconds):"))
	c.writeln(fmt.Sprintf("  Min:             %s", formatSeconds(l.Min)))
	c.writeln(fmt.Sprintf("  Max:             %s", formatSeconds(l.Max)))
	c.writeln(fmt.Sprintf("  Avg:             %s", formatSeconds(l.Mean)))
	c.writeln(fmt.Sprintf("  Median:          %s", formatSeconds(l.Median)))
	if l.P90 != nil {
		c.writeln(fmt.Sprintf("  90th Percentile: %s", formatSeconds(*l.P90)))
	}
	if l.P99 != nil {
		c.writeln(fmt.Sprintf("  99th Percentile: %s", formatSeconds(*l.P99)))
	}
	if l.P90 == nil {
		c.writeln(c.colors.Dim.Sprintf("  Percentiles need at least %d samples.", metrics.MinPercentileSamples))
	}
	c.writeln("")
}

func (c *Console) printSequence(s metrics.Summary) {
	seq := s.Sequence
	c.writeln(c.colors.Title.Sprint("Sequence:"))
	c.writeln(fmt.Sprintf("  Gaps:            %s (%s missing)",
		c.colorCount(seq.Gaps, c.colors.Warn), formatNumber(seq.Missing)))
	c.writeln(fmt.Sprintf("  Out of order:    %s", c.colorCount(seq.OutOfOrder, c.colors.Warn)))
	if s.NegativeLatencies > 0 {
		c.writeln(fmt.Sprintf("  Clock skew:      %s negative latencies",
			c.colors.Warn.Sprint(formatNumber(s.NegativeLatencies))))
	}
	c.writeln("")
}

func (c *Console) colorCount(n int64, nonZero *color.Color) string {
	if n == 0 {
		return c.colors.Good.Sprint("0")
	}
	return nonZero.Sprint(formatNumber(n))
}

func (c *Console) field(label, value string) {
	c.writeln(fmt.Sprintf("%-22s %s", label+":", value))
}

func (c *Console) boxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := colWidth - visibleLen(left)
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - visibleLen(right)
	if rightPadding < 0 {
		rightPadding = 0
	}

	bar := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s%s",
		bar,
		left, strings.Repeat(" ", leftPadding),
		bar,
		right, strings.Repeat(" ", rightPadding),
		bar)
}

// clearLive erases the live block. Must be called with c.mu held.
func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func sessionLine(sc engine.SessionCounts) string {
	line := fmt.Sprintf("%d (%d connected", sc.Requested, sc.Connected)
	if sc.Failed > 0 {
		line += fmt.Sprintf(", %d failed", sc.Failed)
	}
	return line + ")"
}

func rateLine(rate *float64) string {
	if rate == nil {
		return "cannot calculate rate (duration was zero)"
	}
	return fmt.Sprintf("%.2f messages/second", *rate)
}

func monitorLine(o engine.Outcome) string {
	switch o {
	case engine.OutcomeCompleted:
		return "all expected messages received"
	case engine.OutcomeInterrupted:
		return "stopped by shutdown signal"
	case engine.OutcomeTimedOut:
		return "drain timeout expired"
	case engine.OutcomeNoSessions:
		return "no subscriber sessions connected"
	default:
		return string(o)
	}
}

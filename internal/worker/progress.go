package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const barWidth = 30

// Progress tracks batch generation and renders a single-line progress bar.
type Progress struct {
	startTime time.Time
	output    io.Writer
	total     int
	completed int
	failed    int
	pixels    int64
	mu        sync.RWMutex
	enabled   bool
}

// NewProgress creates a progress tracker writing to stderr when enabled.
func NewProgress(total int, enabled bool) *Progress {
	return &Progress{
		total:     total,
		startTime: time.Now(),
		output:    os.Stderr,
		enabled:   enabled,
	}
}

// Update records a finished task. Pixels of successful textures feed the throughput figure.
func (p *Progress) Update(r Result, completed, total, failed int) {
	p.mu.Lock()
	p.completed = completed
	p.total = total
	p.failed = failed
	if r.Err == nil {
		params := r.Task.Key.Params
		p.pixels += int64(params.Width) * int64(params.Height)
	}
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

type snapshot struct {
	completed, total, failed int
	pixels                   int64
	elapsed                  time.Duration
}

func (p *Progress) snapshot() snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return snapshot{
		completed: p.completed,
		total:     p.total,
		failed:    p.failed,
		pixels:    p.pixels,
		elapsed:   time.Since(p.startTime),
	}
}

// megapixelRate returns throughput in megapixels per second.
func (s snapshot) megapixelRate() float64 {
	if s.elapsed <= 0 {
		return 0
	}
	return float64(s.pixels) / 1e6 / s.elapsed.Seconds()
}

func (s snapshot) eta() time.Duration {
	if s.completed == 0 || s.completed >= s.total {
		return 0
	}
	perTask := s.elapsed / time.Duration(s.completed)
	return perTask * time.Duration(s.total-s.completed)
}

// Print writes the current progress line.
func (p *Progress) Print() {
	s := p.snapshot()

	filled := 0
	if s.total > 0 {
		filled = s.completed * barWidth / s.total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "\r[%s] %d/%d textures", bar, s.completed, s.total)
	if s.failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", s.failed)
	}
	fmt.Fprintf(&b, " - %.2f Mpx/s", s.megapixelRate())
	if eta := s.eta(); eta > 0 {
		fmt.Fprintf(&b, " - ETA: %s", formatDuration(eta))
	}
	if s.total > 0 && s.completed == s.total {
		fmt.Fprintf(&b, " - Done in %s", formatDuration(s.elapsed))
	}
	b.WriteString("          ")

	fmt.Fprint(p.output, b.String())
}

// Done prints the final progress and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		fmt.Fprintln(p.output)
	}
}

// Summary returns a one-line summary of the completed work.
func (p *Progress) Summary() string {
	s := p.snapshot()
	return fmt.Sprintf("Generated %d/%d textures (%d failed) in %s (%.2f Mpx/s)",
		s.completed-s.failed, s.total, s.failed, formatDuration(s.elapsed), s.megapixelRate())
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

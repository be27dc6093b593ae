package driveclient

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	progressBarWidth     = 32
	progressRenderPeriod = 120 * time.Millisecond
)

// progressBar рисует ASCII-индикатор в out. Nil-бар и nil-out безопасны.
type progressBar struct {
	out       io.Writer
	prefix    string
	total     int64
	current   int64
	lastDraw  time.Time
	lastWidth int
	finished  bool
	mu        sync.Mutex
}

func newProgressBar(out io.Writer, prefix string, total int64) *progressBar {
	if out == nil {
		return nil
	}
	return &progressBar{out: out, prefix: prefix, total: total}
}

func (p *progressBar) AddBytes(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.current += n
	if now := time.Now(); now.Sub(p.lastDraw) >= progressRenderPeriod || p.current >= p.total {
		p.lastDraw = now
		p.drawLocked("", false)
	}
}

func (p *progressBar) Finish() { p.complete(" ✓") }

func (p *progressBar) Fail(err error) { p.complete(fmt.Sprintf(" ✗ %v", err)) }

func (p *progressBar) complete(suffix string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	p.drawLocked(suffix, true)
}

func (p *progressBar) drawLocked(suffix string, newline bool) {
	line := p.line() + suffix
	pad := ""
	if p.lastWidth > len(line) {
		pad = strings.Repeat(" ", p.lastWidth-len(line))
	}
	p.lastWidth = len(line)
	end := ""
	if newline {
		end = "\n"
	}
	fmt.Fprintf(p.out, "\r%s%s%s", line, pad, end)
}

func (p *progressBar) line() string {
	if p.total <= 0 {
		return fmt.Sprintf("%s %s transferred", p.prefix, HumanBytes(p.current))
	}
	ratio := min(float64(p.current)/float64(p.total), 1)
	filled := min(int(ratio*progressBarWidth+0.5), progressBarWidth)
	return fmt.Sprintf("%s [%s%s] %3d%% %s/%s",
		p.prefix,
		strings.Repeat("=", filled), strings.Repeat(" ", progressBarWidth-filled),
		int(ratio*100+0.5),
		HumanBytes(p.current), HumanBytes(p.total))
}

// HumanBytes форматирует размер в двоичных единицах.
func HumanBytes(v int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB", "PB"}
	value := float64(v)
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", v, units[unit])
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}

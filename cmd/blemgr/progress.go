package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progress shows a status line with elapsed or remaining seconds on a terminal.
//
//	p := startProgress(os.Stderr, "Scanning", 10*time.Second)
//	defer p.Stop()
//
// On anything but a terminal it prints nothing.
type progress struct {
	w        io.Writer
	label    string
	duration time.Duration // 0 counts up
	start    time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// startProgress starts a countdown from duration, or an elapsed counter when duration is 0.
func startProgress(f *os.File, label string, duration time.Duration) *progress {
	p := &progress{
		w:        f,
		label:    label,
		duration: duration,
		start:    time.Now(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if !term.IsTerminal(int(f.Fd())) {
		close(p.done)
		return p
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				fmt.Fprint(p.w, clearLineSequence)
				return
			case <-ticker.C:
				fmt.Fprintf(p.w, "\r%s (%ds)   ", p.label, p.seconds(time.Since(p.start)))
			}
		}
	}()
	return p
}

// seconds is the figure shown after elapsed time, rounded to the nearest second for countdowns
func (p *progress) seconds(elapsed time.Duration) int {
	if p.duration == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

// Stop clears the line. Safe to call more than once.
func (p *progress) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

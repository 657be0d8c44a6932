package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/poc-cli/internal/domain/execution"
)

// progressPrinter renders a single status line fed by unit transitions. It
// satisfies orchestrator.Observer.
type progressPrinter struct {
	out      io.Writer
	total    int
	name     string
	mu       sync.Mutex
	running  int
	vuln     int
	clean    int
	fail     int
	duration time.Duration
	updates  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newProgressPrinter(out io.Writer, total int, name string) *progressPrinter {
	if total <= 0 {
		total = 1
	}
	return &progressPrinter{
		out:     out,
		total:   total,
		name:    name,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (p *progressPrinter) Start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *progressPrinter) UnitStarted(execution.Outcome) {
	p.mu.Lock()
	p.running++
	p.mu.Unlock()
	p.notify()
}

func (p *progressPrinter) UnitFinished(o execution.Outcome) {
	p.mu.Lock()
	if !o.StartedAt.IsZero() {
		p.running--
	}
	switch o.Status {
	case execution.StatusFailedVulnerable:
		p.vuln++
	case execution.StatusSucceeded:
		p.clean++
	default:
		p.fail++
	}
	p.duration += o.Duration
	p.mu.Unlock()
	p.notify()
}

func (p *progressPrinter) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}

func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		fmt.Fprintf(p.out, "\r%s\r", strings.Repeat(" ", 80))
		p.print()
		fmt.Fprintln(p.out)
	})
}

func (p *progressPrinter) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.print()
		case <-ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *progressPrinter) print() {
	p.mu.Lock()
	running, vuln, clean, fail := p.running, p.vuln, p.clean, p.fail
	dur := p.duration
	p.mu.Unlock()

	completed := vuln + clean + fail
	total := max(p.total, completed)

	percent := (float64(completed) / float64(total)) * 100
	avg := 0.0
	if completed > 0 {
		avg = dur.Seconds() / float64(completed)
	}

	fmt.Fprintf(p.out, "\r[%s] Progress: %d/%d (%.1f%%) Running:%d Vuln:%d Clean:%d Fail:%d Avg:%.2fs",
		p.name, completed, total, percent, running, vuln, clean, fail, avg)
}

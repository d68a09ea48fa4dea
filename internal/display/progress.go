package display

import (
	"fmt"
	"sync"
	"time"
)

// Progress renders a live completed/total counter on a Console.
type Progress struct {
	console  *Console
	total    int
	name     string
	mu       sync.Mutex
	ok       int
	fail     int
	elapsed  time.Duration
	updates  chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	started  bool
	stopOnce sync.Once
}

func NewProgress(c *Console, total int, name string) *Progress {
	if total <= 0 {
		total = 1
	}
	return &Progress{
		console: c,
		total:   total,
		name:    name,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (p *Progress) Start() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go p.loop()
}

// Increment records one finished unit.
func (p *Progress) Increment(success bool, d time.Duration) {
	p.mu.Lock()
	if success {
		p.ok++
	} else {
		p.fail++
	}
	p.elapsed += d
	p.mu.Unlock()

	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// Stop draws the final counter and releases the line. Safe to call more than once.
func (p *Progress) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		started := p.started
		p.mu.Unlock()
		if started {
			<-p.stopped
		}
		p.console.redraw(p.Line())
		p.console.release()
	})
}

func (p *Progress) loop() {
	defer close(p.stopped)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.updates:
			p.console.redraw(p.Line())
		case <-ticker.C:
			p.console.redraw(p.Line())
		case <-p.done:
			return
		}
	}
}

// Line formats the current counter.
func (p *Progress) Line() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	completed := p.ok + p.fail
	total := p.total
	if completed > total {
		total = completed
	}
	percent := float64(completed) / float64(total) * 100
	avg := 0.0
	if completed > 0 {
		avg = p.elapsed.Seconds() / float64(completed)
	}
	return fmt.Sprintf("[%s] Progress: %d/%d (%.1f%%) OK:%d Fail:%d Avg:%.2fs",
		p.name, completed, total, percent, p.ok, p.fail, avg)
}

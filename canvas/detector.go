package canvas

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the dirty state is re-read.
const DefaultPollInterval = 100 * time.Millisecond

// Detector answers whether a surface holds any drawing.
type Detector struct {
	surface *Surface
}

// NewDetector creates a detector reading s.
func NewDetector(s *Surface) *Detector {
	return &Detector{surface: s}
}

// HasDrawing reports whether any pixel of the buffer is non-zero. Anti-aliased
// edge pixels count. A closed surface has no drawing.
func (d *Detector) HasDrawing() bool {
	dirty := false
	_ = d.surface.view(func(pix []uint8, _, _ int) {
		for i := 0; i+4 <= len(pix); i += 4 {
			if binary.LittleEndian.Uint32(pix[i:]) != 0 {
				dirty = true
				return
			}
		}
	})
	return dirty
}

// DirtyChecker is anything that can report a dirty state.
type DirtyChecker interface {
	HasDrawing() bool
}

// Poller re-reads a DirtyChecker on a fixed period. The buffer does not notify
// observers when it changes, so the cached value can lag by one period.
type Poller struct {
	checker  DirtyChecker
	period   time.Duration
	onChange func(dirty bool)

	dirty   atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewPoller creates a poller. onChange, if not nil, is called from the polling
// goroutine whenever the dirty state flips.
func NewPoller(checker DirtyChecker, period time.Duration, onChange func(dirty bool)) *Poller {
	if period <= 0 {
		period = DefaultPollInterval
	}
	return &Poller{
		checker:  checker,
		period:   period,
		onChange: onChange,
	}
}

// Start launches the polling goroutine. It runs until Stop is called or ctx is done.
// Calling Start more than once has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Poll()
			}
		}
	}()
}

// Stop cancels the polling goroutine and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Poll reads the checker once and updates the cached value.
func (p *Poller) Poll() bool {
	dirty := p.checker.HasDrawing()
	if prev := p.dirty.Swap(dirty); prev != dirty {
		logrus.WithField("dirty", dirty).Debug("Canvas dirty state changed")
		if p.onChange != nil {
			p.onChange(dirty)
		}
	}
	return dirty
}

// Dirty returns the value seen by the last poll.
func (p *Poller) Dirty() bool {
	return p.dirty.Load()
}

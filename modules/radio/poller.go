package radio

import (
	"context"
	"log/slog"
	"time"
)

// poller drives periodic metadata reads for one play session. It polls once
// immediately, then ticks at the interval belonging to the mode the poll
// function reports, retuning the ticker whenever the mode changes.
type poller struct {
	logger *slog.Logger
	lazy   time.Duration
	active time.Duration

	// poll performs one read-and-apply cycle and returns the effective mode.
	poll func(ctx context.Context) Mode
}

func (p *poller) intervalFor(m Mode) time.Duration {
	if m == ModeActive {
		return p.active
	}
	return p.lazy
}

func (p *poller) run(ctx context.Context) {
	interval := p.intervalFor(p.poll(ctx))

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			next := p.intervalFor(p.poll(ctx))
			if next != interval {
				p.logger.Debug("poll interval changed", "interval", next)
				interval = next
				t.Reset(next)
			}
		}
	}
}

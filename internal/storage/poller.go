package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ChangeLog is the read side of a store's change history.
type ChangeLog interface {
	LastSeq() (int64, error)
	ChangesSince(after int64, limit int) ([]ChangeEvent, error)
}

const pollBatch = 256

// Poller tails a ChangeLog and forwards changes written by other origins.
type Poller struct {
	log    ChangeLog
	origin string
	sink   func(ChangeEvent)
	poll   time.Duration
	logger *slog.Logger

	last   int64
	primed bool
}

// NewPoller creates a Poller that ignores changes tagged with origin.
// If pollInterval is <= 0, it defaults to 250ms.
func NewPoller(log ChangeLog, origin string, sink func(ChangeEvent), pollInterval time.Duration) *Poller {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Poller{
		log:    log,
		origin: origin,
		sink:   sink,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Prime skips all history written so far. Run primes on first use.
func (p *Poller) Prime() error {
	seq, err := p.log.LastSeq()
	if err != nil {
		return err
	}
	p.last = seq
	p.primed = true
	return nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if !p.primed {
		if err := p.Prime(); err != nil {
			return fmt.Errorf("priming change log: %w", err)
		}
	}
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error("change log poll failed", "error", err)
		}
		if n == pollBatch {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.poll):
		}
	}
}

// RunOnce reads one batch of changes and delivers the foreign ones.
// It returns the number of rows read.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	if !p.primed {
		if err := p.Prime(); err != nil {
			return 0, err
		}
	}
	changes, err := p.log.ChangesSince(p.last, pollBatch)
	if err != nil {
		return 0, err
	}
	for _, ev := range changes {
		if ctx.Err() != nil {
			break
		}
		p.last = ev.Seq
		if ev.Origin == p.origin {
			continue
		}
		p.sink(ev)
	}
	return len(changes), nil
}

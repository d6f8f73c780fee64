package effector

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/focuslamp/internal/domain/color"
)

// Config holds dispatcher configuration.
type Config struct {
	LEDCount int // Number of pixels on the strip; 0 disables the paint length check
}

// Dispatcher arbitrates submitted commands and applies the winner.
//
// Arbitration happens at submission time only. A command wins when it is of
// equal or higher priority than the current winner, or when the current winner
// has already been applied (is no longer held). A single worker applies winners
// serially, so at most one command is in effect at a time.
type Dispatcher struct {
	mu sync.Mutex

	effector Effector
	config   Config

	seq      uint64
	winner   *Command
	applied  *Command
	doneSeq  uint64 // Seq of the last command whose apply attempt finished
	failures int
	lastErr  error

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its apply worker.
func NewDispatcher(effector Effector, config Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		effector: effector,
		config:   config,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go d.worker()
	return d
}

// Submit arbitrates cmd against the current winner. It never blocks on the
// hardware; won reports whether cmd became the winner.
func (d *Dispatcher) Submit(cmd Command) (bool, error) {
	if err := cmd.Validate(d.config.LEDCount); err != nil {
		return false, err
	}

	colors := make([]color.RGB, len(cmd.Colors))
	copy(colors, cmd.Colors)
	cmd.Colors = colors

	d.mu.Lock()
	d.seq++
	cmd.Seq = d.seq

	if d.winner != nil && d.heldLocked() && d.winner.Priority.Outranks(cmd.Priority) {
		current := d.winner.Priority
		d.mu.Unlock()
		zlog.Debug().Msgf("effector: command lost arbitration: seq=%d kind=%s priority=%s held_priority=%s",
			cmd.Seq, cmd.Kind, cmd.Priority, current)
		return false, nil
	}

	d.winner = &cmd
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true, nil
}

// Current returns the current arbitration winner.
func (d *Dispatcher) Current() (Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.winner == nil {
		return Command{}, false
	}
	return *d.winner, true
}

// Applied returns the last command successfully applied to the hardware.
func (d *Dispatcher) Applied() (Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.applied == nil {
		return Command{}, false
	}
	return *d.applied, true
}

// Failures returns the number of failed apply attempts and the last error.
func (d *Dispatcher) Failures() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures, d.lastErr
}

// Held reports whether the current winner is still waiting to be applied.
func (d *Dispatcher) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heldLocked()
}

func (d *Dispatcher) heldLocked() bool {
	return d.winner != nil && d.winner.Seq != d.doneSeq
}

// Flush waits until the current winner has been applied or ctx ends.
func (d *Dispatcher) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for d.Held() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return errors.New("dispatcher closed")
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the worker. Pending winners are not applied.
func (d *Dispatcher) Close() {
	d.cancel()
	<-d.done
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.wake:
			d.drain()
		}
	}
}

// drain applies winners until the latest one has been attempted.
func (d *Dispatcher) drain() {
	for {
		if d.ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		if !d.heldLocked() {
			d.mu.Unlock()
			return
		}
		cmd := *d.winner
		d.mu.Unlock()

		err := d.apply(cmd)

		d.mu.Lock()
		d.doneSeq = cmd.Seq
		if err != nil {
			d.failures++
			d.lastErr = err
		} else {
			applied := cmd
			d.applied = &applied
		}
		d.mu.Unlock()

		if err != nil {
			zlog.Warn().Msgf("effector: apply failed: seq=%d kind=%s priority=%s err=%v", cmd.Seq, cmd.Kind, cmd.Priority, err)
		} else {
			zlog.Debug().Msgf("effector: applied: seq=%d kind=%s priority=%s colors=%v", cmd.Seq, cmd.Kind, cmd.Priority, cmd.Colors)
		}
	}
}

func (d *Dispatcher) apply(cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("effector panicked: %v", r)
		}
		if err != nil && !errors.Is(err, ErrEffectorUnavailable) {
			err = errors.Mark(err, ErrEffectorUnavailable)
		}
	}()
	return d.effector.Apply(d.ctx, cmd)
}

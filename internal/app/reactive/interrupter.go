package reactive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/focuslamp/internal/app/playback"
	"github.com/osa030/focuslamp/internal/domain/action"
	"github.com/osa030/focuslamp/internal/domain/rating"
)

// ErrBusy is returned by Perform while another action is in flight.
var ErrBusy = errors.New("an action is already in flight")

// DefaultPeriod is the rating sampling period.
const DefaultPeriod = 10 * time.Second

// Session is the part of the session controller the interrupter drives.
type Session interface {
	Pause() error
	Resume() error
	Stop() error
	State() playback.State
}

// Library resolves action names to recordings.
type Library interface {
	Has(name string) bool
	Load(name string) (action.Recording, error)
}

// Config holds interrupter configuration.
type Config struct {
	Period time.Duration // Sampling period; defaults to DefaultPeriod
}

// Interrupter samples the rating source and preempts the session with actions.
// At most one action runs at a time; triggers arriving meanwhile are dropped.
type Interrupter struct {
	session Session
	source  rating.Source
	library Library
	player  *Player
	config  Config

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu         sync.Mutex
	lastRating int
	hasRating  bool

	sourceWarn rate.Sometimes
}

// NewInterrupter creates a new interrupter.
func NewInterrupter(session Session, source rating.Source, library Library, player *Player, config Config) *Interrupter {
	if config.Period <= 0 {
		config.Period = DefaultPeriod
	}
	return &Interrupter{
		session:    session,
		source:     source,
		library:    library,
		player:     player,
		config:     config,
		sourceWarn: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// Run samples every period until the session ends, ctx is cancelled or total
// wall time has passed; it then stops the session. total <= 0 disables the limit.
func (i *Interrupter) Run(ctx context.Context, total time.Duration) {
	started := time.Now()
	ticker := time.NewTicker(i.config.Period)
	defer ticker.Stop()

	zlog.Info().Msgf("reactive: sampling started: period=%v total=%v", i.config.Period, total)
	defer zlog.Info().Msg("reactive: sampling stopped")

	for {
		if !i.sample(ctx, started, total) {
			return
		}

		select {
		case <-ctx.Done():
			i.stopSession("cancelled")
			return
		case <-ticker.C:
		}
	}
}

// LastRating returns the most recently observed rating.
func (i *Interrupter) LastRating() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastRating, i.hasRating
}

// InFlight reports whether an action is executing.
func (i *Interrupter) InFlight() bool {
	return i.inFlight.Load()
}

// Wait blocks until the in-flight action, if any, has finished.
func (i *Interrupter) Wait() {
	i.wg.Wait()
}

// Perform plays the named action synchronously, pausing the session around it
// when one is running.
func (i *Interrupter) Perform(ctx context.Context, name string) error {
	if !i.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer i.inFlight.Store(false)

	if err := i.session.Pause(); err == nil {
		defer i.resume(name)
	}
	return i.play(ctx, name)
}

// sample runs one tick. It returns false when sampling must end.
func (i *Interrupter) sample(ctx context.Context, started time.Time, total time.Duration) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("reactive: sampling panicked: %v", r)
			cont = true
		}
	}()

	if ctx.Err() != nil {
		i.stopSession("cancelled")
		return false
	}
	if !i.session.State().Active() {
		return false
	}
	if total > 0 && time.Since(started) >= total {
		i.stopSession("duration reached")
		return false
	}

	value, ok, err := i.source.Latest(ctx)
	if err != nil {
		i.sourceWarn.Do(func() {
			zlog.Warn().Msgf("reactive: rating unavailable: err=%v", err)
		})
		return true
	}
	if !ok {
		zlog.Debug().Msg("reactive: no rating yet")
		return true
	}

	i.mu.Lock()
	i.lastRating = value
	i.hasRating = true
	i.mu.Unlock()

	req, ok := rating.Lookup(value)
	if !ok {
		zlog.Debug().Msgf("reactive: no action for rating: rating=%d", value)
		return true
	}
	if !i.library.Has(req.Name) {
		zlog.Debug().Msgf("reactive: recording not available: rating=%d action=%s", value, req.Name)
		return true
	}

	i.trigger(ctx, req)
	return true
}

// trigger pauses the session and runs req on its own goroutine.
func (i *Interrupter) trigger(ctx context.Context, req rating.ActionRequest) {
	if !i.inFlight.CompareAndSwap(false, true) {
		zlog.Debug().Msgf("reactive: action in flight, dropping trigger: rating=%d action=%s", req.Bucket, req.Name)
		return
	}

	if err := i.session.Pause(); err != nil {
		i.inFlight.Store(false)
		zlog.Debug().Msgf("reactive: session not pausable, skipping action: action=%s err=%v", req.Name, err)
		return
	}

	zlog.Info().Msgf("reactive: action triggered: rating=%d action=%s", req.Bucket, req.Name)

	// The action runs to completion even if the session is stopped meanwhile.
	actx := context.WithoutCancel(ctx)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.inFlight.Store(false)
		defer i.resume(req.Name)

		if err := i.play(actx, req.Name); err != nil {
			zlog.Warn().Msgf("reactive: action failed: action=%s err=%v", req.Name, err)
		}
	}()
}

// play loads and plays a recording, converting panics into ErrActionFailed.
func (i *Interrupter) play(ctx context.Context, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Mark(errors.Newf("action %s panicked: %v", name, r), action.ErrActionFailed)
		}
	}()

	rec, err := i.library.Load(name)
	if err != nil {
		return err
	}
	return i.player.Play(ctx, rec)
}

func (i *Interrupter) resume(name string) {
	err := i.session.Resume()
	switch {
	case err == nil:
		zlog.Debug().Msgf("reactive: session resumed after action: action=%s", name)
	case errors.Is(err, playback.ErrInvalidState):
		zlog.Debug().Msgf("reactive: session not resumable after action: action=%s err=%v", name, err)
	default:
		zlog.Error().Msgf("reactive: failed to resume session: action=%s err=%v", name, err)
	}
}

func (i *Interrupter) stopSession(reason string) {
	err := i.session.Stop()
	switch {
	case err == nil:
		zlog.Info().Msgf("reactive: session stopped: reason=%s", reason)
	case errors.Is(err, playback.ErrInvalidState):
		// Already completed.
	default:
		zlog.Error().Msgf("reactive: failed to stop session: reason=%s err=%v", reason, err)
	}
}

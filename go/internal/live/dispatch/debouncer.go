package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TransmitFunc delivers a coalesced payload to the transport. Errors are
// logged by the Debouncer and never reach callers.
type TransmitFunc func(ctx context.Context, payload any) error

// Profile is a named (delay, maxWait) pair tuned for one message type's
// responsiveness vs. chattiness trade-off.
type Profile struct {
	Name    string
	Delay   time.Duration
	MaxWait time.Duration // zero means 3×Delay
}

// LyricNav is the debounce profile for lyric navigation messages. The values
// are load-bearing for perceived responsiveness and must not be retuned
// casually.
func LyricNav() Profile {
	return Profile{Name: "lyric_nav", Delay: 200 * time.Millisecond, MaxWait: 500 * time.Millisecond}
}

// SongSelect is the debounce profile for song selection messages.
func SongSelect() Profile {
	return Profile{Name: "song_select", Delay: 300 * time.Millisecond, MaxWait: 800 * time.Millisecond}
}

// Debouncer coalesces bursts of Send calls into a single transmission:
// last-write-wins within the delay window, with a hard staleness bound. A
// burst begins with the first Send after a quiet period and ends when its
// payload goes out; once MaxWait has elapsed since the burst began, the next
// Send transmits immediately instead of re-arming the delay timer.
type Debouncer struct {
	profile  Profile
	transmit TransmitFunc
	clock    clockwork.Clock

	mu         sync.Mutex
	timer      clockwork.Timer
	gen        int // invalidates stale timer callbacks
	pending    any
	hasPending bool
	anchor     time.Time // start of the current burst
	closed     bool
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock swaps the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Debouncer) {
		d.clock = clock
	}
}

// New creates a Debouncer for one profile and transmit function.
func New(profile Profile, transmit TransmitFunc, opts ...Option) *Debouncer {
	if profile.MaxWait <= 0 {
		profile.MaxWait = 3 * profile.Delay
	}
	d := &Debouncer{
		profile:  profile,
		transmit: transmit,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send records payload as the pending value and (re)starts the delay timer.
// If MaxWait has already elapsed since the burst began, the payload is
// transmitted immediately, bounding worst-case propagation latency. An idle
// gap never leaks into the bound: a Send with nothing pending starts a new
// burst.
func (d *Debouncer) Send(payload any) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Debug().Str("profile", d.profile.Name).Msg("send on closed debouncer ignored")
		return
	}

	now := d.clock.Now()
	if !d.hasPending {
		d.anchor = now
	}

	if now.Sub(d.anchor) >= d.profile.MaxWait {
		d.transmitLocked(payload)
		d.mu.Unlock()
		return
	}

	d.pending = payload
	d.hasPending = true
	d.stopTimerLocked()
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.profile.Delay, func() {
		d.fire(gen)
	})
	d.mu.Unlock()
}

// Flush transmits the pending payload immediately, if one exists.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.closed || !d.hasPending {
		d.mu.Unlock()
		return
	}
	payload := d.pending
	d.transmitLocked(payload)
	d.mu.Unlock()
}

// Cancel discards any pending payload and timer without transmitting.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.dropPendingLocked()
	d.mu.Unlock()
}

// Close cancels any pending work and rejects further Sends. Safe to call
// more than once.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.dropPendingLocked()
	d.closed = true
	d.mu.Unlock()
}

func (d *Debouncer) fire(gen int) {
	d.mu.Lock()
	if d.closed || gen != d.gen || !d.hasPending {
		d.mu.Unlock()
		return
	}
	payload := d.pending
	d.transmitLocked(payload)
	d.mu.Unlock()
}

// transmitLocked sends payload and ends the current burst. The mutex is held
// by the caller; the transmit itself runs with the lock held because the
// session serializes all Sends on one goroutine anyway and tests rely on
// synchronous delivery.
func (d *Debouncer) transmitLocked(payload any) {
	d.dropPendingLocked()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("profile", d.profile.Name).
				Msg("transmit panicked")
		}
	}()
	if err := d.transmit(context.Background(), payload); err != nil {
		log.Error().
			Err(err).
			Str("profile", d.profile.Name).
			Msg("debounced transmit failed")
	}
}

func (d *Debouncer) dropPendingLocked() {
	d.pending = nil
	d.hasPending = false
	d.gen++
	d.stopTimerLocked()
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

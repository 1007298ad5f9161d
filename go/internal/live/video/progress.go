package video

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/protocol"
	"github.com/mcdev12/liveset/go/internal/live/timeutil"
)

// progressInterval is the cadence at which the manager's player position is
// mirrored to followers. The stream is rate-limited here, not by a
// debouncer.
const progressInterval = 2 * time.Second

// Player is the playback provider boundary. The engine drives it; it never
// implements playback itself.
type Player interface {
	SeekTo(fraction float64)
	Position() (time.Duration, bool) // current offset; false until ready
	Duration() (time.Duration, bool) // total length; false until known
	Ended() bool
}

// ProgressSink receives periodic playback updates. Satisfied by
// session.Session on the manager side.
type ProgressSink interface {
	ReportVideoProgress(protocol.VideoProgressPayload) error
}

// ProgressReporter polls the manager's player every progressInterval and
// feeds the sink while the event is in video lyrics mode. Follower clients
// never run one.
type ProgressReporter struct {
	player Player
	sink   ProgressSink
	clock  clockwork.Clock
}

// NewProgressReporter creates a reporter. A nil clock means the real clock.
func NewProgressReporter(player Player, sink ProgressSink, clock clockwork.Clock) *ProgressReporter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProgressReporter{player: player, sink: sink, clock: clock}
}

// Run ticks until ctx is cancelled or the player reports the video ended. A
// final update is pushed on end so followers land on the closing frame.
func (r *ProgressReporter) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.report()
			if r.player.Ended() {
				log.Debug().Msg("video ended, progress reporter stopping")
				return
			}
		}
	}
}

func (r *ProgressReporter) report() {
	position, ok := r.player.Position()
	if !ok {
		return
	}
	duration, ok := r.player.Duration()
	if !ok {
		return
	}

	payload := protocol.VideoProgressPayload{
		Progress:         timeutil.FractionOf(position, duration),
		ProgressDuration: timeutil.FormatPlaybackLabel(position),
		Duration:         timeutil.FormatPlaybackLabel(duration),
	}
	if err := r.sink.ReportVideoProgress(payload); err != nil {
		log.Warn().Err(err).Msg("progress report rejected")
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/dispatch"
	"github.com/mcdev12/liveset/go/internal/live/protocol"
	"github.com/mcdev12/liveset/go/internal/live/state"
	"github.com/mcdev12/liveset/go/internal/live/timeutil"
)

// liveMessageTTL is how long a broadcast message stays on screen. Each
// occurrence clears itself exactly once; a newer message restarts the timer.
const liveMessageTTL = 5 * time.Second

var (
	// ErrNotManager is returned when a follower-role client attempts a
	// manager-only intent. The store is left untouched.
	ErrNotManager = errors.New("session: client is not the event manager")

	// ErrNoSongSelected is returned for lyric navigation without a song.
	ErrNoSongSelected = errors.New("session: no song selected")

	// ErrUnknownSong is returned when a song ID is not in the running order.
	ErrUnknownSong = errors.New("session: song not in running order")

	// ErrClosed is returned for intents after teardown.
	ErrClosed = errors.New("session: closed")
)

// NavState is the song/lyric navigation state derived from the store.
type NavState int

const (
	NoSongSelected NavState = iota
	SongIntro               // lyricPosition == 0
	InLyrics                // 0 < lyricPosition <= N
	SongOutro               // lyricPosition == N+1
)

func (n NavState) String() string {
	switch n {
	case SongIntro:
		return "SongIntro"
	case InLyrics:
		return "InLyrics"
	case SongOutro:
		return "SongOutro"
	default:
		return "NoSongSelected"
	}
}

// Sender delivers envelopes to the event gateway.
type Sender interface {
	Send(protocol.Envelope) error
}

// VideoPlayer is the slice of the playback provider the session drives. The
// manager's own player seeks locally without a network round-trip.
type VideoPlayer interface {
	SeekTo(fraction float64)
}

// Config assembles a live event session.
type Config struct {
	EventID uuid.UUID
	Role    protocol.Role
	Store   *state.Store
	Sender  Sender
	Player  VideoPlayer     // optional; nil outside video lyrics mode
	Clock   clockwork.Clock // nil means real clock
}

// Session is the role-aware reconciliation policy for one live event. Every
// authorization rule for every message type lives here: manager intents
// write optimistically to the store and go out through the matching
// debounce profile; follower clients only ever mutate synchronized state by
// applying inbound envelopes, which bypass the dispatchers entirely.
//
// Intents and Apply are expected on a single goroutine per client (the UI
// loop model); internal timers are still guarded for the reader goroutine.
type Session struct {
	eventID uuid.UUID
	store   *state.Store
	sender  Sender
	player  VideoPlayer
	clock   clockwork.Clock

	lyricNav   *dispatch.Debouncer
	songSelect *dispatch.Debouncer

	mu       sync.Mutex
	role     protocol.Role
	msgTimer clockwork.Timer
	msgGen   int
	closed   bool
}

// New creates a Session. Role is decided by how the client entered the live
// view and is not renegotiated mid-session (the hub may demote a duplicate
// manager at join time via roleGranted, before any intents).
func New(cfg Config) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Session{
		eventID: cfg.EventID,
		store:   cfg.Store,
		sender:  cfg.Sender,
		player:  cfg.Player,
		clock:   clock,
		role:    cfg.Role,
	}
	s.lyricNav = dispatch.New(dispatch.LyricNav(), s.transmit, dispatch.WithClock(clock))
	s.songSelect = dispatch.New(dispatch.SongSelect(), s.transmit, dispatch.WithClock(clock))
	return s
}

// Role returns the client's current role.
func (s *Session) Role() protocol.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// NavState derives the navigation state from the store.
func (s *Session) NavState() NavState {
	songID := s.store.SelectedSongID.Get()
	if songID == "" {
		return NoSongSelected
	}
	pos := s.store.LyricPosition.Get()
	n := s.store.LyricCount(songID)
	switch {
	case pos <= 0:
		return SongIntro
	case pos <= n:
		return InLyrics
	default:
		return SongOutro
	}
}

// SelectSong switches the active song, resetting the lyric cursor to the
// title screen. Manager only.
func (s *Session) SelectSong(songID string) error {
	if err := s.requireManager("SelectSong"); err != nil {
		return err
	}
	if _, ok := s.store.Song(songID); !ok {
		log.Warn().
			Str("event_id", s.eventID.String()).
			Str("song_id", songID).
			Msg("refusing to select song outside running order")
		return ErrUnknownSong
	}

	s.store.SelectedSongID.Set(songID)
	s.store.LyricPosition.Set(0)
	s.store.NavigationAction.Set(protocol.NavigationNone)

	s.enqueue(s.songSelect, protocol.TypeEventSelectedSong, protocol.SelectedSongPayload{SongID: songID})
	return nil
}

// Advance moves the lyric cursor forward one step, clamped at the closing
// screen. Manager only.
func (s *Session) Advance() error {
	return s.moveCursor(1, protocol.NavigationForward)
}

// Retreat moves the lyric cursor back one step, clamped at the title
// screen. Manager only.
func (s *Session) Retreat() error {
	return s.moveCursor(-1, protocol.NavigationBackward)
}

// Restart jumps from the closing screen back to the title screen. Manager
// only; a no-op error from any other navigation state.
func (s *Session) Restart() error {
	if err := s.requireManager("Restart"); err != nil {
		return err
	}
	if s.NavState() != SongOutro {
		return fmt.Errorf("session: restart only valid from SongOutro, current state %s", s.NavState())
	}

	s.store.LyricPosition.Set(0)
	s.store.NavigationAction.Set(protocol.NavigationBackward)

	s.enqueue(s.lyricNav, protocol.TypeLyricSelected, protocol.LyricSelectedPayload{
		Position: 0,
		Action:   protocol.NavigationBackward,
	})
	return nil
}

func (s *Session) moveCursor(delta int, action protocol.NavigationAction) error {
	if err := s.requireManager("navigate"); err != nil {
		return err
	}
	songID := s.store.SelectedSongID.Get()
	if songID == "" {
		return ErrNoSongSelected
	}

	n := s.store.LyricCount(songID)
	pos := s.store.LyricPosition.Get()
	next := clampPosition(pos+delta, n)
	if next == pos {
		return nil // already clamped at an end
	}

	s.store.LyricPosition.Set(next)
	s.store.NavigationAction.Set(action)

	s.enqueue(s.lyricNav, protocol.TypeLyricSelected, protocol.LyricSelectedPayload{
		Position: next,
		Action:   action,
	})
	return nil
}

// SeekVideo jumps video playback to a fraction of its duration. The
// manager's own player seeks immediately; followers seek on receipt of the
// videoSeek message. Manager only, sent directly (a seek is a one-shot
// action, not a burst).
func (s *Session) SeekVideo(fraction float64) error {
	if err := s.requireManager("SeekVideo"); err != nil {
		return err
	}
	fraction = clampFraction(s.eventID, "videoSeek", fraction)

	if s.player != nil {
		s.player.SeekTo(fraction)
	}
	s.sendDirect(protocol.TypeVideoSeek, protocol.VideoSeekPayload{SeekTo: fraction})
	return nil
}

// ReportVideoProgress mirrors the manager player's position to followers.
// The caller (the progress reporter) already rate-limits this to its tick
// interval, so it is sent directly rather than debounced.
func (s *Session) ReportVideoProgress(p protocol.VideoProgressPayload) error {
	if err := s.requireManager("ReportVideoProgress"); err != nil {
		return err
	}
	p.Progress = clampFraction(s.eventID, "videoProgress", p.Progress)

	s.store.Video.Set(state.VideoPlayback{
		ProgressFraction: p.Progress,
		ProgressLabel:    p.ProgressDuration,
		DurationLabel:    p.Duration,
		IsReady:          true,
	})
	s.sendDirect(protocol.TypeVideoProgress, p)
	return nil
}

// SetLiveMessage broadcasts an ephemeral message to every client. It clears
// itself after liveMessageTTL; a newer message restarts the timer. Manager
// only.
func (s *Session) SetLiveMessage(text string) error {
	if err := s.requireManager("SetLiveMessage"); err != nil {
		return err
	}

	s.store.LiveMessage.Set(text)
	s.armMessageClear()

	s.sendDirect(protocol.TypeEventLiveMessage, protocol.LiveMessagePayload{Text: text})
	return nil
}

// Apply reconciles an inbound envelope into the store. Followers mirror
// manager-originated state directly, bypassing the dispatchers; a manager
// ignores inbound messages of types it is itself authoritative for, which
// defends against echo and rebroadcast. Malformed or out-of-range payloads
// are clamped or skipped, never surfaced: a live event must stay renderable
// through a single bad message.
func (s *Session) Apply(env protocol.Envelope) {
	if s.isClosed() {
		return
	}

	if env.Type == protocol.TypeRoleGranted {
		s.applyRoleGranted(env)
		return
	}

	if s.Role() == protocol.RoleManager && protocol.ManagerOriginated(env.Type) {
		log.Debug().
			Str("event_id", s.eventID.String()).
			Str("type", string(env.Type)).
			Msg("manager ignoring echo of authoritative message type")
		return
	}

	payload, err := protocol.ParsePayload(env)
	if err != nil {
		log.Warn().
			Err(err).
			Str("event_id", s.eventID.String()).
			Str("type", string(env.Type)).
			Msg("dropping malformed envelope")
		return
	}

	switch p := payload.(type) {
	case protocol.SelectedSongPayload:
		s.applySelectedSong(p)
	case protocol.LyricSelectedPayload:
		s.applyLyricSelected(p)
	case protocol.VideoSeekPayload:
		if s.player != nil {
			s.player.SeekTo(clampFraction(s.eventID, "videoSeek", p.SeekTo))
		}
	case protocol.VideoProgressPayload:
		s.store.Video.Set(state.VideoPlayback{
			ProgressFraction: clampFraction(s.eventID, "videoProgress", p.Progress),
			ProgressLabel:    p.ProgressDuration,
			DurationLabel:    p.Duration,
			IsReady:          true,
		})
	case protocol.LiveMessagePayload:
		s.store.LiveMessage.Set(p.Text)
		s.armMessageClear()
	default:
		log.Debug().
			Str("type", string(env.Type)).
			Msg("ignoring unknown message type")
	}
}

func (s *Session) applySelectedSong(p protocol.SelectedSongPayload) {
	if _, ok := s.store.Song(p.SongID); !ok {
		log.Warn().
			Str("event_id", s.eventID.String()).
			Str("song_id", p.SongID).
			Msg("ignoring selection of song outside running order")
		return
	}
	s.store.SelectedSongID.Set(p.SongID)
	s.store.LyricPosition.Set(0)
	s.store.NavigationAction.Set(protocol.NavigationNone)
}

func (s *Session) applyLyricSelected(p protocol.LyricSelectedPayload) {
	songID := s.store.SelectedSongID.Get()
	if songID == "" {
		log.Warn().
			Str("event_id", s.eventID.String()).
			Int("position", p.Position).
			Msg("ignoring lyric position with no song selected")
		return
	}

	n := s.store.LyricCount(songID)
	pos := clampPosition(p.Position, n)
	if pos != p.Position {
		log.Warn().
			Str("event_id", s.eventID.String()).
			Str("song_id", songID).
			Int("received", p.Position).
			Int("clamped", pos).
			Msg("clamped out-of-range lyric position")
	}

	s.store.LyricPosition.Set(pos)
	s.store.NavigationAction.Set(p.Action)
}

func (s *Session) applyRoleGranted(env protocol.Envelope) {
	payload, err := protocol.ParsePayload(env)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed roleGranted")
		return
	}
	granted, ok := payload.(protocol.RoleGrantedPayload)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role == granted.Role {
		return
	}
	log.Warn().
		Str("event_id", s.eventID.String()).
		Str("requested", string(s.role)).
		Str("granted", string(granted.Role)).
		Msg("hub granted a different role than requested")
	s.role = granted.Role
}

// Flush forces out any pending debounced messages, e.g. right before an
// intentional disconnect.
func (s *Session) Flush() {
	s.lyricNav.Flush()
	s.songSelect.Flush()
}

// Close tears the session down: pending dispatcher timers are cancelled
// without transmitting, the live-message timer is stopped, and the store is
// closed so no further writes can land.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.msgGen++
	if s.msgTimer != nil {
		s.msgTimer.Stop()
		s.msgTimer = nil
	}
	s.mu.Unlock()

	s.lyricNav.Close()
	s.songSelect.Close()
	s.store.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) requireManager(intent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.role != protocol.RoleManager {
		log.Warn().
			Str("event_id", s.eventID.String()).
			Str("intent", intent).
			Msg("follower attempted a manager-only intent")
		return ErrNotManager
	}
	return nil
}

// armMessageClear (re)starts the self-clear timer for the live message.
// Each broadcast clears exactly once; the generation counter keeps a stale
// timer from clearing a newer message.
func (s *Session) armMessageClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.msgGen++
	gen := s.msgGen
	if s.msgTimer != nil {
		s.msgTimer.Stop()
	}
	s.msgTimer = s.clock.AfterFunc(liveMessageTTL, func() {
		s.mu.Lock()
		stale := s.closed || gen != s.msgGen
		s.mu.Unlock()
		if stale {
			return
		}
		s.store.LiveMessage.Set("")
	})
}

// enqueue builds an envelope and hands it to a debouncer.
func (s *Session) enqueue(d *dispatch.Debouncer, msgType protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(s.eventID, msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(msgType)).Msg("failed to build envelope")
		return
	}
	d.Send(env)
}

// sendDirect builds an envelope and sends it immediately, absorbing
// transport failures: the local store already holds the optimistic state
// and the screen must stay responsive while disconnected.
func (s *Session) sendDirect(msgType protocol.MessageType, payload any) {
	env, err := protocol.NewEnvelope(s.eventID, msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(msgType)).Msg("failed to build envelope")
		return
	}
	if err := s.sender.Send(env); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", s.eventID.String()).
			Str("type", string(msgType)).
			Msg("send failed, keeping optimistic local state")
	}
}

// transmit is the TransmitFunc behind both debouncers.
func (s *Session) transmit(_ context.Context, payload any) error {
	env, ok := payload.(protocol.Envelope)
	if !ok {
		return fmt.Errorf("unexpected debounced payload %T", payload)
	}
	return s.sender.Send(env)
}

// clampPosition forces a lyric position into [0, N+1]: 0 is the title
// screen, N+1 the closing screen.
func clampPosition(pos, lyricCount int) int {
	if pos < 0 {
		return 0
	}
	if pos > lyricCount+1 {
		return lyricCount + 1
	}
	return pos
}

func clampFraction(eventID uuid.UUID, kind string, f float64) float64 {
	if f >= 0 && f <= 1 {
		return f
	}
	clamped := timeutil.ClampFraction(f)
	log.Warn().
		Str("event_id", eventID.String()).
		Str("kind", kind).
		Float64("received", f).
		Float64("clamped", clamped).
		Msg("clamped out-of-range playback fraction")
	return clamped
}

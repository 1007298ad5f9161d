package state

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/protocol"
)

// Value is an observable container for one field of the live event state.
// Writes are whole-value replacements; subscribers are notified synchronously
// in Set order. A consumer watching only LyricPosition is never woken by a
// LiveMessage change.
type Value[T any] struct {
	mu          sync.Mutex
	current     T
	closed      bool
	nextSubID   int
	subscribers map[int]func(T)
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current:     initial,
		subscribers: make(map[int]func(T)),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set replaces the current value and notifies subscribers. Writes after
// close are dropped.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		log.Debug().Msg("dropping write to closed value")
		return
	}
	v.current = value
	subs := make([]func(T), 0, len(v.subscribers))
	for _, fn := range v.subscribers {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Subscribe registers fn for future changes and returns a cancel func.
// Subscribing to a closed value returns a no-op cancel and fn is never
// called.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return func() {}
	}
	id := v.nextSubID
	v.nextSubID++
	v.subscribers[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subscribers, id)
	}
}

func (v *Value[T]) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.subscribers = make(map[int]func(T))
}

// Store is the single local source of truth for one live event session. Each
// synchronized field is independently observable. The Store does not enforce
// cross-field invariants; the session layer does that before writing.
type Store struct {
	eventID string
	songs   []EventSongEntry

	SelectedSongID   *Value[string]
	LyricPosition    *Value[int]
	NavigationAction *Value[protocol.NavigationAction]
	Config           *Value[EventConfig]
	ChordPrefs       *Value[ChordPreferences]
	Video            *Value[VideoPlayback]
	LiveMessage      *Value[string]

	mu     sync.Mutex
	closed bool
}

// NewStore creates a Store for one live event with its running order. The
// songs slice is read-only for the session's lifetime.
func NewStore(eventID string, songs []EventSongEntry) *Store {
	return &Store{
		eventID:          eventID,
		songs:            songs,
		SelectedSongID:   NewValue(""),
		LyricPosition:    NewValue(0),
		NavigationAction: NewValue(protocol.NavigationNone),
		Config:           NewValue(DefaultEventConfig()),
		ChordPrefs:       NewValue(ChordPreferences{NoteType: NoteTypeAmerican}),
		Video:            NewValue(VideoPlayback{}),
		LiveMessage:      NewValue(""),
	}
}

// EventID returns the event this store belongs to.
func (s *Store) EventID() string {
	return s.eventID
}

// Songs returns the event's running order.
func (s *Store) Songs() []EventSongEntry {
	return s.songs
}

// Song returns the running-order entry for a song ID.
func (s *Store) Song(songID string) (EventSongEntry, bool) {
	for _, entry := range s.songs {
		if entry.SongID == songID {
			return entry, true
		}
	}
	return EventSongEntry{}, false
}

// LyricCount returns the lyric line count for a song, or 0 if the song is
// not in the running order.
func (s *Store) LyricCount(songID string) int {
	entry, ok := s.Song(songID)
	if !ok {
		return 0
	}
	return entry.LyricCount
}

// Snapshot assembles the current state across all fields.
func (s *Store) Snapshot() EventState {
	return EventState{
		EventID:          s.eventID,
		Songs:            s.songs,
		SelectedSongID:   s.SelectedSongID.Get(),
		LyricPosition:    s.LyricPosition.Get(),
		NavigationAction: s.NavigationAction.Get(),
		Config:           s.Config.Get(),
		ChordPrefs:       s.ChordPrefs.Get(),
		Video:            s.Video.Get(),
		LiveMessage:      s.LiveMessage.Get(),
	}
}

// Closed reports whether the store has been torn down.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the store down: subscribers are dropped and all further writes
// become no-ops. Called when the live view unmounts.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.SelectedSongID.close()
	s.LyricPosition.close()
	s.NavigationAction.close()
	s.Config.close()
	s.ChordPrefs.close()
	s.Video.close()
	s.LiveMessage.close()

	log.Debug().Str("event_id", s.eventID).Msg("event store closed")
}

package state

import "github.com/mcdev12/liveset/go/internal/live/protocol"

// EventSongEntry is one slot of the event's running order. The order is
// managed outside the live session and is read-only during play.
type EventSongEntry struct {
	SongID     string `json:"song_id"`
	Title      string `json:"title"`
	Transpose  int    `json:"transpose"`
	Position   int    `json:"position"`
	LyricCount int    `json:"lyric_count"`
}

// BackgroundImage enumerates the projector background choices.
type BackgroundImage string

const (
	BackgroundNone      BackgroundImage = "none"
	BackgroundDefault   BackgroundImage = "default"
	BackgroundWorship   BackgroundImage = "worship"
	BackgroundChristmas BackgroundImage = "christmas"
)

// EventConfig is per-device display configuration. It is persisted locally
// per device and not synced.
type EventConfig struct {
	IsProjectorMode    bool            `json:"is_projector_mode"`
	ShowGreetingScreen bool            `json:"show_greeting_screen"`
	ShowChords         bool            `json:"show_chords"`
	ShowKey            bool            `json:"show_key"`
	ShowStructure      bool            `json:"show_structure"`
	LyricsScale        float64         `json:"lyrics_scale"`
	BackgroundImage    BackgroundImage `json:"background_image"`
}

// DefaultEventConfig returns the display configuration a fresh device starts
// with.
func DefaultEventConfig() EventConfig {
	return EventConfig{
		ShowChords:      true,
		ShowKey:         true,
		LyricsScale:     1.0,
		BackgroundImage: BackgroundDefault,
	}
}

// NoteType selects chord spelling (A/B/C vs. the regional Do/Re/Mi style).
type NoteType string

const (
	NoteTypeAmerican NoteType = "american"
	NoteTypeRegular  NoteType = "regular"
)

// ChordPreferences is a local display preference, never synced.
type ChordPreferences struct {
	NoteType NoteType `json:"note_type"`
}

// VideoPlayback mirrors the manager's video player to followers while the
// event is in video lyrics mode.
type VideoPlayback struct {
	ProgressFraction float64 `json:"progress_fraction"` // [0, 1]
	ProgressLabel    string  `json:"progress_label"`
	DurationLabel    string  `json:"duration_label"`
	IsReady          bool    `json:"is_ready"`
}

// EventState is a point-in-time snapshot of a live event's synchronized
// state, as assembled by Store.Snapshot.
type EventState struct {
	EventID          string                    `json:"event_id"`
	Songs            []EventSongEntry          `json:"songs"`
	SelectedSongID   string                    `json:"selected_song_id"` // empty = none
	LyricPosition    int                       `json:"lyric_position"`
	NavigationAction protocol.NavigationAction `json:"navigation_action"`
	Config           EventConfig               `json:"config"`
	ChordPrefs       ChordPreferences          `json:"chord_prefs"`
	Video            VideoPlayback             `json:"video"`
	LiveMessage      string                    `json:"live_message"`
}

package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format for every live sync message. Data carries the
// type-specific payload.
type Envelope struct {
	ID        string          `json:"id"`        // Message UUID
	EventID   string          `json:"event_id"`  // Live event UUID
	Type      MessageType     `json:"type"`      // Message type
	Origin    string          `json:"origin"`    // Originating connection ID
	Timestamp time.Time       `json:"timestamp"` // Message creation time
	Relayed   bool            `json:"relayed,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// MessageType identifies a live sync message.
type MessageType string

const (
	TypeEventSelectedSong MessageType = "eventSelectedSong"
	TypeLyricSelected     MessageType = "lyricSelected"
	TypeVideoSeek         MessageType = "videoSeek"
	TypeVideoProgress     MessageType = "videoProgress"
	TypeEventLiveMessage  MessageType = "eventLiveMessage"
	TypeRoleGranted       MessageType = "roleGranted"
)

// NavigationAction tags the direction of a lyric position change. It only
// drives transition animation on the presentation surfaces.
type NavigationAction string

const (
	NavigationNone     NavigationAction = ""
	NavigationForward  NavigationAction = "forward"
	NavigationBackward NavigationAction = "backward"
)

// Role identifies a client's authority for a live event.
type Role string

const (
	RoleManager  Role = "manager"
	RoleFollower Role = "follower"
)

// SelectedSongPayload carries the newly selected song.
type SelectedSongPayload struct {
	SongID string `json:"song_id"`
}

// LyricSelectedPayload carries a lyric cursor move.
type LyricSelectedPayload struct {
	Position int              `json:"position"`
	Action   NavigationAction `json:"action"`
}

// VideoSeekPayload instructs followers to jump video playback.
type VideoSeekPayload struct {
	SeekTo float64 `json:"seek_to"` // fraction in [0, 1]
}

// VideoProgressPayload mirrors the manager's playback position to followers.
type VideoProgressPayload struct {
	Progress         float64 `json:"progress"` // fraction in [0, 1]
	ProgressDuration string  `json:"progress_duration"`
	Duration         string  `json:"duration"`
}

// LiveMessagePayload carries an ephemeral broadcast message.
type LiveMessagePayload struct {
	Text string `json:"text"`
}

// RoleGrantedPayload is sent by the hub to a joining client with the role it
// actually holds (a second manager join is demoted to follower).
type RoleGrantedPayload struct {
	Role Role `json:"role"`
}

// NewEnvelope wraps a payload for the given event and message type.
func NewEnvelope(eventID uuid.UUID, msgType MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		EventID:   eventID.String(),
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// ParsePayload decodes an envelope's data into the payload struct matching
// its type. Unknown types return (nil, nil) so consumers can skip them.
func ParsePayload(env Envelope) (any, error) {
	switch env.Type {
	case TypeEventSelectedSong:
		var payload SelectedSongPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeLyricSelected:
		var payload LyricSelectedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeVideoSeek:
		var payload VideoSeekPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeVideoProgress:
		var payload VideoProgressPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeEventLiveMessage:
		var payload LiveMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TypeRoleGranted:
		var payload RoleGrantedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown message type
	}
}

// ManagerOriginated reports whether a message type may only be originated by
// the event manager.
func ManagerOriginated(t MessageType) bool {
	switch t {
	case TypeEventSelectedSong, TypeLyricSelected, TypeVideoSeek, TypeVideoProgress, TypeEventLiveMessage:
		return true
	default:
		return false
	}
}

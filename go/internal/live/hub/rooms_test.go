package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcdev12/liveset/go/internal/live/protocol"
)

func startHub(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	service := NewService(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go service.Start(ctx)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return service, server
}

func dialHub(t *testing.T, server *httptest.Server, eventID uuid.UUID, userID string, role protocol.Role) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/ws/live?event_id=" + eventID.String() + "&user_id=" + userID + "&role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

// expectSilence asserts no message arrives within a short window.
func expectSilence(t *testing.T, conn *websocket.Conn, desc string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("%s: unexpectedly received %s envelope", desc, env.Type)
	}
}

// expectRole consumes the roleGranted join ack and checks the granted role.
func expectRole(t *testing.T, conn *websocket.Conn, want protocol.Role) {
	t.Helper()
	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeRoleGranted {
		t.Fatalf("first envelope type = %s, want roleGranted", env.Type)
	}
	var payload protocol.RoleGrantedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal roleGranted: %v", err)
	}
	if payload.Role != want {
		t.Fatalf("granted role = %q, want %q", payload.Role, want)
	}
}

func mustEnvelope(t *testing.T, eventID uuid.UUID, msgType protocol.MessageType, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(eventID, msgType, payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	return env
}

func TestManagerSeatIsExclusivePerEvent(t *testing.T) {
	_, server := startHub(t)
	eventID := uuid.New()

	first := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, first, protocol.RoleManager)

	second := dialHub(t, server, eventID, "second-tab", protocol.RoleManager)
	expectRole(t, second, protocol.RoleFollower)

	// A different event gets its own manager seat.
	other := dialHub(t, server, uuid.New(), "other-leader", protocol.RoleManager)
	expectRole(t, other, protocol.RoleManager)
}

func TestBroadcastReachesOtherRoomMembersOnly(t *testing.T) {
	_, server := startHub(t)
	eventID := uuid.New()
	otherEventID := uuid.New()

	manager := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, manager, protocol.RoleManager)
	follower1 := dialHub(t, server, eventID, "projector", protocol.RoleFollower)
	expectRole(t, follower1, protocol.RoleFollower)
	follower2 := dialHub(t, server, eventID, "guitarist", protocol.RoleFollower)
	expectRole(t, follower2, protocol.RoleFollower)
	stranger := dialHub(t, server, otherEventID, "stranger", protocol.RoleFollower)
	expectRole(t, stranger, protocol.RoleFollower)

	env := mustEnvelope(t, eventID, protocol.TypeLyricSelected, protocol.LyricSelectedPayload{
		Position: 3,
		Action:   protocol.NavigationForward,
	})
	if err := manager.WriteJSON(env); err != nil {
		t.Fatalf("manager write: %v", err)
	}

	for _, conn := range []*websocket.Conn{follower1, follower2} {
		got := readEnvelope(t, conn)
		if got.Type != protocol.TypeLyricSelected {
			t.Fatalf("follower received %s, want lyricSelected", got.Type)
		}
		var payload protocol.LyricSelectedPayload
		if err := json.Unmarshal(got.Data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Position != 3 || payload.Action != protocol.NavigationForward {
			t.Fatalf("payload = %+v, want position 3 forward", payload)
		}
	}

	// The origin does not get its own message echoed back, and clients of
	// other events never see it.
	expectSilence(t, manager, "origin")
	expectSilence(t, stranger, "other event client")
}

func TestFollowerCannotOriginateManagerTypes(t *testing.T) {
	_, server := startHub(t)
	eventID := uuid.New()

	manager := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, manager, protocol.RoleManager)
	follower := dialHub(t, server, eventID, "projector", protocol.RoleFollower)
	expectRole(t, follower, protocol.RoleFollower)

	env := mustEnvelope(t, eventID, protocol.TypeEventSelectedSong, protocol.SelectedSongPayload{SongID: "hijack"})
	if err := follower.WriteJSON(env); err != nil {
		t.Fatalf("follower write: %v", err)
	}

	expectSilence(t, manager, "manager after follower-originated message")
}

func TestEnvelopeForDifferentEventDropped(t *testing.T) {
	_, server := startHub(t)
	eventID := uuid.New()

	manager := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, manager, protocol.RoleManager)
	follower := dialHub(t, server, eventID, "projector", protocol.RoleFollower)
	expectRole(t, follower, protocol.RoleFollower)

	// The envelope claims a different event than the connection joined.
	env := mustEnvelope(t, uuid.New(), protocol.TypeLyricSelected, protocol.LyricSelectedPayload{Position: 1})
	if err := manager.WriteJSON(env); err != nil {
		t.Fatalf("manager write: %v", err)
	}

	expectSilence(t, follower, "follower after cross-event envelope")
}

func TestSameTypeDeliveryPreservesOrder(t *testing.T) {
	_, server := startHub(t)
	eventID := uuid.New()

	manager := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, manager, protocol.RoleManager)
	follower := dialHub(t, server, eventID, "projector", protocol.RoleFollower)
	expectRole(t, follower, protocol.RoleFollower)

	for pos := 1; pos <= 5; pos++ {
		env := mustEnvelope(t, eventID, protocol.TypeLyricSelected, protocol.LyricSelectedPayload{
			Position: pos,
			Action:   protocol.NavigationForward,
		})
		if err := manager.WriteJSON(env); err != nil {
			t.Fatalf("manager write %d: %v", pos, err)
		}
	}

	for pos := 1; pos <= 5; pos++ {
		got := readEnvelope(t, follower)
		var payload protocol.LyricSelectedPayload
		if err := json.Unmarshal(got.Data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Position != pos {
			t.Fatalf("delivery order broken: got position %d, want %d", payload.Position, pos)
		}
	}
}

func TestStatsCountRooms(t *testing.T) {
	service, server := startHub(t)
	eventID := uuid.New()

	manager := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, manager, protocol.RoleManager)
	follower := dialHub(t, server, eventID, "projector", protocol.RoleFollower)
	expectRole(t, follower, protocol.RoleFollower)

	stats := service.Stats()
	if got := stats["total_connections"].(int); got != 2 {
		t.Fatalf("total_connections = %d, want 2", got)
	}
	if got := stats["active_events"].(int); got != 1 {
		t.Fatalf("active_events = %d, want 1", got)
	}
}

func TestDisconnectUnderBroadcastKeepsFanoutAlive(t *testing.T) {
	_, server := startHub(t)
	eventID := uuid.New()

	manager := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, manager, protocol.RoleManager)
	steady := dialHub(t, server, eventID, "projector", protocol.RoleFollower)
	expectRole(t, steady, protocol.RoleFollower)

	// Churn clients while broadcasts are in flight: a disconnect landing
	// between the room snapshot and the channel send must not take down the
	// broadcast goroutine.
	for i := 1; i <= 30; i++ {
		transient := dialHub(t, server, eventID, fmt.Sprintf("transient-%d", i), protocol.RoleFollower)
		env := mustEnvelope(t, eventID, protocol.TypeLyricSelected, protocol.LyricSelectedPayload{
			Position: i,
			Action:   protocol.NavigationForward,
		})
		if err := manager.WriteJSON(env); err != nil {
			t.Fatalf("manager write %d: %v", i, err)
		}
		transient.Close()
	}

	final := mustEnvelope(t, eventID, protocol.TypeLyricSelected, protocol.LyricSelectedPayload{
		Position: 999,
		Action:   protocol.NavigationForward,
	})
	if err := manager.WriteJSON(final); err != nil {
		t.Fatalf("manager final write: %v", err)
	}

	// Fan-out is still alive if the steady follower sees the last message.
	for {
		env := readEnvelope(t, steady)
		if env.Type != protocol.TypeLyricSelected {
			continue
		}
		var payload protocol.LyricSelectedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Position == 999 {
			return
		}
	}
}

func TestBroadcastLocalReachesAllRoomMembers(t *testing.T) {
	service, server := startHub(t)
	eventID := uuid.New()

	manager := dialHub(t, server, eventID, "leader", protocol.RoleManager)
	expectRole(t, manager, protocol.RoleManager)
	follower := dialHub(t, server, eventID, "projector", protocol.RoleFollower)
	expectRole(t, follower, protocol.RoleFollower)

	env := mustEnvelope(t, eventID, protocol.TypeEventLiveMessage, protocol.LiveMessagePayload{Text: "from relay"})
	env.Relayed = true
	service.Broadcast(eventID, env)

	// Relayed traffic has no local origin: every member receives it.
	for _, conn := range []*websocket.Conn{manager, follower} {
		got := readEnvelope(t, conn)
		if got.Type != protocol.TypeEventLiveMessage || !got.Relayed {
			t.Fatalf("received %s (relayed=%v), want relayed eventLiveMessage", got.Type, got.Relayed)
		}
	}
}

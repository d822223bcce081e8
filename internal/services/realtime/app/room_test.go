package server

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/storyweave/storyweave/internal/session/coordinator"
)

func newTestPeer() (*wsPeer, *bytes.Buffer) {
	var buf bytes.Buffer
	return newWSPeer(json.NewEncoder(&buf)), &buf
}

func TestRoomHubReclaimsEmptyRooms(t *testing.T) {
	hub := newRoomHub()
	peerA, _ := newTestPeer()
	peerB, _ := newTestPeer()

	hub.join("session-1", "conn-a", peerA)
	hub.join("session-1", "conn-b", peerB)
	if len(hub.rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(hub.rooms))
	}

	hub.leave("session-1", "conn-a")
	if len(hub.rooms) != 1 {
		t.Fatalf("expected room kept while subscribed, got %d rooms", len(hub.rooms))
	}
	hub.leave("session-1", "conn-b")
	if len(hub.rooms) != 0 {
		t.Fatalf("expected empty room reclaimed, got %d rooms", len(hub.rooms))
	}
}

func TestRoomHubLeaveUnknownSession(t *testing.T) {
	hub := newRoomHub()

	hub.leave("session-ghost", "conn-a")
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no room materialized on leave, got %d", len(hub.rooms))
	}
}

func TestRoomHubBroadcastUnknownSession(t *testing.T) {
	hub := newRoomHub()

	hub.Broadcast("session-ghost", coordinator.Event{Type: coordinator.EventTyping, SessionID: "session-ghost"})
	if len(hub.rooms) != 0 {
		t.Fatalf("expected no room materialized on broadcast, got %d", len(hub.rooms))
	}
}

func TestRoomHubBroadcastExcept(t *testing.T) {
	hub := newRoomHub()
	peerA, bufA := newTestPeer()
	peerB, bufB := newTestPeer()
	hub.join("session-1", "conn-a", peerA)
	hub.join("session-1", "conn-b", peerB)

	hub.BroadcastExcept("session-1", "conn-a", coordinator.Event{
		Type:      coordinator.EventTyping,
		SessionID: "session-1",
		Payload:   coordinator.TypingPayload{ParticipantID: "alice", IsTyping: true},
	})

	if bufA.Len() != 0 {
		t.Fatalf("expected excluded connection to receive nothing, got %q", bufA.String())
	}
	var frame wsFrame
	if err := json.Unmarshal(bufB.Bytes(), &frame); err != nil {
		t.Fatalf("decode broadcast frame: %v", err)
	}
	if frame.Type != coordinator.EventTyping {
		t.Fatalf("expected typing frame, got %s", frame.Type)
	}
}

package domain

import (
	"testing"
	"time"
)

func TestRecordJoinReportsFirstJoin(t *testing.T) {
	session := mustCreateSession(t)

	if first := session.RecordJoin("user-1", "conn-1", fixedClock()); !first {
		t.Fatal("expected first join")
	}
	if first := session.RecordJoin("user-2", "conn-2", fixedClock()); !first {
		t.Fatal("expected first join for second participant")
	}
	if len(session.Presence) != 2 {
		t.Fatalf("expected two presence records, got %d", len(session.Presence))
	}
}

func TestRecordJoinRejoinUpdatesInPlace(t *testing.T) {
	session := mustCreateSession(t)
	session.RecordJoin("user-1", "conn-1", fixedClock())
	session.RecordLeave("user-1", fixedClock())

	later := fixedClock().Add(time.Minute)
	if first := session.RecordJoin("user-1", "conn-9", later); first {
		t.Fatal("expected rejoin, not first join")
	}

	if len(session.Presence) != 1 {
		t.Fatalf("rejoin must not duplicate the presence record, got %d records", len(session.Presence))
	}
	record, ok := session.PresenceOf("user-1")
	if !ok {
		t.Fatal("expected presence record")
	}
	if record.ConnID != "conn-9" {
		t.Fatalf("expected refreshed connection id, got %q", record.ConnID)
	}
	if !record.Connected {
		t.Fatal("expected reconnected participant")
	}
	if !record.LastActive.Equal(later) {
		t.Fatalf("expected refreshed last active, got %v", record.LastActive)
	}
}

func TestRecordLeaveKeepsRecord(t *testing.T) {
	session := mustCreateSession(t)
	session.RecordJoin("user-1", "conn-1", fixedClock())

	if found := session.RecordLeave("user-1", fixedClock()); !found {
		t.Fatal("expected leave to find record")
	}
	record, ok := session.PresenceOf("user-1")
	if !ok {
		t.Fatal("leave must never delete the presence record")
	}
	if record.Connected {
		t.Fatal("expected disconnected participant")
	}

	// Idempotent for an already-departed participant.
	if found := session.RecordLeave("user-1", fixedClock()); !found {
		t.Fatal("expected repeated leave to still find record")
	}
	if found := session.RecordLeave("ghost", fixedClock()); found {
		t.Fatal("expected unknown participant to be a no-op")
	}
}

func TestRecordDisconnectResolvesByConnection(t *testing.T) {
	session := mustCreateSession(t)
	session.RecordJoin("user-1", "conn-1", fixedClock())
	session.RecordJoin("user-2", "conn-2", fixedClock())

	participantID, ok := session.RecordDisconnect("conn-2", fixedClock())
	if !ok {
		t.Fatal("expected disconnect to resolve connection")
	}
	if participantID != "user-2" {
		t.Fatalf("expected user-2, got %q", participantID)
	}
	record, _ := session.PresenceOf("user-2")
	if record.Connected {
		t.Fatal("expected user-2 to be disconnected")
	}

	// A stale connection id no longer held by anyone resolves to nothing.
	if _, ok := session.RecordDisconnect("conn-2", fixedClock()); ok {
		t.Fatal("expected repeated disconnect to be a no-op")
	}
}

func TestDisconnectNeverChangesTurnHolder(t *testing.T) {
	session := mustCreateSession(t)
	session.RecordJoin("user-1", "conn-1", fixedClock())

	session.RecordLeave("user-1", fixedClock())

	if session.CurrentTurnHolder != "user-1" {
		t.Fatalf("leave must not move the turn, holder is %q", session.CurrentTurnHolder)
	}
}

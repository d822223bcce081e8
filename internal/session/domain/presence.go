package domain

import "time"

// RecordJoin marks a participant connected on the given connection. An
// existing record is updated in place so rejoins never duplicate presence.
// It reports whether this was a first-time join, which decides whether a
// "participant joined" broadcast fires.
func (s *Session) RecordJoin(participantID, connID string, now time.Time) (firstJoin bool) {
	now = now.UTC()
	for i := range s.Presence {
		if s.Presence[i].ParticipantID == participantID {
			s.Presence[i].ConnID = connID
			s.Presence[i].Connected = true
			s.Presence[i].LastActive = now
			s.UpdatedAt = now
			return false
		}
	}
	s.Presence = append(s.Presence, PresenceRecord{
		ParticipantID: participantID,
		ConnID:        connID,
		Connected:     true,
		LastActive:    now,
	})
	s.UpdatedAt = now
	return true
}

// RecordLeave marks a participant disconnected. The record is kept: a
// departed participant retains their turn-order slot and roster membership.
// Leaving twice is a no-op.
func (s *Session) RecordLeave(participantID string, now time.Time) bool {
	now = now.UTC()
	for i := range s.Presence {
		if s.Presence[i].ParticipantID == participantID {
			s.Presence[i].Connected = false
			s.Presence[i].LastActive = now
			s.UpdatedAt = now
			return true
		}
	}
	return false
}

// RecordDisconnect handles a connection dropping without an explicit leave.
// It finds the presence record holding the connection and applies the same
// transition as RecordLeave, returning the affected participant.
func (s *Session) RecordDisconnect(connID string, now time.Time) (participantID string, ok bool) {
	for i := range s.Presence {
		if s.Presence[i].ConnID == connID && s.Presence[i].Connected {
			s.RecordLeave(s.Presence[i].ParticipantID, now)
			return s.Presence[i].ParticipantID, true
		}
	}
	return "", false
}

// PresenceOf returns the presence record for a participant, if any.
func (s Session) PresenceOf(participantID string) (PresenceRecord, bool) {
	for _, record := range s.Presence {
		if record.ParticipantID == participantID {
			return record, true
		}
	}
	return PresenceRecord{}, false
}

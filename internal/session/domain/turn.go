package domain

import "errors"

// ErrHolderNotInRoster indicates the current turn holder is missing from the
// participant roster. This is a desynchronization between the story and the
// session, not a user error: callers must abort rather than pick a default,
// since masking it risks permanently wedging the session's turn order.
var ErrHolderNotInRoster = errors.New("turn holder is not in the participant roster")

// NextHolder computes the participant who takes the turn after currentHolder,
// walking the roster in insertion order and wrapping around. It is the single
// source of truth for rotation; no other component recomputes turn order.
func NextHolder(participants []string, currentHolder string) (string, error) {
	for i, participant := range participants {
		if participant == currentHolder {
			return participants[(i+1)%len(participants)], nil
		}
	}
	return "", ErrHolderNotInRoster
}

// IsComplete reports whether the story has used up its turns.
func IsComplete(turnIndex, turnLimit int) bool {
	return turnIndex >= turnLimit
}

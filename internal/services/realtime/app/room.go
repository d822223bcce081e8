package server

import (
	"encoding/json"
	"sync"

	"github.com/storyweave/storyweave/internal/session/coordinator"
)

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// roomHub tracks which connections subscribe to which session room and fans
// coordinator events out to them. It satisfies coordinator.Broadcaster.
type roomHub struct {
	mu    sync.Mutex
	rooms map[string]*sessionRoom
}

func newRoomHub() *roomHub {
	return &roomHub{rooms: make(map[string]*sessionRoom)}
}

func (h *roomHub) join(sessionID, connID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		room = newSessionRoom(sessionID)
		h.rooms[sessionID] = room
	}
	room.join(connID, peer)
}

// leave drops the subscription and reclaims the room once its last
// subscriber is gone. Rooms only exist while someone is joined.
func (h *roomHub) leave(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	if room.leave(connID) {
		delete(h.rooms, sessionID)
	}
}

func (h *roomHub) lookup(sessionID string) (*sessionRoom, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	return room, ok
}

// Broadcast sends an event to every subscriber of a session room. Write
// errors are per-recipient and never surface to the caller.
func (h *roomHub) Broadcast(sessionID string, event coordinator.Event) {
	h.broadcast(sessionID, "", event)
}

// BroadcastExcept sends an event to every subscriber except one connection.
func (h *roomHub) BroadcastExcept(sessionID, connID string, event coordinator.Event) {
	h.broadcast(sessionID, connID, event)
}

func (h *roomHub) broadcast(sessionID, exceptConnID string, event coordinator.Event) {
	room, ok := h.lookup(sessionID)
	if !ok {
		return
	}
	frame, err := eventFrame(event)
	if err != nil {
		return
	}
	for _, peer := range room.subscribersExcept(exceptConnID) {
		_ = peer.writeFrame(frame)
	}
}

type sessionRoom struct {
	mu          sync.Mutex
	sessionID   string
	subscribers map[string]*wsPeer
}

func newSessionRoom(sessionID string) *sessionRoom {
	return &sessionRoom{
		sessionID:   sessionID,
		subscribers: make(map[string]*wsPeer),
	}
}

func (r *sessionRoom) join(connID string, peer *wsPeer) {
	r.mu.Lock()
	r.subscribers[connID] = peer
	r.mu.Unlock()
}

// leave reports whether the room is empty afterwards.
func (r *sessionRoom) leave(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, connID)
	return len(r.subscribers) == 0
}

func (r *sessionRoom) subscribersExcept(exceptConnID string) []*wsPeer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]*wsPeer, 0, len(r.subscribers))
	for connID, peer := range r.subscribers {
		if exceptConnID != "" && connID == exceptConnID {
			continue
		}
		peers = append(peers, peer)
	}
	return peers
}

func eventFrame(event coordinator.Event) (wsFrame, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return wsFrame{}, err
	}
	return wsFrame{Type: event.Type, Payload: payload}, nil
}

package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wandao/meeting-signal/internal/domain"
)

// roomState is everything the store knows about one room. Invariant: every
// key in presenters is also a key in peers; RemoveParticipant deletes both
// in the same critical section.
type roomState struct {
	locked     bool
	password   string
	peers      map[ConnID]*domain.Peer
	presenters map[ConnID]*domain.Presenter
}

// Store is the authoritative in-memory state of rooms, membership and
// per-peer metadata. It exclusively owns Room and Peer records; relay and
// teardown mutate them only through these operations. Every operation is a
// single critical section, so an event's state change is complete before
// the next one can observe it.
type Store struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomState
	// joined tracks which rooms each connection is currently a member of.
	joined map[ConnID]map[domain.RoomID]struct{}
}

func NewStore() *Store {
	return &Store{
		rooms:  make(map[domain.RoomID]*roomState),
		joined: make(map[ConnID]map[domain.RoomID]struct{}),
	}
}

// ensureRoom is the idempotent create; callers hold s.mu.
func (s *Store) ensureRoom(roomID domain.RoomID) *roomState {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &roomState{
			peers:      make(map[ConnID]*domain.Peer),
			presenters: make(map[ConnID]*domain.Presenter),
		}
		s.rooms[roomID] = r
	}
	return r
}

// EnsureRoom makes sure the room and its maps exist.
func (s *Store) EnsureRoom(roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureRoom(roomID)
}

// AddParticipant inserts a peer record as one check-and-insert step.
// Returns ErrAlreadyJoined when the connection already has a record in the
// room, which callers treat as a benign no-op.
func (s *Store) AddParticipant(roomID domain.RoomID, connID ConnID, peer *domain.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRoom(roomID)
	if _, ok := r.peers[connID]; ok {
		return ErrAlreadyJoined
	}
	r.peers[connID] = peer
	m, ok := s.joined[connID]
	if !ok {
		m = make(map[domain.RoomID]struct{})
		s.joined[connID] = m
	}
	m[roomID] = struct{}{}
	log.Info().Str("module", "core.presence").Str("room", string(roomID)).Str("conn", string(connID)).Str("peer", peer.Name).Msg("participant added")
	return nil
}

// IsMember reports whether the connection holds a peer record in the room.
func (s *Store) IsMember(roomID domain.RoomID, connID ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = r.peers[connID]
	return ok
}

// Member returns a copy of the connection's peer record.
func (s *Store) Member(roomID domain.RoomID, connID ConnID) (domain.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Peer{}, false
	}
	p, ok := r.peers[connID]
	if !ok {
		return domain.Peer{}, false
	}
	return *p, true
}

// RenameParticipant applies the rename only while the stored name still
// equals oldName, so racing renames cannot clobber each other. The
// presenter record for the connection follows the rename.
func (s *Store) RenameParticipant(roomID domain.RoomID, connID ConnID, oldName, newName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	p, ok := r.peers[connID]
	if !ok || p.Name != oldName {
		return false
	}
	p.Name = newName
	if rec, ok := r.presenters[connID]; ok {
		rec.Name = newName
	}
	log.Debug().Str("module", "core.presence").Str("room", string(roomID)).Str("old", oldName).Str("new", newName).Msg("peer renamed")
	return true
}

// SetStatus flips one status toggle of the connection's own record. The
// stored name must match the claimed name; ownership of the connection id
// itself is enforced by the relay before calling.
func (s *Store) SetStatus(roomID domain.RoomID, connID ConnID, peerName string, field domain.StatusField, value bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	p, ok := r.peers[connID]
	if !ok || p.Name != peerName {
		return false
	}
	if err := p.SetStatus(field, value); err != nil {
		return false
	}
	return true
}

// RemoveParticipant deletes the connection from both the peer and presenter
// maps and reports the remaining count plus the room's lock state at time
// of removal. The room is garbage-collected when it empties, and also when
// a locked-with-password room drops below two participants: a locked
// two-party room has no reconnection-worthy state once either side leaves.
func (s *Store) RemoveParticipant(roomID domain.RoomID, connID ConnID) (remaining int, wasLocked bool, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return 0, false, false
	}
	if _, ok := r.peers[connID]; !ok {
		return len(r.peers), r.locked, false
	}
	before := len(r.peers)
	delete(r.peers, connID)
	delete(r.presenters, connID)
	if m, ok := s.joined[connID]; ok {
		delete(m, roomID)
		if len(m) == 0 {
			delete(s.joined, connID)
		}
	}
	remaining = len(r.peers)
	wasLocked = r.locked
	if remaining == 0 || (before == 2 && r.locked && r.password != "") {
		for id := range r.peers {
			if m, ok := s.joined[id]; ok {
				delete(m, roomID)
				if len(m) == 0 {
					delete(s.joined, id)
				}
			}
		}
		delete(s.rooms, roomID)
		log.Info().Str("module", "core.presence").Str("room", string(roomID)).Msg("room garbage-collected")
	}
	return remaining, wasLocked, true
}

// Snapshot returns a copy of the room's peer map, safe to iterate and
// marshal while the store keeps mutating.
func (s *Store) Snapshot(roomID domain.RoomID) map[ConnID]domain.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ConnID]domain.Peer)
	r, ok := s.rooms[roomID]
	if !ok {
		return out
	}
	for id, p := range r.peers {
		out[id] = *p
	}
	return out
}

// ConnsIn lists the connections currently in the room.
func (s *Store) ConnsIn(roomID domain.RoomID) []ConnID {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]ConnID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

// RoomsOf lists the rooms a connection is a member of.
func (s *Store) RoomsOf(connID ConnID) []domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.joined[connID]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// PeerCount returns the number of participants in the room.
func (s *Store) PeerCount(roomID domain.RoomID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return len(r.peers)
}

// NameTaken reports whether any other connection in the room already uses
// the display name.
func (s *Store) NameTaken(roomID domain.RoomID, except ConnID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	for id, p := range r.peers {
		if id != except && p.Name == name {
			return true
		}
	}
	return false
}

// ActiveRooms summarizes rooms and peer counts for logs and the stats API.
func (s *Store) ActiveRooms() []domain.RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RoomInfo, 0, len(s.rooms))
	for id, r := range s.rooms {
		out = append(out, domain.RoomInfo{RoomID: id, PeerCount: len(r.peers)})
	}
	return out
}

// --- lock state ---

// SetLock sets or clears the room's lock and password.
func (s *Store) SetLock(roomID domain.RoomID, locked bool, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return
	}
	r.locked = locked
	r.password = password
}

// LockState returns the room's lock flag and stored password.
func (s *Store) LockState(roomID domain.RoomID) (locked bool, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false, ""
	}
	return r.locked, r.password
}

// --- presenter records ---

// PresenterFor returns a copy of the connection's presenter record.
func (s *Store) PresenterFor(roomID domain.RoomID, connID ConnID) (domain.Presenter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Presenter{}, false
	}
	rec, ok := r.presenters[connID]
	if !ok {
		return domain.Presenter{}, false
	}
	return *rec, true
}

// HasPresenterNamed scans the room's presenter records for a display name.
func (s *Store) HasPresenterNamed(roomID domain.RoomID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	for _, rec := range r.presenters {
		if rec.Name == name {
			return true
		}
	}
	return false
}

// PresenterCount returns the number of presenter records in the room.
func (s *Store) PresenterCount(roomID domain.RoomID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return len(r.presenters)
}

// SetPresenterIfFirst records the presenter only when the room has no
// presenter records yet; the check and the write are one step so two
// near-simultaneous founders cannot both win.
func (s *Store) SetPresenterIfFirst(roomID domain.RoomID, connID ConnID, rec domain.Presenter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRoom(roomID)
	if len(r.presenters) > 0 {
		return false
	}
	r.presenters[connID] = &rec
	return true
}

// SetPresenter unconditionally records the presenter.
func (s *Store) SetPresenter(roomID domain.RoomID, connID ConnID, rec domain.Presenter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureRoom(roomID)
	r.presenters[connID] = &rec
}

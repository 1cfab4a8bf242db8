package core

import (
	"github.com/rs/zerolog/log"

	"github.com/wandao/meeting-signal/internal/domain"
)

// Teardown removes a disconnected participant from every room it was a
// member of and tells the survivors. Safe to invoke more than once for the
// same connection: a second call finds no membership and does nothing.
type Teardown struct {
	store *Store
	reg   *Registry
}

func NewTeardown(store *Store, reg *Registry) *Teardown {
	return &Teardown{store: store, reg: reg}
}

// Disconnect processes a connection's terminal disconnect.
func (t *Teardown) Disconnect(connID ConnID) {
	for _, roomID := range t.store.RoomsOf(connID) {
		t.removeFrom(roomID, connID)
	}
}

func (t *Teardown) removeFrom(roomID domain.RoomID, connID ConnID) {
	// Survivors are captured before removal: the locked two-party case
	// garbage-collects the whole room, taking the membership list with it.
	survivors := make([]ConnID, 0)
	for _, id := range t.store.ConnsIn(roomID) {
		if id != connID {
			survivors = append(survivors, id)
		}
	}

	remaining, wasLocked, existed := t.store.RemoveParticipant(roomID, connID)
	if !existed {
		return
	}

	type removePeerData struct {
		PeerID ConnID `json:"peer_id"`
	}
	for _, id := range survivors {
		t.reg.SendTo(id, EvRemovePeer, removePeerData{PeerID: connID})
		// Mirror of addPeer's two-sided notification; the departing
		// connection is usually gone already, so best effort.
		t.reg.SendTo(connID, EvRemovePeer, removePeerData{PeerID: id})
	}

	log.Info().Str("module", "core.teardown").Str("conn", string(connID)).Str("room", string(roomID)).Int("remaining", remaining).Bool("was_locked", wasLocked).Interface("active_rooms", t.store.ActiveRooms()).Msg("peer removed")
}

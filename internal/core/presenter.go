package core

import (
	"github.com/rs/zerolog/log"

	"github.com/wandao/meeting-signal/internal/domain"
)

// PresenterPolicy decides who holds moderator rights in a room: members of
// the static allow-list, the room's founding joiner, or anyone matching an
// existing presenter record by identity.
type PresenterPolicy struct {
	store     *Store
	allowList []string
}

func NewPresenterPolicy(store *Store, allowList []string) *PresenterPolicy {
	return &PresenterPolicy{store: store, allowList: allowList}
}

func (p *PresenterPolicy) onAllowList(name string) bool {
	for _, n := range p.allowList {
		if n == name {
			return true
		}
	}
	return false
}

// IsPresenter reports whether the acting participant currently holds
// presenter rights. When the connection has no presenter record, a record
// with the same display name still grants rights; that is how a presenter
// who reconnects under a new connection id keeps them. With a record, the
// (name, uuid) pair must match, or the name must be on the allow-list.
func (p *PresenterPolicy) IsPresenter(roomID domain.RoomID, connID ConnID, name, uuid string) bool {
	rec, ok := p.store.PresenterFor(roomID, connID)
	if !ok {
		if p.store.HasPresenterNamed(roomID, name) {
			log.Debug().Str("module", "core.presenter").Str("room", string(roomID)).Str("peer", name).Msg("presenter matched by name continuity")
			return true
		}
		return false
	}
	return (rec.Name == name && rec.UUID == uuid) || p.onAllowList(name)
}

// AssignOnJoin records the joiner as presenter when the allow-list names
// it, or when the room has no presenter records yet (first-come rule).
func (p *PresenterPolicy) AssignOnJoin(roomID domain.RoomID, connID ConnID, name, uuid string) {
	rec := domain.Presenter{Name: name, UUID: uuid}
	if p.onAllowList(name) {
		p.store.SetPresenter(roomID, connID, rec)
		return
	}
	p.store.SetPresenterIfFirst(roomID, connID, rec)
}

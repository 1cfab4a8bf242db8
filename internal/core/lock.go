package core

import "github.com/wandao/meeting-signal/internal/domain"

// Password check outcomes on the wire, as the clients expect them.
const (
	PasswordOK = "OK"
	PasswordKO = "KO"
)

// LockPolicy is the password gate for room entry. Lock and Unlock are
// presenter-only; the caller performs that check. CheckPassword exists for
// client pre-flight UX only; the authoritative gate is the join path,
// which re-checks the password against the stored one every time.
type LockPolicy struct {
	store *Store
}

func NewLockPolicy(store *Store) *LockPolicy {
	return &LockPolicy{store: store}
}

func (l *LockPolicy) Lock(roomID domain.RoomID, password string) {
	l.store.SetLock(roomID, true, password)
}

func (l *LockPolicy) Unlock(roomID domain.RoomID) {
	l.store.SetLock(roomID, false, "")
}

// CheckPassword returns OK when the room is unlocked or the candidate
// matches the stored password. It never reveals the password itself.
func (l *LockPolicy) CheckPassword(roomID domain.RoomID, candidate string) string {
	locked, password := l.store.LockState(roomID)
	if !locked || candidate == password {
		return PasswordOK
	}
	return PasswordKO
}

// Admit is the authoritative join-time gate.
func (l *LockPolicy) Admit(roomID domain.RoomID, candidate string) bool {
	locked, password := l.store.LockState(roomID)
	return !locked || candidate == password
}

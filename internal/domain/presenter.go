package domain

// Presenter records who holds moderator rights in a room. Identity is the
// (Name, UUID) pair, not the connection id, so a presenter who reconnects
// under a new connection keeps its rights.
type Presenter struct {
	Name string `json:"peerName"`
	UUID string `json:"peerUuid"`
}

package domain

// RoomID is the caller-supplied room identifier.
type RoomID string

// RoomInfo is a read-only accounting view for logs and the stats API.
type RoomInfo struct {
	RoomID    RoomID `json:"roomId"`
	PeerCount int    `json:"peersCount"`
}

// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxPeerNameLen = 36

var (
	ErrPeerNameEmpty   = errors.New("peer name empty")
	ErrPeerNameTooLong = errors.New("peer name too long")
	ErrUnknownStatus   = errors.New("unknown status element")
)

// StatusField is one of the independent toggles a peer reports about itself.
type StatusField string

const (
	StatusVideo   StatusField = "video"
	StatusAudio   StatusField = "audio"
	StatusScreen  StatusField = "screen"
	StatusHand    StatusField = "hand"
	StatusRec     StatusField = "rec"
	StatusPrivacy StatusField = "privacy"
)

// Peer is one connection's membership record within a room.
// Mutated only through the presence store.
type Peer struct {
	Name      string `json:"peerName"`
	UUID      string `json:"peerUuid"`
	Presenter bool   `json:"peerPresenter"`
	Video     bool   `json:"peerVideo"`
	Audio     bool   `json:"peerAudio"`
	Screen    bool   `json:"peerScreen"`
	Hand      bool   `json:"peerHandStatus"`
	Rec       bool   `json:"peerRecordStatus"`
	Privacy   bool   `json:"peerPrivacyStatus"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(name, uuid string) (*Peer, error) {
	if len(name) == 0 {
		return nil, ErrPeerNameEmpty
	}
	if len(name) > MaxPeerNameLen {
		return nil, ErrPeerNameTooLong
	}
	return &Peer{Name: name, UUID: uuid}, nil
}

// SetStatus flips one toggle by wire name.
func (p *Peer) SetStatus(field StatusField, value bool) error {
	switch field {
	case StatusVideo:
		p.Video = value
	case StatusAudio:
		p.Audio = value
	case StatusScreen:
		p.Screen = value
	case StatusHand:
		p.Hand = value
	case StatusRec:
		p.Rec = value
	case StatusPrivacy:
		p.Privacy = value
	default:
		return ErrUnknownStatus
	}
	return nil
}

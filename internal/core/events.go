package core

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/wandao/meeting-signal/internal/domain"
)

// Inbound event names.
const (
	EvJoin             = "join"
	EvRelayICE         = "relayICE"
	EvRelaySDP         = "relaySDP"
	EvRoomAction       = "roomAction"
	EvPeerName         = "peerName"
	EvMessage          = "message"
	EvPeerStatus       = "peerStatus"
	EvPeerAction       = "peerAction"
	EvKickOut          = "kickOut"
	EvFileInfo         = "fileInfo"
	EvFileAbort        = "fileAbort"
	EvVideoPlayer      = "videoPlayer"
	EvWBCanvasToJSON   = "wbCanvasToJson"
	EvWhiteboardAction = "whiteboardAction"
	EvCheckPeerName    = "checkPeerName"
)

// Outbound event names.
const (
	EvServerInfo         = "serverInfo"
	EvAddPeer            = "addPeer"
	EvRemovePeer         = "removePeer"
	EvUnauthorized       = "unauthorized"
	EvRoomIsLocked       = "roomIsLocked"
	EvIceCandidate       = "iceCandidate"
	EvSessionDescription = "sessionDescription"
)

// Room actions.
const (
	ActionLock          = "lock"
	ActionUnlock        = "unlock"
	ActionCheckPassword = "checkPassword"
)

// Peer actions that require presenter rights.
var presenterActions = map[string]struct{}{
	"muteAudio": {},
	"hideVideo": {},
	"ejectAll":  {},
}

type JoinArgs struct {
	RoomID      string          `json:"roomId"`
	Password    string          `json:"roomPasswd"`
	PeerUUID    string          `json:"peerUuid"`
	PeerName    string          `json:"peerName"`
	PeerToken   string          `json:"peerToken,omitempty"`
	PeerVideo   bool            `json:"peerVideo"`
	PeerAudio   bool            `json:"peerAudio"`
	PeerScreen  bool            `json:"peerScreen"`
	PeerHand    bool            `json:"peerHandStatus"`
	PeerRec     bool            `json:"peerRecordStatus"`
	PeerPrivacy bool            `json:"peerPrivacyStatus"`
	ClientInfo  json.RawMessage `json:"clientInfo,omitempty"`
}

type RelayICEArgs struct {
	ClientID     string                  `json:"clientId"`
	ICECandidate webrtc.ICECandidateInit `json:"iceCandidate"`
}

type RelaySDPArgs struct {
	ClientID           string                    `json:"clientId"`
	SessionDescription webrtc.SessionDescription `json:"sessionDescription"`
}

type RoomActionArgs struct {
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
	PeerUUID string `json:"peerUuid"`
	PeerName string `json:"peerName"`
	Password string `json:"password,omitempty"`
	Action   string `json:"action"`
}

type RenameArgs struct {
	RoomID      string `json:"roomId"`
	PeerNameOld string `json:"peerNameOld"`
	PeerNameNew string `json:"peerNameNew"`
}

type PeerStatusArgs struct {
	RoomID   string             `json:"roomId"`
	PeerName string             `json:"peerName"`
	ClientID string             `json:"clientId"`
	Element  domain.StatusField `json:"element"`
	Status   bool               `json:"status"`
}

type PeerActionArgs struct {
	RoomID     string          `json:"roomId"`
	ClientID   string          `json:"clientId"`
	PeerUUID   string          `json:"peerUuid"`
	PeerName   string          `json:"peerName"`
	PeerVideo  json.RawMessage `json:"peerVideo,omitempty"`
	PeerAction string          `json:"peerAction"`
	SendToAll  bool            `json:"sendToAll"`
}

type KickOutArgs struct {
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
	PeerUUID string `json:"peerUuid"`
	PeerName string `json:"peerName"`
}

type FileMeta struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

type FileInfoArgs struct {
	RoomID    string   `json:"roomId"`
	ClientID  string   `json:"clientId"`
	PeerName  string   `json:"peerName"`
	Broadcast bool     `json:"broadcast"`
	File      FileMeta `json:"file"`
}

type FileAbortArgs struct {
	RoomID   string `json:"roomId"`
	PeerName string `json:"peerName"`
}

type VideoPlayerArgs struct {
	RoomID      string `json:"roomId"`
	ClientID    string `json:"clientId,omitempty"`
	PeerName    string `json:"peerName"`
	VideoAction string `json:"videoAction"`
	VideoSrc    string `json:"videoSrc,omitempty"`
}

type CheckPeerNameArgs struct {
	RoomID   string `json:"roomId"`
	PeerName string `json:"peerName"`
}

// roomScoped extracts the routing field from passthrough payloads.
type roomScoped struct {
	RoomID string `json:"roomId"`
}

// ServerInfo is sent to a joiner right after a successful join.
type ServerInfo struct {
	PeersCount    int  `json:"peersCount"`
	HostProtected bool `json:"hostProtected"`
	UserAuth      bool `json:"userAuth"`
	PeerPresenter bool `json:"peerPresenter"`
}

// AddPeerData tells one side of a new pairing about the other. The
// newcomer gets ShouldCreateOffer true, incumbents false, so offers always
// flow newcomer to incumbent and never collide.
type AddPeerData struct {
	ClientID          ConnID                 `json:"clientId"`
	Peers             map[ConnID]domain.Peer `json:"peers"`
	ShouldCreateOffer bool                   `json:"shouldCreateOffer"`
	ICEServers        []webrtc.ICEServer     `json:"iceServers"`
}

// PeerClaims is the verified content of a join token.
type PeerClaims struct {
	Username  string
	Password  string
	Presenter bool
}

// TokenVerifier checks a join token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (PeerClaims, error)
}

// Credential is one configured valid login.
type Credential struct {
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
}

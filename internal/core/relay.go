package core

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/wandao/meeting-signal/internal/domain"
	"github.com/wandao/meeting-signal/internal/sanitize"
)

// RelayConfig is the server policy the relay enforces.
type RelayConfig struct {
	// UserAuth requires a verified join token on every join.
	UserAuth bool
	// HostProtected is reported to clients in serverInfo.
	HostProtected bool
	// Users are the valid credentials when UserAuth is on.
	Users []Credential
	// PresenterAllowList names that are always granted presenter rights.
	PresenterAllowList []string
	// ICEServers is the STUN/TURN list handed to peers in addPeer.
	ICEServers []webrtc.ICEServer
}

// Relay turns inbound signal events into validated presence mutations plus
// outbound messages to one connection or to a whole room. Dispatch holds a
// mutex for the full synchronous handling of each event, so state reaches a
// consistent point before the next event is processed; the Go rendering of
// the event-loop model this protocol assumes.
type Relay struct {
	mu         sync.Mutex
	cfg        RelayConfig
	reg        *Registry
	store      *Store
	presenters *PresenterPolicy
	locks      *LockPolicy
	teardown   *Teardown
	verifier   TokenVerifier
}

func NewRelay(cfg RelayConfig, reg *Registry, store *Store, verifier TokenVerifier) *Relay {
	return &Relay{
		cfg:        cfg,
		reg:        reg,
		store:      store,
		presenters: NewPresenterPolicy(store, cfg.PresenterAllowList),
		locks:      NewLockPolicy(store),
		teardown:   NewTeardown(store, reg),
		verifier:   verifier,
	}
}

// Store exposes the presence store for read-only consumers (stats API).
func (r *Relay) Store() *Store { return r.store }

// Dispatch routes one inbound event. Malformed or unexpected events are
// logged and dropped; nothing here terminates the connection.
func (r *Relay) Dispatch(connID ConnID, event string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch event {
	case EvJoin:
		err = r.handleJoin(connID, data)
	case EvRelayICE:
		err = r.handleRelayICE(connID, data)
	case EvRelaySDP:
		err = r.handleRelaySDP(connID, data)
	case EvRoomAction:
		err = r.handleRoomAction(connID, data)
	case EvPeerName:
		err = r.handleRename(connID, data)
	case EvMessage:
		err = r.handlePassthrough(connID, EvMessage, data)
	case EvPeerStatus:
		err = r.handlePeerStatus(connID, data)
	case EvPeerAction:
		err = r.handlePeerAction(connID, data)
	case EvKickOut:
		err = r.handleKickOut(connID, data)
	case EvFileInfo:
		err = r.handleFileInfo(connID, data)
	case EvFileAbort:
		err = r.handleFileAbort(connID, data)
	case EvVideoPlayer:
		err = r.handleVideoPlayer(connID, data)
	case EvWBCanvasToJSON:
		err = r.handlePassthrough(connID, EvWBCanvasToJSON, data)
	case EvWhiteboardAction:
		err = r.handlePassthrough(connID, EvWhiteboardAction, data)
	case EvCheckPeerName:
		err = r.handleCheckPeerName(connID, data)
	default:
		log.Warn().Str("module", "core.relay").Str("conn", string(connID)).Str("event", event).Msg("unknown event")
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "core.relay").Str("conn", string(connID)).Str("event", event).Msg("event dropped")
	}
}

// Disconnect is the terminal transition for a connection.
func (r *Relay) Disconnect(connID ConnID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("reason", reason).Msg("disconnected")
	r.teardown.Disconnect(connID)
}

func (r *Relay) emit(connID ConnID, event string, data any) bool {
	return r.reg.SendTo(connID, event, data)
}

// roomCast sends to every member of the room except the sender, iterating
// a membership snapshot taken up front.
func (r *Relay) roomCast(roomID domain.RoomID, except ConnID, event string, data any) {
	for _, id := range r.store.ConnsIn(roomID) {
		if id == except {
			continue
		}
		r.reg.SendTo(id, event, data)
	}
}

func (r *Relay) validCredential(username, password string) bool {
	for _, u := range r.cfg.Users {
		if u.Username == username && u.Password == password {
			return true
		}
	}
	return false
}

func (r *Relay) handleJoin(connID ConnID, data []byte) error {
	var args JoinArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" || args.PeerName == "" {
		return ErrInvalidPayload
	}
	roomID := domain.RoomID(args.RoomID)

	if r.store.IsMember(roomID, connID) {
		log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("room", args.RoomID).Msg("already joined, ignoring")
		return nil
	}

	// Validate the whole payload before any state is written; a rejected
	// join must leave no room, peer or presenter record behind.
	peer, err := domain.NewPeer(args.PeerName, args.PeerUUID)
	if err != nil {
		return ErrInvalidPayload
	}

	tokenPresenter := false
	if r.cfg.UserAuth {
		if args.PeerToken == "" {
			r.emit(connID, EvUnauthorized, nil)
			return ErrUnauthorized
		}
		claims, err := r.verifier.Verify(args.PeerToken)
		if err != nil {
			log.Warn().Err(err).Str("module", "core.relay").Str("conn", string(connID)).Msg("join token rejected")
			r.emit(connID, EvUnauthorized, nil)
			return ErrUnauthorized
		}
		if !r.validCredential(claims.Username, claims.Password) {
			r.emit(connID, EvUnauthorized, nil)
			return ErrUnauthorized
		}
		tokenPresenter = claims.Presenter || r.store.PresenterCount(roomID) == 0
	}

	// The lock gate runs strictly after authorization.
	if !r.locks.Admit(roomID, args.Password) {
		log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("room", args.RoomID).Msg("room is locked")
		r.emit(connID, EvRoomIsLocked, nil)
		return ErrRoomLocked
	}

	r.presenters.AssignOnJoin(roomID, connID, args.PeerName, args.PeerUUID)

	// A verified token's presenter claim is authoritative for this join;
	// otherwise the room state decides.
	isPresenter := r.presenters.IsPresenter(roomID, connID, args.PeerName, args.PeerUUID)
	if r.cfg.UserAuth && args.PeerToken != "" {
		isPresenter = tokenPresenter
	}

	peer.Presenter = isPresenter
	peer.Video = args.PeerVideo
	peer.Audio = args.PeerAudio
	peer.Screen = args.PeerScreen
	peer.Hand = args.PeerHand
	peer.Rec = args.PeerRec
	peer.Privacy = args.PeerPrivacy
	if err := r.store.AddParticipant(roomID, connID, peer); err != nil {
		log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("room", args.RoomID).Msg("duplicate join lost the race, ignoring")
		return nil
	}

	snap := r.store.Snapshot(roomID)
	for _, existing := range r.store.ConnsIn(roomID) {
		if existing == connID {
			continue
		}
		r.emit(existing, EvAddPeer, AddPeerData{
			ClientID:          connID,
			Peers:             snap,
			ShouldCreateOffer: false,
			ICEServers:        r.cfg.ICEServers,
		})
		r.emit(connID, EvAddPeer, AddPeerData{
			ClientID:          existing,
			Peers:             snap,
			ShouldCreateOffer: true,
			ICEServers:        r.cfg.ICEServers,
		})
	}

	r.emit(connID, EvServerInfo, ServerInfo{
		PeersCount:    len(snap),
		HostProtected: r.cfg.HostProtected,
		UserAuth:      r.cfg.UserAuth,
		PeerPresenter: isPresenter,
	})

	log.Info().Str("module", "core.relay").Str("conn", string(connID)).Str("room", args.RoomID).Str("peer", args.PeerName).Bool("presenter", isPresenter).Interface("active_rooms", r.store.ActiveRooms()).Msg("peer joined")
	return nil
}

func (r *Relay) handleRelayICE(connID ConnID, data []byte) error {
	var args RelayICEArgs
	if err := json.Unmarshal(data, &args); err != nil || args.ClientID == "" {
		return ErrInvalidPayload
	}
	ok := r.emit(ConnID(args.ClientID), EvIceCandidate, struct {
		ClientID     ConnID                  `json:"clientId"`
		ICECandidate webrtc.ICECandidateInit `json:"iceCandidate"`
	}{connID, args.ICECandidate})
	if !ok {
		return ErrStaleTarget
	}
	return nil
}

func (r *Relay) handleRelaySDP(connID ConnID, data []byte) error {
	var args RelaySDPArgs
	if err := json.Unmarshal(data, &args); err != nil || args.ClientID == "" {
		return ErrInvalidPayload
	}
	log.Debug().Str("module", "core.relay").Str("from", string(connID)).Str("to", args.ClientID).Str("type", args.SessionDescription.Type.String()).Msg("relay session description")
	ok := r.emit(ConnID(args.ClientID), EvSessionDescription, struct {
		ClientID           ConnID                    `json:"clientId"`
		SessionDescription webrtc.SessionDescription `json:"sessionDescription"`
	}{connID, args.SessionDescription})
	if !ok {
		return ErrStaleTarget
	}
	return nil
}

func (r *Relay) handleRoomAction(connID ConnID, data []byte) error {
	var args RoomActionArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" {
		return ErrInvalidPayload
	}
	roomID := domain.RoomID(args.RoomID)
	isPresenter := r.presenters.IsPresenter(roomID, connID, args.PeerName, args.PeerUUID)

	switch args.Action {
	case ActionLock:
		if !isPresenter {
			return ErrForbidden
		}
		r.locks.Lock(roomID, args.Password)
		r.roomCast(roomID, connID, EvRoomAction, struct {
			PeerName string `json:"peerName"`
			Action   string `json:"action"`
		}{args.PeerName, args.Action})
	case ActionUnlock:
		if !isPresenter {
			return ErrForbidden
		}
		r.locks.Unlock(roomID)
		r.roomCast(roomID, connID, EvRoomAction, struct {
			PeerName string `json:"peerName"`
			Action   string `json:"action"`
		}{args.PeerName, args.Action})
	case ActionCheckPassword:
		r.emit(connID, EvRoomAction, struct {
			PeerName string `json:"peerName"`
			Action   string `json:"action"`
			Password string `json:"password"`
		}{args.PeerName, args.Action, r.locks.CheckPassword(roomID, args.Password)})
	default:
		return ErrInvalidPayload
	}
	log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("room", args.RoomID).Str("action", args.Action).Msg("room action")
	return nil
}

func (r *Relay) handleRename(connID ConnID, data []byte) error {
	var args RenameArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" || args.PeerNameNew == "" {
		return ErrInvalidPayload
	}
	roomID := domain.RoomID(args.RoomID)
	if !r.store.RenameParticipant(roomID, connID, args.PeerNameOld, args.PeerNameNew) {
		return ErrForbidden
	}
	r.roomCast(roomID, connID, EvPeerName, struct {
		ClientID ConnID `json:"clientId"`
		PeerName string `json:"peerName"`
	}{connID, args.PeerNameNew})
	return nil
}

func (r *Relay) handlePeerStatus(connID ConnID, data []byte) error {
	var args PeerStatusArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" {
		return ErrInvalidPayload
	}
	// A peer may only mutate its own record; a crafted clientId claiming
	// someone else's identity is ignored.
	if args.ClientID != "" && args.ClientID != string(connID) {
		return ErrForbidden
	}
	roomID := domain.RoomID(args.RoomID)
	if !r.store.SetStatus(roomID, connID, args.PeerName, args.Element, args.Status) {
		return ErrForbidden
	}
	r.roomCast(roomID, connID, EvPeerStatus, struct {
		ClientID ConnID             `json:"clientId"`
		PeerName string             `json:"peerName"`
		Element  domain.StatusField `json:"element"`
		Status   bool               `json:"status"`
	}{connID, args.PeerName, args.Element, args.Status})
	return nil
}

func (r *Relay) handlePeerAction(connID ConnID, data []byte) error {
	var args PeerActionArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" || args.PeerAction == "" {
		return ErrInvalidPayload
	}
	roomID := domain.RoomID(args.RoomID)
	if _, privileged := presenterActions[args.PeerAction]; privileged {
		if !r.presenters.IsPresenter(roomID, connID, args.PeerName, args.PeerUUID) {
			return ErrForbidden
		}
	}
	payload := struct {
		ClientID   string          `json:"clientId"`
		PeerName   string          `json:"peerName"`
		PeerAction string          `json:"peerAction"`
		PeerVideo  json.RawMessage `json:"peerVideo,omitempty"`
	}{args.ClientID, args.PeerName, args.PeerAction, args.PeerVideo}

	if args.SendToAll {
		r.roomCast(roomID, connID, EvPeerAction, payload)
		return nil
	}
	if !r.emit(ConnID(args.ClientID), EvPeerAction, payload) {
		return ErrStaleTarget
	}
	return nil
}

func (r *Relay) handleKickOut(connID ConnID, data []byte) error {
	var args KickOutArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" || args.ClientID == "" {
		return ErrInvalidPayload
	}
	roomID := domain.RoomID(args.RoomID)
	if !r.presenters.IsPresenter(roomID, connID, args.PeerName, args.PeerUUID) {
		return ErrForbidden
	}
	log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("target", args.ClientID).Str("room", args.RoomID).Msg("kick out")
	// The target's client reacts to the message and closes; the server
	// never force-closes the transport itself.
	if !r.emit(ConnID(args.ClientID), EvKickOut, struct {
		PeerName string `json:"peerName"`
	}{args.PeerName}) {
		return ErrStaleTarget
	}
	return nil
}

func (r *Relay) handleFileInfo(connID ConnID, data []byte) error {
	var args FileInfoArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" {
		return ErrInvalidPayload
	}
	if !sanitize.IsValidFileName(args.File.FileName) {
		log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("file", args.File.FileName).Msg("file name not valid")
		return ErrInvalidPayload
	}
	roomID := domain.RoomID(args.RoomID)
	if args.Broadcast {
		r.roomCast(roomID, connID, EvFileInfo, args)
		return nil
	}
	if !r.emit(ConnID(args.ClientID), EvFileInfo, args) {
		return ErrStaleTarget
	}
	return nil
}

func (r *Relay) handleFileAbort(connID ConnID, data []byte) error {
	var args FileAbortArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" {
		return ErrInvalidPayload
	}
	r.roomCast(domain.RoomID(args.RoomID), connID, EvFileAbort, nil)
	return nil
}

func (r *Relay) handleVideoPlayer(connID ConnID, data []byte) error {
	var args VideoPlayerArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" {
		return ErrInvalidPayload
	}
	if args.VideoAction == "open" && !sanitize.IsValidHTTPURL(args.VideoSrc) {
		log.Debug().Str("module", "core.relay").Str("conn", string(connID)).Str("src", args.VideoSrc).Msg("video src not valid")
		return ErrInvalidPayload
	}
	payload := struct {
		ClientID    ConnID `json:"clientId"`
		PeerName    string `json:"peerName"`
		VideoAction string `json:"videoAction"`
		VideoSrc    string `json:"videoSrc,omitempty"`
	}{connID, args.PeerName, args.VideoAction, args.VideoSrc}

	if args.ClientID != "" {
		if !r.emit(ConnID(args.ClientID), EvVideoPlayer, payload) {
			return ErrStaleTarget
		}
		return nil
	}
	r.roomCast(domain.RoomID(args.RoomID), connID, EvVideoPlayer, payload)
	return nil
}

// handlePassthrough room-casts chat and whiteboard payloads untouched,
// routing on the payload's own roomId field.
func (r *Relay) handlePassthrough(connID ConnID, event string, data []byte) error {
	var scope roomScoped
	if err := json.Unmarshal(data, &scope); err != nil || scope.RoomID == "" {
		return ErrInvalidPayload
	}
	r.roomCast(domain.RoomID(scope.RoomID), connID, event, json.RawMessage(data))
	return nil
}

func (r *Relay) handleCheckPeerName(connID ConnID, data []byte) error {
	var args CheckPeerNameArgs
	if err := json.Unmarshal(data, &args); err != nil || args.RoomID == "" {
		return ErrInvalidPayload
	}
	taken := r.store.NameTaken(domain.RoomID(args.RoomID), connID, args.PeerName)
	r.emit(connID, EvCheckPeerName, struct {
		Taken bool `json:"taken"`
	}{taken})
	return nil
}

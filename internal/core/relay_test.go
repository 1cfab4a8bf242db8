package core

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wandao/meeting-signal/internal/domain"
)

// fakeConn captures outbound frames for inspection.
type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
}

func (f *fakeConn) TrySend(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(Frame, len(fr))
	copy(cp, fr)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.frames))
	for _, fr := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(fr, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) named(t *testing.T, event string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range f.envelopes(t) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

type stubVerifier struct {
	claims PeerClaims
	err    error
}

func (s stubVerifier) Verify(string) (PeerClaims, error) { return s.claims, s.err }

func newTestRelay(cfg RelayConfig, verifier TokenVerifier) (*Relay, *Registry) {
	if verifier == nil {
		verifier = stubVerifier{}
	}
	reg := NewRegistry()
	return NewRelay(cfg, reg, NewStore(), verifier), reg
}

func connect(reg *Registry, id ConnID) *fakeConn {
	c := &fakeConn{}
	reg.Bind(id, c)
	return c
}

func dispatch(t *testing.T, r *Relay, id ConnID, event string, args any) {
	t.Helper()
	b, err := json.Marshal(args)
	require.NoError(t, err)
	r.Dispatch(id, event, b)
}

func joinArgs(room, name, uuid string) JoinArgs {
	return JoinArgs{RoomID: room, PeerName: name, PeerUUID: uuid}
}

func serverInfoOf(t *testing.T, c *fakeConn) ServerInfo {
	t.Helper()
	infos := c.named(t, EvServerInfo)
	require.Len(t, infos, 1)
	var si ServerInfo
	require.NoError(t, json.Unmarshal(infos[0].Data, &si))
	return si
}

func TestJoin_Idempotence(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))

	addPeersBefore := len(c1.named(t, EvAddPeer)) + len(c2.named(t, EvAddPeer))

	// Re-joining the same room is a logged no-op: no new record, no fan-out.
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))

	assert.Equal(t, 2, r.Store().PeerCount("r1"))
	addPeersAfter := len(c1.named(t, EvAddPeer)) + len(c2.named(t, EvAddPeer))
	assert.Equal(t, addPeersBefore, addPeersAfter)
	assert.Len(t, c2.named(t, EvServerInfo), 1)
}

func TestJoin_PresenterFounding(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))

	assert.True(t, serverInfoOf(t, c1).PeerPresenter)
	assert.False(t, serverInfoOf(t, c2).PeerPresenter)
}

func TestJoin_AllowListOverride(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{PresenterAllowList: []string{"admin"}}, nil)
	connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	// Second joiner, but allow-listed: presenter regardless of order.
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "admin", "u2"))

	assert.True(t, serverInfoOf(t, c2).PeerPresenter)
}

func TestJoin_LockGate(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	connect(reg, "c1")
	c2 := connect(reg, "c2")
	c3 := connect(reg, "c3")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c1", EvRoomAction, RoomActionArgs{
		RoomID: "r1", PeerName: "alice", PeerUUID: "u1",
		Action: ActionLock, Password: "secret",
	})

	wrong := joinArgs("r1", "bob", "u2")
	wrong.Password = "wrong"
	dispatch(t, r, "c2", EvJoin, wrong)

	assert.Len(t, c2.named(t, EvRoomIsLocked), 1)
	assert.Empty(t, c2.named(t, EvServerInfo))
	assert.Equal(t, 1, r.Store().PeerCount("r1"))
	_, ok := r.Store().Member("r1", "c2")
	assert.False(t, ok)

	right := joinArgs("r1", "carol", "u3")
	right.Password = "secret"
	dispatch(t, r, "c3", EvJoin, right)

	assert.Len(t, c3.named(t, EvServerInfo), 1)
	assert.Equal(t, 2, r.Store().PeerCount("r1"))
}

func TestJoin_OverlongNameLeavesNoState(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	long := strings.Repeat("x", domain.MaxPeerNameLen+1)
	dispatch(t, r, "c1", EvJoin, joinArgs("r1", long, "u1"))

	// Rejected before anything lands: no peer, no presenter record, no room.
	assert.Empty(t, c1.envelopes(t))
	assert.Equal(t, 0, r.Store().PeerCount("r1"))
	assert.Equal(t, 0, r.Store().PresenterCount("r1"))
	assert.Empty(t, r.Store().ActiveRooms())

	// The next legitimate joiner still founds the room as presenter, and
	// reusing the rejected name grants nothing.
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "alice", "u2"))
	assert.True(t, serverInfoOf(t, c2).PeerPresenter)
	p, ok := r.Store().Member("r1", "c2")
	require.True(t, ok)
	assert.True(t, p.Presenter)
}

func TestJoin_RejectedJoinLeavesNoRoom(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{
		UserAuth: true,
		Users:    []Credential{{Username: "admin", Password: "admin"}},
	}, nil)
	c1 := connect(reg, "c1")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))

	// The unauthorized join creates no room for the stats API to report.
	assert.Len(t, c1.named(t, EvUnauthorized), 1)
	assert.Empty(t, r.Store().ActiveRooms())
}

func TestJoin_AddPeerMesh(t *testing.T) {
	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	r, reg := newTestRelay(RelayConfig{ICEServers: ice}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	assert.Empty(t, c1.named(t, EvAddPeer))

	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))

	// Incumbent is told not to originate the offer.
	incumbent := c1.named(t, EvAddPeer)
	require.Len(t, incumbent, 1)
	var forIncumbent AddPeerData
	require.NoError(t, json.Unmarshal(incumbent[0].Data, &forIncumbent))
	assert.Equal(t, ConnID("c2"), forIncumbent.ClientID)
	assert.False(t, forIncumbent.ShouldCreateOffer)

	// Newcomer always initiates offers toward existing members.
	newcomer := c2.named(t, EvAddPeer)
	require.Len(t, newcomer, 1)
	var forNewcomer AddPeerData
	require.NoError(t, json.Unmarshal(newcomer[0].Data, &forNewcomer))
	assert.Equal(t, ConnID("c1"), forNewcomer.ClientID)
	assert.True(t, forNewcomer.ShouldCreateOffer)
	assert.Len(t, forNewcomer.Peers, 2)
	assert.Equal(t, ice, forNewcomer.ICEServers)
}

func TestJoin_AuthRequired(t *testing.T) {
	cfg := RelayConfig{
		UserAuth: true,
		Users:    []Credential{{Username: "admin", Password: "admin"}},
	}

	t.Run("missing token", func(t *testing.T) {
		r, reg := newTestRelay(cfg, nil)
		c1 := connect(reg, "c1")
		dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
		assert.Len(t, c1.named(t, EvUnauthorized), 1)
		assert.Equal(t, 0, r.Store().PeerCount("r1"))
	})

	t.Run("verification failure", func(t *testing.T) {
		r, reg := newTestRelay(cfg, stubVerifier{err: ErrUnauthorized})
		c1 := connect(reg, "c1")
		args := joinArgs("r1", "alice", "u1")
		args.PeerToken = "garbage"
		dispatch(t, r, "c1", EvJoin, args)
		assert.Len(t, c1.named(t, EvUnauthorized), 1)
	})

	t.Run("unknown credential", func(t *testing.T) {
		r, reg := newTestRelay(cfg, stubVerifier{claims: PeerClaims{Username: "eve", Password: "x"}})
		c1 := connect(reg, "c1")
		args := joinArgs("r1", "eve", "u1")
		args.PeerToken = "token"
		dispatch(t, r, "c1", EvJoin, args)
		assert.Len(t, c1.named(t, EvUnauthorized), 1)
	})

	t.Run("valid token joins", func(t *testing.T) {
		r, reg := newTestRelay(cfg, stubVerifier{claims: PeerClaims{Username: "admin", Password: "admin"}})
		c1 := connect(reg, "c1")
		args := joinArgs("r1", "alice", "u1")
		args.PeerToken = "token"
		dispatch(t, r, "c1", EvJoin, args)
		assert.Empty(t, c1.named(t, EvUnauthorized))
		assert.Len(t, c1.named(t, EvServerInfo), 1)
	})

	t.Run("token presenter claim is authoritative", func(t *testing.T) {
		r, reg := newTestRelay(cfg, stubVerifier{claims: PeerClaims{Username: "admin", Password: "admin", Presenter: true}})
		connect(reg, "c1")
		c2 := connect(reg, "c2")

		first := joinArgs("r1", "alice", "u1")
		first.PeerToken = "token"
		dispatch(t, r, "c1", EvJoin, first)

		// Second joiner would not be presenter by room state, but the
		// verified claim overrides the computation for this join.
		second := joinArgs("r1", "bob", "u2")
		second.PeerToken = "token"
		dispatch(t, r, "c2", EvJoin, second)

		assert.True(t, serverInfoOf(t, c2).PeerPresenter)
	})
}

func TestRelaySDP_Fidelity(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")
	c3 := connect(reg, "c3")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	dispatch(t, r, "c3", EvJoin, joinArgs("r1", "carol", "u3"))
	c1.reset()
	c2.reset()
	c3.reset()

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 test-payload"}
	dispatch(t, r, "c1", EvRelaySDP, RelaySDPArgs{ClientID: "c2", SessionDescription: sdp})

	got := c2.named(t, EvSessionDescription)
	require.Len(t, got, 1)
	var fwd RelaySDPArgs
	require.NoError(t, json.Unmarshal(got[0].Data, &fwd))
	assert.Equal(t, "c1", fwd.ClientID)
	assert.Equal(t, sdp, fwd.SessionDescription)

	assert.Empty(t, c1.envelopes(t))
	assert.Empty(t, c3.envelopes(t))
}

func TestRelayICE_Unicast(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	connect(reg, "c1")
	c2 := connect(reg, "c2")

	mid := "0"
	idx := uint16(0)
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54400 typ host", SDPMid: &mid, SDPMLineIndex: &idx}
	dispatch(t, r, "c1", EvRelayICE, RelayICEArgs{ClientID: "c2", ICECandidate: cand})

	got := c2.named(t, EvIceCandidate)
	require.Len(t, got, 1)
	var fwd RelayICEArgs
	require.NoError(t, json.Unmarshal(got[0].Data, &fwd))
	assert.Equal(t, "c1", fwd.ClientID)
	assert.Equal(t, cand.Candidate, fwd.ICECandidate.Candidate)
}

func TestRelay_StaleTargetIsSilent(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")

	dispatch(t, r, "c1", EvRelaySDP, RelaySDPArgs{
		ClientID:           "gone",
		SessionDescription: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	})

	// Best-effort relay: the sender hears nothing about the stale target.
	assert.Empty(t, c1.envelopes(t))
}

func TestRoomAction_LockRequiresPresenter(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	dispatch(t, r, "c2", EvRoomAction, RoomActionArgs{
		RoomID: "r1", PeerName: "bob", PeerUUID: "u2",
		Action: ActionLock, Password: "secret",
	})

	// Room stays unlocked and nobody is told anything.
	locked, _ := r.Store().LockState("r1")
	assert.False(t, locked)
	assert.Empty(t, c1.envelopes(t))
	assert.Empty(t, c2.envelopes(t))
}

func TestRoomAction_LockUnlockByPresenter(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	dispatch(t, r, "c1", EvRoomAction, RoomActionArgs{
		RoomID: "r1", PeerName: "alice", PeerUUID: "u1",
		Action: ActionLock, Password: "secret",
	})

	locked, password := r.Store().LockState("r1")
	assert.True(t, locked)
	assert.Equal(t, "secret", password)
	assert.Len(t, c2.named(t, EvRoomAction), 1)

	dispatch(t, r, "c1", EvRoomAction, RoomActionArgs{
		RoomID: "r1", PeerName: "alice", PeerUUID: "u1",
		Action: ActionUnlock,
	})
	locked, _ = r.Store().LockState("r1")
	assert.False(t, locked)
}

func TestRoomAction_CheckPasswordNeverLeaks(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c1", EvRoomAction, RoomActionArgs{
		RoomID: "r1", PeerName: "alice", PeerUUID: "u1",
		Action: ActionLock, Password: "secret",
	})

	dispatch(t, r, "c2", EvRoomAction, RoomActionArgs{
		RoomID: "r1", PeerName: "bob", Action: ActionCheckPassword, Password: "wrong",
	})

	got := c2.named(t, EvRoomAction)
	require.Len(t, got, 1)
	var resp struct {
		Action   string `json:"action"`
		Password string `json:"password"`
	}
	require.NoError(t, json.Unmarshal(got[0].Data, &resp))
	assert.Equal(t, ActionCheckPassword, resp.Action)
	assert.Equal(t, PasswordKO, resp.Password)
	assert.NotContains(t, string(got[0].Data), "secret")
}

func TestPeerStatus_OwnDataOnly(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	connect(reg, "c1")
	connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))

	// c1 crafts a status event claiming c2's identity.
	dispatch(t, r, "c1", EvPeerStatus, PeerStatusArgs{
		RoomID: "r1", PeerName: "bob", ClientID: "c2",
		Element: domain.StatusAudio, Status: true,
	})

	p, ok := r.Store().Member("r1", "c2")
	require.True(t, ok)
	assert.False(t, p.Audio)
}

func TestPeerStatus_MutatesAndBroadcasts(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	dispatch(t, r, "c1", EvPeerStatus, PeerStatusArgs{
		RoomID: "r1", PeerName: "alice", ClientID: "c1",
		Element: domain.StatusHand, Status: true,
	})

	p, _ := r.Store().Member("r1", "c1")
	assert.True(t, p.Hand)

	got := c2.named(t, EvPeerStatus)
	require.Len(t, got, 1)
	// Sender is excluded from the room-cast.
	assert.Empty(t, c1.named(t, EvPeerStatus))
}

func TestPeerAction_PresenterGate(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	// Non-presenter cannot mute others.
	dispatch(t, r, "c2", EvPeerAction, PeerActionArgs{
		RoomID: "r1", ClientID: "c1", PeerName: "bob", PeerUUID: "u2",
		PeerAction: "muteAudio",
	})
	assert.Empty(t, c1.envelopes(t))

	// Presenter can, room-wide.
	dispatch(t, r, "c1", EvPeerAction, PeerActionArgs{
		RoomID: "r1", ClientID: "c1", PeerName: "alice", PeerUUID: "u1",
		PeerAction: "muteAudio", SendToAll: true,
	})
	assert.Len(t, c2.named(t, EvPeerAction), 1)

	// Unprivileged actions pass through for anyone.
	dispatch(t, r, "c2", EvPeerAction, PeerActionArgs{
		RoomID: "r1", ClientID: "c1", PeerName: "bob", PeerUUID: "u2",
		PeerAction: "handRaise",
	})
	assert.Len(t, c1.named(t, EvPeerAction), 1)
}

func TestKickOut_PresenterOnly(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	dispatch(t, r, "c2", EvKickOut, KickOutArgs{
		RoomID: "r1", ClientID: "c1", PeerName: "bob", PeerUUID: "u2",
	})
	assert.Empty(t, c1.named(t, EvKickOut))

	dispatch(t, r, "c1", EvKickOut, KickOutArgs{
		RoomID: "r1", ClientID: "c2", PeerName: "alice", PeerUUID: "u1",
	})
	require.Len(t, c2.named(t, EvKickOut), 1)
	// The server only instructs; the target's membership is intact until
	// its client actually disconnects.
	assert.Equal(t, 2, r.Store().PeerCount("r1"))
}

func TestFileInfo_FilenameDenyList(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	dispatch(t, r, "c1", EvFileInfo, FileInfoArgs{
		RoomID: "r1", Broadcast: true, PeerName: "alice",
		File: FileMeta{FileName: "../../etc/passwd", FileSize: 10},
	})
	assert.Empty(t, c2.named(t, EvFileInfo))

	dispatch(t, r, "c1", EvFileInfo, FileInfoArgs{
		RoomID: "r1", Broadcast: true, PeerName: "alice",
		File: FileMeta{FileName: "slides.pdf", FileType: "application/pdf", FileSize: 1024},
	})
	assert.Len(t, c2.named(t, EvFileInfo), 1)

	// Unicast delivery when not broadcasting.
	c2.reset()
	dispatch(t, r, "c1", EvFileInfo, FileInfoArgs{
		RoomID: "r1", ClientID: "c2", PeerName: "alice",
		File: FileMeta{FileName: "notes.txt", FileSize: 64},
	})
	assert.Len(t, c2.named(t, EvFileInfo), 1)
}

func TestVideoPlayer_SrcValidation(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	dispatch(t, r, "c1", EvVideoPlayer, VideoPlayerArgs{
		RoomID: "r1", PeerName: "alice", VideoAction: "open", VideoSrc: "javascript:alert(1)",
	})
	assert.Empty(t, c2.named(t, EvVideoPlayer))

	dispatch(t, r, "c1", EvVideoPlayer, VideoPlayerArgs{
		RoomID: "r1", PeerName: "alice", VideoAction: "open", VideoSrc: "https://example.com/movie.mp4",
	})
	require.Len(t, c2.named(t, EvVideoPlayer), 1)

	// Close needs no src and room-casts fine.
	dispatch(t, r, "c1", EvVideoPlayer, VideoPlayerArgs{
		RoomID: "r1", PeerName: "alice", VideoAction: "close",
	})
	assert.Len(t, c2.named(t, EvVideoPlayer), 2)
}

func TestPassthrough_RoomCastExcludesSender(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")
	c3 := connect(reg, "c3")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	dispatch(t, r, "c3", EvJoin, joinArgs("r1", "carol", "u3"))
	c1.reset()
	c2.reset()
	c3.reset()

	payload := map[string]any{"roomId": "r1", "peerName": "alice", "toPeerId": "all", "msg": "hello"}
	dispatch(t, r, "c1", EvMessage, payload)

	assert.Empty(t, c1.named(t, EvMessage))
	assert.Len(t, c2.named(t, EvMessage), 1)
	assert.Len(t, c3.named(t, EvMessage), 1)

	wb := map[string]any{"roomId": "r1", "wbCanvasJson": `{"objects":[]}`}
	dispatch(t, r, "c2", EvWBCanvasToJSON, wb)
	assert.Len(t, c1.named(t, EvWBCanvasToJSON), 1)
	assert.Empty(t, c2.named(t, EvWBCanvasToJSON))
	assert.Len(t, c3.named(t, EvWBCanvasToJSON), 1)
}

func TestRename_AppliedAndBroadcast(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))
	dispatch(t, r, "c2", EvJoin, joinArgs("r1", "bob", "u2"))
	c1.reset()
	c2.reset()

	dispatch(t, r, "c1", EvPeerName, RenameArgs{RoomID: "r1", PeerNameOld: "alice", PeerNameNew: "alicia"})

	p, _ := r.Store().Member("r1", "c1")
	assert.Equal(t, "alicia", p.Name)
	require.Len(t, c2.named(t, EvPeerName), 1)

	// Wrong old name is dropped without a broadcast.
	c2.reset()
	dispatch(t, r, "c1", EvPeerName, RenameArgs{RoomID: "r1", PeerNameOld: "alice", PeerNameNew: "eve"})
	assert.Empty(t, c2.named(t, EvPeerName))
}

func TestCheckPeerName(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	connect(reg, "c1")
	c2 := connect(reg, "c2")

	dispatch(t, r, "c1", EvJoin, joinArgs("r1", "alice", "u1"))

	dispatch(t, r, "c2", EvCheckPeerName, CheckPeerNameArgs{RoomID: "r1", PeerName: "alice"})
	got := c2.named(t, EvCheckPeerName)
	require.Len(t, got, 1)
	var resp struct {
		Taken bool `json:"taken"`
	}
	require.NoError(t, json.Unmarshal(got[0].Data, &resp))
	assert.True(t, resp.Taken)

	c2.reset()
	dispatch(t, r, "c2", EvCheckPeerName, CheckPeerNameArgs{RoomID: "r1", PeerName: "bob"})
	got = c2.named(t, EvCheckPeerName)
	require.Len(t, got, 1)
	require.NoError(t, json.Unmarshal(got[0].Data, &resp))
	assert.False(t, resp.Taken)
}

func TestDispatch_MalformedPayloadIsDropped(t *testing.T) {
	r, reg := newTestRelay(RelayConfig{}, nil)
	c1 := connect(reg, "c1")

	r.Dispatch("c1", EvJoin, []byte(`{"roomId": 42`))
	r.Dispatch("c1", EvRelaySDP, []byte(`not json`))
	r.Dispatch("c1", "noSuchEvent", []byte(`{}`))

	// No crash, no error event, no state.
	assert.Empty(t, c1.envelopes(t))
	assert.Empty(t, r.Store().ActiveRooms())
}

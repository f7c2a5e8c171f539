package main

import (
	"fmt"
	"math/rand"
	"time"
)

// LobbyRoom is the per-invite actor of §4.2: a creator waits for one
// opponent, or the lobby times out or is cancelled. Like GameRoom it
// is single-threaded via an inbox of closures; its lifetime is much
// shorter and it owns no clock or move state of its own.
type LobbyRoom struct {
	id  string
	cfg *Config

	snapshots *snapshotStore
	lobbyList *LobbyList
	games     *GameManager

	inbox chan func()
	done  chan struct{}

	state      LobbyState
	creatorConn *wsConn

	timeoutTimer *time.Timer
}

func newLobbyRoom(id string, cfg *Config, snapshots *snapshotStore, lobbyList *LobbyList, games *GameManager) *LobbyRoom {
	l := &LobbyRoom{
		id:        id,
		cfg:       cfg,
		snapshots: snapshots,
		lobbyList: lobbyList,
		games:     games,
		inbox:     make(chan func(), 16),
		done:      make(chan struct{}),
	}
	l.rehydrate()
	return l
}

// rehydrate restores a previously persisted lobby snapshot, if any, so a
// lobby evicted from memory (or a restarted process) can resume without
// losing the creator's reservation (§5 Durability).
func (l *LobbyRoom) rehydrate() {
	var state LobbyState
	ok, err := l.snapshots.Load("lobbyroom", l.id, &state)
	if err != nil {
		logFault("lobbyroom %s: snapshot load failed: %v", l.id, err)
		return
	}
	if !ok {
		return
	}
	l.state = state
	if l.state.Status == LobbyWaiting {
		l.armTimeoutLocked()
	}
}

func (l *LobbyRoom) run() {
	for {
		select {
		case fn := <-l.inbox:
			fn()
		case <-l.done:
			return
		}
	}
}

func (l *LobbyRoom) shutdown() {
	select {
	case <-l.done:
		return
	default:
	}
	close(l.done)
	if l.timeoutTimer != nil {
		l.timeoutTimer.Stop()
	}
	if l.creatorConn != nil {
		close(l.creatorConn.send)
	}
}

func (l *LobbyRoom) submit(fn func()) bool {
	select {
	case l.inbox <- fn:
		return true
	case <-l.done:
		return false
	}
}

func lobbyRoomRequest[T any](l *LobbyRoom, fn func() T) (T, bool) {
	result := make(chan T, 1)
	if !l.submit(func() { result <- fn() }) {
		var zero T
		return zero, false
	}
	select {
	case v := <-result:
		return v, true
	case <-l.done:
		var zero T
		return zero, false
	}
}

// LobbyInitRequest creates a lobby for a creator (§4.2 "Init").
type LobbyInitRequest struct {
	Creator  PlayerDescriptor
	Settings LobbySettings
}

func (l *LobbyRoom) Init(req LobbyInitRequest) {
	l.submit(func() {
		l.state = LobbyState{
			LobbyID:   l.id,
			Creator:   req.Creator,
			Settings:  req.Settings,
			Status:    LobbyWaiting,
			CreatedAt: time.Now(),
		}
		l.armTimeoutLocked()
		l.persistLocked()
		if l.lobbyList != nil {
			l.lobbyList.Add(lobbyListingFromState(l.state))
		}
	})
}

func (l *LobbyRoom) armTimeoutLocked() {
	if l.timeoutTimer != nil {
		l.timeoutTimer.Stop()
	}
	l.timeoutTimer = time.AfterFunc(l.cfg.lobbyTimeout, func() {
		l.submit(l.onTimeoutLocked)
	})
}

func (l *LobbyRoom) onTimeoutLocked() {
	if l.state.Status != LobbyWaiting {
		return
	}
	l.state.Status = LobbyCancelled
	l.persistLocked()
	if l.lobbyList != nil {
		l.lobbyList.Remove(l.id)
	}
	if l.creatorConn != nil {
		l.creatorConn.deliver(systemFrame{Type: "system", Message: "lobby timed out waiting for an opponent"})
	}
}

func (l *LobbyRoom) persistLocked() {
	if err := l.snapshots.Save("lobbyroom", l.id, l.state); err != nil {
		logFault("lobbyroom %s: snapshot save failed: %v", l.id, err)
	}
}

// Attach wires the creator's live channel, used so a timeout or
// cancellation notice can reach them (§4.2's creator connection).
func (l *LobbyRoom) Attach(conn *wsConn) bool {
	_, ok := lobbyRoomRequest(l, func() bool {
		l.creatorConn = conn
		go conn.writePump()
		conn.deliver(systemFrame{Type: "system", Message: "waiting for an opponent"})
		return true
	})
	return ok
}

// JoinResult is returned to the opponent's join call.
type JoinResult struct {
	OK            bool
	Reason        string
	GameRoomID    string
	ConnectionURL string
	Color         PlayerColor
	Opponent      PlayerDescriptor
}

// Join pairs an opponent into an existing lobby (§4.2 "Join"),
// allocating and seeding the GameRoom.
func (l *LobbyRoom) Join(opponent PlayerDescriptor) JoinResult {
	result, ok := lobbyRoomRequest(l, func() JoinResult { return l.joinLocked(opponent) })
	if !ok {
		return JoinResult{OK: false, Reason: "lobby no longer exists"}
	}
	return result
}

func (l *LobbyRoom) joinLocked(opponent PlayerDescriptor) JoinResult {
	if l.state.Status != LobbyWaiting {
		return JoinResult{OK: false, Reason: "lobby is no longer accepting an opponent"}
	}
	if opponent.PlayerID == l.state.Creator.PlayerID {
		return JoinResult{OK: false, Reason: "cannot join your own lobby"}
	}

	if l.timeoutTimer != nil {
		l.timeoutTimer.Stop()
	}

	creatorColor := resolveCreatorColor(l.state.Settings.PlayerColor)
	opponentColor := creatorColor.opposite()

	gameID := fmt.Sprintf("lobby-%s", l.id)
	room := l.games.GetOrCreate(gameID)
	room.Init(InitRequest{
		Mode:        l.state.Settings.Mode,
		IsLobbyMode: true,
		IsUnrated:   l.state.Settings.Unrated,
		LobbyID:     l.id,
		OpeningName: l.state.Settings.OpeningName,
		StartingFEN: l.state.Settings.OpeningFEN,
		White:       descriptorForColor(l.state.Creator, opponent, creatorColor, ColorWhite),
		Black:       descriptorForColor(l.state.Creator, opponent, creatorColor, ColorBlack),
	})

	connectionURL := fmt.Sprintf("%s/ws?gameId=%s", l.cfg.prefix, gameID)

	l.state.Opponent = &opponent
	l.state.Status = LobbyMatched
	l.state.GameRoomID = gameID
	l.state.ConnectionURL = connectionURL
	l.persistLocked()

	if l.lobbyList != nil {
		l.lobbyList.Remove(l.id)
	}

	if l.creatorConn != nil {
		l.creatorConn.deliver(opponentJoinedFrame{Type: "opponent_joined", Opponent: opponent})
		l.creatorConn.deliver(matchReadyFrame{
			Type: "match_ready", GameRoomID: gameID, ConnectionURL: connectionURL,
			Color: creatorColor, Opponent: opponent,
		})
	}

	return JoinResult{
		OK: true, GameRoomID: gameID, ConnectionURL: connectionURL,
		Color: opponentColor, Opponent: l.state.Creator,
	}
}

func resolveCreatorColor(pref string) PlayerColor {
	switch pref {
	case "white":
		return ColorWhite
	case "black":
		return ColorBlack
	default:
		if rand.Intn(2) == 0 {
			return ColorWhite
		}
		return ColorBlack
	}
}

func descriptorForColor(creator, opponent PlayerDescriptor, creatorColor, color PlayerColor) *PlayerDescriptor {
	if color == creatorColor {
		return &creator
	}
	return &opponent
}

// Cancel withdraws a lobby before it is matched (§4.2 "Cancel").
func (l *LobbyRoom) Cancel(playerID string) bool {
	result, ok := lobbyRoomRequest(l, func() bool {
		if l.state.Status != LobbyWaiting || playerID != l.state.Creator.PlayerID {
			return false
		}
		l.state.Status = LobbyCancelled
		if l.timeoutTimer != nil {
			l.timeoutTimer.Stop()
		}
		l.persistLocked()
		if l.lobbyList != nil {
			l.lobbyList.Remove(l.id)
		}
		if l.creatorConn != nil {
			l.creatorConn.deliver(systemFrame{Type: "system", Message: "lobby cancelled"})
		}
		return true
	})
	return ok && result
}

func (l *LobbyRoom) GetState() (LobbyState, bool) {
	return lobbyRoomRequest(l, func() LobbyState { return l.state })
}

func lobbyListingFromState(s LobbyState) LobbyListing {
	return LobbyListing{
		LobbyID:     s.LobbyID,
		Creator:     s.Creator,
		Settings:    s.Settings,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
	}
}

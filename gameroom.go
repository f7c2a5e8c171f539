package main

import (
	"fmt"
	"strings"
	"time"
)

const startingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// GameRoom is the per-match actor of §4.1. Every field below this
// point is mutated only from inside run(); external callers only ever
// reach it through submit/request, which funnel work into inbox.
// This generalizes the teacher's per-message-type channel set
// (celebrity.go's Hub.register/unreg/joins/mods/guesses) into a single
// inbox of closures, needed because a GameRoom's message surface
// (admission, move, resign, client game-end, three timer families,
// disconnect, state query) is far larger than the teacher's five
// channels. The single-goroutine serialization discipline is identical.
type GameRoom struct {
	id  string
	cfg *Config

	snapshots *snapshotStore
	docs      DocumentStore
	lobbyList *LobbyList

	inbox chan func()
	done  chan struct{}

	// --- actor state, owned exclusively by run() ---
	mode        GameMode
	isLobbyMode bool
	isUnrated   bool
	lobbyID     string
	openingName string

	status GameStatus

	players     map[PlayerColor]*PlayerSession
	playerIndex map[string]PlayerColor

	spectators map[string]*SpectatorSession

	state        GameState
	clock        Clock
	stateVersion uint64
	startedAt    time.Time

	abandonTimers map[string]*time.Timer
	lastSeen      map[string]time.Time

	clockStopCh     chan struct{}
	heartbeatStopCh chan struct{}
}

func newGameRoom(id string, cfg *Config, snapshots *snapshotStore, docs DocumentStore, lobbyList *LobbyList) *GameRoom {
	g := &GameRoom{
		id:            id,
		cfg:           cfg,
		snapshots:     snapshots,
		docs:          docs,
		lobbyList:     lobbyList,
		inbox:         make(chan func(), 64),
		done:          make(chan struct{}),
		status:        StatusWaiting,
		players:       make(map[PlayerColor]*PlayerSession),
		playerIndex:   make(map[string]PlayerColor),
		spectators:    make(map[string]*SpectatorSession),
		state:         GameState{FEN: startingFEN},
		abandonTimers: make(map[string]*time.Timer),
		lastSeen:      make(map[string]time.Time),
	}
	g.rehydrate()
	return g
}

// run is the room's single-threaded event loop (§5 Scheduling model).
func (g *GameRoom) run() {
	g.startHeartbeatLoop()
	if g.status == StatusPlaying {
		g.startClockLoop()
	}
	for {
		select {
		case fn := <-g.inbox:
			fn()
		case <-g.done:
			return
		}
	}
}

// shutdown tears down every timer scoped to this room and releases
// its goroutines, on every exit path (§9 "Scoped resources").
func (g *GameRoom) shutdown() {
	select {
	case <-g.done:
		return
	default:
	}
	close(g.done)
	g.stopClockLoop()
	g.stopHeartbeatLoop()
	for _, t := range g.abandonTimers {
		t.Stop()
	}
	for _, p := range g.players {
		if p.conn != nil {
			close(p.conn.send)
		}
	}
	for _, s := range g.spectators {
		if s.conn != nil {
			close(s.conn.send)
		}
	}
}

func (g *GameRoom) submit(fn func()) bool {
	select {
	case g.inbox <- fn:
		return true
	case <-g.done:
		return false
	}
}

// gameRoomRequest runs fn inside the room's event loop and returns its
// result, or ok=false if the room has already shut down.
func gameRoomRequest[T any](g *GameRoom, fn func() T) (T, bool) {
	result := make(chan T, 1)
	if !g.submit(func() { result <- fn() }) {
		var zero T
		return zero, false
	}
	select {
	case v := <-result:
		return v, true
	case <-g.done:
		var zero T
		return zero, false
	}
}

func (g *GameRoom) persistSnapshot() {
	snap := g.snapshotLocked()
	if err := g.snapshots.Save("gameroom", g.id, snap); err != nil {
		logFault("gameroom %s: snapshot save failed: %v", g.id, err)
	}
}

// RoomStateDTO is the response body for GET /state, and also doubles
// as this room's durable snapshot record (§5 "Durability": "GameRoom
// periodically snapshots its state... after every authoritative
// mutation").
type RoomStateDTO struct {
	ID           string                 `json:"id"`
	Mode         GameMode               `json:"gameMode"`
	IsUnrated    bool                   `json:"isUnrated"`
	IsLobbyMode  bool                   `json:"isLobbyMode"`
	LobbyID      string                 `json:"lobbyId,omitempty"`
	OpeningName  string                 `json:"openingName,omitempty"`
	Status       GameStatus             `json:"status"`
	Players      map[PlayerColor]*PlayerSession `json:"players"`
	Spectators   int                    `json:"spectatorCount"`
	GameState    GameState              `json:"gameState"`
	Clock        Clock                  `json:"clock"`
	StateVersion uint64                 `json:"stateVersion"`
	StartedAt    time.Time              `json:"startedAt,omitempty"`
}

func (g *GameRoom) snapshotLocked() RoomStateDTO {
	players := make(map[PlayerColor]*PlayerSession, len(g.players))
	for color, p := range g.players {
		cp := *p
		cp.conn = nil
		players[color] = &cp
	}
	return RoomStateDTO{
		ID:           g.id,
		Mode:         g.mode,
		IsUnrated:    g.isUnrated,
		IsLobbyMode:  g.isLobbyMode,
		LobbyID:      g.lobbyID,
		OpeningName:  g.openingName,
		Status:       g.status,
		Players:      players,
		Spectators:   len(g.spectators),
		GameState:    g.state,
		Clock:        g.clock,
		StateVersion: g.stateVersion,
		StartedAt:    g.startedAt,
	}
}

// GetState is the GameRoom's read-only status query (§4.1).
func (g *GameRoom) GetState() (RoomStateDTO, bool) {
	return gameRoomRequest(g, g.snapshotLocked)
}

// rehydrate restores a room's state from its last durable snapshot,
// called once at construction before run() starts so an evicted or
// restarted GameRoom does not lose state (§5 "Durability").
func (g *GameRoom) rehydrate() {
	var dto RoomStateDTO
	ok, err := g.snapshots.Load("gameroom", g.id, &dto)
	if err != nil {
		logFault("gameroom %s: snapshot load failed: %v", g.id, err)
		return
	}
	if !ok {
		return
	}
	g.mode = dto.Mode
	g.isUnrated = dto.IsUnrated
	g.isLobbyMode = dto.IsLobbyMode
	g.lobbyID = dto.LobbyID
	g.openingName = dto.OpeningName
	g.status = dto.Status
	g.state = dto.GameState
	g.clock = dto.Clock
	g.stateVersion = dto.StateVersion
	g.startedAt = dto.StartedAt
	for color, p := range dto.Players {
		if p == nil {
			continue
		}
		cp := *p
		cp.conn = nil
		cp.Connected = false
		g.players[color] = &cp
		g.playerIndex[p.PlayerID] = color
	}
}

// InitRequest seeds a GameRoom ahead of any connection, used by
// LobbyRoom (§4.2) and by the Matchmaker's ranked pairing flow.
type InitRequest struct {
	Mode        GameMode
	IsLobbyMode bool
	IsUnrated   bool
	LobbyID     string
	OpeningName string
	StartingFEN string
	White       *PlayerDescriptor
	Black       *PlayerDescriptor
}

// Init pre-registers up to two player slots (§4.1 "New player id with
// a pre-registered slot (lobby seeding)").
func (g *GameRoom) Init(req InitRequest) {
	g.submit(func() {
		g.mode = req.Mode
		g.isLobbyMode = req.IsLobbyMode
		g.isUnrated = req.IsUnrated
		g.lobbyID = req.LobbyID
		g.openingName = req.OpeningName
		if req.StartingFEN != "" {
			g.state.FEN = req.StartingFEN
		}

		seed := func(color PlayerColor, d *PlayerDescriptor) {
			if d == nil {
				return
			}
			g.players[color] = &PlayerSession{
				PlayerID:    d.PlayerID,
				DisplayName: d.DisplayName,
				Rating:      d.Rating,
				Provisional: d.Provisional,
				Color:       color,
			}
			g.playerIndex[d.PlayerID] = color
		}
		seed(ColorWhite, req.White)
		seed(ColorBlack, req.Black)

		g.persistSnapshot()
	})
}

// AdmissionRequest is a streaming connection's opening handshake (§4.1
// "Connection admission").
type AdmissionRequest struct {
	PlayerID    string
	DisplayName string
	Rating      int
	Provisional bool
	Color       *PlayerColor
	Mode        string // "", "lobby", "spectator"
	Conn        *wsConn
}

type admissionResult struct {
	ok        bool
	closeCode closeCode
	reason    string
}

// Admit applies the admission rules of §4.1 and, on success, wires the
// connection's read/write pumps and triggers startGame if both players
// are now connected.
func (g *GameRoom) Admit(req AdmissionRequest) admissionResult {
	result, ok := gameRoomRequest(g, func() admissionResult { return g.admitLocked(req) })
	if !ok {
		return admissionResult{ok: false, closeCode: closePolicyError, reason: "room closed"}
	}
	return result
}

func (g *GameRoom) admitLocked(req AdmissionRequest) admissionResult {
	if req.PlayerID == "" {
		return admissionResult{ok: false, closeCode: closePolicyError, reason: "missing player id"}
	}

	if req.Mode == "spectator" {
		if len(g.spectators) >= g.cfg.spectatorCap {
			return admissionResult{ok: false, closeCode: closeCapacityExceeded, reason: "spectator cap reached"}
		}
		spec := &SpectatorSession{
			ID:          req.PlayerID,
			DisplayName: req.DisplayName,
			ConnectedAt: time.Now(),
			conn:        req.Conn,
		}
		g.spectators[req.PlayerID] = spec
		go req.Conn.writePump()
		req.Conn.deliver(spectatorStateFrame{Type: "spectator_state", GameState: g.state, Clock: g.clock, Status: g.status})
		g.broadcastSpectatorCountLocked()
		return admissionResult{ok: true}
	}

	if color, reconnecting := g.playerIndex[req.PlayerID]; reconnecting {
		return g.reattachLocked(color, req)
	}

	if len(g.players) >= 2 {
		return admissionResult{ok: false, closeCode: closePolicyError, reason: "room full"}
	}

	var assigned PlayerColor
	if req.Color != nil && *req.Color != "" {
		if _, taken := g.players[*req.Color]; taken {
			return admissionResult{ok: false, closeCode: closePolicyError, reason: "color taken"}
		}
		assigned = *req.Color
	} else if len(g.players) == 0 {
		assigned = ColorWhite
	} else {
		for _, c := range []PlayerColor{ColorWhite, ColorBlack} {
			if _, taken := g.players[c]; !taken {
				assigned = c
				break
			}
		}
	}

	session := &PlayerSession{
		PlayerID:    req.PlayerID,
		DisplayName: req.DisplayName,
		Rating:      req.Rating,
		Provisional: req.Provisional,
		Color:       assigned,
		Connected:   true,
		LastSeen:    time.Now(),
		conn:        req.Conn,
	}
	g.players[assigned] = session
	g.playerIndex[req.PlayerID] = assigned
	g.lastSeen[req.PlayerID] = time.Now()

	g.finishAdmissionLocked(session, req.Conn)
	return admissionResult{ok: true}
}

func (g *GameRoom) reattachLocked(color PlayerColor, req AdmissionRequest) admissionResult {
	session, ok := g.players[color]
	if !ok {
		return admissionResult{ok: false, closeCode: closePolicyError, reason: "unknown player"}
	}

	if t, armed := g.abandonTimers[req.PlayerID]; armed {
		t.Stop()
		delete(g.abandonTimers, req.PlayerID)
	}

	session.Connected = true
	session.LastSeen = time.Now()
	session.conn = req.Conn
	g.lastSeen[req.PlayerID] = time.Now()

	g.finishAdmissionLocked(session, req.Conn)
	return admissionResult{ok: true}
}

func (g *GameRoom) finishAdmissionLocked(session *PlayerSession, conn *wsConn) {
	go conn.writePump()

	var opponent *PlayerSession
	if opp, ok := g.players[session.Color.opposite()]; ok {
		oppCopy := *opp
		oppCopy.conn = nil
		opponent = &oppCopy
	}

	self := *session
	self.conn = nil
	conn.deliver(readyFrame{
		Type:         "ready",
		Self:         self,
		Opponent:     opponent,
		GameState:    g.state,
		Clock:        g.clock,
		Status:       g.status,
		Mode:         g.mode,
		StateVersion: g.stateVersion,
	})

	g.notifyOpponentConnectionLocked(session.Color, true)

	if g.bothConnectedLocked() && (g.status == StatusWaiting || g.status == StatusReady) {
		g.players[ColorWhite].Ready = true
		g.players[ColorBlack].Ready = true
		g.startGameLocked()
	}

	g.persistSnapshot()
}

func (g *GameRoom) bothConnectedLocked() bool {
	w, okW := g.players[ColorWhite]
	b, okB := g.players[ColorBlack]
	return okW && okB && w.Connected && b.Connected
}

func (g *GameRoom) notifyOpponentConnectionLocked(color PlayerColor, connected bool) {
	opp, ok := g.players[color.opposite()]
	if !ok || opp.conn == nil {
		return
	}
	frame := opponentStatusFrame{Type: "opponent_status", Connected: connected}
	if !connected {
		frame.ReconnectTimeoutMs = g.cfg.abandonTimeout.Milliseconds()
	}
	opp.conn.deliver(frame)
}

// startGame is §4.1's atomic waiting->ready->playing transition.
func (g *GameRoom) startGameLocked() {
	if g.status == StatusPlaying || g.status == StatusFinished {
		return
	}
	if !g.bothConnectedLocked() {
		return
	}

	g.status = StatusReady
	defaults := clockDefaults[g.mode]
	now := time.Now()
	g.clock = Clock{
		White:       ClockSide{RemainingMs: defaults.InitialMs, IncrementMs: defaults.IncrementMs},
		Black:       ClockSide{RemainingMs: defaults.InitialMs, IncrementMs: defaults.IncrementMs},
		LastUpdate:  now.UnixMilli(),
		CurrentTurn: ColorWhite,
	}
	g.startedAt = now
	g.startClockLoop()

	for _, p := range g.players {
		if p.conn == nil {
			continue
		}
		opp := g.players[p.Color.opposite()]
		var oppCopy *PlayerSession
		if opp != nil {
			cp := *opp
			cp.conn = nil
			oppCopy = &cp
		}
		self := *p
		self.conn = nil
		p.conn.deliver(readyFrame{
			Type: "opponent_ready", Self: self, Opponent: oppCopy,
			GameState: g.state, Clock: g.clock, Status: StatusReady,
			Mode: g.mode, StateVersion: g.stateVersion,
		})
	}

	g.status = StatusPlaying
	g.broadcastLocked(gameStartFrame{Type: "game_start", Status: StatusPlaying})
	g.persistSnapshot()
}

func (g *GameRoom) broadcastLocked(msg any) {
	for _, p := range g.players {
		if p.conn != nil {
			p.conn.deliver(msg)
		}
	}
	for _, s := range g.spectators {
		if s.conn != nil {
			s.conn.deliver(msg)
		}
	}
}

func (g *GameRoom) broadcastSpectatorCountLocked() {
	g.broadcastLocked(spectatorCountFrame{Type: "spectator_count", Count: len(g.spectators)})
}

// --- clock tick loop ---

func (g *GameRoom) startClockLoop() {
	g.stopClockLoop()
	stopCh := make(chan struct{})
	g.clockStopCh = stopCh
	ticker := time.NewTicker(g.cfg.clockTickInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !g.submit(g.clockTickLocked) {
					return
				}
			case <-stopCh:
				return
			case <-g.done:
				return
			}
		}
	}()
}

func (g *GameRoom) stopClockLoop() {
	if g.clockStopCh != nil {
		close(g.clockStopCh)
		g.clockStopCh = nil
	}
}

func (g *GameRoom) clockTickLocked() {
	if g.status != StatusPlaying {
		return
	}
	now := time.Now()
	elapsedMs := now.UnixMilli() - g.clock.LastUpdate
	turn := g.clock.CurrentTurn

	side := g.clock.White
	if turn == ColorBlack {
		side = g.clock.Black
	}
	remaining := side.RemainingMs - elapsedMs

	if remaining <= 0 {
		if turn == ColorWhite {
			g.clock.White.RemainingMs = 0
		} else {
			g.clock.Black.RemainingMs = 0
		}
		g.endGameLocked(turn.opposite().winResult(), ReasonTimeout)
		return
	}

	if turn == ColorWhite {
		g.clock.White.RemainingMs = remaining
	} else {
		g.clock.Black.RemainingMs = remaining
	}
	g.clock.LastUpdate = now.UnixMilli()
	g.broadcastLocked(clockUpdateFrame{Type: "clock_update", Clock: g.clock, StateVersion: g.stateVersion})
}

func (c PlayerColor) winResult() GameResult {
	if c == ColorWhite {
		return ResultWhiteWin
	}
	return ResultBlackWin
}

// --- move handling ---

// MoveRequestInput is the upstream "move" frame (§4.1 "Move handling").
type MoveRequestInput struct {
	PlayerID  string
	UCI       string
	FENAfter  string
	SAN       string
	MessageID string
}

func (g *GameRoom) HandleMove(req MoveRequestInput) {
	g.submit(func() { g.handleMoveLocked(req) })
}

func (g *GameRoom) handleMoveLocked(req MoveRequestInput) {
	g.touchLastSeenLocked(req.PlayerID)

	color, ok := g.playerIndex[req.PlayerID]
	if !ok {
		return
	}
	player := g.players[color]

	if g.status != StatusPlaying {
		g.sendErrorLocked(player, errGameNotPlaying, "game is not in progress")
		return
	}

	from, to, promotion, ok := parseUCI(req.UCI)
	if !ok {
		g.sendErrorLocked(player, errInvalidMoveFormat, "malformed UCI move")
		return
	}

	if color != g.clock.CurrentTurn {
		g.sendErrorLocked(player, errNotYourTurn, "it is not your turn")
		return
	}

	now := time.Now()
	uci := from + to + promotion

	g.state.Moves = append(g.state.Moves, Move{From: from, To: to, Promotion: promotion, TimestampMs: now.UnixMilli()})
	record := MoveRecord{UCI: uci, SAN: req.SAN, TimestampMs: now.UnixMilli(), MadeBy: color}
	g.stateVersion++

	if req.FENAfter != "" {
		g.state.FEN = req.FENAfter
	} else {
		g.state.FEN = flipFENTurn(g.state.FEN)
	}

	incrementMs := g.clock.White.IncrementMs
	if color == ColorBlack {
		incrementMs = g.clock.Black.IncrementMs
	}
	if color == ColorWhite {
		g.clock.White.RemainingMs += incrementMs
	} else {
		g.clock.Black.RemainingMs += incrementMs
	}
	g.clock.CurrentTurn = color.opposite()
	g.clock.LastUpdate = now.UnixMilli()

	g.persistSnapshot()

	if req.MessageID != "" && player.conn != nil {
		player.conn.deliver(ackFrame{Type: "ack", MessageID: req.MessageID, StateVersion: g.stateVersion})
	}

	g.broadcastLocked(moveFrame{
		Type: "move", Record: record, GameState: g.state, Clock: g.clock, StateVersion: g.stateVersion,
	})
}

func (g *GameRoom) sendErrorLocked(player *PlayerSession, code errorCode, message string) {
	if player == nil || player.conn == nil {
		return
	}
	player.conn.deliver(errorFrame{Type: "error", Code: code, Message: message})
}

// parseUCI decodes a UCI move string: 4 chars (from,to) plus an
// optional 5th promotion-piece char (§4.1 step 2, §8 boundary case).
func parseUCI(s string) (from, to, promotion string, ok bool) {
	if len(s) < 4 || len(s) > 5 {
		return "", "", "", false
	}
	from, to = s[0:2], s[2:4]
	if !isSquare(from) || !isSquare(to) {
		return "", "", "", false
	}
	if len(s) == 5 {
		promotion = string(s[4])
	}
	return from, to, promotion, true
}

func isSquare(s string) bool {
	if len(s) != 2 {
		return false
	}
	file, rank := s[0], s[1]
	return file >= 'a' && file <= 'h' && rank >= '1' && rank <= '8'
}

// flipFENTurn toggles the FEN's side-to-move field. The server never
// interprets position, so this minimal flip is sufficient per §4.1
// step 5 ("apply a minimal turn-indicator flip").
func flipFENTurn(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return fen
	}
	switch fields[1] {
	case "w":
		fields[1] = "b"
	case "b":
		fields[1] = "w"
	}
	return strings.Join(fields, " ")
}

// --- resignation & client-reported terminal state ---

func (g *GameRoom) HandleResign(playerID string) {
	g.submit(func() { g.handleResignLocked(playerID) })
}

func (g *GameRoom) handleResignLocked(playerID string) {
	color, ok := g.playerIndex[playerID]
	if !ok {
		return
	}
	player := g.players[color]
	if g.status != StatusPlaying {
		g.sendErrorLocked(player, errGameNotPlaying, "game is not in progress")
		return
	}

	winner := color.opposite()
	if opp, ok := g.players[winner]; ok && opp.conn != nil {
		opp.conn.deliver(resignFrame{Type: "resign", ResignedBy: color, Outcome: winner.winResult()})
	}

	g.endGameLocked(winner.winResult(), ReasonResignation)
}

// GameEndInput is the upstream "game_end" frame (§4.1 "Client-reported
// terminal state").
type GameEndInput struct {
	PlayerID string
	Result   GameResult
	Reason   ResultReason
	FinalFEN string
}

func (g *GameRoom) HandleGameEndRequest(req GameEndInput) {
	g.submit(func() { g.handleGameEndRequestLocked(req) })
}

func (g *GameRoom) handleGameEndRequestLocked(req GameEndInput) {
	color, ok := g.playerIndex[req.PlayerID]
	player := g.players[color]

	if g.status != StatusPlaying {
		g.sendErrorLocked(player, errGameNotPlaying, "game is not in progress")
		return
	}
	if !ok || !validResult(req.Result) || !validEndReasons[req.Reason] {
		g.sendErrorLocked(player, errInvalidGameEnd, "unrecognized result or reason")
		return
	}

	if req.FinalFEN != "" {
		g.state.FEN = req.FinalFEN
	}
	g.endGameLocked(req.Result, req.Reason)
}

// --- disconnect & abandonment ---

func (g *GameRoom) HandleDisconnect(playerID string) {
	g.submit(func() { g.handleDisconnectLocked(playerID) })
}

func (g *GameRoom) handleDisconnectLocked(playerID string) {
	color, ok := g.playerIndex[playerID]
	if !ok {
		if s, ok := g.spectators[playerID]; ok {
			if s.conn != nil {
				close(s.conn.send)
			}
			delete(g.spectators, playerID)
			g.broadcastSpectatorCountLocked()
		}
		return
	}
	player := g.players[color]
	if player.conn != nil {
		close(player.conn.send)
	}
	player.conn = nil
	player.Connected = false
	delete(g.lastSeen, playerID)

	g.notifyOpponentConnectionLocked(color, false)

	if (g.status == StatusReady || g.status == StatusPlaying) && g.status != StatusFinished {
		g.armAbandonTimerLocked(playerID)
	}
	g.persistSnapshot()
}

func (g *GameRoom) armAbandonTimerLocked(playerID string) {
	if t, exists := g.abandonTimers[playerID]; exists {
		t.Stop()
	}
	g.abandonTimers[playerID] = time.AfterFunc(g.cfg.abandonTimeout, func() {
		g.submit(func() { g.onAbandonTimerLocked(playerID) })
	})
}

func (g *GameRoom) onAbandonTimerLocked(playerID string) {
	delete(g.abandonTimers, playerID)
	if g.status == StatusFinished {
		return
	}
	color, ok := g.playerIndex[playerID]
	if !ok {
		return
	}
	player := g.players[color]
	if player.Connected {
		return
	}
	g.endGameLocked(color.opposite().winResult(), ReasonOpponentAbandoned)
}

// --- heartbeat ---

func (g *GameRoom) startHeartbeatLoop() {
	stopCh := make(chan struct{})
	g.heartbeatStopCh = stopCh
	ticker := time.NewTicker(g.cfg.heartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !g.submit(g.heartbeatTickLocked) {
					return
				}
			case <-stopCh:
				return
			case <-g.done:
				return
			}
		}
	}()
}

func (g *GameRoom) stopHeartbeatLoop() {
	if g.heartbeatStopCh != nil {
		close(g.heartbeatStopCh)
		g.heartbeatStopCh = nil
	}
}

func (g *GameRoom) heartbeatTickLocked() {
	now := time.Now()
	for playerID, color := range g.playerIndex {
		player := g.players[color]
		if player == nil || !player.Connected || player.conn == nil {
			continue
		}
		last, ok := g.lastSeen[playerID]
		if ok && now.Sub(last) > g.cfg.heartbeatSilence {
			player.conn.closeWithCode(int(closeHeartbeatTimeout), "heartbeat timeout")
			continue
		}
		player.conn.deliver(simpleFrame{Type: "ping"})
	}
}

// Pong/any inbound message refreshes the player's last-seen time (§4.1
// "Heartbeat").
func (g *GameRoom) TouchLastSeen(playerID string) {
	g.submit(func() { g.touchLastSeenLocked(playerID) })
}

func (g *GameRoom) touchLastSeenLocked(playerID string) {
	if _, ok := g.playerIndex[playerID]; ok {
		g.lastSeen[playerID] = time.Now()
		if p := g.players[g.playerIndex[playerID]]; p != nil {
			p.LastSeen = time.Now()
		}
	}
}

func (g *GameRoom) HandleChat(playerID, message string) {
	g.submit(func() {
		if len(message) > 500 {
			message = message[:500]
		}
		g.broadcastLocked(chatFrame{Type: "chat", From: playerID, Message: message})
	})
}

// --- settlement ---

// endGameLocked is the idempotent settlement path of §4.1 ("endGame").
func (g *GameRoom) endGameLocked(result GameResult, reason ResultReason) {
	if g.status == StatusFinished {
		return
	}
	g.status = StatusFinished
	g.state.Result = result
	g.state.ResultReason = reason
	endedAt := time.Now()

	g.stopClockLoop()
	g.stopHeartbeatLoop()
	for playerID, t := range g.abandonTimers {
		t.Stop()
		delete(g.abandonTimers, playerID)
	}

	g.persistSnapshot()

	white, okW := g.players[ColorWhite]
	black, okB := g.players[ColorBlack]
	if !okW || !okB {
		for _, p := range g.players {
			if p.conn != nil {
				p.conn.deliver(gameEndedFrame{
					Type: "game_ended", Result: result, Reason: reason,
					ELOChanges: map[PlayerColor]ELORatingChange{},
				})
			}
		}
		return
	}

	moveCount := len(g.state.Moves)
	eloChanges := computeELOChanges(*white, *black, result, g.isUnrated, moveCount, -1, -1)

	history := MatchHistoryData{
		MatchID: g.id,
		White: PlayerSnapshot{
			PlayerID: white.PlayerID, DisplayName: white.DisplayName,
			RatingAtStart: white.Rating, ProvisionalAtStart: white.Provisional,
		},
		Black: PlayerSnapshot{
			PlayerID: black.PlayerID, DisplayName: black.DisplayName,
			RatingAtStart: black.Rating, ProvisionalAtStart: black.Provisional,
		},
		Mode:         g.mode,
		Type:         matchTypeOf(g.isUnrated),
		Result:       result,
		ResultReason: reason,
		FinalFEN:     g.state.FEN,
		StartedAt:    g.startedAt,
		EndedAt:      endedAt,
		OpeningName:  g.openingName,
		ELOChanges:   eloChanges,
	}
	history.Moves = g.moveRecordsLocked()

	endedFrame := gameEndedFrame{Type: "game_ended", Result: result, Reason: reason, ELOChanges: eloChanges, MatchHistory: history}
	for _, p := range g.players {
		if p.conn == nil {
			continue
		}
		p.conn.deliver(endedFrame)
		p.conn.deliver(systemFrame{Type: "system", Message: fmt.Sprintf("game ended: %s (%s)", result, reason)})
	}

	lobbyID, isLobbyMode, docs, lobbyList := g.lobbyID, g.isLobbyMode, g.docs, g.lobbyList
	go persistMatchHistory(docs, history)
	if isLobbyMode && lobbyList != nil {
		go lobbyList.Remove(lobbyID)
	}
}

func matchTypeOf(unrated bool) MatchType {
	if unrated {
		return MatchFriendly
	}
	return MatchRanked
}

func (g *GameRoom) moveRecordsLocked() []MoveRecord {
	records := make([]MoveRecord, 0, len(g.state.Moves))
	color := ColorWhite
	for _, mv := range g.state.Moves {
		uci := mv.From + mv.To + mv.Promotion
		records = append(records, MoveRecord{UCI: uci, TimestampMs: mv.TimestampMs, MadeBy: color})
		color = color.opposite()
	}
	return records
}

// persistMatchHistory writes match history and, for ranked games,
// merges per-player rating/leaderboard documents (§4.1 step 8, §6).
// Called fire-and-forget from endGame; failures are logged and never
// propagate back into the event loop (§7).
func persistMatchHistory(docs DocumentStore, history MatchHistoryData) {
	if docs == nil {
		return
	}

	write := func(uid string, color PlayerColor) {
		path := fmt.Sprintf("users/%s/matchHistory/%s", uid, history.MatchID)
		data := map[string]any{
			"matchId":      history.MatchID,
			"gameMode":     string(history.Mode),
			"matchType":    string(history.Type),
			"result":       string(history.Result),
			"resultReason": string(history.ResultReason),
			"finalFen":     history.FinalFEN,
			"startedAt":    history.StartedAt,
			"endedAt":      history.EndedAt,
		}
		if err := docs.SetDocument(path, data, false); err != nil {
			logFault("match history write failed for %s: %v", uid, err)
			return
		}

		if history.Type != MatchRanked {
			return
		}
		change := history.ELOChanges[color]
		ratingsPath := fmt.Sprintf("users/%s/profile/ratings", uid)
		existing, err := docs.GetDocument(ratingsPath)
		if err != nil {
			logFault("ratings read failed for %s: %v", uid, err)
			return
		}
		games, wins, losses, draws := mergeGameCounters(existing, history.Result, color)
		isProvisional := change.NewProvisional
		if prior, ok := toInt(existing["totalGamesPlayed"]); ok {
			isProvisional = prior+1 < 20
		}
		merged := map[string]any{
			"eloRating":        change.NewRating,
			"totalGamesPlayed": games,
			"wins":             wins,
			"losses":           losses,
			"draws":            draws,
			"isProvisional":    isProvisional,
		}
		if err := docs.SetDocument(ratingsPath, merged, true); err != nil {
			logFault("ratings write failed for %s: %v", uid, err)
		}
		leaderboardPath := fmt.Sprintf("leaderboards/elo/players/%s", uid)
		if err := docs.SetDocument(leaderboardPath, map[string]any{"eloRating": change.NewRating}, true); err != nil {
			logFault("leaderboard write failed for %s: %v", uid, err)
		}
	}

	write(history.White.PlayerID, ColorWhite)
	write(history.Black.PlayerID, ColorBlack)
}

func mergeGameCounters(existing map[string]any, result GameResult, color PlayerColor) (games, wins, losses, draws int) {
	if existing != nil {
		games, _ = toInt(existing["totalGamesPlayed"])
		wins, _ = toInt(existing["wins"])
		losses, _ = toInt(existing["losses"])
		draws, _ = toInt(existing["draws"])
	}
	games++
	switch {
	case result == ResultDraw:
		draws++
	case (result == ResultWhiteWin && color == ColorWhite) || (result == ResultBlackWin && color == ColorBlack):
		wins++
	default:
		losses++
	}
	return
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

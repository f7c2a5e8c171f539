package main

import "time"

// GameMode is one of the four supported time controls (§3).
type GameMode string

const (
	ModeBullet    GameMode = "bullet"
	ModeBlitz     GameMode = "blitz"
	ModeRapid     GameMode = "rapid"
	ModeClassical GameMode = "classical"
)

// clockDefaults holds the (initial, increment) pair in milliseconds for
// a GameMode. Classical uses the 10000ms increment named in spec.md's
// data model ("10000-15000; choose 10000 for the core and document it").
var clockDefaults = map[GameMode]struct{ InitialMs, IncrementMs int64 }{
	ModeBullet:    {60000, 0},
	ModeBlitz:     {180000, 1000},
	ModeRapid:     {600000, 5000},
	ModeClassical: {1800000, 10000},
}

func (m GameMode) valid() bool {
	_, ok := clockDefaults[m]
	return ok
}

// GameStatus is the one-way state machine of §3: waiting -> ready ->
// playing -> finished.
type GameStatus string

const (
	StatusWaiting  GameStatus = "waiting"
	StatusReady    GameStatus = "ready"
	StatusPlaying  GameStatus = "playing"
	StatusFinished GameStatus = "finished"
)

// PlayerColor is {white, black}; white always moves first.
type PlayerColor string

const (
	ColorWhite PlayerColor = "white"
	ColorBlack PlayerColor = "black"
)

func (c PlayerColor) opposite() PlayerColor {
	if c == ColorWhite {
		return ColorBlack
	}
	return ColorWhite
}

// GameResult is a client-declared terminal outcome (§4.1 "Client-reported
// terminal state" and the internal outcomes produced by resignation,
// timeout and abandonment).
type GameResult string

const (
	ResultWhiteWin GameResult = "white_win"
	ResultBlackWin GameResult = "black_win"
	ResultDraw     GameResult = "draw"
)

// ResultReason is the cause attached to a GameResult.
type ResultReason string

const (
	ReasonCheckmate             ResultReason = "checkmate"
	ReasonStalemate             ResultReason = "stalemate"
	ReasonInsufficientMaterial  ResultReason = "insufficient_material"
	ReasonThreefoldRepetition   ResultReason = "threefold_repetition"
	ReasonFiftyMoveRule         ResultReason = "fifty_move_rule"
	ReasonResignation           ResultReason = "resignation"
	ReasonTimeout               ResultReason = "timeout"
	ReasonOpponentAbandoned     ResultReason = "opponent_abandoned"
)

var validEndReasons = map[ResultReason]bool{
	ReasonCheckmate:            true,
	ReasonStalemate:            true,
	ReasonInsufficientMaterial: true,
	ReasonThreefoldRepetition:  true,
	ReasonFiftyMoveRule:        true,
}

func validResult(r GameResult) bool {
	return r == ResultWhiteWin || r == ResultBlackWin || r == ResultDraw
}

// PlayerSession is the per-game player record (§3). conn is
// present iff the player is currently connected; it is never read or
// mutated outside the owning GameRoom's event loop.
type PlayerSession struct {
	PlayerID     string    `json:"playerId"`
	DisplayName  string    `json:"displayName"`
	Rating       int       `json:"rating"`
	Provisional  bool      `json:"isProvisional"`
	Color        PlayerColor `json:"color"`
	Connected    bool      `json:"connected"`
	Ready        bool      `json:"ready"`
	LastSeen     time.Time `json:"lastSeen"`
	conn         *wsConn
}

// SpectatorSession is a read-only room observer.
type SpectatorSession struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	ConnectedAt time.Time `json:"connectedAt"`
	conn        *wsConn
}

// Move is a single played ply.
type Move struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Promotion  string `json:"promotion,omitempty"`
	TimestampMs int64  `json:"timestampMs"`
}

// GameState is the authoritative FEN + move log (§3). The server never
// parses FEN; it is opaque and trusted from the client.
type GameState struct {
	FEN          string       `json:"fen"`
	Moves        []Move       `json:"moves"`
	Result       GameResult   `json:"result,omitempty"`
	ResultReason ResultReason `json:"resultReason,omitempty"`
}

// MoveRecord is the append-only UCI/SAN history entry (§3). Invariant:
// moveHistory[i].MadeBy alternates starting with white.
type MoveRecord struct {
	UCI         string      `json:"uci"`
	SAN         string      `json:"san,omitempty"`
	TimestampMs int64       `json:"timestampMs"`
	MadeBy      PlayerColor `json:"madeBy"`
}

// ClockSide is the per-color remaining/increment pair.
type ClockSide struct {
	RemainingMs int64 `json:"remainingMs"`
	IncrementMs int64 `json:"incrementMs"`
}

// Clock is the authoritative per-room chess clock (§3).
type Clock struct {
	White       ClockSide   `json:"white"`
	Black       ClockSide   `json:"black"`
	LastUpdate  int64       `json:"lastUpdateMs"` // monotonic-ish wall clock ms
	CurrentTurn PlayerColor `json:"currentTurn"`
}

// ELORatingChange is the settlement-time delta for one player (§4.1.1).
type ELORatingChange struct {
	PlayerID       string `json:"playerId"`
	OldRating      int    `json:"oldRating"`
	NewRating      int    `json:"newRating"`
	Change         int    `json:"change"`
	OldProvisional bool   `json:"oldIsProvisional"`
	NewProvisional bool   `json:"newIsProvisional"`
}

// PlayerSnapshot is the per-color identity snapshot embedded in match
// history (§3 MatchHistoryData).
type PlayerSnapshot struct {
	PlayerID          string `json:"playerId"`
	DisplayName       string `json:"displayName"`
	RatingAtStart     int    `json:"ratingAtStart"`
	ProvisionalAtStart bool  `json:"provisionalAtStart"`
}

// MatchType distinguishes ranked ELO-affecting matches from friendly
// (unrated) ones, set from LobbyState.settings or Matchmaker pairing.
type MatchType string

const (
	MatchRanked   MatchType = "ranked"
	MatchFriendly MatchType = "friendly"
)

// MatchHistoryData is the durable record of a finished match (§3),
// written to the external document store keyed by each player's uid.
type MatchHistoryData struct {
	MatchID      string                     `json:"matchId"`
	White        PlayerSnapshot             `json:"white"`
	Black        PlayerSnapshot             `json:"black"`
	Mode         GameMode                   `json:"gameMode"`
	Type         MatchType                  `json:"matchType"`
	Result       GameResult                 `json:"result"`
	ResultReason ResultReason               `json:"resultReason"`
	Moves        []MoveRecord               `json:"moves"`
	FinalFEN     string                     `json:"finalFen"`
	PGN          string                     `json:"pgn,omitempty"`
	StartedAt    time.Time                  `json:"startedAt"`
	EndedAt      time.Time                  `json:"endedAt"`
	OpeningName  string                     `json:"openingName,omitempty"`
	ELOChanges   map[PlayerColor]ELORatingChange `json:"eloChanges"`
}

// LobbySettings mirrors the settings a lobby creator chooses (§3).
type LobbySettings struct {
	PlayerColor        string `json:"playerColor"` // "white" | "black" | "random"
	Mode               GameMode `json:"gameMode"`
	Private            bool   `json:"private"`
	SpectatorsAllowed  bool   `json:"spectatorsAllowed"`
	SpectatorCap       int    `json:"spectatorCap"`
	OpeningID          string `json:"openingId,omitempty"`
	OpeningName        string `json:"openingName,omitempty"`
	OpeningFEN         string `json:"openingFen,omitempty"`
	PrivateCode        string `json:"privateCode,omitempty"`
	Unrated            bool   `json:"isUnrated"`
}

// LobbyStatus is the lifecycle of a LobbyRoom (§3).
type LobbyStatus string

const (
	LobbyWaiting   LobbyStatus = "waiting"
	LobbyMatched   LobbyStatus = "matched"
	LobbyCancelled LobbyStatus = "cancelled"
)

// PlayerDescriptor is the minimal identity carried on lobby/queue
// messages before a GameRoom session exists.
type PlayerDescriptor struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Rating      int    `json:"rating"`
	Provisional bool   `json:"isProvisional"`
}

// LobbyState is the durable record of one LobbyRoom (§3).
type LobbyState struct {
	LobbyID       string            `json:"lobbyId"`
	Creator       PlayerDescriptor  `json:"creator"`
	Opponent      *PlayerDescriptor `json:"opponent,omitempty"`
	Settings      LobbySettings     `json:"settings"`
	Status        LobbyStatus       `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	GameRoomID    string            `json:"gameRoomId,omitempty"`
	ConnectionURL string            `json:"connectionUrl,omitempty"`
}

// QueueEntry is one waiting player in the Matchmaker (§3).
type QueueEntry struct {
	PlayerID    string    `json:"playerId"`
	DisplayName string    `json:"displayName"`
	Rating      int       `json:"rating"`
	Provisional bool      `json:"isProvisional"`
	Mode        GameMode  `json:"gameMode"`
	JoinedAt    time.Time `json:"joinedAt"`
	MinRating   int       `json:"minRating"`
	MaxRating   int       `json:"maxRating"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Origin      string    `json:"origin,omitempty"`
}

// PendingMatch is the undelivered half of a pairing (§3), consumed by
// that player's next join call or garbage-collected on expiry.
type PendingMatch struct {
	PlayerID      string    `json:"playerId"`
	GameRoomID    string    `json:"gameRoomId"`
	Color         PlayerColor `json:"color"`
	ConnectionURL string    `json:"connectionUrl"`
	OpponentID    string    `json:"opponentId"`
	Opponent      PlayerDescriptor `json:"opponent"`
	Mode          GameMode  `json:"gameMode"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

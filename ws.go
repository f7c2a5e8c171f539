package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn is a single participant's streaming connection (§6). Outbound
// frames are queued on send and flushed by writePump; the connection
// handle lives only inside the owning actor's event loop and is
// cleared on close, matching the cyclic-reference guidance of §9.
type wsConn struct {
	conn *websocket.Conn
	send chan any
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan any, 32),
	}
}

// deliver is a non-blocking send: a slow or dead client must never
// stall the owning actor's single-threaded event loop.
func (c *wsConn) deliver(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *wsConn) closeWithCode(code int, text string) {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(2*time.Second),
	)
	_ = c.conn.Close()
}

// clientFrame is the upstream envelope (§6): ping, pong, move, resign,
// chat, ready, game_end. Unused fields are omitted per message type,
// following the teacher's single-struct ClientMessage convention.
type clientFrame struct {
	Type      string `json:"type"`
	UCI       string `json:"uci,omitempty"`
	FEN       string `json:"fen,omitempty"`
	SAN       string `json:"san,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Message   string `json:"message,omitempty"`
	Result    string `json:"result,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Downstream frame payloads (§6). Each carries its own "type"
// discriminant so the client can dispatch without a schema registry.

type readyFrame struct {
	Type        string         `json:"type"`
	Self        PlayerSession  `json:"self"`
	Opponent    *PlayerSession `json:"opponent,omitempty"`
	GameState   GameState      `json:"gameState"`
	Clock       Clock          `json:"clock"`
	Status      GameStatus     `json:"status"`
	Mode        GameMode       `json:"gameMode"`
	StateVersion uint64        `json:"stateVersion"`
}

type moveFrame struct {
	Type         string      `json:"type"`
	Record       MoveRecord  `json:"record"`
	GameState    GameState   `json:"gameState"`
	Clock        Clock       `json:"clock"`
	StateVersion uint64      `json:"stateVersion"`
}

type clockUpdateFrame struct {
	Type         string `json:"type"`
	Clock        Clock  `json:"clock"`
	StateVersion uint64 `json:"stateVersion"`
}

type opponentStatusFrame struct {
	Type               string `json:"type"`
	Connected          bool   `json:"connected"`
	ReconnectTimeoutMs int64  `json:"reconnectTimeoutMs,omitempty"`
}

type ackFrame struct {
	Type         string `json:"type"`
	MessageID    string `json:"messageId"`
	StateVersion uint64 `json:"stateVersion"`
}

type resignFrame struct {
	Type       string      `json:"type"`
	ResignedBy PlayerColor `json:"resignedBy"`
	Outcome    GameResult  `json:"outcome"`
}

type chatFrame struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Message string `json:"message"`
}

type simpleFrame struct {
	Type string `json:"type"`
}

type waitingFrame struct {
	Type string `json:"type"`
}

type spectatorCountFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type spectatorStateFrame struct {
	Type      string    `json:"type"`
	GameState GameState `json:"gameState"`
	Clock     Clock     `json:"clock"`
	Status    GameStatus `json:"status"`
}

type gameStartFrame struct {
	Type   string `json:"type"`
	Status GameStatus `json:"status"`
}

type gameEndedFrame struct {
	Type         string                           `json:"type"`
	Result       GameResult                       `json:"result"`
	Reason       ResultReason                     `json:"reason"`
	ELOChanges   map[PlayerColor]ELORatingChange  `json:"eloChanges"`
	MatchHistory MatchHistoryData                 `json:"matchHistory"`
}

type systemFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorFrame struct {
	Type    string    `json:"type"`
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// Lobby-specific downstream frames (§4.2).

type opponentJoinedFrame struct {
	Type     string           `json:"type"`
	Opponent PlayerDescriptor `json:"opponent"`
}

type matchReadyFrame struct {
	Type          string           `json:"type"`
	GameRoomID    string           `json:"gameRoomId"`
	ConnectionURL string           `json:"connectionUrl"`
	Color         PlayerColor      `json:"color"`
	Opponent      PlayerDescriptor `json:"opponent"`
}

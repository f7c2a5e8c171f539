package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestGameRoom(t *testing.T) *GameRoom {
	t.Helper()
	cfg := testConfig(t)
	snapshots := testSnapshotStore(t)
	docs := newMemDocumentStore()
	room := newGameRoom("test-game", cfg, snapshots, docs, newLobbyList())
	go room.run()
	t.Cleanup(room.shutdown)
	return room
}

// connectPlayer upgrades a real websocket connection into room on
// behalf of playerID, mirroring handleGameWS's admission + read pump
// wiring, and returns the client side of that connection.
func connectPlayer(t *testing.T, room *GameRoom, playerID string, color PlayerColor, rating int) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		wc := newWSConn(conn)
		result := room.Admit(AdmissionRequest{
			PlayerID: playerID, DisplayName: playerID, Rating: rating, Color: &color, Conn: wc,
		})
		require.True(t, result.ok, result.reason)
		go gameReadPump(room, playerID, wc)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrameType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame.Type
}

func readFrameUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	for i := 0; i < 5; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == wantType {
			return frame
		}
	}
	t.Fatalf("never saw a %q frame", wantType)
	return nil
}

func TestGameRoomStartsOnceBothPlayersConnect(t *testing.T) {
	room := newTestGameRoom(t)
	room.Init(InitRequest{Mode: ModeBlitz})

	white := connectPlayer(t, room, "white-1", ColorWhite, 1500)
	_ = readFrameType(t, white) // ready

	black := connectPlayer(t, room, "black-1", ColorBlack, 1500)
	_ = readFrameType(t, black) // ready

	readFrameUntil(t, white, "game_start")
	readFrameUntil(t, black, "game_start")

	state, ok := room.GetState()
	require.True(t, ok)
	require.Equal(t, StatusPlaying, state.Status)
}

func TestGameRoomMoveRejectsWrongTurn(t *testing.T) {
	room := newTestGameRoom(t)
	room.Init(InitRequest{Mode: ModeBlitz})

	white := connectPlayer(t, room, "white-1", ColorWhite, 1500)
	readFrameUntil(t, white, "ready")
	black := connectPlayer(t, room, "black-1", ColorBlack, 1500)
	readFrameUntil(t, black, "ready")
	readFrameUntil(t, white, "game_start")
	readFrameUntil(t, black, "game_start")

	room.HandleMove(MoveRequestInput{PlayerID: "black-1", UCI: "e7e5"})

	frame := readFrameUntil(t, black, "error")
	require.Equal(t, string(errNotYourTurn), frame["code"])
}

func TestGameRoomMoveRejectsMalformedUCI(t *testing.T) {
	room := newTestGameRoom(t)
	room.Init(InitRequest{Mode: ModeBlitz})

	white := connectPlayer(t, room, "white-1", ColorWhite, 1500)
	readFrameUntil(t, white, "ready")
	black := connectPlayer(t, room, "black-1", ColorBlack, 1500)
	readFrameUntil(t, black, "ready")
	readFrameUntil(t, white, "game_start")
	readFrameUntil(t, black, "game_start")

	room.HandleMove(MoveRequestInput{PlayerID: "white-1", UCI: "e2e"})

	frame := readFrameUntil(t, white, "error")
	require.Equal(t, string(errInvalidMoveFormat), frame["code"])
}

func TestGameRoomValidMoveBroadcastsAndFlipsTurn(t *testing.T) {
	room := newTestGameRoom(t)
	room.Init(InitRequest{Mode: ModeBlitz})

	white := connectPlayer(t, room, "white-1", ColorWhite, 1500)
	readFrameUntil(t, white, "ready")
	black := connectPlayer(t, room, "black-1", ColorBlack, 1500)
	readFrameUntil(t, black, "ready")
	readFrameUntil(t, white, "game_start")
	readFrameUntil(t, black, "game_start")

	room.HandleMove(MoveRequestInput{PlayerID: "white-1", UCI: "e2e4"})

	readFrameUntil(t, white, "move")
	readFrameUntil(t, black, "move")

	state, ok := room.GetState()
	require.True(t, ok)
	require.Equal(t, ColorBlack, state.Clock.CurrentTurn)
}

func TestGameRoomResignationEndsGame(t *testing.T) {
	room := newTestGameRoom(t)
	room.Init(InitRequest{Mode: ModeBlitz})

	white := connectPlayer(t, room, "white-1", ColorWhite, 1500)
	readFrameUntil(t, white, "ready")
	black := connectPlayer(t, room, "black-1", ColorBlack, 1500)
	readFrameUntil(t, black, "ready")
	readFrameUntil(t, white, "game_start")
	readFrameUntil(t, black, "game_start")

	room.HandleResign("white-1")

	frame := readFrameUntil(t, black, "game_ended")
	require.Equal(t, string(ResultBlackWin), frame["result"])
	require.Equal(t, string(ReasonResignation), frame["reason"])

	state, ok := room.GetState()
	require.True(t, ok)
	require.Equal(t, StatusFinished, state.Status)
}

func TestGameRoomEndGameIsIdempotent(t *testing.T) {
	room := newTestGameRoom(t)
	room.Init(InitRequest{Mode: ModeBlitz})
	white := connectPlayer(t, room, "white-1", ColorWhite, 1500)
	readFrameUntil(t, white, "ready")
	black := connectPlayer(t, room, "black-1", ColorBlack, 1500)
	readFrameUntil(t, black, "ready")
	readFrameUntil(t, white, "game_start")
	readFrameUntil(t, black, "game_start")

	room.HandleResign("white-1")
	readFrameUntil(t, black, "game_ended")

	// A second terminal event after the game already ended must be a
	// no-op (§4.1 "endGame" idempotence), not a second settlement.
	room.HandleResign("black-1")

	state, ok := room.GetState()
	require.True(t, ok)
	require.Equal(t, ResultBlackWin, state.GameState.Result)
}

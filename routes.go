package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// registerGameServer wires every RPC and streaming endpoint of §6 onto
// mux, following the teacher's one-function-per-surface registration
// style (html.go's registerHome).
func registerGameServer(app *App, mux *httprouter.Router) {
	prefix := app.cfg.prefix

	mux.POST(prefix+"/games/:id/init", handleGameInit(app))
	mux.GET(prefix+"/games/:id/state", handleGameState(app))
	mux.GET(prefix+"/ws", handleGameWS(app))

	mux.POST(prefix+"/lobbies", handleLobbyInit(app))
	mux.GET(prefix+"/lobbies", handleLobbyList(app))
	mux.GET(prefix+"/lobbies/code/:code", handleLobbyByCode(app))
	mux.GET(prefix+"/lobbies/:id", handleLobbyState(app))
	mux.POST(prefix+"/lobbies/:id/join", handleLobbyJoin(app))
	mux.POST(prefix+"/lobbies/:id/cancel", handleLobbyCancel(app))
	mux.GET(prefix+"/lobbies/:id/ws", handleLobbyWS(app))
	mux.GET(prefix+"/lobbies/:id/qr", handleLobbyQR(app))
	mux.POST(prefix+"/lobbies/:id/spectators", handleLobbySpectatorJoin(app))
	mux.DELETE(prefix+"/lobbies/:id/spectators", handleLobbySpectatorLeave(app))
	mux.POST(prefix+"/lobbies/cleanup", handleLobbyCleanup(app))

	mux.POST(prefix+"/queue/join", handleQueueJoin(app))
	mux.GET(prefix+"/queue/status", handleQueueStatus(app))
	mux.POST(prefix+"/queue/leave", handleQueueLeave(app))
	mux.GET(prefix+"/queue/info", handleQueueInfo(app))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- GameRoom RPC + streaming ---

func handleGameState(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		room, ok := app.games.Get(p.ByName("id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "game not found")
			return
		}
		state, ok := room.GetState()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "game not found")
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func handleGameInit(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req InitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if !req.Mode.valid() {
			writeJSONError(w, http.StatusBadRequest, "invalid game mode")
			return
		}
		room := app.games.GetOrCreate(p.ByName("id"))
		room.Init(req)
		state, _ := room.GetState()
		writeJSON(w, http.StatusCreated, state)
	}
}

func handleGameWS(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		q := r.URL.Query()
		gameID := q.Get("gameId")
		if gameID == "" {
			writeJSONError(w, http.StatusBadRequest, "missing gameId")
			return
		}
		room := app.games.GetOrCreate(gameID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		playerID := q.Get("playerId")
		var colorPtr *PlayerColor
		if c := q.Get("color"); c != "" {
			color := PlayerColor(c)
			colorPtr = &color
		}
		rating, _ := strconv.Atoi(q.Get("rating"))
		provisional := q.Get("provisional") == "true"

		wc := newWSConn(conn)
		result := room.Admit(AdmissionRequest{
			PlayerID: playerID, DisplayName: q.Get("displayName"), Rating: rating,
			Provisional: provisional, Color: colorPtr, Mode: q.Get("mode"), Conn: wc,
		})
		if !result.ok {
			wc.closeWithCode(int(result.closeCode), result.reason)
			return
		}

		go gameReadPump(room, playerID, wc)
	}
}

func gameReadPump(room *GameRoom, playerID string, wc *wsConn) {
	defer room.HandleDisconnect(playerID)
	for {
		var frame clientFrame
		if err := wc.conn.ReadJSON(&frame); err != nil {
			return
		}
		room.TouchLastSeen(playerID)
		switch frame.Type {
		case "move":
			room.HandleMove(MoveRequestInput{
				PlayerID: playerID, UCI: frame.UCI, FENAfter: frame.FEN,
				SAN: frame.SAN, MessageID: frame.MessageID,
			})
		case "resign":
			room.HandleResign(playerID)
		case "chat":
			room.HandleChat(playerID, frame.Message)
		case "game_end":
			room.HandleGameEndRequest(GameEndInput{
				PlayerID: playerID, Result: GameResult(frame.Result),
				Reason: ResultReason(frame.Reason), FinalFEN: frame.FEN,
			})
		}
	}
}

// --- LobbyRoom RPC + streaming ---

type lobbyInitBody struct {
	Creator  PlayerDescriptor `json:"creator"`
	Settings LobbySettings    `json:"settings"`
}

func handleLobbyInit(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var body lobbyInitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if !body.Settings.Mode.valid() {
			writeJSONError(w, http.StatusBadRequest, "invalid game mode")
			return
		}
		id := newLobbyID()
		room := app.lobbies.Create(id)
		room.Init(LobbyInitRequest{Creator: body.Creator, Settings: body.Settings})
		writeJSON(w, http.StatusCreated, map[string]string{"lobbyId": id})
	}
}

func handleLobbyState(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		room, ok := app.lobbies.Get(p.ByName("id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "lobby not found")
			return
		}
		state, ok := room.GetState()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "lobby not found")
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func handleLobbyJoin(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		room, ok := app.lobbies.Get(p.ByName("id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "lobby not found")
			return
		}
		var opponent PlayerDescriptor
		if err := json.NewDecoder(r.Body).Decode(&opponent); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		result := room.Join(opponent)
		if !result.OK {
			writeJSONError(w, http.StatusConflict, result.Reason)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleLobbyCancel(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		room, ok := app.lobbies.Get(p.ByName("id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "lobby not found")
			return
		}
		var body struct {
			PlayerID string `json:"playerId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !room.Cancel(body.PlayerID) {
			writeJSONError(w, http.StatusConflict, "lobby cannot be cancelled")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleLobbyWS(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		room, ok := app.lobbies.Get(p.ByName("id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "lobby not found")
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		wc := newWSConn(conn)
		if !room.Attach(wc) {
			wc.closeWithCode(int(closePolicyError), "lobby no longer exists")
			return
		}
		go lobbyReadPump(wc)
	}
}

func lobbyReadPump(wc *wsConn) {
	defer wc.conn.Close()
	for {
		var frame clientFrame
		if err := wc.conn.ReadJSON(&frame); err != nil {
			return
		}
	}
}

func handleLobbyQR(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		listing, ok := app.lobbyList.Get(p.ByName("id"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "lobby not found")
			return
		}
		url := app.cfg.scheme() + "://" + r.Host + app.cfg.prefix + "/lobbies/" + listing.LobbyID
		png, err := qrcode.Encode(url, qrcode.Medium, 256)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "could not render qr code")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func handleLobbyList(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		q := r.URL.Query()
		status := LobbyStatus(q.Get("status"))
		includePrivate := q.Get("includePrivate") == "true"
		writeJSON(w, http.StatusOK, app.lobbyList.List(status, includePrivate))
	}
}

func handleLobbyByCode(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		listing, ok := app.lobbyList.GetByCode(p.ByName("code"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no lobby with that code")
			return
		}
		writeJSON(w, http.StatusOK, listing)
	}
}

func handleLobbySpectatorJoin(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		app.lobbyList.AddSpectator(p.ByName("id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleLobbySpectatorLeave(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		app.lobbyList.RemoveSpectator(p.ByName("id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleLobbyCleanup(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		maxAgeMs, _ := strconv.ParseInt(r.URL.Query().Get("maxAgeMs"), 10, 64)
		if maxAgeMs <= 0 {
			maxAgeMs = int64(app.cfg.lobbyTimeout.Milliseconds())
		}
		removed := app.lobbyList.Cleanup(msToDuration(maxAgeMs))
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

// --- Matchmaker RPC ---

func handleQueueJoin(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var body JoinQueueRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if !body.Mode.valid() {
			writeJSONError(w, http.StatusBadRequest, "invalid game mode")
			return
		}
		writeJSON(w, http.StatusOK, app.matchmaker.Join(body))
	}
}

func handleQueueStatus(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		playerID := r.URL.Query().Get("playerId")
		writeJSON(w, http.StatusOK, app.matchmaker.Status(playerID))
	}
}

func handleQueueLeave(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var body struct {
			PlayerID string `json:"playerId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		app.matchmaker.Leave(body.PlayerID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleQueueInfo(app *App) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		writeJSON(w, http.StatusOK, app.matchmaker.Info())
	}
}

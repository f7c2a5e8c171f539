package main

import (
	"sync"
	"time"
)

// GameManager is the process-wide registry of live GameRoom actors,
// generalizing the teacher's GameManager/getHub/reaperLoop (celebrity.go)
// from one map keyed by celebrity-game id to one keyed by chess game id.
type GameManager struct {
	cfg       *Config
	snapshots *snapshotStore
	docs      DocumentStore
	lobbyList *LobbyList

	mu    sync.Mutex
	rooms map[string]*GameRoom
}

func newGameManager(cfg *Config, snapshots *snapshotStore, docs DocumentStore, lobbyList *LobbyList) *GameManager {
	gm := &GameManager{
		cfg:       cfg,
		snapshots: snapshots,
		docs:      docs,
		lobbyList: lobbyList,
		rooms:     make(map[string]*GameRoom),
	}
	go gm.reaperLoop()
	return gm
}

// GetOrCreate returns the room for id, creating and starting it if it
// does not already exist (§4.1: a GameRoom is allocated on pairing, by
// either the Matchmaker or a LobbyRoom's Join).
func (gm *GameManager) GetOrCreate(id string) *GameRoom {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if room, ok := gm.rooms[id]; ok {
		return room
	}
	room := newGameRoom(id, gm.cfg, gm.snapshots, gm.docs, gm.lobbyList)
	gm.rooms[id] = room
	go room.run()
	return room
}

func (gm *GameManager) Get(id string) (*GameRoom, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	room, ok := gm.rooms[id]
	return room, ok
}

// reaperLoop checks once a minute and evicts every room that has
// finished by then; there is no separate idle period after the game
// ends. Frames already queued on a participant's connection, such as
// game_ended, are still flushed by its write pump after shutdown
// (§9 "Scoped resources" / teacher's reaperLoop).
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		gm.reapOnce()
	}
}

func (gm *GameManager) reapOnce() {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	for id, room := range gm.rooms {
		state, ok := room.GetState()
		if !ok {
			delete(gm.rooms, id)
			continue
		}
		if state.Status == StatusFinished {
			room.shutdown()
			delete(gm.rooms, id)
		}
	}
}

package main

import (
	"sync"
	"time"
)

// LobbyManager is the process-wide registry of live LobbyRoom actors,
// mirroring GameManager's structure (§4.2).
type LobbyManager struct {
	cfg       *Config
	snapshots *snapshotStore
	lobbyList *LobbyList
	games     *GameManager

	mu     sync.Mutex
	lobbies map[string]*LobbyRoom
}

func newLobbyManager(cfg *Config, snapshots *snapshotStore, lobbyList *LobbyList, games *GameManager) *LobbyManager {
	lm := &LobbyManager{
		cfg:       cfg,
		snapshots: snapshots,
		lobbyList: lobbyList,
		games:     games,
		lobbies:   make(map[string]*LobbyRoom),
	}
	go lm.reaperLoop()
	return lm
}

func (lm *LobbyManager) Create(id string) *LobbyRoom {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	room := newLobbyRoom(id, lm.cfg, lm.snapshots, lm.lobbyList, lm.games)
	lm.lobbies[id] = room
	go room.run()
	return room
}

func (lm *LobbyManager) Get(id string) (*LobbyRoom, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if room, ok := lm.lobbies[id]; ok {
		return room, true
	}

	// Not live yet: probe the snapshot store before reporting not-found,
	// so a lobby evicted from memory (or from a restarted process) can be
	// rehydrated on demand (§5 Durability).
	room := newLobbyRoom(id, lm.cfg, lm.snapshots, lm.lobbyList, lm.games)
	if room.state.LobbyID == "" {
		return nil, false
	}
	lm.lobbies[id] = room
	go room.run()
	return room, true
}

func (lm *LobbyManager) reaperLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		lm.reapOnce()
	}
}

func (lm *LobbyManager) reapOnce() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for id, room := range lm.lobbies {
		state, ok := room.GetState()
		if !ok || state.Status != LobbyWaiting {
			room.shutdown()
			delete(lm.lobbies, id)
		}
	}
}

package main

// App wires together every long-lived collaborator the game server
// needs: the snapshot store, the out-of-scope-but-interfaced document
// store, the shared LobbyList, and the three actor registries.
type App struct {
	cfg       *Config
	snapshots *snapshotStore
	docs      DocumentStore
	lobbyList *LobbyList
	games     *GameManager
	lobbies   *LobbyManager
	matchmaker *Matchmaker
}

func newApp(cfg *Config, snapshots *snapshotStore) *App {
	docs := newMemDocumentStore()
	lobbyList := newLobbyList()
	games := newGameManager(cfg, snapshots, docs, lobbyList)
	lobbies := newLobbyManager(cfg, snapshots, lobbyList, games)
	matchmaker := newMatchmaker(cfg, snapshots, games)
	go matchmaker.run()

	return &App{
		cfg:        cfg,
		snapshots:  snapshots,
		docs:       docs,
		lobbyList:  lobbyList,
		games:      games,
		lobbies:    lobbies,
		matchmaker: matchmaker,
	}
}

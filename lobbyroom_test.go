package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLobbyRoom(t *testing.T) (*LobbyRoom, *GameManager) {
	t.Helper()
	cfg := testConfig(t)
	snapshots := testSnapshotStore(t)
	docs := newMemDocumentStore()
	lobbyList := newLobbyList()
	games := newGameManager(cfg, snapshots, docs, lobbyList)
	room := newLobbyRoom("lobby-1", cfg, snapshots, lobbyList, games)
	go room.run()
	t.Cleanup(room.shutdown)
	return room, games
}

func TestLobbyRoomJoinAllocatesGameRoom(t *testing.T) {
	room, games := newTestLobbyRoom(t)
	room.Init(LobbyInitRequest{
		Creator:  PlayerDescriptor{PlayerID: "creator-1", DisplayName: "Creator", Rating: 1400},
		Settings: LobbySettings{PlayerColor: "white", Mode: ModeRapid},
	})

	result := room.Join(PlayerDescriptor{PlayerID: "opponent-1", DisplayName: "Opponent", Rating: 1450})
	require.True(t, result.OK)
	require.Equal(t, ColorBlack, result.Color)
	require.NotEmpty(t, result.GameRoomID)

	gameRoom, ok := games.Get(result.GameRoomID)
	require.True(t, ok)

	state, ok := gameRoom.GetState()
	require.True(t, ok)
	require.Equal(t, ModeRapid, state.Mode)
	require.Contains(t, state.Players, ColorWhite)
	require.Equal(t, "creator-1", state.Players[ColorWhite].PlayerID)
	require.Equal(t, "opponent-1", state.Players[ColorBlack].PlayerID)
}

func TestLobbyRoomRejectsSecondJoiner(t *testing.T) {
	room, _ := newTestLobbyRoom(t)
	room.Init(LobbyInitRequest{
		Creator:  PlayerDescriptor{PlayerID: "creator-1", Rating: 1400},
		Settings: LobbySettings{PlayerColor: "random", Mode: ModeBlitz},
	})

	first := room.Join(PlayerDescriptor{PlayerID: "opponent-1", Rating: 1400})
	require.True(t, first.OK)

	second := room.Join(PlayerDescriptor{PlayerID: "opponent-2", Rating: 1400})
	require.False(t, second.OK)
}

func TestLobbyRoomCancelOnlyByCreator(t *testing.T) {
	room, _ := newTestLobbyRoom(t)
	room.Init(LobbyInitRequest{
		Creator:  PlayerDescriptor{PlayerID: "creator-1", Rating: 1400},
		Settings: LobbySettings{PlayerColor: "white", Mode: ModeBlitz},
	})

	require.False(t, room.Cancel("someone-else"))
	require.True(t, room.Cancel("creator-1"))

	state, ok := room.GetState()
	require.True(t, ok)
	require.Equal(t, LobbyCancelled, state.Status)
}

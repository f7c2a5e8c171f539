package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		spectatorCap:      50,
		abandonTimeout:    60 * time.Second,
		heartbeatInterval: 10 * time.Second,
		heartbeatSilence:  30 * time.Second,
		clockTickInterval: 100 * time.Millisecond,
		lobbyTimeout:      5 * time.Minute,
		queueTTL:          30 * time.Second,
		pendingMatchTTL:   60 * time.Second,
		matchmakerTick:    20 * time.Millisecond,
	}
}

func testSnapshotStore(t *testing.T) *snapshotStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.sqlite")
	store, err := openSnapshotStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRatingWindowWidensOverTime(t *testing.T) {
	require.Equal(t, 150, ratingWindow(0))
	require.Equal(t, 150, ratingWindow(9))
	require.Equal(t, 200, ratingWindow(15))
	require.Equal(t, 250, ratingWindow(20))
	require.Equal(t, 400, ratingWindow(25))
	require.Equal(t, 600, ratingWindow(30))
	require.Equal(t, 600, ratingWindow(1000), "window is capped at 600")
}

func TestMatchmakerPairsWithinWindow(t *testing.T) {
	cfg := testConfig(t)
	snapshots := testSnapshotStore(t)
	docs := newMemDocumentStore()
	lobbyList := newLobbyList()
	games := newGameManager(cfg, snapshots, docs, lobbyList)
	mm := newMatchmaker(cfg, snapshots, games)
	go mm.run()

	a := mm.Join(JoinQueueRequest{Player: PlayerDescriptor{PlayerID: "alice", Rating: 1500}, Mode: ModeBlitz})
	require.Equal(t, "queued", a.Status)

	b := mm.Join(JoinQueueRequest{Player: PlayerDescriptor{PlayerID: "bob", Rating: 1520}, Mode: ModeBlitz})
	require.Equal(t, "matched", b.Status)
	require.NotNil(t, b.Matched)
	require.Equal(t, "alice", b.Matched.OpponentID)

	aliceStatus := mm.Status("alice")
	require.NotNil(t, aliceStatus.Matched)
	require.Equal(t, "bob", aliceStatus.Matched.OpponentID)
	require.NotEqual(t, aliceStatus.Matched.Color, b.Matched.Color)
}

func TestMatchmakerDoesNotPairAcrossModes(t *testing.T) {
	cfg := testConfig(t)
	snapshots := testSnapshotStore(t)
	docs := newMemDocumentStore()
	lobbyList := newLobbyList()
	games := newGameManager(cfg, snapshots, docs, lobbyList)
	mm := newMatchmaker(cfg, snapshots, games)
	go mm.run()

	mm.Join(JoinQueueRequest{Player: PlayerDescriptor{PlayerID: "alice", Rating: 1500}, Mode: ModeBullet})
	result := mm.Join(JoinQueueRequest{Player: PlayerDescriptor{PlayerID: "bob", Rating: 1500}, Mode: ModeBlitz})

	require.Equal(t, "queued", result.Status)
}

func TestMatchmakerLeaveRemovesFromQueue(t *testing.T) {
	cfg := testConfig(t)
	snapshots := testSnapshotStore(t)
	docs := newMemDocumentStore()
	lobbyList := newLobbyList()
	games := newGameManager(cfg, snapshots, docs, lobbyList)
	mm := newMatchmaker(cfg, snapshots, games)
	go mm.run()

	mm.Join(JoinQueueRequest{Player: PlayerDescriptor{PlayerID: "alice", Rating: 1500}, Mode: ModeRapid})
	mm.Leave("alice")

	status := mm.Status("alice")
	require.False(t, status.InQueue)
	require.Nil(t, status.Matched)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEloExpectedSymmetry(t *testing.T) {
	a := eloExpected(1500, 1500)
	assert.InDelta(t, 0.5, a, 0.001)

	favored := eloExpected(1700, 1500)
	underdog := eloExpected(1500, 1700)
	assert.InDelta(t, 1.0, favored+underdog, 0.001)
	assert.Greater(t, favored, underdog)
}

func TestEloKFactor(t *testing.T) {
	assert.Equal(t, 40, eloKFactor(true))
	assert.Equal(t, 20, eloKFactor(false))
}

func TestComputeEloChangesRankedWin(t *testing.T) {
	white := PlayerSession{PlayerID: "w1", Rating: 1500, Provisional: false}
	black := PlayerSession{PlayerID: "b1", Rating: 1500, Provisional: false}

	changes := computeELOChanges(white, black, ResultWhiteWin, false, 30, -1, -1)

	require.Contains(t, changes, ColorWhite)
	require.Contains(t, changes, ColorBlack)
	assert.Greater(t, changes[ColorWhite].Change, 0)
	assert.Less(t, changes[ColorBlack].Change, 0)
	assert.Equal(t, white.Rating+changes[ColorWhite].Change, changes[ColorWhite].NewRating)
}

func TestComputeEloChangesUnratedIsNoOp(t *testing.T) {
	white := PlayerSession{PlayerID: "w1", Rating: 1500}
	black := PlayerSession{PlayerID: "b1", Rating: 1500}

	changes := computeELOChanges(white, black, ResultWhiteWin, true, 30, -1, -1)

	assert.Equal(t, 0, changes[ColorWhite].Change)
	assert.Equal(t, 0, changes[ColorBlack].Change)
	assert.Equal(t, white.Rating, changes[ColorWhite].NewRating)
}

func TestComputeEloChangesProvisionalFlagClearsOnGamesPlayed(t *testing.T) {
	white := PlayerSession{PlayerID: "w1", Rating: 1200, Provisional: true}
	black := PlayerSession{PlayerID: "b1", Rating: 1200, Provisional: true}

	changes := computeELOChanges(white, black, ResultDraw, false, 40, 19, 5)

	assert.False(t, changes[ColorWhite].NewProvisional, "20th game clears the provisional flag")
	assert.True(t, changes[ColorBlack].NewProvisional)
}

func TestComputeEloChangesDraw(t *testing.T) {
	white := PlayerSession{PlayerID: "w1", Rating: 1600, Provisional: false}
	black := PlayerSession{PlayerID: "b1", Rating: 1400, Provisional: false}

	changes := computeELOChanges(white, black, ResultDraw, false, 30, -1, -1)

	assert.Less(t, changes[ColorWhite].Change, 0, "higher-rated side loses points on a draw")
	assert.Greater(t, changes[ColorBlack].Change, 0)
}

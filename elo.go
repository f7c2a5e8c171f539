package main

import "math"

// eloKFactor returns 40 for a provisional player, 20 otherwise (§4.1.1).
func eloKFactor(provisional bool) int {
	if provisional {
		return 40
	}
	return 20
}

// eloExpected is the expected score of a player rated `rating` against
// an opponent rated `opponentRating` (§4.1.1).
func eloExpected(rating, opponentRating int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponentRating-rating)/400))
}

// eloActualScore converts a GameResult into the actual score for the
// named color: win = 1, draw = 0.5, loss = 0.
func eloActualScore(result GameResult, color PlayerColor) float64 {
	switch {
	case result == ResultDraw:
		return 0.5
	case result == ResultWhiteWin && color == ColorWhite:
		return 1
	case result == ResultBlackWin && color == ColorBlack:
		return 1
	default:
		return 0
	}
}

// eloChange computes round(K * (actual - expected)) for one side.
func eloChange(rating, opponentRating int, provisional bool, result GameResult, color PlayerColor) int {
	k := eloKFactor(provisional)
	expected := eloExpected(rating, opponentRating)
	actual := eloActualScore(result, color)
	return int(math.Round(float64(k) * (actual - expected)))
}

// computeELOChanges computes both sides' deltas for a finished game.
// For unrated matches both changes are zero (§4.1 step 5). gamesPlayed,
// when >= 0, is the external store's authoritative games-played count
// used in place of the move-count proxy (§9 Open Question / SPEC_FULL
// "Provisional-rating note"); pass -1 to fall back to the proxy.
func computeELOChanges(
	white, black PlayerSession,
	result GameResult,
	isUnrated bool,
	moveCount int,
	whiteGamesPlayed, blackGamesPlayed int,
) map[PlayerColor]ELORatingChange {
	changes := map[PlayerColor]ELORatingChange{}

	newProvisional := func(wasProvisional bool, gamesPlayed int) bool {
		if gamesPlayed >= 0 {
			return gamesPlayed+1 < 20
		}
		return wasProvisional && moveCount < 20
	}

	if isUnrated {
		changes[ColorWhite] = ELORatingChange{
			PlayerID: white.PlayerID, OldRating: white.Rating, NewRating: white.Rating,
			Change: 0, OldProvisional: white.Provisional,
			NewProvisional: newProvisional(white.Provisional, whiteGamesPlayed),
		}
		changes[ColorBlack] = ELORatingChange{
			PlayerID: black.PlayerID, OldRating: black.Rating, NewRating: black.Rating,
			Change: 0, OldProvisional: black.Provisional,
			NewProvisional: newProvisional(black.Provisional, blackGamesPlayed),
		}
		return changes
	}

	whiteChange := eloChange(white.Rating, black.Rating, white.Provisional, result, ColorWhite)
	blackChange := eloChange(black.Rating, white.Rating, black.Provisional, result, ColorBlack)

	changes[ColorWhite] = ELORatingChange{
		PlayerID:       white.PlayerID,
		OldRating:      white.Rating,
		NewRating:      white.Rating + whiteChange,
		Change:         whiteChange,
		OldProvisional: white.Provisional,
		NewProvisional: newProvisional(white.Provisional, whiteGamesPlayed),
	}
	changes[ColorBlack] = ELORatingChange{
		PlayerID:       black.PlayerID,
		OldRating:      black.Rating,
		NewRating:      black.Rating + blackChange,
		Change:         blackChange,
		OldProvisional: black.Provisional,
		NewProvisional: newProvisional(black.Provisional, blackGamesPlayed),
	}
	return changes
}

package game

import (
	"cmp"
	"slices"

	"github.com/scythe504/whosetrack-backend/internal"
)

const (
	PointsCorrectGuess   = 3
	PointsIncorrectGuess = -1
)

type scoreEntry struct {
	playerID string
	score    int
}

// rankScores orders by score descending, then player id, so ties are
// detected the same way every time.
func rankScores(scores map[string]int) []scoreEntry {
	ranked := make([]scoreEntry, 0, len(scores))
	for id, s := range scores {
		ranked = append(ranked, scoreEntry{playerID: id, score: s})
	}
	slices.SortFunc(ranked, func(a, b scoreEntry) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.playerID, b.playerID)
	})
	return ranked
}

// CheckWinner returns the sole leader if their score reaches threshold.
// A tie at the top defers the win. A threshold of zero or less never
// produces a winner.
func CheckWinner(scores map[string]int, threshold int) (string, bool) {
	if threshold <= 0 || len(scores) == 0 {
		return "", false
	}
	ranked := rankScores(scores)
	top := ranked[0]
	if top.score < threshold {
		return "", false
	}
	if len(ranked) > 1 && ranked[1].score == top.score {
		return "", false
	}
	return top.playerID, true
}

// TallyVotes scores every vote against the set of players who own the
// item. names resolves target ids for display; before holds totals going
// into the round.
func TallyVotes(votes map[string][]string, owners map[string]struct{}, before map[string]int, names func(string) string) map[string]internal.PlayerRoundResult {
	out := make(map[string]internal.PlayerRoundResult, len(votes))
	for voter, targets := range votes {
		res := internal.PlayerRoundResult{Guesses: make([]internal.Guess, 0, len(targets))}
		for _, target := range targets {
			_, correct := owners[target]
			if correct {
				res.ScoreDelta += PointsCorrectGuess
			} else {
				res.ScoreDelta += PointsIncorrectGuess
			}
			res.Guesses = append(res.Guesses, internal.Guess{
				TargetPlayerID: target,
				TargetName:     names(target),
				WasCorrect:     correct,
			})
		}
		res.TotalScore = before[voter] + res.ScoreDelta
		out[voter] = res
	}
	return out
}

// CalculateFinalStandings ranks every known player for the end screen.
func CalculateFinalStandings(sessionID string, players []*internal.PlayerSession, winnerID string, rounds int) internal.FinalStandings {
	standings := make([]internal.Standing, 0, len(players))
	for _, p := range players {
		standings = append(standings, internal.Standing{
			PlayerID:    p.PlayerID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		})
	}

	slices.SortFunc(standings, func(a, b internal.Standing) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})
	for idx := range standings {
		standings[idx].Position = idx + 1
	}

	return internal.FinalStandings{
		SessionID:    sessionID,
		WinnerID:     winnerID,
		Standings:    standings,
		RoundsPlayed: rounds,
	}
}

package game

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scythe504/whosetrack-backend/internal"
)

func TestCheckWinner(t *testing.T) {
	tests := []struct {
		name      string
		scores    map[string]int
		threshold int
		want      string
	}{
		{name: "tie at threshold", scores: map[string]int{"A": 30, "B": 30}, threshold: 30},
		{name: "clear leader", scores: map[string]int{"A": 31, "B": 20}, threshold: 30, want: "A"},
		{name: "below threshold", scores: map[string]int{"A": 29}, threshold: 30},
		{name: "leader above tied pair", scores: map[string]int{"A": 40, "B": 40, "C": 50}, threshold: 30, want: "C"},
		{name: "tie above threshold", scores: map[string]int{"A": 45, "B": 45, "C": 10}, threshold: 30},
		{name: "no threshold", scores: map[string]int{"A": 100}, threshold: 0},
		{name: "no players", scores: map[string]int{}, threshold: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CheckWinner(tt.scores, tt.threshold)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckWinnerIsOrderIndependent(t *testing.T) {
	scores := map[string]int{"p1": 33, "p2": 33, "p3": 33, "p4": 12}
	for i := 0; i < 50; i++ {
		_, ok := CheckWinner(scores, 30)
		assert.False(t, ok)
	}
}

func TestTallyVotes(t *testing.T) {
	owners := map[string]struct{}{"b": {}, "c": {}}
	votes := map[string][]string{
		"a": {"b", "c", "d"},
		"b": {"d"},
		"d": {},
	}
	before := map[string]int{"a": 10, "b": 2, "d": 5}
	names := func(id string) string { return "name-" + id }

	got := TallyVotes(votes, owners, before, names)

	assert.Equal(t, 3*2-1, got["a"].ScoreDelta)
	assert.Equal(t, 15, got["a"].TotalScore)
	assert.Equal(t, -1, got["b"].ScoreDelta)
	assert.Equal(t, 1, got["b"].TotalScore)
	assert.Equal(t, internal.PlayerRoundResult{Guesses: []internal.Guess{}, TotalScore: 5}, got["d"])
	assert.Equal(t, []internal.Guess{
		{TargetPlayerID: "b", TargetName: "name-b", WasCorrect: true},
		{TargetPlayerID: "c", TargetName: "name-c", WasCorrect: true},
		{TargetPlayerID: "d", TargetName: "name-d", WasCorrect: false},
	}, got["a"].Guesses)
}

func TestCalculateFinalStandings(t *testing.T) {
	players := []*internal.PlayerSession{
		{PlayerID: "z", DisplayName: "Zed", Score: 7},
		{PlayerID: "m", DisplayName: "Em", Score: 12},
		{PlayerID: "b", DisplayName: "Bee", Score: 7},
	}
	final := CalculateFinalStandings("S1", players, "m", 4)

	assert.Equal(t, "m", final.WinnerID)
	assert.Equal(t, 4, final.RoundsPlayed)
	assert.Equal(t, []internal.Standing{
		{PlayerID: "m", DisplayName: "Em", Score: 12, Position: 1},
		{PlayerID: "b", DisplayName: "Bee", Score: 7, Position: 2},
		{PlayerID: "z", DisplayName: "Zed", Score: 7, Position: 3},
	}, final.Standings)
}

package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/whosetrack-backend/internal"
)

func TestConnectionsSessionFull(t *testing.T) {
	c := NewConnections("S", 2)
	for _, id := range []string{"a", "b"} {
		_, err := c.Connect(ConnectRequest{ClientID: clientID(id), PlayerID: id}, internal.StateLoadingRoster)
		require.NoError(t, err)
	}

	_, err := c.Connect(ConnectRequest{ClientID: clientID("c"), PlayerID: "c"}, internal.StateLoadingRoster)
	assert.ErrorIs(t, err, ErrSessionFull)

	// A known player coming back is not a new seat.
	c.MarkStarted()
	_, err = c.Disconnect(clientID("b"))
	require.NoError(t, err)
	res, err := c.Connect(ConnectRequest{ClientID: "b-again", PlayerID: "b"}, internal.StateGuessing)
	require.NoError(t, err)
	assert.True(t, res.IsReconnect)
	assert.True(t, c.InRoster("b"))
}

func TestConnectionsClientAlreadyBound(t *testing.T) {
	c := NewConnections("S", 0)
	_, err := c.Connect(ConnectRequest{ClientID: "x", PlayerID: "a"}, internal.StateLoadingRoster)
	require.NoError(t, err)

	_, err = c.Connect(ConnectRequest{ClientID: "x", PlayerID: "b"}, internal.StateLoadingRoster)
	assert.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestConnectionsQueueAndPromote(t *testing.T) {
	c := NewConnections("S", 0)
	_, err := c.Connect(ConnectRequest{ClientID: clientID("a"), PlayerID: "a"}, internal.StateLoadingRoster)
	require.NoError(t, err)
	c.MarkStarted()

	for _, id := range []string{"b", "c"} {
		res, err := c.Connect(ConnectRequest{ClientID: clientID(id), PlayerID: id}, internal.StateWaitingToAdvance)
		require.NoError(t, err)
		assert.True(t, res.Queued)
	}
	assert.Equal(t, []string{"b", "c"}, c.Waiting())
	assert.Equal(t, 1, c.RosterSize())

	// c gives up before the boundary and is not promoted.
	_, err = c.Disconnect(clientID("c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, c.PromoteWaitingPlayers())
	assert.Empty(t, c.Waiting())
	assert.Equal(t, 2, c.RosterSize())
}

func TestConnectionsFreezeAndPurge(t *testing.T) {
	c := NewConnections("S", 0)
	for _, id := range []string{"a", "b", "c"} {
		_, err := c.Connect(ConnectRequest{ClientID: clientID(id), PlayerID: id}, internal.StateLoadingRoster)
		require.NoError(t, err)
	}
	c.MarkStarted()
	_, err := c.Disconnect(clientID("b"))
	require.NoError(t, err)

	c.FreezeParticipation()
	assert.True(t, c.Player("a").ParticipatingThisRound)
	assert.False(t, c.Player("b").ParticipatingThisRound)
	assert.Equal(t, 2, c.ConnectedCount())

	c.players["a"].Score = 9
	c.ResetScores()
	assert.Zero(t, c.Player("a").Score)

	assert.Equal(t, []string{"b"}, c.PurgeDisconnected())
	assert.Len(t, c.Players(), 2)
	assert.Equal(t, "a", c.Players()[0].PlayerID)
}

package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lobbylink/protocol"
)

func TestDirectory(t *testing.T) {
	d := NewDirectory()

	require.False(t, d.Upsert("b", protocol.Vec2{X: 1, Y: 1}))
	require.False(t, d.Upsert("a", protocol.Vec2{X: 2, Y: 2}))
	require.True(t, d.Upsert("b", protocol.Vec2{X: 3, Y: 3}))
	require.Equal(t, 2, d.Len())

	b, ok := d.Get("b")
	require.True(t, ok)
	require.Equal(t, protocol.Vec2{X: 3, Y: 3}, b.Pos)

	snap := d.Snapshot()
	require.Equal(t, []RemotePlayer{
		{ID: "a", Pos: protocol.Vec2{X: 2, Y: 2}},
		{ID: "b", Pos: protocol.Vec2{X: 3, Y: 3}},
	}, snap)

	// 修改副本不影响目录
	snap[0].Pos.X = 99
	a, _ := d.Get("a")
	require.InDelta(t, 2.0, a.Pos.X, 1e-9)

	require.True(t, d.Remove("a"))
	require.False(t, d.Remove("a"))
	_, ok = d.Get("a")
	require.False(t, ok)

	d.Reset()
	require.Zero(t, d.Len())
	require.Empty(t, d.Snapshot())
}

package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/gridbattle/internal/grid"
)

// duel sets up alice with a home at (2,1) and a warrior at (2,2), and bobby
// with a home at (3,4) and a warrior at (2,3).
func duel(t *testing.T, opts Options) (e *Engine, sink *recordingSink, ta, tb *Turn, aw, bw PieceState) {
	t.Helper()
	e, sink = newTestEngine(t, opts)
	ctx := context.Background()
	a := mustJoin(t, e, "alice")
	b := mustJoin(t, e, "bobby")
	e.OpenRound()
	ta, tb = mustTurn(t, e, a), mustTurn(t, e, b)

	_, err := ta.Build(ctx, KindHome, grid.Coord{X: 2, Y: 1})
	require.NoError(t, err)
	aw, err = ta.Build(ctx, KindWarrior, grid.Coord{X: 2, Y: 2})
	require.NoError(t, err)
	_, err = tb.Build(ctx, KindHome, grid.Coord{X: 3, Y: 4})
	require.NoError(t, err)
	bw, err = tb.Build(ctx, KindWarrior, grid.Coord{X: 2, Y: 4})
	require.NoError(t, err)
	_, err = tb.Move(ctx, bw.ID, 0, -1)
	require.NoError(t, err)
	return e, sink, ta, tb, aw, bw
}

func healthOf(t *testing.T, e *Engine, id string) int {
	t.Helper()
	pc, ok := e.Piece(id)
	require.True(t, ok)
	return pc.Health()
}

func TestMoveValidation(t *testing.T) {
	e, _, ta, tb, aw, bw := duel(t, testOptions())
	ctx := context.Background()

	cases := []struct {
		name   string
		turn   *Turn
		id     string
		dx, dy int
		want   error
	}{
		{"diagonal", ta, aw.ID, 1, 1, ErrBadMove},
		{"two tiles", ta, aw.ID, 2, 0, ErrBadMove},
		{"two tiles vertical", ta, aw.ID, 0, -2, ErrBadMove},
		{"no-op", ta, aw.ID, 0, 0, ErrBadMove},
		{"not mine", ta, bw.ID, 1, 0, ErrNotOwner},
		{"occupied", ta, aw.ID, 0, 1, ErrTileOccupied},
		{"unknown", tb, "missing", 1, 0, ErrUnknownPiece},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.turn.Move(ctx, tc.id, tc.dx, tc.dy)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	home, ok := e.PieceAt(grid.Coord{X: 2, Y: 1})
	require.True(t, ok)
	_, err := ta.Move(ctx, home.ID(), 1, 0)
	assert.ErrorIs(t, err, ErrNotMovable)

	// nothing moved
	pc, _ := e.Piece(aw.ID)
	pos, _ := pc.Position()
	assert.Equal(t, grid.Coord{X: 2, Y: 2}, pos)
}

func TestMoveOffBoard(t *testing.T) {
	e, _ := newTestEngine(t, testOptions())
	ctx := context.Background()
	a := mustJoin(t, e, "alice")
	e.OpenRound()
	ta := mustTurn(t, e, a)
	_, err := ta.Build(ctx, KindHome, grid.Coord{X: 1, Y: 0})
	require.NoError(t, err)
	w, err := ta.Build(ctx, KindWarrior, grid.Coord{X: 0, Y: 0})
	require.NoError(t, err)

	_, err = ta.Move(ctx, w.ID, -1, 0)
	assert.ErrorIs(t, err, ErrInactiveTile)
}

func TestMoveUpdatesGridAndFacing(t *testing.T) {
	e, sink, ta, _, aw, _ := duel(t, testOptions())
	ctx := context.Background()

	st, err := ta.Move(ctx, aw.ID, -1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, st.X)
	assert.Equal(t, 2, st.Y)
	assert.Equal(t, West, st.Direction)

	_, ok := e.PieceAt(grid.Coord{X: 2, Y: 2})
	assert.False(t, ok)
	pc, ok := e.PieceAt(grid.Coord{X: 1, Y: 2})
	require.True(t, ok)
	assert.Equal(t, aw.ID, pc.ID())

	moves := sink.ofType(EventMovePiece)
	last := moves[len(moves)-1].ev.Payload.(MovePayload)
	assert.Equal(t, grid.Coord{X: 2, Y: 2}, last.From)
	assert.Equal(t, grid.Coord{X: 1, Y: 2}, last.To)

	st, err = ta.Move(ctx, aw.ID, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, South, st.Direction)
	st, err = ta.Move(ctx, aw.ID, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, North, st.Direction)
	st, err = ta.Move(ctx, aw.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, East, st.Direction)
}

func TestAttackAdjacent(t *testing.T) {
	e, sink, ta, _, aw, bw := duel(t, testOptions())

	landed, err := ta.Attack(context.Background(), aw.ID, bw.ID, 10)
	require.NoError(t, err)
	assert.True(t, landed)
	assert.Equal(t, 90, healthOf(t, e, bw.ID))
	assert.NotEmpty(t, sink.ofType(EventUpdatePiece))

	// damage is capped at attack power
	_, err = ta.Attack(context.Background(), aw.ID, bw.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, 80, healthOf(t, e, bw.ID))
}

func TestAttackDiagonalIsWasted(t *testing.T) {
	opts := testOptions()
	opts.WastePenalty = 15 * time.Millisecond
	e, sink, ta, tb, aw, bw := duel(t, opts)
	ctx := context.Background()

	// bobby's warrior steps to (3,3), diagonal to alice's warrior
	_, err := tb.Move(ctx, bw.ID, 1, 0)
	require.NoError(t, err)

	start := time.Now()
	landed, err := ta.Attack(ctx, aw.ID, bw.ID, 10)
	require.NoError(t, err)
	assert.False(t, landed)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, 100, healthOf(t, e, bw.ID))

	logs := sink.ofType(EventLog)
	require.NotEmpty(t, logs)
	msg := logs[len(logs)-1].ev.Payload.(LogPayload)
	assert.Contains(t, msg.Message, "wasted")
}

func TestHomeCannotAttack(t *testing.T) {
	e, sink, ta, _, _, _ := duel(t, testOptions())
	home, _ := e.PieceAt(grid.Coord{X: 2, Y: 1})
	other, _ := e.PieceAt(grid.Coord{X: 2, Y: 2})

	landed, err := ta.Attack(context.Background(), home.ID(), other.ID(), 10)
	require.NoError(t, err)
	assert.False(t, landed)
	assert.NotEmpty(t, sink.ofType(EventLog))
}

func TestAttackWithForeignPieceFails(t *testing.T) {
	_, _, ta, _, aw, bw := duel(t, testOptions())
	_, err := ta.Attack(context.Background(), bw.ID, aw.ID, 10)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestAttackToZeroRemovesPiece(t *testing.T) {
	e, sink, ta, _, aw, bw := duel(t, testOptions())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		landed, err := ta.Attack(ctx, aw.ID, bw.ID, 10)
		require.NoError(t, err)
		require.True(t, landed)
		if i < 9 {
			assert.Equal(t, 100-10*(i+1), healthOf(t, e, bw.ID))
		}
	}
	_, ok := e.Piece(bw.ID)
	assert.False(t, ok)
	_, ok = e.PieceAt(grid.Coord{X: 2, Y: 3})
	assert.False(t, ok)
	for _, p := range e.State().Pieces {
		assert.Greater(t, p.Health, 0)
	}
	removes := sink.ofType(EventRemovePiece)
	require.Len(t, removes, 1)
	assert.Equal(t, RemovePayload{ID: bw.ID}, removes[0].ev.Payload)

	// the target is gone, so further attacks are wasted
	landed, err := ta.Attack(ctx, aw.ID, bw.ID, 10)
	require.NoError(t, err)
	assert.False(t, landed)
}

func TestSelfHealTimesOutWithPartialProgress(t *testing.T) {
	opts := testOptions()
	opts.StepCost = time.Millisecond
	e, _, ta, _, aw, _ := duel(t, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := ta.Heal(ctx, aw.ID, 1000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h := healthOf(t, e, aw.ID)
	assert.Greater(t, h, 100)
	assert.Less(t, h, 1100)
}

func TestForeignHealIsSlower(t *testing.T) {
	opts := testOptions()
	opts.StepCost = 2 * time.Millisecond
	opts.ForeignHealFactor = 5
	e, _, ta, _, aw, bw := duel(t, opts)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, ta.Heal(ctx, aw.ID, 5))
	self := time.Since(start)

	start = time.Now()
	require.NoError(t, ta.Heal(ctx, bw.ID, 5))
	foreign := time.Since(start)

	assert.Equal(t, 105, healthOf(t, e, aw.ID))
	assert.Equal(t, 105, healthOf(t, e, bw.ID))
	assert.GreaterOrEqual(t, foreign, 50*time.Millisecond)
	assert.Greater(t, foreign, self)
}

func TestHealRejectsNonPositive(t *testing.T) {
	_, _, ta, _, aw, _ := duel(t, testOptions())
	assert.ErrorIs(t, ta.Heal(context.Background(), aw.ID, 0), ErrBadAmount)
	assert.ErrorIs(t, ta.Heal(context.Background(), aw.ID, -5), ErrBadAmount)
	assert.ErrorIs(t, ta.Heal(context.Background(), "missing", 5), ErrUnknownPiece)
}

func TestWorldView(t *testing.T) {
	_, _, ta, _, aw, bw := duel(t, testOptions())
	w, err := ta.World(context.Background(), grid.Coord{X: 2, Y: 2}, 1)
	require.NoError(t, err)
	require.Len(t, w, 3)
	require.NotNil(t, w[1][1])
	assert.Equal(t, aw.ID, w[1][1].ID)
	require.NotNil(t, w[1][2])
	assert.Equal(t, bw.ID, w[1][2].ID)
	require.NotNil(t, w[1][0]) // alice's home at (2,1)
	assert.Equal(t, KindHome, w[1][0].Kind)
	assert.Nil(t, w[0][0])

	edge, err := ta.World(context.Background(), grid.Coord{X: 0, Y: 0}, 1)
	require.NoError(t, err)
	assert.Nil(t, edge[0][0])
	assert.Nil(t, edge[0][1])
}

func TestWorldRadiusIsBounded(t *testing.T) {
	e, _, ta, _, _, _ := duel(t, testOptions())
	n := e.BoardSize()

	full, err := ta.World(context.Background(), grid.Coord{X: 0, Y: 0}, n)
	require.NoError(t, err)
	assert.Len(t, full, 2*n+1)

	for _, r := range []int{n + 1, 1_000_000_000, -1} {
		_, err := ta.World(context.Background(), grid.Coord{X: 0, Y: 0}, r)
		assert.ErrorIs(t, err, ErrBadRadius, "radius %d", r)
		assert.True(t, IsRuleError(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ta.World(ctx, grid.Coord{X: 0, Y: 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTurnPiecesFilters(t *testing.T) {
	_, _, ta, _, _, _ := duel(t, testOptions())
	assert.Len(t, ta.Pieces(""), 2)
	assert.Len(t, ta.Pieces(KindHome), 1)
	assert.Len(t, ta.Pieces(KindWarrior), 1)
}

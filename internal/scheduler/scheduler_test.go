package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/robalobadob/gridbattle/internal/game"
	"github.com/robalobadob/gridbattle/internal/grid"
	"github.com/robalobadob/gridbattle/internal/sandbox"
	"github.com/robalobadob/gridbattle/internal/store"
)

// recordingRunner notes who ran, in order.
type recordingRunner struct {
	mu    sync.Mutex
	order []string
	panic string // participant id whose turn panics
}

func (r *recordingRunner) Execute(_ context.Context, a sandbox.Actor, _ string) sandbox.Result {
	id := a.Participant().ID
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
	if id == r.panic {
		panic("runner exploded")
	}
	return sandbox.Result{Outcome: sandbox.Completed}
}

func (r *recordingRunner) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.order
	r.order = nil
	return out
}

type stateCounter struct {
	mu     sync.Mutex
	states int
}

func (s *stateCounter) Broadcast(ev game.Event) {
	if ev.Type == game.EventGameState {
		s.mu.Lock()
		s.states++
		s.mu.Unlock()
	}
}

func (s *stateCounter) Send(string, game.Event) {}

func (s *stateCounter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states
}

func newEngine(t *testing.T, players int) (*game.Engine, []string) {
	t.Helper()
	opts := game.DefaultOptions()
	opts.PinHashCost = bcrypt.MinCost
	e := game.New(opts, store.NewMemoryStore())
	ids := make([]string, 0, players)
	for i := 0; i < players; i++ {
		p, _, err := e.Join(context.Background(), fmt.Sprintf("player%d", i), "1234")
		require.NoError(t, err)
		ids = append(ids, p.ID())
	}
	return e, ids
}

func TestConfigValidation(t *testing.T) {
	e, _ := newEngine(t, 0)
	_, err := New(e, &recordingRunner{}, Config{Tick: 0, Round: time.Second})
	assert.Error(t, err)
	_, err = New(e, &recordingRunner{}, Config{Tick: 300 * time.Millisecond, Round: time.Second})
	assert.Error(t, err)
	_, err = New(e, &recordingRunner{}, Config{Tick: 250 * time.Millisecond, Round: 5 * time.Second})
	assert.NoError(t, err)
}

func TestRoundRunsEveryoneOnceInShuffledOrder(t *testing.T) {
	e, ids := newEngine(t, 5)
	run := &recordingRunner{}
	s, err := New(e, run, Config{Tick: time.Millisecond, Round: time.Millisecond}, WithRand(rand.New(rand.NewSource(7))))
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		rep := s.RunRound(context.Background())
		order := run.take()
		assert.ElementsMatch(t, ids, order)
		require.Len(t, rep.Turns, len(ids))
		assert.Equal(t, i+1, rep.Round)
		seen[strings.Join(order, ",")] = true
	}
	assert.Greater(t, len(seen), 1, "turn order never changed")
	assert.False(t, e.RoundOpen())
	assert.Len(t, e.History(), 20)
}

func TestShuffleIsUniform(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	const n = 6000
	for i := 0; i < n; i++ {
		ents := []game.Entrant{{ID: "a"}, {ID: "b"}, {ID: "c"}}
		Shuffle(r, ents)
		counts[ents[0].ID+ents[1].ID+ents[2].ID]++
	}
	require.Len(t, counts, 6)
	for perm, c := range counts {
		assert.InDelta(t, n/6, c, 200, perm)
	}
}

func TestTickCadence(t *testing.T) {
	e, _ := newEngine(t, 2)
	sink := &stateCounter{}
	e.AddSink(sink)
	run := &recordingRunner{}
	s, err := New(e, run, Config{Tick: 10 * time.Millisecond, Round: 30 * time.Millisecond})
	require.NoError(t, err)

	var rounds []int
	s.OnRound = func(r RoundReport) { rounds = append(rounds, r.Round) }
	for i := 0; i < 6; i++ {
		s.Tick(context.Background())
	}
	assert.Equal(t, []int{1, 2}, rounds)
	assert.Len(t, run.take(), 4)
	assert.Greater(t, sink.count(), 6)
}

func TestTickWithoutParticipantsOnlyPublishes(t *testing.T) {
	e, _ := newEngine(t, 0)
	sink := &stateCounter{}
	e.AddSink(sink)
	s, err := New(e, &recordingRunner{}, Config{Tick: 10 * time.Millisecond, Round: 10 * time.Millisecond})
	require.NoError(t, err)

	s.OnRound = func(RoundReport) { t.Fatal("no round expected") }
	for i := 0; i < 3; i++ {
		s.Tick(context.Background())
	}
	assert.Equal(t, 3, sink.count())
	assert.Empty(t, e.History())
}

func TestPanickingTurnDoesNotStopRound(t *testing.T) {
	e, ids := newEngine(t, 3)
	run := &recordingRunner{panic: ids[1]}
	s, err := New(e, run, Config{Tick: time.Millisecond, Round: time.Millisecond})
	require.NoError(t, err)

	rep := s.RunRound(context.Background())
	assert.ElementsMatch(t, ids, run.take())
	require.Len(t, rep.Turns, 3)
	for _, tr := range rep.Turns {
		if tr.ParticipantID == ids[1] {
			assert.Equal(t, sandbox.Crashed, tr.Result.Outcome)
		} else {
			assert.Equal(t, sandbox.Completed, tr.Result.Outcome)
		}
	}
	assert.False(t, e.RoundOpen())

	// the loop keeps going afterwards
	s.RunRound(context.Background())
	assert.Len(t, run.take(), 3)
}

func TestRoundWithRealExecutor(t *testing.T) {
	e, ids := newEngine(t, 2)
	ctx := context.Background()
	for _, id := range ids {
		require.NoError(t, e.SetProgram(ctx, id, `
			if (player.homes().length === 0) {
				for (var x = 0; x < boardSize(); x++) {
					if (!world(x, 0, 0)[0][0]) { build(Home, x, 0); break; }
				}
			}
		`))
	}
	s, err := New(e, sandbox.New(200*time.Millisecond), Config{Tick: time.Millisecond, Round: time.Millisecond})
	require.NoError(t, err)

	rep := s.RunRound(ctx)
	for _, tr := range rep.Turns {
		assert.Equal(t, sandbox.Completed, tr.Result.Outcome, "%v", tr.Result.Err)
	}
	st := e.State()
	require.Len(t, st.Pieces, 2)
	assert.NotEqual(t, st.Pieces[0].Owner, st.Pieces[1].Owner)
	for _, p := range st.Pieces {
		_, ok := e.PieceAt(grid.Coord{X: p.X, Y: p.Y})
		assert.True(t, ok)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e, _ := newEngine(t, 1)
	run := &recordingRunner{}
	s, err := New(e, run, Config{Tick: 5 * time.Millisecond, Round: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err = s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, run.take())
}

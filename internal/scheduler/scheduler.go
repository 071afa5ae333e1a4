// internal/scheduler/scheduler.go
//
// The tick loop that drives evaluation rounds.
// Responsibilities:
//   - Fire on a fixed tick. On every tick where the elapsed time is a
//     multiple of the round period and at least one participant is
//     registered, run an evaluation round; otherwise just push a snapshot.
//   - Within a round, shuffle the entrants (uniform Fisher–Yates) and run
//     each participant's program exactly once, one at a time, pushing a
//     snapshot after every turn so observers see progress.
//   - Survive anything a single tick throws.
//
// Notes:
//   - Ticks never overlap: a round that overruns delays the following
//     ticks instead of running alongside them (time.Ticker drops ticks).
//   - A round in progress is not cut short by shutdown; Run returns once
//     the current tick is done.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridbattle/internal/game"
	"github.com/robalobadob/gridbattle/internal/sandbox"
)

// Runner executes one participant program. *sandbox.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, a sandbox.Actor, program string) sandbox.Result
}

// Config holds the timing knobs.
type Config struct {
	Tick  time.Duration
	Round time.Duration
}

func (c Config) validate() error {
	if c.Tick <= 0 {
		return errors.New("tick period must be positive")
	}
	if c.Round < c.Tick || c.Round%c.Tick != 0 {
		return fmt.Errorf("round period %s must be a positive multiple of tick period %s", c.Round, c.Tick)
	}
	return nil
}

// TurnReport records what one participant's turn did.
type TurnReport struct {
	ParticipantID string
	Result        sandbox.Result
}

// RoundReport summarizes one evaluation round.
type RoundReport struct {
	Round int
	Turns []TurnReport
}

// Scheduler owns the clock. It is not safe for concurrent Tick calls.
type Scheduler struct {
	eng     *game.Engine
	runner  Runner
	cfg     Config
	rng     *rand.Rand
	elapsed time.Duration

	// OnRound, when set, is called after every completed round.
	OnRound func(RoundReport)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRand sets the source used for turn ordering.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// New validates cfg and returns an idle scheduler.
func New(eng *game.Engine, runner Runner, cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		eng:    eng,
		runner: runner,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	log.Info().Dur("tick", s.cfg.Tick).Dur("round", s.cfg.Round).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick advances the clock by one tick period and does that tick's work.
// Panics are logged and swallowed so the loop keeps going.
func (s *Scheduler) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tick failed")
		}
	}()
	due := s.elapsed%s.cfg.Round == 0
	s.elapsed += s.cfg.Tick

	if due && s.eng.ParticipantCount() > 0 {
		rep := s.RunRound(ctx)
		if s.OnRound != nil {
			s.OnRound(rep)
		}
		return
	}
	s.eng.SendState()
}

// RunRound runs one evaluation round immediately.
func (s *Scheduler) RunRound(ctx context.Context) RoundReport {
	ctx = context.WithoutCancel(ctx)
	entrants := s.eng.OpenRound()
	// Make sure a failing turn can never leave the round open.
	defer func() {
		if s.eng.RoundOpen() {
			s.eng.CloseRound()
			s.eng.SendState()
		}
	}()

	Shuffle(s.rng, entrants)
	s.eng.SendState()

	rep := RoundReport{Turns: make([]TurnReport, 0, len(entrants))}
	for _, ent := range entrants {
		res, ok := s.turn(ctx, ent)
		if !ok {
			continue
		}
		rep.Turns = append(rep.Turns, TurnReport{ParticipantID: ent.ID, Result: res})
		s.eng.SendState()
	}

	st := s.eng.CloseRound()
	s.eng.SendState()
	rep.Round = st.Round
	log.Debug().Int("round", st.Round).Int("turns", len(rep.Turns)).Int("pieces", len(st.Pieces)).Msg("round complete")
	return rep
}

// turn runs one entrant. A participant who left since the round opened is
// skipped.
func (s *Scheduler) turn(ctx context.Context, ent game.Entrant) (res sandbox.Result, ok bool) {
	t, err := s.eng.Turn(ent.ID)
	if err != nil {
		log.Debug().Err(err).Str("participant", ent.ID).Msg("turn skipped")
		return res, false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("participant", ent.ID).Msg("turn failed")
			res = sandbox.Result{Outcome: sandbox.Crashed, Err: fmt.Errorf("turn panicked: %v", r)}
			ok = true
		}
	}()
	res = s.runner.Execute(ctx, t, ent.Program)
	log.Debug().
		Str("participant", ent.ID).
		Str("outcome", string(res.Outcome)).
		Dur("elapsed", res.Elapsed).
		Msg("turn done")
	return res, true
}

// Shuffle permutes entrants in place with a uniform Fisher–Yates shuffle.
func Shuffle(r *rand.Rand, entrants []game.Entrant) {
	for i := len(entrants) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		entrants[i], entrants[j] = entrants[j], entrants[i]
	}
}

// internal/sandbox/executor.go
//
// Sandboxed execution of participant programs.
// Responsibilities:
//   - Run one program in a fresh goja VM with only the capability globals
//     from capabilities.go installed (no require, no host I/O).
//   - Enforce a hard wall-clock limit: the VM is interrupted when the
//     invocation context ends, and host-side step loops watch the same
//     context.
//   - Turn every failure (validation fault, thrown error, timeout, panic in
//     a capability handler) into participant-visible log lines and a Result.
//     Nothing escapes to the caller.
//
// Notes:
//   - Actions apply as the program calls them. A program that times out
//     keeps whatever it already did.
//   - Validation faults interrupt the VM, so a program's own try/catch
//     cannot swallow them and keep going.

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridbattle/internal/game"
	"github.com/robalobadob/gridbattle/internal/grid"
)

// Actor is the capability surface a program may reach. *game.Turn
// implements it.
type Actor interface {
	Participant() game.ParticipantState
	BoardSize() int
	Pieces(kind game.Kind) []game.PieceState
	PieceState(id string) (game.PieceState, bool)
	World(ctx context.Context, c grid.Coord, radius int) ([][]*game.PieceState, error)
	Log(message, level string)

	Build(ctx context.Context, k game.Kind, c grid.Coord) (game.PieceState, error)
	Move(ctx context.Context, pieceID string, dx, dy int) (game.PieceState, error)
	Attack(ctx context.Context, attackerID, targetID string, damage int) (bool, error)
	Heal(ctx context.Context, pieceID string, amount int) error
	SetHealth(ctx context.Context, pieceID string, value int) error
	SetColor(ctx context.Context, pieceID, color string) error
}

// Outcome classifies how an invocation ended.
type Outcome string

const (
	Completed Outcome = "completed" // ran to the end
	Faulted   Outcome = "faulted"   // a capability call failed validation
	Threw     Outcome = "threw"     // uncaught JS error or syntax error
	TimedOut  Outcome = "timed_out" // hit the wall-clock limit
	Crashed   Outcome = "crashed"   // a capability handler panicked
)

// Result describes one invocation.
type Result struct {
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// fault is the interrupt value for a failed capability call.
type fault struct{ err error }

// internalFault wraps a recovered panic.
type internalFault struct{ v any }

func (f *internalFault) Error() string { return fmt.Sprintf("internal fault: %v", f.v) }

// Executor runs programs with a fixed per-invocation timeout.
type Executor struct {
	timeout  time.Duration
	maxLogs  int
	maxStack int
}

// New returns an Executor that stops every program after timeout.
func New(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout, maxLogs: 50, maxStack: 512}
}

// Timeout is the per-invocation wall-clock limit.
func (x *Executor) Timeout() time.Duration { return x.timeout }

// Execute runs program on behalf of a. It never panics and never returns an
// error; the Result says what happened and a has already been sent the
// matching diagnostics.
func (x *Executor) Execute(ctx context.Context, a Actor, program string) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	vm := goja.New()
	vm.SetMaxCallStackSize(x.maxStack)
	inv := &invocation{vm: vm, actor: a, ctx: ctx, maxLogs: x.maxLogs}
	inv.install()

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	res := x.classify(a, inv, inv.run(program))
	res.Elapsed = time.Since(start)
	return res
}

// classify turns the run error into a Result and sends a the diagnostics.
// A recorded fault wins over a deadline interrupt that arrived after it.
func (x *Executor) classify(a Actor, inv *invocation, err error) Result {
	res := Result{Outcome: Completed}
	if err == nil {
		return res
	}

	var (
		ie *goja.InterruptedError
		ex *goja.Exception
		ef *internalFault
	)
	switch {
	case errors.As(err, &ie) && inv.firstFault != nil:
		res.Outcome, res.Err = Faulted, inv.firstFault
		a.Log(inv.firstFault.Error(), game.LevelError)
	case errors.As(err, &ie):
		if v, ok := ie.Value().(error); ok {
			res.Err = v
		} else {
			res.Err = err
		}
		res.Outcome = TimedOut
		x.reportTimeout(a)
	case errors.As(err, &ef):
		res.Outcome, res.Err = Crashed, err
		log.Error().Err(err).Str("participant", a.Participant().ID).Msg("capability handler panicked")
		a.Log("Something went wrong on our side while running your code. Your turn ended early.", game.LevelError)
	case errors.As(err, &ex):
		res.Outcome, res.Err = Threw, err
		a.Log(ex.Error(), game.LevelError)
	default:
		res.Outcome, res.Err = Threw, err
		a.Log(err.Error(), game.LevelError)
	}
	return res
}

func (x *Executor) reportTimeout(a Actor) {
	a.Log("code didn't finish running", game.LevelError)
	a.Log(fmt.Sprintf("  => your code only has %dms to execute", x.timeout.Milliseconds()), game.LevelError)
	a.Log("Changing health (heal, setHealth, attack damage) takes time for every point. "+
		"Big health changes, and healing other players' pieces, use up your turn quickly. "+
		"Whatever your code did before time ran out still counts.", game.LevelInfo)
}

// run executes the program, converting panics from Go handlers into errors.
func (inv *invocation) run(program string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &internalFault{v: r}
		}
	}()
	_, err = inv.vm.RunString("(function(){\n'use strict';\n" + program + "\n})();")
	return err
}

// internal/sandbox/capabilities.go
//
// The globals a participant program sees.
// Installs:
//   - player: { id, name, pieces(), homes(), warriors() }
//   - Home, Warrior: kind names for build().
//   - build, move, attack, heal, setHealth, setColor, world, piece,
//     boardSize, log, console.log
//
// Pieces handed to the program are plain objects. The participant's own
// pieces also carry action methods (move, attack, heal, setHealth,
// setColor, world) bound to that piece.

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/robalobadob/gridbattle/internal/game"
	"github.com/robalobadob/gridbattle/internal/grid"
)

const maxLogLen = 500

type invocation struct {
	vm         *goja.Runtime
	actor      Actor
	ctx        context.Context
	self       string
	logs       int
	maxLogs    int
	firstFault error // first failed capability call
}

func (inv *invocation) install() {
	vm := inv.vm
	inv.self = inv.actor.Participant().ID

	set := func(name string, v any) {
		if err := vm.Set(name, v); err != nil {
			panic(err)
		}
	}
	set("Home", string(game.KindHome))
	set("Warrior", string(game.KindWarrior))
	set("player", inv.player())
	set("build", inv.build)
	set("move", inv.move)
	set("attack", inv.attack)
	set("heal", inv.heal)
	set("setHealth", inv.setHealth)
	set("setColor", inv.setColor)
	set("world", inv.world)
	set("piece", inv.piece)
	set("boardSize", func(goja.FunctionCall) goja.Value { return vm.ToValue(inv.actor.BoardSize()) })
	set("log", inv.log)

	console := vm.NewObject()
	_ = console.Set("log", inv.log)
	_ = console.Set("info", inv.log)
	_ = console.Set("warn", inv.leveled(game.LevelWarn))
	_ = console.Set("error", inv.leveled(game.LevelError))
	set("console", console)
}

// check stops the program when a capability call fails. Context errors
// become the timeout interrupt, everything else a validation fault.
func (inv *invocation) check(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		inv.vm.Interrupt(err)
		return
	}
	if inv.firstFault == nil {
		inv.firstFault = err
	}
	inv.vm.Interrupt(&fault{err: err})
}

func (inv *invocation) player() *goja.Object {
	vm := inv.vm
	p := inv.actor.Participant()
	obj := vm.NewObject()
	_ = obj.Set("id", p.ID)
	_ = obj.Set("name", p.Name)
	list := func(k game.Kind) func(goja.FunctionCall) goja.Value {
		return func(goja.FunctionCall) goja.Value {
			return inv.pieceArray(inv.actor.Pieces(k))
		}
	}
	_ = obj.Set("pieces", list(""))
	_ = obj.Set("homes", list(game.KindHome))
	_ = obj.Set("warriors", list(game.KindWarrior))
	return obj
}

func (inv *invocation) pieceArray(states []game.PieceState) goja.Value {
	items := make([]any, 0, len(states))
	for _, st := range states {
		items = append(items, inv.pieceObject(st))
	}
	return inv.vm.NewArray(items...)
}

// pieceObject converts st into a JS object. Own pieces get bound methods.
func (inv *invocation) pieceObject(st game.PieceState) *goja.Object {
	vm := inv.vm
	obj := vm.NewObject()
	_ = obj.Set("id", st.ID)
	_ = obj.Set("kind", string(st.Kind))
	_ = obj.Set("owner", st.Owner)
	_ = obj.Set("color", st.Color)
	_ = obj.Set("x", st.X)
	_ = obj.Set("y", st.Y)
	_ = obj.Set("health", st.Health)
	_ = obj.Set("direction", int(st.Direction))
	_ = obj.Set("movable", st.Movable)
	_ = obj.Set("attackable", st.Attackable)
	_ = obj.Set("mine", st.Owner == inv.self)
	if st.Owner != inv.self {
		return obj
	}

	id := st.ID
	_ = obj.Set("move", func(call goja.FunctionCall) goja.Value {
		return inv.doMove(id, call.Argument(0), call.Argument(1))
	})
	_ = obj.Set("attack", func(call goja.FunctionCall) goja.Value {
		return inv.doAttack(id, call.Argument(0), call.Argument(1))
	})
	_ = obj.Set("heal", func(call goja.FunctionCall) goja.Value {
		inv.check(inv.actor.Heal(inv.ctx, id, toInt(call.Argument(0))))
		return goja.Undefined()
	})
	_ = obj.Set("setHealth", func(call goja.FunctionCall) goja.Value {
		inv.check(inv.actor.SetHealth(inv.ctx, id, toInt(call.Argument(0))))
		return goja.Undefined()
	})
	_ = obj.Set("setColor", func(call goja.FunctionCall) goja.Value {
		inv.check(inv.actor.SetColor(inv.ctx, id, call.Argument(0).String()))
		return goja.Undefined()
	})
	_ = obj.Set("world", func(call goja.FunctionCall) goja.Value {
		cur, ok := inv.actor.PieceState(id)
		if !ok {
			return goja.Null()
		}
		return inv.worldAt(grid.Coord{X: cur.X, Y: cur.Y}, call.Argument(0))
	})
	return obj
}

// build(kind, x, y)
func (inv *invocation) build(call goja.FunctionCall) goja.Value {
	k, err := game.ParseKind(call.Argument(0).String())
	if err != nil {
		inv.check(err)
		return goja.Undefined()
	}
	c := grid.Coord{X: toInt(call.Argument(1)), Y: toInt(call.Argument(2))}
	st, err := inv.actor.Build(inv.ctx, k, c)
	inv.check(err)
	if err != nil {
		return goja.Undefined()
	}
	return inv.pieceObject(st)
}

// move(piece, dx, dy)
func (inv *invocation) move(call goja.FunctionCall) goja.Value {
	return inv.doMove(pieceID(call.Argument(0)), call.Argument(1), call.Argument(2))
}

func (inv *invocation) doMove(id string, dx, dy goja.Value) goja.Value {
	st, err := inv.actor.Move(inv.ctx, id, toInt(dx), toInt(dy))
	inv.check(err)
	if err != nil {
		return goja.Undefined()
	}
	return inv.pieceObject(st)
}

// attack(attacker, target, damage)
func (inv *invocation) attack(call goja.FunctionCall) goja.Value {
	return inv.doAttack(pieceID(call.Argument(0)), call.Argument(1), call.Argument(2))
}

func (inv *invocation) doAttack(attackerID string, target, damage goja.Value) goja.Value {
	dmg := 0
	if !goja.IsUndefined(damage) && !goja.IsNull(damage) {
		dmg = toInt(damage)
	}
	landed, err := inv.actor.Attack(inv.ctx, attackerID, pieceID(target), dmg)
	inv.check(err)
	return inv.vm.ToValue(landed)
}

// heal(piece, amount)
func (inv *invocation) heal(call goja.FunctionCall) goja.Value {
	inv.check(inv.actor.Heal(inv.ctx, pieceID(call.Argument(0)), toInt(call.Argument(1))))
	return goja.Undefined()
}

// setHealth(piece, value)
func (inv *invocation) setHealth(call goja.FunctionCall) goja.Value {
	inv.check(inv.actor.SetHealth(inv.ctx, pieceID(call.Argument(0)), toInt(call.Argument(1))))
	return goja.Undefined()
}

// setColor(piece, color)
func (inv *invocation) setColor(call goja.FunctionCall) goja.Value {
	inv.check(inv.actor.SetColor(inv.ctx, pieceID(call.Argument(0)), call.Argument(1).String()))
	return goja.Undefined()
}

// world(x, y, radius)
func (inv *invocation) world(call goja.FunctionCall) goja.Value {
	c := grid.Coord{X: toInt(call.Argument(0)), Y: toInt(call.Argument(1))}
	return inv.worldAt(c, call.Argument(2))
}

func (inv *invocation) worldAt(c grid.Coord, radius goja.Value) goja.Value {
	r := 1
	if !goja.IsUndefined(radius) && !goja.IsNull(radius) {
		r = toInt(radius)
	}
	if r < 0 {
		r = 0
	}
	view, err := inv.actor.World(inv.ctx, c, r)
	inv.check(err)
	cols := make([]any, 0, len(view))
	for _, col := range view {
		if inv.ctx.Err() != nil {
			return goja.Null()
		}
		cells := make([]any, 0, len(col))
		for _, st := range col {
			if st == nil {
				cells = append(cells, goja.Null())
				continue
			}
			cells = append(cells, inv.pieceObject(*st))
		}
		cols = append(cols, inv.vm.NewArray(cells...))
	}
	return inv.vm.NewArray(cols...)
}

// piece(id) returns the current view of a piece or null.
func (inv *invocation) piece(call goja.FunctionCall) goja.Value {
	st, ok := inv.actor.PieceState(pieceID(call.Argument(0)))
	if !ok {
		return goja.Null()
	}
	return inv.pieceObject(st)
}

// log(value, level)
func (inv *invocation) log(call goja.FunctionCall) goja.Value {
	level := game.LevelInfo
	if lv := call.Argument(1); !goja.IsUndefined(lv) {
		switch lv.String() {
		case game.LevelWarn:
			level = game.LevelWarn
		case game.LevelError:
			level = game.LevelError
		}
	}
	inv.emit(format(call.Argument(0)), level)
	return goja.Undefined()
}

func (inv *invocation) leveled(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		inv.emit(format(call.Argument(0)), level)
		return goja.Undefined()
	}
}

func (inv *invocation) emit(msg, level string) {
	inv.logs++
	switch {
	case inv.logs > inv.maxLogs+1:
		return
	case inv.logs == inv.maxLogs+1:
		inv.actor.Log(fmt.Sprintf("log limit of %d lines per turn reached", inv.maxLogs), game.LevelWarn)
		return
	}
	if len(msg) > maxLogLen {
		cut := maxLogLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	inv.actor.Log(msg, level)
}

// format renders a JS value for the log channel. Strings pass through,
// everything else is JSON where possible.
func format(v goja.Value) string {
	if goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if b, err := json.Marshal(obj); err == nil {
		return string(b)
	}
	return obj.String()
}

// pieceID accepts either a piece object or an id string.
func pieceID(v goja.Value) string {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if obj, ok := v.(*goja.Object); ok {
		if id := obj.Get("id"); id != nil && !goja.IsUndefined(id) {
			return id.String()
		}
		return ""
	}
	return v.String()
}

func toInt(v goja.Value) int {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}

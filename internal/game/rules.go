// internal/game/rules.go
//
// Participant actions. A Turn is the only path by which a program changes
// the board; every method validates against the grid and the round quota
// before mutating anything.
//
// Validation order:
//   build  -> tile active, tile free, quota, placement
//   move   -> piece exists, owned, movable, unit orthogonal step,
//             destination active, destination free
//   attack -> attacker exists and is owned (errors); attacker able, target
//             present and orthogonally adjacent (wasted motion otherwise)
//   heal   -> positive amount, target exists

package game

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/robalobadob/gridbattle/internal/grid"
)

// Turn binds the engine's actions to one participant for one round.
type Turn struct {
	e           *Engine
	participant *Participant
}

// Participant returns the acting participant's public view.
func (t *Turn) Participant() ParticipantState { return t.participant.State() }

// BoardSize is the current edge length.
func (t *Turn) BoardSize() int { return t.e.BoardSize() }

// Pieces returns the acting participant's active pieces, optionally of one kind.
func (t *Turn) Pieces(kind Kind) []PieceState {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	owned := t.e.ownedLocked(t.participant.id, kind)
	out := make([]PieceState, 0, len(owned))
	for _, pc := range owned {
		out = append(out, pc.state())
	}
	return out
}

// PieceState returns any live piece's view.
func (t *Turn) PieceState(id string) (PieceState, bool) {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	pc, ok := t.e.pieceByID[id]
	if !ok || !pc.active() {
		return PieceState{}, false
	}
	return pc.state(), true
}

// World returns the read-only neighborhood around c. Cells are nil when
// empty or off-board. The radius may not exceed the board size.
func (t *Turn) World(ctx context.Context, c grid.Coord, radius int) ([][]*PieceState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if limit := t.e.grid.MaxRadius(); radius < 0 || radius > limit {
		return nil, ruleErr(ErrBadRadius,
			"world radius must be between 0 and %d (the board size), got %d.", limit, radius)
	}
	cells := t.e.grid.Neighborhood(c, radius)
	out := make([][]*PieceState, len(cells))
	for i, col := range cells {
		out[i] = make([]*PieceState, len(col))
		for j, rec := range col {
			if rec == nil {
				continue
			}
			if pc, ok := t.e.pieceByID[rec.PieceID]; ok {
				st := pc.state()
				out[i][j] = &st
			}
		}
	}
	return out, nil
}

// Log sends a line to the participant's channels.
func (t *Turn) Log(message, level string) {
	t.e.Log(t.participant.id, message, level)
}

// lockTurn takes the engine lock and confirms the participant is still in
// the round. On error the lock is released.
func (t *Turn) lockTurn() (*Quota, error) {
	t.e.mu.Lock()
	if t.e.quotas == nil {
		t.e.mu.Unlock()
		return nil, ErrNoRound
	}
	q, ok := t.e.quotas[t.participant.id]
	if !ok {
		t.e.mu.Unlock()
		return nil, ErrUnknownParticipant
	}
	return q, nil
}

// Build places a new piece of kind k at c.
func (t *Turn) Build(ctx context.Context, k Kind, c grid.Coord) (PieceState, error) {
	if _, ok := kinds[k]; !ok {
		return PieceState{}, ruleErr(ErrUnknownKind, "Unknown piece kind %q.", k)
	}
	if err := ctx.Err(); err != nil {
		return PieceState{}, err
	}
	q, err := t.lockTurn()
	if err != nil {
		return PieceState{}, err
	}
	e := t.e
	defer e.mu.Unlock()

	if !e.grid.IsActive(c) {
		return PieceState{}, ruleErr(ErrInactiveTile, "That tile (%d, %d) is not active. Your script has stopped.", c.X, c.Y)
	}
	if e.grid.IsOccupied(c) {
		return PieceState{}, ruleErr(ErrTileOccupied, "That tile (%d, %d) is occupied. Your script has stopped.", c.X, c.Y)
	}
	homes := e.ownedLocked(t.participant.id, KindHome)
	if err := q.check(k, len(homes)); err != nil {
		return PieceState{}, err
	}
	if k == KindWarrior && !nextToAny(c, homes) {
		return PieceState{}, ruleErr(ErrPlacement,
			"A Warrior must be built next to one of your Homes (up, down, left or right of it); (%d, %d) is not.", c.X, c.Y)
	}

	def := kinds[k]
	pc := &Piece{id: uuid.NewString(), kind: k, owner: t.participant.id, color: def.color, anim: AnimIdle, e: e}
	e.grid.Place(c, grid.Record{PieceID: pc.id, Owner: pc.owner, Health: def.health, Direction: int(South)})
	e.pieces = append(e.pieces, pc)
	e.pieceByID[pc.id] = pc
	q.count(k)

	st := pc.state()
	e.broadcast(EventNewPiece, st)
	return st, nil
}

func nextToAny(c grid.Coord, homes []*Piece) bool {
	for _, h := range homes {
		if pos, ok := h.position(); ok && pos.Adjacent(c) {
			return true
		}
	}
	return false
}

// Move shifts an owned piece by exactly one tile along one axis.
func (t *Turn) Move(ctx context.Context, pieceID string, dx, dy int) (PieceState, error) {
	if err := ctx.Err(); err != nil {
		return PieceState{}, err
	}
	if _, err := t.lockTurn(); err != nil {
		return PieceState{}, err
	}
	e := t.e
	defer e.mu.Unlock()

	pc, err := t.ownedPieceLocked(pieceID)
	if err != nil {
		return PieceState{}, err
	}
	if !pc.movable() {
		return PieceState{}, ruleErr(ErrNotMovable, "A %s can't move.", pc.kind)
	}
	if !unitStep(dx, dy) {
		return PieceState{}, ruleErr(ErrBadMove,
			"Pieces move one tile up, down, left or right per move; (%d, %d) is not allowed.", dx, dy)
	}
	from, _ := pc.position()
	to := from.Add(dx, dy)
	if !e.grid.IsActive(to) {
		return PieceState{}, ruleErr(ErrInactiveTile, "That tile (%d, %d) is not active. Your script has stopped.", to.X, to.Y)
	}
	if e.grid.IsOccupied(to) {
		return PieceState{}, ruleErr(ErrTileOccupied,
			"That tile (%d, %d) is occupied. Your script has stopped. Check the world around your piece first.", to.X, to.Y)
	}

	dir := directionOf(dx, dy)
	e.grid.Relocate(from, to)
	e.grid.SetDirection(pc.id, int(dir))
	e.animate(pc, AnimWalk)
	e.broadcast(EventMovePiece, MovePayload{ID: pc.id, From: from, To: to, Direction: dir})
	e.broadcast(EventPieceDirection, DirectionPayload{ID: pc.id, Direction: dir})
	return pc.state(), nil
}

func unitStep(dx, dy int) bool {
	return (dx == 0) != (dy == 0) && dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
}

// Attack makes the caller's piece attackerID hit targetID. damage <= 0
// means the attacker's full power; larger values are capped at it. It
// reports whether the attack landed. Illegal attacks do nothing except burn
// the configured waste penalty off the caller's turn.
func (t *Turn) Attack(ctx context.Context, attackerID, targetID string, damage int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := t.lockTurn(); err != nil {
		return false, err
	}
	e := t.e

	atk, err := t.ownedPieceLocked(attackerID)
	if err != nil {
		e.mu.Unlock()
		return false, err
	}
	var reason string
	tgt, ok := e.pieceByID[targetID]
	atkPos, _ := atk.position()
	switch {
	case !atk.attackable():
		reason = fmt.Sprintf("a %s can't attack", atk.kind)
	case !ok || !tgt.active():
		reason = "the target is gone"
	default:
		tgtPos, _ := tgt.position()
		if !atkPos.Adjacent(tgtPos) {
			reason = fmt.Sprintf("(%d, %d) is not next to (%d, %d); attacks reach up, down, left or right only",
				tgtPos.X, tgtPos.Y, atkPos.X, atkPos.Y)
		}
	}
	if reason != "" {
		e.sendTo(t.participant.id, EventLog, LogPayload{
			Message: fmt.Sprintf("Attack from (%d, %d) wasted: %s.", atkPos.X, atkPos.Y, reason),
			Level:   LevelWarn,
		})
		e.mu.Unlock()
		return false, pace(ctx, e.opts.WastePenalty)
	}

	power := kinds[atk.kind].attackPower
	if damage <= 0 || damage > power {
		damage = power
	}
	tgtPos, _ := tgt.position()
	dir := directionOf(tgtPos.X-atkPos.X, tgtPos.Y-atkPos.Y)
	if atk.direction() != dir {
		e.grid.SetDirection(atk.id, int(dir))
		e.broadcast(EventPieceDirection, DirectionPayload{ID: atk.id, Direction: dir})
	}
	e.animate(atk, AnimAttack)
	goal := tgt.health() - damage
	e.mu.Unlock()

	return true, e.stepHealth(ctx, tgt, goal, e.opts.StepCost)
}

// Heal raises a piece's health by amount. Healing another participant's
// piece is slower per unit than healing your own.
func (t *Turn) Heal(ctx context.Context, pieceID string, amount int) error {
	if amount <= 0 {
		return ruleErr(ErrBadAmount, "Heal amount must be positive, got %d.", amount)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.lockTurn(); err != nil {
		return err
	}
	e := t.e
	pc, ok := e.pieceByID[pieceID]
	if !ok || !pc.active() {
		e.mu.Unlock()
		return ruleErr(ErrUnknownPiece, "There is no piece %q to heal.", pieceID)
	}
	cost := e.opts.StepCost
	if pc.owner != t.participant.id {
		cost *= time.Duration(e.opts.ForeignHealFactor)
	}
	e.animate(pc, AnimHeal)
	goal := pc.health() + amount
	e.mu.Unlock()

	return e.stepHealth(ctx, pc, goal, cost)
}

// SetHealth walks an owned piece's health to value one unit at a time.
func (t *Turn) SetHealth(ctx context.Context, pieceID string, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.lockTurn(); err != nil {
		return err
	}
	e := t.e
	pc, err := t.ownedPieceLocked(pieceID)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.stepHealth(ctx, pc, value, e.opts.StepCost)
}

// SetColor changes an owned, active piece's display color.
func (t *Turn) SetColor(ctx context.Context, pieceID, color string) error {
	if _, err := t.lockTurn(); err != nil {
		return err
	}
	e := t.e
	defer e.mu.Unlock()
	pc, err := t.ownedPieceLocked(pieceID)
	if err != nil {
		return err
	}
	pc.color = color
	e.broadcast(EventUpdatePieceField, FieldPayload{ID: pc.id, Field: "color", Value: color})
	return nil
}

// ownedPieceLocked resolves pieceID to an active piece owned by the caller.
func (t *Turn) ownedPieceLocked(pieceID string) (*Piece, error) {
	pc, ok := t.e.pieceByID[pieceID]
	if !ok || !pc.active() {
		return nil, ruleErr(ErrUnknownPiece, "There is no active piece %q.", pieceID)
	}
	if pc.owner != t.participant.id {
		return nil, ruleErr(ErrNotOwner, "Piece %q belongs to someone else.", pieceID)
	}
	return pc, nil
}

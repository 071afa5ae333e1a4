// internal/game/piece.go
//
// Piece model. A Piece only holds what never changes after construction
// (identity, kind, owner) plus its cosmetic color and animation. Health,
// position, facing and activity live in the grid store and are read back by
// id on every access, so a Piece can never disagree with the board.

package game

import "github.com/robalobadob/gridbattle/internal/grid"

// Piece is a placed game object.
type Piece struct {
	id    string
	kind  Kind
	owner string
	color string
	anim  string
	e     *Engine
}

func (p *Piece) ID() string    { return p.id }
func (p *Piece) Kind() Kind    { return p.kind }
func (p *Piece) Owner() string { return p.owner }

// Color returns the current display color.
func (p *Piece) Color() string {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.color
}

// Health returns current health, or -1 once the piece is gone.
func (p *Piece) Health() int {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.health()
}

// Position returns the piece's tile; ok is false once the piece is gone.
func (p *Piece) Position() (grid.Coord, bool) {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.position()
}

// Active reports whether the piece is still on the board.
func (p *Piece) Active() bool {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.active()
}

// Movable is the kind's movable flag, false for inactive pieces.
func (p *Piece) Movable() bool {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.movable()
}

// Attackable is the kind's attack flag, false for inactive pieces.
func (p *Piece) Attackable() bool {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.attackable()
}

// State returns the wire view of the piece.
func (p *Piece) State() PieceState {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.state()
}

// unlocked accessors; callers hold e.mu

func (p *Piece) record() (grid.Record, bool) { return p.e.grid.Lookup(p.id) }

func (p *Piece) health() int {
	rec, ok := p.record()
	if !ok {
		return -1
	}
	return rec.Health
}

func (p *Piece) position() (grid.Coord, bool) {
	rec, ok := p.record()
	if !ok {
		return grid.Coord{X: -1, Y: -1}, false
	}
	return rec.Pos, true
}

func (p *Piece) direction() Direction {
	rec, _ := p.record()
	return Direction(rec.Direction)
}

func (p *Piece) active() bool {
	rec, ok := p.record()
	return ok && rec.Health > 0
}

func (p *Piece) movable() bool    { return kinds[p.kind].movable && p.active() }
func (p *Piece) attackable() bool { return kinds[p.kind].attackable && p.active() }

func (p *Piece) state() PieceState {
	pos, _ := p.position()
	return PieceState{
		ID:         p.id,
		Kind:       p.kind,
		Color:      p.color,
		Movable:    p.movable(),
		Attackable: p.attackable(),
		X:          pos.X,
		Y:          pos.Y,
		Direction:  p.direction(),
		Health:     p.health(),
		Owner:      p.owner,
	}
}

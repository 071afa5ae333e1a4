// internal/game/participant.go
//
// Participant model: identity, display name, hashed PIN and program text.
// Owned pieces are never stored on the participant; every view is a filter
// over the engine's piece list.

package game

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Participant is a joined player.
type Participant struct {
	id        string
	name      string
	pinHash   string
	program   string
	createdAt time.Time
	e         *Engine
}

func (p *Participant) ID() string   { return p.id }
func (p *Participant) Name() string { return p.name }

// Program returns the currently stored program text.
func (p *Participant) Program() string {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.program
}

// State returns the wire view.
func (p *Participant) State() ParticipantState {
	return ParticipantState{ID: p.id, Name: p.name}
}

// Pieces returns every active piece owned by p.
func (p *Participant) Pieces() []*Piece {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.e.ownedLocked(p.id, "")
}

// Homes returns p's active homes.
func (p *Participant) Homes() []*Piece {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.e.ownedLocked(p.id, KindHome)
}

// Warriors returns p's active warriors.
func (p *Participant) Warriors() []*Piece {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	return p.e.ownedLocked(p.id, KindWarrior)
}

// ownedLocked filters the piece list by owner and (optionally) kind.
func (e *Engine) ownedLocked(owner string, kind Kind) []*Piece {
	out := []*Piece{}
	for _, pc := range e.pieces {
		if pc.owner != owner || !pc.active() {
			continue
		}
		if kind != "" && pc.kind != kind {
			continue
		}
		out = append(out, pc)
	}
	return out
}

// normalizeName trims whitespace.
func normalizeName(n string) string {
	return strings.TrimSpace(n)
}

// validateName enforces 3-24 chars of letters, digits and underscore.
func validateName(n string) error {
	if len(n) < 3 || len(n) > 24 {
		return fmt.Errorf("%w: name must be 3-24 chars", ErrInvalidName)
	}
	for _, r := range n {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("%w: letters, numbers, underscore only", ErrInvalidName)
		}
	}
	return nil
}

func validatePin(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return ErrInvalidPin
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return ErrInvalidPin
		}
	}
	return nil
}

func hashPin(pin string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	return string(b), err
}

func checkPin(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// internal/game/types.go
//
// Core type definitions for the battle engine.
// Defines:
//   - Kind: the piece types and their capability table.
//   - Direction: display facing of a piece.
//   - ParticipantState / PieceState / State: the wire shapes of snapshots.

package game

import (
	"fmt"
	"strings"
)

// Kind names a piece type.
type Kind string

const (
	KindHome    Kind = "Home"
	KindWarrior Kind = "Warrior"
)

// kindSpec is the per-kind capability table.
type kindSpec struct {
	movable     bool
	attackable  bool // may initiate attacks
	attackPower int
	health      int
	color       string
}

var kinds = map[Kind]kindSpec{
	KindHome:    {movable: false, attackable: false, attackPower: 0, health: 100, color: "blue"},
	KindWarrior: {movable: true, attackable: true, attackPower: 10, health: 100, color: "red"},
}

// ParseKind accepts a kind name in any letter case.
func ParseKind(s string) (Kind, error) {
	for k := range kinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// StartHealth is the health a freshly built piece of kind k starts with.
func StartHealth(k Kind) int { return kinds[k].health }

// AttackPower is the most damage one attack by kind k can deal.
func AttackPower(k Kind) int { return kinds[k].attackPower }

// Direction is the facing of a piece. Cosmetic only.
type Direction int

const (
	North Direction = iota
	East
	South
	West
)

// directionOf maps a unit move to the facing it produces. y grows southward.
func directionOf(dx, dy int) Direction {
	switch {
	case dx > 0:
		return East
	case dx < 0:
		return West
	case dy < 0:
		return North
	default:
		return South
	}
}

// Animation values pushed with piece_animation.
const (
	AnimIdle   = "idle"
	AnimWalk   = "walk"
	AnimAttack = "attack"
	AnimHeal   = "heal"
)

// ParticipantState is the public view of a participant.
type ParticipantState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PieceState is the public view of a piece.
type PieceState struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Color      string    `json:"color"`
	Movable    bool      `json:"movable"`
	Attackable bool      `json:"attackable"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Direction  Direction `json:"direction"`
	Health     int       `json:"health"`
	Owner      string    `json:"owner"`
}

// State is a full board snapshot.
type State struct {
	Round        int                `json:"round"`
	BoardSize    int                `json:"boardSize"`
	Participants []ParticipantState `json:"participants"`
	Pieces       []PieceState       `json:"pieces"`
}

// EmptyState is what rejected observers receive.
func EmptyState() State {
	return State{Participants: []ParticipantState{}, Pieces: []PieceState{}}
}

// internal/game/round.go
//
// Evaluation round lifecycle on the engine side.
//   OpenRound  -> grows the board, snapshots every present participant's
//                 program and creates their quota records.
//   Turn       -> hands out the capability handle for one participant.
//   CloseRound -> drops quota records, idles pieces that did nothing, and
//                 records the final snapshot in the lookback buffer.

package game

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	homesPerRound   = 1
	warriorsPerHome = 4
)

// Quota is the per-round build counter for one participant.
type Quota struct {
	OpeningHomes    int // homes owned at round open
	OpeningWarriors int // warriors owned at round open
	HomesBuilt      int
	WarriorsBuilt   int
}

// check reports whether one more build of kind k fits in this round.
// The warrior ceiling follows the homes owned right now, so a home built
// earlier in the same round already counts.
func (q *Quota) check(k Kind, homesOwned int) error {
	switch k {
	case KindHome:
		if q.HomesBuilt >= homesPerRound {
			return ruleErr(ErrQuotaExceeded, "You can only build %d Home per round.", homesPerRound)
		}
	case KindWarrior:
		limit := warriorsPerHome * homesOwned
		if q.WarriorsBuilt >= limit {
			return ruleErr(ErrQuotaExceeded,
				"You can only build %d Warriors per Home per round (%d Homes, %d built).",
				warriorsPerHome, homesOwned, q.WarriorsBuilt)
		}
	}
	return nil
}

func (q *Quota) count(k Kind) {
	switch k {
	case KindHome:
		q.HomesBuilt++
	case KindWarrior:
		q.WarriorsBuilt++
	}
}

// Entrant is a participant admitted to the round being opened.
type Entrant struct {
	ID      string
	Name    string
	Program string
}

// OpenRound starts an evaluation round and returns the entrants in join
// order. Participants who join after this call sit the round out.
func (e *Engine) OpenRound() []Entrant {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.round++
	if n := len(e.participants); n > 1 && e.opts.BoardGrowth > 0 {
		if e.grid.Grow(e.opts.BoardSize + e.opts.BoardGrowth*(n-1)) {
			log.Info().Int("size", e.grid.Size()).Msg("board grew")
		}
	}

	e.quotas = make(map[string]*Quota, len(e.participants))
	e.animated = make(map[string]bool)
	out := make([]Entrant, 0, len(e.participants))
	for _, p := range e.participants {
		e.quotas[p.id] = &Quota{
			OpeningHomes:    len(e.ownedLocked(p.id, KindHome)),
			OpeningWarriors: len(e.ownedLocked(p.id, KindWarrior)),
		}
		out = append(out, Entrant{ID: p.id, Name: p.name, Program: p.program})
	}
	return out
}

// RoundOpen reports whether a round is in progress.
func (e *Engine) RoundOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quotas != nil
}

// QuotaFor returns a copy of a participant's quota record for the open round.
func (e *Engine) QuotaFor(id string) (Quota, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotas[id]
	if !ok {
		return Quota{}, false
	}
	return *q, true
}

// CloseRound ends the open round and returns its final snapshot.
func (e *Engine) CloseRound() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pc := range e.pieces {
		if e.animated[pc.id] || pc.anim == AnimIdle {
			continue
		}
		pc.anim = AnimIdle
		e.broadcast(EventPieceAnimation, AnimationPayload{ID: pc.id, Animation: AnimIdle})
	}
	e.quotas = nil
	e.animated = nil

	st := e.stateLocked()
	e.history.Push(st)
	return st
}

// Turn returns the capability handle through which participant id acts
// during the open round.
func (e *Engine) Turn(id string) (*Turn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.quotas == nil {
		return nil, ErrNoRound
	}
	if _, ok := e.quotas[id]; !ok {
		return nil, fmt.Errorf("%w: %s is not in round %d", ErrUnknownParticipant, id, e.round)
	}
	p := e.byID[id]
	return &Turn{e: e, participant: p}, nil
}

// animate records that pc took an animated action this round.
func (e *Engine) animate(pc *Piece, anim string) {
	if e.animated != nil {
		e.animated[pc.id] = true
	}
	if pc.anim == anim {
		return
	}
	pc.anim = anim
	e.broadcast(EventPieceAnimation, AnimationPayload{ID: pc.id, Animation: anim})
}

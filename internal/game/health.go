package game

import (
	"context"
	"time"
)

// stepHealth walks pc's health toward goal one unit at a time, spending
// cost of wall time per unit. The piece is removed on the step that takes
// it to zero and nothing further is applied. When ctx ends mid-walk the
// steps already taken stay applied.
func (e *Engine) stepHealth(ctx context.Context, pc *Piece, goal int, cost time.Duration) error {
	var err error
	changed := false
	for {
		if err = ctx.Err(); err != nil {
			break
		}
		e.mu.Lock()
		rec, ok := e.grid.Lookup(pc.id)
		if !ok || rec.Health == goal {
			e.mu.Unlock()
			break
		}
		next := rec.Health + 1
		if goal < rec.Health {
			next = rec.Health - 1
		}
		if next <= 0 {
			e.removePieceLocked(pc)
			e.mu.Unlock()
			return nil
		}
		e.grid.SetHealth(pc.id, next)
		changed = true
		e.mu.Unlock()

		if err = pace(ctx, cost); err != nil {
			break
		}
	}
	if changed {
		e.mu.Lock()
		if pc.active() {
			e.broadcast(EventUpdatePiece, pc.state())
		}
		e.mu.Unlock()
	}
	return err
}

// pace blocks for d or until ctx ends.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

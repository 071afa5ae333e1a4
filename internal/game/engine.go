// internal/game/engine.go
//
// The rule engine: sole owner and mutator of board state.
// Responsibilities:
//   - Own the grid store, the piece list and the participant set.
//   - Join/authenticate/leave participants and store their programs.
//   - Produce deterministic snapshots (participants in join order, pieces in
//     build order) and keep a short lookback buffer of round results.
//   - Validate and apply participant actions (rules.go) within evaluation
//     rounds (round.go).
//
// Notes:
//   - One mutex serializes every access. Long-running actions (stepped
//     health changes, wasted-motion penalties) release it between steps so
//     observers and the request surface never wait longer than one step.
//   - Registry writes are best effort; the in-memory set is authoritative.

package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridbattle/internal/grid"
	"github.com/robalobadob/gridbattle/internal/store"
)

// Options configures an Engine.
type Options struct {
	BoardSize         int           // initial edge length
	BoardGrowth       int           // tiles added per participant beyond the first
	StepCost          time.Duration // wall time per unit of health change
	ForeignHealFactor int           // step cost multiplier when healing another participant's piece
	WastePenalty      time.Duration // wall time burned by an illegal attack
	MaxParticipants   int           // 0 = unlimited
	HistorySize       int           // round snapshots kept for lookback
	PinHashCost       int           // bcrypt cost; 0 = bcrypt.DefaultCost
	StarterProgram    string        // program text given to new participants
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		BoardSize:         10,
		BoardGrowth:       2,
		StepCost:          200 * time.Microsecond,
		ForeignHealFactor: 4,
		WastePenalty:      20 * time.Millisecond,
		HistorySize:       20,
	}
}

// Engine is one authoritative board.
type Engine struct {
	mu   sync.Mutex
	opts Options
	reg  store.Store

	grid         *grid.Store
	pieces       []*Piece
	pieceByID    map[string]*Piece
	participants []*Participant
	byID         map[string]*Participant
	byName       map[string]*Participant

	round    int
	quotas   map[string]*Quota // non-nil only while a round is open
	animated map[string]bool

	history *History
	sinks   []Sink
}

// New constructs an empty board. reg may be nil for a registry-less engine.
func New(opts Options, reg store.Store) *Engine {
	if opts.ForeignHealFactor < 1 {
		opts.ForeignHealFactor = 1
	}
	if reg == nil {
		reg = store.NewMemoryStore()
	}
	return &Engine{
		opts:      opts,
		reg:       reg,
		grid:      grid.New(opts.BoardSize),
		pieceByID: make(map[string]*Piece),
		byID:      make(map[string]*Participant),
		byName:    make(map[string]*Participant),
		history:   NewHistory(opts.HistorySize),
	}
}

// AddSink registers an event consumer.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Options returns the engine configuration.
func (e *Engine) Options() Options { return e.opts }

// Restore loads the participant registry. Restored participants own no
// pieces. Call once before the scheduler starts. It fails with ErrBoardFull
// when the registry holds more participants than MaxParticipants allows.
func (e *Engine) Restore(ctx context.Context) error {
	recs, err := e.reg.ListParticipants(ctx)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit := e.opts.MaxParticipants; limit > 0 && len(e.participants)+len(recs) > limit {
		log.Error().Int("registered", len(recs)).Int("maxParticipants", limit).
			Msg("registry holds more participants than one round can fit")
		return fmt.Errorf("%w: registry holds %d participants, ceiling is %d", ErrBoardFull, len(recs), limit)
	}
	for _, r := range recs {
		if _, dup := e.byID[r.ID]; dup {
			continue
		}
		p := &Participant{id: r.ID, name: r.Name, pinHash: r.PinHash, program: r.Program, createdAt: r.CreatedAt, e: e}
		e.addParticipantLocked(p)
	}
	log.Info().Int("participants", len(recs)).Msg("registry restored")
	return nil
}

// Join adds a participant called name, or re-authenticates an existing one.
// created reports whether a new participant was made.
func (e *Engine) Join(ctx context.Context, name, pin string) (p *Participant, created bool, err error) {
	name = normalizeName(name)
	if err := validateName(name); err != nil {
		return nil, false, err
	}

	e.mu.Lock()
	existing := e.byName[name]
	e.mu.Unlock()
	if existing != nil {
		// a known name is an authentication attempt, whatever the pin looks like
		if !checkPin(existing.pinHash, pin) {
			return nil, false, ErrBadPin
		}
		return existing, false, nil
	}
	if err := validatePin(pin); err != nil {
		return nil, false, err
	}

	hash, err := hashPin(pin, e.opts.PinHashCost)
	if err != nil {
		return nil, false, fmt.Errorf("hash pin: %w", err)
	}

	e.mu.Lock()
	if existing := e.byName[name]; existing != nil {
		// lost a race with a concurrent join for the same name
		e.mu.Unlock()
		if !checkPin(existing.pinHash, pin) {
			return nil, false, ErrBadPin
		}
		return existing, false, nil
	}
	if e.opts.MaxParticipants > 0 && len(e.participants) >= e.opts.MaxParticipants {
		e.mu.Unlock()
		return nil, false, ErrBoardFull
	}
	p = &Participant{
		id:        uuid.NewString(),
		name:      name,
		pinHash:   hash,
		program:   e.opts.StarterProgram,
		createdAt: time.Now().UTC(),
		e:         e,
	}
	e.addParticipantLocked(p)
	e.broadcast(EventNewParticipant, p.State())
	rec := p.record()
	e.mu.Unlock()

	if err := e.reg.SaveParticipant(ctx, rec); err != nil {
		log.Warn().Err(err).Str("participant", p.id).Msg("persist participant")
	}
	log.Info().Str("participant", p.id).Str("name", name).Msg("participant joined")
	return p, true, nil
}

func (e *Engine) addParticipantLocked(p *Participant) {
	e.participants = append(e.participants, p)
	e.byID[p.id] = p
	e.byName[p.name] = p
}

func (p *Participant) record() store.Participant {
	return store.Participant{ID: p.id, Name: p.name, PinHash: p.pinHash, Program: p.program, CreatedAt: p.createdAt}
}

// Authenticate checks pin against participant id.
func (e *Engine) Authenticate(id, pin string) (*Participant, error) {
	p, err := e.Participant(id)
	if err != nil {
		return nil, err
	}
	if !checkPin(p.pinHash, pin) {
		return nil, ErrBadPin
	}
	return p, nil
}

// Participant looks a participant up by id.
func (e *Engine) Participant(id string) (*Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return nil, ErrUnknownParticipant
	}
	return p, nil
}

// ParticipantCount is the number of present participants.
func (e *Engine) ParticipantCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.participants)
}

// SetProgram replaces a participant's program. It is picked up at the next
// round open and pushed to all of the owner's channels.
func (e *Engine) SetProgram(ctx context.Context, id, code string) error {
	e.mu.Lock()
	p, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownParticipant
	}
	p.program = code
	e.sendTo(id, EventProgramChanged, ProgramPayload{Code: code})
	rec := p.record()
	e.mu.Unlock()

	if err := e.reg.SaveParticipant(ctx, rec); err != nil {
		log.Warn().Err(err).Str("participant", id).Msg("persist program")
	}
	return nil
}

// Leave removes a participant and every piece it owns.
func (e *Engine) Leave(ctx context.Context, id string) error {
	e.mu.Lock()
	p, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownParticipant
	}
	for _, pc := range e.ownedLocked(id, "") {
		e.removePieceLocked(pc)
	}
	delete(e.byID, id)
	delete(e.byName, p.name)
	for i, q := range e.participants {
		if q == p {
			e.participants = append(e.participants[:i], e.participants[i+1:]...)
			break
		}
	}
	if e.quotas != nil {
		delete(e.quotas, id)
	}
	e.broadcast(EventGameState, e.stateLocked())
	e.mu.Unlock()

	if err := e.reg.DeleteParticipant(ctx, id); err != nil {
		log.Warn().Err(err).Str("participant", id).Msg("delete participant")
	}
	log.Info().Str("participant", id).Msg("participant left")
	return nil
}

// Log delivers a diagnostic line to a participant's channels.
func (e *Engine) Log(participantID, message, level string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendTo(participantID, EventLog, LogPayload{Message: message, Level: level})
}

// SendState pushes the current snapshot to every observer.
func (e *Engine) SendState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcast(EventGameState, e.stateLocked())
}

// State returns a snapshot of the board.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	st := State{
		Round:        e.round,
		BoardSize:    e.grid.Size(),
		Participants: make([]ParticipantState, 0, len(e.participants)),
		Pieces:       make([]PieceState, 0, len(e.pieces)),
	}
	for _, p := range e.participants {
		st.Participants = append(st.Participants, p.State())
	}
	for _, pc := range e.pieces {
		if pc.active() {
			st.Pieces = append(st.Pieces, pc.state())
		}
	}
	return st
}

// History returns the lookback buffer, oldest first.
func (e *Engine) History() []State { return e.history.List() }

// Piece looks up a live piece by id.
func (e *Engine) Piece(id string) (*Piece, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.pieceByID[id]
	if !ok || !pc.active() {
		return nil, false
	}
	return pc, true
}

// PieceAt returns the piece on c, if any.
func (e *Engine) PieceAt(c grid.Coord) (*Piece, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.grid.At(c)
	if !ok {
		return nil, false
	}
	return e.pieceByID[rec.PieceID], true
}

// BoardSize is the current edge length.
func (e *Engine) BoardSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grid.Size()
}

func (e *Engine) removePieceLocked(pc *Piece) {
	e.grid.RemoveID(pc.id)
	delete(e.pieceByID, pc.id)
	for i, q := range e.pieces {
		if q == pc {
			e.pieces = append(e.pieces[:i], e.pieces[i+1:]...)
			break
		}
	}
	e.broadcast(EventRemovePiece, RemovePayload{ID: pc.id})
}

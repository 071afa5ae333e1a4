// internal/game/events.go
//
// Outbound event vocabulary. The engine publishes through Sink and never
// knows about sockets; internal/hub implements Sink over websockets.

package game

import "github.com/robalobadob/gridbattle/internal/grid"

// EventType names a push-channel event.
type EventType string

const (
	EventGameState        EventType = "game_state"
	EventNewParticipant   EventType = "new_participant"
	EventNewPiece         EventType = "new_piece"
	EventMovePiece        EventType = "move_piece"
	EventUpdatePiece      EventType = "update_piece"
	EventUpdatePieceField EventType = "update_piece_field"
	EventRemovePiece      EventType = "remove_piece"
	EventPieceAnimation   EventType = "piece_animation"
	EventPieceDirection   EventType = "piece_direction"
	EventLog              EventType = "log"
	EventProgramChanged   EventType = "program_changed"
)

// Event is one push-channel message.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Sink receives engine events. Implementations are called with the engine
// lock held: they must not block and must not call back into the engine.
type Sink interface {
	Broadcast(ev Event)
	Send(participantID string, ev Event)
}

// Log severities.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

type MovePayload struct {
	ID        string     `json:"id"`
	From      grid.Coord `json:"from"`
	To        grid.Coord `json:"to"`
	Direction Direction  `json:"direction"`
}

type FieldPayload struct {
	ID    string `json:"id"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

type RemovePayload struct {
	ID string `json:"id"`
}

type AnimationPayload struct {
	ID        string `json:"id"`
	Animation string `json:"animation"`
}

type DirectionPayload struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
}

type LogPayload struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

type ProgramPayload struct {
	Code string `json:"code"`
}

func (e *Engine) broadcast(t EventType, payload any) {
	ev := Event{Type: t, Payload: payload}
	for _, s := range e.sinks {
		s.Broadcast(ev)
	}
}

func (e *Engine) sendTo(participantID string, t EventType, payload any) {
	ev := Event{Type: t, Payload: payload}
	for _, s := range e.sinks {
		s.Send(participantID, ev)
	}
}

package game

import (
	"errors"
	"fmt"
)

// Validation checks. A RuleError always unwraps to exactly one of these.
var (
	ErrInactiveTile  = errors.New("inactive tile")
	ErrTileOccupied  = errors.New("tile occupied")
	ErrQuotaExceeded = errors.New("build quota exceeded")
	ErrPlacement     = errors.New("illegal placement")
	ErrNotOwner      = errors.New("piece not owned")
	ErrNotMovable    = errors.New("piece not movable")
	ErrBadMove       = errors.New("illegal move")
	ErrBadAmount     = errors.New("illegal amount")
	ErrUnknownPiece  = errors.New("unknown piece")
	ErrUnknownKind   = errors.New("unknown piece kind")
	ErrBadRadius     = errors.New("illegal view radius")
)

// Participant and round errors.
var (
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrBadPin             = errors.New("pin does not match")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidPin         = errors.New("pin must be 4-8 digits")
	ErrBoardFull          = errors.New("participant capacity reached")
	ErrNoRound            = errors.New("no evaluation round open")
)

// RuleError is a participant-visible validation failure.
type RuleError struct {
	Check error
	Msg   string
}

func (e *RuleError) Error() string { return e.Msg }

func (e *RuleError) Unwrap() error { return e.Check }

func ruleErr(check error, format string, args ...any) error {
	return &RuleError{Check: check, Msg: fmt.Sprintf(format, args...)}
}

// IsRuleError reports whether err is a validation failure.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

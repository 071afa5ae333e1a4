// internal/config/config.go
//
// Environment-driven configuration.
// Responsibilities:
//   - Load .env (if present) and read every knob from the environment with
//     a sensible default.
//   - Validate the timing budget: every participant must be able to use its
//     full turn timeout inside one round period, minus a safety margin.
//   - Hand the engine, scheduler and executor their settings.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/robalobadob/gridbattle/internal/game"
	"github.com/robalobadob/gridbattle/internal/scheduler"
)

// Config is the full runtime configuration.
type Config struct {
	Port     string
	LogLevel zerolog.Level

	Tick         time.Duration
	Round        time.Duration
	SafetyMargin time.Duration
	TurnTimeout  time.Duration

	BoardSize         int
	BoardGrowth       int
	StepCost          time.Duration
	ForeignHealFactor int
	WastePenalty      time.Duration
	HistorySize       int
	// MaxParticipantsOverride caps the participant count below the budget.
	// Zero means "as many as the budget allows".
	MaxParticipantsOverride int

	DBPath         string
	JWTSecret      string
	JWTExpiresDays int
	ClientOrigin   string
	PinHashCost    int
}

// Load reads .env and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. Malformed numbers are errors.
func FromEnv(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}
	c := Config{
		Port:                    r.str("PORT", "5175"),
		Tick:                    r.millis("TICK_MS", 250),
		Round:                   r.millis("ROUND_MS", 5000),
		SafetyMargin:            r.millis("SAFETY_MARGIN_MS", 1000),
		TurnTimeout:             r.millis("TURN_TIMEOUT_MS", 200),
		BoardSize:               r.int("BOARD_SIZE", 10),
		BoardGrowth:             r.int("BOARD_GROWTH", 2),
		StepCost:                time.Duration(r.int("STEP_COST_US", 200)) * time.Microsecond,
		ForeignHealFactor:       r.int("FOREIGN_HEAL_FACTOR", 4),
		WastePenalty:            r.millis("WASTE_PENALTY_MS", 20),
		HistorySize:             r.int("HISTORY_SIZE", 20),
		MaxParticipantsOverride: r.int("MAX_PARTICIPANTS", 0),
		DBPath:                  r.str("DB_PATH", ""),
		JWTSecret:               r.str("JWT_SECRET", "dev_secret_change_me"),
		JWTExpiresDays:          r.int("JWT_EXPIRES_DAYS", 14),
		ClientOrigin:            r.str("CLIENT_ORIGIN", "http://localhost:5173"),
		PinHashCost:             r.int("PIN_HASH_COST", 0),
	}
	lvl, err := zerolog.ParseLevel(r.str("LOG_LEVEL", "info"))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	c.LogLevel = lvl
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	return c, c.Validate()
}

// Validate checks the timing budget and basic ranges.
func (c Config) Validate() error {
	switch {
	case c.Tick <= 0 || c.Round <= 0 || c.TurnTimeout <= 0:
		return errors.New("tick, round and turn timeout must be positive")
	case c.Round%c.Tick != 0:
		return fmt.Errorf("round period %s is not a multiple of tick period %s", c.Round, c.Tick)
	case c.SafetyMargin < 0 || c.SafetyMargin >= c.Round:
		return fmt.Errorf("safety margin %s must be within the round period %s", c.SafetyMargin, c.Round)
	case c.BoardSize <= 0:
		return errors.New("board size must be positive")
	case c.BoardGrowth < 0 || c.HistorySize < 0 || c.MaxParticipantsOverride < 0:
		return errors.New("board growth, history size and max participants cannot be negative")
	case c.ForeignHealFactor < 1:
		return errors.New("foreign heal factor must be at least 1")
	}
	if c.MaxParticipants() < 1 {
		return fmt.Errorf("turn timeout %s leaves no room for a participant in %s", c.TurnTimeout, c.Round-c.SafetyMargin)
	}
	if c.MaxParticipantsOverride > c.budget() {
		return fmt.Errorf("MAX_PARTICIPANTS %d exceeds the %d that fit %s turns in a %s round",
			c.MaxParticipantsOverride, c.budget(), c.TurnTimeout, c.Round-c.SafetyMargin)
	}
	return nil
}

// budget is how many full turns fit in one round.
func (c Config) budget() int {
	if c.TurnTimeout <= 0 {
		return 0
	}
	return int((c.Round - c.SafetyMargin) / c.TurnTimeout)
}

// MaxParticipants is the admitted participant ceiling.
func (c Config) MaxParticipants() int {
	if c.MaxParticipantsOverride > 0 && c.MaxParticipantsOverride < c.budget() {
		return c.MaxParticipantsOverride
	}
	return c.budget()
}

// EngineOptions translates the config for game.New.
func (c Config) EngineOptions(starter string) game.Options {
	return game.Options{
		BoardSize:         c.BoardSize,
		BoardGrowth:       c.BoardGrowth,
		StepCost:          c.StepCost,
		ForeignHealFactor: c.ForeignHealFactor,
		WastePenalty:      c.WastePenalty,
		MaxParticipants:   c.MaxParticipants(),
		HistorySize:       c.HistorySize,
		PinHashCost:       c.PinHashCost,
		StarterProgram:    starter,
	}
}

// Scheduler returns the scheduler timing.
func (c Config) Scheduler() scheduler.Config {
	return scheduler.Config{Tick: c.Tick, Round: c.Round}
}

type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) str(k, def string) string {
	if v := r.getenv(k); v != "" {
		return v
	}
	return def
}

func (r *reader) int(k string, def int) int {
	v := r.getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", k, v))
		return def
	}
	return n
}

func (r *reader) millis(k string, def int) time.Duration {
	return time.Duration(r.int(k, def)) * time.Millisecond
}

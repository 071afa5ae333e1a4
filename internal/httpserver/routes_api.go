// internal/httpserver/routes_api.go
//
// Participant-facing API under /api:
//   - POST   /api/join               → register or re-enter by name + pin
//   - POST   /api/program            → replace the caller's program (auth)
//   - GET    /api/state              → current board snapshot
//   - GET    /api/history            → recent round snapshots, oldest first
//   - DELETE /api/participants/{id}  → leave the game (auth)

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridbattle/internal/game"
)

func (s *Server) mountAPI(r chi.Router) {
	r.Post("/join", s.handleJoin)
	r.Get("/state", s.handleState)
	r.Get("/history", s.handleHistory)
	r.With(s.requireAuth).Post("/program", s.handleProgram)
	r.With(s.requireAuth).Delete("/participants/{id}", s.handleLeave)
}

type joinReq struct {
	Name string `json:"name"`
	Pin  string `json:"pin"`
}

// handleJoin registers a new participant or re-admits one whose pin matches.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}
	p, created, err := s.eng.Join(r.Context(), req.Name, req.Pin)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrInvalidName), errors.Is(err, game.ErrInvalidPin):
			fail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, game.ErrBadPin):
			fail(w, http.StatusUnauthorized, "That name is taken and the pin does not match.")
		case errors.Is(err, game.ErrBoardFull):
			fail(w, http.StatusConflict, "The game is full. Try again later.")
		default:
			log.Error().Err(err).Msg("join")
			fail(w, http.StatusInternalServerError, "join failed")
		}
		return
	}
	tok, exp, err := s.signJWT(p.ID(), p.Name())
	if err != nil {
		log.Error().Err(err).Msg("sign token")
		fail(w, http.StatusInternalServerError, "sign failed")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond(w, status, map[string]any{
		"participant": p.State(),
		"created":     created,
		"token":       tok,
		"expires":     exp.UTC(),
		"game":        s.eng.State(),
	})
}

type programReq struct {
	ParticipantID string `json:"participant_id"`
	Code          string `json:"code"`
}

// handleProgram replaces the caller's program. The new text is used from the
// next round on.
func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	me := currentParticipant(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxProgramSize)
	var req programReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(w, http.StatusRequestEntityTooLarge, "program too large")
			return
		}
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ParticipantID == "" {
		req.ParticipantID = me.ID
	}
	if req.ParticipantID != me.ID {
		fail(w, http.StatusForbidden, "You can only change your own program.")
		return
	}
	if err := s.eng.SetProgram(r.Context(), me.ID, req.Code); err != nil {
		if errors.Is(err, game.ErrUnknownParticipant) {
			fail(w, http.StatusNotFound, "participant not found")
			return
		}
		log.Error().Err(err).Str("participant", me.ID).Msg("set program")
		fail(w, http.StatusInternalServerError, "save failed")
		return
	}
	respond(w, http.StatusOK, nil)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"game": s.eng.State()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"rounds": s.eng.History()})
}

// handleLeave removes the caller and all of their pieces.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	me := currentParticipant(r)
	id := chi.URLParam(r, "id")
	if id != me.ID {
		fail(w, http.StatusForbidden, "You can only remove yourself.")
		return
	}
	if err := s.eng.Leave(r.Context(), id); err != nil {
		if errors.Is(err, game.ErrUnknownParticipant) {
			fail(w, http.StatusNotFound, "participant not found")
			return
		}
		log.Error().Err(err).Str("participant", id).Msg("leave")
		fail(w, http.StatusInternalServerError, "leave failed")
		return
	}
	respond(w, http.StatusOK, nil)
}

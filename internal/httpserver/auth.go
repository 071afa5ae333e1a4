// internal/httpserver/auth.go
//
// Bearer tokens for participants.
// Join issues an HS256 JWT carrying the participant id and name; requireAuth
// verifies it and checks that the participant is still registered.

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// authParticipant is placed into request context by requireAuth.
type authParticipant struct {
	ID   string
	Name string
}

type ctxParticipantKey struct{}

// signJWT creates an HS256 JWT with id/name and the configured expiry.
func (s *Server) signJWT(id, name string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(time.Duration(s.cfg.JWTExpiresDays) * 24 * time.Hour)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   id,
		"name": name,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	})
	ss, err := t.SignedString([]byte(s.cfg.JWTSecret))
	return ss, exp, err
}

// parseJWT verifies tokenStr and returns its subject.
func (s *Server) parseJWT(tokenStr string) (*authParticipant, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	id, _ := claims["id"].(string)
	name, _ := claims["name"].(string)
	if id == "" {
		return nil, errors.New("token has no subject")
	}
	return &authParticipant{ID: id, Name: name}, nil
}

// bearer extracts a bearer token from the Authorization header.
func bearer(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return ""
}

// requireAuth enforces a valid JWT and injects the participant into the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearer(r)
		if tokenStr == "" {
			fail(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		me, err := s.parseJWT(tokenStr)
		if err != nil {
			fail(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		// Ensure the participant is still registered
		if _, err := s.eng.Participant(me.ID); err != nil {
			fail(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxParticipantKey{}, me)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentParticipant(r *http.Request) *authParticipant {
	me, _ := r.Context().Value(ctxParticipantKey{}).(*authParticipant)
	return me
}

package ws

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vowsuite/notify/internal/domain"
)

// Session is the authenticated identity behind one socket. Rooms is the set
// the token grants access to; join requests outside it are refused.
type Session struct {
	UserID string
	Rooms  []string
}

// CanJoin reports whether the session's token authorizes the room.
func (s *Session) CanJoin(room string) bool {
	for _, r := range s.Rooms {
		if r == room {
			return true
		}
	}
	return false
}

type sessionClaims struct {
	Rooms []string `json:"rooms,omitempty"`
	jwt.RegisteredClaims
}

// ParseSession validates an HMAC-signed token and extracts the session.
// Expiry and signature failures both collapse to ErrUnauthorized: the client
// gets no detail about which check failed.
func ParseSession(tokenString, secret string) (*Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrUnauthorized
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return nil, domain.ErrUnauthorized
	}
	return &Session{UserID: claims.Subject, Rooms: claims.Rooms}, nil
}

// SignSession issues a token for the given session. Used by tests and by
// upstream services that mint socket credentials.
func SignSession(s *Session, secret string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = s.UserID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &sessionClaims{
		Rooms:            s.Rooms,
		RegisteredClaims: claims,
	})
	return token.SignedString([]byte(secret))
}

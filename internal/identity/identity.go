// Package identity answers "who is signed in" for the sync layer.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"budgetsync/internal/core"
)

// User is the signed-in principal. UID scopes every remote path.
type User struct {
	UID string
}

type Provider interface {
	// CurrentUser returns core.ErrNotAuthenticated when nobody is signed in.
	CurrentUser(ctx context.Context) (User, error)
}

// Static always reports the configured uid.
type Static struct {
	UID string
}

func (s Static) CurrentUser(context.Context) (User, error) {
	if strings.TrimSpace(s.UID) == "" {
		return User{}, core.ErrNotAuthenticated
	}
	return User{UID: s.UID}, nil
}

// Session holds an HS256-signed token. The uid comes from the "uid" claim,
// falling back to "sub". The token is re-validated on every call so an
// expired session stops authenticating without a sign-out.
type Session struct {
	mu     sync.RWMutex
	secret []byte
	token  string
	now    func() time.Time
}

func NewSession(secret string) *Session {
	return &Session{secret: []byte(secret), now: time.Now}
}

// SignIn validates and stores the token.
func (s *Session) SignIn(token string) (User, error) {
	u, err := s.parse(token)
	if err != nil {
		return User{}, err
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return u, nil
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *Session) CurrentUser(context.Context) (User, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return User{}, core.ErrNotAuthenticated
	}
	return s.parse(token)
}

func (s *Session) parse(tokenString string) (User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", core.ErrNotAuthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, fmt.Errorf("%w: unexpected claims", core.ErrNotAuthenticated)
	}
	uid, _ := claims["uid"].(string)
	if uid == "" {
		uid, _ = claims.GetSubject()
	}
	if uid == "" {
		return User{}, fmt.Errorf("%w: token has no uid or sub claim", core.ErrNotAuthenticated)
	}
	return User{UID: uid}, nil
}

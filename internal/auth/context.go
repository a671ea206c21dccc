package auth

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"nawra-portal/internal/session"
)

type ctxKey int

const (
	ctxSession ctxKey = iota
)

const ginSessionKey = "session"

var ErrNoSession = errors.New("session not in context")

func WithSession(ctx context.Context, st *session.Store) context.Context {
	return context.WithValue(ctx, ctxSession, st)
}

func Session(ctx context.Context) (*session.Store, error) {
	if st, ok := ctx.Value(ctxSession).(*session.Store); ok && st != nil {
		return st, nil
	}
	return nil, ErrNoSession
}

// SessionFromGin returns the store LoadSession attached, if any.
func SessionFromGin(c *gin.Context) (*session.Store, bool) {
	if v, ok := c.Get(ginSessionKey); ok {
		if st, ok := v.(*session.Store); ok && st != nil {
			return st, true
		}
	}
	st, err := Session(c.Request.Context())
	return st, err == nil
}

// StateFromGin is the session state of the request; zero when there is no session.
func StateFromGin(c *gin.Context) session.State {
	if st, ok := SessionFromGin(c); ok {
		return st.State()
	}
	return session.State{}
}

func attach(c *gin.Context, st *session.Store) {
	c.Request = c.Request.WithContext(WithSession(c.Request.Context(), st))
	c.Set(ginSessionKey, st)
}

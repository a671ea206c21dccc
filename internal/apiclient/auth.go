package apiclient

import (
	"context"
	"errors"
	"net/http"

	"nawra-portal/internal/session"
)

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type LoginResponse struct {
	User   session.Identity `json:"user"`
	Tokens TokenPair        `json:"tokens"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Tokens TokenPair `json:"tokens"`
}

var errEmptyTokens = errors.New("backend returned an empty token pair")

// Login exchanges credentials for an identity and token pair. A 401 here means
// invalid credentials and is never retried.
func (c *Client) Login(ctx context.Context, in LoginRequest) (LoginResponse, error) {
	req, err := JSONRequest(http.MethodPost, "/auth/login", in)
	if err != nil {
		return LoginResponse{}, err
	}
	var out LoginResponse
	if err := c.call(ctx, req, "", &out); err != nil {
		return LoginResponse{}, err
	}
	if out.Tokens.AccessToken == "" || out.User.ID == "" {
		return LoginResponse{}, &UnknownError{Status: http.StatusOK, Err: errEmptyTokens}
	}
	return out, nil
}

// Refresh mints a new pair from refreshToken. Backends that rotate refresh
// tokens invalidate the old one, so callers go through refreshShared.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	req, err := JSONRequest(http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return TokenPair{}, err
	}
	var out refreshResponse
	if err := c.call(ctx, req, "", &out); err != nil {
		return TokenPair{}, err
	}
	if out.Tokens.AccessToken == "" {
		return TokenPair{}, &UnknownError{Status: http.StatusOK, Err: errEmptyTokens}
	}
	return out.Tokens, nil
}

// RevokeSession tells the backend to end the session. Best effort: the caller
// clears local state regardless of the outcome.
func (c *Client) RevokeSession(ctx context.Context, accessToken, refreshToken string) error {
	req, err := JSONRequest(http.MethodPost, "/auth/logout", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	return c.call(ctx, req, accessToken, nil)
}

package mockbackend

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "nawra-library"

// accessClaims is the access token body. Gen ties a token to a key generation
// so tests can expire every outstanding token at once.
type accessClaims struct {
	jwt.RegisteredClaims

	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Gen    int64  `json:"gen"`
}

var (
	errTokenStale   = errors.New("token generation revoked")
	errRefreshGone  = errors.New("refresh token unknown or already used")
	errRefreshStale = errors.New("refresh token expired")
)

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

// tokenIssuer mints HS256 access tokens and opaque, single-use refresh tokens.
type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu       sync.Mutex
	gen      int64
	refreshs map[string]refreshEntry
}

func newTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *tokenIssuer {
	return &tokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		refreshs:   map[string]refreshEntry{},
	}
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (t *tokenIssuer) issuePair(now time.Time, u *user) (tokenPair, error) {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			ID:        uuid.NewString(),
		},
		UserID: u.identity.ID,
		Role:   u.identity.Role,
		Gen:    gen,
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return tokenPair{}, err
	}

	refresh := uuid.NewString()
	t.mu.Lock()
	t.refreshs[refresh] = refreshEntry{userID: u.identity.ID, expiresAt: now.Add(t.refreshTTL)}
	t.mu.Unlock()

	return tokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (t *tokenIssuer) verifyAccess(raw string, now time.Time) (accessClaims, error) {
	var claims accessClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}); err != nil {
		return accessClaims{}, err
	}
	if claims.UserID == "" {
		return accessClaims{}, errors.New("user_id missing")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if claims.Gen < t.gen {
		return accessClaims{}, errTokenStale
	}
	return claims, nil
}

// consumeRefresh validates and invalidates raw. Every refresh token works once.
func (t *tokenIssuer) consumeRefresh(raw string, now time.Time) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.refreshs[raw]
	if !ok {
		return "", errRefreshGone
	}
	delete(t.refreshs, raw)
	if !now.Before(e.expiresAt) {
		return "", errRefreshStale
	}
	return e.userID, nil
}

func (t *tokenIssuer) revokeRefresh(raw string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.refreshs, raw)
}

// expireAccess invalidates every access token issued so far.
func (t *tokenIssuer) expireAccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
}

// Package mockbackend is an in-memory stand-in for the library backend's auth
// and catalog endpoints. It rotates refresh tokens on every use, which is the
// behavior the session pipeline has to survive.
package mockbackend

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"nawra-portal/internal/session"
)

type Options struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Users      []SeedUser
	// BcryptCost defaults to bcrypt.DefaultCost; tests use bcrypt.MinCost.
	BcryptCost int
	Clock      func() time.Time
	Logger     *slog.Logger
}

type Book struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn"`
}

// Server is the fake backend. The exported hooks let tests script failures.
type Server struct {
	tokens *tokenIssuer
	users  *userDirectory
	clock  func() time.Time
	log    *slog.Logger

	failNext      atomic.Int64
	refreshCalls  atomic.Int64
	rejectRefresh atomic.Bool
	refreshDelay  atomic.Int64

	mu    sync.Mutex
	books []Book
}

func New(opts Options) (*Server, error) {
	if opts.Secret == "" {
		opts.Secret = "mock-secret"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = session.DefaultRefreshTTL
	}
	if opts.Users == nil {
		opts.Users = DefaultUsers()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	users, err := newUserDirectory(opts.Users, opts.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &Server{
		tokens: newTokenIssuer(opts.Secret, opts.AccessTTL, opts.RefreshTTL),
		users:  users,
		clock:  opts.Clock,
		log:    opts.Logger,
		books: []Book{
			{ID: "b-1", Title: "Season of Migration to the North", Author: "Tayeb Salih", ISBN: "9780435909666"},
			{ID: "b-2", Title: "The Cairo Trilogy", Author: "Naguib Mahfouz", ISBN: "9780375413315"},
			{ID: "b-3", Title: "Men in the Sun", Author: "Ghassan Kanafani", ISBN: "9780894108570"},
		},
	}, nil
}

// FailNext makes the next n authenticated requests answer 401 regardless of the token.
func (s *Server) FailNext(n int) { s.failNext.Store(int64(n)) }

// RefreshCalls reports how many times /auth/refresh was hit.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// RejectRefresh makes /auth/refresh answer 401 while set.
func (s *Server) RejectRefresh(v bool) { s.rejectRefresh.Store(v) }

// SetRefreshDelay holds every refresh for d before answering.
func (s *Server) SetRefreshDelay(d time.Duration) { s.refreshDelay.Store(int64(d)) }

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() { s.tokens.expireAccess() }

// Handler builds the gin engine. Routes mirror the backend's /api/v1 tree
// relative to the base URL.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	a := r.Group("/auth")
	a.POST("/login", s.login)
	a.POST("/refresh", s.refresh)
	a.POST("/logout", s.logout)
	a.GET("/me", s.requireAccess(), s.me)

	r.GET("/books", s.requireAccess(), s.requirePermission("books.read"), s.listBooks)
	r.POST("/books", s.requireAccess(), s.requirePermission("books.write"), s.createBook)
	return r
}

type loginBody struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func (s *Server) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid json"})
		return
	}
	var errs []fieldError
	if strings.TrimSpace(body.Email) == "" {
		errs = append(errs, fieldError{Loc: []string{"body", "email"}, Msg: "field required", Type: "missing"})
	} else if !strings.Contains(body.Email, "@") {
		errs = append(errs, fieldError{Loc: []string{"body", "email"}, Msg: "value is not a valid email address", Type: "value_error"})
	}
	if body.Password == "" {
		errs = append(errs, fieldError{Loc: []string{"body", "password"}, Msg: "field required", Type: "missing"})
	}
	if len(errs) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": errs})
		return
	}

	u := s.users.authenticate(body.Email, body.Password)
	if u == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid email or password"})
		return
	}
	if !u.identity.IsActive {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Account is disabled"})
		return
	}
	pair, err := s.tokens.issuePair(s.clock(), u)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u.identity, "tokens": pair})
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(c *gin.Context) {
	s.refreshCalls.Add(1)
	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		time.Sleep(d)
	}
	if s.rejectRefresh.Load() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Refresh token expired"})
		return
	}
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil || body.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "refresh_token required"})
		return
	}
	userID, err := s.tokens.consumeRefresh(body.RefreshToken, s.clock())
	if err != nil {
		s.log.Debug("refresh rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
		return
	}
	u := s.users.get(userID)
	if u == nil || !u.identity.IsActive {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
		return
	}
	pair, err := s.tokens.issuePair(s.clock(), u)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": pair})
}

func (s *Server) logout(c *gin.Context) {
	var body refreshBody
	_ = c.ShouldBindJSON(&body)
	if body.RefreshToken != "" {
		s.tokens.revokeRefresh(body.RefreshToken)
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Logged out"})
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c).identity)
}

func (s *Server) listBooks(c *gin.Context) {
	s.mu.Lock()
	out := make([]Book, len(s.books))
	copy(out, s.books)
	s.mu.Unlock()

	if q := strings.ToLower(c.Query("q")); q != "" {
		filtered := out[:0]
		for _, b := range out {
			if strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q) {
				filtered = append(filtered, b)
			}
		}
		out = filtered
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "total": len(out)})
}

func (s *Server) createBook(c *gin.Context) {
	var b Book
	if err := c.ShouldBindJSON(&b); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid json"})
		return
	}
	if strings.TrimSpace(b.Title) == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []fieldError{
			{Loc: []string{"body", "title"}, Msg: "field required", Type: "missing"},
		}})
		return
	}
	s.mu.Lock()
	b.ID = "b-" + uuid.NewString()[:8]
	s.books = append(s.books, b)
	s.mu.Unlock()
	c.JSON(http.StatusCreated, b)
}

const ctxUser = "mockbackend.user"

func currentUser(c *gin.Context) *user {
	v, _ := c.Get(ctxUser)
	u, _ := v.(*user)
	return u
}

func (s *Server) requireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.consumeForcedFailure() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Token expired"})
			return
		}
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(raw, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		claims, err := s.tokens.verifyAccess(strings.TrimPrefix(raw, "Bearer "), s.clock())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Token expired"})
			return
		}
		u := s.users.get(claims.UserID)
		if u == nil || !u.identity.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		c.Set(ctxUser, u)
		c.Next()
	}
}

func (s *Server) requirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := currentUser(c)
		if u == nil || !u.identity.HasPermission(perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Not enough permissions"})
			return
		}
		c.Next()
	}
}

func (s *Server) consumeForcedFailure() bool {
	for {
		n := s.failNext.Load()
		if n <= 0 {
			return false
		}
		if s.failNext.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

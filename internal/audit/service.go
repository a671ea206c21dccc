package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records session lifecycle events.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" || !e.Type.valid() {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record is Append for request paths: failures are logged and never surface.
// A nil Service is a no-op.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warn("audit append failed", "type", string(e.Type), "err", err)
	}
}

package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"librarium/internal/apperror"
	"librarium/internal/docstore"
)

// DefaultRegistrationLimit admits five registrations per minute.
func DefaultRegistrationLimit() *rate.Limiter {
	return rate.NewLimiter(rate.Every(1*time.Minute), 5)
}

// service implements the Service interface.
type service struct {
	store       docstore.Store
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewService creates a new membership service instance. A nil limiter
// admits every registration.
func NewService(store docstore.Store, limiter *rate.Limiter, logger *zap.Logger) Service {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &service{
		store:       store,
		rateLimiter: limiter,
		logger:      logger,
	}
}

// RegisterMember creates a new member.
func (s *service) RegisterMember(ctx context.Context, in MemberInput) (*Member, bool, error) {
	if !s.rateLimiter.Allow() {
		return nil, false, apperror.RateLimited("member registration")
	}

	member, err := in.ToMember()
	if err != nil {
		return nil, false, err
	}

	existing, err := s.findOne(ctx, docstore.Eq("email", member.Email))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, false, err
	}

	id, err := s.store.InsertOne(ctx, Collection, member)
	if errors.Is(err, docstore.ErrDuplicateID) {
		// Lost a race with a registration of the same email.
		existing, err := s.findOne(ctx, docstore.ByID(member.ID))
		return existing, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert member: %w", err)
	}

	created, err := s.findOne(ctx, docstore.ByID(id))
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("member registered", zap.String("member_id", id))
	return created, true, nil
}

// GetMember retrieves a member by its ID.
func (s *service) GetMember(ctx context.Context, id string) (*Member, error) {
	id, err := apperror.ParseID(id)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, docstore.ByID(id))
}

// GetMemberByEmail retrieves a member by exact email address.
func (s *service) GetMemberByEmail(ctx context.Context, email string) (*Member, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperror.Validation("email is required")
	}
	return s.findOne(ctx, docstore.Eq("email", email))
}

// ListMembers returns every member sorted by name.
func (s *service) ListMembers(ctx context.Context) ([]*Member, error) {
	cur, err := s.store.Find(ctx, Collection, nil, docstore.SortAsc("name"))
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	members, err := docstore.Collect[*Member](ctx, cur)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

func (s *service) findOne(ctx context.Context, filter docstore.Filter) (*Member, error) {
	var member Member
	if err := s.store.FindOne(ctx, Collection, filter, &member); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperror.NotFound("Member")
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &member, nil
}

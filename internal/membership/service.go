package membership

import (
	"context"
)

// Service defines the interface for the membership service.
type Service interface {
	// RegisterMember creates a member, or returns the existing one when the
	// email is already registered. created reports which happened.
	RegisterMember(ctx context.Context, in MemberInput) (member *Member, created bool, err error)
	GetMember(ctx context.Context, id string) (*Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*Member, error)
	ListMembers(ctx context.Context) ([]*Member, error)
}

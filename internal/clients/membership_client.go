package clients

import (
	"context"
	"net/http"
	"net/url"

	"librarium/internal/membership"
)

type MembershipClient struct {
	api *api
}

func NewMembershipClient(baseURL string, opts ...Option) *MembershipClient {
	return &MembershipClient{api: newAPI(baseURL, opts...)}
}

// RegisterMember registers a member and reports whether it was newly created.
func (c *MembershipClient) RegisterMember(ctx context.Context, in membership.MemberInput) (*membership.Member, bool, error) {
	var member membership.Member
	status, err := c.api.do(ctx, http.MethodPost, "/members", nil, in, &member)
	if err != nil {
		return nil, false, err
	}
	return &member, status == http.StatusCreated, nil
}

func (c *MembershipClient) GetMember(ctx context.Context, id string) (*membership.Member, error) {
	var member membership.Member
	if _, err := c.api.do(ctx, http.MethodGet, "/members/"+url.PathEscape(id), nil, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *MembershipClient) GetMemberByEmail(ctx context.Context, email string) (*membership.Member, error) {
	var member membership.Member
	q := url.Values{"email": {email}}
	if _, err := c.api.do(ctx, http.MethodGet, "/members/by-email", q, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *MembershipClient) ListMembers(ctx context.Context) ([]*membership.Member, error) {
	var members []*membership.Member
	if _, err := c.api.do(ctx, http.MethodGet, "/members", nil, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

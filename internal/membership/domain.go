package membership

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"librarium/internal/apperror"
)

// Collection holds the member documents.
const Collection = "members"

// memberNamespace derives member ids from email addresses, so concurrent
// registrations of one email converge on a single document.
var memberNamespace = uuid.MustParse("5d0f7b43-9c4e-4c8a-a8f1-3b6e1f2d9a10")

// Member represents a library member.
type Member struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemberInput is the accepted shape of a registration request.
type MemberInput struct {
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Phone *string `json:"phone"`
}

// ToMember maps the input onto a new, active Member.
func (in MemberInput) ToMember() (Member, error) {
	m := Member{
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.TrimSpace(in.Email),
		Phone:    in.Phone,
		IsActive: true,
	}
	switch {
	case m.Name == "":
		return m, apperror.Validation("name is required")
	case m.Email == "":
		return m, apperror.Validation("email is required")
	}
	m.ID = memberID(m.Email)
	return m, nil
}

func memberID(email string) string {
	return uuid.NewSHA1(memberNamespace, []byte(email)).String()
}

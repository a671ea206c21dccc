package mockbackend

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"nawra-portal/internal/session"
)

// SeedUser is a fixture account. Password is hashed on load and never kept.
type SeedUser struct {
	Identity session.Identity
	Password string
}

type user struct {
	identity session.Identity
	hash     []byte
}

// DefaultUsers covers one account per persona of the library portal.
func DefaultUsers() []SeedUser {
	return []SeedUser{
		{
			Password: "admin-pass",
			Identity: session.Identity{
				ID:            "u-admin",
				Email:         "admin@nawra.test",
				DisplayName:   "Amal Admin",
				DisplayNameAr: "أمل المديرة",
				Role:          "admin",
				UserType:      session.UserTypeStaff,
				Permissions: []string{
					"books.read", "books.write",
					"circulation.checkout", "circulation.checkin",
					"reports.read", "users.read", "users.write", "settings.manage",
				},
				IsActive: true,
			},
		},
		{
			Password: "librarian-pass",
			Identity: session.Identity{
				ID:            "u-librarian",
				Email:         "librarian@nawra.test",
				DisplayName:   "Layla Librarian",
				DisplayNameAr: "ليلى أمينة المكتبة",
				Role:          "librarian",
				UserType:      session.UserTypeStaff,
				Permissions:   []string{"books.read", "books.write", "circulation.checkout", "circulation.checkin"},
				IsActive:      true,
			},
		},
		{
			Password: "patron-pass",
			Identity: session.Identity{
				ID:          "u-patron",
				Email:       "patron@nawra.test",
				DisplayName: "Omar Patron",
				Role:        "patron",
				UserType:    session.UserTypePatron,
				Permissions: []string{"books.read"},
				IsActive:    true,
			},
		},
	}
}

type userDirectory struct {
	byEmail map[string]*user
	byID    map[string]*user
}

func newUserDirectory(seed []SeedUser, cost int) (*userDirectory, error) {
	d := &userDirectory{byEmail: map[string]*user{}, byID: map[string]*user{}}
	for _, s := range seed {
		hash, err := bcrypt.GenerateFromPassword([]byte(s.Password), cost)
		if err != nil {
			return nil, err
		}
		u := &user{identity: s.Identity, hash: hash}
		d.byEmail[strings.ToLower(s.Identity.Email)] = u
		d.byID[s.Identity.ID] = u
	}
	return d, nil
}

// authenticate returns nil for unknown emails and wrong passwords alike.
func (d *userDirectory) authenticate(email, password string) *user {
	u, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return nil
	}
	return u
}

func (d *userDirectory) get(id string) *user {
	return d.byID[id]
}

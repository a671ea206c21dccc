package session

// UserType is descriptive only; access decisions use Permissions.
type UserType string

const (
	UserTypeStaff  UserType = "staff"
	UserTypePatron UserType = "patron"
)

// Identity is the signed-in principal as issued by the library backend.
//
// Permissions is the only field consulted for access decisions. Role and
// UserType exist for display.
type Identity struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	DisplayName   string   `json:"full_name"`
	DisplayNameAr string   `json:"full_name_ar,omitempty"`
	Role          string   `json:"role"`
	UserType      UserType `json:"user_type"`
	Permissions   []string `json:"permissions"`
	IsActive      bool     `json:"is_active"`
}

func (i Identity) HasPermission(p string) bool {
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// LocalizedName picks the Arabic display name for the ar locale when present.
func (i Identity) LocalizedName(locale string) string {
	if locale == "ar" && i.DisplayNameAr != "" {
		return i.DisplayNameAr
	}
	return i.DisplayName
}

func (i Identity) clone() *Identity {
	out := i
	if i.Permissions != nil {
		out.Permissions = make([]string, len(i.Permissions))
		copy(out.Permissions, i.Permissions)
	}
	return &out
}

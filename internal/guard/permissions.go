package guard

import (
	"sort"
	"strings"
)

// Mode selects how a list of capabilities is matched against an identity.
type Mode int

const (
	// ModeAny grants when at least one capability is held. It is the default.
	ModeAny Mode = iota
	ModeAll
)

func (m Mode) String() string {
	if m == ModeAll {
		return "all"
	}
	return "any"
}

// Requirement is what a view demands. No capabilities means any signed-in user.
type Requirement struct {
	Capabilities []string
	Mode         Mode
}

func Any(caps ...string) Requirement { return Requirement{Capabilities: caps, Mode: ModeAny} }
func All(caps ...string) Requirement { return Requirement{Capabilities: caps, Mode: ModeAll} }

func (r Requirement) Public() bool { return len(r.Capabilities) == 0 }

// SatisfiedBy reports whether perms meet the requirement. A public requirement
// is always satisfied.
func (r Requirement) SatisfiedBy(perms []string) bool {
	if r.Public() {
		return true
	}
	have := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		have[p] = struct{}{}
	}
	for _, c := range r.Capabilities {
		_, ok := have[c]
		switch {
		case ok && r.Mode == ModeAny:
			return true
		case !ok && r.Mode == ModeAll:
			return false
		}
	}
	return r.Mode == ModeAll
}

func (r Requirement) String() string {
	if r.Public() {
		return "public"
	}
	return r.Mode.String() + "(" + strings.Join(r.Capabilities, ",") + ")"
}

func (r Requirement) clone() Requirement {
	out := Requirement{Mode: r.Mode}
	if r.Capabilities != nil {
		out.Capabilities = append([]string(nil), r.Capabilities...)
	}
	return out
}

// PermissionMap is the static, read-only table of view requirements.
type PermissionMap struct {
	entries map[string]Requirement
}

func NewPermissionMap(entries map[string]Requirement) PermissionMap {
	m := make(map[string]Requirement, len(entries))
	for k, v := range entries {
		m[k] = v.clone()
	}
	return PermissionMap{entries: m}
}

func (p PermissionMap) Lookup(resource string) (Requirement, bool) {
	r, ok := p.entries[resource]
	if !ok {
		return Requirement{}, false
	}
	return r.clone(), true
}

func (p PermissionMap) Resources() []string {
	out := make([]string, 0, len(p.entries))
	for k := range p.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Library portal views.
const (
	ResourceDashboard   = "dashboard"
	ResourceCatalog     = "catalog"
	ResourceCatalogEdit = "catalog.edit"
	ResourceCirculation = "circulation"
	ResourceReports     = "reports"
	ResourceUsers       = "users"
	ResourceUsersManage = "users.manage"
	ResourceSettings    = "settings"
)

func DefaultPermissionMap() PermissionMap {
	return NewPermissionMap(map[string]Requirement{
		ResourceDashboard:   {},
		ResourceCatalog:     Any("books.read"),
		ResourceCatalogEdit: Any("books.write"),
		ResourceCirculation: Any("circulation.checkout", "circulation.checkin"),
		ResourceReports:     Any("reports.read"),
		ResourceUsers:       Any("users.read"),
		ResourceUsersManage: All("users.read", "users.write"),
		ResourceSettings:    Any("settings.manage"),
	})
}

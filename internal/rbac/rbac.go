package rbac

import "archive/api/internal/archive"

// Role is the simulated viewer a contribution is being disclosed to.
type Role string

const (
	RolePublic     Role = "public"
	RoleConnection Role = "connection"
	RoleFamily     Role = "family"
	RoleSteward    Role = "steward"
)

// tiers maps each non-steward role to the narrowest visibility level it is
// granted. A role sees every level at or wider than its tier.
var tiers = map[Role]archive.Visibility{
	RolePublic:     archive.VisibilityPublic,
	RoleConnection: archive.VisibilityConnections,
	RoleFamily:     archive.VisibilityFamily,
}

// CanView reports whether content with the given status and level is
// disclosable to role.
func CanView(role Role, status archive.Status, level archive.Visibility) bool {
	if role == RoleSteward {
		return true
	}
	if status != archive.StatusApproved {
		return false
	}
	tier, ok := tiers[role]
	if !ok {
		return false
	}
	return level >= tier
}

// Filter keeps the contributions disclosable to role, preserving order.
func Filter(role Role, items []archive.Contribution) []archive.Contribution {
	out := make([]archive.Contribution, 0, len(items))
	for _, item := range items {
		if CanView(role, item.Status, item.Visibility) {
			out = append(out, item)
		}
	}
	return out
}

func Normalize(role string) Role {
	switch Role(role) {
	case RolePublic, RoleConnection, RoleFamily, RoleSteward:
		return Role(role)
	default:
		return RolePublic
	}
}

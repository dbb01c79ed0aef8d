// Package access evaluates per-correction read permissions. A permissions
// object travels with the correction version it was created with and is
// immutable; evaluation order is deny list, then readers, then scopes.
package access

// Permissions is the embedded access-control object captured at
// correction creation time.
type Permissions struct {
	Readers  []string `json:"readers,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	DenyList []string `json:"deny_list,omitempty"`
}

// Grants reports whether the object names at least one reader or scope.
// Creation requires this; a correction nobody can read is a caller bug.
func (p Permissions) Grants() bool {
	return len(p.Readers) > 0 || len(p.Scopes) > 0
}

// IsAllowed decides whether the requester may read a correction guarded
// by perms. The deny list takes absolute precedence over every allow path.
func IsAllowed(requesterID string, requesterScopes []string, perms Permissions) bool {
	for _, denied := range perms.DenyList {
		if requesterID == denied {
			return false
		}
	}
	for _, reader := range perms.Readers {
		if requesterID == reader {
			return true
		}
	}
	if len(perms.Scopes) > 0 {
		allowed := make(map[string]struct{}, len(perms.Scopes))
		for _, s := range perms.Scopes {
			allowed[s] = struct{}{}
		}
		for _, s := range requesterScopes {
			if _, ok := allowed[s]; ok {
				return true
			}
		}
	}
	return false
}

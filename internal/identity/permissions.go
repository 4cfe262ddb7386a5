package identity

// Pure, side-effect-free permission evaluation over a resolved Principal.
// The Role is expected to be pre-joined; a nil Role is a valid state meaning
// "no dynamic permissions, fall back to legacy or deny".

// HasFullAccess reports whether the principal's active Role short-circuits
// every check, or the legacy fallback applies for role-less principals.
func HasFullAccess(p *Principal) bool {
	if p == nil {
		return false
	}
	if p.Role != nil {
		return p.Role.IsActive && p.Role.FullAccess
	}
	return legacyFullAccess[p.LegacyRole]
}

func activeRole(p *Principal) *Role {
	if p != nil && p.Role != nil && p.Role.IsActive {
		return p.Role
	}
	return nil
}

// HasPermission reports whether the principal may perform action on module.
// An active Role is authoritative for its holder; the legacy manager-tier
// fallback applies only when no active Role is present.
func HasPermission(p *Principal, m Module, a Action) bool {
	if p == nil {
		return false
	}
	if HasFullAccess(p) {
		return true
	}
	if role := activeRole(p); role != nil {
		return role.Permissions.Granted(m, a)
	}
	return legacyHasPermission(p.LegacyRole, m, a)
}

// HasPageAccess reports whether the principal may open the named page.
func HasPageAccess(p *Principal, page Page) bool {
	if p == nil {
		return false
	}
	if HasFullAccess(p) {
		return true
	}
	if role := activeRole(p); role != nil {
		return role.Permissions.PageGranted(page)
	}
	return legacyHasPageAccess(p.LegacyRole, page)
}

// UsesLegacyFallback reports whether permission evaluation for the principal
// runs on the deprecated legacy tables (no active dynamic Role).
func UsesLegacyFallback(p *Principal) bool {
	return p != nil && activeRole(p) == nil
}

// IsManager reports whether the principal qualifies as a manager for
// assignment-target listings: an active Role with full access or the team
// manager flag, or a legacy-only principal with a manager-equivalent tag.
func IsManager(p *Principal) bool {
	if p == nil {
		return false
	}
	if role := activeRole(p); role != nil {
		return role.FullAccess || role.IsTeamManager
	}
	if p.Role == nil {
		return legacyManagerEquivalent[p.LegacyRole]
	}
	return false
}

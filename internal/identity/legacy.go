package identity

// Legacy fallback tables. These exist only so accounts created before the
// dynamic role system keep working; they must never be extended to new tiers.
// Operators track retirement via the unmigrated-principals gauge.

// Deprecated: full-access fallback for principals with no assigned Role.
var legacyFullAccess = map[LegacyRole]bool{
	LegacySuperAdmin: true,
	LegacyAdmin:      true,
}

// Deprecated: the manager tier is the single remaining un-migrated tier with a
// permission fallback. Note the asymmetry: no Users delete, full Clients CRUD.
var legacyManagerGrants = map[Module]map[Action]bool{
	ModuleUsers: {
		ActionCreate: true,
		ActionRead:   true,
		ActionUpdate: true,
	},
	ModuleClients: {
		ActionCreate: true,
		ActionRead:   true,
		ActionUpdate: true,
		ActionDelete: true,
	},
}

// Deprecated: static page lists per legacy tier.
var legacyPages = map[LegacyRole][]Page{
	LegacySuperAdmin: {PageDashboard, PageClients, PageEmployees, PageReports, PageSettings},
	LegacyAdmin:      {PageDashboard, PageClients, PageEmployees, PageReports, PageSettings},
	LegacyManager:    {PageDashboard, PageClients, PageEmployees, PageReports},
	LegacyEmployee:   {PageDashboard, PageClients},
	LegacyTelecaller: {PageDashboard, PageClients},
}

// Deprecated: legacy tags counted as managers for assignment-target listings.
var legacyManagerEquivalent = map[LegacyRole]bool{
	LegacySuperAdmin: true,
	LegacyAdmin:      true,
	LegacyManager:    true,
}

func legacyHasPermission(tag LegacyRole, m Module, a Action) bool {
	if tag != LegacyManager {
		return false
	}
	return legacyManagerGrants[m][a]
}

func legacyHasPageAccess(tag LegacyRole, page Page) bool {
	for _, p := range legacyPages[tag] {
		if p == page {
			return true
		}
	}
	return false
}

// LegacyManagerTags lists the tags treated as manager-equivalent. Exposed for
// repositories that mirror the definition in SQL.
func LegacyManagerTags() []LegacyRole {
	return []LegacyRole{LegacySuperAdmin, LegacyAdmin, LegacyManager}
}

package identity

// The permission schema is the single closed vocabulary shared by the
// write-time sanitizer and the read-time checker. Adding a module, action or
// page is a one-line change here.

// Module identifies a permission bucket within a role document.
type Module string

// Known modules.
const (
	ModuleUsers             Module = "Users"
	ModuleClients           Module = "Clients"
	ModuleEmailSettings     Module = "EmailSettings"
	ModuleVoicemailSettings Module = "VoicemailSettings"
	ModulePages             Module = "Pages"
)

// Action identifies an operation within a module.
type Action string

// Known actions.
const (
	ActionCreate Action = "Create"
	ActionRead   Action = "Read"
	ActionUpdate Action = "Update"
	ActionDelete Action = "Delete"
)

// Page identifies a UI page gated by the Pages module.
type Page string

// Known pages.
const (
	PageDashboard Page = "Dashboard"
	PageClients   Page = "Clients"
	PageEmployees Page = "Employees"
	PageReports   Page = "Reports"
	PageSettings  Page = "Settings"
)

// SchemaVersion is bumped whenever the vocabulary below changes.
const SchemaVersion = 2

var moduleActions = map[Module][]Action{
	ModuleUsers:             {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ModuleClients:           {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ModuleEmailSettings:     {ActionRead, ActionUpdate},
	ModuleVoicemailSettings: {ActionRead, ActionUpdate},
}

var knownPages = []Page{PageDashboard, PageClients, PageEmployees, PageReports, PageSettings}

// PermissionDoc is the stored permissions document: module name to the set of
// granted action names, with the Pages bucket holding page-name booleans.
type PermissionDoc map[Module]map[string]bool

// Granted reports whether the document grants action within module.
func (d PermissionDoc) Granted(m Module, a Action) bool {
	if d == nil {
		return false
	}
	return d[m][string(a)]
}

// PageGranted reports whether the Pages bucket grants the named page.
func (d PermissionDoc) PageGranted(p Page) bool {
	if d == nil {
		return false
	}
	return d[ModulePages][string(p)]
}

// SanitizeDoc returns a copy of doc restricted to the closed schema. Unknown
// modules, actions and page names are dropped; false entries are not stored.
func SanitizeDoc(doc PermissionDoc) PermissionDoc {
	clean := make(PermissionDoc, len(moduleActions)+1)
	for module, actions := range moduleActions {
		for _, action := range actions {
			if doc.Granted(module, action) {
				if clean[module] == nil {
					clean[module] = make(map[string]bool, len(actions))
				}
				clean[module][string(action)] = true
			}
		}
	}
	for _, page := range knownPages {
		if doc.PageGranted(page) {
			if clean[ModulePages] == nil {
				clean[ModulePages] = make(map[string]bool, len(knownPages))
			}
			clean[ModulePages][string(page)] = true
		}
	}
	return clean
}

// KnownModules lists the permission modules excluding the Pages bucket.
func KnownModules() []Module {
	modules := make([]Module, 0, len(moduleActions))
	for m := range moduleActions {
		modules = append(modules, m)
	}
	return modules
}

// KnownActions lists the actions valid for the given module.
func KnownActions(m Module) []Action {
	actions := make([]Action, len(moduleActions[m]))
	copy(actions, moduleActions[m])
	return actions
}

// KnownPages lists the gated page names.
func KnownPages() []Page {
	pages := make([]Page, len(knownPages))
	copy(pages, knownPages)
	return pages
}

package shared

import (
	"sort"
	"strings"
)

// Global permission names.
const (
	PermContentRead    = "content.read"
	PermContentCreate  = "content.create"
	PermContentComment = "content.comment"

	PermKeysIssue  = "keys.issue"
	PermKeysManage = "keys.manage"

	PermGroupsManage = "groups.manage"
	PermShareManage  = "share.manage"
	PermAuditView    = "audit.view"
)

// PermissionSet is an immutable-by-convention set of global permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet normalizes names into a set. Empty entries are dropped.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the permission.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

// ContainsAll reports whether other is a subset of s. The second return
// value lists the members of other missing from s, sorted.
func (s PermissionSet) ContainsAll(other PermissionSet) (bool, []string) {
	var missing []string
	for name := range other {
		if _, ok := s[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return len(missing) == 0, missing
}

// Intersect returns the members of s also present in other, sorted.
func (s PermissionSet) Intersect(other PermissionSet) []string {
	var common []string
	for name := range s {
		if _, ok := other[name]; ok {
			common = append(common, name)
		}
	}
	sort.Strings(common)
	return common
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	dup := make(PermissionSet, len(s))
	for name := range s {
		dup[name] = struct{}{}
	}
	return dup
}

// Names returns the sorted member list.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PermissionCatalog is the process-wide catalog of known global permissions,
// loaded once at startup and injected where needed.
type PermissionCatalog struct {
	entries map[string]string
}

// NewPermissionCatalog builds the catalog with the built-in permissions.
func NewPermissionCatalog() *PermissionCatalog {
	return &PermissionCatalog{entries: map[string]string{
		PermContentRead:    "read content resources",
		PermContentCreate:  "create content resources",
		PermContentComment: "comment on content resources",
		PermKeysIssue:      "mint delegated keys",
		PermKeysManage:     "rotate and deactivate keys",
		PermGroupsManage:   "manage groups and membership",
		PermShareManage:    "manage resource sharing grants",
		PermAuditView:      "read the audit timeline",
	}}
}

// Known reports whether the permission name is in the catalog.
func (c *PermissionCatalog) Known(name string) bool {
	_, ok := c.entries[strings.ToLower(name)]
	return ok
}

// Describe returns the human description for a permission name.
func (c *PermissionCatalog) Describe(name string) string {
	return c.entries[strings.ToLower(name)]
}

// Names returns all catalog permission names, sorted.
func (c *PermissionCatalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UseKeyReserved returns the permissions a Use key may never hold.
func UseKeyReserved() PermissionSet {
	return NewPermissionSet(PermContentCreate, PermKeysIssue)
}

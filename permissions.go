package trustkit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Resource is a protected resource type.
type Resource string

const (
	ResourceLore      Resource = "lore"
	ResourceEvents    Resource = "events"
	ResourceQuests    Resource = "quests"
	ResourceAgents    Resource = "agents"
	ResourceChat      Resource = "chat"
	ResourceCreations Resource = "creations"
	ResourceWisdom    Resource = "wisdom"
	ResourceRoles     Resource = "roles"
	ResourceUsers     Resource = "users"
	ResourceInvites   Resource = "invites"
	ResourceAudit     Resource = "audit"
	ResourceShadowLog Resource = "shadow_log"
	ResourceTrust     Resource = "trust"
)

// Action is an operation on a resource.
type Action string

const (
	ActionView     Action = "view"
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionModerate Action = "moderate"
	ActionAssign   Action = "assign"
	ActionManage   Action = "manage"
)

// Resources lists every known resource in a stable order.
var Resources = []Resource{
	ResourceLore, ResourceEvents, ResourceQuests, ResourceAgents, ResourceChat,
	ResourceCreations, ResourceWisdom, ResourceRoles, ResourceUsers, ResourceInvites,
	ResourceAudit, ResourceShadowLog, ResourceTrust,
}

// Actions lists every known action in a stable order.
var Actions = []Action{
	ActionView, ActionCreate, ActionEdit, ActionDelete, ActionModerate, ActionAssign, ActionManage,
}

// Valid reports whether r belongs to the vocabulary.
func (r Resource) Valid() bool {
	for _, known := range Resources {
		if r == known {
			return true
		}
	}
	return false
}

// Valid reports whether a belongs to the vocabulary.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Permission is a single resource/action pair.
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Perm builds a Permission.
func Perm(resource Resource, action Action) Permission {
	return Permission{Resource: resource, Action: action}
}

// String returns the dotted form, e.g. "lore.edit".
func (p Permission) String() string {
	return string(p.Resource) + "." + string(p.Action)
}

// Valid reports whether both halves belong to the vocabulary.
func (p Permission) Valid() bool {
	return p.Resource.Valid() && p.Action.Valid()
}

// ParsePermission parses a dotted "resource.action" string.
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(s, ".")
	if !ok || resource == "" || action == "" {
		return Permission{}, NewError(ErrInvalidPermission, fmt.Sprintf("permission %q must be resource.action", s))
	}
	p := Permission{Resource: Resource(resource), Action: Action(action)}
	if !p.Valid() {
		return Permission{}, NewError(ErrInvalidPermission, fmt.Sprintf("permission %q is not in the vocabulary", s))
	}
	return p, nil
}

// AllPermissions returns every resource/action pair in the vocabulary.
func AllPermissions() []Permission {
	all := make([]Permission, 0, len(Resources)*len(Actions))
	for _, r := range Resources {
		for _, a := range Actions {
			all = append(all, Permission{Resource: r, Action: a})
		}
	}
	return all
}

// PermissionMatrix is a sparse mapping of permission to explicit grant (true)
// or explicit denial (false). Absent pairs are denied.
type PermissionMatrix map[Permission]bool

// NewPermissionMatrix creates an empty matrix.
func NewPermissionMatrix() PermissionMatrix {
	return make(PermissionMatrix)
}

// Allows reports whether the pair is explicitly granted.
func (m PermissionMatrix) Allows(resource Resource, action Action) bool {
	return m[Permission{Resource: resource, Action: action}]
}

// Set records an explicit value for a pair.
func (m PermissionMatrix) Set(p Permission, allowed bool) PermissionMatrix {
	m[p] = allowed
	return m
}

// Clone returns an independent copy.
func (m PermissionMatrix) Clone() PermissionMatrix {
	out := make(PermissionMatrix, len(m))
	for p, v := range m {
		out[p] = v
	}
	return out
}

// Overlay writes every explicit entry of other over m, key by key.
func (m PermissionMatrix) Overlay(other PermissionMatrix) {
	for p, v := range other {
		m[p] = v
	}
}

// Granted returns the explicitly granted permissions in sorted order.
func (m PermissionMatrix) Granted() []Permission {
	out := make([]Permission, 0, len(m))
	for p, v := range m {
		if v {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Nested returns the matrix as resource -> action -> bool.
func (m PermissionMatrix) Nested() map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for p, v := range m {
		actions, ok := out[string(p.Resource)]
		if !ok {
			actions = make(map[string]bool)
			out[string(p.Resource)] = actions
		}
		actions[string(p.Action)] = v
	}
	return out
}

// MatrixFromNested builds a matrix from resource -> action -> bool, rejecting
// keys outside the vocabulary.
func MatrixFromNested(nested map[string]map[string]bool) (PermissionMatrix, error) {
	m := make(PermissionMatrix)
	for resource, actions := range nested {
		for action, v := range actions {
			p := Permission{Resource: Resource(resource), Action: Action(action)}
			if !p.Valid() {
				return nil, NewError(ErrInvalidPermission, fmt.Sprintf("unknown permission %s", p))
			}
			m[p] = v
		}
	}
	return m, nil
}

// MarshalJSON encodes the matrix in nested form.
func (m PermissionMatrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Nested())
}

// UnmarshalJSON decodes the nested form.
func (m *PermissionMatrix) UnmarshalJSON(data []byte) error {
	var nested map[string]map[string]bool
	if err := json.Unmarshal(data, &nested); err != nil {
		return err
	}
	parsed, err := MatrixFromNested(nested)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer for jsonb columns. It returns a string so
// the value is written as a JSON literal rather than bytea.
func (m PermissionMatrix) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for jsonb columns.
func (m *PermissionMatrix) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = make(PermissionMatrix)
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("trustkit: cannot scan %T into PermissionMatrix", src)
	}
}

// PermissionMatcher handles permission pattern matching with wildcard support.
//
// Supported patterns:
//   - "*" matches all permissions
//   - "resource.*" matches all actions on a resource (e.g., "lore.*" matches "lore.edit")
//   - "*.action" matches an action on all resources (e.g., "*.view" matches "events.view")
//   - "exact.match" matches exactly
type PermissionMatcher struct{}

// NewPermissionMatcher creates a new PermissionMatcher.
func NewPermissionMatcher() *PermissionMatcher {
	return &PermissionMatcher{}
}

// Match checks if a permission pattern matches a concrete permission.
//
// Examples:
//
//	Match("*", lore.view)         // true - wildcard matches all
//	Match("lore.*", lore.edit)    // true - resource wildcard
//	Match("*.view", events.view)  // true - action wildcard
//	Match("lore.edit", lore.view) // false - no match
func (pm *PermissionMatcher) Match(pattern string, permission Permission) bool {
	if pattern == "*" {
		return true
	}

	resource, action, ok := strings.Cut(pattern, ".")
	if !ok {
		return false
	}
	if resource != "*" && resource != string(permission.Resource) {
		return false
	}
	if action != "*" && action != string(permission.Action) {
		return false
	}
	return true
}

// Expand returns every vocabulary permission matched by any of the patterns.
func (pm *PermissionMatcher) Expand(patterns ...string) []Permission {
	var out []Permission
	for _, p := range AllPermissions() {
		for _, pattern := range patterns {
			if pm.Match(pattern, p) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Validate checks if a permission pattern is well formed and can match
// something in the vocabulary.
func (pm *PermissionMatcher) Validate(pattern string) error {
	if pattern == "" {
		return NewError(ErrInvalidPermission, "permission cannot be empty")
	}
	if pattern == "*" {
		return nil
	}

	resource, action, ok := strings.Cut(pattern, ".")
	if !ok || resource == "" || action == "" || strings.Contains(action, ".") {
		return NewError(ErrInvalidPermission, "permission must have exactly two parts (resource.action)")
	}
	if resource != "*" && !Resource(resource).Valid() {
		return NewError(ErrInvalidPermission, fmt.Sprintf("unknown resource %q", resource))
	}
	if action != "*" && !Action(action).Valid() {
		return NewError(ErrInvalidPermission, fmt.Sprintf("unknown action %q", action))
	}
	return nil
}

// DefaultMatcher is the default permission matcher instance.
var DefaultMatcher = NewPermissionMatcher()

// MatchPermission is a convenience function using the default matcher.
func MatchPermission(pattern string, permission Permission) bool {
	return DefaultMatcher.Match(pattern, permission)
}

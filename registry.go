package trustkit

import (
	"fmt"
	"sort"
	"sync"
)

// Names of the roles created by Seed.
const (
	RoleSuperuser = "superuser"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// SuperuserPriority is reserved for the superuser role. Every other role
// must stay below it, so the superuser matrix is always folded last.
const SuperuserPriority = 1 << 30

// reservedPriority reports whether priority would tie or outrank the superuser.
func reservedPriority(priority int) bool {
	return priority >= SuperuserPriority
}

var reservedPriorityMsg = fmt.Sprintf("priority must be below %d", SuperuserPriority)

// Registry holds the seed role definitions for the application.
// It is created at startup and should be treated as immutable after initialization.
type Registry struct {
	mu    sync.RWMutex
	roles map[string]*RoleDefinition
	order []string
}

// RoleDefinition describes a role to be seeded, including its priority and
// the allow/deny patterns that expand into its permission matrix.
type RoleDefinition struct {
	name        string
	displayName string
	description string
	priority    int
	allow       []string
	deny        []string
	registry    *Registry
}

// NewRegistry creates a new role registry.
func NewRegistry() *Registry {
	return &Registry{
		roles: make(map[string]*RoleDefinition),
	}
}

// Role starts defining a new role.
// Returns a RoleDefinition builder for fluent configuration.
//
// Example:
//
//	registry.Role("moderator").Priority(50).
//	    Allow("lore.*", "*.moderate").Deny("roles.manage").
//	    Role("member").Priority(10).Allow("*.view")
func (r *Registry) Role(name string) *RoleDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	def := &RoleDefinition{
		name:        name,
		displayName: name,
		registry:    r,
	}
	if _, exists := r.roles[name]; !exists {
		r.order = append(r.order, name)
	}
	r.roles[name] = def
	return def
}

// GetRole returns the definition for a role, or nil if undefined.
func (r *Registry) GetRole(name string) *RoleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[name]
}

// GetRoles returns all defined role names in definition order.
func (r *Registry) GetRoles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Validate checks every allow/deny pattern against the vocabulary and keeps
// non-superuser priorities below SuperuserPriority.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		def := r.roles[name]
		if name != RoleSuperuser && reservedPriority(def.priority) {
			return NewError(ErrInvalidInput, reservedPriorityMsg).WithRole(name)
		}
		for _, p := range append(append([]string{}, def.allow...), def.deny...) {
			if err := DefaultMatcher.Validate(p); err != nil {
				return NewError(ErrInvalidPermission, err.Error()).WithRole(name)
			}
		}
	}
	return nil
}

// Roles materializes every definition into a system Role, highest priority first.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, 0, len(r.order))
	for _, name := range r.order {
		roles = append(roles, r.roles[name].ToRole())
	}
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Priority > roles[j].Priority })
	return roles
}

// DisplayName sets the human-readable name.
func (d *RoleDefinition) DisplayName(name string) *RoleDefinition {
	d.displayName = name
	return d
}

// Description sets the human-readable description.
func (d *RoleDefinition) Description(text string) *RoleDefinition {
	d.description = text
	return d
}

// Priority sets the merge priority; higher wins on conflict.
func (d *RoleDefinition) Priority(p int) *RoleDefinition {
	d.priority = p
	return d
}

// Allow adds permission patterns this role explicitly grants.
// Supports wildcards: "*", "resource.*", "*.action"
//
// Example:
//
//	role.Allow("lore.view", "lore.edit", "events.*")
func (d *RoleDefinition) Allow(patterns ...string) *RoleDefinition {
	d.allow = append(d.allow, patterns...)
	return d
}

// Deny adds permission patterns this role explicitly denies. Denials are
// applied after Allow within the same role.
func (d *RoleDefinition) Deny(patterns ...string) *RoleDefinition {
	d.deny = append(d.deny, patterns...)
	return d
}

// Role continues defining roles in the parent registry (fluent API).
func (d *RoleDefinition) Role(name string) *RoleDefinition {
	return d.registry.Role(name)
}

// Name returns the role name.
func (d *RoleDefinition) Name() string {
	return d.name
}

// GetPriority returns the merge priority.
func (d *RoleDefinition) GetPriority() int {
	return d.priority
}

// Matrix expands the allow/deny patterns against the vocabulary.
func (d *RoleDefinition) Matrix() PermissionMatrix {
	m := NewPermissionMatrix()
	for _, p := range DefaultMatcher.Expand(d.allow...) {
		m[p] = true
	}
	for _, p := range DefaultMatcher.Expand(d.deny...) {
		m[p] = false
	}
	return m
}

// ToRole converts the definition into a system Role record.
func (d *RoleDefinition) ToRole() Role {
	return Role{
		Name:        d.name,
		DisplayName: d.displayName,
		Description: d.description,
		Priority:    d.priority,
		IsSystem:    true,
		IsActive:    true,
		Permissions: d.Matrix(),
	}
}

// DefaultRegistry returns the built-in role set.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Role(RoleSuperuser).
		DisplayName("Superuser").
		Description("Configured root principal; holds every permission.").
		Priority(SuperuserPriority).
		Allow("*").
		Role(RoleAdmin).
		DisplayName("Administrator").
		Description("Manages roles, invites and trust.").
		Priority(100).
		Allow("*").
		Role(RoleModerator).
		DisplayName("Moderator").
		Description("Moderates community content and reviews violations.").
		Priority(50).
		Allow("*.view", "*.moderate", "shadow_log.view", "trust.view", "invites.create").
		Deny("roles.manage", "roles.assign", "audit.view", "users.manage").
		Role(RoleMember).
		DisplayName("Member").
		Description("Default community member.").
		Priority(10).
		Allow("lore.view", "events.view", "quests.view", "agents.view", "chat.view", "creations.view", "wisdom.view").
		Allow("chat.create", "creations.create", "wisdom.create", "agents.create")

	return r
}

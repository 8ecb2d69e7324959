package auth

import (
	"sort"
	"sync"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Resource represents a resource exposed by the admin API
type Resource string

const (
	ResourceAudit     Resource = "audit"
	ResourceDeletion  Resource = "deletion"
	ResourceRetention Resource = "retention"
)

// AccessLevel is the set of actions a role holds on one resource
type AccessLevel struct {
	Resource Resource `json:"resource"`
	Actions  []Action `json:"actions"`
}

// Authorizer handles role-based access control
type Authorizer struct {
	mu              sync.RWMutex
	rolePermissions map[string]map[Resource]map[Action]bool
}

// NewAuthorizer creates an authorizer loaded with the default role permissions
func NewAuthorizer() *Authorizer {
	a := &Authorizer{rolePermissions: make(map[string]map[Resource]map[Action]bool)}
	a.initializeDefaultPermissions()
	return a
}

func (a *Authorizer) initializeDefaultPermissions() {
	all := []Action{ActionRead, ActionWrite}

	a.grant(RoleAdmin, ResourceAudit, all)
	a.grant(RoleAdmin, ResourceDeletion, all)
	a.grant(RoleAdmin, ResourceRetention, all)

	a.grant(RoleDPO, ResourceAudit, all)
	a.grant(RoleDPO, ResourceDeletion, all)
	a.grant(RoleDPO, ResourceRetention, all)

	// Auditors read the trail but never change it
	a.grant(RoleAuditor, ResourceAudit, []Action{ActionRead})
	a.grant(RoleAuditor, ResourceDeletion, []Action{ActionRead})
	a.grant(RoleAuditor, ResourceRetention, []Action{ActionRead})

	a.grant(RoleUser, ResourceDeletion, []Action{ActionRead})
	a.grant(RoleUser, ResourceRetention, []Action{ActionRead})
}

// Allows reports whether role may perform action on resource
func (a *Authorizer) Allows(role string, resource Resource, action Action) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rolePermissions[role][resource][action]
}

// Grant adds actions on resource to role
func (a *Authorizer) Grant(role string, resource Resource, actions ...Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grant(role, resource, actions)
}

func (a *Authorizer) grant(role string, resource Resource, actions []Action) {
	resources, ok := a.rolePermissions[role]
	if !ok {
		resources = make(map[Resource]map[Action]bool)
		a.rolePermissions[role] = resources
	}
	granted, ok := resources[resource]
	if !ok {
		granted = make(map[Action]bool)
		resources[resource] = granted
	}
	for _, action := range actions {
		granted[action] = true
	}
}

// Revoke removes an action on resource from role
func (a *Authorizer) Revoke(role string, resource Resource, action Action) {
	a.mu.Lock()
	defer a.mu.Unlock()

	granted := a.rolePermissions[role][resource]
	if granted == nil {
		return
	}
	delete(granted, action)
	if len(granted) == 0 {
		delete(a.rolePermissions[role], resource)
	}
}

// Permissions lists what role may do, sorted by resource then action
func (a *Authorizer) Permissions(role string) []AccessLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()

	levels := make([]AccessLevel, 0, len(a.rolePermissions[role]))
	for resource, granted := range a.rolePermissions[role] {
		actions := make([]Action, 0, len(granted))
		for action := range granted {
			actions = append(actions, action)
		}
		sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
		levels = append(levels, AccessLevel{Resource: resource, Actions: actions})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Resource < levels[j].Resource })
	return levels
}

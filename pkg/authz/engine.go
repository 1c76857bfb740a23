// Package authz maps registry roles to the actions they may perform.
package authz

import (
	"sort"
	"sync"
)

// Action is a permission tag checked before an operation runs.
type Action string

const (
	ActionView    Action = "view"
	ActionAdd     Action = "add"
	ActionUpdate  Action = "update"
	ActionArchive Action = "archive"
	ActionAdmin   Action = "admin"
)

// AllActions lists every action in display order.
var AllActions = []Action{ActionView, ActionAdd, ActionUpdate, ActionArchive, ActionAdmin}

// DenyReason is returned for every denial. Unknown roles and known roles
// lacking the action are indistinguishable to the caller.
const DenyReason = "insufficient permissions"

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// DefaultRoles is the role table used when no role file is configured.
func DefaultRoles() map[string][]Action {
	return map[string][]Action{
		"admin":        {ActionView, ActionAdd, ActionUpdate, ActionArchive, ActionAdmin},
		"pastor":       {ActionView, ActionAdd, ActionUpdate, ActionArchive, ActionAdmin},
		"secretary":    {ActionView, ActionAdd, ActionUpdate, ActionArchive},
		"board_member": {ActionView},
		"user":         {ActionView},
	}
}

// Evaluator answers permission checks from a static role table.
type Evaluator struct {
	mu    sync.RWMutex
	roles map[string]map[Action]struct{}
}

// NewEvaluator builds an Evaluator. A nil table selects DefaultRoles.
func NewEvaluator(roles map[string][]Action) *Evaluator {
	if roles == nil {
		roles = DefaultRoles()
	}
	e := &Evaluator{roles: make(map[string]map[Action]struct{}, len(roles))}
	for role, actions := range roles {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		e.roles[role] = set
	}
	return e
}

// Check reports whether role may perform action.
func (e *Evaluator) Check(role string, action Action) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.roles[role][action]; ok {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: DenyReason}
}

// Permissions returns the actions granted to role in display order. Unknown
// roles get an empty list.
func (e *Evaluator) Permissions(role string) []Action {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Action, 0, len(AllActions))
	set := e.roles[role]
	for _, a := range AllActions {
		if _, ok := set[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Roles returns the configured role names, sorted.
func (e *Evaluator) Roles() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.roles))
	for name := range e.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps the role table in place. See config.ReloadRoles.
func (e *Evaluator) Replace(roles map[string][]Action) {
	next := NewEvaluator(roles)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roles = next.roles
}
